package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bizledger/bizledger/internal/config"
)

const maxResponseBytes = 1 << 20

// Client is the HTTP transport shared by provider implementations. Reads are
// retried on transport errors, 429 and 5xx with a fixed backoff. Money
// movement requests are retried only when they never left this process.
type Client struct {
	name    string
	baseURL string
	headers map[string]string
	retries int
	backoff time.Duration
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient builds a client from the provider's configuration.
func NewClient(cfg config.ProviderConfig, headers map[string]string, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &Client{
		name:    cfg.Slug,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		headers: headers,
		retries: max(cfg.Retries, 0),
		backoff: cfg.Backoff,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger.With("provider", cfg.Slug),
	}
}

// Get performs an idempotent GET and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out, true)
}

// Post performs an idempotent POST such as a lookup.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out, true)
}

// Submit performs a money movement POST. Once the request may have reached
// the provider, failures other than a definite 4xx are reported as ambiguous.
func (c *Client) Submit(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out, false)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, idempotent bool) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return &Error{Provider: c.name, Code: CodeRequestFailed, Message: "encode request", Err: err}
		}
	}

	for attempt := 1; ; attempt++ {
		perr := c.attempt(ctx, method, target, payload, out, idempotent)
		if perr == nil {
			return nil
		}

		retry := retryable(perr, idempotent)
		if !retry || attempt > c.retries {
			return perr
		}
		c.logger.Warn("provider request failed, retrying",
			"method", method, "path", path, "attempt", attempt, "error", perr.Error())

		select {
		case <-ctx.Done():
			return &Error{Provider: c.name, Code: CodeRequestFailed, Message: "request cancelled", Err: ctx.Err()}
		case <-time.After(c.backoff):
		}
	}
}

// attempt sends one request. CodeUnavailable means the request provably
// never reached the provider.
func (c *Client) attempt(ctx context.Context, method, target string, payload []byte, out any, idempotent bool) *Error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Provider: c.name, Code: CodeUnavailable, Message: "rate limiter", Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return &Error{Provider: c.name, Code: CodeRequestFailed, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if notSent(err) {
			return &Error{Provider: c.name, Code: CodeUnavailable, Message: "provider unreachable", Err: err}
		}
		return &Error{
			Provider:  c.name,
			Code:      transportCode(idempotent),
			Message:   "transport failure",
			Ambiguous: !idempotent,
			Err:       err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{
			Provider: c.name, Code: transportCode(idempotent), Message: "read response",
			HTTPStatus: resp.StatusCode, Ambiguous: !idempotent, Err: err,
		}
	}

	switch {
	case resp.StatusCode >= 500:
		return &Error{
			Provider: c.name, Code: transportCode(idempotent), Message: errorMessage(raw, resp.Status),
			HTTPStatus: resp.StatusCode, Ambiguous: !idempotent,
		}
	case resp.StatusCode >= 400:
		return &Error{
			Provider: c.name, Code: errorCode(raw), Message: errorMessage(raw, resp.Status),
			HTTPStatus: resp.StatusCode,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{
			Provider: c.name, Code: CodeBadResponse, Message: "undecodable response body",
			HTTPStatus: resp.StatusCode, Ambiguous: !idempotent, Err: err,
		}
	}
	return nil
}

func transportCode(idempotent bool) string {
	if idempotent {
		return CodeRequestFailed
	}
	return CodeOutcomeUnknown
}

func retryable(err *Error, idempotent bool) bool {
	if err.Code == CodeUnavailable {
		return !errors.Is(err.Err, context.Canceled) && !errors.Is(err.Err, context.DeadlineExceeded)
	}
	if !idempotent {
		return false
	}
	switch {
	case err.HTTPStatus == http.StatusTooManyRequests, err.HTTPStatus >= 500:
		return true
	case err.HTTPStatus == 0 && err.Code == CodeRequestFailed:
		return true
	}
	return false
}

// notSent reports whether the request failed before any byte reached the provider.
func notSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

type errorBody struct {
	Message   string `json:"message"`
	Error     any    `json:"error"`
	ErrorCode string `json:"error_code"`
	ErrorType string `json:"errorType"`
	Code      string `json:"code"`
}

func errorMessage(raw []byte, fallback string) string {
	var body errorBody
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if s, ok := body.Error.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func errorCode(raw []byte) string {
	var body errorBody
	if json.Unmarshal(raw, &body) == nil {
		for _, code := range []string{body.ErrorCode, body.ErrorType, body.Code} {
			if code != "" {
				return code
			}
		}
	}
	return CodeRejected
}

func endpoint(format string, args ...any) string {
	escaped := make([]any, len(args))
	for i, a := range args {
		escaped[i] = url.PathEscape(fmt.Sprint(a))
	}
	return fmt.Sprintf(format, escaped...)
}
