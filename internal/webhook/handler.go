package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/bizledger/bizledger/internal/middleware"
	"github.com/bizledger/bizledger/internal/provider"
)

// Enqueuer accepts webhook envelopes for background processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, env Envelope) error
}

// Handler receives provider callbacks. It always answers 200 so providers do
// not flood us with redeliveries; the body says whether we accepted it.
type Handler struct {
	providers Providers
	queue     Enqueuer
	processor Processor
	logger    *slog.Logger
}

// NewHandler builds the intake handler. queue may be nil, in which case
// events are reconciled inline.
func NewHandler(providers Providers, queue Enqueuer, processor Processor, logger *slog.Logger) *Handler {
	return &Handler{providers: providers, queue: queue, processor: processor, logger: logger}
}

// Receive handles POST /webhooks/:provider.
func (h *Handler) Receive(c *fiber.Ctx) error {
	slug := c.Params("provider")
	body := append([]byte(nil), c.Body()...)
	logger := h.logger.With("provider", slug, "request_id", middleware.RequestIDFrom(c))

	p, err := h.providers.BySlug(c.UserContext(), slug)
	if err != nil {
		logger.Warn("webhook for unknown provider", "error", err)
		return reply(c, false)
	}
	if sv, ok := p.(provider.SignatureVerifier); ok {
		if !sv.VerifySignature(body, c.Get(sv.SignatureHeader())) {
			logger.Warn("webhook signature mismatch", "remote_addr", c.IP())
			return reply(c, false)
		}
	}

	env := Envelope{ID: uuid.NewString(), Provider: slug, Payload: body, ReceivedAt: time.Now().UTC()}
	if h.queue != nil {
		err := h.queue.Enqueue(c.UserContext(), env)
		if err == nil {
			return reply(c, true)
		}
		logger.Error("webhook enqueue failed, reconciling inline", "webhook_id", env.ID, "error", err)
	}

	if err := h.processor.Handle(c.UserContext(), slug, body); err != nil {
		logger.Error("webhook reconciliation failed", "webhook_id", env.ID, "error", err)
		return reply(c, false)
	}
	return reply(c, true)
}

func reply(c *fiber.Ctx, ok bool) error {
	status := "success"
	if !ok {
		status = "error"
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": status})
}
