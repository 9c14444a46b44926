package payout

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizledger/bizledger/internal/provider"
)

func newApp(f fixture) *fiber.App {
	h := NewHandler(f.svc)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("business_id", business)
		return c.Next()
	})
	app.Post("/payouts", h.Create)
	app.Get("/payouts/:reference", h.Get)
	app.Get("/banks", h.Banks)
	app.Post("/banks/verify", h.VerifyAccount)
	return app
}

func post(t *testing.T, app *fiber.App, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHandlerCreatePayout(t *testing.T) {
	f := newFixture(t)
	app := newApp(f)

	resp, body := post(t, app, "/payouts", map[string]any{
		"wallet_id": f.wallet.ID, "amount": "120.50", "account_number": "1234567890", "bank_code": "044",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "120.50", body["amount"])
	assert.Equal(t, "NGN", body["currency"])
	assert.Equal(t, "pending", body["payout_status"])

	ref := body["reference"].(string)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/payouts/"+ref, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	app := newApp(f)

	resp, body := post(t, app, "/payouts", map[string]any{"wallet_id": f.wallet.ID, "amount": "abc", "account_number": "12"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["code"])
	fields := body["fields"].(map[string]any)
	assert.Contains(t, fields, "amount")
	assert.Contains(t, fields, "bankcode")

	resp, body = post(t, app, "/payouts", map[string]any{
		"wallet_id": f.wallet.ID, "amount": "10", "account_number": "1234567890", "bank_code": "044", "currency": "GHS",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeCurrencyMismatch, body["code"])
}

func TestHandlerReportsOutcomeUnknownAsAccepted(t *testing.T) {
	f := newFixture(t)
	f.fake.TransferFn = func(provider.TransferRequest) (provider.TransferResult, error) {
		return provider.TransferResult{}, &provider.Error{Provider: "fincra", Code: provider.CodeOutcomeUnknown, Ambiguous: true, Message: "timeout"}
	}
	app := newApp(f)

	resp, body := post(t, app, "/payouts", map[string]any{
		"wallet_id": f.wallet.ID, "amount": "10", "account_number": "1234567890", "bank_code": "044",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, CodeOutcomeUnknown, body["code"])
	assert.NotEmpty(t, body["reference"])
}

func TestHandlerProviderErrorIs500(t *testing.T) {
	f := newFixture(t)
	f.fake.TransferFn = func(provider.TransferRequest) (provider.TransferResult, error) {
		return provider.TransferResult{}, &provider.Error{Provider: "fincra", Code: provider.CodeRejected, Message: "declined"}
	}
	app := newApp(f)

	resp, body := post(t, app, "/payouts", map[string]any{
		"wallet_id": f.wallet.ID, "amount": "10", "account_number": "1234567890", "bank_code": "044",
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, CodeProviderError, body["code"])
	assert.Equal(t, "declined", body["message"])
}

func TestHandlerBanksAndVerify(t *testing.T) {
	f := newFixture(t)
	app := newApp(f)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/banks?currency=ngn&country=NG", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var banks struct {
		Data []provider.Bank `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&banks))
	require.Len(t, banks.Data, 1)
	assert.Equal(t, "044", banks.Data[0].Code)

	resp, body := post(t, app, "/banks/verify", map[string]any{"currency": "NGN", "account_number": "1234567890", "bank_code": "044"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Jane Doe", body["account_name"])
}
