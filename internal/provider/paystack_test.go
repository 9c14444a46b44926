package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizledger/bizledger/internal/logging"
)

func TestPaystackBankTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/transferrecipient":
			assert.Equal(t, "ghipss", body["type"])
			_, _ = w.Write([]byte(`{"status":true,"data":{"recipient_code":"RCP_1"}}`))
		case "/transfer":
			assert.Equal(t, "RCP_1", body["recipient"])
			assert.Equal(t, float64(15050), body["amount"])
			assert.Equal(t, "bzlref1", body["reference"])
			_, _ = w.Write([]byte(`{"status":true,"message":"Transfer has been queued","data":{"transfer_code":"TRF_1","status":"pending"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewPaystack(testConfig("paystack", srv.URL), logging.Discard())
	res, err := p.BankTransfer(context.Background(), TransferRequest{
		Bank:      BankDetails{AccountNumber: "0123456789", BankCode: "GCB", AccountName: "Ama Mensah"},
		Amount:    decimal.RequireFromString("150.50"),
		Currency:  "GHS",
		Reference: "BZLREF1",
	})
	require.NoError(t, err)
	assert.Equal(t, "TRF_1", res.Reference)
	assert.Equal(t, StatusPending, res.Status)
}

func TestPaystackVerifyCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/T1", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"success","amount":500000,"currency":"GHS"}}`))
	}))
	defer srv.Close()

	p := NewPaystack(testConfig("paystack", srv.URL), logging.Discard())
	res, err := p.VerifyCollection(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, res.Status)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "GHS", res.Currency)
	assert.Empty(t, res.VirtualAccount)
	assert.Empty(t, res.AccountNumber)
}

func TestPaystackVerifyCollectionReportsReceivingAccount(t *testing.T) {
	cases := []struct {
		name, data, id, number string
	}{
		{"dedicated account", `"dedicated_account":{"id":4411,"account_number":"9930000001"}`, "4411", "9930000001"},
		{"authorization receiver", `"authorization":{"receiver_bank_account_number":"9930000002"}`, "", "9930000002"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"status":true,"data":{"status":"success","amount":500000,"currency":"GHS",` + tc.data + `}}`))
			}))
			defer srv.Close()

			p := NewPaystack(testConfig("paystack", srv.URL), logging.Discard())
			res, err := p.VerifyCollection(context.Background(), "T1")
			require.NoError(t, err)
			assert.Equal(t, tc.id, res.VirtualAccount)
			assert.Equal(t, tc.number, res.AccountNumber)
		})
	}
}

func TestPaystackParseWebhook(t *testing.T) {
	p := NewPaystack(testConfig("paystack", "http://unused"), logging.Discard())

	ev, err := p.ParseWebhook([]byte(`{"event":"charge.success","data":{"reference":"T1","status":"success","amount":250000,
		"currency":"ghs","authorization":{"sender_name":"Kofi","receiver_bank_account_number":"9930000001"}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindCollection, ev.Kind)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(2500)))
	assert.Equal(t, "GHS", ev.Currency)
	assert.Equal(t, "9930000001", ev.AccountNumber)

	ev, err = p.ParseWebhook([]byte(`{"event":"transfer.reversed","data":{"reference":"bzlref1","transfer_code":"TRF_1","status":"reversed"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindPayout, ev.Kind)
	assert.Equal(t, StatusFailed, ev.ClaimedStatus)
	assert.Equal(t, "BZLREF1", ev.CustomerReference)
	assert.Equal(t, "TRF_1", ev.Reference)
}

func TestPaystackSignatureUsesSecretKey(t *testing.T) {
	cfg := testConfig("paystack", "http://unused")
	cfg.WebhookSecret = ""
	p := NewPaystack(cfg, logging.Discard())
	body := []byte(`{"event":"charge.success"}`)

	assert.Equal(t, "x-paystack-signature", p.SignatureHeader())
	assert.True(t, p.VerifySignature(body, SignHMACSHA512("test-key", body)))
}
