package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizledger/bizledger/internal/logging"
)

func newFincraServer(t *testing.T, handler http.HandlerFunc) *Fincra {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFincra(testConfig("fincra", srv.URL), logging.Discard())
}

func TestFincraListBanks(t *testing.T) {
	f := newFincraServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/core/banks", r.URL.Path)
		assert.Equal(t, "NGN", r.URL.Query().Get("currency"))
		assert.Equal(t, "test-key", r.Header.Get("api-key"))
		_, _ = w.Write([]byte(`{"success":true,"data":[{"code":"044","name":"Access Bank"},{"code":"058","name":"GTBank"}]}`))
	})

	banks, err := f.ListBanks(context.Background(), "NG", "NGN")
	require.NoError(t, err)
	require.Len(t, banks, 2)
	assert.Equal(t, Bank{Code: "044", Name: "Access Bank", Country: "NG", Currency: "NGN"}, banks[0])
}

func TestFincraVerifyBankAccount(t *testing.T) {
	f := newFincraServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["accountNumber"] != "1234567890" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"success":false,"message":"account not found"}`))
			return
		}
		assert.Equal(t, "044", body["bankCode"])
		assert.Equal(t, "nuban", body["type"])
		_, _ = w.Write([]byte(`{"success":true,"data":{"accountName":"Jane Doe","accountNumber":"1234567890"}}`))
	})

	info, err := f.VerifyBankAccount(context.Background(), "1234567890", "044", "NGN", "")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", info.AccountName)

	_, err = f.VerifyBankAccount(context.Background(), "0000000000", "044", "NGN", "")
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "account not found", perr.Message)
	assert.False(t, perr.Ambiguous)
}

func TestFincraBankTransfer(t *testing.T) {
	f := newFincraServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/disbursements/payouts", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "200.00", body["amount"])
		assert.Equal(t, "BZLREF1", body["customerReference"])
		assert.Equal(t, "biz-1", body["business"])
		assert.Equal(t, "bank_account", body["paymentDestination"])
		beneficiary := body["beneficiary"].(map[string]any)
		assert.Equal(t, "Jane", beneficiary["firstName"])
		assert.Equal(t, "Doe", beneficiary["lastName"])
		_, _ = w.Write([]byte(`{"success":true,"message":"Payout processing","data":{"reference":"R1","status":"processing"}}`))
	})

	res, err := f.BankTransfer(context.Background(), TransferRequest{
		SourceWallet: "w1",
		Bank:         BankDetails{AccountNumber: "1234567890", BankCode: "044", AccountName: "Jane Doe"},
		Amount:       decimal.RequireFromString("200"),
		Currency:     "NGN",
		Reference:    "BZLREF1",
	})
	require.NoError(t, err)
	assert.Equal(t, "R1", res.Reference)
	assert.Equal(t, StatusPending, res.Status)
}

func TestFincraBankTransferReportedFailure(t *testing.T) {
	f := newFincraServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"reference":"R2","status":"failed","reason":"insufficient float"}}`))
	})

	_, err := f.BankTransfer(context.Background(), TransferRequest{Amount: decimal.NewFromInt(1), Currency: "NGN", Reference: "X"})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Ambiguous)
	assert.Equal(t, "insufficient float", perr.Message)
}

func TestFincraCheckTransactionStatus(t *testing.T) {
	f := newFincraServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/disbursements/payouts/R1", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"data":{"reference":"R1","customerReference":"BZLREF1","status":"successful","amount":200,"sourceCurrency":"NGN"}}`))
	})

	res, err := f.CheckTransactionStatus(context.Background(), StatusQuery{Reference: "BZLREF1", ProcessorReference: "R1"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, res.Status)
	assert.Equal(t, "R1", res.Reference)
	assert.Equal(t, "BZLREF1", res.CustomerReference)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(200)))
}

func TestFincraCheckTransactionStatusByProcessorReferenceDoesNotAssumeCustomerReference(t *testing.T) {
	f := newFincraServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"reference":"R2","status":"failed"}}`))
	})

	res, err := f.CheckTransactionStatus(context.Background(), StatusQuery{Reference: "BZLREF1", ProcessorReference: "R2"})
	require.NoError(t, err)
	assert.Equal(t, "R2", res.Reference)
	assert.Empty(t, res.CustomerReference)
}

func TestFincraVerifyCollectionReportsReceivingAccount(t *testing.T) {
	cases := []struct {
		name, body, id, number string
	}{
		{"embedded object", `{"_id":"va-1","accountNumber":"9900112233"}`, "va-1", "9900112233"},
		{"account information", `{"id":"va-2","accountInformation":{"accountNumber":"9900445566"}}`, "va-2", "9900445566"},
		{"id only", `"va-3"`, "va-3", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFincraServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/collections/C1", r.URL.Path)
				_, _ = w.Write([]byte(`{"success":true,"data":{"status":"successful","destinationAmount":250,"destinationCurrency":"NGN","virtualAccount":` + tc.body + `}}`))
			})

			res, err := f.VerifyCollection(context.Background(), "C1")
			require.NoError(t, err)
			assert.Equal(t, tc.id, res.VirtualAccount)
			assert.Equal(t, tc.number, res.AccountNumber)
			assert.True(t, res.Amount.Equal(decimal.NewFromInt(250)))
		})
	}
}

func TestFincraMobileMoneyUnsupported(t *testing.T) {
	f := NewFincra(testConfig("fincra", "http://unused"), logging.Discard())
	_, err := f.MobileMoneyTransfer(context.Background(), MobileMoneyRequest{})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CodeUnsupported, perr.Code)
}

func TestFincraParseWebhook(t *testing.T) {
	f := NewFincra(testConfig("fincra", "http://unused"), logging.Discard())

	ev, err := f.ParseWebhook([]byte(`{"event":"collection.successful","data":{"reference":"C1","status":"successful",
		"destinationAmount":5000,"destinationCurrency":"NGN","senderAccountName":"John","virtualAccount":"VA1"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindCollection, ev.Kind)
	assert.Equal(t, "C1", ev.Reference)
	assert.Equal(t, StatusSuccessful, ev.ClaimedStatus)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "VA1", ev.VirtualAccount)

	ev, err = f.ParseWebhook([]byte(`{"event":"payout.failed","data":{"reference":"R1","customerReference":"BZLREF1","status":"failed","reason":"closed account"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindPayout, ev.Kind)
	assert.Equal(t, StatusFailed, ev.ClaimedStatus)
	assert.Equal(t, "BZLREF1", ev.CustomerReference)

	ev, err = f.ParseWebhook([]byte(`{"event":"virtualaccount.approved","data":{"id":"VA9"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindVirtualAccount, ev.Kind)
	assert.Equal(t, "VA9", ev.Reference)
	assert.Equal(t, AccountActive, ev.ClaimedStatus)

	_, err = f.ParseWebhook([]byte(`{"event":"conversion.successful","data":{}}`))
	assert.True(t, errors.Is(err, ErrUnhandledEvent))
}

func TestFincraVerifySignature(t *testing.T) {
	f := NewFincra(testConfig("fincra", "http://unused"), logging.Discard())
	body := []byte(`{"event":"payout.successful"}`)

	assert.True(t, f.VerifySignature(body, SignHMACSHA512("whsec", body)))
	assert.False(t, f.VerifySignature(body, SignHMACSHA512("other", body)))
	assert.False(t, f.VerifySignature(body, ""))
}
