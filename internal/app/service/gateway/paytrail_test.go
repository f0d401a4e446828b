package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/types"
)

func paytrailConfig(endpoint string) *config.OnlinePaymentConfig {
	return &config.OnlinePaymentConfig{
		Enabled:                        true,
		Handler:                        HandlerPaytrail,
		Currency:                       "EUR",
		MerchantID:                     "375917",
		Secret:                         "SAIPPUAKAUPPIAS",
		URL:                            endpoint,
		ProductCode:                    "FINE",
		ServiceFee:                     50,
		ServiceFeeProductCode:          "FEE",
		ServiceFeeTaxRate:              2400,
		OrganizationMerchantIDMappings: "lib1=695861",
	}
}

func paytrailStartRequest() *StartRequest {
	return &StartRequest{
		LocalIdentifier: "abc123",
		ReturnURL:       "https://lib/return?local_payment_id=abc123",
		NotifyURL:       "https://lib/notify?local_payment_id=abc123",
		User:            types.User{ID: "u1"},
		Patron:          types.Patron{CatUsername: "lib.12345", Email: "p@example.org", FirstName: "Pat"},
		Amount:          250,
		Fines: []*types.Fine{
			{FineID: "f1", Type: "overdue", Balance: 150, TaxPercent: 2550, Organization: "lib1"},
			{FineID: "f2", Type: "lost", Balance: 100, Description: "Lost item"},
		},
		Locale: "sv",
	}
}

func TestPaytrail_RequiresCredentials(t *testing.T) {
	_, err := NewPaytrailHandler(&config.OnlinePaymentConfig{Handler: HandlerPaytrail}, Deps{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, KeyConfiguration, MessageKey(err))
}

func TestPaytrail_StartPayment(t *testing.T) {
	var got paytrailPaymentRequest
	var h *PaytrailHandler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		fields := map[string]string{}
		for k := range r.Header {
			lk := strings.ToLower(k)
			if strings.HasPrefix(lk, paytrailHeaderPrefix) {
				fields[lk] = r.Header.Get(k)
			}
		}
		if fields["checkout-account"] != "375917" || h.signHeaders(fields, string(body)) != r.Header.Get("signature") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transactionId":"tx-1","href":"https://pay.example/tx-1"}`))
	}))
	defer srv.Close()

	var err error
	h, err = NewPaytrailHandler(paytrailConfig(srv.URL), Deps{Translator: testTranslator()})
	require.NoError(t, err)

	res, err := h.StartPayment(context.Background(), paytrailStartRequest())
	require.NoError(t, err)
	assert.Equal(t, "tx-1", res.RemoteIdentifier)
	assert.Equal(t, "https://pay.example/tx-1", res.RedirectURL)
	assert.Equal(t, int64(50), res.ServiceFee)
	assert.Equal(t, "EUR", res.Currency)

	assert.Equal(t, "abc123", got.Stamp)
	assert.Equal(t, "abc123 - lib.12345", got.Reference)
	assert.Equal(t, int64(300), got.Amount)
	assert.Equal(t, "SV", got.Language)
	assert.Equal(t, "p@example.org", got.Customer.Email)
	require.Len(t, got.Items, 3)
	assert.Equal(t, "abc123 f1", got.Items[0].Stamp)
	assert.Equal(t, json.Number("25.5"), got.Items[0].VATPercentage)
	assert.Equal(t, "695861", got.Items[0].Merchant)
	assert.Equal(t, "Overdue fine", got.Items[0].Description)
	assert.Equal(t, "Lost item", got.Items[1].Description)
	assert.Equal(t, "FEE", got.Items[2].ProductCode)
	assert.Equal(t, json.Number("24"), got.Items[2].VATPercentage)
}

func TestPaytrail_StartPayment_ServiceFeeWithoutFineItems(t *testing.T) {
	var got paytrailPaymentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transactionId":"tx-2","href":"https://pay.example/tx-2"}`))
	}))
	defer srv.Close()

	cfg := paytrailConfig(srv.URL)
	cfg.ProductCode = ""
	h, err := NewPaytrailHandler(cfg, Deps{})
	require.NoError(t, err)

	_, err = h.StartPayment(context.Background(), paytrailStartRequest())
	require.NoError(t, err)
	require.Len(t, got.Items, 1, "fines without a product code are skipped, the fee is not")
	assert.Equal(t, "FEE", got.Items[0].ProductCode)
	assert.Equal(t, int64(50), got.Items[0].UnitPrice)
}

func TestPaytrail_StartPayment_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error"}`))
	}))
	defer srv.Close()

	h, err := NewPaytrailHandler(paytrailConfig(srv.URL), Deps{})
	require.NoError(t, err)
	_, err = h.StartPayment(context.Background(), paytrailStartRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequestFailed))
	assert.Equal(t, KeyRequestFailed, MessageKey(err))
}

func TestPaytrail_StartPayment_EmailRequired(t *testing.T) {
	h, err := NewPaytrailHandler(paytrailConfig("http://unused"), Deps{})
	require.NoError(t, err)
	req := paytrailStartRequest()
	req.Patron.Email = ""
	_, err = h.StartPayment(context.Background(), req)
	assert.Equal(t, KeyEmailRequired, MessageKey(err))
}

func signedPaytrailCallback(h *PaytrailHandler, stamp, status string) *Callback {
	q := url.Values{
		"checkout-account":        {"375917"},
		"checkout-algorithm":      {"sha256"},
		"checkout-amount":         {"300"},
		"checkout-stamp":          {stamp},
		"checkout-reference":      {stamp + " - lib.12345"},
		"checkout-transaction-id": {"tx-1"},
		"checkout-status":         {status},
		"checkout-provider":       {"nordea"},
		LocalPaymentIDParam:       {stamp},
	}
	fields := map[string]string{}
	for k := range q {
		fields[k] = q.Get(k)
	}
	q.Set(paytrailSignatureParam, h.signHeaders(fields, ""))
	return &Callback{Query: q}
}

func TestPaytrail_ProcessPaymentResponse(t *testing.T) {
	h, err := NewPaytrailHandler(paytrailConfig("http://unused"), Deps{})
	require.NoError(t, err)
	p := &models.Payment{LocalIdentifier: "abc123"}

	tests := []struct {
		status string
		want   Result
	}{
		{"ok", ResultSuccess},
		{"fail", ResultCancel},
		{"new", ResultPending},
		{"pending", ResultPending},
		{"delayed", ResultPending},
		{"weird", ResultFailure},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			res, err := h.ProcessPaymentResponse(context.Background(), p, signedPaytrailCallback(h, "abc123", tt.status))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Result)
			assert.Equal(t, tt.status, res.GatewayStatus)
		})
	}

	res, err := h.ProcessPaymentResponse(context.Background(), p, signedPaytrailCallback(h, "abc123", "weird"))
	require.NoError(t, err)
	assert.Equal(t, "Received unknown status", res.Anomaly)
}

func TestPaytrail_ProcessPaymentResponse_Rejects(t *testing.T) {
	h, err := NewPaytrailHandler(paytrailConfig("http://unused"), Deps{})
	require.NoError(t, err)
	p := &models.Payment{LocalIdentifier: "abc123"}

	cb := signedPaytrailCallback(h, "abc123", "ok")
	cb.Query.Set("checkout-status", "fail")
	_, err = h.ProcessPaymentResponse(context.Background(), p, cb)
	assert.ErrorIs(t, err, ErrSignature)

	cb = signedPaytrailCallback(h, "other", "ok")
	_, err = h.ProcessPaymentResponse(context.Background(), p, cb)
	assert.ErrorIs(t, err, ErrInvalidCallback)

	cb = signedPaytrailCallback(h, "abc123", "ok")
	cb.Query.Del("checkout-stamp")
	_, err = h.ProcessPaymentResponse(context.Background(), p, cb)
	assert.ErrorIs(t, err, ErrInvalidCallback)
}
