package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/signature"
	"github.com/fatflowers/finepay/pkg/types"
)

type fakeSessions struct {
	created *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
	gets    int
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.created = params
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeSessions) Get(id string, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.gets++
	if f.err != nil {
		return nil, f.err
	}
	if id != f.session.ID {
		return nil, errors.New("no such session")
	}
	return f.session, nil
}

func newTestStripe(t *testing.T, fake *fakeSessions) *StripeHandler {
	t.Helper()
	h, err := NewStripeHandler(&config.OnlinePaymentConfig{
		Enabled:                     true,
		Handler:                     HandlerStripe,
		Currency:                    "EUR",
		APIKey:                      "sk_test_123",
		WebhookSecret:               "whsec_test",
		ProductCodeMappings:         "overdue=OD",
		TaxPercentToTaxCodeMappings: "2400=txcd_10000000",
		ServiceFee:                  30,
		ServiceFeeProductCode:       "FEE",
	}, Deps{Translator: testTranslator()})
	require.NoError(t, err)
	h.sessions = fake
	return h
}

func TestStripe_RequiresAPIKey(t *testing.T) {
	_, err := NewStripeHandler(&config.OnlinePaymentConfig{Handler: HandlerStripe}, Deps{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestStripe_StartPayment(t *testing.T) {
	fake := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}}
	h := newTestStripe(t, fake)

	res, err := h.StartPayment(context.Background(), &StartRequest{
		LocalIdentifier: "loc1",
		ReturnURL:       "https://lib/return?local_payment_id=loc1",
		NotifyURL:       "https://lib/notify?local_payment_id=loc1",
		User:            types.User{ID: "u1", Email: "u@example.org"},
		Patron:          types.Patron{CatUsername: "lib.1"},
		Amount:          500,
		Fines:           []*types.Fine{{FineID: "f1", Type: "overdue", Balance: 500, TaxPercent: 2400, Title: "Dune"}},
		Locale:          "fi",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", res.RemoteIdentifier)
	assert.Equal(t, "https://checkout.stripe.test/cs_1", res.RedirectURL)

	p := fake.created
	require.NotNil(t, p)
	assert.Equal(t, "loc1", *p.ClientReferenceID)
	assert.Equal(t, "https://lib/return?local_payment_id=loc1", *p.SuccessURL)
	assert.Equal(t, *p.SuccessURL, *p.CancelURL)
	assert.Equal(t, "fi", *p.Locale)
	assert.Equal(t, "u@example.org", *p.CustomerEmail)
	require.Len(t, p.LineItems, 2)
	item := p.LineItems[0].PriceData
	assert.Equal(t, "eur", *item.Currency)
	assert.Equal(t, int64(500), *item.UnitAmount)
	assert.Equal(t, "OD", *item.ProductData.Name)
	assert.Equal(t, "txcd_10000000", *item.ProductData.TaxCode)
	assert.Equal(t, "Myöhästymismaksu (Dune)", *item.ProductData.Description)
	assert.Equal(t, "FEE", *p.LineItems[1].PriceData.ProductData.Name)
	assert.Nil(t, p.LineItems[1].PriceData.ProductData.TaxCode)
}

func TestStripe_StartPayment_PrefersPatronEmail(t *testing.T) {
	fake := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}}
	h := newTestStripe(t, fake)

	_, err := h.StartPayment(context.Background(), &StartRequest{
		LocalIdentifier: "loc1",
		User:            types.User{ID: "u1", Email: "u@example.org"},
		Patron:          types.Patron{CatUsername: "lib.1", Email: "patron@example.org"},
		Amount:          500,
		Fines:           []*types.Fine{{FineID: "f1", Type: "overdue", Balance: 500}},
	})
	require.NoError(t, err)
	assert.Equal(t, "patron@example.org", *fake.created.CustomerEmail)
}

func TestStripe_StartPayment_UnknownProductCode(t *testing.T) {
	fake := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_1", URL: "u"}}
	h := newTestStripe(t, fake)
	h.productCodeMappings = map[string]string{}
	_, err := h.StartPayment(context.Background(), &StartRequest{
		LocalIdentifier: "loc1",
		Fines:           []*types.Fine{{Type: "overdue", Balance: 1}},
	})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Nil(t, fake.created)
}

func TestStripe_StartPayment_APIError(t *testing.T) {
	fake := &fakeSessions{err: errors.New("card_declined")}
	h := newTestStripe(t, fake)
	_, err := h.StartPayment(context.Background(), &StartRequest{
		LocalIdentifier: "loc1",
		Fines:           []*types.Fine{{Type: "overdue", Balance: 1}},
	})
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestStripe_ProcessPaymentResponse(t *testing.T) {
	remote := "cs_1"
	p := &models.Payment{LocalIdentifier: "loc1", RemoteIdentifier: &remote}

	tests := []struct {
		status stripe.CheckoutSessionPaymentStatus
		want   Result
	}{
		{stripe.CheckoutSessionPaymentStatusPaid, ResultSuccess},
		{stripe.CheckoutSessionPaymentStatusNoPaymentRequired, ResultSuccess},
		{stripe.CheckoutSessionPaymentStatusUnpaid, ResultCancel},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			h := newTestStripe(t, &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_1", PaymentStatus: tt.status}})
			res, err := h.ProcessPaymentResponse(context.Background(), p, &Callback{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Result)
		})
	}

	h := newTestStripe(t, &fakeSessions{err: errors.New("boom")})
	res, err := h.ProcessPaymentResponse(context.Background(), p, &Callback{})
	require.NoError(t, err)
	assert.Equal(t, ResultFailure, res.Result)
}

func stripeSignatureFor(secret string, body []byte, ts time.Time) string {
	unix := ts.Unix()
	sig := signature.HMACSHA256Hex(secret, fmt.Sprintf("%d.%s", unix, body))
	return fmt.Sprintf("t=%d,v1=%s", unix, sig)
}

func TestStripe_Webhook_Signature(t *testing.T) {
	remote := "cs_1"
	p := &models.Payment{LocalIdentifier: "loc1", RemoteIdentifier: &remote}
	body := []byte(`{"type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)

	fake := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_1", PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid}}
	h := newTestStripe(t, fake)

	good := &Callback{Header: http.Header{}, Body: body}
	good.Header.Set(stripeSignatureHeader, stripeSignatureFor("whsec_test", body, time.Now()))
	res, err := h.ProcessPaymentResponse(context.Background(), p, good)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, res.Result)

	bad := &Callback{Header: http.Header{}, Body: body}
	bad.Header.Set(stripeSignatureHeader, stripeSignatureFor("wrong", body, time.Now()))
	gets := fake.gets
	_, err = h.ProcessPaymentResponse(context.Background(), p, bad)
	assert.ErrorIs(t, err, ErrSignature)
	assert.Equal(t, gets, fake.gets, "session must not be read after a bad signature")
}

func TestStripe_NotifyLocalIdentifier(t *testing.T) {
	h := newTestStripe(t, &fakeSessions{})
	ctx := context.Background()
	signed := func(secret string, body []byte) *Callback {
		cb := &Callback{Header: http.Header{}, Body: body}
		cb.Header.Set(stripeSignatureHeader, stripeSignatureFor(secret, body, time.Now()))
		return cb
	}
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","client_reference_id":"loc1"}}}`)

	id, err := h.NotifyLocalIdentifier(ctx, signed("whsec_test", body))
	require.NoError(t, err)
	assert.Equal(t, "loc1", id)

	_, err = h.NotifyLocalIdentifier(ctx, signed("wrong", body))
	assert.ErrorIs(t, err, ErrSignature)

	id, err = h.NotifyLocalIdentifier(ctx, &Callback{Header: http.Header{}, Body: body})
	require.NoError(t, err)
	assert.Empty(t, id, "unsigned bodies are not trusted")

	other := []byte(`{"id":"evt_2","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`)
	id, err = h.NotifyLocalIdentifier(ctx, signed("whsec_test", other))
	require.NoError(t, err)
	assert.Empty(t, id)
}
