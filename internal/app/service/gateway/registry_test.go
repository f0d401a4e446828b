package gateway_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/finepay/internal/app/service/gateway"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/signature"
)

func signedStripeWebhook(secret string, body []byte) *gateway.Callback {
	ts := time.Now().Unix()
	cb := &gateway.Callback{Header: http.Header{}, Body: body}
	cb.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, signature.HMACSHA256Hex(secret, fmt.Sprintf("%d.%s", ts, body))))
	return cb
}

func TestRegistry_NotifyLocalIdentifier(t *testing.T) {
	cfg := &config.Config{OnlinePayment: map[string]*config.OnlinePaymentConfig{
		"default": {Enabled: true, Handler: gateway.HandlerTest, URL: "http://echo.test", Secret: "s"},
		"helmet":  {Enabled: true, Handler: gateway.HandlerStripe, APIKey: "sk_h", WebhookSecret: "whsec_h"},
		"kirkes":  {Enabled: true, Handler: gateway.HandlerStripe, APIKey: "sk_k", WebhookSecret: "whsec_k"},
		"off":     {Enabled: false, Handler: gateway.HandlerStripe, APIKey: "sk_o", WebhookSecret: "whsec_o"},
	}}
	r := gateway.NewRegistry(cfg, gateway.Deps{})
	ctx := context.Background()
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","client_reference_id":"L7"}}}`)

	id, err := r.NotifyLocalIdentifier(ctx, signedStripeWebhook("whsec_k", body))
	require.NoError(t, err, "a secret rejected by one source must not hide a match in another")
	assert.Equal(t, "L7", id)

	_, err = r.NotifyLocalIdentifier(ctx, signedStripeWebhook("whsec_o", body))
	assert.ErrorIs(t, err, gateway.ErrSignature)

	id, err = r.NotifyLocalIdentifier(ctx, &gateway.Callback{Header: http.Header{}})
	require.NoError(t, err)
	assert.Empty(t, id)
}
