package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/logctx"
)

const (
	HandlerStripe = "stripe"

	stripeNameMaxLen        = 100
	stripeDescriptionMaxLen = 255
	stripeSignatureHeader   = "Stripe-Signature"
	serviceFeeKey           = "payment.service_fee"
)

var stripeLocales = map[string]string{"fi": "fi", "sv": "sv", "en": "en", "de": "de", "fr": "fr", "es": "es"}

// checkoutSessionAPI is the part of the Stripe checkout session client the handler uses.
type checkoutSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeCredentials struct {
	APIKey string `validate:"required"`
}

// StripeHandler creates hosted checkout sessions. The payment outcome is always read back from
// the session itself, so an unsigned browser return cannot mark a payment paid.
type StripeHandler struct {
	base
	sessions         checkoutSessionAPI
	taxCodeMappings  map[string]string
	webhookSecret    string
	webhookTolerance time.Duration
}

func NewStripeHandler(cfg *config.OnlinePaymentConfig, deps Deps) (*StripeHandler, error) {
	if err := validator.New().Struct(stripeCredentials{APIKey: cfg.APIKey}); err != nil {
		return nil, newPaymentError(KeyConfiguration, fmt.Errorf("%s: %w: apiKey: %v", HandlerStripe, ErrConfiguration, err))
	}
	h := &StripeHandler{
		base:             newBase(HandlerStripe, cfg, deps),
		taxCodeMappings:  ParseMappings(cfg.TaxPercentToTaxCodeMappings),
		webhookSecret:    cfg.WebhookSecret,
		webhookTolerance: webhook.DefaultTolerance,
	}
	backendCfg := &stripe.BackendConfig{HTTPClient: h.httpClient, LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError}}
	if cfg.URL != "" {
		backendCfg.URL = stripe.String(cfg.URL)
	}
	h.sessions = &session.Client{B: stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg), Key: cfg.APIKey}
	return h, nil
}

func (h *StripeHandler) taxCode(taxPercent int64) (string, bool) {
	code, ok := h.taxCodeMappings[strconv.FormatInt(taxPercent, 10)]
	return code, ok
}

func (h *StripeHandler) locale(locale string) string {
	if l, ok := stripeLocales[h.base.language(locale)]; ok {
		return l
	}
	return "auto"
}

func (h *StripeHandler) lineItem(code, description string, amount, taxPercent int64) *stripe.CheckoutSessionLineItemParams {
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(truncate(code, stripeNameMaxLen)),
	}
	if description != "" {
		product.Description = stripe.String(description)
	}
	if taxCode, ok := h.taxCode(taxPercent); ok {
		product.TaxCode = stripe.String(taxCode)
	}
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:    stripe.String(strings.ToLower(h.currency())),
			UnitAmount:  stripe.Int64(amount),
			ProductData: product,
		},
		Quantity: stripe.Int64(1),
	}
}

func (h *StripeHandler) buildParams(ctx context.Context, req *StartRequest) (*stripe.CheckoutSessionParams, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.LocalIdentifier),
		SuccessURL:        stripe.String(req.ReturnURL),
		CancelURL:         stripe.String(req.ReturnURL),
		Locale:            stripe.String(h.locale(req.Locale)),
		CustomerCreation:  stripe.String(string(stripe.CheckoutSessionCustomerCreationIfRequired)),
	}
	params.Context = ctx
	for _, fine := range req.Fines {
		code, ok := h.FineProductCode(fine)
		if !ok {
			logctx.FromCtx(ctx, h.log).Errorw("stripe_fine_type_unknown", "fine_id", fine.FineID, "type", fine.Type)
			return nil, newPaymentError(KeyConfiguration, fmt.Errorf("%s: %w: fine type could not be determined", HandlerStripe, ErrConfiguration))
		}
		params.LineItems = append(params.LineItems,
			h.lineItem(code, h.FineDescription(fine, stripeDescriptionMaxLen, req.Locale), fine.Balance, fine.TaxPercent))
	}
	if fee := h.serviceFee(); fee > 0 {
		desc := "Service Fee"
		if h.translator != nil {
			if tr := h.translator.Translate(req.Locale, serviceFeeKey); tr != serviceFeeKey {
				desc = tr
			}
		}
		params.LineItems = append(params.LineItems,
			h.lineItem(h.serviceFeeProductCode(), desc, fee, h.cfg.ServiceFeeTaxRate))
	}
	if email := patronEmail(req); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	return params, nil
}

func (h *StripeHandler) StartPayment(ctx context.Context, req *StartRequest) (res *StartResult, err error) {
	params, err := h.buildParams(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { h.observe("create_session", start, err) }()

	s, err := h.sessions.New(params)
	if err != nil {
		return nil, h.requestFailed(ctx, "create_session", err, map[string]any{
			"local_payment_id": req.LocalIdentifier,
			"line_items":       len(params.LineItems),
		})
	}
	if s == nil || s.URL == "" {
		return nil, h.requestFailed(ctx, "create_session", fmt.Errorf("session without url"), map[string]any{
			"local_payment_id": req.LocalIdentifier,
		})
	}
	logctx.FromCtx(ctx, h.log).Infow("stripe_session_created", "local_payment_id", req.LocalIdentifier, "session_id", s.ID)
	return &StartResult{
		RemoteIdentifier: s.ID,
		RedirectURL:      s.URL,
		ServiceFee:       h.serviceFee(),
		Currency:         h.currency(),
	}, nil
}

func (h *StripeHandler) ProcessPaymentResponse(ctx context.Context, p *models.Payment, cb *Callback) (res *Response, err error) {
	if sig := cb.Header.Get(stripeSignatureHeader); sig != "" && len(cb.Body) > 0 {
		if h.webhookSecret == "" {
			return nil, newPaymentError(KeyConfiguration, fmt.Errorf("%s: %w: webhook secret missing", HandlerStripe, ErrConfiguration))
		}
		if err := webhook.ValidatePayloadWithTolerance(cb.Body, sig, h.webhookSecret, h.webhookTolerance); err != nil {
			return nil, h.signatureFailed(ctx, url.Values{stripeSignatureHeader: {sig}}, err.Error())
		}
	}
	remoteID := p.GetRemoteIdentifier()
	if remoteID == "" {
		return nil, h.invalidCallback(ctx, "payment has no session id")
	}

	start := time.Now()
	defer func() { h.observe("get_session", start, err) }()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, getErr := h.sessions.Get(remoteID, params)
	if getErr != nil {
		logctx.FromCtx(ctx, h.log).Errorw("stripe_session_get_failed", "session_id", remoteID, "err", getErr)
		return &Response{Result: ResultFailure, GatewayStatus: "error"}, nil
	}
	status := string(s.PaymentStatus)
	switch s.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return &Response{Result: ResultSuccess, GatewayStatus: status}, nil
	default:
		return &Response{Result: ResultCancel, GatewayStatus: status}, nil
	}
}

// NotifyLocalIdentifier reads the payment from a signed checkout session webhook. Stripe posts
// webhooks to one endpoint URL, so the body is the only place naming the payment.
func (h *StripeHandler) NotifyLocalIdentifier(ctx context.Context, cb *Callback) (string, error) {
	sig := cb.Header.Get(stripeSignatureHeader)
	if sig == "" || len(cb.Body) == 0 || h.webhookSecret == "" {
		return "", nil
	}
	if err := webhook.ValidatePayloadWithTolerance(cb.Body, sig, h.webhookSecret, h.webhookTolerance); err != nil {
		return "", h.signatureFailed(ctx, url.Values{stripeSignatureHeader: {sig}}, err.Error())
	}
	var evt stripe.Event
	if err := json.Unmarshal(cb.Body, &evt); err != nil || evt.Data == nil {
		return "", h.invalidCallback(ctx, "webhook body is not an event")
	}
	if !strings.HasPrefix(string(evt.Type), "checkout.session.") {
		return "", nil
	}
	var s stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
		return "", h.invalidCallback(ctx, "webhook object is not a checkout session")
	}
	return s.ClientReferenceID, nil
}
