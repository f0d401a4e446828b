package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	razorpay "github.com/razorpay/razorpay-go"

	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/logctx"
	"github.com/fatflowers/finepay/pkg/signature"
)

const (
	HandlerRazorpay = "razorpay"

	razorpaySignatureHeader = "X-Razorpay-Signature"
	razorpayDescMaxLen      = 2048
)

// paymentLinkAPI is the part of the Razorpay payment link resource the handler uses.
type paymentLinkAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayCredentials struct {
	APIKey string `validate:"required"`
	Secret string `validate:"required"`
}

// RazorpayHandler sells the fines through a single payment link. The browser return carries a
// signature made with the key secret; webhooks are signed over the raw body.
type RazorpayHandler struct {
	base
	links         paymentLinkAPI
	webhookSecret string
}

func NewRazorpayHandler(cfg *config.OnlinePaymentConfig, deps Deps) (*RazorpayHandler, error) {
	if err := validator.New().Struct(razorpayCredentials{APIKey: cfg.APIKey, Secret: cfg.Secret}); err != nil {
		return nil, newPaymentError(KeyConfiguration, fmt.Errorf("%s: %w: %v", HandlerRazorpay, ErrConfiguration, err))
	}
	client := razorpay.NewClient(cfg.APIKey, cfg.Secret)
	return &RazorpayHandler{
		base:          newBase(HandlerRazorpay, cfg, deps),
		links:         client.PaymentLink,
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

func (h *RazorpayHandler) description(req *StartRequest) string {
	parts := make([]string, 0, len(req.Fines))
	for _, fine := range req.Fines {
		if d := h.FineDescription(fine, razorpayDescMaxLen, req.Locale); d != "" {
			parts = append(parts, d)
		}
	}
	return truncate(strings.Join(parts, ", "), razorpayDescMaxLen)
}

func (h *RazorpayHandler) StartPayment(ctx context.Context, req *StartRequest) (res *StartResult, err error) {
	data := map[string]interface{}{
		"amount":          req.Amount + h.serviceFee(),
		"currency":        h.currency(),
		"accept_partial":  false,
		"reference_id":    req.LocalIdentifier,
		"description":     h.description(req),
		"callback_url":    req.ReturnURL,
		"callback_method": "get",
		"notes": map[string]interface{}{
			"cat_username": req.Patron.CatUsername,
			"notify_url":   req.NotifyURL,
		},
	}
	if email := patronEmail(req); email != "" {
		data["customer"] = map[string]interface{}{
			"email": email,
			"name":  strings.TrimSpace(req.Patron.FirstName + " " + req.Patron.LastName),
		}
		data["notify"] = map[string]interface{}{"email": true}
	}

	start := time.Now()
	defer func() { h.observe("create_payment_link", start, err) }()

	out, err := h.links.Create(data, nil)
	if err != nil {
		return nil, h.requestFailed(ctx, "create_payment_link", err, map[string]any{"request": data})
	}
	id, _ := out["id"].(string)
	shortURL, _ := out["short_url"].(string)
	if id == "" || shortURL == "" {
		return nil, h.requestFailed(ctx, "create_payment_link", fmt.Errorf("incomplete response"), map[string]any{"response": out})
	}
	logctx.FromCtx(ctx, h.log).Infow("razorpay_link_created", "local_payment_id", req.LocalIdentifier, "link_id", id)
	return &StartResult{
		RemoteIdentifier: id,
		RedirectURL:      shortURL,
		ServiceFee:       h.serviceFee(),
		Currency:         h.currency(),
	}, nil
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		PaymentLink struct {
			Entity struct {
				ID          string `json:"id"`
				ReferenceID string `json:"reference_id"`
				Status      string `json:"status"`
			} `json:"entity"`
		} `json:"payment_link"`
	} `json:"payload"`
}

func (h *RazorpayHandler) ProcessPaymentResponse(ctx context.Context, p *models.Payment, cb *Callback) (*Response, error) {
	var linkID, referenceID, status string
	if sig := cb.Header.Get(razorpaySignatureHeader); sig != "" && len(cb.Body) > 0 {
		if h.webhookSecret == "" {
			return nil, newPaymentError(KeyConfiguration, fmt.Errorf("%s: %w: webhook secret missing", HandlerRazorpay, ErrConfiguration))
		}
		evt, err := h.verifyWebhook(ctx, cb, sig)
		if err != nil {
			return nil, err
		}
		e := evt.Payload.PaymentLink.Entity
		linkID, referenceID, status = e.ID, e.ReferenceID, e.Status
	} else {
		params := cb.Params()
		linkID = params.Get("razorpay_payment_link_id")
		referenceID = params.Get("razorpay_payment_link_reference_id")
		status = params.Get("razorpay_payment_link_status")
		paymentID := params.Get("razorpay_payment_id")
		sig := params.Get("razorpay_signature")
		if linkID == "" || sig == "" {
			return nil, h.invalidCallback(ctx, "missing payment link parameters")
		}
		msg := strings.Join([]string{linkID, referenceID, status, paymentID}, "|")
		if !signature.Equal(signature.HMACSHA256Hex(h.cfg.Secret, msg), sig) {
			return nil, h.signatureFailed(ctx, params, "payment link signature")
		}
	}

	if referenceID != p.LocalIdentifier {
		return nil, h.invalidCallback(ctx, fmt.Sprintf("reference %q does not match payment", referenceID))
	}
	if remote := p.GetRemoteIdentifier(); remote != "" && linkID != remote {
		return nil, h.invalidCallback(ctx, fmt.Sprintf("link %q does not match payment", linkID))
	}

	switch status {
	case "paid":
		return &Response{Result: ResultSuccess, GatewayStatus: status}, nil
	case "cancelled", "expired":
		return &Response{Result: ResultCancel, GatewayStatus: status}, nil
	case "created", "partially_paid":
		return &Response{Result: ResultPending, GatewayStatus: status}, nil
	default:
		return h.unknownStatus(ctx, status), nil
	}
}

func (h *RazorpayHandler) verifyWebhook(ctx context.Context, cb *Callback, sig string) (*razorpayWebhook, error) {
	if !signature.Equal(signature.HMACSHA256Hex(h.webhookSecret, string(cb.Body)), sig) {
		return nil, h.signatureFailed(ctx, url.Values{razorpaySignatureHeader: {sig}}, "webhook body")
	}
	var evt razorpayWebhook
	if err := json.Unmarshal(cb.Body, &evt); err != nil {
		return nil, h.invalidCallback(ctx, "webhook body is not json")
	}
	return &evt, nil
}

// NotifyLocalIdentifier returns the payment link reference of a signed webhook. Webhooks go to
// the URL set in the Razorpay dashboard, which carries no payment id.
func (h *RazorpayHandler) NotifyLocalIdentifier(ctx context.Context, cb *Callback) (string, error) {
	sig := cb.Header.Get(razorpaySignatureHeader)
	if sig == "" || len(cb.Body) == 0 || h.webhookSecret == "" {
		return "", nil
	}
	evt, err := h.verifyWebhook(ctx, cb, sig)
	if err != nil {
		return "", err
	}
	return evt.Payload.PaymentLink.Entity.ReferenceID, nil
}
