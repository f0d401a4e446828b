package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/logctx"
	"github.com/fatflowers/finepay/pkg/signature"
	"github.com/fatflowers/finepay/pkg/tool"
)

const (
	HandlerPaytrail = "paytrail"

	paytrailDefaultURL     = "https://services.paytrail.com"
	paytrailCodeMaxLen     = 100
	paytrailDescMaxLen     = 100
	paytrailItemStampLen   = 200
	paytrailHeaderPrefix   = "checkout-"
	paytrailSignatureParam = "signature"
)

var paytrailLanguages = map[string]string{"fi": "FI", "sv": "SV", "en": "EN"}

type paytrailCredentials struct {
	MerchantID string `validate:"required"`
	Secret     string `validate:"required"`
}

// PaytrailHandler is a hosted checkout that splits items between organization merchants
// (shop-in-shop). Requests and callbacks are signed with HMAC-SHA256 over checkout-* fields.
type PaytrailHandler struct {
	base
	endpoint string
	now      func() time.Time
}

func NewPaytrailHandler(cfg *config.OnlinePaymentConfig, deps Deps) (*PaytrailHandler, error) {
	if err := validator.New().Struct(paytrailCredentials{MerchantID: cfg.MerchantID, Secret: cfg.Secret}); err != nil {
		return nil, newPaymentError(KeyConfiguration, fmt.Errorf("%s: %w: %v", HandlerPaytrail, ErrConfiguration, err))
	}
	endpoint := strings.TrimRight(cfg.URL, "/")
	if endpoint == "" {
		endpoint = paytrailDefaultURL
	}
	return &PaytrailHandler{
		base:     newBase(HandlerPaytrail, cfg, deps),
		endpoint: endpoint,
		now:      time.Now,
	}, nil
}

type paytrailItem struct {
	UnitPrice     int64       `json:"unitPrice"`
	Units         int         `json:"units"`
	VATPercentage json.Number `json:"vatPercentage"`
	ProductCode   string      `json:"productCode"`
	Description   string      `json:"description,omitempty"`
	Stamp         string      `json:"stamp,omitempty"`
	Reference     string      `json:"reference,omitempty"`
	Merchant      string      `json:"merchant,omitempty"`
}

type paytrailCustomer struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

type paytrailURLs struct {
	Success string `json:"success"`
	Cancel  string `json:"cancel"`
}

type paytrailPaymentRequest struct {
	Stamp        string           `json:"stamp"`
	Reference    string           `json:"reference"`
	Amount       int64            `json:"amount"`
	Currency     string           `json:"currency"`
	Language     string           `json:"language"`
	Items        []*paytrailItem  `json:"items,omitempty"`
	Customer     paytrailCustomer `json:"customer"`
	RedirectURLs paytrailURLs     `json:"redirectUrls"`
	CallbackURLs paytrailURLs     `json:"callbackUrls"`
}

type paytrailPaymentResponse struct {
	TransactionID string `json:"transactionId"`
	Href          string `json:"href"`
}

// vatPercentage converts hundredths of a percent into the decimal percentage Paytrail expects.
func vatPercentage(taxPercent int64) json.Number {
	return json.Number(decimal.New(taxPercent, -2).String())
}

func (h *PaytrailHandler) language(locale string) string {
	if l, ok := paytrailLanguages[h.base.language(locale)]; ok {
		return l
	}
	return "EN"
}

func (h *PaytrailHandler) buildRequest(req *StartRequest) (*paytrailPaymentRequest, error) {
	email := patronEmail(req)
	if email == "" {
		return nil, newPaymentError(KeyEmailRequired, fmt.Errorf("%s: patron email is required", HandlerPaytrail))
	}
	pr := &paytrailPaymentRequest{
		Stamp:     req.LocalIdentifier,
		Reference: fmt.Sprintf("%s - %s", req.LocalIdentifier, req.Patron.CatUsername),
		Amount:    req.Amount + h.serviceFee(),
		Currency:  h.currency(),
		Language:  h.language(req.Locale),
		Customer: paytrailCustomer{
			Email:     email,
			FirstName: req.Patron.FirstName,
			LastName:  req.Patron.LastName,
		},
		RedirectURLs: paytrailURLs{Success: req.ReturnURL, Cancel: req.ReturnURL},
		CallbackURLs: paytrailURLs{Success: req.NotifyURL, Cancel: req.NotifyURL},
	}

	for _, fine := range req.Fines {
		code, ok := h.FineProductCode(fine)
		if !ok {
			continue
		}
		item := &paytrailItem{
			UnitPrice:     fine.Balance,
			Units:         1,
			VATPercentage: vatPercentage(fine.TaxPercent),
			ProductCode:   truncate(code, paytrailCodeMaxLen),
			Description:   h.FineDescription(fine, paytrailDescMaxLen, req.Locale),
			Stamp:         truncate(fmt.Sprintf("%s %s", req.LocalIdentifier, fine.FineID), paytrailItemStampLen),
			Reference:     truncate(fine.FineID, paytrailItemStampLen),
		}
		if merchant, found := h.organizationMerchantID[fine.Organization]; found {
			item.Merchant = merchant
		}
		pr.Items = append(pr.Items, item)
	}

	if fee, code := h.serviceFee(), h.serviceFeeProductCode(); fee > 0 && code != "" {
		pr.Items = append(pr.Items, &paytrailItem{
			UnitPrice:     fee,
			Units:         1,
			VATPercentage: vatPercentage(h.cfg.ServiceFeeTaxRate),
			ProductCode:   truncate(code, paytrailCodeMaxLen),
			Stamp:         truncate(req.LocalIdentifier+" fee", paytrailItemStampLen),
			Reference:     "fee",
			Merchant:      h.cfg.MerchantID,
		})
	}
	return pr, nil
}

// signHeaders computes the HMAC over sorted checkout-* entries followed by the body.
func (h *PaytrailHandler) signHeaders(fields map[string]string, body string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if strings.HasPrefix(k, paytrailHeaderPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		lines = append(lines, k+":"+fields[k])
	}
	lines = append(lines, body)
	return signature.HMACSHA256Hex(h.cfg.Secret, strings.Join(lines, "\n"))
}

func (h *PaytrailHandler) StartPayment(ctx context.Context, req *StartRequest) (res *StartResult, err error) {
	pr, err := h.buildRequest(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(pr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode paytrail request: %w", err)
	}

	start := time.Now()
	defer func() { h.observe("create_payment", start, err) }()

	nonce, err := tool.RandomHex(16)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{
		"checkout-account":   h.cfg.MerchantID,
		"checkout-algorithm": "sha256",
		"checkout-method":    http.MethodPost,
		"checkout-nonce":     nonce,
		"checkout-timestamp": h.now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	sig := h.signHeaders(headers, string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/payments", bytes.NewReader(body))
	if err != nil {
		return nil, h.requestFailed(ctx, "create_payment", err, map[string]any{"request": pr})
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set(paytrailSignatureParam, sig)
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, h.requestFailed(ctx, "create_payment", err, map[string]any{"request": pr})
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, h.requestFailed(ctx, "create_payment", fmt.Errorf("unexpected status %d", resp.StatusCode),
			map[string]any{"request": pr, "status": resp.StatusCode, "response": string(respBody)})
	}

	var out paytrailPaymentResponse
	if err := json.Unmarshal(respBody, &out); err != nil || out.Href == "" {
		if err == nil {
			err = fmt.Errorf("missing href")
		}
		return nil, h.requestFailed(ctx, "create_payment", err, map[string]any{"request": pr, "response": string(respBody)})
	}
	logctx.FromCtx(ctx, h.log).Infow("paytrail_payment_created", "local_payment_id", req.LocalIdentifier, "transaction_id", out.TransactionID)
	return &StartResult{
		RemoteIdentifier: out.TransactionID,
		RedirectURL:      out.Href,
		ServiceFee:       h.serviceFee(),
		Currency:         h.currency(),
	}, nil
}

var paytrailRequiredParams = []string{"checkout-reference", "checkout-stamp", "checkout-status", paytrailSignatureParam}

func (h *PaytrailHandler) ProcessPaymentResponse(ctx context.Context, p *models.Payment, cb *Callback) (*Response, error) {
	params := cb.Params()
	for _, k := range paytrailRequiredParams {
		if params.Get(k) == "" {
			return nil, h.invalidCallback(ctx, "missing parameter "+k)
		}
	}
	if !h.validSignature(params) {
		return nil, h.signatureFailed(ctx, params, "checkout signature")
	}
	if stamp := params.Get("checkout-stamp"); stamp != p.LocalIdentifier {
		return nil, h.invalidCallback(ctx, fmt.Sprintf("stamp %q does not match payment", stamp))
	}

	status := params.Get("checkout-status")
	switch status {
	case "ok":
		return &Response{Result: ResultSuccess, GatewayStatus: status}, nil
	case "fail":
		return &Response{Result: ResultCancel, GatewayStatus: status}, nil
	case "new", "pending", "delayed":
		return &Response{Result: ResultPending, GatewayStatus: status}, nil
	default:
		return h.unknownStatus(ctx, status), nil
	}
}

func (h *PaytrailHandler) validSignature(params url.Values) bool {
	fields := make(map[string]string, len(params))
	for k := range params {
		if strings.HasPrefix(k, paytrailHeaderPrefix) {
			fields[k] = params.Get(k)
		}
	}
	return signature.Equal(h.signHeaders(fields, ""), params.Get(paytrailSignatureParam))
}
