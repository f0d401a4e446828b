package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/logctx"
	"github.com/fatflowers/finepay/pkg/signature"
)

const HandlerTest = "test"

type testCredentials struct {
	URL    string `validate:"required,url"`
	Secret string `validate:"required"`
}

// TestHandler drives the development echo service. It signs every request with the shared
// secret and reads the final status back from the service.
type TestHandler struct {
	base
	endpoint string
}

func NewTestHandler(cfg *config.OnlinePaymentConfig, deps Deps) (*TestHandler, error) {
	if err := validator.New().Struct(testCredentials{URL: cfg.URL, Secret: cfg.Secret}); err != nil {
		return nil, newPaymentError(KeyConfiguration, fmt.Errorf("%s: %w: %v", HandlerTest, ErrConfiguration, err))
	}
	return &TestHandler{
		base:     newBase(HandlerTest, cfg, deps),
		endpoint: strings.TrimRight(cfg.URL, "/"),
	}, nil
}

// echoEnvelope is the echo service response body.
type echoEnvelope struct {
	Data struct {
		RequestID  string `json:"requestId"`
		PaymentURL string `json:"paymentUrl"`
		Status     string `json:"status"`
		Error      string `json:"error"`
	} `json:"data"`
}

func (h *TestHandler) call(ctx context.Context, function string, params url.Values) (*echoEnvelope, error) {
	form := signature.WithSignature(h.cfg.Secret, params)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/"+function, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out echoEnvelope
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("payment service response invalid: %s", body)
	}
	if out.Data.Error != "" {
		return nil, fmt.Errorf("payment service error: %s", out.Data.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment service status %d", resp.StatusCode)
	}
	return &out, nil
}

func (h *TestHandler) StartPayment(ctx context.Context, req *StartRequest) (res *StartResult, err error) {
	params := url.Values{
		"returnUrl":         {req.ReturnURL},
		"notifyUrl":         {req.NotifyURL},
		"amount":            {strconv.FormatInt(req.Amount+h.serviceFee(), 10)},
		LocalPaymentIDParam: {req.LocalIdentifier},
	}

	start := time.Now()
	defer func() { h.observe("init", start, err) }()

	out, err := h.call(ctx, "init", params)
	if err != nil {
		return nil, h.requestFailed(ctx, "init", err, map[string]any{"request": params})
	}
	if out.Data.RequestID == "" || out.Data.PaymentURL == "" {
		return nil, h.requestFailed(ctx, "init", fmt.Errorf("incomplete response"), map[string]any{"request": params})
	}
	logctx.FromCtx(ctx, h.log).Infow("test_payment_created", "local_payment_id", req.LocalIdentifier, "request_id", out.Data.RequestID)
	return &StartResult{
		RemoteIdentifier: out.Data.RequestID,
		RedirectURL:      out.Data.PaymentURL,
		ServiceFee:       h.serviceFee(),
		Currency:         h.currency(),
	}, nil
}

func (h *TestHandler) ProcessPaymentResponse(ctx context.Context, p *models.Payment, cb *Callback) (res *Response, err error) {
	params := cb.Params()
	if !signature.VerifyParams(h.cfg.Secret, params) {
		return nil, h.signatureFailed(ctx, params, "echo service signature")
	}
	if id := params.Get(LocalPaymentIDParam); id != p.LocalIdentifier {
		return nil, h.invalidCallback(ctx, fmt.Sprintf("local payment id %q does not match payment", id))
	}

	start := time.Now()
	defer func() { h.observe("status", start, err) }()

	out, callErr := h.call(ctx, "status", url.Values{"requestId": {p.GetRemoteIdentifier()}})
	if callErr != nil {
		logctx.FromCtx(ctx, h.log).Errorw("test_status_failed", "request_id", p.GetRemoteIdentifier(), "err", callErr)
		return &Response{Result: ResultFailure, GatewayStatus: "error"}, nil
	}
	status := out.Data.Status
	switch status {
	case "success":
		return &Response{Result: ResultSuccess, GatewayStatus: status}, nil
	case "failure":
		return &Response{Result: ResultFailure, GatewayStatus: status}, nil
	case "cancel":
		return &Response{Result: ResultCancel, GatewayStatus: status}, nil
	case "pending":
		return &Response{Result: ResultPending, GatewayStatus: status}, nil
	default:
		return h.unknownStatus(ctx, status), nil
	}
}
