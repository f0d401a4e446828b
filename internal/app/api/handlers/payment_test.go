package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/finepay/internal/app/service/audit"
	"github.com/fatflowers/finepay/internal/app/service/gateway"
	"github.com/fatflowers/finepay/internal/app/service/payment"
	"github.com/fatflowers/finepay/internal/app/service/paymentstore"
	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/signature"
)

type stubManager struct {
	start    func(req *payment.StartRequest) (*payment.StartResult, error)
	callback func(kind payment.CallbackKind, localID string, cb *gateway.Callback) (*payment.CallbackResult, error)
	status   func(localID string) (*models.Payment, error)
	resolve  func(id, operator string) (*models.Payment, error)
	notifyID func(cb *gateway.Callback) (string, error)
}

func (s *stubManager) StartPayment(_ context.Context, _ *audit.Recorder, req *payment.StartRequest) (*payment.StartResult, error) {
	return s.start(req)
}

func (s *stubManager) HandleCallback(_ context.Context, _ *audit.Recorder, kind payment.CallbackKind, localID string, cb *gateway.Callback) (*payment.CallbackResult, error) {
	return s.callback(kind, localID, cb)
}

func (s *stubManager) RequestRegistration(_ context.Context, _ *audit.Recorder, _ string) (*models.Payment, error) {
	panic("not used")
}

func (s *stubManager) RegisterPayment(_ context.Context, _ *audit.Recorder, _ *models.Payment) (bool, error) {
	panic("not used")
}

func (s *stubManager) GetStatus(_ context.Context, localID string) (*models.Payment, error) {
	return s.status(localID)
}

func (s *stubManager) NotifyLocalIdentifier(_ context.Context, cb *gateway.Callback) (string, error) {
	if s.notifyID == nil {
		return "", nil
	}
	return s.notifyID(cb)
}

func (s *stubManager) ResolvePayment(_ context.Context, _ *audit.Recorder, id, operator string) (*models.Payment, error) {
	return s.resolve(id, operator)
}

func (s *stubManager) ExpirePayment(_ context.Context, _ *audit.Recorder, _ *models.Payment) (bool, error) {
	panic("not used")
}

func newPaymentEngine(mgr payment.Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterPaymentRoutes(r.Group(payment.RoutePrefix), mgr, zap.NewNop().Sugar())
	return r
}

func paidPayment(returnURL string) *models.Payment {
	return &models.Payment{
		ID:              "p1",
		LocalIdentifier: "L1",
		Status:          models.PaymentStatusPaid,
		Amount:          1500,
		Currency:        "EUR",
		Extra:           datatypes.NewJSONType(&models.PaymentExtra{ClientReturnURL: returnURL}),
	}
}

func TestApiPaymentNotify_StatusCodes(t *testing.T) {
	cases := []struct {
		name     string
		res      *payment.CallbackResult
		err      error
		wantCode int
		wantBody string
	}{
		{name: "ok", res: &payment.CallbackResult{}, wantCode: http.StatusOK, wantBody: "OK"},
		{name: "already registered", res: &payment.CallbackResult{AlreadyRegistered: true}, wantCode: http.StatusOK, wantBody: "Payment already registered"},
		{name: "unknown payment", err: paymentstore.ErrNotFound, wantCode: http.StatusBadRequest, wantBody: "Payment not found"},
		{name: "bad signature", err: &gateway.PaymentError{MessageKey: gateway.KeySignature, Err: gateway.ErrSignature}, wantCode: http.StatusBadRequest, wantBody: "Invalid signature"},
		{name: "invalid callback", err: &gateway.PaymentError{MessageKey: gateway.KeyInvalidCallback, Err: gateway.ErrInvalidCallback}, wantCode: http.StatusBadRequest, wantBody: "Invalid request"},
		{name: "processing error", err: errors.New("db down"), wantCode: http.StatusInternalServerError, wantBody: "Exception processing request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotKind payment.CallbackKind = -1
			r := newPaymentEngine(&stubManager{callback: func(kind payment.CallbackKind, localID string, _ *gateway.Callback) (*payment.CallbackResult, error) {
				gotKind = kind
				assert.Equal(t, "L1", localID)
				return tc.res, tc.err
			}})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, payment.NotifyPath+"?local_payment_id=L1", nil))
			assert.Equal(t, tc.wantCode, w.Code)
			assert.Equal(t, tc.wantBody, w.Body.String())
			assert.Equal(t, payment.CallbackNotify, gotKind)
		})
	}
}

func TestApiPaymentNotify_MissingID(t *testing.T) {
	r := newPaymentEngine(&stubManager{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, payment.NotifyPath, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func stripeWebhook(secret string, body []byte) *http.Request {
	ts := time.Now().Unix()
	req := httptest.NewRequest(http.MethodPost, payment.NotifyPath, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, signature.HMACSHA256Hex(secret, fmt.Sprintf("%d.%s", ts, body))))
	return req
}

func TestApiPaymentNotify_IdentifiesSignedStripeWebhook(t *testing.T) {
	registry := gateway.NewRegistry(&config.Config{OnlinePayment: map[string]*config.OnlinePaymentConfig{
		"default": {Enabled: true, Handler: gateway.HandlerStripe, APIKey: "sk_test", WebhookSecret: "whsec_test"},
	}}, gateway.Deps{})
	var gotID string
	var calls int
	r := newPaymentEngine(&stubManager{
		notifyID: func(cb *gateway.Callback) (string, error) {
			return registry.NotifyLocalIdentifier(context.Background(), cb)
		},
		callback: func(kind payment.CallbackKind, localID string, cb *gateway.Callback) (*payment.CallbackResult, error) {
			calls++
			gotID = localID
			assert.Equal(t, payment.CallbackNotify, kind)
			assert.NotEmpty(t, cb.Header.Get("Stripe-Signature"))
			return &payment.CallbackResult{}, nil
		},
	})
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","client_reference_id":"L5"}}}`)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, stripeWebhook("whsec_test", body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, "L5", gotID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, stripeWebhook("whsec_forged", body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid signature", w.Body.String())
	assert.Equal(t, 1, calls)
}

func TestApiPaymentNotify_KeepsRawBodyAndForm(t *testing.T) {
	var got *gateway.Callback
	r := newPaymentEngine(&stubManager{callback: func(_ payment.CallbackKind, localID string, cb *gateway.Callback) (*payment.CallbackResult, error) {
		got = cb
		assert.Equal(t, "L9", localID)
		return &payment.CallbackResult{}, nil
	}})

	body := url.Values{"local_payment_id": {"L9"}, "status": {"ok"}}.Encode()
	req := httptest.NewRequest(http.MethodPost, payment.NotifyPath+"?sig=abc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, body, string(got.Body))
	assert.Equal(t, "ok", got.Form.Get("status"))
	assert.Equal(t, "abc", got.Params().Get("sig"))
}

func TestApiStartPayment(t *testing.T) {
	t.Run("redirects to the gateway", func(t *testing.T) {
		r := newPaymentEngine(&stubManager{start: func(req *payment.StartRequest) (*payment.StartResult, error) {
			assert.Equal(t, "lib.1", req.Patron.CatUsername)
			return &payment.StartResult{RedirectURL: "https://pay.test/L1"}, nil
		}})
		body := `{"user":{"id":"u1"},"patron":{"cat_username":"lib.1","source_ils":"helmet"},"fines":[]}`
		req := httptest.NewRequest(http.MethodPost, payment.RoutePrefix+"/start", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://pay.test/L1", w.Header().Get("Location"))
	})

	t.Run("maps rejections to envelope codes", func(t *testing.T) {
		cases := map[error]string{
			payment.ErrNothingToPay:      `"code":40000`,
			payment.ErrPaymentInProgress: `"code":40900`,
			&gateway.PaymentError{MessageKey: gateway.KeyRequestFailed, Err: gateway.ErrRequestFailed}: `"data":"payment_error_request_failed"`,
		}
		for err, want := range cases {
			r := newPaymentEngine(&stubManager{start: func(*payment.StartRequest) (*payment.StartResult, error) { return nil, err }})
			body := `{"user":{"id":"u1"},"patron":{"cat_username":"lib.1","source_ils":"helmet"}}`
			req := httptest.NewRequest(http.MethodPost, payment.RoutePrefix+"/start", bytes.NewBufferString(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), want, fmt.Sprint(err))
		}
	})
}

func TestApiPaymentReturn(t *testing.T) {
	t.Run("redirects to the catalog with the status", func(t *testing.T) {
		r := newPaymentEngine(&stubManager{callback: func(kind payment.CallbackKind, _ string, _ *gateway.Callback) (*payment.CallbackResult, error) {
			assert.Equal(t, payment.CallbackReturn, kind)
			return &payment.CallbackResult{Payment: paidPayment("https://catalog.test/fines?tab=1")}, nil
		}})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, payment.ReturnPath+"?local_payment_id=L1", nil))

		require.Equal(t, http.StatusFound, w.Code)
		loc, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "catalog.test", loc.Host)
		assert.Equal(t, "1", loc.Query().Get("tab"))
		assert.Equal(t, "paid", loc.Query().Get("payment"))
		assert.Empty(t, loc.Query().Get("error"))
	})

	t.Run("reports the error key with the stored status", func(t *testing.T) {
		r := newPaymentEngine(&stubManager{
			callback: func(payment.CallbackKind, string, *gateway.Callback) (*payment.CallbackResult, error) {
				return nil, &gateway.PaymentError{MessageKey: gateway.KeySignature, Err: gateway.ErrSignature}
			},
			status: func(localID string) (*models.Payment, error) {
				p := paidPayment("https://catalog.test/fines")
				p.Status = models.PaymentStatusInProgress
				return p, nil
			},
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, payment.ReturnPath+"?local_payment_id=L1", nil))

		require.Equal(t, http.StatusFound, w.Code)
		loc, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "in_progress", loc.Query().Get("payment"))
		assert.Equal(t, gateway.KeySignature, loc.Query().Get("error"))
	})

	t.Run("answers json without a client return url", func(t *testing.T) {
		r := newPaymentEngine(&stubManager{callback: func(payment.CallbackKind, string, *gateway.Callback) (*payment.CallbackResult, error) {
			return &payment.CallbackResult{Payment: paidPayment("")}, nil
		}})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, payment.ReturnPath+"?local_payment_id=L1", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"local_identifier":"L1"`)
		assert.Contains(t, w.Body.String(), `"status":"paid"`)
	})

	t.Run("unknown payment", func(t *testing.T) {
		r := newPaymentEngine(&stubManager{
			callback: func(payment.CallbackKind, string, *gateway.Callback) (*payment.CallbackResult, error) {
				return nil, paymentstore.ErrNotFound
			},
			status: func(string) (*models.Payment, error) { return nil, paymentstore.ErrNotFound },
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, payment.ReturnPath+"?local_payment_id=nope", nil))
		assert.Contains(t, w.Body.String(), `"code":40400`)
	})
}
