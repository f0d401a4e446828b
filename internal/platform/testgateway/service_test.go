package testgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/signature"
)

const testSecret = "echo-secret"

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(&config.Config{
		Server:      config.ServerConfig{BaseURL: "http://finepay.test"},
		TestGateway: config.TestGatewayConfig{Enabled: true, Secret: testSecret},
	}, nil)
}

func initParams() url.Values {
	return signature.WithSignature(testSecret, url.Values{
		"returnUrl":        {"http://finepay.test/return?local_payment_id=L1"},
		"notifyUrl":        {"http://finepay.test/notify?local_payment_id=L1"},
		"amount":           {"500"},
		"local_payment_id": {"L1"},
	})
}

func TestInit_RejectsBadSignature(t *testing.T) {
	s := newTestService(t)
	p := initParams()
	p.Set("amount", "1")
	_, _, err := s.Init(p)
	assert.Error(t, err)
}

func TestHandle_SignsReturnURL(t *testing.T) {
	s := newTestService(t)
	id, paymentURL, err := s.Init(initParams())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(paymentURL, "http://finepay.test/devtools/payment/handle?requestId="))

	target, err := s.Handle(context.Background(), id, StatusCancel)
	require.NoError(t, err)
	u, err := url.Parse(target)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "/return", u.Path)
	assert.Equal(t, "L1", q.Get("local_payment_id"))
	assert.Equal(t, StatusCancel, q.Get("status"))
	assert.True(t, signature.VerifyParams(testSecret, q))

	status, err := s.Status(signature.WithSignature(testSecret, url.Values{"requestId": {id}}))
	require.NoError(t, err)
	assert.Equal(t, StatusCancel, status)

	_, err = s.Handle(context.Background(), id, "explode")
	assert.Error(t, err)
}

func TestHandle_NotifyButtonCallsNotifyURL(t *testing.T) {
	var notified url.Values
	notifySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notified = r.URL.Query()
		w.WriteHeader(http.StatusOK)
	}))
	defer notifySrv.Close()

	s := newTestService(t)
	p := initParams()
	p.Set("notifyUrl", notifySrv.URL+"/notify?local_payment_id=L1")
	p = signature.WithSignature(testSecret, p)
	id, _, err := s.Init(p)
	require.NoError(t, err)

	_, err = s.Handle(context.Background(), id, "notify")
	require.NoError(t, err)
	require.NotNil(t, notified)
	assert.Equal(t, StatusSuccess, notified.Get("status"))
	assert.True(t, signature.VerifyParams(testSecret, notified))
}

func TestSessionsExpire(t *testing.T) {
	s := newTestService(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	id, _, err := s.Init(initParams())
	require.NoError(t, err)

	now = now.Add(DefaultTTL + time.Second)
	_, err = s.Status(signature.WithSignature(testSecret, url.Values{"requestId": {id}}))
	assert.EqualError(t, err, "unknown request")
}

func TestRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestService(t)
	r := gin.New()
	RegisterRoutes(r, s)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, BasePath+"/init", strings.NewReader(initParams().Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	id := out.Data["requestId"]
	require.NotEmpty(t, id)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, BasePath+"/handle?requestId="+id, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "button=success")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, BasePath+"/handle?requestId="+id+"&button=success", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "status=success")
}

func TestRoutes_DisabledNotMounted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewService(&config.Config{TestGateway: config.TestGatewayConfig{Secret: testSecret}}, nil)
	r := gin.New()
	RegisterRoutes(r, s)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, BasePath+"/init", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
