// Package testgateway is an in-process payment service used in development. It mirrors the
// shape of a hosted checkout: init returns a payment page, the page posts back through signed
// return and notify URLs, and status answers what the page chose.
package testgateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/signature"
	"github.com/fatflowers/finepay/pkg/tool"
)

const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusCancel  = "cancel"

	DefaultTTL = 5 * time.Minute
	BasePath   = "/devtools/payment"
)

type session struct {
	RequestID      string
	LocalPaymentID string
	ReturnURL      string
	NotifyURL      string
	Amount         int64
	Status         string
	Created        time.Time
}

// Service keeps sessions in memory; they are lost on restart and expire after ttl.
type Service struct {
	enabled bool
	secret  string
	baseURL string
	ttl     time.Duration
	now     func() time.Time
	client  *http.Client
	log     *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[string]*session
}

func NewService(cfg *config.Config, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		enabled:  cfg.TestGateway.Enabled,
		secret:   cfg.TestGateway.Secret,
		baseURL:  strings.TrimRight(cfg.Server.BaseURL, "/"),
		ttl:      DefaultTTL,
		now:      time.Now,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log.Named("testgateway"),
		sessions: map[string]*session{},
	}
}

func (s *Service) Enabled() bool { return s.enabled && s.secret != "" }

func (s *Service) pruneLocked() {
	cutoff := s.now().Add(-s.ttl)
	for id, sess := range s.sessions {
		if sess.Created.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

func (s *Service) get(requestID string) (session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	sess, ok := s.sessions[requestID]
	if !ok {
		return session{}, false
	}
	return *sess, true
}

// Init validates a signed init request and opens a pending session.
func (s *Service) Init(params url.Values) (requestID, paymentURL string, err error) {
	if !signature.VerifyParams(s.secret, params) {
		return "", "", fmt.Errorf("bad signature")
	}
	returnURL, notifyURL := params.Get("returnUrl"), params.Get("notifyUrl")
	if returnURL == "" || notifyURL == "" {
		return "", "", fmt.Errorf("returnUrl and notifyUrl are required")
	}
	amount, _ := strconv.ParseInt(params.Get("amount"), 10, 64)
	requestID = tool.GenerateUUIDV7()

	s.mu.Lock()
	s.pruneLocked()
	s.sessions[requestID] = &session{
		RequestID:      requestID,
		LocalPaymentID: params.Get("local_payment_id"),
		ReturnURL:      returnURL,
		NotifyURL:      notifyURL,
		Amount:         amount,
		Status:         StatusPending,
		Created:        s.now(),
	}
	s.mu.Unlock()

	paymentURL = s.baseURL + BasePath + "/handle?" + url.Values{"requestId": {requestID}}.Encode()
	return requestID, paymentURL, nil
}

// Status answers a signed status query.
func (s *Service) Status(params url.Values) (string, error) {
	if !signature.VerifyParams(s.secret, params) {
		return "", fmt.Errorf("bad signature")
	}
	sess, ok := s.get(params.Get("requestId"))
	if !ok {
		return "", fmt.Errorf("unknown request")
	}
	return sess.Status, nil
}

func (s *Service) setStatus(requestID, status string) (session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	sess, ok := s.sessions[requestID]
	if !ok {
		return session{}, false
	}
	sess.Status = status
	return *sess, true
}

// signedURL appends requestId and status to target and signs the full query.
func (s *Service) signedURL(target string, sess session) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Del(signature.ParamName)
	q.Set("requestId", sess.RequestID)
	q.Set("status", sess.Status)
	u.RawQuery = signature.WithSignature(s.secret, q).Encode()
	return u.String(), nil
}

// Handle applies a button press. It returns the signed return URL the browser is sent to.
// The notify button also calls the notify URL before returning, like a gateway webhook would.
func (s *Service) Handle(ctx context.Context, requestID, button string) (string, error) {
	status := button
	if button == "notify" {
		status = StatusSuccess
	}
	switch status {
	case StatusSuccess, StatusFailure, StatusCancel:
	default:
		return "", fmt.Errorf("unknown button %q", button)
	}
	sess, ok := s.setStatus(requestID, status)
	if !ok {
		return "", fmt.Errorf("unknown request")
	}
	if button == "notify" {
		if err := s.notify(ctx, sess); err != nil {
			s.log.Warnw("testgateway_notify_failed", "request_id", requestID, "err", err)
		}
	}
	return s.signedURL(sess.ReturnURL, sess)
}

func (s *Service) notify(ctx context.Context, sess session) error {
	target, err := s.signedURL(sess.NotifyURL, sess)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify answered %d", resp.StatusCode)
	}
	return nil
}
