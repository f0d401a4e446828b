package ils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/logctx"
)

// HTTPClient calls an ILS payment API over JSON.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zap.SugaredLogger
}

func NewHTTPClient(cfg config.ILSConfig, log *zap.SugaredLogger) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ils.url is required for the http driver")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		log:     log.Named("ils"),
	}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		logctx.FromCtx(ctx, c.log).Errorw("ils_request_failed", "path", path, "err", err)
		return fmt.Errorf("ils %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	logctx.FromCtx(ctx, c.log).Debugw("ils_request", "path", path, "status", resp.StatusCode, "dur_ms", time.Since(start).Milliseconds())
	if resp.StatusCode == http.StatusNotFound {
		return ErrPatronNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ils %s %s: unexpected status %d: %s", method, path, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("ils %s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *HTTPClient) RegisterPayment(ctx context.Context, req *RegistrationRequest) (*RegistrationResult, error) {
	var out RegistrationResult
	if err := c.do(ctx, http.MethodPost, "/payments/register", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) PayableAmount(ctx context.Context, sourceILS, catUsername string, fineIDs []string) (int64, error) {
	q := url.Values{"source_ils": {sourceILS}}
	for _, id := range fineIDs {
		q.Add("fine_id", id)
	}
	var out struct {
		Amount int64 `json:"amount"`
	}
	path := "/patrons/" + url.PathEscape(catUsername) + "/payable?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Amount, nil
}
