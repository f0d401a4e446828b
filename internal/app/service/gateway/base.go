package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fatflowers/finepay/internal/app/service/audit"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/logctx"
	"github.com/fatflowers/finepay/pkg/metrics"
	"github.com/fatflowers/finepay/pkg/tool"
	"github.com/fatflowers/finepay/pkg/types"
)

const (
	defaultCurrency = "USD"
	defaultTimeout  = 15 * time.Second
)

// Translator supplies fine type names and locale codes.
type Translator interface {
	Translate(locale, key string) string
	Language(locale string) string
}

// Deps are the collaborators shared by every handler.
type Deps struct {
	Log        *zap.SugaredLogger
	Translator Translator
	Metrics    *metrics.Business
	HTTPClient *http.Client
}

// base holds the logic every handler shares. Handlers embed it by value so no state is
// shared between gateways.
type base struct {
	name       string
	cfg        config.OnlinePaymentConfig
	log        *zap.SugaredLogger
	translator Translator
	metrics    *metrics.Business
	httpClient *http.Client

	productCodeMappings    map[string]string
	organizationPrefixes   map[string]string
	organizationMerchantID map[string]string
}

func newBase(name string, cfg *config.OnlinePaymentConfig, deps Deps) base {
	b := base{
		name:                   name,
		cfg:                    *cfg,
		log:                    deps.Log,
		translator:             deps.Translator,
		metrics:                deps.Metrics,
		httpClient:             deps.HTTPClient,
		productCodeMappings:    ParseMappings(cfg.ProductCodeMappings),
		organizationPrefixes:   ParseMappings(cfg.OrganizationProductCodePrefixMappings),
		organizationMerchantID: ParseMappings(cfg.OrganizationMerchantIDMappings),
	}
	if b.log == nil {
		b.log = zap.NewNop().Sugar()
	}
	b.log = b.log.With("handler", name)
	if b.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		b.httpClient = &http.Client{Timeout: timeout}
	}
	return b
}

func (b *base) Name() string { return b.name }

// ParseMappings reads "key=value:key2=value2". Entries missing a key or value are skipped.
func ParseMappings(s string) map[string]string {
	out := map[string]string{}
	for _, item := range strings.Split(s, ":") {
		k, v, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func (b *base) currency() string {
	if b.cfg.Currency != "" {
		return strings.ToUpper(b.cfg.Currency)
	}
	return defaultCurrency
}

func (b *base) serviceFee() int64 {
	if b.cfg.ServiceFee < 0 {
		return 0
	}
	return b.cfg.ServiceFee
}

// serviceFeeProductCode falls back to the default product code.
func (b *base) serviceFeeProductCode() string {
	if b.cfg.ServiceFeeProductCode != "" {
		return b.cfg.ServiceFeeProductCode
	}
	return b.cfg.ProductCode
}

// FineProductCode resolves the product code of a fine. The fine's own code wins, then the
// fine type mapping, then the handler default, then the raw fine type. An organization prefix
// is applied last. ok is false when nothing is configured and the fine has no code.
func (b *base) FineProductCode(f *types.Fine) (code string, ok bool) {
	if f == nil {
		return "", false
	}
	if len(b.productCodeMappings) == 0 && len(b.organizationPrefixes) == 0 && b.cfg.ProductCode == "" && f.ProductCode == "" {
		return "", false
	}
	switch {
	case f.ProductCode != "":
		code = f.ProductCode
	case b.productCodeMappings[f.Type] != "":
		code = b.productCodeMappings[f.Type]
	case b.cfg.ProductCode != "":
		code = b.cfg.ProductCode
	default:
		code = f.Type
	}
	if prefix, found := b.organizationPrefixes[f.Organization]; found && f.Organization != "" {
		code = prefix + code
	}
	return code, code != ""
}

// FineDescription is the fine's own description, or its translated type followed by the item
// title in parentheses, bounded to maxLen runes.
func (b *base) FineDescription(f *types.Fine, maxLen int, locale string) string {
	if f == nil || maxLen <= 0 {
		return ""
	}
	if f.Description != "" {
		return truncate(f.Description, maxLen)
	}
	typeName := f.Type
	if b.translator != nil && f.Type != "" {
		typeName = b.translator.Translate(locale, "fine_type."+f.Type)
		if typeName == "fine_type."+f.Type {
			typeName = f.Type
		}
	}
	desc := truncate(typeName, maxLen)
	if f.Title == "" {
		return desc
	}
	room := maxLen - 4 - utf8.RuneCountInString(desc)
	if room <= 0 {
		return desc
	}
	return desc + " (" + truncate(f.Title, room) + ")"
}

func (b *base) language(locale string) string {
	if b.translator == nil {
		return strings.ToLower(strings.SplitN(locale, "-", 2)[0])
	}
	return b.translator.Language(locale)
}

// truncate cuts s to at most n runes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// AddQueryParams appends params to u, respecting an existing query string.
func AddQueryParams(u string, params url.Values) string {
	if len(params) == 0 {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + params.Encode()
}

// GenerateLocalIdentifier hashes the account with the current time and random salt.
func GenerateLocalIdentifier(account string, now time.Time) (string, error) {
	salt, err := tool.RandomHex(8)
	if err != nil {
		return "", fmt.Errorf("failed to read random salt: %w", err)
	}
	sum := sha256.Sum256([]byte(account + "_" + strconv.FormatInt(now.UnixNano(), 10) + "_" + salt))
	return hex.EncodeToString(sum[:16]), nil
}

// requestFailed logs a failed gateway call with a scrubbed data dump and wraps it for the user.
func (b *base) requestFailed(ctx context.Context, op string, err error, data map[string]any) error {
	logctx.FromCtx(ctx, b.log).Errorw("gateway_request_failed",
		"op", op,
		"err", err,
		"data", audit.ScrubSecrets(data),
	)
	return newPaymentError(KeyRequestFailed, fmt.Errorf("%s %s: %w: %v", b.name, op, ErrRequestFailed, err))
}

// signatureFailed logs the rejected parameters and returns the error that stops processing.
func (b *base) signatureFailed(ctx context.Context, params url.Values, detail string) error {
	dump := make(map[string]any, len(params))
	for k := range params {
		dump[k] = params.Get(k)
	}
	logctx.FromCtx(ctx, b.log).Errorw("gateway_signature_invalid",
		"detail", detail,
		"params", audit.ScrubSecrets(dump),
	)
	return newPaymentError(KeySignature, fmt.Errorf("%s: %w: %s", b.name, ErrSignature, detail))
}

func (b *base) invalidCallback(ctx context.Context, detail string) error {
	logctx.FromCtx(ctx, b.log).Warnw("gateway_callback_invalid", "detail", detail)
	return newPaymentError(KeyInvalidCallback, fmt.Errorf("%s: %w: %s", b.name, ErrInvalidCallback, detail))
}

// unknownStatus fails closed.
func (b *base) unknownStatus(ctx context.Context, status string) *Response {
	logctx.FromCtx(ctx, b.log).Warnw("gateway_unknown_status", "status", status)
	return &Response{Result: ResultFailure, GatewayStatus: status, Anomaly: "Received unknown status"}
}

func (b *base) observe(op string, start time.Time, err error) {
	b.metrics.ObserveProcess(b.name, op, start, err)
}

// patronEmail prefers the ILS patron address over the catalog account one.
func patronEmail(req *StartRequest) string {
	if req.Patron.Email != "" {
		return req.Patron.Email
	}
	return req.User.Email
}
