package gateway

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/finepay/internal/platform/i18n"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/metrics"
)

// Constructor builds a handler from one online payment section.
type Constructor func(cfg *config.OnlinePaymentConfig, deps Deps) (Handler, error)

// Registry builds handlers lazily per source ILS and caches them.
type Registry struct {
	cfg          *config.Config
	deps         Deps
	validate     *validator.Validate
	constructors map[string]Constructor

	mu       sync.Mutex
	handlers map[string]Handler
}

func NewRegistry(cfg *config.Config, deps Deps) *Registry {
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		validate: validator.New(),
		constructors: map[string]Constructor{
			HandlerPaytrail: func(c *config.OnlinePaymentConfig, d Deps) (Handler, error) { return NewPaytrailHandler(c, d) },
			HandlerStripe:   func(c *config.OnlinePaymentConfig, d Deps) (Handler, error) { return NewStripeHandler(c, d) },
			HandlerRazorpay: func(c *config.OnlinePaymentConfig, d Deps) (Handler, error) { return NewRazorpayHandler(c, d) },
			HandlerTest:     func(c *config.OnlinePaymentConfig, d Deps) (Handler, error) { return NewTestHandler(c, d) },
		},
		handlers: map[string]Handler{},
	}
}

// Register overrides the constructor used for a handler name.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = c
	r.handlers = map[string]Handler{}
}

// Config returns the online payment section for sourceILS, or nil when payment is disabled.
func (r *Registry) Config(sourceILS string) *config.OnlinePaymentConfig {
	return r.cfg.GetOnlinePayment(sourceILS)
}

// ForSource returns the handler configured for sourceILS.
func (r *Registry) ForSource(sourceILS string) (Handler, *config.OnlinePaymentConfig, error) {
	opCfg := r.cfg.GetOnlinePayment(sourceILS)
	if opCfg == nil {
		return nil, nil, newPaymentError(KeyConfiguration, fmt.Errorf("%w: online payment not enabled for %q", ErrConfiguration, sourceILS))
	}
	key := strings.ToLower(sourceILS)

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handlers[key]; ok {
		return h, opCfg, nil
	}
	if err := r.validate.Struct(opCfg); err != nil {
		return nil, nil, newPaymentError(KeyConfiguration, fmt.Errorf("%w: %s: %v", ErrConfiguration, sourceILS, err))
	}
	ctor, ok := r.constructors[opCfg.Handler]
	if !ok {
		return nil, nil, newPaymentError(KeyConfiguration, fmt.Errorf("%w: %q", ErrUnknownHandler, opCfg.Handler))
	}
	h, err := ctor(opCfg, r.deps)
	if err != nil {
		r.deps.Log.Errorw("payment_handler_init_failed", "source_ils", sourceILS, "handler", opCfg.Handler, "err", err)
		return nil, nil, err
	}
	r.handlers[key] = h
	return h, opCfg, nil
}

// NotifyLocalIdentifier asks each configured gateway that reads webhook bodies which payment cb
// belongs to. A gateway error is returned only when no gateway claims cb.
func (r *Registry) NotifyLocalIdentifier(ctx context.Context, cb *Callback) (string, error) {
	sources := lo.Keys(r.cfg.OnlinePayment)
	slices.Sort(sources)
	var firstErr error
	for _, source := range sources {
		h, _, err := r.ForSource(source)
		if err != nil {
			continue
		}
		ni, ok := h.(NotifyIdentifier)
		if !ok {
			continue
		}
		id, err := ni.NotifyLocalIdentifier(ctx, cb)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if id != "" {
			return id, nil
		}
	}
	return "", firstErr
}

func newDeps(log *zap.SugaredLogger, tr *i18n.Translator, m *metrics.Business) Deps {
	return Deps{Log: log, Translator: tr, Metrics: m}
}

var Module = fx.Options(
	fx.Provide(newDeps),
	fx.Provide(NewRegistry),
)
