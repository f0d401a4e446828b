package payment

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/finepay/internal/app/service/audit"
	"github.com/fatflowers/finepay/internal/app/service/gateway"
	"github.com/fatflowers/finepay/internal/app/service/paymentstore"
	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/internal/platform/ils"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/logctx"
	"github.com/fatflowers/finepay/pkg/metrics"
	"github.com/fatflowers/finepay/pkg/tool"
	"github.com/fatflowers/finepay/pkg/types"
)

const (
	// RoutePrefix is where the HTTP layer mounts the payment routes.
	RoutePrefix = "/api/v1/payment"
	ReturnPath  = RoutePrefix + "/return"
	NotifyPath  = RoutePrefix + "/notify"

	defaultCurrency            = "EUR"
	defaultRegistrationTimeout = 120 * time.Second
)

type Service struct {
	cfg       *config.Config
	log       *zap.SugaredLogger
	store     *paymentstore.Store
	handlers  HandlerProvider
	registrar ils.Registrar
	receipts  ReceiptSender
	metrics   *metrics.Business

	newLocalID func(account string, now time.Time) (string, error)
}

func NewService(cfg *config.Config, log *zap.SugaredLogger, store *paymentstore.Store, handlers HandlerProvider, registrar ils.Registrar, receipts ReceiptSender, m *metrics.Business) Manager {
	return newService(cfg, log, store, handlers, registrar, receipts, m)
}

func newService(cfg *config.Config, log *zap.SugaredLogger, store *paymentstore.Store, handlers HandlerProvider, registrar ils.Registrar, receipts ReceiptSender, m *metrics.Business) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Service{
		cfg:        cfg,
		log:        log.Named("payment"),
		store:      store,
		handlers:   handlers,
		registrar:  registrar,
		receipts:   receipts,
		metrics:    m,
		newLocalID: gateway.GenerateLocalIdentifier,
	}
}

func (s *Service) registrationTimeout() time.Duration {
	if s.cfg.ILS.RegistrationTimeout > 0 {
		return s.cfg.ILS.RegistrationTimeout
	}
	return defaultRegistrationTimeout
}

// event writes a payment audit event after the status change it describes. It is not part of
// the status write and its failure is only logged: keep it that way, an audit outage must never
// block taking payments.
func (s *Service) event(ctx context.Context, rec *audit.Recorder, p *models.Payment, subtype audit.Subtype, msg string, data map[string]any) {
	if rec == nil {
		return
	}
	if err := rec.AddPaymentEvent(ctx, p, subtype, msg, data); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("audit_event_failed", "payment_id", p.ID, "message", msg, "err", err)
	}
}

func (s *Service) StartPayment(ctx context.Context, rec *audit.Recorder, req *StartRequest) (*StartResult, error) {
	if req == nil {
		return nil, fmt.Errorf("nil start request")
	}
	log := logctx.FromCtx(ctx, s.log)
	handler, opCfg, err := s.handlers.ForSource(req.Patron.SourceILS)
	if err != nil {
		return nil, err
	}

	fines := types.PayableFines(req.Fines)
	if len(fines) == 0 {
		return nil, ErrNothingToPay
	}
	amount := types.SumBalance(fines)
	if amount+opCfg.ServiceFee < opCfg.MinimumFee {
		return nil, fmt.Errorf("%w: %d < %d", ErrBelowMinimumFee, amount+opCfg.ServiceFee, opCfg.MinimumFee)
	}

	pending, err := s.store.GetPaidPaymentInProgressForPatron(ctx, req.Patron.CatUsername)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		log.Warnw("payment_start_blocked", "cat_username", req.Patron.CatUsername, "pending_payment_id", pending.ID, "status", pending.Status)
		return nil, ErrPaymentInProgress
	}
	if opCfg.PaymentMaxDuration > 0 {
		s.reportAbandoned(ctx, rec, req.Patron.CatUsername, time.Duration(opCfg.PaymentMaxDuration)*time.Minute)
	}

	localID, err := s.reserveLocalIdentifier(ctx, req.Patron.SourceILS+"."+req.Patron.CatUsername)
	if err != nil {
		return nil, err
	}

	params := url.Values{gateway.LocalPaymentIDParam: {localID}}
	baseURL := strings.TrimRight(s.cfg.Server.BaseURL, "/")
	start := time.Now()
	res, err := handler.StartPayment(ctx, &gateway.StartRequest{
		LocalIdentifier: localID,
		ReturnURL:       gateway.AddQueryParams(baseURL+ReturnPath, params),
		NotifyURL:       gateway.AddQueryParams(baseURL+NotifyPath, params),
		User:            req.User,
		Patron:          req.Patron,
		Amount:          amount,
		Fines:           fines,
		Locale:          req.Locale,
	})
	s.metrics.ObserveProcess(handler.Name(), "start_payment", start, err)
	if err != nil {
		log.Errorw("payment_start_failed", "local_identifier", localID, "handler", handler.Name(), "err", err)
		return nil, err
	}

	p := &models.Payment{
		ID:              tool.GenerateUUIDV7(),
		LocalIdentifier: localID,
		UserID:          req.User.ID,
		SourceILS:       req.Patron.SourceILS,
		CatUsername:     req.Patron.CatUsername,
		Handler:         handler.Name(),
		Amount:          amount,
		ServiceFee:      res.ServiceFee,
		Currency:        lo.CoalesceOrEmpty(res.Currency, opCfg.Currency, defaultCurrency),
		Status:          models.PaymentStatusInProgress,
		Extra: datatypes.NewJSONType(&models.PaymentExtra{
			Email:           lo.CoalesceOrEmpty(req.Patron.Email, req.User.Email),
			FirstName:       req.Patron.FirstName,
			LastName:        req.Patron.LastName,
			Locale:          req.Locale,
			StatusParam:     req.StatusParam,
			ClientReturnURL: req.ClientReturnURL,
		}),
	}
	if res.RemoteIdentifier != "" {
		p.RemoteIdentifier = lo.ToPtr(res.RemoteIdentifier)
	}
	p.Fees = lo.Map(fines, func(f *types.Fine, _ int) *models.PaymentFee {
		return &models.PaymentFee{
			FineID:       f.FineID,
			Type:         f.Type,
			Description:  f.Description,
			Organization: f.Organization,
			Title:        f.Title,
			Amount:       f.Balance,
			TaxPercent:   f.TaxPercent,
			Currency:     p.Currency,
		}
	})
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	s.event(ctx, rec, p, audit.SubtypePayment, "Payment created", map[string]any{
		"amount":      p.Amount,
		"service_fee": p.ServiceFee,
		"currency":    p.Currency,
		"handler":     p.Handler,
		"fines":       len(p.Fees),
	})
	s.event(ctx, rec, p, audit.SubtypePayment, "Redirected to payment gateway", map[string]any{
		"remote_identifier": p.GetRemoteIdentifier(),
	})
	log.Infow("payment_started", "payment_id", p.ID, "local_identifier", localID, "handler", p.Handler, "amount", amount)
	return &StartResult{Payment: p, RedirectURL: res.RedirectURL}, nil
}

// reportAbandoned records a payment left InProgress past maxDuration. It is not canceled: the
// gateway session may still complete and its callback is applied as usual.
func (s *Service) reportAbandoned(ctx context.Context, rec *audit.Recorder, catUsername string, maxDuration time.Duration) {
	old, err := s.store.GetStartedPaymentForPatron(ctx, catUsername, maxDuration)
	if err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("abandoned_payment_lookup_failed", "cat_username", catUsername, "err", err)
		return
	}
	if old == nil {
		return
	}
	logctx.FromCtx(ctx, s.log).Infow("payment_abandoned", "payment_id", old.ID, "local_identifier", old.LocalIdentifier, "created", old.Created)
	s.event(ctx, rec, old, audit.SubtypePayment, "Payment abandoned, new payment started", map[string]any{"max_duration_minutes": int(maxDuration / time.Minute)})
}

// reserveLocalIdentifier mints an identifier not yet used by any payment. A collision is
// retried a bounded number of times and the last error is returned to the caller.
func (s *Service) reserveLocalIdentifier(ctx context.Context, account string) (string, error) {
	var localID string
	err := tool.Retry(tool.DefaultRetryAttempts, func(attempt int) error {
		id, err := s.newLocalID(account, time.Now())
		if err != nil {
			return err
		}
		exists, err := s.store.LocalIdentifierExists(ctx, id)
		if err != nil {
			return err
		}
		if exists {
			logctx.FromCtx(ctx, s.log).Warnw("local_identifier_collision", "attempt", attempt)
			return fmt.Errorf("%w: %w", tool.ErrRetry, paymentstore.ErrDuplicateLocalIdentifier)
		}
		localID = id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate local identifier: %w", err)
	}
	return localID, nil
}

func (s *Service) GetStatus(ctx context.Context, localID string) (*models.Payment, error) {
	return s.store.GetPaymentByLocalIdentifier(ctx, localID)
}

func (s *Service) NotifyLocalIdentifier(ctx context.Context, cb *gateway.Callback) (string, error) {
	return s.handlers.NotifyLocalIdentifier(ctx, cb)
}

func (s *Service) ResolvePayment(ctx context.Context, rec *audit.Recorder, id, operator string) (*models.Payment, error) {
	p, err := s.store.GetPaymentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.TransitionStatus(ctx, p.ID, []models.PaymentStatus{
		models.PaymentStatusRegistrationFailed,
		models.PaymentStatusRegistrationExpired,
		models.PaymentStatusFinesUpdated,
	}, paymentstore.StatusUpdate{
		Status:                   models.PaymentStatusRegistrationResolved,
		Message:                  lo.ToPtr("Resolved by " + operator),
		ClearRegistrationStarted: true,
		ClaimTimeout:             s.registrationTimeout(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.store.Reload(ctx, p); err != nil {
			return nil, err
		}
		if p.IsRegistrationInProgress(s.store.Now(), s.registrationTimeout()) {
			return nil, ErrRegistrationInProgress
		}
		return nil, fmt.Errorf("%w: %s", ErrNotResolvable, p.Status)
	}
	s.metrics.IncTransition(string(p.Status), string(models.PaymentStatusRegistrationResolved))
	if err := s.store.Reload(ctx, p); err != nil {
		return nil, err
	}
	s.event(ctx, rec, p, audit.SubtypePayment, "Marked as resolved", map[string]any{"operator": operator})
	return p, nil
}

func (s *Service) ExpirePayment(ctx context.Context, rec *audit.Recorder, p *models.Payment) (bool, error) {
	ok, err := s.store.TransitionStatus(ctx, p.ID, []models.PaymentStatus{
		models.PaymentStatusPaid,
		models.PaymentStatusRegistrationFailed,
	}, paymentstore.StatusUpdate{
		Status:                   models.PaymentStatusRegistrationExpired,
		ClearRegistrationStarted: true,
		ClaimTimeout:             s.registrationTimeout(),
	})
	if err != nil || !ok {
		return false, err
	}
	s.metrics.IncTransition(string(p.Status), string(models.PaymentStatusRegistrationExpired))
	if err := s.store.Reload(ctx, p); err != nil {
		return true, err
	}
	s.event(ctx, rec, p, audit.SubtypePayment, "Marked as expired", nil)
	return true, nil
}
