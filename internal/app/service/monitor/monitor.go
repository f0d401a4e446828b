// Package monitor reconciles payments that were paid but never registered with the ILS.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/finepay/internal/app/service/audit"
	"github.com/fatflowers/finepay/internal/app/service/export"
	"github.com/fatflowers/finepay/internal/app/service/payment"
	"github.com/fatflowers/finepay/internal/app/service/paymentstore"
	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/internal/platform/mailer"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/logctx"
)

// MinimumPaidAge is the lower bound for Options.MinimumPaidAge. Younger payments may still
// have their registration running inside a callback.
const MinimumPaidAge = 10 * time.Second

var ErrMinimumPaidAge = fmt.Errorf("minimum paid age must be at least %s", MinimumPaidAge)

type Options struct {
	MinimumPaidAge time.Duration
	ReportInterval time.Duration
	// RetryDuration is how long after payment registration is retried before the payment expires.
	RetryDuration time.Duration
	NoEmail       bool
}

// OptionsFromConfig reads the monitor.* section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinimumPaidAge: cfg.Monitor.MinimumPaidAge,
		ReportInterval: time.Duration(cfg.Monitor.ReportIntervalMinutes) * time.Minute,
		RetryDuration:  time.Duration(cfg.Monitor.RetryMinutes) * time.Minute,
	}
}

type Result struct {
	Registered int `json:"registered"`
	Failed     int `json:"failed"`
	Expired    int `json:"expired"`
	Reported   int `json:"reported"`
	// Unreported counts unresolved payments whose report could not be delivered.
	Unreported int `json:"unreported"`
}

type Service struct {
	cfg      *config.Config
	store    *paymentstore.Store
	payments payment.Manager
	audit    *audit.Service
	mail     mailer.Sender
	log      *zap.SugaredLogger
}

func NewService(cfg *config.Config, store *paymentstore.Store, payments payment.Manager, auditSvc *audit.Service, mail mailer.Sender, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{cfg: cfg, store: store, payments: payments, audit: auditSvc, mail: mail, log: log.Named("monitor")}
}

// Run retries or expires failed registrations, then reports unresolved payments per source ILS.
// A failure on one payment or one report does not stop the run.
func (s *Service) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.MinimumPaidAge < MinimumPaidAge {
		return nil, ErrMinimumPaidAge
	}
	log := logctx.FromCtx(ctx, s.log)
	rec := s.audit.Recorder(audit.SystemContext("monitor"))
	res := &Result{}
	log.Infow("monitor_started", "minimum_paid_age", opts.MinimumPaidAge, "retry_duration", opts.RetryDuration)

	failed, err := s.store.GetFailedPayments(ctx, opts.MinimumPaidAge)
	if err != nil {
		return nil, err
	}
	for _, p := range failed {
		s.process(ctx, rec, p, opts, res)
	}

	unresolved, err := s.store.GetUnresolvedPaymentsToReport(ctx, opts.ReportInterval)
	if err != nil {
		return res, err
	}
	if !opts.NoEmail && len(unresolved) > 0 {
		s.report(ctx, rec, unresolved, res)
	}

	log.Infow("monitor_completed",
		"registered", res.Registered,
		"failed", res.Failed,
		"expired", res.Expired,
		"reported", res.Reported,
		"unreported", res.Unreported)
	return res, nil
}

func (s *Service) process(ctx context.Context, rec *audit.Recorder, p *models.Payment, opts Options, res *Result) {
	log := logctx.FromCtx(ctx, s.log).With("payment_id", p.ID, "local_identifier", p.LocalIdentifier, "status", p.Status)

	if p.Paid != nil && s.store.Now().Sub(*p.Paid) > opts.RetryDuration {
		ok, err := s.payments.ExpirePayment(ctx, rec, p)
		if err != nil {
			log.Errorw("monitor_expire_failed", "err", err)
			res.Failed++
			return
		}
		if ok {
			log.Infow("monitor_payment_expired")
			res.Expired++
		}
		return
	}

	ok, err := s.payments.RegisterPayment(ctx, rec, p)
	if err != nil {
		log.Errorw("monitor_registration_error", "err", err)
		if aerr := rec.AddPaymentEvent(ctx, p, audit.SubtypeRegistration, "Exception processing payment", map[string]any{"error": err.Error()}); aerr != nil {
			log.Errorw("audit_event_failed", "err", aerr)
		}
		res.Failed++
		return
	}
	if !ok {
		res.Failed++
		return
	}
	res.Registered++
}

func (s *Service) errorEmail(sourceILS string) string {
	if op := s.cfg.GetOnlinePayment(sourceILS); op != nil && op.ErrorEmail != "" {
		return op.ErrorEmail
	}
	return s.cfg.Monitor.ErrorEmail
}

func (s *Service) report(ctx context.Context, rec *audit.Recorder, payments []*models.Payment, res *Result) {
	log := logctx.FromCtx(ctx, s.log)
	bySource := lo.GroupBy(payments, func(p *models.Payment) string { return p.SourceILS })

	sources := lo.Keys(bySource)
	slices.Sort(sources)
	for _, source := range sources {
		group := bySource[source]
		recipient := s.errorEmail(source)
		if recipient == "" {
			log.Errorw("monitor_no_error_email", "source_ils", source, "count", len(group))
			res.Unreported += len(group)
			continue
		}
		if err := s.sendReport(ctx, recipient, source, group); err != nil {
			log.Errorw("monitor_report_failed", "source_ils", source, "recipient", recipient, "err", err)
			res.Unreported += len(group)
			continue
		}
		if err := s.store.MarkReported(ctx, lo.Map(group, func(p *models.Payment, _ int) string { return p.ID })); err != nil {
			log.Errorw("monitor_mark_reported_failed", "source_ils", source, "err", err)
			continue
		}
		for _, p := range group {
			if err := rec.AddPaymentEvent(ctx, p, audit.SubtypeReconciliation, "Reported as unresolved", map[string]any{"recipient": recipient}); err != nil {
				log.Errorw("audit_event_failed", "payment_id", p.ID, "err", err)
			}
		}
		log.Infow("monitor_reported", "source_ils", source, "recipient", recipient, "count", len(group))
		res.Reported += len(group)
	}
}

func (s *Service) sendReport(ctx context.Context, recipient, source string, payments []*models.Payment) error {
	if s.mail == nil {
		return errors.New("no mail sender")
	}
	sheet, err := export.PaymentsFile(payments)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("%d paid online payments for %s could not be registered and need manual review.\n"+
		"The attached spreadsheet lists them. Resolve each one once the fines have been handled in the ILS.\n",
		len(payments), source)
	return s.mail.Send(ctx, &mailer.Message{
		To:       []string{recipient},
		Subject:  fmt.Sprintf("Unregistered online payments: %s (%d)", source, len(payments)),
		TextBody: body,
		Attachments: []mailer.Attachment{{
			Name:        fmt.Sprintf("unresolved-payments-%s.xlsx", source),
			ContentType: export.ContentType,
			Data:        sheet,
		}},
	})
}

var Module = fx.Options(
	fx.Provide(NewService),
)
