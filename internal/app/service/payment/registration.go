package payment

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/fatflowers/finepay/internal/app/service/audit"
	"github.com/fatflowers/finepay/internal/app/service/paymentstore"
	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/internal/platform/ils"
	"github.com/fatflowers/finepay/pkg/logctx"
)

const (
	registrationSuccess      = "success"
	registrationFailed       = "failed"
	registrationFinesChanged = "fines_changed"
	registrationBusy         = "busy"
	registrationConflict     = "status_conflict"
)

var registrationSources = []models.PaymentStatus{models.PaymentStatusPaid, models.PaymentStatusRegistrationFailed}

func (s *Service) RequestRegistration(ctx context.Context, rec *audit.Recorder, localID string) (*models.Payment, error) {
	p, err := s.store.GetPaymentByLocalIdentifier(ctx, localID)
	if err != nil {
		return nil, err
	}
	if p.IsRegistered() {
		return p, nil
	}
	if !p.IsRegistrationNeeded() {
		return nil, ErrRegistrationNotNeeded
	}
	if p.IsRegistrationInProgress(s.store.Now(), s.registrationTimeout()) {
		return nil, ErrRegistrationInProgress
	}
	s.event(ctx, rec, p, audit.SubtypeRegistration, "Registration requested", nil)
	if _, err := s.RegisterPayment(ctx, rec, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) RegisterPayment(ctx context.Context, rec *audit.Recorder, p *models.Payment) (bool, error) {
	log := logctx.FromCtx(ctx, s.log).With("payment_id", p.ID, "local_identifier", p.LocalIdentifier)

	claimed, err := s.store.ClaimRegistration(ctx, p.ID, s.registrationTimeout())
	if err != nil {
		return false, err
	}
	if !claimed {
		log.Infow("payment_registration_busy")
		s.metrics.IncRegistration(registrationBusy)
		s.event(ctx, rec, p, audit.SubtypeRegistration, "Payment already being registered", nil)
		return false, nil
	}
	if err := s.store.Reload(ctx, p); err != nil {
		return false, err
	}
	s.event(ctx, rec, p, audit.SubtypeRegistration, "Started registration", nil)

	fineIDs, err := s.store.GetFineIDs(ctx, p.ID)
	if err != nil {
		return false, s.releaseClaim(ctx, p, err)
	}

	if opCfg := s.handlers.Config(p.SourceILS); opCfg != nil && opCfg.ExactBalanceRequired {
		if checker, ok := s.registrar.(ils.PayableAmountChecker); ok {
			start := time.Now()
			payable, err := checker.PayableAmount(ctx, p.SourceILS, p.CatUsername, fineIDs)
			s.metrics.ObserveProcess("ils", "payable_amount", start, err)
			if err != nil {
				log.Errorw("payment_registration_fine_check_failed", "err", err)
				return false, s.failRegistration(ctx, rec, p, models.PaymentStatusRegistrationFailed,
					"Failed to process fine details", "Registration failed: could not process fine details",
					map[string]any{"error": err.Error()})
			}
			if payable != 0 && payable != p.Amount {
				log.Warnw("payment_registration_fines_updated", "paid", p.Amount, "payable", payable)
				return false, s.failRegistration(ctx, rec, p, models.PaymentStatusFinesUpdated,
					"Fines updated", "Registration failed: fines updated",
					map[string]any{"paid": p.Amount, "payable": payable})
			}
		}
	}

	start := time.Now()
	res, err := s.registrar.RegisterPayment(ctx, &ils.RegistrationRequest{
		SourceILS:        p.SourceILS,
		CatUsername:      p.CatUsername,
		Amount:           p.Amount,
		Currency:         p.Currency,
		LocalIdentifier:  p.LocalIdentifier,
		RemoteIdentifier: p.GetRemoteIdentifier(),
		PaymentID:        p.ID,
		FineIDs:          fineIDs,
	})
	s.metrics.ObserveProcess("ils", "register_payment", start, err)
	switch {
	case err != nil:
		log.Errorw("payment_registration_failed", "err", err)
		return false, s.failRegistration(ctx, rec, p, models.PaymentStatusRegistrationFailed,
			err.Error(), "Registration failed", map[string]any{"error": err.Error()})
	case res == nil:
		log.Errorw("payment_registration_refused", "reason", "empty response")
		return false, s.failRegistration(ctx, rec, p, models.PaymentStatusRegistrationFailed,
			"Failed to mark fees paid: no error information", "Registration failed: no error information", nil)
	case res.FinesChanged():
		return false, s.failRegistration(ctx, rec, p, models.PaymentStatusFinesUpdated,
			"Fines updated", "Registration failed: fines updated", nil)
	case !res.Success:
		reason := lo.CoalesceOrEmpty(res.Reason, "no error information")
		log.Errorw("payment_registration_refused", "reason", reason)
		return false, s.failRegistration(ctx, rec, p, models.PaymentStatusRegistrationFailed,
			"Failed to mark fees paid: "+reason, "Registration failed: "+reason, nil)
	}

	from := p.Status
	ok, err := s.store.TransitionStatus(ctx, p.ID, registrationSources, paymentstore.StatusUpdate{
		Status:         models.PaymentStatusCompleted,
		MarkRegistered: true,
		Message:        lo.ToPtr(""),
	})
	if err != nil {
		return false, err
	}
	if err := s.store.Reload(ctx, p); err != nil {
		return false, err
	}
	if !ok {
		// The fines are paid in the ILS but the row left the registrable statuses meanwhile.
		log.Errorw("payment_registration_status_changed", "status", p.Status)
		s.metrics.IncRegistration(registrationConflict)
		s.event(ctx, rec, p, audit.SubtypeRegistration, "Registered in ILS but status changed to "+string(p.Status),
			map[string]any{"status": p.Status})
		return false, nil
	}
	s.metrics.IncRegistration(registrationSuccess)
	s.metrics.IncTransition(string(from), string(models.PaymentStatusCompleted))
	s.event(ctx, rec, p, audit.SubtypeRegistration, "Successfully registered", nil)
	log.Infow("payment_registered")
	return true, nil
}

// failRegistration records a failed attempt and releases the claim so the next retry can run.
func (s *Service) failRegistration(ctx context.Context, rec *audit.Recorder, p *models.Payment, to models.PaymentStatus, statusMsg, eventMsg string, data map[string]any) error {
	from := p.Status
	ok, err := s.store.TransitionStatus(ctx, p.ID, registrationSources, paymentstore.StatusUpdate{
		Status:                   to,
		Message:                  lo.ToPtr(statusMsg),
		ClearRegistrationStarted: true,
	})
	if err != nil {
		return err
	}
	if err := s.store.Reload(ctx, p); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.metrics.IncRegistration(lo.Ternary(to == models.PaymentStatusFinesUpdated, registrationFinesChanged, registrationFailed))
	s.metrics.IncTransition(string(from), string(to))
	s.event(ctx, rec, p, audit.SubtypeRegistration, eventMsg, data)
	return nil
}

// releaseClaim clears the registration claim after a local error and returns cause.
func (s *Service) releaseClaim(ctx context.Context, p *models.Payment, cause error) error {
	_, err := s.store.TransitionStatus(ctx, p.ID, []models.PaymentStatus{p.Status}, paymentstore.StatusUpdate{
		Status:                   p.Status,
		ClearRegistrationStarted: true,
	})
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("payment_registration_release_failed", "payment_id", p.ID, "err", err)
	}
	return cause
}
