package paymentstore

import (
	"context"
	"fmt"
	"time"

	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/logctx"
)

// StatusUpdate is applied by TransitionStatus. Nil fields are left untouched.
type StatusUpdate struct {
	Status  models.PaymentStatus
	Message *string
	// MarkPaid and MarkRegistered stamp the respective timestamp with the store clock.
	MarkPaid       bool
	MarkRegistered bool
	// RemoteIdentifier is only written when the row has none yet.
	RemoteIdentifier *string
	// ClearRegistrationStarted releases a registration claim.
	ClearRegistrationStarted bool
	// ClaimTimeout, when set, skips rows holding a registration claim younger than it.
	ClaimTimeout time.Duration
}

// TransitionStatus moves the payment to u.Status if, and only if, its current status is one of
// from. The check and the write are a single UPDATE so concurrent callbacks cannot both win.
// It reports whether this call performed the transition.
func (s *Store) TransitionStatus(ctx context.Context, id string, from []models.PaymentStatus, u StatusUpdate) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition of %s: no source status given", id)
	}
	now := s.now()
	values := map[string]any{"status": u.Status, "updated_at": now}
	if u.Message != nil {
		values["status_message"] = *u.Message
	}
	if u.MarkPaid {
		values["paid"] = now
	}
	if u.MarkRegistered {
		values["registered"] = now
	}
	if u.ClearRegistrationStarted {
		values["registration_started"] = nil
	}

	q := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ?", id, from)
	if u.ClaimTimeout > 0 {
		q = q.Where(s.db.Where("registration_started IS NULL").Or("registration_started < ?", now.Add(-u.ClaimTimeout)))
	}
	res := q.Updates(values)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update payment status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if u.RemoteIdentifier != nil && *u.RemoteIdentifier != "" {
		if err := s.setRemoteIdentifier(ctx, id, *u.RemoteIdentifier); err != nil {
			return true, err
		}
	}
	logctx.FromCtx(ctx, s.log).Infow("payment_status_changed", "payment_id", id, "to", u.Status)
	return true, nil
}

// setRemoteIdentifier writes the gateway id once; an existing value is never replaced.
func (s *Store) setRemoteIdentifier(ctx context.Context, id, remote string) error {
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND remote_identifier IS NULL", id).
		Update("remote_identifier", remote).Error
	if err != nil {
		return fmt.Errorf("failed to set remote identifier: %w", err)
	}
	return nil
}

// ClaimRegistration atomically marks the payment as being registered. It fails when the payment
// does not need registration or another worker claimed it less than timeout ago.
func (s *Store) ClaimRegistration(ctx context.Context, id string, timeout time.Duration) (bool, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ?", id, []models.PaymentStatus{models.PaymentStatusPaid, models.PaymentStatusRegistrationFailed}).
		Where(s.db.Where("registration_started IS NULL").Or("registration_started < ?", now.Add(-timeout))).
		Updates(map[string]any{"registration_started": now, "updated_at": now})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim registration: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Reload refreshes p from the database in place.
func (s *Store) Reload(ctx context.Context, p *models.Payment) error {
	fresh, err := s.GetPaymentByID(ctx, p.ID)
	if err != nil {
		return err
	}
	fees := p.Fees
	*p = *fresh
	if p.Fees == nil {
		p.Fees = fees
	}
	return nil
}
