// Package paymentstore persists payments and their fees and answers the lookups the payment
// flow and the reconciliation jobs need.
package paymentstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/logctx"
	"github.com/fatflowers/finepay/pkg/tool"
	"github.com/fatflowers/finepay/pkg/types"
)

const defaultPageSize = 20

var (
	ErrNotFound                 = errors.New("payment not found")
	ErrDuplicateLocalIdentifier = errors.New("local identifier already in use")
)

var (
	// lastPaidStatuses are the states a payment can be in once money has moved.
	lastPaidStatuses = []models.PaymentStatus{
		models.PaymentStatusCompleted,
		models.PaymentStatusPaid,
		models.PaymentStatusRegistrationFailed,
		models.PaymentStatusRegistrationExpired,
		models.PaymentStatusRegistrationResolved,
		models.PaymentStatusFinesUpdated,
	}
	awaitingRegistrationStatuses = []models.PaymentStatus{
		models.PaymentStatusPaid,
		models.PaymentStatusRegistrationFailed,
		models.PaymentStatusRegistrationExpired,
		models.PaymentStatusFinesUpdated,
	}
	unresolvedStatuses = []models.PaymentStatus{
		models.PaymentStatusFinesUpdated,
		models.PaymentStatusRegistrationExpired,
	}
)

// Store is the gorm backed payment repository. Every time comparison uses a fresh now().
type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	now func() time.Time
}

func NewStore(db *gorm.DB, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source. Intended for tests and batch tooling.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = func() time.Time { return now().UTC() }
	return s
}

// Now is the store's notion of the current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// CreatePayment inserts p and its fees in one transaction. Missing ids and the created
// timestamp are filled in.
func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	if p == nil {
		return fmt.Errorf("nil payment")
	}
	if p.ID == "" {
		p.ID = tool.GenerateUUIDV7()
	}
	if p.Created.IsZero() {
		p.Created = s.now()
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusInProgress
	}
	for _, f := range p.Fees {
		if f.ID == "" {
			f.ID = tool.GenerateUUIDV7()
		}
		f.PaymentID = p.ID
		if f.Currency == "" {
			f.Currency = p.Currency
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Fees").Create(p).Error; err != nil {
			return err
		}
		if len(p.Fees) == 0 {
			return nil
		}
		return tx.Create(&p.Fees).Error
	})
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateLocalIdentifier, p.LocalIdentifier)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("payment_created", "payment_id", p.ID, "local_identifier", p.LocalIdentifier, "amount", p.Amount, "fees", len(p.Fees))
	return nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func (s *Store) GetPaymentByID(ctx context.Context, id string) (*models.Payment, error) {
	return s.getOne(ctx, "id = ?", id)
}

// GetPaymentByLocalIdentifier resolves a gateway callback to its payment.
func (s *Store) GetPaymentByLocalIdentifier(ctx context.Context, localID string) (*models.Payment, error) {
	return s.getOne(ctx, "local_identifier = ?", localID)
}

func (s *Store) getOne(ctx context.Context, query string, arg any) (*models.Payment, error) {
	var p models.Payment
	err := s.db.WithContext(ctx).Where(query, arg).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

func (s *Store) LocalIdentifierExists(ctx context.Context, localID string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Payment{}).Where("local_identifier = ?", localID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check local identifier: %w", err)
	}
	return n > 0, nil
}

// first returns the first row of tx or nil when there is none.
func first(tx *gorm.DB) (*models.Payment, error) {
	var rows []*models.Payment
	if err := tx.Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// GetLastPaidPaymentForPatron returns the most recently paid payment of the account, or nil.
func (s *Store) GetLastPaidPaymentForPatron(ctx context.Context, catUsername string) (*models.Payment, error) {
	p, err := first(s.db.WithContext(ctx).
		Where("cat_username = ? AND status IN ?", catUsername, lastPaidStatuses).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "paid"}, Desc: true}))
	if err != nil {
		return nil, fmt.Errorf("failed to get last paid payment: %w", err)
	}
	return p, nil
}

// GetPaidPaymentInProgressForPatron returns the newest payment whose money arrived but whose
// registration has not finished, or nil.
func (s *Store) GetPaidPaymentInProgressForPatron(ctx context.Context, catUsername string) (*models.Payment, error) {
	p, err := first(s.db.WithContext(ctx).
		Where("cat_username = ? AND status IN ?", catUsername, awaitingRegistrationStatuses).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "created"}, Desc: true}))
	if err != nil {
		return nil, fmt.Errorf("failed to get paid payment in progress: %w", err)
	}
	return p, nil
}

// GetStartedPaymentForPatron returns the newest payment still InProgress after maxDuration,
// or nil. Such payments are only reported, never canceled here.
func (s *Store) GetStartedPaymentForPatron(ctx context.Context, catUsername string, maxDuration time.Duration) (*models.Payment, error) {
	limit := s.now().Add(-maxDuration)
	p, err := first(s.db.WithContext(ctx).
		Where("cat_username = ? AND status = ? AND created < ?", catUsername, models.PaymentStatusInProgress, limit).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "created"}, Desc: true}))
	if err != nil {
		return nil, fmt.Errorf("failed to get started payment: %w", err)
	}
	return p, nil
}

// GetFailedPayments returns payments whose registration failed, plus payments stuck in Paid for
// longer than minimumPaidAge, oldest first.
func (s *Store) GetFailedPayments(ctx context.Context, minimumPaidAge time.Duration) ([]*models.Payment, error) {
	limit := s.now().Add(-minimumPaidAge)
	var rows []*models.Payment
	err := s.db.WithContext(ctx).
		Where("paid IS NOT NULL").
		Where(s.db.Where("status = ?", models.PaymentStatusRegistrationFailed).
			Or("status = ? AND paid < ?", models.PaymentStatusPaid, limit)).
		Order("created").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get failed payments: %w", err)
	}
	return rows, nil
}

// GetUnresolvedPaymentsToReport returns unresolved payments not reported within interval.
func (s *Store) GetUnresolvedPaymentsToReport(ctx context.Context, interval time.Duration) ([]*models.Payment, error) {
	limit := s.now().Add(-interval)
	var rows []*models.Payment
	err := s.db.WithContext(ctx).
		Where("status IN ? AND paid IS NOT NULL", unresolvedStatuses).
		Where(s.db.Where("reported IS NULL").Or("reported < ?", limit)).
		Order("created").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get unresolved payments: %w", err)
	}
	return rows, nil
}

// MarkReported stamps the reported time on every payment in ids.
func (s *Store) MarkReported(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := s.now()
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"reported": now, "updated_at": now}).Error
	if err != nil {
		return fmt.Errorf("failed to mark payments reported: %w", err)
	}
	return nil
}

// ListFilter selects payments for operator tooling. String fields match as substrings. The
// Until dates are inclusive calendar days.
type ListFilter struct {
	Statuses         []models.PaymentStatus `json:"statuses"`
	LocalIdentifier  string                 `json:"local_identifier"`
	RemoteIdentifier string                 `json:"remote_identifier"`
	SourceILS        string                 `json:"source_ils"`
	CatUsername      string                 `json:"cat_username"`
	CreatedFrom      *time.Time             `json:"created_from"`
	CreatedUntil     *time.Time             `json:"created_until"`
	PaidFrom         *time.Time             `json:"paid_from"`
	PaidUntil        *time.Time             `json:"paid_until"`

	Page int `json:"page"`
	Size int `json:"size"`
}

type PaymentPage struct {
	Items []*models.Payment `json:"items"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Size  int               `json:"size"`
}

func (f *ListFilter) filters() types.FiltersAnd {
	like := func(field, v string) *types.CommonFilter {
		if v == "" {
			return nil
		}
		return types.NewFilter(field, types.CommonFilterOperatorLike, v)
	}
	dateRange := func(field string, from, until *time.Time) *types.CommonFilter {
		var start, end any
		if from != nil {
			start = from.UTC()
		}
		if until != nil {
			end = until.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		}
		return types.NewFilter(field, types.CommonFilterOperatorDateRange, start, end)
	}
	var statuses *types.CommonFilter
	if len(f.Statuses) > 0 {
		statuses = types.NewFilter("status", types.CommonFilterOperatorIn, lo.ToAnySlice(f.Statuses)...)
	}
	return types.FiltersAnd{
		statuses,
		like("local_identifier", f.LocalIdentifier),
		like("remote_identifier", f.RemoteIdentifier),
		like("source_ils", f.SourceILS),
		like("cat_username", f.CatUsername),
		dateRange("created", f.CreatedFrom, f.CreatedUntil),
		dateRange("paid", f.PaidFrom, f.PaidUntil),
	}
}

// ListPayments pages through payments newest first. Page numbering starts at 1.
func (s *Store) ListPayments(ctx context.Context, f *ListFilter) (*PaymentPage, error) {
	if f == nil {
		f = &ListFilter{}
	}
	if f.Size <= 0 {
		f.Size = defaultPageSize
	}
	if f.Page < 1 {
		f.Page = 1
	}
	tx := s.db.WithContext(ctx).Model(&models.Payment{}).Where(clause.Where{Exprs: []clause.Expression{f.filters()}})

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count payments: %w", err)
	}

	var rows []*models.Payment
	err := tx.Order(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "created"}, Desc: true},
		{Column: clause.Column{Name: "id"}, Desc: true},
	}}).Offset((f.Page - 1) * f.Size).Limit(f.Size).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return &PaymentPage{Items: rows, Total: total, Page: f.Page, Size: f.Size}, nil
}

// GetUniqueSourceILSList returns every source ILS that has payments, sorted.
func (s *Store) GetUniqueSourceILSList(ctx context.Context) ([]string, error) {
	var out []string
	if err := s.db.WithContext(ctx).Model(&models.Payment{}).Distinct("source_ils").Order("source_ils").Pluck("source_ils", &out).Error; err != nil {
		return nil, fmt.Errorf("failed to list source ils: %w", err)
	}
	return out, nil
}

func (s *Store) GetFees(ctx context.Context, paymentID string) ([]*models.PaymentFee, error) {
	var fees []*models.PaymentFee
	if err := s.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("id").Find(&fees).Error; err != nil {
		return nil, fmt.Errorf("failed to get payment fees: %w", err)
	}
	return fees, nil
}

// GetFineIDs returns the ILS fine ids paid by the payment, skipping fees without one.
func (s *Store) GetFineIDs(ctx context.Context, paymentID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.PaymentFee{}).
		Where("payment_id = ? AND fine_id <> ''", paymentID).
		Order("id").
		Pluck("fine_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get fine ids: %w", err)
	}
	return ids, nil
}
