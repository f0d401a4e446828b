package audit

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/logctx"
	"github.com/fatflowers/finepay/pkg/tool"
	"github.com/fatflowers/finepay/pkg/types"
)

const (
	allTypes           = "*"
	defaultExpireBatch = 1000
	defaultListSize    = 50
	dataKeyMethod      = "__method"
	dataKeyRequestURI  = "__request_uri"
)

// Service stores and queries audit events.
type Service struct {
	db      *gorm.DB
	log     *zap.SugaredLogger
	enabled map[string]struct{}
	now     func() time.Time
}

func NewService(db *gorm.DB, cfg *config.Config, log *zap.SugaredLogger) *Service {
	var enabled []string
	if cfg != nil {
		enabled = cfg.Audit.EnabledEventTypes
	}
	return &Service{
		db:      db,
		log:     log,
		enabled: lo.SliceToMap(enabled, func(s string) (string, struct{}) { return strings.ToLower(strings.TrimSpace(s)), struct{}{} }),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// IsEnabled reports whether events of t are stored.
func (s *Service) IsEnabled(t EventType) bool {
	if _, ok := s.enabled[allTypes]; ok {
		return true
	}
	_, ok := s.enabled[t.String()]
	return ok
}

// Recorder binds rc to the service for the lifetime of one request or job.
func (s *Service) Recorder(rc RequestContext) *Recorder {
	return &Recorder{svc: s, rc: rc}
}

// UserRef identifies the acting catalog user, if any.
type UserRef struct {
	ID       string
	Username string
}

// Recorder writes events stamped with a fixed request context.
type Recorder struct {
	svc *Service
	rc  RequestContext
}

func (r *Recorder) Context() RequestContext { return r.rc }

// AddEvent stores an event. A disabled type is a no-op. Storage errors are returned; callers
// observing a payment transition log them and carry on.
func (r *Recorder) AddEvent(ctx context.Context, typ EventType, subtype Subtype, user *UserRef, message string, data map[string]any) error {
	return r.add(ctx, typ, subtype, user, nil, message, data, 2)
}

// AddPaymentEvent stores a payment event linked to p and its owner, stamped with the request URI.
func (r *Recorder) AddPaymentEvent(ctx context.Context, p *models.Payment, subtype Subtype, message string, data map[string]any) error {
	if p == nil {
		return fmt.Errorf("audit: nil payment")
	}
	if data == nil {
		data = map[string]any{}
	}
	data = lo.Assign(data, map[string]any{dataKeyRequestURI: r.rc.RequestURI})
	return r.add(ctx, TypePayment, subtype, &UserRef{ID: p.UserID, Username: p.CatUsername}, &p.ID, message, data, 2)
}

func (r *Recorder) add(ctx context.Context, typ EventType, subtype Subtype, user *UserRef, paymentID *string, message string, data map[string]any, skip int) error {
	if r == nil || r.svc == nil || !r.svc.IsEnabled(typ) {
		return nil
	}
	payload := ScrubSecrets(data)
	if payload == nil {
		payload = map[string]any{}
	}
	if fn := callerName(skip); fn != "" {
		payload[dataKeyMethod] = fn
	}

	ev := &models.AuditEvent{
		ID:         tool.GenerateUUIDV7(),
		Date:       r.svc.now(),
		Type:       typ.String(),
		Subtype:    subtype.String(),
		PaymentID:  paymentID,
		SessionID:  r.rc.SessionID,
		ClientIP:   r.rc.ClientIP,
		ServerIP:   r.rc.ServerIP,
		ServerName: r.rc.ServerName,
		Message:    message,
		Data:       payload,
	}
	if user != nil {
		if user.ID != "" {
			ev.UserID = lo.ToPtr(user.ID)
		}
		if user.Username != "" {
			ev.Username = lo.ToPtr(user.Username)
		}
	}
	if err := r.svc.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("failed to save audit event: %w", err)
	}
	return nil
}

func callerName(skip int) string {
	pc, _, _, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// EventFilter selects events. Every set field is ANDed.
type EventFilter struct {
	DateFrom   *time.Time `json:"date_from"`
	DateUntil  *time.Time `json:"date_until"`
	Type       string     `json:"type"`
	Subtype    string     `json:"subtype"`
	UserID     string     `json:"user_id"`
	Username   string     `json:"username"`
	ClientIP   string     `json:"client_ip"`
	ServerIP   string     `json:"server_ip"`
	ServerName string     `json:"server_name"`
	PaymentID  string     `json:"payment_id"`

	From      int    `json:"from"`
	Size      int    `json:"size"`
	SortBy    string `json:"sort_by"`
	SortOrder string `json:"sort_order"`
}

type EventPage struct {
	Items []*models.AuditEvent `json:"items"`
	Total int64                `json:"total"`
}

var sortableEventColumns = map[string]bool{"date": true, "type": true, "subtype": true, "username": true, "client_ip": true}

func (f *EventFilter) filters() types.FiltersAnd {
	eq := func(field, v string) *types.CommonFilter {
		if v == "" {
			return nil
		}
		return types.NewFilter(field, types.CommonFilterOperatorEq, v)
	}
	var from, until any
	if f.DateFrom != nil {
		from = f.DateFrom.UTC()
	}
	if f.DateUntil != nil {
		until = f.DateUntil.UTC()
	}
	return types.FiltersAnd{
		types.NewFilter("date", types.CommonFilterOperatorDateRange, from, until),
		eq("type", f.Type),
		eq("subtype", f.Subtype),
		eq("user_id", f.UserID),
		eq("username", f.Username),
		eq("client_ip", f.ClientIP),
		eq("server_ip", f.ServerIP),
		eq("server_name", f.ServerName),
		eq("payment_id", f.PaymentID),
	}
}

// GetEvents lists events, newest first unless another sort is requested.
func (s *Service) GetEvents(ctx context.Context, f *EventFilter) (*EventPage, error) {
	if f == nil {
		f = &EventFilter{}
	}
	if f.Size <= 0 {
		f.Size = defaultListSize
	}
	if f.From < 0 {
		f.From = 0
	}
	tx := s.db.WithContext(ctx).Model(&models.AuditEvent{}).Where(clause.Where{Exprs: []clause.Expression{f.filters()}})

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	order := []clause.OrderByColumn{{Column: clause.Column{Name: "date"}, Desc: true}, {Column: clause.Column{Name: "id"}, Desc: true}}
	if sortableEventColumns[f.SortBy] {
		order = []clause.OrderByColumn{
			{Column: clause.Column{Name: f.SortBy}, Desc: f.SortOrder != "asc"},
			{Column: clause.Column{Name: "id"}, Desc: f.SortOrder != "asc"},
		}
	}

	var rows []*models.AuditEvent
	if err := tx.Order(clause.OrderBy{Columns: order}).Offset(f.From).Limit(f.Size).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return &EventPage{Items: rows, Total: total}, nil
}

// DeleteExpired removes at most limit events older than before and returns how many went.
// Call it until it returns 0; small batches keep lock time short.
func (s *Service) DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = defaultExpireBatch
	}
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.AuditEvent{}).
		Where("date < ?", before.UTC()).
		Order("date").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("failed to select expired audit events: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.AuditEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete expired audit events: %w", res.Error)
	}
	logctx.FromCtx(ctx, s.log).Infow("audit_events_expired", "count", res.RowsAffected, "before", before)
	return res.RowsAffected, nil
}

// PurgeEvents deletes every event. Only for tests and environment resets.
func (s *Service) PurgeEvents(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.AuditEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", res.Error)
	}
	logctx.FromCtx(ctx, s.log).Warnw("audit_events_purged", "count", res.RowsAffected)
	return res.RowsAffected, nil
}
