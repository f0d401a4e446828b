package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/internal/platform/db/dbtest"
	"github.com/fatflowers/finepay/pkg/config"
)

func newTestService(t *testing.T, enabled ...string) *Service {
	t.Helper()
	cfg := &config.Config{Audit: config.AuditConfig{EnabledEventTypes: enabled}}
	return NewService(dbtest.NewSQLite(t), cfg, zap.NewNop().Sugar())
}

func TestRecorder_DisabledTypeIsNoop(t *testing.T) {
	svc := newTestService(t, "payment")
	rec := svc.Recorder(RequestContext{SessionID: "s1"})

	require.NoError(t, rec.AddEvent(context.Background(), TypeUser, SubtypeLogin, nil, "logged in", nil))
	page, err := svc.GetEvents(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, page.Total)
}

func TestRecorder_StampsContextAndScrubs(t *testing.T) {
	svc := newTestService(t, "*")
	rc := RequestContext{SessionID: "sess", ClientIP: "10.0.0.1", ServerIP: "10.0.0.2", ServerName: "catalog", RequestURI: "/api/v1/payment/notify"}
	rec := svc.Recorder(rc)
	ctx := context.Background()

	require.NoError(t, rec.AddEvent(ctx, CustomType("kiosk"), CustomSubtype("checkin"), &UserRef{ID: "u1", Username: "alice"}, "kiosk used", map[string]any{"password": "secret"}))

	p := &models.Payment{ID: "pay-1", UserID: "u2", CatUsername: "lib.123"}
	require.NoError(t, rec.AddPaymentEvent(ctx, p, SubtypePayment, "Payment created", map[string]any{"amount": 1500}))

	page, err := svc.GetEvents(ctx, &EventFilter{PaymentID: "pay-1"})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	ev := page.Items[0]
	require.Equal(t, "payment", ev.Type)
	require.Equal(t, "payment", ev.Subtype)
	require.Equal(t, "sess", ev.SessionID)
	require.Equal(t, "10.0.0.1", ev.ClientIP)
	require.Equal(t, "catalog", ev.ServerName)
	require.Equal(t, "u2", *ev.UserID)
	require.Equal(t, "lib.123", *ev.Username)
	require.Equal(t, "/api/v1/payment/notify", ev.Data["__request_uri"])
	require.Contains(t, ev.Data["__method"], "TestRecorder_StampsContextAndScrubs")

	page, err = svc.GetEvents(ctx, &EventFilter{Type: "kiosk"})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	require.Equal(t, Redacted, page.Items[0].Data["password"])
}

func TestGetEvents_FiltersAndOrder(t *testing.T) {
	svc := newTestService(t, "*")
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	svc.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	}
	recA := svc.Recorder(RequestContext{ClientIP: "1.1.1.1"})
	recB := svc.Recorder(RequestContext{ClientIP: "2.2.2.2"})
	require.NoError(t, recA.AddEvent(ctx, TypeUser, SubtypeLogin, &UserRef{ID: "a"}, "first", nil))
	require.NoError(t, recB.AddEvent(ctx, TypeUser, SubtypeLogout, &UserRef{ID: "b"}, "second", nil))
	require.NoError(t, recA.AddEvent(ctx, TypeILS, CustomSubtype("place_hold"), &UserRef{ID: "a"}, "third", nil))

	page, err := svc.GetEvents(ctx, &EventFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	require.Equal(t, "third", page.Items[0].Message)
	require.Equal(t, "first", page.Items[2].Message)

	page, err = svc.GetEvents(ctx, &EventFilter{ClientIP: "1.1.1.1", Type: "user"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "first", page.Items[0].Message)

	from := base.Add(90 * time.Second)
	until := base.Add(150 * time.Second)
	page, err = svc.GetEvents(ctx, &EventFilter{DateFrom: &from, DateUntil: &until})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "second", page.Items[0].Message)

	page, err = svc.GetEvents(ctx, &EventFilter{Size: 1, From: 1})
	require.NoError(t, err)
	require.EqualValues(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	require.Equal(t, "second", page.Items[0].Message)
}

func TestDeleteExpired_Batches(t *testing.T) {
	svc := newTestService(t, "*")
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	svc.now = func() time.Time { return old }
	rec := svc.Recorder(RequestContext{})
	for i := 0; i < 5; i++ {
		require.NoError(t, rec.AddEvent(ctx, TypeSystem, SubtypeReconciliation, nil, "old", nil))
	}
	svc.now = func() time.Time { return time.Now().UTC() }
	require.NoError(t, rec.AddEvent(ctx, TypeSystem, SubtypeReconciliation, nil, "fresh", nil))

	limit := time.Now().UTC().Add(-24 * time.Hour)
	var total int64
	for {
		n, err := svc.DeleteExpired(ctx, limit, 2)
		require.NoError(t, err)
		require.LessOrEqual(t, n, int64(2))
		if n == 0 {
			break
		}
		total += n
	}
	require.EqualValues(t, 5, total)

	page, err := svc.GetEvents(ctx, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)

	purged, err := svc.PurgeEvents(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)
}

func TestRecorder_StorageErrorIsReturned(t *testing.T) {
	svc := newTestService(t, "*")
	sqlDB, err := svc.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	err = svc.Recorder(RequestContext{}).AddEvent(context.Background(), TypeSystem, SubtypeReconciliation, nil, "x", nil)
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
}
