package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestBusiness_RecordsAndReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	b, err := NewBusiness(reg)
	require.NoError(t, err)

	b.IncTransition("in_progress", "paid")
	b.IncTransition("in_progress", "paid")
	b.IncRegistration("success")
	b.ObserveProcess("paytrail", "create_payment", time.Now(), errors.New("x"))

	require.Equal(t, 2.0, testutil.ToFloat64(b.transitions.WithLabelValues("in_progress", "paid")))
	require.Equal(t, 1.0, testutil.ToFloat64(b.registrations.WithLabelValues("success")))

	again, err := NewBusiness(reg)
	require.NoError(t, err)
	require.Same(t, b.transitions, again.transitions)
}

func TestBusiness_NilIsNoop(t *testing.T) {
	var b *Business
	b.IncTransition("a", "b")
	b.IncRegistration("x")
	b.ObserveProcess("t", "s", time.Now(), nil)
}
