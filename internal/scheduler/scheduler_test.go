package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fundingedge/internal/metrics"
	"github.com/sawpanic/fundingedge/internal/ops"
)

func newTestScheduler() *Scheduler {
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	return &Scheduler{
		switches:   ops.NewSwitchManager(ops.VenueSwitchConfig{}),
		metrics:    reg,
		log:        zerolog.Nop(),
		fiveMinute: time.Second,
		hourly:     time.Second,
	}
}

func TestRunStage_RecordsSuccessWithoutError(t *testing.T) {
	s := newTestScheduler()
	called := false
	s.runStage(context.Background(), time.Second, "test_stage", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.True(t, called)

	count := testutil.ToFloat64(s.metrics.RollupPassErrors.WithLabelValues("test_stage"))
	require.Equal(t, 0.0, count)
}

func TestRunStage_CountsErrorAndDoesNotPropagate(t *testing.T) {
	s := newTestScheduler()
	s.runStage(context.Background(), time.Second, "failing_stage", func(ctx context.Context) error {
		return errors.New("boom")
	})

	count := testutil.ToFloat64(s.metrics.RollupPassErrors.WithLabelValues("failing_stage"))
	require.Equal(t, 1.0, count)
}

func TestRunStage_BoundsTaskByBudget(t *testing.T) {
	s := newTestScheduler()
	var observedDeadline bool
	s.runStage(context.Background(), 5*time.Millisecond, "slow_stage", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		observedDeadline = ok
		return nil
	})
	require.True(t, observedDeadline)
}

func TestRunFiveMinute_SkipsWhenReadOnlyActive(t *testing.T) {
	s := newTestScheduler()
	s.switches.SetEmergency(ops.SwitchReadOnly, true)

	// Engines are all nil; if the read-only gate failed to short-circuit,
	// this would panic on a nil pointer dereference.
	require.NotPanics(t, func() {
		s.runFiveMinute(context.Background())
	})
}

func TestRunHourly_SkipsWhenReadOnlyActive(t *testing.T) {
	s := newTestScheduler()
	s.switches.SetEmergency(ops.SwitchReadOnly, true)

	require.NotPanics(t, func() {
		s.runHourly(context.Background())
	})
}
