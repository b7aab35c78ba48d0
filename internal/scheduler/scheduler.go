// Package scheduler implements the cron dispatcher described in §6: two
// fixed schedules, each running its tasks in a fixed order on every tick.
// Partial work from an aborted pass stays durably committed because every
// downstream write is an idempotent batch (§9) — recovery is simply letting
// the next tick run again.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/fundingedge/internal/arbitrage"
	"github.com/sawpanic/fundingedge/internal/metrics"
	"github.com/sawpanic/fundingedge/internal/movingavg"
	"github.com/sawpanic/fundingedge/internal/ops"
	"github.com/sawpanic/fundingedge/internal/rollup"
	"github.com/sawpanic/fundingedge/internal/unified"
	"github.com/sawpanic/fundingedge/internal/volatility"
)

// Scheduler drives the two required cron schedules (§6): every 5 minutes it
// runs stage A, the volatility pass, stage C, the unified sync, the MA
// engine, and the arbitrage engine in that fixed order; every hour it runs
// stage B. A single instance owns both tickers; there is no cross-tick
// concurrency because a tick's tasks run sequentially to completion (or
// abort) before the next tick is considered (§5).
type Scheduler struct {
	rollup     *rollup.Engine
	volatility *volatility.Engine
	unified    *unified.Engine
	movingavg  *movingavg.Engine
	arbitrage  *arbitrage.Engine
	switches   *ops.SwitchManager
	metrics    *metrics.Registry
	log        zerolog.Logger

	fiveMinute time.Duration
	hourly     time.Duration
}

// New builds a scheduler wired to every engine it dispatches to.
func New(
	rollupEngine *rollup.Engine,
	volatilityEngine *volatility.Engine,
	unifiedEngine *unified.Engine,
	movingavgEngine *movingavg.Engine,
	arbitrageEngine *arbitrage.Engine,
	switches *ops.SwitchManager,
	reg *metrics.Registry,
	fiveMinuteInterval, hourlyInterval time.Duration,
	log zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		rollup:     rollupEngine,
		volatility: volatilityEngine,
		unified:    unifiedEngine,
		movingavg:  movingavgEngine,
		arbitrage:  arbitrageEngine,
		switches:   switches,
		metrics:    reg,
		log:        log.With().Str("component", "scheduler").Logger(),
		fiveMinute: fiveMinuteInterval,
		hourly:     hourlyInterval,
	}
}

// Start runs both schedules until ctx is cancelled. Each tick's tasks run to
// completion (or are abandoned at cancellation) before the ticker is
// considered again; there is no overlap between ticks of the same schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	fiveMin := time.NewTicker(s.fiveMinute)
	defer fiveMin.Stop()
	hourly := time.NewTicker(s.hourly)
	defer hourly.Stop()

	s.log.Info().
		Dur("five_minute_interval", s.fiveMinute).
		Dur("hourly_interval", s.hourly).
		Msg("scheduler starting")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-fiveMin.C:
			s.runFiveMinute(ctx)
		case <-hourly.C:
			s.runHourly(ctx)
		}
	}
}

// runFiveMinute runs stage A, the volatility pass, stage C, the unified
// sync, the MA engine, and the arbitrage engine, in that fixed order (§6,
// §9). Volatility runs before stage C so the live view's refresh query has
// fresh statistics to join against. Each task's failure is logged and
// aborts only that task; later tasks in the same tick still run, since they
// read from sources that may already be in a usable state from a previous
// pass.
func (s *Scheduler) runFiveMinute(ctx context.Context) {
	if s.switches.IsEmergencyActive(ops.SwitchReadOnly) {
		s.log.Warn().Msg("read-only switch active, skipping five-minute pass")
		return
	}

	start := time.Now()
	s.runStage(ctx, s.fiveMinute, "stage_a", s.rollup.RunStageA)
	s.runStage(ctx, s.fiveMinute, "volatility", s.volatility.RunAll)
	s.runStage(ctx, s.fiveMinute, "stage_c", s.rollup.RunStageC)
	s.runStage(ctx, s.fiveMinute, "unified_sync", func(ctx context.Context) error {
		_, err := s.unified.SyncAll(ctx)
		return err
	})
	s.runStage(ctx, s.fiveMinute, "moving_average", s.movingavg.RunAll)
	s.runStage(ctx, s.fiveMinute, "arbitrage", s.arbitrage.RunAll)

	s.metrics.RollupPassDuration.WithLabelValues("five_minute").Observe(time.Since(start).Seconds())
}

// runHourly runs stage B, the only task on the hourly schedule (§6).
func (s *Scheduler) runHourly(ctx context.Context) {
	if s.switches.IsEmergencyActive(ops.SwitchReadOnly) {
		s.log.Warn().Msg("read-only switch active, skipping hourly pass")
		return
	}

	start := time.Now()
	s.runStage(ctx, s.hourly, "stage_b", s.rollup.RunStageB)
	s.metrics.RollupPassDuration.WithLabelValues("hourly").Observe(time.Since(start).Seconds())
}

// runStage runs one scheduled task bounded by its schedule's interval (§5):
// a task that exceeds it is aborted at the boundary, and its failure is
// logged and counted without propagating past the scheduler (§7) — state
// stays durable because every task's writes are idempotent batches.
func (s *Scheduler) runStage(ctx context.Context, budget time.Duration, name string, fn func(ctx context.Context) error) {
	taskCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	err := fn(taskCtx)
	dur := time.Since(start)

	if err != nil {
		s.metrics.RollupPassErrors.WithLabelValues(name).Inc()
		s.log.Error().Err(err).Str("stage", name).Dur("duration", dur).Msg("scheduled task failed")
		return
	}
	s.log.Debug().Str("stage", name).Dur("duration", dur).Msg("scheduled task completed")
}
