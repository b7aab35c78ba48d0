// Package unified implements the cross-venue sync that copies per-venue
// funding history into the single normalized unified table (§4.6).
package unified

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/fundingedge/internal/funding"
	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/symbol"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// batchSize caps each write to the unified table (§4.6).
const batchSize = 500

// SourceRow is one funding observation read from a venue's durable history.
// The per-hour and annualized percentages are already normalized by §4.2's
// venue-conditional formula at the point they were written (the rollup
// pipeline is where the true venue-native raw value last existed); the sync
// only re-filters and re-keys them, it does not re-derive them.
type SourceRow struct {
	Venue             venue.Tag
	OriginalSymbol    string
	CollectedAtRaw    int64 // mixed ms/s epoch, per §4.6/§9
	HourlyPercent     float64
	AnnualizedPercent float64
	IntervalHours     float64
	OpenInterestUSD   *float64
	Source            persistence.UnifiedFundingSource
}

// Source reads a venue's funding history newer than a given raw timestamp.
// Implementations read from whichever durable table backs that history
// (here, the hour-aggregate table, since it is retained indefinitely).
type Source interface {
	FundingRowsSince(ctx context.Context, v venue.Tag, sinceRaw int64) ([]SourceRow, error)
}

// Engine drives the unified sync. It is the sole writer of unified_v3
// (§3 Ownership).
type Engine struct {
	repo   persistence.UnifiedRepo
	source Source
	log    zerolog.Logger
}

// NewEngine builds a sync engine.
func NewEngine(repo persistence.UnifiedRepo, source Source, log zerolog.Logger) *Engine {
	return &Engine{repo: repo, source: source, log: log.With().Str("component", "unified_sync").Logger()}
}

// SyncVenue runs one sync pass for a single venue: read everything newer
// than the venue's last-synced watermark, filter and normalize it, and
// batch-upsert into the unified table (§4.6).
func (e *Engine) SyncVenue(ctx context.Context, v venue.Tag) (int, error) {
	lastSynced, err := e.repo.LastSyncedAt(ctx, v)
	if err != nil {
		return 0, fmt.Errorf("last synced for %s: %w", v, err)
	}

	rows, err := e.source.FundingRowsSince(ctx, v, lastSynced.Unix())
	if err != nil {
		return 0, fmt.Errorf("read source rows for %s: %w", v, err)
	}

	out := make([]persistence.UnifiedFundingRow, 0, len(rows))
	for _, r := range rows {
		if !funding.WithinQualityBound(r.HourlyPercent) {
			continue // §3 invariant: |raw-rate %| <= 10 filter on ingest
		}

		interval := r.IntervalHours
		if interval <= 0 {
			interval = venue.Registry[r.Venue].FundingIntervalHours
		}

		out = append(out, persistence.UnifiedFundingRow{
			NormalizedSymbol: symbol.Normalize(r.OriginalSymbol),
			Venue:            string(r.Venue),
			FundingTime:      persistence.NormalizeEpoch(r.CollectedAtRaw),
			OriginalSymbol:   r.OriginalSymbol,
			RawRate:          r.HourlyPercent / 100,
			RawRatePercent:   r.HourlyPercent,
			IntervalHours:    interval,
			Rate1hPercent:    r.HourlyPercent,
			RateAPR:          r.AnnualizedPercent,
			Source:           r.Source,
			SyncedAt:         time.Now(),
			OpenInterestUSD:  r.OpenInterestUSD,
		})
	}

	written := 0
	for start := 0; start < len(out); start += batchSize {
		end := start + batchSize
		if end > len(out) {
			end = len(out)
		}
		if err := e.repo.InsertBatch(ctx, out[start:end]); err != nil {
			return written, fmt.Errorf("insert unified batch for %s: %w", v, err)
		}
		written += end - start
	}

	return written, nil
}

// SyncAll runs SyncVenue for every venue, continuing past individual venue
// failures so one bad venue does not block the rest (mirrors the
// collector's "errors never propagate past their owner" posture, §7).
func (e *Engine) SyncAll(ctx context.Context) (int, error) {
	total := 0
	var firstErr error
	for _, v := range venue.All {
		n, err := e.SyncVenue(ctx, v)
		total += n
		if err != nil {
			e.log.Error().Err(err).Str("venue", string(v)).Msg("unified sync failed for venue")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return total, firstErr
}
