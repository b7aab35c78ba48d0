package persistence

import (
	"context"
	"time"

	"github.com/sawpanic/fundingedge/internal/venue"
)

// SnapshotRepo persists raw 15s market-state rows and serves the queries
// that read directly off market_stats (§4.1, §6).
type SnapshotRepo interface {
	InsertBatch(ctx context.Context, rows []Snapshot) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	LatestPerSymbol(ctx context.Context, v venue.Tag) ([]Snapshot, error)
	RangeScan(ctx context.Context, v venue.Tag, symbol string, r TimeRange) ([]Snapshot, error)

	// MinuteRangeScan and HourRangeScan serve the normalized_data query
	// (§4.9) once it dispatches past raw resolution; original symbol may be
	// empty to scan every symbol for the venue.
	MinuteRangeScan(ctx context.Context, v venue.Tag, originalSymbol string, r TimeRange) ([]MinuteAggregate, error)
	HourRangeScan(ctx context.Context, v venue.Tag, originalSymbol string, r TimeRange) ([]HourAggregate, error)
}

// RollupRepo drives the staged 15s->1m->1h aggregation pipeline (§4.4).
type RollupRepo interface {
	// UnrolledSnapshots returns every raw snapshot recorded within the last
	// maxAgeHours. No high-water mark is kept; snapshots already aggregated
	// are excluded only because stage A deletes them.
	UnrolledSnapshots(ctx context.Context, maxAgeHours int) ([]Snapshot, error)
	UpsertMinuteAggregates(ctx context.Context, rows []MinuteAggregate) error

	// UnrolledMinutes returns minute aggregates not yet folded into the hour
	// rollup.
	UnrolledMinutes(ctx context.Context, since time.Time) ([]MinuteAggregate, error)
	UpsertHourAggregates(ctx context.Context, rows []HourAggregate) error

	// DeleteMinutesOlderThan removes minute aggregates already folded into a
	// committed hour batch (§4.4 stage B: "deletes the minute rows
	// consumed"). Minute aggregates are retained ~1 hour (§3).
	DeleteMinutesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	RefreshLiveView(ctx context.Context) error

	// DeleteOlderThan removes raw snapshots already folded into a committed
	// minute batch. A stage never calls this for rows it did not
	// successfully aggregate (§4.4).
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// NormalizedTokenRepo reads/writes the live-view table driving the
// listNormalizedMarkets and compareSymbolAcrossVenues queries (§6).
type NormalizedTokenRepo interface {
	List(ctx context.Context) ([]NormalizedToken, error)
	BySymbol(ctx context.Context, normalizedSymbol string) ([]NormalizedToken, error)
}

// CollectorStatusRepo persists the per-venue lifecycle row the collector
// fleet reports into on every state transition (§4.3, §5).
type CollectorStatusRepo interface {
	Upsert(ctx context.Context, s CollectorStatus) error
	Get(ctx context.Context, v venue.Tag) (CollectorStatus, error)
	List(ctx context.Context) ([]CollectorStatus, error)
}

// UnifiedRepo manages the cross-venue unified funding table (§4.5).
type UnifiedRepo interface {
	InsertBatch(ctx context.Context, rows []UnifiedFundingRow) error
	LastSyncedAt(ctx context.Context, v venue.Tag) (time.Time, error)
	BySymbol(ctx context.Context, normalizedSymbol string, r TimeRange) ([]UnifiedFundingRow, error)
	BySymbolAndVenue(ctx context.Context, normalizedSymbol string, v venue.Tag, r TimeRange) ([]UnifiedFundingRow, error)

	// DistinctSymbols returns every normalized symbol with at least one
	// unified row, the driver set for the MA and arbitrage engines.
	DistinctSymbols(ctx context.Context) ([]string, error)

	// VenuesForSymbol returns the distinct venues reporting a given symbol.
	VenuesForSymbol(ctx context.Context, normalizedSymbol string) ([]venue.Tag, error)

	// EarliestFundingTime returns the oldest funding_time on record for a
	// (symbol, venue) pair, used by the MA engine's eligibility gate (§4.7).
	EarliestFundingTime(ctx context.Context, normalizedSymbol string, v venue.Tag) (time.Time, error)

	// LatestSince returns the most recent unified row per (symbol, venue)
	// recorded at or after `since`, backing the arbitrage engine's synthetic
	// "live" window (§4.8).
	LatestSince(ctx context.Context, since time.Time) ([]UnifiedFundingRow, error)
}

// MovingAverageRepo persists and serves the moving-average engine's output
// (§4.7).
type MovingAverageRepo interface {
	ReplaceForSymbol(ctx context.Context, normalizedSymbol string, perVenue []MovingAverageRow, cross []CrossVenueMARow) error
	Latest(ctx context.Context, normalizedSymbol string) ([]MovingAverageRow, []CrossVenueMARow, error)
	LatestBulk(ctx context.Context, symbols []string) (map[string][]MovingAverageRow, error)
	SourceSamples(ctx context.Context, normalizedSymbol string, v venue.Tag, w MAWindow) ([]UnifiedFundingRow, error)
}

// ArbitrageRepo persists and serves the arbitrage engine's output (§4.8).
type ArbitrageRepo interface {
	ReplaceForSymbol(ctx context.Context, normalizedSymbol string, rows []ArbitrageRow) error
	Top(ctx context.Context, limit int) ([]ArbitrageRow, error)
	BySymbol(ctx context.Context, normalizedSymbol string) ([]ArbitrageRow, error)
}

// VolatilityRepo persists and serves the derived price-series statistics
// that feed the live view's atr_14/realized_vol/bollinger_width columns.
// It reads its source series from the hour-aggregate table, which is
// retained indefinitely.
type VolatilityRepo interface {
	// DistinctVenueSymbols returns every (venue, symbol) pair with hourly
	// history, the driver set for the volatility engine.
	DistinctVenueSymbols(ctx context.Context) ([]VenueSymbol, error)

	// HourHistory returns up to limit of the most recent hour-aggregate rows
	// for one (venue, symbol), newest first.
	HourHistory(ctx context.Context, v venue.Tag, originalSymbol string, limit int) ([]HourAggregate, error)

	UpsertBatch(ctx context.Context, rows []VolatilityRow) error

	// Get returns the most recently computed row for one (venue, symbol), or
	// ok=false if none has been computed yet.
	Get(ctx context.Context, v venue.Tag, originalSymbol string) (row VolatilityRow, ok bool, err error)
}

// Stores aggregates every repo a running service needs, split across the
// two logical databases (§6): Primary backs raw/aggregate/live/status data,
// Unified backs the cross-venue funding and derived tables.
type Stores struct {
	Snapshots   SnapshotRepo
	Rollups     RollupRepo
	Tokens      NormalizedTokenRepo
	Collectors  CollectorStatusRepo
	Unified     UnifiedRepo
	MovingAvgs  MovingAverageRepo
	Arbitrage   ArbitrageRepo
	Volatility  VolatilityRepo
}

// HealthCheck is implemented by both postgres connection wrappers so a
// service can report store-level health without depending on *sqlx.DB
// directly.
type HealthCheck interface {
	Ping(ctx context.Context) error
}
