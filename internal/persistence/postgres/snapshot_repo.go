package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// snapshotRepo implements persistence.SnapshotRepo and persistence.RollupRepo
// against the `primary` database's market_stats / market_stats_1m /
// market_history tables (§4.1, §4.4, §6).
type snapshotRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSnapshotRepo builds the combined snapshot/rollup repository.
func NewSnapshotRepo(db *sqlx.DB, timeout time.Duration) *snapshotRepo {
	return &snapshotRepo{db: db, timeout: timeout}
}

var _ persistence.SnapshotRepo = (*snapshotRepo)(nil)
var _ persistence.RollupRepo = (*snapshotRepo)(nil)

func (r *snapshotRepo) InsertBatch(ctx context.Context, rows []persistence.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if len(rows) == 0 {
		return nil
	}

	const query = `
		INSERT INTO market_stats
		(venue, original_symbol, mark_price, index_price, open_interest,
		 open_interest_usd, last_price, raw_funding_rate, funding_interval_hours,
		 volume_24h_base, volume_24h_quote, low_24h, high_24h,
		 change_24h_percent, recorded_at_ms)
		VALUES (:venue, :original_symbol, :mark_price, :index_price, :open_interest,
		 :open_interest_usd, :last_price, :raw_funding_rate, :funding_interval_hours,
		 :volume_24h_base, :volume_24h_quote, :low_24h, :high_24h,
		 :change_24h_percent, :recorded_at_ms)`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot insert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("insert snapshot batch: %w", err)
	}

	return tx.Commit()
}

func (r *snapshotRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM market_stats WHERE recorded_at_ms < $1`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete stale snapshots: %w", err)
	}
	return res.RowsAffected()
}

func (r *snapshotRepo) LatestPerSymbol(ctx context.Context, v venue.Tag) ([]persistence.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT DISTINCT ON (original_symbol) *
		FROM market_stats
		WHERE venue = $1
		ORDER BY original_symbol, recorded_at_ms DESC`

	var out []persistence.Snapshot
	if err := r.db.SelectContext(ctx, &out, query, string(v)); err != nil {
		return nil, fmt.Errorf("latest snapshots for %s: %w", v, err)
	}
	return out, nil
}

func (r *snapshotRepo) RangeScan(ctx context.Context, v venue.Tag, symbol string, tr persistence.TimeRange) ([]persistence.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT * FROM market_stats
		WHERE venue = $1 AND original_symbol = $2
		  AND recorded_at_ms >= $3 AND recorded_at_ms < $4
		ORDER BY recorded_at_ms ASC`

	var out []persistence.Snapshot
	err := r.db.SelectContext(ctx, &out, query, string(v), symbol,
		tr.From.UnixMilli(), tr.To.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("range scan %s/%s: %w", v, symbol, err)
	}
	return out, nil
}

// MinuteRangeScan reads market_stats_1m rows for one (venue, symbol) over a
// time range, feeding the normalized_data query's "15m"/"1h"-adjacent
// dispatch (§4.9). An empty originalSymbol scans every symbol for the venue.
func (r *snapshotRepo) MinuteRangeScan(ctx context.Context, v venue.Tag, originalSymbol string, tr persistence.TimeRange) ([]persistence.MinuteAggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT * FROM market_stats_1m
		WHERE venue = $1 AND ($2 = '' OR original_symbol = $2)
		  AND minute_bucket >= $3 AND minute_bucket < $4
		ORDER BY minute_bucket ASC`

	var out []persistence.MinuteAggregate
	err := r.db.SelectContext(ctx, &out, query, string(v), originalSymbol, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("minute range scan %s/%s: %w", v, originalSymbol, err)
	}
	return out, nil
}

// HourRangeScan reads market_history rows for one (venue, symbol) over a
// time range, feeding the normalized_data query's coarser dispatch tiers
// (§4.9). An empty originalSymbol scans every symbol for the venue.
func (r *snapshotRepo) HourRangeScan(ctx context.Context, v venue.Tag, originalSymbol string, tr persistence.TimeRange) ([]persistence.HourAggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT * FROM market_history
		WHERE venue = $1 AND ($2 = '' OR original_symbol = $2)
		  AND hour_bucket >= $3 AND hour_bucket < $4
		ORDER BY hour_bucket ASC`

	var out []persistence.HourAggregate
	err := r.db.SelectContext(ctx, &out, query, string(v), originalSymbol, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("hour range scan %s/%s: %w", v, originalSymbol, err)
	}
	return out, nil
}

// UnrolledSnapshots returns raw snapshots newer than maxAgeHours, feeding
// stage A of the rollup pipeline (§4.4).
func (r *snapshotRepo) UnrolledSnapshots(ctx context.Context, maxAgeHours int) ([]persistence.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour).UnixMilli()

	const query = `SELECT * FROM market_stats WHERE recorded_at_ms >= $1 ORDER BY recorded_at_ms ASC`

	var out []persistence.Snapshot
	if err := r.db.SelectContext(ctx, &out, query, cutoff); err != nil {
		return nil, fmt.Errorf("unrolled snapshots: %w", err)
	}
	return out, nil
}

func (r *snapshotRepo) UpsertMinuteAggregates(ctx context.Context, rows []persistence.MinuteAggregate) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if len(rows) == 0 {
		return nil
	}

	const query = `
		INSERT INTO market_stats_1m
		(venue, original_symbol, normalized_symbol, min_price, avg_mark_price,
		 max_price, volatility_percent, volume_24h_base, volume_24h_quote,
		 avg_oi_usd, max_oi_usd, avg_funding_rate, min_funding_rate,
		 max_funding_rate, avg_annualized_funding, minute_bucket, sample_count)
		VALUES
		(:venue, :original_symbol, :normalized_symbol, :min_price, :avg_mark_price,
		 :max_price, :volatility_percent, :volume_24h_base, :volume_24h_quote,
		 :avg_oi_usd, :max_oi_usd, :avg_funding_rate, :min_funding_rate,
		 :max_funding_rate, :avg_annualized_funding, :minute_bucket, :sample_count)
		ON CONFLICT (venue, original_symbol, minute_bucket) DO UPDATE SET
			min_price = EXCLUDED.min_price,
			avg_mark_price = EXCLUDED.avg_mark_price,
			max_price = EXCLUDED.max_price,
			volatility_percent = EXCLUDED.volatility_percent,
			volume_24h_base = EXCLUDED.volume_24h_base,
			volume_24h_quote = EXCLUDED.volume_24h_quote,
			avg_oi_usd = EXCLUDED.avg_oi_usd,
			max_oi_usd = EXCLUDED.max_oi_usd,
			avg_funding_rate = EXCLUDED.avg_funding_rate,
			min_funding_rate = EXCLUDED.min_funding_rate,
			max_funding_rate = EXCLUDED.max_funding_rate,
			avg_annualized_funding = EXCLUDED.avg_annualized_funding,
			sample_count = EXCLUDED.sample_count`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin minute upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("upsert minute aggregates: %w", err)
	}

	return tx.Commit()
}

func (r *snapshotRepo) UnrolledMinutes(ctx context.Context, since time.Time) ([]persistence.MinuteAggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `SELECT * FROM market_stats_1m WHERE minute_bucket >= $1 ORDER BY minute_bucket ASC`

	var out []persistence.MinuteAggregate
	if err := r.db.SelectContext(ctx, &out, query, since); err != nil {
		return nil, fmt.Errorf("unrolled minutes: %w", err)
	}
	return out, nil
}

func (r *snapshotRepo) UpsertHourAggregates(ctx context.Context, rows []persistence.HourAggregate) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if len(rows) == 0 {
		return nil
	}

	const query = `
		INSERT INTO market_history
		(venue, original_symbol, normalized_symbol, min_price, avg_mark_price,
		 max_price, volatility_percent, volume_24h_base, volume_24h_quote,
		 avg_oi_usd, max_oi_usd, avg_funding_rate, min_funding_rate,
		 max_funding_rate, avg_annualized_funding, hour_bucket, sample_count)
		VALUES
		(:venue, :original_symbol, :normalized_symbol, :min_price, :avg_mark_price,
		 :max_price, :volatility_percent, :volume_24h_base, :volume_24h_quote,
		 :avg_oi_usd, :max_oi_usd, :avg_funding_rate, :min_funding_rate,
		 :max_funding_rate, :avg_annualized_funding, :hour_bucket, :sample_count)
		ON CONFLICT (venue, original_symbol, hour_bucket) DO UPDATE SET
			min_price = EXCLUDED.min_price,
			avg_mark_price = EXCLUDED.avg_mark_price,
			max_price = EXCLUDED.max_price,
			volatility_percent = EXCLUDED.volatility_percent,
			volume_24h_base = EXCLUDED.volume_24h_base,
			volume_24h_quote = EXCLUDED.volume_24h_quote,
			avg_oi_usd = EXCLUDED.avg_oi_usd,
			max_oi_usd = EXCLUDED.max_oi_usd,
			avg_funding_rate = EXCLUDED.avg_funding_rate,
			min_funding_rate = EXCLUDED.min_funding_rate,
			max_funding_rate = EXCLUDED.max_funding_rate,
			avg_annualized_funding = EXCLUDED.avg_annualized_funding,
			sample_count = EXCLUDED.sample_count`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin hour upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("upsert hour aggregates: %w", err)
	}

	return tx.Commit()
}

func (r *snapshotRepo) DeleteMinutesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM market_stats_1m WHERE minute_bucket < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete consumed minute aggregates: %w", err)
	}
	return res.RowsAffected()
}

// RefreshLiveView recomputes normalized_tokens for every (venue, symbol)
// with a minute aggregate in the last 10 minutes: mark price, open interest,
// and raw funding rate come from the freshest raw snapshot, the hourly and
// annualized funding from the latest minute aggregate. Run every 5 minutes
// by the scheduler (§4.4 stage C).
func (r *snapshotRepo) RefreshLiveView(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		INSERT INTO normalized_tokens
		(normalized_symbol, venue, original_symbol, mark_price, open_interest_usd,
		 raw_funding_rate, hourly_funding_percent, annualized_funding_percent,
		 atr_14, realized_vol_24h, realized_vol_7d, bollinger_width, updated_at)
		SELECT
			s.normalized_symbol, s.venue, s.original_symbol, latest.mark_price,
			latest.open_interest_usd, latest.raw_funding_rate,
			s.avg_funding_rate, s.avg_annualized_funding,
			COALESCE(v.atr_14, 0), COALESCE(v.realized_vol_24h, 0),
			COALESCE(v.realized_vol_7d, 0), COALESCE(v.bollinger_width, 0), now()
		FROM market_stats_1m s
		JOIN LATERAL (
			SELECT mark_price, open_interest_usd, raw_funding_rate
			FROM market_stats m
			WHERE m.venue = s.venue AND m.original_symbol = s.original_symbol
			ORDER BY m.recorded_at_ms DESC LIMIT 1
		) latest ON true
		LEFT JOIN volatility_stats v
			ON v.venue = s.venue AND v.original_symbol = s.original_symbol
		WHERE s.minute_bucket = (
			SELECT max(s2.minute_bucket) FROM market_stats_1m s2
			WHERE s2.venue = s.venue AND s2.original_symbol = s.original_symbol
		)
		AND s.minute_bucket >= now() - interval '10 minutes'
		ON CONFLICT (normalized_symbol, venue) DO UPDATE SET
			original_symbol = EXCLUDED.original_symbol,
			mark_price = EXCLUDED.mark_price,
			open_interest_usd = EXCLUDED.open_interest_usd,
			raw_funding_rate = EXCLUDED.raw_funding_rate,
			hourly_funding_percent = EXCLUDED.hourly_funding_percent,
			annualized_funding_percent = EXCLUDED.annualized_funding_percent,
			atr_14 = EXCLUDED.atr_14,
			realized_vol_24h = EXCLUDED.realized_vol_24h,
			realized_vol_7d = EXCLUDED.realized_vol_7d,
			bollinger_width = EXCLUDED.bollinger_width,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("refresh live view: %w", err)
	}
	return nil
}
