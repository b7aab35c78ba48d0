package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// unifiedRepo implements persistence.UnifiedRepo against the `unified`
// database's unified_v3 table (§4.5, §6).
type unifiedRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewUnifiedRepo builds the unified funding table repository.
func NewUnifiedRepo(db *sqlx.DB, timeout time.Duration) *unifiedRepo {
	return &unifiedRepo{db: db, timeout: timeout}
}

var _ persistence.UnifiedRepo = (*unifiedRepo)(nil)

func (r *unifiedRepo) InsertBatch(ctx context.Context, rows []persistence.UnifiedFundingRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if len(rows) == 0 {
		return nil
	}

	const query = `
		INSERT INTO unified_v3
		(normalized_symbol, venue, funding_time, original_symbol, raw_rate,
		 raw_rate_percent, interval_hours, rate_1h_percent, rate_apr, source,
		 synced_at, open_interest_usd)
		VALUES
		(:normalized_symbol, :venue, :funding_time, :original_symbol, :raw_rate,
		 :raw_rate_percent, :interval_hours, :rate_1h_percent, :rate_apr, :source,
		 :synced_at, :open_interest_usd)
		ON CONFLICT (normalized_symbol, venue, funding_time) DO UPDATE SET
			raw_rate = EXCLUDED.raw_rate,
			raw_rate_percent = EXCLUDED.raw_rate_percent,
			interval_hours = EXCLUDED.interval_hours,
			rate_1h_percent = EXCLUDED.rate_1h_percent,
			rate_apr = EXCLUDED.rate_apr,
			source = EXCLUDED.source,
			synced_at = EXCLUDED.synced_at,
			open_interest_usd = EXCLUDED.open_interest_usd`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unified insert: %w", err)
	}
	defer tx.Rollback()

	// §4.5 caps each sync batch at 500 rows; callers are expected to chunk
	// larger slices themselves so a single failed batch can be retried.
	if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("insert unified batch: %w", err)
	}

	return tx.Commit()
}

func (r *unifiedRepo) LastSyncedAt(ctx context.Context, v venue.Tag) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var last sql.NullTime
	err := r.db.GetContext(ctx, &last,
		`SELECT max(funding_time) FROM unified_v3 WHERE venue = $1`, string(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("last synced for %s: %w", v, err)
	}
	if !last.Valid {
		// §4.5: first sync for a venue seeds from 7 days back.
		return time.Now().Add(-7 * 24 * time.Hour), nil
	}
	return last.Time, nil
}

func (r *unifiedRepo) BySymbol(ctx context.Context, normalizedSymbol string, tr persistence.TimeRange) ([]persistence.UnifiedFundingRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT * FROM unified_v3
		WHERE normalized_symbol = $1 AND funding_time >= $2 AND funding_time < $3
		ORDER BY venue, funding_time ASC`

	var out []persistence.UnifiedFundingRow
	if err := r.db.SelectContext(ctx, &out, query, normalizedSymbol, tr.From, tr.To); err != nil {
		return nil, fmt.Errorf("unified rows for %s: %w", normalizedSymbol, err)
	}
	return out, nil
}

func (r *unifiedRepo) BySymbolAndVenue(ctx context.Context, normalizedSymbol string, v venue.Tag, tr persistence.TimeRange) ([]persistence.UnifiedFundingRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT * FROM unified_v3
		WHERE normalized_symbol = $1 AND venue = $2
		  AND funding_time >= $3 AND funding_time < $4
		ORDER BY funding_time ASC`

	var out []persistence.UnifiedFundingRow
	err := r.db.SelectContext(ctx, &out, query, normalizedSymbol, string(v), tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("unified rows for %s/%s: %w", normalizedSymbol, v, err)
	}
	return out, nil
}

func (r *unifiedRepo) DistinctSymbols(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []string
	err := r.db.SelectContext(ctx, &out,
		`SELECT DISTINCT normalized_symbol FROM unified_v3 ORDER BY normalized_symbol`)
	if err != nil {
		return nil, fmt.Errorf("distinct unified symbols: %w", err)
	}
	return out, nil
}

func (r *unifiedRepo) VenuesForSymbol(ctx context.Context, normalizedSymbol string) ([]venue.Tag, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var tags []string
	err := r.db.SelectContext(ctx, &tags,
		`SELECT DISTINCT venue FROM unified_v3 WHERE normalized_symbol = $1 ORDER BY venue`,
		normalizedSymbol)
	if err != nil {
		return nil, fmt.Errorf("venues for %s: %w", normalizedSymbol, err)
	}

	out := make([]venue.Tag, len(tags))
	for i, t := range tags {
		out[i] = venue.Tag(t)
	}
	return out, nil
}

func (r *unifiedRepo) EarliestFundingTime(ctx context.Context, normalizedSymbol string, v venue.Tag) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var earliest sql.NullTime
	err := r.db.GetContext(ctx, &earliest,
		`SELECT min(funding_time) FROM unified_v3 WHERE normalized_symbol = $1 AND venue = $2`,
		normalizedSymbol, string(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("earliest funding time for %s/%s: %w", normalizedSymbol, v, err)
	}
	if !earliest.Valid {
		return time.Time{}, nil
	}
	return earliest.Time, nil
}

func (r *unifiedRepo) LatestSince(ctx context.Context, since time.Time) ([]persistence.UnifiedFundingRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT DISTINCT ON (normalized_symbol, venue) *
		FROM unified_v3
		WHERE funding_time >= $1
		ORDER BY normalized_symbol, venue, funding_time DESC`

	var out []persistence.UnifiedFundingRow
	if err := r.db.SelectContext(ctx, &out, query, since); err != nil {
		return nil, fmt.Errorf("latest unified rows since %s: %w", since, err)
	}
	return out, nil
}
