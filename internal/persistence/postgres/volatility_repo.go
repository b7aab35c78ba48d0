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

// volatilityRepo implements persistence.VolatilityRepo against the `primary`
// database's volatility_stats table, sourcing its hourly price series from
// market_history (§6).
type volatilityRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewVolatilityRepo builds the volatility-statistics repository.
func NewVolatilityRepo(db *sqlx.DB, timeout time.Duration) *volatilityRepo {
	return &volatilityRepo{db: db, timeout: timeout}
}

var _ persistence.VolatilityRepo = (*volatilityRepo)(nil)

func (r *volatilityRepo) DistinctVenueSymbols(ctx context.Context) ([]persistence.VenueSymbol, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `SELECT DISTINCT venue, original_symbol FROM market_history`

	var out []persistence.VenueSymbol
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("distinct venue symbols: %w", err)
	}
	return out, nil
}

func (r *volatilityRepo) HourHistory(ctx context.Context, v venue.Tag, originalSymbol string, limit int) ([]persistence.HourAggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT * FROM market_history
		WHERE venue = $1 AND original_symbol = $2
		ORDER BY hour_bucket DESC LIMIT $3`

	var out []persistence.HourAggregate
	err := r.db.SelectContext(ctx, &out, query, string(v), originalSymbol, limit)
	if err != nil {
		return nil, fmt.Errorf("hour history for %s/%s: %w", v, originalSymbol, err)
	}
	return out, nil
}

func (r *volatilityRepo) UpsertBatch(ctx context.Context, rows []persistence.VolatilityRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if len(rows) == 0 {
		return nil
	}

	const query = `
		INSERT INTO volatility_stats
		(venue, original_symbol, atr_14, realized_vol_24h, realized_vol_7d,
		 bollinger_width, updated_at)
		VALUES
		(:venue, :original_symbol, :atr_14, :realized_vol_24h, :realized_vol_7d,
		 :bollinger_width, :updated_at)
		ON CONFLICT (venue, original_symbol) DO UPDATE SET
			atr_14 = EXCLUDED.atr_14,
			realized_vol_24h = EXCLUDED.realized_vol_24h,
			realized_vol_7d = EXCLUDED.realized_vol_7d,
			bollinger_width = EXCLUDED.bollinger_width,
			updated_at = EXCLUDED.updated_at`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin volatility upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("upsert volatility stats: %w", err)
	}

	return tx.Commit()
}

func (r *volatilityRepo) Get(ctx context.Context, v venue.Tag, originalSymbol string) (persistence.VolatilityRow, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row persistence.VolatilityRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM volatility_stats WHERE venue = $1 AND original_symbol = $2`,
		string(v), originalSymbol)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.VolatilityRow{}, false, nil
		}
		return persistence.VolatilityRow{}, false, fmt.Errorf("volatility stats for %s/%s: %w", v, originalSymbol, err)
	}
	return row, true, nil
}
