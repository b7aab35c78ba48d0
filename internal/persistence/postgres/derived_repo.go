package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// movingAverageRepo implements persistence.MovingAverageRepo against the
// `unified` database's funding_ma / funding_ma_cross tables (§4.7, §6).
type movingAverageRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewMovingAverageRepo builds the moving-average repository.
func NewMovingAverageRepo(db *sqlx.DB, timeout time.Duration) *movingAverageRepo {
	return &movingAverageRepo{db: db, timeout: timeout}
}

var _ persistence.MovingAverageRepo = (*movingAverageRepo)(nil)

// ReplaceForSymbol clears and repopulates both MA tables for one symbol in a
// single transaction, matching the engine's clear-and-repopulate cadence
// (§4.7).
func (r *movingAverageRepo) ReplaceForSymbol(ctx context.Context, normalizedSymbol string, perVenue []persistence.MovingAverageRow, cross []persistence.CrossVenueMARow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ma replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM funding_ma WHERE normalized_symbol = $1`, normalizedSymbol); err != nil {
		return fmt.Errorf("clear funding_ma for %s: %w", normalizedSymbol, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM funding_ma_cross WHERE normalized_symbol = $1`, normalizedSymbol); err != nil {
		return fmt.Errorf("clear funding_ma_cross for %s: %w", normalizedSymbol, err)
	}

	if len(perVenue) > 0 {
		const insertPerVenue = `
			INSERT INTO funding_ma
			(normalized_symbol, venue, window_tag, ma_rate_1h, ma_apr, sample_count,
			 stddev, min_rate, max_rate, calculated_at, window_start, window_end)
			VALUES
			(:normalized_symbol, :venue, :window_tag, :ma_rate_1h, :ma_apr, :sample_count,
			 :stddev, :min_rate, :max_rate, :calculated_at, :window_start, :window_end)`
		if _, err := tx.NamedExecContext(ctx, insertPerVenue, perVenue); err != nil {
			return fmt.Errorf("insert funding_ma rows for %s: %w", normalizedSymbol, err)
		}
	}

	if len(cross) > 0 {
		const insertCross = `
			INSERT INTO funding_ma_cross
			(normalized_symbol, window_tag, simple_average, weighted_average,
			 min_rate, max_rate, spread, venue_count, calculated_at)
			VALUES
			(:normalized_symbol, :window_tag, :simple_average, :weighted_average,
			 :min_rate, :max_rate, :spread, :venue_count, :calculated_at)`
		if _, err := tx.NamedExecContext(ctx, insertCross, cross); err != nil {
			return fmt.Errorf("insert funding_ma_cross rows for %s: %w", normalizedSymbol, err)
		}
	}

	return tx.Commit()
}

func (r *movingAverageRepo) Latest(ctx context.Context, normalizedSymbol string) ([]persistence.MovingAverageRow, []persistence.CrossVenueMARow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var perVenue []persistence.MovingAverageRow
	err := r.db.SelectContext(ctx, &perVenue,
		`SELECT * FROM funding_ma WHERE normalized_symbol = $1 ORDER BY venue, window_tag`,
		normalizedSymbol)
	if err != nil {
		return nil, nil, fmt.Errorf("funding_ma for %s: %w", normalizedSymbol, err)
	}

	var cross []persistence.CrossVenueMARow
	err = r.db.SelectContext(ctx, &cross,
		`SELECT * FROM funding_ma_cross WHERE normalized_symbol = $1 ORDER BY window_tag`,
		normalizedSymbol)
	if err != nil {
		return nil, nil, fmt.Errorf("funding_ma_cross for %s: %w", normalizedSymbol, err)
	}

	return perVenue, cross, nil
}

func (r *movingAverageRepo) LatestBulk(ctx context.Context, symbols []string) (map[string][]persistence.MovingAverageRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if len(symbols) == 0 {
		return map[string][]persistence.MovingAverageRow{}, nil
	}

	query, args, err := sqlx.In(
		`SELECT * FROM funding_ma WHERE normalized_symbol IN (?) ORDER BY normalized_symbol, venue, window_tag`,
		symbols)
	if err != nil {
		return nil, fmt.Errorf("build bulk ma query: %w", err)
	}
	query = r.db.Rebind(query)

	var rows []persistence.MovingAverageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("bulk funding_ma: %w", err)
	}

	out := make(map[string][]persistence.MovingAverageRow, len(symbols))
	for _, row := range rows {
		out[row.NormalizedSymbol] = append(out[row.NormalizedSymbol], row)
	}
	return out, nil
}

func (r *movingAverageRepo) SourceSamples(ctx context.Context, normalizedSymbol string, v venue.Tag, w persistence.MAWindow) ([]persistence.UnifiedFundingRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cutoff := time.Now().Add(-persistence.WindowDuration(w))

	const query = `
		SELECT * FROM unified_v3
		WHERE normalized_symbol = $1 AND venue = $2 AND funding_time >= $3
		ORDER BY funding_time ASC`

	var out []persistence.UnifiedFundingRow
	if err := r.db.SelectContext(ctx, &out, query, normalizedSymbol, string(v), cutoff); err != nil {
		return nil, fmt.Errorf("ma source samples %s/%s/%s: %w", normalizedSymbol, v, w, err)
	}
	return out, nil
}

// arbitrageRepo implements persistence.ArbitrageRepo against the `unified`
// database's arbitrage_v3 table (§4.8, §6).
type arbitrageRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewArbitrageRepo builds the arbitrage repository.
func NewArbitrageRepo(db *sqlx.DB, timeout time.Duration) *arbitrageRepo {
	return &arbitrageRepo{db: db, timeout: timeout}
}

var _ persistence.ArbitrageRepo = (*arbitrageRepo)(nil)

// ReplaceForSymbol clears and repopulates arbitrage_v3 for one symbol, per
// the engine's clear-and-repopulate cadence (§4.8).
func (r *arbitrageRepo) ReplaceForSymbol(ctx context.Context, normalizedSymbol string, rows []persistence.ArbitrageRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin arbitrage replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM arbitrage_v3 WHERE normalized_symbol = $1`, normalizedSymbol); err != nil {
		return fmt.Errorf("clear arbitrage_v3 for %s: %w", normalizedSymbol, err)
	}

	if len(rows) > 0 {
		const insert = `
			INSERT INTO arbitrage_v3
			(normalized_symbol, long_venue, short_venue, window_tag, long_rate,
			 short_rate, spread, long_apr, short_apr, spread_apr, stability_score,
			 is_stable, calculated_at)
			VALUES
			(:normalized_symbol, :long_venue, :short_venue, :window_tag, :long_rate,
			 :short_rate, :spread, :long_apr, :short_apr, :spread_apr, :stability_score,
			 :is_stable, :calculated_at)`
		if _, err := tx.NamedExecContext(ctx, insert, rows); err != nil {
			return fmt.Errorf("insert arbitrage rows for %s: %w", normalizedSymbol, err)
		}
	}

	return tx.Commit()
}

func (r *arbitrageRepo) Top(ctx context.Context, limit int) ([]persistence.ArbitrageRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT * FROM arbitrage_v3
		WHERE is_stable = true
		ORDER BY spread_apr DESC
		LIMIT $1`

	var out []persistence.ArbitrageRow
	if err := r.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("top arbitrage rows: %w", err)
	}
	return out, nil
}

func (r *arbitrageRepo) BySymbol(ctx context.Context, normalizedSymbol string) ([]persistence.ArbitrageRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT * FROM arbitrage_v3
		WHERE normalized_symbol = $1
		ORDER BY window_tag, spread_apr DESC`

	var out []persistence.ArbitrageRow
	if err := r.db.SelectContext(ctx, &out, query, normalizedSymbol); err != nil {
		return nil, fmt.Errorf("arbitrage rows for %s: %w", normalizedSymbol, err)
	}
	return out, nil
}
