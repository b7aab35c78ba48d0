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

// normalizedTokenRepo implements persistence.NormalizedTokenRepo against the
// `primary` database's normalized_tokens live view (§4.1, §4.4, §6).
type normalizedTokenRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewNormalizedTokenRepo builds the live-view repository.
func NewNormalizedTokenRepo(db *sqlx.DB, timeout time.Duration) *normalizedTokenRepo {
	return &normalizedTokenRepo{db: db, timeout: timeout}
}

var _ persistence.NormalizedTokenRepo = (*normalizedTokenRepo)(nil)

func (r *normalizedTokenRepo) List(ctx context.Context) ([]persistence.NormalizedToken, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []persistence.NormalizedToken
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM normalized_tokens ORDER BY normalized_symbol, venue`)
	if err != nil {
		return nil, fmt.Errorf("list normalized tokens: %w", err)
	}
	return out, nil
}

func (r *normalizedTokenRepo) BySymbol(ctx context.Context, normalizedSymbol string) ([]persistence.NormalizedToken, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []persistence.NormalizedToken
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM normalized_tokens WHERE normalized_symbol = $1 ORDER BY venue`,
		normalizedSymbol)
	if err != nil {
		return nil, fmt.Errorf("normalized tokens for %s: %w", normalizedSymbol, err)
	}
	return out, nil
}

// collectorStatusRepo implements persistence.CollectorStatusRepo against the
// `primary` database's tracker_status table (§4.3, §5, §6).
type collectorStatusRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCollectorStatusRepo builds the collector-status repository.
func NewCollectorStatusRepo(db *sqlx.DB, timeout time.Duration) *collectorStatusRepo {
	return &collectorStatusRepo{db: db, timeout: timeout}
}

var _ persistence.CollectorStatusRepo = (*collectorStatusRepo)(nil)

func (r *collectorStatusRepo) Upsert(ctx context.Context, s persistence.CollectorStatus) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		INSERT INTO tracker_status
		(venue, status, last_message_at, last_error_message, reconnect_count, updated_at)
		VALUES (:venue, :status, :last_message_at, :last_error_message, :reconnect_count, :updated_at)
		ON CONFLICT (venue) DO UPDATE SET
			status = EXCLUDED.status,
			last_message_at = EXCLUDED.last_message_at,
			last_error_message = EXCLUDED.last_error_message,
			reconnect_count = EXCLUDED.reconnect_count,
			updated_at = EXCLUDED.updated_at`

	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}

	if _, err := r.db.NamedExecContext(ctx, query, s); err != nil {
		return fmt.Errorf("upsert collector status %s: %w", s.Venue, err)
	}
	return nil
}

func (r *collectorStatusRepo) Get(ctx context.Context, v venue.Tag) (persistence.CollectorStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out persistence.CollectorStatus
	err := r.db.GetContext(ctx, &out, `SELECT * FROM tracker_status WHERE venue = $1`, string(v))
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.CollectorStatus{Venue: string(v), Status: persistence.StatusStopped}, nil
		}
		return persistence.CollectorStatus{}, fmt.Errorf("collector status %s: %w", v, err)
	}
	return out, nil
}

func (r *collectorStatusRepo) List(ctx context.Context) ([]persistence.CollectorStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []persistence.CollectorStatus
	if err := r.db.SelectContext(ctx, &out, `SELECT * FROM tracker_status ORDER BY venue`); err != nil {
		return nil, fmt.Errorf("list collector statuses: %w", err)
	}
	return out, nil
}
