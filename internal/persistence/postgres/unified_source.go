package postgres

import (
	"fmt"
	"time"

	"context"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/unified"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// hourAggregateSource implements unified.Source by reading the hour
// aggregate table, which is retained indefinitely and therefore the
// durable funding-history feed for the unified sync (§4.6).
type hourAggregateSource struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewHourAggregateSource builds the unified sync's funding-history reader.
func NewHourAggregateSource(db *sqlx.DB, timeout time.Duration) *hourAggregateSource {
	return &hourAggregateSource{db: db, timeout: timeout}
}

var _ unified.Source = (*hourAggregateSource)(nil)

func (s *hourAggregateSource) FundingRowsSince(ctx context.Context, v venue.Tag, sinceRaw int64) ([]unified.SourceRow, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	since := persistence.NormalizeEpoch(sinceRaw)

	const query = `
		SELECT original_symbol, avg_funding_rate, avg_annualized_funding, avg_oi_usd, hour_bucket
		FROM market_history
		WHERE venue = $1 AND hour_bucket > $2
		ORDER BY hour_bucket ASC`

	type row struct {
		OriginalSymbol       string    `db:"original_symbol"`
		AvgFundingRate       float64   `db:"avg_funding_rate"`
		AvgAnnualizedFunding float64   `db:"avg_annualized_funding"`
		AvgOIUSD             float64   `db:"avg_oi_usd"`
		HourBucket           time.Time `db:"hour_bucket"`
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, string(v), since); err != nil {
		return nil, fmt.Errorf("funding history for %s since %s: %w", v, since, err)
	}

	cfg := venue.Registry[v]
	out := make([]unified.SourceRow, 0, len(rows))
	for _, r := range rows {
		oi := r.AvgOIUSD
		out = append(out, unified.SourceRow{
			Venue:             v,
			OriginalSymbol:    r.OriginalSymbol,
			CollectedAtRaw:    r.HourBucket.Unix(),
			HourlyPercent:     r.AvgFundingRate,
			AnnualizedPercent: r.AvgAnnualizedFunding,
			IntervalHours:     cfg.FundingIntervalHours,
			OpenInterestUSD:   &oi,
			Source:            persistence.SourceLive,
		})
	}
	return out, nil
}
