package volatility

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/venue"
)

type fakeVolatilityRepo struct {
	pairs   []persistence.VenueSymbol
	history map[string][]persistence.HourAggregate
	written []persistence.VolatilityRow
}

func key(v venue.Tag, symbol string) string { return string(v) + "|" + symbol }

func (f *fakeVolatilityRepo) DistinctVenueSymbols(ctx context.Context) ([]persistence.VenueSymbol, error) {
	return f.pairs, nil
}

func (f *fakeVolatilityRepo) HourHistory(ctx context.Context, v venue.Tag, originalSymbol string, limit int) ([]persistence.HourAggregate, error) {
	bars := f.history[key(v, originalSymbol)]
	if len(bars) > limit {
		bars = bars[:limit]
	}
	return bars, nil
}

func (f *fakeVolatilityRepo) UpsertBatch(ctx context.Context, rows []persistence.VolatilityRow) error {
	f.written = rows
	return nil
}

func (f *fakeVolatilityRepo) Get(ctx context.Context, v venue.Tag, originalSymbol string) (persistence.VolatilityRow, bool, error) {
	return persistence.VolatilityRow{}, false, nil
}

// bars builds a newest-first series of hour aggregates with a steady price
// climb, giving every statistic a nonzero, checkable value.
func bars(n int, start float64, step float64) []persistence.HourAggregate {
	out := make([]persistence.HourAggregate, n)
	now := time.Now()
	for i := 0; i < n; i++ {
		price := start + step*float64(n-1-i)
		out[i] = persistence.HourAggregate{
			MinPrice:     price - 1,
			AvgMarkPrice: price,
			MaxPrice:     price + 1,
			HourBucket:   now.Add(-time.Duration(i) * time.Hour),
			SampleCount:  1,
		}
	}
	return out
}

func TestRunAll_ComputesAndUpsertsNonZeroStats(t *testing.T) {
	repo := &fakeVolatilityRepo{
		pairs: []persistence.VenueSymbol{{Venue: "hyena", OriginalSymbol: "BTC-USD-PERP"}},
		history: map[string][]persistence.HourAggregate{
			key(venue.Hyena, "BTC-USD-PERP"): bars(200, 50000, 10),
		},
	}
	e := NewEngine(repo, zerolog.Nop())

	require.NoError(t, e.RunAll(context.Background()))
	require.Len(t, repo.written, 1)

	row := repo.written[0]
	require.Equal(t, "hyena", row.Venue)
	require.Equal(t, "BTC-USD-PERP", row.OriginalSymbol)
	require.Greater(t, row.ATR14, 0.0)
	require.Greater(t, row.RealizedVol24h, 0.0)
	require.Greater(t, row.RealizedVol7d, 0.0)
	require.Greater(t, row.BollingerWidth, 0.0)
}

func TestRunAll_SkipsVenueSymbolWithInsufficientHistory(t *testing.T) {
	repo := &fakeVolatilityRepo{
		pairs: []persistence.VenueSymbol{{Venue: "hyena", OriginalSymbol: "ETH-USD-PERP"}},
		history: map[string][]persistence.HourAggregate{
			key(venue.Hyena, "ETH-USD-PERP"): bars(1, 3000, 5),
		},
	}
	e := NewEngine(repo, zerolog.Nop())

	require.NoError(t, e.RunAll(context.Background()))
	require.Empty(t, repo.written)
}

func TestBollingerWidth_FlatSeriesIsZero(t *testing.T) {
	flat := bars(20, 100, 0)
	require.Equal(t, 0.0, bollingerWidth(flat, bollingerPeriods))
}

func TestATR_SinglePairReturnsZero(t *testing.T) {
	require.Equal(t, 0.0, atr(bars(1, 100, 1), atrPeriods))
}
