package movingavg

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/venue"
)

type fakeMARepo struct {
	samples  map[string][]persistence.UnifiedFundingRow // key: symbol|venue|window
	replaced map[string][]persistence.MovingAverageRow
	cross    map[string][]persistence.CrossVenueMARow
}

func sampleKey(sym string, v venue.Tag, w persistence.MAWindow) string {
	return sym + "|" + string(v) + "|" + string(w)
}

func (f *fakeMARepo) ReplaceForSymbol(ctx context.Context, normalizedSymbol string, perVenue []persistence.MovingAverageRow, cross []persistence.CrossVenueMARow) error {
	if f.replaced == nil {
		f.replaced = map[string][]persistence.MovingAverageRow{}
		f.cross = map[string][]persistence.CrossVenueMARow{}
	}
	f.replaced[normalizedSymbol] = perVenue
	f.cross[normalizedSymbol] = cross
	return nil
}
func (f *fakeMARepo) Latest(ctx context.Context, normalizedSymbol string) ([]persistence.MovingAverageRow, []persistence.CrossVenueMARow, error) {
	return f.replaced[normalizedSymbol], f.cross[normalizedSymbol], nil
}
func (f *fakeMARepo) LatestBulk(ctx context.Context, symbols []string) (map[string][]persistence.MovingAverageRow, error) {
	return f.replaced, nil
}
func (f *fakeMARepo) SourceSamples(ctx context.Context, normalizedSymbol string, v venue.Tag, w persistence.MAWindow) ([]persistence.UnifiedFundingRow, error) {
	return f.samples[sampleKey(normalizedSymbol, v, w)], nil
}

type fakeUnifiedSource struct {
	venues   []venue.Tag
	earliest time.Time
}

func (f *fakeUnifiedSource) InsertBatch(ctx context.Context, rows []persistence.UnifiedFundingRow) error {
	return nil
}
func (f *fakeUnifiedSource) LastSyncedAt(ctx context.Context, v venue.Tag) (time.Time, error) {
	return time.Time{}, nil
}
func (f *fakeUnifiedSource) BySymbol(ctx context.Context, normalizedSymbol string, r persistence.TimeRange) ([]persistence.UnifiedFundingRow, error) {
	return nil, nil
}
func (f *fakeUnifiedSource) BySymbolAndVenue(ctx context.Context, normalizedSymbol string, v venue.Tag, r persistence.TimeRange) ([]persistence.UnifiedFundingRow, error) {
	return nil, nil
}
func (f *fakeUnifiedSource) DistinctSymbols(ctx context.Context) ([]string, error) {
	return []string{"BTC"}, nil
}
func (f *fakeUnifiedSource) VenuesForSymbol(ctx context.Context, normalizedSymbol string) ([]venue.Tag, error) {
	return f.venues, nil
}
func (f *fakeUnifiedSource) EarliestFundingTime(ctx context.Context, normalizedSymbol string, v venue.Tag) (time.Time, error) {
	return f.earliest, nil
}
func (f *fakeUnifiedSource) LatestSince(ctx context.Context, since time.Time) ([]persistence.UnifiedFundingRow, error) {
	return nil, nil
}

func rowsOf(rates ...float64) []persistence.UnifiedFundingRow {
	out := make([]persistence.UnifiedFundingRow, len(rates))
	for i, r := range rates {
		out[i] = persistence.UnifiedFundingRow{Rate1hPercent: r}
	}
	return out
}

func TestRunSymbol_BelowThresholdSkipsWindow(t *testing.T) {
	ma := &fakeMARepo{samples: map[string][]persistence.UnifiedFundingRow{
		sampleKey("BTC", venue.Hyperliquid, persistence.Window24h): rowsOf(0.01, 0.02), // needs 3
	}}
	unified := &fakeUnifiedSource{venues: []venue.Tag{venue.Hyperliquid}, earliest: time.Now().Add(-40 * 24 * time.Hour)}
	e := NewEngine(ma, unified, zerolog.Nop())

	require.NoError(t, e.RunSymbol(context.Background(), "BTC"))
	require.Empty(t, ma.replaced["BTC"])
}

func TestRunSymbol_OutlierFilteredAndEligibilityGatePasses(t *testing.T) {
	clustered := []float64{0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 3.0} // 3.0 is a >3-sigma outlier
	ma := &fakeMARepo{samples: map[string][]persistence.UnifiedFundingRow{
		sampleKey("BTC", venue.Hyperliquid, persistence.Window24h): rowsOf(clustered...),
	}}
	unified := &fakeUnifiedSource{venues: []venue.Tag{venue.Hyperliquid}, earliest: time.Now().Add(-40 * 24 * time.Hour)}
	e := NewEngine(ma, unified, zerolog.Nop())

	require.NoError(t, e.RunSymbol(context.Background(), "BTC"))
	rows := ma.replaced["BTC"]
	require.Len(t, rows, 1)
	require.Equal(t, 10, rows[0].SampleCount) // outlier dropped
	require.InDelta(t, 0.01, rows[0].MARate1h, 1e-9)
}

func TestRunSymbol_EligibilityGateBlocksYoungListing(t *testing.T) {
	ma := &fakeMARepo{samples: map[string][]persistence.UnifiedFundingRow{
		sampleKey("BTC", venue.Hyperliquid, persistence.Window3d): rowsOf(0.01, 0.01, 0.01, 0.01, 0.01, 0.01),
	}}
	unified := &fakeUnifiedSource{venues: []venue.Tag{venue.Hyperliquid}, earliest: time.Now().Add(-1 * 24 * time.Hour)}
	e := NewEngine(ma, unified, zerolog.Nop())

	require.NoError(t, e.RunSymbol(context.Background(), "BTC"))
	require.Empty(t, ma.replaced["BTC"])
}

func TestRunSymbol_CrossVenueRequiresTwoVenues(t *testing.T) {
	ma := &fakeMARepo{samples: map[string][]persistence.UnifiedFundingRow{
		sampleKey("BTC", venue.Hyperliquid, persistence.Window24h): rowsOf(0.01, 0.02, 0.03),
		sampleKey("BTC", venue.Lighter, persistence.Window24h):     rowsOf(0.04, 0.05, 0.06),
	}}
	unified := &fakeUnifiedSource{venues: []venue.Tag{venue.Hyperliquid, venue.Lighter}, earliest: time.Now().Add(-40 * 24 * time.Hour)}
	e := NewEngine(ma, unified, zerolog.Nop())

	require.NoError(t, e.RunSymbol(context.Background(), "BTC"))
	require.Len(t, ma.replaced["BTC"], 2)
	require.Len(t, ma.cross["BTC"], 1)
	require.Equal(t, 2, ma.cross["BTC"][0].VenueCount)
}
