package unified

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/venue"
)

type fakeUnifiedRepo struct {
	lastSynced time.Time
	inserted   []persistence.UnifiedFundingRow
}

func (f *fakeUnifiedRepo) InsertBatch(ctx context.Context, rows []persistence.UnifiedFundingRow) error {
	f.inserted = append(f.inserted, rows...)
	return nil
}
func (f *fakeUnifiedRepo) LastSyncedAt(ctx context.Context, v venue.Tag) (time.Time, error) {
	return f.lastSynced, nil
}
func (f *fakeUnifiedRepo) BySymbol(ctx context.Context, normalizedSymbol string, r persistence.TimeRange) ([]persistence.UnifiedFundingRow, error) {
	return nil, nil
}
func (f *fakeUnifiedRepo) BySymbolAndVenue(ctx context.Context, normalizedSymbol string, v venue.Tag, r persistence.TimeRange) ([]persistence.UnifiedFundingRow, error) {
	return nil, nil
}
func (f *fakeUnifiedRepo) DistinctSymbols(ctx context.Context) ([]string, error) {
	return nil, nil
}
func (f *fakeUnifiedRepo) VenuesForSymbol(ctx context.Context, normalizedSymbol string) ([]venue.Tag, error) {
	return nil, nil
}
func (f *fakeUnifiedRepo) EarliestFundingTime(ctx context.Context, normalizedSymbol string, v venue.Tag) (time.Time, error) {
	return time.Time{}, nil
}
func (f *fakeUnifiedRepo) LatestSince(ctx context.Context, since time.Time) ([]persistence.UnifiedFundingRow, error) {
	return nil, nil
}

type fakeSource struct {
	rows []SourceRow
}

func (f *fakeSource) FundingRowsSince(ctx context.Context, v venue.Tag, sinceRaw int64) ([]SourceRow, error) {
	return f.rows, nil
}

func TestSyncVenue_FiltersOutOfBoundRows(t *testing.T) {
	repo := &fakeUnifiedRepo{lastSynced: time.Now().Add(-time.Hour)}
	src := &fakeSource{rows: []SourceRow{
		{Venue: venue.Hyperliquid, OriginalSymbol: "BTC-USD-PERP", HourlyPercent: 0.00125, AnnualizedPercent: 1.3, IntervalHours: 8, CollectedAtRaw: time.Now().Unix()},
		{Venue: venue.Hyperliquid, OriginalSymbol: "ETH-USD-PERP", HourlyPercent: 50.0, AnnualizedPercent: 43800, IntervalHours: 8, CollectedAtRaw: time.Now().Unix()}, // |rate%| way over 10
	}}
	e := NewEngine(repo, src, zerolog.Nop())

	n, err := e.SyncVenue(context.Background(), venue.Hyperliquid)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, repo.inserted, 1)
	require.Equal(t, "BTC", repo.inserted[0].NormalizedSymbol)
}

func TestSyncVenue_LighterPercentEncoding(t *testing.T) {
	// Scenario 4 (§8): Lighter hourly 0.0012%, apr 10.512 -- already normalized
	// upstream, the sync passes these through unchanged.
	repo := &fakeUnifiedRepo{lastSynced: time.Now().Add(-time.Hour)}
	src := &fakeSource{rows: []SourceRow{
		{Venue: venue.Lighter, OriginalSymbol: "BTC", HourlyPercent: 0.0012, AnnualizedPercent: 10.512, IntervalHours: 1, CollectedAtRaw: time.Now().Unix()},
	}}
	e := NewEngine(repo, src, zerolog.Nop())

	_, err := e.SyncVenue(context.Background(), venue.Lighter)
	require.NoError(t, err)
	require.Len(t, repo.inserted, 1)
	require.InDelta(t, 0.0012, repo.inserted[0].Rate1hPercent, 1e-9)
	require.InDelta(t, 10.512, repo.inserted[0].RateAPR, 1e-6)
}

func TestSyncAll_NoSourceRowsWritesNothing(t *testing.T) {
	repo := &fakeUnifiedRepo{lastSynced: time.Now()}
	src := &fakeSource{}
	e := NewEngine(repo, src, zerolog.Nop())

	n, err := e.SyncAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
