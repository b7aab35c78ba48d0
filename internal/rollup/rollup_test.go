package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fundingedge/internal/persistence"
)

type fakeRollupRepo struct {
	unrolledSnapshots    []persistence.Snapshot
	unrolledMinutes      []persistence.MinuteAggregate
	minuteUpserts        [][]persistence.MinuteAggregate
	hourUpserts          [][]persistence.HourAggregate
	deletedBefore        []time.Time
	deletedMinutesBefore []time.Time
	liveRefreshed        int
}

func (f *fakeRollupRepo) UnrolledSnapshots(ctx context.Context, maxAgeHours int) ([]persistence.Snapshot, error) {
	return f.unrolledSnapshots, nil
}
func (f *fakeRollupRepo) UpsertMinuteAggregates(ctx context.Context, rows []persistence.MinuteAggregate) error {
	f.minuteUpserts = append(f.minuteUpserts, rows)
	return nil
}
func (f *fakeRollupRepo) UnrolledMinutes(ctx context.Context, since time.Time) ([]persistence.MinuteAggregate, error) {
	return f.unrolledMinutes, nil
}
func (f *fakeRollupRepo) UpsertHourAggregates(ctx context.Context, rows []persistence.HourAggregate) error {
	f.hourUpserts = append(f.hourUpserts, rows)
	return nil
}
func (f *fakeRollupRepo) RefreshLiveView(ctx context.Context) error {
	f.liveRefreshed++
	return nil
}
func (f *fakeRollupRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deletedBefore = append(f.deletedBefore, cutoff)
	return 0, nil
}
func (f *fakeRollupRepo) DeleteMinutesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deletedMinutesBefore = append(f.deletedMinutesBefore, cutoff)
	return 0, nil
}

func TestRunStageA_SingleSnapshotProducesOneMinuteRow(t *testing.T) {
	// Scenario 1 (§8): single snapshot at t=1_700_000_000s with mark=100000, OI=2.
	recordedAt := int64(1_700_000_000) * 1000
	repo := &fakeRollupRepo{
		unrolledSnapshots: []persistence.Snapshot{{
			Venue: "hyperliquid", OriginalSymbol: "BTC-USD-PERP",
			MarkPrice: 100000, OpenInterest: 2, OpenInterestUSD: 200000,
			RawFundingRate: 0.0001, FundingIntervalH: 8,
			RecordedAtMs: recordedAt,
		}},
	}
	e := NewEngine(repo, zerolog.Nop())

	err := e.RunStageA(context.Background())
	require.NoError(t, err)
	require.Len(t, repo.minuteUpserts, 1)
	require.Len(t, repo.minuteUpserts[0], 1)

	row := repo.minuteUpserts[0][0]
	require.Equal(t, "BTC", row.NormalizedSymbol)
	require.Equal(t, 100000.0, row.AvgMarkPrice)
	require.Equal(t, 200000.0, row.AvgOpenInterestUSD)
	require.Equal(t, 1, row.SampleCount)
}

func TestRunStageB_SampleWeightedAverage(t *testing.T) {
	// Scenario 2 (§8): two minute rows, sample_count 2 and 3, same hour.
	bucket := time.Unix(1_700_000_000, 0).Truncate(time.Hour)
	repo := &fakeRollupRepo{
		unrolledMinutes: []persistence.MinuteAggregate{
			{
				Venue: "hyperliquid", OriginalSymbol: "BTC-USD-PERP", NormalizedSymbol: "BTC",
				AvgMarkPrice: 100, MinPrice: 100, MaxPrice: 100, SampleCount: 2,
				MinuteBucket: bucket.Add(-2 * time.Hour),
			},
			{
				Venue: "hyperliquid", OriginalSymbol: "BTC-USD-PERP", NormalizedSymbol: "BTC",
				AvgMarkPrice: 200, MinPrice: 200, MaxPrice: 200, SampleCount: 3,
				MinuteBucket: bucket.Add(-2 * time.Hour),
			},
		},
	}
	e := NewEngine(repo, zerolog.Nop())

	err := e.RunStageB(context.Background())
	require.NoError(t, err)
	require.Len(t, repo.hourUpserts, 1)
	require.Len(t, repo.hourUpserts[0], 1)

	row := repo.hourUpserts[0][0]
	require.Equal(t, 5, row.SampleCount)
	wantAvg := (2*100.0 + 3*200.0) / 5
	require.InDelta(t, wantAvg, row.AvgMarkPrice, 1e-9)

	// Consumed minute rows must be deleted after the hour batch commits
	// (§4.4 stage B).
	require.Len(t, repo.deletedMinutesBefore, 1)
}

func TestRunStageC_CallsRefresh(t *testing.T) {
	repo := &fakeRollupRepo{}
	e := NewEngine(repo, zerolog.Nop())
	require.NoError(t, e.RunStageC(context.Background()))
	require.Equal(t, 1, repo.liveRefreshed)
}
