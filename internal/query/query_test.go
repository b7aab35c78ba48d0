package query

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fundingedge/internal/cache"
	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/venue"
)

type fakeTokens struct{ rows []persistence.NormalizedToken }

func (f *fakeTokens) List(ctx context.Context) ([]persistence.NormalizedToken, error) {
	return f.rows, nil
}
func (f *fakeTokens) BySymbol(ctx context.Context, normalizedSymbol string) ([]persistence.NormalizedToken, error) {
	var out []persistence.NormalizedToken
	for _, r := range f.rows {
		if r.NormalizedSymbol == normalizedSymbol {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeUnified struct{ rows []persistence.UnifiedFundingRow }

func (f *fakeUnified) InsertBatch(ctx context.Context, rows []persistence.UnifiedFundingRow) error {
	return nil
}
func (f *fakeUnified) LastSyncedAt(ctx context.Context, v venue.Tag) (time.Time, error) {
	return time.Time{}, nil
}
func (f *fakeUnified) BySymbol(ctx context.Context, normalizedSymbol string, r persistence.TimeRange) ([]persistence.UnifiedFundingRow, error) {
	var out []persistence.UnifiedFundingRow
	for _, row := range f.rows {
		if row.NormalizedSymbol == normalizedSymbol {
			out = append(out, row)
		}
	}
	return out, nil
}
func (f *fakeUnified) BySymbolAndVenue(ctx context.Context, normalizedSymbol string, v venue.Tag, r persistence.TimeRange) ([]persistence.UnifiedFundingRow, error) {
	var out []persistence.UnifiedFundingRow
	for _, row := range f.rows {
		if row.NormalizedSymbol == normalizedSymbol && row.Venue == string(v) {
			out = append(out, row)
		}
	}
	return out, nil
}
func (f *fakeUnified) DistinctSymbols(ctx context.Context) ([]string, error)        { return nil, nil }
func (f *fakeUnified) VenuesForSymbol(ctx context.Context, s string) ([]venue.Tag, error) {
	return nil, nil
}
func (f *fakeUnified) EarliestFundingTime(ctx context.Context, s string, v venue.Tag) (time.Time, error) {
	return time.Time{}, nil
}
func (f *fakeUnified) LatestSince(ctx context.Context, since time.Time) ([]persistence.UnifiedFundingRow, error) {
	return nil, nil
}

type fakeMA struct {
	perVenue []persistence.MovingAverageRow
	cross    []persistence.CrossVenueMARow
	bulk     map[string][]persistence.MovingAverageRow
}

func (f *fakeMA) ReplaceForSymbol(ctx context.Context, s string, perVenue []persistence.MovingAverageRow, cross []persistence.CrossVenueMARow) error {
	return nil
}
func (f *fakeMA) Latest(ctx context.Context, normalizedSymbol string) ([]persistence.MovingAverageRow, []persistence.CrossVenueMARow, error) {
	return f.perVenue, f.cross, nil
}
func (f *fakeMA) LatestBulk(ctx context.Context, symbols []string) (map[string][]persistence.MovingAverageRow, error) {
	return f.bulk, nil
}
func (f *fakeMA) SourceSamples(ctx context.Context, s string, v venue.Tag, w persistence.MAWindow) ([]persistence.UnifiedFundingRow, error) {
	return nil, nil
}

type fakeArb struct{ rows []persistence.ArbitrageRow }

func (f *fakeArb) ReplaceForSymbol(ctx context.Context, s string, rows []persistence.ArbitrageRow) error {
	return nil
}
func (f *fakeArb) Top(ctx context.Context, limit int) ([]persistence.ArbitrageRow, error) {
	if limit < len(f.rows) {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}
func (f *fakeArb) BySymbol(ctx context.Context, normalizedSymbol string) ([]persistence.ArbitrageRow, error) {
	var out []persistence.ArbitrageRow
	for _, r := range f.rows {
		if r.NormalizedSymbol == normalizedSymbol {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestService() (*Service, *fakeTokens, *fakeUnified, *fakeMA, *fakeArb) {
	tokens := &fakeTokens{}
	unified := &fakeUnified{}
	ma := &fakeMA{}
	arb := &fakeArb{}
	svc := NewService(persistence.Stores{
		Tokens:     tokens,
		Unified:    unified,
		MovingAvgs: ma,
		Arbitrage:  arb,
	}, nil)
	return svc, tokens, unified, ma, arb
}

func TestListNormalizedMarkets_FiltersBySymbolAndVenue(t *testing.T) {
	svc, tokens, _, _, _ := newTestService()
	tokens.rows = []persistence.NormalizedToken{
		{NormalizedSymbol: "BTC", Venue: "hyena"},
		{NormalizedSymbol: "BTC", Venue: "lighter"},
		{NormalizedSymbol: "ETH", Venue: "hyena"},
	}

	out, err := svc.ListNormalizedMarkets(context.Background(), MarketFilter{NormalizedSymbol: "BTC"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	out, err = svc.ListNormalizedMarkets(context.Background(), MarketFilter{NormalizedSymbol: "BTC", Venue: "hyena"})
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestCompareSymbolAcrossVenues_SumsOpenInterest(t *testing.T) {
	svc, tokens, _, _, _ := newTestService()
	tokens.rows = []persistence.NormalizedToken{
		{NormalizedSymbol: "BTC", Venue: "hyena", OpenInterestUSD: 100},
		{NormalizedSymbol: "BTC", Venue: "lighter", OpenInterestUSD: 250},
	}

	rows, total, err := svc.CompareSymbolAcrossVenues(context.Background(), "BTC")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 350.0, total)
}

func TestCompareSymbolAcrossVenues_RejectsEmptySymbol(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	_, _, err := svc.CompareSymbolAcrossVenues(context.Background(), "")
	require.Error(t, err)
	require.IsType(t, &ValidationError{}, err)
}

func TestFundingRates_EnforcesLimitCap(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	_, err := svc.FundingRates(context.Background(), RateFilter{NormalizedSymbol: "BTC", Limit: MaxRawLimit + 1})
	require.Error(t, err)
}

func TestListNormalizedMarkets_CachesSecondLookup(t *testing.T) {
	tokens := &fakeTokens{rows: []persistence.NormalizedToken{
		{NormalizedSymbol: "BTC", Venue: "hyena"},
	}}
	db, mock := redismock.NewClientMock()
	svc := NewService(persistence.Stores{Tokens: tokens}, cache.NewWithClient(db))

	ctx := context.Background()
	key := "query:markets:BTC:"

	mock.ExpectGet(key).RedisNil()
	mock.Regexp().ExpectSet(key, `.*`, queryCacheTTL).SetVal("OK")

	out, err := svc.ListNormalizedMarkets(ctx, MarketFilter{NormalizedSymbol: "BTC"})
	require.NoError(t, err)
	require.Len(t, out, 1)

	mock.ExpectGet(key).SetVal(`[{"NormalizedSymbol":"BTC","Venue":"hyena"}]`)

	tokens.rows = nil // prove the second call never reaches the store
	out, err = svc.ListNormalizedMarkets(ctx, MarketFilter{NormalizedSymbol: "BTC"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFundingRates_TruncatesToLimit(t *testing.T) {
	svc, _, unified, _, _ := newTestService()
	for i := 0; i < 5; i++ {
		unified.rows = append(unified.rows, persistence.UnifiedFundingRow{NormalizedSymbol: "BTC", Venue: "hyena"})
	}

	out, err := svc.FundingRates(context.Background(), RateFilter{NormalizedSymbol: "BTC", Limit: 3})
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestArbitrage_FiltersByMinSpreadAndStability(t *testing.T) {
	svc, _, _, _, arb := newTestService()
	arb.rows = []persistence.ArbitrageRow{
		{NormalizedSymbol: "BTC", LongVenue: "hyena", ShortVenue: "lighter", Spread: 0.01, SpreadAPR: 5, IsStable: true},
		{NormalizedSymbol: "BTC", LongVenue: "hyena", ShortVenue: "paradex", Spread: 0.1, SpreadAPR: 20, IsStable: false},
	}

	out, err := svc.Arbitrage(context.Background(), ArbitrageFilter{NormalizedSymbol: "BTC", StableOnly: true})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "lighter", out[0].ShortVenue)
}

func TestArbitrage_RejectsLimitAboveCap(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	_, err := svc.Arbitrage(context.Background(), ArbitrageFilter{Limit: MaxBulkLimit + 1})
	require.Error(t, err)
}

func TestFundingMABulk_RejectsTooManySymbols(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	symbols := make([]string, MaxBulkLimit+1)
	_, err := svc.FundingMABulk(context.Background(), symbols)
	require.Error(t, err)
}

func TestFundingMA_CrossReturnsAggregateRow(t *testing.T) {
	svc, _, _, ma, _ := newTestService()
	ma.cross = []persistence.CrossVenueMARow{
		{NormalizedSymbol: "BTC", Window: persistence.Window7d, SimpleAverage: 1.5},
	}

	_, cross, err := svc.FundingMA(context.Background(), "BTC", persistence.Window7d, "", true)
	require.NoError(t, err)
	require.NotNil(t, cross)
	require.Equal(t, 1.5, cross.SimpleAverage)
}

func TestNormalizedData_RejectsRangeOverThirtyDays(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	from := time.Now().Add(-40 * 24 * time.Hour)
	to := time.Now()
	_, err := svc.NormalizedData(context.Background(), "BTC", venue.Hyena, "BTC-USD-PERP", from, to, IntervalRaw)
	require.Error(t, err)
}

func TestNormalizedData_RejectsNonPositiveRange(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	now := time.Now()
	_, err := svc.NormalizedData(context.Background(), "BTC", venue.Hyena, "BTC-USD-PERP", now, now, IntervalRaw)
	require.Error(t, err)
}

func TestBucketPoints_WeightsBySampleCount(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []HistoryPoint{
		{Timestamp: base, MarkPrice: 100, SampleCount: 1},
		{Timestamp: base.Add(10 * time.Minute), MarkPrice: 200, SampleCount: 3},
	}

	out := bucketPoints(points, time.Hour)
	require.Len(t, out, 1)
	require.InDelta(t, 175.0, out[0].MarkPrice, 0.001) // (100*1 + 200*3) / 4
	require.Equal(t, 4, out[0].SampleCount)
}
