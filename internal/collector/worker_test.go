package collector

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/venue"
)

type fakeSnapshotRepo struct {
	inserted [][]persistence.Snapshot
}

func (f *fakeSnapshotRepo) InsertBatch(ctx context.Context, rows []persistence.Snapshot) error {
	f.inserted = append(f.inserted, rows)
	return nil
}
func (f *fakeSnapshotRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeSnapshotRepo) LatestPerSymbol(ctx context.Context, v venue.Tag) ([]persistence.Snapshot, error) {
	return nil, nil
}
func (f *fakeSnapshotRepo) RangeScan(ctx context.Context, v venue.Tag, symbol string, r persistence.TimeRange) ([]persistence.Snapshot, error) {
	return nil, nil
}

type fakeStatusRepo struct {
	upserts []persistence.CollectorStatus
}

func (f *fakeStatusRepo) Upsert(ctx context.Context, s persistence.CollectorStatus) error {
	f.upserts = append(f.upserts, s)
	return nil
}
func (f *fakeStatusRepo) Get(ctx context.Context, v venue.Tag) (persistence.CollectorStatus, error) {
	return persistence.CollectorStatus{}, nil
}
func (f *fakeStatusRepo) List(ctx context.Context) ([]persistence.CollectorStatus, error) {
	return nil, nil
}

func TestBuffer_DrainPreservesOrder(t *testing.T) {
	b := NewBuffer()
	b.Put(MarketUpdate{OriginalSymbol: "BTC", MarkPrice: 1})
	b.Put(MarketUpdate{OriginalSymbol: "ETH", MarkPrice: 2})
	b.Put(MarketUpdate{OriginalSymbol: "BTC", MarkPrice: 3}) // overwrite, keeps original position

	out := b.Drain()
	require.Len(t, out, 2)
	require.Equal(t, "BTC", out[0].OriginalSymbol)
	require.Equal(t, 3.0, out[0].MarkPrice)
	require.Equal(t, "ETH", out[1].OriginalSymbol)
	require.Equal(t, 0, b.Len())
}

func TestWorker_FlushComputesOpenInterestUSD(t *testing.T) {
	snaps := &fakeSnapshotRepo{}
	statuses := &fakeStatusRepo{}
	w := NewWorker(venue.Hyperliquid, snaps, statuses, nil, nil, zerolog.Nop())

	w.buf.Put(MarketUpdate{OriginalSymbol: "BTC-USD-PERP", MarkPrice: 50000, OpenInterest: 2})
	w.flush(context.Background())

	require.Len(t, snaps.inserted, 1)
	require.Len(t, snaps.inserted[0], 1)
	require.Equal(t, 100000.0, snaps.inserted[0][0].OpenInterestUSD)
}

func TestWorker_CommandStartIsIdempotent(t *testing.T) {
	snaps := &fakeSnapshotRepo{}
	statuses := &fakeStatusRepo{}
	w := NewWorker(venue.Lighter, snaps, statuses, nil, &nopStreamAdapter{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Serve(ctx)

	res1, err := w.Send(ctx, CmdStart)
	require.NoError(t, err)
	res2, err := w.Send(ctx, CmdStart)
	require.NoError(t, err)
	require.Equal(t, res1.Status.Venue, res2.Status.Venue)
}

func TestWorker_StartAssignsRunID(t *testing.T) {
	snaps := &fakeSnapshotRepo{}
	statuses := &fakeStatusRepo{}
	w := NewWorker(venue.Lighter, snaps, statuses, nil, &nopStreamAdapter{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Serve(ctx)

	res, err := w.Send(ctx, CmdDebug)
	require.NoError(t, err)
	require.NotEmpty(t, res.Debug.RunID)
}

type nopStreamAdapter struct{}

func (n *nopStreamAdapter) Dial(ctx context.Context) (StreamConn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
