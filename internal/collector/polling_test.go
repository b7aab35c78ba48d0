package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sawpanic/fundingedge/internal/venue"
)

// withUnlimitedPollRate swaps the shared pollRateLimit for an unthrottled
// one for the duration of a test, restoring it afterwards, so tests that
// call poll() repeatedly don't pay the real 1-per-second grid limit.
func withUnlimitedPollRate(t *testing.T) {
	t.Helper()
	prev := pollRateLimit
	pollRateLimit = rate.NewLimiter(rate.Inf, 0)
	t.Cleanup(func() { pollRateLimit = prev })
}

type erroringPollAdapter struct {
	err   error
	calls int
}

func (a *erroringPollAdapter) Fetch(ctx context.Context) ([]MarketUpdate, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return []MarketUpdate{{OriginalSymbol: "BTC-USD-PERP"}}, nil
}

func TestPoll_CircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	withUnlimitedPollRate(t)
	adapter := &erroringPollAdapter{err: errors.New("venue unavailable")}
	w := NewWorker(venue.Hyperliquid, &fakeSnapshotRepo{}, &fakeStatusRepo{}, adapter, nil, zerolog.Nop())

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(w.Venue),
		MaxRequests: 1,
		Timeout:     30 * time.Second,
	})

	ctx := context.Background()

	// gobreaker's default ReadyToTrip trips once consecutive failures exceed
	// 5; run enough failing polls to guarantee the breaker has opened.
	const failingPolls = 10
	for i := 0; i < failingPolls; i++ {
		poll(ctx, w, breaker)
	}
	for i := 0; i < failingPolls; i++ {
		select {
		case ev := <-w.eventCh:
			require.Error(t, ev.err)
		case <-time.After(time.Second):
			t.Fatalf("expected %d transport events from the failing fetches, got %d", failingPolls, i)
		}
	}

	callsBeforeOpen := adapter.calls
	poll(ctx, w, breaker)
	select {
	case ev := <-w.eventCh:
		require.ErrorIs(t, ev.err, gobreaker.ErrOpenState)
	case <-time.After(time.Second):
		t.Fatal("expected an open-circuit transport event")
	}
	require.Equal(t, callsBeforeOpen, adapter.calls, "open breaker must short-circuit the fetch call")
}

func TestPoll_SuccessDeliversUpdates(t *testing.T) {
	withUnlimitedPollRate(t)
	adapter := &erroringPollAdapter{}
	w := NewWorker(venue.Hyperliquid, &fakeSnapshotRepo{}, &fakeStatusRepo{}, adapter, nil, zerolog.Nop())
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: string(w.Venue)})

	poll(context.Background(), w, breaker)

	select {
	case ev := <-w.eventCh:
		require.NoError(t, ev.err)
		require.Len(t, ev.updates, 1)
		require.True(t, ev.flush)
	case <-time.After(time.Second):
		t.Fatal("expected a successful transport event")
	}
}
