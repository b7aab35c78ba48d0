package collector

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// pollRateLimit is one limiter shared by every polling venue: together they
// issue at most one request per second. When several venues fire on the
// same grid tick, the first request goes out immediately and each later one
// waits about a second longer than the one before it.
var pollRateLimit = rate.NewLimiter(rate.Every(time.Second), 1)

// runPolling drives a polling-flavoured venue (§4.3): on each absolute
// :00/:15/:30/:45 tick, perform one request, parse the response, and
// deliver the whole batch to the owning actor for an immediate flush.
// Failures do not stop the loop; they are reported and retried next tick.
// The fetch itself is wrapped in the same per-venue circuit breaker
// `runStreaming` wraps its dial in, so a venue stuck returning errors trips
// open instead of being hammered every tick.
func runPolling(ctx context.Context, w *Worker) {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(w.Venue),
		MaxRequests: 1,
		Timeout:     30 * time.Second,
	})

	timer := time.NewTimer(alignToGrid(time.Now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			poll(ctx, w, breaker)
			timer.Reset(alignToGrid(time.Now()))
		}
	}
}

func poll(ctx context.Context, w *Worker, breaker *gobreaker.CircuitBreaker) {
	if err := pollRateLimit.Wait(ctx); err != nil {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	updatesIface, err := breaker.Execute(func() (interface{}, error) {
		return w.poll.Fetch(reqCtx)
	})
	var updates []MarketUpdate
	if err == nil {
		updates, _ = updatesIface.([]MarketUpdate)
	}

	select {
	case w.eventCh <- transportEvent{updates: updates, err: err, flush: true}:
	case <-ctx.Done():
	}
}
