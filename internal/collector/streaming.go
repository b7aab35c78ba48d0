package collector

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// runStreaming drives a streaming-flavoured venue (§4.3): dial a persistent
// connection, subscribe, and feed every decoded message to the owning actor
// as it arrives. On disconnect, reconnect with exponential backoff capped
// at maxReconnectAttempts; on exhaustion the worker transitions to
// `failed` and this loop returns for good.
func runStreaming(ctx context.Context, w *Worker) {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(w.Venue),
		MaxRequests: 1,
		Timeout:     30 * time.Second,
	})

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		connIface, err := breaker.Execute(func() (interface{}, error) {
			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return w.stream.Dial(dialCtx)
		})
		if err != nil {
			attempt++
			if attempt > maxReconnectAttempts {
				sendEvent(ctx, w, transportEvent{err: err, failed: true})
				return
			}
			sendEvent(ctx, w, transportEvent{err: err, reconnecting: true})
			if !sleep(ctx, backoffDelay(attempt)) {
				return
			}
			continue
		}

		attempt = 0
		conn := connIface.(StreamConn)
		if err := readUntilDisconnect(ctx, w, conn); err != nil {
			sendEvent(ctx, w, transportEvent{err: err, reconnecting: true})
		}
	}
}

// readUntilDisconnect reads messages until the connection errors, the
// preventive-reconnect deadline elapses, or ctx is cancelled. A preventive
// reconnect is not reported as an error: it is a deliberate, scheduled
// reconnect (e.g. Paradex: every 45s to pre-empt a 60s server timeout).
func readUntilDisconnect(ctx context.Context, w *Worker, conn StreamConn) error {
	defer conn.Close()

	connCtx := ctx
	var cancel context.CancelFunc
	if w.cfg.PreventiveReconnectEvery > 0 {
		connCtx, cancel = context.WithTimeout(ctx, w.cfg.PreventiveReconnectEvery)
		defer cancel()
	}

	for {
		update, err := conn.Next(connCtx)
		if err != nil {
			if ctx.Err() == nil && connCtx.Err() != nil {
				return nil // preventive reconnect deadline, not a failure
			}
			return err
		}
		sendEvent(ctx, w, transportEvent{updates: []MarketUpdate{update}})
	}
}

func sendEvent(ctx context.Context, w *Worker, ev transportEvent) {
	select {
	case w.eventCh <- ev:
	case <-ctx.Done():
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// backoffDelay is 1s, 2s, 4s, ... capped at 30s.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt-1)) * time.Second
	const cap = 30 * time.Second
	if d > cap || d <= 0 {
		return cap
	}
	return d
}
