// Package collector implements the per-venue collector fleet: one
// long-lived worker per venue that maintains a streaming subscription or a
// periodic polling loop, buffers the venue's latest payload per symbol, and
// flushes that buffer into the snapshot store on a shared wall-clock grid
// (§4.3).
package collector

import (
	"context"
	"time"

	"github.com/sawpanic/fundingedge/internal/venue"
)

// MarketUpdate is the normalized shape every venue adapter produces,
// regardless of venue-native wire format (§6: venue payloads are opaque
// JSON black boxes; only the mapping to these fields is part of the
// contract).
type MarketUpdate struct {
	OriginalSymbol   string
	MarkPrice        float64
	IndexPrice       float64
	OpenInterest     float64
	LastPrice        float64
	RawFundingRate   float64
	IntervalHours    float64 // 0 means "use the venue's configured default"
	Volume24hBase    float64
	Volume24hQuote   float64
	Low24h           float64
	High24h          float64
	Change24hPercent float64
}

// PollAdapter is implemented by polling-flavoured venues (§4.3): one HTTP
// request per tick returning every tracked symbol's current state.
type PollAdapter interface {
	Fetch(ctx context.Context) ([]MarketUpdate, error)
}

// StreamConn is a single live streaming session, opened by a StreamAdapter.
type StreamConn interface {
	// Next blocks until one decoded update arrives, the connection drops
	// (err != nil), or ctx is cancelled.
	Next(ctx context.Context) (MarketUpdate, error)
	Close() error
}

// StreamAdapter is implemented by streaming-flavoured venues (§4.3): open a
// persistent connection and subscribe to a market-stats channel.
type StreamAdapter interface {
	Dial(ctx context.Context) (StreamConn, error)
}

// Buffer is a collector's exclusively-owned in-memory map from original
// symbol to the latest update seen since the last flush (§3 Ownership).
type Buffer struct {
	entries map[string]MarketUpdate
	order   []string // preserves arrival order for the "receipt order" guarantee (§5)
}

// NewBuffer constructs an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{entries: make(map[string]MarketUpdate)}
}

// Put records or overwrites the latest update for a symbol.
func (b *Buffer) Put(u MarketUpdate) {
	if _, exists := b.entries[u.OriginalSymbol]; !exists {
		b.order = append(b.order, u.OriginalSymbol)
	}
	b.entries[u.OriginalSymbol] = u
}

// PutAll records a full polling response, preserving venue-supplied array
// order (§5).
func (b *Buffer) PutAll(us []MarketUpdate) {
	for _, u := range us {
		b.Put(u)
	}
}

// Drain returns every buffered update in arrival order and empties the
// buffer for the next collection window.
func (b *Buffer) Drain() []MarketUpdate {
	out := make([]MarketUpdate, 0, len(b.order))
	for _, sym := range b.order {
		out = append(out, b.entries[sym])
	}
	b.entries = make(map[string]MarketUpdate)
	b.order = nil
	return out
}

// Len reports how many symbols are currently buffered.
func (b *Buffer) Len() int { return len(b.entries) }

// Counters tracks the liveness figures a collector exposes via `status`
// (§4.3).
type Counters struct {
	SnapshotCount    int64
	LastPollTime     time.Time
	LastSuccessTime  time.Time
	ReconnectAttempts int
}

// alignToGrid returns the duration until the next absolute wall-clock
// :00/:15/:30/:45 boundary, so every venue samples on the same grid (§4.3).
func alignToGrid(now time.Time) time.Duration {
	const step = 15 * time.Second
	truncated := now.Truncate(step)
	next := truncated.Add(step)
	if !next.After(now) {
		next = next.Add(step)
	}
	return next.Sub(now)
}

// venueConfig is a narrow accessor kept local to avoid every file in this
// package importing venue directly for the one field it needs.
func venueConfig(v venue.Tag) venue.Config { return venue.Registry[v] }
