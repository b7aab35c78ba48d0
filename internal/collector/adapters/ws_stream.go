package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sawpanic/fundingedge/internal/collector"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// WSStreamAdapter implements collector.StreamAdapter for a single venue's
// websocket channel.
type WSStreamAdapter struct {
	Venue   venue.Tag
	URL     string
	Channel string
}

// NewWSStreamAdapter builds a stream adapter from a venue's registry entry.
func NewWSStreamAdapter(v venue.Tag) *WSStreamAdapter {
	cfg := venue.Registry[v]
	return &WSStreamAdapter{Venue: v, URL: cfg.StreamEndpoint, Channel: cfg.SubscribeChannel}
}

var _ collector.StreamAdapter = (*WSStreamAdapter)(nil)

func (a *WSStreamAdapter) Dial(ctx context.Context) (collector.StreamConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, a.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: dial: %w", a.Venue, err)
	}

	if a.Channel != "" {
		sub := map[string]any{"op": "subscribe", "channel": a.Channel}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: subscribe: %w", a.Venue, err)
		}
	}

	return &wsConn{venue: a.Venue, conn: conn}, nil
}

type wsMessage struct {
	Channel string      `json:"channel"`
	Data    marketEntry `json:"data"`
}

type wsConn struct {
	venue venue.Tag
	conn  *websocket.Conn
}

var _ collector.StreamConn = (*wsConn)(nil)

func (c *wsConn) Next(ctx context.Context) (collector.MarketUpdate, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return collector.MarketUpdate{}, fmt.Errorf("%s: read: %w", c.venue, err)
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue // ignore malformed/heartbeat frames rather than killing the connection
		}
		if msg.Data.Symbol == "" {
			continue
		}

		m := msg.Data
		return collector.MarketUpdate{
			OriginalSymbol:   m.Symbol,
			MarkPrice:        m.MarkPrice,
			IndexPrice:       m.IndexPrice,
			OpenInterest:     m.OpenInterest,
			LastPrice:        m.LastPrice,
			RawFundingRate:   m.FundingRate,
			IntervalHours:    m.FundingIntervalH,
			Volume24hBase:    m.Volume24hBase,
			Volume24hQuote:   m.Volume24hQuote,
			Low24h:           m.Low24h,
			High24h:          m.High24h,
			Change24hPercent: m.Change24hPercent,
		}, nil
	}
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
