// Package adapters binds the generic collector worker to the 13 venues in
// the registry. Venue wire payloads are treated as opaque JSON (§6): each
// venue exposes the same listing shape (one array of market-state objects)
// over its own endpoint, so one HTTP and one websocket adapter cover every
// venue, parameterized entirely by venue.Config.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sawpanic/fundingedge/internal/collector"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// marketEntry is the common per-symbol listing shape every polling venue's
// REST endpoint returns (§6: payload-field mapping is the only contract).
type marketEntry struct {
	Symbol           string  `json:"symbol"`
	MarkPrice        float64 `json:"markPrice"`
	IndexPrice       float64 `json:"indexPrice"`
	OpenInterest     float64 `json:"openInterest"`
	LastPrice        float64 `json:"lastPrice"`
	FundingRate      float64 `json:"fundingRate"`
	FundingIntervalH float64 `json:"fundingIntervalHours"`
	Volume24hBase    float64 `json:"volume24hBase"`
	Volume24hQuote   float64 `json:"volume24hQuote"`
	Low24h           float64 `json:"low24h"`
	High24h          float64 `json:"high24h"`
	Change24hPercent float64 `json:"change24hPercent"`
}

type marketListing struct {
	Markets []marketEntry `json:"markets"`
}

// HTTPPollAdapter implements collector.PollAdapter for a single venue's REST
// endpoint.
type HTTPPollAdapter struct {
	Venue  venue.Tag
	URL    string
	Client *http.Client
}

// NewHTTPPollAdapter builds a poll adapter from a venue's registry entry.
func NewHTTPPollAdapter(v venue.Tag, client *http.Client) *HTTPPollAdapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPPollAdapter{Venue: v, URL: venue.Registry[v].PollEndpoint, Client: client}
}

var _ collector.PollAdapter = (*HTTPPollAdapter)(nil)

func (a *HTTPPollAdapter) Fetch(ctx context.Context) ([]collector.MarketUpdate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", a.Venue, err)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", a.Venue, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: non-2xx status %d", a.Venue, resp.StatusCode)
	}

	var listing marketListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", a.Venue, err)
	}

	out := make([]collector.MarketUpdate, 0, len(listing.Markets))
	for _, m := range listing.Markets {
		out = append(out, collector.MarketUpdate{
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
		})
	}
	return out, nil
}
