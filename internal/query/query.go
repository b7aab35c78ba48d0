// Package query implements the read-only operation surface §4.9 exposes to
// the HTTP layer: normalized-market listings, unified funding rows, moving
// averages, arbitrage opportunities, and the interval-dispatching historical
// series endpoint. Every operation enforces the result-size and time-range
// caps from §6 before it touches storage.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/fundingedge/internal/cache"
	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// Error classes a caller maps onto HTTP status (§7): bad/missing parameter
// is 400, anything else from storage is 500 with a generic message.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func badRequest(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Result caps from §6.
const (
	MaxRawLimit  = 10000
	MaxBulkLimit = 1000
	maxRangeDays = 30
)

// queryCacheTTL bounds how stale a cached listing/MA response may be. It is
// short relative to the scheduler's 5-minute pass so a cache hit never
// outlives the data it was read from by more than one collector flush tick.
const queryCacheTTL = 15 * time.Second

// Service answers every §4.9 query against the persistence layer. A nil
// cache is valid and simply disables the cache-aside behavior on the read
// paths that use it (ListNormalizedMarkets, FundingMA), matching
// cfg.Cache.Enabled=false at the call site.
type Service struct {
	stores persistence.Stores
	cache  *cache.Cache
}

// NewService builds a query service over the given store set. c may be nil
// when the response cache is disabled.
func NewService(stores persistence.Stores, c *cache.Cache) *Service {
	return &Service{stores: stores, cache: c}
}

// MarketFilter narrows listNormalizedMarkets.
type MarketFilter struct {
	NormalizedSymbol string
	Venue            venue.Tag
}

// ListNormalizedMarkets returns the live view, optionally filtered by
// normalized symbol and/or venue. Results are cache-aside'd under a key
// scoped to the filter, since the live view refreshes at most once per
// collector flush tick.
func (s *Service) ListNormalizedMarkets(ctx context.Context, f MarketFilter) ([]persistence.NormalizedToken, error) {
	key := fmt.Sprintf("query:markets:%s:%s", f.NormalizedSymbol, f.Venue)
	if s.cache != nil {
		var cached []persistence.NormalizedToken
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	rows, err := s.stores.Tokens.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list normalized markets: %w", err)
	}

	out := rows[:0:0]
	for _, r := range rows {
		if f.NormalizedSymbol != "" && r.NormalizedSymbol != f.NormalizedSymbol {
			continue
		}
		if f.Venue != "" && r.Venue != string(f.Venue) {
			continue
		}
		out = append(out, r)
	}

	if s.cache != nil {
		_ = s.cache.Put(ctx, key, out, queryCacheTTL)
	}
	return out, nil
}

// CompareSymbolAcrossVenues returns one live-view row per venue quoting the
// given normalized symbol, plus aggregate totals.
func (s *Service) CompareSymbolAcrossVenues(ctx context.Context, normalized string) (rows []persistence.NormalizedToken, totalOI float64, err error) {
	if normalized == "" {
		return nil, 0, badRequest("normalized symbol is required")
	}

	rows, err = s.stores.Tokens.BySymbol(ctx, normalized)
	if err != nil {
		return nil, 0, fmt.Errorf("compare symbol across venues: %w", err)
	}
	for _, r := range rows {
		totalOI += r.OpenInterestUSD
	}
	return rows, totalOI, nil
}

// RateFilter narrows funding_rates / funding_apr.
type RateFilter struct {
	NormalizedSymbol string
	Venue            venue.Tag // empty means all venues
	Range            persistence.TimeRange
	Limit            int
}

func (f RateFilter) validate() error {
	if f.NormalizedSymbol == "" {
		return badRequest("normalized symbol is required")
	}
	if f.Limit <= 0 || f.Limit > MaxRawLimit {
		return badRequest("limit must be between 1 and %d", MaxRawLimit)
	}
	if !f.Range.From.IsZero() && !f.Range.To.IsZero() && f.Range.To.Sub(f.Range.From) > maxRangeDays*24*time.Hour {
		return badRequest("time range exceeds %d days", maxRangeDays)
	}
	return nil
}

// FundingRates returns raw unified rows for a symbol, optionally scoped to
// one venue and/or time range.
func (s *Service) FundingRates(ctx context.Context, f RateFilter) ([]persistence.UnifiedFundingRow, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	var rows []persistence.UnifiedFundingRow
	var err error
	if f.Venue != "" {
		rows, err = s.stores.Unified.BySymbolAndVenue(ctx, f.NormalizedSymbol, f.Venue, f.Range)
	} else {
		rows, err = s.stores.Unified.BySymbol(ctx, f.NormalizedSymbol, f.Range)
	}
	if err != nil {
		return nil, fmt.Errorf("funding rates: %w", err)
	}
	if len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	return rows, nil
}

// AprRow is the funding_apr projection of a unified row: the same
// identifying fields plus only the APR figure.
type AprRow struct {
	NormalizedSymbol string
	Venue            string
	FundingTime      time.Time
	RateAPR          float64
}

// FundingAPR is the same shape as FundingRates, projected onto rate_apr.
func (s *Service) FundingAPR(ctx context.Context, f RateFilter) ([]AprRow, error) {
	rows, err := s.FundingRates(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]AprRow, len(rows))
	for i, r := range rows {
		out[i] = AprRow{
			NormalizedSymbol: r.NormalizedSymbol,
			Venue:            r.Venue,
			FundingTime:      r.FundingTime,
			RateAPR:          r.RateAPR,
		}
	}
	return out, nil
}

// VenueSummary is one venue's aggregate stats within a funding_summary
// response.
type VenueSummary struct {
	Venue       string
	SampleCount int
	MeanRate1h  float64
	MinRate1h   float64
	MaxRate1h   float64
}

// FundingSummary aggregates per-venue stats for a symbol over a window, by
// scanning the already-computed MA row for that window rather than
// re-aggregating raw rows.
func (s *Service) FundingSummary(ctx context.Context, normalized string, window persistence.MAWindow) ([]VenueSummary, error) {
	if normalized == "" {
		return nil, badRequest("normalized symbol is required")
	}

	perVenue, _, err := s.stores.MovingAvgs.Latest(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("funding summary: %w", err)
	}

	var out []VenueSummary
	for _, r := range perVenue {
		if r.Window != window {
			continue
		}
		out = append(out, VenueSummary{
			Venue:       r.Venue,
			SampleCount: r.SampleCount,
			MeanRate1h:  r.MARate1h,
			MinRate1h:   r.Min,
			MaxRate1h:   r.Max,
		})
	}
	return out, nil
}

// fundingMACacheEntry is the cached shape of a FundingMA response: at most
// one of Rows/Cross is populated, mirroring the method's own return values.
type fundingMACacheEntry struct {
	Rows  []persistence.MovingAverageRow
	Cross *persistence.CrossVenueMARow
}

// FundingMA returns moving-average rows for a symbol over a window. Passing
// an empty venue and cross=true returns the cross-venue aggregate instead of
// per-venue rows. Cache-aside'd like ListNormalizedMarkets: the MA engine
// only recomputes on the 5-minute schedule, so a short-TTL cache absorbs
// repeat reads between passes.
func (s *Service) FundingMA(ctx context.Context, normalized string, window persistence.MAWindow, v venue.Tag, cross bool) ([]persistence.MovingAverageRow, *persistence.CrossVenueMARow, error) {
	if normalized == "" {
		return nil, nil, badRequest("normalized symbol is required")
	}

	key := fmt.Sprintf("query:ma:%s:%s:%s:%v", normalized, window, v, cross)
	if s.cache != nil {
		var cached fundingMACacheEntry
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached.Rows, cached.Cross, nil
		}
	}

	perVenue, crossRows, err := s.stores.MovingAvgs.Latest(ctx, normalized)
	if err != nil {
		return nil, nil, fmt.Errorf("funding ma: %w", err)
	}

	if cross {
		for _, c := range crossRows {
			if c.Window == window {
				c := c
				if s.cache != nil {
					_ = s.cache.Put(ctx, key, fundingMACacheEntry{Cross: &c}, queryCacheTTL)
				}
				return nil, &c, nil
			}
		}
		if s.cache != nil {
			_ = s.cache.Put(ctx, key, fundingMACacheEntry{}, queryCacheTTL)
		}
		return nil, nil, nil
	}

	var out []persistence.MovingAverageRow
	for _, r := range perVenue {
		if r.Window != window {
			continue
		}
		if v != "" && r.Venue != string(v) {
			continue
		}
		out = append(out, r)
	}

	if s.cache != nil {
		_ = s.cache.Put(ctx, key, fundingMACacheEntry{Rows: out}, queryCacheTTL)
	}
	return out, nil, nil
}

// FundingMALatest returns the most recent MA row set for a symbol across all
// windows, optionally scoped to one venue.
func (s *Service) FundingMALatest(ctx context.Context, normalized string, v venue.Tag) ([]persistence.MovingAverageRow, []persistence.CrossVenueMARow, error) {
	if normalized == "" {
		return nil, nil, badRequest("normalized symbol is required")
	}

	perVenue, cross, err := s.stores.MovingAvgs.Latest(ctx, normalized)
	if err != nil {
		return nil, nil, fmt.Errorf("funding ma latest: %w", err)
	}
	if v == "" {
		return perVenue, cross, nil
	}

	filtered := perVenue[:0:0]
	for _, r := range perVenue {
		if r.Venue == string(v) {
			filtered = append(filtered, r)
		}
	}
	return filtered, cross, nil
}

// FundingMABulk returns the latest per-venue MA rows for many symbols in one
// call, capped at MaxBulkLimit symbols.
func (s *Service) FundingMABulk(ctx context.Context, symbols []string) (map[string][]persistence.MovingAverageRow, error) {
	if len(symbols) == 0 {
		return nil, badRequest("at least one symbol is required")
	}
	if len(symbols) > MaxBulkLimit {
		return nil, badRequest("bulk request exceeds limit of %d symbols", MaxBulkLimit)
	}

	out, err := s.stores.MovingAvgs.LatestBulk(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("funding ma bulk: %w", err)
	}
	return out, nil
}

// ArbitrageFilter narrows the arbitrage query.
type ArbitrageFilter struct {
	NormalizedSymbol string // empty means all symbols, served via Top
	Venue            venue.Tag
	Window           persistence.MAWindow // empty means all windows
	MinSpread        float64
	MinSpreadAPR     float64
	StableOnly       bool
	Limit            int
}

// Arbitrage returns opportunity rows matching the filter, sorted by
// descending spread APR (the repository's natural order).
func (s *Service) Arbitrage(ctx context.Context, f ArbitrageFilter) ([]persistence.ArbitrageRow, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = MaxBulkLimit
	}
	if limit > MaxBulkLimit {
		return nil, badRequest("limit must be at most %d", MaxBulkLimit)
	}

	var rows []persistence.ArbitrageRow
	var err error
	if f.NormalizedSymbol != "" {
		rows, err = s.stores.Arbitrage.BySymbol(ctx, f.NormalizedSymbol)
	} else {
		rows, err = s.stores.Arbitrage.Top(ctx, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("arbitrage: %w", err)
	}

	out := rows[:0:0]
	for _, r := range rows {
		if f.Venue != "" && r.LongVenue != string(f.Venue) && r.ShortVenue != string(f.Venue) {
			continue
		}
		if f.Window != "" && r.Window != f.Window {
			continue
		}
		if r.Spread < f.MinSpread {
			continue
		}
		if r.SpreadAPR < f.MinSpreadAPR {
			continue
		}
		if f.StableOnly && !r.IsStable {
			continue
		}
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Interval selects which historical source normalized_data dispatches to.
type Interval string

const (
	IntervalRaw  Interval = "raw"
	Interval15m  Interval = "15m"
	Interval1h   Interval = "1h"
	Interval4h   Interval = "4h"
	Interval1d   Interval = "1d"
	Interval7d   Interval = "7d"
	Interval30d  Interval = "30d"
	IntervalAuto Interval = "auto"
)

// HistoryPoint is one row of the normalized_data series, shaped uniformly
// regardless of which underlying table it was dispatched to.
type HistoryPoint struct {
	Timestamp   time.Time
	MarkPrice   float64
	FundingRate float64
	SampleCount int
}

// NormalizedData dispatches to the raw, minute, or hour table based on
// interval and the age of [from, to), filling gaps near "now" by aggregating
// minute rows on the fly when an hour-table range would otherwise be empty.
// Ranges longer than 30 days are rejected outright (§4.9, §6).
func (s *Service) NormalizedData(ctx context.Context, normalized string, v venue.Tag, original string, from, to time.Time, interval Interval) ([]HistoryPoint, error) {
	if normalized == "" && original == "" {
		return nil, badRequest("normalized or original symbol is required")
	}
	if !to.After(from) {
		return nil, badRequest("to must be after from")
	}
	if to.Sub(from) > maxRangeDays*24*time.Hour {
		return nil, badRequest("time range exceeds %d days", maxRangeDays)
	}

	resolved := interval
	if resolved == IntervalAuto {
		resolved = resolveAutoInterval(from, to)
	}

	tr := persistence.TimeRange{From: from, To: to}

	switch resolved {
	case IntervalRaw:
		rows, err := s.stores.Snapshots.RangeScan(ctx, v, original, tr)
		if err != nil {
			return nil, fmt.Errorf("normalized data (raw): %w", err)
		}
		out := make([]HistoryPoint, len(rows))
		for i, r := range rows {
			out[i] = HistoryPoint{
				Timestamp:   time.UnixMilli(r.RecordedAtMs),
				MarkPrice:   r.MarkPrice,
				FundingRate: r.RawFundingRate,
				SampleCount: 1,
			}
		}
		return out, nil

	case Interval15m, Interval1h:
		rows, err := s.stores.Snapshots.MinuteRangeScan(ctx, v, original, tr)
		if err != nil {
			return nil, fmt.Errorf("normalized data (minute): %w", err)
		}
		points := make([]HistoryPoint, len(rows))
		for i, r := range rows {
			points[i] = HistoryPoint{
				Timestamp:   r.MinuteBucket,
				MarkPrice:   r.AvgMarkPrice,
				FundingRate: r.AvgFundingRate,
				SampleCount: r.SampleCount,
			}
		}
		if resolved == Interval15m {
			return bucketPoints(points, 15*time.Minute), nil
		}
		return bucketPoints(points, time.Hour), nil

	case Interval4h, Interval1d, Interval7d, Interval30d:
		rows, err := s.stores.Snapshots.HourRangeScan(ctx, v, original, tr)
		if err != nil {
			return nil, fmt.Errorf("normalized data (hour): %w", err)
		}
		if len(rows) == 0 {
			minutes, err := s.stores.Snapshots.MinuteRangeScan(ctx, v, original, tr)
			if err != nil {
				return nil, fmt.Errorf("normalized data (minute fallback): %w", err)
			}
			points := make([]HistoryPoint, len(minutes))
			for i, m := range minutes {
				points[i] = HistoryPoint{Timestamp: m.MinuteBucket, MarkPrice: m.AvgMarkPrice, FundingRate: m.AvgFundingRate, SampleCount: m.SampleCount}
			}
			return bucketPoints(points, intervalBucketSize(resolved)), nil
		}
		points := make([]HistoryPoint, len(rows))
		for i, r := range rows {
			points[i] = HistoryPoint{
				Timestamp:   r.HourBucket,
				MarkPrice:   r.AvgMarkPrice,
				FundingRate: r.AvgFundingRate,
				SampleCount: r.SampleCount,
			}
		}
		return bucketPoints(points, intervalBucketSize(resolved)), nil

	default:
		return nil, badRequest("unsupported interval %q", interval)
	}
}

// intervalBucketSize maps a coarse interval name to its bucket duration.
func intervalBucketSize(i Interval) time.Duration {
	switch i {
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	case Interval7d:
		return 7 * 24 * time.Hour
	case Interval30d:
		return 30 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// bucketPoints re-aggregates already-rolled-up points (ordered ascending by
// Timestamp) into coarser fixed-size buckets, sample-count-weighting the
// mark price average the same way the rollup pipeline does (§4.4). It is
// how a range near "now" that the hour table hasn't caught up to yet still
// renders at the requested granularity from whatever rows are on hand.
func bucketPoints(points []HistoryPoint, bucket time.Duration) []HistoryPoint {
	if len(points) == 0 || bucket <= 0 {
		return points
	}

	type acc struct {
		bucketStart      time.Time
		weightedMark     float64
		weightedFunding  float64
		samples          int
	}

	var out []HistoryPoint
	var cur *acc
	flush := func() {
		if cur == nil || cur.samples == 0 {
			return
		}
		out = append(out, HistoryPoint{
			Timestamp:   cur.bucketStart,
			MarkPrice:   cur.weightedMark / float64(cur.samples),
			FundingRate: cur.weightedFunding / float64(cur.samples),
			SampleCount: cur.samples,
		})
	}

	for _, p := range points {
		bucketStart := p.Timestamp.Truncate(bucket)
		if cur == nil || !cur.bucketStart.Equal(bucketStart) {
			flush()
			cur = &acc{bucketStart: bucketStart}
		}
		weight := p.SampleCount
		if weight < 1 {
			weight = 1
		}
		cur.weightedMark += p.MarkPrice * float64(weight)
		cur.weightedFunding += p.FundingRate * float64(weight)
		cur.samples += weight
	}
	flush()
	return out
}

// resolveAutoInterval picks a table granularity from the requested range's
// age and span: recent, short ranges read raw data; older or wider ranges
// read the coarser rollup tables so the query stays within the result cap.
func resolveAutoInterval(from, to time.Time) Interval {
	span := to.Sub(from)
	age := time.Since(to)

	switch {
	case span <= time.Hour && age <= 24*time.Hour:
		return IntervalRaw
	case span <= 24*time.Hour:
		return Interval1h
	default:
		return Interval1d
	}
}
