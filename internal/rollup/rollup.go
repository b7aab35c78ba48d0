// Package rollup implements the three-stage aggregation pipeline that
// compacts 15-second snapshots into 1-minute, then 1-hour, buckets, and
// refreshes the live view (§4.4).
package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/fundingedge/internal/funding"
	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/symbol"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// maxHourBatches bounds stage A's working set to at most 50 hours of raw
// retention per run (§4.4).
const maxHourBatches = 50

// Engine runs the three rollup stages against persistence.RollupRepo. It is
// the sole writer of market_stats_1m, market_history, and normalized_tokens
// (§3 Ownership).
type Engine struct {
	repo persistence.RollupRepo
	log  zerolog.Logger
}

// NewEngine builds a rollup engine.
func NewEngine(repo persistence.RollupRepo, log zerolog.Logger) *Engine {
	return &Engine{repo: repo, log: log.With().Str("component", "rollup").Logger()}
}

type minuteKey struct {
	venue  string
	symbol string
	bucket int64 // unix seconds, minute-aligned
}

type minuteAcc struct {
	normalizedSymbol string
	minPrice         float64
	maxPrice         float64
	sumPrice         float64
	sumVolBase       float64
	sumVolQuote      float64
	sumOIUSD         float64
	maxOIUSD         float64
	sumFunding       float64
	minFunding       float64
	maxFunding       float64
	sumAnnualized    float64
	fundingSamples   int
	count            int
}

func (a *minuteAcc) addPrice(p float64) {
	if a.count == 0 {
		a.minPrice, a.maxPrice = p, p
	} else {
		if p < a.minPrice {
			a.minPrice = p
		}
		if p > a.maxPrice {
			a.maxPrice = p
		}
	}
	a.sumPrice += p
}

func (a *minuteAcc) addFunding(hourlyPercent float64) {
	if a.fundingSamples == 0 {
		a.minFunding, a.maxFunding = hourlyPercent, hourlyPercent
	} else {
		if hourlyPercent < a.minFunding {
			a.minFunding = hourlyPercent
		}
		if hourlyPercent > a.maxFunding {
			a.maxFunding = hourlyPercent
		}
	}
	a.sumFunding += hourlyPercent
	a.fundingSamples++
}

// RunStageA aggregates raw snapshots older than 5 minutes into 1-minute
// buckets, in batches of at most one hour each, deleting consumed raw rows
// after each batch commits (§4.4).
func (e *Engine) RunStageA(ctx context.Context) error {
	rows, err := e.repo.UnrolledSnapshots(ctx, maxHourBatches)
	if err != nil {
		return fmt.Errorf("fetch unrolled snapshots: %w", err)
	}

	cutoffMs := time.Now().Add(-5 * time.Minute).UnixMilli()

	byHour := make(map[int64][]persistence.Snapshot)
	var hours []int64
	for _, s := range rows {
		if s.RecordedAtMs >= cutoffMs {
			continue
		}
		hourBucket := (s.RecordedAtMs / 1000 / 3600) * 3600
		if _, ok := byHour[hourBucket]; !ok {
			hours = append(hours, hourBucket)
		}
		byHour[hourBucket] = append(byHour[hourBucket], s)
	}
	sortInt64s(hours)
	if len(hours) > maxHourBatches {
		hours = hours[:maxHourBatches]
	}

	for _, hourBucket := range hours {
		if err := e.aggregateHourBatch(ctx, hourBucket, byHour[hourBucket]); err != nil {
			return fmt.Errorf("stage A batch %d: %w", hourBucket, err)
		}
	}

	return nil
}

func (e *Engine) aggregateHourBatch(ctx context.Context, hourBucket int64, rows []persistence.Snapshot) error {
	acc := make(map[minuteKey]*minuteAcc)
	var order []minuteKey
	var lastMs int64

	for _, s := range rows {
		if s.RecordedAtMs > lastMs {
			lastMs = s.RecordedAtMs
		}
		bucket := (s.RecordedAtMs / 1000 / 60) * 60
		key := minuteKey{venue: s.Venue, symbol: s.OriginalSymbol, bucket: bucket}
		a, ok := acc[key]
		if !ok {
			a = &minuteAcc{normalizedSymbol: symbol.Normalize(s.OriginalSymbol)}
			acc[key] = a
			order = append(order, key)
		}

		a.addPrice(s.MarkPrice)
		a.sumVolBase += s.Volume24hBase
		a.sumVolQuote += s.Volume24hQuote
		a.sumOIUSD += s.OpenInterestUSD
		if s.OpenInterestUSD > a.maxOIUSD {
			a.maxOIUSD = s.OpenInterestUSD
		}
		a.count++

		rate := funding.Normalize(venue.Tag(s.Venue), s.RawFundingRate, s.FundingIntervalH)
		if funding.WithinQualityBound(rate.HourlyPercent) {
			a.addFunding(rate.HourlyPercent)
			a.sumAnnualized += rate.AnnualizedPercent
		}
	}

	out := make([]persistence.MinuteAggregate, 0, len(order))
	for _, key := range order {
		a := acc[key]
		avgPrice := a.sumPrice / float64(a.count)
		volatility := 0.0
		if avgPrice != 0 {
			volatility = (a.maxPrice - a.minPrice) / avgPrice * 100
		}

		row := persistence.MinuteAggregate{
			Venue:              key.venue,
			OriginalSymbol:     key.symbol,
			NormalizedSymbol:   a.normalizedSymbol,
			MinPrice:           a.minPrice,
			AvgMarkPrice:       avgPrice,
			MaxPrice:           a.maxPrice,
			VolatilityPercent:  volatility,
			Volume24hBase:      a.sumVolBase,
			Volume24hQuote:     a.sumVolQuote,
			AvgOpenInterestUSD: a.sumOIUSD / float64(a.count),
			MaxOpenInterestUSD: a.maxOIUSD,
			MinuteBucket:       time.Unix(key.bucket, 0).UTC(),
			SampleCount:        a.count,
		}
		if a.fundingSamples > 0 {
			row.AvgFundingRate = a.sumFunding / float64(a.fundingSamples)
			row.MinFundingRate = a.minFunding
			row.MaxFundingRate = a.maxFunding
			row.AvgAnnualizedFunding = a.sumAnnualized / float64(a.fundingSamples)
		}
		out = append(out, row)
	}

	if err := e.repo.UpsertMinuteAggregates(ctx, out); err != nil {
		return fmt.Errorf("upsert minute aggregates: %w", err)
	}

	cutoff := time.UnixMilli(lastMs + 1)
	if _, err := e.repo.DeleteOlderThan(ctx, cutoff); err != nil {
		// A stage never deletes rows it did not successfully aggregate (§4.4);
		// the minute upsert above already committed and is safe to re-run.
		return fmt.Errorf("delete aggregated raw rows: %w", err)
	}

	return nil
}

// RunStageB aggregates 1-minute rows older than 1 hour into hour buckets,
// using sample-count-weighted averages so longer-observed minutes dominate
// (§4.4).
func (e *Engine) RunStageB(ctx context.Context) error {
	cutoff := time.Now().Add(-1 * time.Hour)
	minutes, err := e.repo.UnrolledMinutes(ctx, time.Time{})
	if err != nil {
		return fmt.Errorf("fetch unrolled minutes: %w", err)
	}

	type hourKey struct {
		venue  string
		symbol string
		bucket int64
	}
	type hourAcc struct {
		normalizedSymbol string
		minPrice         float64
		maxPrice         float64
		weightedPrice    float64
		sumVolBase       float64
		sumVolQuote      float64
		weightedOIUSD    float64
		maxOIUSD         float64
		weightedFunding  float64
		minFunding       float64
		maxFunding       float64
		weightedAnnual   float64
		sampleCount      int
		seen             bool
	}

	acc := make(map[hourKey]*hourAcc)
	var order []hourKey

	for _, m := range minutes {
		if !m.MinuteBucket.Before(cutoff) {
			continue
		}
		bucket := m.MinuteBucket.Unix() / 3600 * 3600
		key := hourKey{venue: m.Venue, symbol: m.OriginalSymbol, bucket: bucket}
		a, ok := acc[key]
		if !ok {
			a = &hourAcc{normalizedSymbol: m.NormalizedSymbol}
			acc[key] = a
			order = append(order, key)
		}

		w := float64(m.SampleCount)
		if !a.seen {
			a.minPrice, a.maxPrice = m.MinPrice, m.MaxPrice
			a.seen = true
		} else {
			if m.MinPrice < a.minPrice {
				a.minPrice = m.MinPrice
			}
			if m.MaxPrice > a.maxPrice {
				a.maxPrice = m.MaxPrice
			}
		}
		a.weightedPrice += m.AvgMarkPrice * w
		a.sumVolBase += m.Volume24hBase
		a.sumVolQuote += m.Volume24hQuote
		a.weightedOIUSD += m.AvgOpenInterestUSD * w
		if m.MaxOpenInterestUSD > a.maxOIUSD {
			a.maxOIUSD = m.MaxOpenInterestUSD
		}
		if m.SampleCount > 0 {
			if a.sampleCount == 0 {
				a.minFunding, a.maxFunding = m.MinFundingRate, m.MaxFundingRate
			} else {
				if m.MinFundingRate < a.minFunding {
					a.minFunding = m.MinFundingRate
				}
				if m.MaxFundingRate > a.maxFunding {
					a.maxFunding = m.MaxFundingRate
				}
			}
			a.weightedFunding += m.AvgFundingRate * w
			a.weightedAnnual += m.AvgAnnualizedFunding * w
		}
		a.sampleCount += m.SampleCount
	}

	out := make([]persistence.HourAggregate, 0, len(order))
	for _, key := range order {
		a := acc[key]
		w := float64(a.sampleCount)
		avgPrice := 0.0
		if w > 0 {
			avgPrice = a.weightedPrice / w
		}
		volatility := 0.0
		if avgPrice != 0 {
			volatility = (a.maxPrice - a.minPrice) / avgPrice * 100
		}

		row := persistence.HourAggregate{
			Venue:              key.venue,
			OriginalSymbol:     key.symbol,
			NormalizedSymbol:   a.normalizedSymbol,
			MinPrice:           a.minPrice,
			AvgMarkPrice:       avgPrice,
			MaxPrice:           a.maxPrice,
			VolatilityPercent:  volatility,
			Volume24hBase:      a.sumVolBase,
			Volume24hQuote:     a.sumVolQuote,
			HourBucket:         time.Unix(key.bucket, 0).UTC(),
			SampleCount:        a.sampleCount,
		}
		if w > 0 {
			row.AvgOpenInterestUSD = a.weightedOIUSD / w
			row.MaxOpenInterestUSD = a.maxOIUSD
			row.AvgFundingRate = a.weightedFunding / w
			row.MinFundingRate = a.minFunding
			row.MaxFundingRate = a.maxFunding
			row.AvgAnnualizedFunding = a.weightedAnnual / w
		}
		out = append(out, row)
	}

	if err := e.repo.UpsertHourAggregates(ctx, out); err != nil {
		return fmt.Errorf("upsert hour aggregates: %w", err)
	}

	// Only the minute rows actually folded into the hour batch above are
	// consumed; a stage never deletes rows it did not successfully
	// aggregate (§4.4).
	if _, err := e.repo.DeleteMinutesOlderThan(ctx, cutoff); err != nil {
		return fmt.Errorf("delete consumed minute rows: %w", err)
	}

	return nil
}

// RunStageC refreshes the live view for every (venue, symbol) seen in the
// last 10 minutes (§4.4).
func (e *Engine) RunStageC(ctx context.Context) error {
	if err := e.repo.RefreshLiveView(ctx); err != nil {
		return fmt.Errorf("refresh live view: %w", err)
	}
	return nil
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
