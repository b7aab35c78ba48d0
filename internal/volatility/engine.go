// Package volatility computes the derived price-series statistics the live
// view exposes alongside funding data: a 14-period Average True Range, 24h
// and 7d realized volatility, and Bollinger band width. It reads its source
// series from the hour-aggregate table (§4.4, §9) since that table is
// retained indefinitely, and is the component that resolves the live view's
// previously-zeroed statistics columns.
package volatility

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// atrPeriods is the classic Average True Range lookback.
const atrPeriods = 14

// vol24hPeriods / vol7dPeriods are expressed in hourly bars, matching the
// hour-aggregate table's grain.
const (
	vol24hPeriods = 24
	vol7dPeriods  = 24 * 7
)

// bollingerPeriods is the moving-average window Bollinger width is computed
// over; 20 hourly bars is the conventional default period length.
const bollingerPeriods = 20

// Engine runs the volatility computation. It is the sole writer of
// volatility_stats.
type Engine struct {
	repo persistence.VolatilityRepo
	log  zerolog.Logger
}

// NewEngine builds a volatility engine.
func NewEngine(repo persistence.VolatilityRepo, log zerolog.Logger) *Engine {
	return &Engine{repo: repo, log: log.With().Str("component", "volatility").Logger()}
}

// RunAll recomputes volatility statistics for every (venue, symbol) with
// hour-aggregate history, ahead of the live-view refresh that reads its
// output (§4.4 stage C).
func (e *Engine) RunAll(ctx context.Context) error {
	pairs, err := e.repo.DistinctVenueSymbols(ctx)
	if err != nil {
		return fmt.Errorf("list venue symbols: %w", err)
	}

	var out []persistence.VolatilityRow
	now := time.Now()
	for _, p := range pairs {
		bars, err := e.repo.HourHistory(ctx, venue.Tag(p.Venue), p.OriginalSymbol, vol7dPeriods)
		if err != nil {
			e.log.Error().Err(err).Str("venue", p.Venue).Str("symbol", p.OriginalSymbol).Msg("hour history fetch failed")
			continue
		}
		if len(bars) < 2 {
			continue
		}
		out = append(out, persistence.VolatilityRow{
			Venue:          p.Venue,
			OriginalSymbol: p.OriginalSymbol,
			ATR14:          atr(bars, atrPeriods),
			RealizedVol24h: realizedVol(bars, vol24hPeriods),
			RealizedVol7d:  realizedVol(bars, vol7dPeriods),
			BollingerWidth: bollingerWidth(bars, bollingerPeriods),
			UpdatedAt:      now,
		})
	}

	if err := e.repo.UpsertBatch(ctx, out); err != nil {
		return fmt.Errorf("upsert volatility stats: %w", err)
	}
	return nil
}

// atr computes a simple (unsmoothed) Average True Range over up to periods
// of the most-recent bars. bars is ordered newest-first; true range uses
// each bar's high/low/close proxies (max_price, min_price, avg_mark_price)
// since the hour-aggregate table has no separate close field.
func atr(bars []persistence.HourAggregate, periods int) float64 {
	n := periods
	if n > len(bars)-1 {
		n = len(bars) - 1
	}
	if n < 1 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		cur := bars[i]
		prevClose := bars[i+1].AvgMarkPrice
		highLow := cur.MaxPrice - cur.MinPrice
		highPrevClose := math.Abs(cur.MaxPrice - prevClose)
		lowPrevClose := math.Abs(cur.MinPrice - prevClose)
		tr := math.Max(highLow, math.Max(highPrevClose, lowPrevClose))
		sum += tr
	}
	return sum / float64(n)
}

// realizedVol computes the standard deviation of hourly log returns over up
// to periods bars, expressed as a percent.
func realizedVol(bars []persistence.HourAggregate, periods int) float64 {
	n := periods
	if n > len(bars)-1 {
		n = len(bars) - 1
	}
	if n < 2 {
		return 0
	}

	returns := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		cur, prev := bars[i].AvgMarkPrice, bars[i+1].AvgMarkPrice
		if cur <= 0 || prev <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var sumSq float64
	for _, r := range returns {
		d := r - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(len(returns)))
	return stddev * 100
}

// bollingerWidth computes (upperBand - lowerBand) / middleBand using a
// 2-standard-deviation band around the simple moving average of the most
// recent `periods` bars' avg_mark_price.
func bollingerWidth(bars []persistence.HourAggregate, periods int) float64 {
	n := periods
	if n > len(bars) {
		n = len(bars)
	}
	if n < 2 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		sum += bars[i].AvgMarkPrice
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 0
	}

	var sumSq float64
	for i := 0; i < n; i++ {
		d := bars[i].AvgMarkPrice - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(n))

	upper := mean + 2*stddev
	lower := mean - 2*stddev
	return (upper - lower) / mean
}
