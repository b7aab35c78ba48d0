// Package movingavg computes per-venue and cross-venue moving averages of
// normalized funding rates over the canonical trailing windows (§4.7).
package movingavg

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// outlierSigma bounds the re-computed mean to samples within this many
// standard deviations (§4.7 step 2).
const outlierSigma = 3.0

// Engine runs the moving-average computation. It is the sole writer of
// funding_ma and funding_ma_cross (§3 Ownership).
type Engine struct {
	repo    persistence.MovingAverageRepo
	unified persistence.UnifiedRepo
	log     zerolog.Logger
}

// NewEngine builds a moving-average engine.
func NewEngine(repo persistence.MovingAverageRepo, unified persistence.UnifiedRepo, log zerolog.Logger) *Engine {
	return &Engine{repo: repo, unified: unified, log: log.With().Str("component", "movingavg").Logger()}
}

// RunAll computes and replaces MA rows for every symbol currently present in
// the unified table. Engine runs entirely as clear-and-repopulate per
// symbol; it never reads a prior MA row to update it (§4.7).
func (e *Engine) RunAll(ctx context.Context) error {
	symbols, err := e.unified.DistinctSymbols(ctx)
	if err != nil {
		return fmt.Errorf("list unified symbols: %w", err)
	}

	var firstErr error
	for _, sym := range symbols {
		if err := e.RunSymbol(ctx, sym); err != nil {
			e.log.Error().Err(err).Str("symbol", sym).Msg("moving average run failed for symbol")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RunSymbol recomputes every per-venue and cross-venue MA row for one
// normalized symbol and replaces them atomically.
func (e *Engine) RunSymbol(ctx context.Context, normalizedSymbol string) error {
	venues, err := e.unified.VenuesForSymbol(ctx, normalizedSymbol)
	if err != nil {
		return fmt.Errorf("venues for %s: %w", normalizedSymbol, err)
	}

	now := time.Now()
	byWindow := make(map[persistence.MAWindow][]persistence.MovingAverageRow)
	var perVenue []persistence.MovingAverageRow

	for _, v := range venues {
		for _, w := range persistence.Windows {
			row, ok, err := e.computeVenueWindow(ctx, normalizedSymbol, v, w, now)
			if err != nil {
				return fmt.Errorf("compute %s/%s/%s: %w", normalizedSymbol, v, w, err)
			}
			if !ok {
				continue
			}
			perVenue = append(perVenue, row)
			byWindow[w] = append(byWindow[w], row)
		}
	}

	var cross []persistence.CrossVenueMARow
	for _, w := range persistence.Windows {
		rows := byWindow[w]
		if len(rows) < 2 {
			continue // cross-venue aggregation requires venue count >= 2 (§4.7)
		}
		cross = append(cross, aggregateCrossVenue(normalizedSymbol, w, rows, now))
	}

	if err := e.repo.ReplaceForSymbol(ctx, normalizedSymbol, perVenue, cross); err != nil {
		return fmt.Errorf("replace ma rows for %s: %w", normalizedSymbol, err)
	}
	return nil
}

func (e *Engine) computeVenueWindow(ctx context.Context, normalizedSymbol string, v venue.Tag, w persistence.MAWindow, now time.Time) (persistence.MovingAverageRow, bool, error) {
	samples, err := e.repo.SourceSamples(ctx, normalizedSymbol, v, w)
	if err != nil {
		return persistence.MovingAverageRow{}, false, err
	}
	if len(samples) < persistence.MinSampleCount(w) {
		return persistence.MovingAverageRow{}, false, nil
	}

	if w != persistence.Window24h {
		earliest, err := e.unified.EarliestFundingTime(ctx, normalizedSymbol, v)
		if err != nil {
			return persistence.MovingAverageRow{}, false, err
		}
		if earliest.IsZero() || earliest.After(now.Add(-persistence.WindowDuration(w))) {
			return persistence.MovingAverageRow{}, false, nil // §4.7 eligibility gate
		}
	}

	rates := make([]float64, len(samples))
	for i, s := range samples {
		rates[i] = s.Rate1hPercent
	}

	mean, stddev := meanStddev(rates)
	filtered := rates
	if stddev != 0 && len(rates) >= 3 {
		filtered = withinSigma(rates, mean, stddev, outlierSigma)
	}
	finalMean, _ := meanStddev(filtered)

	min, max := filtered[0], filtered[0]
	for _, r := range filtered {
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}

	row := persistence.MovingAverageRow{
		NormalizedSymbol: normalizedSymbol,
		Venue:            string(v),
		Window:           w,
		MARate1h:         finalMean,
		MAAPR:            finalMean * hoursPerYear,
		SampleCount:      len(filtered),
		StdDev:           stddev,
		Min:              min,
		Max:              max,
		CalculatedAt:     now,
		WindowStart:      now.Add(-persistence.WindowDuration(w)),
		WindowEnd:        now,
	}
	return row, true, nil
}

// hoursPerYear matches funding.Normalize's annualization convention.
const hoursPerYear = 24 * 365

func aggregateCrossVenue(normalizedSymbol string, w persistence.MAWindow, rows []persistence.MovingAverageRow, now time.Time) persistence.CrossVenueMARow {
	var sum, weightedSum, totalWeight float64
	min, max := rows[0].MARate1h, rows[0].MARate1h
	for _, r := range rows {
		sum += r.MARate1h
		weight := float64(r.SampleCount)
		weightedSum += r.MARate1h * weight
		totalWeight += weight
		if r.MARate1h < min {
			min = r.MARate1h
		}
		if r.MARate1h > max {
			max = r.MARate1h
		}
	}

	weighted := sum / float64(len(rows))
	if totalWeight > 0 {
		weighted = weightedSum / totalWeight
	}

	return persistence.CrossVenueMARow{
		NormalizedSymbol: normalizedSymbol,
		Window:           w,
		SimpleAverage:    sum / float64(len(rows)),
		WeightedAverage:  weighted,
		Min:              min,
		Max:              max,
		Spread:           max - min,
		VenueCount:       len(rows),
		CalculatedAt:     now,
	}
}

func meanStddev(vals []float64) (mean, stddev float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean = sum / float64(len(vals))

	var sumSq float64
	for _, v := range vals {
		d := v - mean
		sumSq += d * d
	}
	stddev = math.Sqrt(sumSq / float64(len(vals)))
	return mean, stddev
}

func withinSigma(vals []float64, mean, stddev, sigma float64) []float64 {
	out := make([]float64, 0, len(vals))
	bound := sigma * stddev
	for _, v := range vals {
		if math.Abs(v-mean) <= bound {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return vals // never drop every sample to an empty window
	}
	return out
}
