// Package arbitrage computes pairwise cross-venue funding-rate spread
// opportunities from the moving-average engine's output (§4.8).
package arbitrage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// maxAbsAPR drops MA rows whose annualized rate is implausibly large before
// any pairing happens (§4.8 step 3).
const maxAbsAPR = 500.0

// minVariationalOIUSD filters out Variational rows below this open-interest
// floor as illiquid noise (§4.8 step 3).
const minVariationalOIUSD = 200_000.0

// liveWindowLookback bounds the synthetic "live" window to unified rows
// synced within the last 15 minutes (§4.8).
const liveWindowLookback = 15 * time.Minute

// stableThreshold is the minimum stability score for is_stable (§4.8 step 2).
const stableThreshold = 4

// Engine runs the arbitrage computation. It is the sole writer of
// arbitrage_v3 (§3 Ownership) and always runs after the moving-average
// engine, whose output it reads.
type Engine struct {
	repo    persistence.ArbitrageRepo
	ma      persistence.MovingAverageRepo
	unified persistence.UnifiedRepo
	log     zerolog.Logger
}

// NewEngine builds an arbitrage engine.
func NewEngine(repo persistence.ArbitrageRepo, ma persistence.MovingAverageRepo, unified persistence.UnifiedRepo, log zerolog.Logger) *Engine {
	return &Engine{repo: repo, ma: ma, unified: unified, log: log.With().Str("component", "arbitrage").Logger()}
}

type venueRate struct {
	rate1h float64
	apr    float64
}

// RunAll computes and replaces arbitrage rows for every symbol with unified
// data.
func (e *Engine) RunAll(ctx context.Context) error {
	symbols, err := e.unified.DistinctSymbols(ctx)
	if err != nil {
		return fmt.Errorf("list unified symbols: %w", err)
	}

	var firstErr error
	for _, sym := range symbols {
		if err := e.RunSymbol(ctx, sym); err != nil {
			e.log.Error().Err(err).Str("symbol", sym).Msg("arbitrage run failed for symbol")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RunSymbol recomputes every arbitrage opportunity for one normalized
// symbol, across the canonical windows plus the synthetic "live" window,
// and replaces them atomically.
func (e *Engine) RunSymbol(ctx context.Context, normalizedSymbol string) error {
	perVenue, _, err := e.ma.Latest(ctx, normalizedSymbol)
	if err != nil {
		return fmt.Errorf("latest ma rows for %s: %w", normalizedSymbol, err)
	}

	liveRows, err := e.unified.LatestSince(ctx, time.Now().Add(-liveWindowLookback))
	if err != nil {
		return fmt.Errorf("live unified rows for %s: %w", normalizedSymbol, err)
	}

	byWindow := make(map[persistence.MAWindow]map[venue.Tag]venueRate)
	for _, row := range perVenue {
		if !eligible(venue.Tag(row.Venue), row.MAAPR, nil) {
			continue
		}
		if byWindow[row.Window] == nil {
			byWindow[row.Window] = make(map[venue.Tag]venueRate)
		}
		byWindow[row.Window][venue.Tag(row.Venue)] = venueRate{rate1h: row.MARate1h, apr: row.MAAPR}
	}

	live := make(map[venue.Tag]venueRate)
	for _, row := range liveRows {
		if row.NormalizedSymbol != normalizedSymbol {
			continue
		}
		if !eligible(venue.Tag(row.Venue), row.RateAPR, row.OpenInterestUSD) {
			continue
		}
		live[venue.Tag(row.Venue)] = venueRate{rate1h: row.Rate1hPercent, apr: row.RateAPR}
	}
	if len(live) > 0 {
		byWindow[persistence.WindowLive] = live
	}

	windows := make([]persistence.MAWindow, 0, len(persistence.Windows)+1)
	windows = append(windows, persistence.Windows...)
	windows = append(windows, persistence.WindowLive)

	orderCounts := pairOrderCounts(windows, byWindow)

	now := time.Now()
	var out []persistence.ArbitrageRow
	for _, w := range windows {
		rates, ok := byWindow[w]
		if !ok {
			continue
		}
		venues := sortedVenues(rates)
		for i := 0; i < len(venues); i++ {
			for j := i + 1; j < len(venues); j++ {
				vi, vj := venues[i], venues[j]
				ri, rj := rates[vi], rates[vj]

				longV, shortV, longR, shortR, longA, shortA := vi, vj, ri.rate1h, rj.rate1h, ri.apr, rj.apr
				aLower := ri.rate1h <= rj.rate1h
				if !aLower {
					longV, shortV = vj, vi
					longR, shortR = rj.rate1h, ri.rate1h
					longA, shortA = rj.apr, ri.apr
				}

				key := pairKey(vi, vj)
				score := orderCounts[key][aLower]

				out = append(out, persistence.ArbitrageRow{
					NormalizedSymbol: normalizedSymbol,
					LongVenue:        string(longV),
					ShortVenue:       string(shortV),
					Window:           w,
					LongRate:         longR,
					ShortRate:        shortR,
					Spread:           abs(shortR - longR),
					LongAPR:          longA,
					ShortAPR:         shortA,
					SpreadAPR:        abs(shortA - longA),
					StabilityScore:   score,
					IsStable:         score >= stableThreshold,
					CalculatedAt:     now,
				})
			}
		}
	}

	if err := e.repo.ReplaceForSymbol(ctx, normalizedSymbol, out); err != nil {
		return fmt.Errorf("replace arbitrage rows for %s: %w", normalizedSymbol, err)
	}
	return nil
}

// eligible applies §4.8 step 3's filters: implausible APR, and Variational
// rows below the open-interest floor. oi is nil when unknown, in which case
// the OI filter does not apply (absence of data is not evidence of
// illiquidity).
func eligible(v venue.Tag, apr float64, oi *float64) bool {
	if abs(apr) > maxAbsAPR {
		return false
	}
	if v == venue.Variational && oi != nil && *oi < minVariationalOIUSD {
		return false
	}
	return true
}

func sortedVenues(rates map[venue.Tag]venueRate) []venue.Tag {
	out := make([]venue.Tag, 0, len(rates))
	for v := range rates {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func pairKey(a, b venue.Tag) string {
	if a < b {
		return string(a) + "|" + string(b)
	}
	return string(b) + "|" + string(a)
}

// pairOrderCounts tallies, per venue pair and per window, whether the
// lexically-smaller venue was the long side. The stability score for a row
// is the count of windows sharing that row's ordering (§4.8 step 2).
func pairOrderCounts(windows []persistence.MAWindow, byWindow map[persistence.MAWindow]map[venue.Tag]venueRate) map[string]map[bool]int {
	counts := make(map[string]map[bool]int)
	for _, w := range windows {
		rates, ok := byWindow[w]
		if !ok {
			continue
		}
		venues := sortedVenues(rates)
		for i := 0; i < len(venues); i++ {
			for j := i + 1; j < len(venues); j++ {
				vi, vj := venues[i], venues[j]
				aLower := rates[vi].rate1h <= rates[vj].rate1h
				key := pairKey(vi, vj)
				if counts[key] == nil {
					counts[key] = make(map[bool]int)
				}
				counts[key][aLower]++
			}
		}
	}
	return counts
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
