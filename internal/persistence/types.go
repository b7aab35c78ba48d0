// Package persistence defines the storage-layer contracts for the two
// logical SQL stores described in spec.md §6: `primary` (raw/aggregated
// market rows, the live view, collector status) and `unified` (the unified
// funding table, MA tables, arbitrage table). Table names follow §6's
// bit-exact layout so an existing deployment can be migrated onto this
// schema without a rename.
package persistence

import "time"

// TimeRange bounds a query by [From, To), both inclusive of From.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// msEpochThreshold is the unit-detection boundary from §4.6/§9: any raw
// timestamp value above this is treated as milliseconds, at or below it as
// seconds. 10^10 seconds is the year 2286, well past any real timestamp, so
// the two ranges never collide for data the system will ever see.
const msEpochThreshold = 10_000_000_000

// NormalizeEpoch converts a raw venue timestamp field (mixed ms/s units
// across historical data) to time.Time using the >10^10 heuristic (§4.6,
// §9). The canonical representation everywhere downstream is seconds.
func NormalizeEpoch(raw int64) time.Time {
	if raw > msEpochThreshold {
		return time.UnixMilli(raw)
	}
	return time.Unix(raw, 0)
}

// Snapshot is one 15-second raw market-state row (§3 "Snapshot").
// Table: market_stats.
type Snapshot struct {
	ID               int64     `db:"id"`
	Venue            string    `db:"venue"`
	OriginalSymbol   string    `db:"original_symbol"`
	MarkPrice        float64   `db:"mark_price"`
	IndexPrice       float64   `db:"index_price"`
	OpenInterest     float64   `db:"open_interest"`
	OpenInterestUSD  float64   `db:"open_interest_usd"`
	LastPrice        float64   `db:"last_price"`
	RawFundingRate   float64   `db:"raw_funding_rate"`
	FundingIntervalH float64   `db:"funding_interval_hours"`
	Volume24hBase    float64   `db:"volume_24h_base"`
	Volume24hQuote   float64   `db:"volume_24h_quote"`
	Low24h           float64   `db:"low_24h"`
	High24h          float64   `db:"high_24h"`
	Change24hPercent float64   `db:"change_24h_percent"`
	RecordedAtMs     int64     `db:"recorded_at_ms"`
}

// MinuteAggregate is a 15s->1m rollup row (§3 "Minute aggregate").
// Table: market_stats_1m.
type MinuteAggregate struct {
	Venue                string    `db:"venue"`
	OriginalSymbol       string    `db:"original_symbol"`
	NormalizedSymbol     string    `db:"normalized_symbol"`
	MinPrice             float64   `db:"min_price"`
	AvgMarkPrice         float64   `db:"avg_mark_price"`
	MaxPrice             float64   `db:"max_price"`
	VolatilityPercent    float64   `db:"volatility_percent"`
	Volume24hBase        float64   `db:"volume_24h_base"`
	Volume24hQuote       float64   `db:"volume_24h_quote"`
	AvgOpenInterestUSD   float64   `db:"avg_oi_usd"`
	MaxOpenInterestUSD   float64   `db:"max_oi_usd"`
	AvgFundingRate       float64   `db:"avg_funding_rate"`
	MinFundingRate       float64   `db:"min_funding_rate"`
	MaxFundingRate       float64   `db:"max_funding_rate"`
	AvgAnnualizedFunding float64   `db:"avg_annualized_funding"`
	MinuteBucket         time.Time `db:"minute_bucket"`
	SampleCount          int       `db:"sample_count"`
}

// HourAggregate is a 1m->1h rollup row (§3 "Hour aggregate").
// Table: market_history.
type HourAggregate struct {
	Venue                string    `db:"venue"`
	OriginalSymbol       string    `db:"original_symbol"`
	NormalizedSymbol     string    `db:"normalized_symbol"`
	MinPrice             float64   `db:"min_price"`
	AvgMarkPrice         float64   `db:"avg_mark_price"`
	MaxPrice             float64   `db:"max_price"`
	VolatilityPercent    float64   `db:"volatility_percent"`
	Volume24hBase        float64   `db:"volume_24h_base"`
	Volume24hQuote       float64   `db:"volume_24h_quote"`
	AvgOpenInterestUSD   float64   `db:"avg_oi_usd"`
	MaxOpenInterestUSD   float64   `db:"max_oi_usd"`
	AvgFundingRate       float64   `db:"avg_funding_rate"`
	MinFundingRate       float64   `db:"min_funding_rate"`
	MaxFundingRate       float64   `db:"max_funding_rate"`
	AvgAnnualizedFunding float64   `db:"avg_annualized_funding"`
	HourBucket           time.Time `db:"hour_bucket"`
	SampleCount          int       `db:"sample_count"`
}

// NormalizedToken is the live-view row refreshed every 5 minutes (§3
// "Normalized token (live view)"). Table: normalized_tokens.
type NormalizedToken struct {
	NormalizedSymbol     string    `db:"normalized_symbol"`
	Venue                string    `db:"venue"`
	OriginalSymbol       string    `db:"original_symbol"`
	MarkPrice            float64   `db:"mark_price"`
	OpenInterestUSD      float64   `db:"open_interest_usd"`
	RawFundingRate       float64   `db:"raw_funding_rate"`
	HourlyFundingPercent float64   `db:"hourly_funding_percent"`
	AnnualizedFunding    float64   `db:"annualized_funding_percent"`
	ATR14                float64   `db:"atr_14"`
	RealizedVol24h       float64   `db:"realized_vol_24h"`
	RealizedVol7d        float64   `db:"realized_vol_7d"`
	BollingerWidth       float64   `db:"bollinger_width"`
	UpdatedAt            time.Time `db:"updated_at"`
}

// UnifiedFundingSource tags where a unified row came from.
type UnifiedFundingSource string

const (
	SourceLive     UnifiedFundingSource = "live"
	SourceImport   UnifiedFundingSource = "import"
	SourceMigrated UnifiedFundingSource = "migrated"
)

// UnifiedFundingRow is one normalized cross-venue funding observation (§3
// "Unified funding row"). Table: unified_v3.
type UnifiedFundingRow struct {
	NormalizedSymbol string               `db:"normalized_symbol"`
	Venue            string               `db:"venue"`
	FundingTime      time.Time            `db:"funding_time"`
	OriginalSymbol   string               `db:"original_symbol"`
	RawRate          float64              `db:"raw_rate"`
	RawRatePercent   float64              `db:"raw_rate_percent"`
	IntervalHours    float64              `db:"interval_hours"`
	Rate1hPercent    float64              `db:"rate_1h_percent"`
	RateAPR          float64              `db:"rate_apr"`
	Source           UnifiedFundingSource `db:"source"`
	SyncedAt         time.Time            `db:"synced_at"`
	OpenInterestUSD  *float64             `db:"open_interest_usd"`
}

// MAWindow is one of the canonical moving-average windows, plus the
// synthetic "live" window used only by the arbitrage engine's stability
// score (§4.8, §9).
type MAWindow string

const (
	Window24h MAWindow = "24h"
	Window3d  MAWindow = "3d"
	Window7d  MAWindow = "7d"
	Window14d MAWindow = "14d"
	Window30d MAWindow = "30d"
	WindowLive MAWindow = "live"
)

// Windows is the canonical ordered set of MA windows (excluding "live").
var Windows = []MAWindow{Window24h, Window3d, Window7d, Window14d, Window30d}

// WindowDuration returns the trailing duration a window name covers.
func WindowDuration(w MAWindow) time.Duration {
	switch w {
	case Window24h:
		return 24 * time.Hour
	case Window3d:
		return 3 * 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	case Window14d:
		return 14 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// MinSampleCount returns the minimum sample threshold (§4.7) per window.
func MinSampleCount(w MAWindow) int {
	switch w {
	case Window24h:
		return 3
	case Window3d:
		return 6
	case Window7d:
		return 14
	case Window14d:
		return 28
	case Window30d:
		return 60
	default:
		return 0
	}
}

// MovingAverageRow is a per-venue MA row (§3 "Moving-average row").
// Table: funding_ma.
type MovingAverageRow struct {
	NormalizedSymbol string    `db:"normalized_symbol"`
	Venue            string    `db:"venue"`
	Window           MAWindow  `db:"window_tag"`
	MARate1h         float64   `db:"ma_rate_1h"`
	MAAPR            float64   `db:"ma_apr"`
	SampleCount      int       `db:"sample_count"`
	StdDev           float64   `db:"stddev"`
	Min              float64   `db:"min_rate"`
	Max              float64   `db:"max_rate"`
	CalculatedAt     time.Time `db:"calculated_at"`
	WindowStart      time.Time `db:"window_start"`
	WindowEnd        time.Time `db:"window_end"`
}

// CrossVenueMARow is the cross-venue MA aggregate (§3, §4.7).
// Table: funding_ma_cross.
type CrossVenueMARow struct {
	NormalizedSymbol     string    `db:"normalized_symbol"`
	Window               MAWindow  `db:"window_tag"`
	SimpleAverage        float64   `db:"simple_average"`
	WeightedAverage      float64   `db:"weighted_average"`
	Min                  float64   `db:"min_rate"`
	Max                  float64   `db:"max_rate"`
	Spread               float64   `db:"spread"`
	VenueCount           int       `db:"venue_count"`
	CalculatedAt         time.Time `db:"calculated_at"`
}

// ArbitrageRow is a pairwise spread opportunity (§3 "Arbitrage row").
// Table: arbitrage_v3.
type ArbitrageRow struct {
	NormalizedSymbol string    `db:"normalized_symbol"`
	LongVenue        string    `db:"long_venue"`
	ShortVenue       string    `db:"short_venue"`
	Window           MAWindow  `db:"window_tag"`
	LongRate         float64   `db:"long_rate"`
	ShortRate        float64   `db:"short_rate"`
	Spread           float64   `db:"spread"`
	LongAPR          float64   `db:"long_apr"`
	ShortAPR         float64   `db:"short_apr"`
	SpreadAPR        float64   `db:"spread_apr"`
	StabilityScore   int       `db:"stability_score"`
	IsStable         bool      `db:"is_stable"`
	CalculatedAt     time.Time `db:"calculated_at"`
}

// VolatilityRow holds the derived price-series statistics the live view
// surfaces per (venue, symbol): ATR14, 24h/7d realized volatility, and
// Bollinger band width, all computed from hourly price history (§3
// "Normalized token (live view)"). Table: volatility_stats.
type VolatilityRow struct {
	Venue          string    `db:"venue"`
	OriginalSymbol string    `db:"original_symbol"`
	ATR14          float64   `db:"atr_14"`
	RealizedVol24h float64   `db:"realized_vol_24h"`
	RealizedVol7d  float64   `db:"realized_vol_7d"`
	BollingerWidth float64   `db:"bollinger_width"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// VenueSymbol names one (venue, original symbol) pair, the grain the
// volatility engine iterates over.
type VenueSymbol struct {
	Venue          string `db:"venue"`
	OriginalSymbol string `db:"original_symbol"`
}

// CollectorStatusTag is one of the fixed collector lifecycle states (§3,
// GLOSSARY).
type CollectorStatusTag string

const (
	StatusRunning   CollectorStatusTag = "running"
	StatusConnected CollectorStatusTag = "connected"
	StatusError     CollectorStatusTag = "error"
	StatusStopped   CollectorStatusTag = "stopped"
	StatusFailed    CollectorStatusTag = "failed"
)

// CollectorStatus is one row per venue (§3 "Collector status").
// Table: tracker_status.
type CollectorStatus struct {
	Venue           string             `db:"venue"`
	Status          CollectorStatusTag `db:"status"`
	LastMessageAt   *time.Time         `db:"last_message_at"`
	LastErrorMsg    string             `db:"last_error_message"`
	ReconnectCount  int                `db:"reconnect_count"`
	UpdatedAt       time.Time          `db:"updated_at"`
}
