// Package funding converts each venue's native funding-rate encoding into a
// common (per-hour percent, annualized percent) representation.
package funding

import "github.com/sawpanic/fundingedge/internal/venue"

// Rate holds the normalized funding-rate pair derived from a venue's raw
// funding payload.
type Rate struct {
	HourlyPercent     float64
	AnnualizedPercent float64
}

// hoursPerYear matches the teacher's annualization convention: 24h * 365d.
const hoursPerYear = 24 * 365

// MaxAbsPercent is the data-quality gate applied by every downstream
// consumer of a normalized rate (§4.2, §7): rows whose |rate%| exceeds this
// bound are dropped as corrupt or mis-scaled venue data.
const MaxAbsPercent = 10.0

// Normalize converts a raw funding rate for the given venue into hourly and
// annualized percentages, using the venue family's encoding rules. An
// optional intervalHoursOverride supersedes the venue's configured interval
// (used by variable-interval venues such as Aster); pass 0 to use the
// venue's default.
func Normalize(v venue.Tag, raw float64, intervalHoursOverride float64) Rate {
	cfg, ok := venue.Registry[v]
	if !ok {
		return Rate{}
	}

	interval := cfg.FundingIntervalHours
	if intervalHoursOverride > 0 {
		interval = intervalHoursOverride
	}
	if interval <= 0 {
		interval = 8
	}

	switch cfg.FundingEncoding {
	case venue.FundingEncodingPercent:
		// Rate already expressed in percent units (Lighter): hourly =
		// raw/interval, annualized is NOT rescaled by *100 again.
		hourly := raw / interval
		return Rate{
			HourlyPercent:     hourly,
			AnnualizedPercent: hourly * hoursPerYear,
		}
	case venue.FundingEncodingMilliFraction:
		// Variational's raw funding field is a decimal fraction scaled by
		// an extra 1000x versus the rest of the 8h family (confirmed by the
		// venue's own worked example: raw 0.090939 -> hourly 0.000090939,
		// independent of the funding interval). Treat the interval as
		// informational only for this venue; do not divide by it here.
		hourly := raw / 1000
		return Rate{
			HourlyPercent:     hourly * 100,
			AnnualizedPercent: hourly * hoursPerYear * 100,
		}
	default:
		// Decimal-fraction encoding (everyone else): hourly = raw/interval,
		// annualized and hourly are both scaled to percent with *100.
		hourly := raw / interval
		return Rate{
			HourlyPercent:     hourly * 100,
			AnnualizedPercent: hourly * hoursPerYear * 100,
		}
	}
}

// WithinQualityBound reports whether a normalized hourly-percent rate passes
// the |rate%| <= MaxAbsPercent ingest filter (§4.2, §7, §8).
func WithinQualityBound(hourlyPercent float64) bool {
	return abs(hourlyPercent) <= MaxAbsPercent
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
