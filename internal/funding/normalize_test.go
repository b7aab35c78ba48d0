package funding

import (
	"math"
	"testing"

	"github.com/sawpanic/fundingedge/internal/venue"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestNormalize_Lighter(t *testing.T) {
	r := Normalize(venue.Lighter, 0.0012, 0)
	if !almostEqual(r.HourlyPercent, 0.0012, 1e-9) {
		t.Errorf("hourly = %v, want 0.0012", r.HourlyPercent)
	}
	wantAPR := 0.0012 * 24 * 365
	if !almostEqual(r.AnnualizedPercent, wantAPR, 1e-6) {
		t.Errorf("apr = %v, want %v", r.AnnualizedPercent, wantAPR)
	}
}

func TestNormalize_EightHourFamily(t *testing.T) {
	r := Normalize(venue.Hyperliquid, 0.0001, 0)
	wantHourly := 0.0001 / 8 * 100
	if !almostEqual(r.HourlyPercent, wantHourly, 1e-9) {
		t.Errorf("hourly = %v, want %v", r.HourlyPercent, wantHourly)
	}
}

func TestNormalize_FourHourFamily(t *testing.T) {
	r := Normalize(venue.EdgeX, 0.0002, 0)
	wantHourly := 0.0002 / 4 * 100
	if !almostEqual(r.HourlyPercent, wantHourly, 1e-9) {
		t.Errorf("hourly = %v, want %v", r.HourlyPercent, wantHourly)
	}
}

func TestNormalize_VariationalMilliFraction(t *testing.T) {
	r := Normalize(venue.Variational, 0.090939, 28800.0/3600.0)
	wantHourlyFraction := 0.090939 / 1000
	if !almostEqual(r.HourlyPercent, wantHourlyFraction*100, 1e-9) {
		t.Errorf("hourly%% = %v, want %v", r.HourlyPercent, wantHourlyFraction*100)
	}
	if !WithinQualityBound(r.HourlyPercent) {
		t.Errorf("expected %v within quality bound", r.HourlyPercent)
	}
}

func TestNormalize_AsterVariableInterval(t *testing.T) {
	r1 := Normalize(venue.Aster, 0.0008, 4)
	r2 := Normalize(venue.Aster, 0.0008, 0) // falls back to default 8h
	if r1.HourlyPercent == r2.HourlyPercent {
		t.Errorf("expected different hourly rates for different intervals")
	}
}

func TestWithinQualityBound(t *testing.T) {
	if !WithinQualityBound(9.999) {
		t.Error("expected 9.999 within bound")
	}
	if WithinQualityBound(10.001) {
		t.Error("expected 10.001 outside bound")
	}
}
