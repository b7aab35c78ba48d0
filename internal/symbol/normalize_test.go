package symbol

import "testing"

func TestNormalize_RoundTrip(t *testing.T) {
	cases := []string{"BTC-USD-PERP", "BTCUSDT", "BTCUSD", "hyena:BTC"}
	for _, c := range cases {
		if got := Normalize(c); got != "BTC" {
			t.Errorf("Normalize(%q) = %q, want BTC", c, got)
		}
	}
}

func TestNormalize_ThousandsPrefix(t *testing.T) {
	if got := Normalize("1000PEPE"); got != "PEPE" {
		t.Errorf("Normalize(1000PEPE) = %q, want PEPE", got)
	}
	if got := Normalize("PEPE"); got != "PEPE" {
		t.Errorf("Normalize(PEPE) = %q, want PEPE", got)
	}
	if got := Normalize("1INCH"); got != "1INCH" {
		t.Errorf("Normalize(1INCH) = %q, want 1INCH", got)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"BTC-USD-PERP", "1000PEPE", "hyena:ETH", "1INCH", "", "kBONK",
		"ETH_USD", "SOL/USD", "USD", "AUSDUSDT",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	if got := Normalize(""); got != "" {
		t.Errorf("Normalize(\"\") = %q, want empty", got)
	}
}

func TestNormalize_NoLeadingKStrip(t *testing.T) {
	// Spec explicitly does not strip a leading k/K.
	if got := Normalize("kBONK"); got != "KBONK" {
		t.Errorf("Normalize(kBONK) = %q, want KBONK (no k-stripping)", got)
	}
}

func TestNormalize_SeparatorsStripped(t *testing.T) {
	if got := Normalize("ETH_USD"); got != "ETH" {
		t.Errorf("Normalize(ETH_USD) = %q, want ETH", got)
	}
	if got := Normalize("SOL/USD"); got != "SOL" {
		t.Errorf("Normalize(SOL/USD) = %q, want SOL", got)
	}
}
