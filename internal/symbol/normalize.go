// Package symbol normalizes venue-native perpetual contract symbols to a
// canonical base asset so the same underlying instrument can be compared
// across venues.
package symbol

import "strings"

// suffixes are stripped in order; USD is only stripped when at least two
// characters of the base asset remain, so a symbol like "USD" itself is
// never reduced to the empty string.
var suffixes = []string{"-USD-PERP", "-PERP", "-USD", "USDT", "USD"}

// Normalize maps a venue-native symbol to its canonical base asset.
//
// Steps run in this order, per spec: strip a lowercase "<prefix>:" venue
// namespace, then strip a trailing contract suffix, then strip a leading
// "1000" multiplier, then strip "/" and "_" separators. The order matters at
// the edges: stripping the suffix before the prefix would turn "hyena:USD"
// into "hyena:" and then into the empty string, where this order yields "USD".
//
// Normalize never fails: an empty input returns the empty string, and it is
// idempotent (Normalize(Normalize(s)) == Normalize(s)).
func Normalize(original string) string {
	if original == "" {
		return ""
	}

	s := stripPrefix(original)
	s = stripSuffix(s)
	s = stripThousandsPrefix(s)
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "_", "")

	return strings.ToUpper(s)
}

// stripPrefix removes a lowercase "<venue>:" namespace, e.g. "hyena:ETH" -> "ETH".
func stripPrefix(s string) string {
	if idx := strings.Index(s, ":"); idx > 0 {
		prefix := s[:idx]
		if prefix == strings.ToLower(prefix) {
			return s[idx+1:]
		}
	}
	return s
}

// stripSuffix removes one known contract suffix, longest match first, so
// "-USD-PERP" is preferred over the shorter "-USD" it contains.
func stripSuffix(s string) string {
	upper := strings.ToUpper(s)
	for _, suf := range suffixes {
		if !strings.HasSuffix(upper, suf) {
			continue
		}
		trimmed := s[:len(s)-len(suf)]
		if suf == "USD" {
			// Guard: only strip the bare "USD" suffix when at least two
			// characters of base asset remain, so "USD" itself and
			// two-letter tickers ending coincidentally in "SD" aren't
			// hollowed out.
			if len(trimmed) < 2 {
				continue
			}
		}
		if trimmed == "" {
			continue
		}
		return trimmed
	}
	return s
}

// stripThousandsPrefix removes a leading "1000" multiplier when followed by
// a letter, e.g. "1000PEPE" -> "PEPE", but leaves "1INCH" untouched since
// "1" alone is not the "1000" multiplier token.
func stripThousandsPrefix(s string) string {
	const prefix = "1000"
	if len(s) > len(prefix) && strings.HasPrefix(s, prefix) {
		rest := s[len(prefix):]
		if len(rest) > 0 && isLetter(rest[0]) {
			return rest
		}
	}
	return s
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
