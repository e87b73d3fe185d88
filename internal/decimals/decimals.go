// Package decimals converts between raw on-chain integer balances,
// graph-reported decimal strings, and fixed-point decimals. All
// arithmetic stays in cosmossdk.io/math LegacyDec; binary floating
// point is never used for balances or fiat values.
package decimals

import (
	"fmt"
	"math/big"
	"strings"

	"cosmossdk.io/math"
)

// GaugeScale is the fixed decimal scale of gauge balances. Gauges mint
// 1:1 against pool receipt tokens, which carry 18 decimals on every
// supported network.
const GaugeScale = 18

// FromRaw18 converts a raw 18-decimal integer balance into a trimmed
// human-decimal string: "42.5", "42", "0".
func FromRaw18(raw *big.Int) string {
	if raw == nil || raw.Sign() == 0 {
		return "0"
	}
	return Trim(math.LegacyNewDecFromBigIntWithPrec(raw, GaugeScale))
}

// Parse converts a decimal string from a graph payload into a
// LegacyDec. Fractional digits beyond the 18 the fixed-point type
// carries are truncated rather than rejected, since graph values can
// exceed chain precision.
func Parse(s string) (math.LegacyDec, error) {
	s = strings.TrimSpace(s)
	if dot := strings.IndexByte(s, '.'); dot >= 0 && len(s)-dot-1 > GaugeScale {
		s = s[:dot+1+GaugeScale]
	}
	d, err := math.LegacyNewDecFromStr(s)
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// Trim renders a LegacyDec without trailing fractional zeros.
func Trim(d math.LegacyDec) string {
	s := d.String()
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
