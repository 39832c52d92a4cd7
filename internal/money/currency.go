package money

import "strings"

// zeroDecimal lists currencies whose smallest unit is the display unit.
var zeroDecimal = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {},
	"KRW": {}, "MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {},
	"VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// specialDecimals overrides the processor precision for currencies that are
// neither zero-decimal nor two-decimal in the processor's API. The zero-decimal set is checked first.
var specialDecimals = map[string]int32{
	"ISK": 2,
	"HUF": 0,
	"TWD": 0,
	"UGX": 0,
}

const defaultDecimals int32 = 2

// NormalizeCode upper-cases and trims a currency code for lookup.
func NormalizeCode(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// IsZeroDecimal reports whether the currency is in the zero-decimal set.
func IsZeroDecimal(currency string) bool {
	_, ok := zeroDecimal[NormalizeCode(currency)]
	return ok
}

// Decimals returns the number of decimal places the processor uses for currency.
func Decimals(currency string) int32 {
	code := NormalizeCode(currency)
	if _, ok := zeroDecimal[code]; ok {
		return 0
	}
	if d, ok := specialDecimals[code]; ok {
		return d
	}
	return defaultDecimals
}
