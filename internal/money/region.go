package money

import "strings"

// DefaultCountry is used when the merchant account country cannot be resolved.
const DefaultCountry = "US"

var eurozone = []string{"EUR"}

// regionCurrencies maps an account country to the currencies the terminal can present in.
var regionCurrencies = map[string][]string{
	"US": {"USD"},
	"CA": {"CAD", "USD"},
	"GB": {"GBP"},
	"IE": eurozone,
	"FR": eurozone,
	"DE": eurozone,
	"NL": eurozone,
	"ES": eurozone,
	"IT": eurozone,
	"BE": eurozone,
	"AT": eurozone,
	"FI": eurozone,
	"PT": eurozone,
	"LU": eurozone,
	"AU": {"AUD"},
	"NZ": {"NZD"},
	"SG": {"SGD"},
}

// SupportedCurrencies returns the upper-case currency codes supported for an account country.
// Unknown countries fall back to the US set.
func SupportedCurrencies(country string) []string {
	set, ok := regionCurrencies[strings.ToUpper(strings.TrimSpace(country))]
	if !ok {
		set = regionCurrencies[DefaultCountry]
	}
	out := make([]string, len(set))
	copy(out, set)
	return out
}

// IsSupported reports whether currency is presentable for the given account country.
func IsSupported(country, currency string) bool {
	code := NormalizeCode(currency)
	for _, c := range SupportedCurrencies(country) {
		if c == code {
			return true
		}
	}
	return false
}
