package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestToProcessorUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     int64
	}{
		// Default tier
		{"USD 19.99", "19.99", "usd", 1999},
		{"USD whole", "100", "USD", 10000},
		{"USD half rounds away from zero", "10.555", "usd", 1056},
		{"USD below half rounds down", "10.554", "usd", 1055},
		{"EUR", "0.01", "eur", 1},
		{"negative half rounds away from zero", "-0.005", "usd", -1},

		// Zero-decimal tier
		{"JPY never multiplies", "1000", "JPY", 1000},
		{"JPY rounds", "1000.5", "jpy", 1001},
		{"KRW", "15000", "krw", 15000},
		{"UGX is zero decimal", "2500.4", "ugx", 2500},

		// Special table
		{"HUF rounds without scaling", "100.6", "HUF", 101},
		{"TWD rounds without scaling", "99.5", "twd", 100},
		{"ISK scales by 100", "12.34", "isk", 1234},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToProcessorUnits(decimal.RequireFromString(tt.amount), tt.currency)
			if got != tt.want {
				t.Errorf("ToProcessorUnits(%s, %q) = %d, want %d", tt.amount, tt.currency, got, tt.want)
			}
		})
	}
}

func TestToProcessorUnits_CaseInsensitive(t *testing.T) {
	amount := decimal.RequireFromString("42.10")
	want := ToProcessorUnits(amount, "USD")
	for _, code := range []string{"usd", "Usd", " uSD "} {
		if got := ToProcessorUnits(amount, code); got != want {
			t.Errorf("ToProcessorUnits(%q) = %d, want %d", code, got, want)
		}
	}
}

func TestFromProcessorUnits(t *testing.T) {
	tests := []struct {
		units    int64
		currency string
		want     string
	}{
		{1999, "usd", "19.99"},
		{1000, "jpy", "1000"},
		{101, "huf", "101"},
		{1234, "ISK", "12.34"},
		{0, "usd", "0"},
	}
	for _, tt := range tests {
		got := FromProcessorUnits(tt.units, tt.currency)
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("FromProcessorUnits(%d, %q) = %s, want %s", tt.units, tt.currency, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
	}{
		{"19.99", "usd"},
		{"0.01", "eur"},
		{"123456.78", "gbp"},
		{"1000", "jpy"},
		{"101", "huf"},
		{"12.34", "isk"},
		{"5", "cad"},
	}
	for _, tt := range tests {
		t.Run(tt.currency+"_"+tt.amount, func(t *testing.T) {
			x := decimal.RequireFromString(tt.amount)
			got := FromProcessorUnits(ToProcessorUnits(x, tt.currency), tt.currency)
			if !got.Equal(x) {
				t.Errorf("round trip of %s %s = %s", tt.amount, tt.currency, got)
			}
		})
	}
}

func TestDecimals(t *testing.T) {
	tests := []struct {
		currency string
		want     int32
	}{
		{"usd", 2},
		{"JPY", 0},
		{"huf", 0},
		{"twd", 0},
		{"isk", 2},
		{"ugx", 0},
		{"xyz", 2},
	}
	for _, tt := range tests {
		if got := Decimals(tt.currency); got != tt.want {
			t.Errorf("Decimals(%q) = %d, want %d", tt.currency, got, tt.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr error
	}{
		{"19.99", "19.99", nil},
		{" 5 ", "5", nil},
		{"", "0", nil},
		{"abc", "", ErrInvalidFormat},
		{"-1.00", "", ErrNegativeAmount},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAmount(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseAmount(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.raw, err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	if got := Format(1999, "usd"); got != "19.99 USD" {
		t.Errorf("Format() = %q", got)
	}
	if got := Format(1000, "jpy"); got != "1000 JPY" {
		t.Errorf("Format() = %q", got)
	}
}

func TestSupportedCurrencies(t *testing.T) {
	tests := []struct {
		country string
		want    []string
	}{
		{"US", []string{"USD"}},
		{"ca", []string{"CAD", "USD"}},
		{"DE", []string{"EUR"}},
		{"", []string{"USD"}},
		{"ZZ", []string{"USD"}},
	}
	for _, tt := range tests {
		t.Run(tt.country, func(t *testing.T) {
			got := SupportedCurrencies(tt.country)
			if len(got) != len(tt.want) {
				t.Fatalf("SupportedCurrencies(%q) = %v, want %v", tt.country, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("SupportedCurrencies(%q)[%d] = %q, want %q", tt.country, i, got[i], tt.want[i])
				}
			}
		})
	}

	if IsSupported("US", "eur") {
		t.Error("EUR must not be supported for a US account")
	}
	if !IsSupported("CA", "usd") {
		t.Error("USD must be supported for a CA account")
	}

	// Returned slices are copies
	SupportedCurrencies("FR")[0] = "XXX"
	if SupportedCurrencies("IE")[0] != "EUR" {
		t.Error("SupportedCurrencies must not expose the shared table")
	}
}
