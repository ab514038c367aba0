package cli

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

var (
	westernPattern = regexp.MustCompile(`^-?\$\d{1,3}(,\d{3})*\.\d{2}$`)
	indianPattern  = regexp.MustCompile(`^-?₹(\d{1,2}(,\d{2})*,\d{3}|\d{1,3})\.\d{2}$`)
)

func parseAmount(c Currency, s string) float64 {
	s = strings.ReplaceAll(strings.Replace(s, c.Symbol, "", 1), ",", "")
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func TestProperty_CurrencyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	for _, tc := range []struct {
		currency Currency
		pattern  *regexp.Regexp
	}{
		{USD, westernPattern},
		{INR, indianPattern},
	} {
		c, pattern := tc.currency, tc.pattern
		properties.Property(c.Symbol+" grouping is well formed and preserves value", prop.ForAll(
			func(amount float64) bool {
				formatted := c.Format(amount)
				if !pattern.MatchString(formatted) {
					t.Logf("%f formatted as %s", amount, formatted)
					return false
				}
				return math.Abs(parseAmount(c, formatted)-amount) <= 0.005+1e-9*math.Abs(amount)
			},
			gen.Float64Range(-1e12, 1e12),
		))
	}

	properties.TestingRun(t)
}

func TestCurrencyFormatExamples(t *testing.T) {
	tests := []struct {
		currency Currency
		amount   float64
		want     string
	}{
		{USD, 0, "$0.00"},
		{USD, 999.5, "$999.50"},
		{USD, 1000, "$1,000.00"},
		{USD, 1234567.891, "$1,234,567.89"},
		{USD, -0.001, "$0.00"},
		{USD, -1234.56, "-$1,234.56"},
		{INR, 100000, "₹1,00,000.00"},
		{INR, 10000000, "₹1,00,00,000.00"},
		{INR, 12345678.90, "₹1,23,45,678.90"},
		{INR, -1234.56, "-₹1,234.56"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.currency.Format(tt.amount))
		})
	}
}

func TestFormatPnL(t *testing.T) {
	assert.Equal(t, "+$200.00", USD.FormatPnL(200))
	assert.Equal(t, "-$100.00", USD.FormatPnL(-100))
	assert.Equal(t, "$0.00", USD.FormatPnL(0.001))
	assert.Equal(t, INR, CurrencyFor("kite"))
	assert.Equal(t, USD, CurrencyFor("alpaca"))
}

func TestFormatPercentExamples(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0, "0.00%"},
		{1.5, "+1.50%"},
		{-2.5, "-2.50%"},
		{100, "+100.00%"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPercent(tt.value))
	}
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "1,234,567", FormatQuantity(1234567))
	assert.Equal(t, "-1,000", FormatQuantity(-1000))
	assert.Equal(t, "0.5000", FormatPrice(0.5))
	assert.Equal(t, "101.25", FormatPrice(101.25))
	assert.Equal(t, "-", FormatDateTime(time.Time{}, time.UTC))
	assert.Equal(t, "02-Mar-2026 15:04:05", FormatDateTime(time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC), nil))
	assert.Equal(t, "1h 30m", FormatDuration(90*time.Minute))
	assert.Equal(t, "abc...", TruncateString("abcdefgh", 6))
}
