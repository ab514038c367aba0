package cli

import (
	"fmt"
	"strings"
	"time"
)

// Currency controls how money amounts are displayed.
type Currency struct {
	Symbol string
	Indian bool // lakh/crore grouping: 1,00,00,000
}

var (
	USD = Currency{Symbol: "$"}
	INR = Currency{Symbol: "₹", Indian: true}
)

// CurrencyFor returns the display currency for a broker name.
func CurrencyFor(broker string) Currency {
	if broker == "kite" {
		return INR
	}
	return USD
}

// Format renders amount with two decimals and digit grouping.
func (c Currency) Format(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	intPart, decPart, _ := strings.Cut(fmt.Sprintf("%.2f", amount), ".")
	if c.Indian {
		intPart = groupIndian(intPart)
	} else {
		intPart = groupThousands(intPart)
	}

	result := c.Symbol + intPart + "." + decPart
	if negative && strings.Trim(intPart+decPart, "0,") != "" {
		result = "-" + result
	}
	return result
}

// FormatPnL is Format with an explicit sign on gains.
func (c Currency) FormatPnL(pnl float64) string {
	formatted := c.Format(pnl)
	if pnl > 0 && !strings.HasPrefix(formatted, c.Symbol+"0.00") {
		return "+" + formatted
	}
	return formatted
}

func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	head := n % 3
	var b strings.Builder
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// groupIndian groups the last three digits, then pairs: 1,00,00,000.
func groupIndian(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}
	return result
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatQuantity formats a share count with thousands separators.
func FormatQuantity(qty int64) string {
	if qty < 0 {
		return "-" + groupThousands(fmt.Sprintf("%d", -qty))
	}
	return groupThousands(fmt.Sprintf("%d", qty))
}

// FormatPrice formats a price, keeping sub-dollar precision.
func FormatPrice(price float64) string {
	if price != 0 && price < 10 && price > -10 {
		return fmt.Sprintf("%.4f", price)
	}
	return fmt.Sprintf("%.2f", price)
}

// FormatDateTime formats t in loc, or "-" for the zero time.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("02-Jan-2006 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
