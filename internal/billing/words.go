package billing

import (
	"strings"

	"github.com/shopspring/decimal"
)

var ones = []string{
	"", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine",
	"Ten", "Eleven", "Twelve", "Thirteen", "Fourteen", "Fifteen", "Sixteen",
	"Seventeen", "Eighteen", "Nineteen",
}

var tens = []string{
	"", "", "Twenty", "Thirty", "Forty", "Fifty", "Sixty", "Seventy", "Eighty", "Ninety",
}

// Nepali grouping: crore, lakh, thousand, hundred.
var scales = []struct {
	value int64
	name  string
}{
	{10000000, "Crore"},
	{100000, "Lakh"},
	{1000, "Thousand"},
	{100, "Hundred"},
}

// AmountInWords renders an invoice total the way it is printed under the
// totals block, e.g. "One Thousand Seventeen Rupees Only.".
func AmountInWords(amount decimal.Decimal) string {
	amount = amount.Round(2)
	prefix := ""
	if amount.IsNegative() {
		prefix = "Minus "
		amount = amount.Neg()
	}

	rupees := amount.IntPart()
	paisa := amount.Sub(decimal.NewFromInt(rupees)).Mul(decimal.NewFromInt(100)).Round(0).IntPart()

	words := integerWords(rupees)
	if words == "" {
		words = "Zero"
	}
	out := prefix + words + " Rupees"
	if paisa > 0 {
		out += " and " + integerWords(paisa) + " Paisa"
	}
	return out + " Only."
}

func integerWords(n int64) string {
	if n == 0 {
		return ""
	}
	parts := make([]string, 0, 8)
	for _, scale := range scales {
		if n >= scale.value {
			count := n / scale.value
			n %= scale.value
			// Counts above 99 crore recurse, e.g. "One Hundred Crore".
			parts = append(parts, integerWords(count), scale.name)
		}
	}
	if n >= 20 {
		parts = append(parts, tens[n/10])
		n %= 10
	}
	if n > 0 {
		parts = append(parts, ones[n])
	}
	return strings.Join(parts, " ")
}
