package billing

import (
	"github.com/shopspring/decimal"

	"pasal/backend/internal/domain"
)

// DefaultVATPercent is the Nepali VAT rate.
var DefaultVATPercent = decimal.NewFromInt(13)

var hundred = decimal.NewFromInt(100)

// Header carries the document-level inputs to the totals computation.
type Header struct {
	VATExemptMode   string
	VATPercent      decimal.Decimal
	DiscountPercent decimal.Decimal
	DiscountAmount  decimal.Decimal
	// DiscountBasis names the field the operator edited last; it is the
	// canonical one and the other is derived.
	DiscountBasis string
	RoundOff      decimal.Decimal
}

// LineAmount is quantity × price rounded to paisa.
func LineAmount(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).Round(2)
}

// Subtotal sums line amounts.
func Subtotal(lines []domain.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(line.Amount)
	}
	return sum
}

// DiscountAmountFromPercent derives the amount for percent of subtotal.
func DiscountAmountFromPercent(subtotal, percent decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(percent).Div(hundred).Round(2)
}

// DiscountPercentFromAmount derives the percentage an amount represents.
// A zero subtotal resolves to 0%.
func DiscountPercentFromAmount(subtotal, amount decimal.Decimal) decimal.Decimal {
	if subtotal.IsZero() {
		return decimal.Zero
	}
	return amount.Div(subtotal).Mul(hundred).Round(2)
}

// ReconcileDiscount returns the (percent, amount) pair for subtotal, keeping
// the canonical side exact and deriving the other.
func ReconcileDiscount(subtotal decimal.Decimal, h Header) (decimal.Decimal, decimal.Decimal) {
	if h.DiscountBasis == domain.DiscountBasisAmount {
		return DiscountPercentFromAmount(subtotal, h.DiscountAmount), h.DiscountAmount
	}
	return h.DiscountPercent, DiscountAmountFromPercent(subtotal, h.DiscountPercent)
}

// ComputeTotals splits the subtotal into taxable and non-taxable buckets,
// applies the discount proportionally to both, charges VAT on the
// discounted taxable bucket unless the document is fully exempt, and adds
// the manual round-off.
func ComputeTotals(lines []domain.LineItem, h Header) domain.Totals {
	subtotal := decimal.Zero
	taxable := decimal.Zero
	nonTaxable := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Amount)
		if line.VATStatus == domain.VATStatusExempt {
			nonTaxable = nonTaxable.Add(line.Amount)
		} else {
			taxable = taxable.Add(line.Amount)
		}
	}

	percent, amount := ReconcileDiscount(subtotal, h)

	taxableAfter := taxable
	nonTaxableAfter := nonTaxable
	if !subtotal.IsZero() && !amount.IsZero() {
		// Split the discount by bucket share so the rounded pieces add up to amount.
		taxableDiscount := amount.Mul(taxable).Div(subtotal).Round(2)
		taxableAfter = taxable.Sub(taxableDiscount)
		nonTaxableAfter = nonTaxable.Sub(amount.Sub(taxableDiscount))
	}

	vat := decimal.Zero
	if h.VATExemptMode != domain.VATModeExempt {
		vat = taxableAfter.Mul(h.VATPercent).Div(hundred).Round(2)
	}

	total := taxableAfter.Add(nonTaxableAfter).Add(vat).Add(h.RoundOff)

	return domain.Totals{
		Subtotal:        subtotal.Round(2),
		Taxable:         taxableAfter.Round(2),
		NonTaxable:      nonTaxableAfter.Round(2),
		DiscountPercent: percent,
		DiscountAmount:  amount,
		VATAmount:       vat,
		RoundOff:        h.RoundOff,
		Total:           total.Round(2),
	}
}

// FilterByVATMode keeps the lines a document in mode may carry. "vatable"
// documents only take vatable items and "exempt" documents only exempt ones.
func FilterByVATMode(lines []domain.LineItem, mode string) (kept []domain.LineItem, dropped []int) {
	for i, line := range lines {
		switch {
		case mode == domain.VATModeVatable && line.VATStatus == domain.VATStatusExempt,
			mode == domain.VATModeExempt && line.VATStatus != domain.VATStatusExempt:
			dropped = append(dropped, i)
		default:
			kept = append(kept, line)
		}
	}
	return kept, dropped
}
