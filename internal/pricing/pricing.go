// Package pricing holds the cart arithmetic used by the POS terminal, the
// storefront and sale returns. All amounts are integer cents.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCart    = errors.New("invalid cart")
	ErrInvalidPayment = errors.New("invalid payment")
)

const (
	DiscountPercent = "percent"
	DiscountAmount  = "amount"
)

// MaxCartCents bounds a line and a cart before tax. Tax at most doubles it,
// which keeps every total well inside int64.
const MaxCartCents int64 = 1_000_000_000_000_000

var (
	hundred = decimal.NewFromInt(100)
	maxCart = decimal.NewFromInt(MaxCartCents)
)

type Line struct {
	Key            string
	Qty            int
	UnitPriceCents int64
	DiscountCents  int64
}

// CartDiscount is applied after line discounts. Value is a percentage for
// DiscountPercent and cents for DiscountAmount.
type CartDiscount struct {
	Type  string
	Value float64
}

type TaxPolicy struct {
	RatePercent float64
	Inclusive   bool
}

type LineQuote struct {
	Key               string
	Qty               int
	UnitPriceCents    int64
	GrossCents        int64
	LineDiscountCents int64
	CartDiscountCents int64
	NetCents          int64
	TaxCents          int64
	TotalCents        int64
}

// DiscountCents is the sum of line and cart discounts on the line.
func (l LineQuote) DiscountCents() int64 {
	return l.LineDiscountCents + l.CartDiscountCents
}

type Quote struct {
	Lines         []LineQuote
	SubtotalCents int64
	DiscountCents int64
	NetCents      int64
	TaxCents      int64
	TotalCents    int64
}

// Calculate prices a cart. Cart discounts are spread over the lines in
// proportion to their discounted value so that per-line figures always add
// up to the cart totals.
func Calculate(lines []Line, discount CartDiscount, tax TaxPolicy) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, fmt.Errorf("%w: cart is empty", ErrInvalidCart)
	}
	if tax.RatePercent < 0 || tax.RatePercent > 100 || math.IsNaN(tax.RatePercent) {
		return Quote{}, fmt.Errorf("%w: tax rate must be between 0 and 100", ErrInvalidCart)
	}

	quote := Quote{Lines: make([]LineQuote, 0, len(lines))}
	weights := make([]int64, 0, len(lines))
	for _, line := range lines {
		if line.Qty < 1 {
			return Quote{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidCart)
		}
		if line.UnitPriceCents < 0 || line.DiscountCents < 0 {
			return Quote{}, fmt.Errorf("%w: negative amount", ErrInvalidCart)
		}
		grossDec := decimal.NewFromInt(int64(line.Qty)).Mul(decimal.NewFromInt(line.UnitPriceCents))
		if grossDec.GreaterThan(maxCart) {
			return Quote{}, fmt.Errorf("%w: line total too large", ErrInvalidCart)
		}
		gross := grossDec.IntPart()
		if line.DiscountCents > gross {
			return Quote{}, fmt.Errorf("%w: line discount exceeds line total", ErrInvalidCart)
		}
		quote.Lines = append(quote.Lines, LineQuote{
			Key:               line.Key,
			Qty:               line.Qty,
			UnitPriceCents:    line.UnitPriceCents,
			GrossCents:        gross,
			LineDiscountCents: line.DiscountCents,
		})
		weights = append(weights, gross-line.DiscountCents)
	}

	base := sum(weights)
	if base > MaxCartCents {
		return Quote{}, fmt.Errorf("%w: cart total too large", ErrInvalidCart)
	}
	cartDiscount, err := cartDiscountCents(base, discount)
	if err != nil {
		return Quote{}, err
	}
	allocations := Allocate(cartDiscount, weights)

	for i := range quote.Lines {
		l := &quote.Lines[i]
		l.CartDiscountCents = allocations[i]
		l.NetCents = weights[i] - allocations[i]
		l.TaxCents = taxCents(l.NetCents, tax)
		if tax.Inclusive {
			l.TotalCents = l.NetCents
		} else {
			l.TotalCents = l.NetCents + l.TaxCents
		}

		quote.SubtotalCents += l.GrossCents
		quote.DiscountCents += l.DiscountCents()
		quote.NetCents += l.NetCents
		quote.TaxCents += l.TaxCents
		quote.TotalCents += l.TotalCents
	}

	return quote, nil
}

func taxCents(net int64, tax TaxPolicy) int64 {
	rate := decimal.NewFromFloat(tax.RatePercent)
	divisor := hundred
	if tax.Inclusive {
		divisor = hundred.Add(rate)
	}
	return decimal.NewFromInt(net).Mul(rate).Div(divisor).Round(0).IntPart()
}

func cartDiscountCents(base int64, discount CartDiscount) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(discount.Type)) {
	case "":
		if discount.Value != 0 {
			return 0, fmt.Errorf("%w: discount type required", ErrInvalidCart)
		}
		return 0, nil
	case DiscountPercent:
		if discount.Value < 0 || discount.Value > 100 || math.IsNaN(discount.Value) {
			return 0, fmt.Errorf("%w: discount percent must be between 0 and 100", ErrInvalidCart)
		}
		return decimal.NewFromInt(base).Mul(decimal.NewFromFloat(discount.Value)).Div(hundred).Round(0).IntPart(), nil
	case DiscountAmount:
		if discount.Value < 0 || math.IsNaN(discount.Value) || math.IsInf(discount.Value, 0) {
			return 0, fmt.Errorf("%w: negative discount", ErrInvalidCart)
		}
		if discount.Value >= float64(base) {
			return base, nil
		}
		return roundHalfAway(discount.Value), nil
	default:
		return 0, fmt.Errorf("%w: unknown discount type %q", ErrInvalidCart, discount.Type)
	}
}

// Allocate splits total across weights proportionally using the largest
// remainder method. The result always sums to total when total does not
// exceed the sum of weights; ties go to the earlier index.
func Allocate(total int64, weights []int64) []int64 {
	out := make([]int64, len(weights))
	base := sum(weights)
	if total <= 0 || base <= 0 {
		return out
	}
	if total > base {
		total = base
	}

	type remainder struct {
		index int
		rem   decimal.Decimal
	}
	rems := make([]remainder, 0, len(weights))
	allocated := int64(0)
	totalDec, baseDec := decimal.NewFromInt(total), decimal.NewFromInt(base)
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		q, r := totalDec.Mul(decimal.NewFromInt(w)).QuoRem(baseDec, 0)
		out[i] = q.IntPart()
		allocated += out[i]
		rems = append(rems, remainder{index: i, rem: r})
	}

	sort.SliceStable(rems, func(a, b int) bool {
		return rems[a].rem.GreaterThan(rems[b].rem)
	})
	for i := 0; allocated < total && i < len(rems); i++ {
		out[rems[i].index]++
		allocated++
	}
	return out
}

// Tender validates a payment against a total and returns the amount recorded
// as paid and the change due. Only cash can be over-tendered.
func Tender(totalCents int64, method string, amountPaidCents int64, reference string) (int64, int64, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if !SupportedMethod(method) {
		return 0, 0, fmt.Errorf("%w: unsupported payment method %q", ErrInvalidPayment, method)
	}
	if method == "cash" {
		if amountPaidCents < totalCents {
			return 0, 0, fmt.Errorf("%w: cash received is less than total", ErrInvalidPayment)
		}
		return amountPaidCents, amountPaidCents - totalCents, nil
	}
	if strings.TrimSpace(reference) == "" {
		return 0, 0, fmt.Errorf("%w: payment reference required for %s", ErrInvalidPayment, method)
	}
	return totalCents, 0, nil
}

func SupportedMethod(method string) bool {
	switch method {
	case "cash", "card", "qris", "transfer", "ewallet":
		return true
	default:
		return false
	}
}

// LineRefund returns the refund for returning qty more units of a line that
// has already had returned units refunded for refunded cents. The unit that
// completes the line takes the remainder so a fully returned line refunds
// exactly its total.
func LineRefund(lineTotalCents int64, lineQty int, returned int, refunded int64, qty int) int64 {
	if qty <= 0 || lineQty <= 0 {
		return 0
	}
	if returned+qty >= lineQty {
		return lineTotalCents - refunded
	}
	return MulDiv(lineTotalCents, int64(returned+qty), int64(lineQty)) - refunded
}

// LoyaltyPoints is one point per full spendPerPoint cents.
func LoyaltyPoints(totalCents int64, spendPerPoint int64) int64 {
	if spendPerPoint <= 0 || totalCents <= 0 {
		return 0
	}
	return totalCents / spendPerPoint
}

// DiscountPercentOf reports discount as a percentage of subtotal.
func DiscountPercentOf(discountCents int64, subtotalCents int64) float64 {
	if subtotalCents <= 0 {
		return 0
	}
	return float64(discountCents) * 100 / float64(subtotalCents)
}

// MulDiv returns a*b/c truncated toward zero without overflowing on the
// intermediate product. A zero divisor yields zero.
func MulDiv(a, b, c int64) int64 {
	if c == 0 {
		return 0
	}
	q, _ := decimal.NewFromInt(a).Mul(decimal.NewFromInt(b)).QuoRem(decimal.NewFromInt(c), 0)
	return q.IntPart()
}

func roundHalfAway(v float64) int64 {
	return int64(math.Round(v))
}

func sum(values []int64) int64 {
	total := int64(0)
	for _, v := range values {
		total += v
	}
	return total
}
