// Package pricing turns priced line items into the authoritative order totals.
// Everything here is pure and deterministic.
package pricing

import (
	"errors"
	"fmt"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyCart is returned when totals are requested for no items.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrTotalTooLarge is returned when a grand total exceeds the policy ceiling.
	ErrTotalTooLarge = errors.New("order total exceeds the allowed maximum")

	ErrAmountOverflow = errors.New("amount does not fit in minor units")
)

// currency places for the smallest unit (cents).
const places = 2

// MaxStorableTotal is the largest amount an order total column holds.
var MaxStorableTotal = decimal.RequireFromString("9999999999.99")

// ShippingTier charges Fee when the subtotal is strictly below Below.
type ShippingTier struct {
	Below decimal.Decimal
	Fee   decimal.Decimal
}

type Policy struct {
	TaxRate decimal.Decimal
	// Tiers sorted by ascending Below. A subtotal at or above the last
	// boundary ships for FreeAboveFee (usually zero).
	Tiers        []ShippingTier
	FreeAboveFee decimal.Decimal
	// MaxGrandTotal caps a single order. Zero means MaxStorableTotal.
	MaxGrandTotal decimal.Decimal
}

// DefaultPolicy is the garden center's regional configuration.
func DefaultPolicy() Policy {
	return Policy{
		TaxRate: decimal.RequireFromString("0.0825"),
		Tiers: []ShippingTier{
			{Below: decimal.NewFromInt(50), Fee: decimal.NewFromInt(15)},
			{Below: decimal.NewFromInt(100), Fee: decimal.NewFromInt(10)},
		},
		FreeAboveFee:  decimal.Zero,
		MaxGrandTotal: decimal.NewFromInt(50000),
	}
}

func (p Policy) Validate() error {
	if p.TaxRate.IsNegative() || p.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("tax rate %s out of range [0,1)", p.TaxRate)
	}
	for i, t := range p.Tiers {
		if t.Fee.IsNegative() {
			return fmt.Errorf("shipping tier %d: negative fee", i)
		}
		if i > 0 && !t.Below.GreaterThan(p.Tiers[i-1].Below) {
			return fmt.Errorf("shipping tier %d: boundaries must ascend", i)
		}
	}
	if p.FreeAboveFee.IsNegative() {
		return errors.New("shipping: negative fee above last tier")
	}
	if p.MaxGrandTotal.IsNegative() || p.MaxGrandTotal.GreaterThan(MaxStorableTotal) {
		return fmt.Errorf("max grand total %s out of range [0,%s]", p.MaxGrandTotal, MaxStorableTotal)
	}
	return nil
}

func (p Policy) maxGrandTotal() decimal.Decimal {
	if p.MaxGrandTotal.IsZero() {
		return MaxStorableTotal
	}
	return p.MaxGrandTotal
}

// Shipping returns the fee for a subtotal and fulfillment method.
func (p Policy) Shipping(subtotal decimal.Decimal, method domain.FulfillmentMethod) decimal.Decimal {
	if method != domain.FulfillmentDelivery {
		return decimal.Zero
	}
	for _, t := range p.Tiers {
		if subtotal.LessThan(t.Below) {
			return t.Fee
		}
	}
	return p.FreeAboveFee
}

// ComputeTotals sums the items, applies tax rounded half-to-even to the cent,
// adds shipping, and builds the grand total from the rounded parts.
func ComputeTotals(items []domain.LineItem, method domain.FulfillmentMethod, p Policy) (domain.Totals, error) {
	if len(items) == 0 {
		return domain.Totals{}, ErrEmptyCart
	}
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	subtotal = subtotal.RoundBank(places)

	tax := subtotal.Mul(p.TaxRate).RoundBank(places)
	shipping := p.Shipping(subtotal, method).RoundBank(places)

	grand := subtotal.Add(tax).Add(shipping)
	if limit := p.maxGrandTotal(); grand.GreaterThan(limit) {
		return domain.Totals{}, fmt.Errorf("%w: %s over %s", ErrTotalTooLarge, grand.StringFixed(places), limit.StringFixed(places))
	}
	return domain.Totals{
		Subtotal:   subtotal,
		Tax:        tax,
		Shipping:   shipping,
		GrandTotal: grand,
	}, nil
}

// ToMinorUnits converts an amount to integer cents for the gateway. Amounts
// that do not fit an int64 fail rather than wrap.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	cents := amount.Shift(places).RoundBank(0)
	if !cents.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, amount)
	}
	return cents.IntPart(), nil
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -places)
}
