// Package pricing turns priced cart lines and checkout options into an order
// total. Nothing here touches storage; identical inputs give identical output.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-menu-orders/internal/apperr"
)

type Fulfillment string

const (
	Pickup   Fulfillment = "pickup"
	Delivery Fulfillment = "delivery"
)

// ParseFulfillment maps anything other than "delivery" to pickup.
func ParseFulfillment(s string) Fulfillment {
	if strings.EqualFold(strings.TrimSpace(s), string(Delivery)) {
		return Delivery
	}
	return Pickup
}

const (
	DefaultPickupFee   = 99
	DefaultDeliveryFee = 399
)

var defaultTaxRate = decimal.RequireFromString("0.08")

// Line is a cart line whose price has been locked in.
type Line struct {
	ItemID    int64   `json:"item_id"`
	ItemName  string  `json:"item_name"`
	Quantity  int     `json:"qty"`
	OptionIDs []int64 `json:"selected_options"`
	UnitPrice int64   `json:"unit_price"`
	LineTotal int64   `json:"line_total"`
}

type Checkout struct {
	Fulfillment   Fulfillment
	TipCents      int64
	PromoCode     string
	LoyaltyPoints int64
	UseLoyalty    bool
	DistanceKm    *float64
}

// Breakdown is the full cost of an order. Discount already includes Redeemed.
type Breakdown struct {
	Subtotal      int64 `json:"subtotal"`
	Taxes         int64 `json:"taxes"`
	Fees          int64 `json:"fees"`
	Tip           int64 `json:"tip"`
	Discount      int64 `json:"discount"`
	Total         int64 `json:"total"`
	PromoDiscount int64 `json:"promo_discount"`
	Redeemed      int64 `json:"loyalty_redeemed"`
	DeliveryFee   int64 `json:"delivery_fee"`
	ETAMinutes    *int  `json:"eta_minutes,omitempty"`
}

type Engine struct {
	TaxRate     decimal.Decimal
	PickupFee   int64
	DeliveryFee int64
	Promos      PromoBook
}

func NewEngine(promos PromoBook) *Engine {
	if promos == nil {
		promos = DefaultPromoBook()
	}
	return &Engine{
		TaxRate:     defaultTaxRate,
		PickupFee:   DefaultPickupFee,
		DeliveryFee: DefaultDeliveryFee,
		Promos:      promos,
	}
}

// Price computes the breakdown for lines. loyaltyBalance is the customer's
// balance as read by the caller; the amount actually redeemed is reported in
// Breakdown.Redeemed so the caller can debit the ledger.
func (e *Engine) Price(lines []Line, c Checkout, loyaltyBalance int64) (Breakdown, error) {
	if len(lines) == 0 {
		return Breakdown{}, apperr.Validation(apperr.CodeEmptyCart, "cart is empty")
	}

	var b Breakdown
	for _, l := range lines {
		if l.LineTotal < 0 {
			return Breakdown{}, apperr.Validation(apperr.CodeInvalidInput, "line for item %d has a negative total", l.ItemID)
		}
		b.Subtotal += l.LineTotal
	}

	b.Taxes = decimal.NewFromInt(b.Subtotal).Mul(e.TaxRate).Round(0).IntPart()

	if c.Fulfillment == Delivery {
		b.Fees = e.DeliveryFee
		if c.DistanceKm != nil {
			q, err := Quote(*c.DistanceKm)
			if err != nil {
				return Breakdown{}, err
			}
			b.DeliveryFee = q.FeeCents
			b.Fees += q.FeeCents
			eta := q.ETAMinutes
			b.ETAMinutes = &eta
		}
	} else {
		b.Fees = e.PickupFee
	}

	b.PromoDiscount = e.Promos.Discount(c.PromoCode, b.Subtotal)

	if c.UseLoyalty {
		b.Redeemed = min(max(0, c.LoyaltyPoints), max(0, loyaltyBalance), max(0, b.Subtotal-b.PromoDiscount))
	}
	b.Discount = b.PromoDiscount + b.Redeemed

	b.Tip = max(0, c.TipCents)
	b.Total = max(0, b.Subtotal+b.Taxes+b.Fees+b.Tip-b.Discount)
	return b, nil
}

// Subtotal sums locked line totals.
func Subtotal(lines []Line) int64 {
	var s int64
	for _, l := range lines {
		s += l.LineTotal
	}
	return s
}
