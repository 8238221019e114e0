package pricing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type RuleKind string

const (
	RulePercent RuleKind = "percent"
	RuleFixed   RuleKind = "fixed"
)

// PromoRule turns a subtotal into a discount.
//
// Percent rules take Value as a whole percentage (1..100) and are capped by
// MaxDiscount when it is positive. Fixed rules take Value in cents. Both
// give nothing while the subtotal is below MinSubtotal.
type PromoRule struct {
	Code        string
	Kind        RuleKind
	Value       int64
	MaxDiscount int64
	MinSubtotal int64
}

func (r PromoRule) Validate() error {
	if normalizeCode(r.Code) == "" {
		return fmt.Errorf("promo code is empty")
	}
	switch r.Kind {
	case RulePercent:
		if r.Value < 1 || r.Value > 100 {
			return fmt.Errorf("promo %s: percent must be within 1..100, got %d", r.Code, r.Value)
		}
	case RuleFixed:
		if r.Value <= 0 {
			return fmt.Errorf("promo %s: fixed amount must be positive, got %d", r.Code, r.Value)
		}
	default:
		return fmt.Errorf("promo %s: unknown kind %q", r.Code, r.Kind)
	}
	if r.MaxDiscount < 0 || r.MinSubtotal < 0 {
		return fmt.Errorf("promo %s: max and min must not be negative", r.Code)
	}
	return nil
}

func (r PromoRule) Discount(subtotal int64) int64 {
	if subtotal <= 0 || subtotal < r.MinSubtotal {
		return 0
	}
	var d int64
	switch r.Kind {
	case RulePercent:
		d = decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt(r.Value)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
		if r.MaxDiscount > 0 && d > r.MaxDiscount {
			d = r.MaxDiscount
		}
	case RuleFixed:
		d = r.Value
	}
	if d > subtotal {
		d = subtotal
	}
	return d
}

// PromoBook indexes rules by normalized code.
type PromoBook map[string]PromoRule

func NewPromoBook(rules ...PromoRule) (PromoBook, error) {
	b := make(PromoBook, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		code := normalizeCode(r.Code)
		if _, dup := b[code]; dup {
			return nil, fmt.Errorf("promo %s defined twice", code)
		}
		r.Code = code
		b[code] = r
	}
	return b, nil
}

// DefaultPromoBook holds SAVE10: 10% off, at most $5.
func DefaultPromoBook() PromoBook {
	return PromoBook{
		"SAVE10": {Code: "SAVE10", Kind: RulePercent, Value: 10, MaxDiscount: 500},
	}
}

// ParsePromoBook reads "CODE:kind:value:max:min" entries separated by commas.
// max and min may be omitted.
func ParsePromoBook(raw string) (PromoBook, error) {
	var rules []PromoRule
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 3 || len(parts) > 5 {
			return nil, fmt.Errorf("promo entry %q: want CODE:kind:value[:max[:min]]", entry)
		}
		nums := make([]int64, 3)
		for i, p := range parts[2:] {
			n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("promo entry %q: %w", entry, err)
			}
			nums[i] = n
		}
		rules = append(rules, PromoRule{
			Code:        parts[0],
			Kind:        RuleKind(strings.ToLower(strings.TrimSpace(parts[1]))),
			Value:       nums[0],
			MaxDiscount: nums[1],
			MinSubtotal: nums[2],
		})
	}
	return NewPromoBook(rules...)
}

func (b PromoBook) Lookup(code string) (PromoRule, bool) {
	r, ok := b[normalizeCode(code)]
	return r, ok
}

// Discount applies the rule for code. Unknown codes are inert.
func (b PromoBook) Discount(code string, subtotal int64) int64 {
	r, ok := b.Lookup(code)
	if !ok {
		return 0
	}
	return r.Discount(subtotal)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
