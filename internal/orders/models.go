package orders

import (
	"time"

	"github.com/ariefcatur/go-menu-orders/internal/pricing"
)

// Order is the settlement record. Money fields are cents; Subtotal is the
// gross goods amount and Discount holds promo plus redeemed points.
type Order struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	VendorID       int64     `json:"vendor_id"`
	GroupID        *int64    `json:"group_id,omitempty"`
	Fulfillment    string    `json:"type"`
	Subtotal       int64     `json:"subtotal"`
	Taxes          int64     `json:"taxes"`
	Fees           int64     `json:"fees"`
	Tip            int64     `json:"tip"`
	Discount       int64     `json:"discount"`
	Total          int64     `json:"total"`
	Redeemed       int64     `json:"loyalty_redeemed"`
	Status         Status    `json:"status"`
	ETA            *string   `json:"eta"`
	PaymentRef     string    `json:"payment_ref"`
	IdempotencyKey *string   `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OrderLine is an immutable snapshot of a priced line.
type OrderLine struct {
	ID        int64   `json:"id"`
	OrderID   int64   `json:"order_id"`
	ItemID    int64   `json:"item_id"`
	ItemName  string  `json:"item_name"`
	Quantity  int     `json:"qty"`
	OptionIDs []int64 `json:"selected_options"`
	UnitPrice int64   `json:"unit_price"`
	LineTotal int64   `json:"line_total"`
}

type Detail struct {
	Order     Order              `json:"order"`
	Items     []OrderLine        `json:"items"`
	Breakdown *pricing.Breakdown `json:"breakdown,omitempty"`
	Awarded   int64              `json:"loyalty_awarded,omitempty"`
	Replayed  bool               `json:"idempotent_replay,omitempty"`
}
