package orders

import "time"

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type OrderCreatedPayload struct {
	OrderID     int64     `json:"order_id"`
	UserID      int64     `json:"user_id"`
	VendorID    int64     `json:"vendor_id"`
	GroupID     *int64    `json:"group_id,omitempty"`
	Status      Status    `json:"status"`
	Fulfillment string    `json:"fulfillment"`
	TotalCents  int64     `json:"total_cents"`
	Redeemed    int64     `json:"loyalty_redeemed"`
	Awarded     int64     `json:"loyalty_awarded"`
	ETA         *string   `json:"eta,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type OrderStatusChangedPayload struct {
	OrderID   int64     `json:"order_id"`
	VendorID  int64     `json:"vendor_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ETA       *string   `json:"eta,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
