package group

import (
	"time"

	"github.com/ariefcatur/go-menu-orders/internal/pricing"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusSubmitted Status = "submitted"
)

// Group is a shared cart several people add to before one checkout.
type Group struct {
	ID          int64      `json:"id"`
	Code        string     `json:"code"`
	VendorID    int64      `json:"vendor_id"`
	OwnerUserID int64      `json:"owner_user_id"`
	Status      Status     `json:"status"`
	OrderID     *int64     `json:"order_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

// Line is one contributor's item. Its price is fixed when added.
type Line struct {
	ID              int64     `json:"id"`
	GroupID         int64     `json:"group_id"`
	ContributorName string    `json:"user_name"`
	ItemID          int64     `json:"item_id"`
	ItemName        string    `json:"item_name"`
	Quantity        int       `json:"qty"`
	OptionIDs       []int64   `json:"selected_options"`
	UnitPrice       int64     `json:"unit_price"`
	LineTotal       int64     `json:"line_total"`
	CreatedAt       time.Time `json:"created_at"`
}

func (l Line) priced() pricing.Line {
	return pricing.Line{
		ItemID:    l.ItemID,
		ItemName:  l.ItemName,
		Quantity:  l.Quantity,
		OptionIDs: l.OptionIDs,
		UnitPrice: l.UnitPrice,
		LineTotal: l.LineTotal,
	}
}

type Snapshot struct {
	Group    Group  `json:"group"`
	Items    []Line `json:"items"`
	Subtotal int64  `json:"subtotal"`
}

type AddResult struct {
	Subtotal int64 `json:"subtotal"`
	Count    int64 `json:"count"`
}
