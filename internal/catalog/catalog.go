// Package catalog reads menu rows and turns cart lines into priced lines.
// Menus are owned elsewhere; nothing here writes.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-menu-orders/internal/apperr"
	"github.com/ariefcatur/go-menu-orders/internal/postgres"
	"github.com/ariefcatur/go-menu-orders/internal/pricing"
)

// MaxQuantity bounds a single line.
const MaxQuantity = 999

// CartLine is a line as the customer submitted it.
type CartLine struct {
	ItemID    int64   `json:"item_id" validate:"required,gt=0"`
	Quantity  int     `json:"qty" validate:"gte=0,lte=999"`
	OptionIDs []int64 `json:"selected_options" validate:"omitempty,dive,gt=0"`
}

// Normalize applies wire defaults: a missing quantity means one, and
// repeated option ids collapse.
func (l CartLine) Normalize() (CartLine, error) {
	if l.Quantity < 0 {
		return l, apperr.Validation(apperr.CodeInvalidInput, "quantity for item %d must not be negative", l.ItemID)
	}
	if l.Quantity > MaxQuantity {
		return l, apperr.Validation(apperr.CodeInvalidInput, "quantity for item %d must be at most %d", l.ItemID, MaxQuantity)
	}
	if l.Quantity == 0 {
		l.Quantity = 1
	}
	l.OptionIDs = dedupe(l.OptionIDs)
	return l, nil
}

type Priced struct {
	ItemName  string
	UnitPrice int64
}

type optionGroup struct {
	id       int64
	name     string
	required bool
	min      int
	max      int
}

type Reader struct {
	db postgres.DBTX
}

func NewReader(db postgres.DBTX) *Reader { return &Reader{db: db} }

// WithTx returns a reader bound to tx.
func (r *Reader) WithTx(tx pgx.Tx) *Reader { return &Reader{db: tx} }

func (r *Reader) VendorExists(ctx context.Context, vendorID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vendors WHERE id = $1)`, vendorID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("vendor exists: %w", err)
	}
	return ok, nil
}

// PriceOf prices one unit of itemID with the given options. The item must
// sit on one of the vendor's menus and be available; every option must
// belong to one of the item's option groups and the selection must satisfy
// each group's required/min/max rules.
func (r *Reader) PriceOf(ctx context.Context, vendorID, itemID int64, optionIDs []int64) (Priced, error) {
	var (
		p         Priced
		available bool
	)
	err := r.db.QueryRow(ctx, `
		SELECT mi.name, mi.base_price, mi.is_available
		FROM menu_items mi
		JOIN menu_sections ms ON ms.id = mi.section_id
		JOIN menus m ON m.id = ms.menu_id
		WHERE mi.id = $1 AND m.vendor_id = $2`, itemID, vendorID).Scan(&p.ItemName, &p.UnitPrice, &available)
	if errors.Is(err, pgx.ErrNoRows) {
		return Priced{}, apperr.Validation(apperr.CodeUnknownItem, "item %d not found", itemID)
	}
	if err != nil {
		return Priced{}, fmt.Errorf("price item %d: %w", itemID, err)
	}
	if !available {
		return Priced{}, apperr.Validation(apperr.CodeUnknownItem, "item %d is not available", itemID)
	}

	groups, err := r.optionGroups(ctx, itemID)
	if err != nil {
		return Priced{}, err
	}

	optionIDs = dedupe(optionIDs)
	picked := map[int64]int{}
	if len(optionIDs) > 0 {
		rows, err := r.db.Query(ctx, `
			SELECT o.id, o.group_id, o.price_delta
			FROM options o
			JOIN option_groups g ON g.id = o.group_id
			WHERE g.item_id = $1 AND o.id = ANY($2)`, itemID, optionIDs)
		if err != nil {
			return Priced{}, fmt.Errorf("load options for item %d: %w", itemID, err)
		}
		defer rows.Close()

		found := 0
		for rows.Next() {
			var id, groupID, delta int64
			if err := rows.Scan(&id, &groupID, &delta); err != nil {
				return Priced{}, fmt.Errorf("scan option: %w", err)
			}
			p.UnitPrice += delta
			picked[groupID]++
			found++
		}
		if err := rows.Err(); err != nil {
			return Priced{}, fmt.Errorf("load options for item %d: %w", itemID, err)
		}
		if found != len(optionIDs) {
			return Priced{}, apperr.Validation(apperr.CodeInvalidOptions, "item %d: unknown option selected", itemID)
		}
	}

	for _, g := range groups {
		n := picked[g.id]
		if (g.required && n == 0) || n < g.min {
			return Priced{}, apperr.Validation(apperr.CodeInvalidOptions, "item %d: select at least %d from %s", itemID, max(g.min, 1), g.name)
		}
		if g.max > 0 && n > g.max {
			return Priced{}, apperr.Validation(apperr.CodeInvalidOptions, "item %d: select at most %d from %s", itemID, g.max, g.name)
		}
	}

	if p.UnitPrice < 0 {
		p.UnitPrice = 0
	}
	return p, nil
}

func (r *Reader) optionGroups(ctx context.Context, itemID int64) ([]optionGroup, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, required, min_select, max_select
		FROM option_groups WHERE item_id = $1 ORDER BY id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("load option groups for item %d: %w", itemID, err)
	}
	defer rows.Close()

	var out []optionGroup
	for rows.Next() {
		var g optionGroup
		if err := rows.Scan(&g.id, &g.name, &g.required, &g.min, &g.max); err != nil {
			return nil, fmt.Errorf("scan option group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// PriceLines normalizes and prices every line. Any failure aborts the batch.
func (r *Reader) PriceLines(ctx context.Context, vendorID int64, lines []CartLine) ([]pricing.Line, error) {
	out := make([]pricing.Line, 0, len(lines))
	for _, cl := range lines {
		cl, err := cl.Normalize()
		if err != nil {
			return nil, err
		}
		p, err := r.PriceOf(ctx, vendorID, cl.ItemID, cl.OptionIDs)
		if err != nil {
			return nil, err
		}
		if p.UnitPrice > math.MaxInt64/int64(cl.Quantity) {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "line total for item %d is out of range", cl.ItemID)
		}
		out = append(out, pricing.Line{
			ItemID:    cl.ItemID,
			ItemName:  p.ItemName,
			Quantity:  cl.Quantity,
			OptionIDs: cl.OptionIDs,
			UnitPrice: p.UnitPrice,
			LineTotal: p.UnitPrice * int64(cl.Quantity),
		})
	}
	return out, nil
}

// dedupe sorts ids and drops repeats. It never returns nil.
func dedupe(ids []int64) []int64 {
	if len(ids) == 0 {
		return []int64{}
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
