package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-menu-orders/internal/apperr"
	"github.com/ariefcatur/go-menu-orders/internal/postgres"
	"github.com/ariefcatur/go-menu-orders/internal/pricing"
)

const orderColumns = `id, user_id, vendor_id, group_id, fulfillment, subtotal, taxes, fees, tip,
	discount, total, loyalty_redeemed, status, eta, payment_ref, idempotency_key, created_at, updated_at`

// ConstraintIdempotency is the unique index on (user_id, idempotency_key).
const ConstraintIdempotency = "orders_user_idempotency_key"

type Repo struct{ DB postgres.DBTX }

func (r *Repo) WithTx(tx pgx.Tx) *Repo { return &Repo{DB: tx} }

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.VendorID, &o.GroupID, &o.Fulfillment,
		&o.Subtotal, &o.Taxes, &o.Fees, &o.Tip, &o.Discount, &o.Total, &o.Redeemed,
		&o.Status, &o.ETA, &o.PaymentRef, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Insert writes o and fills in its id and timestamps.
func (r *Repo) Insert(ctx context.Context, o *Order) error {
	err := r.DB.QueryRow(ctx, `
		INSERT INTO orders (user_id, vendor_id, group_id, fulfillment, subtotal, taxes, fees, tip,
			discount, total, loyalty_redeemed, status, eta, payment_ref, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`,
		o.UserID, o.VendorID, o.GroupID, o.Fulfillment, o.Subtotal, o.Taxes, o.Fees, o.Tip,
		o.Discount, o.Total, o.Redeemed, string(o.Status), o.ETA, o.PaymentRef, o.IdempotencyKey,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *Repo) InsertLines(ctx context.Context, orderID int64, lines []pricing.Line) ([]OrderLine, error) {
	out := make([]OrderLine, 0, len(lines))
	for _, l := range lines {
		ol := OrderLine{
			OrderID:   orderID,
			ItemID:    l.ItemID,
			ItemName:  l.ItemName,
			Quantity:  l.Quantity,
			OptionIDs: l.OptionIDs,
			UnitPrice: l.UnitPrice,
			LineTotal: l.LineTotal,
		}
		if ol.OptionIDs == nil {
			ol.OptionIDs = []int64{}
		}
		err := r.DB.QueryRow(ctx, `
			INSERT INTO order_items (order_id, item_id, item_name, qty, selected_options, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			orderID, ol.ItemID, ol.ItemName, ol.Quantity, ol.OptionIDs, ol.UnitPrice, ol.LineTotal,
		).Scan(&ol.ID)
		if err != nil {
			return nil, fmt.Errorf("insert order line: %w", err)
		}
		out = append(out, ol)
	}
	return out, nil
}

func (r *Repo) Get(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

func (r *Repo) Lines(ctx context.Context, orderID int64) ([]OrderLine, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, item_id, item_name, qty, selected_options, unit_price, line_total
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order lines: %w", err)
	}
	defer rows.Close()

	out := []OrderLine{}
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.ItemName, &l.Quantity,
			&l.OptionIDs, &l.UnitPrice, &l.LineTotal); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// LiveByVendor lists a vendor's non-terminal orders, oldest first.
func (r *Repo) LiveByVendor(ctx context.Context, vendorID int64) ([]int64, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE vendor_id = $1 AND status NOT IN ($2, $3, $4)
		ORDER BY created_at, id`,
		vendorID, string(StatusCompleted), string(StatusCanceled), string(StatusRefunded))
	if err != nil {
		return nil, fmt.Errorf("list live orders: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan live order: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindByIdempotencyKey returns nil when the user never used key.
func (r *Repo) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find order by idempotency key: %w", err)
	}
	return o, nil
}

// UpdateStatus moves the order from -> to only if it is still in from.
// ok is false when another writer got there first. A nil eta keeps the
// stored one.
func (r *Repo) UpdateStatus(ctx context.Context, id int64, from, to Status, eta *string) (o *Order, ok bool, err error) {
	o, err = scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET status = $3, eta = COALESCE($4, eta), updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+orderColumns, id, string(from), string(to), eta))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("update order %d status: %w", id, err)
	}
	return o, true, nil
}
