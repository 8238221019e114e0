package group

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-menu-orders/internal/apperr"
	"github.com/ariefcatur/go-menu-orders/internal/postgres"
)

const groupColumns = `id, code, vendor_id, owner_user_id, status, order_id, created_at, submitted_at`

// ConstraintCode is the unique index on group_orders.code.
const ConstraintCode = "group_orders_code_key"

type Repo struct{ DB postgres.DBTX }

func (r *Repo) WithTx(tx pgx.Tx) *Repo { return &Repo{DB: tx} }

func scanGroup(row pgx.Row) (*Group, error) {
	var g Group
	if err := row.Scan(&g.ID, &g.Code, &g.VendorID, &g.OwnerUserID, &g.Status,
		&g.OrderID, &g.CreatedAt, &g.SubmittedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

// Insert opens a group under g.Code.
func (r *Repo) Insert(ctx context.Context, g *Group) error {
	err := r.DB.QueryRow(ctx, `
		INSERT INTO group_orders (code, vendor_id, owner_user_id, status)
		VALUES ($1, $2, $3, 'open')
		RETURNING id, status, created_at`,
		g.Code, g.VendorID, g.OwnerUserID,
	).Scan(&g.ID, &g.Status, &g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (r *Repo) GetByCode(ctx context.Context, code string) (*Group, error) {
	g, err := scanGroup(r.DB.QueryRow(ctx, `SELECT `+groupColumns+` FROM group_orders WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("group", code)
	}
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", code, err)
	}
	return g, nil
}

// LockOpen takes a shared lock on an open group. Concurrent adds share it;
// a submit's UPDATE waits for them.
func (r *Repo) LockOpen(ctx context.Context, code string) (*Group, error) {
	g, err := scanGroup(r.DB.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM group_orders WHERE code = $1 AND status = 'open' FOR SHARE`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("group", code)
	}
	if err != nil {
		return nil, fmt.Errorf("lock group %s: %w", code, err)
	}
	return g, nil
}

// ClaimOpen flips an open group to submitted. ok is false when the group is
// missing or someone else already submitted it.
func (r *Repo) ClaimOpen(ctx context.Context, code string) (g *Group, ok bool, err error) {
	g, err = scanGroup(r.DB.QueryRow(ctx, `
		UPDATE group_orders SET status = 'submitted', submitted_at = now()
		WHERE code = $1 AND status = 'open'
		RETURNING `+groupColumns, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim group %s: %w", code, err)
	}
	return g, true, nil
}

func (r *Repo) LinkOrder(ctx context.Context, groupID, orderID int64) error {
	if _, err := r.DB.Exec(ctx, `UPDATE group_orders SET order_id = $2 WHERE id = $1`, groupID, orderID); err != nil {
		return fmt.Errorf("link group %d to order %d: %w", groupID, orderID, err)
	}
	return nil
}

func (r *Repo) AppendLine(ctx context.Context, l *Line) error {
	if l.OptionIDs == nil {
		l.OptionIDs = []int64{}
	}
	err := r.DB.QueryRow(ctx, `
		INSERT INTO group_order_lines (group_id, contributor_name, item_id, item_name, qty, selected_options, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		l.GroupID, l.ContributorName, l.ItemID, l.ItemName, l.Quantity, l.OptionIDs, l.UnitPrice, l.LineTotal,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert group line: %w", err)
	}
	return nil
}

func (r *Repo) Lines(ctx context.Context, groupID int64) ([]Line, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, group_id, contributor_name, item_id, item_name, qty, selected_options, unit_price, line_total, created_at
		FROM group_order_lines WHERE group_id = $1 ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group lines: %w", err)
	}
	defer rows.Close()

	out := []Line{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.GroupID, &l.ContributorName, &l.ItemID, &l.ItemName,
			&l.Quantity, &l.OptionIDs, &l.UnitPrice, &l.LineTotal, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Summary returns the running subtotal and item count of a group.
func (r *Repo) Summary(ctx context.Context, groupID int64) (AddResult, error) {
	var s AddResult
	err := r.DB.QueryRow(ctx, `
		SELECT COALESCE(SUM(line_total), 0)::bigint, COALESCE(SUM(qty), 0)::bigint
		FROM group_order_lines WHERE group_id = $1`, groupID).Scan(&s.Subtotal, &s.Count)
	if err != nil {
		return AddResult{}, fmt.Errorf("summarize group %d: %w", groupID, err)
	}
	return s, nil
}
