// Package loyalty keeps per-vendor point balances. It is the only writer of
// loyalty_accounts and loyalty_entries; every mutation is a single
// conditional statement so concurrent orders cannot overdraw an account.
package loyalty

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-menu-orders/internal/apperr"
	"github.com/ariefcatur/go-menu-orders/internal/postgres"
)

// Reasons recorded on ledger entries.
const (
	ReasonRedeem   = "redeem"
	ReasonAward    = "award"
	ReasonReversal = "reversal"
)

// One point per full dollar of order total.
const centsPerPoint = 100

type Entry struct {
	UserID       int64
	VendorID     int64
	OrderID      int64
	Delta        int64
	Reason       string
	BalanceAfter int64
}

type Ledger struct {
	db postgres.DBTX
}

func NewLedger(db postgres.DBTX) *Ledger { return &Ledger{db: db} }

// WithTx returns a ledger whose writes join tx.
func (l *Ledger) WithTx(tx pgx.Tx) *Ledger { return &Ledger{db: tx} }

// Balance returns 0 for customers who never earned at the vendor.
func (l *Ledger) Balance(ctx context.Context, userID, vendorID int64) (int64, error) {
	var points int64
	err := l.db.QueryRow(ctx,
		`SELECT points FROM loyalty_accounts WHERE user_id = $1 AND vendor_id = $2`,
		userID, vendorID).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loyalty balance: %w", err)
	}
	return points, nil
}

// Redeem debits amount points. The debit only happens when the balance
// covers it at the moment the statement runs.
func (l *Ledger) Redeem(ctx context.Context, userID, vendorID, amount, orderID int64) (int64, error) {
	if amount < 0 {
		return 0, apperr.Validation(apperr.CodeInvalidInput, "redeem amount must not be negative")
	}
	if amount == 0 {
		return l.Balance(ctx, userID, vendorID)
	}

	var balance int64
	err := l.db.QueryRow(ctx, `
		UPDATE loyalty_accounts
		SET points = points - $3, updated_at = now()
		WHERE user_id = $1 AND vendor_id = $2 AND points >= $3
		RETURNING points`, userID, vendorID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.Conflict(apperr.CodeInsufficientPoints, "not enough loyalty points to redeem %d", amount)
	}
	if err != nil {
		return 0, fmt.Errorf("loyalty redeem: %w", err)
	}

	if err := l.appendEntry(ctx, Entry{
		UserID: userID, VendorID: vendorID, OrderID: orderID,
		Delta: -amount, Reason: ReasonRedeem, BalanceAfter: balance,
	}); err != nil {
		return 0, err
	}
	return balance, nil
}

// Award credits amount points, opening the account on first use.
func (l *Ledger) Award(ctx context.Context, userID, vendorID, amount, orderID int64) (int64, error) {
	if amount < 0 {
		return 0, apperr.Validation(apperr.CodeInvalidInput, "award amount must not be negative")
	}
	if amount == 0 {
		return l.Balance(ctx, userID, vendorID)
	}

	balance, err := l.credit(ctx, userID, vendorID, amount)
	if err != nil {
		return 0, fmt.Errorf("loyalty award: %w", err)
	}
	if err := l.appendEntry(ctx, Entry{
		UserID: userID, VendorID: vendorID, OrderID: orderID,
		Delta: amount, Reason: ReasonAward, BalanceAfter: balance,
	}); err != nil {
		return 0, err
	}
	return balance, nil
}

// Reverse undoes the net movement recorded against an order: redeemed
// points come back and awarded points are taken away. Awarded points the
// customer already spent are gone, so the debit stops at the balance. It
// returns the delta applied. Run it inside the transaction that closes the
// order.
func (l *Ledger) Reverse(ctx context.Context, userID, vendorID, orderID int64) (int64, error) {
	var net int64
	if err := l.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(delta), 0)::bigint FROM loyalty_entries
		WHERE user_id = $1 AND vendor_id = $2 AND order_id = $3`,
		userID, vendorID, orderID).Scan(&net); err != nil {
		return 0, fmt.Errorf("loyalty order net: %w", err)
	}

	var delta, balance int64
	switch {
	case net == 0:
		return 0, nil
	case net < 0:
		delta = -net
		b, err := l.credit(ctx, userID, vendorID, delta)
		if err != nil {
			return 0, fmt.Errorf("loyalty reversal: %w", err)
		}
		balance = b
	default:
		var points int64
		err := l.db.QueryRow(ctx,
			`SELECT points FROM loyalty_accounts WHERE user_id = $1 AND vendor_id = $2 FOR UPDATE`,
			userID, vendorID).Scan(&points)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("loyalty reversal: %w", err)
		}
		debit := min(net, points)
		if debit == 0 {
			return 0, nil
		}
		if err := l.db.QueryRow(ctx, `
			UPDATE loyalty_accounts
			SET points = points - $3, updated_at = now()
			WHERE user_id = $1 AND vendor_id = $2
			RETURNING points`, userID, vendorID, debit).Scan(&balance); err != nil {
			return 0, fmt.Errorf("loyalty reversal: %w", err)
		}
		delta = -debit
	}

	if err := l.appendEntry(ctx, Entry{
		UserID: userID, VendorID: vendorID, OrderID: orderID,
		Delta: delta, Reason: ReasonReversal, BalanceAfter: balance,
	}); err != nil {
		return 0, err
	}
	return delta, nil
}

func (l *Ledger) credit(ctx context.Context, userID, vendorID, amount int64) (int64, error) {
	var balance int64
	err := l.db.QueryRow(ctx, `
		INSERT INTO loyalty_accounts (user_id, vendor_id, points, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, vendor_id)
		DO UPDATE SET points = loyalty_accounts.points + EXCLUDED.points, updated_at = now()
		RETURNING points`, userID, vendorID, amount).Scan(&balance)
	return balance, err
}

func (l *Ledger) appendEntry(ctx context.Context, e Entry) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO loyalty_entries (user_id, vendor_id, order_id, delta, reason, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.UserID, e.VendorID, e.OrderID, e.Delta, e.Reason, e.BalanceAfter)
	if err != nil {
		return fmt.Errorf("loyalty entry: %w", err)
	}
	return nil
}

// AwardFor is the number of points an order total earns.
func AwardFor(totalCents int64) int64 {
	if totalCents <= 0 {
		return 0
	}
	return totalCents / centsPerPoint
}
