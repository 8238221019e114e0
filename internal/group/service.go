// Package group aggregates lines from several contributors into one cart
// that its owner checks out once.
package group

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ariefcatur/go-menu-orders/internal/apperr"
	"github.com/ariefcatur/go-menu-orders/internal/catalog"
	"github.com/ariefcatur/go-menu-orders/internal/logger"
	"github.com/ariefcatur/go-menu-orders/internal/metrics"
	"github.com/ariefcatur/go-menu-orders/internal/orders"
	"github.com/ariefcatur/go-menu-orders/internal/postgres"
	"github.com/ariefcatur/go-menu-orders/internal/pricing"
)

const defaultContributor = "Guest"

type Service struct {
	DB      postgres.TxBeginner
	Repo    *Repo
	Catalog *catalog.Reader
	Orders  *orders.Service
	Log     *slog.Logger

	// NewCode generates join codes; nil means NewCode.
	NewCode func() string
}

func (s *Service) Start(ctx context.Context, ownerID, vendorID int64) (*Group, error) {
	if vendorID <= 0 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "vendor_id is required")
	}
	ok, err := s.Catalog.VendorExists(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "vendor %d not found", vendorID)
	}

	gen := s.NewCode
	if gen == nil {
		gen = NewCode
	}
	var lastErr error
	for range maxCodeAttempts {
		g := &Group{Code: gen(), VendorID: vendorID, OwnerUserID: ownerID}
		err := s.Repo.Insert(ctx, g)
		if err == nil {
			s.log(ctx).Info("group started",
				slog.Int64("group_id", g.ID),
				slog.String("code", g.Code),
				slog.Int64("vendor_id", vendorID))
			return g, nil
		}
		if !postgres.IsUniqueViolation(err, ConstraintCode) {
			return nil, err
		}
		lastErr = err
	}
	return nil, apperr.ResourceExhausted(apperr.CodeCodeExhausted,
		fmt.Sprintf("no free group code after %d attempts", maxCodeAttempts), lastErr)
}

func (s *Service) Get(ctx context.Context, code string) (*Snapshot, error) {
	g, err := s.Repo.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	lines, err := s.Repo.Lines(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	var subtotal int64
	for _, l := range lines {
		subtotal += l.LineTotal
	}
	return &Snapshot{Group: *g, Items: lines, Subtotal: subtotal}, nil
}

// AddLine prices line against the group's vendor and appends it. The price
// is locked in: later menu changes do not touch it.
func (s *Service) AddLine(ctx context.Context, code, contributor string, line catalog.CartLine) (AddResult, error) {
	code = NormalizeCode(code)
	contributor = strings.TrimSpace(contributor)
	if contributor == "" {
		contributor = defaultContributor
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return AddResult{}, fmt.Errorf("begin group add: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	repo := s.Repo.WithTx(tx)
	g, err := repo.LockOpen(ctx, code)
	if err != nil {
		return AddResult{}, err
	}
	priced, err := s.Catalog.WithTx(tx).PriceLines(ctx, g.VendorID, []catalog.CartLine{line})
	if err != nil {
		return AddResult{}, err
	}
	p := priced[0]
	if err := repo.AppendLine(ctx, &Line{
		GroupID:         g.ID,
		ContributorName: contributor,
		ItemID:          p.ItemID,
		ItemName:        p.ItemName,
		Quantity:        p.Quantity,
		OptionIDs:       p.OptionIDs,
		UnitPrice:       p.UnitPrice,
		LineTotal:       p.LineTotal,
	}); err != nil {
		return AddResult{}, err
	}
	sum, err := repo.Summary(ctx, g.ID)
	if err != nil {
		return AddResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return AddResult{}, fmt.Errorf("commit group add: %w", err)
	}
	return sum, nil
}

// Submit checks the group out exactly once, charged to the owner. A second
// submit, or one that loses a race, fails without creating an order.
func (s *Service) Submit(ctx context.Context, code string, c pricing.Checkout) (*orders.Detail, error) {
	code = NormalizeCode(code)

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin group submit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	repo := s.Repo.WithTx(tx)
	g, ok, err := repo.ClaimOpen(ctx, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := repo.GetByCode(ctx, code); err != nil {
			return nil, err
		}
		metrics.GroupSubmitConflicts.Inc()
		s.log(ctx).Info("group already submitted", slog.String("code", code))
		return nil, apperr.Conflict(apperr.CodeAlreadySubmitted, "group %s was already submitted", code)
	}

	lines, err := repo.Lines(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, apperr.Validation(apperr.CodeEmptyGroup, "group %s has no items", code)
	}
	priced := make([]pricing.Line, 0, len(lines))
	for _, l := range lines {
		priced = append(priced, l.priced())
	}

	groupID := g.ID
	d, err := s.Orders.Settle(ctx, tx, orders.Settlement{
		UserID:   g.OwnerUserID,
		VendorID: g.VendorID,
		GroupID:  &groupID,
		Lines:    priced,
		Checkout: c,
	})
	if err != nil {
		return nil, err
	}
	if err := repo.LinkOrder(ctx, g.ID, d.Order.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit group submit: %w", err)
	}

	s.log(ctx).Info("group submitted",
		slog.Int64("group_id", g.ID),
		slog.String("code", code),
		slog.Int64("order_id", d.Order.ID),
		slog.Int("lines", len(lines)))
	s.Orders.Committed(ctx, d, metrics.SourceGroup)
	return d, nil
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx, s.Log)
}
