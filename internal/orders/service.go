package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-menu-orders/internal/apperr"
	"github.com/ariefcatur/go-menu-orders/internal/catalog"
	kafkax "github.com/ariefcatur/go-menu-orders/internal/kafka"
	"github.com/ariefcatur/go-menu-orders/internal/logger"
	"github.com/ariefcatur/go-menu-orders/internal/loyalty"
	"github.com/ariefcatur/go-menu-orders/internal/metrics"
	"github.com/ariefcatur/go-menu-orders/internal/payment"
	"github.com/ariefcatur/go-menu-orders/internal/postgres"
	"github.com/ariefcatur/go-menu-orders/internal/pricing"
	"github.com/ariefcatur/go-menu-orders/internal/redisx"
)

// Publisher is the event sink; *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, env kafkax.Envelope) error
}

type Service struct {
	DB       postgres.TxBeginner
	Repo     *Repo
	Catalog  *catalog.Reader
	Ledger   *loyalty.Ledger
	Engine   *pricing.Engine
	Payments payment.Authorizer
	Cache    *redisx.Cache
	Events   Publisher
	Producer string
	Log      *slog.Logger
}

type CheckoutInput struct {
	VendorID       int64
	Lines          []catalog.CartLine
	Checkout       pricing.Checkout
	IdempotencyKey string
}

// Settlement is everything needed to turn priced lines into an order.
type Settlement struct {
	UserID         int64
	VendorID       int64
	GroupID        *int64
	Lines          []pricing.Line
	Checkout       pricing.Checkout
	IdempotencyKey string
}

// Checkout prices a cart and persists the order, its lines and the
// loyalty movements in one transaction. A repeated idempotency key returns
// the order created the first time.
func (s *Service) Checkout(ctx context.Context, userID int64, in CheckoutInput) (*Detail, error) {
	if in.VendorID <= 0 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "vendor_id is required")
	}
	if len(in.Lines) == 0 {
		return nil, apperr.Validation(apperr.CodeEmptyCart, "cart is empty")
	}

	if in.IdempotencyKey != "" {
		if d, err := s.replay(ctx, userID, in.IdempotencyKey); err != nil || d != nil {
			return d, err
		}
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin checkout: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cat := s.Catalog.WithTx(tx)
	ok, err := cat.VendorExists(ctx, in.VendorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "vendor %d not found", in.VendorID)
	}
	lines, err := cat.PriceLines(ctx, in.VendorID, in.Lines)
	if err != nil {
		return nil, err
	}

	d, err := s.Settle(ctx, tx, Settlement{
		UserID:         userID,
		VendorID:       in.VendorID,
		Lines:          lines,
		Checkout:       in.Checkout,
		IdempotencyKey: in.IdempotencyKey,
	})
	if in.IdempotencyKey != "" && postgres.IsUniqueViolation(err, ConstraintIdempotency) {
		// a concurrent request with the same key won the insert
		_ = tx.Rollback(ctx)
		return s.replay(ctx, userID, in.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit checkout: %w", err)
	}

	s.Committed(ctx, d, metrics.SourceDirect)
	if in.IdempotencyKey != "" {
		if err := s.Cache.SetIdemOrder(ctx, userID, in.IdempotencyKey, d.Order.ID); err != nil {
			s.log(ctx).Warn("cache idempotency key", slog.String("error", err.Error()))
		}
	}
	return d, nil
}

func (s *Service) replay(ctx context.Context, userID int64, key string) (*Detail, error) {
	if id, ok, err := s.Cache.IdemOrder(ctx, userID, key); err == nil && ok {
		d, err := s.Get(ctx, id)
		if err == nil && d.Order.UserID == userID {
			d.Replayed = true
			return d, nil
		}
	}
	o, err := s.Repo.FindByIdempotencyKey(ctx, userID, key)
	if err != nil || o == nil {
		return nil, err
	}
	lines, err := s.Repo.Lines(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return &Detail{Order: *o, Items: lines, Replayed: true}, nil
}

// Settle runs inside the caller's transaction: read the loyalty balance,
// price, authorize payment, persist the order and lines, then debit and
// credit loyalty. Any error leaves the caller to roll back.
func (s *Service) Settle(ctx context.Context, tx pgx.Tx, st Settlement) (*Detail, error) {
	ledger := s.Ledger.WithTx(tx)

	var balance int64
	if st.Checkout.UseLoyalty {
		var err error
		if balance, err = ledger.Balance(ctx, st.UserID, st.VendorID); err != nil {
			return nil, err
		}
	}

	b, err := s.Engine.Price(st.Lines, st.Checkout, balance)
	if err != nil {
		return nil, err
	}

	ref, err := s.Payments.Authorize(ctx, b.Total)
	if err != nil {
		return nil, fmt.Errorf("authorize payment: %w", err)
	}

	o := &Order{
		UserID:      st.UserID,
		VendorID:    st.VendorID,
		GroupID:     st.GroupID,
		Fulfillment: string(st.Checkout.Fulfillment),
		Subtotal:    b.Subtotal,
		Taxes:       b.Taxes,
		Fees:        b.Fees,
		Tip:         b.Tip,
		Discount:    b.Discount,
		Total:       b.Total,
		Redeemed:    b.Redeemed,
		Status:      StatusSubmitted,
		ETA:         etaFromMinutes(b.ETAMinutes),
		PaymentRef:  ref,
	}
	if st.IdempotencyKey != "" {
		key := st.IdempotencyKey
		o.IdempotencyKey = &key
	}

	repo := s.Repo.WithTx(tx)
	if err := repo.Insert(ctx, o); err != nil {
		return nil, err
	}
	lines, err := repo.InsertLines(ctx, o.ID, st.Lines)
	if err != nil {
		return nil, err
	}

	if b.Redeemed > 0 {
		if _, err := ledger.Redeem(ctx, st.UserID, st.VendorID, b.Redeemed, o.ID); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				metrics.LoyaltyRedeemRejected.Inc()
				s.log(ctx).Info("loyalty redeem rejected",
					slog.Int64("user_id", st.UserID),
					slog.Int64("vendor_id", st.VendorID),
					slog.Int64("points", b.Redeemed))
			}
			return nil, err
		}
	}
	awarded := loyalty.AwardFor(b.Total)
	if awarded > 0 {
		if _, err := ledger.Award(ctx, st.UserID, st.VendorID, awarded, o.ID); err != nil {
			return nil, err
		}
	}

	return &Detail{Order: *o, Items: lines, Breakdown: &b, Awarded: awarded}, nil
}

// Committed runs the side effects that must wait for a successful commit.
// Failures here are logged; the order already exists.
func (s *Service) Committed(ctx context.Context, d *Detail, source string) {
	o := d.Order
	metrics.OrdersCreated.WithLabelValues(source).Inc()
	if o.Redeemed > 0 {
		metrics.LoyaltyPointsRedeemed.Add(float64(o.Redeemed))
	}

	log := s.log(ctx)
	log.Info("order created",
		slog.Int64("order_id", o.ID),
		slog.Int64("vendor_id", o.VendorID),
		slog.String("source", source),
		slog.Int64("total", o.Total),
		slog.Int64("loyalty_redeemed", o.Redeemed))

	if _, err := s.Cache.SetStatusIfNewer(ctx, o.ID, redisx.StatusEntry{Status: string(o.Status), ETA: o.ETA, UpdatedAt: o.UpdatedAt}); err != nil {
		log.Warn("cache order status", slog.String("error", err.Error()))
	}
	s.publish(ctx, TopicOrderCreated, o.ID, EventOrderCreated, OrderCreatedPayload{
		OrderID:     o.ID,
		UserID:      o.UserID,
		VendorID:    o.VendorID,
		GroupID:     o.GroupID,
		Status:      o.Status,
		Fulfillment: o.Fulfillment,
		TotalCents:  o.Total,
		Redeemed:    o.Redeemed,
		Awarded:     d.Awarded,
		ETA:         o.ETA,
		CreatedAt:   o.CreatedAt,
	})
}

func (s *Service) Get(ctx context.Context, id int64) (*Detail, error) {
	o, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	lines, err := s.Repo.Lines(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Order: *o, Items: lines}, nil
}

// Status answers a status poll from the cache, falling back to Postgres.
func (s *Service) Status(ctx context.Context, id int64) (redisx.StatusEntry, error) {
	if e, ok, err := s.Cache.Status(ctx, id); err == nil && ok {
		return e, nil
	} else if err != nil {
		s.log(ctx).Warn("read status cache", slog.Int64("order_id", id), slog.String("error", err.Error()))
	}
	o, err := s.Repo.Get(ctx, id)
	if err != nil {
		return redisx.StatusEntry{}, err
	}
	e := redisx.StatusEntry{Status: string(o.Status), ETA: o.ETA, UpdatedAt: o.UpdatedAt}
	if _, err := s.Cache.SetStatusIfNewer(ctx, id, e); err != nil {
		s.log(ctx).Warn("cache order status", slog.Int64("order_id", id), slog.String("error", err.Error()))
	}
	return e, nil
}

// VendorQueue lists the vendor's live orders in arrival order from the
// projected queue, falling back to Postgres when Redis is unavailable.
func (s *Service) VendorQueue(ctx context.Context, vendorID int64) ([]int64, error) {
	ids, err := s.Cache.Queue(ctx, vendorID)
	if err == nil {
		return ids, nil
	}
	s.log(ctx).Warn("read vendor queue", slog.Int64("vendor_id", vendorID), slog.String("error", err.Error()))
	return s.Repo.LiveByVendor(ctx, vendorID)
}

// UpdateStatus applies a vendor-driven transition. A nil eta keeps the
// current one.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status string, eta *string) (*Order, error) {
	to, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	cur, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(cur.Status, to); err != nil {
		return nil, err
	}
	var (
		o        *Order
		ok       bool
		reversed int64
	)
	if to == StatusCanceled || to == StatusRefunded {
		o, ok, reversed, err = s.closeOut(ctx, cur, to, eta)
	} else {
		o, ok, err = s.Repo.UpdateStatus(ctx, id, cur.Status, to, eta)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict(apperr.CodeInvalidTransition, "order %d changed while updating to %s", id, to)
	}

	log := s.log(ctx)
	log.Info("order status changed",
		slog.Int64("order_id", id),
		slog.String("from", string(cur.Status)),
		slog.String("to", string(to)),
		slog.Int64("loyalty_reversed", reversed))

	if _, err := s.Cache.SetStatusIfNewer(ctx, id, redisx.StatusEntry{Status: string(o.Status), ETA: o.ETA, UpdatedAt: o.UpdatedAt}); err != nil {
		log.Warn("cache order status", slog.String("error", err.Error()))
	}
	s.publish(ctx, TopicOrderStatusChanged, id, EventOrderStatusChanged, OrderStatusChangedPayload{
		OrderID:   id,
		VendorID:  o.VendorID,
		From:      cur.Status,
		To:        o.Status,
		ETA:       o.ETA,
		UpdatedAt: o.UpdatedAt,
	})
	return o, nil
}

// closeOut cancels or refunds an order and reverses its loyalty movements
// in the same transaction.
func (s *Service) closeOut(ctx context.Context, cur *Order, to Status, eta *string) (*Order, bool, int64, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, false, 0, fmt.Errorf("begin close out: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, ok, err := s.Repo.WithTx(tx).UpdateStatus(ctx, cur.ID, cur.Status, to, eta)
	if err != nil || !ok {
		return nil, ok, 0, err
	}
	delta, err := s.Ledger.WithTx(tx).Reverse(ctx, o.UserID, o.VendorID, o.ID)
	if err != nil {
		return nil, false, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, 0, fmt.Errorf("commit close out: %w", err)
	}
	return o, true, delta, nil
}

func (s *Service) publish(ctx context.Context, topic string, orderID int64, eventType string, payload any) {
	env, err := kafkax.NewEnvelope(eventType, s.Producer, fmt.Sprint(orderID), payload)
	if err == nil {
		env.TraceID = logger.RequestID(ctx)
		err = s.Events.Publish(ctx, topic, PartitionKey(orderID), env)
	}
	if err != nil {
		s.log(ctx).Warn("publish event",
			slog.String("topic", topic),
			slog.Int64("order_id", orderID),
			slog.String("error", err.Error()))
	}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx, s.Log)
}

func etaFromMinutes(m *int) *string {
	if m == nil {
		return nil
	}
	eta := fmt.Sprintf("%d min", *m)
	return &eta
}
