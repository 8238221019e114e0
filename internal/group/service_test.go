package group

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-menu-orders/internal/apperr"
	"github.com/ariefcatur/go-menu-orders/internal/catalog"
	kafkax "github.com/ariefcatur/go-menu-orders/internal/kafka"
	"github.com/ariefcatur/go-menu-orders/internal/logger"
	"github.com/ariefcatur/go-menu-orders/internal/loyalty"
	"github.com/ariefcatur/go-menu-orders/internal/orders"
	"github.com/ariefcatur/go-menu-orders/internal/payment"
	"github.com/ariefcatur/go-menu-orders/internal/pricing"
	"github.com/ariefcatur/go-menu-orders/internal/redisx"
)

type recordingPublisher struct{ topics []string }

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ []byte, _ kafkax.Envelope) error {
	p.topics = append(p.topics, topic)
	return nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupService(t *testing.T) (*Service, pgxmock.PgxPoolIface, *recordingPublisher) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	pub := &recordingPublisher{}
	cat := catalog.NewReader(mock)
	ord := &orders.Service{
		DB:       mock,
		Repo:     &orders.Repo{DB: mock},
		Catalog:  cat,
		Ledger:   loyalty.NewLedger(mock),
		Engine:   pricing.NewEngine(nil),
		Payments: payment.Stub{},
		Cache:    redisx.NewCache(rdb),
		Events:   pub,
		Producer: "group-test",
		Log:      logger.Discard(),
	}
	svc := &Service{
		DB:      mock,
		Repo:    &Repo{DB: mock},
		Catalog: cat,
		Orders:  ord,
		Log:     logger.Discard(),
	}
	return svc, mock, pub
}

func groupRow(status Status) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "code", "vendor_id", "owner_user_id", "status", "order_id", "created_at", "submitted_at"}).
		AddRow(int64(3), "ABC234", int64(1), int64(7), string(status), nil, testNow, nil)
}

func groupLineRows(lines ...Line) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"id", "group_id", "contributor_name", "item_id", "item_name", "qty", "selected_options", "unit_price", "line_total", "created_at"})
	for _, l := range lines {
		rows.AddRow(l.ID, l.GroupID, l.ContributorName, l.ItemID, l.ItemName, l.Quantity, l.OptionIDs, l.UnitPrice, l.LineTotal, testNow)
	}
	return rows
}

var (
	burger = Line{ID: 1, GroupID: 3, ContributorName: "Ana", ItemID: 10, ItemName: "Burger", Quantity: 1, OptionIDs: []int64{}, UnitPrice: 900, LineTotal: 900}
	fries  = Line{ID: 2, GroupID: 3, ContributorName: "Guest", ItemID: 11, ItemName: "Fries", Quantity: 2, OptionIDs: []int64{4}, UnitPrice: 300, LineTotal: 600}
)

func codes(cs ...string) func() string {
	i := 0
	return func() string {
		c := cs[i%len(cs)]
		i++
		return c
	}
}

func TestService_Start_RetriesCodeCollision(t *testing.T) {
	svc, mock, _ := setupService(t)
	svc.NewCode = codes("AAAAAA", "BBBBBB")

	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO group_orders").WithArgs("AAAAAA", int64(1), int64(7)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: ConstraintCode})
	mock.ExpectQuery("INSERT INTO group_orders").WithArgs("BBBBBB", int64(1), int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "created_at"}).AddRow(int64(3), "open", testNow))

	g, err := svc.Start(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", g.Code)
	assert.Equal(t, StatusOpen, g.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Start_CodesExhausted(t *testing.T) {
	svc, mock, _ := setupService(t)
	svc.NewCode = codes("AAAAAA")

	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	for range maxCodeAttempts {
		mock.ExpectQuery("INSERT INTO group_orders").
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: ConstraintCode})
	}

	_, err := svc.Start(context.Background(), 7, 1)
	assert.ErrorIs(t, err, apperr.ErrResourceExhausted)
	assert.True(t, apperr.HasCode(err, apperr.CodeCodeExhausted))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Start_UnknownVendor(t *testing.T) {
	svc, mock, _ := setupService(t)
	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := svc.Start(context.Background(), 7, 9)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestService_Get(t *testing.T) {
	svc, mock, _ := setupService(t)
	mock.ExpectQuery("FROM group_orders WHERE code").WithArgs("ABC234").WillReturnRows(groupRow(StatusOpen))
	mock.ExpectQuery("FROM group_order_lines WHERE group_id").WithArgs(int64(3)).
		WillReturnRows(groupLineRows(burger, fries))

	snap, err := svc.Get(context.Background(), " abc234 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), snap.Subtotal)
	assert.Len(t, snap.Items, 2)
	assert.Equal(t, "Guest", snap.Items[1].ContributorName)
}

func TestService_Get_UnknownCode(t *testing.T) {
	svc, mock, _ := setupService(t)
	mock.ExpectQuery("FROM group_orders WHERE code").WithArgs("NOPE22").WillReturnError(pgx.ErrNoRows)

	_, err := svc.Get(context.Background(), "nope22")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_AddLine(t *testing.T) {
	svc, mock, _ := setupService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR SHARE").WithArgs("ABC234").WillReturnRows(groupRow(StatusOpen))
	mock.ExpectQuery("FROM menu_items mi").WithArgs(int64(10), int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"name", "base_price", "is_available"}).AddRow("Burger", int64(900), true))
	mock.ExpectQuery("FROM option_groups WHERE item_id").WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "required", "min_select", "max_select"}))
	mock.ExpectQuery("INSERT INTO group_order_lines").
		WithArgs(int64(3), "Guest", int64(10), "Burger", 2, []int64{}, int64(900), int64(1800)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(8), testNow))
	mock.ExpectQuery("SUM\\(line_total\\)").WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"subtotal", "count"}).AddRow(int64(2700), int64(3)))
	mock.ExpectCommit()

	res, err := svc.AddLine(context.Background(), "abc234", "  ", catalog.CartLine{ItemID: 10, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, AddResult{Subtotal: 2700, Count: 3}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_AddLine_ClosedGroup(t *testing.T) {
	svc, mock, _ := setupService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR SHARE").WithArgs("ABC234").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.AddLine(context.Background(), "ABC234", "Ana", catalog.CartLine{ItemID: 10})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Submit(t *testing.T) {
	svc, mock, pub := setupService(t)
	groupID := int64(3)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE group_orders SET status").WithArgs("ABC234").WillReturnRows(groupRow(StatusSubmitted))
	mock.ExpectQuery("FROM group_order_lines WHERE group_id").WithArgs(int64(3)).
		WillReturnRows(groupLineRows(burger, fries))
	mock.ExpectQuery("INSERT INTO orders").
		WithArgs(int64(7), int64(1), &groupID, "pickup", int64(1500), int64(120), int64(99), int64(0),
			int64(0), int64(1719), int64(0), "Submitted", (*string)(nil), pgxmock.AnyArg(), (*string)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(55), testNow, testNow))
	mock.ExpectQuery("INSERT INTO order_items").
		WithArgs(int64(55), int64(10), "Burger", 1, []int64{}, int64(900), int64(900)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(501)))
	mock.ExpectQuery("INSERT INTO order_items").
		WithArgs(int64(55), int64(11), "Fries", 2, []int64{4}, int64(300), int64(600)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(502)))
	mock.ExpectQuery("INSERT INTO loyalty_accounts").WithArgs(int64(7), int64(1), int64(17)).
		WillReturnRows(pgxmock.NewRows([]string{"points"}).AddRow(int64(17)))
	mock.ExpectExec("INSERT INTO loyalty_entries").
		WithArgs(int64(7), int64(1), int64(55), int64(17), loyalty.ReasonAward, int64(17)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE group_orders SET order_id").WithArgs(int64(3), int64(55)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	d, err := svc.Submit(context.Background(), "abc234", pricing.Checkout{Fulfillment: pricing.Pickup})
	require.NoError(t, err)
	assert.Equal(t, int64(55), d.Order.ID)
	require.NotNil(t, d.Order.GroupID)
	assert.Equal(t, int64(3), *d.Order.GroupID)
	assert.Equal(t, int64(1719), d.Order.Total)
	assert.Len(t, d.Items, 2)
	assert.Equal(t, []string{orders.TopicOrderCreated}, pub.topics)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Submit_AlreadySubmittedCreatesNoOrder(t *testing.T) {
	svc, mock, pub := setupService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE group_orders SET status").WithArgs("ABC234").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM group_orders WHERE code").WithArgs("ABC234").WillReturnRows(groupRow(StatusSubmitted))
	mock.ExpectRollback()

	_, err := svc.Submit(context.Background(), "ABC234", pricing.Checkout{})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.True(t, apperr.HasCode(err, apperr.CodeAlreadySubmitted))
	assert.Empty(t, pub.topics)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Submit_ConcurrentCreatesOneOrder(t *testing.T) {
	svc, mock, pub := setupService(t)
	mock.MatchExpectationsInOrder(false)
	groupID := int64(3)

	// two transactions race for the claim; the first UPDATE to run wins
	mock.ExpectBegin()
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE group_orders SET status").WithArgs("ABC234").WillReturnRows(groupRow(StatusSubmitted))
	mock.ExpectQuery("UPDATE group_orders SET status").WithArgs("ABC234").WillReturnError(pgx.ErrNoRows)

	mock.ExpectQuery("FROM group_order_lines WHERE group_id").WithArgs(int64(3)).
		WillReturnRows(groupLineRows(burger, fries))
	mock.ExpectQuery("INSERT INTO orders").
		WithArgs(int64(7), int64(1), &groupID, "pickup", int64(1500), int64(120), int64(99), int64(0),
			int64(0), int64(1719), int64(0), "Submitted", (*string)(nil), pgxmock.AnyArg(), (*string)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(55), testNow, testNow))
	mock.ExpectQuery("INSERT INTO order_items").
		WithArgs(int64(55), int64(10), "Burger", 1, []int64{}, int64(900), int64(900)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(501)))
	mock.ExpectQuery("INSERT INTO order_items").
		WithArgs(int64(55), int64(11), "Fries", 2, []int64{4}, int64(300), int64(600)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(502)))
	mock.ExpectQuery("INSERT INTO loyalty_accounts").WithArgs(int64(7), int64(1), int64(17)).
		WillReturnRows(pgxmock.NewRows([]string{"points"}).AddRow(int64(17)))
	mock.ExpectExec("INSERT INTO loyalty_entries").
		WithArgs(int64(7), int64(1), int64(55), int64(17), loyalty.ReasonAward, int64(17)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE group_orders SET order_id").WithArgs(int64(3), int64(55)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	mock.ExpectQuery("FROM group_orders WHERE code").WithArgs("ABC234").WillReturnRows(groupRow(StatusSubmitted))
	mock.ExpectRollback()

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
		ids   = make([]int64, 2)
	)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := svc.Submit(context.Background(), "ABC234", pricing.Checkout{Fulfillment: pricing.Pickup})
			errs[i] = err
			if d != nil {
				ids[i] = d.Order.ID
			}
		}()
	}
	close(start)
	wg.Wait()

	var won, lost int
	for i, err := range errs {
		switch {
		case err == nil:
			won++
			assert.Equal(t, int64(55), ids[i])
		case apperr.HasCode(err, apperr.CodeAlreadySubmitted):
			lost++
		default:
			t.Errorf("unexpected submit error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
	assert.Equal(t, []string{orders.TopicOrderCreated}, pub.topics)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Submit_UnknownGroup(t *testing.T) {
	svc, mock, _ := setupService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE group_orders SET status").WithArgs("ZZZZZZ").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM group_orders WHERE code").WithArgs("ZZZZZZ").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.Submit(context.Background(), "zzzzzz", pricing.Checkout{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Submit_EmptyGroupStaysOpen(t *testing.T) {
	svc, mock, _ := setupService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE group_orders SET status").WithArgs("ABC234").WillReturnRows(groupRow(StatusSubmitted))
	mock.ExpectQuery("FROM group_order_lines WHERE group_id").WithArgs(int64(3)).WillReturnRows(groupLineRows())
	// the claim is undone with the transaction
	mock.ExpectRollback()

	_, err := svc.Submit(context.Background(), "ABC234", pricing.Checkout{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.True(t, apperr.HasCode(err, apperr.CodeEmptyGroup))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	e := pricing.NewEngine(nil)
	c := pricing.Checkout{Fulfillment: pricing.Delivery, TipCents: 150, PromoCode: "save10"}

	a, err := e.Price([]pricing.Line{burger.priced(), fries.priced()}, c, 0)
	require.NoError(t, err)
	b, err := e.Price([]pricing.Line{fries.priced(), burger.priced()}, c, 0)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNewCode(t *testing.T) {
	for range 50 {
		c := NewCode()
		require.Len(t, c, codeLength)
		for _, r := range c {
			assert.Contains(t, codeAlphabet, string(r))
		}
	}
	assert.Equal(t, "ABC234", NormalizeCode(" abc234\n"))
}
