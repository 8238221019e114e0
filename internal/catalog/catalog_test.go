package catalog

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-menu-orders/internal/apperr"
)

func setupReader(t *testing.T) (*Reader, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewReader(mock), mock
}

func itemRow(name string, price int64, available bool) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"name", "base_price", "is_available"}).AddRow(name, price, available)
}

func groupRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "name", "required", "min_select", "max_select"})
}

func optionRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "group_id", "price_delta"})
}

func TestCartLine_Normalize(t *testing.T) {
	l, err := CartLine{ItemID: 1, OptionIDs: []int64{3, 1, 3}}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 1, l.Quantity)
	assert.Equal(t, []int64{1, 3}, l.OptionIDs)

	l, err = CartLine{ItemID: 1, Quantity: 2}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 2, l.Quantity)
	assert.Equal(t, []int64{}, l.OptionIDs)

	_, err = CartLine{ItemID: 1, Quantity: -1}.Normalize()
	assert.ErrorIs(t, err, apperr.ErrValidation)

	l, err = CartLine{ItemID: 1, Quantity: MaxQuantity}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, MaxQuantity, l.Quantity)

	_, err = CartLine{ItemID: 1, Quantity: 1 << 62}.Normalize()
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReader_VendorExists(t *testing.T) {
	r, mock := setupReader(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := r.VendorExists(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_PriceOf_WithOptions(t *testing.T) {
	r, mock := setupReader(t)
	defer mock.Close()

	mock.ExpectQuery("FROM menu_items mi").WithArgs(int64(10), int64(1)).
		WillReturnRows(itemRow("Burger", 900, true))
	mock.ExpectQuery("FROM option_groups WHERE item_id").WithArgs(int64(10)).
		WillReturnRows(groupRows().
			AddRow(int64(100), "Size", true, 1, 1).
			AddRow(int64(101), "Extras", false, 0, 2))
	mock.ExpectQuery("FROM options o").WithArgs(int64(10), []int64{5, 8}).
		WillReturnRows(optionRows().
			AddRow(int64(5), int64(100), int64(150)).
			AddRow(int64(8), int64(101), int64(50)))

	p, err := r.PriceOf(context.Background(), 1, 10, []int64{8, 5, 8})
	require.NoError(t, err)
	assert.Equal(t, "Burger", p.ItemName)
	assert.Equal(t, int64(1100), p.UnitPrice)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_PriceOf_UnknownItem(t *testing.T) {
	r, mock := setupReader(t)
	defer mock.Close()

	mock.ExpectQuery("FROM menu_items mi").WithArgs(int64(99), int64(1)).
		WillReturnError(pgx.ErrNoRows)

	_, err := r.PriceOf(context.Background(), 1, 99, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.True(t, apperr.HasCode(err, apperr.CodeUnknownItem))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_PriceOf_Unavailable(t *testing.T) {
	r, mock := setupReader(t)
	defer mock.Close()

	mock.ExpectQuery("FROM menu_items mi").WithArgs(int64(10), int64(1)).
		WillReturnRows(itemRow("Burger", 900, false))

	_, err := r.PriceOf(context.Background(), 1, 10, nil)
	assert.True(t, apperr.HasCode(err, apperr.CodeUnknownItem))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_PriceOf_ForeignOption(t *testing.T) {
	r, mock := setupReader(t)
	defer mock.Close()

	mock.ExpectQuery("FROM menu_items mi").WithArgs(int64(10), int64(1)).
		WillReturnRows(itemRow("Burger", 900, true))
	mock.ExpectQuery("FROM option_groups WHERE item_id").WithArgs(int64(10)).
		WillReturnRows(groupRows())
	mock.ExpectQuery("FROM options o").WithArgs(int64(10), []int64{42}).
		WillReturnRows(optionRows())

	_, err := r.PriceOf(context.Background(), 1, 10, []int64{42})
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidOptions))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_PriceOf_RequiredGroupMissing(t *testing.T) {
	r, mock := setupReader(t)
	defer mock.Close()

	mock.ExpectQuery("FROM menu_items mi").WithArgs(int64(10), int64(1)).
		WillReturnRows(itemRow("Burger", 900, true))
	mock.ExpectQuery("FROM option_groups WHERE item_id").WithArgs(int64(10)).
		WillReturnRows(groupRows().AddRow(int64(100), "Size", true, 1, 1))

	_, err := r.PriceOf(context.Background(), 1, 10, nil)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidOptions))
	assert.Contains(t, err.Error(), "Size")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_PriceOf_TooManyInGroup(t *testing.T) {
	r, mock := setupReader(t)
	defer mock.Close()

	mock.ExpectQuery("FROM menu_items mi").WithArgs(int64(10), int64(1)).
		WillReturnRows(itemRow("Burger", 900, true))
	mock.ExpectQuery("FROM option_groups WHERE item_id").WithArgs(int64(10)).
		WillReturnRows(groupRows().AddRow(int64(101), "Extras", false, 0, 1))
	mock.ExpectQuery("FROM options o").WithArgs(int64(10), []int64{5, 6}).
		WillReturnRows(optionRows().
			AddRow(int64(5), int64(101), int64(50)).
			AddRow(int64(6), int64(101), int64(50)))

	_, err := r.PriceOf(context.Background(), 1, 10, []int64{5, 6})
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidOptions))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_PriceOf_ClampsNegativePrice(t *testing.T) {
	r, mock := setupReader(t)
	defer mock.Close()

	mock.ExpectQuery("FROM menu_items mi").WithArgs(int64(10), int64(1)).
		WillReturnRows(itemRow("Side salad", 100, true))
	mock.ExpectQuery("FROM option_groups WHERE item_id").WithArgs(int64(10)).
		WillReturnRows(groupRows().AddRow(int64(100), "Swap", false, 0, 0))
	mock.ExpectQuery("FROM options o").WithArgs(int64(10), []int64{5}).
		WillReturnRows(optionRows().AddRow(int64(5), int64(100), int64(-300)))

	p, err := r.PriceOf(context.Background(), 1, 10, []int64{5})
	require.NoError(t, err)
	assert.Zero(t, p.UnitPrice)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_PriceOf_StorageError(t *testing.T) {
	r, mock := setupReader(t)
	defer mock.Close()

	mock.ExpectQuery("FROM menu_items mi").WithArgs(int64(10), int64(1)).
		WillReturnError(errors.New("connection refused"))

	_, err := r.PriceOf(context.Background(), 1, 10, nil)
	require.Error(t, err)
	assert.Equal(t, 500, apperr.HTTPStatus(err))
	assert.Contains(t, err.Error(), "price item 10")
}

func TestReader_PriceLines(t *testing.T) {
	r, mock := setupReader(t)
	defer mock.Close()

	mock.ExpectQuery("FROM menu_items mi").WithArgs(int64(10), int64(1)).
		WillReturnRows(itemRow("Burger", 900, true))
	mock.ExpectQuery("FROM option_groups WHERE item_id").WithArgs(int64(10)).
		WillReturnRows(groupRows())
	mock.ExpectQuery("FROM menu_items mi").WithArgs(int64(11), int64(1)).
		WillReturnRows(itemRow("Fries", 300, true))
	mock.ExpectQuery("FROM option_groups WHERE item_id").WithArgs(int64(11)).
		WillReturnRows(groupRows())

	lines, err := r.PriceLines(context.Background(), 1, []CartLine{
		{ItemID: 10, Quantity: 2},
		{ItemID: 11},
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, int64(1800), lines[0].LineTotal)
	assert.Equal(t, "Fries", lines[1].ItemName)
	assert.Equal(t, 1, lines[1].Quantity)
	assert.Equal(t, int64(300), lines[1].LineTotal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_PriceLines_NegativeQuantity(t *testing.T) {
	r, mock := setupReader(t)
	defer mock.Close()

	_, err := r.PriceLines(context.Background(), 1, []CartLine{{ItemID: 10, Quantity: -2}})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_PriceLines_HugeQuantity(t *testing.T) {
	r, mock := setupReader(t)
	defer mock.Close()

	_, err := r.PriceLines(context.Background(), 1, []CartLine{{ItemID: 10, Quantity: 1 << 62}})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_PriceLines_LineTotalOutOfRange(t *testing.T) {
	r, mock := setupReader(t)
	defer mock.Close()

	mock.ExpectQuery("FROM menu_items mi").WithArgs(int64(10), int64(1)).
		WillReturnRows(itemRow("Gold Burger", math.MaxInt64/2, true))
	mock.ExpectQuery("FROM option_groups WHERE item_id").WithArgs(int64(10)).
		WillReturnRows(groupRows())

	_, err := r.PriceLines(context.Background(), 1, []CartLine{{ItemID: 10, Quantity: 3}})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}
