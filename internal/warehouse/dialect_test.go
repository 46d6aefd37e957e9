package warehouse

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"salesetl/internal/observability"
	"salesetl/pkg/errors"
	"salesetl/pkg/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockWarehouse(t *testing.T, driver string) (*Warehouse, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dialect, err := DialectFor(driver, "")
	require.NoError(t, err)
	return New(sqlx.NewDb(db, "sqlmock"), dialect, observability.NewNopLogger()), mock
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver  string
		cleanup string
		wantErr bool
	}{
		{driver: "postgres", cleanup: "SELECT cleanup_fact_sales()"},
		{driver: "sqlite3", cleanup: "DELETE FROM fact_sales"},
		{driver: "snowflake", cleanup: "TRUNCATE TABLE fact_sales"},
		{driver: "oracle", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := DialectFor(tt.driver, "")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.driver, d.Name())
			assert.Equal(t, tt.driver, d.DriverName())
			assert.Equal(t, tt.cleanup, d.Cleanup())
		})
	}
}

func TestDialectCleanupOverride(t *testing.T) {
	d, err := DialectFor("postgres", "TRUNCATE fact_sales")
	require.NoError(t, err)
	assert.Equal(t, "TRUNCATE fact_sales", d.Cleanup())
	assert.Equal(t, "postgres", d.Name())
}

func TestUpsertStatements(t *testing.T) {
	cols := []string{"customerid", "firstname"}
	rows := [][]interface{}{{int64(1), "Ana"}, {int64(2), "Luis"}}

	tests := []struct {
		driver string
		want   string
	}{
		{
			driver: "postgres",
			want: "INSERT INTO dim_customer (customerid, firstname) VALUES ($1, $2), ($3, $4) " +
				"ON CONFLICT (customerid) DO UPDATE SET firstname = EXCLUDED.firstname",
		},
		{
			driver: "sqlite3",
			want: "INSERT INTO dim_customer (customerid, firstname) VALUES (?, ?), (?, ?) " +
				"ON CONFLICT (customerid) DO UPDATE SET firstname = EXCLUDED.firstname",
		},
		{
			driver: "snowflake",
			want: "MERGE INTO dim_customer t USING (" +
				"SELECT ? AS customerid, ? AS firstname UNION ALL SELECT ? AS customerid, ? AS firstname" +
				") s ON t.customerid = s.customerid " +
				"WHEN MATCHED THEN UPDATE SET t.firstname = s.firstname " +
				"WHEN NOT MATCHED THEN INSERT (customerid, firstname) VALUES (s.customerid, s.firstname)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := DialectFor(tt.driver, "")
			require.NoError(t, err)

			query, args := d.Upsert(TableCustomer, "customerid", cols, rows)
			assert.Equal(t, tt.want, query)
			assert.Equal(t, []interface{}{int64(1), "Ana", int64(2), "Luis"}, args)
		})
	}
}

func TestUpsertKeyOnly(t *testing.T) {
	d, err := DialectFor("postgres", "")
	require.NoError(t, err)

	query, _ := d.Upsert(TableDate, "date_key", []string{"date_key"}, [][]interface{}{{int64(20240101)}})
	assert.Contains(t, query, "ON CONFLICT (date_key) DO NOTHING")

	sf, err := DialectFor("snowflake", "")
	require.NoError(t, err)
	query, _ = sf.Upsert(TableDate, "date_key", []string{"date_key"}, [][]interface{}{{int64(20240101)}})
	assert.NotContains(t, query, "WHEN MATCHED")
	assert.Contains(t, query, "WHEN NOT MATCHED THEN INSERT (date_key) VALUES (s.date_key)")
}

func TestSnowflakeInsertUsesQuestionMarks(t *testing.T) {
	d, err := DialectFor("snowflake", "")
	require.NoError(t, err)

	query, args := d.Insert(TableFact, []string{"customer_key", "source"}, [][]interface{}{{int64(1), "api"}})
	assert.Contains(t, query, "INSERT INTO fact_sales (customer_key, source) VALUES (?, ?)")
	assert.Len(t, args, 2)
}

func TestDimensionLoaderEmptyInputIsNoop(t *testing.T) {
	wh, mock := newMockWarehouse(t, "postgres")

	n, err := NewCustomerLoader(wh, 10).Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDimensionLoaderRollsBackOnFailure(t *testing.T) {
	wh, mock := newMockWarehouse(t, "postgres")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dim_product")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dim_product")).WillReturnError(fmt.Errorf("permission denied for table dim_product"))
	mock.ExpectRollback()

	_, err := NewProductLoader(wh, 1).Load(context.Background(), []models.ProductRecord{
		{ProductID: 1, Price: decimal.NewFromInt(1)},
		{ProductID: 2, Price: decimal.NewFromInt(2)},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDimensionUpsert, errors.GetErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnowflakeDimensionLoaderMerges(t *testing.T) {
	wh, mock := newMockWarehouse(t, "snowflake")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("MERGE INTO dim_order t USING (SELECT ? AS orderid")).
		WithArgs(int64(100), int64(1), nil, "Open").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := NewOrderLoader(wh, 500).Load(context.Background(), []models.OrderRecord{
		{OrderID: 100, CustomerID: 1, Status: "Open"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectKeyLookups(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT customerid, customer_key FROM dim_customer")).
		WillReturnRows(sqlmock.NewRows([]string{"customerid", "customer_key"}).AddRow(1, 11))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT productid, product_key FROM dim_product")).
		WillReturnRows(sqlmock.NewRows([]string{"productid", "product_key"}).AddRow(10, 110))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT orderid, order_key FROM dim_order")).
		WillReturnRows(sqlmock.NewRows([]string{"orderid", "order_key"}).AddRow(100, 1100).AddRow(101, 1101))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT date_key, date_key FROM dim_date")).
		WillReturnRows(sqlmock.NewRows([]string{"date_key", "date_key"}).AddRow(20240401, 20240401))
}

func TestFactLoaderRetriesFailedBatchRowByRow(t *testing.T) {
	wh, mock := newMockWarehouse(t, "postgres")

	mock.ExpectExec(regexp.QuoteMeta("SELECT cleanup_fact_sales()")).WillReturnResult(sqlmock.NewResult(0, 0))
	expectKeyLookups(mock)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fact_sales")).WillReturnError(fmt.Errorf("numeric field overflow"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fact_sales")).
		WithArgs(int64(11), int64(110), int64(1100), int64(20240401), int64(1), nil, "5", "api").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fact_sales")).WillReturnError(fmt.Errorf("numeric field overflow"))

	date := day("2024-04-01")
	result, err := NewFactLoader(wh, 10).Load(context.Background(), []models.EnrichedSale{
		{ID: "api:100:10:0", CustomerID: 1, ProductID: 10, OrderID: 100, Quantity: 1,
			TotalPrice: decimal.NewFromInt(5), Source: "api", OrderDate: date},
		{ID: "api:101:10:1", CustomerID: 1, ProductID: 10, OrderID: 101, Quantity: 1,
			TotalPrice: decimal.RequireFromString("1e20"), Source: "api", OrderDate: date},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.DroppedTotal())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFactLoaderCleanupFailureAbortsInsert(t *testing.T) {
	wh, mock := newMockWarehouse(t, "snowflake")
	mock.ExpectExec(regexp.QuoteMeta("TRUNCATE TABLE fact_sales")).WillReturnError(fmt.Errorf("insufficient privileges"))

	result, err := NewFactLoader(wh, 10).Load(context.Background(), []models.EnrichedSale{{CustomerID: 1}})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, errors.ErrCodeFactRebuild, errors.GetErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFactLoaderKeyLookupFailure(t *testing.T) {
	wh, mock := newMockWarehouse(t, "postgres")
	mock.ExpectExec(regexp.QuoteMeta("SELECT cleanup_fact_sales()")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT customerid, customer_key FROM dim_customer")).
		WillReturnError(fmt.Errorf(`relation "dim_customer" does not exist`))

	_, err := NewFactLoader(wh, 10).Load(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeKeyLookup))
	assert.NoError(t, mock.ExpectationsWereMet())
}
