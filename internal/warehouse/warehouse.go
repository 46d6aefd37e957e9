// Package warehouse loads the star schema: dimension upserts, the date
// dimension and the fact table rebuild.
package warehouse

import (
	"context"
	"strings"
	"time"

	"salesetl/internal/observability"
	"salesetl/pkg/errors"
	"salesetl/pkg/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/snowflakedb/gosnowflake"
)

// Warehouse wraps the warehouse handle and its SQL dialect.
type Warehouse struct {
	db      *sqlx.DB
	dialect Dialect
	logger  *observability.Logger
}

// New wraps an already open handle.
func New(db *sqlx.DB, dialect Dialect, logger *observability.Logger) *Warehouse {
	if logger == nil {
		logger = observability.GetDefaultLogger()
	}
	return &Warehouse{db: db, dialect: dialect, logger: logger.WithField("warehouse", dialect.Name())}
}

// Open connects to the configured warehouse, retrying with backoff while
// the failure looks transient. dsn is the resolved DSN (keyring applied).
func Open(ctx context.Context, cfg models.WarehouseConfig, dsn string, logger *observability.Logger) (*Warehouse, error) {
	dialect, err := DialectFor(cfg.Driver, cfg.CleanupStatement)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.GetDefaultLogger()
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	retry := errors.DefaultRetryConfig()
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.WithError(err).WarnWithFields("Warehouse connection failed, retrying", map[string]interface{}{
			"attempt": attempt + 1,
			"delay":   delay.String(),
		})
	}

	var db *sqlx.DB
	err = errors.Retry(ctx, retry, func(ctx context.Context) error {
		handle, err := sqlx.Open(dialect.DriverName(), dsn)
		if err != nil {
			return errors.ConnectionError("Failed to open warehouse connection", err).
				WithContext("driver", cfg.Driver)
		}
		dialect.Configure(handle)

		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := handle.PingContext(pingCtx); err != nil {
			handle.Close()

			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "authentication") || strings.Contains(msg, "password") {
				return errors.New(errors.ErrCodeAuthenticationFailed, "Warehouse authentication failed").
					WithContext("driver", cfg.Driver).
					WithSuggestions(
						"Verify the user and password in warehouse.dsn",
						"Set warehouse.password_from_keyring to read the password from the OS keyring",
					)
			}
			return errors.ConnectionError("Failed to connect to warehouse", err).
				WithContext("driver", cfg.Driver).
				AsRecoverable()
		}

		db = handle
		return nil
	})
	if err != nil {
		return nil, err
	}

	return New(db, dialect, logger), nil
}

func (w *Warehouse) DB() *sqlx.DB { return w.db }

func (w *Warehouse) Dialect() Dialect { return w.dialect }

func (w *Warehouse) Close() error { return w.db.Close() }

// Ping checks connectivity.
func (w *Warehouse) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// withTx runs fn inside a transaction on a dedicated connection, rolling
// back on error and releasing the connection on return.
func (w *Warehouse) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	conn, err := w.db.Connx(ctx)
	if err != nil {
		return errors.ConnectionError("Failed to acquire warehouse connection", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSQLTransaction, "Failed to begin transaction")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			w.logger.WithError(rbErr).Warn("Rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeSQLTransaction, "Failed to commit transaction")
	}
	return nil
}

// chunk splits n items into [start,end) ranges of at most size.
func chunk(n, size int) [][2]int {
	if size < 1 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
