package warehouse

import (
	"context"
	"database/sql"
	"embed"
	stderrors "errors"
	"fmt"
	"strings"

	"salesetl/internal/observability"
	"salesetl/pkg/errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrator applies the embedded star schema. Postgres and sqlite use
// versioned golang-migrate migrations; Snowflake replays an idempotent
// DDL script statement by statement.
type Migrator struct {
	driver string
	db     *sql.DB
	m      *migrate.Migrate
	logger *observability.Logger
}

// NewMigrator opens a dedicated connection for schema changes.
func NewMigrator(driver, dsn string, logger *observability.Logger) (*Migrator, error) {
	dialect, err := DialectFor(driver, "")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.GetDefaultLogger()
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, errors.ConnectionError("Failed to open warehouse connection", err)
	}

	mg := &Migrator{driver: driver, db: db, logger: logger.WithField("component", "migrate")}
	if driver == "snowflake" {
		return mg, nil
	}

	var drv database.Driver
	switch driver {
	case "postgres":
		drv, err = postgres.WithInstance(db, &postgres.Config{})
	case "sqlite3":
		drv, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	}
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeSchema, "Failed to initialize migration driver").
			WithContext("driver", driver)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeSchema, "Failed to read embedded migrations")
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, drv)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeSchema, "Failed to initialize migrations")
	}
	m.Log = &migrateLogger{logger: mg.logger}
	mg.m = m
	return mg, nil
}

// Up applies all pending migrations. Already being current is not an error.
func (mg *Migrator) Up(ctx context.Context) error {
	if mg.m == nil {
		return mg.applyScript(ctx, "up.sql")
	}
	if err := mg.m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, errors.ErrCodeSchema, "Failed to apply migrations")
	}
	mg.logger.Info("Warehouse schema is up to date")
	return nil
}

// Down reverts every migration.
func (mg *Migrator) Down(ctx context.Context) error {
	if mg.m == nil {
		return mg.applyScript(ctx, "down.sql")
	}
	if err := mg.m.Down(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, errors.ErrCodeSchema, "Failed to revert migrations")
	}
	return nil
}

// Version reports the applied migration version.
func (mg *Migrator) Version() (uint, bool, error) {
	if mg.m == nil {
		return 0, false, errors.New(errors.ErrCodeSchema, "schema versions are not tracked for snowflake")
	}
	v, dirty, err := mg.m.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (mg *Migrator) Close() error {
	if mg.m != nil {
		srcErr, dbErr := mg.m.Close()
		if srcErr != nil {
			return srcErr
		}
		return dbErr
	}
	return mg.db.Close()
}

func (mg *Migrator) applyScript(ctx context.Context, name string) error {
	script, err := migrationsFS.ReadFile("migrations/" + mg.driver + "/" + name)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSchema, "Failed to read embedded schema")
	}
	return ApplySchema(ctx, mg.db, string(script))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ApplySchema executes a multi-statement script one statement at a time.
func ApplySchema(ctx context.Context, db execer, script string) error {
	statements := SplitStatements(script)
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.SQLError(errors.ErrCodeSchema, fmt.Sprintf("Failed to execute statement %d", i+1), stmt, err).
				WithContext("statement_index", i+1).
				WithContext("total_statements", len(statements))
		}
	}
	return nil
}

// SplitStatements splits on semicolons outside quoted strings and drops
// empty statements and full-line "--" comments.
func SplitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	stringChar := rune(0)

	script = stripComments(script)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for i, char := range script {
		if !inString {
			if char == '\'' || char == '"' {
				inString = true
				stringChar = char
			} else if char == ';' && (i == 0 || script[i-1] != '\\') {
				flush()
				continue
			}
		} else if char == stringChar && (i == 0 || script[i-1] != '\\') {
			inString = false
		}
		current.WriteRune(char)
	}
	flush()

	return statements
}

func stripComments(stmt string) string {
	lines := strings.Split(stmt, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

type migrateLogger struct {
	logger *observability.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debugf(strings.TrimSpace(format), v...)
}

func (l *migrateLogger) Verbose() bool { return false }
