package queue

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Manager is the sole reader and writer of the queue database. Every
// mutation is a single SQL statement, so concurrent calls from the CLI
// and the sync engine interleave safely without read-modify-write races.
type Manager struct {
	db          *sql.DB
	logger      *slog.Logger
	maxAttempts int
	nowFunc     func() time.Time // injectable for deterministic tests
	newID       func() string    // injectable for deterministic tests
}

// Open opens (creating if necessary) the queue database at dbPath, runs
// schema migrations, and returns a ready Manager. The database uses WAL
// mode with synchronous=FULL so a mid-write power loss on a field device
// cannot corrupt the queue. maxAttempts of zero uses DefaultMaxAttempts.
func Open(dbPath string, maxAttempts int, logger *slog.Logger) (*Manager, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("queue: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("queue store opened",
		slog.String("db_path", dbPath),
		slog.Int("max_attempts", maxAttempts),
	)

	return &Manager{
		db:          db,
		logger:      logger,
		maxAttempts: maxAttempts,
		nowFunc:     time.Now,
		newID:       newItemID,
	}, nil
}

// Close closes the underlying database connection.
func (m *Manager) Close() error {
	return m.db.Close()
}

// MaxAttempts returns the attempt cap this manager derives status against.
func (m *Manager) MaxAttempts() int {
	return m.maxAttempts
}

// DB exposes the underlying handle for tests and the conflict ledger.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// runMigrations applies all pending schema migrations to the database.
// Uses the goose v3 Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("queue: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("queue: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("queue: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Nullable helpers: empty string / nil time → NULL in SQLite.
// ---------------------------------------------------------------------------

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}

	t := time.Unix(0, n.Int64)

	return &t
}
