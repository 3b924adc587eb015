// Package postgres implements store.Store on PostgreSQL. The schema
// follows the site's original tables: user_roles, site_status,
// page_content and admin_logs, plus revoked_sessions for sign-out.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/sitegate/internal/store"
)

// Pool sizing for a single gate process. Writes are rare, reads are one
// privilege lookup per admin request.
const (
	maxOpenConns    = 10
	maxIdleConns    = 4
	connMaxLifetime = 5 * time.Minute
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the pool-backed store.
type Store struct {
	queries
	pool *sql.DB
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Store = (*txStore)(nil)
)

// New connects to databaseURL and migrates the schema to the latest
// version. The first migration seeds the one site_status row.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an open database as is. Tests use it with sqlmock.
func NewWithDB(db *sql.DB) *Store {
	return &Store{queries: queries{db: db}, pool: db}
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations source: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.pool.Close() }

// RunInTransaction runs fn against a store bound to one transaction and
// commits when fn returns nil.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&txStore{queries{db: tx}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore is the store handed to RunInTransaction callbacks.
type txStore struct {
	queries
}

// RunInTransaction joins the open transaction; there is no nesting.
func (s *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close leaves the connection to the parent Store.
func (s *txStore) Close() error { return nil }
