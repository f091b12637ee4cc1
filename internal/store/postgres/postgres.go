// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) NextGlobalVersion(ctx context.Context, tenantID string) (int64, error) {
	return queryNextGlobalVersion(ctx, s.db, tenantID)
}

func (s *PostgresStore) GetCurrentVersion(ctx context.Context, tenantID string) (int64, error) {
	return queryGetCurrentVersion(ctx, s.db, tenantID)
}

func (s *PostgresStore) InsertEvent(ctx context.Context, ev *model.Event) error {
	return queryInsertEvent(ctx, s.db, ev)
}

func (s *PostgresStore) GetEventsSince(ctx context.Context, tenantID string, sinceVersion int64, q store.EventQuery) ([]*model.Event, error) {
	return queryGetEventsSince(ctx, s.db, tenantID, sinceVersion, q)
}

func (s *PostgresStore) GetLatestEvents(ctx context.Context, tenantID, graphID string, limit int) ([]*model.Event, error) {
	return queryGetLatestEvents(ctx, s.db, tenantID, graphID, limit)
}

func (s *PostgresStore) GetEventsAfterRow(ctx context.Context, afterRow int64, limit int) ([]*model.Event, int64, error) {
	return queryGetEventsAfterRow(ctx, s.db, afterRow, limit)
}

func (s *PostgresStore) InsertChange(ctx context.Context, ch *model.ChangeRecord) error {
	return queryInsertChange(ctx, s.db, ch)
}

func (s *PostgresStore) GetChanges(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, q store.HistoryQuery) ([]*model.ChangeRecord, error) {
	return queryGetChanges(ctx, s.db, tenantID, entityType, entityID, q)
}

func (s *PostgresStore) GetChangeRange(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, afterVersion, throughVersion int64) ([]*model.ChangeRecord, error) {
	return queryGetChangeRange(ctx, s.db, tenantID, entityType, entityID, afterVersion, throughVersion)
}

func (s *PostgresStore) GetLatestChange(ctx context.Context, tenantID string, entityType model.EntityType, entityID string) (*model.ChangeRecord, error) {
	return queryGetLatestChange(ctx, s.db, tenantID, entityType, entityID)
}

func (s *PostgresStore) GetChangeAtOrBefore(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, ts time.Time) (*model.ChangeRecord, error) {
	return queryGetChangeAtOrBefore(ctx, s.db, tenantID, entityType, entityID, ts)
}

func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap *model.Snapshot) error {
	return queryUpsertSnapshot(ctx, s.db, snap)
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, version int64) (*model.Snapshot, error) {
	return queryGetSnapshot(ctx, s.db, tenantID, entityType, entityID, version)
}

func (s *PostgresStore) GetNearestSnapshot(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, maxVersion int64) (*model.Snapshot, error) {
	return queryGetNearestSnapshot(ctx, s.db, tenantID, entityType, entityID, maxVersion)
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	return queryCreateSubscription(ctx, s.db, sub)
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	return queryGetSubscription(ctx, s.db, id)
}

func (s *PostgresStore) ListActiveSubscriptions(ctx context.Context, tenantID string) ([]*model.Subscription, error) {
	return queryListActiveSubscriptions(ctx, s.db, tenantID)
}

func (s *PostgresStore) ListClientSubscriptions(ctx context.Context, tenantID, clientID string) ([]*model.Subscription, error) {
	return queryListClientSubscriptions(ctx, s.db, tenantID, clientID)
}

func (s *PostgresStore) UpdateSubscriptionAck(ctx context.Context, id string, version int64, at time.Time) error {
	return queryUpdateSubscriptionAck(ctx, s.db, id, version, at)
}

func (s *PostgresStore) DeactivateSubscription(ctx context.Context, id string) error {
	return queryDeactivateSubscription(ctx, s.db, id)
}

func (s *PostgresStore) DeleteExpiredSubscriptions(ctx context.Context, now, inactiveCutoff time.Time) (int64, error) {
	return queryDeleteExpiredSubscriptions(ctx, s.db, now, inactiveCutoff)
}

func (s *PostgresStore) GetSubscriptionStats(ctx context.Context, tenantID string) (*store.SubscriptionStats, error) {
	return queryGetSubscriptionStats(ctx, s.db, tenantID)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) NextGlobalVersion(ctx context.Context, tenantID string) (int64, error) {
	return queryNextGlobalVersion(ctx, s.tx, tenantID)
}

func (s *txStore) GetCurrentVersion(ctx context.Context, tenantID string) (int64, error) {
	return queryGetCurrentVersion(ctx, s.tx, tenantID)
}

func (s *txStore) InsertEvent(ctx context.Context, ev *model.Event) error {
	return queryInsertEvent(ctx, s.tx, ev)
}

func (s *txStore) GetEventsSince(ctx context.Context, tenantID string, sinceVersion int64, q store.EventQuery) ([]*model.Event, error) {
	return queryGetEventsSince(ctx, s.tx, tenantID, sinceVersion, q)
}

func (s *txStore) GetLatestEvents(ctx context.Context, tenantID, graphID string, limit int) ([]*model.Event, error) {
	return queryGetLatestEvents(ctx, s.tx, tenantID, graphID, limit)
}

func (s *txStore) GetEventsAfterRow(ctx context.Context, afterRow int64, limit int) ([]*model.Event, int64, error) {
	return queryGetEventsAfterRow(ctx, s.tx, afterRow, limit)
}

func (s *txStore) InsertChange(ctx context.Context, ch *model.ChangeRecord) error {
	return queryInsertChange(ctx, s.tx, ch)
}

func (s *txStore) GetChanges(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, q store.HistoryQuery) ([]*model.ChangeRecord, error) {
	return queryGetChanges(ctx, s.tx, tenantID, entityType, entityID, q)
}

func (s *txStore) GetChangeRange(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, afterVersion, throughVersion int64) ([]*model.ChangeRecord, error) {
	return queryGetChangeRange(ctx, s.tx, tenantID, entityType, entityID, afterVersion, throughVersion)
}

func (s *txStore) GetLatestChange(ctx context.Context, tenantID string, entityType model.EntityType, entityID string) (*model.ChangeRecord, error) {
	return queryGetLatestChange(ctx, s.tx, tenantID, entityType, entityID)
}

func (s *txStore) GetChangeAtOrBefore(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, ts time.Time) (*model.ChangeRecord, error) {
	return queryGetChangeAtOrBefore(ctx, s.tx, tenantID, entityType, entityID, ts)
}

func (s *txStore) UpsertSnapshot(ctx context.Context, snap *model.Snapshot) error {
	return queryUpsertSnapshot(ctx, s.tx, snap)
}

func (s *txStore) GetSnapshot(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, version int64) (*model.Snapshot, error) {
	return queryGetSnapshot(ctx, s.tx, tenantID, entityType, entityID, version)
}

func (s *txStore) GetNearestSnapshot(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, maxVersion int64) (*model.Snapshot, error) {
	return queryGetNearestSnapshot(ctx, s.tx, tenantID, entityType, entityID, maxVersion)
}

func (s *txStore) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	return queryCreateSubscription(ctx, s.tx, sub)
}

func (s *txStore) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	return queryGetSubscription(ctx, s.tx, id)
}

func (s *txStore) ListActiveSubscriptions(ctx context.Context, tenantID string) ([]*model.Subscription, error) {
	return queryListActiveSubscriptions(ctx, s.tx, tenantID)
}

func (s *txStore) ListClientSubscriptions(ctx context.Context, tenantID, clientID string) ([]*model.Subscription, error) {
	return queryListClientSubscriptions(ctx, s.tx, tenantID, clientID)
}

func (s *txStore) UpdateSubscriptionAck(ctx context.Context, id string, version int64, at time.Time) error {
	return queryUpdateSubscriptionAck(ctx, s.tx, id, version, at)
}

func (s *txStore) DeactivateSubscription(ctx context.Context, id string) error {
	return queryDeactivateSubscription(ctx, s.tx, id)
}

func (s *txStore) DeleteExpiredSubscriptions(ctx context.Context, now, inactiveCutoff time.Time) (int64, error) {
	return queryDeleteExpiredSubscriptions(ctx, s.tx, now, inactiveCutoff)
}

func (s *txStore) GetSubscriptionStats(ctx context.Context, tenantID string) (*store.SubscriptionStats, error) {
	return queryGetSubscriptionStats(ctx, s.tx, tenantID)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
