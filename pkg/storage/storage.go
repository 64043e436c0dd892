// Package storage assembles the repositories for the configured storage
// strategy: durable PostgreSQL or an ephemeral in-process SQLite database.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ekaya-inc/ekaya-gsc/pkg/config"
	"github.com/ekaya-inc/ekaya-gsc/pkg/database"
	"github.com/ekaya-inc/ekaya-gsc/pkg/repositories"
)

// Store bundles every repository of one storage strategy. A Store is built
// once at startup and passed to the services that need it.
type Store struct {
	Mode        string
	Credentials repositories.CredentialRepository
	Properties  repositories.PropertyRepository
	Facts       repositories.SearchAnalyticsRepository
	Jobs        repositories.ImportJobRepository
	Aggregates  repositories.AggregateRepository

	ping  func(ctx context.Context) error
	close func() error
}

// NewPostgres builds the durable strategy on an open pgx pool. Migrations
// must already be applied. Closing the Store closes the pool.
func NewPostgres(db *database.DB, upsertBatchSize int) *Store {
	return &Store{
		Mode:        config.StorageModePostgres,
		Credentials: repositories.NewCredentialRepository(db),
		Properties:  repositories.NewPropertyRepository(db),
		Facts:       repositories.NewSearchAnalyticsRepository(db, upsertBatchSize),
		Jobs:        repositories.NewImportJobRepository(db),
		Aggregates:  repositories.NewAggregateRepository(db),
		ping:        db.HealthCheck,
		close: func() error {
			db.Close()
			return nil
		},
	}
}

// NewMemory builds the ephemeral strategy on SQLite. path is usually
// ":memory:"; a file path keeps data across restarts of a single process.
func NewMemory(ctx context.Context, path string) (*Store, error) {
	db, err := database.OpenSQLite(ctx, path, sqliteSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	return newSQLiteStore(db), nil
}

func newSQLiteStore(db *sql.DB) *Store {
	return &Store{
		Mode:        config.StorageModeMemory,
		Credentials: &sqliteCredentials{db: db},
		Properties:  &sqliteProperties{db: db},
		Facts:       &sqliteFacts{db: db},
		Jobs:        &sqliteJobs{db: db},
		Aggregates:  &sqliteAggregates{db: db},
		ping: func(ctx context.Context) error {
			var one int
			return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
		},
		close: db.Close,
	}
}

// Ping verifies the underlying database answers queries.
func (s *Store) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open builds the Store selected by cfg.Storage.Mode.
func Open(ctx context.Context, cfg *config.Config, db *database.DB) (*Store, error) {
	switch cfg.Storage.Mode {
	case config.StorageModeMemory:
		return NewMemory(ctx, cfg.Storage.SQLitePath)
	case config.StorageModePostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres storage requires a database connection")
		}
		return NewPostgres(db, cfg.Import.UpsertBatchSize), nil
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Storage.Mode)
	}
}
