// ABOUTME: Postgres driver for the SQL store using lib/pq
// ABOUTME: Shares queries with SQLite through placeholder rebinding

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// NewPostgresStore connects to Postgres using the given DSN and creates the schema.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &SQLStore{
		db:      db,
		dialect: postgresDialect,
		logger:  logger,
	}

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Postgres store initialized")
	return s, nil
}
