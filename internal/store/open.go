// ABOUTME: Opens the SQL store selected by the database configuration
// ABOUTME: Shared by the gateway and the operator CLIs

package store

import (
	"fmt"

	"github.com/2389/helpdesk-gateway/internal/config"
)

// Open connects to the database named by cfg and creates the schema.
func Open(cfg config.DatabaseConfig) (*SQLStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgresStore(cfg.DSN)
	case config.DriverSQLite, "":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}
