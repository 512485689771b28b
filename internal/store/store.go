// Package store opens the record store selected by configuration.
package store

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/companyimport/internal/config"
	"github.com/JonMunkholm/companyimport/internal/core"
	"github.com/JonMunkholm/companyimport/internal/store/postgres"
	"github.com/JonMunkholm/companyimport/internal/store/sqlite"
)

// Open connects to the configured driver. The schema is not migrated.
func Open(ctx context.Context, cfg config.StoreConfig) (core.RecordStore, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg)
	case "sqlite":
		return sqlite.Open(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
