package repository

import (
	"context"
	"fmt"

	"github.com/chickenbids/auction/internal/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// Open connects to the configured datastore and verifies it with a ping.
// SQLite is limited to one connection so writers never contend for the file
// lock.
func Open(ctx context.Context, cfg config.DBConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("repository.Open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		db.SetMaxOpenConns(1)
		return db, nil
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}
