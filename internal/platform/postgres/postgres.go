// Package postgres opens the database shared by the donation store and the
// audit log, and applies both schemas at startup.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"caredrop/internal/donation/store"
	auditpostgres "caredrop/pkg/platform/audit/store/postgres"
)

const defaultPingTimeout = 5 * time.Second

// Open connects to url with the pgx driver and pings it once.
// Returns nil if the URL is empty; callers then fall back to in-memory stores.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	if url == "" {
		return nil, nil
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

// Migrate applies the donation and audit schemas. Both are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if err := store.ApplySchema(ctx, db); err != nil {
		return err
	}
	return auditpostgres.New(db).EnsureSchema(ctx)
}
