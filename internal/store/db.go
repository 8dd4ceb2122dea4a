package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pingAttempts = 5
	pingBackoff  = 2 * time.Second
)

// Open connects to Postgres and waits for it to answer. The bounded
// retry covers the window where the API container comes up before the
// database does.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(8)
	// Allocation and seed runs hold a connection for a whole
	// transaction; cap the pool so they queue instead of exhausting
	// Postgres connection slots.
	db.SetMaxOpenConns(16)

	var pingErr error
	for attempt := 0; attempt < pingAttempts; attempt++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			return db, nil
		}
		select {
		case <-ctx.Done():
			db.Close()
			return nil, fmt.Errorf("ping db: %w", ctx.Err())
		case <-time.After(pingBackoff):
		}
	}
	db.Close()
	return nil, fmt.Errorf("ping db after %d attempts: %w", pingAttempts, pingErr)
}
