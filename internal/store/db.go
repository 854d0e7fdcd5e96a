package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to PostgreSQL, retrying the initial ping with exponential
// backoff until maxWait elapses or ctx is done.
func Open(ctx context.Context, databaseURL string, maxWait time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = maxWait

	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			log.Printf("store: ping attempt %d failed: %v", attempt, err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, backoff.WithContext(policy, ctx)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
