package session

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/m3rciful/placebot/core/netutil"
)

// Store persists sessions keyed by user id.
// Get returns (nil, nil) when no session exists. Delete is idempotent.
type Store interface {
	Get(ctx context.Context, userID int64) (*Session, error)
	Upsert(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID int64) error
	List(ctx context.Context) ([]Session, error)
	Count(ctx context.Context) (int, error)
}

const retryBackoff = 100 * time.Millisecond

// SaveWithRetry upserts s, retrying transient failures up to attempts times in total.
// The last error is returned; callers decide whether it matters.
func SaveWithRetry(ctx context.Context, store Store, s *Session, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = store.Upsert(ctx, s); err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts {
			break
		}
		timer := time.NewTimer(retryBackoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}

func retryable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	return netutil.ShouldRetry(err)
}
