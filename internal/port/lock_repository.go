package port

import (
	"context"
	"time"
)

type LockRepository interface {
	// AcquireLock takes an exclusive lease on key, returns false if it is held elsewhere
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// ReleaseLock frees the lease if token still owns it
	ReleaseLock(ctx context.Context, key, token string) error

	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ClearIdempotency removes the key so the operation can be retried
	ClearIdempotency(ctx context.Context, key string) error
}
