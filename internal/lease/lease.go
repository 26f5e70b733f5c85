// Package lease grants time-bounded exclusive ownership of a key, so a batch
// is drained by at most one worker loop across processes.
package lease

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotAcquired = errors.New("lease held by another owner")
	ErrLost        = errors.New("lease no longer owned")
)

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

type Lease interface {
	Key() string
	Token() string
	// Refresh extends the lease by its ttl. It returns ErrLost once another
	// owner has taken the key.
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}
