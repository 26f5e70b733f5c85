package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalLocker is the in-process fallback used when Redis is not configured.
type LocalLocker struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]localEntry
}

type localEntry struct {
	token   string
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{now: time.Now, leases: make(map[string]localEntry)}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, held := l.leases[key]; held && now.Before(entry.expires) {
		return nil, ErrNotAcquired
	}
	token := uuid.NewString()
	l.leases[key] = localEntry{token: token, expires: now.Add(ttl)}
	return &localLease{locker: l, key: key, token: token, ttl: ttl}, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	token  string
	ttl    time.Duration
}

func (l *localLease) Key() string   { return l.key }
func (l *localLease) Token() string { return l.token }

func (l *localLease) Refresh(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	entry, held := l.locker.leases[l.key]
	now := l.locker.now()
	if !held || entry.token != l.token || !now.Before(entry.expires) {
		return ErrLost
	}
	entry.expires = now.Add(l.ttl)
	l.locker.leases[l.key] = entry
	return nil
}

func (l *localLease) Release(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	if entry, held := l.locker.leases[l.key]; held && entry.token == l.token {
		delete(l.locker.leases, l.key)
	}
	return nil
}
