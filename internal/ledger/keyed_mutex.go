package ledger

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a key stays locked past the wait bound.
var ErrLockTimeout = errors.New("lock wait timeout")

// KeyedMutex serializes work per key.  Different keys never block each
// other and entries are dropped once nobody holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires key, waiting at most wait (no bound when wait <= 0).  It
// returns ctx.Err() if ctx ends first and ErrLockTimeout when the bound
// expires.  On success the returned func releases the key.
func (m *KeyedMutex) Lock(ctx context.Context, key string, wait time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			m.drop(key, l)
		}, nil
	case <-ctx.Done():
		m.drop(key, l)
		return nil, ctx.Err()
	case <-timeout:
		m.drop(key, l)
		return nil, ErrLockTimeout
	}
}

func (m *KeyedMutex) drop(key string, l *keyLock) {
	m.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}

// Len reports how many keys are currently held or awaited.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
