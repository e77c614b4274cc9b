package lock

import "sync"

// Locker serializes operations against the rule tables.
type Locker interface {
	// WithLock runs fn while holding the lock and releases it afterwards,
	// whether fn fails or not.
	WithLock(fn func() error) error
}

// Mutex is an in-process Locker.
type Mutex struct {
	mu sync.Mutex
}

// NewMutex creates an in-process Locker.
func NewMutex() *Mutex {
	return &Mutex{}
}

func (m *Mutex) WithLock(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn()
}
