// Package memory provides in-process stand-ins for the Redis-backed
// coordination primitives when Redis is not configured.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// LockManager is a process-local domain.LockManager. A lock is held until
// its release func runs; the ttl is ignored because the holder lives in
// the same process and always releases on return.
type LockManager struct {
	mu   sync.Mutex
	held map[string]uint64
	gen  uint64
}

// NewLockManager creates a LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]uint64)}
}

// Acquire takes key or returns domain.ErrLockHeld.
func (m *LockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[key]; ok {
		return nil, fmt.Errorf("memory: %s: %w", key, domain.ErrLockHeld)
	}
	m.gen++
	token := m.gen
	m.held[key] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.held[key] == token {
				delete(m.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
