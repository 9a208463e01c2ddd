// Package lock serializes work per key, inside one process (Local) or across replicas (Redis).
package lock

import (
	"context"
	"sync"
)

// Local hands out one in-process lock per key. Waiting respects ctx.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-slot }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
