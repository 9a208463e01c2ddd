package inbox

import (
	"context"
	"slices"
	"sync"
)

// Memory is a bounded in-process inbox for STORE_DRIVER=memory. The oldest ids are forgotten
// first once capacity is reached.
type Memory struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	max   int
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Memory{seen: make(map[string]struct{}, capacity), max: capacity}
}

func (m *Memory) Record(_ context.Context, eventID string, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[eventID]; dup {
		return false, nil
	}
	if len(m.order) >= m.max {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.seen, oldest)
	}
	m.seen[eventID] = struct{}{}
	m.order = append(m.order, eventID)
	return true, nil
}

func (m *Memory) Forget(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[eventID]; !ok {
		return nil
	}
	delete(m.seen, eventID)
	m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == eventID })
	return nil
}
