package ledger

import (
	"context"
	"sync"
)

// MemoryStore is a process-local ListStore, used when no Redis is configured.
// Entries do not survive the process.
type MemoryStore struct {
	mu    sync.Mutex
	lists map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lists: make(map[string][]string)}
}

// Lists are kept newest first, mirroring Redis LPUSH order.
func (m *MemoryStore) LPush(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append([]string{value}, m.lists[key]...)
	return nil
}

func (m *MemoryStore) Len(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func (m *MemoryStore) RPop(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	if len(l) == 0 {
		return "", false, nil
	}
	v := l[len(l)-1]
	m.lists[key] = l[:len(l)-1]
	return v, true, nil
}

// Range follows LRANGE index rules, negative indexes included.
func (m *MemoryStore) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	n := int64(len(l))
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	stop = min(stop, n-1)
	if start > stop {
		return []string{}, nil
	}
	return append([]string(nil), l[start:stop+1]...), nil
}
