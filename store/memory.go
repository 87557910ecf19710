package store

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (it memoryItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// MemoryBackend is an in-process Backend for tests and single-node
// deployments. A single mutex guards both maps, which makes every
// conditional primitive trivially atomic.
type MemoryBackend struct {
	mu    sync.Mutex
	items map[string]memoryItem
	sets  map[string]map[string]struct{}
	clock Clock
}

// NewMemoryBackend creates an in-memory backend using the given clock.
func NewMemoryBackend(clock Clock) *MemoryBackend {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MemoryBackend{
		items: make(map[string]memoryItem),
		sets:  make(map[string]map[string]struct{}),
		clock: clock,
	}
}

func (m *MemoryBackend) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.clock.Now().Add(ttl)
}

// get returns the live value for key, pruning it if expired. Caller holds mu.
func (m *MemoryBackend) get(key string) ([]byte, bool) {
	it, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if it.expired(m.clock.Now()) {
		delete(m.items, key)
		return nil, false
	}
	return it.value, true
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: m.expiry(ttl)}
	return nil
}

func (m *MemoryBackend) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.get(key); ok {
		return false, nil
	}
	m.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *MemoryBackend) SetWithPrev(ctx context.Context, key string, value []byte, ttl time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.get(key)
	m.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: m.expiry(ttl)}
	if !ok {
		return nil, nil
	}
	return prev, nil
}

func (m *MemoryBackend) CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.get(key)
	if !ok || !bytes.Equal(cur, old) {
		return false, nil
	}
	m.items[key] = memoryItem{value: append([]byte(nil), new...), expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *MemoryBackend) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.get(key)
	if !ok || !bytes.Equal(cur, old) {
		return false, nil
	}
	delete(m.items, key)
	return true, nil
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.get(key)
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	var keys []string
	for k, it := range m.items {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if it.expired(now) {
			delete(m.items, k)
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemoryBackend) SetAdd(ctx context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	s[member] = struct{}{}
	return nil
}

func (m *MemoryBackend) SetRemove(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(s, member)
	}
	if len(s) == 0 {
		delete(m.sets, key)
	}
	return nil
}

func (m *MemoryBackend) SetMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sets[key]
	if len(s) == 0 {
		return nil, nil
	}
	members := make([]string, 0, len(s))
	for member := range s {
		members = append(members, member)
	}
	return members, nil
}

func (m *MemoryBackend) SetMove(ctx context.Context, src, dst, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[src]
	if !ok {
		return false, nil
	}
	if _, ok := s[member]; !ok {
		return false, nil
	}
	delete(s, member)
	if len(s) == 0 {
		delete(m.sets, src)
	}
	d, ok := m.sets[dst]
	if !ok {
		d = make(map[string]struct{})
		m.sets[dst] = d
	}
	d[member] = struct{}{}
	return true, nil
}

// DeleteExpired prunes expired items eagerly. Expiry is otherwise enforced
// on read, so this only bounds memory for keys nothing reads anymore.
func (m *MemoryBackend) DeleteExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	removed := 0
	for k, it := range m.items {
		if it.expired(now) {
			delete(m.items, k)
			removed++
		}
	}
	return removed
}

func (m *MemoryBackend) Ping(ctx context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }
