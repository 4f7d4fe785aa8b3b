// Package shardmap provides string-keyed concurrent maps split into
// independently locked shards, plus a per-key mutex.
package shardmap

import (
	"hash/fnv"
	"sort"
	"sync"
)

const DefaultShards = 32

// Map is safe for concurrent use. Operations on keys in different shards never
// contend; callbacks run under the owning shard's lock and must not block.
type Map[V any] struct {
	shards []*shard[V]
}

type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// New returns a map with n shards (DefaultShards when n <= 0).
func New[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultShards
	}
	m := &Map[V]{shards: make([]*shard[V], n)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{m: make(map[string]V)}
	}
	return m
}

// Index maps key to one of n buckets with FNV-1a.
func Index(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (m *Map[V]) shard(key string) *shard[V] {
	return m.shards[Index(key, len(m.shards))]
}

func (m *Map[V]) Load(key string) (V, bool) {
	s := m.shard(key)
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	return v, ok
}

func (m *Map[V]) Store(key string, v V) {
	s := m.shard(key)
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
}

// LoadOrStore returns the existing value if present. Otherwise it stores v.
// loaded reports whether the value was already there.
func (m *Map[V]) LoadOrStore(key string, v V) (actual V, loaded bool) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[key]; ok {
		return cur, true
	}
	s.m[key] = v
	return v, false
}

// LoadAndDelete removes key and returns the value it held.
func (m *Map[V]) LoadAndDelete(key string) (V, bool) {
	s := m.shard(key)
	s.mu.Lock()
	v, ok := s.m[key]
	if ok {
		delete(s.m, key)
	}
	s.mu.Unlock()
	return v, ok
}

func (m *Map[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for every entry until fn returns false. It locks one shard at
// a time, so the view is not a consistent snapshot across shards.
func (m *Map[V]) Range(fn func(key string, v V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.m {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Keys returns all keys sorted.
func (m *Map[V]) Keys() []string {
	out := make([]string, 0, m.Len())
	m.Range(func(k string, _ V) bool {
		out = append(out, k)
		return true
	})
	sort.Strings(out)
	return out
}

// KeyMutex serializes callers per key. Entries are reference counted and
// dropped once the last holder unlocks.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyMutex() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free and returns its unlock func.
func (k *KeyMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l := k.locks[key]
	if l == nil {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}
