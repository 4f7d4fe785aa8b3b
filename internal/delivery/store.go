package delivery

import "pricebot/internal/shardmap"

// Store keeps State per destination key. Keys live in independent shards so
// tasks for different destinations never serialize on one lock.
type Store struct {
	m *shardmap.Map[State]
}

func NewStore() *Store {
	return &Store{m: shardmap.New[State](0)}
}

// Get returns the state for key, or the zero State if none was recorded.
func (s *Store) Get(key string) State {
	st, _ := s.m.Load(key)
	return st
}

func (s *Store) Put(key string, st State) { s.m.Store(key, st) }

// Snapshot copies every entry; used by monitoring, never by ticks.
func (s *Store) Snapshot() map[string]State {
	out := make(map[string]State, s.m.Len())
	s.m.Range(func(k string, st State) bool {
		out[k] = st
		return true
	})
	return out
}
