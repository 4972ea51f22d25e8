package preferences

import (
	"context"
	"sync"
)

var (
	_ Store  = (*MemoryStore)(nil)
	_ Seeder = (*MemoryStore)(nil)
)

// MemoryStore keeps preferences in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]Preferences
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prefs: make(map[string]Preferences)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Preferences, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prefs[key]
	if !ok {
		return Preferences{}, false, nil
	}
	return clone(p), true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, prefs Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs[key] = clone(prefs)
	return nil
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, key string, prefs Preferences) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prefs[key]; ok {
		return false, nil
	}
	s.prefs[key] = clone(prefs)
	return true, nil
}

func clone(p Preferences) Preferences {
	if p.NewsCategories != nil {
		p.NewsCategories = append(make([]string, 0, len(p.NewsCategories)), p.NewsCategories...)
	}
	return p
}
