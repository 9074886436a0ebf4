package memory

import (
	"sync"

	"quiz-match-service/internal/app"
)

// MatchStore is an in-memory implementation of app.MatchStore.
type MatchStore struct {
	mu      sync.RWMutex
	matches map[string]*app.Match
}

func NewMatchStore() *MatchStore {
	return &MatchStore{
		matches: make(map[string]*app.Match),
	}
}

func (s *MatchStore) Insert(code string, match *app.Match) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[code]; ok {
		return false
	}
	s.matches[code] = match
	return true
}

func (s *MatchStore) Get(code string) (*app.Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	match, ok := s.matches[code]
	return match, ok
}

func (s *MatchStore) Delete(code string) (*app.Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[code]
	delete(s.matches, code)
	return match, ok
}

func (s *MatchStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}
