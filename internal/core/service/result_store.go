package service

import (
	"sort"
	"sync"

	"github.com/berfenger/sems2mqtt/internal/core/domain"
)

// ResultStore keeps the last poll result of every account.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]domain.PollResult
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]domain.PollResult)}
}

func (s *ResultStore) Put(result domain.PollResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.Account] = result
}

func (s *ResultStore) Get(account string) (domain.PollResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[account]
	return r, ok
}

// All returns the results ordered by account.
func (s *ResultStore) All() []domain.PollResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]domain.PollResult, 0, len(s.results))
	for _, r := range s.results {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Account < all[j].Account })
	return all
}
