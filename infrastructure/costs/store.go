package costs

import "sync"

// Store persists cumulative spend. Implementations must apply concurrent
// increments without losing any.
type Store interface {
	Increment(providerID string, costUSD float64) error
	Total() (float64, error)
	ByProvider() (map[string]float64, error)
}

// MemoryStore is the default single-instance accumulator.
type MemoryStore struct {
	mu         sync.RWMutex
	total      float64
	byProvider map[string]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byProvider: make(map[string]float64)}
}

func (s *MemoryStore) Increment(providerID string, costUSD float64) error {
	s.mu.Lock()
	s.total += costUSD
	s.byProvider[providerID] += costUSD
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Total() (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total, nil
}

func (s *MemoryStore) ByProvider() (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.byProvider))
	for k, v := range s.byProvider {
		out[k] = v
	}
	return out, nil
}
