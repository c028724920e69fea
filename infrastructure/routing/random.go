package routing

import (
	"math/rand"
	"sync"
	"time"

	"llm-relay/domain/routing"
)

// RandomStrategy returns a uniformly shuffled order, re-rolled on every call.
type RandomStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomStrategy() *RandomStrategy {
	return &RandomStrategy{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *RandomStrategy) Rank(candidates []routing.Candidate) []routing.Candidate {
	out := append([]routing.Candidate(nil), candidates...)
	s.mu.Lock()
	s.rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	s.mu.Unlock()
	return out
}

func (s *RandomStrategy) Name() string {
	return routing.KindRandom
}
