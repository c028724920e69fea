package costs

import (
	"github.com/sirupsen/logrus"

	"llm-relay/domain/llm"
)

// Tracker accumulates spend through a Store and enforces the optional budget
// ceiling. Store failures fail open and are logged: accounting is eventual
// and a request is never blocked on it, but a reached budget always blocks
// before any provider is contacted.
type Tracker struct {
	store  Store
	budget *float64
}

// NewTracker wraps a store. budgetUSD nil means unlimited.
func NewTracker(store Store, budgetUSD *float64) *Tracker {
	return &Tracker{store: store, budget: budgetUSD}
}

// Add records the cost of one completed request. Zero-cost requests (unpriced
// providers) are skipped.
func (t *Tracker) Add(providerID string, costUSD float64) {
	if costUSD <= 0 {
		return
	}
	if err := t.store.Increment(providerID, costUSD); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"provider": providerID,
			"cost_usd": costUSD,
		}).Warn("Failed to record cost")
	}
}

// Total returns cumulative spend across all providers.
func (t *Tracker) Total() float64 {
	total, err := t.store.Total()
	if err != nil {
		logrus.WithError(err).Warn("Failed to read cost total")
		return 0
	}
	return total
}

// ByProvider returns cumulative spend per provider.
func (t *Tracker) ByProvider() map[string]float64 {
	byProvider, err := t.store.ByProvider()
	if err != nil {
		logrus.WithError(err).Warn("Failed to read per-provider costs")
		return map[string]float64{}
	}
	return byProvider
}

// CheckBudget returns BudgetExceededError once cumulative spend has reached
// the ceiling. With no budget configured it always passes.
func (t *Tracker) CheckBudget() error {
	if t.budget == nil {
		return nil
	}
	if total := t.Total(); total >= *t.budget {
		return &llm.BudgetExceededError{Spent: total, Budget: *t.budget}
	}
	return nil
}
