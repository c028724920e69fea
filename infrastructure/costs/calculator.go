package costs

import (
	"sync"

	"github.com/sirupsen/logrus"

	"llm-relay/domain/llm"
)

// Calculator resolves effective pricing for a provider: operator override
// first, then the provider's own published pricing, then nil (zero cost).
// Overrides are hot-reloadable so a pricing change never requires a restart.
type Calculator struct {
	mu        sync.RWMutex
	overrides map[string]llm.ProviderPricing
}

func NewCalculator(overrides map[string]llm.ProviderPricing) *Calculator {
	if overrides == nil {
		overrides = make(map[string]llm.ProviderPricing)
	}
	return &Calculator{overrides: overrides}
}

// Pricing returns the effective pricing for a provider, or nil when neither
// an override nor published pricing exists.
func (c *Calculator) Pricing(p llm.Provider) *llm.ProviderPricing {
	c.mu.RLock()
	override, ok := c.overrides[p.ID()]
	c.mu.RUnlock()
	if ok {
		return &override
	}
	return p.Pricing()
}

// Cost computes the USD cost of one completed request under the effective
// pricing. Unpriced providers cost zero.
func (c *Calculator) Cost(p llm.Provider, usage llm.TokenUsage) float64 {
	pricing := c.Pricing(p)
	if pricing == nil {
		return 0
	}
	return pricing.Cost(usage)
}

// UpdateOverrides replaces the override table atomically.
func (c *Calculator) UpdateOverrides(overrides map[string]llm.ProviderPricing) {
	if overrides == nil {
		overrides = make(map[string]llm.ProviderPricing)
	}
	c.mu.Lock()
	c.overrides = overrides
	c.mu.Unlock()

	logrus.WithField("providers", len(overrides)).Info("Pricing overrides updated")
}
