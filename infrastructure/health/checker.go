package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"llm-relay/domain/llm"
	"llm-relay/domain/routing"
)

// probeTimeout bounds a single health probe so a hung provider cannot stall
// the polling cycle.
const probeTimeout = 5 * time.Second

// Checker polls every provider's HealthCheck on a fixed interval and feeds
// the outcomes into the tracker. Probes run independently of request traffic
// and only update state consulted by the next selection.
type Checker struct {
	providers []llm.Provider
	tracker   routing.HealthTracker
	interval  time.Duration

	isRunning atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewChecker(providers []llm.Provider, tracker routing.HealthTracker, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = routing.DefaultHealthCheckInterval
	}
	return &Checker{
		providers: providers,
		tracker:   tracker,
		interval:  interval,
	}
}

// Start launches the polling goroutine. The first probe cycle runs
// immediately so health state exists before the first tick.
func (c *Checker) Start() {
	if !c.isRunning.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(ctx)

	logrus.WithFields(logrus.Fields{
		"providers": len(c.providers),
		"interval":  c.interval,
	}).Info("Health checker started")
}

func (c *Checker) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeAll(ctx)
		}
	}
}

func (c *Checker) probeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range c.providers {
		wg.Add(1)
		go func(p llm.Provider) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			healthy := p.HealthCheck(probeCtx)
			c.tracker.RecordCheck(p.ID(), healthy)
			if !healthy {
				logrus.WithField("provider", p.ID()).Debug("Health probe failed")
			}
		}(p)
	}
	wg.Wait()
}

// Stop halts polling and waits for in-flight probes to finish.
func (c *Checker) Stop() {
	if !c.isRunning.CompareAndSwap(true, false) {
		return
	}
	c.cancel()
	c.wg.Wait()
	logrus.Info("Health checker stopped")
}
