package persistence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"llm-relay/domain/persistence"

	"github.com/sirupsen/logrus"
)

const (
	defaultWorkerCount = 5
	defaultBufferSize  = 1000

	opTimeout   = 10 * time.Second
	stopTimeout = 30 * time.Second
)

// Processor drains log entities to the repositories on a bounded queue with
// a fixed worker pool. Enqueue never blocks the caller: a full queue drops
// the event and counts the drop.
type Processor struct {
	requests   persistence.RequestLogRepository
	attempts   persistence.AttemptLogRepository
	embeddings persistence.EmbeddingLogRepository

	queue       chan any
	workerCount int
	bufferSize  int

	// mu orders Enqueue against the queue close in Stop.
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning atomic.Bool

	processedCount atomic.Int64
	errorCount     atomic.Int64
	droppedCount   atomic.Int64
}

func NewProcessor(
	requests persistence.RequestLogRepository,
	attempts persistence.AttemptLogRepository,
	embeddings persistence.EmbeddingLogRepository,
	workerCount int,
	bufferSize int,
) *Processor {
	if workerCount <= 0 {
		workerCount = defaultWorkerCount
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	return &Processor{
		requests:    requests,
		attempts:    attempts,
		embeddings:  embeddings,
		queue:       make(chan any, bufferSize),
		workerCount: workerCount,
		bufferSize:  bufferSize,
	}
}

func (p *Processor) Start(ctx context.Context) error {
	if p.isRunning.Load() {
		return fmt.Errorf("event processor is already running")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.isRunning.Store(true)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	logrus.WithFields(logrus.Fields{
		"worker_count": p.workerCount,
		"buffer_size":  p.bufferSize,
	}).Info("Event processor started")

	return nil
}

// Stop rejects new events, lets the workers drain the queue, and returns
// once they finish or the grace period expires.
func (p *Processor) Stop() error {
	if !p.isRunning.Load() {
		return nil
	}

	logrus.Info("Stopping event processor...")

	p.mu.Lock()
	p.isRunning.Store(false)
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Event processor stopped")
	case <-time.After(stopTimeout):
		logrus.Warn("Event processor stop timed out")
	}

	p.cancel()
	return nil
}

// Enqueue accepts a *RequestLog, *AttemptLog, or *EmbeddingLog for async
// insertion.
func (p *Processor) Enqueue(event any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.isRunning.Load() {
		return fmt.Errorf("event processor is not running")
	}

	select {
	case p.queue <- event:
		return nil
	default:
		p.droppedCount.Add(1)
		logrus.Warn("Event processor queue is full, dropping event")
		return fmt.Errorf("event processor queue is full")
	}
}

func (p *Processor) Health() persistence.ProcessorHealth {
	return persistence.ProcessorHealth{
		IsRunning:      p.isRunning.Load(),
		QueueSize:      len(p.queue),
		ProcessedCount: p.processedCount.Load(),
		ErrorCount:     p.errorCount.Load(),
		DroppedCount:   p.droppedCount.Load(),
	}
}

func (p *Processor) worker(workerID int) {
	defer p.wg.Done()

	logger := logrus.WithField("worker_id", workerID)
	logger.Debug("Event processor worker started")

	for event := range p.queue {
		opCtx, cancel := context.WithTimeout(p.ctx, opTimeout)
		if err := p.handle(opCtx, event); err != nil {
			p.errorCount.Add(1)
			logger.WithError(err).Error("Failed to process event")
		} else {
			p.processedCount.Add(1)
		}
		cancel()
	}

	logger.Debug("Event processor worker stopped")
}

func (p *Processor) handle(ctx context.Context, event any) error {
	switch e := event.(type) {
	case *persistence.RequestLog:
		return p.requests.Create(ctx, e)
	case *persistence.AttemptLog:
		return p.attempts.Create(ctx, e)
	case *persistence.EmbeddingLog:
		return p.embeddings.Create(ctx, e)
	default:
		return fmt.Errorf("unknown event type: %T", event)
	}
}
