package persistence

import (
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"

	"llm-relay/domain/persistence"
	"llm-relay/domain/routing"
)

// Recorder translates routing events into log rows and hands them to the
// event processor. Every method returns immediately; a full queue loses the
// row, never the request.
type Recorder struct {
	processor persistence.EventProcessor
}

func NewRecorder(processor persistence.EventProcessor) *Recorder {
	return &Recorder{processor: processor}
}

func (r *Recorder) RequestCompleted(ev routing.RequestEvent) {
	status := persistence.RequestStatusCompleted
	errMsg := ""
	if ev.Err != nil {
		status = persistence.RequestStatusFailed
		errMsg = ev.Err.Error()
	}

	r.enqueue(&persistence.RequestLog{
		RequestID:        ev.RequestID,
		Provider:         ev.Provider,
		Model:            ev.Model,
		Strategy:         ev.Strategy,
		Streaming:        ev.Streaming,
		Attempts:         ev.Attempts,
		PromptTokens:     ev.Usage.PromptTokens,
		CompletionTokens: ev.Usage.CompletionTokens,
		TotalTokens:      ev.Usage.TotalTokens,
		CostUSD:          ev.CostUSD,
		LatencyMs:        ev.LatencyMs,
		Status:           status,
		ErrorMsg:         errMsg,
		CreatedAt:        ev.At,
	})
}

func (r *Recorder) AttemptFailed(ev routing.AttemptEvent) {
	errMsg := ""
	if ev.Err != nil {
		errMsg = ev.Err.Error()
	}

	r.enqueue(&persistence.AttemptLog{
		RequestID: ev.RequestID,
		Provider:  ev.Provider,
		Model:     ev.Model,
		Attempt:   ev.Attempt,
		LatencyMs: ev.LatencyMs,
		ErrorMsg:  errMsg,
		CreatedAt: ev.At,
	})
}

func (r *Recorder) EmbeddingCompleted(ev routing.EmbeddingEvent) {
	status := persistence.RequestStatusCompleted
	errMsg := ""
	if ev.Err != nil {
		status = persistence.RequestStatusFailed
		errMsg = ev.Err.Error()
	}

	log := &persistence.EmbeddingLog{
		RequestID:  ev.RequestID,
		Provider:   ev.Provider,
		Model:      ev.Model,
		TextLen:    ev.TextLen,
		Dimensions: ev.Dimensions,
		LatencyMs:  ev.LatencyMs,
		Status:     status,
		ErrorMsg:   errMsg,
		CreatedAt:  ev.At,
	}
	if len(ev.Vector) > 0 {
		vec := pgvector.NewVector(ev.Vector)
		log.Embedding = &vec
	}

	r.enqueue(log)
}

func (r *Recorder) enqueue(event any) {
	if err := r.processor.Enqueue(event); err != nil {
		logrus.WithError(err).Debug("Dropped log event")
	}
}
