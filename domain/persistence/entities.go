package persistence

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// RequestStatus is the terminal state of a routed request.
type RequestStatus string

const (
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusFailed    RequestStatus = "failed"
)

// RequestLog is the terminal record of one routed chat request. Rows are
// insert-only; a request is written exactly once, after its outcome is known.
type RequestLog struct {
	ID               uuid.UUID     `gorm:"type:uuid;primary_key" json:"id"`
	RequestID        string        `gorm:"type:varchar(64);not null;index" json:"request_id"`
	Provider         string        `gorm:"type:varchar(255);index" json:"provider"`
	Model            string        `gorm:"type:varchar(255)" json:"model"`
	Strategy         string        `gorm:"type:varchar(64)" json:"strategy"`
	Streaming        bool          `gorm:"default:false" json:"streaming"`
	Attempts         int           `gorm:"default:0" json:"attempts"`
	PromptTokens     int           `gorm:"default:0" json:"prompt_tokens"`
	CompletionTokens int           `gorm:"default:0" json:"completion_tokens"`
	TotalTokens      int           `gorm:"default:0" json:"total_tokens"`
	CostUSD          float64       `gorm:"type:decimal(12,6);default:0" json:"cost_usd"`
	LatencyMs        int64         `gorm:"default:0" json:"latency_ms"`
	Status           RequestStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	ErrorMsg         string        `gorm:"type:text" json:"error_msg,omitempty"`
	CreatedAt        time.Time     `gorm:"autoCreateTime;index" json:"created_at"`
}

// AttemptLog is one failed attempt inside a fallback chain. Successful
// attempts are only recorded through their RequestLog.
type AttemptLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	RequestID string    `gorm:"type:varchar(64);not null;index" json:"request_id"`
	Provider  string    `gorm:"type:varchar(255);index" json:"provider"`
	Model     string    `gorm:"type:varchar(255)" json:"model"`
	Attempt   int       `gorm:"default:0" json:"attempt"`
	LatencyMs int64     `gorm:"default:0" json:"latency_ms"`
	ErrorMsg  string    `gorm:"type:text" json:"error_msg"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// EmbeddingLog is the terminal record of one embeddings call. The vector
// itself is stored for offline similarity analysis; it is nil for failures.
type EmbeddingLog struct {
	ID         uuid.UUID        `gorm:"type:uuid;primary_key" json:"id"`
	RequestID  string           `gorm:"type:varchar(64);not null;index" json:"request_id"`
	Provider   string           `gorm:"type:varchar(255);index" json:"provider"`
	Model      string           `gorm:"type:varchar(255)" json:"model"`
	TextLen    int              `gorm:"default:0" json:"text_len"`
	Dimensions int              `gorm:"default:0" json:"dimensions"`
	LatencyMs  int64            `gorm:"default:0" json:"latency_ms"`
	Status     RequestStatus    `gorm:"type:varchar(20);not null;index" json:"status"`
	ErrorMsg   string           `gorm:"type:text" json:"error_msg,omitempty"`
	Embedding  *pgvector.Vector `gorm:"type:vector" json:"embedding,omitempty"`
	CreatedAt  time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
}

func (r *RequestLog) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (a *AttemptLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (e *EmbeddingLog) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	// An empty vector is not representable in the column type; store NULL.
	if e.Embedding != nil && len(e.Embedding.Slice()) == 0 {
		e.Embedding = nil
	}
	return nil
}

func (RequestLog) TableName() string   { return "request_logs" }
func (AttemptLog) TableName() string   { return "attempt_logs" }
func (EmbeddingLog) TableName() string { return "embedding_logs" }
