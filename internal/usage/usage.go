package usage

import (
	"context"
	"time"
)

// Log is one provider call's accounting row.
type Log struct {
	ID           string    `json:"id"`
	SubjectID    string    `json:"subject_id"`
	RequestID    string    `json:"request_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	LatencyMs    int64     `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

type Store interface {
	LogUsage(ctx context.Context, log *Log) error
	GetUsageBySubject(ctx context.Context, subjectID string, from, to time.Time) ([]*Log, error)
	GetTotalCostBySubject(ctx context.Context, subjectID string, from, to time.Time) (float64, error)
}
