package reading

import (
	"context"
	"errors"
	"time"

	"github.com/astrelia/readings/internal/chart"
	"github.com/astrelia/readings/internal/interpret"
	"github.com/astrelia/readings/internal/prompt"
)

var (
	ErrReadingNotFound   = errors.New("reading not found")
	ErrConcurrentRequest = errors.New("another reading request is in flight for this subject")
	ErrValidation        = errors.New("invalid reading request")
)

// Record is one persisted reading. Interpretation and Chart are stored as
// JSON snapshots so a record stays readable after rule-version bumps.
type Record struct {
	ID             string            `json:"id"`
	SubjectID      string            `json:"subject_id"`
	ProfileID      string            `json:"profile_id"`
	Type           prompt.ReadingType `json:"type"`
	Year           int               `json:"year,omitempty"`
	Month          int               `json:"month,omitempty"`
	Day            int               `json:"day,omitempty"`
	Question       string            `json:"question,omitempty"`
	ContentHash    string            `json:"content_hash"`
	Interpretation *interpret.Result  `json:"interpretation"`
	Chart          *chart.Chart      `json:"chart"`
	Provider       string            `json:"provider,omitempty"`
	Model          string            `json:"model,omitempty"`
	CostUSD        float64           `json:"cost_usd"`
	CreditsSpent   int               `json:"credits_spent"`
	TrialUsed      bool              `json:"trial_used"`
	CacheHit       bool              `json:"cache_hit"`
	Degraded       bool              `json:"degraded"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Request creates a billed reading for a stored birth profile.
type Request struct {
	SubjectID string             `json:"-"`
	ProfileID string             `json:"profile_id"`
	Type      prompt.ReadingType `json:"type"`
	Year      int                `json:"year,omitempty"`
	Month     int                `json:"month,omitempty"`
	Day       int                `json:"day,omitempty"`
	Question  string             `json:"question,omitempty"`
}

// GenerateRequest is the unbilled, unpersisted variant: birth data arrives
// inline instead of referencing a stored profile.
type GenerateRequest struct {
	Birth    chart.BirthData    `json:"birth"`
	Type     prompt.ReadingType `json:"type"`
	Year     int                `json:"year,omitempty"`
	Month    int                `json:"month,omitempty"`
	Day      int                `json:"day,omitempty"`
	Question string             `json:"question,omitempty"`
}

type Store interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*Record, error)
}
