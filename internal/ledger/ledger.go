package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSubjectNotFound     = errors.New("subject not found")
	ErrProfileNotFound     = errors.New("birth profile not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrTrialAlreadyUsed    = errors.New("trial already used")
)

type Tier string

const (
	TierFree      Tier = "free"
	TierStandard  Tier = "standard"
	TierUnlimited Tier = "unlimited"
)

// Subject owns the credit ledger fields: balance never goes negative, the
// trial flag only moves false -> true, and the unlimited tier bypasses the
// ledger entirely.
type Subject struct {
	ID        string    `json:"id"`
	Credits   int       `json:"credits"`
	TrialUsed bool      `json:"trial_used"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}

type BirthProfile struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	BirthDate time.Time `json:"birth_date"`
	BirthHour int       `json:"birth_hour"`
	BirthMin  int       `json:"birth_minute"`
	BirthCity string    `json:"birth_city"`
	Gender    string    `json:"gender"`
	CreatedAt time.Time `json:"created_at"`
}

// Store mutates ledger fields only through conditional updates; they stay
// atomic even if the advisory lock is bypassed or expires mid-flight.
type Store interface {
	GetSubject(ctx context.Context, id string) (*Subject, error)
	CreateSubject(ctx context.Context, s *Subject) error
	GetProfile(ctx context.Context, id string) (*BirthProfile, error)
	CreateProfile(ctx context.Context, p *BirthProfile) error

	// DebitCredits fails with ErrInsufficientCredits unless balance >= amount
	// at write time.
	DebitCredits(ctx context.Context, subjectID string, amount int) error
	AddCredits(ctx context.Context, subjectID string, amount int) error
	// ConsumeTrial fails with ErrTrialAlreadyUsed unless the flag was still
	// false at write time.
	ConsumeTrial(ctx context.Context, subjectID string) error
}
