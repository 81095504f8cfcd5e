package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetSubject(ctx context.Context, id string) (*Subject, error) {
	query := `
		SELECT id, credits, trial_used, tier, created_at
		FROM subjects
		WHERE id = $1
	`

	var sub Subject
	err := s.db.QueryRow(ctx, query, id).Scan(
		&sub.ID, &sub.Credits, &sub.TrialUsed, &sub.Tier, &sub.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}

	return &sub, nil
}

func (s *PostgresStore) CreateSubject(ctx context.Context, sub *Subject) error {
	if sub.Tier == "" {
		sub.Tier = TierFree
	}
	query := `
		INSERT INTO subjects (id, credits, trial_used, tier)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := s.db.QueryRow(ctx, query, sub.ID, sub.Credits, sub.TrialUsed, string(sub.Tier)).Scan(&sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subject: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (*BirthProfile, error) {
	query := `
		SELECT id, subject_id, birth_date, birth_hour, birth_minute, birth_city, gender, created_at
		FROM birth_profiles
		WHERE id = $1
	`

	var p BirthProfile
	err := s.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.SubjectID, &p.BirthDate, &p.BirthHour, &p.BirthMin, &p.BirthCity, &p.Gender, &p.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get birth profile: %w", err)
	}

	return &p, nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p *BirthProfile) error {
	query := `
		INSERT INTO birth_profiles (id, subject_id, birth_date, birth_hour, birth_minute, birth_city, gender)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := s.db.QueryRow(ctx, query,
		p.ID, p.SubjectID, p.BirthDate, p.BirthHour, p.BirthMin, p.BirthCity, p.Gender,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create birth profile: %w", err)
	}
	return nil
}

// DebitCredits is the billing atomicity primitive: the guard runs at write
// time, so the loser of a race gets zero rows affected, never a negative
// balance.
func (s *PostgresStore) DebitCredits(ctx context.Context, subjectID string, amount int) error {
	query := `UPDATE subjects SET credits = credits - $2 WHERE id = $1 AND credits >= $2`
	tag, err := s.db.Exec(ctx, query, subjectID, amount)
	if err != nil {
		return fmt.Errorf("failed to debit credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

func (s *PostgresStore) AddCredits(ctx context.Context, subjectID string, amount int) error {
	query := `UPDATE subjects SET credits = credits + $2 WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, subjectID, amount)
	if err != nil {
		return fmt.Errorf("failed to add credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubjectNotFound
	}
	return nil
}

func (s *PostgresStore) ConsumeTrial(ctx context.Context, subjectID string) error {
	query := `UPDATE subjects SET trial_used = true WHERE id = $1 AND trial_used = false`
	tag, err := s.db.Exec(ctx, query, subjectID)
	if err != nil {
		return fmt.Errorf("failed to consume trial: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTrialAlreadyUsed
	}
	return nil
}
