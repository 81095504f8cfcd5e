package reading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/astrelia/readings/internal/chart"
	"github.com/astrelia/readings/internal/interpret"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, r *Record) error {
	interpretation, err := json.Marshal(r.Interpretation)
	if err != nil {
		return fmt.Errorf("failed to marshal interpretation: %w", err)
	}
	chartSnapshot, err := json.Marshal(r.Chart)
	if err != nil {
		return fmt.Errorf("failed to marshal chart: %w", err)
	}

	query := `
		INSERT INTO reading_records (
			subject_id, profile_id, reading_type, target_year, target_month, target_day,
			question, content_hash, interpretation, chart, provider, model,
			cost_usd, credits_spent, trial_used, cache_hit, degraded
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at
	`

	err = s.db.QueryRow(ctx, query,
		r.SubjectID, r.ProfileID, r.Type, r.Year, r.Month, r.Day,
		r.Question, r.ContentHash, interpretation, chartSnapshot, r.Provider, r.Model,
		r.CostUSD, r.CreditsSpent, r.TrialUsed, r.CacheHit, r.Degraded,
	).Scan(&r.ID, &r.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create reading record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Record, error) {
	query := `
		SELECT id, subject_id, profile_id, reading_type, target_year, target_month, target_day,
		       question, content_hash, interpretation, chart, provider, model,
		       cost_usd, credits_spent, trial_used, cache_hit, degraded, created_at
		FROM reading_records
		WHERE id = $1
	`

	r, err := scanRecord(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReadingNotFound
		}
		return nil, fmt.Errorf("failed to get reading record: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*Record, error) {
	query := `
		SELECT id, subject_id, profile_id, reading_type, target_year, target_month, target_day,
		       question, content_hash, interpretation, chart, provider, model,
		       cost_usd, credits_spent, trial_used, cache_hit, degraded, created_at
		FROM reading_records
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.Query(ctx, query, subjectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list reading records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var interpretation, chartSnapshot []byte

	err := row.Scan(
		&r.ID, &r.SubjectID, &r.ProfileID, &r.Type, &r.Year, &r.Month, &r.Day,
		&r.Question, &r.ContentHash, &interpretation, &chartSnapshot, &r.Provider, &r.Model,
		&r.CostUSD, &r.CreditsSpent, &r.TrialUsed, &r.CacheHit, &r.Degraded, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Chart-only records persist a JSON null interpretation.
	if len(interpretation) > 0 && string(interpretation) != "null" {
		var res interpret.Result
		if err := json.Unmarshal(interpretation, &res); err != nil {
			return nil, fmt.Errorf("corrupt interpretation snapshot: %w", err)
		}
		r.Interpretation = &res
	}
	if len(chartSnapshot) > 0 {
		var c chart.Chart
		if err := json.Unmarshal(chartSnapshot, &c); err != nil {
			return nil, fmt.Errorf("corrupt chart snapshot: %w", err)
		}
		r.Chart = &c
	}
	return &r, nil
}
