package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/astrelia/readings/internal/prompt"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) DurableStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, hash string, rt prompt.ReadingType, now time.Time) (*Entry, error) {
	query := `
		SELECT content_hash, reading_type, interpretation, chart, expires_at
		FROM reading_cache
		WHERE content_hash = $1 AND reading_type = $2 AND expires_at > $3
	`

	var e Entry
	err := s.db.QueryRow(ctx, query, hash, string(rt), now).Scan(
		&e.Hash, &e.Type, &e.Interpretation, &e.Chart, &e.ExpiresAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	return &e, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO reading_cache (content_hash, reading_type, interpretation, chart, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (content_hash, reading_type)
		DO UPDATE SET interpretation = $3, chart = $4, expires_at = $5, updated_at = now()
	`
	_, err := s.db.Exec(ctx, query,
		entry.Hash, string(entry.Type), entry.Interpretation, entry.Chart, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}
