package prompt

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresTemplateStore serves subject-editable override templates. The most
// recent active version wins.
type PostgresTemplateStore struct {
	db DB
}

func NewPostgresTemplateStore(db DB) TemplateStore {
	return &PostgresTemplateStore{db: db}
}

func (s *PostgresTemplateStore) ActiveTemplate(ctx context.Context, rt ReadingType) (*Template, error) {
	query := `
		SELECT id, reading_type, version, system_prompt, user_prompt
		FROM prompt_templates
		WHERE reading_type = $1 AND active = true
		ORDER BY version DESC
		LIMIT 1
	`

	var t Template
	err := s.db.QueryRow(ctx, query, string(rt)).Scan(
		&t.ID, &t.Type, &t.Version, &t.System, &t.User,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get prompt template: %w", err)
	}

	return &t, nil
}
