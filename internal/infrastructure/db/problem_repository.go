package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/google/uuid"
)

// ProblemRepository is the authoritative Postgres store of problems.
// internal/domain/problem.Service keeps a warm in-memory mirror on top of it.
type ProblemRepository struct {
	db *DB
}

// NewProblemRepository создаёт новый репозиторий задач
func NewProblemRepository(db *DB) *ProblemRepository {
	return &ProblemRepository{db: db}
}

type problemRow struct {
	ID               uuid.UUID      `db:"id"`
	Title            string         `db:"title"`
	Description      string         `db:"description"`
	Difficulty       string         `db:"difficulty"`
	Examples         []byte         `db:"examples"`
	HiddenTests      []byte         `db:"hidden_tests"`
	StarterCode      []byte         `db:"starter_code"`
	Tags             []byte         `db:"tags"`
	TimeLimitMinutes sql.NullInt64  `db:"time_limit_minutes"`
}

func (row *problemRow) toDomain() (*domain.Problem, error) {
	p := &domain.Problem{
		ID:          row.ID,
		Title:       row.Title,
		Description: row.Description,
		Difficulty:  domain.Difficulty(row.Difficulty),
	}
	if len(row.Examples) > 0 {
		if err := json.Unmarshal(row.Examples, &p.Examples); err != nil {
			return nil, errors.Wrap(err, "failed to decode examples")
		}
	}
	if len(row.HiddenTests) > 0 {
		if err := json.Unmarshal(row.HiddenTests, &p.HiddenTests); err != nil {
			return nil, errors.Wrap(err, "failed to decode hidden tests")
		}
	}
	if len(row.StarterCode) > 0 {
		if err := json.Unmarshal(row.StarterCode, &p.StarterCode); err != nil {
			return nil, errors.Wrap(err, "failed to decode starter code")
		}
	}
	if len(row.Tags) > 0 {
		if err := json.Unmarshal(row.Tags, &p.Tags); err != nil {
			return nil, errors.Wrap(err, "failed to decode tags")
		}
	}
	if row.TimeLimitMinutes.Valid {
		v := int(row.TimeLimitMinutes.Int64)
		p.TimeLimitMinutes = &v
	}
	return p, nil
}

// Create seeds a new problem.
func (r *ProblemRepository) Create(ctx context.Context, p *domain.Problem) error {
	examples, err := json.Marshal(p.Examples)
	if err != nil {
		return errors.Wrap(err, "failed to encode examples")
	}
	hiddenTests, err := json.Marshal(p.HiddenTests)
	if err != nil {
		return errors.Wrap(err, "failed to encode hidden tests")
	}
	starterCode, err := json.Marshal(p.StarterCode)
	if err != nil {
		return errors.Wrap(err, "failed to encode starter code")
	}
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return errors.Wrap(err, "failed to encode tags")
	}

	query := `
		INSERT INTO problems (id, title, description, difficulty, examples, hidden_tests,
		                       starter_code, tags, time_limit_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.ExecWithMetrics(ctx, "problem_create", query,
		p.ID, p.Title, p.Description, string(p.Difficulty), examples, hiddenTests, starterCode, tags, p.TimeLimitMinutes,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create problem")
	}
	return nil
}

// ListAll returns every problem in the catalogue, used to populate the warm cache.
func (r *ProblemRepository) ListAll(ctx context.Context) ([]*domain.Problem, error) {
	var rows []problemRow
	query := `
		SELECT id, title, description, difficulty, examples, hidden_tests, starter_code, tags, time_limit_minutes
		FROM problems
	`
	if err := r.db.QueryWithMetrics(ctx, "problem_list_all", &rows, query); err != nil {
		return nil, errors.Wrap(err, "failed to list problems")
	}

	problems := make([]*domain.Problem, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		problems = append(problems, p)
	}
	return problems, nil
}

// GetByID fetches a single problem, bypassing the cache (used for cache-miss fallback).
func (r *ProblemRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Problem, error) {
	var row problemRow
	query := `
		SELECT id, title, description, difficulty, examples, hidden_tests, starter_code, tags, time_limit_minutes
		FROM problems
		WHERE id = $1
	`
	err := r.db.QueryRowWithMetrics(ctx, "problem_get_by_id", &row, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrProblemNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get problem")
	}
	return row.toDomain()
}
