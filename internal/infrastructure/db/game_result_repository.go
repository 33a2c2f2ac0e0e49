package db

import (
	"context"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// GameResultRepository persists one durable row per participant of a finished game.
type GameResultRepository struct {
	db *DB
}

// NewGameResultRepository создаёт новый репозиторий результатов игр
func NewGameResultRepository(db *DB) *GameResultRepository {
	return &GameResultRepository{db: db}
}

// Create inserts a single GameResult row inside tx.
func (r *GameResultRepository) Create(ctx context.Context, tx sqlx.ExtContext, result *domain.GameResult) error {
	query := `
		INSERT INTO game_results (id, room_id, problem_id, user_id, username, placement, total_players,
		                          solve_time_ms, passed_tests, total_tests, language, game_mode, difficulty, rating_change)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at
	`
	return errors.Wrap(tx.QueryRowxContext(ctx, query,
		result.ID, result.RoomID, result.ProblemID, result.UserID, result.Username,
		result.Placement, result.TotalPlayers, result.SolveTimeMs, result.PassedTests,
		result.TotalTests, result.Language, result.GameMode, result.Difficulty, result.RatingChange,
	).Scan(&result.CreatedAt), "failed to create game result")
}

// GetByUserID returns a user's recent game history, most recent first.
func (r *GameResultRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.GameResult, error) {
	var results []*domain.GameResult
	query := `
		SELECT id, room_id, problem_id, user_id, username, placement, total_players, solve_time_ms,
		       passed_tests, total_tests, language, game_mode, difficulty, rating_change, created_at
		FROM game_results
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	if err := r.db.QueryWithMetrics(ctx, "game_result_by_user", &results, query, userID, limit); err != nil {
		return nil, errors.Wrap(err, "failed to get game results")
	}
	return results, nil
}

// RecentProblemIDsByUsers returns problem IDs any of the given users has recently played,
// used by the Problem Repository to avoid repeat assignment within a room.
func (r *GameResultRepository) RecentProblemIDsByUsers(ctx context.Context, usernames []string, limit int) ([]uuid.UUID, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT DISTINCT problem_id FROM (
			SELECT problem_id, created_at FROM game_results
			WHERE username IN (?)
			ORDER BY created_at DESC
			LIMIT ?
		) recent
	`, usernames, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build recent problems query")
	}
	query = r.db.Rebind(query)

	var ids []uuid.UUID
	if err := r.db.QueryWithMetrics(ctx, "game_result_recent_problems", &ids, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to get recent problem ids")
	}
	return ids, nil
}
