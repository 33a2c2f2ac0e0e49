package db

import (
	"context"
	"database/sql"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// StatsRepository persists per-user lifetime statistics and per-difficulty ELO.
type StatsRepository struct {
	db *DB
}

// NewStatsRepository создаёт новый репозиторий статистики
func NewStatsRepository(db *DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// GetByUserID получает статистику пользователя, создавая нулевую запись при её отсутствии
func (r *StatsRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserStats, error) {
	stats := domain.NewUserStats(userID)

	query := `
		SELECT games_played, games_won, games_lost, problems_solved, fastest_solve_ms,
		       current_streak, longest_streak, last_played_at
		FROM user_stats
		WHERE user_id = $1
	`
	row := struct {
		GamesPlayed    int          `db:"games_played"`
		GamesWon       int          `db:"games_won"`
		GamesLost      int          `db:"games_lost"`
		ProblemsSolved int          `db:"problems_solved"`
		FastestSolveMs *int64       `db:"fastest_solve_ms"`
		CurrentStreak  int          `db:"current_streak"`
		LongestStreak  int          `db:"longest_streak"`
		LastPlayedAt   sql.NullTime `db:"last_played_at"`
	}{}

	err := r.db.QueryRowWithMetrics(ctx, "stats_get_by_user_id", &row, query, userID)
	if err == sql.ErrNoRows {
		if err := r.create(ctx, stats); err != nil {
			return nil, errors.Wrap(err, "failed to create default stats")
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get user stats")
	} else {
		stats.GamesPlayed = row.GamesPlayed
		stats.GamesWon = row.GamesWon
		stats.GamesLost = row.GamesLost
		stats.ProblemsSolved = row.ProblemsSolved
		stats.FastestSolveMs = row.FastestSolveMs
		stats.CurrentStreak = row.CurrentStreak
		stats.LongestStreak = row.LongestStreak
		if row.LastPlayedAt.Valid {
			t := row.LastPlayedAt.Time
			stats.LastPlayedAt = &t
		}
	}

	ratings, err := r.getRatings(ctx, userID)
	if err != nil {
		return nil, err
	}
	for difficulty, rating := range ratings {
		stats.Ratings[difficulty] = rating
	}

	return stats, nil
}

func (r *StatsRepository) create(ctx context.Context, stats *domain.UserStats) error {
	query := `
		INSERT INTO user_stats (user_id, games_played, games_won, games_lost, problems_solved)
		VALUES ($1, 0, 0, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := r.db.ExecWithMetrics(ctx, "stats_create", query, stats.UserID)
	return err
}

func (r *StatsRepository) getRatings(ctx context.Context, userID uuid.UUID) (map[domain.Difficulty]domain.DifficultyRating, error) {
	query := `
		SELECT difficulty, rating, peak_rating, ranked_games, ranked_wins
		FROM user_ratings
		WHERE user_id = $1
	`

	var rows []struct {
		Difficulty  string `db:"difficulty"`
		Rating      int    `db:"rating"`
		PeakRating  int    `db:"peak_rating"`
		RankedGames int    `db:"ranked_games"`
		RankedWins  int    `db:"ranked_wins"`
	}

	if err := r.db.QueryWithMetrics(ctx, "stats_get_ratings", &rows, query, userID); err != nil {
		return nil, errors.Wrap(err, "failed to get user ratings")
	}

	out := make(map[domain.Difficulty]domain.DifficultyRating, len(rows))
	for _, row := range rows {
		out[domain.Difficulty(row.Difficulty)] = domain.DifficultyRating{
			Rating:      row.Rating,
			PeakRating:  row.PeakRating,
			RankedGames: row.RankedGames,
			RankedWins:  row.RankedWins,
		}
	}
	return out, nil
}

// Save persists the full stats snapshot, including per-difficulty ratings, inside tx.
func (r *StatsRepository) Save(ctx context.Context, tx sqlx.ExtContext, stats *domain.UserStats) error {
	query := `
		INSERT INTO user_stats (user_id, games_played, games_won, games_lost, problems_solved,
		                         fastest_solve_ms, current_streak, longest_streak, last_played_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			games_played = EXCLUDED.games_played,
			games_won = EXCLUDED.games_won,
			games_lost = EXCLUDED.games_lost,
			problems_solved = EXCLUDED.problems_solved,
			fastest_solve_ms = EXCLUDED.fastest_solve_ms,
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_played_at = EXCLUDED.last_played_at
	`
	if _, err := tx.ExecContext(ctx, query,
		stats.UserID, stats.GamesPlayed, stats.GamesWon, stats.GamesLost, stats.ProblemsSolved,
		stats.FastestSolveMs, stats.CurrentStreak, stats.LongestStreak, stats.LastPlayedAt,
	); err != nil {
		return errors.Wrap(err, "failed to save user_stats")
	}

	for difficulty, rating := range stats.Ratings {
		ratingQuery := `
			INSERT INTO user_ratings (user_id, difficulty, rating, peak_rating, ranked_games, ranked_wins)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, difficulty) DO UPDATE SET
				rating = EXCLUDED.rating,
				peak_rating = EXCLUDED.peak_rating,
				ranked_games = EXCLUDED.ranked_games,
				ranked_wins = EXCLUDED.ranked_wins
		`
		if _, err := tx.ExecContext(ctx, ratingQuery,
			stats.UserID, string(difficulty), rating.Rating, rating.PeakRating, rating.RankedGames, rating.RankedWins,
		); err != nil {
			return errors.Wrap(err, "failed to save user_ratings")
		}
	}

	return nil
}

// GetTopByDifficulty returns the leaderboard for a single difficulty bucket, DB fallback
// for when the Redis-backed cache is cold.
func (r *StatsRepository) GetTopByDifficulty(ctx context.Context, difficulty domain.Difficulty, limit int) ([]*domain.LeaderboardEntry, error) {
	query := `
		SELECT u.id AS user_id, u.display_name, r.rating
		FROM user_ratings r
		JOIN users u ON u.id = r.user_id
		WHERE r.difficulty = $1
		ORDER BY r.rating DESC
		LIMIT $2
	`

	var rows []struct {
		UserID      uuid.UUID `db:"user_id"`
		DisplayName string    `db:"display_name"`
		Rating      int       `db:"rating"`
	}
	if err := r.db.QueryWithMetrics(ctx, "stats_leaderboard", &rows, query, string(difficulty), limit); err != nil {
		return nil, errors.Wrap(err, "failed to get leaderboard")
	}

	entries := make([]*domain.LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		entries = append(entries, &domain.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      row.UserID,
			DisplayName: row.DisplayName,
			Rating:      row.Rating,
		})
	}
	return entries, nil
}
