package rating

import (
	"context"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// StatsRepository читает и пишет статистику пользователей
type StatsRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserStats, error)
	Save(ctx context.Context, tx sqlx.ExtContext, stats *domain.UserStats) error
}

// GameResultRepository пишет строки результатов игр
type GameResultRepository interface {
	Create(ctx context.Context, tx sqlx.ExtContext, result *domain.GameResult) error
}

// TxRunner выполняет замыкание в одной транзакции; все записи одной игры
// атомарны как группа
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx sqlx.ExtContext) error) error
}

// LeaderboardCache обновляет Redis-таблицу лидеров после успешного коммита
type LeaderboardCache interface {
	UpdateRating(ctx context.Context, difficulty domain.Difficulty, userID uuid.UUID, rating int) error
}

// Service - пост-игровой пайплайн (C6): строки game_results, статистика,
// попарный ELO для Ranked. Вызывается менеджером комнат на завершении партии
// с победителем.
type Service struct {
	calculator  *EloCalculator
	db          TxRunner
	stats       StatsRepository
	results     GameResultRepository
	leaderboard LeaderboardCache
	log         *logger.Logger
}

// NewService создаёт сервис начисления очков
func NewService(db TxRunner, stats StatsRepository, results GameResultRepository, leaderboard LeaderboardCache, log *logger.Logger) *Service {
	return &Service{
		calculator:  NewDefaultEloCalculator(),
		db:          db,
		stats:       stats,
		results:     results,
		leaderboard: leaderboard,
		log:         log,
	}
}

// FinalizeGame записывает итоги партии одной транзакцией и возвращает
// изменения рейтингов по игрокам. При ошибке персистентности возвращается
// ошибка; комната рассылает нулевые изменения, состояние не откатывается.
func (s *Service) FinalizeGame(ctx context.Context, summary *domain.GameSummary) (map[string]domain.RatingChange, error) {
	if len(summary.Standings) == 0 {
		return map[string]domain.RatingChange{}, nil
	}

	// Статистику читаем до транзакции; гости (UserID == nil) получают только
	// строку game_results
	statsByUser := make(map[string]*domain.UserStats)
	for _, st := range summary.Standings {
		if st.UserID == nil {
			continue
		}
		stats, err := s.stats.GetByUserID(ctx, *st.UserID)
		if err != nil {
			return zeroChanges(summary), errors.Wrap(err, "failed to load user stats")
		}
		statsByUser[st.Username] = stats
	}

	changes := s.applyRatings(summary, statsByUser)
	s.applyOverallStats(summary, statsByUser)

	if err := s.persist(ctx, summary, statsByUser, changes); err != nil {
		return zeroChanges(summary), err
	}

	s.updateLeaderboard(ctx, summary, statsByUser)

	s.log.Info("Game finalized",
		zap.String("room_id", summary.RoomCode),
		zap.String("mode", string(summary.Mode)),
		zap.String("difficulty", string(summary.Difficulty)),
		zap.Int("players", len(summary.Standings)),
	)

	return changes, nil
}

// applyRatings считает попарный ELO победителя против каждого проигравшего
// на рейтингах до партии и обновляет бакеты сложности
func (s *Service) applyRatings(summary *domain.GameSummary, statsByUser map[string]*domain.UserStats) map[string]domain.RatingChange {
	changes := zeroChanges(summary)
	if summary.Mode != domain.ModeRanked {
		return changes
	}

	winner := summary.Standings[0]
	winnerStats, winnerRanked := statsByUser[winner.Username]
	if !winnerRanked {
		return changes
	}

	preGame := make(map[string]int, len(statsByUser))
	for username, stats := range statsByUser {
		preGame[username] = stats.Ratings[summary.Difficulty].Rating
	}

	winnerDelta := 0
	for _, loser := range summary.Standings[1:] {
		loserStats, ok := statsByUser[loser.Username]
		if !ok {
			continue
		}

		winnerDelta += s.calculator.CalculateRatingChange(preGame[winner.Username], preGame[loser.Username], 1.0)
		loserDelta := s.calculator.CalculateRatingChange(preGame[loser.Username], preGame[winner.Username], 0.0)

		loserBucket := loserStats.Ratings[summary.Difficulty]
		oldLoser := loserBucket.Rating
		loserBucket.Rating += loserDelta
		loserBucket.RankedGames++
		loserStats.Ratings[summary.Difficulty] = loserBucket

		changes[loser.Username] = domain.RatingChange{
			OldRating: oldLoser,
			NewRating: loserBucket.Rating,
			Change:    loserDelta,
		}
	}

	winnerBucket := winnerStats.Ratings[summary.Difficulty]
	oldWinner := winnerBucket.Rating
	winnerBucket.Rating += winnerDelta
	if winnerBucket.Rating > winnerBucket.PeakRating {
		winnerBucket.PeakRating = winnerBucket.Rating
	}
	winnerBucket.RankedGames++
	winnerBucket.RankedWins++
	winnerStats.Ratings[summary.Difficulty] = winnerBucket

	changes[winner.Username] = domain.RatingChange{
		OldRating: oldWinner,
		NewRating: winnerBucket.Rating,
		Change:    winnerDelta,
	}

	return changes
}

// applyOverallStats обновляет общую статистику: победы, серии, лучшее время
func (s *Service) applyOverallStats(summary *domain.GameSummary, statsByUser map[string]*domain.UserStats) {
	now := time.Now()
	winner := summary.Standings[0].Username

	for _, st := range summary.Standings {
		stats, ok := statsByUser[st.Username]
		if !ok {
			continue
		}

		stats.GamesPlayed++
		stats.LastPlayedAt = &now

		if st.Username == winner {
			stats.GamesWon++
			stats.ProblemsSolved++
			stats.CurrentStreak++
			if stats.CurrentStreak > stats.LongestStreak {
				stats.LongestStreak = stats.CurrentStreak
			}
			if st.SolveTimeMs != nil && (stats.FastestSolveMs == nil || *st.SolveTimeMs < *stats.FastestSolveMs) {
				t := *st.SolveTimeMs
				stats.FastestSolveMs = &t
			}
		} else {
			stats.GamesLost++
			stats.CurrentStreak = 0
		}
	}
}

// persist пишет все строки одной игры в одной транзакции
func (s *Service) persist(ctx context.Context, summary *domain.GameSummary, statsByUser map[string]*domain.UserStats, changes map[string]domain.RatingChange) error {
	err := s.db.WithinTx(ctx, func(tx sqlx.ExtContext) error {
		for _, st := range summary.Standings {
			row := &domain.GameResult{
				ID:           uuid.New(),
				RoomID:       summary.RoomCode,
				ProblemID:    summary.Problem.ID,
				UserID:       st.UserID,
				Username:     st.Username,
				Placement:    st.Placement,
				TotalPlayers: len(summary.Standings),
				SolveTimeMs:  st.SolveTimeMs,
				PassedTests:  st.PassedTests,
				TotalTests:   st.TotalTests,
				Language:     st.Language,
				GameMode:     summary.Mode,
				Difficulty:   summary.Difficulty,
				RatingChange: changes[st.Username].Change,
			}
			if err := s.results.Create(ctx, tx, row); err != nil {
				return err
			}
		}

		for _, stats := range statsByUser {
			if err := s.stats.Save(ctx, tx, stats); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to persist game results")
	}
	return nil
}

// updateLeaderboard - best-effort обновление Redis после коммита
func (s *Service) updateLeaderboard(ctx context.Context, summary *domain.GameSummary, statsByUser map[string]*domain.UserStats) {
	if s.leaderboard == nil || summary.Mode != domain.ModeRanked {
		return
	}
	for _, stats := range statsByUser {
		rating := stats.Ratings[summary.Difficulty].Rating
		if err := s.leaderboard.UpdateRating(ctx, summary.Difficulty, stats.UserID, rating); err != nil {
			s.log.LogError("Failed to update leaderboard cache", err,
				zap.String("user_id", stats.UserID.String()),
			)
		}
	}
}

// zeroChanges - нулевые изменения для каждого участника
func zeroChanges(summary *domain.GameSummary) map[string]domain.RatingChange {
	changes := make(map[string]domain.RatingChange, len(summary.Standings))
	for _, st := range summary.Standings {
		changes[st.Username] = domain.RatingChange{}
	}
	return changes
}

// CalculateExpectedScore - ожидаемый результат пары рейтингов
func (s *Service) CalculateExpectedScore(rating1, rating2 int) float64 {
	return s.calculator.CalculateExpectedScore(rating1, rating2)
}
