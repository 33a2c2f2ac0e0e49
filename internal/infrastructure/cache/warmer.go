package cache

import (
	"context"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"go.uber.org/zap"
)

// LeaderboardSource отдаёт авторитетные топы рейтингов из Postgres
type LeaderboardSource interface {
	GetTopByDifficulty(ctx context.Context, difficulty domain.Difficulty, limit int) ([]*domain.LeaderboardEntry, error)
}

// leaderboardWarmupDepth - сколько строк каждого бакета держим горячими
const leaderboardWarmupDepth = 100

// CacheWarmer - сервис для прогрева кэша: Redis-таблицы лидеров по каждому
// бакету сложности периодически пересобираются из авторитетного стора
type CacheWarmer struct {
	leaderboardCache *LeaderboardCache
	source           LeaderboardSource
	log              *logger.Logger
	warmupInterval   time.Duration
	stopChan         chan struct{}
}

// NewCacheWarmer создаёт новый warmer
func NewCacheWarmer(
	leaderboardCache *LeaderboardCache,
	source LeaderboardSource,
	log *logger.Logger,
	warmupInterval time.Duration,
) *CacheWarmer {
	return &CacheWarmer{
		leaderboardCache: leaderboardCache,
		source:           source,
		log:              log,
		warmupInterval:   warmupInterval,
		stopChan:         make(chan struct{}),
	}
}

// Start запускает периодический прогрев кэша
func (cw *CacheWarmer) Start(ctx context.Context) {
	// Первый прогрев сразу при старте
	if err := cw.WarmUp(ctx); err != nil {
		cw.log.LogError("Initial cache warmup failed", err)
	}

	// Периодический прогрев
	ticker := time.NewTicker(cw.warmupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := cw.WarmUp(ctx); err != nil {
				cw.log.LogError("Scheduled cache warmup failed", err)
			}
		case <-cw.stopChan:
			cw.log.Info("Cache warmer stopped")
			return
		case <-ctx.Done():
			cw.log.Info("Cache warmer context cancelled")
			return
		}
	}
}

// Stop останавливает прогрев кэша
func (cw *CacheWarmer) Stop() {
	close(cw.stopChan)
}

// WarmUp выполняет полный прогрев кэша
func (cw *CacheWarmer) WarmUp(ctx context.Context) error {
	start := time.Now()
	cw.log.Info("Starting cache warmup")

	totalEntries := 0
	for _, difficulty := range []domain.Difficulty{domain.DifficultyEasy, domain.DifficultyMedium, domain.DifficultyHard} {
		entries, err := cw.source.GetTopByDifficulty(ctx, difficulty, leaderboardWarmupDepth)
		if err != nil {
			cw.log.LogError("Failed to load leaderboard for warmup", err,
				zap.String("difficulty", string(difficulty)),
			)
			continue
		}

		// Загружаем в Redis sorted set
		for _, entry := range entries {
			if err := cw.leaderboardCache.UpdateRating(ctx, difficulty, entry.UserID, entry.Rating); err != nil {
				cw.log.LogError("Failed to cache leaderboard entry", err)
			}
		}
		totalEntries += len(entries)
	}

	cw.log.Info("Cache warmup completed",
		zap.Int("entries", totalEntries),
		zap.Duration("duration", time.Since(start)),
	)

	return nil
}
