package cache

import (
	"context"
	"fmt"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/pkg/metrics"
	"github.com/google/uuid"
)

// LeaderboardCache - кэш таблиц лидеров: по одному sorted set на сложность
type LeaderboardCache struct {
	cache   *Cache
	metrics *metrics.Metrics
}

// NewLeaderboardCache создаёт новый кэш для leaderboard
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{
		cache:   cache,
		metrics: nil, // metrics опциональны
	}
}

// WithMetrics добавляет метрики в кэш
func (lc *LeaderboardCache) WithMetrics(m *metrics.Metrics) *LeaderboardCache {
	lc.metrics = m
	return lc
}

// getKey возвращает ключ leaderboard для бакета сложности
func (lc *LeaderboardCache) getKey(difficulty domain.Difficulty) string {
	return fmt.Sprintf("leaderboard:%s", difficulty)
}

// UpdateRating обновляет рейтинг пользователя в бакете сложности
func (lc *LeaderboardCache) UpdateRating(ctx context.Context, difficulty domain.Difficulty, userID uuid.UUID, rating int) error {
	key := lc.getKey(difficulty)
	return lc.cache.ZAdd(ctx, key, float64(rating), userID.String())
}

// GetTop получает топ N пользователей бакета; nil при холодном кэше
func (lc *LeaderboardCache) GetTop(ctx context.Context, difficulty domain.Difficulty, limit int) ([]*domain.LeaderboardEntry, error) {
	key := lc.getKey(difficulty)
	results, err := lc.cache.ZRevRangeWithScores(ctx, key, 0, int64(limit-1))
	if err != nil {
		return nil, err
	}

	// Если пустой результат - cache miss
	if len(results) == 0 {
		if lc.metrics != nil {
			lc.metrics.RecordCacheMiss("leaderboard")
		}
		return nil, nil
	}

	// Cache hit
	if lc.metrics != nil {
		lc.metrics.RecordCacheHit("leaderboard")
	}

	entries := make([]*domain.LeaderboardEntry, 0, len(results))
	for i, result := range results {
		userID, err := uuid.Parse(result.Member.(string))
		if err != nil {
			continue
		}

		entries = append(entries, &domain.LeaderboardEntry{
			Rank:   i + 1,
			UserID: userID,
			Rating: int(result.Score),
		})
	}

	return entries, nil
}

// Remove удаляет пользователя из бакета
func (lc *LeaderboardCache) Remove(ctx context.Context, difficulty domain.Difficulty, userID uuid.UUID) error {
	key := lc.getKey(difficulty)
	return lc.cache.ZRem(ctx, key, userID.String())
}

// Clear очищает leaderboard бакета
func (lc *LeaderboardCache) Clear(ctx context.Context, difficulty domain.Difficulty) error {
	key := lc.getKey(difficulty)
	return lc.cache.Del(ctx, key)
}
