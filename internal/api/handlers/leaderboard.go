package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/internal/infrastructure/cache"
	"github.com/bmstu-itstech/bitbattle/internal/infrastructure/db"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"go.uber.org/zap"
)

const defaultLeaderboardLimit = 50

// LeaderboardHandler отдаёт рейтинговые таблицы по бакетам сложности
type LeaderboardHandler struct {
	lbCache   *cache.LeaderboardCache
	statsRepo *db.StatsRepository
	userRepo  *db.UserRepository
	log       *logger.Logger
}

// NewLeaderboardHandler создаёт новый leaderboard handler
func NewLeaderboardHandler(lbCache *cache.LeaderboardCache, statsRepo *db.StatsRepository, userRepo *db.UserRepository, log *logger.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		lbCache:   lbCache,
		statsRepo: statsRepo,
		userRepo:  userRepo,
		log:       log,
	}
}

// Get возвращает топ рейтинга; Redis сначала, Postgres при холодном кэше
// GET /leaderboard?difficulty=<d>&limit=<n>
func (h *LeaderboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	difficulty, ok := parseDifficulty(r.URL.Query().Get("difficulty"))
	if !ok || difficulty == domain.DifficultyAny {
		difficulty = domain.DifficultyMedium
	}

	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			writeError(w, errors.ErrInvalidInput.WithMessage("limit must be between 1 and 200"))
			return
		}
		limit = n
	}

	entries, err := h.lbCache.GetTop(r.Context(), difficulty, limit)
	if err != nil {
		h.log.LogError("Leaderboard cache read failed", err)
	}

	if len(entries) == 0 {
		entries, err = h.statsRepo.GetTopByDifficulty(r.Context(), difficulty, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		h.backfill(r.Context(), difficulty, entries)
	} else {
		h.hydrateNames(r.Context(), entries)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"difficulty":  difficulty,
		"leaderboard": entries,
		"total":       len(entries),
	})
}

// hydrateNames дополняет записи из Redis отображаемыми именами
func (h *LeaderboardHandler) hydrateNames(ctx context.Context, entries []*domain.LeaderboardEntry) {
	for _, entry := range entries {
		user, err := h.userRepo.GetByID(ctx, entry.UserID)
		if err != nil {
			continue
		}
		entry.DisplayName = user.DisplayName
	}
}

// backfill прогревает Redis после похода в Postgres
func (h *LeaderboardHandler) backfill(ctx context.Context, difficulty domain.Difficulty, entries []*domain.LeaderboardEntry) {
	for _, entry := range entries {
		if err := h.lbCache.UpdateRating(ctx, difficulty, entry.UserID, entry.Rating); err != nil {
			h.log.LogError("Leaderboard backfill failed", err,
				zap.String("user_id", entry.UserID.String()),
			)
			return
		}
	}
}
