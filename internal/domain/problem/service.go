package problem

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository - авторитетное хранилище задач
type Repository interface {
	ListAll(ctx context.Context) ([]*domain.Problem, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Problem, error)
}

// History отдаёт задачи, недавно сыгранные перечисленными игроками
type History interface {
	RecentProblemIDsByUsers(ctx context.Context, usernames []string, limit int) ([]uuid.UUID, error)
}

// recentHistoryDepth ограничивает глубину истории при исключении повторов
const recentHistoryDepth = 50

// Service держит тёплое зеркало каталога задач поверх Postgres.
// Задачи неизменяемы, поэтому зеркало достаточно периодически перечитывать.
type Service struct {
	repo    Repository
	history History
	log     *logger.Logger

	mu       sync.RWMutex
	problems []*domain.Problem
	byID     map[uuid.UUID]*domain.Problem
}

// NewService создаёт новый сервис задач
func NewService(repo Repository, history History, log *logger.Logger) *Service {
	return &Service{
		repo:    repo,
		history: history,
		log:     log,
		byID:    make(map[uuid.UUID]*domain.Problem),
	}
}

// WarmUp загружает каталог целиком; вызывается на старте до приёма соединений
func (s *Service) WarmUp(ctx context.Context) error {
	problems, err := s.repo.ListAll(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to warm problem cache")
	}

	byID := make(map[uuid.UUID]*domain.Problem, len(problems))
	for _, p := range problems {
		byID[p.ID] = p
	}

	s.mu.Lock()
	s.problems = problems
	s.byID = byID
	s.mu.Unlock()

	s.log.Info("Problem cache warmed", zap.Int("count", len(problems)))
	return nil
}

// Start периодически перечитывает каталог, пока ctx жив
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.WarmUp(ctx); err != nil {
				s.log.LogError("Problem cache refresh failed", err)
			}
		}
	}
}

// Get возвращает задачу по ID из кэша, с фолбэком в БД при промахе
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Problem, error) {
	s.mu.RLock()
	p, ok := s.byID[id]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}
	return s.repo.GetByID(ctx, id)
}

// Choose выбирает равномерно случайную задачу под фильтр сложности, не входящую
// в excluding. Если после исключения ничего не остаётся, фолбэк на весь
// отфильтрованный набор.
func (s *Service) Choose(difficulty domain.Difficulty, excluding map[uuid.UUID]struct{}) (*domain.Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matching := make([]*domain.Problem, 0, len(s.problems))
	for _, p := range s.problems {
		if difficulty != domain.DifficultyAny && p.Difficulty != difficulty {
			continue
		}
		matching = append(matching, p)
	}
	if len(matching) == 0 {
		return nil, errors.ErrProblemNotFound.WithMessage("no problems match difficulty filter")
	}

	fresh := make([]*domain.Problem, 0, len(matching))
	for _, p := range matching {
		if _, seen := excluding[p.ID]; !seen {
			fresh = append(fresh, p)
		}
	}
	if len(fresh) == 0 {
		fresh = matching
	}

	return fresh[rand.Intn(len(fresh))], nil
}

// ChooseForUsers выбирает задачу для комнаты, исключая объединение недавней
// истории всех её участников
func (s *Service) ChooseForUsers(ctx context.Context, difficulty domain.Difficulty, usernames []string) (*domain.Problem, error) {
	excluding := make(map[uuid.UUID]struct{})
	if s.history != nil && len(usernames) > 0 {
		ids, err := s.history.RecentProblemIDsByUsers(ctx, usernames, recentHistoryDepth)
		if err != nil {
			// История - оптимизация против повторов, не условие выбора
			s.log.LogError("Failed to load recent problem history", err)
		}
		for _, id := range ids {
			excluding[id] = struct{}{}
		}
	}
	return s.Choose(difficulty, excluding)
}

// Count возвращает размер тёплого каталога
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.problems)
}
