package matchmaker

import (
	"context"
	"sync"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/bmstu-itstech/bitbattle/pkg/metrics"
	"go.uber.org/zap"
)

// RoomCreator поднимает комнату для спаренных игроков и возвращает её код
type RoomCreator interface {
	CreateMatched(ctx context.Context, mode domain.GameMode, difficulty domain.Difficulty) (string, error)
}

// Status - ответ на опрос очереди. MatchFound возвращается ровно один раз,
// после чего запись игрока очищается.
type Status struct {
	InQueue    bool              `json:"in_queue"`
	Position   int               `json:"position"`
	QueueSize  int               `json:"queue_size"`
	MatchFound bool              `json:"match_found"`
	MatchInfo  *domain.MatchInfo `json:"match_info,omitempty"`
}

// Service - in-memory FIFO матчмейкер. Записи с difficulty=Any совместимы с
// любым бакетом своего режима. Одна запись на connection_id; повторный join
// замещает предыдущую.
type Service struct {
	mu      sync.Mutex
	entries map[string]*domain.MatchmakingEntry // по connection_id
	order   []string                            // connection_id в порядке постановки
	matches map[string]*domain.MatchInfo        // найденные пары, ждущие первого опроса

	rooms   RoomCreator
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewService создаёт матчмейкер
func NewService(rooms RoomCreator, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		entries: make(map[string]*domain.MatchmakingEntry),
		matches: make(map[string]*domain.MatchInfo),
		rooms:   rooms,
		log:     log,
		metrics: m,
	}
}

// Start крутит таймер матчинга, пока ctx жив. Матчинг также срабатывает
// оппортунистически на каждом Join.
func (s *Service) Start(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Match(ctx)
		}
	}
}

// Join ставит игрока в очередь; повторный join того же соединения замещает
// запись. Возвращает размер совместимой очереди.
func (s *Service) Join(ctx context.Context, username string, difficulty domain.Difficulty, mode domain.GameMode, connectionID string) int {
	s.mu.Lock()

	if _, ok := s.entries[connectionID]; ok {
		s.removeLocked(connectionID)
	}
	delete(s.matches, connectionID)

	entry := &domain.MatchmakingEntry{
		ConnectionID: connectionID,
		Username:     username,
		Difficulty:   difficulty,
		Mode:         mode,
		EnqueuedAt:   time.Now(),
	}
	s.entries[connectionID] = entry
	s.order = append(s.order, connectionID)
	size := s.bucketSizeLocked(entry)
	s.publishLocked()
	s.mu.Unlock()

	s.log.Info("Player joined matchmaking",
		zap.String("connection_id", connectionID),
		zap.String("username", username),
		zap.String("difficulty", string(difficulty)),
		zap.String("mode", string(mode)),
	)

	s.Match(ctx)
	return size
}

// Leave убирает запись, если она есть; идемпотентно
func (s *Service) Leave(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(connectionID)
	delete(s.matches, connectionID)
	s.publishLocked()
}

// Status возвращает положение игрока в очереди. Найденный матч отдаётся
// ровно один раз.
func (s *Service) Status(connectionID string) *Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if info, ok := s.matches[connectionID]; ok {
		delete(s.matches, connectionID)
		return &Status{MatchFound: true, MatchInfo: info}
	}

	entry, ok := s.entries[connectionID]
	if !ok {
		return &Status{}
	}

	return &Status{
		InQueue:   true,
		Position:  s.positionLocked(entry),
		QueueSize: s.bucketSizeLocked(entry),
	}
}

// Match спаривает совместимые пары, пока они есть
func (s *Service) Match(ctx context.Context) {
	for s.matchOne(ctx) {
	}
}

// matchOne находит и обрабатывает одну пару; true - пара была
func (s *Service) matchOne(ctx context.Context) bool {
	s.mu.Lock()

	var first, second *domain.MatchmakingEntry
	for i := 0; i < len(s.order) && second == nil; i++ {
		first = s.entries[s.order[i]]
		if first == nil {
			continue
		}
		for j := i + 1; j < len(s.order); j++ {
			candidate := s.entries[s.order[j]]
			if candidate == nil {
				continue
			}
			if compatible(first, candidate) {
				second = candidate
				break
			}
		}
	}

	if second == nil {
		s.mu.Unlock()
		return false
	}

	difficulty := concreteDifficulty(first, second)
	mode := first.Mode

	s.removeLocked(first.ConnectionID)
	s.removeLocked(second.ConnectionID)
	s.publishLocked()
	s.mu.Unlock()

	code, err := s.rooms.CreateMatched(ctx, mode, difficulty)
	if err != nil {
		// Комнату поднять не вышло - возвращаем обоих в начало очереди
		s.log.LogError("Failed to create matched room", err)
		s.requeue(first, second)
		return false
	}

	s.mu.Lock()
	s.matches[first.ConnectionID] = &domain.MatchInfo{
		RoomCode:   code,
		Opponent:   second.Username,
		Difficulty: difficulty,
		Mode:       mode,
	}
	s.matches[second.ConnectionID] = &domain.MatchInfo{
		RoomCode:   code,
		Opponent:   first.Username,
		Difficulty: difficulty,
		Mode:       mode,
	}
	s.mu.Unlock()

	s.log.Info("Match found",
		zap.String("room_id", code),
		zap.String("player1", first.Username),
		zap.String("player2", second.Username),
		zap.String("difficulty", string(difficulty)),
		zap.String("mode", string(mode)),
	)
	return true
}

// compatible - один режим, совместимая сложность, разные игроки
func compatible(a, b *domain.MatchmakingEntry) bool {
	if a.Mode != b.Mode {
		return false
	}
	if a.Username == b.Username {
		return false
	}
	if a.Difficulty == domain.DifficultyAny || b.Difficulty == domain.DifficultyAny {
		return true
	}
	return a.Difficulty == b.Difficulty
}

// concreteDifficulty - сложность старшего по очереди, если выбрана; иначе Medium
func concreteDifficulty(first, second *domain.MatchmakingEntry) domain.Difficulty {
	if first.Difficulty != domain.DifficultyAny {
		return first.Difficulty
	}
	if second.Difficulty != domain.DifficultyAny {
		return second.Difficulty
	}
	return domain.DifficultyMedium
}

func (s *Service) requeue(entries ...*domain.MatchmakingEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	front := make([]string, 0, len(entries))
	for _, entry := range entries {
		if _, ok := s.entries[entry.ConnectionID]; !ok {
			s.entries[entry.ConnectionID] = entry
			front = append(front, entry.ConnectionID)
		}
	}
	s.order = append(front, s.order...)
	s.publishLocked()
}

// removeLocked вызывается под s.mu
func (s *Service) removeLocked(connectionID string) {
	if _, ok := s.entries[connectionID]; !ok {
		return
	}
	delete(s.entries, connectionID)
	for i, id := range s.order {
		if id == connectionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// bucketSizeLocked - размер очереди, совместимой с entry; вызывается под s.mu
func (s *Service) bucketSizeLocked(entry *domain.MatchmakingEntry) int {
	size := 0
	for _, other := range s.entries {
		if other.Mode != entry.Mode {
			continue
		}
		if entry.Difficulty == domain.DifficultyAny || other.Difficulty == domain.DifficultyAny || other.Difficulty == entry.Difficulty {
			size++
		}
	}
	return size
}

// positionLocked - FIFO позиция entry в его бакете, с единицы; под s.mu
func (s *Service) positionLocked(entry *domain.MatchmakingEntry) int {
	position := 0
	for _, id := range s.order {
		other := s.entries[id]
		if other == nil || other.Mode != entry.Mode {
			continue
		}
		if entry.Difficulty == domain.DifficultyAny || other.Difficulty == domain.DifficultyAny || other.Difficulty == entry.Difficulty {
			position++
		}
		if id == entry.ConnectionID {
			return position
		}
	}
	return position
}

// publishLocked обновляет gauges бакетов; вызывается под s.mu
func (s *Service) publishLocked() {
	if s.metrics == nil {
		return
	}
	counts := make(map[[2]string]int)
	for _, entry := range s.entries {
		counts[[2]string{string(entry.Difficulty), string(entry.Mode)}]++
	}
	for _, difficulty := range []domain.Difficulty{domain.DifficultyEasy, domain.DifficultyMedium, domain.DifficultyHard, domain.DifficultyAny} {
		for _, mode := range []domain.GameMode{domain.ModeCasual, domain.ModeRanked} {
			s.metrics.SetMatchmakerQueueSize(string(difficulty), string(mode), counts[[2]string{string(difficulty), string(mode)}])
		}
	}
}

// Size возвращает общее число ожидающих записей
func (s *Service) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
