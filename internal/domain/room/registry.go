package room

import (
	"context"
	"sync"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/config"
	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/bmstu-itstech/bitbattle/pkg/metrics"
	"go.uber.org/zap"
)

// Options задаёт параметры комнаты при её создании
type Options struct {
	Mode            domain.GameMode
	Difficulty      domain.Difficulty
	RequiredPlayers int
}

// Registry владеет всеми живыми комнатами: код -> handle. Создание комнаты -
// check-then-insert под мьютексом, поэтому на один код поднимается ровно один
// single-writer.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	problems ProblemPicker
	scorer   Scorer
	codes    *CodeAllocator
	cfg      config.RoomConfig
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// NewRegistry создаёт пустой реестр комнат
func NewRegistry(problems ProblemPicker, scorer Scorer, codes *CodeAllocator, cfg config.RoomConfig, log *logger.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		problems: problems,
		scorer:   scorer,
		codes:    codes,
		cfg:      cfg,
		log:      log,
		metrics:  m,
	}
}

// GetOrCreate возвращает комнату по коду, создавая её при первом обращении
func (g *Registry) GetOrCreate(code string, opts Options) (*Room, error) {
	if !ValidCode(code) {
		return nil, errors.ErrInvalidRoomCode
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if room, ok := g.rooms[code]; ok {
		return room, nil
	}

	room := g.create(code, opts)
	return room, nil
}

// Get возвращает существующую комнату
func (g *Registry) Get(code string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[code]
	return room, ok
}

// CreateMatched поднимает комнату для пары из матчмейкера со свежим кодом
func (g *Registry) CreateMatched(ctx context.Context, mode domain.GameMode, difficulty domain.Difficulty) (*Room, error) {
	for attempt := 0; attempt < 10; attempt++ {
		code := GenerateCode()

		g.mu.Lock()
		if _, taken := g.rooms[code]; taken {
			g.mu.Unlock()
			continue
		}
		g.mu.Unlock()

		if !g.codes.Reserve(ctx, code) {
			continue
		}

		g.mu.Lock()
		if _, taken := g.rooms[code]; taken {
			g.mu.Unlock()
			continue
		}
		room := g.create(code, Options{Mode: mode, Difficulty: difficulty, RequiredPlayers: 2})
		g.mu.Unlock()
		return room, nil
	}
	return nil, errors.ErrInternal.WithMessage("failed to allocate a room code")
}

// create вызывается под g.mu
func (g *Registry) create(code string, opts Options) *Room {
	room := New(code, opts.Mode, opts.Difficulty, opts.RequiredPlayers, g.cfg, g.problems, g.scorer, g.release, g.log)
	g.rooms[code] = room
	if g.metrics != nil {
		g.metrics.SetRoomsActive(len(g.rooms))
	}
	g.log.Info("Room created",
		zap.String("room_id", code),
		zap.String("mode", string(opts.Mode)),
		zap.String("difficulty", string(opts.Difficulty)),
	)
	return room
}

// release убирает комнату из реестра; вызывается самой комнатой по истечении grace
func (g *Registry) release(code string) {
	g.mu.Lock()
	delete(g.rooms, code)
	count := len(g.rooms)
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	g.codes.Release(ctx, code)

	if g.metrics != nil {
		g.metrics.SetRoomsActive(count)
	}
}

// PostSubmissionResult реализует submission.RoomNotifier: поздний результат
// уже освобождённой комнаты сбрасывается
func (g *Registry) PostSubmissionResult(sub *domain.Submission, result *domain.SubmissionResult) {
	room, ok := g.Get(sub.RoomCode)
	if !ok {
		g.log.Debug("Discarding submission result for released room",
			zap.String("room_id", sub.RoomCode),
			zap.String("username", sub.Username),
		)
		return
	}
	room.PostResult(sub, result)
}

// LiveGame - одна играющая комната для /rooms/live
type LiveGame struct {
	RoomID         string          `json:"room_id"`
	Players        []string        `json:"players"`
	PlayerCount    int             `json:"player_count"`
	SpectatorCount int             `json:"spectator_count"`
	GameMode       domain.GameMode `json:"game_mode"`
	Problem        *LiveProblem    `json:"problem,omitempty"`
	GameEnded      bool            `json:"game_ended"`
	ElapsedSeconds int64           `json:"elapsed_seconds"`
}

// LiveProblem - усечённая задача для списка живых игр
type LiveProblem struct {
	Title      string            `json:"title"`
	Difficulty domain.Difficulty `json:"difficulty"`
}

// Live перечисляет комнаты в фазе Playing
func (g *Registry) Live() []LiveGame {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.RUnlock()

	games := make([]LiveGame, 0, len(rooms))
	for _, room := range rooms {
		snap := room.Snapshot()
		if snap.Phase != domain.PhasePlaying {
			continue
		}

		game := LiveGame{
			RoomID:         snap.Code,
			Players:        snap.Players,
			PlayerCount:    len(snap.Players),
			SpectatorCount: snap.SpectatorCount,
			GameMode:       snap.Mode,
			GameEnded:      false,
			ElapsedSeconds: int64(time.Since(snap.StartedAt).Seconds()),
		}
		if snap.Problem != nil {
			game.Problem = &LiveProblem{
				Title:      snap.Problem.Title,
				Difficulty: snap.Problem.Difficulty,
			}
		}
		games = append(games, game)
	}
	return games
}

// Count возвращает число живых комнат
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}
