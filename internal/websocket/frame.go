package websocket

import (
	"encoding/json"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/google/uuid"
)

// Frame - один WebSocket кадр протокола: {"type": <kind>, "data": <object>}
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// InboundFrame - входящий кадр до разбора payload
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Виды кадров
const (
	FrameUserJoined       = "user_joined"
	FrameUserLeft         = "user_left"
	FrameCodeChange       = "code_change"
	FramePlayerCount      = "player_count"
	FrameProblemAssigned  = "problem_assigned"
	FrameGameStart        = "game_start"
	FrameSubmissionResult = "submission_result"
	FrameGameOver         = "game_over"
	FrameRoomFull         = "room_full"
	FrameSpectateInit     = "spectate_init"
	FrameError            = "error"
)

// UserJoinedPayload - участник вошёл в комнату
type UserJoinedPayload struct {
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

// UserLeftPayload - участник покинул комнату
type UserLeftPayload struct {
	Username string `json:"username"`
}

// CodeChangePayload - last-writer-wins снимок кода участника
type CodeChangePayload struct {
	Username  string `json:"username"`
	Code      string `json:"code"`
	Timestamp int64  `json:"timestamp"`
}

// PlayerCountPayload - текущее/требуемое число участников
type PlayerCountPayload struct {
	Current  int `json:"current"`
	Required int `json:"required"`
}

// ProblemAssignedPayload несёт задачу без скрытых тестов
type ProblemAssignedPayload struct {
	Problem *domain.Problem `json:"problem"`
}

// SubmissionResultPayload - результат прогона отправки
type SubmissionResultPayload struct {
	Result *domain.SubmissionResult `json:"result"`
}

// GameOverPayload завершает партию для всех сокетов комнаты
type GameOverPayload struct {
	Winner        *string                        `json:"winner"`
	SolveTimeMs   *int64                         `json:"solve_time_ms,omitempty"`
	ProblemID     *uuid.UUID                     `json:"problem_id,omitempty"`
	Difficulty    domain.Difficulty              `json:"difficulty"`
	GameMode      domain.GameMode                `json:"game_mode"`
	Players       []string                       `json:"players"`
	RatingChanges map[string]domain.RatingChange `json:"rating_changes"`
}

// RoomFullPayload - отказ в допуске на игровой путь
type RoomFullPayload struct {
	Message string `json:"message"`
}

// SpectateInitPayload - синхронный снимок комнаты для зрителя
type SpectateInitPayload struct {
	RoomID         string            `json:"room_id"`
	Players        []string          `json:"players"`
	GameMode       domain.GameMode   `json:"game_mode"`
	GameStarted    bool              `json:"game_started"`
	GameEnded      bool              `json:"game_ended"`
	Winner         *string           `json:"winner,omitempty"`
	Problem        *domain.Problem   `json:"problem,omitempty"`
	PlayerCodes    map[string]string `json:"player_codes"`
	SpectatorCount int               `json:"spectator_count"`
}

// ErrorPayload - ошибка уровня протокола
type ErrorPayload struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Marshal сериализует кадр; ошибки сериализации здесь - программные
func Marshal(frameType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Frame{Type: frameType, Data: payload})
}
