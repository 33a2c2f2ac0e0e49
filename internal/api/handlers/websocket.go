package handlers

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/bmstu-itstech/bitbattle/internal/api/middleware"
	"github.com/bmstu-itstech/bitbattle/internal/config"
	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/internal/domain/room"
	"github.com/bmstu-itstech/bitbattle/internal/websocket"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/bmstu-itstech/bitbattle/pkg/metrics"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		allowedOrigins := os.Getenv("WEBSOCKET_ALLOWED_ORIGINS")
		if allowedOrigins == "" {
			return true
		}

		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		for _, allowed := range strings.Split(allowedOrigins, ",") {
			if strings.TrimSpace(allowed) == origin {
				return true
			}
		}
		return false
	},
}

// WebSocketHandler обрабатывает игровые и зрительские сокеты
type WebSocketHandler struct {
	registry *room.Registry
	cfg      config.RoomConfig
	metrics  *metrics.Metrics
	sockets  atomic.Int64
	log      *logger.Logger
}

// NewWebSocketHandler создаёт новый WebSocket handler
func NewWebSocketHandler(registry *room.Registry, cfg config.RoomConfig, m *metrics.Metrics, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		cfg:      cfg,
		metrics:  m,
		log:      log,
	}
}

// HandleBattle обрабатывает игровой сокет
// WS /ws?room=<code>&difficulty=<d>&players=<n>&mode=<m>
func (h *WebSocketHandler) HandleBattle(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("room")
	if !room.ValidCode(code) {
		writeError(w, errors.ErrInvalidRoomCode)
		return
	}

	difficulty, ok := parseDifficulty(r.URL.Query().Get("difficulty"))
	if !ok {
		writeError(w, errors.ErrInvalidInput.WithMessage("invalid difficulty"))
		return
	}

	mode, ok := parseGameMode(r.URL.Query().Get("mode"))
	if !ok {
		writeError(w, errors.ErrInvalidInput.WithMessage("invalid mode"))
		return
	}

	players := 2
	if raw := r.URL.Query().Get("players"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 2 || n > 4 {
			writeError(w, errors.ErrInvalidInput.WithMessage("players must be between 2 and 4"))
			return
		}
		players = n
	}

	username, userID := h.identity(r)

	battleRoom, err := h.registry.GetOrCreate(code, room.Options{
		Mode:            mode,
		Difficulty:      difficulty,
		RequiredPlayers: players,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.LogError("Failed to upgrade connection", err, zap.String("room_id", code))
		return
	}

	client := websocket.NewClient(conn, username, false, h.cfg.OutboundQueueSize, h.cfg.CodeChangeRateRPS, h.cfg.CodeChangeBurst, h.log)

	admission, err := battleRoom.Join(client, userID)
	if err != nil {
		h.reject(conn, err)
		return
	}

	h.log.Info("WebSocket connection established",
		zap.String("room_id", code),
		zap.String("username", username),
		zap.Bool("spectator", admission == room.AdmittedSpectator),
	)

	h.attach(client, battleRoom)
}

// HandleSpectate обрабатывает зрительский сокет
// WS /ws/spectate?room=<code>
func (h *WebSocketHandler) HandleSpectate(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("room")
	if !room.ValidCode(code) {
		writeError(w, errors.ErrInvalidRoomCode)
		return
	}

	battleRoom, ok := h.registry.Get(code)
	if !ok {
		writeError(w, errors.ErrRoomNotFound)
		return
	}

	username, _ := h.identity(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.LogError("Failed to upgrade connection", err, zap.String("room_id", code))
		return
	}

	client := websocket.NewClient(conn, username, true, h.cfg.OutboundQueueSize, h.cfg.CodeChangeRateRPS, h.cfg.CodeChangeBurst, h.log)

	if err := battleRoom.Watch(client); err != nil {
		h.reject(conn, err)
		return
	}

	h.attach(client, battleRoom)
}

// identity - имя из токена, query или гостевое
func (h *WebSocketHandler) identity(r *http.Request) (string, *uuid.UUID) {
	if user, ok := middleware.GetUser(r.Context()); ok {
		id := user.ID
		return user.DisplayName, &id
	}
	if username := r.URL.Query().Get("username"); username != "" {
		return username, nil
	}
	return fmt.Sprintf("Guest-%04d", rand.Intn(10000)), nil
}

// reject отправляет кадр отказа до запуска pumps и закрывает соединение
func (h *WebSocketHandler) reject(conn *ws.Conn, err error) {
	appErr := errors.ToAppError(err)

	frameType := websocket.FrameError
	var payload interface{} = websocket.ErrorPayload{Message: appErr.Message, Code: appErr.Code}
	if appErr.Message == errors.ErrRoomFull.Message {
		frameType = websocket.FrameRoomFull
		payload = websocket.RoomFullPayload{Message: appErr.Message}
	}

	_ = conn.WriteJSON(websocket.Frame{Type: frameType, Data: payload})
	_ = conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
	_ = conn.Close()
}

// attach вешает callbacks комнаты и запускает pumps
func (h *WebSocketHandler) attach(client *websocket.Client, battleRoom *room.Room) {
	h.sockets.Add(1)
	h.publishSockets()

	client.OnFrame = func(c *websocket.Client, frameType string, data json.RawMessage) {
		battleRoom.HandleFrame(c, frameType, data)
	}
	client.OnClose = func(c *websocket.Client) {
		battleRoom.HandleDisconnect(c)
		h.sockets.Add(-1)
		h.publishSockets()
	}

	go client.WritePump()
	go client.ReadPump()
}

func (h *WebSocketHandler) publishSockets() {
	if h.metrics != nil {
		h.metrics.SetSocketsActive(int(h.sockets.Load()))
	}
}

// parseDifficulty нормализует сложность из query/body; пустая строка - Any
func parseDifficulty(raw string) (domain.Difficulty, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "any":
		return domain.DifficultyAny, true
	case "easy":
		return domain.DifficultyEasy, true
	case "medium":
		return domain.DifficultyMedium, true
	case "hard":
		return domain.DifficultyHard, true
	default:
		return "", false
	}
}

// parseGameMode нормализует режим; пустая строка - Casual
func parseGameMode(raw string) (domain.GameMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "casual":
		return domain.ModeCasual, true
	case "ranked":
		return domain.ModeRanked, true
	default:
		return "", false
	}
}
