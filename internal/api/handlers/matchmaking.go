package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/bmstu-itstech/bitbattle/internal/domain/matchmaker"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/bmstu-itstech/bitbattle/pkg/validator"
)

// MatchmakingHandler обрабатывает очередь подбора соперника
type MatchmakingHandler struct {
	matchmaker *matchmaker.Service
	log        *logger.Logger
}

// NewMatchmakingHandler создаёт новый matchmaking handler
func NewMatchmakingHandler(mm *matchmaker.Service, log *logger.Logger) *MatchmakingHandler {
	return &MatchmakingHandler{
		matchmaker: mm,
		log:        log,
	}
}

// JoinRequest - тело POST /matchmaking/join
type JoinRequest struct {
	Username     string `json:"username"`
	Difficulty   string `json:"difficulty"`
	Mode         string `json:"mode"`
	ConnectionID string `json:"connection_id"`
}

// Join ставит игрока в очередь
// POST /matchmaking/join
func (h *MatchmakingHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.ErrInvalidInput.WithError(err))
		return
	}

	if req.ConnectionID == "" {
		writeError(w, errors.ErrMissingField.WithMessage("connection_id is required"))
		return
	}
	if err := validator.ValidateUsername(req.Username); err != nil {
		writeError(w, errors.ErrValidation.WithError(err))
		return
	}

	difficulty, ok := parseDifficulty(req.Difficulty)
	if !ok {
		writeError(w, errors.ErrInvalidInput.WithMessage("invalid difficulty"))
		return
	}
	mode, ok := parseGameMode(req.Mode)
	if !ok {
		writeError(w, errors.ErrInvalidInput.WithMessage("invalid mode"))
		return
	}

	size := h.matchmaker.Join(r.Context(), req.Username, difficulty, mode, req.ConnectionID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connection_id": req.ConnectionID,
		"queue_size":    size,
	})
}

// LeaveRequest - тело POST /matchmaking/leave
type LeaveRequest struct {
	ConnectionID string `json:"connection_id"`
}

// Leave убирает игрока из очереди; идемпотентно
// POST /matchmaking/leave
func (h *MatchmakingHandler) Leave(w http.ResponseWriter, r *http.Request) {
	var req LeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.ErrInvalidInput.WithError(err))
		return
	}
	if req.ConnectionID == "" {
		writeError(w, errors.ErrMissingField.WithMessage("connection_id is required"))
		return
	}

	h.matchmaker.Leave(req.ConnectionID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// Status возвращает положение игрока в очереди
// GET /matchmaking/status?connection_id=...
func (h *MatchmakingHandler) Status(w http.ResponseWriter, r *http.Request) {
	connectionID := r.URL.Query().Get("connection_id")
	if connectionID == "" {
		writeError(w, errors.ErrMissingField.WithMessage("connection_id is required"))
		return
	}

	writeJSON(w, http.StatusOK, h.matchmaker.Status(connectionID))
}
