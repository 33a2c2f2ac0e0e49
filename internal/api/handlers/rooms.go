package handlers

import (
	"net/http"

	"github.com/bmstu-itstech/bitbattle/internal/domain/room"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
)

// RoomsHandler отдаёт живые комнаты
type RoomsHandler struct {
	registry *room.Registry
	log      *logger.Logger
}

// NewRoomsHandler создаёт новый rooms handler
func NewRoomsHandler(registry *room.Registry, log *logger.Logger) *RoomsHandler {
	return &RoomsHandler{
		registry: registry,
		log:      log,
	}
}

// Live перечисляет комнаты в фазе Playing
// GET /rooms/live
func (h *RoomsHandler) Live(w http.ResponseWriter, r *http.Request) {
	games := h.registry.Live()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"live_games": games,
		"total":      len(games),
	})
}
