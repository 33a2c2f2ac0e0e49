package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/config"
	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/internal/domain/problem"
	"github.com/bmstu-itstech/bitbattle/internal/domain/room"
	"github.com/bmstu-itstech/bitbattle/internal/domain/submission"
	"github.com/bmstu-itstech/bitbattle/internal/infrastructure/sandbox"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubmitHandler принимает отправки решений
type SubmitHandler struct {
	registry *room.Registry
	problems *problem.Service
	pipeline *submission.Pipeline
	sandbox  config.SandboxConfig
	log      *logger.Logger
}

// NewSubmitHandler создаёт новый submit handler
func NewSubmitHandler(registry *room.Registry, problems *problem.Service, pipeline *submission.Pipeline, sandboxCfg config.SandboxConfig, log *logger.Logger) *SubmitHandler {
	return &SubmitHandler{
		registry: registry,
		problems: problems,
		pipeline: pipeline,
		sandbox:  sandboxCfg,
		log:      log,
	}
}

// SubmitRequest - тело POST /submit
type SubmitRequest struct {
	Username  string    `json:"username"`
	ProblemID uuid.UUID `json:"problem_id"`
	Code      string    `json:"code"`
	Language  string    `json:"language"`
	RoomID    string    `json:"room_id"`
}

// Submit прогоняет отправку через пайплайн и возвращает результат
// POST /submit
func (h *SubmitHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.ErrInvalidInput.WithError(err))
		return
	}

	sub := &domain.Submission{
		Username:   req.Username,
		RoomCode:   req.RoomID,
		ProblemID:  req.ProblemID,
		Language:   req.Language,
		Source:     req.Code,
		ReceivedAt: time.Now(),
	}
	if err := sub.Validate(); err != nil {
		writeError(w, errors.ErrValidation.WithError(err))
		return
	}
	if !sandbox.SupportedLanguage(sub.Language) {
		writeError(w, errors.ErrInvalidInput.WithMessage("unsupported language"))
		return
	}

	battleRoom, ok := h.registry.Get(sub.RoomCode)
	if !ok {
		writeError(w, errors.ErrRoomNotFound)
		return
	}

	snap := battleRoom.Snapshot()
	if snap.Phase != domain.PhasePlaying {
		writeError(w, errors.ErrRoomNotPlaying)
		return
	}
	if !contains(snap.Players, sub.Username) {
		writeError(w, errors.ErrForbidden.WithMessage("not a participant of this room"))
		return
	}
	if snap.Problem == nil || snap.Problem.ID != sub.ProblemID {
		writeError(w, errors.ErrConflict.WithMessage("problem does not match the room's assignment"))
		return
	}

	prob, err := h.problems.Get(r.Context(), sub.ProblemID)
	if err != nil {
		writeError(w, err)
		return
	}

	// Отключение клиента не отменяет уже идущий прогон: результат обязан
	// дойти до комнаты. Дедлайн - все тесты по wall limit плюс запас.
	deadline := time.Duration(len(prob.HiddenTests))*h.sandbox.WallTimeout + 30*time.Second
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), deadline)
	defer cancel()

	result, err := h.pipeline.Submit(ctx, sub, prob)
	if err != nil {
		h.log.LogError("Submission pipeline failed", err,
			zap.String("room_id", sub.RoomCode),
			zap.String("username", sub.Username),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func contains(items []string, needle string) bool {
	for _, item := range items {
		if item == needle {
			return true
		}
	}
	return false
}
