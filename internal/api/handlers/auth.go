package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/internal/domain/auth"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"go.uber.org/zap"
)

// AuthService интерфейс для auth service
type AuthService interface {
	Register(ctx context.Context, req *auth.RegisterRequest) (*auth.AuthResponse, error)
	Login(ctx context.Context, req *auth.LoginRequest) (*auth.AuthResponse, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*auth.AuthResponse, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	GetUserFromToken(ctx context.Context, token string) (*domain.User, error)
	UpdateProfile(ctx context.Context, userID string, req *auth.UpdateProfileRequest) (*domain.User, error)
	ValidateToken(token string) (*auth.Claims, error)
}

// AuthHandler обрабатывает запросы аутентификации
type AuthHandler struct {
	authService AuthService
	log         *logger.Logger
}

// NewAuthHandler создаёт новый auth handler
func NewAuthHandler(authService AuthService, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         log,
	}
}

// Register обрабатывает регистрацию пользователя
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Info("Invalid request body", zap.Error(err))
		writeError(w, errors.ErrInvalidInput.WithError(err))
		return
	}

	resp, err := h.authService.Register(r.Context(), &req)
	if err != nil {
		h.log.LogError("Failed to register user", err)
		writeError(w, err)
		return
	}

	h.log.Info("User registered",
		zap.String("user_id", resp.User.ID.String()),
		zap.String("display_name", resp.User.DisplayName),
	)

	writeJSON(w, http.StatusCreated, resp)
}

// Login обрабатывает вход пользователя
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Info("Invalid request body", zap.Error(err))
		writeError(w, errors.ErrInvalidInput.WithError(err))
		return
	}

	resp, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		h.log.LogError("Failed to login", err, zap.String("email", req.Email))
		writeError(w, err)
		return
	}

	h.log.Info("User logged in",
		zap.String("user_id", resp.User.ID.String()),
		zap.String("display_name", resp.User.DisplayName),
	)

	writeJSON(w, http.StatusOK, resp)
}

// Refresh обрабатывает обновление токена
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Info("Invalid request body", zap.Error(err))
		writeError(w, errors.ErrInvalidInput.WithError(err))
		return
	}

	resp, err := h.authService.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		h.log.LogError("Failed to refresh tokens", err)
		writeError(w, err)
		return
	}

	h.log.Info("Tokens refreshed", zap.String("user_id", resp.User.ID.String()))

	writeJSON(w, http.StatusOK, resp)
}

// Logout обрабатывает выход пользователя
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
		writeError(w, errors.ErrUnauthorized)
		return
	}
	accessToken := authHeader[7:]

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.authService.Logout(r.Context(), accessToken, req.RefreshToken); err != nil {
		appErr := errors.GetAppError(err)
		if appErr != nil && appErr.Code == http.StatusUnauthorized {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.log.LogError("Failed to logout", err)
		writeError(w, err)
		return
	}

	h.log.Info("User logged out")

	w.WriteHeader(http.StatusNoContent)
}

// Me возвращает информацию о текущем пользователе
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
		writeError(w, errors.ErrUnauthorized)
		return
	}
	token := authHeader[7:]

	user, err := h.authService.GetUserFromToken(r.Context(), token)
	if err != nil {
		h.log.LogError("Failed to get user by token", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// UpdateProfile обновляет профиль текущего пользователя
// PUT /auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
		writeError(w, errors.ErrUnauthorized)
		return
	}
	token := authHeader[7:]

	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		writeError(w, errors.ErrInvalidToken.WithError(err))
		return
	}

	var req auth.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.ErrInvalidInput.WithError(err))
		return
	}

	user, err := h.authService.UpdateProfile(r.Context(), claims.UserID.String(), &req)
	if err != nil {
		h.log.LogError("Failed to update profile", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
