package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/internal/domain/auth"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAuthService implements AuthService
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Register(ctx context.Context, req *auth.RegisterRequest) (*auth.AuthResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.AuthResponse), args.Error(1)
}

func (m *MockAuthService) Login(ctx context.Context, req *auth.LoginRequest) (*auth.AuthResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.AuthResponse), args.Error(1)
}

func (m *MockAuthService) RefreshTokens(ctx context.Context, refreshToken string) (*auth.AuthResponse, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.AuthResponse), args.Error(1)
}

func (m *MockAuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	args := m.Called(ctx, accessToken, refreshToken)
	return args.Error(0)
}

func (m *MockAuthService) GetUserFromToken(ctx context.Context, token string) (*domain.User, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockAuthService) UpdateProfile(ctx context.Context, userID string, req *auth.UpdateProfileRequest) (*domain.User, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockAuthService) ValidateToken(token string) (*auth.Claims, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Claims), args.Error(1)
}

func newAuthHandler(service AuthService) *AuthHandler {
	log, _ := logger.New("error", "json")
	return NewAuthHandler(service, log)
}

func testUser() *domain.User {
	return &domain.User{
		ID:          uuid.New(),
		DisplayName: "alice",
		Email:       "alice@example.com",
		CreatedAt:   time.Now(),
	}
}

func TestAuthHandler_Register_Success(t *testing.T) {
	service := new(MockAuthService)
	handler := newAuthHandler(service)

	user := testUser()
	service.On("Register", mock.Anything, mock.AnythingOfType("*auth.RegisterRequest")).Return(&auth.AuthResponse{
		AccessToken:  "access",
		RefreshToken: "refresh",
		User:         user,
	}, nil)

	body, _ := json.Marshal(auth.RegisterRequest{
		DisplayName: "alice",
		Email:       "alice@example.com",
		Password:    "Password123",
	})
	req := httptest.NewRequest("POST", "/auth/register", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	handler.Register(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	var resp auth.AuthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "access", resp.AccessToken)
	assert.Equal(t, "alice", resp.User.DisplayName)
	service.AssertExpectations(t)
}

func TestAuthHandler_Register_MalformedBody(t *testing.T) {
	handler := newAuthHandler(new(MockAuthService))

	req := httptest.NewRequest("POST", "/auth/register", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()

	handler.Register(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuthHandler_Register_EmailTaken(t *testing.T) {
	service := new(MockAuthService)
	handler := newAuthHandler(service)

	service.On("Register", mock.Anything, mock.Anything).Return(nil, errors.ErrAlreadyExists.WithMessage("email already registered"))

	body, _ := json.Marshal(auth.RegisterRequest{
		DisplayName: "alice",
		Email:       "alice@example.com",
		Password:    "Password123",
	})
	req := httptest.NewRequest("POST", "/auth/register", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	handler.Register(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAuthHandler_Login_Success(t *testing.T) {
	service := new(MockAuthService)
	handler := newAuthHandler(service)

	user := testUser()
	service.On("Login", mock.Anything, mock.AnythingOfType("*auth.LoginRequest")).Return(&auth.AuthResponse{
		AccessToken:  "access",
		RefreshToken: "refresh",
		User:         user,
	}, nil)

	body, _ := json.Marshal(auth.LoginRequest{Email: "alice@example.com", Password: "Password123"})
	req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	handler.Login(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp auth.AuthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, user.Email, resp.User.Email)
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	service := new(MockAuthService)
	handler := newAuthHandler(service)

	service.On("Login", mock.Anything, mock.Anything).Return(nil, errors.ErrInvalidCredentials)

	body, _ := json.Marshal(auth.LoginRequest{Email: "alice@example.com", Password: "wrong"})
	req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	handler.Login(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthHandler_Refresh_Success(t *testing.T) {
	service := new(MockAuthService)
	handler := newAuthHandler(service)

	user := testUser()
	service.On("RefreshTokens", mock.Anything, "old-refresh").Return(&auth.AuthResponse{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		User:         user,
	}, nil)

	body, _ := json.Marshal(map[string]string{"refresh_token": "old-refresh"})
	req := httptest.NewRequest("POST", "/auth/refresh", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	handler.Refresh(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp auth.AuthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "new-refresh", resp.RefreshToken)
}

func TestAuthHandler_Refresh_InvalidToken(t *testing.T) {
	service := new(MockAuthService)
	handler := newAuthHandler(service)

	service.On("RefreshTokens", mock.Anything, "bad").Return(nil, errors.ErrInvalidToken)

	body, _ := json.Marshal(map[string]string{"refresh_token": "bad"})
	req := httptest.NewRequest("POST", "/auth/refresh", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	handler.Refresh(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthHandler_Logout_Success(t *testing.T) {
	service := new(MockAuthService)
	handler := newAuthHandler(service)

	service.On("Logout", mock.Anything, "access-token", "refresh-token").Return(nil)

	body, _ := json.Marshal(map[string]string{"refresh_token": "refresh-token"})
	req := httptest.NewRequest("POST", "/auth/logout", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer access-token")
	rr := httptest.NewRecorder()

	handler.Logout(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	service.AssertExpectations(t)
}

func TestAuthHandler_Logout_MissingHeader(t *testing.T) {
	handler := newAuthHandler(new(MockAuthService))

	req := httptest.NewRequest("POST", "/auth/logout", bytes.NewReader([]byte("{}")))
	rr := httptest.NewRecorder()

	handler.Logout(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthHandler_Me_Success(t *testing.T) {
	service := new(MockAuthService)
	handler := newAuthHandler(service)

	user := testUser()
	service.On("GetUserFromToken", mock.Anything, "access-token").Return(user, nil)

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer access-token")
	rr := httptest.NewRecorder()

	handler.Me(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var got domain.User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, user.DisplayName, got.DisplayName)
}

func TestAuthHandler_Me_MissingToken(t *testing.T) {
	handler := newAuthHandler(new(MockAuthService))

	req := httptest.NewRequest("GET", "/auth/me", nil)
	rr := httptest.NewRecorder()

	handler.Me(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
