package api

import (
	"net/http"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/api/handlers"
	"github.com/bmstu-itstech/bitbattle/internal/api/middleware"
	"github.com/bmstu-itstech/bitbattle/internal/config"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server представляет HTTP сервер
type Server struct {
	router             *chi.Mux
	authHandler        *handlers.AuthHandler
	wsHandler          *handlers.WebSocketHandler
	submitHandler      *handlers.SubmitHandler
	matchmakingHandler *handlers.MatchmakingHandler
	roomsHandler       *handlers.RoomsHandler
	leaderboardHandler *handlers.LeaderboardHandler
	systemHandler      *handlers.SystemHandler
	authService        middleware.AuthService
	rateLimiter        middleware.RateLimiter
	corsConfig         config.CORSConfig
	rateLimitConfig    config.RateLimitConfig
	log                *logger.Logger
}

// NewServer создаёт новый HTTP сервер
func NewServer(
	authHandler *handlers.AuthHandler,
	wsHandler *handlers.WebSocketHandler,
	submitHandler *handlers.SubmitHandler,
	matchmakingHandler *handlers.MatchmakingHandler,
	roomsHandler *handlers.RoomsHandler,
	leaderboardHandler *handlers.LeaderboardHandler,
	systemHandler *handlers.SystemHandler,
	authService middleware.AuthService,
	rateLimiter middleware.RateLimiter,
	corsConfig config.CORSConfig,
	rateLimitConfig config.RateLimitConfig,
	log *logger.Logger,
) *Server {
	s := &Server{
		router:             chi.NewRouter(),
		authHandler:        authHandler,
		wsHandler:          wsHandler,
		submitHandler:      submitHandler,
		matchmakingHandler: matchmakingHandler,
		roomsHandler:       roomsHandler,
		leaderboardHandler: leaderboardHandler,
		systemHandler:      systemHandler,
		authService:        authService,
		rateLimiter:        rateLimiter,
		corsConfig:         corsConfig,
		rateLimitConfig:    rateLimitConfig,
		log:                log,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware настраивает middleware
func (s *Server) setupMiddleware() {
	// Базовые middleware
	s.router.Use(chiMiddleware.RequestID)
	s.router.Use(chiMiddleware.RealIP)
	s.router.Use(chiMiddleware.Logger)
	s.router.Use(chiMiddleware.Recoverer)

	// Security headers
	s.router.Use(middleware.SecureHeaders())

	// Response compression (gzip)
	s.router.Use(middleware.Compress())

	// Smart timeout с контекст cancellation для разных типов операций
	s.router.Use(middleware.SmartTimeout(middleware.DefaultTimeoutConfig()))

	// Rate limiting (если включено в конфиге)
	if s.rateLimitConfig.Enabled {
		s.router.Use(middleware.RateLimit(
			s.rateLimiter,
			s.rateLimitConfig.RequestsPerMinute,
			time.Minute,
			s.log,
		))
	}

	// CORS с настройками из конфига
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsConfig.AllowedOrigins,
		AllowedMethods:   s.corsConfig.AllowedMethods,
		AllowedHeaders:   s.corsConfig.AllowedHeaders,
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           s.corsConfig.MaxAge,
	}))
}

// setupRoutes настраивает маршруты
func (s *Server) setupRoutes() {
	// Health check
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Auth routes (публичные)
	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.authHandler.Register)
		r.Post("/login", s.authHandler.Login)
		r.Post("/refresh", s.authHandler.Refresh)
		r.Post("/logout", s.authHandler.Logout)
		r.Get("/me", s.authHandler.Me)
		r.Put("/profile", s.authHandler.UpdateProfile)
	})

	// Игровые сокеты: auth опциональна, гости играют под сгенерированным именем
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth(s.authService, s.log))

		r.Get("/ws", s.wsHandler.HandleBattle)
		r.Get("/ws/spectate", s.wsHandler.HandleSpectate)
		r.Post("/submit", s.submitHandler.Submit)
	})

	// Matchmaking
	s.router.Route("/matchmaking", func(r chi.Router) {
		r.Post("/join", s.matchmakingHandler.Join)
		r.Post("/leave", s.matchmakingHandler.Leave)
		r.Get("/status", s.matchmakingHandler.Status)
	})

	// Живые игры и рейтинги (публичные)
	s.router.Get("/rooms/live", s.roomsHandler.Live)
	s.router.Get("/leaderboard", s.leaderboardHandler.Get)

	// System routes (требуют аутентификации)
	s.router.Route("/system", func(r chi.Router) {
		r.Use(middleware.Auth(s.authService, s.log))

		r.Get("/metrics", s.systemHandler.GetMetrics)
		r.Get("/health", s.systemHandler.GetHealth)
	})
}

// Handler возвращает HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP реализует интерфейс http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
