package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/api"
	"github.com/bmstu-itstech/bitbattle/internal/api/handlers"
	"github.com/bmstu-itstech/bitbattle/internal/config"
	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/internal/domain/auth"
	"github.com/bmstu-itstech/bitbattle/internal/domain/matchmaker"
	"github.com/bmstu-itstech/bitbattle/internal/domain/problem"
	"github.com/bmstu-itstech/bitbattle/internal/domain/rating"
	"github.com/bmstu-itstech/bitbattle/internal/domain/room"
	"github.com/bmstu-itstech/bitbattle/internal/domain/submission"
	"github.com/bmstu-itstech/bitbattle/internal/infrastructure/cache"
	"github.com/bmstu-itstech/bitbattle/internal/infrastructure/db"
	"github.com/bmstu-itstech/bitbattle/internal/infrastructure/sandbox"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/bmstu-itstech/bitbattle/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// problemCacheRefreshInterval - период сверки тёплого каталога задач с Postgres
const problemCacheRefreshInterval = 5 * time.Minute

// leaderboardWarmupInterval - период пересборки Redis-таблиц лидеров
const leaderboardWarmupInterval = 5 * time.Minute

// matchedRoomCreator адаптирует реестр комнат под интерфейс матчмейкера
type matchedRoomCreator struct {
	registry *room.Registry
}

func (c *matchedRoomCreator) CreateMatched(ctx context.Context, mode domain.GameMode, difficulty domain.Difficulty) (string, error) {
	r, err := c.registry.CreateMatched(ctx, mode, difficulty)
	if err != nil {
		return "", err
	}
	return r.Code(), nil
}

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем логгер
	log, err := logger.NewWithOptions(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Async:  cfg.Logging.Async,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting BitBattle server",
		zap.Int("port", cfg.Server.Port),
	)

	// Инициализируем метрики
	m := metrics.New()

	// Подключаемся к базе данных
	database, err := db.New(&cfg.Database, log, m)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Проверяем здоровье БД
	if err := database.Health(context.Background()); err != nil {
		log.Fatal("Database health check failed", zap.Error(err))
	}

	// Подключаемся к Redis
	redisCache, err := cache.New(&cfg.Redis, log, m)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	// Инициализируем репозитории
	userRepo := db.NewUserRepository(database)
	statsRepo := db.NewStatsRepository(database)
	gameResultRepo := db.NewGameResultRepository(database)
	problemRepo := db.NewProblemRepository(database)
	refreshTokenRepo := db.NewRefreshTokenRepository(database)

	// Инициализируем кэши с метриками
	leaderboardCache := cache.NewLeaderboardCache(redisCache).WithMetrics(m)
	tokenBlacklist := cache.NewTokenBlacklistCache(redisCache)
	rateLimiter := cache.NewRateLimiter(redisCache)
	distributedLock := cache.NewDistributedLock(redisCache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Тёплый каталог задач: консистентен с Postgres на старте
	problemService := problem.NewService(problemRepo, gameResultRepo, log)
	if err := problemService.WarmUp(ctx); err != nil {
		log.Fatal("Failed to warm problem cache", zap.Error(err))
	}
	go problemService.Start(ctx, problemCacheRefreshInterval)

	// Прогрев таблиц лидеров
	warmer := cache.NewCacheWarmer(leaderboardCache, statsRepo, log, leaderboardWarmupInterval)
	go warmer.Start(ctx)

	// Песочница: bounded-пул поверх Docker
	sandboxPool := sandbox.NewPool(cfg.Sandbox.Concurrency, m)
	go sandboxPool.Monitor(ctx, 5*time.Second)

	runner, err := sandbox.NewRunner(cfg.Sandbox, cfg.Sandbox.WorkDir, cfg.Sandbox.HostWorkDir, sandboxPool, log)
	if err != nil {
		log.Fatal("Failed to create sandbox runner", zap.Error(err))
	}
	defer func() { _ = runner.Close() }()

	// Начисление очков и рейтингов
	ratingService := rating.NewService(database, statsRepo, gameResultRepo, leaderboardCache, log)

	// Реестр комнат
	registry := room.NewRegistry(
		problemService,
		ratingService,
		room.NewCodeAllocator(distributedLock),
		cfg.Room,
		log,
		m,
	)

	// Пайплайн отправок: результат уходит в комнату через реестр
	pipeline := submission.NewPipeline(runner, registry, redisCache, log)

	// Матчмейкер
	matchmakerService := matchmaker.NewService(&matchedRoomCreator{registry: registry}, log, m)
	go matchmakerService.Start(ctx, cfg.Matchmaker.TickInterval)

	// Аутентификация
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	authService := auth.NewService(userRepo, jwtManager, tokenBlacklist, refreshTokenRepo, log)

	// Инициализируем handlers
	authHandler := handlers.NewAuthHandler(authService, log)
	wsHandler := handlers.NewWebSocketHandler(registry, cfg.Room, m, log)
	submitHandler := handlers.NewSubmitHandler(registry, problemService, pipeline, cfg.Sandbox, log)
	matchmakingHandler := handlers.NewMatchmakingHandler(matchmakerService, log)
	roomsHandler := handlers.NewRoomsHandler(registry, log)
	leaderboardHandler := handlers.NewLeaderboardHandler(leaderboardCache, statsRepo, userRepo, log)
	systemHandler := handlers.NewSystemHandler(log)

	// Создаём API сервер
	apiServer := api.NewServer(
		authHandler,
		wsHandler,
		submitHandler,
		matchmakingHandler,
		roomsHandler,
		leaderboardHandler,
		systemHandler,
		authService,
		rateLimiter,
		cfg.CORS,
		cfg.RateLimit,
		log,
	)

	// Создаём HTTP сервер
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Metrics server (если включен)
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           metricsMux,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Info("Metrics server listening",
				zap.String("addr", metricsSrv.Addr),
			)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	// Канал для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем сервер в отдельной горутине
	go func() {
		log.Info("API server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Ждём сигнала остановки
	<-quit
	log.Info("Shutting down servers...")

	// Graceful shutdown с таймаутом
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Останавливаем API сервер
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("API server forced to shutdown", zap.Error(err))
	}

	// Останавливаем metrics сервер
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("Metrics server forced to shutdown", zap.Error(err))
		}
	}

	// Останавливаем фоновые задачи: матчмейкер, прогрев, мониторинг песочницы
	cancel()

	log.Info("Servers stopped gracefully")
}
