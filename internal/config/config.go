package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Room       RoomConfig       `yaml:"room"`
	Matchmaker MatchmakerConfig `yaml:"matchmaker"`
	JWT        JWTConfig        `yaml:"jwt"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	CORS       CORSConfig       `yaml:"cors"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// ServerConfig - конфигурация HTTP сервера
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	FrontendOrigin  string        `yaml:"frontend_origin"`
}

// DatabaseConfig - конфигурация PostgreSQL
type DatabaseConfig struct {
	URL            string        `yaml:"url"` // DB_URL, takes precedence over the host/port fields below
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	Name           string        `yaml:"name"`
	MaxConnections int           `yaml:"max_connections"`
	MaxIdle        int           `yaml:"max_idle"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
}

// DSN возвращает строку подключения к PostgreSQL (формат key=value)
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name,
	)
}

// DSNURL возвращает строку подключения в URL формате (для golang-migrate)
func (c DatabaseConfig) DSNURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name,
	)
}

// RedisConfig - конфигурация Redis
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// Address возвращает адрес Redis
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SandboxConfig configures the per-submission sandbox runner (C1).
type SandboxConfig struct {
	Image           string        `yaml:"image"`            // SANDBOX_IMAGE, one image multiplexing all supported languages
	Concurrency     int           `yaml:"concurrency"`       // SANDBOX_CONCURRENCY, size of the bounded executor pool
	WallTimeout     time.Duration `yaml:"wall_timeout"`      // hard per-invocation deadline
	CPUQuota        int64         `yaml:"cpu_quota"`         // microseconds per 100ms CPUPeriod
	MemoryLimitMiB  int64         `yaml:"memory_limit_mib"`
	PidsLimit       int64         `yaml:"pids_limit"`
	NetworkDisabled bool          `yaml:"network_disabled"`
	SeccompProfile  string        `yaml:"seccomp_profile"`
	AppArmorProfile string        `yaml:"apparmor_profile"`
	CPUSetCPUs      string        `yaml:"cpuset_cpus"`
	WorkDir         string        `yaml:"work_dir"`      // куда пишутся исходники отправок
	HostWorkDir     string        `yaml:"host_work_dir"` // тот же путь на хосте (Docker-in-Docker)
}

// DefaultConcurrency mirrors spec's min(host_cpu, 8) fallback.
func DefaultConcurrency() int {
	n := runtime.NumCPU()
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}

// RoomConfig controls room lifecycle timers.
type RoomConfig struct {
	CountdownDuration time.Duration `yaml:"countdown_duration"` // Countdown -> Playing delay
	GracePeriod       time.Duration `yaml:"grace_period"`       // Ended -> released delay
	OutboundQueueSize int           `yaml:"outbound_queue_size"`
	CodeChangeRateRPS int           `yaml:"code_change_rate_rps"`
	CodeChangeBurst   int           `yaml:"code_change_burst"`
}

// MatchmakerConfig controls matcher tick cadence.
type MatchmakerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// JWTConfig - конфигурация JWT токенов
type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

// LoggingConfig - конфигурация логирования
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	Async  bool   `yaml:"async"`
}

// MetricsConfig - конфигурация метрик
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// CORSConfig - конфигурация CORS
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// RateLimitConfig - конфигурация rate limiting
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// Validate валидирует конфигурацию
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.URL == "" {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max_connections must be positive")
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis port: %d", c.Redis.Port)
	}

	if c.Sandbox.Concurrency < 1 {
		return fmt.Errorf("sandbox concurrency must be positive")
	}
	if c.Sandbox.WallTimeout <= 0 || c.Sandbox.WallTimeout > 5*time.Second {
		return fmt.Errorf("sandbox wall_timeout must be in (0, 5s]")
	}

	if c.JWT.Secret == "" || c.JWT.Secret == "change-this-secret-in-production" {
		env := os.Getenv("ENVIRONMENT")
		if env == "production" || env == "prod" {
			return fmt.Errorf("JWT secret must be changed in production")
		}
	}
	if c.JWT.AccessTTL < 1*time.Minute {
		return fmt.Errorf("JWT access_ttl is too short")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	validLevel := false
	for _, level := range validLevels {
		if c.Logging.Level == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 4000),
			ReadTimeout:     getEnvDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			FrontendOrigin:  getEnv("FRONTEND_ORIGIN", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:            getEnvOrFile("DB_URL", ""),
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnvInt("DB_PORT", 5432),
			User:           getEnv("DB_USER", "bitbattle"),
			Password:       getEnvOrFile("DB_PASSWORD", "secret"),
			Name:           getEnv("DB_NAME", "bitbattle"),
			MaxConnections: getEnvInt("DB_MAX_CONNECTIONS", 50),
			MaxIdle:        getEnvInt("DB_MAX_IDLE", 10),
			MaxLifetime:    getEnvDuration("DB_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvOrFile("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 100),
		},
		Sandbox: SandboxConfig{
			Image:           getEnv("SANDBOX_IMAGE", "bitbattle-sandbox:latest"),
			Concurrency:     getEnvInt("SANDBOX_CONCURRENCY", DefaultConcurrency()),
			WallTimeout:     getEnvDuration("SANDBOX_WALL_TIMEOUT", 5*time.Second),
			CPUQuota:        int64(getEnvInt("SANDBOX_CPU_QUOTA", 50000)), // 0.5 core
			MemoryLimitMiB:  int64(getEnvInt("SANDBOX_MEMORY_LIMIT_MIB", 128)),
			PidsLimit:       int64(getEnvInt("SANDBOX_PIDS_LIMIT", 50)),
			NetworkDisabled: getEnvBool("SANDBOX_NETWORK_DISABLED", true),
			SeccompProfile:  getEnv("SANDBOX_SECCOMP_PROFILE", ""),
			AppArmorProfile: getEnv("SANDBOX_APPARMOR_PROFILE", ""),
			CPUSetCPUs:      getEnv("SANDBOX_CPUSET_CPUS", ""),
			WorkDir:         getEnv("SANDBOX_WORK_DIR", "/tmp/bitbattle-submissions"),
			HostWorkDir:     getEnv("SANDBOX_HOST_WORK_DIR", ""),
		},
		Room: RoomConfig{
			CountdownDuration: getEnvDuration("ROOM_COUNTDOWN_DURATION", 3*time.Second),
			GracePeriod:       getEnvDuration("ROOM_GRACE_PERIOD", 30*time.Second),
			OutboundQueueSize: getEnvInt("ROOM_OUTBOUND_QUEUE_SIZE", 64),
			CodeChangeRateRPS: getEnvInt("ROOM_CODE_CHANGE_RATE_RPS", 20),
			CodeChangeBurst:   getEnvInt("ROOM_CODE_CHANGE_BURST", 40),
		},
		Matchmaker: MatchmakerConfig{
			TickInterval: getEnvDuration("MATCHMAKER_TICK_INTERVAL", 1*time.Second),
		},
		JWT: JWTConfig{
			Secret:     getEnvOrFile("JWT_SECRET", "change-this-secret-in-production"),
			AccessTTL:  getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTTL: getEnvDuration("JWT_REFRESH_TTL", 168*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
			Async:  getEnvBool("LOG_ASYNC", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Port:    getEnvInt("METRICS_PORT", 9090),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{getEnv("FRONTEND_ORIGIN", "http://localhost:3000")},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         getEnvInt("CORS_MAX_AGE", 3600),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMinute: getEnvInt("RATE_LIMIT_RPM", 100),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 200),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvOrFile reads KEY, falling back to the file at KEY_FILE (Docker secrets).
func getEnvOrFile(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	fileKey := key + "_FILE"
	if filePath := os.Getenv(fileKey); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	return defaultValue
}
