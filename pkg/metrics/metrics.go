package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics содержит все метрики приложения
type Metrics struct {
	// Execution метрики (прогоны в песочнице)
	ExecutionsTotal      *prometheus.CounterVec
	ExecutionDuration    *prometheus.HistogramVec
	ExecutionsInProgress prometheus.Gauge

	// HTTP метрики
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Database метрики
	DBQueryDuration *prometheus.HistogramVec
	DBConnections   *prometheus.GaugeVec

	// Cache метрики
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Room метрики
	RoomsActive       prometheus.Gauge
	SocketsActive     prometheus.Gauge
	MatchmakerQueue   *prometheus.GaugeVec
	SandboxInUse      prometheus.Gauge
	SandboxQueueDepth prometheus.Gauge
}

// New создаёт новый экземпляр метрик
func New() *Metrics {
	return &Metrics{
		// Execution метрики
		ExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitbattle_sandbox_executions_total",
				Help: "Total number of sandbox executions",
			},
			[]string{"status", "language"},
		),
		ExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bitbattle_sandbox_execution_duration_seconds",
				Help:    "Sandbox execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
			},
			[]string{"language"},
		),
		ExecutionsInProgress: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bitbattle_sandbox_executions_in_progress",
				Help: "Number of sandbox executions currently running",
			},
		),

		// HTTP метрики
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitbattle_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bitbattle_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bitbattle_http_requests_in_flight",
				Help: "Number of HTTP requests currently being served",
			},
		),

		// Database метрики
		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bitbattle_db_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
			},
			[]string{"query_type"},
		),
		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bitbattle_db_connections",
				Help: "Number of database connections",
			},
			[]string{"state"}, // "in_use", "idle", "open"
		),

		// Cache метрики
		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitbattle_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitbattle_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		// Room метрики
		RoomsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bitbattle_rooms_active",
				Help: "Number of rooms currently tracked by the registry",
			},
		),
		SocketsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bitbattle_sockets_active",
				Help: "Number of open WebSocket connections (participants + spectators)",
			},
		),
		MatchmakerQueue: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bitbattle_matchmaker_queue_size",
				Help: "Number of waiting entries per (difficulty, mode) bucket",
			},
			[]string{"difficulty", "mode"},
		),
		SandboxInUse: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bitbattle_sandbox_slots_in_use",
				Help: "Number of sandbox executor slots currently occupied",
			},
		),
		SandboxQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bitbattle_sandbox_queue_depth",
				Help: "Number of sandbox invocations waiting for a free slot",
			},
		),
	}
}

// RecordExecutionStart записывает начало прогона в песочнице
func (m *Metrics) RecordExecutionStart() {
	m.ExecutionsInProgress.Inc()
}

// RecordExecutionComplete записывает завершение прогона
func (m *Metrics) RecordExecutionComplete(language string, status string, duration time.Duration) {
	m.ExecutionsInProgress.Dec()
	m.ExecutionsTotal.WithLabelValues(status, language).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(duration.Seconds())
}

// RecordHTTPRequest записывает HTTP запрос
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDBQuery записывает запрос к БД
func (m *Metrics) RecordDBQuery(queryType string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
}

// RecordCacheHit записывает попадание в кэш
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss записывает промах кэша
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}

// SetRoomsActive устанавливает количество активных комнат
func (m *Metrics) SetRoomsActive(count int) {
	m.RoomsActive.Set(float64(count))
}

// SetSocketsActive устанавливает количество активных WebSocket соединений
func (m *Metrics) SetSocketsActive(count int) {
	m.SocketsActive.Set(float64(count))
}

// SetMatchmakerQueueSize устанавливает размер очереди мэтчмейкера для бакета
func (m *Metrics) SetMatchmakerQueueSize(difficulty, mode string, size int) {
	m.MatchmakerQueue.WithLabelValues(difficulty, mode).Set(float64(size))
}

// SetSandboxUsage устанавливает занятость и глубину очереди песочницы
func (m *Metrics) SetSandboxUsage(inUse, queueDepth int) {
	m.SandboxInUse.Set(float64(inUse))
	m.SandboxQueueDepth.Set(float64(queueDepth))
}

// SetDBConnections устанавливает количество соединений с БД
func (m *Metrics) SetDBConnections(inUse, idle, open int) {
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("open").Set(float64(open))
}
