package api

import (
	"bufio"
	"errors"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"sync"
	"time"

	"horde/internal/game"
	"horde/internal/scheduler"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality (no per-entity labels to prevent DoS)
var (
	// Scheduler metrics
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_tick_duration_seconds",
		Help:    "Time spent in Scheduler.Tick",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
	})

	registeredEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_registered_entities",
		Help: "Entities registered with the tier classifier",
	})

	tierPopulation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scheduler_tier_population",
		Help: "Entities per tier",
	}, []string{"tier"}) // Bounded: near, mid, far

	referenceResolved = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_reference_resolved",
		Help: "1 if the last tick had a reference point",
	})

	classifierVisits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_classifier_visits_total",
		Help: "Entities examined by the round-robin classifier",
	})

	tierChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_tier_changes_total",
		Help: "Tier transitions",
	})

	staleRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_stale_removed_total",
		Help: "Dead handles dropped by the classifier",
	})

	channelProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_channel_processed_total",
		Help: "Deferred requests executed",
	}, []string{"channel"}) // Bounded: effects, physics, audio, cleanup

	channelDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_channel_dropped_total",
		Help: "Deferred requests dropped on overflow or over the audio cap",
	}, []string{"channel"}) // Bounded: effects, physics, audio, inbox

	channelPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scheduler_channel_pending",
		Help: "Requests waiting in each channel",
	}, []string{"channel"}) // Bounded: effects, physics, inbox

	schedulerFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_faults_total",
		Help: "Collaborator panics recovered by the scheduler",
	})

	// Event log metrics
	eventLogTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_log_total",
		Help: "Total events logged",
	})

	eventLogDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_log_dropped",
		Help: "Events dropped due to rate limiting or buffer full",
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter, auth or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "auth", "ws_total_limit", "ws_ip_limit"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern, not full URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

// =============================================================================
// SCHEDULER OBSERVER
// =============================================================================

// MetricsObserver implements scheduler.Observer by exporting each tick report.
// Cumulative drop counters in Stats are converted to deltas.
type MetricsObserver struct {
	mu        sync.Mutex
	lastDrops map[string]uint64
}

// NewMetricsObserver creates an observer bound to the package metrics
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{lastDrops: make(map[string]uint64, 4)}
}

// ObserveTick implements scheduler.Observer
func (o *MetricsObserver) ObserveTick(r scheduler.TickReport, s scheduler.Stats) {
	tickDuration.Observe(r.Duration.Seconds())

	registeredEntities.Set(float64(s.Registered))
	tierPopulation.WithLabelValues("near").Set(float64(s.Tiers.Near))
	tierPopulation.WithLabelValues("mid").Set(float64(s.Tiers.Mid))
	tierPopulation.WithLabelValues("far").Set(float64(s.Tiers.Far))
	if r.Resolved {
		referenceResolved.Set(1)
	} else {
		referenceResolved.Set(0)
	}

	classifierVisits.Add(float64(r.Visited))
	tierChanges.Add(float64(r.TierChanges))
	staleRemoved.Add(float64(r.StaleRemoved))
	schedulerFaults.Add(float64(r.Faults))

	channelProcessed.WithLabelValues("effects").Add(float64(r.EffectsSpawned))
	channelProcessed.WithLabelValues("physics").Add(float64(r.PhysicsApplied))
	channelProcessed.WithLabelValues("audio").Add(float64(r.AudioPlayed))
	channelProcessed.WithLabelValues("cleanup").Add(float64(r.EffectsCleaned))

	channelPending.WithLabelValues("effects").Set(float64(s.Effects.Pending))
	channelPending.WithLabelValues("physics").Set(float64(s.Physics.Pending))
	channelPending.WithLabelValues("inbox").Set(float64(s.Inbox.Pending))

	o.mu.Lock()
	o.addDrops("effects", s.Effects.Dropped)
	o.addDrops("physics", s.Physics.Dropped)
	o.addDrops("audio", s.Audio.Dropped)
	o.addDrops("inbox", s.Inbox.Dropped)
	o.mu.Unlock()
}

func (o *MetricsObserver) addDrops(channel string, total uint64) {
	if last := o.lastDrops[channel]; total > last {
		channelDropped.WithLabelValues(channel).Add(float64(total - last))
	}
	o.lastDrops[channel] = total
}

// =============================================================================
// DEBUG SERVER
// =============================================================================

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // MUST be "127.0.0.1:6060" in production
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060", // Localhost only - NEVER expose externally
	}
}

// DebugHandler builds the pprof + metrics + health mux
func DebugHandler(cfg ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.BasicAuthUser != "" {
		return basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return mux
}

// StartDebugServer starts the internal observability server
// CRITICAL: This MUST bind to localhost only to prevent pprof-based DoS
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	// SECURITY: Validate address is localhost
	if cfg.ListenAddr != "127.0.0.1:6060" && cfg.ListenAddr != "localhost:6060" {
		// Only allow external binding if explicitly enabled via env
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Println("⚠️ Debug server forced to localhost for security")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	handler := DebugHandler(cfg)

	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return nil
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records latency per chi route pattern
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		RecordRequest(r.Method, endpoint, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes WebSocket upgrades through to the underlying writer
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// UpdateEventLogStats mirrors event log counters into gauges
func UpdateEventLogStats(stats game.EventLogStats) {
	eventLogTotal.Set(float64(stats.Total))
	eventLogDropped.Set(float64(stats.Dropped))
}

// RecordConnectionRejected increments the rejection counter
// reason must be one of: "rate_limit", "origin", "auth", "ws_total_limit", "ws_ip_limit"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
