package api

import (
	"net/http"
	"time"

	"horde/internal/audio"
	"horde/internal/config"
	"horde/internal/game"
	"horde/internal/render"
	"horde/internal/scheduler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// EngineInterface defines the world methods used by the API.
// This interface enables mocking for tests without spinning up the tick loop.
// Keep this minimal - only include methods the API layer actually calls.
type EngineInterface interface {
	// GetSnapshot returns the latest published world snapshot (no world lock)
	GetSnapshot() game.WorldSnapshot
	// Enemy returns one enemy's tier and position
	Enemy(id uint64) (game.EnemyInfo, bool)
	// SpawnEnemies adds enemies on a ring around the avatar
	SpawnEnemies(count int, radius float64) []uint64
	// DespawnEnemy removes an enemy without killing it
	DespawnEnemy(id uint64) bool
	// MoveAvatar teleports (or respawns) the reference avatar
	MoveAvatar(pos scheduler.Vec3, patrol bool)
	// DespawnAvatar removes the reference avatar
	DespawnAvatar() bool
	// Blast kills every enemy within radius of center
	Blast(center scheduler.Vec3, radius float64) int
	// SchedulerConfig returns the effective scheduler configuration
	SchedulerConfig() config.SchedulerConfig
	// Submitter returns the scheduler's thread-safe inbox
	Submitter() *scheduler.Inbox
	// DrainTierChanges returns and clears pending tier transitions
	DrainTierChanges() []game.TierChange
	// GetEventLogStats returns event log counters
	GetEventLogStats() game.EventLogStats
}

// AudioInterface is the optional audio engine view used by /api/stats
type AudioInterface interface {
	Stats() audio.Stats
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
// This struct is designed for dependency injection and testability.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Engine: mockEngine,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the world (required)
	Engine EngineInterface

	// Audio is optional; when set its stats are included in /api/stats
	Audio AudioInterface

	// Config is the application configuration served by /api/config.
	// The scheduler section is always replaced by the engine's effective one.
	Config config.AppConfig

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, localhost origins are allowed.
	CORSOrigins []string

	// AdminToken protects mutating routes with a bearer token. Empty disables auth.
	AdminToken string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	engine  EngineInterface
	audio   AudioInterface
	config  config.AppConfig
	tierMap *render.TierMap
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE apart from the rate limiter's cleanup
// goroutine when none is supplied:
//   - No tick loop is started
//   - No network listeners are opened
//
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := &routerHandlers{
		engine:  cfg.Engine,
		audio:   cfg.Audio,
		config:  cfg.Config,
		tierMap: render.NewTierMap(),
	}

	r.Route("/api", func(r chi.Router) {
		// Read-only
		r.Get("/stats", h.handleGetStats)
		r.Get("/snapshot", h.handleGetSnapshot)
		r.Get("/tiers", h.handleGetTiers)
		r.Get("/tiermap.png", h.handleGetTierMap)
		r.Get("/entities/{id}", h.handleGetEntity)
		r.Get("/config", h.handleGetConfig)

		// Mutating (optionally token protected)
		r.Group(func(r chi.Router) {
			r.Use(RequireToken(cfg.AdminToken))
			r.Use(middleware.Timeout(5 * time.Second))

			r.Post("/entities", h.handleSpawnEntities)
			r.Delete("/entities/{id}", h.handleDespawnEntity)
			r.Post("/avatar", h.handleMoveAvatar)
			r.Post("/avatar/despawn", h.handleDespawnAvatar)
			r.Post("/blast", h.handleBlast)
			r.Post("/effects", h.handleSubmitEffect)
			r.Post("/sounds", h.handleSubmitSound)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/stats", http.StatusFound)
	})

	return r
}
