// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for scheduler, world and server settings.
//
// Precedence: defaults < YAML file (HORDE_CONFIG) < environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// =============================================================================
// SCHEDULER CONFIGURATION
// =============================================================================

// Overflow policies for the bounded effect/physics queues.
const (
	OverflowDropOldest = "drop-oldest"
	OverflowDropNewest = "drop-newest"
)

// SchedulerConfig holds the tier classifier and deferred queue budgets.
type SchedulerConfig struct {
	NearDistance   float64 `yaml:"nearDistance" json:"nearDistance"`
	MidDistance    float64 `yaml:"midDistance" json:"midDistance"`
	HysteresisBand float64 `yaml:"hysteresisBand" json:"hysteresisBand"`

	ChecksPerTick        int `yaml:"checksPerTick" json:"checksPerTick"`               // Classifier visits per tick
	MaxEffectsPerTick    int `yaml:"maxEffectsPerTick" json:"maxEffectsPerTick"`       // Effect drain budget
	MaxPhysicsOpsPerTick int `yaml:"maxPhysicsOpsPerTick" json:"maxPhysicsOpsPerTick"` // Physics drain budget
	MaxAudioPerTick      int `yaml:"maxAudioPerTick" json:"maxAudioPerTick"`           // Audio admission cap
	InterBatchDelayTicks int `yaml:"interBatchDelayTicks" json:"interBatchDelayTicks"` // Idle ticks between batches

	ReferenceResolveInterval time.Duration `yaml:"referenceResolveInterval" json:"referenceResolveInterval"`

	EffectLifetimeTicks int    `yaml:"effectLifetimeTicks" json:"effectLifetimeTicks"` // 0 disables auto-cleanup
	MaxPendingEffects   int    `yaml:"maxPendingEffects" json:"maxPendingEffects"`
	MaxPendingPhysics   int    `yaml:"maxPendingPhysics" json:"maxPendingPhysics"`
	OverflowPolicy      string `yaml:"overflowPolicy" json:"overflowPolicy"`
	InboxCapacity       int    `yaml:"inboxCapacity" json:"inboxCapacity"` // Cross-goroutine submissions
}

// DefaultScheduler returns the default scheduler configuration.
func DefaultScheduler() SchedulerConfig {
	return SchedulerConfig{
		NearDistance:             25,
		MidDistance:              60,
		HysteresisBand:           5,
		ChecksPerTick:            32,
		MaxEffectsPerTick:        4,
		MaxPhysicsOpsPerTick:     4,
		MaxAudioPerTick:          3,
		InterBatchDelayTicks:     0,
		ReferenceResolveInterval: time.Second,
		EffectLifetimeTicks:      60, // 2s at 30 TPS
		MaxPendingEffects:        512,
		MaxPendingPhysics:        512,
		OverflowPolicy:           OverflowDropOldest,
		InboxCapacity:            1024,
	}
}

// SchedulerFromEnv applies environment overrides on top of cfg.
func SchedulerFromEnv(cfg SchedulerConfig) SchedulerConfig {
	if v := getEnvFloat("NEAR_DISTANCE", -1); v >= 0 {
		cfg.NearDistance = v
	}
	if v := getEnvFloat("MID_DISTANCE", -1); v >= 0 {
		cfg.MidDistance = v
	}
	if v := getEnvFloat("HYSTERESIS_BAND", -1); v >= 0 {
		cfg.HysteresisBand = v
	}
	if v := getEnvInt("CHECKS_PER_TICK", 0); v > 0 {
		cfg.ChecksPerTick = v
	}
	if v := getEnvInt("MAX_EFFECTS_PER_TICK", 0); v > 0 {
		cfg.MaxEffectsPerTick = v
	}
	if v := getEnvInt("MAX_PHYSICS_PER_TICK", 0); v > 0 {
		cfg.MaxPhysicsOpsPerTick = v
	}
	if v := getEnvInt("MAX_AUDIO_PER_TICK", -1); v >= 0 {
		cfg.MaxAudioPerTick = v
	}
	if v := getEnvInt("INTER_BATCH_DELAY_TICKS", -1); v >= 0 {
		cfg.InterBatchDelayTicks = v
	}
	if v := getEnvDuration("REFERENCE_RESOLVE_INTERVAL", -1); v >= 0 {
		cfg.ReferenceResolveInterval = v
	}
	if v := getEnvInt("EFFECT_LIFETIME_TICKS", -1); v >= 0 {
		cfg.EffectLifetimeTicks = v
	}
	if v := getEnvInt("MAX_PENDING_EFFECTS", 0); v > 0 {
		cfg.MaxPendingEffects = v
	}
	if v := getEnvInt("MAX_PENDING_PHYSICS", 0); v > 0 {
		cfg.MaxPendingPhysics = v
	}
	if v := os.Getenv("OVERFLOW_POLICY"); v != "" {
		cfg.OverflowPolicy = strings.ToLower(v)
	}
	if v := getEnvInt("INBOX_CAPACITY", 0); v > 0 {
		cfg.InboxCapacity = v
	}
	return cfg
}

// Validate checks budgets and that the hysteresis bands do not overlap.
func (c SchedulerConfig) Validate() error {
	switch {
	case c.NearDistance <= 0:
		return fmt.Errorf("%w: nearDistance must be > 0 (got %g)", ErrInvalidConfig, c.NearDistance)
	case c.MidDistance <= c.NearDistance:
		return fmt.Errorf("%w: midDistance %g must exceed nearDistance %g", ErrInvalidConfig, c.MidDistance, c.NearDistance)
	case c.HysteresisBand < 0:
		return fmt.Errorf("%w: hysteresisBand must be >= 0 (got %g)", ErrInvalidConfig, c.HysteresisBand)
	case c.NearDistance+c.HysteresisBand > c.MidDistance-c.HysteresisBand:
		// nearExit must not pass midEnter
		return fmt.Errorf("%w: hysteresisBand %g too wide for near %g / mid %g", ErrInvalidConfig,
			c.HysteresisBand, c.NearDistance, c.MidDistance)
	case c.ChecksPerTick <= 0:
		return fmt.Errorf("%w: checksPerTick must be > 0", ErrInvalidConfig)
	case c.MaxEffectsPerTick <= 0:
		return fmt.Errorf("%w: maxEffectsPerTick must be > 0", ErrInvalidConfig)
	case c.MaxPhysicsOpsPerTick <= 0:
		return fmt.Errorf("%w: maxPhysicsOpsPerTick must be > 0", ErrInvalidConfig)
	case c.MaxAudioPerTick < 0:
		return fmt.Errorf("%w: maxAudioPerTick must be >= 0", ErrInvalidConfig)
	case c.InterBatchDelayTicks < 0:
		return fmt.Errorf("%w: interBatchDelayTicks must be >= 0", ErrInvalidConfig)
	case c.ReferenceResolveInterval < 0:
		return fmt.Errorf("%w: referenceResolveInterval must be >= 0", ErrInvalidConfig)
	case c.EffectLifetimeTicks < 0:
		return fmt.Errorf("%w: effectLifetimeTicks must be >= 0", ErrInvalidConfig)
	case c.MaxPendingEffects <= 0 || c.MaxPendingPhysics <= 0:
		return fmt.Errorf("%w: pending queue bounds must be > 0", ErrInvalidConfig)
	case c.OverflowPolicy != OverflowDropOldest && c.OverflowPolicy != OverflowDropNewest:
		return fmt.Errorf("%w: unknown overflowPolicy %q", ErrInvalidConfig, c.OverflowPolicy)
	case c.InboxCapacity <= 0:
		return fmt.Errorf("%w: inboxCapacity must be > 0", ErrInvalidConfig)
	}
	return nil
}

// =============================================================================
// WORLD CONFIGURATION
// =============================================================================

// WorldConfig holds the headless horde simulation settings.
type WorldConfig struct {
	TickRate        int     `yaml:"tickRate" json:"tickRate"`               // Ticks per second
	Radius          float64 `yaml:"radius" json:"radius"`                   // Spawn radius around origin
	Extent          float64 `yaml:"extent" json:"extent"`                   // Max per-axis |coordinate| accepted from the API
	InitialEnemies  int     `yaml:"initialEnemies" json:"initialEnemies"`   // Spawned on start
	MaxEnemies      int     `yaml:"maxEnemies" json:"maxEnemies"`           // Hard cap (DoS protection)
	WaveSize        int     `yaml:"waveSize" json:"waveSize"`               // Enemies per wave
	WaveEveryTicks  int     `yaml:"waveEveryTicks" json:"waveEveryTicks"`   // 0 disables waves
	BlastEveryTicks int     `yaml:"blastEveryTicks" json:"blastEveryTicks"` // 0 disables auto blasts
	BlastRadius     float64 `yaml:"blastRadius" json:"blastRadius"`
	PatrolRadius    float64 `yaml:"patrolRadius" json:"patrolRadius"` // Avatar walks this circle
	PatrolSpeed     float64 `yaml:"patrolSpeed" json:"patrolSpeed"`   // Radians per second
	EnemySpeed      float64 `yaml:"enemySpeed" json:"enemySpeed"`     // Units per second
	MaxLiveEffects  int     `yaml:"maxLiveEffects" json:"maxLiveEffects"`
	CorpseTicks     int     `yaml:"corpseTicks" json:"corpseTicks"` // Ragdoll lifetime
	EventLogPath    string  `yaml:"eventLogPath" json:"eventLogPath"`
	Seed            int64   `yaml:"seed" json:"seed"` // 0 uses the clock
}

// DefaultWorld returns the default world configuration.
func DefaultWorld() WorldConfig {
	return WorldConfig{
		TickRate:        30,
		Radius:          150,
		Extent:          1000,
		InitialEnemies:  400,
		MaxEnemies:      5000,
		WaveSize:        40,
		WaveEveryTicks:  150,
		BlastEveryTicks: 90,
		BlastRadius:     18,
		PatrolRadius:    60,
		PatrolSpeed:     0.25,
		EnemySpeed:      4,
		MaxLiveEffects:  256,
		CorpseTicks:     45,
		EventLogPath:    "events.jsonl",
	}
}

// WorldFromEnv applies environment overrides on top of cfg.
func WorldFromEnv(cfg WorldConfig) WorldConfig {
	if v := getEnvInt("TICK_RATE", 0); v > 0 {
		cfg.TickRate = v
	}
	if v := getEnvFloat("WORLD_RADIUS", 0); v > 0 {
		cfg.Radius = v
	}
	if v := getEnvFloat("WORLD_EXTENT", 0); v > 0 {
		cfg.Extent = v
	}
	if v := getEnvInt("INITIAL_ENEMIES", -1); v >= 0 {
		cfg.InitialEnemies = v
	}
	if v := getEnvInt("MAX_ENEMIES", 0); v > 0 {
		cfg.MaxEnemies = v
	}
	if v := getEnvInt("BLAST_EVERY_TICKS", -1); v >= 0 {
		cfg.BlastEveryTicks = v
	}
	if v := getEnvInt("WAVE_EVERY_TICKS", -1); v >= 0 {
		cfg.WaveEveryTicks = v
	}
	if v, ok := os.LookupEnv("EVENT_LOG_PATH"); ok {
		cfg.EventLogPath = v
	}
	if v := getEnvInt("WORLD_SEED", 0); v != 0 {
		cfg.Seed = int64(v)
	}
	return cfg
}

// Validate checks the world settings.
func (c WorldConfig) Validate() error {
	switch {
	case c.TickRate <= 0:
		return fmt.Errorf("%w: tickRate must be > 0", ErrInvalidConfig)
	case c.Radius <= 0:
		return fmt.Errorf("%w: radius must be > 0", ErrInvalidConfig)
	case c.Extent < c.Radius:
		return fmt.Errorf("%w: extent must be >= radius", ErrInvalidConfig)
	case c.MaxEnemies <= 0:
		return fmt.Errorf("%w: maxEnemies must be > 0", ErrInvalidConfig)
	case c.InitialEnemies < 0 || c.InitialEnemies > c.MaxEnemies:
		return fmt.Errorf("%w: initialEnemies must be in [0, maxEnemies]", ErrInvalidConfig)
	case c.MaxLiveEffects <= 0:
		return fmt.Errorf("%w: maxLiveEffects must be > 0", ErrInvalidConfig)
	}
	return nil
}

// =============================================================================
// AUDIO CONFIGURATION
// =============================================================================

// AudioConfig holds the death-sound sink settings.
type AudioConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"` // Output to the speaker
	SampleRate  int     `yaml:"sampleRate" json:"sampleRate"`
	Volume      float64 `yaml:"volume" json:"volume"`           // Master volume (0.0 to 1.0)
	Falloff     float64 `yaml:"falloff" json:"falloff"`         // Distance at which volume halves
	ClipPath    string  `yaml:"clipPath" json:"clipPath"`       // Optional OGG death sound
	MaxVoices   int     `yaml:"maxVoices" json:"maxVoices"`     // Mixer voice cap
	DurationMs  int     `yaml:"durationMs" json:"durationMs"`   // Synth fallback length
	FrequencyHz float64 `yaml:"frequencyHz" json:"frequencyHz"` // Synth fallback pitch
}

// DefaultAudio returns the default audio configuration.
func DefaultAudio() AudioConfig {
	return AudioConfig{
		Enabled:     false, // Headless by default
		SampleRate:  44100,
		Volume:      0.3,
		Falloff:     40,
		MaxVoices:   16,
		DurationMs:  180,
		FrequencyHz: 90,
	}
}

// AudioFromEnv applies environment overrides on top of cfg.
func AudioFromEnv(cfg AudioConfig) AudioConfig {
	if os.Getenv("AUDIO_ENABLED") == "true" {
		cfg.Enabled = true
	}
	if v := getEnvFloat("AUDIO_VOLUME", -1); v >= 0 {
		cfg.Volume = v
	}
	if v := os.Getenv("AUDIO_CLIP_PATH"); v != "" {
		cfg.ClipPath = v
	}
	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              int     `yaml:"port" json:"port"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond" json:"requestsPerSecond"` // Per-IP API rate
	Burst             int     `yaml:"burst" json:"burst"`
	DebugServer       bool    `yaml:"debugServer" json:"debugServer"`
	AdminToken        string  `yaml:"adminToken" json:"-"` // Bearer token for mutating routes (empty = open)
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:              3000,
		RequestsPerSecond: 10,
		Burst:             20,
		DebugServer:       true,
	}
}

// ServerFromEnv applies environment overrides on top of cfg.
func ServerFromEnv(cfg ServerConfig) ServerConfig {
	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.DebugServer = false
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	World     WorldConfig     `yaml:"world" json:"world"`
	Audio     AudioConfig     `yaml:"audio" json:"audio"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// Default returns the complete configuration without any overrides.
func Default() AppConfig {
	return AppConfig{
		Scheduler: DefaultScheduler(),
		World:     DefaultWorld(),
		Audio:     DefaultAudio(),
		Server:    DefaultServer(),
	}
}

// Load returns the complete configuration: defaults, then the YAML file named by
// HORDE_CONFIG (if any), then environment overrides. The result is validated.
func Load() (AppConfig, error) {
	cfg := Default()

	if path := os.Getenv("HORDE_CONFIG"); path != "" {
		var err error
		if cfg, err = LoadFile(path, cfg); err != nil {
			return cfg, err
		}
	}

	cfg.Scheduler = SchedulerFromEnv(cfg.Scheduler)
	cfg.World = WorldFromEnv(cfg.World)
	cfg.Audio = AudioFromEnv(cfg.Audio)
	cfg.Server = ServerFromEnv(cfg.Server)

	return cfg, cfg.Validate()
}

// Validate checks every section.
func (c AppConfig) Validate() error {
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.World.Validate(); err != nil {
		return fmt.Errorf("world: %w", err)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
