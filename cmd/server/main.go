package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"horde/internal/api"
	"horde/internal/audio"
	"horde/internal/config"
	"horde/internal/game"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🧟 ================================")
	log.Println("🧟  HORDE - TIERED TICK SCHEDULER")
	log.Println("🧟 ================================")

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}
	schedCfg := appConfig.Scheduler
	worldCfg := appConfig.World
	serverCfg := appConfig.Server

	log.Printf("📐 Tiers: near<%.0f mid<%.0f band=%.0f", schedCfg.NearDistance, schedCfg.MidDistance, schedCfg.HysteresisBand)
	log.Printf("⏱️ Budgets: checks=%d effects=%d physics=%d audio=%d delay=%d",
		schedCfg.ChecksPerTick, schedCfg.MaxEffectsPerTick, schedCfg.MaxPhysicsOpsPerTick,
		schedCfg.MaxAudioPerTick, schedCfg.InterBatchDelayTicks)
	log.Printf("🌍 World: %d TPS, %d enemies (max %d)", worldCfg.TickRate, worldCfg.InitialEnemies, worldCfg.MaxEnemies)
	if serverCfg.AdminToken == "" {
		log.Println("⚠️ ADMIN_TOKEN not set - mutating routes are open")
	}

	// Start debug server (pprof + metrics) on localhost only
	if serverCfg.DebugServer {
		debugCfg := api.DefaultObservabilityConfig()
		if err := api.StartDebugServer(debugCfg); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	soundEngine := audio.NewEngine(appConfig.Audio)
	soundEngine.Start()

	world, err := game.NewWorld(game.Options{
		Scheduler: schedCfg,
		World:     worldCfg,
		Audio:     soundEngine,
		Observer:  api.NewMetricsObserver(),
	})
	if err != nil {
		log.Fatalf("❌ Failed to create world: %v", err)
	}

	if worldCfg.EventLogPath != "" {
		if err := world.StartEventLog(worldCfg.EventLogPath); err != nil {
			log.Printf("⚠️ Event log disabled: %v", err)
		}
	}

	server := api.NewServer(world, api.ServerOptions{
		Config: appConfig,
		Audio:  soundEngine,
	})

	world.Start()
	log.Println("✅ World started")

	go func() {
		addr := ":" + strconv.Itoa(serverCfg.Port)
		log.Printf("🌐 API server on http://localhost%s/api/stats", addr)
		if err := server.Start(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	world.Stop()
	world.StopEventLog()
	soundEngine.Stop()
	log.Println("👋 Goodbye!")
}
