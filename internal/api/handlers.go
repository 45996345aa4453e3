package api

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"strconv"

	"horde/internal/config"
	"horde/internal/scheduler"

	"github.com/go-chi/chi/v5"
)

const (
	maxSpawnPerRequest = 500
	maxBlastRadius     = 500.0
	defaultBlastRadius = 10.0
)

// vec3Request is the JSON shape for a world position
type vec3Request struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v vec3Request) vec() scheduler.Vec3 {
	return scheduler.Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

// within reports whether every component is finite and no further than extent
// from the origin on its axis
func (v vec3Request) within(extent float64) bool {
	for _, c := range [...]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.Abs(c) > extent {
			return false
		}
	}
	return true
}

// =============================================================================
// READ-ONLY
// =============================================================================

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	snapshot := h.engine.GetSnapshot()
	stats := map[string]interface{}{
		"tick":        snapshot.Tick,
		"enemyCount":  snapshot.EnemyCount,
		"totalKills":  snapshot.TotalKills,
		"avatarAlive": snapshot.AvatarAlive,
		"tiers":       snapshot.Tiers,
		"lastTick":    snapshot.LastTick,
		"scheduler":   snapshot.Scheduler,
		"bodies":      snapshot.BodyStats,
		"effects":     snapshot.EffectStats,
		"events":      h.engine.GetEventLogStats(),
	}
	if h.audio != nil {
		stats["audio"] = h.audio.Stats()
	}
	writeJSON(w, stats)
}

func (h *routerHandlers) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.GetSnapshot())
}

func (h *routerHandlers) handleGetTiers(w http.ResponseWriter, r *http.Request) {
	snapshot := h.engine.GetSnapshot()
	writeJSON(w, map[string]interface{}{
		"tick":     snapshot.Tick,
		"tiers":    snapshot.Tiers,
		"resolved": snapshot.LastTick.Resolved,
	})
}

// handleGetTierMap renders the latest snapshot as a PNG (?size=128..1024)
func (h *routerHandlers) handleGetTierMap(w http.ResponseWriter, r *http.Request) {
	size := 0
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, "Invalid size", http.StatusBadRequest)
			return
		}
		size = n
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	err := h.tierMap.WritePNG(w, h.engine.GetSnapshot(), h.engine.SchedulerConfig(), h.config.World.Radius, size)
	if err != nil {
		log.Printf("⚠️ Tier map encode failed: %v", err)
	}
}

func (h *routerHandlers) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	info, found := h.engine.Enemy(id)
	if !found {
		writeError(w, "Entity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, info)
}

func (h *routerHandlers) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.config
	cfg.Scheduler = h.engine.SchedulerConfig()
	cfg.Server.AdminToken = ""

	if r.URL.Query().Get("format") == "yaml" {
		data, err := config.Marshal(cfg)
		if err != nil {
			writeError(w, "Failed to encode config", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(data)
		return
	}
	writeJSON(w, cfg)
}

// =============================================================================
// ENTITIES
// =============================================================================

func (h *routerHandlers) handleSpawnEntities(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count  int     `json:"count"`
		Radius float64 `json:"radius"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if req.Count <= 0 {
		req.Count = 10 // Default
	}
	if req.Count > maxSpawnPerRequest {
		req.Count = maxSpawnPerRequest // Cap
	}
	if req.Radius < 0 || math.IsNaN(req.Radius) || req.Radius > h.config.World.Extent {
		writeError(w, "Radius must be between 0 and the world extent", http.StatusBadRequest)
		return
	}

	ids := h.engine.SpawnEnemies(req.Count, req.Radius)
	if len(ids) == 0 {
		writeError(w, "Enemy limit reached", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"count":   len(ids),
		"ids":     ids,
	})
}

func (h *routerHandlers) handleDespawnEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if !h.engine.DespawnEnemy(id) {
		writeError(w, "Entity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

// =============================================================================
// AVATAR
// =============================================================================

func (h *routerHandlers) handleMoveAvatar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		vec3Request
		Patrol bool `json:"patrol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.within(h.config.World.Extent) {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	h.engine.MoveAvatar(req.vec(), req.Patrol)
	writeJSON(w, map[string]bool{"success": true})
}

func (h *routerHandlers) handleDespawnAvatar(w http.ResponseWriter, r *http.Request) {
	log.Println("🎮 Avatar despawn requested via API")
	writeJSON(w, map[string]bool{"success": h.engine.DespawnAvatar()})
}

// =============================================================================
// PRODUCERS
// =============================================================================

func (h *routerHandlers) handleBlast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		vec3Request
		Radius float64 `json:"radius"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.within(h.config.World.Extent) {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if req.Radius == 0 {
		req.Radius = defaultBlastRadius
	}
	if req.Radius < 0 || req.Radius > maxBlastRadius || math.IsNaN(req.Radius) {
		writeError(w, "Radius out of range", http.StatusBadRequest)
		return
	}

	kills := h.engine.Blast(req.vec(), req.Radius)
	writeJSON(w, map[string]interface{}{
		"success": true,
		"kills":   kills,
	})
}

// handleSubmitEffect queues an effect through the inbox; it is applied at the
// start of the next tick
func (h *routerHandlers) handleSubmitEffect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		vec3Request
		Prefab string  `json:"prefab"`
		Yaw    float64 `json:"yaw"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.within(h.config.World.Extent) {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Prefab == "" {
		writeError(w, "Prefab is required", http.StatusBadRequest)
		return
	}

	ok := h.engine.Submitter().TrySubmitEffect(scheduler.EffectRequest{
		Prefab:   req.Prefab,
		Position: req.vec(),
		Rotation: scheduler.YawQuat(req.Yaw),
	})
	writeAccepted(w, ok)
}

func (h *routerHandlers) handleSubmitSound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		vec3Request
		Volume float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.within(h.config.World.Extent) {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Volume <= 0 {
		req.Volume = 1
	}

	ok := h.engine.Submitter().TrySubmitAudio(scheduler.AudioRequest{
		Position: req.vec(),
		Volume:   math.Min(req.Volume, 1),
	})
	writeAccepted(w, ok)
}

// Helper functions (package-level for reuse)

func parseID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, "Invalid entity id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeAccepted(w http.ResponseWriter, ok bool) {
	if !ok {
		writeError(w, "Inbox full", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]bool{"accepted": true})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
