package game

import (
	"encoding/json"
	"time"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeSpawn
	EventTypeDespawn
	EventTypeKill
	EventTypeBlast
	EventTypeTierChange
	EventTypeAvatarMove
	EventTypeAvatarLost
)

// EventVersion for backwards compatibility of the JSONL log
const EventVersion uint8 = 1

// Event is one record of the world event log
type Event struct {
	Version   uint8           `json:"version"`
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Assigned by the log
	TickNum   uint64          `json:"tickNum"`
	Source    string          `json:"source"` // Producer key for rate limiting ("world", "api", ...)
	Payload   json.RawMessage `json:"payload"`
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeSpawn:
		return "spawn"
	case EventTypeDespawn:
		return "despawn"
	case EventTypeKill:
		return "kill"
	case EventTypeBlast:
		return "blast"
	case EventTypeTierChange:
		return "tier_change"
	case EventTypeAvatarMove:
		return "avatar_move"
	case EventTypeAvatarLost:
		return "avatar_lost"
	default:
		return "unknown"
	}
}

// MarshalText writes the type by name so the log is readable
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a type name; unknown names map to EventTypeUnknown
func (t *EventType) UnmarshalText(text []byte) error {
	*t = EventTypeUnknown
	for c := EventTypeSpawn; c <= EventTypeAvatarLost; c++ {
		if c.String() == string(text) {
			*t = c
			break
		}
	}
	return nil
}

// SpawnPayload records enemies entering the world
type SpawnPayload struct {
	Count int     `json:"count"`
	Total int     `json:"total"`
	Ring  float64 `json:"ring"`
}

// DespawnPayload records an enemy removed without being killed
type DespawnPayload struct {
	EnemyID uint64 `json:"enemyId"`
}

// KillPayload records one enemy killed by a blast
type KillPayload struct {
	EnemyID uint64  `json:"enemyId"`
	BodyID  uint64  `json:"bodyId"`
	X       float64 `json:"x"`
	Z       float64 `json:"z"`
}

// BlastPayload records an area kill
type BlastPayload struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
	Radius float64 `json:"radius"`
	Kills  int     `json:"kills"`
}

// TierChangePayload records a classifier transition
type TierChangePayload struct {
	EnemyID uint64 `json:"enemyId"`
	Tier    string `json:"tier"`
}

// AvatarPayload records reference point changes
type AvatarPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, tickNum uint64, source string, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		TickNum:   tickNum,
		Source:    source,
		Payload:   EncodePayload(payload),
	}
}
