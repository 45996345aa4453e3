package game

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	EventBufferSize      = 1024                   // Ring buffer size
	MaxEventsPerSec      = 5000                   // Global rate limit
	MaxEventsPerSource   = 1000                   // Per-source rate limit per second
	BatchFlushSize       = 64                     // Events per batch write
	BatchFlushInterval   = 100 * time.Millisecond // How often to flush
	SourceLimiterCleanup = 5 * time.Minute        // Cleanup interval for source limiters
)

// EventLog is a bounded, rate-limited JSONL event log.
// Emit never blocks the tick: when the ring is full the oldest event is dropped.
type EventLog struct {
	mu     sync.Mutex
	buffer [EventBufferSize]Event
	head   uint64 // next sequence to write
	tail   uint64 // next sequence to flush

	globalLimiter  *rate.Limiter
	sourceLimiters sync.Map // map[string]*sourceLimiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	filePath string
	file     *os.File
	out      *bufio.Writer

	droppedCount atomic.Uint64
	totalCount   atomic.Uint64
	writtenCount atomic.Uint64
}

// sourceLimiterEntry tracks per-source rate limiting
type sourceLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // unix nano
}

// EventLogStats is reported by /api/stats
type EventLogStats struct {
	Total   uint64 `json:"total"`
	Dropped uint64 `json:"dropped"`
	Written uint64 `json:"written"`
	Pending uint64 `json:"pending"`
	Running bool   `json:"running"`
}

// NewEventLog creates a new bounded event log
func NewEventLog() *EventLog {
	return &EventLog{
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
	}
}

// Start begins the async writer. An empty path keeps events in memory only.
func (el *EventLog) Start(filePath string) error {
	if el.running.Load() {
		return nil
	}

	el.filePath = filePath
	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		el.file = file
		el.out = bufio.NewWriter(file)
	}

	el.running.Store(true)
	el.writerWg.Add(2)
	go el.writerLoop()
	go el.cleanupLoop()
	return nil
}

// Stop flushes what is pending and closes the file
func (el *EventLog) Stop() {
	el.stopOnce.Do(func() {
		if !el.running.Load() {
			return
		}
		el.running.Store(false)
		close(el.stopChan)
		el.writerWg.Wait()

		if el.file != nil {
			el.out.Flush()
			el.file.Close()
		}
	})
}

// Emit adds an event. Returns false if rate limited or not running.
func (el *EventLog) Emit(event Event) bool {
	if !el.running.Load() {
		return false
	}

	if !el.globalLimiter.Allow() {
		el.droppedCount.Add(1)
		return false
	}

	// One chatty producer must not starve the others
	if event.Source != "" && !el.sourceLimiter(event.Source).Allow() {
		el.droppedCount.Add(1)
		return false
	}

	el.mu.Lock()
	if el.head-el.tail >= EventBufferSize {
		// Rolling window: overwrite the oldest unflushed event
		el.tail++
		el.droppedCount.Add(1)
	}
	event.Sequence = el.head
	el.buffer[el.head%EventBufferSize] = event
	el.head++
	el.mu.Unlock()

	el.totalCount.Add(1)
	return true
}

// EmitSimple builds and emits an event
func (el *EventLog) EmitSimple(eventType EventType, tickNum uint64, source string, payload interface{}) bool {
	return el.Emit(NewEvent(eventType, tickNum, source, payload))
}

func (el *EventLog) sourceLimiter(source string) *rate.Limiter {
	now := time.Now().UnixNano()
	if v, ok := el.sourceLimiters.Load(source); ok {
		entry := v.(*sourceLimiterEntry)
		entry.lastUsed.Store(now)
		return entry.limiter
	}

	entry := &sourceLimiterEntry{
		limiter: rate.NewLimiter(MaxEventsPerSource, MaxEventsPerSource/10),
	}
	entry.lastUsed.Store(now)
	actual, _ := el.sourceLimiters.LoadOrStore(source, entry)
	return actual.(*sourceLimiterEntry).limiter
}

func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushSize)
	for {
		select {
		case <-el.stopChan:
			for {
				batch = el.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				el.flushBatch(batch)
			}
		case <-ticker.C:
			batch = el.collectBatch(batch[:0])
			if len(batch) > 0 {
				el.flushBatch(batch)
			}
		}
	}
}

// cleanupLoop removes idle source limiters
func (el *EventLog) cleanupLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(SourceLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			return
		case <-ticker.C:
			el.cleanupSourceLimiters(time.Now().Add(-SourceLimiterCleanup))
		}
	}
}

func (el *EventLog) cleanupSourceLimiters(cutoff time.Time) {
	el.sourceLimiters.Range(func(key, value interface{}) bool {
		if value.(*sourceLimiterEntry).lastUsed.Load() < cutoff.UnixNano() {
			el.sourceLimiters.Delete(key)
		}
		return true
	})
}

// collectBatch moves up to BatchFlushSize events out of the ring
func (el *EventLog) collectBatch(batch []Event) []Event {
	el.mu.Lock()
	defer el.mu.Unlock()

	for el.tail < el.head && len(batch) < BatchFlushSize {
		idx := el.tail % EventBufferSize
		batch = append(batch, el.buffer[idx])
		el.buffer[idx] = Event{}
		el.tail++
	}
	return batch
}

// flushBatch appends newline-delimited JSON
func (el *EventLog) flushBatch(batch []Event) {
	if el.out == nil {
		el.writtenCount.Add(uint64(len(batch)))
		return
	}

	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		el.out.Write(data)
		el.out.WriteByte('\n')
		el.writtenCount.Add(1)
	}
	el.out.Flush()
}

// GetStats returns counters for monitoring
func (el *EventLog) GetStats() EventLogStats {
	el.mu.Lock()
	pending := el.head - el.tail
	el.mu.Unlock()

	return EventLogStats{
		Total:   el.totalCount.Load(),
		Dropped: el.droppedCount.Load(),
		Written: el.writtenCount.Load(),
		Pending: pending,
		Running: el.running.Load(),
	}
}
