// Package metrics collects runtime statistics for the label pipeline: an
// in-memory per-stage timing collector and Prometheus instruments.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated timings for one pipeline stage.
type OperationMetrics struct {
	Count     int64
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Failures    int64   `json:"failures"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// Snapshot represents the pipeline statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	Allocate      *OperationSnapshot `json:"allocate,omitempty"`
	Persist       *OperationSnapshot `json:"persist,omitempty"`
	Render        *OperationSnapshot `json:"render,omitempty"`
	Merge         *OperationSnapshot `json:"merge,omitempty"`
	Dispatch      *OperationSnapshot `json:"dispatch,omitempty"`
}

// Stage names.
const (
	OpAllocate = "allocate"
	OpPersist  = "persist"
	OpRender   = "render"
	OpMerge    = "merge"
	OpDispatch = "dispatch"
)

// Collector aggregates in-memory stage timings.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records one run of a stage.
func (c *Collector) RecordTiming(op string, duration time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	if failed {
		m.Failures++
	}
	m.TotalTime += duration
	m.MinTime = min(m.MinTime, duration)
	m.MaxTime = max(m.MaxTime, duration)
}

func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}
	return &OperationSnapshot{
		Count:       m.Count,
		Failures:    m.Failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all stages.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Allocate:      snapshotOp(c.ops[OpAllocate]),
		Persist:       snapshotOp(c.ops[OpPersist]),
		Render:        snapshotOp(c.ops[OpRender]),
		Merge:         snapshotOp(c.ops[OpMerge]),
		Dispatch:      snapshotOp(c.ops[OpDispatch]),
	}
}
