package pipeline

import (
	"sort"
	"sync"
	"time"
)

// Metrics tracks per-job counters for observability.
type Metrics struct {
	mu sync.Mutex

	durations map[string]time.Duration
	ops       map[string]uint64
	errors    map[string]uint64
}

// NewMetrics creates an empty metrics registry.
func NewMetrics() *Metrics {
	return &Metrics{
		durations: make(map[string]time.Duration),
		ops:       make(map[string]uint64),
		errors:    make(map[string]uint64),
	}
}

// AddOps increments the operations counter for a job. Components report
// their own unit of work here, features painted or tiles fetched.
func (m *Metrics) AddOps(name string, value uint64) {
	if m == nil || value == 0 {
		return
	}
	m.mu.Lock()
	m.ops[name] += value
	m.mu.Unlock()
}

// SetDuration stores the wall-clock duration of a job run.
func (m *Metrics) SetDuration(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.durations[name] = d
	m.mu.Unlock()
}

// IncErrors increments the error counter for a job.
func (m *Metrics) IncErrors(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.errors[name]++
	m.mu.Unlock()
}

// JobStats is one row of a metrics snapshot.
type JobStats struct {
	Name     string
	Duration time.Duration
	Ops      uint64
	Errors   uint64
}

// Snapshot returns the recorded stats of all jobs, sorted by name.
func (m *Metrics) Snapshot() []JobStats {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make(map[string]struct{}, len(m.durations))
	for n := range m.durations {
		names[n] = struct{}{}
	}
	for n := range m.ops {
		names[n] = struct{}{}
	}
	for n := range m.errors {
		names[n] = struct{}{}
	}
	stats := make([]JobStats, 0, len(names))
	for n := range names {
		stats = append(stats, JobStats{
			Name:     n,
			Duration: m.durations[n],
			Ops:      m.ops[n],
			Errors:   m.errors[n],
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
