// Package metrics holds the collector's process-wide counters.
//
// Counters live in memory only and reset on restart. The registry is the
// single piece of state shared across concurrent collection cycles.
package metrics

import (
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// CycleOutcome labels a finished collection cycle.
type CycleOutcome string

const (
	CycleSuccess    CycleOutcome = "success"
	CyclePartial    CycleOutcome = "partial"
	CycleFailed     CycleOutcome = "failed"
	CycleSkipped    CycleOutcome = "skipped"
	CycleDeadline   CycleOutcome = "deadline"
	CyclePersistErr CycleOutcome = "persistence_error"
)

// Registry is a mutex-guarded set of labelled counters.
type Registry struct {
	startTime time.Time

	mu            sync.Mutex
	aiRequests    map[aiKey]uint64
	aiFallbacks   map[string]uint64
	cycles        map[CycleOutcome]uint64
	alertsCreated uint64
	logsIngested  uint64

	// Cached process stats
	procMu     sync.RWMutex
	cachedProc *ProcessStats
	procExpiry time.Time
	procTTL    time.Duration
	sampleProc func() ProcessStats
}

type aiKey struct {
	provider string
	outcome  string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{
		startTime:   time.Now(),
		aiRequests:  map[aiKey]uint64{},
		aiFallbacks: map[string]uint64{},
		cycles:      map[CycleOutcome]uint64{},
		procTTL:     30 * time.Second,
	}
	r.sampleProc = r.collectProcess
	return r
}

// IncAIRequest counts one analysis backend call.
func (r *Registry) IncAIRequest(provider, outcome string) {
	r.mu.Lock()
	r.aiRequests[aiKey{provider, outcome}]++
	r.mu.Unlock()
}

// IncAIFallback counts one fallback from provider to heuristics.
func (r *Registry) IncAIFallback(provider string) {
	r.mu.Lock()
	r.aiFallbacks[provider]++
	r.mu.Unlock()
}

// IncCycle counts one finished cycle.
func (r *Registry) IncCycle(outcome CycleOutcome) {
	r.mu.Lock()
	r.cycles[outcome]++
	r.mu.Unlock()
}

// AddLogsIngested adds n persisted log records.
func (r *Registry) AddLogsIngested(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.logsIngested += uint64(n)
	r.mu.Unlock()
}

// IncAlertCreated counts one newly created alert.
func (r *Registry) IncAlertCreated() {
	r.mu.Lock()
	r.alertsCreated++
	r.mu.Unlock()
}

// AIRequests returns the count for one provider and outcome.
func (r *Registry) AIRequests(provider, outcome string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aiRequests[aiKey{provider, outcome}]
}

// AIFallbacks returns the fallback count for provider.
func (r *Registry) AIFallbacks(provider string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aiFallbacks[provider]
}

// Cycles returns the count for one cycle outcome.
func (r *Registry) Cycles(outcome CycleOutcome) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles[outcome]
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// AICounter is one ai_requests_total series.
type AICounter struct {
	Provider string `json:"provider"`
	Outcome  string `json:"outcome"`
	Count    uint64 `json:"count"`
}

// ProcessStats describes the collector process.
type ProcessStats struct {
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Timestamp     time.Time               `json:"timestamp"`
	AIRequests    []AICounter             `json:"ai_requests_total"`
	AIFallbacks   map[string]uint64       `json:"ai_fallbacks_total"`
	Cycles        map[CycleOutcome]uint64 `json:"cycles_total"`
	AlertsCreated uint64                  `json:"alerts_created_total"`
	LogsIngested  uint64                  `json:"logs_ingested_total"`
	Process       ProcessStats            `json:"process"`
}

// Snapshot copies the counters. Process stats are sampled at most once per
// 30 seconds.
func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		Timestamp:   time.Now().UTC(),
		AIFallbacks: map[string]uint64{},
		Cycles:      map[CycleOutcome]uint64{},
	}

	r.mu.Lock()
	for k, v := range r.aiRequests {
		s.AIRequests = append(s.AIRequests, AICounter{Provider: k.provider, Outcome: k.outcome, Count: v})
	}
	for k, v := range r.aiFallbacks {
		s.AIFallbacks[k] = v
	}
	for k, v := range r.cycles {
		s.Cycles[k] = v
	}
	s.AlertsCreated = r.alertsCreated
	s.LogsIngested = r.logsIngested
	r.mu.Unlock()

	sort.Slice(s.AIRequests, func(i, j int) bool {
		if s.AIRequests[i].Provider != s.AIRequests[j].Provider {
			return s.AIRequests[i].Provider < s.AIRequests[j].Provider
		}
		return s.AIRequests[i].Outcome < s.AIRequests[j].Outcome
	})

	s.Process = r.processStats()
	return s
}

func (r *Registry) processStats() ProcessStats {
	r.procMu.RLock()
	if r.cachedProc != nil && time.Now().Before(r.procExpiry) {
		stats := *r.cachedProc
		r.procMu.RUnlock()
		return stats
	}
	r.procMu.RUnlock()

	stats := r.sampleProc()

	r.procMu.Lock()
	r.cachedProc = &stats
	r.procExpiry = time.Now().Add(r.procTTL)
	r.procMu.Unlock()

	return stats
}

func (r *Registry) collectProcess() ProcessStats {
	stats := ProcessStats{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(r.startTime).Seconds()),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return stats
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		stats.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	if memPct, err := proc.MemoryPercent(); err == nil {
		stats.MemoryPercent = float64(memPct)
	}
	return stats
}
