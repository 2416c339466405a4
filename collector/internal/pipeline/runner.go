package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pilot-net/routerwatch/collector/internal/metrics"
)

// RunnerConfig holds configuration for the periodic runner.
type RunnerConfig struct {
	// Interval between fleet sweeps.
	Interval time.Duration
}

// DefaultRunnerConfig returns sensible defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Interval: 5 * time.Minute,
	}
}

// Runner sweeps the whole fleet on a fixed interval.
type Runner struct {
	pipeline *Pipeline
	config   RunnerConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
}

// NewRunner creates a new periodic runner.
func NewRunner(p *Pipeline, config RunnerConfig, logger *slog.Logger) *Runner {
	if config.Interval <= 0 {
		config.Interval = DefaultRunnerConfig().Interval
	}
	return &Runner{
		pipeline: p,
		config:   config,
		logger:   logger.With("component", "runner"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins sweeping in a goroutine.
func (r *Runner) Start(ctx context.Context) {
	r.started.Store(true)
	go r.run(ctx)
}

// Stop signals the runner to stop and waits for the current sweep.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if r.started.Load() {
		<-r.done
	}
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	r.logger.Info("runner started",
		"interval", r.config.Interval,
		"workers", r.pipeline.cfg.Workers,
		"cycle_timeout", r.pipeline.cfg.CycleTimeout,
	)

	// Run immediately on start
	r.runOnce(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping (context cancelled)")
			return
		case <-r.stopCh:
			r.logger.Info("runner stopping (stop signal)")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

// SweepSummary counts one sweep's results by outcome.
type SweepSummary struct {
	Devices  int
	Outcomes map[metrics.CycleOutcome]int
	NewLogs  int
	Alerts   int
}

// Summarize tallies results.
func Summarize(results []CycleResult) SweepSummary {
	s := SweepSummary{Devices: len(results), Outcomes: map[metrics.CycleOutcome]int{}}
	for _, res := range results {
		s.Outcomes[res.Outcome()]++
		s.NewLogs += res.NewLogCount
		if res.AlertCreated {
			s.Alerts++
		}
	}
	return s
}

func (r *Runner) runOnce(ctx context.Context) {
	start := time.Now()

	results, err := r.pipeline.Sweep(ctx)
	if err != nil {
		r.logger.Error("sweep failed", "error", err)
		return
	}

	sum := Summarize(results)
	snap := r.pipeline.Metrics().Snapshot()

	r.logger.Info("sweep complete",
		"devices", sum.Devices,
		"succeeded", sum.Outcomes[metrics.CycleSuccess]+sum.Outcomes[metrics.CyclePartial],
		"failed", sum.Outcomes[metrics.CycleFailed]+sum.Outcomes[metrics.CycleDeadline]+sum.Outcomes[metrics.CyclePersistErr],
		"skipped", sum.Outcomes[metrics.CycleSkipped],
		"new_logs", sum.NewLogs,
		"alerts_created", sum.Alerts,
		"duration_ms", time.Since(start).Milliseconds(),
		"total_alerts_created", snap.AlertsCreated,
		"total_logs_ingested", snap.LogsIngested,
		"ai_fallbacks", snap.AIFallbacks,
		"goroutines", snap.Process.Goroutines,
		"cpu_percent", snap.Process.CPUPercent,
		"memory_mb", snap.Process.MemoryMB,
	)
}
