// Package pipeline runs collection cycles: mine a device, persist its new
// log lines, analyze, and reconcile alerts.
//
// # Cycle
//
// A cycle holds its device's lock from start to finish and runs under one
// deadline. Stages are strictly sequential:
//
//	lock → load device → mine → ingest logs → heuristics + judge → reconcile
//
// Connection and credential failures end the cycle before anything is
// written. A persistence failure ends it before reconciliation. Analysis
// failures degrade to the heuristic verdict and the cycle continues.
// Whatever happens, RunCollectionCycle returns a CycleResult and never
// panics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/pilot-net/routerwatch/collector/internal/judge"
	"github.com/pilot-net/routerwatch/collector/internal/lock"
	"github.com/pilot-net/routerwatch/collector/internal/logs"
	"github.com/pilot-net/routerwatch/collector/internal/metrics"
	"github.com/pilot-net/routerwatch/collector/internal/miner"
	"github.com/pilot-net/routerwatch/pkg/types"
)

// ErrCycleInFlight is returned when the device already has a running cycle.
var ErrCycleInFlight = errors.New("collection cycle already in flight")

// ErrDeviceNotFound is returned for unknown or disabled devices.
var ErrDeviceNotFound = errors.New("device not found")

// PersistenceError reports a failed database read or write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DeviceRegistry resolves device targets.
type DeviceRegistry interface {
	GetDevice(ctx context.Context, id string) (*types.DeviceTarget, error)
	ListDeviceIDs(ctx context.Context) ([]string, error)
}

// Store is everything a cycle reads from or writes to the database besides
// alerts.
type Store interface {
	DeviceRegistry
	logs.Store
}

// Miner produces a snapshot for one device.
type Miner interface {
	Mine(ctx context.Context, target types.DeviceTarget) (*types.ForensicSnapshot, error)
}

// Analyzer runs the local heuristic rules.
type Analyzer interface {
	Analyze(snap *types.ForensicSnapshot) []types.Finding
}

// AlertReconciler turns a verdict into at most one alert.
type AlertReconciler interface {
	Reconcile(ctx context.Context, target types.DeviceTarget, verdict types.AnalysisVerdict, findings []types.Finding) (*types.Alert, error)
}

// Config holds cycle settings.
type Config struct {
	// CycleTimeout bounds one whole cycle.
	CycleTimeout time.Duration

	// Workers caps concurrently running cycles in RunAll.
	Workers int
}

// DefaultConfig returns the default cycle settings.
func DefaultConfig() Config {
	return Config{
		CycleTimeout: 2 * time.Minute,
		Workers:      8,
	}
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Store      Store
	Miner      Miner
	Normalizer *logs.Normalizer
	Analyzer   Analyzer
	Judge      judge.Judge
	Alerts     AlertReconciler
	Locker     lock.Locker
	Metrics    *metrics.Registry
}

// Pipeline runs collection cycles.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

// New creates a Pipeline. A nil Locker defaults to an in-process lock and a
// nil Metrics to a fresh registry.
func New(cfg Config, deps Deps, logger *slog.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = def.CycleTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewKeyed()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRegistry()
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "pipeline"),
	}
}

// Metrics returns the registry the pipeline records into.
func (p *Pipeline) Metrics() *metrics.Registry {
	return p.deps.Metrics
}

// =============================================================================
// CYCLE RESULT
// =============================================================================

// CycleResult is the outcome of one collection cycle.
type CycleResult struct {
	DeviceID string `json:"device_id"`
	TenantID string `json:"tenant_id,omitempty"`
	Provider string `json:"provider,omitempty"`

	NewLogCount  int                   `json:"new_log_count"`
	AlertCreated bool                  `json:"alert_created"`
	Alert        *types.Alert          `json:"alert,omitempty"`
	Verdict      types.AnalysisVerdict `json:"verdict"`
	Findings     []types.Finding       `json:"findings,omitempty"`

	// Partial lists the mining queries that failed.
	Partial  []string      `json:"partial,omitempty"`
	Duration time.Duration `json:"duration"`

	// Err is set when the cycle did not complete. AnalysisErr is set when
	// the judge failed and the heuristic verdict was used instead.
	Err         error `json:"-"`
	AnalysisErr error `json:"-"`

	// TimedOut is set when the cycle deadline expired before completion.
	TimedOut bool `json:"timed_out,omitempty"`
}

// Outcome classifies the result for metrics.
func (r CycleResult) Outcome() metrics.CycleOutcome {
	var pe *PersistenceError
	switch {
	case errors.Is(r.Err, ErrCycleInFlight):
		return metrics.CycleSkipped
	case r.Err != nil && r.TimedOut:
		return metrics.CycleDeadline
	case errors.As(r.Err, &pe):
		return metrics.CyclePersistErr
	case r.Err != nil:
		return metrics.CycleFailed
	case len(r.Partial) > 0:
		return metrics.CyclePartial
	default:
		return metrics.CycleSuccess
	}
}

// =============================================================================
// RUN
// =============================================================================

// RunCollectionCycle runs one cycle for deviceID.
func (p *Pipeline) RunCollectionCycle(ctx context.Context, deviceID string) (res CycleResult) {
	start := time.Now()
	res.DeviceID = deviceID

	var cycleCtx context.Context
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("collection cycle panicked: %v", r)
			p.logger.Error("collection cycle panicked",
				"device_id", deviceID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
		if res.Err != nil && cycleCtx != nil && errors.Is(cycleCtx.Err(), context.DeadlineExceeded) {
			res.TimedOut = true
		}
		res.Duration = time.Since(start)
		p.finish(res)
	}()

	release, ok, err := p.deps.Locker.TryLock(ctx, deviceID)
	if err != nil {
		res.Err = fmt.Errorf("acquiring device lock: %w", err)
		return res
	}
	if !ok {
		res.Err = ErrCycleInFlight
		return res
	}
	defer release()

	var cancel context.CancelFunc
	cycleCtx, cancel = context.WithTimeout(ctx, p.cfg.CycleTimeout)
	defer cancel()

	p.run(cycleCtx, &res)
	return res
}

func (p *Pipeline) run(ctx context.Context, res *CycleResult) {
	target, err := p.deps.Store.GetDevice(ctx, res.DeviceID)
	if err != nil {
		res.Err = &PersistenceError{Op: "load device", Err: err}
		return
	}
	if target == nil {
		res.Err = ErrDeviceNotFound
		return
	}
	res.TenantID = target.TenantID

	snap, err := p.deps.Miner.Mine(ctx, *target)
	if err != nil {
		res.Err = err
		return
	}
	res.Provider = snap.Provider
	res.Partial = snap.Partial
	if perr := miner.PartialError(snap); perr != nil {
		p.logger.Warn("continuing with partial snapshot", "device_id", target.ID, "error", perr)
	}

	n, err := p.deps.Normalizer.Ingest(ctx, p.deps.Store, *target, snap.Logs)
	if err != nil {
		res.Err = &PersistenceError{Op: "ingest logs", Err: err}
		return
	}
	res.NewLogCount = n
	p.deps.Metrics.AddLogsIngested(n)

	findings := p.deps.Analyzer.Analyze(snap)
	snap.Heuristics = types.Descriptions(findings)
	res.Findings = findings

	verdict, err := p.deps.Judge.Judge(ctx, snap, findings)
	if err != nil {
		res.AnalysisErr = err
		var be *judge.AIBackendError
		if errors.As(err, &be) {
			p.deps.Metrics.IncAIFallback(be.Backend)
		}
		p.logger.Warn("analysis failed, using heuristic verdict",
			"device_id", target.ID,
			"judge", p.deps.Judge.Name(),
			"error", err)
	}
	if verdict.Degraded {
		verdict = judge.HeuristicVerdict(findings)
	}
	res.Verdict = verdict

	alert, err := p.deps.Alerts.Reconcile(ctx, *target, verdict, findings)
	if err != nil {
		res.Err = &PersistenceError{Op: "reconcile alerts", Err: err}
		return
	}
	if alert != nil {
		res.Alert = alert
		res.AlertCreated = true
		p.deps.Metrics.IncAlertCreated()
	}
}

func (p *Pipeline) finish(res CycleResult) {
	outcome := res.Outcome()
	p.deps.Metrics.IncCycle(outcome)

	attrs := []any{
		"device_id", res.DeviceID,
		"tenant_id", res.TenantID,
		"outcome", outcome,
		"provider", res.Provider,
		"new_logs", res.NewLogCount,
		"findings", len(res.Findings),
		"verdict", res.Verdict.Status,
		"alert_created", res.AlertCreated,
		"duration", res.Duration,
	}

	switch outcome {
	case metrics.CycleSuccess, metrics.CyclePartial:
		if len(res.Partial) > 0 {
			attrs = append(attrs, "failed_queries", res.Partial)
		}
		p.logger.Info("collection cycle complete", attrs...)
	case metrics.CycleSkipped:
		p.logger.Debug("collection cycle skipped", "device_id", res.DeviceID, "reason", res.Err)
	default:
		p.logger.Error("collection cycle failed", append(attrs, "error", res.Err)...)
	}
}
