// Package alerting turns analysis verdicts into deduplicated alerts and
// moves them through their audited lifecycle.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/routerwatch/collector/internal/judge"
	"github.com/pilot-net/routerwatch/pkg/types"
)

var (
	ErrAlertNotFound = errors.New("alert not found")
	ErrInvalidStatus = errors.New("invalid alert status")
)

// Alert text limits and defaults.
const (
	TitleAI               = "Reporte Forense IA"
	MaxDescription        = 512
	MaxRecommendedAction  = 255
	DefaultRecommendation = "Ver detalles en dashboard"
)

// Store persists alerts and their history. Every call is tenant-scoped.
type Store interface {
	// CreateAlertIfAbsent inserts alert and its creation history row in one
	// transaction unless an alert with the same tenant, device and title was
	// created within window before alert.CreatedAt. It returns the stored
	// alert and whether it was created.
	CreateAlertIfAbsent(ctx context.Context, alert *types.Alert, window time.Duration) (*types.Alert, bool, error)

	// TransitionAlert locks the alert row, updates status, comment and
	// updated_at, and appends one history row. Returns nil, nil when the
	// alert does not exist for the tenant.
	TransitionAlert(ctx context.Context, tenantID, alertID string, status types.AlertStatus, actor, comment string, at time.Time) (*types.Alert, error)

	// ListActiveAlerts returns the device's alerts not in Resuelta.
	ListActiveAlerts(ctx context.Context, tenantID, deviceID string) ([]types.Alert, error)
}

// Notifier is told about newly created alerts. Failures are logged only.
type Notifier interface {
	NotifyAlert(ctx context.Context, target types.DeviceTarget, alert *types.Alert) error
}

// Config holds alert engine settings.
type Config struct {
	AIDedupWindow        time.Duration `yaml:"ai_dedup_window" toml:"ai_dedup_window"`
	HeuristicDedupWindow time.Duration `yaml:"heuristic_dedup_window" toml:"heuristic_dedup_window"`
}

// DefaultConfig returns the default dedup windows.
func DefaultConfig() Config {
	return Config{
		AIDedupWindow:        time.Hour,
		HeuristicDedupWindow: 10 * time.Minute,
	}
}

// Engine reconciles verdicts into alerts.
type Engine struct {
	store    Store
	cfg      Config
	notifier Notifier
	logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates an Engine. notifier may be nil.
func New(cfg Config, store Store, notifier Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.With("component", "alert_engine"),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Reconcile creates at most one alert for a device's cycle. It returns the
// new alert, or nil when nothing warrants one or an equivalent alert is
// still inside its dedup window.
func (e *Engine) Reconcile(ctx context.Context, target types.DeviceTarget, verdict types.AnalysisVerdict, findings []types.Finding) (*types.Alert, error) {
	if verdict.Degraded {
		verdict = judge.HeuristicVerdict(findings)
	}

	if verdict.Status == types.VerdictHealthy && len(findings) == 0 {
		return nil, nil
	}

	alert, window := e.build(target, verdict, findings)

	stored, created, err := e.store.CreateAlertIfAbsent(ctx, alert, window)
	if err != nil {
		return nil, fmt.Errorf("creating alert: %w", err)
	}
	if !created {
		e.logger.Debug("alert deduplicated",
			"device_id", target.ID,
			"title", alert.Title,
			"existing_id", stored.ID)
		return nil, nil
	}

	e.logger.Info("alert created",
		"alert_id", stored.ID,
		"device_id", target.ID,
		"tenant_id", target.TenantID,
		"severity", stored.Severity,
		"title", stored.Title)

	if e.notifier != nil {
		if err := e.notifier.NotifyAlert(ctx, target, stored); err != nil {
			e.logger.Warn("alert notification failed", "alert_id", stored.ID, "error", err)
		}
	}
	return stored, nil
}

func (e *Engine) build(target types.DeviceTarget, verdict types.AnalysisVerdict, findings []types.Finding) (*types.Alert, time.Duration) {
	now := e.now().UTC()
	alert := &types.Alert{
		ID:          e.newID(),
		TenantID:    target.TenantID,
		DeviceID:    target.ID,
		Severity:    Severity(verdict.Status, findings),
		Status:      types.StatusPending,
		LastComment: "Generado automáticamente por " + verdict.Backend,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	recs := strings.Join(verdict.Recommendations, "; ")
	alert.RecommendedAction = truncate(recs, MaxRecommendedAction)
	if alert.RecommendedAction == "" {
		alert.RecommendedAction = DefaultRecommendation
	}

	if verdict.Local() {
		alert.Source = types.AlertSourceHeuristic
		alert.Title = HeuristicTitle(findings)
		alert.Description = truncate(strings.Join(types.Descriptions(findings), " "), MaxDescription)
		return alert, e.cfg.HeuristicDedupWindow
	}

	alert.Source = types.AlertSourceAI
	alert.Title = TitleAI
	alert.Description = truncate(describe(verdict), MaxDescription)
	return alert, e.cfg.AIDedupWindow
}

func describe(v types.AnalysisVerdict) string {
	var parts []string
	for _, s := range []string{v.Summary, v.Narrative} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// =============================================================================
// SEVERITY
// =============================================================================

// Severity maps a verdict status to an alert severity, raised to the floor
// of the most severe finding. Findings never lower it.
func Severity(status types.VerdictStatus, findings []types.Finding) types.AlertSeverity {
	sev := types.SeverityNotice
	switch status {
	case types.VerdictCritical:
		sev = types.SeveritySevere
	case types.VerdictWarning:
		sev = types.SeverityMinor
	}
	for _, f := range findings {
		sev = sev.Max(findingFloor(f))
	}
	return sev
}

func findingFloor(f types.Finding) types.AlertSeverity {
	if f.Critical {
		return types.SeverityCritical
	}
	switch f.Kind {
	case types.FindingPower, types.FindingBruteForce, types.FindingLinkInstability:
		return types.SeveritySevere
	case types.FindingPhysical, types.FindingCongestion:
		return types.SeverityMinor
	}
	return types.SeverityNotice
}

var findingTitles = map[types.FindingKind]string{
	types.FindingLinkInstability: "Inestabilidad WAN detectada",
	types.FindingPhysical:        "Errores físicos en interfaz",
	types.FindingCongestion:      "Congestión en interfaz",
	types.FindingPower:           "Voltaje bajo",
	types.FindingCPU:             "CPU crítica",
	types.FindingBruteForce:      "Posible ataque de fuerza bruta",
}

// HeuristicTitle is the title of the most severe finding; the first one
// wins ties.
func HeuristicTitle(findings []types.Finding) string {
	if len(findings) == 0 {
		return "Reporte heurístico"
	}
	top := findings[0]
	for _, f := range findings[1:] {
		if findingFloor(f).Level() > findingFloor(top).Level() {
			top = f
		}
	}
	if t, ok := findingTitles[top.Kind]; ok {
		return t
	}
	return "Reporte heurístico"
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Transition moves an alert to status. Any status may follow any other,
// including reopening a resolved alert.
func (e *Engine) Transition(ctx context.Context, tenantID, alertID string, status types.AlertStatus, actor, comment string) (*types.Alert, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if actor == "" {
		actor = types.SystemActor
	}

	alert, err := e.store.TransitionAlert(ctx, tenantID, alertID, status, actor, comment, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("transitioning alert: %w", err)
	}
	if alert == nil {
		return nil, ErrAlertNotFound
	}

	e.logger.Info("alert transitioned",
		"alert_id", alertID,
		"tenant_id", tenantID,
		"status", status,
		"actor", actor)
	return alert, nil
}

// DeviceHealth summarizes a device's unresolved alerts: rojo for any
// Severa or Crítica, amarillo for any Menor, verde otherwise.
func (e *Engine) DeviceHealth(ctx context.Context, tenantID, deviceID string) (types.DeviceHealth, error) {
	alerts, err := e.store.ListActiveAlerts(ctx, tenantID, deviceID)
	if err != nil {
		return "", fmt.Errorf("listing active alerts: %w", err)
	}

	health := types.HealthGreen
	for _, a := range alerts {
		switch {
		case a.Severity.Level() >= types.SeveritySevere.Level():
			return types.HealthRed, nil
		case a.Severity == types.SeverityMinor:
			health = types.HealthYellow
		}
	}
	return health, nil
}
