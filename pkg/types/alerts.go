// Package types - Alert lifecycle
//
// # Alerting Design
//
// Alerts are produced by the alert engine from an analysis verdict and the
// heuristic findings of one collection cycle. An alert is never overwritten:
// operators move it through its lifecycle with explicit status transitions,
// and every transition appends one AlertStatusHistory row in the same
// transaction as the alert update.
//
//	Pendiente ──► En curso ──► Resuelta
//	    ▲            │             │
//	    └────────────┴─────────────┘   (reopen)
//
// History rows are the SLA source of truth: mean time to resolution is the
// distance between an alert's creation and its first transition to Resuelta.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// ALERT
// =============================================================================

// Alert is an operational alert raised for one device.
type Alert struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	DeviceID string `json:"device_id"`

	Severity          AlertSeverity `json:"severity"`
	Title             string        `json:"title"`
	Description       string        `json:"description"`
	RecommendedAction string        `json:"recommended_action"`
	Source            AlertSource   `json:"source"`

	Status      AlertStatus `json:"status"`
	LastComment string      `json:"last_comment,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AlertStatusHistory is one immutable lifecycle transition.
// PreviousStatus is empty for the row written at creation.
type AlertStatusHistory struct {
	ID             int64       `json:"id"`
	AlertID        string      `json:"alert_id"`
	TenantID       string      `json:"tenant_id"`
	PreviousStatus AlertStatus `json:"previous_status,omitempty"`
	NewStatus      AlertStatus `json:"new_status"`
	ChangedBy      string      `json:"changed_by"`
	Comment        string      `json:"comment,omitempty"`
	ChangedAt      time.Time   `json:"changed_at"`
}

// ResolutionSample pairs an alert's creation time with its first resolution.
// ResolvedAt is nil for alerts that were never resolved.
type ResolutionSample struct {
	AlertID    string        `json:"alert_id"`
	Severity   AlertSeverity `json:"severity"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// =============================================================================
// ENUMS
// =============================================================================

// AlertSeverity is the four-level impact scale, ordered.
type AlertSeverity string

const (
	SeverityNotice   AlertSeverity = "Aviso"
	SeverityMinor    AlertSeverity = "Alerta Menor"
	SeveritySevere   AlertSeverity = "Alerta Severa"
	SeverityCritical AlertSeverity = "Alerta Crítica"
)

// Level returns numeric level for comparison (higher = more severe).
func (s AlertSeverity) Level() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeveritySevere:
		return 3
	case SeverityMinor:
		return 2
	case SeverityNotice:
		return 1
	default:
		return 0
	}
}

// Max returns the more severe of s and o.
func (s AlertSeverity) Max(o AlertSeverity) AlertSeverity {
	if o.Level() > s.Level() {
		return o
	}
	return s
}

// HighSeverities are the severities counted by SLA reporting.
var HighSeverities = []AlertSeverity{SeveritySevere, SeverityCritical}

// AlertStatus is the operational lifecycle state.
type AlertStatus string

const (
	StatusPending    AlertStatus = "Pendiente"
	StatusInProgress AlertStatus = "En curso"
	StatusResolved   AlertStatus = "Resuelta"
)

// Valid reports whether s is one of the three lifecycle values.
func (s AlertStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

// ParseAlertStatus validates a caller-supplied status.
func ParseAlertStatus(s string) (AlertStatus, error) {
	st := AlertStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("invalid alert status %q", s)
	}
	return st, nil
}

// AlertSource records which analysis path raised the alert.
type AlertSource string

const (
	AlertSourceAI        AlertSource = "ai"
	AlertSourceHeuristic AlertSource = "heuristic"
)

// SystemActor is recorded as ChangedBy on rows the collector writes itself.
const SystemActor = "system"

// DeviceHealth is the traffic-light summary of a device's open alerts.
type DeviceHealth string

const (
	HealthRed    DeviceHealth = "rojo"
	HealthYellow DeviceHealth = "amarillo"
	HealthGreen  DeviceHealth = "verde"
)
