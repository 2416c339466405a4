// Package testutil provides testing utilities and fixtures for the collector.
//
// Fixtures use functional options for customization:
//
//	dev := testutil.FixtureDevice()
//	dev := testutil.FixtureDevice(func(d *types.DeviceTarget) {
//		d.Host = "10.0.0.2"
//	})
package testutil

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// TestVaultKey is a fixed 32-byte vault key for tests.
var TestVaultKey = []byte("0123456789abcdef0123456789abcdef")

// NewTestLogger returns a logger that discards all output.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// DEVICE FIXTURES
// =============================================================================

// FixtureDevice creates a device target with sensible defaults.
// CredentialBlob is empty; tests that connect must seal one.
func FixtureDevice(overrides ...func(*types.DeviceTarget)) *types.DeviceTarget {
	dev := &types.DeviceTarget{
		ID:              uuid.New().String(),
		TenantID:        "tenant-" + uuid.New().String()[:8],
		Name:            "edge-router",
		Host:            "192.0.2.10",
		Ports:           map[string]int{},
		FirmwareVersion: "7.14.2",
		WANType:         "pppoe",
	}

	for _, override := range overrides {
		override(dev)
	}

	return dev
}

// =============================================================================
// SNAPSHOT FIXTURES
// =============================================================================

// FixtureSnapshot creates a healthy snapshot for dev.
func FixtureSnapshot(dev *types.DeviceTarget, overrides ...func(*types.ForensicSnapshot)) *types.ForensicSnapshot {
	snap := &types.ForensicSnapshot{
		DeviceID:    dev.ID,
		TenantID:    dev.TenantID,
		CollectedAt: time.Now().UTC(),
		Provider:    types.ProviderAPI,
		Context: types.DeviceContext{
			Identity: "edge-router",
			Version:  "7.14.2 (stable)",
			Uptime:   "3d4h",
			CPULoad:  Ptr(12.0),
		},
		Health: types.Health{
			Voltage:     Ptr(24.1),
			Temperature: Ptr(41.0),
		},
		Interfaces: []types.InterfaceStats{
			{Name: "ether1", Type: "ether", Running: true},
			{Name: "ether2", Type: "ether", Running: true},
		},
	}

	for _, override := range overrides {
		override(snap)
	}

	return snap
}

// LogLine builds a raw RouterOS log record.
func LogLine(timeField, topics, message string) types.RawRecord {
	return types.RawRecord{"time": timeField, "topics": topics, "message": message}
}

// =============================================================================
// ALERT FIXTURES
// =============================================================================

// FixtureAlert creates a pending alert.
func FixtureAlert(tenantID, deviceID string, overrides ...func(*types.Alert)) *types.Alert {
	now := time.Now().UTC()
	alert := &types.Alert{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		DeviceID:          deviceID,
		Severity:          types.SeveritySevere,
		Title:             "Reporte Forense IA",
		Description:       "test alert",
		RecommendedAction: "Ver detalles en dashboard",
		Source:            types.AlertSourceAI,
		Status:            types.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	for _, override := range overrides {
		override(alert)
	}

	return alert
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Ptr returns a pointer to the given value.
func Ptr[T any](v T) *T {
	return &v
}

// TimeAgo returns a time in the past by the given duration.
func TimeAgo(d time.Duration) time.Time {
	return time.Now().UTC().Add(-d)
}
