// Package litestore is an embedded SQLite implementation of the collector's
// persistence interfaces, for standalone runs and tests.
//
// The database is opened with a single connection. That keeps ":memory:"
// databases alive for the life of the Store and serializes every
// transaction, which is what makes the dedup check in CreateAlertIfAbsent
// atomic without row locks.
package litestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// appendOnly mirrors the PostgreSQL triggers of the production schema.
var appendOnly = []string{
	`CREATE TRIGGER IF NOT EXISTS alert_status_history_no_update BEFORE UPDATE ON alert_status_history
	 BEGIN SELECT RAISE(ABORT, 'alert_status_history is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS alert_status_history_no_delete BEFORE DELETE ON alert_status_history
	 BEGIN SELECT RAISE(ABORT, 'alert_status_history is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS device_logs_no_update BEFORE UPDATE ON device_logs
	 BEGIN SELECT RAISE(ABORT, 'device_logs is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS device_logs_no_delete BEFORE DELETE ON device_logs
	 BEGIN SELECT RAISE(ABORT, 'device_logs is append-only'); END`,
}

// Store is a GORM-backed SQLite store.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// slogWriter routes GORM's logger through slog.
type slogWriter struct{ logger *slog.Logger }

func (w slogWriter) Printf(format string, args ...interface{}) {
	w.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens (or creates) the SQLite database at dsn and migrates it. Use
// ":memory:" for a throwaway database.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	logger = logger.With("component", "litestore")

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(slogWriter{logger}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&deviceRow{}, &logRow{}, &alertRow{}, &historyRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating sqlite schema: %w", err)
	}
	for _, stmt := range appendOnly {
		if err := db.Exec(stmt).Error; err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("creating trigger: %w", err)
		}
	}

	logger.Debug("sqlite store ready", "dsn", dsn)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// =============================================================================
// DEVICES
// =============================================================================

// GetDevice returns an enabled device by ID, or nil if there is none.
func (s *Store) GetDevice(ctx context.Context, id string) (*types.DeviceTarget, error) {
	var row deviceRow
	err := s.db.WithContext(ctx).Where("id = ? AND enabled = ?", id, true).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting device %s: %w", id, err)
	}
	d, err := row.toDevice()
	if err != nil {
		return nil, fmt.Errorf("decoding ports for device %s: %w", id, err)
	}
	return &d, nil
}

// ListDeviceIDs returns the IDs of every enabled device.
func (s *Store) ListDeviceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&deviceRow{}).
		Where("enabled = ?", true).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return ids, nil
}

// UpsertDevice registers or replaces a device.
func (s *Store) UpsertDevice(ctx context.Context, d types.DeviceTarget) error {
	ports := "{}"
	if len(d.Ports) > 0 {
		b, err := json.Marshal(d.Ports)
		if err != nil {
			return err
		}
		ports = string(b)
	}
	row := deviceRow{
		ID:              d.ID,
		TenantID:        d.TenantID,
		Name:            d.Name,
		Host:            d.Host,
		Ports:           ports,
		CredentialBlob:  d.CredentialBlob,
		FirmwareVersion: d.FirmwareVersion,
		WANType:         d.WANType,
		Enabled:         true,
		CreatedAt:       time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tenant_id", "name", "host", "ports", "credential_blob", "firmware_version", "wan_type", "enabled",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upserting device %s: %w", d.ID, err)
	}
	return nil
}

// DisableDevice removes a device from ListDeviceIDs and GetDevice.
func (s *Store) DisableDevice(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&deviceRow{}).Where("id = ?", id).Update("enabled", false).Error
}

// =============================================================================
// LOGS
// =============================================================================

// LastLogTime returns the newest stored event time for the device, or nil
// when the device has no logs.
func (s *Store) LastLogTime(ctx context.Context, tenantID, deviceID string) (*time.Time, error) {
	var row logRow
	err := s.db.WithContext(ctx).
		Select("event_time").
		Where("tenant_id = ? AND device_id = ?", tenantID, deviceID).
		Order("event_time DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last log time: %w", err)
	}
	t := row.EventTime.UTC()
	return &t, nil
}

// LogTextsAt returns raw_log of every stored line with exactly this event
// time.
func (s *Store) LogTextsAt(ctx context.Context, tenantID, deviceID string, at time.Time) ([]string, error) {
	var texts []string
	err := s.db.WithContext(ctx).Model(&logRow{}).
		Where("tenant_id = ? AND device_id = ? AND event_time = ?", tenantID, deviceID, at.UTC()).
		Pluck("raw_log", &texts).Error
	if err != nil {
		return nil, fmt.Errorf("querying logs at %s: %w", at.Format(time.RFC3339), err)
	}
	return texts, nil
}

// InsertLogs appends records in one transaction.
func (s *Store) InsertLogs(ctx context.Context, records []types.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]logRow, len(records))
	for i, r := range records {
		ingested := r.IngestedAt
		if ingested.IsZero() {
			ingested = now
		}
		rows[i] = logRow{
			TenantID:        r.TenantID,
			DeviceID:        r.DeviceID,
			RawLog:          r.RawLog,
			Level:           r.Level,
			EventTime:       r.EventTime.UTC(),
			TimestampSource: r.TimestampSource,
			IngestedAt:      ingested.UTC(),
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return fmt.Errorf("inserting device logs: %w", err)
		}
		return nil
	})
}

// CountLogs returns how many lines are stored for the device.
func (s *Store) CountLogs(ctx context.Context, tenantID, deviceID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&logRow{}).
		Where("tenant_id = ? AND device_id = ?", tenantID, deviceID).
		Count(&n).Error
	return n, err
}

// =============================================================================
// ALERTS
// =============================================================================

// CreateAlertIfAbsent inserts alert and its creation history row unless an
// alert with the same tenant, device and title was created within window.
func (s *Store) CreateAlertIfAbsent(ctx context.Context, alert *types.Alert, window time.Duration) (*types.Alert, bool, error) {
	var (
		stored  types.Alert
		created bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing alertRow
		err := tx.Where("tenant_id = ? AND device_id = ? AND title = ? AND created_at >= ?",
			alert.TenantID, alert.DeviceID, alert.Title, alert.CreatedAt.Add(-window).UTC()).
			Order("created_at DESC").
			First(&existing).Error
		if err == nil {
			stored = existing.toAlert()
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("checking recent alerts: %w", err)
		}

		row := alertRowFrom(alert)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("inserting alert: %w", err)
		}
		hist := historyRow{
			AlertID:   row.ID,
			TenantID:  row.TenantID,
			NewStatus: row.Status,
			ChangedBy: types.SystemActor,
			ChangedAt: row.CreatedAt,
		}
		if err := tx.Create(&hist).Error; err != nil {
			return fmt.Errorf("inserting alert history: %w", err)
		}

		stored = row.toAlert()
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

// TransitionAlert updates the alert and appends one history row in a single
// transaction. Returns nil, nil when the alert does not exist for the tenant.
func (s *Store) TransitionAlert(ctx context.Context, tenantID, alertID string, status types.AlertStatus, actor, comment string, at time.Time) (*types.Alert, error) {
	var updated *types.Alert

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row alertRow
		err := tx.Where("id = ? AND tenant_id = ?", alertID, tenantID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading alert: %w", err)
		}

		previous := row.Status
		at = at.UTC()
		err = tx.Model(&alertRow{}).
			Where("id = ? AND tenant_id = ?", alertID, tenantID).
			Updates(map[string]interface{}{
				"status":       string(status),
				"last_comment": comment,
				"updated_at":   at,
			}).Error
		if err != nil {
			return fmt.Errorf("updating alert: %w", err)
		}

		hist := historyRow{
			AlertID:        alertID,
			TenantID:       tenantID,
			PreviousStatus: &previous,
			NewStatus:      string(status),
			ChangedBy:      actor,
			Comment:        comment,
			ChangedAt:      at,
		}
		if err := tx.Create(&hist).Error; err != nil {
			return fmt.Errorf("inserting alert history: %w", err)
		}

		row.Status = string(status)
		row.LastComment = comment
		row.UpdatedAt = at
		a := row.toAlert()
		updated = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetAlert returns an alert by ID, or nil if it does not exist for the tenant.
func (s *Store) GetAlert(ctx context.Context, tenantID, alertID string) (*types.Alert, error) {
	var row alertRow
	err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", alertID, tenantID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting alert %s: %w", alertID, err)
	}
	a := row.toAlert()
	return &a, nil
}

// ListActiveAlerts returns the device's alerts not in Resuelta, newest first.
func (s *Store) ListActiveAlerts(ctx context.Context, tenantID, deviceID string) ([]types.Alert, error) {
	var rows []alertRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND device_id = ? AND status <> ?", tenantID, deviceID, string(types.StatusResolved)).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing active alerts: %w", err)
	}
	alerts := make([]types.Alert, len(rows))
	for i, r := range rows {
		alerts[i] = r.toAlert()
	}
	return alerts, nil
}

// AlertHistory returns the alert's status history, oldest first.
func (s *Store) AlertHistory(ctx context.Context, tenantID, alertID string) ([]types.AlertStatusHistory, error) {
	var rows []historyRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND alert_id = ?", tenantID, alertID).
		Order("changed_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing alert history: %w", err)
	}
	out := make([]types.AlertStatusHistory, len(rows))
	for i, r := range rows {
		out[i] = r.toHistory()
	}
	return out, nil
}

// ResolutionSamples returns alerts of the given severities created at or
// after since, each with its first transition to Resuelta.
func (s *Store) ResolutionSamples(ctx context.Context, tenantID string, since time.Time, severities []types.AlertSeverity) ([]types.ResolutionSample, error) {
	sev := make([]string, len(severities))
	for i, v := range severities {
		sev[i] = string(v)
	}

	var alerts []alertRow
	err := s.db.WithContext(ctx).
		Select("id", "severity", "created_at").
		Where("tenant_id = ? AND created_at >= ? AND severity IN ?", tenantID, since.UTC(), sev).
		Order("created_at").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("querying resolution samples: %w", err)
	}
	if len(alerts) == 0 {
		return nil, nil
	}

	ids := make([]string, len(alerts))
	for i, a := range alerts {
		ids[i] = a.ID
	}
	var resolved []historyRow
	err = s.db.WithContext(ctx).
		Select("alert_id", "changed_at").
		Where("tenant_id = ? AND new_status = ? AND alert_id IN ?", tenantID, string(types.StatusResolved), ids).
		Find(&resolved).Error
	if err != nil {
		return nil, fmt.Errorf("querying resolutions: %w", err)
	}

	first := make(map[string]time.Time, len(resolved))
	for _, h := range resolved {
		if t, ok := first[h.AlertID]; !ok || h.ChangedAt.Before(t) {
			first[h.AlertID] = h.ChangedAt.UTC()
		}
	}

	samples := make([]types.ResolutionSample, len(alerts))
	for i, a := range alerts {
		samples[i] = types.ResolutionSample{
			AlertID:   a.ID,
			Severity:  types.AlertSeverity(a.Severity),
			CreatedAt: a.CreatedAt.UTC(),
		}
		if t, ok := first[a.ID]; ok {
			t := t
			samples[i].ResolvedAt = &t
		}
	}
	return samples, nil
}
