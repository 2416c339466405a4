package litestore

import (
	"encoding/json"
	"time"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// Timestamps are written by the collector, never by GORM, so every time
// column disables autoCreateTime/autoUpdateTime.

type deviceRow struct {
	ID              string `gorm:"primaryKey"`
	TenantID        string `gorm:"index;not null"`
	Name            string
	Host            string `gorm:"not null"`
	Ports           string `gorm:"type:text"`
	CredentialBlob  string `gorm:"type:text"`
	FirmwareVersion string
	WANType         string
	Enabled         bool      `gorm:"not null"`
	CreatedAt       time.Time `gorm:"autoCreateTime:false"`
}

func (deviceRow) TableName() string { return "devices" }

func (r deviceRow) toDevice() (types.DeviceTarget, error) {
	d := types.DeviceTarget{
		ID:              r.ID,
		TenantID:        r.TenantID,
		Name:            r.Name,
		Host:            r.Host,
		CredentialBlob:  r.CredentialBlob,
		FirmwareVersion: r.FirmwareVersion,
		WANType:         r.WANType,
	}
	if r.Ports != "" {
		if err := json.Unmarshal([]byte(r.Ports), &d.Ports); err != nil {
			return d, err
		}
	}
	return d, nil
}

type logRow struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	TenantID        string    `gorm:"not null;index:idx_device_logs_device_time,priority:1"`
	DeviceID        string    `gorm:"not null;index:idx_device_logs_device_time,priority:2"`
	RawLog          string    `gorm:"type:text;not null"`
	Level           *string   `gorm:"size:32"`
	EventTime       time.Time `gorm:"not null;index:idx_device_logs_device_time,priority:3"`
	TimestampSource string    `gorm:"size:32;not null"`
	IngestedAt      time.Time `gorm:"not null;autoCreateTime:false"`
}

func (logRow) TableName() string { return "device_logs" }

type alertRow struct {
	ID                string `gorm:"primaryKey;size:36"`
	TenantID          string `gorm:"not null;index:idx_alerts_dedup,priority:1"`
	DeviceID          string `gorm:"not null;index:idx_alerts_dedup,priority:2"`
	Severity          string `gorm:"size:32;not null"`
	Title             string `gorm:"not null;index:idx_alerts_dedup,priority:3"`
	Description       string `gorm:"size:512"`
	RecommendedAction string `gorm:"size:255"`
	Source            string `gorm:"size:16;not null"`
	Status            string `gorm:"size:16;not null"`
	LastComment       string `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;index:idx_alerts_dedup,priority:4;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (alertRow) TableName() string { return "alerts" }

func alertRowFrom(a *types.Alert) alertRow {
	return alertRow{
		ID:                a.ID,
		TenantID:          a.TenantID,
		DeviceID:          a.DeviceID,
		Severity:          string(a.Severity),
		Title:             a.Title,
		Description:       a.Description,
		RecommendedAction: a.RecommendedAction,
		Source:            string(a.Source),
		Status:            string(a.Status),
		LastComment:       a.LastComment,
		CreatedAt:         a.CreatedAt.UTC(),
		UpdatedAt:         a.UpdatedAt.UTC(),
	}
}

func (r alertRow) toAlert() types.Alert {
	return types.Alert{
		ID:                r.ID,
		TenantID:          r.TenantID,
		DeviceID:          r.DeviceID,
		Severity:          types.AlertSeverity(r.Severity),
		Title:             r.Title,
		Description:       r.Description,
		RecommendedAction: r.RecommendedAction,
		Source:            types.AlertSource(r.Source),
		Status:            types.AlertStatus(r.Status),
		LastComment:       r.LastComment,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

type historyRow struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	AlertID        string    `gorm:"size:36;not null;index"`
	TenantID       string    `gorm:"not null"`
	PreviousStatus *string   `gorm:"size:16"`
	NewStatus      string    `gorm:"size:16;not null"`
	ChangedBy      string    `gorm:"not null"`
	Comment        string    `gorm:"type:text"`
	ChangedAt      time.Time `gorm:"not null"`
}

func (historyRow) TableName() string { return "alert_status_history" }

func (r historyRow) toHistory() types.AlertStatusHistory {
	h := types.AlertStatusHistory{
		ID:        r.ID,
		AlertID:   r.AlertID,
		TenantID:  r.TenantID,
		NewStatus: types.AlertStatus(r.NewStatus),
		ChangedBy: r.ChangedBy,
		Comment:   r.Comment,
		ChangedAt: r.ChangedAt.UTC(),
	}
	if r.PreviousStatus != nil {
		h.PreviousStatus = types.AlertStatus(*r.PreviousStatus)
	}
	return h
}
