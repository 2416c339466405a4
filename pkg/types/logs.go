package types

import "time"

// LogRecord is a normalized device log line. Rows are append-only.
type LogRecord struct {
	ID       int64  `json:"id,omitempty"`
	TenantID string `json:"tenant_id"`
	DeviceID string `json:"device_id"`

	// RawLog is "[topics] message", or the bare message when no topics exist.
	RawLog string  `json:"raw_log"`
	Level  *string `json:"level,omitempty"`

	// EventTime is always UTC. TimestampSource names the strategy that
	// resolved it; "collection" means the device gave nothing usable.
	EventTime       time.Time `json:"event_time"`
	TimestampSource string    `json:"timestamp_source"`
	IngestedAt      time.Time `json:"ingested_at"`
}
