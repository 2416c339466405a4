package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// LastLogTime returns the newest stored event time for the device, or nil
// when the device has no logs.
func (s *Store) LastLogTime(ctx context.Context, tenantID, deviceID string) (*time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MAX(event_time) FROM device_logs
		WHERE tenant_id = $1 AND device_id = $2
	`, tenantID, deviceID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("querying last log time: %w", err)
	}
	if last != nil {
		utc := last.UTC()
		last = &utc
	}
	return last, nil
}

// LogTextsAt returns raw_log of every stored line with exactly this event
// time.
func (s *Store) LogTextsAt(ctx context.Context, tenantID, deviceID string, at time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT raw_log FROM device_logs
		WHERE tenant_id = $1 AND device_id = $2 AND event_time = $3
	`, tenantID, deviceID, at)
	if err != nil {
		return nil, fmt.Errorf("querying logs at %s: %w", at.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		texts = append(texts, raw)
	}
	return texts, rows.Err()
}

// InsertLogs appends records with COPY in one transaction.
func (s *Store) InsertLogs(ctx context.Context, records []types.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, len(records))
	for i, r := range records {
		ingested := r.IngestedAt
		if ingested.IsZero() {
			ingested = time.Now().UTC()
		}
		rows[i] = []any{r.TenantID, r.DeviceID, r.RawLog, r.Level, r.EventTime.UTC(), r.TimestampSource, ingested}
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"device_logs"},
		[]string{"tenant_id", "device_id", "raw_log", "level", "event_time", "timestamp_source", "ingested_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy device logs: %w", err)
	}

	return tx.Commit(ctx)
}
