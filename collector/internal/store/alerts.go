package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pilot-net/routerwatch/pkg/types"
)

const alertColumns = `id::text, tenant_id, device_id, severity, title, description,
	recommended_action, source, status, last_comment, created_at, updated_at`

func scanAlert(row pgx.Row) (*types.Alert, error) {
	var a types.Alert
	err := row.Scan(
		&a.ID, &a.TenantID, &a.DeviceID, &a.Severity, &a.Title, &a.Description,
		&a.RecommendedAction, &a.Source, &a.Status, &a.LastComment, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

// CreateAlertIfAbsent inserts alert and its creation history row unless an
// alert with the same tenant, device and title was created within window.
// A transaction-scoped advisory lock on that triple serializes concurrent
// creators so the check and the insert cannot interleave.
func (s *Store) CreateAlertIfAbsent(ctx context.Context, alert *types.Alert, window time.Duration) (*types.Alert, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockKey := alert.TenantID + "/" + alert.DeviceID + "/" + alert.Title
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return nil, false, fmt.Errorf("locking alert key: %w", err)
	}

	existing, err := scanAlert(tx.QueryRow(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE tenant_id = $1 AND device_id = $2 AND title = $3 AND created_at >= $4
		ORDER BY created_at DESC
		LIMIT 1
	`, alert.TenantID, alert.DeviceID, alert.Title, alert.CreatedAt.Add(-window)))
	if err == nil {
		return existing, false, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, fmt.Errorf("checking recent alerts: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO alerts (id, tenant_id, device_id, severity, title, description,
			recommended_action, source, status, last_comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		alert.ID, alert.TenantID, alert.DeviceID, alert.Severity, alert.Title, alert.Description,
		alert.RecommendedAction, alert.Source, alert.Status, alert.LastComment, alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting alert: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO alert_status_history (alert_id, tenant_id, previous_status, new_status, changed_by, comment, changed_at)
		VALUES ($1, $2, NULL, $3, $4, '', $5)
	`, alert.ID, alert.TenantID, alert.Status, types.SystemActor, alert.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("inserting alert history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit alert: %w", err)
	}

	stored := *alert
	return &stored, true, nil
}

// TransitionAlert locks the alert row, updates it and appends one history
// row. Returns nil, nil when the alert does not exist for the tenant.
func (s *Store) TransitionAlert(ctx context.Context, tenantID, alertID string, status types.AlertStatus, actor, comment string, at time.Time) (*types.Alert, error) {
	if _, err := uuid.Parse(alertID); err != nil {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var previous types.AlertStatus
	err = tx.QueryRow(ctx, `
		SELECT status FROM alerts WHERE id = $1 AND tenant_id = $2 FOR UPDATE
	`, alertID, tenantID).Scan(&previous)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("locking alert: %w", err)
	}

	updated, err := scanAlert(tx.QueryRow(ctx, `
		UPDATE alerts SET status = $3, last_comment = $4, updated_at = $5
		WHERE id = $1 AND tenant_id = $2
		RETURNING `+alertColumns,
		alertID, tenantID, status, comment, at,
	))
	if err != nil {
		return nil, fmt.Errorf("updating alert: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO alert_status_history (alert_id, tenant_id, previous_status, new_status, changed_by, comment, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, alertID, tenantID, previous, status, actor, comment, at)
	if err != nil {
		return nil, fmt.Errorf("inserting alert history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return updated, nil
}

// ListActiveAlerts returns the device's alerts not in Resuelta, newest first.
func (s *Store) ListActiveAlerts(ctx context.Context, tenantID, deviceID string) ([]types.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE tenant_id = $1 AND device_id = $2 AND status <> $3
		ORDER BY created_at DESC
	`, tenantID, deviceID, types.StatusResolved)
	if err != nil {
		return nil, fmt.Errorf("listing active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []types.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// AlertHistory returns the alert's status history, oldest first.
func (s *Store) AlertHistory(ctx context.Context, tenantID, alertID string) ([]types.AlertStatusHistory, error) {
	if _, err := uuid.Parse(alertID); err != nil {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, alert_id::text, tenant_id, COALESCE(previous_status, ''), new_status, changed_by, comment, changed_at
		FROM alert_status_history
		WHERE tenant_id = $1 AND alert_id = $2
		ORDER BY changed_at, id
	`, tenantID, alertID)
	if err != nil {
		return nil, fmt.Errorf("listing alert history: %w", err)
	}
	defer rows.Close()

	var history []types.AlertStatusHistory
	for rows.Next() {
		var h types.AlertStatusHistory
		if err := rows.Scan(&h.ID, &h.AlertID, &h.TenantID, &h.PreviousStatus, &h.NewStatus, &h.ChangedBy, &h.Comment, &h.ChangedAt); err != nil {
			return nil, err
		}
		h.ChangedAt = h.ChangedAt.UTC()
		history = append(history, h)
	}
	return history, rows.Err()
}

// ResolutionSamples returns alerts of the given severities created at or
// after since, each with its first transition to Resuelta.
func (s *Store) ResolutionSamples(ctx context.Context, tenantID string, since time.Time, severities []types.AlertSeverity) ([]types.ResolutionSample, error) {
	sev := make([]string, len(severities))
	for i, v := range severities {
		sev[i] = string(v)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT a.id::text, a.severity, a.created_at,
			(SELECT MIN(h.changed_at) FROM alert_status_history h
			 WHERE h.alert_id = a.id AND h.new_status = $4)
		FROM alerts a
		WHERE a.tenant_id = $1 AND a.created_at >= $2 AND a.severity = ANY($3)
		ORDER BY a.created_at
	`, tenantID, since, sev, types.StatusResolved)
	if err != nil {
		return nil, fmt.Errorf("querying resolution samples: %w", err)
	}
	defer rows.Close()

	var samples []types.ResolutionSample
	for rows.Next() {
		var rs types.ResolutionSample
		if err := rows.Scan(&rs.AlertID, &rs.Severity, &rs.CreatedAt, &rs.ResolvedAt); err != nil {
			return nil, err
		}
		if rs.ResolvedAt != nil {
			utc := rs.ResolvedAt.UTC()
			rs.ResolvedAt = &utc
		}
		samples = append(samples, rs)
	}
	return samples, rows.Err()
}
