// Package store provides PostgreSQL persistence for the collector.
//
// # Design
//
// The store uses raw SQL with pgx. Every query is scoped by tenant. Log
// inserts go through COPY; alert creation and status transitions each run in
// a single transaction so an alert never exists without its history.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// Store provides database operations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new store with the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromURL creates a new store by connecting to the given database URL.
func NewStoreFromURL(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping tests database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool returns the underlying connection pool for migrations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// DEVICES
// =============================================================================

// GetDevice returns an enabled device by ID, or nil if there is none.
func (s *Store) GetDevice(ctx context.Context, id string) (*types.DeviceTarget, error) {
	var d types.DeviceTarget
	var portsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, host, ports, credential_blob, firmware_version, wan_type
		FROM devices WHERE id = $1 AND enabled
	`, id).Scan(
		&d.ID, &d.TenantID, &d.Name, &d.Host, &portsJSON,
		&d.CredentialBlob, &d.FirmwareVersion, &d.WANType,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting device %s: %w", id, err)
	}
	if len(portsJSON) > 0 {
		if err := json.Unmarshal(portsJSON, &d.Ports); err != nil {
			return nil, fmt.Errorf("decoding ports for device %s: %w", id, err)
		}
	}
	return &d, nil
}

// ListDeviceIDs returns the IDs of every enabled device.
func (s *Store) ListDeviceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM devices WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertDevice registers or replaces a device.
func (s *Store) UpsertDevice(ctx context.Context, d types.DeviceTarget) error {
	portsJSON, err := json.Marshal(d.Ports)
	if err != nil {
		return err
	}
	if d.Ports == nil {
		portsJSON = []byte("{}")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO devices (id, tenant_id, name, host, ports, credential_blob, firmware_version, wan_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			name = EXCLUDED.name,
			host = EXCLUDED.host,
			ports = EXCLUDED.ports,
			credential_blob = EXCLUDED.credential_blob,
			firmware_version = EXCLUDED.firmware_version,
			wan_type = EXCLUDED.wan_type,
			enabled = TRUE
	`, d.ID, d.TenantID, d.Name, d.Host, portsJSON, d.CredentialBlob, d.FirmwareVersion, d.WANType)
	if err != nil {
		return fmt.Errorf("upserting device %s: %w", d.ID, err)
	}
	return nil
}
