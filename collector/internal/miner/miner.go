// Package miner drives one device session through the fixed forensic query
// sequence and assembles a ForensicSnapshot.
package miner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pilot-net/routerwatch/collector/internal/connector"
	"github.com/pilot-net/routerwatch/pkg/types"
)

// Connector opens device sessions.
type Connector interface {
	Connect(ctx context.Context, target types.DeviceTarget) (*connector.Session, error)
}

// Config holds miner settings.
type Config struct {
	// LogBufferSize caps how many of the most recent log lines are kept.
	LogBufferSize int `yaml:"log_buffer_size" toml:"log_buffer_size"`
}

// DefaultConfig returns the default miner configuration.
func DefaultConfig() Config {
	return Config{LogBufferSize: 50}
}

// PartialMiningError lists the queries that failed while the session
// itself stayed usable. The snapshot is still valid.
type PartialMiningError struct {
	DeviceID string
	Paths    []string
}

func (e *PartialMiningError) Error() string {
	return fmt.Sprintf("device %s: %d queries failed: %s", e.DeviceID, len(e.Paths), strings.Join(e.Paths, ", "))
}

// PartialError returns a *PartialMiningError when snap has missing
// sections, nil otherwise.
func PartialError(snap *types.ForensicSnapshot) error {
	if len(snap.Partial) == 0 {
		return nil
	}
	return &PartialMiningError{DeviceID: snap.DeviceID, Paths: snap.Partial}
}

// Miner collects forensic snapshots.
type Miner struct {
	cfg       Config
	connector Connector
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Miner.
func New(cfg Config, conn Connector, logger *slog.Logger) *Miner {
	if cfg.LogBufferSize <= 0 {
		cfg.LogBufferSize = DefaultConfig().LogBufferSize
	}
	return &Miner{
		cfg:       cfg,
		connector: conn,
		logger:    logger.With("component", "miner"),
		now:       time.Now,
	}
}

// Mine opens exactly one session and runs every query against it.
//
// The returned snapshot is never nil. If no session could be opened the
// snapshot carries the error marker and empty sections, and the connector
// error is returned as well so callers can classify it.
func (m *Miner) Mine(ctx context.Context, target types.DeviceTarget) (*types.ForensicSnapshot, error) {
	start := time.Now()
	snap := &types.ForensicSnapshot{
		DeviceID:    target.ID,
		TenantID:    target.TenantID,
		CollectedAt: m.now().UTC(),
		Interfaces:  []types.InterfaceStats{},
		Wireless:    []types.WirelessClient{},
		Logs:        []types.RawRecord{},
		Heuristics:  []string{},
	}

	sess, err := m.connector.Connect(ctx, target)
	if err != nil {
		snap.Error = err.Error()
		return snap, err
	}
	defer sess.Close()
	snap.Provider = sess.Provider()

	r := &run{ctx: ctx, sess: sess, snap: snap}
	r.mineContext()
	r.mineHealth()
	r.mineInterfaces()
	r.mineWireless()
	r.mineLayer3()
	r.mineSecurity()
	r.mineLogs(m.cfg.LogBufferSize)

	m.logger.Debug("snapshot mined",
		"device_id", target.ID,
		"provider", snap.Provider,
		"interfaces", len(snap.Interfaces),
		"logs", len(snap.Logs),
		"partial", len(snap.Partial),
		"duration", time.Since(start))

	if len(snap.Partial) > 0 {
		m.logger.Info("snapshot incomplete",
			"device_id", target.ID,
			"failed_queries", snap.Partial)
	}
	return snap, nil
}

// run carries one mining pass. Each step records failures into
// snap.Partial and otherwise leaves its section empty.
type run struct {
	ctx  context.Context
	sess *connector.Session
	snap *types.ForensicSnapshot
}

func (r *run) query(path string) ([]types.RawRecord, bool) {
	recs, ok := r.sess.Query(r.ctx, path)
	if !ok {
		r.snap.Partial = append(r.snap.Partial, path)
	}
	return recs, ok
}

// firstNonEmpty probes candidate paths in order and returns the first
// non-empty result. Missing menus are expected on some firmware, so none
// of the candidates count as partial failures.
func (r *run) firstNonEmpty(paths []string) ([]types.RawRecord, string) {
	for _, p := range paths {
		if recs, ok := r.sess.Probe(r.ctx, p); ok && len(recs) > 0 {
			return recs, p
		}
	}
	return nil, ""
}

// =============================================================================
// QUERY STEPS
// =============================================================================

func (r *run) mineContext() {
	c := &r.snap.Context

	if recs, ok := r.query("/system/identity"); ok && len(recs) > 0 {
		c.Identity = recs[0]["name"]
	}

	if recs, ok := r.query("/system/resource"); ok && len(recs) > 0 {
		res := recs[0]
		c.Uptime = res["uptime"]
		c.Version = res["version"]
		c.BoardName = res["board-name"]
		c.CPULoad = parseFloat(res["cpu-load"])
		c.FreeMemory = parseBytes(res["free-memory"])
		c.TotalMemory = parseBytes(res["total-memory"])
	}

	if recs, ok := r.query("/system/routerboard"); ok && len(recs) > 0 {
		c.SerialNumber = recs[0]["serial-number"]
		c.Firmware = recs[0]["current-firmware"]
	}
}

func (r *run) mineHealth() {
	recs, ok := r.query("/system/health")
	if !ok {
		return
	}

	sensors := map[string]string{}
	for _, rec := range recs {
		// v7 returns one row per sensor; v6 returns a single record.
		if name, value := rec["name"], rec["value"]; name != "" && value != "" {
			sensors[name] = value
			continue
		}
		for k, v := range rec {
			if k == ".id" {
				continue
			}
			sensors[k] = v
		}
	}
	if len(sensors) == 0 {
		return
	}

	h := &r.snap.Health
	h.Sensors = sensors
	h.Voltage = parseFloat(types.RawRecord(sensors).Get("voltage", "psu-voltage"))
	h.Temperature = parseFloat(types.RawRecord(sensors).Get("temperature", "board-temperature1", "cpu-temperature"))
}

func (r *run) mineInterfaces() {
	recs, ok := r.query("/interface")
	if !ok {
		return
	}

	byName := make(map[string]int, len(recs))
	for _, rec := range recs {
		iface := types.InterfaceStats{
			Name:      rec["name"],
			Type:      rec["type"],
			Running:   parseBool(rec["running"]),
			Disabled:  parseBool(rec["disabled"]),
			RxBytes:   parseUint(rec.Get("rx-byte", "fp-rx-byte")),
			TxBytes:   parseUint(rec.Get("tx-byte", "fp-tx-byte")),
			RxErrors:  parseUint(rec["rx-error"]),
			TxErrors:  parseUint(rec["tx-error"]),
			RxDrops:   parseUint(rec["rx-drop"]),
			TxDrops:   parseUint(rec["tx-drop"]),
			FCSErrors: parseUint(rec.Get("rx-fcs-error", "fcs-error")),
		}
		byName[iface.Name] = len(r.snap.Interfaces)
		r.snap.Interfaces = append(r.snap.Interfaces, iface)
	}

	eth, ok := r.query("/interface/ethernet")
	if !ok {
		return
	}
	for _, rec := range eth {
		i, found := byName[rec["name"]]
		if !found {
			continue
		}
		iface := &r.snap.Interfaces[i]
		iface.AutoNegotiation = rec["auto-negotiation"]
		iface.Speed = rec["speed"]
		if d := rec["full-duplex"]; d != "" {
			v := parseBool(d)
			iface.FullDuplex = &v
		}
		if fcs := parseUint(rec.Get("rx-fcs-error", "fcs-error")); fcs > iface.FCSErrors {
			iface.FCSErrors = fcs
		}
	}
}

func (r *run) mineWireless() {
	recs, _ := r.firstNonEmpty(wirelessPaths(MajorVersion(r.snap.Context.Version)))
	for _, rec := range recs {
		r.snap.Wireless = append(r.snap.Wireless, types.WirelessClient{
			Interface: rec["interface"],
			MAC:       rec["mac-address"],
			Signal:    rec.Get("signal-strength", "signal"),
			TxRate:    rec["tx-rate"],
			RxRate:    rec["rx-rate"],
		})
	}
}

func (r *run) mineLayer3() {
	l3 := &r.snap.Layer3

	if recs, ok := r.query("/ip/address"); ok {
		for _, rec := range recs {
			l3.Addresses = append(l3.Addresses, types.Address{
				Address:   rec["address"],
				Interface: rec["interface"],
			})
		}
	}

	if recs, ok := r.query("/ip/neighbor"); ok {
		for _, rec := range recs {
			l3.Neighbors = append(l3.Neighbors, types.Neighbor{
				Interface: rec["interface"],
				Address:   rec.Get("address", "address4"),
				MAC:       rec["mac-address"],
				Identity:  rec["identity"],
			})
		}
	}

	major := MajorVersion(r.snap.Context.Version)
	if recs, _ := r.firstNonEmpty([]string{"/routing/ospf/neighbor", "/routing/ospf/interface"}); len(recs) > 0 {
		l3.Protocols = append(l3.Protocols, "OSPF")
	}
	if recs, _ := r.firstNonEmpty(bgpPaths(major)); len(recs) > 0 {
		l3.Protocols = append(l3.Protocols, "BGP")
	}
}

func (r *run) mineSecurity() {
	recs, ok := r.query("/ip/firewall/filter")
	if !ok {
		return
	}
	var drops uint64
	for _, rec := range recs {
		if rec["action"] == "drop" {
			drops += parseUint(rec["packets"])
		}
	}
	r.snap.Security.FirewallDropPackets = drops
}

func (r *run) mineLogs(limit int) {
	recs, ok := r.query("/log")
	if !ok {
		return
	}
	if len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	r.snap.Logs = append(r.snap.Logs, recs...)
}
