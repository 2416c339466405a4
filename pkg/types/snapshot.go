package types

import "time"

// RawRecord is one provider-specific result row, attribute name to value.
type RawRecord map[string]string

// Get returns the first non-empty value among keys.
func (r RawRecord) Get(keys ...string) string {
	for _, k := range keys {
		if v := r[k]; v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// FORENSIC SNAPSHOT
// =============================================================================

// ForensicSnapshot is one point-in-time extraction of a device's state.
// Missing sections are valid; Partial lists the queries that failed and
// Error is set only when no session could be opened.
type ForensicSnapshot struct {
	DeviceID    string    `json:"device_id"`
	TenantID    string    `json:"tenant_id"`
	CollectedAt time.Time `json:"collected_at"`
	Provider    string    `json:"provider,omitempty"`

	Context    DeviceContext    `json:"context"`
	Health     Health           `json:"health"`
	Interfaces []InterfaceStats `json:"interfaces"`
	Wireless   []WirelessClient `json:"wireless"`
	Layer3     Layer3           `json:"layer3"`
	Security   Security         `json:"security"`
	Logs       []RawRecord      `json:"logs"`
	Heuristics []string         `json:"heuristics"`

	Partial []string `json:"partial,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Failed reports whether the snapshot carries the connection error marker.
func (s *ForensicSnapshot) Failed() bool {
	return s.Error != ""
}

// DeviceContext is identity and resource usage.
type DeviceContext struct {
	Identity     string   `json:"identity,omitempty"`
	Version      string   `json:"version,omitempty"`
	BoardName    string   `json:"board_name,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
	Firmware     string   `json:"firmware,omitempty"`
	Uptime       string   `json:"uptime,omitempty"`
	CPULoad      *float64 `json:"cpu_load,omitempty"`
	FreeMemory   *uint64  `json:"free_memory,omitempty"`
	TotalMemory  *uint64  `json:"total_memory,omitempty"`
}

// Health holds environmental sensor readings.
type Health struct {
	Voltage     *float64          `json:"voltage,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Sensors     map[string]string `json:"sensors,omitempty"`
}

// InterfaceStats holds per-interface flags and counters.
type InterfaceStats struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Running  bool   `json:"running"`
	Disabled bool   `json:"disabled"`

	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxErrors  uint64 `json:"rx_errors"`
	TxErrors  uint64 `json:"tx_errors"`
	RxDrops   uint64 `json:"rx_drops"`
	TxDrops   uint64 `json:"tx_drops"`
	FCSErrors uint64 `json:"fcs_errors"`

	// Ethernet negotiation, empty for non-ethernet interfaces.
	AutoNegotiation string `json:"auto_negotiation,omitempty"`
	Speed           string `json:"speed,omitempty"`
	FullDuplex      *bool  `json:"full_duplex,omitempty"`
}

// WirelessClient is one row of a wireless registration table.
type WirelessClient struct {
	Interface string `json:"interface,omitempty"`
	MAC       string `json:"mac"`
	Signal    string `json:"signal,omitempty"`
	TxRate    string `json:"tx_rate,omitempty"`
	RxRate    string `json:"rx_rate,omitempty"`
}

// Layer3 is addressing and routing adjacency.
type Layer3 struct {
	Addresses []Address  `json:"addresses,omitempty"`
	Neighbors []Neighbor `json:"neighbors,omitempty"`
	Protocols []string   `json:"protocols,omitempty"`
}

// Address is an interface address.
type Address struct {
	Address   string `json:"address"`
	Interface string `json:"interface,omitempty"`
}

// Neighbor is a discovered L2/L3 neighbor.
type Neighbor struct {
	Interface string `json:"interface,omitempty"`
	Address   string `json:"address,omitempty"`
	MAC       string `json:"mac,omitempty"`
	Identity  string `json:"identity,omitempty"`
}

// Security is the firewall posture summary.
type Security struct {
	FirewallDropPackets uint64 `json:"firewall_drop_packets"`
}
