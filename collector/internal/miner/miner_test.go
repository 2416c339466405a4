package miner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pilot-net/routerwatch/collector/internal/connector"
	"github.com/pilot-net/routerwatch/collector/internal/testutil"
	"github.com/pilot-net/routerwatch/pkg/types"
)

// fakeDevice answers queries from a table. Paths listed in fail return an
// error; unknown paths return an empty result.
type fakeDevice struct {
	records map[string][]types.RawRecord
	fail    map[string]bool
	dialErr error

	mu      sync.Mutex
	queried []string
	closes  int
}

func (f *fakeDevice) Name() string { return "fake" }

func (f *fakeDevice) Dial(context.Context, types.DeviceTarget, types.Credentials) (connector.Conn, error) {
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	return f, nil
}

func (f *fakeDevice) Query(_ context.Context, path string, _ ...string) ([]types.RawRecord, error) {
	f.mu.Lock()
	f.queried = append(f.queried, path)
	f.mu.Unlock()
	if f.fail[path] {
		return nil, errors.New("no such command")
	}
	return f.records[path], nil
}

func (f *fakeDevice) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

type noopCreds struct{}

func (noopCreds) DecryptCredentials(string) (types.Credentials, error) {
	return types.Credentials{Username: "admin"}, nil
}

func newTestMiner(dev *fakeDevice, cfg Config) *Miner {
	ccfg := connector.DefaultConfig()
	ccfg.MaxAttempts = 1
	ccfg.BackoffBase = time.Millisecond
	conn := connector.New(ccfg, []connector.Provider{dev}, noopCreds{}, testutil.NewTestLogger())
	return New(cfg, conn, testutil.NewTestLogger())
}

func baseRecords(version string) map[string][]types.RawRecord {
	return map[string][]types.RawRecord{
		"/system/identity": {{"name": "core-gw"}},
		"/system/resource": {{
			"uptime": "1w2d", "version": version, "board-name": "CCR2004",
			"cpu-load": "93", "free-memory": "536870912", "total-memory": "1073741824",
		}},
		"/system/routerboard": {{"serial-number": "HEX123", "current-firmware": "7.14.2"}},
		"/interface": {
			{"name": "ether1", "type": "ether", "running": "true", "rx-byte": "1000", "rx-drop": "150", "rx-fcs-error": "4"},
			{"name": "ether2", "type": "ether", "running": "false", "disabled": "true"},
		},
		"/interface/ethernet": {
			{"name": "ether1", "auto-negotiation": "enabled", "speed": "1Gbps", "full-duplex": "true"},
		},
		"/ip/address":  {{"address": "10.0.0.1/24", "interface": "ether1"}},
		"/ip/neighbor": {{"interface": "ether1", "address": "10.0.0.2", "mac-address": "AA:BB:CC:00:00:01", "identity": "sw1"}},
		"/ip/firewall/filter": {
			{"action": "drop", "packets": "10"},
			{"action": "accept", "packets": "99"},
			{"action": "drop", "packets": "5"},
		},
		"/routing/ospf/neighbor": {{"address": "10.0.0.2"}},
	}
}

func TestMine_FullSnapshot(t *testing.T) {
	recs := baseRecords("7.14.2 (stable)")
	recs["/system/health"] = []types.RawRecord{
		{"name": "voltage", "value": "23.9", "type": "V"},
		{"name": "temperature", "value": "45", "type": "C"},
	}
	recs["/interface/wifi/registration-table"] = []types.RawRecord{
		{"interface": "wifi1", "mac-address": "11:22:33:44:55:66", "signal": "-61", "tx-rate": "866Mbps"},
	}
	dev := &fakeDevice{records: recs, fail: map[string]bool{"/interface/wifiwave2/registration-table": true}}
	m := newTestMiner(dev, DefaultConfig())

	target := testutil.FixtureDevice()
	snap, err := m.Mine(context.Background(), *target)
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}

	if snap.DeviceID != target.ID || snap.TenantID != target.TenantID {
		t.Errorf("ids = %s/%s", snap.DeviceID, snap.TenantID)
	}
	if snap.Context.Identity != "core-gw" || snap.Context.SerialNumber != "HEX123" {
		t.Errorf("context = %+v", snap.Context)
	}
	if snap.Context.CPULoad == nil || *snap.Context.CPULoad != 93 {
		t.Errorf("cpu = %v", snap.Context.CPULoad)
	}
	if snap.Health.Voltage == nil || *snap.Health.Voltage != 23.9 {
		t.Errorf("voltage = %v", snap.Health.Voltage)
	}
	if len(snap.Interfaces) != 2 {
		t.Fatalf("interfaces = %d", len(snap.Interfaces))
	}
	e1 := snap.Interfaces[0]
	if e1.FCSErrors != 4 || e1.RxDrops != 150 || e1.Speed != "1Gbps" || e1.FullDuplex == nil || !*e1.FullDuplex {
		t.Errorf("ether1 = %+v", e1)
	}
	if !snap.Interfaces[1].Disabled || snap.Interfaces[1].Running {
		t.Errorf("ether2 flags = %+v", snap.Interfaces[1])
	}
	if len(snap.Wireless) != 1 || snap.Wireless[0].Signal != "-61" {
		t.Errorf("wireless = %+v", snap.Wireless)
	}
	if snap.Security.FirewallDropPackets != 15 {
		t.Errorf("drops = %d, want 15", snap.Security.FirewallDropPackets)
	}
	if fmt.Sprint(snap.Layer3.Protocols) != "[OSPF]" {
		t.Errorf("protocols = %v", snap.Layer3.Protocols)
	}
	if len(snap.Partial) != 0 {
		t.Errorf("partial = %v, want none (probe misses are not failures)", snap.Partial)
	}
	if dev.closes != 1 {
		t.Errorf("closes = %d, want 1", dev.closes)
	}
}

func TestMine_WirelessPathOrder(t *testing.T) {
	tests := []struct {
		name    string
		version string
		want    []string
	}{
		{"v6", "6.49.10 (long-term)", []string{"/interface/wireless/registration-table"}},
		{"v7", "7.12", []string{
			"/interface/wifiwave2/registration-table",
			"/interface/wifi/registration-table",
			"/interface/wireless/registration-table",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{records: baseRecords(tt.version)}
			m := newTestMiner(dev, DefaultConfig())
			if _, err := m.Mine(context.Background(), *testutil.FixtureDevice()); err != nil {
				t.Fatalf("Mine: %v", err)
			}

			var got []string
			for _, p := range dev.queried {
				if len(p) > len("registration-table") && p[len(p)-len("registration-table"):] == "registration-table" {
					got = append(got, p)
				}
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("wireless queries = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMine_StopsAtFirstNonEmptyWirelessPath(t *testing.T) {
	recs := baseRecords("7.15")
	recs["/interface/wifiwave2/registration-table"] = []types.RawRecord{{"mac-address": "AA"}}
	dev := &fakeDevice{records: recs}
	m := newTestMiner(dev, DefaultConfig())

	snap, _ := m.Mine(context.Background(), *testutil.FixtureDevice())
	for _, p := range dev.queried {
		if p == "/interface/wifi/registration-table" || p == "/interface/wireless/registration-table" {
			t.Errorf("queried %s after wifiwave2 returned data", p)
		}
	}
	if len(snap.Wireless) != 1 {
		t.Errorf("wireless = %v", snap.Wireless)
	}
}

func TestMine_HealthV6SingleRecord(t *testing.T) {
	recs := baseRecords("6.48")
	recs["/system/health"] = []types.RawRecord{{"voltage": "9.4", "temperature": "38"}}
	m := newTestMiner(&fakeDevice{records: recs}, DefaultConfig())

	snap, _ := m.Mine(context.Background(), *testutil.FixtureDevice())
	if snap.Health.Voltage == nil || *snap.Health.Voltage != 9.4 {
		t.Errorf("voltage = %v", snap.Health.Voltage)
	}
	if snap.Health.Temperature == nil || *snap.Health.Temperature != 38 {
		t.Errorf("temperature = %v", snap.Health.Temperature)
	}
}

func TestMine_PartialFailure(t *testing.T) {
	dev := &fakeDevice{
		records: baseRecords("7.14"),
		fail:    map[string]bool{"/ip/firewall/filter": true, "/system/health": true},
	}
	m := newTestMiner(dev, DefaultConfig())

	snap, err := m.Mine(context.Background(), *testutil.FixtureDevice())
	if err != nil {
		t.Fatalf("partial failure must not be returned as error: %v", err)
	}
	if snap.Failed() {
		t.Error("snapshot marked failed")
	}
	if fmt.Sprint(snap.Partial) != "[/system/health /ip/firewall/filter]" {
		t.Errorf("partial = %v", snap.Partial)
	}
	if len(snap.Interfaces) != 2 {
		t.Errorf("interfaces lost on partial failure: %d", len(snap.Interfaces))
	}

	var pe *PartialMiningError
	if !errors.As(PartialError(snap), &pe) || len(pe.Paths) != 2 {
		t.Errorf("PartialError = %v", PartialError(snap))
	}
}

func TestMine_ConnectionFailure(t *testing.T) {
	dev := &fakeDevice{dialErr: errors.New("i/o timeout")}
	m := newTestMiner(dev, DefaultConfig())

	snap, err := m.Mine(context.Background(), *testutil.FixtureDevice())
	var connErr *connector.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if snap == nil {
		t.Fatal("snapshot must not be nil")
	}
	if !snap.Failed() || snap.Error == "" {
		t.Error("snapshot missing error marker")
	}
	if len(snap.Interfaces) != 0 || len(snap.Logs) != 0 {
		t.Error("failed snapshot has data")
	}
	if len(dev.queried) != 0 {
		t.Errorf("queries ran without a session: %v", dev.queried)
	}
}

func TestMine_LogBufferCap(t *testing.T) {
	recs := baseRecords("7.14")
	for i := 0; i < 60; i++ {
		recs["/log"] = append(recs["/log"], types.RawRecord{"message": fmt.Sprintf("line %d", i)})
	}
	m := newTestMiner(&fakeDevice{records: recs}, Config{LogBufferSize: 50})

	snap, _ := m.Mine(context.Background(), *testutil.FixtureDevice())
	if len(snap.Logs) != 50 {
		t.Fatalf("logs = %d, want 50", len(snap.Logs))
	}
	if snap.Logs[0]["message"] != "line 10" || snap.Logs[49]["message"] != "line 59" {
		t.Errorf("kept wrong window: first=%s last=%s", snap.Logs[0]["message"], snap.Logs[49]["message"])
	}
}

func TestMajorVersion(t *testing.T) {
	tests := map[string]int{
		"7.14.2 (stable)":     7,
		"6.49.10 (long-term)": 6,
		" 7.1beta4":           7,
		"":                    0,
		"unknown":             0,
	}
	for in, want := range tests {
		if got := MajorVersion(in); got != want {
			t.Errorf("MajorVersion(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseHelpers(t *testing.T) {
	if v := parseFloat("24.1V"); v == nil || *v != 24.1 {
		t.Errorf("parseFloat(24.1V) = %v", v)
	}
	if v := parseFloat("7%"); v == nil || *v != 7 {
		t.Errorf("parseFloat(7%%) = %v", v)
	}
	if v := parseFloat(""); v != nil {
		t.Errorf("parseFloat(empty) = %v", *v)
	}
	if v := parseBytes("2.0MiB"); v == nil || *v != 2<<20 {
		t.Errorf("parseBytes(2.0MiB) = %v", v)
	}
	if v := parseBytes("1024"); v == nil || *v != 1024 {
		t.Errorf("parseBytes(1024) = %v", v)
	}
}
