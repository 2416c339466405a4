package litestore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pilot-net/routerwatch/collector/internal/testutil"
	"github.com/pilot-net/routerwatch/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func TestDevices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dev := testutil.FixtureDevice(func(d *types.DeviceTarget) {
		d.ID = "dev-b"
		d.Ports = map[string]int{types.ProviderSSH: 2222}
		d.CredentialBlob = "sealed"
	})
	if err := s.UpsertDevice(ctx, *dev); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	if err := s.UpsertDevice(ctx, *testutil.FixtureDevice(func(d *types.DeviceTarget) { d.ID = "dev-a" })); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDevice(ctx, "dev-b")
	if err != nil || got == nil {
		t.Fatalf("GetDevice = %v, %v", got, err)
	}
	if got.TenantID != dev.TenantID || got.Ports[types.ProviderSSH] != 2222 || got.CredentialBlob != "sealed" {
		t.Errorf("device = %+v", got)
	}

	ids, err := s.ListDeviceIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(ids) != "[dev-a dev-b]" {
		t.Errorf("ids = %v", ids)
	}

	if err := s.DisableDevice(ctx, "dev-a"); err != nil {
		t.Fatal(err)
	}
	if d, _ := s.GetDevice(ctx, "dev-a"); d != nil {
		t.Error("disabled device still returned")
	}
	if d, err := s.GetDevice(ctx, "missing"); d != nil || err != nil {
		t.Errorf("missing device = %v, %v", d, err)
	}

	dev.Host = "198.51.100.1"
	if err := s.UpsertDevice(ctx, *dev); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.GetDevice(ctx, "dev-b"); got.Host != "198.51.100.1" {
		t.Errorf("host after upsert = %s", got.Host)
	}
}

func TestLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	last, err := s.LastLogTime(ctx, "t1", "d1")
	if err != nil || last != nil {
		t.Fatalf("empty LastLogTime = %v, %v", last, err)
	}

	records := []types.LogRecord{
		{TenantID: "t1", DeviceID: "d1", RawLog: "[system] boot", EventTime: base, TimestampSource: "absolute"},
		{TenantID: "t1", DeviceID: "d1", RawLog: "[pppoe] link down", EventTime: base.Add(time.Minute), TimestampSource: "absolute", Level: testutil.Ptr("error")},
		{TenantID: "t1", DeviceID: "d1", RawLog: "[pppoe] link up", EventTime: base.Add(time.Minute), TimestampSource: "absolute"},
		{TenantID: "t2", DeviceID: "d1", RawLog: "[system] other tenant", EventTime: base.Add(time.Hour), TimestampSource: "absolute"},
	}
	if err := s.InsertLogs(ctx, records); err != nil {
		t.Fatalf("InsertLogs: %v", err)
	}

	last, err = s.LastLogTime(ctx, "t1", "d1")
	if err != nil || last == nil {
		t.Fatalf("LastLogTime = %v, %v", last, err)
	}
	if !last.Equal(base.Add(time.Minute)) {
		t.Errorf("last = %v, want %v", last, base.Add(time.Minute))
	}

	texts, err := s.LogTextsAt(ctx, "t1", "d1", base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 2 {
		t.Errorf("texts = %v, want 2 lines", texts)
	}

	n, err := s.CountLogs(ctx, "t1", "d1")
	if err != nil || n != 3 {
		t.Errorf("CountLogs = %d, %v", n, err)
	}

	if err := s.InsertLogs(ctx, nil); err != nil {
		t.Errorf("empty InsertLogs: %v", err)
	}
}

func TestLogs_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InsertLogs(ctx, []types.LogRecord{{TenantID: "t1", DeviceID: "d1", RawLog: "x", EventTime: base, TimestampSource: "absolute"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.db.Exec(`UPDATE device_logs SET raw_log = 'y'`).Error; err == nil {
		t.Error("update of device_logs succeeded")
	}
	if err := s.db.Exec(`DELETE FROM device_logs`).Error; err == nil {
		t.Error("delete of device_logs succeeded")
	}
}

func TestCreateAlertIfAbsent(t *testing.T) {
	tests := []struct {
		name        string
		secondAt    time.Duration
		secondTitle string
		window      time.Duration
		wantCreated bool
	}{
		{"same title inside window", 30 * time.Minute, "Reporte Forense IA", time.Hour, false},
		{"same title at window edge", time.Hour, "Reporte Forense IA", time.Hour, false},
		{"same title after window", time.Hour + time.Second, "Reporte Forense IA", time.Hour, true},
		{"different title", time.Minute, "Inestabilidad WAN detectada", time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			ctx := context.Background()

			first := testutil.FixtureAlert("t1", "d1", func(a *types.Alert) { a.CreatedAt, a.UpdatedAt = base, base })
			stored, created, err := s.CreateAlertIfAbsent(ctx, first, tt.window)
			if err != nil || !created {
				t.Fatalf("first create = %v, %v", created, err)
			}
			if stored.ID != first.ID {
				t.Errorf("stored ID = %s", stored.ID)
			}

			at := base.Add(tt.secondAt)
			second := testutil.FixtureAlert("t1", "d1", func(a *types.Alert) {
				a.Title = tt.secondTitle
				a.CreatedAt, a.UpdatedAt = at, at
			})
			got, created, err := s.CreateAlertIfAbsent(ctx, second, tt.window)
			if err != nil {
				t.Fatal(err)
			}
			if created != tt.wantCreated {
				t.Errorf("created = %v, want %v", created, tt.wantCreated)
			}
			if !created && got.ID != first.ID {
				t.Errorf("dedup returned %s, want existing %s", got.ID, first.ID)
			}
		})
	}
}

func TestCreateAlertIfAbsent_WritesHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alert := testutil.FixtureAlert("t1", "d1", func(a *types.Alert) { a.CreatedAt, a.UpdatedAt = base, base })
	if _, _, err := s.CreateAlertIfAbsent(ctx, alert, time.Hour); err != nil {
		t.Fatal(err)
	}

	history, err := s.AlertHistory(ctx, "t1", alert.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("history rows = %d, want 1", len(history))
	}
	h := history[0]
	if h.PreviousStatus != "" || h.NewStatus != types.StatusPending || h.ChangedBy != types.SystemActor || !h.ChangedAt.Equal(base) {
		t.Errorf("history = %+v", h)
	}
}

func TestCreateAlertIfAbsent_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := testutil.FixtureAlert("t1", "d1", func(a *types.Alert) { a.CreatedAt, a.UpdatedAt = base, base })
			_, ok, err := s.CreateAlertIfAbsent(ctx, a, time.Hour)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
}

func TestTransitionAlert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alert := testutil.FixtureAlert("t1", "d1", func(a *types.Alert) { a.CreatedAt, a.UpdatedAt = base, base })
	if _, _, err := s.CreateAlertIfAbsent(ctx, alert, time.Hour); err != nil {
		t.Fatal(err)
	}

	at := base.Add(90 * time.Minute)
	updated, err := s.TransitionAlert(ctx, "t1", alert.ID, types.StatusInProgress, "noc@example.com", "investigating", at)
	if err != nil || updated == nil {
		t.Fatalf("TransitionAlert = %v, %v", updated, err)
	}
	if updated.Status != types.StatusInProgress || updated.LastComment != "investigating" || !updated.UpdatedAt.Equal(at) {
		t.Errorf("updated = %+v", updated)
	}

	got, err := s.GetAlert(ctx, "t1", alert.ID)
	if err != nil || got.Status != types.StatusInProgress {
		t.Errorf("stored = %+v, %v", got, err)
	}

	history, _ := s.AlertHistory(ctx, "t1", alert.ID)
	if len(history) != 2 {
		t.Fatalf("history rows = %d, want 2", len(history))
	}
	if h := history[1]; h.PreviousStatus != types.StatusPending || h.NewStatus != types.StatusInProgress || h.ChangedBy != "noc@example.com" {
		t.Errorf("history[1] = %+v", h)
	}

	other, err := s.TransitionAlert(ctx, "t2", alert.ID, types.StatusResolved, "x", "", at)
	if err != nil || other != nil {
		t.Errorf("cross-tenant transition = %v, %v", other, err)
	}
	missing, err := s.TransitionAlert(ctx, "t1", "no-such-alert", types.StatusResolved, "x", "", at)
	if err != nil || missing != nil {
		t.Errorf("missing transition = %v, %v", missing, err)
	}
}

func TestTransitionAlert_Atomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alert := testutil.FixtureAlert("t1", "d1", func(a *types.Alert) { a.CreatedAt, a.UpdatedAt = base, base })
	if _, _, err := s.CreateAlertIfAbsent(ctx, alert, time.Hour); err != nil {
		t.Fatal(err)
	}

	err := s.db.Exec(`CREATE TRIGGER fail_history BEFORE INSERT ON alert_status_history
		BEGIN SELECT RAISE(ABORT, 'history write failed'); END`).Error
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.TransitionAlert(ctx, "t1", alert.ID, types.StatusResolved, "noc", "done", base.Add(time.Hour)); err == nil {
		t.Fatal("expected transition error")
	}

	got, err := s.GetAlert(ctx, "t1", alert.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusPending || got.LastComment != "" {
		t.Errorf("alert changed despite failed history write: %+v", got)
	}
	history, _ := s.AlertHistory(ctx, "t1", alert.ID)
	if len(history) != 1 {
		t.Errorf("history rows = %d, want 1", len(history))
	}
}

func TestCreateAlertIfAbsent_AtomicWithHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.db.Exec(`CREATE TRIGGER fail_history BEFORE INSERT ON alert_status_history
		BEGIN SELECT RAISE(ABORT, 'history write failed'); END`).Error
	if err != nil {
		t.Fatal(err)
	}

	alert := testutil.FixtureAlert("t1", "d1")
	if _, _, err := s.CreateAlertIfAbsent(ctx, alert, time.Hour); err == nil {
		t.Fatal("expected create error")
	}
	if got, _ := s.GetAlert(ctx, "t1", alert.ID); got != nil {
		t.Error("alert persisted without its history row")
	}
}

func TestHistory_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alert := testutil.FixtureAlert("t1", "d1")
	if _, _, err := s.CreateAlertIfAbsent(ctx, alert, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := s.db.Exec(`UPDATE alert_status_history SET changed_by = 'mallory'`).Error; err == nil {
		t.Error("update of history succeeded")
	}
	if err := s.db.Exec(`DELETE FROM alert_status_history`).Error; err == nil {
		t.Error("delete of history succeeded")
	}
}

func TestListActiveAlerts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	open := testutil.FixtureAlert("t1", "d1", func(a *types.Alert) { a.Title = "open" })
	done := testutil.FixtureAlert("t1", "d1", func(a *types.Alert) { a.Title = "done" })
	for _, a := range []*types.Alert{open, done} {
		if _, _, err := s.CreateAlertIfAbsent(ctx, a, time.Hour); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.TransitionAlert(ctx, "t1", done.ID, types.StatusResolved, "noc", "", time.Now()); err != nil {
		t.Fatal(err)
	}

	active, err := s.ListActiveAlerts(ctx, "t1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != open.ID {
		t.Errorf("active = %+v", active)
	}
}

func TestResolutionSamples(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(title string, sev types.AlertSeverity, created time.Time) *types.Alert {
		a := testutil.FixtureAlert("t1", "d1", func(a *types.Alert) {
			a.Title = title
			a.Severity = sev
			a.CreatedAt, a.UpdatedAt = created, created
		})
		if _, _, err := s.CreateAlertIfAbsent(ctx, a, time.Hour); err != nil {
			t.Fatal(err)
		}
		return a
	}

	resolved := mk("a", types.SeveritySevere, base)
	open := mk("b", types.SeverityCritical, base.Add(time.Hour))
	minor := mk("c", types.SeverityMinor, base)
	old := mk("d", types.SeveritySevere, base.AddDate(0, -2, 0))

	transition := func(id string, st types.AlertStatus, at time.Time) {
		if _, err := s.TransitionAlert(ctx, "t1", id, st, "noc", "", at); err != nil {
			t.Fatal(err)
		}
	}
	transition(resolved.ID, types.StatusResolved, base.Add(30*time.Minute))
	transition(resolved.ID, types.StatusPending, base.Add(40*time.Minute))
	transition(resolved.ID, types.StatusResolved, base.Add(50*time.Minute))
	transition(minor.ID, types.StatusResolved, base.Add(time.Minute))

	samples, err := s.ResolutionSamples(ctx, "t1", base.Add(-24*time.Hour), types.HighSeverities)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 2 {
		t.Fatalf("samples = %+v, want 2", samples)
	}

	byID := map[string]types.ResolutionSample{}
	for _, rs := range samples {
		byID[rs.AlertID] = rs
	}
	if rs := byID[resolved.ID]; rs.ResolvedAt == nil || !rs.ResolvedAt.Equal(base.Add(30*time.Minute)) {
		t.Errorf("resolved sample = %+v, want first resolution", rs)
	}
	if rs, ok := byID[open.ID]; !ok || rs.ResolvedAt != nil {
		t.Errorf("open sample = %+v", rs)
	}
	if _, ok := byID[old.ID]; ok {
		t.Error("alert before since included")
	}

	none, err := s.ResolutionSamples(ctx, "other", base, types.HighSeverities)
	if err != nil || len(none) != 0 {
		t.Errorf("other tenant samples = %v, %v", none, err)
	}
}
