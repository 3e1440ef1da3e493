package store

import (
	"context"
	"strconv"
	"testing"

	"github.com/vesaa/homewatch/internal/models"
)

func ptr[T any](v T) *T { return &v }

func sshSample(ts int64, port int, up bool) models.ServiceSample {
	return models.ServiceSample{
		TS:          ts,
		Key:         "10.0.0.5|tcp|" + strconv.Itoa(port) + "||SSH",
		IP:          "10.0.0.5",
		DeviceName:  "nas",
		ServiceName: "SSH",
		ServiceType: "tcp",
		Port:        ptr(port),
		IsUp:        up,
	}
}

func TestSampleStore_RecordDeviceUpserts(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	samples := NewSampleStore(db)

	if err := samples.RecordDevice(ctx, models.DeviceSample{
		TS: 100, IP: "10.0.0.5", Name: "nas", Type: ptr("server"), IsUp: true, LatencyMS: ptr(3.2),
	}); err != nil {
		t.Fatal(err)
	}
	if err := samples.RecordDevice(ctx, models.DeviceSample{
		TS: 160, IP: "10.0.0.5", Name: "nas-renamed", IsUp: false,
	}); err != nil {
		t.Fatal(err)
	}

	status, err := samples.LatestDeviceStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(status) != 1 {
		t.Fatalf("expected one status row, got %d", len(status))
	}
	got := status[0]
	if got.Name != "nas-renamed" || got.IsUp || got.LatencyMS != nil || got.Type != nil || got.LastSeenTS != 160 {
		t.Errorf("status row not overwritten: %+v", got)
	}

	var count int64
	db.Model(&models.DeviceHistory{}).Count(&count)
	if count != 2 {
		t.Errorf("expected 2 history rows, got %d", count)
	}

	hist, err := samples.DeviceHistory(ctx, "10.0.0.5", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].TS != 100 || hist[1].TS != 160 {
		t.Errorf("unexpected history %+v", hist)
	}
	if hist[0].LatencyMS == nil || *hist[0].LatencyMS != 3.2 {
		t.Errorf("history must keep original latency, got %+v", hist[0])
	}
}

func TestSampleStore_LatestDeviceStatusOrder(t *testing.T) {
	ctx := context.Background()
	samples := NewSampleStore(setupTestDB(t))

	devices := []models.DeviceSample{
		{TS: 1, IP: "10.0.0.1", Name: "router", IsUp: true, LatencyMS: ptr(1.0)},
		{TS: 1, IP: "10.0.0.2", Name: "printer", IsUp: false},
		{TS: 1, IP: "10.0.0.3", Name: "camera", IsUp: true, LatencyMS: ptr(2.0)},
		{TS: 1, IP: "10.0.0.4", Name: "nas", IsUp: false},
	}
	for _, d := range devices {
		if err := samples.RecordDevice(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	status, err := samples.LatestDeviceStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"nas", "printer", "camera", "router"}
	if len(status) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(status))
	}
	for i, name := range want {
		if status[i].Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, status[i].Name)
		}
	}
}

func TestSampleStore_RecordServiceLastOKIsSticky(t *testing.T) {
	ctx := context.Background()
	samples := NewSampleStore(setupTestDB(t))

	steps := []struct {
		ts       int64
		up       bool
		wantOK   int64
		wantUp   bool
		wantLast int64
	}{
		{100, true, 100, true, 100},
		{200, false, 100, false, 200},
		{300, false, 100, false, 300},
		{400, true, 400, true, 400},
	}

	for _, step := range steps {
		if err := samples.RecordService(ctx, sshSample(step.ts, 22, step.up)); err != nil {
			t.Fatal(err)
		}
		rows, err := samples.ServicesForDevice(ctx, "10.0.0.5")
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 1 {
			t.Fatalf("expected 1 service row, got %d", len(rows))
		}
		row := rows[0]
		if row.LastOKTS == nil || *row.LastOKTS != step.wantOK {
			t.Errorf("ts %d: expected last_ok %d, got %v", step.ts, step.wantOK, row.LastOKTS)
		}
		if row.IsUp != step.wantUp || row.LastCheckedTS != step.wantLast {
			t.Errorf("ts %d: unexpected row %+v", step.ts, row)
		}
	}
}

func TestSampleStore_NeverUpServiceHasNoLastOK(t *testing.T) {
	ctx := context.Background()
	samples := NewSampleStore(setupTestDB(t))

	if err := samples.RecordService(ctx, sshSample(100, 22, false)); err != nil {
		t.Fatal(err)
	}
	rows, err := samples.ServicesForDevice(ctx, "10.0.0.5")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].LastOKTS != nil {
		t.Errorf("expected nil last_ok, got %+v", rows)
	}
}

func TestSampleStore_DistinctPortsAreDistinctRows(t *testing.T) {
	ctx := context.Background()
	samples := NewSampleStore(setupTestDB(t))

	if err := samples.RecordService(ctx, sshSample(100, 22, true)); err != nil {
		t.Fatal(err)
	}
	alt := sshSample(100, 2222, false)
	alt.ServiceName = "Alt SSH"
	alt.Key = "10.0.0.5|tcp|2222||Alt SSH"
	if err := samples.RecordService(ctx, alt); err != nil {
		t.Fatal(err)
	}

	rows, err := samples.ServicesForDevice(ctx, "10.0.0.5")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	// alphabetical by service name
	if rows[0].ServiceName != "Alt SSH" || rows[1].ServiceName != "SSH" {
		t.Errorf("unexpected order: %s, %s", rows[0].ServiceName, rows[1].ServiceName)
	}
}

func TestSampleStore_PruneServicesKeepsHistory(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	samples := NewSampleStore(db)

	keep := sshSample(100, 22, true)
	drop := sshSample(100, 2222, true)
	drop.Key = "10.0.0.5|tcp|2222||SSH"
	for _, s := range []models.ServiceSample{keep, drop} {
		if err := samples.RecordService(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	n, err := samples.PruneServices(ctx, []string{keep.Key})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned row, got %d", n)
	}

	rows, err := samples.ServicesForDevice(ctx, "10.0.0.5")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].SvcKey != keep.Key {
		t.Errorf("unexpected rows after prune: %+v", rows)
	}

	var hist int64
	db.Model(&models.ServiceHistory{}).Where("svc_key = ?", drop.Key).Count(&hist)
	if hist != 1 {
		t.Errorf("history for pruned key must survive, got %d rows", hist)
	}
}

func TestSampleStore_PruneServicesEmptySetWipesStatus(t *testing.T) {
	ctx := context.Background()
	samples := NewSampleStore(setupTestDB(t))

	if err := samples.RecordService(ctx, sshSample(100, 22, true)); err != nil {
		t.Fatal(err)
	}
	n, err := samples.PruneServices(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned row, got %d", n)
	}
	rows, _ := samples.ServicesForDevice(ctx, "10.0.0.5")
	if len(rows) != 0 {
		t.Errorf("expected empty status table, got %+v", rows)
	}
}

func TestSampleStore_PruneHistory(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	samples := NewSampleStore(db)

	for _, ts := range []int64{100, 200, 300} {
		if err := samples.RecordDevice(ctx, models.DeviceSample{TS: ts, IP: "10.0.0.1", Name: "router", IsUp: true}); err != nil {
			t.Fatal(err)
		}
		if err := samples.RecordService(ctx, sshSample(ts, 22, true)); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := samples.PruneHistory(ctx, 250)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 4 {
		t.Errorf("expected 4 history rows removed, got %d", removed)
	}

	status, _ := samples.LatestDeviceStatus(ctx)
	if len(status) != 1 {
		t.Error("status rows must not be pruned")
	}
}

func TestSampleStore_Runs(t *testing.T) {
	ctx := context.Background()
	samples := NewSampleStore(setupTestDB(t))

	for i := int64(1); i <= 3; i++ {
		run := &models.ProbeRun{StartedTS: i * 60, FinishedTS: i*60 + 5, Devices: 2, Up: 1, Down: 1}
		if err := samples.RecordRun(ctx, run); err != nil {
			t.Fatal(err)
		}
		if run.ID == "" {
			t.Fatal("expected generated run id")
		}
	}

	runs, err := samples.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].StartedTS != 180 || runs[1].StartedTS != 120 {
		t.Errorf("unexpected runs %+v", runs)
	}
}
