package executor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/solarinvest/fleetmonitor/internal/adapter"
	"github.com/solarinvest/fleetmonitor/internal/adapter/mockadapter"
	"github.com/solarinvest/fleetmonitor/internal/clock"
	"github.com/solarinvest/fleetmonitor/internal/domain"
	"github.com/solarinvest/fleetmonitor/internal/lockservice"
	"github.com/solarinvest/fleetmonitor/internal/store"
	"github.com/solarinvest/fleetmonitor/internal/vault"
)

const testMasterKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVault(t *testing.T) vault.Vault {
	t.Helper()
	v, err := vault.New(testMasterKey, "")
	if err != nil {
		t.Fatalf("construct vault: %v", err)
	}
	return v
}

func seedPlantWithCredential(t *testing.T, mem *store.MemStore, v vault.Vault, plantID string, brand domain.Brand, tz string) {
	t.Helper()

	mem.SeedPlant(domain.Plant{
		ID:                plantID,
		Brand:             brand,
		Timezone:          tz,
		IntegrationStatus: domain.IntegrationActive,
		Status:            domain.StatusGrey,
		VendorPlantID:     "vendor-" + plantID,
	})

	payload := credentialPayload{Username: "user", Password: "pass"}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal credential payload: %v", err)
	}
	blob, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt credential: %v", err)
	}
	mem.SeedCredential(domain.Credential{PlantID: plantID, Brand: brand, EncryptedBlob: blob, KeyVersion: 1})
}

func loadFixture(t *testing.T, name string) *mockadapter.Fixture {
	t.Helper()
	f, err := mockadapter.LoadFixture("../../testdata/fixtures/" + name + ".json")
	if err != nil {
		t.Fatalf("load fixture %s: %v", name, err)
	}
	return f
}

func newExecutor(mem *store.MemStore, v vault.Vault, reg *adapter.Registry, clk clock.Clock) *Executor {
	locks := lockservice.NewMemLockWithClock(clk.Now)
	return New(mem, v, reg, locks, clk, discardLogger(), Config{
		LockTTL:               1200 * time.Second,
		AdapterRequestTimeout: 8 * time.Second,
		JobTimeout:            60 * time.Second,
	})
}

// TestExecutor_ColdStartProducesSnapshotAndGreenStatus mirrors scenario S1:
// a GREY plant with no snapshots receives one poll and ends up GREEN.
func TestExecutor_ColdStartProducesSnapshotAndGreenStatus(t *testing.T) {
	mem := store.NewMemStore()
	v := newTestVault(t)
	fixture := loadFixture(t, "solis")

	reg := adapter.NewRegistry()
	reg.Register(domain.BrandSolis, mockadapter.New(domain.BrandSolis, fixture, adapter.Capabilities{Brand: domain.BrandSolis}))

	seedPlantWithCredential(t, mem, v, "p1", domain.BrandSolis, "America/Sao_Paulo")

	fixtureLastSeen, _ := time.Parse(time.RFC3339, fixture.PlantSummary.LastSeenAt)
	clk := clock.NewFake(fixtureLastSeen.Add(time.Minute))

	exec := newExecutor(mem, v, reg, clk)

	ticket := domain.JobTicket{ID: domain.PollTicketID("p1"), PlantID: "p1", Brand: domain.BrandSolis, JobType: domain.JobTypePoll, Attempt: 1}
	if err := exec.Run(context.Background(), ticket); err != nil {
		t.Fatalf("run: %v", err)
	}

	plant, err := mem.GetPlant(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get plant: %v", err)
	}
	if plant.Status != domain.StatusGreen {
		t.Fatalf("want GREEN, got %s", plant.Status)
	}

	logs := mem.PollLogs()
	if len(logs) != 1 || logs[0].Status != domain.JobStatusSuccess {
		t.Fatalf("want exactly 1 SUCCESS poll log, got %+v", logs)
	}
}

// TestExecutor_LockSkippedIsSuccessWithNoSideEffects mirrors scenario S2.
func TestExecutor_LockSkippedIsSuccessWithNoSideEffects(t *testing.T) {
	mem := store.NewMemStore()
	v := newTestVault(t)
	fixture := loadFixture(t, "solis")

	reg := adapter.NewRegistry()
	reg.Register(domain.BrandSolis, mockadapter.New(domain.BrandSolis, fixture, adapter.Capabilities{Brand: domain.BrandSolis}))

	seedPlantWithCredential(t, mem, v, "p2", domain.BrandSolis, "America/Sao_Paulo")

	clk := clock.NewFake(time.Date(2026, 7, 30, 15, 0, 0, 0, time.UTC))
	locks := lockservice.NewMemLockWithClock(clk.Now)

	// Pre-acquire the lock, simulating a concurrent in-flight job.
	if ok, err := locks.Acquire(context.Background(), domain.PlantLockKey("p2"), time.Hour, "other-job"); err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}

	exec := New(mem, v, reg, locks, clk, discardLogger(), Config{
		LockTTL:               1200 * time.Second,
		AdapterRequestTimeout: 8 * time.Second,
		JobTimeout:            60 * time.Second,
	})

	ticket := domain.JobTicket{ID: domain.PollTicketID("p2"), PlantID: "p2", Brand: domain.BrandSolis, JobType: domain.JobTypePoll, Attempt: 1}
	if err := exec.Run(context.Background(), ticket); err != nil {
		t.Fatalf("run: %v", err)
	}

	logs := mem.PollLogs()
	if len(logs) != 1 {
		t.Fatalf("want 1 poll log, got %d", len(logs))
	}
	if logs[0].Status != domain.JobStatusSuccess || logs[0].AdapterErrorType != string(adapter.ErrLockSkipped) {
		t.Fatalf("want SUCCESS/LOCK_SKIPPED, got %+v", logs[0])
	}

	if _, err := mem.GetSnapshot(context.Background(), "p2", "2026-07-30"); err != store.ErrNotFound {
		t.Fatalf("want no snapshot written on lock-skipped run, err=%v", err)
	}
}

// TestExecutor_AuthFailureQuarantinesPlant mirrors scenario S4: a decrypt
// failure (simulated with a vault that can never open the stored blob)
// quarantines the plant.
func TestExecutor_AuthFailureQuarantinesPlant(t *testing.T) {
	mem := store.NewMemStore()
	encryptingVault := newTestVault(t)
	fixture := loadFixture(t, "solis")

	reg := adapter.NewRegistry()
	reg.Register(domain.BrandSolis, mockadapter.New(domain.BrandSolis, fixture, adapter.Capabilities{Brand: domain.BrandSolis}))

	seedPlantWithCredential(t, mem, encryptingVault, "p4", domain.BrandSolis, "America/Sao_Paulo")

	// A different key: decrypting with it must fail, forcing AUTH_FAILED.
	wrongKeyVault, err := vault.New("abcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcd", "")
	if err != nil {
		t.Fatalf("construct wrong-key vault: %v", err)
	}

	clk := clock.NewFake(time.Date(2026, 7, 30, 15, 0, 0, 0, time.UTC))
	exec := newExecutor(mem, wrongKeyVault, reg, clk)

	ticket := domain.JobTicket{ID: domain.PollTicketID("p4"), PlantID: "p4", Brand: domain.BrandSolis, JobType: domain.JobTypePoll, Attempt: 1}
	if err := exec.Run(context.Background(), ticket); err == nil {
		t.Fatalf("want AUTH_FAILED error, got nil")
	}

	plant, err := mem.GetPlant(context.Background(), "p4")
	if err != nil {
		t.Fatalf("get plant: %v", err)
	}
	if plant.IntegrationStatus != domain.IntegrationPausedAuthError {
		t.Fatalf("want quarantined integration_status, got %s", plant.IntegrationStatus)
	}
	if plant.Status != domain.StatusGrey {
		t.Fatalf("want GREY after quarantine, got %s", plant.Status)
	}
}

// TestExecutor_LowGenDerivationRaisesRedStatus mirrors scenario S6: seven
// prior snapshots median 30.5, today's energy 2.5 (<10% of median) must
// raise LOW_GEN CRITICAL and drive StatusEvaluator to RED.
func TestExecutor_LowGenDerivationRaisesRedStatus(t *testing.T) {
	mem := store.NewMemStore()
	v := newTestVault(t)

	fixture := &mockadapter.Fixture{}
	fixture.PlantSummary.TodayEnergyKWh = 2.5
	fixture.PlantSummary.LastSeenAt = "2026-07-30T14:30:00Z"
	fixture.PlantSummary.SourceSampledAt = "2026-07-30T14:29:45Z"
	fixture.PlantSummary.Timezone = "America/Sao_Paulo"

	reg := adapter.NewRegistry()
	reg.Register(domain.BrandSolis, mockadapter.New(domain.BrandSolis, fixture, adapter.Capabilities{Brand: domain.BrandSolis}))

	seedPlantWithCredential(t, mem, v, "p6", domain.BrandSolis, "America/Sao_Paulo")

	history := []float64{32.1, 29.7, 30.5, 31.2, 28.9, 30.0, 31.5}
	for i, kwh := range history {
		date := time.Date(2026, 7, 23+i, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
		mem.SeedSnapshot(domain.MetricSnapshot{PlantID: "p6", Date: date, TodayEnergyKWh: kwh, Timezone: "America/Sao_Paulo"})
	}

	clk := clock.NewFake(time.Date(2026, 7, 30, 15, 0, 0, 0, time.UTC))
	exec := newExecutor(mem, v, reg, clk)

	ticket := domain.JobTicket{ID: domain.PollTicketID("p6"), PlantID: "p6", Brand: domain.BrandSolis, JobType: domain.JobTypePoll, Attempt: 1}
	if err := exec.Run(context.Background(), ticket); err != nil {
		t.Fatalf("run: %v", err)
	}

	plant, err := mem.GetPlant(context.Background(), "p6")
	if err != nil {
		t.Fatalf("get plant: %v", err)
	}
	if plant.Status != domain.StatusRed {
		t.Fatalf("want RED from low-gen CRITICAL, got %s", plant.Status)
	}

	alerts := mem.Alerts()
	found := false
	for _, a := range alerts {
		if a.PlantID == "p6" && a.Type == domain.AlertTypeLowGen && a.Severity == domain.SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Fatalf("want a LOW_GEN CRITICAL alert, got %+v", alerts)
	}
}

// TestExecutor_AlertLifecycleNewUpdateResolve mirrors scenario S5: an
// alarm goes NEW -> severity-upgraded -> RESOLVED across three polls.
func TestExecutor_AlertLifecycleNewUpdateResolve(t *testing.T) {
	mem := store.NewMemStore()
	v := newTestVault(t)
	seedPlantWithCredential(t, mem, v, "p7", domain.BrandSolis, "America/Sao_Paulo")

	clk := clock.NewFake(time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC))
	exec := newExecutor(mem, v, adapter.NewRegistry(), clk)

	runWith := func(isActive bool, severity string) {
		fixture := &mockadapter.Fixture{}
		fixture.PlantSummary.TodayEnergyKWh = 20
		fixture.PlantSummary.LastSeenAt = clk.Now().Format(time.RFC3339)
		fixture.PlantSummary.SourceSampledAt = clk.Now().Format(time.RFC3339)
		fixture.PlantSummary.Timezone = "America/Sao_Paulo"
		fixture.Alarms = append(fixture.Alarms, struct {
			VendorAlarmCode string `json:"vendorAlarmCode"`
			DeviceSN        string `json:"deviceSn"`
			Message         string `json:"message"`
			OccurredAt      string `json:"occurredAt"`
			IsActive        bool   `json:"isActive"`
			Severity        string `json:"severity"`
		}{
			VendorAlarmCode: "GRID_FAULT_001",
			DeviceSN:        "INV-1",
			Message:         "grid fault",
			OccurredAt:      clk.Now().Format(time.RFC3339),
			IsActive:        isActive,
			Severity:        severity,
		})

		reg := adapter.NewRegistry()
		reg.Register(domain.BrandSolis, mockadapter.New(domain.BrandSolis, fixture, adapter.Capabilities{Brand: domain.BrandSolis}))
		exec.registry = reg

		ticket := domain.JobTicket{ID: domain.PollTicketID("p7"), PlantID: "p7", Brand: domain.BrandSolis, JobType: domain.JobTypePoll, Attempt: 1}
		if err := exec.Run(context.Background(), ticket); err != nil {
			t.Fatalf("run: %v", err)
		}
	}

	runWith(true, "MEDIUM")
	alerts := mem.Alerts()
	if len(alerts) != 1 || alerts[0].State != domain.AlertStateNew || alerts[0].Severity != domain.SeverityMedium {
		t.Fatalf("want one NEW MEDIUM alert after first poll, got %+v", alerts)
	}

	clk.Advance(time.Minute)
	runWith(true, "HIGH")
	alerts = mem.Alerts()
	if len(alerts) != 1 || alerts[0].State != domain.AlertStateNew || alerts[0].Severity != domain.SeverityHigh {
		t.Fatalf("want severity upgraded to HIGH with no new row, got %+v", alerts)
	}

	clk.Advance(time.Minute)
	runWith(false, "HIGH")
	alerts = mem.Alerts()
	if len(alerts) != 1 || alerts[0].State != domain.AlertStateResolved || alerts[0].ClearedAt == nil {
		t.Fatalf("want alert resolved with ClearedAt set, got %+v", alerts)
	}
}

// TestExecutor_SkipsAdapterCallWhenIntegrationNotActive covers step 5 of
// the pipeline: a non-ACTIVE plant must not reach the adapter at all.
func TestExecutor_SkipsAdapterCallWhenIntegrationNotActive(t *testing.T) {
	mem := store.NewMemStore()
	v := newTestVault(t)

	// A working mock adapter is registered: the skip branch must return
	// before calling it, so no snapshot may appear for the plant.
	reg := adapter.NewRegistry()
	reg.Register(domain.BrandSolis, mockadapter.New(domain.BrandSolis, loadFixture(t, "solis"), adapter.Capabilities{Brand: domain.BrandSolis}))

	mem.SeedPlant(domain.Plant{
		ID:                "p5",
		Brand:             domain.BrandSolis,
		Timezone:          "America/Sao_Paulo",
		IntegrationStatus: domain.IntegrationPausedManual,
		Status:            domain.StatusGreen,
		VendorPlantID:     "vendor-p5",
	})

	clk := clock.NewFake(time.Date(2026, 7, 30, 15, 0, 0, 0, time.UTC))
	exec := newExecutor(mem, v, reg, clk)

	ticket := domain.JobTicket{ID: domain.PollTicketID("p5"), PlantID: "p5", Brand: domain.BrandSolis, JobType: domain.JobTypePoll, Attempt: 1}
	if err := exec.Run(context.Background(), ticket); err != nil {
		t.Fatalf("run: %v", err)
	}

	plant, err := mem.GetPlant(context.Background(), "p5")
	if err != nil {
		t.Fatalf("get plant: %v", err)
	}
	if plant.Status != domain.StatusGrey {
		t.Fatalf("want GREY for non-active integration, got %s", plant.Status)
	}

	logs := mem.PollLogs()
	if len(logs) != 1 || logs[0].Status != domain.JobStatusSuccess {
		t.Fatalf("want 1 SUCCESS poll log for the skip branch, got %+v", logs)
	}

	if snaps, err := mem.ListRecentSnapshotsBefore(context.Background(), "p5", "9999-12-31", 10); err != nil || len(snaps) != 0 {
		t.Fatalf("want no snapshot written for a non-active plant, got %d (err=%v)", len(snaps), err)
	}
}
