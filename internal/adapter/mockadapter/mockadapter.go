// Package mockadapter implements adapter.VendorAdapter entirely from a
// brand-specific fixture document. It performs no network I/O by
// construction: every method reads from an in-memory struct parsed once at
// startup, so "mock mode forbids network I/O" (spec §4.1, §6.1) is a
// structural property rather than a runtime check.
package mockadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/solarinvest/fleetmonitor/internal/adapter"
	"github.com/solarinvest/fleetmonitor/internal/domain"
)

// Fixture is the bit-exact mock-mode document shape from spec §6.2.
type Fixture struct {
	PlantSummary struct {
		CurrentPowerW       *float64 `json:"currentPowerW"`
		TodayEnergyKWh      float64  `json:"todayEnergyKWh"`
		TotalEnergyKWh      *float64 `json:"totalEnergyKWh"`
		GridInjectionPowerW *float64 `json:"gridInjectionPowerW"`
		LastSeenAt          string   `json:"lastSeenAt"`
		SourceSampledAt     string   `json:"sourceSampledAt"`
		Timezone            string   `json:"timezone"`
	} `json:"plant_summary"`
	DailySeries []struct {
		Date      string  `json:"date"`
		EnergyKWh float64 `json:"energyKWh"`
	} `json:"daily_series"`
	Alarms []struct {
		VendorAlarmCode string `json:"vendorAlarmCode"`
		DeviceSN        string `json:"deviceSn"`
		Message         string `json:"message"`
		OccurredAt      string `json:"occurredAt"`
		IsActive        bool   `json:"isActive"`
		Severity        string `json:"severity"`
	} `json:"alarms"`
}

// LoadFixture reads and parses a brand fixture document from path.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mockadapter: read fixture %s: %w", path, err)
	}

	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("mockadapter: parse fixture %s: %w", path, err)
	}

	return &f, nil
}

// Adapter serves NormalizedSummary/alarm/series data purely from a Fixture.
type Adapter struct {
	brand    domain.Brand
	fixture  *Fixture
	caps     adapter.Capabilities
}

// New builds a mock VendorAdapter for brand from a pre-loaded fixture.
func New(brand domain.Brand, fixture *Fixture, caps adapter.Capabilities) *Adapter {
	return &Adapter{brand: brand, fixture: fixture, caps: caps}
}

func (a *Adapter) Capabilities() adapter.Capabilities { return a.caps }

func (a *Adapter) TestConnection(ctx context.Context, creds adapter.Credentials) (adapter.TestResult, error) {
	return adapter.TestResult{OK: true, Message: "mock connection ok"}, nil
}

func (a *Adapter) GetPlantSummary(ctx context.Context, ref adapter.Ref, creds adapter.Credentials) (adapter.NormalizedSummary, error) {
	ps := a.fixture.PlantSummary

	lastSeen, err := time.Parse(time.RFC3339, ps.LastSeenAt)
	if err != nil {
		return adapter.NormalizedSummary{}, adapter.NewError(adapter.ErrInvalidData, fmt.Errorf("lastSeenAt: %w", err))
	}
	sampled, err := time.Parse(time.RFC3339, ps.SourceSampledAt)
	if err != nil {
		return adapter.NormalizedSummary{}, adapter.NewError(adapter.ErrInvalidData, fmt.Errorf("sourceSampledAt: %w", err))
	}

	return adapter.NormalizedSummary{
		CurrentPowerW:       ps.CurrentPowerW,
		TodayEnergyKWh:      ps.TodayEnergyKWh,
		TotalEnergyKWh:      ps.TotalEnergyKWh,
		GridInjectionPowerW: ps.GridInjectionPowerW,
		LastSeenAt:          lastSeen.UTC(),
		SourceSampledAt:     sampled.UTC(),
		Timezone:            ps.Timezone,
	}, nil
}

func (a *Adapter) GetDailyEnergySeries(ctx context.Context, ref adapter.Ref, creds adapter.Credentials, startDate, endDate string) ([]adapter.DailyEnergyPoint, error) {
	var out []adapter.DailyEnergyPoint
	for _, p := range a.fixture.DailySeries {
		if p.Date < startDate || p.Date > endDate {
			continue
		}
		out = append(out, adapter.DailyEnergyPoint{Date: p.Date, EnergyKWh: p.EnergyKWh})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (a *Adapter) GetAlarmsSince(ctx context.Context, ref adapter.Ref, creds adapter.Credentials, since time.Time) ([]adapter.NormalizedAlarm, error) {
	var out []adapter.NormalizedAlarm
	for _, al := range a.fixture.Alarms {
		occurred, err := time.Parse(time.RFC3339, al.OccurredAt)
		if err != nil {
			return nil, adapter.NewError(adapter.ErrInvalidData, fmt.Errorf("alarm occurredAt: %w", err))
		}
		if occurred.Before(since) {
			continue
		}
		severity := domain.Severity(al.Severity)
		if !isValidSeverity(severity) {
			return nil, adapter.NewError(adapter.ErrInvalidData, fmt.Errorf("alarm severity: unrecognized value %q", al.Severity))
		}
		out = append(out, adapter.NormalizedAlarm{
			VendorAlarmCode: al.VendorAlarmCode,
			DeviceSN:        al.DeviceSN,
			Message:         al.Message,
			OccurredAt:      occurred.UTC(),
			IsActive:        al.IsActive,
			Severity:        severity,
		})
	}
	return out, nil
}

func isValidSeverity(s domain.Severity) bool {
	switch s {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
		return true
	default:
		return false
	}
}
