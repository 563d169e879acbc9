package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/solarinvest/fleetmonitor/internal/domain"
)

// MemStore is an in-memory Store used by unit and scenario tests. It
// implements the same serializable-per-plant-row semantics the Store
// contract requires by serializing all access behind a single mutex.
type MemStore struct {
	mu          sync.Mutex
	plants      map[string]domain.Plant
	credentials map[credKey]domain.Credential
	snapshots   map[snapKey]domain.MetricSnapshot
	alerts      map[string]domain.Alert
	pollLogs    []domain.PollLog
}

type credKey struct {
	plantID string
	brand   domain.Brand
}

type snapKey struct {
	plantID string
	date    string
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		plants:      make(map[string]domain.Plant),
		credentials: make(map[credKey]domain.Credential),
		snapshots:   make(map[snapKey]domain.MetricSnapshot),
		alerts:      make(map[string]domain.Alert),
	}
}

// SeedPlant inserts or replaces a plant, for test setup.
func (m *MemStore) SeedPlant(p domain.Plant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plants[p.ID] = p
}

// SeedCredential inserts or replaces a credential, for test setup.
func (m *MemStore) SeedCredential(c domain.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[credKey{c.PlantID, c.Brand}] = c
}

// SeedSnapshot inserts or replaces a snapshot, for test setup.
func (m *MemStore) SeedSnapshot(s domain.MetricSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapKey{s.PlantID, s.Date}] = s
}

// PollLogs returns a copy of all recorded poll logs, for assertions.
func (m *MemStore) PollLogs() []domain.PollLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PollLog, len(m.pollLogs))
	copy(out, m.pollLogs)
	return out
}

// Alerts returns a copy of all alert rows, for assertions.
func (m *MemStore) Alerts() []domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, a)
	}
	return out
}

func (m *MemStore) ListActivePlants(ctx context.Context) ([]domain.Plant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Plant
	for _, p := range m.plants {
		if p.IntegrationStatus == domain.IntegrationActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) GetPlant(ctx context.Context, plantID string) (domain.Plant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plants[plantID]
	if !ok {
		return domain.Plant{}, ErrNotFound
	}
	return p, nil
}

func (m *MemStore) GetCredential(ctx context.Context, plantID string, brand domain.Brand) (domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[credKey{plantID, brand}]
	if !ok {
		return domain.Credential{}, ErrNotFound
	}
	return c, nil
}

func (m *MemStore) SetIntegrationStatus(ctx context.Context, plantID string, status domain.IntegrationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plants[plantID]
	if !ok {
		return ErrNotFound
	}
	p.IntegrationStatus = status
	m.plants[plantID] = p
	return nil
}

func (m *MemStore) SetPlantStatus(ctx context.Context, plantID string, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plants[plantID]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	m.plants[plantID] = p
	return nil
}

func (m *MemStore) UpsertSnapshot(ctx context.Context, snap domain.MetricSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.UpdatedAt = time.Now().UTC()
	m.snapshots[snapKey{snap.PlantID, snap.Date}] = snap
	return nil
}

func (m *MemStore) InsertBackfillSnapshot(ctx context.Context, snap domain.MetricSnapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := snapKey{snap.PlantID, snap.Date}
	if _, exists := m.snapshots[key]; exists {
		return false, nil
	}
	snap.UpdatedAt = time.Now().UTC()
	m.snapshots[key] = snap
	return true, nil
}

func (m *MemStore) GetSnapshot(ctx context.Context, plantID, date string) (domain.MetricSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[snapKey{plantID, date}]
	if !ok {
		return domain.MetricSnapshot{}, ErrNotFound
	}
	return s, nil
}

func (m *MemStore) ListRecentSnapshotsBefore(ctx context.Context, plantID, beforeDate string, limit int) ([]domain.MetricSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MetricSnapshot
	for k, s := range m.snapshots {
		if k.plantID == plantID && k.date < beforeDate {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) FindActiveAlert(ctx context.Context, key domain.AlertDedupKey) (*domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.DedupKey() == key && (a.State == domain.AlertStateNew || a.State == domain.AlertStateAcked) {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemStore) InsertAlert(ctx context.Context, alert domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[alert.ID] = alert
	return nil
}

func (m *MemStore) UpdateAlertSeen(ctx context.Context, alertID string, severity domain.Severity, message string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return ErrNotFound
	}
	a.Severity = severity
	a.Message = message
	a.LastSeenAt = seenAt
	m.alerts[alertID] = a
	return nil
}

func (m *MemStore) ResolveAlert(ctx context.Context, alertID string, clearedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return ErrNotFound
	}
	a.State = domain.AlertStateResolved
	a.ClearedAt = &clearedAt
	m.alerts[alertID] = a
	return nil
}

func (m *MemStore) ListActiveCriticalAlerts(ctx context.Context, plantID string) ([]domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Alert
	for _, a := range m.alerts {
		if a.PlantID == plantID &&
			(a.State == domain.AlertStateNew || a.State == domain.AlertStateAcked) &&
			a.Severity == domain.SeverityCritical {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemStore) InsertPollLog(ctx context.Context, log domain.PollLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollLogs = append(m.pollLogs, log)
	return nil
}
