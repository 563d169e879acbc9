// Package store is the durable, transactional persistence layer. It exposes
// typed operations (never raw SQL) to the rest of the core, backed by
// Postgres through pgx, following the teacher's internal/database pool
// lifecycle and internal/credentials fetch-then-decrypt call shape.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/solarinvest/fleetmonitor/internal/domain"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// Store is the typed persistence contract the monitoring core depends on.
// Concrete implementations: *Postgres (production) and *MemStore (tests).
type Store interface {
	// Plants & credentials
	ListActivePlants(ctx context.Context) ([]domain.Plant, error)
	GetPlant(ctx context.Context, plantID string) (domain.Plant, error)
	GetCredential(ctx context.Context, plantID string, brand domain.Brand) (domain.Credential, error)
	SetIntegrationStatus(ctx context.Context, plantID string, status domain.IntegrationStatus) error
	SetPlantStatus(ctx context.Context, plantID string, status domain.Status) error

	// Snapshots
	UpsertSnapshot(ctx context.Context, snap domain.MetricSnapshot) error
	InsertBackfillSnapshot(ctx context.Context, snap domain.MetricSnapshot) (inserted bool, err error)
	GetSnapshot(ctx context.Context, plantID, date string) (domain.MetricSnapshot, error)
	ListRecentSnapshotsBefore(ctx context.Context, plantID, beforeDate string, limit int) ([]domain.MetricSnapshot, error)

	// Alerts
	FindActiveAlert(ctx context.Context, key domain.AlertDedupKey) (*domain.Alert, error)
	InsertAlert(ctx context.Context, alert domain.Alert) error
	UpdateAlertSeen(ctx context.Context, alertID string, severity domain.Severity, message string, seenAt time.Time) error
	ResolveAlert(ctx context.Context, alertID string, clearedAt time.Time) error
	ListActiveCriticalAlerts(ctx context.Context, plantID string) ([]domain.Alert, error)

	// Audit
	InsertPollLog(ctx context.Context, log domain.PollLog) error
}
