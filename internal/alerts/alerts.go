// Package alerts implements AlertReconciler: it folds a batch of vendor
// alarms (plus the derived OFFLINE/LOW_GEN signals) into the Alert table,
// applying the composite dedup key and the NEW/ACKED/RESOLVED state
// machine from spec §4.6. Grounded on the teacher's handleSuccess/
// handleFailure wasDown/wasUp bookkeeping in internal/poller/scheduler.go,
// generalized from a single boolean flip into the general four-case
// reconciliation spec.md requires.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/solarinvest/fleetmonitor/internal/domain"
	"github.com/solarinvest/fleetmonitor/internal/store"
)

// renotifyWindow is the minimum gap between notifications for the same
// still-active alert (spec §4.6 re-notification throttle).
const renotifyWindow = 6 * time.Hour

// Condition is one normalized input to the reconciler: either a real
// vendor alarm or a derived OFFLINE/LOW_GEN signal, expressed identically.
type Condition struct {
	Type            domain.AlertType
	VendorAlarmCode string // "" for derived conditions
	DeviceSN        string // "" for derived conditions
	IsActive        bool
	Severity        domain.Severity
	Message         string
	OccurredAt      time.Time
}

// Metrics receives a signal on every active-alert state transition so a
// live gauge can be kept in sync without re-scanning the store.
// *telemetry.Metrics implements this.
type Metrics interface {
	IncActiveAlert(severity domain.Severity)
	DecActiveAlert(severity domain.Severity)
}

// Reconciler applies Condition batches against the Store.
type Reconciler struct {
	store   store.Store
	now     func() time.Time
	metrics Metrics
}

// New builds a Reconciler backed by s, using now for occurred/seen timestamps.
func New(s store.Store, now func() time.Time) *Reconciler {
	return &Reconciler{store: s, now: now}
}

// SetMetrics wires the active-alert gauge sink; call before Reconcile.
func (r *Reconciler) SetMetrics(m Metrics) {
	r.metrics = m
}

// Reconcile applies every condition for plantID, returning the alerts that
// are newly eligible for notification (per the re-notification throttle).
func (r *Reconciler) Reconcile(ctx context.Context, plantID string, conditions []Condition) ([]domain.Alert, error) {
	var notifiable []domain.Alert

	for _, c := range conditions {
		alert, notify, err := r.reconcileOne(ctx, plantID, c)
		if err != nil {
			return nil, fmt.Errorf("alerts: reconcile %s: %w", c.Type, err)
		}
		if notify && alert != nil {
			notifiable = append(notifiable, *alert)
		}
	}

	return notifiable, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, plantID string, c Condition) (*domain.Alert, bool, error) {
	now := r.now()
	key := domain.AlertDedupKey{
		PlantID:         plantID,
		Type:            c.Type,
		VendorAlarmCode: c.VendorAlarmCode,
		DeviceSN:        c.DeviceSN,
	}

	existing, err := r.store.FindActiveAlert(ctx, key)
	if err != nil {
		return nil, false, err
	}

	switch {
	case existing != nil && c.IsActive:
		sev := existing.Severity
		if domain.HigherSeverity(c.Severity, sev) {
			sev = c.Severity
		}
		if err := r.store.UpdateAlertSeen(ctx, existing.ID, sev, c.Message, now); err != nil {
			return nil, false, err
		}
		if r.metrics != nil && sev != existing.Severity {
			r.metrics.DecActiveAlert(existing.Severity)
			r.metrics.IncActiveAlert(sev)
		}
		existing.Severity = sev
		existing.Message = c.Message
		existing.LastSeenAt = now
		return existing, isNotifiable(existing, now), nil

	case existing != nil && !c.IsActive:
		if err := r.store.ResolveAlert(ctx, existing.ID, now); err != nil {
			return nil, false, err
		}
		if r.metrics != nil {
			r.metrics.DecActiveAlert(existing.Severity)
		}
		return nil, false, nil

	case existing == nil && c.IsActive:
		newAlert := domain.Alert{
			ID:              uuid.NewString(),
			PlantID:         plantID,
			Type:            c.Type,
			Severity:        c.Severity,
			State:           domain.AlertStateNew,
			VendorAlarmCode: c.VendorAlarmCode,
			DeviceSN:        c.DeviceSN,
			Message:         c.Message,
			OccurredAt:      c.OccurredAt,
			LastSeenAt:      now,
		}
		if err := r.store.InsertAlert(ctx, newAlert); err != nil {
			return nil, false, err
		}
		if r.metrics != nil {
			r.metrics.IncActiveAlert(c.Severity)
		}
		return &newAlert, true, nil

	default: // existing == nil && !c.IsActive
		return nil, false, nil
	}
}

// isNotifiable applies the 6h re-notification throttle: null last-notified
// or a gap of at least renotifyWindow makes the alert eligible again.
func isNotifiable(a *domain.Alert, now time.Time) bool {
	if a.LastNotifiedAt == nil {
		return true
	}
	return now.Sub(*a.LastNotifiedAt) >= renotifyWindow
}
