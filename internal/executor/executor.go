// Package executor implements PollExecutor: the 15-step poll pipeline from
// spec §4.4. It is grounded on the teacher's internal/poller/scheduler.go
// processPluginBatch/handleSuccess/handleFailure/ensureCredentials shape
// (lazy-decrypt-then-call-then-write-then-emit), adapted from a
// batch-of-monitors model to a single-plant exclusive-lock model.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/solarinvest/fleetmonitor/internal/adapter"
	"github.com/solarinvest/fleetmonitor/internal/alerts"
	"github.com/solarinvest/fleetmonitor/internal/clock"
	"github.com/solarinvest/fleetmonitor/internal/domain"
	"github.com/solarinvest/fleetmonitor/internal/lockservice"
	"github.com/solarinvest/fleetmonitor/internal/statuseval"
	"github.com/solarinvest/fleetmonitor/internal/store"
	"github.com/solarinvest/fleetmonitor/internal/vault"
)

// backfillDays is the number of trailing local dates (including today)
// swept for missing snapshots on every poll (spec §4.4 step 11).
const backfillDays = 4

// historyWindow is the number of trailing snapshots considered for the
// low-generation median (spec §4.4 step 12).
const historyWindow = 7

// releaseGracePeriod bounds the detached lock-release call issued from the
// Run deferred cleanup, independent of the job's own timeout.
const releaseGracePeriod = 5 * time.Second

// Config bundles the executor's tunables, sourced from process config.
type Config struct {
	LockTTL             time.Duration // 2 × scheduler period
	AdapterRequestTimeout time.Duration
	JobTimeout          time.Duration
}

// LockMetrics receives a signal each time a poll is skipped because the
// plant's lock was already held. *telemetry.Metrics implements this.
type LockMetrics interface {
	ObserveLockContention(brand domain.Brand)
}

// AlertMetrics receives a signal on every active-alert state transition
// reconciled during a poll. *telemetry.Metrics implements this.
type AlertMetrics = alerts.Metrics

// Executor runs poll pipeline jobs for one process.
type Executor struct {
	store    store.Store
	vault    vault.Vault
	registry *adapter.Registry
	locks    lockservice.LockService
	clk      clock.Clock
	log      *slog.Logger
	cfg      Config

	lockMetrics  LockMetrics
	alertMetrics AlertMetrics
}

// New builds an Executor from its collaborators.
func New(s store.Store, v vault.Vault, reg *adapter.Registry, locks lockservice.LockService, clk clock.Clock, log *slog.Logger, cfg Config) *Executor {
	return &Executor{store: s, vault: v, registry: reg, locks: locks, clk: clk, log: log, cfg: cfg}
}

// SetLockMetrics wires a lock-contention counter; call before the executor
// starts handling tickets.
func (e *Executor) SetLockMetrics(m LockMetrics) {
	e.lockMetrics = m
}

// SetAlertMetrics wires the active-alert gauge sink passed to every
// reconciler this executor constructs; call before the executor starts
// handling tickets.
func (e *Executor) SetAlertMetrics(m AlertMetrics) {
	e.alertMetrics = m
}

// credentialPayload is the JSON shape stored, encrypted, in Credential.EncryptedBlob.
type credentialPayload struct {
	Username  string            `json:"username,omitempty"`
	Password  string            `json:"password,omitempty"`
	APIKey    string            `json:"apiKey,omitempty"`
	AppSecret string            `json:"appSecret,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Run executes one attempt of ticket and returns the error the caller
// (BrandQueue) should use to decide on retry, or nil on success/skip.
func (e *Executor) Run(ctx context.Context, ticket domain.JobTicket) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.JobTimeout)
	defer cancel()

	startedAt := e.clk.Now()
	correlationID := uuid.NewString()

	vAdapter, ok := e.registry.Get(ticket.Brand)
	if !ok {
		e.writeLog(ctx, ticket, startedAt, domain.JobStatusError, string(adapter.ErrUnknown), nil)
		return adapter.NewError(adapter.ErrUnknown, fmt.Errorf("no adapter registered for brand %q", ticket.Brand))
	}

	lockKey := domain.PlantLockKey(ticket.PlantID)
	acquired, err := e.locks.Acquire(ctx, lockKey, e.cfg.LockTTL, correlationID)
	if err != nil {
		e.writeLog(ctx, ticket, startedAt, domain.JobStatusError, string(adapter.ErrUnknown), nil)
		return adapter.NewError(adapter.ErrUnknown, fmt.Errorf("lock acquire: %w", err))
	}
	if !acquired {
		e.log.Info("executor: plant already locked, skipping", "plant_id", ticket.PlantID)
		if e.lockMetrics != nil {
			e.lockMetrics.ObserveLockContention(ticket.Brand)
		}
		e.writeLog(ctx, ticket, startedAt, domain.JobStatusSuccess, string(adapter.ErrLockSkipped), nil)
		return nil
	}
	defer func() {
		// Detach from ctx: it may already be cancelled by JobTimeout or
		// process shutdown, and a cancelled context would make the Lua
		// release script fail, leaking the lease for its full TTL.
		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), releaseGracePeriod)
		defer releaseCancel()
		if relErr := e.locks.Release(releaseCtx, lockKey, correlationID); relErr != nil && !errors.Is(relErr, lockservice.ErrNotHeld) {
			e.log.Warn("executor: lock release failed", "plant_id", ticket.PlantID, "err", relErr)
		}
	}()

	plant, err := e.store.GetPlant(ctx, ticket.PlantID)
	if err != nil {
		e.writeLog(ctx, ticket, startedAt, domain.JobStatusError, string(adapter.ErrPlantNotFound), nil)
		return adapter.NewError(adapter.ErrPlantNotFound, err)
	}

	if plant.IntegrationStatus != domain.IntegrationActive {
		e.recomputeStatus(ctx, plant, statuseval.LowGenNone, 0)
		e.writeLog(ctx, ticket, startedAt, domain.JobStatusSuccess, "", nil)
		return nil
	}

	cred, err := e.store.GetCredential(ctx, ticket.PlantID, ticket.Brand)
	if err != nil {
		e.quarantine(ctx, ticket.PlantID)
		e.writeLog(ctx, ticket, startedAt, domain.JobStatusError, string(adapter.ErrAuthFailed), nil)
		return adapter.NewError(adapter.ErrAuthFailed, fmt.Errorf("load credential: %w", err))
	}

	plaintext, err := e.vault.Decrypt(cred.EncryptedBlob)
	if err != nil {
		e.quarantine(ctx, ticket.PlantID)
		e.writeLog(ctx, ticket, startedAt, domain.JobStatusError, string(adapter.ErrAuthFailed), nil)
		return adapter.NewError(adapter.ErrAuthFailed, fmt.Errorf("decrypt credential: %w", err))
	}

	var payload credentialPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		e.quarantine(ctx, ticket.PlantID)
		e.writeLog(ctx, ticket, startedAt, domain.JobStatusError, string(adapter.ErrAuthFailed), nil)
		return adapter.NewError(adapter.ErrAuthFailed, fmt.Errorf("unmarshal credential: %w", err))
	}

	creds := adapter.Credentials{
		Username:  payload.Username,
		Password:  payload.Password,
		APIKey:    payload.APIKey,
		AppSecret: payload.AppSecret,
		Extra:     payload.Extra,
	}
	defer creds.Zero()

	ref := adapter.Ref{VendorPlantID: plant.VendorPlantID}

	adapterCtx, adapterCancel := context.WithTimeout(ctx, e.cfg.AdapterRequestTimeout)
	summary, err := vAdapter.GetPlantSummary(adapterCtx, ref, creds)
	adapterCancel()
	if err != nil {
		return e.handleAdapterFailure(ctx, ticket, startedAt, plant, err)
	}

	if verr := validateSummary(summary); verr != nil {
		e.writeLog(ctx, ticket, startedAt, domain.JobStatusError, string(adapter.ErrInvalidData), nil)
		return adapter.NewError(adapter.ErrInvalidData, verr)
	}

	localDate, err := localDateOf(summary.LastSeenAt, plant.Timezone)
	if err != nil {
		e.writeLog(ctx, ticket, startedAt, domain.JobStatusError, string(adapter.ErrInvalidData), nil)
		return adapter.NewError(adapter.ErrInvalidData, err)
	}

	snap := domain.MetricSnapshot{
		PlantID:             plant.ID,
		Date:                localDate,
		Timezone:            plant.Timezone,
		TodayEnergyKWh:      summary.TodayEnergyKWh,
		CurrentPowerW:       summary.CurrentPowerW,
		GridInjectionPowerW: summary.GridInjectionPowerW,
		TotalEnergyKWh:      summary.TotalEnergyKWh,
		LastSeenAt:          summary.LastSeenAt,
		SourceSampledAt:     summary.SourceSampledAt,
	}
	if err := e.store.UpsertSnapshot(ctx, snap); err != nil {
		e.writeLog(ctx, ticket, startedAt, domain.JobStatusError, string(adapter.ErrUnknown), nil)
		return adapter.NewError(adapter.ErrUnknown, fmt.Errorf("upsert snapshot: %w", err))
	}

	now := e.clk.Now()
	alarmCtx, alarmCancel := context.WithTimeout(ctx, e.cfg.AdapterRequestTimeout)
	vendorAlarms, err := vAdapter.GetAlarmsSince(alarmCtx, ref, creds, now.Add(-24*time.Hour))
	alarmCancel()
	if err != nil {
		return e.handleAdapterFailure(ctx, ticket, startedAt, plant, err)
	}

	reconciler := alerts.New(e.store, e.clk.Now)
	if e.alertMetrics != nil {
		reconciler.SetMetrics(e.alertMetrics)
	}
	conditions := make([]alerts.Condition, 0, len(vendorAlarms))
	for _, a := range vendorAlarms {
		conditions = append(conditions, alerts.Condition{
			Type:            domain.AlertTypeFault,
			VendorAlarmCode: a.VendorAlarmCode,
			DeviceSN:        a.DeviceSN,
			IsActive:        a.IsActive,
			Severity:        a.Severity,
			Message:         a.Message,
			OccurredAt:      a.OccurredAt,
		})
	}

	if err := e.backfillSweep(ctx, vAdapter, ref, creds, plant, localDate); err != nil {
		return e.handleAdapterFailure(ctx, ticket, startedAt, plant, err)
	}

	lowGen, err := e.evaluateLowGen(ctx, plant.ID, localDate, snap.TodayEnergyKWh)
	if err != nil {
		e.writeLog(ctx, ticket, startedAt, domain.JobStatusError, string(adapter.ErrUnknown), nil)
		return adapter.NewError(adapter.ErrUnknown, fmt.Errorf("low-gen evaluation: %w", err))
	}
	conditions = append(conditions, lowGenCondition(lowGen, now))

	offline := now.Sub(summary.LastSeenAt).Hours() > 24
	conditions = append(conditions, offlineCondition(offline, now))

	if _, err := reconciler.Reconcile(ctx, plant.ID, conditions); err != nil {
		e.log.Warn("executor: alert reconciliation failed", "plant_id", plant.ID, "err", err)
	}

	criticalCount, err := e.activeCriticalCount(ctx, plant.ID)
	if err != nil {
		e.log.Warn("executor: count active criticals failed", "plant_id", plant.ID, "err", err)
	}

	newStatus := statuseval.Evaluate(statuseval.Inputs{
		IntegrationStatus:   plant.IntegrationStatus,
		Now:                 now,
		LastSeenAt:          summary.LastSeenAt,
		ActiveCriticalCount: criticalCount,
		LowGen:              lowGen,
	})
	if newStatus != plant.Status {
		if err := e.store.SetPlantStatus(ctx, plant.ID, newStatus); err != nil {
			e.log.Warn("executor: set plant status failed", "plant_id", plant.ID, "err", err)
		}
	}

	e.writeLog(ctx, ticket, startedAt, domain.JobStatusSuccess, "", nil)
	return nil
}

func (e *Executor) handleAdapterFailure(ctx context.Context, ticket domain.JobTicket, startedAt time.Time, plant domain.Plant, err error) error {
	var aerr *adapter.Error
	if !errors.As(err, &aerr) {
		aerr = adapter.NewError(adapter.ErrUnknown, err)
	}

	if aerr.Kind == adapter.ErrAuthFailed {
		e.quarantine(ctx, ticket.PlantID)
	}

	e.writeLog(ctx, ticket, startedAt, domain.JobStatusError, string(aerr.Kind), nil)
	return aerr
}

func (e *Executor) quarantine(ctx context.Context, plantID string) {
	if err := e.store.SetIntegrationStatus(ctx, plantID, domain.IntegrationPausedAuthError); err != nil {
		e.log.Warn("executor: quarantine failed", "plant_id", plantID, "err", err)
		return
	}
	if err := e.store.SetPlantStatus(ctx, plantID, domain.StatusGrey); err != nil {
		e.log.Warn("executor: grey-out after quarantine failed", "plant_id", plantID, "err", err)
	}
}

func (e *Executor) recomputeStatus(ctx context.Context, plant domain.Plant, lowGen statuseval.LowGenLevel, criticalCount int) {
	newStatus := statuseval.Evaluate(statuseval.Inputs{
		IntegrationStatus:   plant.IntegrationStatus,
		Now:                 e.clk.Now(),
		LastSeenAt:          plant.UpdatedAt,
		ActiveCriticalCount: criticalCount,
		LowGen:              lowGen,
	})
	if newStatus != plant.Status {
		if err := e.store.SetPlantStatus(ctx, plant.ID, newStatus); err != nil {
			e.log.Warn("executor: recompute status failed", "plant_id", plant.ID, "err", err)
		}
	}
}

func (e *Executor) backfillSweep(ctx context.Context, vAdapter adapter.VendorAdapter, ref adapter.Ref, creds adapter.Credentials, plant domain.Plant, today string) error {
	loc, err := timeLocation(plant.Timezone)
	if err != nil {
		return err
	}
	todayT, err := time.ParseInLocation("2006-01-02", today, loc)
	if err != nil {
		return err
	}

	var missing []string
	for i := backfillDays - 1; i >= 0; i-- {
		d := todayT.AddDate(0, 0, -i).Format("2006-01-02")
		_, err := e.store.GetSnapshot(ctx, plant.ID, d)
		if errors.Is(err, store.ErrNotFound) {
			missing = append(missing, d)
		} else if err != nil {
			return err
		}
	}
	if len(missing) == 0 {
		return nil
	}

	sort.Strings(missing)
	first, last := missing[0], missing[len(missing)-1]

	seriesCtx, cancel := context.WithTimeout(ctx, e.cfg.AdapterRequestTimeout)
	points, err := vAdapter.GetDailyEnergySeries(seriesCtx, ref, creds, first, last)
	cancel()
	if err != nil {
		return err
	}

	missingSet := make(map[string]bool, len(missing))
	for _, d := range missing {
		missingSet[d] = true
	}

	now := e.clk.Now()
	for _, p := range points {
		if !missingSet[p.Date] {
			continue
		}
		snap := domain.MetricSnapshot{
			PlantID:         plant.ID,
			Date:            p.Date,
			Timezone:        plant.Timezone,
			TodayEnergyKWh:  p.EnergyKWh,
			LastSeenAt:      now,
			SourceSampledAt: now,
		}
		if _, err := e.store.InsertBackfillSnapshot(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) evaluateLowGen(ctx context.Context, plantID, today string, todayEnergy float64) (statuseval.LowGenLevel, error) {
	history, err := e.store.ListRecentSnapshotsBefore(ctx, plantID, today, historyWindow)
	if err != nil {
		return statuseval.LowGenNone, err
	}
	if len(history) < 3 {
		return statuseval.LowGenNone, nil
	}

	values := make([]float64, len(history))
	for i, s := range history {
		values[i] = s.TodayEnergyKWh
	}
	median := medianOf(values)
	if median <= 0 {
		return statuseval.LowGenNone, nil
	}

	ratio := todayEnergy / median
	switch {
	case ratio < 0.10:
		return statuseval.LowGenRed, nil
	case ratio < 0.30:
		return statuseval.LowGenYellow, nil
	default:
		return statuseval.LowGenNone, nil
	}
}

func (e *Executor) activeCriticalCount(ctx context.Context, plantID string) (int, error) {
	active, err := e.store.ListActiveCriticalAlerts(ctx, plantID)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

func lowGenCondition(level statuseval.LowGenLevel, now time.Time) alerts.Condition {
	active := level != statuseval.LowGenNone
	severity := domain.SeverityHigh
	if level == statuseval.LowGenRed {
		severity = domain.SeverityCritical
	}
	return alerts.Condition{
		Type:       domain.AlertTypeLowGen,
		IsActive:   active,
		Severity:   severity,
		Message:    "generation below historical median",
		OccurredAt: now,
	}
}

func offlineCondition(active bool, now time.Time) alerts.Condition {
	return alerts.Condition{
		Type:       domain.AlertTypeOffline,
		IsActive:   active,
		Severity:   domain.SeverityCritical,
		Message:    "no data received in over 24 hours",
		OccurredAt: now,
	}
}

func validateSummary(s adapter.NormalizedSummary) error {
	if math.IsNaN(s.TodayEnergyKWh) || math.IsInf(s.TodayEnergyKWh, 0) || s.TodayEnergyKWh < 0 {
		return fmt.Errorf("todayEnergyKWh must be finite and non-negative, got %v", s.TodayEnergyKWh)
	}
	if s.CurrentPowerW != nil {
		if v := *s.CurrentPowerW; math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("currentPowerW must be finite and non-negative, got %v", v)
		}
	}
	if s.TotalEnergyKWh != nil {
		if v := *s.TotalEnergyKWh; math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("totalEnergyKWh must be finite and non-negative, got %v", v)
		}
	}
	if s.GridInjectionPowerW != nil {
		// Non-directional: can be negative (import) or positive (export),
		// so only finiteness is enforced here.
		if v := *s.GridInjectionPowerW; math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("gridInjectionPowerW must be finite, got %v", v)
		}
	}
	if _, err := timeLocation(s.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if s.LastSeenAt.IsZero() || s.SourceSampledAt.IsZero() {
		return errors.New("lastSeenAt and sourceSampledAt must be absolute instants")
	}
	return nil
}

func timeLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return nil, errors.New("timezone must not be empty")
	}
	return time.LoadLocation(tz)
}

func localDateOf(instant time.Time, tz string) (string, error) {
	loc, err := timeLocation(tz)
	if err != nil {
		return "", err
	}
	return instant.In(loc).Format("2006-01-02"), nil
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func (e *Executor) writeLog(ctx context.Context, ticket domain.JobTicket, startedAt time.Time, status domain.JobStatus, errKind string, httpStatus *int) {
	finished := e.clk.Now()
	log := domain.PollLog{
		ID:               uuid.NewString(),
		PlantID:          ticket.PlantID,
		JobType:          ticket.JobType,
		Status:           status,
		DurationMS:       finished.Sub(startedAt).Milliseconds(),
		AdapterErrorType: errKind,
		HTTPStatus:       httpStatus,
		StartedAt:        startedAt,
		FinishedAt:       finished,
	}
	if err := e.store.InsertPollLog(ctx, log); err != nil {
		e.log.Error("executor: failed to write poll log", "plant_id", ticket.PlantID, "err", err)
	}
}
