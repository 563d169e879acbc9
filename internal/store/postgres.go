package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solarinvest/fleetmonitor/internal/domain"
)

// Postgres is the production Store, backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool against dsn and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Ping verifies the pool can still reach Postgres, for the /readyz probe.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) ListActivePlants(ctx context.Context) ([]domain.Plant, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, brand, timezone, integration_status, status,
		       alerts_silenced_until, owner_customer_id, vendor_plant_id,
		       installed_capacity_w, created_at, updated_at
		FROM plants
		WHERE integration_status = $1`, domain.IntegrationActive)
	if err != nil {
		return nil, fmt.Errorf("store: list active plants: %w", err)
	}
	defer rows.Close()

	var out []domain.Plant
	for rows.Next() {
		p, err := scanPlant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (p *Postgres) GetPlant(ctx context.Context, plantID string) (domain.Plant, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, brand, timezone, integration_status, status,
		       alerts_silenced_until, owner_customer_id, vendor_plant_id,
		       installed_capacity_w, created_at, updated_at
		FROM plants WHERE id = $1`, plantID)

	plant, err := scanPlant(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Plant{}, ErrNotFound
		}
		return domain.Plant{}, fmt.Errorf("store: get plant: %w", err)
	}
	return plant, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlant(row rowScanner) (domain.Plant, error) {
	var pl domain.Plant
	err := row.Scan(
		&pl.ID, &pl.Brand, &pl.Timezone, &pl.IntegrationStatus, &pl.Status,
		&pl.AlertsSilencedUntil, &pl.OwnerCustomerID, &pl.VendorPlantID,
		&pl.InstalledCapacityW, &pl.CreatedAt, &pl.UpdatedAt,
	)
	return pl, err
}

func (p *Postgres) GetCredential(ctx context.Context, plantID string, brand domain.Brand) (domain.Credential, error) {
	var c domain.Credential
	c.PlantID = plantID
	c.Brand = brand
	err := p.pool.QueryRow(ctx, `
		SELECT encrypted_blob, key_version FROM credentials
		WHERE plant_id = $1 AND brand = $2`, plantID, brand,
	).Scan(&c.EncryptedBlob, &c.KeyVersion)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Credential{}, ErrNotFound
		}
		return domain.Credential{}, fmt.Errorf("store: get credential: %w", err)
	}
	return c, nil
}

func (p *Postgres) SetIntegrationStatus(ctx context.Context, plantID string, status domain.IntegrationStatus) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE plants SET integration_status = $2, updated_at = now() WHERE id = $1`,
		plantID, status)
	if err != nil {
		return fmt.Errorf("store: set integration status: %w", err)
	}
	return nil
}

func (p *Postgres) SetPlantStatus(ctx context.Context, plantID string, status domain.Status) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE plants SET status = $2, updated_at = now() WHERE id = $1`,
		plantID, status)
	if err != nil {
		return fmt.Errorf("store: set plant status: %w", err)
	}
	return nil
}

// UpsertSnapshot writes the (plant_id, date) row, overwriting the live
// measurement fields on conflict. Never used by the backfill path (I1, I2).
func (p *Postgres) UpsertSnapshot(ctx context.Context, snap domain.MetricSnapshot) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO metric_snapshots
			(plant_id, date, timezone, today_energy_kwh, current_power_w,
			 grid_injection_power_w, total_energy_kwh, last_seen_at, source_sampled_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		ON CONFLICT (plant_id, date) DO UPDATE SET
			today_energy_kwh = EXCLUDED.today_energy_kwh,
			current_power_w = EXCLUDED.current_power_w,
			grid_injection_power_w = EXCLUDED.grid_injection_power_w,
			total_energy_kwh = EXCLUDED.total_energy_kwh,
			last_seen_at = EXCLUDED.last_seen_at,
			source_sampled_at = EXCLUDED.source_sampled_at,
			updated_at = now()`,
		snap.PlantID, snap.Date, snap.Timezone, snap.TodayEnergyKWh, snap.CurrentPowerW,
		snap.GridInjectionPowerW, snap.TotalEnergyKWh, snap.LastSeenAt, snap.SourceSampledAt)
	if err != nil {
		return fmt.Errorf("store: upsert snapshot: %w", err)
	}
	return nil
}

// InsertBackfillSnapshot inserts only if the (plant_id, date) row is absent;
// an existing snapshot is never overwritten by backfill data.
func (p *Postgres) InsertBackfillSnapshot(ctx context.Context, snap domain.MetricSnapshot) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO metric_snapshots
			(plant_id, date, timezone, today_energy_kwh, last_seen_at, source_sampled_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6, now())
		ON CONFLICT (plant_id, date) DO NOTHING`,
		snap.PlantID, snap.Date, snap.Timezone, snap.TodayEnergyKWh, snap.LastSeenAt, snap.SourceSampledAt)
	if err != nil {
		return false, fmt.Errorf("store: insert backfill snapshot: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) GetSnapshot(ctx context.Context, plantID, date string) (domain.MetricSnapshot, error) {
	var s domain.MetricSnapshot
	s.PlantID = plantID
	s.Date = date
	err := p.pool.QueryRow(ctx, `
		SELECT timezone, today_energy_kwh, current_power_w, grid_injection_power_w,
		       total_energy_kwh, last_seen_at, source_sampled_at, updated_at
		FROM metric_snapshots WHERE plant_id = $1 AND date = $2`, plantID, date,
	).Scan(&s.Timezone, &s.TodayEnergyKWh, &s.CurrentPowerW, &s.GridInjectionPowerW,
		&s.TotalEnergyKWh, &s.LastSeenAt, &s.SourceSampledAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MetricSnapshot{}, ErrNotFound
		}
		return domain.MetricSnapshot{}, fmt.Errorf("store: get snapshot: %w", err)
	}
	return s, nil
}

func (p *Postgres) ListRecentSnapshotsBefore(ctx context.Context, plantID, beforeDate string, limit int) ([]domain.MetricSnapshot, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT date, timezone, today_energy_kwh, current_power_w, grid_injection_power_w,
		       total_energy_kwh, last_seen_at, source_sampled_at, updated_at
		FROM metric_snapshots
		WHERE plant_id = $1 AND date < $2
		ORDER BY date DESC
		LIMIT $3`, plantID, beforeDate, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list recent snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.MetricSnapshot
	for rows.Next() {
		var s domain.MetricSnapshot
		s.PlantID = plantID
		if err := rows.Scan(&s.Date, &s.Timezone, &s.TodayEnergyKWh, &s.CurrentPowerW,
			&s.GridInjectionPowerW, &s.TotalEnergyKWh, &s.LastSeenAt, &s.SourceSampledAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) FindActiveAlert(ctx context.Context, key domain.AlertDedupKey) (*domain.Alert, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, plant_id, type, severity, state, vendor_alarm_code, device_sn,
		       message, occurred_at, cleared_at, last_notified_at, last_seen_at
		FROM alerts
		WHERE plant_id = $1 AND type = $2 AND vendor_alarm_code = $3 AND device_sn = $4
		  AND state IN ('NEW','ACKED')`,
		key.PlantID, key.Type, key.VendorAlarmCode, key.DeviceSN)

	a, err := scanAlert(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: find active alert: %w", err)
	}
	return &a, nil
}

func scanAlert(row rowScanner) (domain.Alert, error) {
	var a domain.Alert
	err := row.Scan(&a.ID, &a.PlantID, &a.Type, &a.Severity, &a.State,
		&a.VendorAlarmCode, &a.DeviceSN, &a.Message, &a.OccurredAt,
		&a.ClearedAt, &a.LastNotifiedAt, &a.LastSeenAt)
	return a, err
}

func (p *Postgres) InsertAlert(ctx context.Context, alert domain.Alert) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO alerts
			(id, plant_id, type, severity, state, vendor_alarm_code, device_sn,
			 message, occurred_at, last_seen_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		alert.ID, alert.PlantID, alert.Type, alert.Severity, alert.State,
		alert.VendorAlarmCode, alert.DeviceSN, alert.Message, alert.OccurredAt, alert.LastSeenAt)
	if err != nil {
		return fmt.Errorf("store: insert alert: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateAlertSeen(ctx context.Context, alertID string, severity domain.Severity, message string, seenAt time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE alerts SET severity = $2, message = $3, last_seen_at = $4 WHERE id = $1`,
		alertID, severity, message, seenAt)
	if err != nil {
		return fmt.Errorf("store: update alert seen: %w", err)
	}
	return nil
}

func (p *Postgres) ResolveAlert(ctx context.Context, alertID string, clearedAt time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE alerts SET state = 'RESOLVED', cleared_at = $2 WHERE id = $1`,
		alertID, clearedAt)
	if err != nil {
		return fmt.Errorf("store: resolve alert: %w", err)
	}
	return nil
}

func (p *Postgres) ListActiveCriticalAlerts(ctx context.Context, plantID string) ([]domain.Alert, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, plant_id, type, severity, state, vendor_alarm_code, device_sn,
		       message, occurred_at, cleared_at, last_notified_at, last_seen_at
		FROM alerts
		WHERE plant_id = $1 AND state IN ('NEW','ACKED') AND severity = $2`,
		plantID, domain.SeverityCritical)
	if err != nil {
		return nil, fmt.Errorf("store: list active critical alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) InsertPollLog(ctx context.Context, log domain.PollLog) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO poll_logs
			(id, plant_id, job_type, status, duration_ms, adapter_error_type,
			 http_status, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		log.ID, log.PlantID, log.JobType, log.Status, log.DurationMS,
		log.AdapterErrorType, log.HTTPStatus, log.StartedAt, log.FinishedAt)
	if err != nil {
		return fmt.Errorf("store: insert poll log: %w", err)
	}
	return nil
}
