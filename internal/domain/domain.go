// Package domain holds the plain value types shared across the monitoring
// core. Entities never hold pointers to each other; relationships are
// expressed with id fields and resolved through Store lookups.
package domain

import "time"

// Brand identifies a supported inverter vendor.
type Brand string

const (
	BrandSolis  Brand = "SOLIS"
	BrandHuawei Brand = "HUAWEI"
	BrandGoodwe Brand = "GOODWE"
	BrandDele   Brand = "DELE"
)

func (b Brand) Valid() bool {
	switch b {
	case BrandSolis, BrandHuawei, BrandGoodwe, BrandDele:
		return true
	default:
		return false
	}
}

// IntegrationStatus tracks whether a plant should be polled at all.
type IntegrationStatus string

const (
	IntegrationActive          IntegrationStatus = "ACTIVE"
	IntegrationPausedAuthError IntegrationStatus = "PAUSED_AUTH_ERROR"
	IntegrationPausedManual    IntegrationStatus = "PAUSED_MANUAL"
	IntegrationDeleted         IntegrationStatus = "DELETED"
)

// Status is the derived health tag produced by StatusEvaluator.
type Status string

const (
	StatusGreen  Status = "GREEN"
	StatusYellow Status = "YELLOW"
	StatusRed    Status = "RED"
	StatusGrey   Status = "GREY"
)

// Plant is one monitored solar installation.
type Plant struct {
	ID                  string
	Brand               Brand
	Timezone            string // IANA zone, required
	IntegrationStatus   IntegrationStatus
	Status              Status
	AlertsSilencedUntil *time.Time
	OwnerCustomerID     *string
	VendorPlantID       string
	InstalledCapacityW  *float64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Credential is the encrypted vendor credential blob bound to a plant+brand.
type Credential struct {
	PlantID       string
	Brand         Brand
	EncryptedBlob []byte
	KeyVersion    int
}

// MetricSnapshot is one row per plant per local calendar day.
type MetricSnapshot struct {
	PlantID             string
	Date                string // YYYY-MM-DD, local to Timezone
	Timezone            string
	TodayEnergyKWh      float64
	CurrentPowerW       *float64
	GridInjectionPowerW *float64
	TotalEnergyKWh      *float64
	LastSeenAt          time.Time
	SourceSampledAt     time.Time
	UpdatedAt           time.Time
}

// AlertType enumerates the condition kinds this system raises.
type AlertType string

const (
	AlertTypeFault  AlertType = "FAULT"
	AlertTypeOffline AlertType = "OFFLINE"
	AlertTypeLowGen AlertType = "LOW_GEN"
)

// Severity is the alert/alarm severity scale.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// HigherSeverity reports whether a is strictly more severe than b.
func HigherSeverity(a, b Severity) bool {
	return severityRank[a] > severityRank[b]
}

// AlertState is the lifecycle stage of an Alert row.
type AlertState string

const (
	AlertStateNew      AlertState = "NEW"
	AlertStateAcked    AlertState = "ACKED"
	AlertStateResolved AlertState = "RESOLVED"
)

// Alert is a raised condition for a plant, deduplicated by its composite key.
type Alert struct {
	ID               string
	PlantID          string
	Type             AlertType
	Severity         Severity
	State            AlertState
	VendorAlarmCode  string // empty string, never null
	DeviceSN         string // empty string, never null
	Message          string
	OccurredAt       time.Time
	ClearedAt        *time.Time
	LastNotifiedAt   *time.Time
	LastSeenAt       time.Time
}

// DedupKey returns the composite identity used for alert deduplication (I3).
func (a Alert) DedupKey() AlertDedupKey {
	return AlertDedupKey{
		PlantID:         a.PlantID,
		Type:            a.Type,
		VendorAlarmCode: a.VendorAlarmCode,
		DeviceSN:        a.DeviceSN,
	}
}

// AlertDedupKey is (plant_id, type, vendor_alarm_code, device_sn) with
// null-vs-empty normalized to empty string, per spec.
type AlertDedupKey struct {
	PlantID         string
	Type            AlertType
	VendorAlarmCode string
	DeviceSN        string
}

// JobStatus is the terminal outcome recorded on a PollLog.
type JobStatus string

const (
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusError   JobStatus = "ERROR"
)

// JobType distinguishes the routine poll from an explicit backfill job.
type JobType string

const (
	JobTypePoll     JobType = "POLL"
	JobTypeBackfill JobType = "BACKFILL"
)

// PollLog is the append-only audit record; exactly one per executor run (I5).
type PollLog struct {
	ID               string
	PlantID          string
	JobType          JobType
	Status           JobStatus
	DurationMS       int64
	AdapterErrorType string // empty if none
	HTTPStatus       *int   // optional, absence never means failure
	StartedAt        time.Time
	FinishedAt       time.Time
}

// JobTicket is the deterministic, deduplicating unit of work a BrandQueue
// accepts from the Scheduler.
type JobTicket struct {
	ID          string
	PlantID     string
	Brand       Brand
	JobType     JobType
	Attempt     int
	EnqueuedAt  time.Time
	NotBefore   time.Time // earliest time this attempt may start (backoff)
}

// PollTicketID is the deterministic id for the "poll latest" job of a plant.
func PollTicketID(plantID string) string {
	return "poll:plant:" + plantID + ":latest"
}

// BackfillTicketID is the deterministic id for a daily backfill job.
func BackfillTicketID(plantID, localDate string) string {
	return "daily:plant:" + plantID + ":" + localDate
}

// PlantLockKey returns the distributed-lock key that serializes all
// pipeline activity for a given plant (I6).
func PlantLockKey(plantID string) string {
	return "lock:plant:" + plantID
}
