// Package adapter defines the VendorAdapter contract that isolates brand
// specifics from the rest of the monitoring core. Mock and live
// implementations share this interface so the registry swap between them
// is the only thing that differs between test and production wiring.
package adapter

import (
	"context"
	"time"

	"github.com/solarinvest/fleetmonitor/internal/domain"
)

// Ref identifies a plant to a vendor's own API (its vendor_plant_id).
type Ref struct {
	VendorPlantID string
}

// Credentials is the decrypted, brand-shaped credential payload handed to
// an adapter for the duration of a single call. Callers must zero it after use.
type Credentials struct {
	Username      string
	Password      string
	APIKey        string
	AppSecret     string
	Extra         map[string]string
}

// Zero overwrites sensitive fields in place.
func (c *Credentials) Zero() {
	c.Username = ""
	c.Password = ""
	c.APIKey = ""
	c.AppSecret = ""
	for k := range c.Extra {
		c.Extra[k] = ""
		delete(c.Extra, k)
	}
}

// NormalizedSummary is the canonical shape every adapter must produce:
// power in watts, energy in kilowatt-hours, absolute instants, IANA timezone.
type NormalizedSummary struct {
	CurrentPowerW       *float64
	TodayEnergyKWh      float64
	TotalEnergyKWh      *float64
	GridInjectionPowerW *float64
	LastSeenAt          time.Time
	SourceSampledAt     time.Time
	Timezone            string
}

// DailyEnergyPoint is one entry of a daily energy series used for backfill.
type DailyEnergyPoint struct {
	Date      string // YYYY-MM-DD, local to the plant's timezone
	EnergyKWh float64
}

// NormalizedAlarm is a vendor alarm translated to the canonical shape.
type NormalizedAlarm struct {
	VendorAlarmCode string
	DeviceSN        string
	Message         string
	OccurredAt      time.Time
	IsActive        bool
	Severity        domain.Severity
}

// TestResult reports the outcome of a credential connectivity check.
type TestResult struct {
	OK      bool
	Message string
}

// Capabilities describes a brand's rate limits and feature support.
type Capabilities struct {
	Brand                domain.Brand
	MaxConcurrent        int
	MaxPerMinute         int
	MinIntervalSec       int
	SupportsDailySeries  bool
	SupportsAlarms       bool
	SupportsDeviceList   bool
}

// ErrorKind is the closed error taxonomy from spec §7.
type ErrorKind string

const (
	ErrAuthFailed     ErrorKind = "AUTH_FAILED"
	ErrRateLimited    ErrorKind = "RATE_LIMITED"
	ErrNetworkTimeout ErrorKind = "NETWORK_TIMEOUT"
	ErrInvalidData    ErrorKind = "INVALID_DATA"
	ErrPlantNotFound  ErrorKind = "PLANT_NOT_FOUND"
	ErrLockSkipped    ErrorKind = "LOCK_SKIPPED"
	ErrUnknown        ErrorKind = "UNKNOWN"
)

// Error is the typed error every adapter call and pipeline step returns on failure.
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration // only meaningful for ErrRateLimited
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err under kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// RateLimited builds a RATE_LIMITED error carrying the vendor's retry hint.
func RateLimited(retryAfter time.Duration, err error) *Error {
	return &Error{Kind: ErrRateLimited, RetryAfter: retryAfter, Err: err}
}

// VendorAdapter is the polymorphic contract every brand implementation
// (live or mock) must satisfy.
type VendorAdapter interface {
	TestConnection(ctx context.Context, creds Credentials) (TestResult, error)
	GetPlantSummary(ctx context.Context, ref Ref, creds Credentials) (NormalizedSummary, error)
	GetDailyEnergySeries(ctx context.Context, ref Ref, creds Credentials, startDate, endDate string) ([]DailyEnergyPoint, error)
	GetAlarmsSince(ctx context.Context, ref Ref, creds Credentials, since time.Time) ([]NormalizedAlarm, error)
	Capabilities() Capabilities
}
