// Package statuseval computes the derived health Status for a plant from
// its current integration state, alert posture and generation signal. It
// is a pure function, factored out of the teacher's inline status-flip
// logic (internal/poller/scheduler.go handleSuccess/handleFailure) so it
// can be tested independently of any I/O.
package statuseval

import (
	"time"

	"github.com/solarinvest/fleetmonitor/internal/domain"
)

// LowGenLevel is the derived low-generation signal fed in by the caller
// (computed from the median-of-history comparison in the poll pipeline).
type LowGenLevel string

const (
	LowGenNone   LowGenLevel = "NONE"
	LowGenYellow LowGenLevel = "YELLOW"
	LowGenRed    LowGenLevel = "RED"
)

// Inputs bundles everything the evaluator needs to pick a Status.
type Inputs struct {
	IntegrationStatus  domain.IntegrationStatus
	Now                time.Time
	LastSeenAt         time.Time
	ActiveCriticalCount int
	LowGen             LowGenLevel
}

// Evaluate runs the first-match-wins algorithm from spec §4.5.
func Evaluate(in Inputs) domain.Status {
	if in.IntegrationStatus != domain.IntegrationActive {
		return domain.StatusGrey
	}

	hours := in.Now.Sub(in.LastSeenAt).Hours()

	if in.ActiveCriticalCount > 0 || hours >= 24 || in.LowGen == LowGenRed {
		return domain.StatusRed
	}

	if (hours >= 2 && hours < 24) || in.LowGen == LowGenYellow {
		return domain.StatusYellow
	}

	return domain.StatusGreen
}
