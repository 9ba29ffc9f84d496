// Package integrity implements the environment-tampering detectors:
// jailbreak/root, attached debugger, and binary repackaging. Each detector
// runs several independent low-level checks and aggregates them into a
// confidence-scored result. Checks are stateless and safe from any
// goroutine; a check that cannot execute is "did not fire", never a
// positive detection.
package integrity

import (
	"github.com/imanology1/securus-agent/pkg/event"
)

// Tier buckets how many independent checks agreed.
type Tier int

const (
	TierNone Tier = iota
	TierLow
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "none"
	}
}

// TierFor maps a failed-check count to a confidence tier.
func TierFor(failed int) Tier {
	switch {
	case failed <= 0:
		return TierNone
	case failed == 1:
		return TierLow
	case failed == 2:
		return TierMedium
	default:
		return TierHigh
	}
}

// Check is one independent probe. Run returns whether the check fired and
// any execution error; an error means "no signal", not a hit.
type Check struct {
	Name string
	Run  func() (fired bool, err error)
}

// Result is the aggregate outcome of one detector scan.
type Result struct {
	Flagged      bool
	FailedChecks []string
	TotalChecks  int
	Confidence   Tier
}

// Detector is the uniform contract the runtime coordinator schedules.
type Detector interface {
	Name() string
	ThreatType() event.ThreatType
	Scan() Result
}

// runAll executes every check and aggregates. total is reported as the
// detector's fixed check count even when the slice was trimmed by platform
// availability.
func runAll(checks []Check, total int) Result {
	res := Result{TotalChecks: total}
	for _, c := range checks {
		fired, err := c.Run()
		if err != nil {
			// Unexecutable check: no signal either way.
			continue
		}
		if fired {
			res.FailedChecks = append(res.FailedChecks, c.Name)
		}
	}
	res.Flagged = len(res.FailedChecks) > 0
	res.Confidence = TierFor(len(res.FailedChecks))
	return res
}

// runFirst executes checks in priority order and stops at the first hit.
func runFirst(checks []Check, total int) Result {
	res := Result{TotalChecks: total}
	for _, c := range checks {
		fired, err := c.Run()
		if err != nil {
			continue
		}
		if fired {
			res.FailedChecks = []string{c.Name}
			break
		}
	}
	res.Flagged = len(res.FailedChecks) > 0
	res.Confidence = TierFor(len(res.FailedChecks))
	return res
}
