package scoring

// RiskLevel is the combined verdict of destination familiarity and anomaly
// score. Only RiskSuspicious and RiskCritical become threat events.
type RiskLevel int

const (
	RiskNormal RiskLevel = iota
	RiskElevated
	RiskSuspicious
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskNormal:
		return "normal"
	case RiskElevated:
		return "elevated"
	case RiskSuspicious:
		return "suspicious"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Reportable reports whether this risk level crosses the reporting bar.
func (r RiskLevel) Reportable() bool {
	return r >= RiskSuspicious
}

// ClassifierConfig carries the risk-table boundaries. The defaults are the
// tuned production values; both intervals are closed-open.
type ClassifierConfig struct {
	ElevatedBoundary   float64 // score below = lowest row bucket
	SuspiciousBoundary float64 // score at or above = highest row bucket
}

// DefaultClassifierConfig returns the 0.6/0.85 production boundaries.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{ElevatedBoundary: 0.6, SuspiciousBoundary: 0.85}
}

// Classify applies the two-axis risk table:
//
//	known   score<lo  lo≤score<hi  score≥hi
//	yes     normal    elevated     suspicious
//	no      elevated  suspicious   critical
func (c ClassifierConfig) Classify(knownDestination bool, score float64) RiskLevel {
	lo, hi := c.ElevatedBoundary, c.SuspiciousBoundary
	if lo <= 0 || hi <= lo {
		d := DefaultClassifierConfig()
		lo, hi = d.ElevatedBoundary, d.SuspiciousBoundary
	}
	switch {
	case score >= hi:
		if knownDestination {
			return RiskSuspicious
		}
		return RiskCritical
	case score >= lo:
		if knownDestination {
			return RiskElevated
		}
		return RiskSuspicious
	default:
		if knownDestination {
			return RiskNormal
		}
		return RiskElevated
	}
}
