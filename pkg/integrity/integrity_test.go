package integrity

import (
	"errors"
	"testing"
)

func firing(name string) Check {
	return Check{Name: name, Run: func() (bool, error) { return true, nil }}
}

func quiet(name string) Check {
	return Check{Name: name, Run: func() (bool, error) { return false, nil }}
}

func broken(name string) Check {
	return Check{Name: name, Run: func() (bool, error) { return true, errors.New("api unavailable") }}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		failed int
		want   Tier
	}{
		{0, TierNone},
		{1, TierLow},
		{2, TierMedium},
		{3, TierHigh},
		{5, TierHigh},
		{-1, TierNone},
	}
	for _, tt := range tests {
		if got := TierFor(tt.failed); got != tt.want {
			t.Errorf("TierFor(%d) = %s, want %s", tt.failed, got, tt.want)
		}
	}
}

func TestRunAllAggregation(t *testing.T) {
	tests := []struct {
		name        string
		checks      []Check
		wantFlagged bool
		wantFailed  int
		wantTier    Tier
	}{
		{"none fire", []Check{quiet("a"), quiet("b"), quiet("c")}, false, 0, TierNone},
		{"one fires", []Check{firing("a"), quiet("b"), quiet("c")}, true, 1, TierLow},
		{"two fire", []Check{firing("a"), firing("b"), quiet("c")}, true, 2, TierMedium},
		{"three fire", []Check{firing("a"), firing("b"), firing("c")}, true, 3, TierHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runAll(tt.checks, 6)
			if res.Flagged != tt.wantFlagged {
				t.Errorf("Flagged = %t, want %t", res.Flagged, tt.wantFlagged)
			}
			if len(res.FailedChecks) != tt.wantFailed {
				t.Errorf("failed = %d, want %d", len(res.FailedChecks), tt.wantFailed)
			}
			if res.Confidence != tt.wantTier {
				t.Errorf("Confidence = %s, want %s", res.Confidence, tt.wantTier)
			}
			if res.TotalChecks != 6 {
				t.Errorf("TotalChecks = %d, want fixed 6", res.TotalChecks)
			}
		})
	}
}

func TestCheckErrorIsNeverAPositive(t *testing.T) {
	// A check that cannot execute reports no signal even when its fired
	// flag is set alongside the error.
	res := runAll([]Check{broken("a"), broken("b"), broken("c")}, 3)
	if res.Flagged {
		t.Error("unexecutable checks promoted to a detection")
	}
	if res.Confidence != TierNone {
		t.Errorf("Confidence = %s, want none", res.Confidence)
	}
}

func TestRunFirstShortCircuits(t *testing.T) {
	calls := 0
	counted := func(fired bool) Check {
		return Check{Name: "c", Run: func() (bool, error) {
			calls++
			return fired, nil
		}}
	}
	res := runFirst([]Check{counted(false), counted(true), counted(true)}, 4)
	if calls != 2 {
		t.Errorf("checks run = %d, want short-circuit after 2", calls)
	}
	if !res.Flagged || len(res.FailedChecks) != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.TotalChecks != 4 {
		t.Errorf("TotalChecks = %d, want 4", res.TotalChecks)
	}
}

func TestRunFirstSkipsBrokenChecks(t *testing.T) {
	res := runFirst([]Check{broken("a"), firing("b")}, 2)
	if len(res.FailedChecks) != 1 || res.FailedChecks[0] != "b" {
		t.Errorf("expected the second check to fire, got %v", res.FailedChecks)
	}
}

func TestJailbreakDetectorShape(t *testing.T) {
	d := NewJailbreakDetector()
	res := d.Scan()
	if res.TotalChecks != jailbreakCheckCount {
		t.Errorf("TotalChecks = %d, want %d", res.TotalChecks, jailbreakCheckCount)
	}
	if res.Flagged != (len(res.FailedChecks) > 0) {
		t.Error("Flagged inconsistent with FailedChecks")
	}
	if res.Confidence != TierFor(len(res.FailedChecks)) {
		t.Error("Confidence inconsistent with failure count")
	}
}

func TestDebuggerDetectorShape(t *testing.T) {
	d := NewDebuggerDetector(DebuggerConfig{})
	res := d.Scan()
	if res.TotalChecks != debuggerCheckCount {
		t.Errorf("TotalChecks = %d, want %d", res.TotalChecks, debuggerCheckCount)
	}
	if len(res.FailedChecks) > 1 {
		t.Errorf("debugger detector must short-circuit, got %v", res.FailedChecks)
	}
}

func TestTimingCheckQuietWithoutDebugger(t *testing.T) {
	fired, err := checkTimingAnomaly(defaultTimingMultiplier)
	if err != nil {
		t.Fatalf("timing check errored: %v", err)
	}
	if fired {
		t.Error("timing check fired with no debugger attached")
	}
}
