package integrity

import (
	"sync"
	"time"
)

// defaultTimingMultiplier flags the probe only past a 10x slowdown.
const defaultTimingMultiplier = 10.0

const timingRounds = 200_000

var (
	timingOnce     sync.Once
	timingBaseline time.Duration
)

// timingWorkload is a fixed-cost CPU loop. The sink keeps the compiler from
// eliding it.
var timingSink uint64

func timingWorkload() {
	var acc uint64 = 1469598103934665603
	for i := 0; i < timingRounds; i++ {
		acc ^= uint64(i)
		acc *= 1099511628211
	}
	timingSink = acc
}

// calibrateTiming measures the workload once per process, taking the best
// of three runs so a scheduler hiccup does not inflate the baseline.
func calibrateTiming() {
	best := time.Duration(1<<63 - 1)
	for i := 0; i < 3; i++ {
		start := time.Now()
		timingWorkload()
		if d := time.Since(start); d < best {
			best = d
		}
	}
	if best <= 0 {
		best = time.Microsecond
	}
	timingBaseline = best
}

// checkTimingAnomaly flags when the calibrated workload's wall-clock time
// exceeds baseline by the configured multiplier. Single-step debugging and
// instruction tracing inflate wall time by orders of magnitude.
func checkTimingAnomaly(multiplier float64) (bool, error) {
	timingOnce.Do(calibrateTiming)
	start := time.Now()
	timingWorkload()
	elapsed := time.Since(start)
	return float64(elapsed) > float64(timingBaseline)*multiplier, nil
}
