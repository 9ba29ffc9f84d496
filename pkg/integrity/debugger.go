package integrity

import (
	"os"
	"strconv"
	"strings"

	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/imanology1/securus-agent/pkg/event"
)

const debuggerCheckCount = 4

// debuggerListenerPorts are default listener ports of common dynamic
// instrumentation and debugging tools.
var debuggerListenerPorts = map[uint32]string{
	27042: "frida",
	27043: "frida",
	23946: "ida",
	4444:  "metasploit",
	1234:  "gdbserver",
}

// DebuggerConfig tunes the detector; zero values take defaults.
type DebuggerConfig struct {
	// TimingMultiplier flags the timing probe when the calibrated workload
	// runs this many times slower than baseline. Deliberately conservative
	// so slow hardware does not false-positive.
	TimingMultiplier float64
}

// DebuggerDetector looks for an attached debugger. Checks run in priority
// order and short-circuit on the first positive: kernel trace flag,
// injected-library environment, execution-timing anomaly, known tool
// listener port.
type DebuggerDetector struct {
	checks []Check
}

// NewDebuggerDetector builds the detector.
func NewDebuggerDetector(cfg DebuggerConfig) *DebuggerDetector {
	if cfg.TimingMultiplier <= 1 {
		cfg.TimingMultiplier = defaultTimingMultiplier
	}
	return &DebuggerDetector{checks: []Check{
		{Name: "kernel_trace_flag", Run: checkTracerPID},
		{Name: "injected_library_env", Run: checkInjectedLibraryEnv},
		{Name: "timing_anomaly", Run: func() (bool, error) { return checkTimingAnomaly(cfg.TimingMultiplier) }},
		{Name: "tool_listener_port", Run: checkDebuggerListenerPorts},
	}}
}

func (d *DebuggerDetector) Name() string { return "debugger" }

func (d *DebuggerDetector) ThreatType() event.ThreatType { return event.ThreatDebugger }

// Scan short-circuits at the first firing check.
func (d *DebuggerDetector) Scan() Result {
	return runFirst(d.checks, debuggerCheckCount)
}

// checkTracerPID reads the kernel's tracer field for this process. A
// non-zero TracerPid means something has ptrace-attached.
func checkTracerPID() (bool, error) {
	raw, err := os.ReadFile("/proc/self/status")
	if err != nil {
		// Not a procfs platform; no signal.
		return false, err
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if !strings.HasPrefix(line, "TracerPid:") {
			continue
		}
		v := strings.TrimSpace(strings.TrimPrefix(line, "TracerPid:"))
		pid, err := strconv.Atoi(v)
		if err != nil {
			return false, err
		}
		return pid != 0, nil
	}
	return false, nil
}

// checkDebuggerListenerPorts scans local listeners for well-known
// instrumentation tool ports.
func checkDebuggerListenerPorts() (bool, error) {
	conns, err := gnet.Connections("tcp")
	if err != nil {
		return false, err
	}
	for _, c := range conns {
		if c.Status != "LISTEN" {
			continue
		}
		if _, hit := debuggerListenerPorts[c.Laddr.Port]; hit {
			return true, nil
		}
	}
	return false, nil
}
