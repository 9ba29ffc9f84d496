package integrity

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/imanology1/securus-agent/pkg/event"
)

// jailbreakCheckCount is the fixed number of independent jailbreak/root
// checks; TotalChecks always reports this value.
const jailbreakCheckCount = 6

var suBinaryPaths = []string{
	"/usr/bin/su",
	"/bin/su",
	"/sbin/su",
	"/system/bin/su",
	"/system/xbin/su",
	"/usr/sbin/su",
}

var tamperArtifactPaths = []string{
	"/Applications/Cydia.app",
	"/Applications/Sileo.app",
	"/Library/MobileSubstrate/MobileSubstrate.dylib",
	"/usr/libexec/cydia",
	"/private/var/lib/apt",
	"/data/data/com.saurik.substrate",
	"/system/app/Superuser.apk",
	"/data/local/tmp/frida-server",
}

var injectedLibraryEnvVars = []string{
	"DYLD_INSERT_LIBRARIES",
	"LD_PRELOAD",
	"LD_LIBRARY_PATH",
}

// systemMountPoints are partitions expected to be read-only on an intact
// device.
var systemMountPoints = map[string]bool{
	"/system": true,
	"/vendor": true,
}

// JailbreakDetector looks for a rooted or jailbroken runtime through six
// layered checks, so defeating any single probe is not enough to hide.
type JailbreakDetector struct {
	checks []Check
}

// NewJailbreakDetector builds the detector with its full check set.
func NewJailbreakDetector() *JailbreakDetector {
	return &JailbreakDetector{checks: []Check{
		{Name: "su_binary", Run: checkSuBinary},
		{Name: "tamper_artifacts", Run: checkTamperArtifacts},
		{Name: "sandbox_escape_write", Run: checkSandboxEscapeWrite},
		{Name: "injected_library_env", Run: checkInjectedLibraryEnv},
		{Name: "system_partition_rw", Run: checkSystemPartitionRW},
		{Name: "root_privileges", Run: checkRootPrivileges},
	}}
}

func (d *JailbreakDetector) Name() string { return "jailbreak" }

func (d *JailbreakDetector) ThreatType() event.ThreatType { return event.ThreatJailbreak }

// Scan runs every check; the result lists which fired.
func (d *JailbreakDetector) Scan() Result {
	return runAll(d.checks, jailbreakCheckCount)
}

func checkSuBinary() (bool, error) {
	for _, p := range suBinaryPaths {
		if _, err := os.Stat(p); err == nil {
			return true, nil
		}
	}
	return false, nil
}

func checkTamperArtifacts() (bool, error) {
	for _, p := range tamperArtifactPaths {
		if _, err := os.Stat(p); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// checkSandboxEscapeWrite attempts a write outside the app sandbox. On an
// intact device the write is denied; success means the sandbox is broken.
func checkSandboxEscapeWrite() (bool, error) {
	if os.Geteuid() == 0 {
		// Root can always write; the root check covers this case and a
		// write probe would only duplicate its signal.
		return false, nil
	}
	probe := filepath.Join("/private", ".securus_probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return false, nil
	}
	f.Close()
	os.Remove(probe)
	return true, nil
}

func checkInjectedLibraryEnv() (bool, error) {
	for _, k := range injectedLibraryEnvVars {
		if v := os.Getenv(k); strings.TrimSpace(v) != "" {
			return true, nil
		}
	}
	return false, nil
}

func checkSystemPartitionRW() (bool, error) {
	parts, err := disk.Partitions(false)
	if err != nil {
		return false, err
	}
	for _, p := range parts {
		if !systemMountPoints[p.Mountpoint] {
			continue
		}
		for _, opt := range p.Opts {
			if opt == "rw" {
				return true, nil
			}
		}
	}
	return false, nil
}

func checkRootPrivileges() (bool, error) {
	// A mobile app process never legitimately runs as uid 0.
	return os.Geteuid() == 0, nil
}
