package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/imanology1/securus-agent/pkg/event"
)

const repackageCheckCount = 4

// RepackageConfig describes what an untampered install of the host app
// looks like. Fields left empty disable the corresponding check ("could
// not execute", never a positive).
type RepackageConfig struct {
	// ProvisioningPath is the provisioning artifact location. Store-signed
	// builds carry none; its presence on a release build means a re-sign.
	ProvisioningPath string
	// ExpectProvisioning marks builds (development, enterprise) where the
	// artifact is legitimate.
	ExpectProvisioning bool

	// ExpectedExecutableDigest is the hex sha256 of the shipped binary.
	ExpectedExecutableDigest string

	// ExpectedBundleID and ActualBundleID compare the identity the app was
	// released under with the identity the runtime reports.
	ExpectedBundleID string
	ActualBundleID   string

	// ExpectedInstallPrefix is where the platform installs store builds.
	ExpectedInstallPrefix string
}

// RepackageDetector verifies the host binary is the one that was shipped:
// provisioning artifact state, code-signature digest, bundle identity and
// install location.
type RepackageDetector struct {
	checks []Check
}

// NewRepackageDetector builds the detector from the expected install facts.
func NewRepackageDetector(cfg RepackageConfig) *RepackageDetector {
	return &RepackageDetector{checks: []Check{
		{Name: "provisioning_artifact", Run: func() (bool, error) { return checkProvisioning(cfg) }},
		{Name: "code_signature", Run: func() (bool, error) { return checkExecutableDigest(cfg.ExpectedExecutableDigest) }},
		{Name: "bundle_identity", Run: func() (bool, error) { return checkBundleIdentity(cfg.ExpectedBundleID, cfg.ActualBundleID) }},
		{Name: "install_prefix", Run: func() (bool, error) { return checkInstallPrefix(cfg.ExpectedInstallPrefix) }},
	}}
}

func (d *RepackageDetector) Name() string { return "repackage" }

func (d *RepackageDetector) ThreatType() event.ThreatType { return event.ThreatRepackaged }

func (d *RepackageDetector) Scan() Result {
	return runAll(d.checks, repackageCheckCount)
}

var errCheckDisabled = errors.New("integrity: check not configured")

func checkProvisioning(cfg RepackageConfig) (bool, error) {
	if cfg.ProvisioningPath == "" {
		return false, errCheckDisabled
	}
	_, err := os.Stat(cfg.ProvisioningPath)
	present := err == nil
	return present != cfg.ExpectProvisioning, nil
}

func checkExecutableDigest(expected string) (bool, error) {
	if expected == "" {
		return false, errCheckDisabled
	}
	path, err := os.Executable()
	if err != nil {
		return false, err
	}
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	digest := hex.EncodeToString(h.Sum(nil))
	return !strings.EqualFold(digest, expected), nil
}

func checkBundleIdentity(expected, actual string) (bool, error) {
	if expected == "" || actual == "" {
		return false, errCheckDisabled
	}
	return expected != actual, nil
}

func checkInstallPrefix(prefix string) (bool, error) {
	if prefix == "" {
		return false, errCheckDisabled
	}
	path, err := os.Executable()
	if err != nil {
		return false, err
	}
	return !strings.HasPrefix(path, prefix), nil
}
