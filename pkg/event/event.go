// Package event defines the threat and traffic event models shared by the
// detection pipeline and the reporter.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the agent version stamped on every outbound report.
const Version = "1.2.0"

// ThreatType identifies the detector family that produced an event.
// Values match the collector wire contract.
type ThreatType string

const (
	ThreatNetworkAnomaly ThreatType = "network_anomaly"
	ThreatJailbreak      ThreatType = "jailbreak_detected"
	ThreatDebugger       ThreatType = "debugger_attached"
	ThreatRepackaged     ThreatType = "app_repackaged"
)

// Severity orders threat events from low to critical.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a wire string back to a Severity. Unknown strings map
// to SeverityLow rather than failing.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ThreatEvent is an immutable detection record. Construct via NewThreatEvent;
// Metadata must carry only hashed or aggregated values, never raw personal
// data.
type ThreatEvent struct {
	ID        string            `json:"threat_id"`
	Type      ThreatType        `json:"threat_type"`
	Severity  Severity          `json:"-"`
	Metadata  map[string]string `json:"metadata"`
	AppToken  string            `json:"app_token"`
	SDKVer    string            `json:"sdk_version"`
	OSVersion string            `json:"os_version"`
	Timestamp time.Time         `json:"-"`
}

// NewThreatEvent assembles a threat event with a fresh id and timestamp.
// The metadata map is copied so later mutation by the caller cannot leak in.
func NewThreatEvent(t ThreatType, sev Severity, meta map[string]string, appToken, osVersion string) ThreatEvent {
	md := make(map[string]string, len(meta))
	for k, v := range meta {
		md[k] = v
	}
	return ThreatEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  sev,
		Metadata:  md,
		AppToken:  appToken,
		SDKVer:    Version,
		OSVersion: osVersion,
		Timestamp: time.Now().UTC(),
	}
}

// ReportPayload is the collector wire form of a ThreatEvent.
type ReportPayload struct {
	ThreatID   string            `json:"threat_id"`
	ThreatType string            `json:"threat_type"`
	Severity   string            `json:"severity"`
	Metadata   map[string]string `json:"metadata"`
	AppToken   string            `json:"app_token"`
	SDKVersion string            `json:"sdk_version"`
	OSVersion  string            `json:"os_version"`
	Timestamp  string            `json:"timestamp"`
}

// Payload converts the event to its collector wire form.
func (e ThreatEvent) Payload() ReportPayload {
	return ReportPayload{
		ThreatID:   e.ID,
		ThreatType: string(e.Type),
		Severity:   e.Severity.String(),
		Metadata:   e.Metadata,
		AppToken:   e.AppToken,
		SDKVersion: e.SDKVer,
		OSVersion:  e.OSVersion,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339),
	}
}

// Protocol is the transport protocol of an observed request.
type Protocol string

const (
	ProtocolHTTPS Protocol = "https"
	ProtocolHTTP  Protocol = "http"
	ProtocolTCP   Protocol = "tcp"
	ProtocolUDP   Protocol = "udp"
	ProtocolOther Protocol = "other"
)

// Ordinal gives each protocol a stable numeric encoding for feature vectors.
func (p Protocol) Ordinal() float64 {
	switch p {
	case ProtocolHTTPS:
		return 0
	case ProtocolHTTP:
		return 1
	case ProtocolTCP:
		return 2
	case ProtocolUDP:
		return 3
	default:
		return 4
	}
}

// FeatureDim is the fixed length of a network feature vector.
const FeatureDim = 5

// NetworkEvent is a single observed outbound request. The destination domain
// is stored only as a hash; the raw hostname never enters the pipeline.
type NetworkEvent struct {
	DomainHash string
	Port       int
	Protocol   Protocol
	Size       int64
	StatusCode int
	Duration   time.Duration
}

// NewNetworkEvent hashes the destination domain and fills the sample.
func NewNetworkEvent(domain string, port int, proto Protocol, size int64, status int, dur time.Duration) NetworkEvent {
	return NetworkEvent{
		DomainHash: HashDomain(domain),
		Port:       port,
		Protocol:   proto,
		Size:       size,
		StatusCode: status,
		Duration:   dur,
	}
}

// FeatureVector encodes the event as [port, protocolOrdinal, size,
// statusCode, durationMs].
func (e NetworkEvent) FeatureVector() []float64 {
	return []float64{
		float64(e.Port),
		e.Protocol.Ordinal(),
		float64(e.Size),
		float64(e.StatusCode),
		float64(e.Duration.Milliseconds()),
	}
}

// HashDomain one-way hashes a destination domain for use as a baseline key
// and in report metadata.
func HashDomain(domain string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(domain))))
	return hex.EncodeToString(sum[:16])
}
