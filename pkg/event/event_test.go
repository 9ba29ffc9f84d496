package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewThreatEventCopiesMetadata(t *testing.T) {
	meta := map[string]string{"port": "443"}
	ev := NewThreatEvent(ThreatJailbreak, SeverityCritical, meta, "sha256:ab", "ios 17.4")
	meta["port"] = "mutated"
	if ev.Metadata["port"] != "443" {
		t.Error("metadata aliased the caller map")
	}
	if ev.ID == "" {
		t.Error("missing id")
	}
	if ev.SDKVer != Version {
		t.Errorf("sdk version = %q", ev.SDKVer)
	}
	if ev.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp not UTC: %v", ev.Timestamp)
	}
}

func TestThreatEventIDsUnique(t *testing.T) {
	a := NewThreatEvent(ThreatDebugger, SeverityHigh, nil, "", "")
	b := NewThreatEvent(ThreatDebugger, SeverityHigh, nil, "", "")
	if a.ID == b.ID {
		t.Fatal("two events share an id")
	}
}

func TestPayloadWireShape(t *testing.T) {
	ev := NewThreatEvent(ThreatNetworkAnomaly, SeverityHigh,
		map[string]string{"domain_hash": "abcd"}, "sha256:ef", "ios 17.4")
	ev.Timestamp = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	raw, err := json.Marshal(ev.Payload())
	if err != nil {
		t.Fatal(err)
	}
	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"threat_id":   ev.ID,
		"threat_type": "network_anomaly",
		"severity":    "high",
		"app_token":   "sha256:ef",
		"sdk_version": Version,
		"os_version":  "ios 17.4",
		"timestamp":   "2026-03-14T09:26:53Z",
	}
	for k, v := range want {
		if wire[k] != v {
			t.Errorf("%s = %v, want %q", k, wire[k], v)
		}
	}
	meta, ok := wire["metadata"].(map[string]any)
	if !ok || meta["domain_hash"] != "abcd" {
		t.Errorf("metadata = %v", wire["metadata"])
	}
}

func TestSeverityRoundTrip(t *testing.T) {
	for _, sev := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if got := ParseSeverity(sev.String()); got != sev {
			t.Errorf("ParseSeverity(%q) = %v", sev.String(), got)
		}
	}
	if ParseSeverity("nonsense") != SeverityLow {
		t.Error("unknown severity must map to low")
	}
	if ParseSeverity("CRITICAL") != SeverityCritical {
		t.Error("parsing must be case-insensitive")
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !(SeverityLow < SeverityMedium && SeverityMedium < SeverityHigh && SeverityHigh < SeverityCritical) {
		t.Fatal("severity ordering broken")
	}
}

func TestHashDomainNormalizes(t *testing.T) {
	base := HashDomain("api.example.com")
	if len(base) != 32 {
		t.Fatalf("hash length = %d, want 32 hex chars", len(base))
	}
	for _, variant := range []string{"API.Example.COM", "  api.example.com  ", "api.example.com"} {
		if HashDomain(variant) != base {
			t.Errorf("HashDomain(%q) differs from normalized form", variant)
		}
	}
	if HashDomain("other.example.com") == base {
		t.Error("distinct domains collide")
	}
}

func TestFeatureVectorEncoding(t *testing.T) {
	e := NewNetworkEvent("api.example.com", 443, ProtocolHTTPS, 2048, 200, 150*time.Millisecond)
	v := e.FeatureVector()
	if len(v) != FeatureDim {
		t.Fatalf("dim = %d, want %d", len(v), FeatureDim)
	}
	want := []float64{443, 0, 2048, 200, 150}
	for i := range want {
		if v[i] != want[i] {
			t.Errorf("v[%d] = %f, want %f", i, v[i], want[i])
		}
	}
}

func TestProtocolOrdinalsDistinct(t *testing.T) {
	protos := []Protocol{ProtocolHTTPS, ProtocolHTTP, ProtocolTCP, ProtocolUDP, ProtocolOther}
	seen := map[float64]Protocol{}
	for _, p := range protos {
		o := p.Ordinal()
		if prev, dup := seen[o]; dup {
			t.Errorf("%s and %s share ordinal %f", prev, p, o)
		}
		seen[o] = p
	}
	if Protocol("quic").Ordinal() != ProtocolOther.Ordinal() {
		t.Error("unknown protocols must encode as other")
	}
}
