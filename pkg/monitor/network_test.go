package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imanology1/securus-agent/pkg/baseline"
	"github.com/imanology1/securus-agent/pkg/event"
	"github.com/imanology1/securus-agent/pkg/scoring"
	"github.com/imanology1/securus-agent/pkg/store"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []event.ThreatEvent
}

func (s *sinkRecorder) sink(ev event.ThreatEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *sinkRecorder) snapshot() []event.ThreatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.ThreatEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *sinkRecorder) waitFor(t *testing.T, n int) []event.ThreatEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if evs := s.snapshot(); len(evs) >= n {
			return evs
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, have %d", n, len(s.snapshot()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// protectedPipeline builds a baseline frozen in protection with one known
// destination plus a trained engine.
func protectedPipeline(t *testing.T) (*baseline.Manager, *scoring.Engine, event.NetworkEvent) {
	t.Helper()
	known := event.NewNetworkEvent("api.example.com", 443, event.ProtocolHTTPS, 1024, 200, 40*time.Millisecond)

	start := time.Unix(1700000000, 0)
	current := start
	clock := func() time.Time { return current }

	engine := scoring.NewEngine(0.7, nil)
	mgr := baseline.NewManager(store.NewMemStore(), engine, time.Hour, nil, baseline.WithClock(clock))
	for i := 0; i < 50; i++ {
		e := known
		e.Size = 1024 + int64(i%7)
		e.Duration = time.Duration(35+i%9) * time.Millisecond
		require.True(t, mgr.RecordEvent(e))
	}
	current = start.Add(2 * time.Hour)
	require.False(t, mgr.RecordEvent(known))
	require.Equal(t, baseline.PhaseProtection, mgr.Phase())
	require.True(t, engine.Trained())
	return mgr, engine, known
}

func newNetCoordinator(obs TrafficObserver, mgr *baseline.Manager, engine *scoring.Engine, sink Sink) *NetworkCoordinator {
	return NewNetworkCoordinator(NetworkConfig{
		Observer:   obs,
		Baseline:   mgr,
		Engine:     engine,
		Classifier: scoring.DefaultClassifierConfig(),
		Sink:       sink,
		TokenFunc:  func() string { return "sha256:test" },
		OSVersion:  "test-os 1.0",
	}, nil, nil)
}

func TestNetworkCoordinatorEmitsOnUnknownAnomalousTraffic(t *testing.T) {
	mgr, engine, _ := protectedPipeline(t)
	obs := NewChannelObserver(16)
	rec := &sinkRecorder{}
	c := newNetCoordinator(obs, mgr, engine, rec.sink)
	c.StartMonitoring()
	defer c.StopMonitoring()

	// Unknown destination with a wildly deviant feature vector.
	bad := event.NewNetworkEvent("exfil.attacker.example", 9999, event.ProtocolTCP, 50_000_000, 500, 30*time.Second)
	require.True(t, obs.Observe(bad))

	evs := rec.waitFor(t, 1)
	ev := evs[0]
	assert.Equal(t, event.ThreatNetworkAnomaly, ev.Type)
	assert.Equal(t, event.SeverityCritical, ev.Severity)
	assert.Equal(t, "critical", ev.Metadata["risk"])
	assert.Equal(t, "false", ev.Metadata["known_destination"])
	assert.Equal(t, bad.DomainHash, ev.Metadata["domain_hash"])
	assert.Equal(t, "sha256:test", ev.AppToken)
}

func TestNetworkCoordinatorQuietOnKnownNormalTraffic(t *testing.T) {
	mgr, engine, known := protectedPipeline(t)
	obs := NewChannelObserver(16)
	rec := &sinkRecorder{}
	c := newNetCoordinator(obs, mgr, engine, rec.sink)
	c.StartMonitoring()
	defer c.StopMonitoring()

	for i := 0; i < 10; i++ {
		require.True(t, obs.Observe(known))
	}
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.snapshot(), "known baseline-like traffic must not report")
}

func TestNetworkCoordinatorDeduplicates(t *testing.T) {
	mgr, engine, _ := protectedPipeline(t)
	obs := NewChannelObserver(16)
	rec := &sinkRecorder{}
	c := newNetCoordinator(obs, mgr, engine, rec.sink)
	c.StartMonitoring()
	defer c.StopMonitoring()

	bad := event.NewNetworkEvent("exfil.attacker.example", 9999, event.ProtocolTCP, 50_000_000, 500, 30*time.Second)
	for i := 0; i < 5; i++ {
		require.True(t, obs.Observe(bad))
	}
	rec.waitFor(t, 1)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1, "identical findings within the window collapse to one")
}

func TestNetworkCoordinatorRecordsDuringLearning(t *testing.T) {
	engine := scoring.NewEngine(0.7, nil)
	mgr := baseline.NewManager(store.NewMemStore(), engine, time.Hour, nil)
	obs := NewChannelObserver(16)
	rec := &sinkRecorder{}
	c := newNetCoordinator(obs, mgr, engine, rec.sink)
	c.StartMonitoring()
	defer c.StopMonitoring()

	e := event.NewNetworkEvent("api.example.com", 443, event.ProtocolHTTPS, 1024, 200, 40*time.Millisecond)
	require.True(t, obs.Observe(e))

	deadline := time.After(time.Second)
	for mgr.TotalEventsObserved() == 0 {
		select {
		case <-deadline:
			t.Fatal("event never reached the baseline")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.Empty(t, rec.snapshot(), "learning phase must not emit threats")
}

func TestNetworkCoordinatorLifecycleIdempotent(t *testing.T) {
	mgr, engine, _ := protectedPipeline(t)
	obs := NewChannelObserver(16)
	c := newNetCoordinator(obs, mgr, engine, nil)

	c.StartMonitoring()
	c.StartMonitoring()
	c.StopMonitoring()
	c.StopMonitoring()
	c.StartMonitoring()
	c.StopMonitoring()
}

func TestChannelObserverDropsWhenFull(t *testing.T) {
	obs := NewChannelObserver(1)
	e := event.NewNetworkEvent("a", 443, event.ProtocolHTTPS, 1, 200, time.Millisecond)
	assert.True(t, obs.Observe(e))
	assert.False(t, obs.Observe(e), "full buffer must drop, never block")
}
