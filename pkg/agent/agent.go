// Package agent is the fail-safe lifecycle orchestrator: it validates
// configuration, wires the coordinators, the scoring pipeline and the
// reporter together, and guarantees that no internal failure ever
// propagates into the host application.
package agent

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/imanology1/securus-agent/pkg/baseline"
	"github.com/imanology1/securus-agent/pkg/config"
	"github.com/imanology1/securus-agent/pkg/event"
	"github.com/imanology1/securus-agent/pkg/integrity"
	"github.com/imanology1/securus-agent/pkg/logging"
	"github.com/imanology1/securus-agent/pkg/metrics"
	"github.com/imanology1/securus-agent/pkg/monitor"
	"github.com/imanology1/securus-agent/pkg/report"
	"github.com/imanology1/securus-agent/pkg/scoring"
	"github.com/imanology1/securus-agent/pkg/store"
	"github.com/imanology1/securus-agent/pkg/token"
)

// State is the orchestrator lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConfigured
	StateRunning
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Capability keys the optional monitoring modules.
type Capability int

const (
	CapabilityNetwork Capability = iota
	CapabilityIntegrity
)

// NotificationKind classifies what the agent surfaces to the host.
type NotificationKind int

const (
	NoteConfigError NotificationKind = iota
	NoteDeliveryError
	NoteInternalError
	NoteLifecycle
)

// Notification is the one path every surfaced condition travels. Only
// configuration rejections and exhausted-retry delivery failures carry an
// error; everything else is informational.
type Notification struct {
	Kind    NotificationKind
	Message string
	Err     error
}

var (
	// ErrNotConfigured is returned by Start before a successful Configure.
	ErrNotConfigured = errors.New("agent: not configured")
	// ErrRunning is returned by Configure while the agent runs.
	ErrRunning = errors.New("agent: cannot reconfigure while running")
)

const channelBuffer = 64

// Agent is the top-level orchestrator. All public methods are safe for
// concurrent use and never panic into the caller.
type Agent struct {
	mu    sync.Mutex
	state State
	cfg   config.Config

	log    *logging.Logger
	met    *metrics.Metrics
	reg    prometheus.Registerer
	st     store.Store
	tokens *token.Generator
	model  scoring.ModelScorer

	engine   *scoring.Engine
	baseline *baseline.Manager
	reporter *report.Reporter
	sender   report.Sender

	observer  *monitor.ChannelObserver
	coords    map[Capability]monitor.Coordinator
	detectors []integrity.Detector
	repack    integrity.RepackageConfig

	osVersion string
	events    chan event.ThreatEvent
	notes     chan Notification
}

// Option customizes agent construction.
type Option func(*Agent)

// WithStore injects the durable store; the default is in-memory only.
func WithStore(st store.Store) Option {
	return func(a *Agent) { a.st = st }
}

// WithModel installs the opaque model scorer for the anomaly engine.
func WithModel(m scoring.ModelScorer) Option {
	return func(a *Agent) { a.model = m }
}

// WithRegistry exposes agent metrics on the host's prometheus registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(a *Agent) { a.reg = reg }
}

// WithRepackageConfig supplies the expected install facts for the
// repackaging detector.
func WithRepackageConfig(cfg integrity.RepackageConfig) Option {
	return func(a *Agent) { a.repack = cfg }
}

// WithSender overrides the collector client; used by tests.
func WithSender(s report.Sender) Option {
	return func(a *Agent) { a.sender = s }
}

// New constructs an idle agent. Configure must run before Start.
func New(opts ...Option) *Agent {
	a := &Agent{
		state:    StateIdle,
		st:       store.NewMemStore(),
		observer: monitor.NewChannelObserver(256),
		coords:   make(map[Capability]monitor.Coordinator),
		events:   make(chan event.ThreatEvent, channelBuffer),
		notes:    make(chan Notification, channelBuffer),
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Events streams every emitted threat event to the host.
func (a *Agent) Events() <-chan event.ThreatEvent { return a.events }

// Notifications streams surfaced errors and lifecycle notes to the host.
func (a *Agent) Notifications() <-chan Notification { return a.notes }

// Observer is the tap the host instrumentation feeds traffic samples into.
func (a *Agent) Observer() *monitor.ChannelObserver { return a.observer }

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Configure validates cfg and builds the detection components. It is
// rejected while running. An invalid configuration leaves the current
// state untouched, never reaching any component.
func (a *Agent) Configure(cfg config.Config) error {
	return a.guard("configure", func() error {
		a.mu.Lock()
		defer a.mu.Unlock()

		if a.state == StateRunning {
			a.notify(Notification{Kind: NoteConfigError, Message: "configure rejected while running", Err: ErrRunning})
			return ErrRunning
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			a.notify(Notification{Kind: NoteConfigError, Message: "configuration rejected", Err: err})
			return err
		}

		log, err := logging.New(cfg.LogLevel)
		if err != nil {
			log = logging.Nop()
		}
		a.log = log
		a.cfg = cfg
		// Collectors register on the host registry once; a reconfigure
		// after stop reuses them rather than re-registering.
		if a.met == nil {
			a.met = metrics.New(a.reg)
		}
		a.tokens = token.NewGenerator(a.st)
		a.osVersion = readOSVersion()

		a.engine = scoring.NewEngine(cfg.AnomalyThreshold, a.model)
		a.baseline = baseline.NewManager(a.st, a.engine, cfg.LearningPeriod, a.log)

		if a.sender == nil {
			a.sender = report.NewClient(report.ClientConfig{
				Endpoint: cfg.Endpoint,
				APIKey:   cfg.APIKey,
			}, a.log)
		}
		a.reporter = report.NewReporter(a.sender, report.Config{}, a.log, a.met, func(err error) {
			a.notify(Notification{Kind: NoteDeliveryError, Message: "report delivery failed", Err: err})
		})

		a.state = StateConfigured
		a.log.Info("agent configured", zap.String("endpoint", cfg.Endpoint))
		return nil
	})
}

// RegisterDetector adds an extra integrity detector. Takes effect at the
// next Start.
func (a *Agent) RegisterDetector(d integrity.Detector) {
	if d == nil {
		return
	}
	a.mu.Lock()
	a.detectors = append(a.detectors, d)
	a.mu.Unlock()
}

// Start wires the coordinators and begins monitoring and reporting.
// Requires a successful Configure (or a previous Stop); re-entry while
// running is a no-op.
func (a *Agent) Start() error {
	return a.guard("start", func() error {
		a.mu.Lock()
		defer a.mu.Unlock()

		switch a.state {
		case StateRunning:
			return nil
		case StateConfigured, StateStopped:
		default:
			a.notify(Notification{Kind: NoteConfigError, Message: "start requires configure", Err: ErrNotConfigured})
			return ErrNotConfigured
		}

		a.buildCoordinatorsLocked()
		if a.cfg.EnableReporting {
			a.reporter.StartFlushing()
		}
		for _, c := range a.coords {
			c.StartMonitoring()
		}
		a.state = StateRunning
		a.log.Info("agent running",
			zap.Bool("network", a.cfg.EnableNetworkMonitoring),
			zap.Bool("integrity", a.cfg.EnableIntegrityMonitoring),
			zap.Bool("reporting", a.cfg.EnableReporting))
		a.notify(Notification{Kind: NoteLifecycle, Message: "agent started"})
		return nil
	})
}

// buildCoordinatorsLocked assembles the enabled monitoring modules from
// the validated configuration. Caller holds a.mu.
func (a *Agent) buildCoordinatorsLocked() {
	a.coords = make(map[Capability]monitor.Coordinator)
	sink := a.dispatch

	if a.cfg.EnableNetworkMonitoring {
		a.coords[CapabilityNetwork] = monitor.NewNetworkCoordinator(monitor.NetworkConfig{
			Observer:   a.observer,
			Baseline:   a.baseline,
			Engine:     a.engine,
			Classifier: scoring.DefaultClassifierConfig(),
			Sink:       sink,
			TokenFunc:  a.tokens.Token,
			OSVersion:  a.osVersion,
		}, a.log, a.met)
	}
	if a.cfg.EnableIntegrityMonitoring {
		detectors := []integrity.Detector{
			integrity.NewJailbreakDetector(),
			integrity.NewDebuggerDetector(integrity.DebuggerConfig{}),
			integrity.NewRepackageDetector(a.repack),
		}
		detectors = append(detectors, a.detectors...)
		a.coords[CapabilityIntegrity] = monitor.NewRuntimeCoordinator(monitor.RuntimeConfig{
			Detectors:   detectors,
			IntervalMin: a.cfg.ScanIntervalMin,
			IntervalMax: a.cfg.ScanIntervalMax,
			Sink:        sink,
			TokenFunc:   a.tokens.Token,
			OSVersion:   a.osVersion,
		}, a.log, a.met)
	}
}

// Stop halts monitoring, drains the reporter with a final forced flush and
// persists the baseline. Stop before any Start is a no-op.
func (a *Agent) Stop() error {
	return a.guard("stop", func() error {
		a.mu.Lock()
		if a.state != StateRunning {
			a.mu.Unlock()
			return nil
		}
		coords := a.coords
		a.mu.Unlock()

		for _, c := range coords {
			c.StopMonitoring()
		}
		a.reporter.StopFlushing()
		a.baseline.Persist()

		a.mu.Lock()
		a.state = StateStopped
		a.mu.Unlock()
		a.log.Info("agent stopped")
		a.notify(Notification{Kind: NoteLifecycle, Message: "agent stopped"})
		return nil
	})
}

// dispatch fans one threat event out: into the reporter queue and to the
// host's event stream. The stream push never blocks detection.
func (a *Agent) dispatch(ev event.ThreatEvent) {
	if a.cfg.EnableReporting {
		a.reporter.Enqueue(ev)
	}
	select {
	case a.events <- ev:
	default:
		a.log.Warn("host event stream full, event not surfaced", zap.String("threat_id", ev.ID))
	}
}

// notify pushes a notification without ever blocking internal paths.
func (a *Agent) notify(n Notification) {
	select {
	case a.notes <- n:
	default:
	}
}

// guard is the catch-all boundary around every public entry point: a panic
// anywhere inside becomes a logged error plus a notification, never an
// unwound stack in host code.
func (a *Agent) guard(op string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("agent: %s failed: %v", op, rec)
			a.log.Error("internal failure contained", zap.String("op", op), zap.Any("panic", rec))
			a.mu.Lock()
			a.state = StateError
			a.mu.Unlock()
			a.notify(Notification{Kind: NoteInternalError, Message: "internal failure in " + op, Err: err})
		}
	}()
	return fn()
}

// readOSVersion best-efforts the platform version string for event
// metadata; failure degrades to "unknown".
func readOSVersion() string {
	info, err := host.Info()
	if err != nil || info == nil {
		return "unknown"
	}
	if info.PlatformVersion == "" {
		return info.Platform
	}
	return info.Platform + " " + info.PlatformVersion
}
