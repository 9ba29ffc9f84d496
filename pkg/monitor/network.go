package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/imanology1/securus-agent/pkg/baseline"
	"github.com/imanology1/securus-agent/pkg/event"
	"github.com/imanology1/securus-agent/pkg/logging"
	"github.com/imanology1/securus-agent/pkg/metrics"
	"github.com/imanology1/securus-agent/pkg/scoring"
)

// DefaultDedupWindow suppresses identical findings emitted within this
// span; repeated anomalies against one destination add volume, not signal.
const DefaultDedupWindow = 10 * time.Minute

const dedupCacheSize = 512

// NetworkConfig wires the network anomaly coordinator.
type NetworkConfig struct {
	Observer    TrafficObserver
	Baseline    *baseline.Manager
	Engine      *scoring.Engine
	Classifier  scoring.ClassifierConfig
	Sink        Sink
	TokenFunc   func() string
	OSVersion   string
	DedupWindow time.Duration
}

// NetworkCoordinator routes observed traffic: into the baseline while it
// learns, through the scoring engine and risk table once it protects.
type NetworkCoordinator struct {
	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup

	cfg   NetworkConfig
	dedup *expirable.LRU[string, struct{}]
	log   *logging.Logger
	met   *metrics.Metrics
}

// NewNetworkCoordinator builds the coordinator.
func NewNetworkCoordinator(cfg NetworkConfig, log *logging.Logger, met *metrics.Metrics) *NetworkCoordinator {
	if log == nil {
		log = logging.Nop()
	}
	if met == nil {
		met = metrics.New(nil)
	}
	if cfg.DedupWindow == 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	return &NetworkCoordinator{
		cfg:   cfg,
		dedup: expirable.NewLRU[string, struct{}](dedupCacheSize, nil, cfg.DedupWindow),
		log:   log.Named("netmon"),
		met:   met,
	}
}

// StartMonitoring subscribes to the traffic observer. Idempotent.
func (c *NetworkCoordinator) StartMonitoring() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.consume(c.stop)
	c.log.Info("network monitoring started")
}

// StopMonitoring detaches from the observer. Idempotent.
func (c *NetworkCoordinator) StopMonitoring() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.mu.Unlock()
	c.wg.Wait()
	c.log.Info("network monitoring stopped")
}

func (c *NetworkCoordinator) consume(stop <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-stop:
			return
		case e, ok := <-c.cfg.Observer.Events():
			if !ok {
				return
			}
			c.handle(e)
		}
	}
}

// handle processes one sample end to end. Any panic out of a scoring or
// classification path is absorbed here so a single bad sample cannot take
// the consumer goroutine down.
func (c *NetworkCoordinator) handle(e event.NetworkEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("sample handling panicked", zap.Any("panic", rec))
		}
	}()

	c.met.EventsObserved.Inc()
	if c.cfg.Baseline.Phase() == baseline.PhaseLearning {
		if c.cfg.Baseline.RecordEvent(e) {
			c.met.EventsRecorded.Inc()
			return
		}
		// Not recorded: the learning window just elapsed and the manager
		// froze. Fall through and score this event against the baseline.
	}

	known := c.cfg.Baseline.IsKnown(e)
	res := c.cfg.Engine.Score(e.FeatureVector())
	c.met.AnomaliesScored.Inc()
	risk := c.cfg.Classifier.Classify(known, res.Value)

	if !risk.Reportable() {
		c.log.Debug("sample classified",
			zap.String("risk", risk.String()),
			zap.Float64("score", res.Value),
			zap.Bool("known_destination", known))
		return
	}

	dedupKey := string(event.ThreatNetworkAnomaly) + ":" + e.DomainHash
	if _, seen := c.dedup.Get(dedupKey); seen {
		c.met.ThreatsDeduped.Inc()
		return
	}
	c.dedup.Add(dedupKey, struct{}{})

	sev := event.SeverityHigh
	if risk == scoring.RiskCritical {
		sev = event.SeverityCritical
	}
	ev := event.NewThreatEvent(event.ThreatNetworkAnomaly, sev, map[string]string{
		"domain_hash":       e.DomainHash,
		"port":              fmt.Sprintf("%d", e.Port),
		"protocol":          string(e.Protocol),
		"anomaly_score":     fmt.Sprintf("%.3f", res.Value),
		"scoring_engine":    string(res.Engine),
		"risk":              risk.String(),
		"known_destination": fmt.Sprintf("%t", known),
	}, c.cfg.TokenFunc(), c.cfg.OSVersion)

	c.met.ThreatsDetected.WithLabelValues(string(ev.Type)).Inc()
	c.log.Warn("network anomaly detected",
		zap.String("threat_id", ev.ID),
		zap.String("risk", risk.String()),
		zap.Float64("score", res.Value))
	if c.cfg.Sink != nil {
		c.cfg.Sink(ev)
	}
}
