package monitor

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/imanology1/securus-agent/pkg/event"
	"github.com/imanology1/securus-agent/pkg/integrity"
	"github.com/imanology1/securus-agent/pkg/logging"
	"github.com/imanology1/securus-agent/pkg/metrics"
)

// RuntimeConfig wires the runtime integrity coordinator.
type RuntimeConfig struct {
	Detectors   []integrity.Detector
	IntervalMin time.Duration
	IntervalMax time.Duration
	Sink        Sink
	TokenFunc   func() string
	OSVersion   string
	DedupWindow time.Duration
}

// RuntimeCoordinator scans the integrity detectors on a randomized
// schedule. The jitter keeps an attacker from predicting the scan window
// and suspending tampering around it.
type RuntimeCoordinator struct {
	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup

	cfg   RuntimeConfig
	rng   *rand.Rand
	dedup *expirable.LRU[string, struct{}]
	log   *logging.Logger
	met   *metrics.Metrics
}

// NewRuntimeCoordinator builds the coordinator; interval bounds default to
// 5–15 minutes.
func NewRuntimeCoordinator(cfg RuntimeConfig, log *logging.Logger, met *metrics.Metrics) *RuntimeCoordinator {
	if log == nil {
		log = logging.Nop()
	}
	if met == nil {
		met = metrics.New(nil)
	}
	if cfg.IntervalMin == 0 {
		cfg.IntervalMin = 5 * time.Minute
	}
	if cfg.IntervalMax < cfg.IntervalMin {
		cfg.IntervalMax = 3 * cfg.IntervalMin
	}
	if cfg.DedupWindow == 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	return &RuntimeCoordinator{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		dedup: expirable.NewLRU[string, struct{}](dedupCacheSize, nil, cfg.DedupWindow),
		log:   log.Named("runtime"),
		met:   met,
	}
}

// StartMonitoring runs an immediate scan, then reschedules at a random
// interval within the configured bounds. Idempotent.
func (c *RuntimeCoordinator) StartMonitoring() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.loop(c.stop)
	c.log.Info("integrity monitoring started",
		zap.Duration("interval_min", c.cfg.IntervalMin),
		zap.Duration("interval_max", c.cfg.IntervalMax))
}

// StopMonitoring cancels the pending scan timer. A scan already underway
// completes and its findings are still delivered. Idempotent.
func (c *RuntimeCoordinator) StopMonitoring() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.mu.Unlock()
	c.wg.Wait()
	c.log.Info("integrity monitoring stopped")
}

func (c *RuntimeCoordinator) loop(stop <-chan struct{}) {
	defer c.wg.Done()
	c.scanOnce()
	timer := time.NewTimer(c.nextInterval())
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			c.scanOnce()
			timer.Reset(c.nextInterval())
		}
	}
}

// nextInterval draws uniformly from [min, max].
func (c *RuntimeCoordinator) nextInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	span := c.cfg.IntervalMax - c.cfg.IntervalMin
	if span <= 0 {
		return c.cfg.IntervalMin
	}
	return c.cfg.IntervalMin + time.Duration(c.rng.Int63n(int64(span)))
}

// scanOnce runs every registered detector. A panicking check must not kill
// the scan loop.
func (c *RuntimeCoordinator) scanOnce() {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("integrity scan panicked", zap.Any("panic", rec))
		}
	}()

	for _, d := range c.cfg.Detectors {
		res := d.Scan()
		if !res.Flagged {
			continue
		}
		c.emit(d, res)
	}
	c.met.IntegrityScans.Inc()
}

func (c *RuntimeCoordinator) emit(d integrity.Detector, res integrity.Result) {
	dedupKey := string(d.ThreatType()) + ":" + strings.Join(res.FailedChecks, ",")
	if _, seen := c.dedup.Get(dedupKey); seen {
		c.met.ThreatsDeduped.Inc()
		return
	}
	c.dedup.Add(dedupKey, struct{}{})

	ev := event.NewThreatEvent(d.ThreatType(), severityForTier(res.Confidence), map[string]string{
		"detector":      d.Name(),
		"failed_checks": strings.Join(res.FailedChecks, ","),
		"failed_count":  fmt.Sprintf("%d", len(res.FailedChecks)),
		"total_checks":  fmt.Sprintf("%d", res.TotalChecks),
		"confidence":    res.Confidence.String(),
	}, c.cfg.TokenFunc(), c.cfg.OSVersion)

	c.met.ThreatsDetected.WithLabelValues(string(ev.Type)).Inc()
	c.log.Warn("integrity violation detected",
		zap.String("threat_id", ev.ID),
		zap.String("detector", d.Name()),
		zap.String("confidence", res.Confidence.String()),
		zap.Strings("failed_checks", res.FailedChecks))
	if c.cfg.Sink != nil {
		c.cfg.Sink(ev)
	}
}

func severityForTier(t integrity.Tier) event.Severity {
	switch t {
	case integrity.TierHigh:
		return event.SeverityCritical
	case integrity.TierMedium:
		return event.SeverityHigh
	case integrity.TierLow:
		return event.SeverityMedium
	default:
		return event.SeverityLow
	}
}
