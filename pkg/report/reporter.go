package report

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/imanology1/securus-agent/pkg/event"
	"github.com/imanology1/securus-agent/pkg/logging"
	"github.com/imanology1/securus-agent/pkg/metrics"
)

// Config tunes the reporter; zero values take defaults.
type Config struct {
	MaxQueueSize     int           // default 200
	BatchSize        int           // flush trigger threshold, default 10
	FlushInterval    time.Duration // periodic flush timer, default 30s
	MinFlushInterval time.Duration // rate limit between flushes, default 5s
}

func (c *Config) applyDefaults() {
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = 200
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 30 * time.Second
	}
	if c.MinFlushInterval == 0 {
		c.MinFlushInterval = 5 * time.Second
	}
}

// Sender delivers one batch; *Client is the production implementation.
type Sender interface {
	SendBatch(ctx context.Context, batch []event.ReportPayload) error
}

// Reporter batches, rate-limits and retries threat event delivery. The
// queue is bounded: past the cap the oldest entries are dropped first.
// All queue mutations are serialized and at most one flush is ever in
// flight.
type Reporter struct {
	mu         sync.Mutex
	flushDone  *sync.Cond
	queue      []event.ThreatEvent
	isFlushing bool
	running    bool
	stop       chan struct{}
	wg         sync.WaitGroup

	cfg     Config
	sender  Sender
	limiter *rate.Limiter
	log     *logging.Logger
	met     *metrics.Metrics

	// onError receives only exhausted-retry delivery failures.
	onError func(error)
}

// NewReporter builds a reporter. onError may be nil.
func NewReporter(sender Sender, cfg Config, log *logging.Logger, met *metrics.Metrics, onError func(error)) *Reporter {
	cfg.applyDefaults()
	if log == nil {
		log = logging.Nop()
	}
	if met == nil {
		met = metrics.New(nil)
	}
	r := &Reporter{
		cfg:     cfg,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(cfg.MinFlushInterval), 1),
		log:     log.Named("reporter"),
		met:     met,
		onError: onError,
	}
	r.flushDone = sync.NewCond(&r.mu)
	return r
}

// Enqueue appends an event, evicting the oldest entries when the bound is
// exceeded, and kicks an asynchronous flush once the batch threshold is
// reached.
func (r *Reporter) Enqueue(ev event.ThreatEvent) {
	r.mu.Lock()
	r.queue = append(r.queue, ev)
	if over := len(r.queue) - r.cfg.MaxQueueSize; over > 0 {
		r.queue = append([]event.ThreatEvent(nil), r.queue[over:]...)
		r.met.EventsDropped.Add(float64(over))
		r.log.Warn("queue over bound, oldest events dropped", zap.Int("dropped", over))
	}
	depth := len(r.queue)
	r.met.QueueDepth.Set(float64(depth))
	shouldFlush := depth >= r.cfg.BatchSize
	r.mu.Unlock()

	if shouldFlush {
		go r.flush(context.Background(), false)
	}
}

// QueueDepth returns the number of events waiting for delivery.
func (r *Reporter) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// StartFlushing begins the periodic flush timer. Idempotent.
func (r *Reporter) StartFlushing() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop()
}

// StopFlushing cancels the flush timer and forces a final drain. In-flight
// deliveries finish naturally and their outcome is still honored; no new
// work is scheduled afterwards. Idempotent.
func (r *Reporter) StopFlushing() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	r.mu.Unlock()

	r.wg.Wait()
	r.FlushNow()
}

func (r *Reporter) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.flush(context.Background(), false)
		case <-r.stop:
			return
		}
	}
}

// FlushNow forces a synchronous drain, bypassing the rate limit: it waits
// out any flush already in flight, then delivers batches until the queue is
// empty or a delivery fails. Used at shutdown.
func (r *Reporter) FlushNow() {
	for {
		delivered, empty := r.flush(context.Background(), true)
		if empty || !delivered {
			return
		}
	}
}

// flush drains the queue into one batch and attempts delivery. The
// isFlushing guard keeps at most one flush in flight: a concurrent
// unforced flush backs off, a forced one blocks until the in-flight flush
// finishes so events it did not see still get drained. A failed batch is
// re-inserted at the front and the queue trimmed from the tail back to the
// bound, so delivery stays at-least-once without unbounded growth. It
// reports whether the batch was handed off and whether the queue is now
// empty.
func (r *Reporter) flush(ctx context.Context, force bool) (delivered, empty bool) {
	r.mu.Lock()
	if force {
		for r.isFlushing {
			r.flushDone.Wait()
		}
	} else if r.isFlushing {
		r.mu.Unlock()
		return false, false
	}
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return false, true
	}
	if !force && !r.limiter.Allow() {
		r.mu.Unlock()
		return false, false
	}
	r.isFlushing = true
	batch := r.queue
	r.queue = nil
	r.met.QueueDepth.Set(0)
	r.mu.Unlock()

	payloads := make([]event.ReportPayload, len(batch))
	for i, ev := range batch {
		payloads[i] = ev.Payload()
	}

	start := time.Now()
	err := r.sender.SendBatch(ctx, payloads)
	r.met.FlushDuration.Observe(time.Since(start).Seconds())

	r.mu.Lock()
	r.isFlushing = false
	r.flushDone.Broadcast()
	switch {
	case err == nil:
		delivered = true
		r.met.ReportsSent.Add(float64(len(batch)))
		r.log.Debug("batch delivered", zap.Int("events", len(batch)))
	case errors.Is(err, ErrRejected):
		// Application-level rejection: retrying would repeat it forever.
		// The batch is gone either way, so the caller may keep draining.
		delivered = true
		r.met.ReportFailures.Inc()
		r.log.Warn("batch dropped after rejection", zap.Int("events", len(batch)), zap.Error(err))
	default:
		r.met.ReportFailures.Inc()
		r.queue = append(batch, r.queue...)
		if over := len(r.queue) - r.cfg.MaxQueueSize; over > 0 {
			r.queue = r.queue[:r.cfg.MaxQueueSize]
			r.met.EventsDropped.Add(float64(over))
		}
		r.log.Warn("batch requeued after delivery failure",
			zap.Int("events", len(batch)), zap.Error(err))
		if r.onError != nil {
			cb := r.onError
			go cb(err)
		}
	}
	empty = len(r.queue) == 0
	r.met.QueueDepth.Set(float64(len(r.queue)))
	r.mu.Unlock()
	return delivered, empty
}
