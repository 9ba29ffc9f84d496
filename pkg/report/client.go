// Package report delivers threat events to the remote collector: a bounded
// FIFO queue drained in batches over a hardened HTTPS client with
// exponential-backoff retries.
package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imanology1/securus-agent/pkg/event"
	"github.com/imanology1/securus-agent/pkg/logging"
)

const batchPath = "/v1/report/batch"

// ErrRejected marks a 4xx collector response: an application-level
// rejection that must not be retried.
var ErrRejected = errors.New("report: batch rejected by collector")

// ClientConfig configures the collector client; zero values take defaults.
type ClientConfig struct {
	Endpoint string
	APIKey   string

	RequestTimeout time.Duration // per-attempt bound, default 10s
	MaxAttempts    int           // total attempts per batch, default 3
	InitialBackoff time.Duration // first retry delay, default 1s
}

func (c *ClientConfig) applyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
}

// Client ships report batches to the collector.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  *logging.Logger
}

// NewClient builds the client with a connection-pooled transport pinned to
// modern TLS.
func NewClient(cfg ClientConfig, log *logging.Logger) *Client {
	cfg.applyDefaults()
	if log == nil {
		log = logging.Nop()
	}
	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxConnsPerHost:       4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS13,
		},
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		log: log.Named("collector"),
	}
}

// SendBatch delivers a batch, retrying transport errors, timeouts and 5xx
// responses with doubling delays. A 4xx response returns ErrRejected
// immediately; the caller drops the batch.
func (c *Client) SendBatch(ctx context.Context, batch []event.ReportPayload) error {
	if len(batch) == 0 {
		return nil
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("report: encode batch: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	attempts := c.cfg.MaxAttempts
	op := func() error {
		return c.post(ctx, body, len(batch))
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx))
}

func (c *Client) post(ctx context.Context, body []byte, count int) error {
	corrID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+batchPath, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("report: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("X-Correlation-ID", corrID)
	req.Header.Set("User-Agent", "securus-agent/"+event.Version)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("collector request failed", zap.String("correlation_id", corrID), zap.Error(err))
		return fmt.Errorf("report: send: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.log.Debug("batch accepted",
			zap.String("correlation_id", corrID),
			zap.Int("events", count))
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.log.Warn("batch rejected",
			zap.String("correlation_id", corrID),
			zap.Int("status", resp.StatusCode))
		return backoff.Permanent(fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode))
	default:
		return fmt.Errorf("report: collector status %d", resp.StatusCode)
	}
}
