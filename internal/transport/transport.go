// Package transport ships flushed batches to the backend: rate-limited,
// retried with exponential backoff, and explicit about why a batch was given
// up on.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/FranksOps/searchsift/internal/capture"
	"github.com/FranksOps/searchsift/internal/metrics"
	"github.com/FranksOps/searchsift/pkg/httpclient"
	"github.com/FranksOps/searchsift/pkg/ratelimit"
)

// Delivery taxonomy. Callers route on these with errors.Is.
var (
	// ErrNotConfigured means no credential is set. The batch was not
	// attempted and should be requeued at the front of the delivery queue.
	ErrNotConfigured = errors.New("credential not configured")

	// ErrAuthRejected is terminal: the backend refused the credential. The
	// batch is discarded and retrying will not help; the credential needs
	// checking.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrDeliveryFailed means the retry budget is exhausted and the batch
	// was discarded.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// Status is the short user-visible indicator state. Detail never carries raw
// error text, only a state word and a count.
type Status struct {
	State string // ok, sending, retrying, not_configured, auth_rejected, failed
	Count int    // events in the batch the state refers to
}

const (
	DefaultMinRequestInterval = time.Second
	DefaultBaseDelay          = time.Second
	DefaultMaxRetries         = 5
)

// Config for a Sender. Credential is a func so a config hot-reload takes
// effect on the next send without restarting the process.
type Config struct {
	BaseURL            string
	Credential         func() string
	MinRequestInterval time.Duration
	BaseDelay          time.Duration
	MaxRetries         int
	Client             *httpclient.Client
	OnStatus           func(Status)
}

// Sender delivers batches to POST {BaseURL}/ingest. One Sender is shared by
// the whole process so its limiter spaces all attempts, not per batch.
type Sender struct {
	cfg     Config
	client  *httpclient.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// New creates a Sender. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Sender {
	if cfg.MinRequestInterval <= 0 {
		cfg.MinRequestInterval = DefaultMinRequestInterval
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Client == nil {
		cfg.Client = httpclient.New(httpclient.Config{Timeout: 15 * time.Second})
	}
	if cfg.Credential == nil {
		cfg.Credential = func() string { return "" }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		cfg:     cfg,
		client:  cfg.Client,
		limiter: ratelimit.New(cfg.MinRequestInterval, 0),
		logger:  logger,
	}
}

type ingestBody struct {
	Events []capture.Event `json:"events"`
}

// Send delivers one batch. The batch is owned by the Sender for the duration
// of the call. On ErrNotConfigured the caller must requeue the batch at the
// front of the queue; every other return means the Sender is done with it.
func (s *Sender) Send(ctx context.Context, batch []capture.Event) error {
	if len(batch) == 0 {
		return nil
	}

	if s.cfg.Credential() == "" {
		s.logger.Warn("no credential configured, returning batch to queue", "events", len(batch))
		s.status("not_configured", len(batch))
		metrics.BatchesSent.WithLabelValues("requeued").Inc()
		return ErrNotConfigured
	}

	body, err := json.Marshal(ingestBody{Events: batch})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	s.status("sending", len(batch))

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Delay before retry k is baseDelay * 2^(k-1).
			delay := s.cfg.BaseDelay << (attempt - 1)
			s.status("retrying", len(batch))
			metrics.SendRetries.Inc()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		// One shared gap between attempts process-wide, success or failure.
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		code, err := s.post(ctx, body)
		switch {
		case err != nil:
			lastErr = err
			s.logger.Warn("ingest request failed", "attempt", attempt, "err", err)
		case code/100 == 2:
			s.status("ok", len(batch))
			metrics.BatchesSent.WithLabelValues("delivered").Inc()
			return nil
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			s.logger.Error("backend rejected credential", "status", code)
			s.status("auth_rejected", len(batch))
			metrics.BatchesSent.WithLabelValues("auth_rejected").Inc()
			return fmt.Errorf("status %d: %w", code, ErrAuthRejected)
		default:
			lastErr = fmt.Errorf("status %d", code)
			s.logger.Warn("ingest rejected", "attempt", attempt, "status", code)
		}
	}

	s.logger.Error("retry budget exhausted, dropping batch", "events", len(batch))
	s.status("failed", len(batch))
	metrics.BatchesSent.WithLabelValues("failed").Inc()
	return fmt.Errorf("%w after %d retries: %v", ErrDeliveryFailed, s.cfg.MaxRetries, lastErr)
}

func (s *Sender) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/ingest", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.cfg.Credential())

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (s *Sender) status(state string, count int) {
	if s.cfg.OnStatus != nil {
		s.cfg.OnStatus(Status{State: state, Count: count})
	}
}

// Health probes GET {BaseURL}/health and returns the reported version.
func (s *Sender) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/health", nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("health status %d", resp.StatusCode)
	}
	var out struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode health: %w", err)
	}
	return out.Version, nil
}
