package logship

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultSendAttempts   = 1
	defaultRetryDelay     = time.Second
	maxDrainBytes         = 4 << 10
)

// Sender delivers one batch of serialized log records to the sink.
// A nil return is the Success verdict, non-nil is Failure; the pipeline
// never inspects the error beyond that.
type Sender interface {
	// Send delivers the payloads as one batch. An empty batch succeeds
	// without any network activity.
	Send(ctx context.Context, payloads [][]byte) error
	// Close releases transport resources. Idempotent.
	Close() error
}

// SenderConfig defines HTTPSender behavior.
type SenderConfig struct {
	Timeout time.Duration
	// Headers are merged into every request. The required Content-Type
	// header wins on conflict.
	Headers  map[string]string
	Username string
	Password string
	// Attempts is the number of in-send delivery attempts. Values above 1
	// retry 5xx responses and transport errors with increasing backoff;
	// everything else is left to the pipeline's next trigger.
	Attempts   int
	RetryDelay time.Duration
	// Client, when set, is used as-is: it is never rebuilt on transport
	// errors and never closed.
	Client *http.Client
	Logger Logger
}

func (c SenderConfig) withDefaults() SenderConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultRequestTimeout
	}
	if c.Attempts <= 0 {
		c.Attempts = defaultSendAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}

	return c
}

// SenderOption configures an HTTPSender.
type SenderOption func(*SenderConfig)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) SenderOption {
	return func(c *SenderConfig) {
		c.Timeout = timeout
	}
}

// WithHeaders sets additional static request headers.
func WithHeaders(headers map[string]string) SenderOption {
	return func(c *SenderConfig) {
		c.Headers = headers
	}
}

// WithBasicAuth enables HTTP Basic Authentication.
func WithBasicAuth(username, password string) SenderOption {
	return func(c *SenderConfig) {
		c.Username = username
		c.Password = password
	}
}

// WithSendRetry enables bounded in-send retries for 5xx responses and
// transport errors, sleeping attempt*delay between attempts.
func WithSendRetry(attempts int, delay time.Duration) SenderOption {
	return func(c *SenderConfig) {
		c.Attempts = attempts
		c.RetryDelay = delay
	}
}

// WithHTTPClient supplies a caller-owned HTTP client.
func WithHTTPClient(client *http.Client) SenderOption {
	return func(c *SenderConfig) {
		c.Client = client
	}
}

// WithSenderLogger sets the sender's operational logger.
func WithSenderLogger(logger Logger) SenderOption {
	return func(c *SenderConfig) {
		c.Logger = logger
	}
}

// HTTPSender posts newline-delimited JSON batches to a sink URL. The whole
// URL is the POST target; no path is appended.
//
// The sender owns its HTTP client unless one is supplied via WithHTTPClient.
// After a transport-level error an owned client is discarded and lazily
// rebuilt, so a connection wedged by a partial write cannot poison later
// sends.
type HTTPSender struct {
	url string
	cfg SenderConfig

	mu     sync.Mutex
	client *http.Client
	owns   bool
}

var _ Sender = (*HTTPSender)(nil)

// NewHTTPSender creates a sender for the given sink URL. A trailing slash
// on the URL is stripped.
func NewHTTPSender(url string, opts ...SenderOption) *HTTPSender {
	var cfg SenderConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	s := &HTTPSender{
		url: strings.TrimRight(url, "/"),
		cfg: cfg,
	}
	if cfg.Client != nil {
		s.client = cfg.Client
	} else {
		s.owns = true
	}

	return s
}

// Send implements Sender. Payloads are joined with '\n' into one
// application/x-ndjson POST body.
func (s *HTTPSender) Send(ctx context.Context, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}

	body := bytes.Join(payloads, []byte{'\n'})

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		if attempt > 1 {
			s.cfg.Logger.Debug("logship: retrying batch send", "attempt", attempt, "err", lastErr)
			if err := sleepCtx(ctx, time.Duration(attempt-1)*s.cfg.RetryDelay); err != nil {
				return err
			}
		}

		status, err := s.post(ctx, body)
		switch {
		case err != nil:
			lastErr = err
		case status < http.StatusMultipleChoices:
			return nil
		case status >= http.StatusInternalServerError:
			lastErr = fmt.Errorf("logship: sink returned status %d", status)
		default:
			// 3xx/4xx will not improve on retry.
			return fmt.Errorf("logship: sink returned status %d", status)
		}
	}

	return lastErr
}

func (s *HTTPSender) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("logship: build request: %w", err)
	}

	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if s.cfg.Username != "" && s.cfg.Password != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}

	resp, err := s.httpClient().Do(req)
	if err != nil {
		s.resetClient()

		return 0, fmt.Errorf("logship: post batch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrainBytes)

	return resp.StatusCode, nil
}

// httpClient returns the current client, building a fresh owned one after
// a reset.
func (s *HTTPSender) httpClient() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		s.client = &http.Client{Timeout: s.cfg.Timeout}
	}

	return s.client
}

// resetClient discards an owned client after a transport error so the next
// attempt starts on a clean connection. Caller-supplied clients are kept.
func (s *HTTPSender) resetClient() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.owns || s.client == nil {
		return
	}
	s.client.CloseIdleConnections()
	s.client = nil
}

// Close implements Sender. It releases idle connections of an owned client.
func (s *HTTPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owns && s.client != nil {
		s.client.CloseIdleConnections()
		s.client = nil
	}

	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
