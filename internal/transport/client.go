// Package transport implements the resilient request client used for all
// catalog API traffic. One logical Send is delivered over one of two
// channels: the bridge channel is preferred, and a capability-absence
// failure there switches the client to the standard channel for the rest of
// its life. Transient failures are retried with exponential backoff.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/metrics"
)

const (
	headerClient        = "X-Upkk-Client"
	headerClientVersion = "X-Upkk-Client-Version"
	headerRequestID     = "X-Request-Id"

	clientName           = "upkkcs2-browser"
	defaultClientVersion = "dev"

	maxAttempts    = 3
	baseRetryDelay = 1000 * time.Millisecond
)

// Config holds the per-instance request configuration. It is owned by the
// client and swapped atomically through Reconfigure; nothing reads a global.
type Config struct {
	BaseURL       string
	Credential    string
	ClientVersion string
}

// Dependencies allow test overrides for channels, metrics, clock, and logging.
type Dependencies struct {
	BridgeChannel   Channel
	StandardChannel Channel
	Metrics         metrics.TransportRecorder
	Logger          *log.Logger
	// Sleep waits between retry attempts. Overridden in tests to observe
	// the exact backoff schedule.
	Sleep func(ctx context.Context, d time.Duration) error
	// NewRequestID generates the X-Request-Id value.
	NewRequestID func() string
	// OnFallback is invoked once, when the client abandons the bridge
	// channel for the remainder of its life.
	OnFallback func(from, to string)
}

// Request is one logical API request.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Header carries extra request headers, e.g. If-None-Match for
	// conditional fetches.
	Header http.Header
	// Body is JSON-encoded when non-nil.
	Body any
}

// Response carries a delivered response. Statuses below 400 are returned
// here (including 304 for conditional requests); 4xx and 5xx become errors.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// DecodeJSON unmarshals the response body.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Client sends API requests with channel fallback and bounded retry.
type Client struct {
	mu  sync.RWMutex
	cfg Config

	bridge   Channel
	standard Channel
	fellBack atomic.Bool

	metrics      metrics.TransportRecorder
	logger       *log.Logger
	sleep        func(ctx context.Context, d time.Duration) error
	newRequestID func() string
	onFallback   func(from, to string)
}

// NewClient builds a transport client from configuration and dependencies.
func NewClient(cfg Config, deps Dependencies) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = defaultClientVersion
	}
	standard := deps.StandardChannel
	if standard == nil {
		standard = NewStandardChannel()
	}
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.NoopTransportRecorder{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	newRequestID := deps.NewRequestID
	if newRequestID == nil {
		newRequestID = uuid.NewString
	}

	return &Client{
		cfg:          cfg,
		bridge:       deps.BridgeChannel,
		standard:     standard,
		metrics:      rec,
		logger:       logger,
		sleep:        sleep,
		newRequestID: newRequestID,
		onFallback:   deps.OnFallback,
	}, nil
}

// Reconfigure replaces the request configuration for subsequent sends.
func (c *Client) Reconfigure(cfg Config) error {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return fmt.Errorf("base URL is required")
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = defaultClientVersion
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	return nil
}

// SetCredential swaps only the bearer credential, keeping the rest of the
// configuration. An empty credential clears the Authorization header.
func (c *Client) SetCredential(credential string) {
	c.mu.Lock()
	c.cfg.Credential = credential
	c.mu.Unlock()
}

// ActiveChannelName reports which channel the next send would use.
func (c *Client) ActiveChannelName() string {
	return c.activeChannel().Name()
}

func (c *Client) config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Send delivers the request, retrying retryable failures up to three
// attempts with delays of 1s then 2s. After the final attempt the last
// error is returned without further delay.
func (c *Client) Send(ctx context.Context, r Request) (*Response, error) {
	c.metrics.IncRequests()

	var payload []byte
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.attempt(ctx, r, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == maxAttempts-1 {
			break
		}
		delay := baseRetryDelay * (1 << attempt)
		if serr := c.sleep(ctx, delay); serr != nil {
			c.metrics.IncRequestFailures()
			return nil, serr
		}
		c.metrics.IncRetries()
		c.logger.Printf("transport: retrying %s %s after %v: %v", r.Method, r.Path, delay, err)
	}
	c.metrics.IncRequestFailures()
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, r Request, payload []byte) (*Response, error) {
	ch := c.activeChannel()
	resp, err := c.deliver(ctx, ch, r, payload)
	if err != nil && isCapability(err) {
		c.noteFallback(ch)
		resp, err = c.deliver(ctx, c.standard, r, payload)
	}
	return resp, err
}

func (c *Client) activeChannel() Channel {
	if c.bridge == nil || c.fellBack.Load() {
		return c.standard
	}
	return c.bridge
}

func (c *Client) noteFallback(from Channel) {
	if c.fellBack.CompareAndSwap(false, true) {
		c.metrics.IncFallbacks()
		c.logger.Printf("transport: %s channel unavailable, using standard channel from now on", from.Name())
		if c.onFallback != nil {
			c.onFallback(from.Name(), c.standard.Name())
		}
	}
}

func (c *Client) deliver(ctx context.Context, ch Channel, r Request, payload []byte) (*Response, error) {
	req, err := c.buildRequest(ctx, r, payload)
	if err != nil {
		return nil, err
	}

	resp, err := ch.Do(req)
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			return nil, te
		}
		return nil, &Error{Kind: KindNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "read response", Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: KindServer, Status: resp.StatusCode, Message: resp.Status}
	case resp.StatusCode >= 400:
		return nil, &Error{Kind: KindClient, Status: resp.StatusCode, Message: clientErrorMessage(resp.Status, body)}
	default:
		return &Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
	}
}

func (c *Client) buildRequest(ctx context.Context, r Request, payload []byte) (*http.Request, error) {
	cfg := c.config()
	endpoint := joinURL(cfg.BaseURL, r.Path)
	if len(r.Query) > 0 {
		endpoint += "?" + r.Query.Encode()
	}

	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "upkk-core/"+cfg.ClientVersion)
	req.Header.Set(headerClient, clientName)
	req.Header.Set(headerClientVersion, cfg.ClientVersion)
	req.Header.Set(headerRequestID, c.newRequestID())
	if cfg.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Credential)
	}
	for key, values := range r.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return req, nil
}

// clientErrorMessage prefers the API's own error text over the bare status line.
func clientErrorMessage(status string, body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return status
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

func joinURL(base, path string) string {
	if base == "" {
		return path
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
