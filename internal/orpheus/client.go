package orpheus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

// DefaultMaxTokens leaves headroom over the server default of 1200
// (about 15 seconds of audio).
const DefaultMaxTokens = 1800

const (
	doneMarker     = "[DONE]"
	dataPrefix     = "data:"
	maxLineSize    = 1 << 20
	maxErrorBody   = 512
	defaultTimeout = 5 * time.Minute
)

// Config describes the completions endpoint serving the Orpheus model.
type Config struct {
	// URL is the full completions endpoint, e.g. http://localhost:1234/v1/completions
	URL string

	Model             string
	MaxTokens         int
	Temperature       float64
	TopP              float64
	RepetitionPenalty float64

	// Extra fields are merged into every request body
	Extra map[string]interface{}

	// Timeout bounds a whole streaming request
	Timeout time.Duration

	// RequestsPerSecond limits request starts; zero means unlimited
	RequestsPerSecond float64
}

// Client streams speech tokens from the completions endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	events  *tts.Events
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithEvents reports transport and protocol problems on the event bus.
func WithEvents(events *tts.Events) ClientOption {
	return func(c *Client) {
		c.events = events
	}
}

// NewClient creates a token stream client.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.URL == "" {
		return nil, tts.ErrNoServer
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the configured endpoint.
func (c *Client) URL() string {
	return c.cfg.URL
}

// Fingerprint identifies the request parameters that shape the audio.
func (c *Client) Fingerprint() string {
	// Map keys marshal in sorted order.
	extra, err := json.Marshal(c.cfg.Extra)
	if err != nil {
		extra = []byte(fmt.Sprint(c.cfg.Extra))
	}
	return fmt.Sprintf("%s|%s|%d|%g|%g|%g|%s", c.cfg.URL, c.cfg.Model, c.cfg.MaxTokens,
		c.cfg.Temperature, c.cfg.TopP, c.cfg.RepetitionPenalty, extra)
}

func (c *Client) body(prompt string, stream bool, maxTokens int) map[string]interface{} {
	body := make(map[string]interface{}, len(c.cfg.Extra)+8)
	maps.Copy(body, c.cfg.Extra)
	if c.cfg.Model != "" {
		body["model"] = c.cfg.Model
	}
	body["max_tokens"] = maxTokens
	if c.cfg.Temperature > 0 {
		body["temperature"] = c.cfg.Temperature
	}
	if c.cfg.TopP > 0 {
		body["top_p"] = c.cfg.TopP
	}
	if c.cfg.RepetitionPenalty > 0 {
		body["repeat_penalty"] = c.cfg.RepetitionPenalty
	}
	body["prompt"] = prompt
	body["stream"] = stream
	return body
}

func (c *Client) post(ctx context.Context, body map[string]interface{}) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, tts.NewTTSError(tts.ErrorCodeInvalidInput, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, tts.NewTTSError(tts.ErrorCodeInvalidInput, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, tts.NewTTSError(tts.ErrorCodeTransport, "orpheus request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, tts.NewTTSError(tts.ErrorCodeTransport,
			fmt.Sprintf("orpheus request failed: %d - %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil).
			WithContext("status", resp.StatusCode)
	}
	return resp, nil
}

type completionChunk struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// Stream requests speech for text in voice and calls fn with each token
// fragment. It returns when the server sends [DONE], the body ends, ctx is
// done or fn returns false. Transport failures are logged once and
// returned; malformed lines are logged and skipped.
func (c *Client) Stream(ctx context.Context, text, voice string, fn func(token string) bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return tts.ErrCanceled
	}

	resp, err := c.post(ctx, c.body(FormatPrompt(text, voice), true, c.cfg.MaxTokens))
	if err != nil {
		if ctx.Err() != nil {
			return tts.ErrCanceled
		}
		c.events.Logf(log.ErrorLevel, "%v", err)
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return tts.ErrCanceled
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if data == doneMarker {
			return nil
		}

		var chunk completionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.events.Logf(log.WarnLevel, "%v",
				tts.NewTTSError(tts.ErrorCodeProtocol, "error decoding API JSON response", err))
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Text == "" {
			continue
		}
		if !fn(chunk.Choices[0].Text) {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return tts.ErrCanceled
		}
		terr := tts.NewTTSError(tts.ErrorCodeTransport, "orpheus stream interrupted", err)
		c.events.Logf(log.ErrorLevel, "%v", terr)
		return terr
	}
	return nil
}

// PingResult describes a successful ping.
type PingResult struct {
	Latency time.Duration
	Text    string
}

// Ping sends a tiny non-streaming request to check the server is up.
func (c *Client) Ping(ctx context.Context) (PingResult, error) {
	start := time.Now()
	resp, err := c.post(ctx, c.body("hi", false, 8))
	if err != nil {
		return PingResult{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	var chunk completionChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return PingResult{}, tts.NewTTSError(tts.ErrorCodeProtocol, "decode ping response", err)
	}
	if len(chunk.Choices) == 0 {
		return PingResult{}, tts.NewTTSError(tts.ErrorCodeProtocol, "ping response has no choices", nil)
	}

	latency := time.Since(start)
	log.Debug("Pinged orpheus server", "url", c.cfg.URL, "latency", latency)
	return PingResult{Latency: latency, Text: chunk.Choices[0].Text}, nil
}

// IsCanceled reports whether err came from a stop or context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, tts.ErrCanceled) || errors.Is(err, context.Canceled)
}
