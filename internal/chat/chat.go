// Package chat streams replies from an OpenAI-compatible chat completions
// endpoint and keeps the conversation history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

const defaultTimeout = 3 * time.Minute

// ErrNoModel is returned when no chat model is configured.
var ErrNoModel = errors.New("no chat model configured")

// Role is the author of a history entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one history entry.
type Message struct {
	Role    Role
	Content string
}

// Config describes the chat endpoint.
type Config struct {
	// BaseURL is the API root, e.g. https://openrouter.ai/api/v1. A full
	// chat completions URL is accepted too.
	BaseURL string

	Model        string
	APIKey       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
}

// Client streams chat replies.
type Client struct {
	cfg    Config
	client openai.Client

	mu      sync.Mutex
	history []Message
}

// Option configures a Client.
type Option func(*[]option.RequestOption)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithHTTPClient(hc))
	}
}

// New creates a chat client with a fresh history.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, ErrNoModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	reqOpts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		base := strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/chat/completions")
		reqOpts = append(reqOpts, option.WithBaseURL(base+"/"))
	}
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	for _, opt := range opts {
		opt(&reqOpts)
	}

	c := &Client{
		cfg:    cfg,
		client: openai.NewClient(reqOpts...),
	}
	c.Clear()
	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Clear resets the history to the system prompt.
func (c *Client) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = c.history[:0]
	if c.cfg.SystemPrompt != "" {
		c.history = append(c.history, Message{Role: RoleSystem, Content: c.cfg.SystemPrompt})
	}
}

// History returns a copy of the conversation so far.
func (c *Client) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.history...)
}

// Stream sends prompt with the history and calls fn for every content
// delta. It returns the full reply. A reply that produced any text is added
// to the history, even when ctx was canceled part way.
func (c *Client) Stream(ctx context.Context, prompt string, fn func(delta string)) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.cfg.Model,
		Messages: c.messages(prompt),
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = openai.Float(c.cfg.Temperature)
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.cfg.MaxTokens))
	}

	start := time.Now()
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if fn != nil {
			fn(delta)
		}
	}

	reply := sb.String()
	err := stream.Err()
	canceled := ctx.Err() != nil

	if reply != "" && (err == nil || canceled) {
		c.mu.Lock()
		c.history = append(c.history,
			Message{Role: RoleUser, Content: prompt},
			Message{Role: RoleAssistant, Content: reply})
		c.mu.Unlock()
	}

	log.Debug("Chat reply", "chars", len(reply), "elapsed", time.Since(start), "err", err)

	switch {
	case canceled:
		return reply, tts.ErrCanceled
	case err != nil:
		return reply, wrapError(err)
	}
	return reply, nil
}

func (c *Client) messages(prompt string) []openai.ChatCompletionMessageParamUnion {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(c.history)+1)
	for _, m := range c.history {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return append(out, openai.UserMessage(prompt))
}

func wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return tts.NewTTSError(tts.ErrorCodeTransport,
			fmt.Sprintf("chat request failed (status=%d): %s", apiErr.StatusCode, strings.TrimSpace(apiErr.Message)),
			err)
	}
	return tts.NewTTSError(tts.ErrorCodeTransport, "chat request failed", err)
}
