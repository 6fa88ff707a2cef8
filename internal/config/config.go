// Package config loads the orpheus.yml settings through viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/orpheus-tts/internal/audio"
	"github.com/dgnsrekt/orpheus-tts/internal/cache"
	"github.com/dgnsrekt/orpheus-tts/internal/chat"
	"github.com/dgnsrekt/orpheus-tts/internal/orpheus"
	"github.com/dgnsrekt/orpheus-tts/internal/segment"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

// Codec kinds.
const (
	CodecHTTP = "http"
	CodecExec = "exec"
)

// Config contains all settings.
type Config struct {
	Orpheus   OrpheusConfig   `yaml:"orpheus"`
	Codec     CodecConfig     `yaml:"codec"`
	Chat      ChatConfig      `yaml:"chat"`
	Audio     AudioConfig     `yaml:"audio"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Save      SaveConfig      `yaml:"save"`
	Cache     CacheConfig     `yaml:"cache"`
	LogLevel  string          `yaml:"log_level"`
}

// OrpheusConfig describes the speech-token completions endpoint.
type OrpheusConfig struct {
	URL               string                 `yaml:"url"`
	Model             string                 `yaml:"model"`
	MaxTokens         int                    `yaml:"max_tokens"`
	Temperature       float64                `yaml:"temperature"`
	TopP              float64                `yaml:"top_p"`
	RepetitionPenalty float64                `yaml:"repetition_penalty"`
	Extra             map[string]interface{} `yaml:"extra"`
	Timeout           time.Duration          `yaml:"timeout"`
	RequestsPerSecond float64                `yaml:"requests_per_second"`
}

// CodecConfig selects the token-to-audio decoder.
type CodecConfig struct {
	Kind    string        `yaml:"kind"`
	URL     string        `yaml:"url"`
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// ChatConfig describes the optional chat model. An empty model disables
// chat mode.
type ChatConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Model            string        `yaml:"model"`
	APIKey           string        `yaml:"api_key"`
	APIKeyEnv        string        `yaml:"api_key_env"`
	SystemPrompt     string        `yaml:"system_prompt"`
	SystemPromptFile string        `yaml:"system_prompt_file"`
	Temperature      float64       `yaml:"temperature"`
	MaxTokens        int           `yaml:"max_tokens"`
	Timeout          time.Duration `yaml:"timeout"`
}

// AudioConfig holds output settings. SampleRate and BlockSize are fixed by
// the model and only validated.
type AudioConfig struct {
	SampleRate     int           `yaml:"sample_rate"`
	BlockSize      int           `yaml:"block_size"`
	BufferSeconds  int           `yaml:"buffer_seconds"`
	PutTimeout     time.Duration `yaml:"put_timeout"`
	DeviceBuffer   time.Duration `yaml:"device_buffer"`
	StallThreshold time.Duration `yaml:"stall_threshold"`
	Disabled       bool          `yaml:"disabled"`
}

// SegmenterConfig tunes text segmentation.
type SegmenterConfig struct {
	MaxWords      int      `yaml:"max_words"`
	Abbreviations []string `yaml:"abbreviations"`
}

// SaveConfig holds WAV output settings.
type SaveConfig struct {
	Dir string `yaml:"dir"`
}

// CacheConfig holds segment cache settings.
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// Default returns a Config with defaults for everything except the
// endpoints.
func Default() Config {
	return Config{
		Orpheus: OrpheusConfig{
			Model:             "orpheus-3b-0.1-ft",
			MaxTokens:         orpheus.DefaultMaxTokens,
			Temperature:       0.6,
			TopP:              0.9,
			RepetitionPenalty: 1.1,
			Timeout:           5 * time.Minute,
		},
		Codec: CodecConfig{
			Kind:    CodecHTTP,
			URL:     "http://127.0.0.1:8081/decode",
			Timeout: 10 * time.Second,
		},
		Chat: ChatConfig{
			Timeout: 3 * time.Minute,
		},
		Audio: AudioConfig{
			SampleRate:     audio.SampleRate,
			BlockSize:      audio.BlockSize,
			BufferSeconds:  audio.DefaultRingSeconds,
			PutTimeout:     audio.DefaultPutTimeout,
			DeviceBuffer:   100 * time.Millisecond,
			StallThreshold: audio.DefaultStallThreshold,
		},
		Segmenter: SegmenterConfig{
			MaxWords: segment.DefaultMaxWords,
		},
		Cache: CacheConfig{
			MaxSizeMB: int(cache.DefaultCapacity >> 20),
		},
		LogLevel: "info",
	}
}

// SetDefaults registers defaults with viper.
func SetDefaults() {
	d := Default()

	viper.SetDefault("orpheus.model", d.Orpheus.Model)
	viper.SetDefault("orpheus.max_tokens", d.Orpheus.MaxTokens)
	viper.SetDefault("orpheus.temperature", d.Orpheus.Temperature)
	viper.SetDefault("orpheus.top_p", d.Orpheus.TopP)
	viper.SetDefault("orpheus.repetition_penalty", d.Orpheus.RepetitionPenalty)
	viper.SetDefault("orpheus.timeout", d.Orpheus.Timeout.String())

	viper.SetDefault("codec.kind", d.Codec.Kind)
	viper.SetDefault("codec.url", d.Codec.URL)
	viper.SetDefault("codec.timeout", d.Codec.Timeout.String())

	viper.SetDefault("chat.timeout", d.Chat.Timeout.String())

	viper.SetDefault("audio.buffer_seconds", d.Audio.BufferSeconds)
	viper.SetDefault("audio.put_timeout", d.Audio.PutTimeout.String())
	viper.SetDefault("audio.device_buffer", d.Audio.DeviceBuffer.String())
	viper.SetDefault("audio.stall_threshold", d.Audio.StallThreshold.String())

	viper.SetDefault("segmenter.max_words", d.Segmenter.MaxWords)
	viper.SetDefault("cache.max_size_mb", d.Cache.MaxSizeMB)
	viper.SetDefault("log_level", d.LogLevel)
}

// Load reads the configuration from viper and validates it.
func Load() (Config, error) {
	cfg := Default()

	if viper.IsSet("orpheus.url") {
		cfg.Orpheus.URL = viper.GetString("orpheus.url")
	}
	if viper.IsSet("orpheus.model") {
		cfg.Orpheus.Model = viper.GetString("orpheus.model")
	}
	if viper.IsSet("orpheus.max_tokens") {
		cfg.Orpheus.MaxTokens = viper.GetInt("orpheus.max_tokens")
	}
	if viper.IsSet("orpheus.temperature") {
		cfg.Orpheus.Temperature = viper.GetFloat64("orpheus.temperature")
	}
	if viper.IsSet("orpheus.top_p") {
		cfg.Orpheus.TopP = viper.GetFloat64("orpheus.top_p")
	}
	if viper.IsSet("orpheus.repetition_penalty") {
		cfg.Orpheus.RepetitionPenalty = viper.GetFloat64("orpheus.repetition_penalty")
	}
	if viper.IsSet("orpheus.extra") {
		cfg.Orpheus.Extra = viper.GetStringMap("orpheus.extra")
	}
	if viper.IsSet("orpheus.timeout") {
		cfg.Orpheus.Timeout = viper.GetDuration("orpheus.timeout")
	}
	if viper.IsSet("orpheus.requests_per_second") {
		cfg.Orpheus.RequestsPerSecond = viper.GetFloat64("orpheus.requests_per_second")
	}

	if viper.IsSet("codec.kind") {
		cfg.Codec.Kind = strings.ToLower(viper.GetString("codec.kind"))
	}
	if viper.IsSet("codec.url") {
		cfg.Codec.URL = viper.GetString("codec.url")
	}
	if viper.IsSet("codec.command") {
		cfg.Codec.Command = viper.GetString("codec.command")
	}
	if viper.IsSet("codec.args") {
		cfg.Codec.Args = viper.GetStringSlice("codec.args")
	}
	if viper.IsSet("codec.timeout") {
		cfg.Codec.Timeout = viper.GetDuration("codec.timeout")
	}

	if viper.IsSet("chat.base_url") {
		cfg.Chat.BaseURL = viper.GetString("chat.base_url")
	}
	if viper.IsSet("chat.model") {
		cfg.Chat.Model = viper.GetString("chat.model")
	}
	if viper.IsSet("chat.api_key") {
		cfg.Chat.APIKey = viper.GetString("chat.api_key")
	}
	if viper.IsSet("chat.api_key_env") {
		cfg.Chat.APIKeyEnv = viper.GetString("chat.api_key_env")
	}
	if viper.IsSet("chat.system_prompt") {
		cfg.Chat.SystemPrompt = viper.GetString("chat.system_prompt")
	}
	if viper.IsSet("chat.system_prompt_file") {
		cfg.Chat.SystemPromptFile = viper.GetString("chat.system_prompt_file")
	}
	if viper.IsSet("chat.temperature") {
		cfg.Chat.Temperature = viper.GetFloat64("chat.temperature")
	}
	if viper.IsSet("chat.max_tokens") {
		cfg.Chat.MaxTokens = viper.GetInt("chat.max_tokens")
	}
	if viper.IsSet("chat.timeout") {
		cfg.Chat.Timeout = viper.GetDuration("chat.timeout")
	}

	if viper.IsSet("audio.sample_rate") {
		cfg.Audio.SampleRate = viper.GetInt("audio.sample_rate")
	}
	if viper.IsSet("audio.block_size") {
		cfg.Audio.BlockSize = viper.GetInt("audio.block_size")
	}
	if viper.IsSet("audio.buffer_seconds") {
		cfg.Audio.BufferSeconds = viper.GetInt("audio.buffer_seconds")
	}
	if viper.IsSet("audio.put_timeout") {
		cfg.Audio.PutTimeout = viper.GetDuration("audio.put_timeout")
	}
	if viper.IsSet("audio.device_buffer") {
		cfg.Audio.DeviceBuffer = viper.GetDuration("audio.device_buffer")
	}
	if viper.IsSet("audio.stall_threshold") {
		cfg.Audio.StallThreshold = viper.GetDuration("audio.stall_threshold")
	}
	if viper.IsSet("audio.disabled") {
		cfg.Audio.Disabled = viper.GetBool("audio.disabled")
	}

	if viper.IsSet("segmenter.max_words") {
		cfg.Segmenter.MaxWords = viper.GetInt("segmenter.max_words")
	}
	if viper.IsSet("segmenter.abbreviations") {
		cfg.Segmenter.Abbreviations = viper.GetStringSlice("segmenter.abbreviations")
	}

	if viper.IsSet("save.dir") {
		cfg.Save.Dir = viper.GetString("save.dir")
	}

	if viper.IsSet("cache.enabled") {
		cfg.Cache.Enabled = viper.GetBool("cache.enabled")
	}
	if viper.IsSet("cache.dir") {
		cfg.Cache.Dir = viper.GetString("cache.dir")
	}
	if viper.IsSet("cache.max_size_mb") {
		cfg.Cache.MaxSizeMB = viper.GetInt("cache.max_size_mb")
	}

	if viper.IsSet("log_level") {
		cfg.LogLevel = viper.GetString("log_level")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration. A missing orpheus.url is reported by
// the commands that need it, not here.
func (c *Config) Validate() error {
	var errs []error

	if c.Orpheus.URL != "" {
		if u, err := url.Parse(c.Orpheus.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("orpheus.url %q is not an absolute URL", c.Orpheus.URL))
		}
	}
	if c.Orpheus.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("orpheus.max_tokens must not be negative, got %d", c.Orpheus.MaxTokens))
	}

	switch c.Codec.Kind {
	case CodecHTTP:
		if c.Codec.URL == "" {
			errs = append(errs, errors.New("codec.url is required for the http codec"))
		}
	case CodecExec:
		if c.Codec.Command == "" {
			errs = append(errs, errors.New("codec.command is required for the exec codec"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid codec.kind %q: must be one of %v", c.Codec.Kind, []string{CodecHTTP, CodecExec}))
	}

	if c.Audio.SampleRate != audio.SampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate is fixed at %d, got %d", audio.SampleRate, c.Audio.SampleRate))
	}
	if c.Audio.BlockSize != audio.BlockSize {
		errs = append(errs, fmt.Errorf("audio.block_size is fixed at %d, got %d", audio.BlockSize, c.Audio.BlockSize))
	}
	if c.Audio.BufferSeconds < 1 || c.Audio.BufferSeconds > 600 {
		errs = append(errs, fmt.Errorf("audio.buffer_seconds must be between 1 and 600, got %d", c.Audio.BufferSeconds))
	}
	if c.Cache.MaxSizeMB < 0 {
		errs = append(errs, fmt.Errorf("cache.max_size_mb must not be negative, got %d", c.Cache.MaxSizeMB))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		errs = append(errs, fmt.Errorf("invalid log_level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// ChatEnabled reports whether a chat model is configured.
func (c Config) ChatEnabled() bool {
	return strings.TrimSpace(c.Chat.Model) != ""
}

// ChatClientConfig resolves the API key and system prompt for the chat
// client. The key from APIKeyEnv takes precedence over APIKey.
func (c Config) ChatClientConfig() (chat.Config, []string, error) {
	var warnings []string
	key := c.Chat.APIKey
	if c.Chat.APIKeyEnv != "" {
		if v := os.Getenv(c.Chat.APIKeyEnv); v != "" {
			key = v
		} else {
			warnings = append(warnings, fmt.Sprintf("environment variable %s is empty, chat may not work", c.Chat.APIKeyEnv))
		}
	}

	prompt := c.Chat.SystemPrompt
	if c.Chat.SystemPromptFile != "" {
		path, err := homedir.Expand(c.Chat.SystemPromptFile)
		if err != nil {
			return chat.Config{}, warnings, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return chat.Config{}, warnings, fmt.Errorf("failed to read system prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}

	return chat.Config{
		BaseURL:      c.Chat.BaseURL,
		Model:        c.Chat.Model,
		APIKey:       key,
		SystemPrompt: prompt,
		Temperature:  c.Chat.Temperature,
		MaxTokens:    c.Chat.MaxTokens,
		Timeout:      c.Chat.Timeout,
	}, warnings, nil
}

// OrpheusClientConfig returns the token client settings.
func (c Config) OrpheusClientConfig() orpheus.Config {
	return orpheus.Config{
		URL:               c.Orpheus.URL,
		Model:             c.Orpheus.Model,
		MaxTokens:         c.Orpheus.MaxTokens,
		Temperature:       c.Orpheus.Temperature,
		TopP:              c.Orpheus.TopP,
		RepetitionPenalty: c.Orpheus.RepetitionPenalty,
		Extra:             c.Orpheus.Extra,
		Timeout:           c.Orpheus.Timeout,
		RequestsPerSecond: c.Orpheus.RequestsPerSecond,
	}
}

// NewCodec builds the configured codec.
func (c Config) NewCodec() (orpheus.Codec, error) {
	switch c.Codec.Kind {
	case CodecExec:
		cmd, err := homedir.Expand(c.Codec.Command)
		if err != nil {
			return nil, err
		}
		return orpheus.NewExecCodec(cmd, c.Codec.Args...), nil
	case CodecHTTP:
		return orpheus.NewHTTPCodec(c.Codec.URL, c.Codec.Timeout), nil
	}
	return nil, tts.NewTTSError(tts.ErrorCodeInvalidInput, "unknown codec kind "+c.Codec.Kind, nil)
}

// SegmenterOptions returns the segmenter options.
func (c Config) SegmenterOptions() []segment.Option {
	opts := []segment.Option{segment.WithMaxWords(c.Segmenter.MaxWords)}
	if len(c.Segmenter.Abbreviations) > 0 {
		opts = append(opts, segment.WithAbbreviations(c.Segmenter.Abbreviations))
	}
	return opts
}

// RingCapacity returns the ring size in blocks.
func (c Config) RingCapacity() int {
	return audio.BlocksFor(time.Duration(c.Audio.BufferSeconds) * time.Second)
}

// OtoConfig returns the output device settings.
func (c Config) OtoConfig() audio.OtoConfig {
	return audio.OtoConfig{
		BufferSize:     c.Audio.DeviceBuffer,
		StallThreshold: c.Audio.StallThreshold,
	}
}

// CacheSettings returns the segment cache settings with dir resolved.
// defaultDir is used when cache.dir is empty.
func (c Config) CacheSettings(defaultDir string) (cache.Config, error) {
	dir := c.Cache.Dir
	if dir == "" {
		dir = defaultDir
	}
	dir, err := homedir.Expand(dir)
	if err != nil {
		return cache.Config{}, err
	}
	return cache.Config{
		Dir:      dir,
		Capacity: int64(c.Cache.MaxSizeMB) << 20,
	}, nil
}
