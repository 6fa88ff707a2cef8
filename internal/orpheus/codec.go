package orpheus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/orpheus-tts/internal/audio"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

// Codec converts a window of codec ids into PCM samples. A nil result with
// a nil error means the window produced no audio. Implementations must not
// retain window.
type Codec interface {
	Decode(ctx context.Context, window []int, count int) ([]int16, error)
	Close() error
}

// CodecFunc adapts a function to the Codec interface.
type CodecFunc func(ctx context.Context, window []int, count int) ([]int16, error)

// Decode calls f.
func (f CodecFunc) Decode(ctx context.Context, window []int, count int) ([]int16, error) {
	return f(ctx, window, count)
}

// Close is a no-op.
func (f CodecFunc) Close() error { return nil }

var errCodecClosed = errors.New("codec closed")

// maxCodecSamples bounds one decode response. A window decodes to a few
// thousand samples; anything past this is a desynchronized stream.
const maxCodecSamples = 10 * audio.SampleRate

// HTTPCodec posts windows to a decode service that answers with raw
// little-endian 16-bit PCM.
type HTTPCodec struct {
	url  string
	http *http.Client
}

// NewHTTPCodec creates a codec for the service at url.
func NewHTTPCodec(url string, timeout time.Duration) *HTTPCodec {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPCodec{url: url, http: &http.Client{Timeout: timeout}}
}

type decodeRequest struct {
	Tokens []int `json:"tokens"`
	Count  int   `json:"count"`
}

// Decode implements Codec.
func (c *HTTPCodec) Decode(ctx context.Context, window []int, count int) ([]int16, error) {
	payload, err := json.Marshal(decodeRequest{Tokens: window, Count: count})
	if err != nil {
		return nil, fmt.Errorf("encode decode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build decode request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/L16")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("decode request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("decode service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read decode response: %w", err)
	}
	return audio.DecodePCM16LE(raw)
}

// Close implements Codec.
func (c *HTTPCodec) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// ExecCodec keeps a decoder subprocess running. Each request is one line
// "count id id ...". Each response is a little-endian uint32 sample count
// followed by that many little-endian int16 samples.
type ExecCodec struct {
	name string
	args []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	closed bool
}

// NewExecCodec creates a codec that runs name with args on first use.
func NewExecCodec(name string, args ...string) *ExecCodec {
	return &ExecCodec{name: name, args: args}
}

func (c *ExecCodec) start() error {
	if c.cmd != nil {
		return nil
	}
	cmd := exec.Command(c.name, c.args...) //nolint:gosec
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("codec stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("codec stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start codec process: %w", err)
	}
	log.Debug("Started codec process", "cmd", c.name, "pid", cmd.Process.Pid)
	c.cmd = cmd
	c.stdin = stdin
	c.stdout = bufio.NewReader(stdout)
	return nil
}

func (c *ExecCodec) stop() {
	if c.cmd == nil {
		return
	}
	_ = c.stdin.Close()
	_ = c.cmd.Process.Kill()
	_ = c.cmd.Wait()
	c.cmd, c.stdin, c.stdout = nil, nil, nil
}

// Decode implements Codec. A failed or canceled exchange restarts the
// process on the next call.
func (c *ExecCodec) Decode(ctx context.Context, window []int, count int) ([]int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errCodecClosed
	}
	if err := c.start(); err != nil {
		return nil, err
	}

	proc := c.cmd.Process
	release := context.AfterFunc(ctx, func() { _ = proc.Kill() })
	defer release()

	samples, err := c.exchange(window, count)
	if err != nil {
		c.stop()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return samples, nil
}

func (c *ExecCodec) exchange(window []int, count int) ([]int16, error) {
	var line strings.Builder
	line.WriteString(strconv.Itoa(count))
	for _, id := range window {
		line.WriteByte(' ')
		line.WriteString(strconv.Itoa(id))
	}
	line.WriteByte('\n')
	if _, err := io.WriteString(c.stdin, line.String()); err != nil {
		return nil, fmt.Errorf("write codec request: %w", err)
	}

	var n uint32
	if err := binary.Read(c.stdout, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read codec header: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	if n > maxCodecSamples {
		return nil, tts.NewTTSError(tts.ErrorCodeDecode,
			fmt.Sprintf("codec announced %d samples, limit is %d", n, maxCodecSamples), nil)
	}
	samples := make([]int16, n)
	if err := binary.Read(c.stdout, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("read codec samples: %w", err)
	}
	return samples, nil
}

// Close stops the subprocess.
func (c *ExecCodec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stop()
	return nil
}
