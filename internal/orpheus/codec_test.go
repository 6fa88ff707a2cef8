package orpheus

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

// TestHelperProcess stands in for the decoder subprocess. It answers each
// request line with one sample per id, the sample being the id itself.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	mode := os.Getenv("CODEC_HELPER_MODE")
	in := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	for in.Scan() {
		fields := strings.Fields(in.Text())
		switch mode {
		case "oversize":
			_ = binary.Write(out, binary.LittleEndian, uint32(1<<31))
			_ = out.Flush()
			continue
		case "crash-once":
			marker := os.Getenv("CODEC_HELPER_MARKER")
			if _, err := os.Stat(marker); err != nil {
				_ = os.WriteFile(marker, nil, 0o600)
				os.Exit(3)
			}
		}

		ids := fields[1:]
		_ = binary.Write(out, binary.LittleEndian, uint32(len(ids)))
		for _, f := range ids {
			v, _ := strconv.Atoi(f)
			_ = binary.Write(out, binary.LittleEndian, int16(v))
		}
		_ = out.Flush()
	}
}

func helperCodec(t *testing.T, mode string) *ExecCodec {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("CODEC_HELPER_MODE", mode)
	t.Setenv("CODEC_HELPER_MARKER", filepath.Join(t.TempDir(), "crashed"))

	c := NewExecCodec(os.Args[0], "-test.run=^TestHelperProcess$")
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestExecCodec_Exchange(t *testing.T) {
	c := helperCodec(t, "")

	for _, window := range [][]int{{1, 2, 3}, {400, 500}} {
		got, err := c.Decode(context.Background(), window, len(window))
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		want := make([]int16, len(window))
		for i, id := range window {
			want[i] = int16(id)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Expected %v, got %v", want, got)
		}
	}

	got, err := c.Decode(context.Background(), nil, 0)
	if err != nil || got != nil {
		t.Errorf("Expected no audio for an empty window, got %v, %v", got, err)
	}
}

func TestExecCodec_RejectsOversizeResponse(t *testing.T) {
	c := helperCodec(t, "oversize")

	_, err := c.Decode(context.Background(), []int{1, 2}, 2)
	var ttsErr *tts.TTSError
	if !errors.As(err, &ttsErr) || ttsErr.Code != tts.ErrorCodeDecode {
		t.Fatalf("Expected a decode error, got %v", err)
	}
	c.mu.Lock()
	running := c.cmd != nil
	c.mu.Unlock()
	if running {
		t.Error("Expected the process to be stopped after a bad response")
	}
}

func TestExecCodec_RestartsAfterFailure(t *testing.T) {
	c := helperCodec(t, "crash-once")

	if _, err := c.Decode(context.Background(), []int{7}, 1); err == nil {
		t.Fatal("Expected an error when the process exits mid-exchange")
	}

	got, err := c.Decode(context.Background(), []int{7, 8}, 2)
	if err != nil {
		t.Fatalf("Expected the restarted process to answer, got %v", err)
	}
	if want := []int16{7, 8}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestExecCodec_Closed(t *testing.T) {
	c := helperCodec(t, "")
	if err := c.Close(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := c.Decode(context.Background(), []int{1}, 1); !errors.Is(err, errCodecClosed) {
		t.Errorf("Expected errCodecClosed, got %v", err)
	}
}
