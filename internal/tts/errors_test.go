package tts

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestTTSError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		fatal     bool
		retryable bool
	}{
		{"transport", ErrorCodeTransport, false, true},
		{"protocol", ErrorCodeProtocol, false, false},
		{"decode", ErrorCodeDecode, false, false},
		{"device", ErrorCodeDevice, true, false},
		{"underflow", ErrorCodeUnderflow, false, false},
		{"backpressure", ErrorCodeBackpressure, false, false},
		{"persistence", ErrorCodePersistence, false, false},
		{"timeout", ErrorCodeTimeout, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewTTSError(tt.code, "boom", nil)
			if got := err.IsFatal(); got != tt.fatal {
				t.Errorf("Expected IsFatal %v, got %v", tt.fatal, got)
			}
			if got := err.IsRetryable(); got != tt.retryable {
				t.Errorf("Expected IsRetryable %v, got %v", tt.retryable, got)
			}
		})
	}
}

func TestTTSError_Wrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTTSError(ErrorCodeTransport, "orpheus request failed", cause).
		WithContext("status", 502)

	wrapped := fmt.Errorf("segment: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("Expected wrapped error to match cause")
	}
	if got := CodeOf(wrapped); got != ErrorCodeTransport {
		t.Errorf("Expected code %s, got %s", ErrorCodeTransport, got)
	}
	if got := CodeOf(cause); got != "" {
		t.Errorf("Expected empty code for plain error, got %s", got)
	}
	if err.Context["status"] != 502 {
		t.Errorf("Expected context status 502, got %v", err.Context["status"])
	}
	want := "TRANSPORT: orpheus request failed: connection refused"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}

func TestEvents_NonBlocking(t *testing.T) {
	bus := NewEvents(2)
	if !bus.Emit(BufferEvent{Seconds: 1}) || !bus.Emit(BufferEvent{Seconds: 2}) {
		t.Fatal("Expected first two events to be accepted")
	}
	if bus.Emit(BufferEvent{Seconds: 3}) {
		t.Error("Expected third event to be dropped")
	}
	if bus.Dropped() != 1 {
		t.Errorf("Expected 1 dropped event, got %d", bus.Dropped())
	}
	if n := bus.Drain(); n != 2 {
		t.Errorf("Expected to drain 2 events, got %d", n)
	}
	if n := bus.Drain(); n != 0 {
		t.Errorf("Expected empty bus, drained %d", n)
	}

	var nilBus *Events
	if nilBus.Emit(LogEvent{}) {
		t.Error("Expected nil bus to discard events")
	}
}

func TestEvents_Logf(t *testing.T) {
	bus := NewEvents(4)
	bus.Logf(log.WarnLevel, "Audio queue full (%d)", 3)

	select {
	case e := <-bus.C():
		le, ok := e.(LogEvent)
		if !ok {
			t.Fatalf("Expected LogEvent, got %T", e)
		}
		if le.Level != log.WarnLevel || le.Text != "Audio queue full (3)" {
			t.Errorf("Unexpected log event: %+v", le)
		}
	default:
		t.Fatal("Expected an event")
	}
}

func TestGenStatus_Speed(t *testing.T) {
	tests := []struct {
		name   string
		status GenStatus
		want   float64
	}{
		{"too early", GenStatus{Text: "x", Duration: time.Second, Elapsed: 300 * time.Millisecond}, 0},
		{"twice realtime", GenStatus{Text: "x", Duration: 4 * time.Second, Elapsed: 2500 * time.Millisecond, TTFB: 500 * time.Millisecond}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Speed(); got != tt.want {
				t.Errorf("Expected speed %v, got %v", tt.want, got)
			}
		})
	}
	if !(GenStatus{}).Idle() {
		t.Error("Expected zero status to be idle")
	}
}
