package tts

import (
	"errors"
	"fmt"
)

// Common pipeline errors
var (
	// ErrNoServer indicates no speech-token endpoint has been configured
	ErrNoServer = errors.New("no orpheus endpoint configured - set orpheus.url in orpheus.yml")

	// ErrAudioDeviceUnavailable indicates audio device cannot be accessed
	ErrAudioDeviceUnavailable = errors.New("audio device unavailable")

	// ErrChatDisabled indicates chat mode was requested without a chat config
	ErrChatDisabled = errors.New("chat mode is disabled")

	// ErrEmptyText indicates there was nothing to speak
	ErrEmptyText = errors.New("text is empty")

	// ErrCanceled indicates an operation was canceled by a stop request
	ErrCanceled = errors.New("operation canceled")
)

// TTSError represents a pipeline error with additional context
type TTSError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *TTSError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *TTSError) Unwrap() error {
	return e.Cause
}

// ErrorCode identifies specific error types
type ErrorCode string

const (
	// Network and HTTP failures; ends the current segment only
	ErrorCodeTransport ErrorCode = "TRANSPORT"
	// Malformed stream lines; the line is skipped
	ErrorCodeProtocol ErrorCode = "PROTOCOL"
	// Codec failures; the chunk is skipped
	ErrorCodeDecode ErrorCode = "DECODE"
	// Output device could not be opened
	ErrorCodeDevice ErrorCode = "DEVICE"
	// Output device starved; the stream is reset
	ErrorCodeUnderflow ErrorCode = "UNDERFLOW"
	// Ring buffer full; the block is dropped
	ErrorCodeBackpressure ErrorCode = "BACKPRESSURE"
	// Disk save failures
	ErrorCodePersistence ErrorCode = "PERSISTENCE"

	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorCodeTimeout      ErrorCode = "TIMEOUT"
	ErrorCodeCanceled     ErrorCode = "CANCELED"
)

// NewTTSError creates a new TTS error with context
func NewTTSError(code ErrorCode, message string, cause error) *TTSError {
	return &TTSError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context to the error
func (e *TTSError) WithContext(key string, value interface{}) *TTSError {
	e.Context[key] = value
	return e
}

// IsFatal returns true if the error should disable audio for the session
func (e *TTSError) IsFatal() bool {
	return e.Code == ErrorCodeDevice
}

// IsRetryable returns true if the operation can be retried
func (e *TTSError) IsRetryable() bool {
	switch e.Code {
	case ErrorCodeTransport, ErrorCodeTimeout:
		return true
	default:
		return false
	}
}

// CodeOf returns the ErrorCode carried by err, or "" when err is not a TTSError.
func CodeOf(err error) ErrorCode {
	var te *TTSError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}
