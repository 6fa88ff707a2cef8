package audio

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrMockOpen is returned by a MockDevice configured to fail.
var ErrMockOpen = errors.New("mock device unavailable")

// MockDevice is a Device driven by hand. Tests call Pull to run one
// callback.
type MockDevice struct {
	// FailOpen makes Open fail after the given number of successful opens;
	// negative never fails.
	FailOpen int

	mu     sync.Mutex
	cb     Callback
	open   bool
	opened atomic.Int64
	closed atomic.Int64
}

// NewMockDevice creates a device that always opens.
func NewMockDevice() *MockDevice {
	return &MockDevice{FailOpen: -1}
}

// Describe implements Device.
func (d *MockDevice) Describe() string {
	return "mock"
}

// Open implements Device.
func (d *MockDevice) Open(cb Callback) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailOpen >= 0 && d.opened.Load() >= int64(d.FailOpen) {
		return nil, ErrMockOpen
	}
	d.cb = cb
	d.open = true
	d.opened.Add(1)
	return &mockStream{dev: d}, nil
}

// Pull runs one callback and returns the block it produced. It returns
// false when no stream is open.
func (d *MockDevice) Pull(status Status) (Block, bool) {
	d.mu.Lock()
	cb, open := d.cb, d.open
	d.mu.Unlock()
	if !open {
		return nil, false
	}
	out := make(Block, BlockSize)
	cb(out, status)
	return out, true
}

// Opens returns how many streams were opened.
func (d *MockDevice) Opens() int64 {
	return d.opened.Load()
}

// Closes returns how many streams were closed.
func (d *MockDevice) Closes() int64 {
	return d.closed.Load()
}

// IsOpen reports whether a stream is open.
func (d *MockDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

type mockStream struct {
	dev  *MockDevice
	once sync.Once
}

func (s *mockStream) Close() error {
	s.once.Do(func() {
		s.dev.mu.Lock()
		s.dev.open = false
		s.dev.cb = nil
		s.dev.mu.Unlock()
		s.dev.closed.Add(1)
	})
	return nil
}
