//go:build nocgo
// +build nocgo

package audio

import (
	"errors"
	"time"
)

// DefaultStallThreshold is how long the device may go without pulling audio
// before the next callback reports an underflow.
const DefaultStallThreshold = 500 * time.Millisecond

// OtoConfig configures the oto device.
type OtoConfig struct {
	BufferSize     time.Duration
	StallThreshold time.Duration
	ReadyTimeout   time.Duration
}

// OtoDevice is unavailable in nocgo builds.
type OtoDevice struct{}

// NewOtoDevice returns a device whose Open always fails.
func NewOtoDevice(OtoConfig) *OtoDevice {
	return &OtoDevice{}
}

// Describe implements Device.
func (d *OtoDevice) Describe() string {
	return "unavailable (nocgo build)"
}

// Open implements Device.
func (d *OtoDevice) Open(Callback) (Stream, error) {
	return nil, errors.New("audio not available in nocgo build")
}
