package audio

// Status describes conditions the device observed since the previous
// callback.
type Status struct {
	// Underflow is set when the device ran out of audio and glitched
	Underflow bool
}

// Callback fills out with the next block of samples. It is invoked from
// the device's real-time context and must not block.
type Callback func(out []int16, status Status)

// Device opens output streams that pull audio through a Callback.
type Device interface {
	// Open starts a stream driving cb at SampleRate/BlockSize calls per second.
	Open(cb Callback) (Stream, error)

	// Describe returns a human readable description of the device.
	Describe() string
}

// Stream is an open output stream.
type Stream interface {
	Close() error
}
