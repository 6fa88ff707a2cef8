package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Output format shared by the decoder, the device and saved files.
const (
	SampleRate     = 24000
	Channels       = 1
	BitDepth       = 16
	BytesPerSample = BitDepth / 8 * Channels

	// BlockSize is the number of frames handed to the device per callback.
	BlockSize = 1024
)

// Block is one device callback's worth of mono 16-bit samples.
type Block []int16

// ErrUnalignedPCM indicates a byte slice that is not whole samples.
var ErrUnalignedPCM = errors.New("pcm payload not aligned")

// SamplesDuration returns the playing time of n samples.
func SamplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// BlockSeconds returns the playing time of n blocks in seconds.
func BlockSeconds(n int) float64 {
	return float64(n*BlockSize) / SampleRate
}

// BlocksFor returns how many blocks hold d of audio.
func BlocksFor(d time.Duration) int {
	return int(d.Seconds() * SampleRate / BlockSize)
}

// DecodePCM16LE converts little-endian 16-bit PCM bytes to samples.
func DecodePCM16LE(b []byte) ([]int16, error) {
	if len(b)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrUnalignedPCM, len(b))
	}
	out := make([]int16, len(b)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out, nil
}

// EncodePCM16LE appends samples to dst as little-endian 16-bit PCM.
func EncodePCM16LE(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}
