// Package audio holds the playback side of the pipeline: the PCM format
// helpers, the bounded block ring filled by the producer and the Player
// whose device callback drains it.
//
// Devices pull audio in fixed BlockSize frames. The oto backed device is
// compiled with cgo; builds tagged nocgo get a stub whose Open fails, which
// the player reports once before running without audio.
package audio
