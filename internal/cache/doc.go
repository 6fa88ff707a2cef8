// Package cache stores synthesized segment audio on disk so repeated
// segments replay without a request. Entries are zstd-compressed PCM keyed
// by a hash of everything that affects synthesis.
package cache
