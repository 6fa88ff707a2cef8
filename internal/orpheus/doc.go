// Package orpheus talks to an Orpheus speech model served behind an
// OpenAI-style completions endpoint. Client streams the model's custom
// audio tokens, and Decoder turns them into PCM frames through a Codec.
package orpheus
