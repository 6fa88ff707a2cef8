package orpheus

import (
	"math/rand/v2"
	"slices"
)

// Prompt markers understood by the Orpheus model.
const (
	PromptStart = "<|audio|>"
	PromptEnd   = "<|eot_id|>"
)

// DefaultVoice is used when a voice is empty or not one of StockVoices.
const DefaultVoice = "leah"

// RandomVoice picks a stock voice per segment.
const RandomVoice = "random"

// MaxVoiceLength bounds user supplied voice names.
const MaxVoiceLength = 50

// StockVoices are the voices the stock Orpheus finetune was trained on.
var StockVoices = []string{"tara", "leah", "jess", "leo", "dan", "mia", "zac", "zoe"}

// IsStockVoice reports whether voice is one of StockVoices.
func IsStockVoice(voice string) bool {
	return slices.Contains(StockVoices, voice)
}

// ResolveVoice turns RandomVoice into a concrete stock voice. Other values
// are returned unchanged.
func ResolveVoice(voice string) string {
	if voice == RandomVoice {
		return StockVoices[rand.IntN(len(StockVoices))]
	}
	return voice
}

// FormatPrompt builds the completion prompt for text spoken by voice.
// Unknown voices fall back to DefaultVoice.
func FormatPrompt(text, voice string) string {
	if !IsStockVoice(voice) {
		voice = DefaultVoice
	}
	return PromptStart + voice + ": " + text + PromptEnd
}
