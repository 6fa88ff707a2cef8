// Package segment splits streamed text into speakable segments.
//
// Sentences end at '.', '?', '!' or '…' runs (plus any closing quotes or
// brackets) that are followed by whitespace or an uppercase letter, and at
// newlines. A single period that is part of a known abbreviation does not
// end a sentence. Sentences longer than the word bound are split at clause
// punctuation or whitespace near their midpoint.
//
// Segments are trimmed of surrounding whitespace; internal whitespace is
// kept. Removing all whitespace from the input and from the concatenated
// segments yields the same string.
package segment
