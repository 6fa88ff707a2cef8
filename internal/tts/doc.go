// Package tts holds the types shared across the speech pipeline: work items,
// synchronized text, generation status, UI events and the error taxonomy.
package tts
