// Package adapter wraps the remote conversion providers. The pipeline treats
// both operations as slow, single-attempt calls; any retry policy belongs to
// the provider or a supervisory layer above this service.
package adapter

import (
	"context"
	"fmt"
)

// VoiceParams selects and tunes the synthesis voice.
type VoiceParams struct {
	VoiceID string  `json:"voiceId"`
	Speed   float64 `json:"speed,omitempty"`
	Pitch   float64 `json:"pitch,omitempty"`
}

// Synthesizer converts text to raw audio bytes.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, text string, params VoiceParams) ([]byte, error)
}

// VoiceConverter re-renders source audio in a target voice and returns the
// reference of the converted audio.
type VoiceConverter interface {
	ConvertVoice(ctx context.Context, sourceRef, voiceID string) (string, error)
}

// Error is a provider failure with the operation that produced it.
type Error struct {
	Op     string
	Status int
	Cause  error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: provider returned status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
