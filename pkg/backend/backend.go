// Package backend declares the three swappable collaborator contracts the
// call orchestrator drives per utterance: speech recognition, language-model
// generation, and speech synthesis. Concrete providers live under
// pkg/backend/providers and are wired in only from cmd/gateway — the core
// packages depend on these interfaces, never on a concrete vendor SDK.
package backend

import "context"

// Recognizer turns one complete utterance of 8kHz µ-law audio into text.
// The bool return reports whether the result is final; a Recognizer that
// has no notion of partial results always returns true.
type Recognizer interface {
	Recognize(ctx context.Context, ulaw []byte) (text string, final bool, err error)
	Name() string
}

// LanguageModel generates a reply to a prompt built from conversation
// history and the latest recognized utterance.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Synthesizer renders text to 8kHz µ-law audio ready for RTP playback.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Name() string
}
