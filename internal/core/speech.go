package core

import "context"

// Transcriber converts a voice recording into the question text fed to the
// pipeline. The LLMService satisfies this.
type Transcriber interface {
	Transcribe(ctx context.Context, mimeType string, audio []byte) (string, error)
}

// SpeechSynthesizer renders a final answer as audio. Optional: when no
// implementation is configured the voice endpoint returns text only.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (audio []byte, mimeType string, err error)
}
