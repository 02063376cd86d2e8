// Package tts consumes the streaming speech synthesis backend.
package tts

import "context"

// Client defines the interface for speech synthesis providers.
type Client interface {
	// SynthesizeStream converts one sentence to speech and streams raw
	// PCM16LE audio chunks as they arrive. The channel closes at stream end
	// or when ctx is cancelled.
	SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error)
}
