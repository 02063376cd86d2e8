// Package stt consumes the streaming transcription channel.
package stt

import "context"

// Result is one transcription event from the channel.
type Result struct {
	Text       string  // transcribed text, may be empty on boundary events
	Confidence float64 // confidence score (0-1)
	Final      bool    // final fragment vs interim preview
	// UtteranceEnd marks the provider's explicit end-of-utterance signal.
	// It carries no text of its own.
	UtteranceEnd bool
}

// Client defines the interface for streaming transcription providers.
type Client interface {
	// SendAudio forwards one frame of raw PCM16LE mic audio.
	SendAudio(ctx context.Context, pcm []byte) error

	// Results returns the channel that receives transcription events.
	Results() <-chan Result

	// Errors returns the channel that receives transport errors.
	Errors() <-chan error

	// Close closes the transcription channel. Safe to call more than once.
	Close() error
}
