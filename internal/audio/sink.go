package audio

// Sink is the audio output device boundary. The scheduler writes shaped
// PCM16LE chunks to it in playback order.
type Sink interface {
	// Write delivers one chunk for immediate output. It may block while the
	// device drains earlier audio.
	Write(pcm []byte) error

	// Clear halts whatever is currently sounding and discards any audio the
	// sink has buffered but not yet played. Must be safe to call when idle.
	Clear() error
}
