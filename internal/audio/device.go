package audio

import (
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// DeviceSink plays PCM on the local output device via oto. The process owns
// at most one oto context, so create a single DeviceSink and keep it for the
// life of the program.
type DeviceSink struct {
	ctx *oto.Context

	mu     sync.Mutex
	pw     *io.PipeWriter
	player *oto.Player
	closed bool
}

// NewDeviceSink opens the default audio output device at the fixed playback
// format and blocks until the device is ready.
func NewDeviceSink() (*DeviceSink, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	s := &DeviceSink{ctx: ctx}
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	return s, nil
}

// resetLocked replaces the pipe and player pair. The player pulls from the
// read half of the pipe, so Write naturally blocks on device backpressure.
func (s *DeviceSink) resetLocked() {
	pr, pw := io.Pipe()
	s.pw = pw
	s.player = s.ctx.NewPlayer(pr)
	s.player.Play()
}

// Write delivers one chunk to the device.
func (s *DeviceSink) Write(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("device sink closed")
	}
	pw := s.pw
	s.mu.Unlock()

	if _, err := pw.Write(pcm); err != nil {
		return fmt.Errorf("device write: %w", err)
	}
	return nil
}

// Clear tears down the current player, dropping whatever the device had
// buffered, and stands up a fresh one.
func (s *DeviceSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	_ = s.pw.CloseWithError(io.ErrClosedPipe)
	err := s.player.Close()
	s.resetLocked()
	return err
}

// Close releases the player. Safe to call more than once.
func (s *DeviceSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.pw.Close()
	return s.player.Close()
}
