// Package speech owns the live transcription side of a conversation: it
// maintains the transcription channel, filters echo and muted input, and
// decides when a user utterance is complete.
package speech

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mhanzl/vera/internal/metrics"
	"github.com/mhanzl/vera/internal/stt"
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ConnectionError reports that the transcription channel could not be opened
// or that microphone capture was denied. It is surfaced once, never retried.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("speech connection: %v", e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// DefaultSilenceTimeout is the fallback window with no transcript activity
// after which an utterance is considered complete.
const DefaultSilenceTimeout = 2500 * time.Millisecond

// DialFunc opens the transcription channel (token call plus socket).
type DialFunc func(ctx context.Context) (stt.Client, error)

// Callbacks are the session's outputs. They are invoked from the session's
// event loop, never concurrently with each other.
type Callbacks struct {
	// OnUtterance receives each finalized utterance, ready for dispatch.
	OnUtterance func(text string)
	// OnInterim receives live preview text; it is not persisted.
	OnInterim func(text string)
	// OnActivity fires for every accepted transcript event, before the event
	// is applied. The interruption coordinator hangs off this.
	OnActivity func()
	// OnError receives transport errors from the channel.
	OnError func(err error)
}

// Config holds session tunables.
type Config struct {
	SilenceTimeout time.Duration // 0 means DefaultSilenceTimeout
}

// Session manages one live transcription channel.
type Session struct {
	dial   DialFunc
	cb     Callbacks
	logger *log.Logger
	now    func() time.Time

	silenceTimeout time.Duration

	mu            sync.Mutex
	state         State
	muted         bool
	client        stt.Client
	buf           []string // finalized fragments since last dispatch
	cooldownUntil time.Time
	silence       *time.Timer
	done          chan struct{}

	stopOnce sync.Once
}

// NewSession creates a session. Start must be called before audio flows.
func NewSession(dial DialFunc, cfg Config, cb Callbacks, logger *log.Logger) *Session {
	timeout := cfg.SilenceTimeout
	if timeout == 0 {
		timeout = DefaultSilenceTimeout
	}
	return &Session{
		dial:           dial,
		cb:             cb,
		logger:         logger,
		now:            time.Now,
		silenceTimeout: timeout,
		done:           make(chan struct{}),
	}
}

// Start opens the transcription channel. It fails with ConnectionError if
// the channel cannot open; the failure is reported, not retried.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("speech session already started (state %s)", s.state)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	client, err := s.dial(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return &ConnectionError{Err: err}
	}

	s.mu.Lock()
	if s.state == StateClosed {
		// Stopped while connecting.
		s.mu.Unlock()
		_ = client.Close()
		return nil
	}
	s.client = client
	s.state = StateListening
	s.mu.Unlock()

	go s.eventLoop(client)
	return nil
}

// SendAudio forwards one mic frame. Frames are dropped while muted or when
// the session is not listening; the channel itself stays warm.
func (s *Session) SendAudio(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	client := s.client
	ok := s.state == StateListening && !s.muted
	s.mu.Unlock()
	if !ok || client == nil {
		return nil
	}
	return client.SendAudio(ctx, pcm)
}

// SetMuted toggles the mute flag. Muting stops forwarding audio and discards
// transcripts without tearing down the socket, so resume is instant.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

// Muted reports the mute flag.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// State reports the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetCooldown discards all transcripts arriving strictly before deadline.
// The interruption coordinator arms this when assistant playback ends, so
// the mic picking up the tail of the assistant's own speech is not misread
// as new user input.
func (s *Session) SetCooldown(deadline time.Time) {
	s.mu.Lock()
	s.cooldownUntil = deadline
	s.mu.Unlock()
}

// DiscardBuffer drops any accumulated fragments without dispatching them.
func (s *Session) DiscardBuffer() {
	s.mu.Lock()
	s.buf = nil
	s.stopSilenceLocked()
	s.mu.Unlock()
}

// Stop closes the channel and releases capture resources exactly once.
// Pending fragments are cleared without dispatch.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.buf = nil
		s.stopSilenceLocked()
		client := s.client
		s.client = nil
		close(s.done)
		s.mu.Unlock()

		if client != nil {
			if err := client.Close(); err != nil {
				s.logger.Printf("speech: close channel: %v", err)
			}
		}
	})
}

func (s *Session) eventLoop(client stt.Client) {
	for {
		select {
		case <-s.done:
			return

		case err, ok := <-client.Errors():
			if !ok {
				return
			}
			s.logger.Printf("speech: channel error: %v", err)
			if s.cb.OnError != nil {
				s.cb.OnError(err)
			}
			return

		case result, ok := <-client.Results():
			if !ok {
				return
			}
			s.handleResult(result)
		}
	}
}

func (s *Session) handleResult(result stt.Result) {
	s.mu.Lock()
	if s.state != StateListening || s.muted {
		s.mu.Unlock()
		return
	}
	if s.now().Before(s.cooldownUntil) {
		// Echo cooldown: this is most likely the assistant's own voice
		// bouncing back through the mic.
		s.mu.Unlock()
		metrics.EchoDiscards.Inc()
		return
	}
	s.mu.Unlock()

	// Activity fires before the event is applied: a barge-in discards stale
	// fragments and cancels the pending timer, then this event lands in a
	// clean buffer.
	if s.cb.OnActivity != nil {
		s.cb.OnActivity()
	}

	switch {
	case result.UtteranceEnd:
		s.flush()
	case result.Final:
		s.mu.Lock()
		if text := strings.TrimSpace(result.Text); text != "" {
			s.buf = append(s.buf, text)
		}
		s.armSilenceLocked()
		s.mu.Unlock()
	default:
		s.mu.Lock()
		s.armSilenceLocked()
		s.mu.Unlock()
		if s.cb.OnInterim != nil {
			s.cb.OnInterim(result.Text)
		}
	}
}

// flush completes the current utterance: it empties the buffer atomically,
// joins fragments and dispatches the result if non-empty. The explicit
// empty-buffer check makes the provider's utterance-end signal and the
// silence fallback race-safe; whichever fires second is a no-op.
func (s *Session) flush() {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	text := strings.TrimSpace(strings.Join(s.buf, " "))
	s.buf = nil
	s.stopSilenceLocked()
	s.mu.Unlock()

	if text != "" && s.cb.OnUtterance != nil {
		s.cb.OnUtterance(text)
	}
}

// armSilenceLocked restarts the fallback silence timer while fragments are
// pending. An empty buffer needs no fallback, so the timer stays off until
// the first fragment lands. Called with mu held.
func (s *Session) armSilenceLocked() {
	if len(s.buf) == 0 {
		s.stopSilenceLocked()
		return
	}
	if s.silence != nil {
		s.silence.Stop()
	}
	s.silence = time.AfterFunc(s.silenceTimeout, s.flush)
}

// stopSilenceLocked cancels the fallback timer. Called with mu held.
func (s *Session) stopSilenceLocked() {
	if s.silence != nil {
		s.silence.Stop()
		s.silence = nil
	}
}
