package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mhanzl/vera/internal/llm"
	"github.com/mhanzl/vera/internal/speech"
	"github.com/mhanzl/vera/internal/tts"
)

// Callbacks surface pipeline events to the transport layer. All optional.
type Callbacks struct {
	// OnTranscript carries live transcription: interim previews and the
	// finalized utterance (final=true).
	OnTranscript func(text string, final bool)
	// OnAssistantToken fires per streamed assistant token.
	OnAssistantToken func(token string)
	// OnAssistantText fires for a complete assistant message delivered as a
	// structured completion event.
	OnAssistantText func(text string)
	// OnPhase fires after a phase transition.
	OnPhase func(phase Phase)
	// OnBargeIn fires after an interruption has cleared the speaking path.
	OnBargeIn func()
	// OnTurnStarted and OnTurnDone bracket each dispatched turn.
	OnTurnStarted func(utterance string)
	OnTurnDone    func()
	// OnSentenceFailed fires when synthesis of one sentence fails and the
	// sentence is skipped.
	OnSentenceFailed func(err error)
	// OnError carries backend and channel failures, already logged.
	OnError func(err error)
}

// Config wires an Engine to its providers.
type Config struct {
	SpeechDial     speech.DialFunc
	Chat           llm.Client
	Synth          tts.Client
	Player         Player
	SilenceTimeout time.Duration
	Logger         *log.Logger
}

// Engine is one live conversation: the speech session listening, the
// dispatcher speaking through the synthesis pipeline, and the coordinator
// arbitrating between them.
type Engine struct {
	session     *Session
	speech      *speech.Session
	dispatcher  *Dispatcher
	speaker     *Speaker
	coordinator *Coordinator
	logger      *log.Logger

	cancel   context.CancelFunc
	stopOnce sync.Once
}

func New(cfg Config, cb Callbacks) *Engine {
	base, cancel := context.WithCancel(context.Background())

	e := &Engine{
		session: NewSession(),
		logger:  cfg.Logger,
		cancel:  cancel,
	}

	e.speaker = NewSpeaker(cfg.Synth, cfg.Player, cfg.Logger)
	if cb.OnSentenceFailed != nil {
		e.speaker.SetOnSentenceFailed(cb.OnSentenceFailed)
	}

	e.dispatcher = NewDispatcher(base, cfg.Chat, e.session, e.speaker, DispatcherCallbacks{
		OnToken:     cb.OnAssistantToken,
		OnAssistant: cb.OnAssistantText,
		OnPhase:     cb.OnPhase,
		OnTurnError: cb.OnError,
		OnTurnDone:  cb.OnTurnDone,
	}, cfg.Logger)

	e.speech = speech.NewSession(cfg.SpeechDial, speech.Config{
		SilenceTimeout: cfg.SilenceTimeout,
	}, speech.Callbacks{
		OnUtterance: func(text string) {
			if cb.OnTranscript != nil {
				cb.OnTranscript(text, true)
			}
			if cb.OnTurnStarted != nil && e.session.Phase() != PhaseComplete {
				cb.OnTurnStarted(text)
			}
			e.dispatcher.Enqueue(text)
		},
		OnInterim: func(text string) {
			if cb.OnTranscript != nil {
				cb.OnTranscript(text, false)
			}
		},
		OnActivity: func() {
			e.coordinator.UserSpeech()
		},
		OnError: cb.OnError,
	}, cfg.Logger)

	e.coordinator = NewCoordinator(e.dispatcher, e.speaker, cfg.Player, e.speech)
	e.coordinator.SetOnBargeIn(cb.OnBargeIn)

	return e
}

// Start opens the transcription channel and begins listening.
func (e *Engine) Start(ctx context.Context) error {
	return e.speech.Start(ctx)
}

// HandleAudio forwards one mic frame to the transcription channel.
func (e *Engine) HandleAudio(ctx context.Context, pcm []byte) error {
	return e.speech.SendAudio(ctx, pcm)
}

// SetMuted toggles mic forwarding without tearing down the channel.
func (e *Engine) SetMuted(muted bool) { e.speech.SetMuted(muted) }

// Muted reports the mute flag.
func (e *Engine) Muted() bool { return e.speech.Muted() }

// Session exposes the conversation state for the transport layer.
func (e *Engine) Session() *Session { return e.session }

// Speaking reports whether the assistant is speaking or about to speak.
func (e *Engine) Speaking() bool { return e.coordinator.Speaking() }

// Reset aborts anything in flight and returns the conversation to a fresh
// onboarding state. The transcription channel stays open.
func (e *Engine) Reset() {
	e.haltSpeaking()
	e.speech.DiscardBuffer()
	e.session.Reset()
}

// Stop tears the conversation down: turn aborted, queues cleared, playback
// halted, transcription channel closed. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.haltSpeaking()
		e.speech.Stop()
		e.cancel()
	})
}

func (e *Engine) haltSpeaking() {
	e.dispatcher.AbortCurrent()
	e.dispatcher.ClearQueue()
	e.speaker.Clear()
	e.coordinator.player.Stop()
}
