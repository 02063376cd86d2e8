package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/mhanzl/vera/internal/llm"
)

// DispatcherCallbacks surface turn progress to the transport layer. All are
// optional and invoked from the dispatcher's drain goroutine.
type DispatcherCallbacks struct {
	// OnToken fires for every streamed assistant token.
	OnToken func(token string)
	// OnAssistant fires once per complete assistant message (a structured
	// completion event's final text).
	OnAssistant func(text string)
	// OnPhase fires after a phase transition has been applied.
	OnPhase func(phase Phase)
	// OnTurnError fires when a turn is abandoned on a backend failure.
	OnTurnError func(err error)
	// OnTurnDone fires after each turn's network call has fully resolved,
	// whatever the outcome.
	OnTurnDone func()
}

// Dispatcher serializes conversation turns: at most one request to the chat
// backend is in flight at any time, and queued utterances are processed
// strictly in FIFO order. A turn's network call must return before the next
// begins; its TTS and playback may still be running.
type Dispatcher struct {
	client  llm.Client
	session *Session
	speaker *Speaker
	logger  *log.Logger
	cb      DispatcherCallbacks

	base context.Context

	mu       sync.Mutex
	queue    []string
	draining bool
	current  *Turn
}

func NewDispatcher(base context.Context, client llm.Client, session *Session, speaker *Speaker, cb DispatcherCallbacks, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		client:  client,
		session: session,
		speaker: speaker,
		logger:  logger,
		cb:      cb,
		base:    base,
	}
}

// Enqueue adds a finalized utterance to the turn queue. Once the session has
// reached the complete phase further utterances are dropped. A second
// enqueue while draining only appends; it never starts a parallel worker.
func (d *Dispatcher) Enqueue(utterance string) {
	if utterance == "" {
		return
	}
	if d.session.Phase() == PhaseComplete {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, utterance)
	if !d.draining {
		d.draining = true
		go d.drain()
	}
	d.mu.Unlock()
}

// AbortCurrent cancels the in-flight turn, if any. Safe with no active turn.
func (d *Dispatcher) AbortCurrent() {
	d.mu.Lock()
	turn := d.current
	d.mu.Unlock()
	if turn != nil {
		turn.Abort()
	}
}

// InFlight reports whether a turn's network call is currently outstanding.
func (d *Dispatcher) InFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil
}

// ClearQueue drops all pending utterances without processing them.
func (d *Dispatcher) ClearQueue() {
	d.mu.Lock()
	d.queue = nil
	d.mu.Unlock()
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.draining = false
			d.mu.Unlock()
			return
		}
		utterance := d.queue[0]
		d.queue = d.queue[1:]
		turn := NewTurn(d.base)
		d.current = turn
		d.mu.Unlock()

		d.runTurn(turn, utterance)

		d.mu.Lock()
		if d.current == turn {
			d.current = nil
		}
		d.mu.Unlock()

		if d.cb.OnTurnDone != nil {
			d.cb.OnTurnDone()
		}
	}
}

func (d *Dispatcher) runTurn(turn *Turn, utterance string) {
	d.session.AppendUser(utterance)

	if err := d.converse(turn); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		d.logger.Printf("dispatcher: turn abandoned: %v", err)
		if d.cb.OnTurnError != nil {
			d.cb.OnTurnError(err)
		}
	}
}

// converse issues one backend request and handles the reply. A phase
// transition that asks to continue triggers exactly one follow-up request
// under the new phase, within the same turn.
func (d *Dispatcher) converse(turn *Turn) error {
	for {
		reply, err := d.client.Converse(turn.Context(), llm.Request{
			Messages: d.session.Messages(),
			Phase:    string(d.session.Phase()),
			Result:   d.session.Result(),
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return context.Canceled
			}
			return &BackendError{Op: "chat", Err: err}
		}

		switch {
		case reply.Event != nil:
			again, err := d.handleEvent(turn, reply.Event)
			if err != nil || !again {
				return err
			}
			// Loop for the follow-up request under the new phase.

		case reply.Tokens != nil:
			return d.handleStream(turn, reply.Tokens)

		default:
			return &BackendError{Op: "chat", Err: errors.New("reply carries neither event nor stream")}
		}
	}
}

func (d *Dispatcher) handleEvent(turn *Turn, event *llm.Event) (again bool, err error) {
	switch event.Type {
	case llm.EventPhaseTransition:
		phase, ok := parsePhase(event.NewPhase)
		if !ok {
			return false, &BackendError{Op: "chat", Err: fmt.Errorf("unknown phase %q", event.NewPhase)}
		}
		d.session.SetPhase(phase)
		if len(event.Result) > 0 {
			d.session.SetResult(event.Result)
		}
		if d.cb.OnPhase != nil {
			d.cb.OnPhase(phase)
		}
		return event.ContinueConversation && !turn.Aborted(), nil

	case llm.EventComplete:
		d.session.AppendAssistant(event.Text)
		if d.cb.OnAssistant != nil {
			d.cb.OnAssistant(event.Text)
		}
		d.speakText(turn, event.Text)
		return false, nil

	default:
		return false, &BackendError{Op: "chat", Err: fmt.Errorf("unknown event type %q", event.Type)}
	}
}

// handleStream appends tokens to the session log as they arrive and feeds
// the segmenter, queuing each completed sentence for synthesis.
func (d *Dispatcher) handleStream(turn *Turn, tokens <-chan string) error {
	var seg Segmenter
	for token := range tokens {
		if turn.Aborted() {
			// Drain the channel so the client goroutine can exit.
			continue
		}
		d.session.AppendToken(token)
		if d.cb.OnToken != nil {
			d.cb.OnToken(token)
		}
		for _, sentence := range seg.Push(token) {
			d.speaker.Enqueue(turn, sentence)
		}
	}
	d.session.EndAssistant()
	if turn.Aborted() {
		return context.Canceled
	}
	if tail := seg.Flush(); tail != "" {
		d.speaker.Enqueue(turn, tail)
	}
	return nil
}

// speakText queues a complete message for synthesis sentence by sentence.
func (d *Dispatcher) speakText(turn *Turn, text string) {
	var seg Segmenter
	for _, sentence := range seg.Push(text) {
		d.speaker.Enqueue(turn, sentence)
	}
	if tail := seg.Flush(); tail != "" {
		d.speaker.Enqueue(turn, tail)
	}
}

func parsePhase(s string) (Phase, bool) {
	switch Phase(s) {
	case PhaseOnboarding, PhaseProfiling, PhaseComplete:
		return Phase(s), true
	}
	return "", false
}
