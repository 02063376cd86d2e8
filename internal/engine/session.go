// Package engine is the conversation core: it serializes turns against the
// chat backend, segments streamed replies into sentences, drives speech
// synthesis, and coordinates interruption between the listening and speaking
// halves of the pipeline.
package engine

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/mhanzl/vera/internal/llm"
)

// Phase is the conversation phase.
type Phase string

const (
	PhaseOnboarding Phase = "onboarding"
	PhaseProfiling  Phase = "profiling"
	PhaseComplete   Phase = "complete"
)

// Session holds the state of the single active conversation: its phase, the
// ordered message log and any structured result extracted during onboarding.
// The dispatcher and the speech side are its only writers.
type Session struct {
	mu       sync.Mutex
	id       string
	phase    Phase
	messages []llm.Message
	result   json.RawMessage

	// streaming reports whether the last log entry is an assistant message
	// still receiving tokens.
	streaming bool
}

func NewSession() *Session {
	return &Session{
		id:    uuid.NewString(),
		phase: PhaseOnboarding,
	}
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) SetPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Result returns the structured onboarding result, if one has been extracted.
func (s *Session) Result() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) SetResult(r json.RawMessage) {
	s.mu.Lock()
	s.result = r
	s.mu.Unlock()
}

// Messages returns a copy of the ordered message log.
func (s *Session) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.messages...)
}

// AppendUser appends a finalized user utterance to the log.
func (s *Session) AppendUser(text string) {
	s.mu.Lock()
	s.messages = append(s.messages, llm.Message{Role: "user", Content: text})
	s.streaming = false
	s.mu.Unlock()
}

// AppendAssistant appends a complete assistant message.
func (s *Session) AppendAssistant(text string) {
	s.mu.Lock()
	s.messages = append(s.messages, llm.Message{Role: "assistant", Content: text})
	s.streaming = false
	s.mu.Unlock()
}

// AppendToken grows the in-progress assistant message by one streamed token,
// starting a new log entry on the first token of a reply. The transcript is
// readable mid-stream.
func (s *Session) AppendToken(token string) {
	s.mu.Lock()
	if s.streaming && len(s.messages) > 0 {
		s.messages[len(s.messages)-1].Content += token
	} else {
		s.messages = append(s.messages, llm.Message{Role: "assistant", Content: token})
		s.streaming = true
	}
	s.mu.Unlock()
}

// EndAssistant marks the in-progress assistant message as finished.
func (s *Session) EndAssistant() {
	s.mu.Lock()
	s.streaming = false
	s.mu.Unlock()
}

// Reset returns the session to a fresh onboarding state with a new ID.
func (s *Session) Reset() {
	s.mu.Lock()
	s.id = uuid.NewString()
	s.phase = PhaseOnboarding
	s.messages = nil
	s.result = nil
	s.streaming = false
	s.mu.Unlock()
}
