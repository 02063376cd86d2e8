package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mhanzl/vera/internal/llm"
	"github.com/mhanzl/vera/internal/stt"
)

type fakeMic struct {
	results chan stt.Result
	errs    chan error
	closed  atomic.Bool
}

func newFakeMic() *fakeMic {
	return &fakeMic{
		results: make(chan stt.Result, 16),
		errs:    make(chan error, 1),
	}
}

func (f *fakeMic) SendAudio(context.Context, []byte) error { return nil }
func (f *fakeMic) Results() <-chan stt.Result              { return f.results }
func (f *fakeMic) Errors() <-chan error                    { return f.errs }
func (f *fakeMic) Close() error                            { f.closed.Store(true); return nil }

type engineRecorder struct {
	mu          sync.Mutex
	transcripts []string
	finals      []string
	tokens      []string
	bargeIns    int
}

func (r *engineRecorder) callbacks() Callbacks {
	return Callbacks{
		OnTranscript: func(text string, final bool) {
			r.mu.Lock()
			if final {
				r.finals = append(r.finals, text)
			} else {
				r.transcripts = append(r.transcripts, text)
			}
			r.mu.Unlock()
		},
		OnAssistantToken: func(token string) {
			r.mu.Lock()
			r.tokens = append(r.tokens, token)
			r.mu.Unlock()
		},
		OnBargeIn: func() {
			r.mu.Lock()
			r.bargeIns++
			r.mu.Unlock()
		},
	}
}

func (r *engineRecorder) bargeInCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bargeIns
}

func (r *engineRecorder) finalList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.finals...)
}

// Full pipeline walk: utterance in, streamed reply out through synthesis and
// playback, then an interruption mid-playback.
func TestEngineConversationWithBargeIn(t *testing.T) {
	reply := "Photosynthesis is how plants [chuckles] make food from light."
	mic := newFakeMic()
	chat := &fakeChat{script: []func(llm.Request) (*llm.Reply, error){
		streamReply("Photosynthesis is how plants ", "[chuckles] make food from light."),
	}}
	synth := &fakeSynth{script: map[string][][]byte{
		reply: {bytesOf(30000)},
	}}
	player := &fakePlayer{}
	rec := &engineRecorder{}

	e := New(Config{
		SpeechDial: func(context.Context) (stt.Client, error) { return mic, nil },
		Chat:       chat,
		Synth:      synth,
		Player:     player,
		Logger:     discardLogger(),
	}, rec.callbacks())
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	mic.results <- stt.Result{Text: "What is photosynthesis", Final: true}
	mic.results <- stt.Result{UtteranceEnd: true}

	waitForState(t, "playback", func() bool {
		sizes := player.chunkSizes()
		return len(sizes) == 1 && sizes[0] >= MinBufferBytes
	})
	if got := rec.finalList(); len(got) != 1 || got[0] != "What is photosynthesis" {
		t.Fatalf("finalized transcripts = %v", got)
	}
	if !e.Speaking() {
		t.Fatal("engine not speaking during playback")
	}

	// User cuts in while the assistant is mid-chunk.
	mic.results <- stt.Result{Text: "wait", Final: false}
	waitForState(t, "barge-in", func() bool { return rec.bargeInCount() == 1 })

	if player.Playing() {
		t.Fatal("playback still running after barge-in")
	}
	if e.dispatcher.InFlight() {
		t.Fatal("turn still in flight after barge-in")
	}

	// The tail of the assistant's own speech bounces back inside the echo
	// cooldown and must not start a new turn.
	mic.results <- stt.Result{Text: "make food from light", Final: true}
	mic.results <- stt.Result{UtteranceEnd: true}
	time.Sleep(50 * time.Millisecond)
	if calls := chat.callList(); len(calls) != 1 {
		t.Fatalf("chat calls = %d, want 1 (echo must not dispatch)", len(calls))
	}

	msgs := e.Session().Messages()
	if len(msgs) < 2 || msgs[1].Role != "assistant" {
		t.Fatalf("session log = %v", msgs)
	}
}

// An interruption that lands as a final fragment loses the provider's
// end-of-utterance to the echo cooldown; the silence fallback must still
// dispatch it, alone, as the next turn.
func TestEngineBargeInFinalFragmentDispatches(t *testing.T) {
	reply := "Photosynthesis is how plants make food from light."
	mic := newFakeMic()
	chat := &fakeChat{script: []func(llm.Request) (*llm.Reply, error){
		streamReply(reply),
		streamReply("Sure, go ahead."),
	}}
	synth := &fakeSynth{script: map[string][][]byte{
		reply:             {bytesOf(30000)},
		"Sure, go ahead.": {bytesOf(24000)},
	}}
	player := &fakePlayer{}
	rec := &engineRecorder{}

	e := New(Config{
		SpeechDial:     func(context.Context) (stt.Client, error) { return mic, nil },
		Chat:           chat,
		Synth:          synth,
		Player:         player,
		SilenceTimeout: 30 * time.Millisecond,
		Logger:         discardLogger(),
	}, rec.callbacks())
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	mic.results <- stt.Result{Text: "What is photosynthesis", Final: true}
	mic.results <- stt.Result{UtteranceEnd: true}
	waitForState(t, "playback", func() bool { return len(player.chunkSizes()) == 1 })

	// The interrupting speech finalizes immediately; its end-of-utterance
	// signal falls inside the just-armed cooldown.
	mic.results <- stt.Result{Text: "wait", Final: true}
	mic.results <- stt.Result{UtteranceEnd: true}
	waitForState(t, "barge-in", func() bool { return rec.bargeInCount() == 1 })

	waitForState(t, "interrupting turn", func() bool { return len(chat.callList()) == 2 })
	msgs := chat.callList()[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != "user" || last.Content != "wait" {
		t.Fatalf("interrupting turn user message = %+v", last)
	}
}

func TestEngineResetClearsConversation(t *testing.T) {
	mic := newFakeMic()
	chat := &fakeChat{script: []func(llm.Request) (*llm.Reply, error){
		streamReply("Hi there."),
	}}
	rec := &engineRecorder{}
	player := &fakePlayer{}

	e := New(Config{
		SpeechDial: func(context.Context) (stt.Client, error) { return mic, nil },
		Chat:       chat,
		Synth:      &fakeSynth{},
		Player:     player,
		Logger:     discardLogger(),
	}, rec.callbacks())
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	mic.results <- stt.Result{Text: "hello", Final: true}
	mic.results <- stt.Result{UtteranceEnd: true}
	waitForState(t, "turn recorded", func() bool { return len(e.Session().Messages()) == 2 })

	oldID := e.Session().ID()
	e.Session().SetPhase(PhaseProfiling)
	e.Reset()

	if got := e.Session().Messages(); len(got) != 0 {
		t.Errorf("messages after reset = %v", got)
	}
	if e.Session().Phase() != PhaseOnboarding {
		t.Errorf("phase after reset = %s", e.Session().Phase())
	}
	if e.Session().ID() == oldID {
		t.Error("session ID unchanged after reset")
	}
}

func TestEngineStopIdempotent(t *testing.T) {
	mic := newFakeMic()
	e := New(Config{
		SpeechDial: func(context.Context) (stt.Client, error) { return mic, nil },
		Chat:       &fakeChat{},
		Synth:      &fakeSynth{},
		Player:     &fakePlayer{},
		Logger:     discardLogger(),
	}, Callbacks{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	e.Stop()
	e.Stop()
	if !mic.closed.Load() {
		t.Fatal("transcription channel not closed")
	}
}
