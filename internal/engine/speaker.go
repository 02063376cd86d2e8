package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mhanzl/vera/internal/audio"
	"github.com/mhanzl/vera/internal/metrics"
	"github.com/mhanzl/vera/internal/tts"
)

// MinBufferBytes is the minimum audio handed to playback at once: 500ms at
// 16-bit/24kHz. Buffering this much absorbs network jitter without audible
// stutter. Only the final flush of a sentence may be smaller.
const MinBufferBytes = 24000

// ChunkPlayer receives ready-to-play PCM chunks. Satisfied by
// audio.Scheduler.
type ChunkPlayer interface {
	Enqueue(pcm []byte)
	Stop()
}

type queuedSentence struct {
	turn *Turn
	text string
}

// Speaker drains the sentence queue: one streaming synthesis request at a
// time, in order, each bound to its turn's cancellation signal. Failed
// sentences are logged and skipped.
type Speaker struct {
	client tts.Client
	player ChunkPlayer
	logger *log.Logger

	onSentenceFailed func(err error)

	mu       sync.Mutex
	queue    []queuedSentence
	draining bool
}

func NewSpeaker(client tts.Client, player ChunkPlayer, logger *log.Logger) *Speaker {
	return &Speaker{
		client: client,
		player: player,
		logger: logger,
	}
}

// SetOnSentenceFailed installs a hook called when synthesis of one sentence
// fails. Used for metrics and event logging.
func (sp *Speaker) SetOnSentenceFailed(fn func(err error)) {
	sp.mu.Lock()
	sp.onSentenceFailed = fn
	sp.mu.Unlock()
}

// Enqueue queues one sentence for synthesis under the given turn, starting
// the drain loop if it is not running. Only one drain loop ever runs.
func (sp *Speaker) Enqueue(turn *Turn, text string) {
	if text == "" {
		return
	}
	sp.mu.Lock()
	sp.queue = append(sp.queue, queuedSentence{turn: turn, text: text})
	if !sp.draining {
		sp.draining = true
		go sp.drain()
	}
	sp.mu.Unlock()
}

// Clear drops every queued sentence. The sentence currently synthesizing is
// not touched here; its turn's cancellation ends it.
func (sp *Speaker) Clear() {
	sp.mu.Lock()
	sp.queue = nil
	sp.mu.Unlock()
}

// Busy reports whether a synthesis drain is in progress.
func (sp *Speaker) Busy() bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.draining
}

func (sp *Speaker) drain() {
	for {
		sp.mu.Lock()
		if len(sp.queue) == 0 {
			sp.draining = false
			sp.mu.Unlock()
			return
		}
		item := sp.queue[0]
		sp.queue = sp.queue[1:]
		sp.mu.Unlock()

		if item.turn.Aborted() {
			continue
		}
		if err := sp.speak(item.turn.Context(), item.text); err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			sp.logger.Printf("speaker: synthesis failed, skipping sentence: %v", err)
			sp.mu.Lock()
			failed := sp.onSentenceFailed
			sp.mu.Unlock()
			if failed != nil {
				failed(err)
			}
		}
	}
}

// speak synthesizes one sentence and feeds the player as audio arrives.
// Bytes accumulate until MinBufferBytes is reached, then a chunk is cut on
// an even byte boundary; the sub-threshold remainder carries into the next
// read and is flushed at stream end if it holds at least one sample.
func (sp *Speaker) speak(ctx context.Context, text string) error {
	requested := time.Now()
	firstChunk := true

	stream, err := sp.client.SynthesizeStream(ctx, text)
	if err != nil {
		return &BackendError{Op: "tts", Err: err}
	}

	emit := func(pcm []byte) {
		if firstChunk {
			metrics.TTSFirstChunkMS.Observe(float64(time.Since(requested).Milliseconds()))
			firstChunk = false
		}
		metrics.ScheduledAudioSeconds.Add(audio.Duration(len(pcm)).Seconds())
		sp.player.Enqueue(pcm)
	}

	var carry []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-stream:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !ok {
				if len(carry) >= 2 {
					emit(carry)
				}
				return nil
			}
			carry = append(carry, data...)
			for len(carry) >= MinBufferBytes {
				cut := len(carry) &^ 1
				emit(carry[:cut:cut])
				carry = append([]byte(nil), carry[cut:]...)
			}
		}
	}
}
