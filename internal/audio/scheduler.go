package audio

import (
	"log"
	"sync"
	"time"
)

// Scheduler plays ordered PCM chunks back-to-back on a Sink. Each chunk is
// scheduled to start exactly at the playback clock, and the clock advances by
// the chunk's duration, so playback is gapless and non-overlapping as long as
// chunks arrive before their scheduled start. A single drain goroutine
// consumes the queue; it writes one chunk, then waits out that chunk's
// duration before evaluating the next.
type Scheduler struct {
	sink   Sink
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	queue    [][]byte
	draining bool
	gen      int       // bumped by Stop to invalidate in-flight waits
	clock    time.Time // next scheduled start; zero means unset
	onIdle   func()

	wake chan struct{}
}

// NewScheduler creates a scheduler writing to sink.
func NewScheduler(sink Sink, logger *log.Logger) *Scheduler {
	return &Scheduler{
		sink:   sink,
		logger: logger,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

// SetOnIdle registers a hook fired once whenever playback ends, either by
// draining naturally or by Stop. The caller uses it to arm the echo cooldown.
func (s *Scheduler) SetOnIdle(fn func()) {
	s.mu.Lock()
	s.onIdle = fn
	s.mu.Unlock()
}

// Enqueue appends a chunk to the playback queue and starts the drain loop if
// it is not already running. Chunks shorter than one sample are ignored.
func (s *Scheduler) Enqueue(pcm []byte) {
	if len(pcm) < BytesPerSample {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, pcm)
	if !s.draining {
		s.draining = true
		go s.drain()
	}
	s.mu.Unlock()
	s.signalWake()
}

// Stop immediately halts the currently sounding chunk, discards all queued
// chunks and resets the clock. Calling Stop while idle is a no-op; calling it
// repeatedly is safe.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	active := len(s.queue) > 0 || !s.clock.IsZero()
	s.queue = nil
	s.clock = time.Time{}
	s.gen++
	idle := s.onIdle
	s.mu.Unlock()
	if !active {
		return
	}
	s.signalWake()
	if err := s.sink.Clear(); err != nil {
		s.logger.Printf("audio: sink clear: %v", err)
	}
	if idle != nil {
		idle()
	}
}

// Playing reports whether audio is queued or still sounding.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) > 0 || !s.clock.IsZero()
}

// Clock returns the next scheduled start time, or the zero time when unset.
func (s *Scheduler) Clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			if s.clock.IsZero() {
				s.draining = false
				s.mu.Unlock()
				return
			}
			// Tail chunk is still sounding. Wait for its end, for new
			// chunks, or for Stop.
			end := s.clock
			gen := s.gen
			idle := s.onIdle
			s.mu.Unlock()

			s.sleepOrWake(end)

			s.mu.Lock()
			if s.gen == gen && len(s.queue) == 0 && !s.now().Before(end) {
				// Playback finished naturally.
				s.clock = time.Time{}
				s.draining = false
				s.mu.Unlock()
				if idle != nil {
					idle()
				}
				return
			}
			s.mu.Unlock()
			continue
		}

		chunk := s.queue[0]
		s.queue = s.queue[1:]
		start := s.clock
		if start.IsZero() {
			start = s.now()
		}
		s.clock = start.Add(Duration(len(chunk)))
		gen := s.gen
		s.mu.Unlock()

		if !s.waitUntil(start, gen) {
			continue // stopped mid-wait
		}
		if err := s.sink.Write(shapeChunk(chunk)); err != nil {
			s.logger.Printf("audio: sink write: %v", err)
		}
	}
}

// waitUntil sleeps until t, re-arming across spurious wakes. It returns false
// if Stop invalidated the wait.
func (s *Scheduler) waitUntil(t time.Time, gen int) bool {
	for {
		s.mu.Lock()
		cur := s.gen
		s.mu.Unlock()
		if cur != gen {
			return false
		}
		d := t.Sub(s.now())
		if d <= 0 {
			return true
		}
		s.sleepOrWake(t)
	}
}

// sleepOrWake blocks until t or until the wake channel fires, whichever is
// first. Callers re-read scheduler state afterwards.
func (s *Scheduler) sleepOrWake(t time.Time) {
	d := t.Sub(s.now())
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.wake:
	}
}
