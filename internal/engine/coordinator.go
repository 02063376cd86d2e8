package engine

import (
	"time"
)

// EchoCooldown is the window after assistant playback ends during which
// transcripts are discarded. The mic picks up the tail of the assistant's
// speech from room audio; without suppression that tail reads as new input.
const EchoCooldown = 1000 * time.Millisecond

// Player is the playback side the coordinator can halt. Satisfied by
// audio.Scheduler.
type Player interface {
	ChunkPlayer
	Playing() bool
	SetOnIdle(fn func())
}

// micControl is the slice of the speech session the coordinator touches.
type micControl interface {
	DiscardBuffer()
	SetCooldown(deadline time.Time)
}

// Coordinator is the barge-in rule: user speech while the assistant is
// speaking or about to speak cancels the active turn, clears every queue,
// halts playback and discards the utterance buffer. It also arms the echo
// cooldown whenever playback ends.
type Coordinator struct {
	dispatcher *Dispatcher
	speaker    *Speaker
	player     Player
	mic        micControl
	now        func() time.Time

	onBargeIn func()
}

func NewCoordinator(dispatcher *Dispatcher, speaker *Speaker, player Player, mic micControl) *Coordinator {
	c := &Coordinator{
		dispatcher: dispatcher,
		speaker:    speaker,
		player:     player,
		mic:        mic,
		now:        time.Now,
	}
	player.SetOnIdle(c.playbackIdle)
	return c
}

// SetOnBargeIn installs a hook fired after an interruption has been applied.
func (c *Coordinator) SetOnBargeIn(fn func()) {
	c.onBargeIn = fn
}

// Speaking reports whether the assistant is speaking or about to speak.
func (c *Coordinator) Speaking() bool {
	return c.player.Playing() || c.speaker.Busy() || c.dispatcher.InFlight()
}

// UserSpeech is called for every accepted transcript event. While the
// assistant is speaking it interrupts: turn aborted, turn and sentence
// queues emptied, playback stopped mid-chunk, utterance buffer discarded.
// Safe to call redundantly and with no active turn.
func (c *Coordinator) UserSpeech() {
	if !c.Speaking() {
		return
	}
	c.dispatcher.AbortCurrent()
	c.dispatcher.ClearQueue()
	c.speaker.Clear()
	c.player.Stop()
	c.mic.DiscardBuffer()
	if c.onBargeIn != nil {
		c.onBargeIn()
	}
}

// playbackIdle runs when the player goes idle, whether playback finished
// naturally or was stopped.
func (c *Coordinator) playbackIdle() {
	c.mic.SetCooldown(c.now().Add(EchoCooldown))
}
