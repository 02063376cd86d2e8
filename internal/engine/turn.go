package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Turn is the cancellation handle for one conversation turn. It owns every
// network request made on the turn's behalf (the chat call and each TTS
// fetch); aborting it ends them all.
type Turn struct {
	ID     string
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewTurn derives a turn from the conversation's base context.
func NewTurn(parent context.Context) *Turn {
	ctx, cancel := context.WithCancel(parent)
	return &Turn{
		ID:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context is the context every operation owned by this turn runs under.
func (t *Turn) Context() context.Context { return t.ctx }

// Abort cancels the turn. Safe to call repeatedly.
func (t *Turn) Abort() {
	t.once.Do(t.cancel)
}

// Aborted reports whether Abort has been called (or the parent ended).
func (t *Turn) Aborted() bool {
	return t.ctx.Err() != nil
}
