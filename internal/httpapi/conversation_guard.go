package httpapi

import (
	"sync"
)

// ConversationGuard enforces the single-active-conversation rule and
// supports graceful draining: once draining, new conversations are rejected
// while the in-flight one finishes naturally.
//
// The mutex makes the busy/draining check and the WaitGroup increment atomic
// in Acquire, so StartDraining+Wait cannot slip between them.
type ConversationGuard struct {
	mu       sync.Mutex
	active   bool
	draining bool
	wg       sync.WaitGroup
}

// NewConversationGuard creates an empty guard.
func NewConversationGuard() *ConversationGuard {
	return &ConversationGuard{}
}

// Acquire claims the conversation slot. Returns false when a conversation is
// already live or the guard is draining.
func (g *ConversationGuard) Acquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active || g.draining {
		return false
	}
	g.active = true
	g.wg.Add(1)
	return true
}

// Release frees the slot. Releasing an unheld slot is a no-op.
func (g *ConversationGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active {
		return
	}
	g.active = false
	g.wg.Done()
}

// Active reports whether a conversation currently holds the slot.
func (g *ConversationGuard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// StartDraining makes every future Acquire fail.
func (g *ConversationGuard) StartDraining() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.draining = true
}

// IsDraining reports whether the guard is in draining mode.
func (g *ConversationGuard) IsDraining() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draining
}

// Wait blocks until the active conversation, if any, has released.
func (g *ConversationGuard) Wait() {
	g.wg.Wait()
}
