package engine

import "fmt"

// BackendError reports a chat or synthesis call that failed or returned a
// shape the engine does not understand. The affected turn or sentence is
// abandoned and the queue continues; nothing is retried.
type BackendError struct {
	Op  string // "chat" or "tts"
	Err error
}

func (e *BackendError) Error() string { return fmt.Sprintf("%s backend: %v", e.Op, e.Err) }
func (e *BackendError) Unwrap() error { return e.Err }
