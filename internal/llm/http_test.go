package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func collectTokens(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var out []string
	for {
		select {
		case tok, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, tok)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out reading token stream")
		}
	}
}

func TestConverseStreamedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if req.Phase != "onboarding" || len(req.Messages) != 1 {
			http.Error(w, "bad request shape", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"token\":\"Hello\"}\n\n"))
		_, _ = w.Write([]byte("data: {\"token\":\" there.\"}\n\n"))
		_, _ = w.Write([]byte(": keepalive comment\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{URL: srv.URL})
	reply, err := c.Converse(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Phase:    "onboarding",
	})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if reply.Event != nil {
		t.Fatal("streamed reply classified as structured event")
	}

	tokens := collectTokens(t, reply.Tokens)
	if len(tokens) != 2 || tokens[0] != "Hello" || tokens[1] != " there." {
		t.Errorf("tokens = %q", tokens)
	}
}

func TestConverseStructuredEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"type": "phase_transition",
			"newPhase": "profiling",
			"result": {"name": "Ada"},
			"continueConversation": true
		}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{URL: srv.URL})
	reply, err := c.Converse(context.Background(), Request{Phase: "onboarding"})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if reply.Event == nil {
		t.Fatal("structured event classified as stream")
	}
	ev := reply.Event
	if ev.Type != EventPhaseTransition || ev.NewPhase != "profiling" || !ev.ContinueConversation {
		t.Errorf("event = %+v", ev)
	}
	if string(ev.Result) == "" {
		t.Error("event result not captured")
	}
}

func TestConverseCompleteEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"complete","text":"All done, great work today."}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{URL: srv.URL})
	reply, err := c.Converse(context.Background(), Request{Phase: "profiling"})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if reply.Event == nil || reply.Event.Type != EventComplete {
		t.Fatalf("reply = %+v, want complete event", reply)
	}
	if reply.Event.Text != "All done, great work today." {
		t.Errorf("completion text = %q", reply.Event.Text)
	}
}

func TestConverseRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		errPart string
	}{
		{
			name: "non-success status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
			errPart: "503",
		},
		{
			name: "unknown event type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"type":"mystery"}`))
			},
			errPart: "unknown event type",
		},
		{
			name: "unexpected content type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html>hi</html>"))
			},
			errPart: "unexpected content type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewHTTPClient(HTTPConfig{URL: srv.URL})
			_, err := c.Converse(context.Background(), Request{Phase: "onboarding"})
			if err == nil {
				t.Fatal("Converse accepted a malformed response")
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("error %q does not contain %q", err, tt.errPart)
			}
		})
	}
}

func TestStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"token\":\"first\"}\n\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewHTTPClient(HTTPConfig{URL: srv.URL})
	reply, err := c.Converse(ctx, Request{Phase: "onboarding"})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}

	select {
	case tok := <-reply.Tokens:
		if tok != "first" {
			t.Errorf("token = %q, want %q", tok, "first")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first token")
	}

	cancel()
	select {
	case _, ok := <-reply.Tokens:
		if ok {
			// a buffered token may still slip out; the channel must close next
			if _, ok := <-reply.Tokens; ok {
				t.Error("token channel still open after cancellation")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("token channel did not close after cancellation")
	}
}
