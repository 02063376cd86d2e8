package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/websocket"

	"github.com/mhanzl/vera/internal/audio"
	"github.com/mhanzl/vera/internal/engine"
	"github.com/mhanzl/vera/internal/eventlog"
	"github.com/mhanzl/vera/internal/llm"
	"github.com/mhanzl/vera/internal/metrics"
	"github.com/mhanzl/vera/internal/speech"
	"github.com/mhanzl/vera/internal/stt"
	"github.com/mhanzl/vera/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is an inbound socket message.
type clientFrame struct {
	Type    string `json:"type"`              // "audio", "mute", "reset", "stop"
	Payload string `json:"payload,omitempty"` // base64 PCM16 mic audio
	Muted   bool   `json:"muted,omitempty"`
}

// serverFrame is an outbound socket message.
type serverFrame struct {
	Type    string `json:"type"` // "audio", "transcript", "assistant", "status", "clear", "phase"
	Payload string `json:"payload,omitempty"`
	Text    string `json:"text,omitempty"`
	Final   bool   `json:"final,omitempty"`
	Phase   string `json:"phase,omitempty"`
	State   string `json:"state,omitempty"`
	Error   string `json:"error,omitempty"`
}

// converseSession is one live conversation bound to a socket.
type converseSession struct {
	conn     *websocket.Conn
	logger   *log.Logger
	eventLog *eventlog.Logger
	convID   string

	writeMu sync.Mutex

	turnMu      sync.Mutex
	turnStarted time.Time
}

func (s *converseSession) sendFrame(f serverFrame) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(f); err != nil {
		s.logger.Printf("converse: write %s frame: %v", f.Type, err)
	}
}

// wsSink streams assistant PCM to the client. Clear maps to the protocol's
// clear frame so the client can drop buffered audio on barge-in.
type wsSink struct {
	session *converseSession
}

func (ws *wsSink) Write(pcm []byte) error {
	ws.session.sendFrame(serverFrame{
		Type:    "audio",
		Payload: base64.StdEncoding.EncodeToString(pcm),
	})
	return nil
}

func (ws *wsSink) Clear() error {
	ws.session.sendFrame(serverFrame{Type: "clear"})
	return nil
}

func (r *Router) handleConverse(w http.ResponseWriter, req *http.Request) {
	claims, err := r.verifySessionToken(req)
	if err != nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if !r.guard.Acquire() {
		http.Error(w, `{"error": "conversation already active"}`, http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.guard.Release()
		r.logger.Printf("converse: upgrade failed: %v", err)
		return
	}

	session := &converseSession{
		conn:     conn,
		logger:   r.logger,
		eventLog: r.eventLog,
		convID:   claims.ConversationID,
	}

	metrics.ActiveConversations.Inc()
	r.eventLog.LogAsync(session.convID, eventlog.EventConversationStarted, nil)

	r.runConversation(req.Context(), session)

	r.eventLog.LogAsync(session.convID, eventlog.EventConversationEnded, nil)
	metrics.ActiveConversations.Dec()
	r.guard.Release()
	_ = conn.Close()
}

func (r *Router) runConversation(ctx context.Context, s *converseSession) {
	sink := &wsSink{session: s}
	player := audio.NewScheduler(sink, r.logger)

	eng := engine.New(engine.Config{
		SpeechDial:     r.speechDial(),
		Chat:           llm.NewHTTPClient(llm.HTTPConfig{URL: r.cfg.ChatURL, APIKey: r.cfg.ChatAPIKey}),
		Synth:          tts.NewHTTPClient(tts.HTTPConfig{URL: r.cfg.TTSURL, APIKey: r.cfg.TTSAPIKey, VoiceID: r.cfg.TTSVoiceID, Stability: r.cfg.TTSStability, Similarity: r.cfg.TTSSimilarity}),
		Player:         player,
		SilenceTimeout: r.cfg.SilenceTimeout,
		Logger:         r.logger,
	}, engine.Callbacks{
		OnTranscript: func(text string, final bool) {
			s.sendFrame(serverFrame{Type: "transcript", Text: text, Final: final})
			if final {
				metrics.Utterances.Inc()
				s.eventLog.LogAsync(s.convID, eventlog.EventUtteranceFinalized, map[string]any{"text": text})
			}
		},
		OnAssistantToken: func(token string) {
			s.sendFrame(serverFrame{Type: "assistant", Text: token})
		},
		OnAssistantText: func(text string) {
			s.sendFrame(serverFrame{Type: "assistant", Text: text, Final: true})
		},
		OnPhase: func(phase engine.Phase) {
			s.sendFrame(serverFrame{Type: "phase", Phase: string(phase)})
			s.eventLog.LogAsync(s.convID, eventlog.EventPhaseTransition, map[string]any{"phase": string(phase)})
		},
		OnBargeIn: func() {
			metrics.BargeIns.Inc()
			s.eventLog.LogAsync(s.convID, eventlog.EventBargeIn, nil)
			s.eventLog.LogAsync(s.convID, eventlog.EventPlaybackStopped, nil)
		},
		OnTurnStarted: func(utterance string) {
			metrics.Turns.Inc()
			s.turnMu.Lock()
			s.turnStarted = time.Now()
			s.turnMu.Unlock()
			s.eventLog.LogAsync(s.convID, eventlog.EventTurnStarted, map[string]any{"utterance": utterance})
		},
		OnTurnDone: func() {
			s.turnMu.Lock()
			started := s.turnStarted
			s.turnMu.Unlock()
			if !started.IsZero() {
				metrics.TurnLatencyMS.Observe(float64(time.Since(started).Milliseconds()))
			}
			s.eventLog.LogAsync(s.convID, eventlog.EventTurnCompleted, nil)
		},
		OnSentenceFailed: func(err error) {
			metrics.TTSSentenceFailures.Inc()
			s.eventLog.LogAsync(s.convID, eventlog.EventTTSSentenceFailed, map[string]any{"error": err.Error()})
		},
		OnError: func(err error) {
			var backendErr *engine.BackendError
			if errors.As(err, &backendErr) {
				metrics.TurnFailures.Inc()
				s.eventLog.LogAsync(s.convID, eventlog.EventTurnFailed, map[string]any{"error": err.Error()})
			}
			sentry.CaptureException(err)
			s.sendFrame(serverFrame{Type: "status", Error: err.Error()})
		},
	})
	defer eng.Stop()

	if err := eng.Start(ctx); err != nil {
		r.logger.Printf("converse: start failed: %v", err)
		sentry.CaptureException(err)
		s.sendFrame(serverFrame{Type: "status", Error: "transcription channel unavailable"})
		return
	}
	s.sendFrame(serverFrame{Type: "status", State: "listening"})
	s.sendFrame(serverFrame{Type: "phase", Phase: string(eng.Session().Phase())})

	r.readLoop(ctx, s, eng)
}

func (r *Router) readLoop(ctx context.Context, s *converseSession, eng *engine.Engine) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Printf("converse: read: %v", err)
			}
			return
		}

		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			r.logger.Printf("converse: bad frame: %v", err)
			continue
		}

		switch f.Type {
		case "audio":
			pcm, err := base64.StdEncoding.DecodeString(f.Payload)
			if err != nil {
				r.logger.Printf("converse: bad audio payload: %v", err)
				continue
			}
			if err := eng.HandleAudio(ctx, pcm); err != nil {
				r.logger.Printf("converse: forward audio: %v", err)
			}

		case "mute":
			eng.SetMuted(f.Muted)
			s.sendFrame(serverFrame{Type: "status", State: muteState(f.Muted)})

		case "reset":
			eng.Reset()
			s.eventLog.LogAsync(s.convID, eventlog.EventConversationReset, nil)
			s.sendFrame(serverFrame{Type: "status", State: "reset"})
			s.sendFrame(serverFrame{Type: "phase", Phase: string(eng.Session().Phase())})

		case "stop":
			eng.Stop()
			return

		default:
			r.logger.Printf("converse: unknown frame type %q", f.Type)
		}
	}
}

func muteState(muted bool) string {
	if muted {
		return "muted"
	}
	return "listening"
}

// speechDial opens the transcription channel for one conversation.
func (r *Router) speechDial() speech.DialFunc {
	sampleRate := r.cfg.MicSampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return func(ctx context.Context) (stt.Client, error) {
		return stt.Dial(ctx, stt.StreamConfig{
			TokenURL:   r.cfg.STTTokenURL,
			SocketURL:  r.cfg.STTSocketURL,
			APIKey:     r.cfg.STTAPIKey,
			Language:   r.cfg.STTLanguage,
			SampleRate: sampleRate,
		})
	}
}
