package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mhanzl/vera/internal/eventlog"
)

type RouterConfig struct {
	PublicBaseURL string

	// Transcription provider
	STTTokenURL  string
	STTSocketURL string
	STTAPIKey    string
	STTLanguage  string

	// Chat backend
	ChatURL    string
	ChatAPIKey string

	// Speech synthesis
	TTSURL        string
	TTSAPIKey     string
	TTSVoiceID    string
	TTSStability  float64 // voice stability (0.0-1.0)
	TTSSimilarity float64 // voice similarity boost (0.0-1.0)

	// Pipeline settings
	SilenceTimeout time.Duration // utterance fallback, default 2500ms
	MicSampleRate  int           // client mic sample rate

	// JWT authentication
	JWTSecret string
	JWTExpiry time.Duration
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	eventLog *eventlog.Logger
	guard    *ConversationGuard
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, eventLog *eventlog.Logger, guard *ConversationGuard) http.Handler {
	r := &Router{
		cfg:      cfg,
		logger:   logger,
		eventLog: eventLog,
		guard:    guard,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	// Session token (public), then the live conversation socket
	r.mux.HandleFunc("POST /v1/token", r.handleToken)
	r.mux.HandleFunc("GET /v1/converse", r.handleConverse)
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
