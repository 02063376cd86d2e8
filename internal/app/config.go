package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	DatabaseURL   string // optional; event logging is skipped without it
	LogLevel      string

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
	TTSStability  float64
	TTSSimilarity float64

	// Pipeline settings
	SilenceTimeout time.Duration
	MicSampleRate  int

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Sentry
	SentryDSN string
}

func LoadConfigFromEnv() Config {
	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		LogLevel:      getenv("LOG_LEVEL", "info"),

		STTTokenURL:  getenv("STT_TOKEN_URL", ""),
		STTSocketURL: getenv("STT_SOCKET_URL", ""),
		STTAPIKey:    getenv("STT_API_KEY", ""),
		STTLanguage:  getenv("STT_LANGUAGE", "en"),

		ChatURL:    getenv("CHAT_URL", ""),
		ChatAPIKey: getenv("CHAT_API_KEY", ""),

		TTSURL:        getenv("TTS_URL", ""),
		TTSAPIKey:     getenv("TTS_API_KEY", ""),
		TTSVoiceID:    getenv("TTS_VOICE_ID", ""),
		TTSStability:  getenvFloat("TTS_STABILITY", 0.5),
		TTSSimilarity: getenvFloat("TTS_SIMILARITY", 0.75),

		SilenceTimeout: getenvDuration("SILENCE_TIMEOUT", 2500*time.Millisecond),
		MicSampleRate:  getenvInt("MIC_SAMPLE_RATE", 16000),

		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: getenvDuration("JWT_EXPIRY", 5*time.Minute),

		SentryDSN: getenv("SENTRY_DSN", ""),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
