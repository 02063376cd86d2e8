package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mhanzl/vera/internal/eventlog"
	"github.com/mhanzl/vera/internal/httpapi"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	db       *pgxpool.Pool
	eventLog *eventlog.Logger
}

// New wires the application. The database is optional: without DATABASE_URL
// the event log becomes a no-op and everything else runs normally.
func New(cfg Config, logger *log.Logger) (*App, error) {
	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		db = pool
	} else {
		logger.Printf("app: no DATABASE_URL, event logging disabled")
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		eventLog: eventlog.New(db),
	}, nil
}

func (a *App) Router(guard *httpapi.ConversationGuard) http.Handler {
	routerCfg := httpapi.RouterConfig{
		PublicBaseURL:  a.cfg.PublicBaseURL,
		STTTokenURL:    a.cfg.STTTokenURL,
		STTSocketURL:   a.cfg.STTSocketURL,
		STTAPIKey:      a.cfg.STTAPIKey,
		STTLanguage:    a.cfg.STTLanguage,
		ChatURL:        a.cfg.ChatURL,
		ChatAPIKey:     a.cfg.ChatAPIKey,
		TTSURL:         a.cfg.TTSURL,
		TTSAPIKey:      a.cfg.TTSAPIKey,
		TTSVoiceID:     a.cfg.TTSVoiceID,
		TTSStability:   a.cfg.TTSStability,
		TTSSimilarity:  a.cfg.TTSSimilarity,
		SilenceTimeout: a.cfg.SilenceTimeout,
		MicSampleRate:  a.cfg.MicSampleRate,
		JWTSecret:      a.cfg.JWTSecret,
		JWTExpiry:      a.cfg.JWTExpiry,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.eventLog, guard)
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
