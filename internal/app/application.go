package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"commandcenter/internal/aggregate"
	"commandcenter/internal/api"
	"commandcenter/internal/config"
	"commandcenter/internal/emr"
	"commandcenter/internal/hub"
	"commandcenter/internal/pacs"
	"commandcenter/internal/store"
	"commandcenter/internal/summary"
	"commandcenter/internal/ws"
)

const emrFetchTimeout = 10 * time.Second

// Application wires every component of the command center and owns their
// lifecycle. Initialization follows dependency order:
// store → external sources → aggregator → hub → websocket handler → HTTP.
type Application struct {
	cfg        *config.Config
	log        zerolog.Logger
	db         *store.Manager
	imaging    *pacs.Connector
	aggregator *aggregate.Service
	messageHub *hub.Hub
	httpServer *http.Server
}

func New(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	imaging := pacs.New(pacs.Config{
		BaseURL:      cfg.PACSURL,
		Username:     cfg.PACSUsername,
		Password:     cfg.PACSPassword,
		Headless:     cfg.PACSHeadless,
		PollInterval: cfg.PACSPollInterval,
		PollAttempts: cfg.PACSPollAttempts,
	}, log)
	if cfg.PACSURL == "" {
		log.Warn().Msg("pacs url not set, imaging section will be unavailable")
	}

	emrClient := emr.New(cfg.EMRURL, emrFetchTimeout)

	summarizer := summary.New(summary.Config{
		APIKey: cfg.AnthropicAPIKey,
		Model:  cfg.AnthropicModel,
	})

	aggregator := aggregate.New(db, emrClient, imaging, summarizer, aggregate.Options{
		TTL:        cfg.CacheTTL,
		MaxEntries: cfg.CacheMaxEntries,
	}, log)

	registry := hub.NewRegistry()
	messageHub := hub.New(registry, db, log)

	wsHandler := ws.NewHandler(messageHub, ws.Options{
		ReadTimeout:  cfg.WSReadTimeout,
		WriteTimeout: cfg.WSWriteTimeout,
		PingInterval: cfg.WSPingInterval,
		BufferSize:   cfg.WSBufferSize,
	}, log)

	apiServer := api.NewServer(aggregator, messageHub, log)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle("/ws", wsHandler)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log.With().Str("component", "app").Logger(),
		db:         db,
		imaging:    imaging,
		aggregator: aggregator,
		messageHub: messageHub,
		httpServer: httpServer,
	}, nil
}

// Start brings the hub online and begins serving HTTP. The hub starts
// first so websocket upgrades always have a running message loop.
func (a *Application) Start(ctx context.Context) error {
	a.log.Info().Str("addr", a.httpServer.Addr).Msg("starting command center")

	if err := a.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("start hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		a.messageHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		a.log.Info().Msg("command center started")
		return nil
	case <-ctx.Done():
		a.messageHub.Stop()
		return ctx.Err()
	}
}

// Stop shuts everything down in reverse dependency order:
// HTTP → hub → browser session → store.
func (a *Application) Stop(ctx context.Context) error {
	a.log.Info().Msg("shutting down")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("http shutdown")
	}
	if err := a.messageHub.Stop(); err != nil {
		a.log.Warn().Err(err).Msg("hub shutdown")
	}
	if err := a.imaging.Close(); err != nil {
		a.log.Warn().Err(err).Msg("imaging shutdown")
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("store shutdown")
	}

	a.log.Info().Msg("shutdown complete")
	return nil
}

// Addr returns the bound HTTP address.
func (a *Application) Addr() string {
	return a.httpServer.Addr
}
