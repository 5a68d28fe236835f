package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kibitzerlive/kibitzer/internal/analyzer"
	"github.com/kibitzerlive/kibitzer/internal/catalog"
	"github.com/kibitzerlive/kibitzer/internal/config"
	"github.com/kibitzerlive/kibitzer/internal/notify"
	"github.com/kibitzerlive/kibitzer/internal/selector"
	"github.com/kibitzerlive/kibitzer/internal/store"
	"github.com/kibitzerlive/kibitzer/internal/supervisor"
	"github.com/kibitzerlive/kibitzer/internal/uci"
	"github.com/kibitzerlive/kibitzer/internal/web"
)

// engineAdapter narrows *uci.Client to what the analyzer needs.
type engineAdapter struct {
	*uci.Client
}

func (e engineAdapter) Analyze(fen string, options map[string]string, multipv int) (analyzer.Analysis, error) {
	return e.Client.Analyze(fen, options, multipv)
}

func main() {
	// Setup logging
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.Development.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	st, err := store.Open(ctx, cfg.DB.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer st.Close()
	if err := st.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database schema")
	}

	// Shared services
	cat := catalog.New(cfg.Catalog.BaseURL, nil)
	notifier := notify.New()
	picker := selector.New(cat, st)
	sup := supervisor.New(st, picker, notifier, cfg.Server.StaticDir)

	// Engines
	var engines []*uci.Client
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, e := range engines {
			if err := e.Quit(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Engine shutdown failed")
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i, ac := range cfg.Analyzers {
		engine, err := uci.New(uci.Config{
			Command:    ac.Command,
			MaxMultiPV: ac.MaxMultiPV,
			ShowPV:     ac.ShowPV,
			SSH:        sshConfig(ac.SSH),
			Options:    uci.StaticOptions(ac.UCIOptions),
		})
		if err != nil {
			log.Fatal().Err(err).Int("analyzer", i).Msg("Failed to start engine")
		}
		engines = append(engines, engine)

		a := analyzer.New(fmt.Sprintf("analyzer-%d", i), st, engineAdapter{engine}, sup, sup)
		g.Go(func() error { return a.Run(gctx) })
	}
	if len(cfg.Analyzers) == 0 {
		log.Warn().Msg("No analyzers configured, serving stored games only")
	}

	// Status heartbeat
	g.Go(func() error { return sup.Run(gctx) })

	// HTTP server
	service := web.NewService(sup, cfg.Server.StaticDir)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      service.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Analysis stopped")
	}
	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func sshConfig(c *config.SSHConfig) *uci.SSHConfig {
	if c == nil {
		return nil
	}
	return &uci.SSHConfig{Host: c.Host, Username: c.Username}
}
