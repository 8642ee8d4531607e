package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campaign-preview-engine/internal/api"
	"campaign-preview-engine/internal/config"
	"campaign-preview-engine/internal/listener"
	"campaign-preview-engine/internal/observability"
	"campaign-preview-engine/internal/preview"
	"campaign-preview-engine/internal/render"
	"campaign-preview-engine/internal/storage"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
)

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, err := storage.New(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	defer store.Close()

	// Template cache
	templates := storage.NewTemplateCache()
	if err := warmCache(rootCtx, templates, store); err != nil {
		log.Fatal().Err(err).Msg("initial template cache build")
	}

	// HTTP
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newHandler(cfg, store, templates),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.RequestTimeout() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Listener (LISTEN/NOTIFY)
	go listener.ListenAndRefresh(rootCtx, store, templates, cfg.Listener.Channel, cfg.Backoff())

	// Server goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	// Wait for signal
	waitForSignal()
	log.Info().Msg("shutdown...")

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

func newHandler(cfg config.Config, store preview.Store, templates *storage.TemplateCache) http.Handler {
	renderer := render.New(render.NewFormatter(locale(cfg.Render.Locale)))
	svc := preview.NewService(store, templates, renderer, cfg.Preview.BatchConcurrency)
	return api.Router(api.NewPreviewHandler(svc), cfg.Server.AllowedOrigins, cfg.RequestTimeout())
}

func warmCache(ctx context.Context, templates *storage.TemplateCache, l storage.TemplateLoader) error {
	n, err := templates.Reload(ctx, l)
	if err != nil {
		return err
	}
	observability.TemplateCacheSize.Set(float64(n))
	log.Info().Int("templates", n).Msg("template cache loaded")
	return nil
}

func locale(s string) language.Tag {
	tag, err := language.Parse(s)
	if err != nil {
		log.Warn().Err(err).Str("locale", s).Msg("unknown locale; using default")
		return render.DefaultLocale
	}
	return tag
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
