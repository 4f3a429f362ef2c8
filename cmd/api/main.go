// Command api runs the Controller-facing HTTP server: upload, process-start,
// status, streaming, download, and schema endpoints (spec.md §6). The
// worker pool runs as a separate process (cmd/worker) since spec.md §5
// describes Controller and WorkerPool as independent processes sharing a
// database. Grounded on the source's cmd/app/main.go wiring shape.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/docengine/internal/config"
	logpkg "github.com/local/docengine/internal/logger"
	mpkg "github.com/local/docengine/internal/metrics"
	"github.com/local/docengine/internal/httpapi"
	"github.com/local/docengine/internal/services"
)

func main() {
	_ = godotenv.Load()

	cfg := cfgpkg.FromEnv()

	if err := logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to init logger")
	}
	defer logpkg.Close()

	ctx := context.Background()
	svc, err := services.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build services")
	}
	defer svc.Close()

	mpkg.Init()

	mux := http.NewServeMux()
	api := httpapi.New(svc.Ctl)
	api.RegisterRoutes(mux)
	mux.Handle("/metrics", mpkg.Handler())

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			qctx, cancel := context.WithTimeout(context.Background(), time.Second)
			s, d, dlq, err := svc.Queue.Depths(qctx)
			cancel()
			if err == nil {
				mpkg.SetQueueDepth("stream", s)
				mpkg.SetQueueDepth("delayed", d)
				mpkg.SetQueueDepth("dlq", dlq)
			}
		}
	}()

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("api server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("api server shutdown complete")
}
