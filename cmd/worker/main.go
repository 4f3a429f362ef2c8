// Command worker runs the WorkerPool: claiming Jobs from the JobQueue and
// driving them through the PipelineEngine (spec.md §4.2, §5), plus a
// minimal metrics/health HTTP surface. Split from cmd/api since Controller
// and WorkerPool are independent processes sharing only the database and
// Redis, per spec.md §5.
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
	mux.Handle("/metrics", mpkg.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		qctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := svc.Queue.Client().Ping(qctx).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"ok":false}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("worker metrics/health server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("metrics server error")
		}
	}()

	svc.Pool.Start()
	log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker pool started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	svc.Pool.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("worker shutdown complete")
}
