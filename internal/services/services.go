// Package services builds the explicitly-constructed Services aggregate
// spec.md §9's redesign flag calls for, replacing the ad-hoc global state
// (process-wide database session, extractor client, settings singleton)
// the source's cmd/app/main.go wires through package-level variables.
// Every capability is constructed once here and threaded explicitly into
// the Controller and WorkerPool, with no global mutable bindings.
package services

import (
	"context"
	"fmt"

	"github.com/local/docengine/internal/blobstore"
	"github.com/local/docengine/internal/config"
	"github.com/local/docengine/internal/controller"
	"github.com/local/docengine/internal/imagepreprocess"
	"github.com/local/docengine/internal/jobqueue"
	"github.com/local/docengine/internal/limiter"
	"github.com/local/docengine/internal/metadatastore"
	"github.com/local/docengine/internal/ocrfallback"
	"github.com/local/docengine/internal/pipeline"
	"github.com/local/docengine/internal/progressbus"
	"github.com/local/docengine/internal/rasterizer"
	"github.com/local/docengine/internal/schemaregistry"
	"github.com/local/docengine/internal/visionextractor"
	"github.com/local/docengine/internal/workerpool"
)

// Services holds every constructed capability, shared by cmd/api and
// cmd/worker so both entrypoints build the same dependency graph from one
// place.
type Services struct {
	Config  config.Config
	Store   *metadatastore.Store
	Blobs   blobstore.BlobStore
	Queue   *jobqueue.Queue
	Bus     *progressbus.Bus
	Schemas *schemaregistry.Registry
	Engine  *pipeline.Engine
	Pool    *workerpool.Pool
	Ctl     *controller.Controller

	breaker *limiter.Breaker
}

// Build constructs the full dependency graph from cfg. Both cmd/api and
// cmd/worker call this; cmd/api only ever touches Ctl, cmd/worker only
// ever touches Pool, but both need every capability constructed identically
// since the Controller and WorkerPool share the MetadataStore/BlobStore/
// JobQueue/ProgressBus instances.
func Build(ctx context.Context, cfg config.Config) (*Services, error) {
	store, err := metadatastore.New(ctx, cfg.Store.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("services: metadatastore: %w", err)
	}

	blobs, err := blobstore.New(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("services: blobstore: %w", err)
	}

	queue, err := jobqueue.New(jobqueue.Options{
		RedisURL:    cfg.Queue.RedisURL,
		Stream:      cfg.Queue.Stream,
		Group:       cfg.Queue.Group,
		DelayedKey:  cfg.Queue.DelayedKey,
		DLQStream:   cfg.Queue.DLQStream,
		CancelKey:   cfg.Queue.CancelKey,
		IdemDoneKey: cfg.Queue.IdemDoneKey,
	})
	if err != nil {
		return nil, fmt.Errorf("services: jobqueue: %w", err)
	}

	bus := progressbus.New()

	breaker, err := limiter.NewBreaker(limiter.BreakerOptions{
		RedisURL:    cfg.Queue.RedisURL,
		BaseBackoff: cfg.Worker.BreakerBaseBackoff,
		MaxBackoff:  cfg.Worker.BreakerMaxBackoff,
		MaxInflight: cfg.Worker.MaxInflightPerModel,
	})
	if err != nil {
		return nil, fmt.Errorf("services: breaker: %w", err)
	}
	rateLimiter := limiter.NewRateLimiter(cfg.Worker.RateLimitPerMinute)

	primary := visionextractor.NewOpenAIClient("primary", cfg.Vision.APIKey, cfg.Vision.BaseURL, cfg.Vision.RequestTimeout)
	extractorOpts := visionextractor.Options{
		Primary:        primary,
		PrimaryModel:   cfg.Vision.ModelName,
		SecondaryModel: cfg.Vision.SecondaryModel,
		Breaker:        breaker,
		RateLimiter:    rateLimiter,
	}
	if cfg.Vision.SecondaryProvider != "" {
		extractorOpts.Secondary = visionextractor.NewOpenAIClient(
			cfg.Vision.SecondaryProvider, cfg.Vision.SecondaryAPIKey, cfg.Vision.SecondaryBaseURL, cfg.Vision.RequestTimeout)
		extractorOpts.SecondaryModel2 = cfg.Vision.SecondaryModel
	}
	extractor := visionextractor.New(extractorOpts)

	schemas := schemaregistry.New(extractor)

	engine := pipeline.New(pipeline.Config{
		PerPageMaxRetries: cfg.Worker.PerPageMaxRetries,
		RetryBaseDelay:    cfg.Worker.RetryBaseDelay,
		RetryFactor:       cfg.Worker.RetryBackoffFactor,
		RetryMaxDelay:     cfg.Worker.RetryMaxDelay,
		DPI:               cfg.Image.DPI,
		Color:             cfg.Image.Color,
		JPEGQuality:       cfg.Image.JPEGQuality,
		MaxDimension:      cfg.Image.MaxDimension,
		MaxPages:          cfg.Document.MaxPagesPerDocument,
	}, blobs, store, queue, rasterizer.New(), imagepreprocess.New(), extractor, ocrfallback.New(), schemas, bus)

	pool := workerpool.New(workerpool.Config{
		Concurrency:       cfg.Worker.Concurrency,
		ProcessingTimeout: cfg.Worker.ProcessingTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Worker.HeartbeatTimeout,
		JobMaxAttempts:    cfg.Worker.JobMaxAttempts,
		RetryBaseDelay:    cfg.Worker.RetryBaseDelay,
		RetryFactor:       cfg.Worker.RetryBackoffFactor,
		RetryMaxDelay:     cfg.Worker.RetryMaxDelay,
	}, queue, store, engine)

	ctl := controller.New(controller.Config{MaxUploadBytes: cfg.Document.MaxUploadBytes}, store, blobs, queue, schemas, bus)

	return &Services{
		Config: cfg, Store: store, Blobs: blobs, Queue: queue, Bus: bus,
		Schemas: schemas, Engine: engine, Pool: pool, Ctl: ctl, breaker: breaker,
	}, nil
}

// Close releases every capability holding a live connection.
func (s *Services) Close() {
	if s.Queue != nil {
		_ = s.Queue.Close()
	}
	if s.Store != nil {
		_ = s.Store.Close()
	}
}
