// Package workerpool implements the WorkerPool capability (spec.md §4.2,
// §5): a fixed number of goroutines claiming jobs from the JobQueue and
// driving them through the PipelineEngine, plus the janitor task that
// resumes Documents stranded by a crashed worker. Loop structure and
// attempt/backoff bookkeeping are grounded on the source's
// internal/dispatcher/worker.go; the stale-heartbeat resumption sweep is
// grounded on internal/orchestrator/job_monitor.go.
package workerpool

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docengine/internal/errs"
	"github.com/local/docengine/internal/jobqueue"
	"github.com/local/docengine/internal/metadatastore"
	"github.com/local/docengine/internal/metrics"
	"github.com/local/docengine/internal/model"
	"github.com/local/docengine/internal/pipeline"
)

type Config struct {
	Concurrency       int
	ProcessingTimeout time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	JobMaxAttempts    int
	RetryBaseDelay    time.Duration
	RetryFactor       float64
	RetryMaxDelay     time.Duration
}

type Pool struct {
	cfg    Config
	queue  *jobqueue.Queue
	store  *metadatastore.Store
	engine *pipeline.Engine
	stop   chan struct{}
}

func New(cfg Config, queue *jobqueue.Queue, store *metadatastore.Store, engine *pipeline.Engine) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = time.Hour
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 60 * time.Second
	}
	if cfg.JobMaxAttempts <= 0 {
		cfg.JobMaxAttempts = 3
	}
	return &Pool{cfg: cfg, queue: queue, store: store, engine: engine, stop: make(chan struct{})}
}

// Start launches Concurrency worker loops plus the janitor sweep.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Concurrency; i++ {
		go p.loop(i)
	}
	go p.janitor()
}

func (p *Pool) Stop() {
	close(p.stop)
}

func (p *Pool) loop(id int) {
	consumer := fmt.Sprintf("worker-%d", id)
	log.Info().Int("worker", id).Msg("worker pool loop started")
	for {
		select {
		case <-p.stop:
			log.Info().Int("worker", id).Msg("worker pool loop stopped")
			return
		default:
		}

		job, lease, err := p.queue.Claim(context.Background(), consumer, 2*time.Second)
		if err != nil {
			log.Error().Err(err).Int("worker", id).Msg("claim failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if job == nil {
			continue
		}

		p.processJob(consumer, job, lease)
	}
}

func (p *Pool) processJob(consumer string, job *jobqueue.Job, lease *jobqueue.LeaseToken) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProcessingTimeout)
	defer cancel()

	claimed, err := p.store.ClaimProcessing(ctx, job.DocumentID, job.AttemptNumber, consumer)
	if err != nil {
		log.Error().Err(err).Int64("document_id", job.DocumentID).Msg("claim-processing store update failed")
		_ = p.queue.Nack(ctx, lease, *job, p.cfg.RetryBaseDelay)
		return
	}
	if !claimed {
		// Another worker already advanced this attempt; this delivery is
		// spurious (redelivery or a race lost against a resumed attempt).
		_ = p.queue.Ack(ctx, lease)
		return
	}

	stopHeartbeat := p.startHeartbeat(ctx, job.DocumentID, job.AttemptNumber)
	metrics.IncInProgress()

	outcome := p.engine.Run(ctx, job, lease)

	stopHeartbeat()
	metrics.DecInProgress()

	switch outcome.Variant {
	case errs.Ok:
		_ = p.queue.Ack(ctx, lease)
	case errs.PageError:
		// Should not escape the pipeline at document granularity; treated
		// as a retryable document-level condition defensively.
		p.retryOrDLQ(ctx, job, lease, errs.StoreUnavailable, outcome.Err)
	case errs.Retryable:
		p.retryOrDLQ(ctx, job, lease, outcome.Kind, outcome.Err)
	case errs.Terminal:
		meta := model.ProcessingMetadata{}
		if outcome.Err != nil {
			meta.ErrorMessage = outcome.Err.Error()
		}
		if err := p.store.Fail(ctx, job.DocumentID, job.AttemptNumber, meta); err != nil {
			log.Error().Err(err).Int64("document_id", job.DocumentID).Msg("failed to persist terminal failure")
		}
		_ = p.queue.Ack(ctx, lease)
		metrics.IncDocumentResult("failed")
	}
}

// retryOrDLQ re-enqueues with exponential backoff up to JobMaxAttempts,
// then fails the document permanently per spec.md §4.3.
func (p *Pool) retryOrDLQ(ctx context.Context, job *jobqueue.Job, lease *jobqueue.LeaseToken, kind errs.Kind, cause error) {
	if job.QueueAttempt+1 >= p.cfg.JobMaxAttempts {
		_ = p.queue.AddDLQ(ctx, lease, *job, string(kind))
		meta := model.ProcessingMetadata{}
		if cause != nil {
			meta.ErrorMessage = cause.Error()
		}
		_ = p.store.Fail(ctx, job.DocumentID, job.AttemptNumber, meta)
		metrics.IncDocumentResult("failed")
		return
	}
	delay := retryBackoff(p.cfg.RetryBaseDelay, p.cfg.RetryFactor, p.cfg.RetryMaxDelay, job.QueueAttempt+1)
	_ = p.queue.Nack(ctx, lease, *job, delay)
}

func retryBackoff(base time.Duration, factor float64, max time.Duration, attempt int) time.Duration {
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= factor
	}
	if time.Duration(d) > max {
		return max
	}
	return time.Duration(d)
}

// startHeartbeat periodically refreshes the Document's heartbeat_at while
// the pipeline is running, so the janitor does not reclaim an
// actively-processing document.
func (p *Pool) startHeartbeat(ctx context.Context, docID, attempt int64) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(p.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = p.store.Heartbeat(ctx, docID, attempt)
			}
		}
	}()
	return func() { close(stop) }
}

// janitor periodically resets Documents stuck in Processing with a stale
// heartbeat back to Pending and re-enqueues them, implementing spec.md
// §4.2's Resumption rule.
func (p *Pool) janitor() {
	ticker := time.NewTicker(p.cfg.HeartbeatTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweepStale()
		}
	}
}

func (p *Pool) sweepStale() {
	ctx := context.Background()
	ids, err := p.store.ResetStaleProcessing(ctx, p.cfg.HeartbeatTimeout)
	if err != nil {
		log.Error().Err(err).Msg("janitor: reset stale processing failed")
		return
	}
	for _, id := range ids {
		doc, err := p.store.GetByID(ctx, id)
		if err != nil {
			continue
		}
		log.Warn().Int64("document_id", id).Msg("janitor: resuming stranded document")
		_ = p.queue.Enqueue(ctx, jobqueue.Job{
			DocumentID:    id,
			AttemptNumber: doc.AttemptNumber,
			EnqueuedAt:    time.Now(),
		})
	}
}
