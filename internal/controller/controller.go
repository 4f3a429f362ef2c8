// Package controller implements the Controller capability (spec.md §4.1):
// the request-driven facade for upload, process-start, status, download,
// and schema pass-through operations. Grounded on the source's
// internal/orchestrator/orchestrator.go Dependencies-struct-plus-methods
// shape, replaced with a thin facade the HTTP adapter wraps instead of
// registering routes itself.
package controller

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/local/docengine/internal/blobstore"
	"github.com/local/docengine/internal/errs"
	"github.com/local/docengine/internal/jobqueue"
	"github.com/local/docengine/internal/metadatastore"
	"github.com/local/docengine/internal/model"
	"github.com/local/docengine/internal/progressbus"
	"github.com/local/docengine/internal/schemaregistry"
	"github.com/local/docengine/internal/workbook"
)

type Config struct {
	MaxUploadBytes int64
}

// Controller wires every capability spec.md §4.1 names the Controller as
// depending on: MetadataStore, BlobStore, JobQueue, SchemaRegistry,
// WorkbookWriter, ProgressBus.
type Controller struct {
	cfg     Config
	store   *metadatastore.Store
	blobs   blobstore.BlobStore
	queue   *jobqueue.Queue
	schemas *schemaregistry.Registry
	bus     *progressbus.Bus
}

func New(cfg Config, store *metadatastore.Store, blobs blobstore.BlobStore, queue *jobqueue.Queue,
	schemas *schemaregistry.Registry, bus *progressbus.Bus) *Controller {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 << 20
	}
	return &Controller{cfg: cfg, store: store, blobs: blobs, queue: queue, schemas: schemas, bus: bus}
}

// AcceptedStatus is StartProcessing's response shape.
type AcceptedStatus struct {
	DocumentID int64     `json:"document_id"`
	Status     model.Status `json:"status"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Upload implements spec.md §4.1's Upload: rejects oversized or non-PDF
// input, dedups by content hash, and otherwise persists the blob and
// inserts a Pending Document without enqueuing a Job.
func (c *Controller) Upload(ctx context.Context, data []byte, originalName string) (*model.Document, error) {
	if int64(len(data)) > c.cfg.MaxUploadBytes {
		return nil, errs.New(errs.UploadTooLarge, fmt.Sprintf("upload of %d bytes exceeds limit of %d", len(data), c.cfg.MaxUploadBytes))
	}
	mt := mimetype.Detect(data)
	if !mt.Is("application/pdf") {
		return nil, errs.New(errs.InvalidFile, fmt.Sprintf("upload is not a PDF (detected %s)", mt.String()))
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	blobRef, err := c.blobs.Put(ctx, hash, data, "pdf")
	if err != nil {
		return nil, fmt.Errorf("controller: store blob: %w", err)
	}

	doc, isNew, err := c.store.CreateOrGetByHash(ctx, hash, originalName, hash+".pdf", int64(len(data)), blobRef)
	if err != nil {
		return nil, fmt.Errorf("controller: create document: %w", err)
	}
	if isNew {
		log.Info().Int64("document_id", doc.ID).Str("filename", originalName).Msg("document uploaded")
	}
	return doc, nil
}

// StartProcessing implements spec.md §4.1/§4.2's transition and re-issue
// rules: re-issues on a Processing document, or on a Pending document that
// already has an attempt enqueued, are a no-op returning current state; a
// never-started Pending document and Failed/Completed ones bump the attempt
// and enqueue a fresh Job.
func (c *Controller) StartProcessing(ctx context.Context, documentID int64, opts model.ProcessOptions) (AcceptedStatus, error) {
	doc, err := c.store.GetByID(ctx, documentID)
	if err != nil {
		return AcceptedStatus{}, err
	}

	if doc.Status == model.StatusProcessing || (doc.Status == model.StatusPending && doc.AttemptNumber > 0) {
		return AcceptedStatus{DocumentID: doc.ID, Status: doc.Status, EnqueuedAt: doc.UpdatedAt}, nil
	}

	if !opts.IsAuto() {
		if _, err := c.schemas.Get(opts.SchemaName); err != nil {
			return AcceptedStatus{}, err
		}
	}

	attempt, err := c.store.StartProcessing(ctx, documentID)
	if err != nil {
		return AcceptedStatus{}, err
	}
	now := time.Now()
	if err := c.queue.Enqueue(ctx, jobqueue.Job{
		DocumentID:    documentID,
		AttemptNumber: attempt,
		EnqueuedAt:    now,
		Options:       opts,
	}); err != nil {
		return AcceptedStatus{}, fmt.Errorf("controller: enqueue job: %w", err)
	}
	return AcceptedStatus{DocumentID: documentID, Status: model.StatusPending, EnqueuedAt: now}, nil
}

// GetStatus implements spec.md §4.1's GetStatus.
func (c *Controller) GetStatus(ctx context.Context, documentID int64) (model.Snapshot, error) {
	doc, err := c.store.GetByID(ctx, documentID)
	if err != nil {
		return model.Snapshot{}, err
	}
	return doc.Snapshot(), nil
}

// StreamStatus implements spec.md §4.1's StreamStatus: a finite sequence of
// snapshots ending at the first terminal status observed, or when ctx is
// cancelled by the caller disconnecting.
func (c *Controller) StreamStatus(ctx context.Context, documentID int64) (<-chan model.Snapshot, func(), error) {
	if _, err := c.store.GetByID(ctx, documentID); err != nil {
		return nil, nil, err
	}
	upstream, cancel := c.bus.Subscribe(documentID)
	out := make(chan model.Snapshot)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-upstream:
				if !ok {
					return
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
				if snap.Status == model.StatusCompleted || snap.Status == model.StatusFailed {
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

// List implements spec.md §4.1's List, a thin pass-through to
// MetadataStore.List.
func (c *Controller) List(ctx context.Context, f metadatastore.ListFilter) ([]*model.Document, error) {
	return c.store.List(ctx, f)
}

// Delete implements spec.md §4.1's Delete: tombstones so an in-flight
// pipeline run observes cancellation, cancels any queued job, removes the
// blob, then removes the row.
func (c *Controller) Delete(ctx context.Context, documentID int64) error {
	doc, err := c.store.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if err := c.store.Tombstone(ctx, documentID); err != nil {
		return fmt.Errorf("controller: tombstone: %w", err)
	}
	if err := c.queue.CancelDocument(ctx, documentID); err != nil {
		log.Warn().Err(err).Int64("document_id", documentID).Msg("cancel document failed")
	}
	if doc.BlobRef != "" {
		if err := c.blobs.Delete(ctx, doc.BlobRef); err != nil {
			log.Warn().Err(err).Int64("document_id", documentID).Msg("delete blob failed")
		}
	}
	c.bus.Forget(documentID)
	return c.store.Delete(ctx, documentID)
}

// DownloadSingle implements spec.md §4.1/§4.6's single-document workbook.
func (c *Controller) DownloadSingle(ctx context.Context, documentID int64) ([]byte, error) {
	doc, err := c.requireCompleted(ctx, documentID)
	if err != nil {
		return nil, err
	}
	f, err := workbook.WriteSingle(*doc)
	if err != nil {
		return nil, fmt.Errorf("controller: write workbook: %w", err)
	}
	return workbookBytes(f)
}

// DownloadBatch implements spec.md §4.1/§4.6's multi-document workbook.
func (c *Controller) DownloadBatch(ctx context.Context, documentIDs []int64) ([]byte, error) {
	docs, err := c.requireCompletedAll(ctx, documentIDs)
	if err != nil {
		return nil, err
	}
	f, err := workbook.WriteBatch(valueSlice(docs))
	if err != nil {
		return nil, fmt.Errorf("controller: write workbook: %w", err)
	}
	return workbookBytes(f)
}

// DownloadTemplate implements spec.md §4.1/§4.5's template-mode aggregation
// workbook: the row set is S ∩ Completed (§8), so documents that aren't yet
// Completed are filtered out rather than failing the whole request.
func (c *Controller) DownloadTemplate(ctx context.Context, documentIDs []int64) ([]byte, error) {
	docs, err := c.filterCompleted(ctx, documentIDs)
	if err != nil {
		return nil, err
	}
	flat := valueSlice(docs)
	proj := workbook.BuildTemplateProjection(flat)
	f, err := workbook.WriteTemplate(flat, proj)
	if err != nil {
		return nil, fmt.Errorf("controller: write workbook: %w", err)
	}
	return workbookBytes(f)
}

func valueSlice(docs []*model.Document) []model.Document {
	out := make([]model.Document, len(docs))
	for i, d := range docs {
		out[i] = *d
	}
	return out
}

// ListSchemas, GetSchema, DetectSchema are pass-throughs to SchemaRegistry
// per spec.md §4.1.
func (c *Controller) ListSchemas() []model.Schema { return c.schemas.List() }

func (c *Controller) GetSchema(name string) (model.Schema, error) { return c.schemas.Get(name) }

func (c *Controller) DetectSchema(ctx context.Context, samplePNG []byte) (model.DetectionResult, error) {
	return c.schemas.Detect(ctx, samplePNG)
}

func (c *Controller) requireCompleted(ctx context.Context, documentID int64) (*model.Document, error) {
	doc, err := c.store.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != model.StatusCompleted {
		return nil, errs.New(errs.InvalidState, fmt.Sprintf("document %d is %s, not completed", documentID, doc.Status))
	}
	return doc, nil
}

func (c *Controller) requireCompletedAll(ctx context.Context, documentIDs []int64) ([]*model.Document, error) {
	docs := make([]*model.Document, 0, len(documentIDs))
	for _, id := range documentIDs {
		doc, err := c.requireCompleted(ctx, id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// filterCompleted resolves every id and keeps only those Completed, per
// §4.5/§8's S ∩ Completed row set for template-mode aggregation.
func (c *Controller) filterCompleted(ctx context.Context, documentIDs []int64) ([]*model.Document, error) {
	docs := make([]*model.Document, 0, len(documentIDs))
	for _, id := range documentIDs {
		doc, err := c.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc.Status == model.StatusCompleted {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func workbookBytes(f interface {
	WriteTo(w io.Writer) (int64, error)
}) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("controller: serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}
