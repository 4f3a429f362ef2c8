// Package pipeline implements the PipelineEngine capability (spec.md §4.4):
// the eight-stage per-document orchestration — Load, Rasterize, Enhance,
// ResolveSchema, Extract, Merge, Persist, Ack — driven off one JobQueue
// claim. Staging and per-page retry/fallback style is grounded on the
// source's internal/orchestrator/ai_pipeline.go and internal/dispatcher's
// failover worker loop, generalized from free-text OCR transcription to
// schema-guided structured extraction with a durable state machine instead
// of Redis-hash status blobs.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docengine/internal/blobstore"
	"github.com/local/docengine/internal/errs"
	"github.com/local/docengine/internal/imagepreprocess"
	"github.com/local/docengine/internal/jobqueue"
	"github.com/local/docengine/internal/metadatastore"
	"github.com/local/docengine/internal/metrics"
	"github.com/local/docengine/internal/model"
	"github.com/local/docengine/internal/ocrfallback"
	"github.com/local/docengine/internal/progressbus"
	"github.com/local/docengine/internal/rasterizer"
	"github.com/local/docengine/internal/schemaregistry"
	"github.com/local/docengine/internal/visionextractor"
)

// Config bounds the per-page retry/backoff policy and image parameters the
// engine applies during Rasterize/Enhance/Extract.
type Config struct {
	PerPageMaxRetries int
	RetryBaseDelay    time.Duration
	RetryFactor       float64
	RetryMaxDelay     time.Duration

	DPI          int
	Color        string
	JPEGQuality  int
	MaxDimension int

	ContextRadius int // number of neighboring pages' text folded in as context

	MaxPages int // §4.4 stage 2: documents over this page count fail DocumentTooLarge
}

// Engine wires every capability the PipelineEngine depends on.
type Engine struct {
	cfg Config

	blobs     blobstore.BlobStore
	store     *metadatastore.Store
	queue     *jobqueue.Queue
	raster    rasterizer.Rasterizer
	enhancer  imagepreprocess.Preprocessor
	extractor *visionextractor.Extractor
	ocr       ocrfallback.OcrFallback
	schemas   *schemaregistry.Registry
	bus       *progressbus.Bus
}

func New(cfg Config, blobs blobstore.BlobStore, store *metadatastore.Store, queue *jobqueue.Queue,
	raster rasterizer.Rasterizer, enhancer imagepreprocess.Preprocessor, extractor *visionextractor.Extractor,
	ocr ocrfallback.OcrFallback, schemas *schemaregistry.Registry, bus *progressbus.Bus) *Engine {
	if cfg.PerPageMaxRetries <= 0 {
		cfg.PerPageMaxRetries = 2
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryFactor <= 0 {
		cfg.RetryFactor = 2
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	return &Engine{cfg: cfg, blobs: blobs, store: store, queue: queue, raster: raster,
		enhancer: enhancer, extractor: extractor, ocr: ocr, schemas: schemas, bus: bus}
}

// Run drives one claimed job through all eight stages. Every stage begins
// with a cancellation-tombstone check, extends the queue lease, and
// publishes a progress snapshot — per spec.md §4.4's "check at every stage
// boundary" requirement.
func (e *Engine) Run(ctx context.Context, job *jobqueue.Job, lease *jobqueue.LeaseToken) errs.StageOutcome {
	docID := job.DocumentID
	attempt := job.AttemptNumber
	started := time.Now()

	if outcome := e.checkCancelled(ctx, docID); outcome.Variant != errs.Ok {
		return outcome
	}

	pdfBytes, doc, outcome := e.stageLoad(ctx, docID)
	if outcome.Variant != errs.Ok {
		return outcome
	}
	if outcome := e.advance(ctx, docID, attempt, lease, 0.10, "load"); outcome.Variant != errs.Ok {
		return outcome
	}

	pages, outcome := e.stageRasterize(ctx, pdfBytes, doc)
	if outcome.Variant != errs.Ok {
		return outcome
	}
	pageCount := len(pages)
	_ = e.store.UpdateProgress(ctx, docID, attempt, 0.25, &pageCount)
	if outcome := e.advance(ctx, docID, attempt, lease, 0.25, "rasterize"); outcome.Variant != errs.Ok {
		return outcome
	}

	pages = e.stageEnhance(pages)
	if outcome := e.advance(ctx, docID, attempt, lease, 0.35, "enhance"); outcome.Variant != errs.Ok {
		return outcome
	}

	schema, outcome := e.stageResolveSchema(ctx, docID, attempt, job.Options, pages)
	if outcome.Variant != errs.Ok {
		return outcome
	}
	if outcome := e.advance(ctx, docID, attempt, lease, 0.40, "resolve_schema"); outcome.Variant != errs.Ok {
		return outcome
	}

	results, outcome := e.stageExtract(ctx, docID, pages, schema, lease)
	if outcome.Variant != errs.Ok {
		return outcome
	}
	if outcome := e.advance(ctx, docID, attempt, lease, 0.85, "extract"); outcome.Variant != errs.Ok {
		return outcome
	}

	fields, confidence, allFailed := e.stageMerge(results, schema)
	if allFailed {
		return errs.TerminalOutcome(errs.AllPagesFailedExtraction,
			fmt.Errorf("document %d: every page failed extraction", docID))
	}
	if outcome := e.advance(ctx, docID, attempt, lease, 0.95, "merge"); outcome.Variant != errs.Ok {
		return outcome
	}

	if outcome := e.stagePersist(ctx, docID, attempt, fields, confidence, results, started); outcome.Variant != errs.Ok {
		return outcome
	}
	e.publishSnapshot(docID)
	e.bus.Forget(docID)
	metrics.IncDocumentResult("completed")

	return errs.OkOutcome()
}

func (e *Engine) checkCancelled(ctx context.Context, docID int64) errs.StageOutcome {
	cancelled, err := e.queue.IsCancelled(ctx, docID)
	if err != nil {
		return errs.RetryableOutcome(errs.StoreUnavailable, err)
	}
	if cancelled {
		return errs.TerminalOutcome(errs.CancelledKind, fmt.Errorf("document %d cancelled", docID))
	}
	tombstoned, err := e.store.IsTombstoned(ctx, docID)
	if err != nil {
		return errs.RetryableOutcome(errs.StoreUnavailable, err)
	}
	if tombstoned {
		return errs.TerminalOutcome(errs.CancelledKind, fmt.Errorf("document %d deleted", docID))
	}
	return errs.OkOutcome()
}

// advance extends the lease, records progress, and aborts the job with the
// cancellation outcome the moment the tombstone check trips, per spec.md
// §5's "checks the tombstone at every stage boundary and aborts the job".
func (e *Engine) advance(ctx context.Context, docID, attempt int64, lease *jobqueue.LeaseToken, progress float64, stage string) errs.StageOutcome {
	_ = e.queue.ExtendLease(ctx, lease, 5*time.Minute)
	_ = e.store.UpdateProgress(ctx, docID, attempt, progress, nil)
	e.publishSnapshot(docID)
	if outcome := e.checkCancelled(ctx, docID); outcome.Variant != errs.Ok {
		log.Debug().Int64("document_id", docID).Str("stage", stage).Msg("cancellation observed at stage boundary")
		return outcome
	}
	return errs.OkOutcome()
}

func (e *Engine) publishSnapshot(docID int64) {
	doc, err := e.store.GetByID(context.Background(), docID)
	if err != nil {
		return
	}
	e.bus.Publish(docID, doc.Snapshot())
}

// stageLoad resolves the document row and fetches its PDF bytes from the
// BlobStore.
func (e *Engine) stageLoad(ctx context.Context, docID int64) ([]byte, *model.Document, errs.StageOutcome) {
	doc, err := e.store.GetByID(ctx, docID)
	if err != nil {
		return nil, nil, errs.TerminalOutcome(errs.NotFoundKind, err)
	}
	pdfBytes, err := e.blobs.Get(ctx, doc.BlobRef)
	if err != nil {
		return nil, doc, errs.RetryableOutcome(errs.StoreUnavailable, err)
	}
	return pdfBytes, doc, errs.OkOutcome()
}

type renderedPage struct {
	num      int
	jpeg     []byte
	embedded string
}

func (e *Engine) stageRasterize(ctx context.Context, pdfBytes []byte, doc *model.Document) ([]renderedPage, errs.StageOutcome) {
	count, err := e.raster.PageCount(pdfBytes)
	if err != nil {
		return nil, errs.TerminalOutcome(errs.Unreadable, err)
	}
	if count == 0 {
		return nil, errs.TerminalOutcome(errs.Unreadable, fmt.Errorf("document %d: zero pages", doc.ID))
	}
	if e.cfg.MaxPages > 0 && count > e.cfg.MaxPages {
		return nil, errs.TerminalOutcome(errs.DocumentTooLarge,
			fmt.Errorf("document %d: %d pages exceeds the %d page limit", doc.ID, count, e.cfg.MaxPages))
	}

	pages := make([]renderedPage, 0, count)
	for p := 1; p <= count; p++ {
		jpegBytes, _, _, err := e.raster.RenderPage(pdfBytes, p, e.cfg.DPI, e.cfg.JPEGQuality, e.cfg.Color)
		if err != nil {
			log.Warn().Err(err).Int64("document_id", doc.ID).Int("page", p).Msg("page render failed")
			continue
		}
		embedded, err := e.ocr.ExtractPageText(pdfBytes, p)
		if err != nil {
			embedded = ""
		}
		pages = append(pages, renderedPage{num: p, jpeg: jpegBytes, embedded: embedded})
	}
	if len(pages) == 0 {
		return nil, errs.TerminalOutcome(errs.Unreadable, fmt.Errorf("document %d: no page rendered successfully", doc.ID))
	}
	return pages, errs.OkOutcome()
}

func (e *Engine) stageEnhance(pages []renderedPage) []renderedPage {
	for i, p := range pages {
		enhanced, err := e.enhancer.Enhance(p.jpeg, e.cfg.MaxDimension, e.cfg.JPEGQuality)
		if err != nil {
			log.Warn().Err(err).Int("page", p.num).Msg("enhance failed, using raw render")
			continue
		}
		pages[i].jpeg = enhanced
	}
	return pages
}

func (e *Engine) stageResolveSchema(ctx context.Context, docID, attempt int64, opts model.ProcessOptions, pages []renderedPage) (model.Schema, errs.StageOutcome) {
	if !opts.IsAuto() {
		schema, err := e.schemas.Get(opts.SchemaName)
		if err != nil {
			return model.Schema{}, errs.TerminalOutcome(errs.UnknownSchema, err)
		}
		_ = e.store.SetSchemaName(ctx, docID, attempt, schema.Name)
		return schema, errs.OkOutcome()
	}

	detection, err := e.schemas.Detect(ctx, pages[0].jpeg)
	if err != nil {
		log.Warn().Err(err).Int64("document_id", docID).Msg("schema detection failed, using generic")
		schema, _ := e.schemas.Get(schemaregistry.GenericSchemaName)
		_ = e.store.SetSchemaName(ctx, docID, attempt, schema.Name)
		return schema, errs.OkOutcome()
	}
	schema, err := e.schemas.Get(detection.SchemaName)
	if err != nil {
		schema, _ = e.schemas.Get(schemaregistry.GenericSchemaName)
	}
	_ = e.store.SetSchemaName(ctx, docID, attempt, schema.Name)
	return schema, errs.OkOutcome()
}

// stageExtract runs every page through the vision extractor with bounded
// retries, falling back to embedded-text-only extraction via OcrFallback
// when retries are exhausted (spec.md §4.4 stage 5, §9's resolved Open
// Question: 2 per-page retries then OCR fallback).
func (e *Engine) stageExtract(ctx context.Context, docID int64, pages []renderedPage, schema model.Schema, lease *jobqueue.LeaseToken) ([]model.PageResult, errs.StageOutcome) {
	results := make([]model.PageResult, len(pages))

	for i, page := range pages {
		_ = e.queue.ExtendLease(ctx, lease, 5*time.Minute)
		if outcome := e.checkCancelled(ctx, docID); outcome.Variant != errs.Ok {
			return nil, outcome
		}

		contextText := buildContextText(pages, i, e.cfg.ContextRadius)
		result := e.extractPage(ctx, docID, page, schema, contextText)
		results[i] = result

		metrics.IncPageResult(result.Status)
	}
	return results, errs.OkOutcome()
}

func buildContextText(pages []renderedPage, idx, radius int) string {
	if radius <= 0 {
		return ""
	}
	var ctx string
	for d := -radius; d <= radius; d++ {
		j := idx + d
		if d == 0 || j < 0 || j >= len(pages) {
			continue
		}
		if pages[j].embedded != "" {
			ctx += fmt.Sprintf("[page %d]\n%s\n", pages[j].num, pages[j].embedded)
		}
	}
	return ctx
}

func (e *Engine) extractPage(ctx context.Context, docID int64, page renderedPage, schema model.Schema, contextText string) model.PageResult {
	req := visionextractor.Request{
		PageNum:      page.num,
		ImageBase64:  base64.StdEncoding.EncodeToString(page.jpeg),
		ImageMIME:    "image/jpeg",
		Schema:       schema,
		SystemPrompt: visionextractor.DefaultSystemPrompt(),
		ContextText:  contextText,
		OCRText:      page.embedded,
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.PerPageMaxRetries; attempt++ {
		if attempt > 0 {
			metrics.IncRetry()
			time.Sleep(backoffDelay(e.cfg.RetryBaseDelay, e.cfg.RetryFactor, e.cfg.RetryMaxDelay, attempt))
		}
		result, err := e.extractor.Extract(ctx, req)
		if err == nil {
			return model.PageResult{Index: page.num, Status: "vision", ExtractedFragment: result.Fields, Confidence: result.Confidence}
		}
		lastErr = err
		log.Warn().Err(err).Int64("document_id", docID).Int("page", page.num).Int("attempt", attempt).Msg("vision extraction attempt failed")
	}

	if page.embedded == "" {
		return model.PageResult{Index: page.num, Status: "error", Err: lastErr}
	}

	fields := model.FieldMap{"_embedded_text": model.Text(page.embedded)}
	confidence := map[string]float64{"_embedded_text": 0.3}
	return model.PageResult{Index: page.num, Status: "ocr_fallback", ExtractedFragment: fields, Confidence: confidence}
}

func backoffDelay(base time.Duration, factor float64, max time.Duration, attempt int) time.Duration {
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= factor
	}
	if time.Duration(d) > max {
		return max
	}
	return time.Duration(d)
}

// stageMerge folds every page's fragment into one Document-level field map
// per spec.md §4.4 stage 6: scalar fields keep the highest-confidence
// value (ties favor the earliest page), arrays concatenate in page order,
// objects merge one level deep (keys from later pages are added, and a key
// present on two pages takes the later page's value with no confidence
// comparison; nested values are not merged), and a required field missing from every page
// becomes the N/A sentinel with confidence 0. Reports allFailed when every
// page's Status is "error".
func (e *Engine) stageMerge(results []model.PageResult, schema model.Schema) (model.FieldMap, map[string]float64, bool) {
	fields := model.FieldMap{}
	confidence := map[string]float64{}
	anySucceeded := false

	for _, r := range results {
		if r.Status == "error" {
			continue
		}
		anySucceeded = true
		for name, v := range r.ExtractedFragment {
			c := r.Confidence[name]
			existing, has := fields[name]
			if !has {
				fields[name] = v
				confidence[name] = c
				continue
			}
			switch existing.Kind {
			case model.KindArray:
				if v.Kind == model.KindArray {
					fields[name] = model.Array(append(existing.Array, v.Array...)...)
				}
			case model.KindObject:
				if v.Kind == model.KindObject {
					merged := make(map[string]model.Value, len(existing.Object)+len(v.Object))
					for k, val := range existing.Object {
						merged[k] = val
					}
					for k, val := range v.Object {
						merged[k] = val
					}
					fields[name] = model.Object(merged)
				}
			default:
				if c > confidence[name] {
					fields[name] = v
					confidence[name] = c
				}
			}
		}
	}

	for _, name := range schema.RequiredFields {
		if _, ok := fields[name]; !ok {
			fields[name] = model.NA()
			confidence[name] = 0
		}
	}

	return fields, confidence, !anySucceeded
}

func (e *Engine) stagePersist(ctx context.Context, docID, attempt int64, fields model.FieldMap, confidence map[string]float64,
	results []model.PageResult, started time.Time) errs.StageOutcome {
	meta := model.ProcessingMetadata{
		DurationMS:   time.Since(started).Milliseconds(),
		PageStatuses: map[int]string{},
	}
	for _, r := range results {
		meta.PageStatuses[r.Index] = r.Status
	}
	if err := e.store.Complete(ctx, docID, attempt, fields, confidence, meta); err != nil {
		if errs.Is(err, errs.ConflictKind) {
			return errs.TerminalOutcome(errs.ConflictKind, err)
		}
		return errs.RetryableOutcome(errs.StoreUnavailable, err)
	}
	return errs.OkOutcome()
}
