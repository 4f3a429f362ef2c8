package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/docengine/internal/blobstore"
	"github.com/local/docengine/internal/errs"
	"github.com/local/docengine/internal/jobqueue"
	"github.com/local/docengine/internal/metadatastore"
	"github.com/local/docengine/internal/model"
	"github.com/local/docengine/internal/progressbus"
	"github.com/local/docengine/internal/schemaregistry"
)

// minimalPDF is just enough of a PDF magic header for mimetype.Detect to
// classify it as application/pdf; the controller's Upload never parses the
// body itself.
var minimalPDF = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj<<>>endobj\ntrailer<<>>\n%%EOF")

func newTestController(t *testing.T, withQueue bool) *Controller {
	t.Helper()
	store, err := metadatastore.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	schemas := schemaregistry.New(nil)
	bus := progressbus.New()

	var queue *jobqueue.Queue
	if withQueue {
		suffix := fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
		queue, err = jobqueue.New(jobqueue.Options{
			RedisURL:    "redis://localhost:6379/5",
			Stream:      "test:ctl:jobs:" + suffix,
			Group:       "test:ctl:workers:" + suffix,
			DelayedKey:  "test:ctl:delayed:" + suffix,
			DLQStream:   "test:ctl:dlq:" + suffix,
			CancelKey:   "test:ctl:cancelled:" + suffix,
			IdemDoneKey: "test:ctl:idem:" + suffix,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = queue.Close() })
	}

	return New(Config{}, store, blobs, queue, schemas, bus)
}

func TestUploadRejectsNonPDF(t *testing.T) {
	c := newTestController(t, false)
	_, err := c.Upload(context.Background(), []byte("not a pdf"), "fake.pdf")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidFile))
}

func TestUploadRejectsOversized(t *testing.T) {
	c := newTestController(t, false)
	c.cfg.MaxUploadBytes = 4
	_, err := c.Upload(context.Background(), minimalPDF, "invoice.pdf")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.UploadTooLarge))
}

func TestUploadDedupsIdenticalContent(t *testing.T) {
	c := newTestController(t, false)
	ctx := context.Background()

	first, err := c.Upload(ctx, minimalPDF, "invoice.pdf")
	require.NoError(t, err)

	second, err := c.Upload(ctx, minimalPDF, "invoice-renamed.pdf")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "invoice.pdf", second.OriginalFilename, "the original upload's name wins on dedup")
}

func TestGetStatusNotFound(t *testing.T) {
	c := newTestController(t, false)
	_, err := c.GetStatus(context.Background(), 123)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFoundKind))
}

func TestDownloadSingleRequiresCompletedStatus(t *testing.T) {
	c := newTestController(t, false)
	ctx := context.Background()
	doc, err := c.Upload(ctx, minimalPDF, "invoice.pdf")
	require.NoError(t, err)

	_, err = c.DownloadSingle(ctx, doc.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidState))
}

func TestDownloadSingleSucceedsOnceCompleted(t *testing.T) {
	c := newTestController(t, false)
	ctx := context.Background()
	doc, err := c.Upload(ctx, minimalPDF, "invoice.pdf")
	require.NoError(t, err)

	attempt, err := c.store.StartProcessing(ctx, doc.ID)
	require.NoError(t, err)
	ok, err := c.store.ClaimProcessing(ctx, doc.ID, attempt, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.store.Complete(ctx, doc.ID, attempt, model.FieldMap{"total": model.Number(10)}, map[string]float64{"total": 0.9}, model.ProcessingMetadata{}))

	xlsx, err := c.DownloadSingle(ctx, doc.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, xlsx)
}

func TestListSchemasAndGetSchema(t *testing.T) {
	c := newTestController(t, false)
	schemas := c.ListSchemas()
	assert.Len(t, schemas, 3)

	s, err := c.GetSchema("invoice")
	require.NoError(t, err)
	assert.Equal(t, "invoice", s.Name)

	_, err = c.GetSchema("nonexistent")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.UnknownSchema))
}

func TestStartProcessingOnPendingDocumentIsNoOp(t *testing.T) {
	c := newTestController(t, true)
	ctx := context.Background()
	doc, err := c.Upload(ctx, minimalPDF, "invoice.pdf")
	require.NoError(t, err)

	status1, err := c.StartProcessing(ctx, doc.ID, model.ProcessOptions{})
	require.NoError(t, err)
	status2, err := c.StartProcessing(ctx, doc.ID, model.ProcessOptions{})
	require.NoError(t, err)

	assert.Equal(t, status1.Status, status2.Status, "re-issuing on a Pending document must not change state")
}

func TestStartProcessingRejectsUnknownSchema(t *testing.T) {
	c := newTestController(t, true)
	ctx := context.Background()
	doc, err := c.Upload(ctx, minimalPDF, "invoice.pdf")
	require.NoError(t, err)

	attempt, err := c.store.StartProcessing(ctx, doc.ID)
	require.NoError(t, err)
	ok, err := c.store.ClaimProcessing(ctx, doc.ID, attempt, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.store.Complete(ctx, doc.ID, attempt, model.FieldMap{}, map[string]float64{}, model.ProcessingMetadata{}))

	_, err = c.StartProcessing(ctx, doc.ID, model.ProcessOptions{SchemaName: "nonexistent"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.UnknownSchema))
}

func TestDeleteTombstonesAndRemovesDocument(t *testing.T) {
	c := newTestController(t, true)
	ctx := context.Background()
	doc, err := c.Upload(ctx, minimalPDF, "invoice.pdf")
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, doc.ID))

	_, err = c.GetStatus(ctx, doc.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFoundKind))
}

