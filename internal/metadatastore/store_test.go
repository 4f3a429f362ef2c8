package metadatastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/docengine/internal/errs"
	"github.com/local/docengine/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateOrGetByHashInsertsNewDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, isNew, err := s.CreateOrGetByHash(ctx, "hash-1", "invoice.pdf", "stored-1.pdf", 1024, "blob://1")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, model.StatusPending, doc.Status)
	assert.Equal(t, "invoice.pdf", doc.OriginalFilename)
}

func TestCreateOrGetByHashDedupsOnSecondUpload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, isNew1, err := s.CreateOrGetByHash(ctx, "hash-dup", "a.pdf", "a-stored.pdf", 10, "blob://a")
	require.NoError(t, err)
	assert.True(t, isNew1)

	second, isNew2, err := s.CreateOrGetByHash(ctx, "hash-dup", "b.pdf", "b-stored.pdf", 10, "blob://b")
	require.NoError(t, err)
	assert.False(t, isNew2)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "a.pdf", second.OriginalFilename, "dedup returns the original row unchanged")
}

func TestGetByIDNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetByID(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFoundKind))
}

func TestStartProcessingBumpsAttemptAndResetsState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, _, err := s.CreateOrGetByHash(ctx, "h2", "f.pdf", "f-stored.pdf", 10, "blob://f")
	require.NoError(t, err)

	attempt, err := s.StartProcessing(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), attempt)

	refreshed, err := s.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, refreshed.Status)
	assert.Equal(t, int64(1), refreshed.AttemptNumber)
}

func TestStartProcessingRejectsAlreadyProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, _, err := s.CreateOrGetByHash(ctx, "h3", "f.pdf", "f-stored.pdf", 10, "blob://f")
	require.NoError(t, err)

	attempt, err := s.StartProcessing(ctx, doc.ID)
	require.NoError(t, err)
	claimed, err := s.ClaimProcessing(ctx, doc.ID, attempt, "worker-1")
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = s.StartProcessing(ctx, doc.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConflictKind))
}

func TestClaimProcessingOnlyOneWorkerWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, _, err := s.CreateOrGetByHash(ctx, "h4", "f.pdf", "f-stored.pdf", 10, "blob://f")
	require.NoError(t, err)
	attempt, err := s.StartProcessing(ctx, doc.ID)
	require.NoError(t, err)

	claimed1, err := s.ClaimProcessing(ctx, doc.ID, attempt, "worker-a")
	require.NoError(t, err)
	claimed2, err := s.ClaimProcessing(ctx, doc.ID, attempt, "worker-b")
	require.NoError(t, err)

	assert.True(t, claimed1)
	assert.False(t, claimed2, "second claim on an already-processing attempt must lose the race")
}

func TestCompleteRequiresMatchingAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, _, err := s.CreateOrGetByHash(ctx, "h5", "f.pdf", "f-stored.pdf", 10, "blob://f")
	require.NoError(t, err)
	attempt, err := s.StartProcessing(ctx, doc.ID)
	require.NoError(t, err)
	ok, err := s.ClaimProcessing(ctx, doc.ID, attempt, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)

	fields := model.FieldMap{"total": model.Number(42)}
	confidence := map[string]float64{"total": 0.9}
	require.NoError(t, s.Complete(ctx, doc.ID, attempt, fields, confidence, model.ProcessingMetadata{}))

	refreshed, err := s.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, refreshed.Status)
	assert.Equal(t, fields, refreshed.ExtractedFields)
	assert.Equal(t, 1.0, refreshed.Progress)

	err = s.Complete(ctx, doc.ID, attempt, fields, confidence, model.ProcessingMetadata{})
	require.Error(t, err, "completing an already-completed attempt must conflict")
	assert.True(t, errs.Is(err, errs.ConflictKind))
}

func TestResetStaleProcessingReturnsStrandedIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, _, err := s.CreateOrGetByHash(ctx, "h6", "f.pdf", "f-stored.pdf", 10, "blob://f")
	require.NoError(t, err)
	attempt, err := s.StartProcessing(ctx, doc.ID)
	require.NoError(t, err)
	ok, err := s.ClaimProcessing(ctx, doc.ID, attempt, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)

	ids, err := s.ResetStaleProcessing(ctx, -time.Hour) // everything looks stale
	require.NoError(t, err)
	assert.Contains(t, ids, doc.ID)

	refreshed, err := s.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, refreshed.Status)
}

func TestTombstoneAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, _, err := s.CreateOrGetByHash(ctx, "h7", "f.pdf", "f-stored.pdf", 10, "blob://f")
	require.NoError(t, err)

	tombstoned, err := s.IsTombstoned(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, tombstoned)

	require.NoError(t, s.Tombstone(ctx, doc.ID))
	tombstoned, err = s.IsTombstoned(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, tombstoned)

	require.NoError(t, s.Delete(ctx, doc.ID))
	_, err = s.GetByID(ctx, doc.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFoundKind))
}

func TestListOrdersByCreatedAtThenIDDescending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := s.CreateOrGetByHash(ctx, string(rune('a'+i)), "f.pdf", "f-stored.pdf", 10, "blob://f")
		require.NoError(t, err)
	}

	docs, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.True(t, docs[0].ID > docs[1].ID)
	assert.True(t, docs[1].ID > docs[2].ID)
}

func TestListFiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc1, _, err := s.CreateOrGetByHash(ctx, "sf1", "f.pdf", "f-stored.pdf", 10, "blob://f")
	require.NoError(t, err)
	_, _, err = s.CreateOrGetByHash(ctx, "sf2", "g.pdf", "g-stored.pdf", 10, "blob://g")
	require.NoError(t, err)

	attempt, err := s.StartProcessing(ctx, doc1.ID)
	require.NoError(t, err)
	ok, err := s.ClaimProcessing(ctx, doc1.ID, attempt, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Complete(ctx, doc1.ID, attempt, model.FieldMap{}, map[string]float64{}, model.ProcessingMetadata{}))

	completed := model.StatusCompleted
	docs, err := s.List(ctx, ListFilter{Status: &completed})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, doc1.ID, docs[0].ID)
}
