package jobqueue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/docengine/internal/model"
)

// newTestQueue opens a queue against a local Redis instance, using names
// unique to the test so parallel test runs don't collide on the same
// stream/group, matching the source's own Redis-backed worker tests.
func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	suffix := fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
	q, err := New(Options{
		RedisURL:    "redis://localhost:6379/5",
		Stream:      "test:jobs:" + suffix,
		Group:       "test:workers:" + suffix,
		DelayedKey:  "test:jobs:delayed:" + suffix,
		DLQStream:   "test:jobs:dlq:" + suffix,
		CancelKey:   "test:jobs:cancelled:" + suffix,
		IdemDoneKey: "test:jobs:idem:" + suffix,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		q.client.Del(ctx, q.stream, q.delayedKey, q.dlqStream, q.cancelKey)
		_ = q.Close()
	})
	return q
}

func TestEnqueueClaimAck(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: 42, AttemptNumber: 1}))

	job, lease, err := q.Claim(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, int64(42), job.DocumentID)

	require.NoError(t, q.Ack(ctx, lease))
}

func TestClaimWithNoJobsReturnsNil(t *testing.T) {
	q := newTestQueue(t)
	job, lease, err := q.Claim(context.Background(), "worker-1", 200*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Nil(t, lease)
}

func TestNackWithZeroDelayRedelivers(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: 7}))

	job, lease, err := q.Claim(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, lease, *job, 0))

	job2, lease2, err := q.Claim(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, job2)
	assert.Equal(t, 1, job2.QueueAttempt, "queue attempt must increment on nack")
	require.NoError(t, q.Ack(ctx, lease2))
}

func TestCancelDocumentMarksIsCancelled(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	cancelled, err := q.IsCancelled(ctx, 99)
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, q.CancelDocument(ctx, 99))
	cancelled, err = q.IsCancelled(ctx, 99)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestAddDLQPromotesJobAndAcksOriginal(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: 5}))

	job, lease, err := q.Claim(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, q.AddDLQ(ctx, lease, *job, "AllPagesFailedExtraction"))

	_, _, dlq, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlq)
}

func TestIdemDoneRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	done, err := q.IsIdemDone(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, q.MarkIdemDone(ctx, "key-1", time.Minute))
	done, err = q.IsIdemDone(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestEnqueuePreservesProcessOptions(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Job{
		DocumentID: 3,
		Options:    model.ProcessOptions{SchemaName: "invoice", TemplateMode: true},
	}))

	job, lease, err := q.Claim(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, lease))
	assert.Equal(t, "invoice", job.Options.SchemaName)
	assert.True(t, job.Options.TemplateMode)
}
