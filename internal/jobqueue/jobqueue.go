// Package jobqueue implements the durable FIFO-per-document JobQueue
// contract from spec.md §4.3, backed by Redis Streams consumer groups for
// at-least-once delivery plus a ZSET for delayed (backoff) retries and a
// dedicated DLQ stream, grounded on the source's internal/queue/redis.go.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/docengine/internal/model"
)

// Job is a queue item requesting a Document be advanced through the
// pipeline. Not a persisted entity: it exists only inside the JobQueue.
type Job struct {
	DocumentID      int64               `json:"document_id"`
	AttemptNumber   int64               `json:"attempt_number"` // Document's attempt epoch, for conditional writes
	QueueAttempt    int                 `json:"queue_attempt"`  // JobQueue's own delivery-attempt counter
	EnqueuedAt      time.Time           `json:"enqueued_at"`
	Options         model.ProcessOptions `json:"options"`
}

// LeaseToken is the opaque handle returned by Claim; it must be presented to
// Ack, Nack, or ExtendLease.
type LeaseToken struct {
	MessageID string
	Consumer  string
}

type Queue struct {
	client      *redis.Client
	stream      string
	group       string
	delayedKey  string
	dlqStream   string
	cancelKey   string
	idemDoneKey string
	stop        chan struct{}
}

type Options struct {
	RedisURL    string
	Stream      string
	Group       string
	DelayedKey  string
	DLQStream   string
	CancelKey   string
	IdemDoneKey string
}

func New(opts Options) (*Queue, error) {
	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: parse url: %w", err)
	}
	client := redis.NewClient(ro)
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("jobqueue: ping: %w", err)
	}
	if err := client.XGroupCreateMkStream(ctx, opts.Stream, opts.Group, "$").Err(); err != nil &&
		!isBusyGroupErr(err) {
		return nil, fmt.Errorf("jobqueue: create group: %w", err)
	}
	q := &Queue{
		client: client, stream: opts.Stream, group: opts.Group,
		delayedKey: opts.DelayedKey, dlqStream: opts.DLQStream,
		cancelKey: opts.CancelKey, idemDoneKey: opts.IdemDoneKey,
		stop: make(chan struct{}),
	}
	go q.mover()
	return q, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && (err.Error() == "BUSYGROUP Consumer Group name already exists" ||
		len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP")
}

// Enqueue durably appends a job; Redis Streams preserve FIFO order per
// stream, and every job for a given document_id is appended to the same
// stream, so per-document FIFO holds.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{"payload": string(b)},
	}).Err()
}

// Claim blocks up to timeout for the next available job for consumer.
func (q *Queue) Claim(ctx context.Context, consumer string, timeout time.Duration) (*Job, *LeaseToken, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()
	if err == redis.Nil {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("jobqueue: claim: %w", err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil, nil
	}
	msg := res[0].Messages[0]
	payload, _ := msg.Values["payload"].(string)
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		// Malformed payload: ack it away so it doesn't wedge the stream.
		q.client.XAck(ctx, q.stream, q.group, msg.ID)
		return nil, nil, fmt.Errorf("jobqueue: decode payload: %w", err)
	}
	return &job, &LeaseToken{MessageID: msg.ID, Consumer: consumer}, nil
}

func (q *Queue) Ack(ctx context.Context, lease *LeaseToken) error {
	return q.client.XAck(ctx, q.stream, q.group, lease.MessageID).Err()
}

// ExtendLease resets the pending-entry idle timer for this message so a
// reaper scanning XPending for stale entries does not reclaim it early.
func (q *Queue) ExtendLease(ctx context.Context, lease *LeaseToken, _ time.Duration) error {
	_, err := q.client.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: lease.Consumer,
		MinIdle:  0,
		Messages: []string{lease.MessageID},
	}).Result()
	return err
}

// Nack makes the job visible again after delay (or immediately if delay is
// zero), incrementing its queue-attempt counter. It acks the original
// delivery so the stream's pending-entries list does not also retain it.
func (q *Queue) Nack(ctx context.Context, lease *LeaseToken, job Job, delay time.Duration) error {
	if err := q.client.XAck(ctx, q.stream, q.group, lease.MessageID).Err(); err != nil {
		return err
	}
	job.QueueAttempt++
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	score := float64(time.Now().Add(delay).Unix())
	return q.client.ZAdd(ctx, q.delayedKey, redis.Z{Score: score, Member: string(b)}).Err()
}

// AddDLQ promotes a job that has exhausted MaxAttempts to the dead-letter
// stream and acks the original delivery.
func (q *Queue) AddDLQ(ctx context.Context, lease *LeaseToken, job Job, reason string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, lease.MessageID).Err(); err != nil {
		return err
	}
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.dlqStream,
		Values: map[string]interface{}{"payload": string(b), "reason": reason},
	}).Err()
}

func (q *Queue) CancelDocument(ctx context.Context, documentID int64) error {
	return q.client.SAdd(ctx, q.cancelKey, documentID).Err()
}

func (q *Queue) IsCancelled(ctx context.Context, documentID int64) (bool, error) {
	return q.client.SIsMember(ctx, q.cancelKey, documentID).Result()
}

func (q *Queue) IsIdemDone(ctx context.Context, key string) (bool, error) {
	n, err := q.client.Exists(ctx, q.idemDoneKey+":"+key).Result()
	return n > 0, err
}

func (q *Queue) MarkIdemDone(ctx context.Context, key string, ttl time.Duration) error {
	return q.client.Set(ctx, q.idemDoneKey+":"+key, "1", ttl).Err()
}

// Depths reports stream/delayed/dlq sizes for queue-depth metrics.
func (q *Queue) Depths(ctx context.Context) (stream, delayed, dlq int64, err error) {
	pipe := q.client.Pipeline()
	sc := pipe.XLen(ctx, q.stream)
	dc := pipe.ZCard(ctx, q.delayedKey)
	qc := pipe.XLen(ctx, q.dlqStream)
	if _, err = pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, 0, err
	}
	return sc.Val(), dc.Val(), qc.Val(), nil
}

// mover periodically promotes due delayed-retry entries back onto the main
// stream, mirroring the source's queue mover goroutine.
func (q *Queue) mover() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.moveOnce()
		}
	}
}

func (q *Queue) moveOnce() {
	ctx := context.Background()
	now := float64(time.Now().Unix())
	items, err := q.client.ZRangeByScoreWithScores(ctx, q.delayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now), Count: 100,
	}).Result()
	if err != nil || len(items) == 0 {
		return
	}
	for _, item := range items {
		payload, ok := item.Member.(string)
		if !ok {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: map[string]interface{}{"payload": payload}})
		pipe.ZRem(ctx, q.delayedKey, item.Member)
		_, _ = pipe.Exec(ctx)
	}
}

func (q *Queue) Close() error {
	close(q.stop)
	return q.client.Close()
}

// Client exposes the underlying redis client for the health check and
// progress-adjacent ephemeral state that do not warrant their own wrapper.
func (q *Queue) Client() *redis.Client { return q.client }
