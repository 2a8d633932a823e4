package jobqueue

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const isolatedJobQueueTestRedisDB = 14

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: isolatedJobQueueTestRedisDB})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	err := client.Ping(ctx).Err()
	cancel()
	if err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", err)
	}

	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

func TestNewQueueDefaults(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, DefaultWorkers},
		{"Negative workers", -1, DefaultWorkers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, Options{Workers: tt.workers})

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, DefaultStuckMaxAge, queue.stuckMaxAge)
			assert.NotNil(t, queue.stopCh)
			assert.False(t, queue.running)
		})
	}
}

func TestEnqueueRejectsUnknownType(t *testing.T) {
	queue := NewQueue(nil, Options{})
	_, err := queue.Enqueue(context.Background(), JobTypeBatchSendSms, "", BatchSendSmsPayload{})
	assert.True(t, errors.Is(err, ErrUnknownJobType))
}

func TestEnqueueAndCancelPending(t *testing.T) {
	client := newTestRedisClient(t)
	ctx := context.Background()
	queue := NewQueue(client, Options{KeyPrefix: "test:"})
	noop := HandlerConfig{Handler: func(context.Context, *Job) error { return nil }}
	queue.Register(JobTypeGeneratePaymentLinks, noop)
	queue.Register(JobTypeBatchSendSms, noop)

	generate, err := queue.Enqueue(ctx, JobTypeGeneratePaymentLinks, "job-generate", GeneratePaymentLinksPayload{})
	require.NoError(t, err)
	assert.Equal(t, "job-generate", generate.ID)

	_, err = queue.Enqueue(ctx, JobTypeBatchSendSms, "", BatchSendSmsPayload{LinkIDs: []uint64{1}})
	require.NoError(t, err)

	size, err := queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	removed, err := queue.CancelPending(ctx, JobTypeGeneratePaymentLinks)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	size, err = queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	cancelled, err := queue.GetJob(ctx, "job-generate")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCancelled, cancelled.Status)

	removed, err = queue.CancelPending(ctx, JobTypeGeneratePaymentLinks)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestWorkerProcessesJob(t *testing.T) {
	client := newTestRedisClient(t)
	ctx := context.Background()
	queue := NewQueue(client, Options{KeyPrefix: "test:", Workers: 1})

	done := make(chan []uint64, 1)
	queue.Register(JobTypeBatchSendSms, HandlerConfig{Handler: func(_ context.Context, job *Job) error {
		var payload BatchSendSmsPayload
		if err := job.DecodePayload(&payload); err != nil {
			return err
		}
		done <- payload.LinkIDs
		return nil
	}})

	_, err := queue.Enqueue(ctx, JobTypeBatchSendSms, "", BatchSendSmsPayload{LinkIDs: []uint64{7, 9}})
	require.NoError(t, err)

	queue.Start()
	defer queue.Stop()

	select {
	case ids := <-done:
		assert.Equal(t, []uint64{7, 9}, ids)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not processed")
	}

	assert.Eventually(t, func() bool {
		stats, err := queue.GetJobStats(ctx)
		return err == nil && stats[JobStatusCompleted] == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWorkerMarksJobFailedWithoutRetries(t *testing.T) {
	client := newTestRedisClient(t)
	ctx := context.Background()
	queue := NewQueue(client, Options{KeyPrefix: "test:", Workers: 1})

	var calls int32
	queue.Register(JobTypeFetchAllStatuses, HandlerConfig{
		MaxRetries: 0,
		Handler: func(context.Context, *Job) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("gateway unavailable")
		},
	})

	job, err := queue.Enqueue(ctx, JobTypeFetchAllStatuses, "", struct{}{})
	require.NoError(t, err)

	queue.Start()
	defer queue.Stop()

	assert.Eventually(t, func() bool {
		stored, err := queue.GetJob(ctx, job.ID)
		return err == nil && stored.Status == JobStatusFailed
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSweepStuckRequeuesOldProcessingJobs(t *testing.T) {
	client := newTestRedisClient(t)
	ctx := context.Background()
	queue := NewQueue(client, Options{KeyPrefix: "test:", StuckMaxAge: time.Minute})
	queue.Register(JobTypeGeneratePaymentLinks, HandlerConfig{Handler: func(context.Context, *Job) error { return nil }})

	job, err := queue.Enqueue(ctx, JobTypeGeneratePaymentLinks, "", GeneratePaymentLinksPayload{})
	require.NoError(t, err)

	dequeued, err := queue.dequeueJob(ctx)
	require.NoError(t, err)
	dequeued.MarkAsProcessing()
	queue.updateJob(ctx, dequeued)

	assert.Equal(t, 0, queue.sweepStuck(ctx, time.Now()))
	assert.Equal(t, 1, queue.sweepStuck(ctx, time.Now().Add(2*time.Minute)))

	size, err := queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	processing, err := queue.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)

	stored, err := queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
}

func failOnce(t *testing.T, queue *Queue, jobType JobType, id string) {
	t.Helper()
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, jobType, id, struct{}{})
	require.NoError(t, err)
	dequeued, err := queue.dequeueJob(ctx)
	require.NoError(t, err)
	queue.processJob(dequeued)
}

func TestFailedJobWaitsInDelayedSetAcrossRestart(t *testing.T) {
	client := newTestRedisClient(t)
	ctx := context.Background()
	failing := HandlerConfig{
		MaxRetries: 1,
		RetryDelay: time.Minute,
		Handler:    func(context.Context, *Job) error { return errors.New("gateway unavailable") },
	}
	queue := NewQueue(client, Options{KeyPrefix: "test:"})
	queue.Register(JobTypeGeneratePaymentLinks, failing)

	failOnce(t, queue, JobTypeGeneratePaymentLinks, "job-retry")

	stored, err := queue.GetJob(ctx, "job-retry")
	require.NoError(t, err)
	assert.Equal(t, JobStatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)

	delayed, err := queue.GetDelayedSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)
	size, err := queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	// A fresh process sharing the same Redis picks the retry up.
	restarted := NewQueue(client, Options{KeyPrefix: "test:"})
	restarted.Register(JobTypeGeneratePaymentLinks, failing)

	assert.Equal(t, 0, restarted.promoteDue(ctx, time.Now()))
	assert.Equal(t, 1, restarted.promoteDue(ctx, time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, restarted.promoteDue(ctx, time.Now().Add(2*time.Minute)))

	size, err = restarted.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
	delayed, err = restarted.GetDelayedSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), delayed)

	stored, err = restarted.GetJob(ctx, "job-retry")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
}

func TestCancelPendingCancelsRetryingJobs(t *testing.T) {
	client := newTestRedisClient(t)
	ctx := context.Background()
	queue := NewQueue(client, Options{KeyPrefix: "test:"})
	failing := HandlerConfig{
		MaxRetries: 2,
		Handler:    func(context.Context, *Job) error { return errors.New("gateway unavailable") },
	}
	queue.Register(JobTypeGeneratePaymentLinks, failing)
	queue.Register(JobTypeBatchSendSms, failing)

	failOnce(t, queue, JobTypeGeneratePaymentLinks, "job-generate")
	failOnce(t, queue, JobTypeBatchSendSms, "job-sms")

	removed, err := queue.CancelPending(ctx, JobTypeGeneratePaymentLinks)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	cancelled, err := queue.GetJob(ctx, "job-generate")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCancelled, cancelled.Status)

	other, err := queue.GetJob(ctx, "job-sms")
	require.NoError(t, err)
	assert.Equal(t, JobStatusRetrying, other.Status)

	assert.Equal(t, 1, queue.promoteDue(ctx, time.Now().Add(time.Hour)))
	size, err := queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	removed, err = queue.CancelPending(ctx, JobTypeGeneratePaymentLinks)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
