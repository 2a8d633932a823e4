package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	JobKeyPrefix     = "job:"
	JobQueueKey      = "job_queue"
	JobProcessingKey = "job_processing"
	JobStatsKey      = "job_stats"
	JobDelayedKey    = "job_delayed"

	DefaultWorkers         = 2
	DefaultRetryDelay      = time.Minute
	DefaultStuckMaxAge     = 90 * time.Minute
	DefaultSweepInterval   = time.Minute
	DefaultPromoteInterval = 5 * time.Second
	JobTTL                 = 24 * time.Hour
)

var ErrUnknownJobType = errors.New("unknown job type")

type Handler func(ctx context.Context, job *Job) error

type HandlerConfig struct {
	Handler    Handler
	MaxRetries int
	Timeout    time.Duration
	RetryDelay time.Duration
}

type Options struct {
	KeyPrefix       string
	Workers         int
	StuckMaxAge     time.Duration
	SweepInterval   time.Duration
	PromoteInterval time.Duration
	Logger          logrus.FieldLogger
}

// Queue is an at-least-once job queue on Redis lists. Jobs move atomically from the
// pending list to the processing list and are removed once a worker finishes them.
// Retries wait in a sorted set scored by their due time until promoted back to pending.
type Queue struct {
	client          redis.UniversalClient
	keyPrefix       string
	workers         int
	stuckMaxAge     time.Duration
	sweepInterval   time.Duration
	promoteInterval time.Duration
	logger          logrus.FieldLogger

	handlers map[JobType]HandlerConfig

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewQueue(client redis.UniversalClient, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.StuckMaxAge <= 0 {
		opts.StuckMaxAge = DefaultStuckMaxAge
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.PromoteInterval <= 0 {
		opts.PromoteInterval = DefaultPromoteInterval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Queue{
		client:          client,
		keyPrefix:       opts.KeyPrefix,
		workers:         opts.Workers,
		stuckMaxAge:     opts.StuckMaxAge,
		sweepInterval:   opts.SweepInterval,
		promoteInterval: opts.PromoteInterval,
		logger:          opts.Logger,
		handlers:        map[JobType]HandlerConfig{},
		stopCh:          make(chan struct{}),
	}
}

// Register must be called before Start.
func (q *Queue) Register(jobType JobType, cfg HandlerConfig) {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	q.handlers[jobType] = cfg
}

func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.running = true
	q.logger.WithField("workers", q.workers).Info("Starting job queue workers")

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.wg.Add(1)
	go q.maintain()
}

func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	q.logger.Info("Stopping job queue workers")
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	q.logger.Info("All job queue workers stopped")
}

// Enqueue stores the job and pushes it onto the pending list. An empty id gets a fresh uuid.
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, id string, payload interface{}) (*Job, error) {
	cfg, ok := q.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	if id == "" {
		id = uuid.New().String()
	}

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	now := time.Now()
	job := &Job{
		ID:         id,
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    rawPayload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: cfg.MaxRetries,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), jobData, JobTTL)
	pipe.LPush(ctx, q.key(JobQueueKey), job.ID)
	pipe.HIncrBy(ctx, q.key(JobStatsKey), string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.WithFields(logrus.Fields{"job_id": job.ID, "job_type": job.Type}).Info("Enqueued job")
	return job, nil
}

// CancelPending removes queued and retry-waiting jobs of the given type that no worker
// has picked up. Jobs already processing are left alone. It returns how many were removed.
func (q *Queue) CancelPending(ctx context.Context, jobType JobType) (int, error) {
	ids, err := q.client.LRange(ctx, q.key(JobQueueKey), 0, -1).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return removed, err
		}
		if job.Type != jobType {
			continue
		}

		n, err := q.client.LRem(ctx, q.key(JobQueueKey), 1, id).Result()
		if err != nil {
			return removed, err
		}
		if n == 0 {
			continue
		}

		job.MarkAsCancelled()
		q.updateJob(ctx, job)
		q.updateJobStats(ctx, JobStatusCancelled, 1)
		removed++
	}

	delayed, err := q.cancelDelayed(ctx, jobType)
	removed += delayed
	if err != nil {
		return removed, err
	}

	if removed > 0 {
		q.logger.WithFields(logrus.Fields{"job_type": jobType, "removed": removed}).Info("Cancelled pending jobs")
	}
	return removed, nil
}

func (q *Queue) cancelDelayed(ctx context.Context, jobType JobType) (int, error) {
	ids, err := q.client.ZRange(ctx, q.key(JobDelayedKey), 0, -1).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				q.client.ZRem(ctx, q.key(JobDelayedKey), id)
				continue
			}
			return removed, err
		}
		if job.Type != jobType || job.Status != JobStatusRetrying {
			continue
		}

		n, err := q.client.ZRem(ctx, q.key(JobDelayedKey), id).Result()
		if err != nil {
			return removed, err
		}
		if n == 0 {
			continue
		}

		job.MarkAsCancelled()
		q.updateJob(ctx, job)
		q.updateJobStats(ctx, JobStatusCancelled, 1)
		removed++
	}
	return removed, nil
}

func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobData, err := q.client.Get(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, q.key(JobStatsKey)).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64)
	for status, count := range stats {
		if countInt, err := json.Number(count).Int64(); err == nil {
			result[JobStatus(status)] = countInt
		}
	}

	return result, nil
}

func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key(JobQueueKey)).Result()
}

func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key(JobProcessingKey)).Result()
}

func (q *Queue) GetDelayedSize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key(JobDelayedKey)).Result()
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	logger := q.logger.WithField("worker", id)
	logger.Debug("Job worker started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-q.stopCh
		cancel()
	}()

	for {
		select {
		case <-q.stopCh:
			logger.Debug("Job worker stopping")
			return
		default:
		}

		job, err := q.dequeueJob(ctx)
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				logger.WithError(err).Error("Error dequeuing job")
				time.Sleep(time.Second)
			}
			continue
		}

		logger.WithFields(logrus.Fields{"job_id": job.ID, "job_type": job.Type}).Info("Processing job")
		q.processJob(job)
	}
}

func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	jobID, err := q.client.BRPopLPush(ctx, q.key(JobQueueKey), q.key(JobProcessingKey), time.Second).Result()
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		q.removeFromProcessing(ctx, jobID)
		return nil, fmt.Errorf("job data not found for ID %s: %w", jobID, err)
	}

	return job, nil
}

// processJob runs detached from the worker context so Stop lets the current job finish.
func (q *Queue) processJob(job *Job) {
	ctx := context.Background()
	logger := q.logger.WithFields(logrus.Fields{"job_id": job.ID, "job_type": job.Type})

	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	err := q.runHandler(ctx, job)
	if err != nil {
		logger.WithError(err).Error("Job failed")
		job.MarkAsFailed(err.Error())

		if job.IsRetryable() {
			delay := q.retryDelay(job)
			logger.WithFields(logrus.Fields{"attempt": job.RetryCount, "max_retries": job.MaxRetries, "delay": delay.String()}).Info("Retrying job")
			job.MarkAsRetrying()
			q.updateJob(ctx, job)
			q.scheduleRetry(ctx, job.ID, time.Now().Add(delay))
		} else {
			logger.WithField("retries", job.RetryCount-1).Error("Job permanently failed")
			q.updateJob(ctx, job)
			q.updateJobStats(ctx, JobStatusFailed, 1)
		}
	} else {
		logger.Info("Job completed successfully")
		job.MarkAsCompleted()
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		q.removeCompletedJob(ctx, job.ID)
	}

	q.removeFromProcessing(ctx, job.ID)
}

func (q *Queue) runHandler(ctx context.Context, job *Job) (err error) {
	cfg, ok := q.handlers[job.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()

	return cfg.Handler(ctx, job)
}

func (q *Queue) retryDelay(job *Job) time.Duration {
	base := q.handlers[job.Type].RetryDelay
	if base <= 0 {
		base = DefaultRetryDelay
	}
	return base * time.Duration(job.RetryCount)
}

func (q *Queue) scheduleRetry(ctx context.Context, jobID string, due time.Time) {
	member := redis.Z{Score: float64(due.UnixMilli()), Member: jobID}
	if err := q.client.ZAdd(ctx, q.key(JobDelayedKey), member).Err(); err != nil {
		q.logger.WithError(err).WithField("job_id", jobID).Error("Failed to schedule job retry")
	}
}

// maintain promotes due retries and requeues jobs left in the processing list by a
// crashed worker.
func (q *Queue) maintain() {
	defer q.wg.Done()
	sweep := time.NewTicker(q.sweepInterval)
	defer sweep.Stop()
	promote := time.NewTicker(q.promoteInterval)
	defer promote.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-promote.C:
			q.promoteDue(context.Background(), time.Now())
		case <-sweep.C:
			q.sweepStuck(context.Background(), time.Now())
		}
	}
}

// promoteDue moves retries whose delay has elapsed back onto the pending list. ZRem
// decides the winner when several processes promote the same job.
func (q *Queue) promoteDue(ctx context.Context, now time.Time) int {
	ids, err := q.client.ZRangeByScore(ctx, q.key(JobDelayedKey), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		q.logger.WithError(err).Error("Failed to read delayed jobs")
		return 0
	}

	promoted := 0
	for _, id := range ids {
		n, err := q.client.ZRem(ctx, q.key(JobDelayedKey), id).Result()
		if err != nil || n == 0 {
			continue
		}

		job, err := q.GetJob(ctx, id)
		if err != nil || job.Status != JobStatusRetrying {
			continue
		}
		job.Status = JobStatusPending
		job.UpdatedAt = now
		q.updateJob(ctx, job)
		if err := q.client.LPush(ctx, q.key(JobQueueKey), id).Err(); err != nil {
			q.logger.WithError(err).WithField("job_id", id).Error("Failed to requeue job for retry")
			continue
		}
		promoted++
	}
	return promoted
}

func (q *Queue) sweepStuck(ctx context.Context, now time.Time) int {
	ids, err := q.client.LRange(ctx, q.key(JobProcessingKey), 0, -1).Result()
	if err != nil {
		q.logger.WithError(err).Error("Sweeper failed to read processing list")
		return 0
	}

	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			q.removeFromProcessing(ctx, id)
			continue
		}
		if job.Status != JobStatusProcessing {
			q.removeFromProcessing(ctx, id)
			continue
		}

		started := job.UpdatedAt
		if job.ProcessedAt != nil && !job.ProcessedAt.IsZero() {
			started = *job.ProcessedAt
		}
		if now.Sub(started) <= q.stuckMaxAge {
			continue
		}

		q.logger.WithFields(logrus.Fields{"job_id": job.ID, "job_type": job.Type, "age": now.Sub(started).String()}).Warn("Recovering stuck job")
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered by sweeper"
		job.UpdatedAt = now
		q.updateJob(ctx, job)
		q.removeFromProcessing(ctx, id)
		if err := q.client.RPush(ctx, q.key(JobQueueKey), id).Err(); err != nil {
			q.logger.WithError(err).WithField("job_id", id).Error("Failed to requeue stuck job")
			continue
		}
		recovered++
	}

	return recovered
}

func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		q.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to marshal job")
		return
	}

	if err := q.client.Set(ctx, q.jobKey(job.ID), jobData, JobTTL).Err(); err != nil {
		q.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to update job")
	}
}

func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, q.key(JobProcessingKey), 1, jobID).Err(); err != nil {
		q.logger.WithError(err).WithField("job_id", jobID).Error("Failed to remove job from processing list")
	}
}

func (q *Queue) removeCompletedJob(ctx context.Context, jobID string) {
	if err := q.client.Del(ctx, q.jobKey(jobID)).Err(); err != nil {
		q.logger.WithError(err).WithField("job_id", jobID).Error("Failed to remove completed job")
	}
}

func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, q.key(JobStatsKey), string(status), delta).Err(); err != nil {
		q.logger.WithError(err).Error("Failed to update job stats")
	}
}

func (q *Queue) key(name string) string {
	return q.keyPrefix + name
}

func (q *Queue) jobKey(jobID string) string {
	return q.keyPrefix + JobKeyPrefix + jobID
}
