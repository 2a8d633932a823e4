package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collections/app/entity"
	"github.com/vibast-solutions/ms-go-collections/app/factory"
	"github.com/vibast-solutions/ms-go-collections/app/jobqueue"
	"github.com/vibast-solutions/ms-go-collections/app/progress"
	"github.com/vibast-solutions/ms-go-collections/config"
)

const leaseMargin = 10 * time.Minute

type jobDispatcher interface {
	Enqueue(ctx context.Context, jobType jobqueue.JobType, id string, payload interface{}) (*jobqueue.Job, error)
	CancelPending(ctx context.Context, jobType jobqueue.JobType) (int, error)
}

type jobRegistrar interface {
	Register(jobType jobqueue.JobType, cfg jobqueue.HandlerConfig)
}

type TriggerResult struct {
	Queued  bool
	JobID   string
	Total   int
	Message string
}

type CancelResult struct {
	Removed int
	Message string
}

type FetchSummary struct {
	Total   int
	Paid    int
	Expired int
	Pending int
	Skipped int
	Errors  int
}

func (s *FetchSummary) add(status string) {
	s.Total++
	switch status {
	case FetchStatusPaid:
		s.Paid++
	case FetchStatusExpired:
		s.Expired++
	case FetchStatusPending:
		s.Pending++
	case FetchStatusSkipped:
		s.Skipped++
	default:
		s.Errors++
	}
}

type batchOperation struct {
	name       string
	jobType    jobqueue.JobType
	maxRetries int
	timeout    time.Duration
}

func (op batchOperation) tracksProgress() bool {
	return op.jobType != jobqueue.JobTypeFetchAllStatuses
}

// JobOrchestrator starts, runs and cancels the background batches. At most one batch per
// operation runs at a time; the lease is owned by the queued job's id.
type JobOrchestrator struct {
	links      *PaymentLinkService
	clients    clientRepository
	linkRepo   paymentLinkRepository
	dispatcher jobDispatcher
	progress   progress.Store
	locker     progress.Locker
	cfg        config.CollectionsConfig
	jobsCfg    config.JobsConfig
	sleep      func(ctx context.Context, d time.Duration) error
	logger     logrus.FieldLogger
}

func NewJobOrchestrator(
	links *PaymentLinkService,
	clients clientRepository,
	linkRepo paymentLinkRepository,
	dispatcher jobDispatcher,
	store progress.Store,
	locker progress.Locker,
	cfg config.CollectionsConfig,
	jobsCfg config.JobsConfig,
) *JobOrchestrator {
	return &JobOrchestrator{
		links:      links,
		clients:    clients,
		linkRepo:   linkRepo,
		dispatcher: dispatcher,
		progress:   store,
		locker:     locker,
		cfg:        cfg,
		jobsCfg:    jobsCfg,
		sleep:      sleepContext,
		logger:     factory.NewModuleLogger("job-orchestrator"),
	}
}

func (o *JobOrchestrator) RegisterHandlers(registrar jobRegistrar) {
	for _, op := range o.operations() {
		var handler jobqueue.Handler
		switch op.jobType {
		case jobqueue.JobTypeGeneratePaymentLinks:
			handler = o.RunGenerateLinks
		case jobqueue.JobTypeBatchSendSms:
			handler = o.RunBatchSendSms
		case jobqueue.JobTypeFetchAllStatuses:
			handler = o.RunFetchAllStatuses
		}
		registrar.Register(op.jobType, jobqueue.HandlerConfig{
			Handler:    handler,
			MaxRetries: op.maxRetries,
			Timeout:    op.timeout,
		})
	}
}

// TriggerGenerateLinks queues link generation for every eligible client, or only for
// clientIDs when given. Nothing is queued when no client is eligible.
func (o *JobOrchestrator) TriggerGenerateLinks(ctx context.Context, clientIDs []uint64) (*TriggerResult, error) {
	ids := uniqueIDs(clientIDs)
	if len(ids) > o.batchLimit() {
		return nil, invalidRequest(fmt.Sprintf("client_ids accepts at most %d ids", o.batchLimit()))
	}
	if len(ids) > 0 {
		found, err := o.clients.FindByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(found) != len(ids) {
			return nil, invalidRequest("client_ids contains unknown clients")
		}
	}

	eligible, err := o.clients.ListEligibleForLinks(ctx, o.cfg.EligibilityThreshold, ids)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return &TriggerResult{Message: "No clients are eligible for a payment link."}, nil
	}

	op := o.operation(jobqueue.JobTypeGeneratePaymentLinks)
	jobID, err := o.start(ctx, op, len(eligible), jobqueue.GeneratePaymentLinksPayload{ClientIDs: ids})
	if err != nil {
		return nil, err
	}

	return &TriggerResult{
		Queued:  true,
		JobID:   jobID,
		Total:   len(eligible),
		Message: fmt.Sprintf("Generating payment links for %d clients.", len(eligible)),
	}, nil
}

// TriggerBatchSms queues SMS delivery for the selected links that are still pending and unsent.
func (o *JobOrchestrator) TriggerBatchSms(ctx context.Context, linkIDs []uint64) (*TriggerResult, error) {
	ids := uniqueIDs(linkIDs)
	if len(ids) == 0 {
		return nil, invalidRequest("link_ids is required")
	}
	if len(ids) > o.batchLimit() {
		return nil, invalidRequest(fmt.Sprintf("link_ids accepts at most %d ids", o.batchLimit()))
	}

	links, err := o.linkRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(links) != len(ids) {
		return nil, invalidRequest("link_ids contains unknown payment links")
	}
	eligible := smsEligible(links)
	if len(eligible) == 0 {
		return nil, invalidRequest("none of the selected payment links can be texted")
	}

	op := o.operation(jobqueue.JobTypeBatchSendSms)
	jobID, err := o.start(ctx, op, len(eligible), jobqueue.BatchSendSmsPayload{LinkIDs: ids})
	if err != nil {
		return nil, err
	}

	return &TriggerResult{
		Queued:  true,
		JobID:   jobID,
		Total:   len(eligible),
		Message: fmt.Sprintf("Sending SMS for %d payment links.", len(eligible)),
	}, nil
}

// TriggerFetchAll queues a status poll of every pending link carrying a gateway id.
func (o *JobOrchestrator) TriggerFetchAll(ctx context.Context) (*TriggerResult, error) {
	count, err := o.linkRepo.CountPendingWithGatewayID(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return &TriggerResult{Message: "No pending payment links to check."}, nil
	}

	op := o.operation(jobqueue.JobTypeFetchAllStatuses)
	jobID, err := o.start(ctx, op, int(count), struct{}{})
	if err != nil {
		return nil, err
	}

	return &TriggerResult{
		Queued:  true,
		JobID:   jobID,
		Total:   int(count),
		Message: fmt.Sprintf("Checking %d pending payment links.", count),
	}, nil
}

// Cancel removes queued and retry-waiting jobs of the operation and forgets its
// progress. A running job is not interrupted; a cancel marker keeps it from
// publishing progress again until it finishes.
func (o *JobOrchestrator) Cancel(ctx context.Context, operation string) (*CancelResult, error) {
	op, ok := o.operationByName(operation)
	if !ok {
		return nil, ErrUnknownOperation
	}

	removed, err := o.dispatcher.CancelPending(ctx, op.jobType)
	if err != nil {
		return nil, err
	}

	running := false
	if removed == 0 {
		owner, err := o.locker.Owner(ctx, op.name)
		if err != nil {
			return nil, err
		}
		running = owner != ""
	}
	if running && op.tracksProgress() {
		marker := progress.Snapshot{StartedAt: time.Now().UTC()}
		if err := o.progress.Put(ctx, progress.CancelMarker(op.name), marker); err != nil {
			return nil, err
		}
	}
	if err := o.progress.Delete(ctx, op.name); err != nil {
		return nil, err
	}
	if removed > 0 {
		if err := o.locker.ForceRelease(ctx, op.name); err != nil {
			return nil, err
		}
	}

	o.logger.WithFields(logrus.Fields{
		"operation": op.name,
		"removed":   removed,
		"running":   running,
	}).Info("Batch cancelled")

	message := "Batch cancelled."
	switch {
	case running:
		message = "Nothing queued to cancel. The running batch cannot be interrupted and will finish on its own."
	case removed == 0:
		message = "No batch is queued or running."
	}
	return &CancelResult{Removed: removed, Message: message}, nil
}

// Progress returns the live snapshot of a batch, or nil when none is running.
func (o *JobOrchestrator) Progress(ctx context.Context, operation string) (*progress.Snapshot, error) {
	if operation != progress.OperationGenerateLinks && operation != progress.OperationBatchSms {
		return nil, ErrUnknownOperation
	}
	marker, err := o.progress.Get(ctx, progress.CancelMarker(operation))
	if err != nil {
		return nil, err
	}
	if marker != nil {
		return nil, nil
	}
	return o.progress.Get(ctx, operation)
}

func (o *JobOrchestrator) RunGenerateLinks(ctx context.Context, job *jobqueue.Job) (err error) {
	op := o.operation(jobqueue.JobTypeGeneratePaymentLinks)
	defer o.finish(op, job, &err)

	var payload jobqueue.GeneratePaymentLinksPayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}

	eligible, err := o.clients.ListEligibleForLinks(ctx, o.cfg.EligibilityThreshold, payload.ClientIDs)
	if err != nil {
		return err
	}

	tracker := o.track(ctx, op, len(eligible), o.cfg.ProgressFlushEvery)

	created, failed := 0, 0
	for _, client := range eligible {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := o.links.Store(ctx, client, client.CollectibleAmount(), nil); err != nil {
			failed++
			o.logger.WithField("client_id", client.ID).WithError(err).Warn("Payment link generation skipped client")
		} else {
			created++
		}
		o.logProgressError(tracker.Advance(ctx), op.name)
	}

	o.logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"created":   created,
		"failed":    failed,
		"cancelled": tracker.Cancelled(),
	}).Info("Payment link generation finished")

	return nil
}

func (o *JobOrchestrator) RunBatchSendSms(ctx context.Context, job *jobqueue.Job) (err error) {
	op := o.operation(jobqueue.JobTypeBatchSendSms)
	defer o.finish(op, job, &err)

	var payload jobqueue.BatchSendSmsPayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}

	links, err := o.linkRepo.FindByIDs(ctx, payload.LinkIDs)
	if err != nil {
		return err
	}
	eligible := smsEligible(links)

	tracker := o.track(ctx, op, len(eligible), 1)

	sent, failed := 0, 0
	for _, link := range eligible {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := o.links.SendSms(ctx, link)
		switch {
		case err != nil:
			failed++
			o.logger.WithField("payment_link_id", link.ID).WithError(err).Warn("Batch SMS skipped payment link")
		case result.Sent():
			sent++
		default:
			failed++
		}
		o.logProgressError(tracker.Advance(ctx), op.name)
	}

	o.logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"sent":      sent,
		"failed":    failed,
		"cancelled": tracker.Cancelled(),
	}).Info("Batch SMS finished")

	return nil
}

func (o *JobOrchestrator) RunFetchAllStatuses(ctx context.Context, job *jobqueue.Job) (err error) {
	op := o.operation(jobqueue.JobTypeFetchAllStatuses)
	defer o.finish(op, job, &err)

	summary, err := o.fetchAll(ctx)
	if err != nil {
		return err
	}
	o.logSummary(job.ID, summary)
	return nil
}

// FetchAllStatusesNow polls every pending link inline, holding the same lease a queued job would.
func (o *JobOrchestrator) FetchAllStatusesNow(ctx context.Context) (*FetchSummary, error) {
	op := o.operation(jobqueue.JobTypeFetchAllStatuses)
	owner := "inline-" + uuid.New().String()

	acquired, err := o.locker.Acquire(ctx, op.name, owner, o.leaseTTL(op))
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrBatchInProgress
	}
	defer func() {
		_ = o.locker.Release(context.Background(), op.name, owner)
	}()

	summary, err := o.fetchAll(ctx)
	if err != nil {
		return nil, err
	}
	o.logSummary(owner, summary)
	return summary, nil
}

func (o *JobOrchestrator) fetchAll(ctx context.Context) (*FetchSummary, error) {
	links, err := o.linkRepo.ListPendingWithGatewayID(ctx)
	if err != nil {
		return nil, err
	}

	summary := &FetchSummary{}
	for i, link := range links {
		result := o.links.FetchStatus(ctx, link)
		summary.add(result.Status)

		if i < len(links)-1 {
			if err := o.sleep(ctx, o.cfg.FetchDelay); err != nil {
				return summary, err
			}
		}
	}
	return summary, nil
}

func (o *JobOrchestrator) logSummary(runID string, summary *FetchSummary) {
	o.logger.WithFields(logrus.Fields{
		"run_id":  runID,
		"total":   summary.Total,
		"paid":    summary.Paid,
		"expired": summary.Expired,
		"pending": summary.Pending,
		"skipped": summary.Skipped,
		"errors":  summary.Errors,
	}).Info("Payment status fetch finished")
}

// start takes the operation lease, seeds progress and queues the job under the lease owner id.
func (o *JobOrchestrator) start(ctx context.Context, op batchOperation, total int, payload interface{}) (string, error) {
	jobID := uuid.New().String()

	acquired, err := o.locker.Acquire(ctx, op.name, jobID, o.leaseTTL(op))
	if err != nil {
		return "", err
	}
	if !acquired {
		return "", ErrBatchInProgress
	}

	tracksProgress := op.tracksProgress()
	if tracksProgress {
		o.logProgressError(o.progress.Delete(ctx, progress.CancelMarker(op.name)), op.name)
		if err := o.progress.Put(ctx, op.name, progress.Snapshot{
			Total:     total,
			StartedAt: time.Now().UTC(),
		}); err != nil {
			_ = o.locker.Release(ctx, op.name, jobID)
			return "", err
		}
	}

	if _, err := o.dispatcher.Enqueue(ctx, op.jobType, jobID, payload); err != nil {
		if tracksProgress {
			_ = o.progress.Delete(ctx, op.name)
		}
		_ = o.locker.Release(ctx, op.name, jobID)
		return "", err
	}

	o.logger.WithFields(logrus.Fields{
		"operation": op.name,
		"job_id":    jobID,
		"total":     total,
	}).Info("Batch queued")

	return jobID, nil
}

// finish clears progress and the lease once the job will not run again.
func (o *JobOrchestrator) finish(op batchOperation, job *jobqueue.Job, errp *error) {
	if *errp != nil && !job.FinalAttempt() {
		return
	}

	ctx := context.Background()
	if op.tracksProgress() {
		o.logProgressError(o.progress.Delete(ctx, op.name), op.name)
		o.logProgressError(o.progress.Delete(ctx, progress.CancelMarker(op.name)), op.name)
	}
	if err := o.locker.Release(ctx, op.name, job.ID); err != nil {
		o.logger.WithField("operation", op.name).WithError(err).Warn("Releasing batch lease failed")
	}
}

// track picks up the snapshot left by the trigger or by an earlier run of the same
// batch. Items an earlier run finished are no longer eligible, so they are carried
// over as processed and the count never goes backwards.
func (o *JobOrchestrator) track(ctx context.Context, op batchOperation, remaining, flushEvery int) *progress.Tracker {
	startedAt, done := time.Now().UTC(), 0
	if snapshot, err := o.progress.Get(ctx, op.name); err == nil && snapshot != nil {
		if !snapshot.StartedAt.IsZero() {
			startedAt = snapshot.StartedAt
		}
		done = snapshot.Processed
	}

	tracker := progress.NewTracker(o.progress, op.name, remaining, startedAt, flushEvery)
	tracker.Resume(done)
	o.logProgressError(tracker.Start(ctx), op.name)
	return tracker
}

func (o *JobOrchestrator) logProgressError(err error, operation string) {
	if errors.Is(err, progress.ErrCancelled) {
		return
	}
	if err != nil {
		o.logger.WithField("operation", operation).WithError(err).Warn("Progress update failed")
	}
}

func (o *JobOrchestrator) leaseTTL(op batchOperation) time.Duration {
	timeout := op.timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	attempts := time.Duration(op.maxRetries + 1)
	return timeout*attempts + jobqueue.DefaultRetryDelay*attempts + leaseMargin
}

func (o *JobOrchestrator) operations() []batchOperation {
	return []batchOperation{
		{
			name:       progress.OperationGenerateLinks,
			jobType:    jobqueue.JobTypeGeneratePaymentLinks,
			maxRetries: o.jobsCfg.GenerateMaxRetries,
			timeout:    o.jobsCfg.GenerateTimeout,
		},
		{
			name:       progress.OperationBatchSms,
			jobType:    jobqueue.JobTypeBatchSendSms,
			maxRetries: o.jobsCfg.BatchSmsMaxRetries,
			timeout:    o.jobsCfg.BatchSmsTimeout,
		},
		{
			name:       progress.OperationFetchStatuses,
			jobType:    jobqueue.JobTypeFetchAllStatuses,
			maxRetries: o.jobsCfg.FetchStatusMaxRetries,
			timeout:    o.jobsCfg.FetchStatusTimeout,
		},
	}
}

func (o *JobOrchestrator) operation(jobType jobqueue.JobType) batchOperation {
	for _, op := range o.operations() {
		if op.jobType == jobType {
			return op
		}
	}
	return batchOperation{jobType: jobType, name: string(jobType)}
}

func (o *JobOrchestrator) operationByName(name string) (batchOperation, bool) {
	for _, op := range o.operations() {
		if op.name == name {
			return op, true
		}
	}
	return batchOperation{}, false
}

func (o *JobOrchestrator) batchLimit() int {
	if o.cfg.BatchLimit <= 0 {
		return 160
	}
	return o.cfg.BatchLimit
}

func smsEligible(links []*entity.PaymentLink) []*entity.PaymentLink {
	eligible := make([]*entity.PaymentLink, 0, len(links))
	for _, link := range links {
		if link.SmsEligible() {
			eligible = append(eligible, link)
		}
	}
	return eligible
}

func uniqueIDs(ids []uint64) []uint64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
