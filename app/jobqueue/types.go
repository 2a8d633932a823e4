package jobqueue

import (
	"encoding/json"
	"time"
)

type JobType string

const (
	JobTypeGeneratePaymentLinks JobType = "generate_payment_links"
	JobTypeBatchSendSms         JobType = "batch_send_sms"
	JobTypeFetchAllStatuses     JobType = "fetch_all_statuses"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusCancelled  JobStatus = "cancelled"
)

type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Status      JobStatus       `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	ErrorMsg    string          `json:"error_msg,omitempty"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
}

type GeneratePaymentLinksPayload struct {
	ClientIDs []uint64 `json:"client_ids,omitempty"`
}

type BatchSendSmsPayload struct {
	LinkIDs []uint64 `json:"link_ids"`
}

func (j *Job) DecodePayload(dst interface{}) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, dst)
}

// IsRetryable is checked after MarkAsFailed, so RetryCount already counts the
// failed run. A job gets MaxRetries+1 runs in total.
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount <= j.MaxRetries
}

// FinalAttempt reports, before a run, whether its failure would be permanent.
// It agrees with IsRetryable after MarkAsFailed.
func (j *Job) FinalAttempt() bool {
	return j.RetryCount >= j.MaxRetries
}

func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}

func (j *Job) MarkAsCancelled() {
	j.Status = JobStatusCancelled
	j.UpdatedAt = time.Now()
}
