package progress

import (
	"context"
	"errors"
	"time"
)

const (
	OperationGenerateLinks = "payment_links_generating"
	OperationBatchSms      = "batch_sms_sending"
	OperationFetchStatuses = "payment_statuses_fetching"
	DefaultTTL             = time.Hour

	cancelSuffix = ":cancelled"
)

var ErrCancelled = errors.New("batch cancelled")

// CancelMarker names the store entry that tells a running batch to stop.
func CancelMarker(operation string) string {
	return operation + cancelSuffix
}

type Snapshot struct {
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	StartedAt time.Time `json:"started_at"`
}

// Store holds one snapshot per operation. Put overwrites the whole snapshot.
type Store interface {
	Get(ctx context.Context, operation string) (*Snapshot, error)
	Put(ctx context.Context, operation string, snapshot Snapshot) error
	Delete(ctx context.Context, operation string) error
}

// Locker guarantees at most one running batch per operation.
type Locker interface {
	Acquire(ctx context.Context, operation, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, operation, owner string) error
	ForceRelease(ctx context.Context, operation string) error
	Owner(ctx context.Context, operation string) (string, error)
}

// Tracker flushes progress for one running batch. Writes are skipped between
// flush points so the store sees at most one write per flushEvery items. Once the
// operation carries a cancel marker the tracker stops writing and reports ErrCancelled.
type Tracker struct {
	store      Store
	operation  string
	snapshot   Snapshot
	flushEvery int
	dirty      int
	cancelled  bool
}

func NewTracker(store Store, operation string, total int, startedAt time.Time, flushEvery int) *Tracker {
	if flushEvery <= 0 {
		flushEvery = 1
	}
	return &Tracker{
		store:      store,
		operation:  operation,
		snapshot:   Snapshot{Total: total, StartedAt: startedAt},
		flushEvery: flushEvery,
	}
}

// Resume counts items finished by an earlier run of the same batch, which are no
// longer part of the remaining total.
func (t *Tracker) Resume(done int) {
	if done <= 0 {
		return
	}
	t.snapshot.Total += done
	t.snapshot.Processed = done
}

func (t *Tracker) Start(ctx context.Context) error {
	return t.write(ctx)
}

func (t *Tracker) Advance(ctx context.Context) error {
	if t.cancelled {
		return ErrCancelled
	}
	if t.snapshot.Processed < t.snapshot.Total {
		t.snapshot.Processed++
	}
	t.dirty++
	if t.dirty < t.flushEvery && t.snapshot.Processed < t.snapshot.Total {
		return nil
	}
	return t.Flush(ctx)
}

func (t *Tracker) Flush(ctx context.Context) error {
	t.dirty = 0
	return t.write(ctx)
}

func (t *Tracker) write(ctx context.Context) error {
	if t.cancelled {
		return ErrCancelled
	}
	marker, err := t.store.Get(ctx, CancelMarker(t.operation))
	if err != nil {
		return err
	}
	if marker != nil {
		t.cancelled = true
		return ErrCancelled
	}
	return t.store.Put(ctx, t.operation, t.snapshot)
}

func (t *Tracker) Cancelled() bool {
	return t.cancelled
}

func (t *Tracker) Snapshot() Snapshot {
	return t.snapshot
}

func (t *Tracker) Finish(ctx context.Context) error {
	return t.store.Delete(ctx, t.operation)
}
