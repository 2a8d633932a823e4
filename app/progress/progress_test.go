package progress

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	puts      []Snapshot
	deleted   bool
	cancelled bool
}

func (s *recordingStore) Get(_ context.Context, operation string) (*Snapshot, error) {
	if strings.HasSuffix(operation, cancelSuffix) {
		if s.cancelled {
			return &Snapshot{}, nil
		}
		return nil, nil
	}
	if len(s.puts) == 0 || s.deleted {
		return nil, nil
	}
	last := s.puts[len(s.puts)-1]
	return &last, nil
}

func (s *recordingStore) Put(_ context.Context, _ string, snapshot Snapshot) error {
	s.puts = append(s.puts, snapshot)
	return nil
}

func (s *recordingStore) Delete(context.Context, string) error {
	s.deleted = true
	return nil
}

func TestTrackerFlushesEveryNAndAtEnd(t *testing.T) {
	store := &recordingStore{}
	ctx := context.Background()
	tracker := NewTracker(store, OperationGenerateLinks, 12, time.Now(), 5)

	require.NoError(t, tracker.Start(ctx))
	for i := 0; i < 12; i++ {
		require.NoError(t, tracker.Advance(ctx))
	}

	processed := make([]int, 0, len(store.puts))
	for _, snap := range store.puts {
		processed = append(processed, snap.Processed)
		assert.Equal(t, 12, snap.Total)
	}
	assert.Equal(t, []int{0, 5, 10, 12}, processed)

	require.NoError(t, tracker.Finish(ctx))
	assert.True(t, store.deleted)
}

func TestTrackerNeverExceedsTotal(t *testing.T) {
	store := &recordingStore{}
	ctx := context.Background()
	tracker := NewTracker(store, OperationBatchSms, 2, time.Now(), 1)

	for i := 0; i < 4; i++ {
		require.NoError(t, tracker.Advance(ctx))
	}

	last := 0
	for _, snap := range store.puts {
		assert.GreaterOrEqual(t, snap.Processed, last)
		assert.LessOrEqual(t, snap.Processed, snap.Total)
		last = snap.Processed
	}
	assert.Equal(t, 2, tracker.Snapshot().Processed)
}

func TestTrackerResumeKeepsEarlierProcessed(t *testing.T) {
	store := &recordingStore{}
	ctx := context.Background()
	tracker := NewTracker(store, OperationGenerateLinks, 3, time.Now(), 1)
	tracker.Resume(4)

	require.NoError(t, tracker.Start(ctx))
	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.Advance(ctx))
	}

	processed := make([]int, 0, len(store.puts))
	for _, snap := range store.puts {
		processed = append(processed, snap.Processed)
		assert.Equal(t, 7, snap.Total)
	}
	assert.Equal(t, []int{4, 5, 6, 7}, processed)
}

func TestTrackerStopsWritingOnceCancelled(t *testing.T) {
	store := &recordingStore{}
	ctx := context.Background()
	tracker := NewTracker(store, OperationBatchSms, 5, time.Now(), 1)

	require.NoError(t, tracker.Start(ctx))
	require.NoError(t, tracker.Advance(ctx))

	store.cancelled = true
	store.deleted = true
	assert.ErrorIs(t, tracker.Advance(ctx), ErrCancelled)
	assert.ErrorIs(t, tracker.Advance(ctx), ErrCancelled)
	assert.True(t, tracker.Cancelled())
	assert.Len(t, store.puts, 2)
	assert.Equal(t, 2, tracker.Snapshot().Processed)
}

func TestTrackerStartRefusesCancelledOperation(t *testing.T) {
	store := &recordingStore{cancelled: true}
	tracker := NewTracker(store, OperationGenerateLinks, 2, time.Now(), 5)

	assert.ErrorIs(t, tracker.Start(context.Background()), ErrCancelled)
	assert.Empty(t, store.puts)
}

func TestMemoryStoreSnapshotLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	snap, err := store.Get(ctx, OperationGenerateLinks)
	require.NoError(t, err)
	assert.Nil(t, snap)

	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Put(ctx, OperationGenerateLinks, Snapshot{Total: 3, StartedAt: started}))
	snap, err = store.Get(ctx, OperationGenerateLinks)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 0, snap.Processed)
	assert.True(t, started.Equal(snap.StartedAt))

	require.NoError(t, store.Delete(ctx, OperationGenerateLinks))
	snap, err = store.Get(ctx, OperationGenerateLinks)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestMemoryStoreSnapshotExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, OperationBatchSms, Snapshot{Total: 1}))
	now = now.Add(2 * time.Minute)

	snap, err := store.Get(ctx, OperationBatchSms)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestMemoryStoreLease(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	ok, err := store.Acquire(ctx, OperationGenerateLinks, "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Acquire(ctx, OperationGenerateLinks, "job-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Release(ctx, OperationGenerateLinks, "job-2"))
	owner, err := store.Owner(ctx, OperationGenerateLinks)
	require.NoError(t, err)
	assert.Equal(t, "job-1", owner)

	require.NoError(t, store.Release(ctx, OperationGenerateLinks, "job-1"))
	ok, err = store.Acquire(ctx, OperationGenerateLinks, "job-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
