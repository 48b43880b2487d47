package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJobID = "job-123"

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEventStoreAppendAndRetrieve(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()
	payload := []byte(`{"test": "data"}`)

	require.NoError(t, store.Append(ctx, testJobID, "TestEvent", payload, map[string]string{"key": "value"}))

	events, err := store.GetByJobID(ctx, testJobID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, testJobID, e.JobID())
	assert.Equal(t, "TestEvent", e.Type())
	assert.Equal(t, payload, e.Payload())
	assert.Equal(t, "value", e.Metadata()["key"])
	assert.WithinDuration(t, time.Now(), e.Timestamp(), time.Minute)
}

func TestEventStoreGetRange(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()
	now := time.Now()

	for range 3 {
		require.NoError(t, store.Append(ctx, "job-1", "Event", []byte("{}"), nil))
	}

	events, err := store.GetRange(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, err = store.GetRange(ctx, now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventStoreSeparatesJobs(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	require.NoError(t, store.Append(ctx, "job-1", "Event1", nil, nil))
	require.NoError(t, store.Append(ctx, "job-2", "Event2", nil, nil))
	require.NoError(t, store.Append(ctx, "job-1", "Event3", nil, nil))

	events, err := store.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Event1", events[0].Type())
	assert.Equal(t, "Event3", events[1].Type())
	assert.Equal(t, []byte("{}"), events[0].Payload())

	events, err = store.GetByJobID(ctx, "job-2")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestTimelineFoldsLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	_, err := Record(ctx, store, testJobID, TypeJobSubmitted, JobSubmittedMeta{ProjectID: "p", UserID: "u", AutoDetect: true}, nil)
	require.NoError(t, err)
	_, err = Record(ctx, store, testJobID, TypeJobStatusChanged, StatusChange{From: "pending", To: "analyzing_requirements", Progress: 10}, nil)
	require.NoError(t, err)
	_, err = Record(ctx, store, testJobID, TypeJobRetryScheduled, RetryScheduled{Attempt: 1, DelayMS: 2000, Error: "content service unreachable"}, nil)
	require.NoError(t, err)
	_, err = Record(ctx, store, testJobID, TypeJobFailed, JobFailedMeta{Stage: "theme_install", Error: "all theme install methods failed", Attempts: 2}, nil)
	require.NoError(t, err)

	tl, err := Timeline(ctx, store, testJobID)
	require.NoError(t, err)
	assert.Equal(t, "failed", tl.Status)
	assert.Equal(t, 1, tl.Retries)
	assert.Equal(t, "theme_install", tl.ErrorStage)
	assert.Equal(t, "all theme install methods failed", tl.LastError)
	require.Len(t, tl.Events, 4)
	assert.Equal(t, TypeJobSubmitted, tl.Events[0].Type)

	var sc StatusChange
	require.NoError(t, Decode(store.mustEvent(t, testJobID, 1), &sc))
	assert.Equal(t, "analyzing_requirements", sc.To)
}

func TestTimelineUnknownJobIsEmpty(t *testing.T) {
	tl, err := Timeline(t.Context(), newStore(t), "nope")
	require.NoError(t, err)
	assert.Empty(t, tl.Events)
	assert.Empty(t, tl.Status)
}

func (s *SQLiteStore) mustEvent(t *testing.T, jobID string, i int) Event {
	t.Helper()
	events, err := s.GetByJobID(t.Context(), jobID)
	require.NoError(t, err)
	require.Greater(t, len(events), i)
	return events[i]
}
