package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingMerger struct {
	mu       sync.Mutex
	failures int // fail this many calls before succeeding
	calls    int
	applied  []string
}

func (m *recordingMerger) MergeUserMemory(_ context.Context, serverID, userID string, patch UserMemoryPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return errors.New("transient")
	}
	m.applied = append(m.applied, serverID+"/"+userID+":"+*patch.PersonalSummary)
	return nil
}

func (m *recordingMerger) snapshot() ([]string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.applied...), m.calls
}

func fastQueueConfig() QueueConfig {
	return QueueConfig{Buffer: 4, MaxAttempts: 3, Backoff: time.Millisecond, WriteTimeout: time.Second}
}

func TestWriteQueue_DrainsInOrderOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := &recordingMerger{}
	q := NewWriteQueue(m, fastQueueConfig(), nil)

	ctx := context.Background()
	for _, s := range []string{"one", "two", "three", "four", "five", "six"} {
		require.NoError(t, q.Enqueue(ctx, "g", "u", PersonalSummaryPatch(s)))
	}
	require.NoError(t, q.Close(ctx))

	applied, _ := m.snapshot()
	assert.Equal(t, []string{"g/u:one", "g/u:two", "g/u:three", "g/u:four", "g/u:five", "g/u:six"}, applied)
}

func TestWriteQueue_RetriesTransientFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := &recordingMerger{failures: 2}
	q := NewWriteQueue(m, fastQueueConfig(), nil)

	require.NoError(t, q.Enqueue(context.Background(), "g", "u", PersonalSummaryPatch("x")))
	require.NoError(t, q.Close(context.Background()))

	applied, calls := m.snapshot()
	assert.Equal(t, []string{"g/u:x"}, applied)
	assert.Equal(t, 3, calls)
}

func TestWriteQueue_DropsAfterMaxAttempts(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := &recordingMerger{failures: 10}
	q := NewWriteQueue(m, fastQueueConfig(), nil)

	require.NoError(t, q.Enqueue(context.Background(), "g", "u", PersonalSummaryPatch("x")))
	require.NoError(t, q.Close(context.Background()))

	applied, calls := m.snapshot()
	assert.Empty(t, applied)
	assert.Equal(t, 3, calls)
}

func TestWriteQueue_RejectsAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewWriteQueue(&recordingMerger{}, fastQueueConfig(), nil)
	require.NoError(t, q.Close(context.Background()))
	require.NoError(t, q.Close(context.Background()))

	err := q.Enqueue(context.Background(), "g", "u", PersonalSummaryPatch("x"))
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestWriteQueue_CloseDeadlineAbandonsRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := &recordingMerger{failures: 100}
	cfg := fastQueueConfig()
	cfg.Backoff = time.Hour
	q := NewWriteQueue(m, cfg, nil)

	require.NoError(t, q.Enqueue(context.Background(), "g", "u", PersonalSummaryPatch("x")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriteQueue_EmptyPatchIgnored(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := &recordingMerger{}
	q := NewWriteQueue(m, fastQueueConfig(), nil)
	require.NoError(t, q.Enqueue(context.Background(), "g", "u", UserMemoryPatch{}))
	require.NoError(t, q.Close(context.Background()))

	_, calls := m.snapshot()
	assert.Equal(t, 0, calls)
}
