package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Enqueue after Close has been called.
var ErrQueueClosed = errors.New("memory: write queue closed")

// Writer accepts merge writes on behalf of the pipeline. A nil error means
// the write has been accepted and will be applied (or retried) before the
// writer shuts down.
type Writer interface {
	Enqueue(ctx context.Context, serverID, userID string, patch UserMemoryPatch) error
}

// Merger is the subset of Store the write queue needs.
type Merger interface {
	MergeUserMemory(ctx context.Context, serverID, userID string, patch UserMemoryPatch) error
}

// QueueConfig configures the write queue.
type QueueConfig struct {
	// Buffer is the number of writes that can wait before Enqueue blocks.
	Buffer int `yaml:"buffer"`

	// MaxAttempts is how many times a write is tried before it is dropped.
	MaxAttempts int `yaml:"max_attempts"`

	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration `yaml:"backoff"`

	// WriteTimeout bounds a single merge attempt.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultQueueConfig returns the defaults used by `evo serve`.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Buffer:       256,
		MaxAttempts:  3,
		Backoff:      500 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
}

type writeJob struct {
	id       string
	serverID string
	userID   string
	patch    UserMemoryPatch
}

// WriteQueue applies merge writes in FIFO order on a single worker so that
// writes to the same record land in the order they were issued.
type WriteQueue struct {
	merger Merger
	cfg    QueueConfig
	logger *slog.Logger

	jobs  chan writeJob
	abort chan struct{}
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewWriteQueue starts the worker and returns the queue.
func NewWriteQueue(merger Merger, cfg QueueConfig, logger *slog.Logger) *WriteQueue {
	def := DefaultQueueConfig()
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &WriteQueue{
		merger: merger,
		cfg:    cfg,
		logger: logger.With("component", "write-queue"),
		jobs:   make(chan writeJob, cfg.Buffer),
		abort:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue queues a merge write. It blocks while the buffer is full.
func (q *WriteQueue) Enqueue(ctx context.Context, serverID, userID string, patch UserMemoryPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	job := writeJob{id: uuid.NewString(), serverID: serverID, userID: userID, patch: patch}
	select {
	case q.jobs <- job:
		q.logger.Debug("write queued", "job_id", job.id, "server_id", serverID, "user_id", userID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued writes not yet picked up.
func (q *WriteQueue) Pending() int {
	return len(q.jobs)
}

// Close stops accepting writes and waits until every queued write has been
// applied. If ctx expires first, retries are abandoned and each remaining
// write gets a single attempt.
func (q *WriteQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		select {
		case <-q.abort:
		default:
			close(q.abort)
		}
		<-q.done
		return ctx.Err()
	}
}

func (q *WriteQueue) run() {
	defer close(q.done)
	for job := range q.jobs {
		q.apply(job)
	}
}

func (q *WriteQueue) apply(job writeJob) {
	delay := q.cfg.Backoff
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), q.cfg.WriteTimeout)
		err := q.merger.MergeUserMemory(ctx, job.serverID, job.userID, job.patch)
		cancel()
		if err == nil {
			return
		}

		q.logger.Warn("write failed",
			"job_id", job.id, "server_id", job.serverID, "user_id", job.userID,
			"attempt", attempt, "error", err)

		if attempt == q.cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
			delay *= 2
		case <-q.abort:
			q.logger.Error("write abandoned on shutdown", "job_id", job.id,
				"server_id", job.serverID, "user_id", job.userID)
			return
		}
	}
	q.logger.Error("write dropped after retries", "job_id", job.id,
		"server_id", job.serverID, "user_id", job.userID)
}

// DirectWriter applies writes synchronously. It is used by the console
// channel and in tests where ordering against subsequent reads matters.
type DirectWriter struct {
	Merger Merger
}

// Enqueue applies the write immediately.
func (w DirectWriter) Enqueue(ctx context.Context, serverID, userID string, patch UserMemoryPatch) error {
	return w.Merger.MergeUserMemory(ctx, serverID, userID, patch)
}

var (
	_ Writer = (*WriteQueue)(nil)
	_ Writer = DirectWriter{}
)
