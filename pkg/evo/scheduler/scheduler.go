// Package scheduler runs Evo's recurring maintenance jobs, such as the
// periodic nickname sweep that picks up renames made on the dashboard.
// Uses robfig/cron for schedule parsing and execution.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is the work a job performs.
type JobFunc func(ctx context.Context) error

// Job is a recurring task.
type Job struct {
	// ID is the unique job identifier.
	ID string

	// Schedule is a 5-field cron expression or a descriptor such as
	// "@hourly" or "@every 6h".
	Schedule string

	// Run is called every time the schedule fires.
	Run JobFunc

	// RunOnStart fires the job once as soon as the scheduler starts.
	RunOnStart bool

	// LastRunAt and LastError describe the most recent execution.
	LastRunAt time.Time
	LastError string
	RunCount  int
}

// Scheduler manages recurring jobs.
type Scheduler struct {
	jobs        map[string]*Job
	cron        *cron.Cron
	cronIDs     map[string]cron.EntryID
	runningJobs map[string]bool

	// jobTimeout bounds one execution. Zero means no bound.
	jobTimeout time.Duration

	logger *slog.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler whose executions are bounded by jobTimeout.
func New(jobTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:        make(map[string]*Job),
		cronIDs:     make(map[string]cron.EntryID),
		runningJobs: make(map[string]bool),
		jobTimeout:  jobTimeout,
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		logger: logger.With("component", "scheduler"),
	}
}

// Add registers a job. Jobs can be added before or after Start.
func (s *Scheduler) Add(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		return fmt.Errorf("scheduler: job ID is required")
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %q has no function", job.ID)
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("scheduler: job %q already exists", job.ID)
	}

	entryID, err := s.cron.AddFunc(job.Schedule, func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", job.Schedule, err)
	}
	s.cronIDs[job.ID] = entryID
	s.jobs[job.ID] = job

	s.logger.Info("job added", "id", job.ID, "schedule", job.Schedule)
	return nil
}

// Remove deletes a job by ID.
func (s *Scheduler) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return fmt.Errorf("scheduler: job %q not found", jobID)
	}
	if entryID, ok := s.cronIDs[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.cronIDs, jobID)
	}
	delete(s.jobs, jobID)
	s.logger.Info("job removed", "id", jobID)
	return nil
}

// List returns a snapshot of all jobs sorted by ID.
func (s *Scheduler) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Start begins firing jobs. Jobs marked RunOnStart run immediately in
// the background.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	var startup []*Job
	for _, j := range s.jobs {
		if j.RunOnStart {
			startup = append(startup, j)
		}
	}
	s.mu.Unlock()

	s.cron.Start()
	for _, j := range startup {
		s.wg.Add(1)
		go func(j *Job) {
			defer s.wg.Done()
			s.execute(j)
		}(j)
	}

	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts scheduling and waits for running jobs, up to 10 seconds.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Warn("scheduler stop timed out")
	}
	s.logger.Info("scheduler stopped")
}

// execute runs a job unless a previous run is still active.
func (s *Scheduler) execute(job *Job) {
	s.mu.Lock()
	if s.runningJobs[job.ID] {
		s.mu.Unlock()
		s.logger.Debug("job still running, skipping", "id", job.ID)
		return
	}
	s.runningJobs[job.ID] = true
	parent := s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.runningJobs, job.ID)
		s.mu.Unlock()
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := s.safeRun(ctx, job)

	s.mu.Lock()
	job.LastRunAt = start
	job.RunCount++
	job.LastError = ""
	if err != nil {
		job.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("job failed", "id", job.ID, "duration", time.Since(start), "error", err)
		return
	}
	s.logger.Debug("job done", "id", job.ID, "duration", time.Since(start))
}

func (s *Scheduler) safeRun(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}
