package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// JobState is a compaction job's position in its lifecycle.
type JobState int

const (
	JobPending JobState = iota
	JobRunning
	JobCompleted
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobRunning:
		return "running"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CompactionJob tracks one scheduled compaction from submission through
// its terminal state.
type CompactionJob struct {
	ID    string
	Level int
	State JobState
	Err   error
}

// asyncDriver runs scheduled compactions on a small worker pool, with at
// most one compaction per level running at any moment. Each level has a
// non-blocking binary semaphore; a job that can't acquire its level's
// semaphore is requeued rather than blocking a worker.
type asyncDriver struct {
	store *Store

	mu   sync.Mutex
	jobs map[string]*CompactionJob

	queue chan string
	sems  []*semaphore.Weighted

	g      *errgroup.Group
	cancel context.CancelFunc
}

func newAsyncDriver(s *Store, maxLevels int) *asyncDriver {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	d := &asyncDriver{
		store:  s,
		jobs:   make(map[string]*CompactionJob),
		queue:  make(chan string, 256),
		sems:   make([]*semaphore.Weighted, maxLevels),
		g:      g,
		cancel: cancel,
	}
	for i := range d.sems {
		d.sems[i] = semaphore.NewWeighted(1)
	}

	for i := 0; i < 2; i++ {
		g.Go(func() error { return d.work(ctx) })
	}
	return d
}

// ScheduleCompaction enqueues level for compaction and returns its job
// ID immediately; the job runs asynchronously.
func (d *asyncDriver) ScheduleCompaction(level int) (string, error) {
	id := uuid.NewString()
	job := &CompactionJob{ID: id, Level: level, State: JobPending}

	d.mu.Lock()
	d.jobs[id] = job
	d.mu.Unlock()

	select {
	case d.queue <- id:
	default:
		d.mu.Lock()
		job.State = JobFailed
		d.mu.Unlock()
	}
	return id, nil
}

func (d *asyncDriver) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-d.queue:
			d.runOne(ctx, id)
		}
	}
}

func (d *asyncDriver) runOne(ctx context.Context, id string) {
	d.mu.Lock()
	job := d.jobs[id]
	d.mu.Unlock()
	if job == nil {
		return
	}

	sem := d.sems[job.Level]
	if !sem.TryAcquire(1) {
		// Contended: requeue after a short delay and remain Pending.
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(20 * time.Millisecond):
				select {
				case d.queue <- id:
				default:
				}
			}
		}()
		return
	}
	defer sem.Release(1)

	d.mu.Lock()
	job.State = JobRunning
	d.mu.Unlock()

	err := d.store.CompactLevel(job.Level)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		job.State = JobFailed
		job.Err = err
		d.store.log.Warn("async compaction failed", zap.Int("level", job.Level), zap.Error(err))
		return
	}
	job.State = JobCompleted
}

// WaitForCompaction blocks until jobID reaches a terminal state or
// timeout elapses, returning true iff it reached JobCompleted.
func (d *asyncDriver) WaitForCompaction(jobID string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		job := d.jobs[jobID]
		d.mu.Unlock()
		if job == nil {
			return false
		}
		switch job.State {
		case JobCompleted:
			return true
		case JobFailed:
			return false
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// GetCompactionStatus returns a snapshot of jobID's current state.
func (d *asyncDriver) GetCompactionStatus(jobID string) (CompactionJob, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	job, ok := d.jobs[jobID]
	if !ok {
		return CompactionJob{}, false
	}
	return *job, true
}

// ListPendingCompactions returns every job still in JobPending or
// JobRunning state.
func (d *asyncDriver) ListPendingCompactions() []CompactionJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []CompactionJob
	for _, j := range d.jobs {
		if j.State == JobPending || j.State == JobRunning {
			out = append(out, *j)
		}
	}
	return out
}

// shutdown cancels the worker pool and waits up to five seconds for it to
// drain; past that it logs a warning and returns without waiting further.
// It deliberately never closes d.queue: a requeue goroutine racing a send
// against a closed channel would panic, and an unclosed, unread channel
// is simply garbage collected once the driver itself is.
func (d *asyncDriver) shutdown() {
	d.cancel()
	done := make(chan struct{})
	go func() {
		_ = d.g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		d.store.log.Warn("async compaction workers did not stop within the shutdown timeout")
	}
}

// ScheduleCompaction exposes the driver's scheduling entry point on
// Store.
func (s *Store) ScheduleCompaction(level int) (string, error) {
	return s.driver.ScheduleCompaction(level)
}

// WaitForCompaction exposes the driver's blocking wait on Store.
func (s *Store) WaitForCompaction(jobID string, timeout time.Duration) bool {
	return s.driver.WaitForCompaction(jobID, timeout)
}

// GetCompactionStatus exposes the driver's job lookup on Store.
func (s *Store) GetCompactionStatus(jobID string) (CompactionJob, bool) {
	return s.driver.GetCompactionStatus(jobID)
}

// ListPendingCompactions exposes the driver's pending-job listing on
// Store.
func (s *Store) ListPendingCompactions() []CompactionJob {
	return s.driver.ListPendingCompactions()
}

// MaybeScheduleCompaction checks whether level has at least
// CompactionTriggerCount SSTables and, if so, schedules an async
// compaction for it.
func (s *Store) MaybeScheduleCompaction(level int) (string, bool) {
	if len(s.cat.ListLevel(level)) < s.cfg.CompactionTriggerCount {
		return "", false
	}
	id, err := s.ScheduleCompaction(level)
	if err != nil {
		return "", false
	}
	return id, true
}
