// Package scheduler runs the points engine's background jobs: ledger
// reconciliation and rank index rebuilds. Every job has its own goroutine
// that sleeps until the job is due, so a job never overlaps with itself.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrNilJob         = errors.New("job cannot be nil")
	ErrNilSchedule    = errors.New("schedule cannot be nil")
	ErrDuplicateJob   = errors.New("job already registered")
	ErrJobNotFound    = errors.New("job not found")
	ErrJobBusy        = errors.New("job is running")
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrNotRunning     = errors.New("scheduler is not running")
)

// Job is a unit of background work.
type Job interface {
	Name() string
	Description() string

	// Run does one pass. ctx is canceled when the scheduler stops.
	Run(ctx context.Context) error
}

// Schedule decides when a job is due next.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// JobResult describes one finished run.
type JobResult struct {
	JobName     string        `json:"job_name"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Manual      bool          `json:"manual,omitempty"`
}

// JobInfo is a registered job's state as reported by ListJobs.
type JobInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Schedule    string     `json:"schedule"`
	NextRun     time.Time  `json:"next_run"`
	Runs        int64      `json:"runs"`
	Failures    int64      `json:"failures"`
	LastResult  *JobResult `json:"last_result,omitempty"`
}

// Config configures a Scheduler.
type Config struct {
	Logger *slog.Logger

	// Now overrides the clock used for due times and results.
	Now func() time.Time
}

type entry struct {
	job      Job
	schedule Schedule

	// held for the duration of a run
	busy sync.Mutex

	// guarded by Scheduler.mu
	next     time.Time
	runs     int64
	failures int64
	last     *JobResult
}

// Scheduler owns the registered jobs and their run loops.
type Scheduler struct {
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	jobs    map[string]*entry
	onDone  func(JobResult)
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	loops sync.WaitGroup
}

// New creates an idle scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{
		log:  cfg.Logger.With("component", "scheduler"),
		now:  cfg.Now,
		jobs: make(map[string]*entry),
	}
}

// Register adds a job. Registering on a running scheduler starts the job's
// loop at once.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	e := &entry{job: job, schedule: schedule, next: firstRun(schedule, s.now())}
	s.jobs[name] = e
	if s.ctx != nil {
		s.spawn(e)
	}

	s.log.Info("job registered", "job", name, "schedule", schedule.String(), "next_run", e.next)
	return nil
}

// Start launches a loop per registered job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return ErrAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = s.now()
	for _, e := range s.jobs {
		s.spawn(e)
	}
	s.log.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels running jobs and waits for every loop to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.cancel()
	s.ctx, s.cancel = nil, nil
	started := s.started
	s.mu.Unlock()

	s.loops.Wait()
	s.log.Info("scheduler stopped", "uptime", s.now().Sub(started).String())
	return nil
}

// spawn starts e's loop. Callers hold s.mu with s.ctx set.
func (s *Scheduler) spawn(e *entry) {
	ctx := s.ctx
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.loop(ctx, e)
	}()
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	for {
		s.mu.Lock()
		wait := e.next.Sub(s.now())
		s.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return
		}

		e.busy.Lock()
		s.mu.Lock()
		e.next = e.schedule.Next(s.now())
		s.mu.Unlock()
		s.execute(ctx, e, false)
		e.busy.Unlock()
	}
}

// RunNow runs a job outside its schedule. It fails with ErrJobBusy while the
// job is already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if !e.busy.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrJobBusy, name)
	}
	defer e.busy.Unlock()

	res, err := s.execute(ctx, e, true)
	return &res, err
}

func (s *Scheduler) execute(ctx context.Context, e *entry, manual bool) (JobResult, error) {
	name := e.job.Name()
	res := JobResult{JobName: name, StartedAt: s.now(), Manual: manual}

	s.log.Debug("job started", "job", name, "manual", manual)
	err := runJob(ctx, e.job)

	res.CompletedAt = s.now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)
	res.Success = err == nil
	if err != nil {
		res.Error = err.Error()
		s.log.Error("job failed", "job", name, "duration", res.Duration.String(), "error", err)
	} else {
		s.log.Info("job completed", "job", name, "duration", res.Duration.String())
	}

	s.mu.Lock()
	e.runs++
	if err != nil {
		e.failures++
	}
	last := res
	e.last = &last
	hook := s.onDone
	s.mu.Unlock()

	if hook != nil {
		hook(res)
	}
	return res, err
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}

// OnJobComplete sets a callback invoked after every run, scheduled or manual.
func (s *Scheduler) OnJobComplete(fn func(JobResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDone = fn
}

// ListJobs reports every registered job, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		out = append(out, JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Schedule:    e.schedule.String(),
			NextRun:     e.next,
			Runs:        e.runs,
			Failures:    e.failures,
			LastResult:  e.last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
