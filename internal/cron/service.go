// Package cron runs the bot's recurring jobs on a robfig/cron scheduler and
// keeps the outcome of each job's last run.
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const stopTimeout = 5 * time.Second

// JobState is the outcome of a job's most recent run.
type JobState struct {
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastStatus string    `json:"lastStatus,omitempty"` // "ok" or "error"
	LastError  string    `json:"lastError,omitempty"`
	Runs       int       `json:"runs"`
}

type Job struct {
	Name  string   `json:"name"`
	Expr  string   `json:"expr"`
	State JobState `json:"state"`

	run   func() error
	entry rcron.EntryID
}

type Service struct {
	logger *zap.Logger
	cron   *rcron.Cron

	mu      sync.Mutex
	jobs    map[string]*Job
	running bool
	stopCh  chan struct{}
}

func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger: logger,
		cron:   rcron.New(),
		jobs:   make(map[string]*Job),
	}
}

// AddJob schedules fn under name. expr accepts standard five-field specs
// and descriptors such as "@every 10m". Adding an existing name replaces it.
func (s *Service) AddJob(name, expr string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &Job{Name: name, Expr: expr, run: fn}
	id, err := s.cron.AddFunc(expr, func() { s.executeJob(job) })
	if err != nil {
		return fmt.Errorf("schedule job %s (%s): %w", name, expr, err)
	}
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.entry)
	}
	job.entry = id
	s.jobs[name] = job
	return nil
}

// RunJob executes a job immediately, outside its schedule.
func (s *Service) RunJob(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	return s.executeJob(job)
}

// Jobs returns a snapshot of every job, sorted by name.
func (s *Service) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, Job{Name: j.Name, Expr: j.Expr, State: j.State})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start runs the scheduler until Stop or until ctx is canceled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("started", zap.Int("jobs", n))

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
}

// Stop halts the scheduler and waits briefly for running jobs.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.stopCh = nil
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(stopTimeout):
		s.logger.Warn("stop timeout waiting for running jobs")
	}
	s.logger.Info("stopped")
}

func (s *Service) executeJob(job *Job) error {
	err := job.run()

	s.mu.Lock()
	job.State.LastRunAt = time.Now()
	job.State.Runs++
	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("job failed", zap.String("job", job.Name), zap.Error(err))
	} else {
		s.logger.Debug("job ran", zap.String("job", job.Name))
	}
	return err
}
