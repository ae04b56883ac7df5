// Package cron schedules the bot's periodic work and keeps the last run
// state of every job on disk.
package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/stellarlinkco/signalbot/internal/logging"
)

const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

var parser = rcron.NewParser(
	rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

type Service struct {
	storePath string
	mu        sync.Mutex
	jobs      []Job
	funcs     map[string]Func
	cron      *rcron.Cron
	entryMap  map[string]rcron.EntryID // job ID -> cron entry ID
	runCtx    context.Context
	cancel    context.CancelFunc
	stopCh    chan struct{}
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a scheduler persisting job state to storePath. An empty
// storePath keeps state in memory only.
func NewService(storePath string, logger *zap.Logger) *Service {
	return &Service{
		storePath: storePath,
		funcs:     make(map[string]Func),
		entryMap:  make(map[string]rcron.EntryID),
		runCtx:    context.Background(),
		now:       time.Now,
		logger:    logging.OrNop(logger).Named("cron"),
	}
}

// AddJob registers fn under name. Names are job IDs, so state saved by a
// previous process is picked up again. window may be nil.
func (s *Service) AddJob(name, schedule string, window *Window, fn Func) (*Job, error) {
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("job %s: invalid schedule %q: %w", name, schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.ID == name {
			return nil, fmt.Errorf("job %s already exists", name)
		}
	}
	job := Job{ID: name, Name: name, Schedule: schedule, Window: window, Enabled: true}
	s.jobs = append(s.jobs, job)
	s.funcs[name] = fn

	if s.cron != nil {
		if err := s.registerJob(job); err != nil {
			return nil, err
		}
	}
	return &job, nil
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	if err := s.Load(); err != nil {
		s.logger.Warn("failed to load job state", zap.Error(err))
	}

	logger := newZapLogger(s.logger)
	c := rcron.New(
		rcron.WithParser(parser),
		rcron.WithLogger(logger),
		rcron.WithChain(rcron.Recover(logger), rcron.SkipIfStillRunning(logger)),
	)

	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.cron = c
	var errs []error
	for _, job := range s.jobs {
		if job.Enabled {
			errs = append(errs, s.registerJob(job))
		}
	}
	count := len(s.jobs)
	s.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		cancel()
		return err
	}

	c.Start()
	s.logger.Info("started", zap.Int("jobs", count))

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

// registerJob adds job to the running scheduler; callers hold s.mu.
func (s *Service) registerJob(job Job) error {
	id := job.ID
	entry, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(id)
	})
	if err != nil {
		return fmt.Errorf("register job %s (%s): %w", job.Name, job.Schedule, err)
	}
	s.entryMap[id] = entry
	return nil
}

// RunNow executes a job immediately, ignoring its window.
func (s *Service) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	fn, ok := s.funcs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	err := fn(ctx)
	s.record(id, err)
	return err
}

func (s *Service) executeJob(id string) {
	s.mu.Lock()
	ctx := s.runCtx
	fn := s.funcs[id]
	var window *Window
	for _, j := range s.jobs {
		if j.ID == id {
			window = j.Window
			break
		}
	}
	s.mu.Unlock()

	if fn == nil {
		s.logger.Warn("no function for job", zap.String("job", id))
		return
	}
	if window != nil && !window.Contains(s.now()) {
		s.logger.Debug("outside window, skipping", zap.String("job", id), zap.Stringer("window", window))
		return
	}

	s.logger.Debug("executing job", zap.String("job", id))
	err := fn(ctx)
	if err != nil {
		s.logger.Error("job failed", zap.String("job", id), zap.Error(err))
	}
	s.record(id, err)
}

func (s *Service) record(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		st := &s.jobs[i].State
		st.LastRunAtMs = s.now().UnixMilli()
		st.Runs++
		switch {
		case err == nil:
			st.LastStatus = StatusOK
			st.LastError = ""
		case errors.Is(err, errSkipped):
			st.LastStatus = StatusSkipped
			st.LastError = err.Error()
		default:
			st.LastStatus = StatusError
			st.LastError = err.Error()
		}
		break
	}
	if err := s.save(); err != nil {
		s.logger.Warn("failed to save job state", zap.Error(err))
	}
}

var errSkipped = errors.New("skipped")

// Skipped marks err as a run that chose not to do any work.
func Skipped(reason error) error {
	return fmt.Errorf("%w: %w", errSkipped, reason)
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			s.logger.Warn("stop timeout waiting for running jobs")
		}
	}
	s.logger.Info("stopped")
}

func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Job, len(s.jobs))
	copy(result, s.jobs)
	return result
}

// NextRun returns the next scheduled time of a registered job.
func (s *Service) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entryID, ok := s.entryMap[id]
	if !ok || s.cron == nil {
		return time.Time{}, false
	}
	return s.cron.Entry(entryID).Next, true
}

func (s *Service) EnableJob(id string, enabled bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		s.jobs[i].Enabled = enabled
		if s.cron != nil {
			if enabled {
				if _, ok := s.entryMap[id]; !ok {
					if err := s.registerJob(s.jobs[i]); err != nil {
						return nil, err
					}
				}
			} else if entryID, ok := s.entryMap[id]; ok {
				s.cron.Remove(entryID)
				delete(s.entryMap, id)
			}
		}
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("save job state: %w", err)
		}
		job := s.jobs[i]
		return &job, nil
	}
	return nil, fmt.Errorf("job %s not found", id)
}

// Load restores the saved state and enabled flag of jobs already added.
// Start calls it; call it directly to change a job without starting.
func (s *Service) Load() error {
	stored, err := LoadState(s.storePath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		for _, st := range stored {
			if st.ID == s.jobs[i].ID {
				s.jobs[i].State = st.State
				s.jobs[i].Enabled = st.Enabled
			}
		}
	}
	return nil
}

// LoadState reads the job list saved by a running scheduler.
func LoadState(path string) ([]Job, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var jobs []Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return jobs, nil
}

// save writes the job list; callers hold s.mu.
func (s *Service) save() error {
	if s.storePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0644)
}
