package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/pkg/metrics"
	"github.com/robfig/cron/v3"
)

// Task represents a scheduled task
type Task struct {
	Name     string
	Interval time.Duration
	Fn       func(context.Context) error
}

// Scheduler runs interval tasks on tickers and cron tasks on a cron table
type Scheduler struct {
	tasks   []*Task
	cron    *cron.Cron
	metrics *metrics.Metrics
	log     *logging.Logger

	running bool
	ctx     context.Context
	mutex   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a new scheduler. Cron expressions are evaluated in UTC.
func NewScheduler(m *metrics.Metrics) *Scheduler {
	log := logging.Default.WithField("component", "scheduler")
	return &Scheduler{
		tasks:   make([]*Task, 0),
		metrics: m,
		log:     log,
		ctx:     context.Background(),
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{log: log})),
		),
	}
}

// AddTask adds a task that runs at startup and then every interval
func (s *Scheduler) AddTask(name string, interval time.Duration, fn func(context.Context) error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.tasks = append(s.tasks, &Task{
		Name:     name,
		Interval: interval,
		Fn:       fn,
	})
}

// AddCron adds a task driven by a standard five-field cron expression
func (s *Scheduler) AddCron(name, spec string, fn func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.run(s.runContext(), name, fn)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for task %s: %w", spec, name, err)
	}
	s.log.WithField("task", name).Info("Scheduled task on %q", spec)
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	s.cancel = cancel
	s.running = true

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(ctx, task)
	}
	s.cron.Start()

	s.log.Info("Scheduler started with %d interval tasks and %d cron tasks", len(s.tasks), len(s.cron.Entries()))
}

// Stop stops the scheduler and waits for running tasks to return
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mutex.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) runContext() context.Context {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.ctx
}

// runTask runs a task at the specified interval
func (s *Scheduler) runTask(ctx context.Context, task *Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	s.run(ctx, task.Name, task.Fn)

	for {
		select {
		case <-ticker.C:
			s.run(ctx, task.Name, task.Fn)
		case <-ctx.Done():
			s.log.Debug("Task %s stopped", task.Name)
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, name string, fn func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := fn(ctx)
	s.metrics.TaskRun(name, err)

	log := s.log.WithFields(map[string]interface{}{"task": name, "duration_ms": time.Since(start).Milliseconds()})
	if err != nil {
		log.Error("Error running task: %v", err)
		return
	}
	log.Debug("Task finished")
}

// cronLogger adapts the service logger to cron's logging interface
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("%s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("%s: %v %v", msg, err, keysAndValues)
}
