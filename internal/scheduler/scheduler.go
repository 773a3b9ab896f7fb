package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExecuteFunc runs a task when its schedule fires.
type ExecuteFunc func(ctx context.Context, task *Task, execution *Execution) error

// missedRunWindow bounds startup catch-up: pending executions older
// than this are marked skipped instead of run late.
const missedRunWindow = 24 * time.Hour

// idleWait is how long the dispatch loop sleeps when no task has a
// future run; a recheck poke cuts the wait short.
const idleWait = time.Hour

// Scheduler drives task execution from a single dispatch loop: it
// finds the earliest due task, sleeps until then, runs it, repeats.
// Task mutations poke the loop so it re-plans immediately.
type Scheduler struct {
	logger  *slog.Logger
	store   *Store
	execute ExecuteFunc

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	recheck chan struct{}
	wg      sync.WaitGroup
}

// New wires a scheduler over the given store. execute is invoked for
// every firing task.
func New(logger *slog.Logger, store *Store, execute ExecuteFunc) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:  logger,
		store:   store,
		execute: execute,
		recheck: make(chan struct{}, 1),
	}
}

// Start catches up missed runs and launches the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.catchUpMissed(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatch(ctx)
	}()
	s.logger.Debug("scheduler started")
	return nil
}

// Stop halts the dispatch loop and waits for any in-flight run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// CreateTask persists a task and re-plans the loop.
func (s *Scheduler) CreateTask(task *Task) error {
	if err := s.store.CreateTask(task); err != nil {
		return err
	}
	s.logger.Info("task created", "id", task.ID, "name", task.Name, "schedule", task.Schedule.Kind)
	s.poke()
	return nil
}

// UpdateTask rewrites a task and re-plans the loop.
func (s *Scheduler) UpdateTask(task *Task) error {
	if err := s.store.UpdateTask(task); err != nil {
		return err
	}
	s.logger.Info("task updated", "id", task.ID, "name", task.Name)
	s.poke()
	return nil
}

// DeleteTask removes a task and re-plans the loop.
func (s *Scheduler) DeleteTask(id string) error {
	if err := s.store.DeleteTask(id); err != nil {
		return err
	}
	s.logger.Info("task deleted", "id", id)
	s.poke()
	return nil
}

// GetTask retrieves a task by ID.
func (s *Scheduler) GetTask(id string) (*Task, error) { return s.store.GetTask(id) }

// GetTaskByName retrieves a task by name; nil, nil when absent.
func (s *Scheduler) GetTaskByName(name string) (*Task, error) {
	return s.store.GetTaskByName(name)
}

// ListTasks returns tasks, optionally only enabled ones.
func (s *Scheduler) ListTasks(enabledOnly bool) ([]*Task, error) {
	return s.store.ListTasks(enabledOnly)
}

// GetTaskExecutions returns a task's run history, newest-first.
func (s *Scheduler) GetTaskExecutions(taskID string, limit int) ([]*Execution, error) {
	return s.store.ListExecutions(taskID, limit)
}

// TriggerTask runs a task immediately, outside its schedule.
func (s *Scheduler) TriggerTask(ctx context.Context, taskID string) (*Execution, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	return s.runTask(ctx, task, time.Now())
}

// poke nudges the dispatch loop to re-plan. Non-blocking; a pending
// poke coalesces with new ones.
func (s *Scheduler) poke() {
	select {
	case s.recheck <- struct{}{}:
	default:
	}
}

// dispatch is the single planning loop.
func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		task, due := s.nextDue(time.Now())
		wait := idleWait
		if task != nil {
			wait = time.Until(due)
			if wait < 0 {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.recheck:
			timer.Stop()
			continue
		case <-timer.C:
		}
		if task == nil {
			continue
		}

		// Re-read in case the task changed while we slept.
		fresh, err := s.store.GetTask(task.ID)
		if err != nil || !fresh.Enabled {
			continue
		}
		runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		if _, err := s.runTask(runCtx, fresh, due); err != nil {
			s.logger.Error("task execution failed", "id", fresh.ID, "name", fresh.Name, "error", err)
		}
		cancel()
	}
}

// nextDue scans enabled tasks for the earliest upcoming run.
func (s *Scheduler) nextDue(now time.Time) (*Task, time.Time) {
	tasks, err := s.store.ListTasks(true)
	if err != nil {
		s.logger.Error("list tasks for planning", "error", err)
		return nil, time.Time{}
	}
	var best *Task
	var bestAt time.Time
	for _, t := range tasks {
		at, ok := t.NextRun(now)
		if !ok {
			continue
		}
		if best == nil || at.Before(bestAt) {
			best, bestAt = t, at
		}
	}
	return best, bestAt
}

// runTask records and performs one execution.
func (s *Scheduler) runTask(ctx context.Context, task *Task, scheduledAt time.Time) (*Execution, error) {
	started := time.Now()
	exec := &Execution{
		ID:          NewID(),
		TaskID:      task.ID,
		ScheduledAt: scheduledAt,
		StartedAt:   &started,
		Status:      StatusRunning,
	}
	if err := s.store.CreateExecution(exec); err != nil {
		return nil, err
	}
	s.logger.Info("executing task", "task", task.Name, "execution_id", exec.ID)

	var runErr error
	if s.execute != nil {
		runErr = s.execute(ctx, task, exec)
	}

	completed := time.Now()
	exec.CompletedAt = &completed
	if runErr != nil {
		exec.Status = StatusFailed
		exec.Result = runErr.Error()
	} else {
		exec.Status = StatusCompleted
		exec.Result = "success"
	}
	if err := s.store.UpdateExecution(exec); err != nil {
		s.logger.Error("record execution result", "id", exec.ID, "error", err)
	}
	s.logger.Info("task execution finished",
		"task", task.Name, "status", exec.Status, "duration", completed.Sub(started))
	return exec, runErr
}

// catchUpMissed resolves executions left pending by a previous process:
// recent ones run now, stale ones are marked skipped.
func (s *Scheduler) catchUpMissed(ctx context.Context) {
	pending, err := s.store.PendingExecutions()
	if err != nil {
		s.logger.Error("load pending executions", "error", err)
		return
	}
	for _, exec := range pending {
		exec.Status = StatusSkipped
		if time.Since(exec.ScheduledAt) > missedRunWindow {
			exec.Result = "missed execution window"
			_ = s.store.UpdateExecution(exec)
			s.logger.Info("skipped stale execution", "id", exec.ID, "scheduled", exec.ScheduledAt)
			continue
		}
		exec.Result = "replaced by catch-up execution"
		_ = s.store.UpdateExecution(exec)
		task, err := s.store.GetTask(exec.TaskID)
		if err != nil {
			continue
		}
		s.logger.Info("catching up missed execution", "task", task.Name, "scheduled", exec.ScheduledAt)
		_, _ = s.runTask(ctx, task, exec.ScheduledAt)
	}
}
