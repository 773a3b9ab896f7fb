package apihost

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/scheduler"
)

// Workflow IDs the GUI can run. Each maps to a scheduler task
// created at startup by the orchestrator.
const (
	WorkflowToday      = "today"
	WorkflowArchive    = "archive"
	WorkflowInboxBatch = "inbox_batch"
	WorkflowWeek       = "week"
)

var validWorkflows = map[string]bool{
	WorkflowToday:      true,
	WorkflowArchive:    true,
	WorkflowInboxBatch: true,
	WorkflowWeek:       true,
}

func (s *Server) workflowTask(id string) (*scheduler.Task, error) {
	if !validWorkflows[id] {
		return nil, fmt.Errorf("unknown workflow %q", id)
	}
	task, err := s.deps.Scheduler.GetTaskByName(id)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", id, err)
	}
	return task, nil
}

func (s *Server) wakePoller(r *http.Request) (any, error) {
	name := r.PathValue("name")
	if s.deps.Wake == nil {
		return nil, fmt.Errorf("wake routing not wired")
	}
	s.deps.Wake(name)
	return map[string]string{"poller": name, "state": "woken"}, nil
}

func (s *Server) runWorkflow(r *http.Request) (any, error) {
	id := r.PathValue("id")
	task, err := s.workflowTask(id)
	if err != nil {
		return nil, err
	}
	execution, err := s.deps.Scheduler.TriggerTask(r.Context(), task.ID)
	if err != nil {
		return nil, err
	}
	return execution, nil
}

func (s *Server) getWorkflowStatus(r *http.Request) (any, error) {
	out := make(map[string]any)
	for id := range validWorkflows {
		task, err := s.deps.Scheduler.GetTaskByName(id)
		if err != nil {
			continue
		}
		executions, err := s.deps.Scheduler.GetTaskExecutions(task.ID, 1)
		if err != nil || len(executions) == 0 {
			out[id] = map[string]any{"state": "never_run"}
			continue
		}
		last := executions[0]
		out[id] = map[string]any{
			"state":       string(last.Status),
			"scheduledAt": last.ScheduledAt,
			"completedAt": last.CompletedAt,
			"result":      last.Result,
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *Server) getExecutionHistory(r *http.Request) (any, error) {
	task, err := s.workflowTask(r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	executions, err := s.deps.Scheduler.GetTaskExecutions(task.ID, 20)
	if err != nil {
		return nil, err
	}
	if len(executions) == 0 {
		return nil, nil
	}
	return executions, nil
}

func (s *Server) getNextRunTime(r *http.Request) (any, error) {
	task, err := s.workflowTask(r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	next, ok := task.NextRun(time.Now())
	if !ok {
		return nil, nil
	}
	return map[string]any{"nextRun": next}, nil
}
