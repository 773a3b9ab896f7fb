package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/prepqueue"
	"github.com/jamesgiroux/dailyos-core/internal/scheduler"
)

// Workflow task names, matched by the apihost run_workflow command.
const (
	workflowToday      = "today"
	workflowArchive    = "archive"
	workflowInboxBatch = "inbox_batch"
	workflowWeek       = "week"
)

// registerWorkflows ensures each standard workflow exists as a
// scheduler task. Existing tasks are left untouched so user edits to
// the schedule survive restarts.
func (o *Orchestrator) registerWorkflows() error {
	every := func(d time.Duration) scheduler.Schedule {
		return scheduler.Schedule{Kind: scheduler.ScheduleEvery, Every: &scheduler.Duration{Duration: d}}
	}
	defaults := []struct {
		name     string
		schedule scheduler.Schedule
	}{
		{workflowToday, every(24 * time.Hour)},
		{workflowArchive, every(24 * time.Hour)},
		{workflowInboxBatch, every(time.Hour)},
		{workflowWeek, every(7 * 24 * time.Hour)},
	}

	for _, def := range defaults {
		if existing, err := o.scheduler.GetTaskByName(def.name); err == nil && existing != nil {
			continue
		}
		task := &scheduler.Task{
			ID:       scheduler.NewID(),
			Name:     def.name,
			Schedule: def.schedule,
			Payload:  scheduler.Payload{Kind: scheduler.PayloadWorkflow, Target: def.name},
			Enabled:  true,
		}
		if err := o.scheduler.CreateTask(task); err != nil {
			return fmt.Errorf("register workflow %s: %w", def.name, err)
		}
	}
	return nil
}

// ExecuteTask is the scheduler's ExecuteFunc: it dispatches workflow
// payloads and wake payloads.
func (o *Orchestrator) ExecuteTask(ctx context.Context, task *scheduler.Task, execution *scheduler.Execution) error {
	switch task.Payload.Kind {
	case scheduler.PayloadWorkflow:
		return o.runWorkflow(ctx, task.Payload.Target)
	case scheduler.PayloadWake:
		o.Wake(task.Payload.Target)
		return nil
	default:
		return fmt.Errorf("unknown payload kind %q", task.Payload.Kind)
	}
}

func (o *Orchestrator) runWorkflow(ctx context.Context, name string) error {
	o.logger.Info("workflow started", "workflow", name)
	switch name {
	case workflowToday:
		return o.workflowToday(ctx)
	case workflowArchive:
		return o.workflowArchive(ctx)
	case workflowInboxBatch:
		return o.workflowInboxBatch(ctx)
	case workflowWeek:
		return o.workflowWeek(ctx)
	default:
		return fmt.Errorf("unknown workflow %q", name)
	}
}

// workflowToday pre-generates preps for today's meetings, runs the
// post-meeting correlation pass, and rolls captures into the weekly
// impact file.
func (o *Orchestrator) workflowToday(ctx context.Context) error {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	todays, err := o.meetings.ListBetween(dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	for _, m := range todays {
		o.prepQueue.Enqueue(prepqueue.Request{MeetingID: m.ID, Priority: prepqueue.Background})
	}

	if o.correlator != nil {
		if n, err := o.correlator.Run(); err != nil {
			o.logger.Warn("post-meeting correlation failed", "error", err)
		} else if n > 0 {
			o.logger.Info("post-meeting emails correlated", "count", n)
		}
	}

	o.rollupTodayImpact(now)
	return nil
}

// rollupTodayImpact maps today's captures onto the weekly impact file.
func (o *Orchestrator) rollupTodayImpact(now time.Time) {
	if o.workspace == nil || !o.workspace.Enabled() {
		return
	}
	accounts, err := o.entities.ListAccounts(false)
	if err != nil {
		return
	}
	var entries []workspaceImpactEntry
	cutoff := now.AddDate(0, 0, -1)
	for _, a := range accounts {
		caps, err := o.meetings.RecentCaptures(a.ID, 10)
		if err != nil {
			continue
		}
		for _, c := range caps {
			if c.CreatedAt.Before(cutoff) {
				continue
			}
			title := "meeting"
			if m, err := o.meetings.Get(c.MeetingID); err == nil {
				title = m.Title
			}
			entries = append(entries, workspaceImpactEntry{
				label:   captureLabel(c.CaptureType),
				content: c.Content,
				meeting: title,
				isRisk:  c.CaptureType == "risk",
			})
		}
	}
	o.writeImpact(now, entries)
}

func captureLabel(captureType string) string {
	switch captureType {
	case "win":
		return "Customer win"
	case "risk":
		return "Risk"
	case "decision":
		return "Decision"
	default:
		return "Update"
	}
}

// workflowArchive sweeps _today/ into the dated archive and prunes old
// audit files.
func (o *Orchestrator) workflowArchive(ctx context.Context) error {
	if o.workspace == nil || !o.workspace.Enabled() {
		return nil
	}
	if _, err := o.workspace.ArchiveToday(time.Now()); err != nil {
		return err
	}
	if _, err := o.workspace.PruneAudit(); err != nil {
		o.logger.Warn("audit prune failed", "error", err)
	}
	return nil
}

// workflowInboxBatch processes files dropped into _inbox/.
func (o *Orchestrator) workflowInboxBatch(ctx context.Context) error {
	if o.inbox == nil {
		return nil
	}
	n, err := o.inbox.ProcessPending(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		o.logger.Info("inbox batch processed", "files", n)
	}
	return nil
}

// workflowWeek pre-generates preps for the coming week.
func (o *Orchestrator) workflowWeek(ctx context.Context) error {
	now := time.Now()
	week, err := o.meetings.ListBetween(now, now.AddDate(0, 0, 7))
	if err != nil {
		return err
	}
	for _, m := range week {
		o.prepQueue.Enqueue(prepqueue.Request{MeetingID: m.ID, Priority: prepqueue.Background})
	}
	return nil
}
