// Package orchestrator hosts the daemon's long-lived background tasks:
// pollers with startup delays and config-driven intervals,
// coalesced wake signals, the scheduler-driven workflow executor, and
// graceful shutdown. No lock is held across a blocking call anywhere in
// this package — pollers snapshot store state, do their network or AI
// work, then write back.
package orchestrator

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/actions"
	"github.com/jamesgiroux/dailyos-core/internal/calendarintake"
	"github.com/jamesgiroux/dailyos-core/internal/config"
	"github.com/jamesgiroux/dailyos-core/internal/connwatch"
	"github.com/jamesgiroux/dailyos-core/internal/email"
	"github.com/jamesgiroux/dailyos-core/internal/embeddings"
	"github.com/jamesgiroux/dailyos-core/internal/enrichintake"
	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/events"
	"github.com/jamesgiroux/dailyos-core/internal/hygiene"
	"github.com/jamesgiroux/dailyos-core/internal/intake"
	"github.com/jamesgiroux/dailyos-core/internal/issuespoller"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/mqtt"
	"github.com/jamesgiroux/dailyos-core/internal/prepqueue"
	"github.com/jamesgiroux/dailyos-core/internal/proactive"
	"github.com/jamesgiroux/dailyos-core/internal/propagation"
	"github.com/jamesgiroux/dailyos-core/internal/resolver"
	"github.com/jamesgiroux/dailyos-core/internal/scheduler"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
	"github.com/jamesgiroux/dailyos-core/internal/transcripts"
	"github.com/jamesgiroux/dailyos-core/internal/workspace"
)

// Poller names used for wake routing.
const (
	PollerCalendar   = "calendar"
	PollerEmail      = "email"
	PollerEnrich     = "enrich"
	PollerIssues     = "issues"
	PollerResolution = "resolution"
	PollerEmbeddings = "embeddings"
)

// Deps carries everything the orchestrator drives. Optional adapters
// may be nil; their loops simply do not start.
type Deps struct {
	Config     *config.Config
	DB         *sql.DB
	Entities   *entitystore.Store
	Meetings   *meetings.Store
	Actions    *actions.Store
	Emails     *intake.Store
	Bus        *signalbus.Store
	Engine     *propagation.Engine
	Resolver   *resolver.Resolver
	PrepQueue  *prepqueue.Queue
	PrepProc   *prepqueue.Processor
	Proactive  *proactive.Engine
	Hygiene    *hygiene.Scanner
	Scheduler  *scheduler.Scheduler
	Events     *events.Bus
	Workspace  *workspace.Workspace
	Enricher   *intake.Enricher
	Extractor  *intake.ActionExtractor
	Correlator *intake.Correlator
	EnrichQ    *EnrichQueue

	Calendar    *calendarintake.Client
	EmailPoller *email.Poller
	EmailClient *email.Client
	EnrichAPI   *enrichintake.Client
	Gravatar    *enrichintake.GravatarClient
	Ingestor    *transcripts.Ingestor
	Issues      *issuespoller.Poller
	Embedder    *embeddings.Client
	MQTT        *mqtt.Notifier
}

// Orchestrator owns the background goroutines.
type Orchestrator struct {
	Deps
	cfg        *config.Config
	entities   *entitystore.Store
	meetings   *meetings.Store
	prepQueue  *prepqueue.Queue
	scheduler  *scheduler.Scheduler
	workspace  *workspace.Workspace
	correlator *intake.Correlator
	inbox      *InboxWatcher
	logger     *slog.Logger

	wakes map[string]chan struct{}
	wg    sync.WaitGroup
}

// New creates an orchestrator.
func New(deps Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		Deps:       deps,
		cfg:        deps.Config,
		entities:   deps.Entities,
		meetings:   deps.Meetings,
		prepQueue:  deps.PrepQueue,
		scheduler:  deps.Scheduler,
		workspace:  deps.Workspace,
		correlator: deps.Correlator,
		logger:     logger,
		wakes:      make(map[string]chan struct{}),
	}
	for _, name := range []string{PollerCalendar, PollerEmail, PollerEnrich, PollerIssues, PollerResolution, PollerEmbeddings} {
		o.wakes[name] = make(chan struct{}, 1)
	}
	if deps.Workspace != nil && deps.Workspace.Enabled() {
		o.inbox = NewInboxWatcher(deps.Workspace.InboxDir(), deps.Meetings, nil, logger)
	}
	return o
}

// SetScheduler attaches the scheduler after construction. The scheduler
// needs the orchestrator's ExecuteTask at its own construction time, so
// the two are wired in two steps.
func (o *Orchestrator) SetScheduler(s *scheduler.Scheduler) {
	o.scheduler = s
}

// Wake routes an explicit wake signal to a poller. Signals coalesce:
// waking an already-woken poller is a no-op, never a queue.
func (o *Orchestrator) Wake(poller string) {
	ch, ok := o.wakes[poller]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
		o.Events.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceOrchestrator,
			Kind:      events.KindWake,
			Data:      map[string]any{"poller": poller},
		})
	default:
	}
}

// Start launches every configured background task and returns. Tasks
// stop when ctx is canceled; Wait blocks until they have all exited.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.registerWorkflows(); err != nil {
		return err
	}
	if err := o.scheduler.Start(ctx); err != nil {
		return err
	}

	// Startup delays stagger the pollers so they don't all hit the
	// stores and the network at once.
	secs := func(n int) time.Duration { return time.Duration(n) * time.Second }

	if o.Calendar != nil {
		o.loop(ctx, "calendar poller", 30*time.Second, secs(o.cfg.Calendar.PollIntervalSecs), o.wakes[PollerCalendar], o.pollCalendar)
	}
	if o.EmailPoller != nil {
		o.loop(ctx, "email fetcher", 60*time.Second, secs(o.cfg.Email.PollIntervalSecs), nil, o.pollEmail)
	}
	if o.EnrichAPI != nil {
		o.loop(ctx, "profile enrichment", 60*time.Second, secs(o.cfg.Clay.SweepIntervalSecs), o.wakes[PollerEnrich], o.sweepEnrichment)
	}
	if o.Ingestor != nil && o.cfg.Quill.Configured() {
		o.loop(ctx, "transcript ingestor", 30*time.Second, secs(o.cfg.Quill.PollIntervalSecs), nil, o.pollQuill)
	}
	if o.Ingestor != nil && o.cfg.Granola.Configured() {
		o.loop(ctx, "cache transcript ingestor", 45*time.Second, secs(o.cfg.Granola.PollIntervalSecs), nil, o.pollGranola)
	}
	if o.Gravatar != nil && o.cfg.Gravatar.Enabled {
		o.loop(ctx, "gravatar batch", 60*time.Second, 6*time.Hour, nil, o.sweepGravatar)
	}
	if o.Issues != nil {
		o.loop(ctx, "issues poller", 60*time.Second, secs(o.cfg.Issues.PollIntervalSecs), o.wakes[PollerIssues], o.pollIssues)
	}
	if o.Embedder != nil && o.cfg.Embeddings.Enabled {
		o.loop(ctx, "embeddings processor", 20*time.Second, 5*time.Second, o.wakes[PollerEmbeddings], o.processEmbeddings)
	}
	if o.PrepProc != nil {
		o.spawn(func() { o.PrepProc.Run(ctx) })
	}
	if o.Hygiene != nil {
		o.loop(ctx, "hygiene scanner", 30*time.Second, secs(o.cfg.Schedules.HygieneIntervalSecs), nil, o.runHygiene)
	}
	o.loop(ctx, "resolution trigger", 45*time.Second, secs(o.cfg.Schedules.ResolutionIntervalSecs), o.wakes[PollerResolution], o.runResolutionPass)
	if o.inbox != nil {
		o.spawn(func() { o.inbox.Run(ctx) })
	}
	o.loop(ctx, "database backup", time.Hour, secs(o.cfg.Schedules.BackupIntervalSecs), nil, o.runBackup)
	if o.MQTT != nil {
		o.spawn(func() {
			if err := o.MQTT.Run(ctx); err != nil {
				o.logger.Warn("mqtt notifier exited", "error", err)
			}
		})
	}

	// Service-level health watching for the long-lived IMAP connection:
	// outage transitions are logged and the next poll cycle reconnects.
	if o.EmailClient != nil {
		connwatch.Start(ctx, "imap", o.EmailClient.Ping,
			connwatch.WithLogger(o.logger),
			connwatch.OnDown(func(err error) {
				o.logger.Warn("imap connection down", "error", err)
			}),
			connwatch.OnUp(func() {
				o.Wake(PollerEmail)
			}),
		)
	}
	return nil
}

// Wait blocks until every background task has exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
	o.scheduler.Stop()
}

func (o *Orchestrator) spawn(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}

// loop runs fn after a startup delay, then on every interval tick or
// wake signal, until ctx cancels. Errors are logged, never propagated —
// pollers back off to the next cycle.
func (o *Orchestrator) loop(ctx context.Context, name string, delay, interval time.Duration, wake <-chan struct{}, fn func(ctx context.Context) error) {
	o.spawn(func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		run := func() {
			o.Events.Publish(events.Event{
				Timestamp: time.Now(), Source: events.SourceOrchestrator,
				Kind: events.KindPollStart, Data: map[string]any{"poller": name},
			})
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				o.logger.Warn("background task failed", "task", name, "error", err)
			}
		}
		run()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				o.logger.Debug("background task stopped", "task", name)
				return
			case <-ticker.C:
				run()
			case <-wakeOrNil(wake):
				run()
			}
		}
	})
}

// wakeOrNil turns a nil wake channel into one that never fires, so the
// select above stays uniform.
func wakeOrNil(ch <-chan struct{}) <-chan struct{} {
	if ch == nil {
		return nil
	}
	return ch
}

// writeImpact adapts the internal impact-entry shape to the workspace
// rollup.
type workspaceImpactEntry struct {
	label, content, meeting string
	isRisk                  bool
}

func (o *Orchestrator) writeImpact(day time.Time, entries []workspaceImpactEntry) {
	if len(entries) == 0 || o.workspace == nil {
		return
	}
	mapped := make([]workspace.ImpactEntry, 0, len(entries))
	for _, e := range entries {
		mapped = append(mapped, workspace.ImpactEntry{
			Label: e.label, Content: e.content, MeetingTitle: e.meeting, IsRisk: e.isRisk,
		})
	}
	if err := o.workspace.RollupImpact(day, mapped); err != nil {
		o.logger.Warn("impact rollup failed", "error", err)
	}
}
