// Package apihost exposes the GUI-host command surface: named
// synchronous commands over local HTTP with a uniform tagged envelope,
// plus a WebSocket stream of daemon events (prep-ready, hygiene
// reports). The desktop host is the only intended client; the server
// binds loopback.
package apihost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/actions"
	"github.com/jamesgiroux/dailyos-core/internal/config"
	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/events"
	"github.com/jamesgiroux/dailyos-core/internal/hygiene"
	"github.com/jamesgiroux/dailyos-core/internal/intake"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/prepqueue"
	"github.com/jamesgiroux/dailyos-core/internal/proactive"
	"github.com/jamesgiroux/dailyos-core/internal/propagation"
	"github.com/jamesgiroux/dailyos-core/internal/relevance"
	"github.com/jamesgiroux/dailyos-core/internal/resolver"
	"github.com/jamesgiroux/dailyos-core/internal/scheduler"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
	"github.com/jamesgiroux/dailyos-core/internal/workspace"
)

// Envelope is the tagged response union every command answers with.
type Envelope struct {
	Status  string `json:"status"` // success, empty, error
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Deps is the set of stores and engines the command surface reaches.
type Deps struct {
	Config    *config.Config
	Entities  *entitystore.Store
	Meetings  *meetings.Store
	Actions   *actions.Store
	Emails    *intake.Store
	Bus       *signalbus.Store
	Engine    *propagation.Engine
	Resolver  *resolver.Resolver
	Scorer    *relevance.Scorer
	PrepQueue *prepqueue.Queue
	Proactive *proactive.Engine
	Hygiene   *hygiene.Scanner
	Workspace *workspace.Workspace
	Scheduler *scheduler.Scheduler
	Events    *events.Bus
	Reload    func() (*config.Config, error)
	// Wake routes an explicit wake signal to a named poller (bulk
	// enrich, manual issue sync, resolution reconcile).
	Wake func(poller string)
}

// Server is the GUI-host HTTP server.
type Server struct {
	deps   Deps
	logger *slog.Logger
	server *http.Server

	// degraded counts command failures per hot command for diagnostics.
	degraded map[string]*atomic.Int64
}

// New creates the server.
func New(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:     deps,
		logger:   logger,
		degraded: make(map[string]*atomic.Int64),
	}
	return s
}

// Start begins serving on the configured address. Non-blocking.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	s.routes(mux)

	addr := fmt.Sprintf("%s:%d", s.deps.Config.Listen.Address, s.deps.Config.Listen.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("apihost listening", "addr", addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("apihost serve failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes(mux *http.ServeMux) {
	// Config.
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config/reload", s.handleReloadConfig)

	// Read surfaces.
	mux.HandleFunc("GET /api/dashboard", s.command("get_dashboard_data", s.getDashboardData))
	mux.HandleFunc("GET /api/week", s.command("get_week_data", s.getWeekData))
	mux.HandleFunc("GET /api/focus", s.command("get_focus_data", s.getFocusData))
	mux.HandleFunc("GET /api/actions", s.command("get_all_actions", s.getAllActions))
	mux.HandleFunc("GET /api/emails", s.command("get_all_emails", s.getAllEmails))

	// Meeting preps.
	mux.HandleFunc("GET /api/preps", s.command("list_meeting_preps", s.listMeetingPreps))
	mux.HandleFunc("GET /api/preps/{id}", s.command("get_meeting_prep", s.getMeetingPrep))
	mux.HandleFunc("POST /api/preps/{id}/refresh", s.command("refresh_meeting_prep", s.refreshMeetingPrep))

	// Actions.
	mux.HandleFunc("POST /api/actions", s.command("create_action", s.createAction))
	mux.HandleFunc("PATCH /api/actions/{id}", s.command("update_action", s.updateAction))
	mux.HandleFunc("POST /api/actions/{id}/complete", s.command("complete_action", s.completeAction))
	mux.HandleFunc("POST /api/actions/{id}/reopen", s.command("reopen_action", s.reopenAction))
	mux.HandleFunc("POST /api/actions/{id}/priority", s.command("update_action_priority", s.updateActionPriority))
	mux.HandleFunc("POST /api/actions/{id}/accept", s.command("accept_proposed_action", s.acceptProposedAction))
	mux.HandleFunc("POST /api/actions/{id}/reject", s.command("reject_proposed_action", s.rejectProposedAction))

	// People.
	mux.HandleFunc("GET /api/people/{id}", s.command("get_person_detail", s.getPersonDetail))
	mux.HandleFunc("POST /api/people", s.command("create_person", s.createPerson))
	mux.HandleFunc("PATCH /api/people/{id}", s.command("update_person_field", s.updatePersonField))
	mux.HandleFunc("POST /api/people/{id}/links", s.command("link_person_entity", s.linkPersonEntity))
	mux.HandleFunc("DELETE /api/people/{id}/links", s.command("unlink_person_entity", s.unlinkPersonEntity))
	mux.HandleFunc("POST /api/people/{id}/archive", s.command("archive_person", s.archivePerson))
	mux.HandleFunc("POST /api/people/merge", s.command("merge_people", s.mergePeople))
	mux.HandleFunc("DELETE /api/people/{id}", s.command("delete_person", s.deletePerson))

	// Accounts.
	mux.HandleFunc("GET /api/accounts/{id}", s.command("get_account_detail", s.getAccountDetail))
	mux.HandleFunc("POST /api/accounts/{id}/children", s.command("create_child_account", s.createChildAccount))

	// Meeting-entity corrections.
	mux.HandleFunc("POST /api/meetings/{id}/entity", s.command("correct_meeting_entity", s.correctMeetingEntity))

	// Workflows.
	mux.HandleFunc("POST /api/workflows/{id}/run", s.command("run_workflow", s.runWorkflow))
	mux.HandleFunc("GET /api/workflows/status", s.command("get_workflow_status", s.getWorkflowStatus))
	mux.HandleFunc("GET /api/workflows/{id}/history", s.command("get_execution_history", s.getExecutionHistory))
	mux.HandleFunc("GET /api/workflows/{id}/next-run", s.command("get_next_run_time", s.getNextRunTime))

	// Explicit poller wakes.
	mux.HandleFunc("POST /api/pollers/{name}/wake", s.command("wake_poller", s.wakePoller))

	// Event stream for the desktop host.
	mux.HandleFunc("GET /api/events", s.handleEvents)

	s.registerDevTools(mux)
}

// handler is one command implementation. Returning (nil, nil) means the
// empty status.
type handler func(r *http.Request) (any, error)

// command wraps a handler with the envelope, error classification, and
// the degraded-mode counter.
func (s *Server) command(name string, fn handler) http.HandlerFunc {
	counter := &atomic.Int64{}
	s.degraded[name] = counter

	return func(w http.ResponseWriter, r *http.Request) {
		data, err := fn(r)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case err != nil:
			counter.Add(1)
			s.logger.Warn("command failed", "command", name, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			s.writeJSON(w, Envelope{Status: "error", Message: err.Error()})
		case data == nil:
			s.writeJSON(w, Envelope{Status: "empty"})
		default:
			s.writeJSON(w, Envelope{Status: "success", Data: data})
		}
	}
}

// writeJSON encodes v to w, logging failures at debug level — they
// typically mean the client disconnected mid-response.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	// Secrets never cross to the GUI host.
	cfg := *s.deps.Config
	cfg.Email.Password = ""
	cfg.Calendar.Password = ""
	cfg.Clay.APIKey = ""
	cfg.Issues.Token = ""
	s.writeJSON(w, Envelope{Status: "success", Data: cfg})
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.deps.Reload == nil {
		w.WriteHeader(http.StatusNotImplemented)
		s.writeJSON(w, Envelope{Status: "error", Message: "reload not wired"})
		return
	}
	cfg, err := s.deps.Reload()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		s.writeJSON(w, Envelope{Status: "error", Message: err.Error()})
		return
	}
	s.deps.Config = cfg
	s.writeJSON(w, Envelope{Status: "success"})
}

// DegradedCounts snapshots the per-command failure counters.
func (s *Server) DegradedCounts() map[string]int64 {
	out := make(map[string]int64, len(s.degraded))
	for name, c := range s.degraded {
		if n := c.Load(); n > 0 {
			out[name] = n
		}
	}
	return out
}
