//go:build debug

package apihost

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
)

// registerDevTools wires the debug-only scenario endpoints. Destructive
// scenarios refuse to run unless the active workspace is the debug
// sandbox, so a debug build pointed at a real workspace cannot nuke it.
func (s *Server) registerDevTools(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/devtools/seed", s.command("devtools_seed", s.devtoolsSeed))
	mux.HandleFunc("POST /api/devtools/hygiene", s.command("devtools_hygiene", s.devtoolsHygiene))
	mux.HandleFunc("GET /api/devtools/degraded", s.command("devtools_degraded", s.devtoolsDegraded))
}

func (s *Server) requireSandbox() error {
	root := ""
	if s.deps.Workspace != nil {
		root = s.deps.Workspace.Root()
	}
	if !strings.Contains(root, "debug-sandbox") {
		return fmt.Errorf("refusing destructive scenario: workspace %q is not the debug sandbox", root)
	}
	return nil
}

// devtoolsSeed loads a small fixture graph for manual testing.
func (s *Server) devtoolsSeed(r *http.Request) (any, error) {
	if err := s.requireSandbox(); err != nil {
		return nil, err
	}
	acct, err := s.deps.Entities.UpsertAccount(&entitystore.Account{
		ID: "acme", Name: "Acme", Domain: "acme.com", Stage: "customer", ARR: 120000,
		ContractEnd: time.Now().UTC().AddDate(0, 2, 0),
	})
	if err != nil {
		return nil, err
	}
	person, err := s.deps.Entities.UpsertPerson(&entitystore.Person{
		ID: "p-alice", Name: "Alice Alvarez", Email: "alice@acme.com",
		Relationship: entitystore.RelationshipExternal,
	})
	if err != nil {
		return nil, err
	}
	if err := s.deps.Entities.LinkPersonEntity(person.ID, entitystore.KindAccount, acct.ID, "champion"); err != nil {
		return nil, err
	}
	if err := s.deps.Meetings.Upsert(&meetings.Meeting{
		ID: "seed-m1", Title: "Acme QBR", MeetingType: "qbr",
		StartTime: time.Now().UTC().Add(3 * time.Hour),
		Attendees: "alice@acme.com", AccountID: acct.ID,
	}); err != nil {
		return nil, err
	}
	return map[string]string{"state": "seeded"}, nil
}

func (s *Server) devtoolsHygiene(r *http.Request) (any, error) {
	if s.deps.Hygiene == nil {
		return nil, fmt.Errorf("hygiene scanner not wired")
	}
	return s.deps.Hygiene.Run(), nil
}

func (s *Server) devtoolsDegraded(r *http.Request) (any, error) {
	counts := s.DegradedCounts()
	if len(counts) == 0 {
		return nil, nil
	}
	return counts, nil
}
