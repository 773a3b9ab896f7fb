package apihost

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/actions"
	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/prepqueue"
	"github.com/jamesgiroux/dailyos-core/internal/resolver"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

func decodeBody[T any](r *http.Request) (T, error) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return v, fmt.Errorf("decode request: %w", err)
	}
	return v, nil
}

// emitActionSignal records an action lifecycle signal on the owning
// entity; without an entity link the signal is skipped.
func (s *Server) emitActionSignal(a *actions.Action, signalType string) {
	if a.EntityKind == "" || a.EntityID == "" {
		return
	}
	value, _ := json.Marshal(map[string]string{"action_id": a.ID, "title": a.Title})
	if _, err := s.deps.Engine.Emit(signalbus.EntityKind(a.EntityKind), a.EntityID, signalType,
		signalbus.SourceUserAction, string(value), 0.9, 0); err != nil {
		s.logger.Warn("action signal emit failed", "action_id", a.ID, "error", err)
	}
}

func (s *Server) createAction(r *http.Request) (any, error) {
	body, err := decodeBody[struct {
		Title      string `json:"title"`
		Priority   string `json:"priority"`
		Owner      string `json:"owner"`
		EntityKind string `json:"entityKind"`
		EntityID   string `json:"entityId"`
		DueDate    string `json:"dueDate"`
	}](r)
	if err != nil {
		return nil, err
	}
	if body.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	a := &actions.Action{
		Title:      body.Title,
		Priority:   body.Priority,
		Owner:      body.Owner,
		EntityKind: body.EntityKind,
		EntityID:   body.EntityID,
	}
	if body.DueDate != "" {
		if t, err := time.Parse("2006-01-02", body.DueDate); err == nil {
			a.DueDate = t
		}
	}
	created, err := s.deps.Actions.Create(a)
	if err != nil {
		return nil, err
	}
	s.emitActionSignal(created, "action_created")
	return created, nil
}

func (s *Server) updateAction(r *http.Request) (any, error) {
	id := r.PathValue("id")
	existing, err := s.deps.Actions.Get(id)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", id, err)
	}
	body, err := decodeBody[struct {
		Title   string `json:"title"`
		Owner   string `json:"owner"`
		DueDate string `json:"dueDate"`
	}](r)
	if err != nil {
		return nil, err
	}
	if body.Title != "" {
		existing.Title = body.Title
	}
	if body.Owner != "" {
		existing.Owner = body.Owner
	}
	if body.DueDate != "" {
		if t, err := time.Parse("2006-01-02", body.DueDate); err == nil {
			existing.DueDate = t
		}
	}
	if err := s.deps.Actions.Update(existing); err != nil {
		return nil, err
	}
	s.emitActionSignal(existing, "action_updated")
	return existing, nil
}

func (s *Server) completeAction(r *http.Request) (any, error) {
	return s.transitionAction(r.PathValue("id"), actions.StatusCompleted, "action_completed")
}

func (s *Server) reopenAction(r *http.Request) (any, error) {
	return s.transitionAction(r.PathValue("id"), actions.StatusOpen, "action_reopened")
}

func (s *Server) acceptProposedAction(r *http.Request) (any, error) {
	id := r.PathValue("id")
	a, err := s.deps.Actions.Get(id)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", id, err)
	}
	if a.Status != actions.StatusProposed {
		return nil, fmt.Errorf("action %s is not proposed", id)
	}
	return s.transitionAction(id, actions.StatusOpen, "action_accepted")
}

func (s *Server) rejectProposedAction(r *http.Request) (any, error) {
	id := r.PathValue("id")
	a, err := s.deps.Actions.Get(id)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", id, err)
	}
	if a.Status != actions.StatusProposed {
		return nil, fmt.Errorf("action %s is not proposed", id)
	}
	return s.transitionAction(id, actions.StatusRejected, "action_rejected")
}

func (s *Server) transitionAction(id, status, signalType string) (any, error) {
	if err := s.deps.Actions.SetStatus(id, status); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("action %s not found", id)
		}
		return nil, err
	}
	a, err := s.deps.Actions.Get(id)
	if err != nil {
		return nil, err
	}
	s.emitActionSignal(a, signalType)
	return a, nil
}

func (s *Server) updateActionPriority(r *http.Request) (any, error) {
	id := r.PathValue("id")
	body, err := decodeBody[struct {
		Priority string `json:"priority"`
	}](r)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Actions.SetPriority(id, body.Priority); err != nil {
		return nil, err
	}
	return s.deps.Actions.Get(id)
}

func (s *Server) getPersonDetail(r *http.Request) (any, error) {
	id := r.PathValue("id")
	p, err := s.deps.Entities.GetPerson(id)
	if err != nil {
		return nil, fmt.Errorf("person %s: %w", id, err)
	}
	links, err := s.deps.Entities.PersonEntities(id)
	if err != nil {
		return nil, err
	}
	signals, err := s.deps.Bus.ListActive(signalbus.EntityPerson, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"person":  p,
		"links":   links,
		"signals": signals,
	}, nil
}

func (s *Server) createPerson(r *http.Request) (any, error) {
	body, err := decodeBody[entitystore.Person](r)
	if err != nil {
		return nil, err
	}
	if body.Name == "" && body.Email == "" {
		return nil, fmt.Errorf("name or email is required")
	}
	p, err := s.deps.Entities.UpsertPerson(&body)
	if err != nil {
		return nil, err
	}
	s.rewritePersonArtifact(p.ID)
	return p, nil
}

func (s *Server) updatePersonField(r *http.Request) (any, error) {
	id := r.PathValue("id")
	p, err := s.deps.Entities.GetPerson(id)
	if err != nil {
		return nil, fmt.Errorf("person %s: %w", id, err)
	}
	body, err := decodeBody[map[string]string](r)
	if err != nil {
		return nil, err
	}
	for field, value := range body {
		switch field {
		case "name":
			p.Name = value
		case "email":
			p.Email = value
		case "title":
			p.Title = value
		case "company":
			p.Company = value
		case "relationship":
			p.Relationship = value
		default:
			return nil, fmt.Errorf("unknown field %q", field)
		}
	}
	updated, err := s.deps.Entities.UpsertPerson(p)
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Engine.Emit(signalbus.EntityPerson, id, "person_edited",
		signalbus.SourceUserEdit, "", 1.0, 0); err != nil {
		s.logger.Warn("edit signal emit failed", "person_id", id, "error", err)
	}
	s.rewritePersonArtifact(id)
	return updated, nil
}

func (s *Server) linkPersonEntity(r *http.Request) (any, error) {
	id := r.PathValue("id")
	body, err := decodeBody[struct {
		EntityKind   string `json:"entityKind"`
		EntityID     string `json:"entityId"`
		Relationship string `json:"relationship"`
	}](r)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Entities.LinkPersonEntity(id, entitystore.EntityKind(body.EntityKind), body.EntityID, body.Relationship); err != nil {
		return nil, err
	}
	s.rewritePersonArtifact(id)
	return map[string]string{"personId": id, "entityId": body.EntityID}, nil
}

func (s *Server) unlinkPersonEntity(r *http.Request) (any, error) {
	id := r.PathValue("id")
	body, err := decodeBody[struct {
		EntityKind string `json:"entityKind"`
		EntityID   string `json:"entityId"`
	}](r)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Entities.UnlinkPersonEntity(id, entitystore.EntityKind(body.EntityKind), body.EntityID); err != nil {
		return nil, err
	}
	s.rewritePersonArtifact(id)
	return map[string]string{"personId": id}, nil
}

func (s *Server) archivePerson(r *http.Request) (any, error) {
	id := r.PathValue("id")
	if err := s.deps.Entities.ArchivePerson(id); err != nil {
		return nil, err
	}
	return map[string]string{"personId": id, "state": "archived"}, nil
}

func (s *Server) mergePeople(r *http.Request) (any, error) {
	body, err := decodeBody[struct {
		KeepID   string `json:"keepId"`
		RemoveID string `json:"removeId"`
	}](r)
	if err != nil {
		return nil, err
	}
	if body.KeepID == "" || body.RemoveID == "" || body.KeepID == body.RemoveID {
		return nil, fmt.Errorf("keepId and removeId must differ and be set")
	}
	if err := s.deps.Entities.MergePeople(body.KeepID, body.RemoveID); err != nil {
		return nil, err
	}
	if s.deps.Workspace != nil {
		if err := s.deps.Workspace.RemoveEntityDir("person", body.RemoveID); err != nil {
			s.logger.Warn("merged person dir removal failed", "person_id", body.RemoveID, "error", err)
		}
	}
	s.rewritePersonArtifact(body.KeepID)
	return map[string]string{"keptId": body.KeepID}, nil
}

func (s *Server) deletePerson(r *http.Request) (any, error) {
	id := r.PathValue("id")
	if err := s.deps.Entities.DeletePerson(id); err != nil {
		return nil, err
	}
	if _, err := s.deps.Engine.Emit(signalbus.EntityPerson, id, "entity_deleted",
		signalbus.SourceUserAction, "", 1.0, 0); err != nil {
		s.logger.Warn("delete signal emit failed", "person_id", id, "error", err)
	}
	if s.deps.Workspace != nil {
		if err := s.deps.Workspace.RemoveEntityDir("person", id); err != nil {
			s.logger.Warn("person dir removal failed", "person_id", id, "error", err)
		}
	}
	return map[string]string{"personId": id, "state": "deleted"}, nil
}

func (s *Server) getAccountDetail(r *http.Request) (any, error) {
	id := r.PathValue("id")
	a, err := s.deps.Entities.GetAccount(id)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", id, err)
	}
	parent, children, err := s.deps.Entities.AccountHierarchy(id)
	if err != nil {
		return nil, err
	}
	signals, err := s.deps.Bus.ListActive(signalbus.EntityAccount, id)
	if err != nil {
		return nil, err
	}
	events, err := s.deps.Entities.AccountEvents(id)
	if err != nil {
		return nil, err
	}
	recent, err := s.deps.Meetings.RecentForEntity("account", id, 5)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"account":        a,
		"parent":         parent,
		"children":       children,
		"signals":        signals,
		"events":         events,
		"recentMeetings": recent,
	}, nil
}

func (s *Server) createChildAccount(r *http.Request) (any, error) {
	parentID := r.PathValue("id")
	parent, err := s.deps.Entities.GetAccount(parentID)
	if err != nil {
		return nil, fmt.Errorf("parent account %s: %w", parentID, err)
	}
	body, err := decodeBody[struct {
		Name string `json:"name"`
	}](r)
	if err != nil {
		return nil, err
	}
	if body.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	// Collision-safe child ID under the parent's slug.
	base := parent.ID + "-" + slugify(body.Name)
	id := base
	for i := 2; ; i++ {
		if _, err := s.deps.Entities.GetAccount(id); err == sql.ErrNoRows {
			break
		}
		id = fmt.Sprintf("%s-%d", base, i)
	}

	child, err := s.deps.Entities.UpsertAccount(&entitystore.Account{
		ID: id, Name: body.Name, ParentID: parent.ID,
	})
	if err != nil {
		return nil, err
	}
	return child, nil
}

func (s *Server) getMeetingPrep(r *http.Request) (any, error) {
	id := r.PathValue("id")
	m, err := s.deps.Meetings.Get(id)
	if err != nil {
		return nil, fmt.Errorf("meeting %s: %w", id, err)
	}
	if m.PrepFrozenJSON == "" {
		return nil, nil
	}
	return json.RawMessage(m.PrepFrozenJSON), nil
}

func (s *Server) listMeetingPreps(r *http.Request) (any, error) {
	now := time.Now()
	week, err := s.deps.Meetings.ListBetween(now.AddDate(0, 0, -1), now.AddDate(0, 0, 7))
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, m := range week {
		out = append(out, map[string]any{
			"meetingId": m.ID,
			"title":     m.Title,
			"startTime": m.StartTime,
			"hasPrep":   m.PrepFrozenJSON != "",
			"frozenAt":  m.PrepFrozenAt,
		})
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *Server) refreshMeetingPrep(r *http.Request) (any, error) {
	id := r.PathValue("id")
	if _, err := s.deps.Meetings.Get(id); err != nil {
		return nil, fmt.Errorf("meeting %s: %w", id, err)
	}
	s.deps.PrepQueue.Enqueue(prepqueue.Request{
		MeetingID:   id,
		Priority:    prepqueue.Manual,
		Invalidated: true,
	})
	return map[string]string{"meetingId": id, "state": "queued"}, nil
}

func (s *Server) correctMeetingEntity(r *http.Request) (any, error) {
	meetingID := r.PathValue("id")
	body, err := decodeBody[struct {
		OldEntityKind string `json:"oldEntityKind"`
		OldEntityID   string `json:"oldEntityId"`
		NewEntityKind string `json:"newEntityKind"`
		NewEntityID   string `json:"newEntityId"`
	}](r)
	if err != nil {
		return nil, err
	}

	if body.NewEntityID == "" {
		// Pure removal.
		if err := s.deps.Resolver.RecordRemoval(meetingID, resolver.EntityRef{
			Kind: signalbus.EntityKind(body.OldEntityKind), ID: body.OldEntityID,
		}); err != nil {
			return nil, err
		}
		return map[string]string{"meetingId": meetingID, "state": "removed"}, nil
	}

	var old []resolver.EntityRef
	if body.OldEntityID != "" {
		old = append(old, resolver.EntityRef{
			Kind: signalbus.EntityKind(body.OldEntityKind), ID: body.OldEntityID,
		})
	}
	if err := s.deps.Resolver.RecordCorrection(meetingID, old, resolver.EntityRef{
		Kind: signalbus.EntityKind(body.NewEntityKind), ID: body.NewEntityID,
	}); err != nil {
		return nil, err
	}
	return map[string]string{"meetingId": meetingID, "state": "corrected"}, nil
}

// rewritePersonArtifact refreshes the person.json ground truth after a
// link or field change.
func (s *Server) rewritePersonArtifact(personID string) {
	if s.deps.Workspace == nil || !s.deps.Workspace.Enabled() {
		return
	}
	p, err := s.deps.Entities.GetPerson(personID)
	if err != nil {
		return
	}
	links, err := s.deps.Entities.PersonEntities(personID)
	if err != nil {
		return
	}
	if err := s.deps.Workspace.WritePersonArtifact(p, links); err != nil {
		s.logger.Warn("person artifact rewrite failed", "person_id", personID, "error", err)
	}
}

func slugify(name string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, name)
	return strings.Trim(slug, "-")
}
