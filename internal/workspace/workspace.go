// Package workspace maintains the on-disk folder of human-editable
// artifacts that is the durable ground truth for entity link state.
// Every write is atomic: content goes to path.tmp and a rename is the
// commit point.
package workspace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
)

// artifactVersion is the version discriminator on every JSON artifact.
const artifactVersion = 1

// LinkedEntity is one durable link record. The linkedEntities array is
// what survives a DB rebuild.
type LinkedEntity struct {
	EntityType   string `json:"entityType"`
	EntityID     string `json:"entityId"`
	Relationship string `json:"relationship,omitempty"`
}

// PersonArtifact is the person.json shape.
type PersonArtifact struct {
	Version        int            `json:"version"`
	EntityType     string         `json:"entityType"`
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Email          string         `json:"email,omitempty"`
	Aliases        []string       `json:"aliases,omitempty"`
	Title          string         `json:"title,omitempty"`
	Organization   string         `json:"organization,omitempty"`
	Relationship   string         `json:"relationship,omitempty"`
	LinkedEntities []LinkedEntity `json:"linkedEntities"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// AccountArtifact is the account dashboard.json shape.
type AccountArtifact struct {
	Version        int            `json:"version"`
	EntityType     string         `json:"entityType"`
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Lifecycle      string         `json:"lifecycle,omitempty"`
	ARR            float64        `json:"arr,omitempty"`
	Health         string         `json:"health,omitempty"`
	ContractEnd    string         `json:"contractEnd,omitempty"`
	Domains        []string       `json:"domains,omitempty"`
	Keywords       []string       `json:"keywords,omitempty"`
	LinkedEntities []LinkedEntity `json:"linkedEntities"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Workspace writes artifacts under a root directory.
type Workspace struct {
	root   string
	logger *slog.Logger
}

// New creates a workspace writer. An empty root disables every write
// (methods become no-ops) so callers need no guards.
func New(root string, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{root: root, logger: logger}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

// Enabled reports whether artifact writing is configured.
func (w *Workspace) Enabled() bool { return w != nil && w.root != "" }

// WriteAtomic writes content to a workspace-relative path via the
// tmp-then-rename pattern. The rename is the commit point.
func (w *Workspace) WriteAtomic(relPath string, content []byte) error {
	if !w.Enabled() {
		return nil
	}
	path := filepath.Join(w.root, relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", relPath, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", relPath, err)
	}
	return nil
}

// WritePersonArtifact rewrites a person's person.json from store state.
func (w *Workspace) WritePersonArtifact(p *entitystore.Person, links []entitystore.EntityRef) error {
	if !w.Enabled() {
		return nil
	}
	artifact := PersonArtifact{
		Version:        artifactVersion,
		EntityType:     "person",
		ID:             p.ID,
		Name:           p.Name,
		Email:          p.Email,
		Aliases:        p.Aliases,
		Title:          p.Title,
		Organization:   p.Company,
		Relationship:   p.Relationship,
		LinkedEntities: toLinked(links),
		UpdatedAt:      time.Now().UTC(),
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal person artifact: %w", err)
	}
	return w.WriteAtomic(filepath.Join("People", p.ID, "person.json"), data)
}

// WriteAccountArtifact rewrites an account's dashboard.json from store
// state.
func (w *Workspace) WriteAccountArtifact(a *entitystore.Account, domains []string, links []entitystore.EntityRef) error {
	if !w.Enabled() {
		return nil
	}
	contractEnd := ""
	if !a.ContractEnd.IsZero() {
		contractEnd = a.ContractEnd.Format("2006-01-02")
	}
	artifact := AccountArtifact{
		Version:        artifactVersion,
		EntityType:     "account",
		ID:             a.ID,
		Name:           a.Name,
		Lifecycle:      a.Stage,
		ARR:            a.ARR,
		Health:         a.Health,
		ContractEnd:    contractEnd,
		Domains:        domains,
		Keywords:       a.Keywords,
		LinkedEntities: toLinked(links),
		UpdatedAt:      time.Now().UTC(),
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal account artifact: %w", err)
	}
	return w.WriteAtomic(filepath.Join("Accounts", a.ID, "dashboard.json"), data)
}

// RemoveEntityDir deletes an entity's workspace directory, used by the
// user-initiated delete command.
func (w *Workspace) RemoveEntityDir(entityType, id string) error {
	if !w.Enabled() || id == "" {
		return nil
	}
	var dir string
	switch entityType {
	case "person":
		dir = filepath.Join(w.root, "People", id)
	case "account":
		dir = filepath.Join(w.root, "Accounts", id)
	default:
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove entity dir: %w", err)
	}
	return nil
}

func toLinked(refs []entitystore.EntityRef) []LinkedEntity {
	out := make([]LinkedEntity, 0, len(refs))
	for _, r := range refs {
		out = append(out, LinkedEntity{
			EntityType:   string(r.Kind),
			EntityID:     r.ID,
			Relationship: r.Relationship,
		})
	}
	return out
}
