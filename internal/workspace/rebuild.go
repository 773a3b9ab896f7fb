package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
)

// Rebuild repopulates the entity store from the workspace artifacts.
// The filesystem is the durable ground truth for entities and their
// links; meeting history, signal events, and email enrichment state are
// not reconstructable and stay empty. Returns how many entities were
// restored.
func (w *Workspace) Rebuild(store *entitystore.Store) (int, error) {
	if !w.Enabled() {
		return 0, nil
	}
	restored := 0

	accountDirs, _ := os.ReadDir(filepath.Join(w.root, "Accounts"))
	for _, dir := range accountDirs {
		if !dir.IsDir() {
			continue
		}
		var artifact AccountArtifact
		if !w.readArtifact(filepath.Join("Accounts", dir.Name(), "dashboard.json"), &artifact) {
			continue
		}
		acct := &entitystore.Account{
			ID:       artifact.ID,
			Name:     artifact.Name,
			Stage:    artifact.Lifecycle,
			ARR:      artifact.ARR,
			Health:   artifact.Health,
			Keywords: artifact.Keywords,
		}
		if artifact.ContractEnd != "" {
			if t, err := time.Parse("2006-01-02", artifact.ContractEnd); err == nil {
				acct.ContractEnd = t
			}
		}
		if len(artifact.Domains) > 0 {
			acct.Domain = artifact.Domains[0]
		}
		if _, err := store.UpsertAccount(acct); err != nil {
			w.logger.Warn("account rebuild failed", "id", artifact.ID, "error", err)
			continue
		}
		for i, d := range artifact.Domains {
			if i == 0 {
				continue // primary domain already on the account row
			}
			if err := store.AddAccountDomain(artifact.ID, d); err != nil {
				w.logger.Warn("domain rebuild failed", "id", artifact.ID, "error", err)
			}
		}
		restored++
	}

	personDirs, _ := os.ReadDir(filepath.Join(w.root, "People"))
	for _, dir := range personDirs {
		if !dir.IsDir() {
			continue
		}
		var artifact PersonArtifact
		if !w.readArtifact(filepath.Join("People", dir.Name(), "person.json"), &artifact) {
			continue
		}
		person := &entitystore.Person{
			ID:           artifact.ID,
			Name:         artifact.Name,
			Email:        artifact.Email,
			Aliases:      artifact.Aliases,
			Title:        artifact.Title,
			Company:      artifact.Organization,
			Relationship: artifact.Relationship,
		}
		if _, err := store.UpsertPerson(person); err != nil {
			w.logger.Warn("person rebuild failed", "id", artifact.ID, "error", err)
			continue
		}
		// The durable linkedEntities array restores link state.
		for _, link := range artifact.LinkedEntities {
			if err := store.LinkPersonEntity(artifact.ID,
				entitystore.EntityKind(link.EntityType), link.EntityID, link.Relationship); err != nil {
				w.logger.Warn("link rebuild failed", "person_id", artifact.ID, "error", err)
			}
		}
		restored++
	}

	w.logger.Info("workspace rebuild complete", "entities", restored)
	return restored, nil
}

func (w *Workspace) readArtifact(relPath string, v any) bool {
	data, err := os.ReadFile(filepath.Join(w.root, relPath))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		w.logger.Warn("artifact parse failed", "path", relPath, "error", err)
		return false
	}
	return true
}
