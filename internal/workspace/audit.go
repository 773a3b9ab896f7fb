package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// auditRetention is how long raw AI output files are kept.
const auditRetention = 30 * 24 * time.Hour

// auditDirName is the workspace subdirectory holding raw AI output.
const auditDirName = "_audit"

// WriteAudit saves raw AI output for later inspection. Filenames carry a
// millisecond timestamp so concurrent writes never collide:
// {workspace}/_audit/{YYYYMMDDTHHMMSS.mmmZ}_{entity_type}_{entity_id}.txt
func (w *Workspace) WriteAudit(entityType, entityID, content string) (string, error) {
	if !w.Enabled() {
		return "", nil
	}
	stamp := time.Now().UTC().Format("20060102T150405.000Z")
	name := fmt.Sprintf("%s_%s_%s.txt", stamp, entityType, sanitizeID(entityID))
	rel := filepath.Join(auditDirName, name)
	if err := w.WriteAtomic(rel, []byte(content)); err != nil {
		return "", err
	}
	return filepath.Join(w.root, rel), nil
}

// PruneAudit deletes audit files older than the retention window by
// file mtime. Returns how many were removed.
func (w *Workspace) PruneAudit() (int, error) {
	if !w.Enabled() {
		return 0, nil
	}
	dir := filepath.Join(w.root, auditDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read audit dir: %w", err)
	}

	cutoff := time.Now().Add(-auditRetention)
	pruned := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			w.logger.Warn("audit prune failed", "file", entry.Name(), "error", err)
			continue
		}
		pruned++
	}
	if pruned > 0 {
		w.logger.Info("audit files pruned", "count", pruned)
	}
	return pruned, nil
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, id)
}
