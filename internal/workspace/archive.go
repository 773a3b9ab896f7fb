package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// todayDirName is the working folder the Archive workflow sweeps.
const todayDirName = "_today"

// ArchiveToday moves the markdown files in _today/ into a dated archive
// folder. Rules: a missing _today/ is a no-op; files named
// week-*.md are never moved; non-md files are never moved. Returns how
// many files moved.
func (w *Workspace) ArchiveToday(day time.Time) (int, error) {
	if !w.Enabled() {
		return 0, nil
	}
	src := filepath.Join(w.root, todayDirName)
	entries, err := os.ReadDir(src)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read today dir: %w", err)
	}

	dest := filepath.Join(w.root, "_archive", day.Format("2006-01-02"))
	moved := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, "week-") {
			continue
		}
		if moved == 0 {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return 0, fmt.Errorf("mkdir archive: %w", err)
			}
		}
		if err := os.Rename(filepath.Join(src, name), filepath.Join(dest, name)); err != nil {
			w.logger.Warn("archive move failed", "file", name, "error", err)
			continue
		}
		moved++
	}
	if moved > 0 {
		w.logger.Info("today archived", "files", moved, "dest", dest)
	}
	return moved, nil
}

// InboxDir returns the watched _inbox/ drop folder.
func (w *Workspace) InboxDir() string {
	if !w.Enabled() {
		return ""
	}
	return filepath.Join(w.root, "_inbox")
}
