package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/ingest"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
)

// inboxDebounce is how long a file must sit unchanged before it is
// processed, so half-written drops are not picked up.
const inboxDebounce = 500 * time.Millisecond

// inboxScanInterval is the watcher's poll cadence.
const inboxScanInterval = 2 * time.Second

// InboxWatcher watches the workspace _inbox/ drop folder, classifies
// dropped files, indexes them into the content file index, and moves
// them to _inbox/processed/.
type InboxWatcher struct {
	dir      string
	meetings *meetings.Store
	resolver entityMatcher
	logger   *slog.Logger

	mu      sync.Mutex
	seenAt  map[string]time.Time
	pending map[string]bool
}

// entityMatcher finds the entity a dropped file belongs to from its
// filename and content.
type entityMatcher interface {
	MatchContent(filename, content string) (entityID string, ok bool)
}

// NewInboxWatcher creates a watcher over dir. resolver may be nil
// (files index under the empty entity and hygiene picks them up later).
func NewInboxWatcher(dir string, ms *meetings.Store, resolver entityMatcher, logger *slog.Logger) *InboxWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &InboxWatcher{
		dir:      dir,
		meetings: ms,
		resolver: resolver,
		logger:   logger,
		seenAt:   make(map[string]time.Time),
		pending:  make(map[string]bool),
	}
}

// Run polls the inbox until the context is canceled. New files are
// queued once their mtime has been stable past the debounce window.
func (w *InboxWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(inboxScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan()
			if _, err := w.ProcessPending(ctx); err != nil {
				w.logger.Warn("inbox processing failed", "error", err)
			}
		}
	}
}

func (w *InboxWatcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		name := entry.Name()
		if last, ok := w.seenAt[name]; !ok || info.ModTime().After(last) {
			w.seenAt[name] = info.ModTime()
			continue
		}
		if now.Sub(w.seenAt[name]) >= inboxDebounce {
			w.pending[name] = true
		}
	}
}

// ProcessPending handles every debounced file, returning how many were
// processed.
func (w *InboxWatcher) ProcessPending(ctx context.Context) (int, error) {
	w.mu.Lock()
	names := make([]string, 0, len(w.pending))
	for name := range w.pending {
		names = append(names, name)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	processed := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if err := w.processFile(name); err != nil {
			w.logger.Warn("inbox file failed", "file", name, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

func (w *InboxWatcher) processFile(name string) error {
	path := filepath.Join(w.dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read inbox file: %w", err)
	}
	content := string(raw)

	entityID := ""
	if w.resolver != nil {
		if id, ok := w.resolver.MatchContent(name, content); ok {
			entityID = id
		}
	}

	contentType := classifyInboxFile(name, content)
	summary := ""
	if strings.HasSuffix(strings.ToLower(name), ".md") {
		doc := ingest.ParseMarkdown(content)
		summary = doc.Summary()
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat inbox file: %w", err)
	}
	if _, err := w.meetings.IndexContentFile(&meetings.ContentFile{
		EntityID:     entityID,
		Filename:     name,
		RelativePath: filepath.Join("_inbox", "processed", name),
		AbsolutePath: filepath.Join(w.dir, "processed", name),
		Format:       strings.TrimPrefix(filepath.Ext(name), "."),
		ModifiedAt:   info.ModTime(),
		ContentType:  contentType,
		Priority:     priorityForType(contentType),
		Summary:      summary,
	}); err != nil {
		return err
	}

	dest := filepath.Join(w.dir, "processed")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("mkdir processed: %w", err)
	}
	if err := os.Rename(path, filepath.Join(dest, name)); err != nil {
		return fmt.Errorf("move processed file: %w", err)
	}
	w.logger.Info("inbox file indexed", "file", name, "type", contentType, "entity_id", entityID)
	return nil
}

// classifyInboxFile infers what a dropped file is from its name and
// leading content.
func classifyInboxFile(name, content string) string {
	lowerName := strings.ToLower(name)
	head := strings.ToLower(content)
	if len(head) > 512 {
		head = head[:512]
	}
	switch {
	case strings.Contains(lowerName, "notes") || strings.Contains(head, "## attendees"):
		return "meeting_notes"
	case strings.Contains(lowerName, "action") || strings.Contains(head, "- [ ]"):
		return "action_items"
	case strings.Contains(lowerName, "account") || strings.Contains(head, "arr"):
		return "account_update"
	default:
		return "meeting_context"
	}
}

func priorityForType(contentType string) int {
	switch contentType {
	case "meeting_notes":
		return 3
	case "action_items":
		return 2
	case "account_update":
		return 2
	default:
		return 1
	}
}
