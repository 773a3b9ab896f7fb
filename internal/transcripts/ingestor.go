package transcripts

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// matchWindow is how far a transcript's timestamp may sit from a
// meeting's start to still match it.
const matchWindow = 2 * time.Hour

// Emitter records a signal and runs propagation on it.
type Emitter interface {
	Emit(kind signalbus.EntityKind, entityID, signalType string, source signalbus.Source, value string, confidence float64, halfLifeDays float64) (signalbus.Signal, error)
}

// Ingestor matches transcript files to meeting history.
type Ingestor struct {
	meetings *meetings.Store
	emitter  Emitter
	logger   *slog.Logger
}

// NewIngestor creates a transcript ingestor.
func NewIngestor(ms *meetings.Store, emitter Emitter, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{meetings: ms, emitter: emitter, logger: logger}
}

// ScanDirectory walks a transcript directory for .vtt, .md and .txt files
// modified since the cutoff and attaches each to the meeting it matches.
// Returns how many transcripts were newly attached.
func (in *Ingestor) ScanDirectory(dir string, since time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read transcript dir: %w", err)
	}

	attached := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".vtt" && ext != ".md" && ext != ".txt" {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().Before(since) {
			continue
		}
		path := filepath.Join(dir, name)
		if ext == ".vtt" {
			cleaned, err := in.cleanedCopy(path)
			if err != nil {
				in.logger.Warn("vtt cleanup failed", "file", name, "error", err)
				continue
			}
			path = cleaned
		}
		ok, err := in.attach(path, titleFromFilename(name), info.ModTime())
		if err != nil {
			in.logger.Warn("transcript attach failed", "file", name, "error", err)
			continue
		}
		if ok {
			attached++
		}
	}
	return attached, nil
}

// granolaDoc is the shape of one cached recorder document.
type granolaDoc struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	Transcript string    `json:"transcript"`
}

// ScanCache reads a recorder cache file (a JSON array of documents),
// writes each transcript beside the cache, and attaches them to
// matching meetings. Returns how many were newly attached.
func (in *Ingestor) ScanCache(cachePath string) (int, error) {
	data, err := os.ReadFile(cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read cache: %w", err)
	}
	var docs []granolaDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return 0, fmt.Errorf("parse cache: %w", err)
	}

	dir := filepath.Dir(cachePath)
	attached := 0
	for _, doc := range docs {
		if doc.Transcript == "" {
			continue
		}
		path := filepath.Join(dir, "transcript-"+sanitize(doc.ID)+".md")
		if _, err := os.Stat(path); err != nil {
			if err := os.WriteFile(path, []byte(doc.Transcript), 0o644); err != nil {
				in.logger.Warn("transcript write failed", "id", doc.ID, "error", err)
				continue
			}
		}
		ok, err := in.attach(path, doc.Title, doc.CreatedAt)
		if err != nil {
			in.logger.Warn("transcript attach failed", "id", doc.ID, "error", err)
			continue
		}
		if ok {
			attached++
		}
	}
	return attached, nil
}

// attach finds the meeting nearest the transcript's timestamp whose
// title overlaps and records the transcript path, once.
func (in *Ingestor) attach(path, title string, at time.Time) (bool, error) {
	candidates, err := in.meetings.ListBetween(at.Add(-matchWindow), at.Add(matchWindow))
	if err != nil {
		return false, err
	}

	var best *meetings.Meeting
	for _, m := range candidates {
		if m.TranscriptPath != "" {
			continue
		}
		if !titlesOverlap(m.Title, title) {
			continue
		}
		if best == nil || absDuration(m.StartTime.Sub(at)) < absDuration(best.StartTime.Sub(at)) {
			best = m
		}
	}
	if best == nil {
		return false, nil
	}

	if err := in.meetings.SetTranscriptPath(best.ID, path); err != nil {
		return false, err
	}
	if best.AccountID != "" {
		value := fmt.Sprintf(`{"meeting_id":%q}`, best.ID)
		if _, err := in.emitter.Emit(signalbus.EntityAccount, best.AccountID, "transcript_available",
			signalbus.SourceTranscript, value, 0.8, 0); err != nil {
			in.logger.Warn("transcript signal emit failed", "meeting_id", best.ID, "error", err)
		}
	}
	in.logger.Info("transcript attached", "meeting_id", best.ID, "path", path)
	return true, nil
}

// titlesOverlap reports whether two titles share a meaningful token.
func titlesOverlap(a, b string) bool {
	tokens := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(a)) {
		if len(t) >= 3 {
			tokens[t] = true
		}
	}
	for _, t := range strings.Fields(strings.ToLower(b)) {
		if len(t) >= 3 && tokens[t] {
			return true
		}
	}
	return false
}

// cleanedCopy writes a readable .txt rendition of a raw VTT file beside
// it (once) and returns the cleaned path. Meetings link to the cleaned
// text, not the caption soup.
func (in *Ingestor) cleanedCopy(vttPath string) (string, error) {
	target := strings.TrimSuffix(vttPath, filepath.Ext(vttPath)) + ".txt"
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	raw, err := os.ReadFile(vttPath)
	if err != nil {
		return "", err
	}
	cleaned := CleanVTTWithParagraphs(string(raw))
	if err := os.WriteFile(target, []byte(cleaned), 0o644); err != nil {
		return "", err
	}
	return target, nil
}

// titleFromFilename strips the extension and timestamp prefix from a
// recorder filename like "2026-07-06-acme-qbr.vtt".
func titleFromFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.FieldsFunc(base, func(r rune) bool { return r == '-' || r == '_' })
	var words []string
	for _, p := range parts {
		if isAllDigits(p) {
			continue
		}
		words = append(words, p)
	}
	return strings.Join(words, " ")
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, id)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
