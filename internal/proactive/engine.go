// Package proactive runs a registry of named pattern detectors over the
// store, deduplicates insights by fingerprint within a 7-day window, emits
// each surviving insight as a proactive-tier signal, and records a
// proactive_insights row for the GUI digest.
package proactive

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// dedupWindow is how long a fingerprint suppresses re-emission.
const dedupWindow = 7 * 24 * time.Hour

// RawInsight is a detector's output before dedup and emission.
type RawInsight struct {
	DetectorName string
	Fingerprint  string
	EntityKind   signalbus.EntityKind
	EntityID     string
	SignalType   string
	Headline     string
	Detail       string
	Confidence   float64
	ContextJSON  string
}

// Context is passed to every detector invocation.
type Context struct {
	Today       time.Time
	UserDomains []string
	Profile     string
}

// ProfileAll marks a detector that runs for every profile.
const ProfileAll = "all"

// Detector inspects the store and returns zero or more raw insights.
type Detector func(env *Env, ctx Context) []RawInsight

// Env is the read surface detectors query.
type Env struct {
	DB       *sql.DB
	Entities *entitystore.Store
	Meetings *meetings.Store
}

// Emitter records a signal and runs propagation on it. The propagation
// engine satisfies this.
type Emitter interface {
	Emit(kind signalbus.EntityKind, entityID, signalType string, source signalbus.Source, value string, confidence float64, halfLifeDays float64) (signalbus.Signal, error)
}

type detectorEntry struct {
	name     string
	profiles []string
	fn       Detector
}

// Engine owns the detector registry and the insight/dedup tables.
type Engine struct {
	env       *Env
	emitter   Emitter
	detectors []detectorEntry
	logger    *slog.Logger
}

// NewEngine creates a proactive engine and migrates its tables.
func NewEngine(env *Env, emitter Emitter, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{env: env, emitter: emitter, logger: logger}
	if err := e.migrate(); err != nil {
		return nil, fmt.Errorf("migrate proactive: %w", err)
	}
	return e, nil
}

func (e *Engine) migrate() error {
	_, err := e.env.DB.Exec(`
		CREATE TABLE IF NOT EXISTS proactive_insights (
			id TEXT PRIMARY KEY,
			detector_name TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			signal_id TEXT NOT NULL,
			entity_kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			headline TEXT NOT NULL,
			detail TEXT,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_proactive_fingerprint
			ON proactive_insights(fingerprint, created_at);

		CREATE TABLE IF NOT EXISTS proactive_scan_state (
			detector_name TEXT PRIMARY KEY,
			last_run_at TEXT NOT NULL,
			last_insight_count INTEGER NOT NULL DEFAULT 0
		);
	`)
	return err
}

// Register adds a named detector with the profiles it applies to.
func (e *Engine) Register(name string, profiles []string, fn Detector) {
	e.detectors = append(e.detectors, detectorEntry{name: name, profiles: profiles, fn: fn})
}

// DefaultEngine registers the standard detector set.
func DefaultEngine(env *Env, emitter Emitter, logger *slog.Logger) (*Engine, error) {
	e, err := NewEngine(env, emitter, logger)
	if err != nil {
		return nil, err
	}
	e.Register("renewal_proximity", []string{ProfileAll}, DetectRenewalProximity)
	e.Register("no_contact_accounts", []string{ProfileAll}, DetectNoContactAccounts)
	e.Register("relationship_drift", []string{ProfileAll}, DetectRelationshipDrift)
	e.Register("email_volume_spike", []string{ProfileAll}, DetectEmailVolumeSpike)
	e.Register("stale_champion", []string{ProfileAll}, DetectStaleChampion)
	e.Register("prep_coverage_gap", []string{ProfileAll}, DetectPrepCoverageGaps)
	e.Register("past_renewal_rollover", []string{ProfileAll}, DetectPastRenewals)
	return e, nil
}

// RunScan executes every detector matching the context profile. New
// insights (not fingerprint-deduped) are emitted as proactive signals and
// recorded; the per-detector scan state is updated either way. Returns
// the number of new insights emitted.
func (e *Engine) RunScan(ctx Context) (int, error) {
	totalNew := 0
	for _, entry := range e.detectors {
		if !profileMatches(entry.profiles, ctx.Profile) {
			continue
		}
		insights := entry.fn(e.env, ctx)

		newCount := 0
		for _, ins := range insights {
			recent, err := e.recentlyEmitted(ins.Fingerprint)
			if err != nil {
				e.logger.Warn("fingerprint check failed", "detector", entry.name, "error", err)
				continue
			}
			if recent {
				continue
			}
			if err := e.record(ins); err != nil {
				e.logger.Warn("insight record failed", "detector", entry.name, "error", err)
				continue
			}
			newCount++
		}
		totalNew += newCount

		if err := e.updateScanState(entry.name, newCount); err != nil {
			e.logger.Warn("scan state update failed", "detector", entry.name, "error", err)
		}
		e.logger.Debug("detector ran", "detector", entry.name, "raw", len(insights), "new", newCount)
	}
	return totalNew, nil
}

func (e *Engine) record(ins RawInsight) error {
	sig, err := e.emitter.Emit(ins.EntityKind, ins.EntityID, ins.SignalType,
		signalbus.SourceProactive, ins.ContextJSON, ins.Confidence, 0)
	if err != nil {
		return fmt.Errorf("emit proactive signal: %w", err)
	}
	now := time.Now().UTC()
	_, err = e.env.DB.Exec(`
		INSERT INTO proactive_insights
			(id, detector_name, fingerprint, signal_id, entity_kind, entity_id, headline, detail, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, "pi-"+uuid.NewString(), ins.DetectorName, ins.Fingerprint, sig.ID,
		ins.EntityKind, ins.EntityID, ins.Headline, ins.Detail,
		now.Format(time.RFC3339), now.Add(dedupWindow).Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert proactive insight: %w", err)
	}
	return nil
}

func (e *Engine) recentlyEmitted(fingerprint string) (bool, error) {
	cutoff := time.Now().UTC().Add(-dedupWindow).Format(time.RFC3339)
	var n int
	err := e.env.DB.QueryRow(`
		SELECT COUNT(*) FROM proactive_insights WHERE fingerprint = ? AND created_at >= ?
	`, fingerprint, cutoff).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query fingerprint: %w", err)
	}
	return n > 0, nil
}

func (e *Engine) updateScanState(detector string, count int) error {
	_, err := e.env.DB.Exec(`
		INSERT INTO proactive_scan_state (detector_name, last_run_at, last_insight_count)
		VALUES (?, ?, ?)
		ON CONFLICT(detector_name) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_insight_count = excluded.last_insight_count
	`, detector, time.Now().UTC().Format(time.RFC3339), count)
	return err
}

// ActiveInsights returns insights that have not yet expired, newest first.
func (e *Engine) ActiveInsights() ([]Insight, error) {
	rows, err := e.env.DB.Query(`
		SELECT id, detector_name, fingerprint, signal_id, entity_kind, entity_id, headline, detail, created_at, expires_at
		FROM proactive_insights WHERE expires_at > ?
		ORDER BY created_at DESC
	`, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}
	defer rows.Close()

	var out []Insight
	for rows.Next() {
		var ins Insight
		var detail sql.NullString
		var createdAt, expiresAt string
		if err := rows.Scan(&ins.ID, &ins.DetectorName, &ins.Fingerprint, &ins.SignalID,
			&ins.EntityKind, &ins.EntityID, &ins.Headline, &detail, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		ins.Detail = detail.String
		ins.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		ins.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
		out = append(out, ins)
	}
	return out, rows.Err()
}

// Insight is a persisted proactive insight.
type Insight struct {
	ID           string               `json:"id"`
	DetectorName string               `json:"detectorName"`
	Fingerprint  string               `json:"fingerprint"`
	SignalID     string               `json:"signalId"`
	EntityKind   signalbus.EntityKind `json:"entityKind"`
	EntityID     string               `json:"entityId"`
	Headline     string               `json:"headline"`
	Detail       string               `json:"detail,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	ExpiresAt    time.Time            `json:"expiresAt"`
}

// Fingerprint hashes the identifying components of an insight: entity,
// signal class, and a time bucket, so the same condition re-detected in
// the same bucket dedupes.
func Fingerprint(entityID, signalClass string, bucket time.Time) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		entityID, signalClass, bucket.UTC().Format("2006-01-02"),
	}, "|")))
	return hex.EncodeToString(sum[:])
}

func profileMatches(profiles []string, profile string) bool {
	for _, p := range profiles {
		if p == ProfileAll || p == profile {
			return true
		}
	}
	return false
}
