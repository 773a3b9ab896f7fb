package signalbus

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// epsilonActiveWeight is the minimum decayed weight for an event to still
// be considered "active" by ListActive: an event must not be superseded
// and its decayed weight must exceed this floor.
const epsilonActiveWeight = 0.02

// Store persists signal events and their learned-reliability posteriors.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a signal bus store backed by the given database
// connection. The schema is created if it does not already exist.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate signal bus: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS signal_events (
			id TEXT PRIMARY KEY,
			entity_kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			signal_type TEXT NOT NULL,
			source TEXT NOT NULL,
			value TEXT,
			confidence REAL NOT NULL,
			decay_half_life_days REAL NOT NULL,
			created_at TEXT NOT NULL,
			superseded_by TEXT,
			source_context TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_signal_events_entity
			ON signal_events(entity_kind, entity_id, signal_type);
		CREATE INDEX IF NOT EXISTS idx_signal_events_active
			ON signal_events(entity_kind, entity_id, superseded_by);

		CREATE TABLE IF NOT EXISTS signal_derivations (
			id TEXT PRIMARY KEY,
			source_signal_id TEXT NOT NULL,
			derived_signal_id TEXT NOT NULL,
			rule_name TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_signal_derivations_source
			ON signal_derivations(source_signal_id);

		CREATE TABLE IF NOT EXISTS signal_weights (
			source TEXT NOT NULL,
			entity_kind TEXT NOT NULL,
			signal_type TEXT NOT NULL,
			alpha REAL NOT NULL DEFAULT 1.0,
			beta REAL NOT NULL DEFAULT 1.0,
			update_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (source, entity_kind, signal_type)
		);
	`)
	return err
}

// Emit records a new signal event:
//  1. assign an ID
//  2. supersede the previous active event on (entity, signal_type), if any
//  3. insert with created_at=now and a half-life derived from source if
//     the caller did not provide one
//
// Steps 1-3 run inside a single transaction. Propagation and prep
// invalidation side effects are the caller's responsibility (the bus
// itself has no dependency on those packages to avoid an import cycle);
// Emit returns the new signal so the caller can feed it forward.
func (s *Store) Emit(kind EntityKind, entityID, signalType string, source Source, value string, confidence float64, halfLifeDays float64) (Signal, error) {
	if halfLifeDays <= 0 {
		halfLifeDays = DefaultHalfLife(source)
	}

	sig := Signal{
		ID:                "sig-" + uuid.NewString(),
		EntityKind:        kind,
		EntityID:          entityID,
		SignalType:        signalType,
		Source:            source,
		Value:             value,
		Confidence:        confidence,
		DecayHalfLifeDays: halfLifeDays,
		CreatedAt:         time.Now().UTC(),
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Signal{}, fmt.Errorf("begin emit tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Supersede the most recent still-active event on this (entity, type).
	row := tx.QueryRow(`
		SELECT id FROM signal_events
		WHERE entity_kind = ? AND entity_id = ? AND signal_type = ? AND superseded_by IS NULL
		ORDER BY created_at DESC LIMIT 1
	`, kind, entityID, signalType)
	var prevID string
	switch err := row.Scan(&prevID); err {
	case nil:
		if _, err := tx.Exec(`UPDATE signal_events SET superseded_by = ? WHERE id = ?`, sig.ID, prevID); err != nil {
			return Signal{}, fmt.Errorf("supersede previous event: %w", err)
		}
	case sql.ErrNoRows:
		// No prior active event, nothing to supersede.
	default:
		return Signal{}, fmt.Errorf("query previous event: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO signal_events (id, entity_kind, entity_id, signal_type, source, value, confidence, decay_half_life_days, created_at, source_context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.ID, sig.EntityKind, sig.EntityID, sig.SignalType, sig.Source, sig.Value, sig.Confidence, sig.DecayHalfLifeDays, sig.CreatedAt.Format(time.RFC3339Nano), sig.SourceContext)
	if err != nil {
		return Signal{}, fmt.Errorf("insert signal event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Signal{}, fmt.Errorf("commit emit tx: %w", err)
	}

	s.logger.Debug("signal emitted", "id", sig.ID, "entity_kind", kind, "entity_id", entityID, "signal_type", signalType, "source", source)
	return sig, nil
}

// ListActive returns all non-superseded events for an entity whose decayed
// weight still exceeds an epsilon threshold, newest first.
func (s *Store) ListActive(kind EntityKind, entityID string) ([]Signal, error) {
	rows, err := s.db.Query(`
		SELECT id, entity_kind, entity_id, signal_type, source, value, confidence, decay_half_life_days, created_at, superseded_by, source_context
		FROM signal_events
		WHERE entity_kind = ? AND entity_id = ? AND superseded_by IS NULL
		ORDER BY created_at DESC
	`, kind, entityID)
	if err != nil {
		return nil, fmt.Errorf("query active signals: %w", err)
	}
	defer rows.Close()

	var candidates []Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	var out []Signal
	for _, sig := range candidates {
		reliability, err := s.GetLearnedReliability(sig.Source, sig.EntityKind, sig.SignalType)
		if err != nil {
			return nil, err
		}
		if sig.Weight(reliability) < epsilonActiveWeight {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// scanner abstracts *sql.Row/*sql.Rows so scanSignal works for either.
type scanner interface {
	Scan(dest ...any) error
}

func scanSignal(row scanner) (Signal, error) {
	var sig Signal
	var value, supersededBy, sourceContext sql.NullString
	var createdAt string
	if err := row.Scan(&sig.ID, &sig.EntityKind, &sig.EntityID, &sig.SignalType, &sig.Source,
		&value, &sig.Confidence, &sig.DecayHalfLifeDays, &createdAt, &supersededBy, &sourceContext); err != nil {
		return Signal{}, fmt.Errorf("scan signal event: %w", err)
	}
	sig.Value = value.String
	sig.SupersededBy = supersededBy.String
	sig.SourceContext = sourceContext.String
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		sig.CreatedAt = t
	} else if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		sig.CreatedAt = t
	}
	return sig, nil
}

// GetLearnedReliability returns the deterministic reliability estimate
// alpha/(alpha+beta) for a (source, entity_kind, signal_type) triple.
// Unseen triples use the prior (1,1), i.e. reliability 0.5.
func (s *Store) GetLearnedReliability(source Source, kind EntityKind, signalType string) (float64, error) {
	alpha, beta, err := s.getPosterior(source, kind, signalType)
	if err != nil {
		return 0, err
	}
	return alpha / (alpha + beta), nil
}

func (s *Store) getPosterior(source Source, kind EntityKind, signalType string) (alpha, beta float64, err error) {
	row := s.db.QueryRow(`
		SELECT alpha, beta FROM signal_weights WHERE source = ? AND entity_kind = ? AND signal_type = ?
	`, source, kind, signalType)
	alpha, beta = 1.0, 1.0
	switch err := row.Scan(&alpha, &beta); err {
	case nil, sql.ErrNoRows:
		return clampPositive(alpha), clampPositive(beta), nil
	default:
		return 0, 0, fmt.Errorf("query signal weight: %w", err)
	}
}

// UpdateWeight nudges the Beta posterior for a (source, entity_kind,
// signal_type) triple by the given alpha/beta deltas, used by the
// resolver's user-correction feedback loop. Parameters are
// clamped to [0.01, +inf) to preserve a valid distribution.
func (s *Store) UpdateWeight(source Source, kind EntityKind, signalType string, alphaDelta, betaDelta float64) error {
	_, err := s.db.Exec(`
		INSERT INTO signal_weights (source, entity_kind, signal_type, alpha, beta, update_count)
		VALUES (?, ?, ?, MAX(0.01, 1.0 + ?), MAX(0.01, 1.0 + ?), 1)
		ON CONFLICT(source, entity_kind, signal_type) DO UPDATE SET
			alpha = MAX(0.01, alpha + ?),
			beta = MAX(0.01, beta + ?),
			update_count = update_count + 1
	`, source, kind, signalType, alphaDelta, betaDelta, alphaDelta, betaDelta)
	if err != nil {
		return fmt.Errorf("update signal weight: %w", err)
	}
	s.logger.Info("signal weight updated", "source", source, "entity_kind", kind, "signal_type", signalType, "alpha_delta", alphaDelta, "beta_delta", betaDelta)
	return nil
}

func clampPositive(v float64) float64 {
	if v < 0.01 {
		return 0.01
	}
	return v
}
