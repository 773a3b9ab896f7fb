package signalbus

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RecordDerivation links a derived signal back to the source signal it was
// propagated from, under the name of the rule that produced it. The
// signal_derivations table is the lineage record the feedback loop and
// diagnostics read.
func (s *Store) RecordDerivation(sourceSignalID, derivedSignalID, ruleName string) error {
	_, err := s.db.Exec(`
		INSERT INTO signal_derivations (id, source_signal_id, derived_signal_id, rule_name)
		VALUES (?, ?, ?, ?)
	`, "sd-"+uuid.NewString(), sourceSignalID, derivedSignalID, ruleName)
	if err != nil {
		return fmt.Errorf("record signal derivation: %w", err)
	}
	return nil
}

// DerivationsForSource returns (derived_signal_id, rule_name) pairs recorded
// for a source signal.
func (s *Store) DerivationsForSource(sourceSignalID string) ([]Derivation, error) {
	rows, err := s.db.Query(`
		SELECT derived_signal_id, rule_name FROM signal_derivations WHERE source_signal_id = ?
	`, sourceSignalID)
	if err != nil {
		return nil, fmt.Errorf("query signal derivations: %w", err)
	}
	defer rows.Close()

	var out []Derivation
	for rows.Next() {
		var d Derivation
		if err := rows.Scan(&d.DerivedSignalID, &d.RuleName); err != nil {
			return nil, fmt.Errorf("scan signal derivation: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Derivation is one recorded propagation lineage edge.
type Derivation struct {
	DerivedSignalID string
	RuleName        string
}

// ResolutionSignalsForMeeting returns the entity_resolution events whose
// value JSON references the given meeting, newest first. The resolver
// stamps every resolution signal's value with {"event_id": ...} exactly so
// corrections can locate the offending source later.
func (s *Store) ResolutionSignalsForMeeting(meetingID string) ([]Signal, error) {
	marker := fmt.Sprintf(`"event_id":%q`, meetingID)
	rows, err := s.db.Query(`
		SELECT id, entity_kind, entity_id, signal_type, source, value, confidence, decay_half_life_days, created_at, superseded_by, source_context
		FROM signal_events
		WHERE signal_type = 'entity_resolution' AND value LIKE ?
		ORDER BY created_at DESC
	`, "%"+marker+"%")
	if err != nil {
		return nil, fmt.Errorf("query resolution signals: %w", err)
	}
	defer rows.Close()

	var out []Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		// LIKE with a JSON fragment can in principle over-match; double-check.
		if !strings.Contains(sig.Value, marker) {
			continue
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// CountForEntity returns the total number of signal events ever recorded
// for an entity, superseded or not. The relevance scorer's entity-linkage
// dimension buckets on this count.
func (s *Store) CountForEntity(kind EntityKind, entityID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM signal_events WHERE entity_kind = ? AND entity_id = ?
	`, kind, entityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entity signals: %w", err)
	}
	return n, nil
}
