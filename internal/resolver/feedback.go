package resolver

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// EntityRef names a resolved entity in a correction.
type EntityRef struct {
	Kind signalbus.EntityKind
	ID   string
}

// RecordCorrection logs that the user moved a meeting's link from the old
// entities to a new one and updates per-source reliability: the source
// that proposed each wrong entity is penalized (beta += 1); every source
// that proposed the user-chosen entity is rewarded (alpha += 1). The
// corrected link is rewritten through the entity store.
func (r *Resolver) RecordCorrection(meetingID string, oldEntities []EntityRef, newEntity EntityRef) error {
	resolutionSignals, err := r.bus.ResolutionSignalsForMeeting(meetingID)
	if err != nil {
		return fmt.Errorf("load resolution signals: %w", err)
	}

	for _, old := range oldEntities {
		wrongSource := findSource(resolutionSignals, old)
		if err := r.insertFeedback(meetingID, &old, &newEntity, wrongSource); err != nil {
			return err
		}
		if wrongSource != "" {
			if err := r.bus.UpdateWeight(wrongSource, old.Kind, "entity_resolution", 0, 1); err != nil {
				r.logger.Warn("penalty weight update failed", "source", wrongSource, "error", err)
			}
		}
		if err := r.entities.UnlinkMeeting(meetingID, entitystore.EntityKind(old.Kind), old.ID); err != nil {
			r.logger.Warn("unlink failed", "meeting_id", meetingID, "entity_id", old.ID, "error", err)
		}
	}

	for _, sig := range resolutionSignals {
		if sig.EntityKind == newEntity.Kind && sig.EntityID == newEntity.ID {
			if err := r.bus.UpdateWeight(sig.Source, newEntity.Kind, "entity_resolution", 1, 0); err != nil {
				r.logger.Warn("reward weight update failed", "source", sig.Source, "error", err)
			}
		}
	}

	if err := r.entities.LinkMeeting(meetingID, entitystore.EntityKind(newEntity.Kind), newEntity.ID); err != nil {
		return fmt.Errorf("link corrected entity: %w", err)
	}
	if _, err := r.bus.Emit(newEntity.Kind, newEntity.ID, "entity_resolution",
		signalbus.SourceUserCorrection,
		fmt.Sprintf(`{"event_id":%q,"source":"user_correction","outcome":"resolved"}`, meetingID),
		1.0, 0); err != nil {
		r.logger.Warn("correction signal emit failed", "meeting_id", meetingID, "error", err)
	}
	return nil
}

// RecordRemoval logs that the user removed an entity link entirely and
// penalizes the source that proposed it.
func (r *Resolver) RecordRemoval(meetingID string, removed EntityRef) error {
	resolutionSignals, err := r.bus.ResolutionSignalsForMeeting(meetingID)
	if err != nil {
		return fmt.Errorf("load resolution signals: %w", err)
	}
	wrongSource := findSource(resolutionSignals, removed)

	if err := r.insertFeedback(meetingID, &removed, nil, wrongSource); err != nil {
		return err
	}
	if wrongSource != "" {
		if err := r.bus.UpdateWeight(wrongSource, removed.Kind, "entity_resolution", 0, 1); err != nil {
			r.logger.Warn("penalty weight update failed", "source", wrongSource, "error", err)
		}
	}
	return r.entities.UnlinkMeeting(meetingID, entitystore.EntityKind(removed.Kind), removed.ID)
}

func (r *Resolver) insertFeedback(meetingID string, old, new *EntityRef, source signalbus.Source) error {
	var oldKind, oldID, newKind, newID, src any
	if old != nil {
		oldKind, oldID = string(old.Kind), old.ID
	}
	if new != nil {
		newKind, newID = string(new.Kind), new.ID
	}
	if source != "" {
		src = string(source)
	}
	_, err := r.db.Exec(`
		INSERT INTO entity_resolution_feedback
			(id, meeting_id, old_entity_kind, old_entity_id, new_entity_kind, new_entity_id, signal_source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, "fb-"+uuid.NewString(), meetingID, oldKind, oldID, newKind, newID, src,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert resolution feedback: %w", err)
	}
	return nil
}

// findSource returns the source of the newest resolution signal that
// proposed the given entity, or empty if none did.
func findSource(signals []signalbus.Signal, ref EntityRef) signalbus.Source {
	for _, sig := range signals {
		if sig.EntityKind == ref.Kind && sig.EntityID == ref.ID {
			return sig.Source
		}
	}
	return ""
}
