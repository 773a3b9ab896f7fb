package propagation

import (
	"encoding/json"

	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// overdueThreshold is how many past-due actions an entity accumulates
// before a health warning is derived.
const overdueThreshold = 3

// renewalProximityDays bounds how close a contract end must be for the
// compound renewal-risk rules to fire.
const renewalProximityDays = 120

// RulePersonJobChange propagates a title or company change on a person to
// every linked account as a stakeholder_change signal.
func RulePersonJobChange(sig signalbus.Signal, env *RuleEnv) []Derived {
	if sig.EntityKind != signalbus.EntityPerson {
		return nil
	}
	if sig.SignalType != "title_change" && sig.SignalType != "company_change" {
		return nil
	}

	var out []Derived
	for _, acct := range linkedAccounts(env, sig.EntityID) {
		value, _ := json.Marshal(map[string]string{
			"person_id": sig.EntityID,
			"change":    sig.SignalType,
		})
		out = append(out, Derived{
			EntityKind: signalbus.EntityAccount,
			EntityID:   acct,
			SignalType: "stakeholder_change",
			Source:     signalbus.SourcePropagation,
			Value:      string(value),
			Confidence: sig.Confidence * 0.9,
		})
	}
	return out
}

// RuleOverdueActions derives a project_health_warning on an entity once
// its open past-due actions cross the threshold. It triggers on action
// lifecycle signals so a newly overdue action is noticed promptly.
func RuleOverdueActions(sig signalbus.Signal, env *RuleEnv) []Derived {
	switch sig.SignalType {
	case "action_created", "action_overdue", "action_reopened":
	default:
		return nil
	}
	if env.Overdue == nil || sig.EntityID == "" {
		return nil
	}

	n, err := env.Overdue.CountOverdue(string(sig.EntityKind), sig.EntityID, env.Now)
	if err != nil || n < overdueThreshold {
		return nil
	}
	value, _ := json.Marshal(map[string]int{"overdue_count": n})
	return []Derived{{
		EntityKind: sig.EntityKind,
		EntityID:   sig.EntityID,
		SignalType: "project_health_warning",
		Source:     signalbus.SourcePropagation,
		Value:      string(value),
		Confidence: 0.75,
	}}
}

// RuleChampionSentiment derives champion_risk on linked accounts when a
// negative sentiment signal lands on a person recorded as a champion.
func RuleChampionSentiment(sig signalbus.Signal, env *RuleEnv) []Derived {
	if sig.EntityKind != signalbus.EntityPerson || sig.SignalType != "sentiment" {
		return nil
	}
	if !negativeSentiment(sig.Value) {
		return nil
	}

	var out []Derived
	refs, err := env.Entities.PersonEntities(sig.EntityID)
	if err != nil {
		return nil
	}
	for _, ref := range refs {
		if ref.Kind != entitystore.KindAccount || ref.Relationship != "champion" {
			continue
		}
		value, _ := json.Marshal(map[string]string{"person_id": sig.EntityID})
		out = append(out, Derived{
			EntityKind: signalbus.EntityAccount,
			EntityID:   ref.ID,
			SignalType: "champion_risk",
			Source:     signalbus.SourcePropagation,
			Value:      string(value),
			Confidence: sig.Confidence * 0.85,
		})
	}
	return out
}

// RuleDepartureRenewal compounds a stakeholder departure with renewal
// proximity: a person_departed signal on a person whose linked account
// renews within the proximity window derives renewal_risk_escalation.
func RuleDepartureRenewal(sig signalbus.Signal, env *RuleEnv) []Derived {
	if sig.EntityKind != signalbus.EntityPerson || sig.SignalType != "person_departed" {
		return nil
	}

	var out []Derived
	for _, acctID := range linkedAccounts(env, sig.EntityID) {
		acct, err := env.Entities.GetAccount(acctID)
		if err != nil || acct.ContractEnd.IsZero() {
			continue
		}
		daysToRenewal := acct.ContractEnd.Sub(env.Now).Hours() / 24
		if daysToRenewal < 0 || daysToRenewal > renewalProximityDays {
			continue
		}
		value, _ := json.Marshal(map[string]any{
			"person_id":       sig.EntityID,
			"days_to_renewal": int(daysToRenewal),
		})
		out = append(out, Derived{
			EntityKind: signalbus.EntityAccount,
			EntityID:   acctID,
			SignalType: "renewal_risk_escalation",
			Source:     signalbus.SourcePropagation,
			Value:      string(value),
			Confidence: minF(0.9, sig.Confidence),
		})
	}
	return out
}

// RuleRenewalEngagementCompound compounds a meeting-frequency drop with
// renewal proximity into an engagement_warning. The meeting_frequency_drop
// producer is the proactive relationship-drift detector.
func RuleRenewalEngagementCompound(sig signalbus.Signal, env *RuleEnv) []Derived {
	if sig.EntityKind != signalbus.EntityAccount || sig.SignalType != "meeting_frequency_drop" {
		return nil
	}
	acct, err := env.Entities.GetAccount(sig.EntityID)
	if err != nil || acct.ContractEnd.IsZero() {
		return nil
	}
	daysToRenewal := acct.ContractEnd.Sub(env.Now).Hours() / 24
	if daysToRenewal < 0 || daysToRenewal > renewalProximityDays {
		return nil
	}
	value, _ := json.Marshal(map[string]any{"days_to_renewal": int(daysToRenewal)})
	return []Derived{{
		EntityKind: signalbus.EntityAccount,
		EntityID:   sig.EntityID,
		SignalType: "engagement_warning",
		Source:     signalbus.SourcePropagation,
		Value:      string(value),
		Confidence: minF(0.85, sig.Confidence+0.1),
	}}
}

// linkedAccounts returns account IDs a person is linked to via the
// person_entity table.
func linkedAccounts(env *RuleEnv, personID string) []string {
	refs, err := env.Entities.PersonEntities(personID)
	if err != nil {
		return nil
	}
	var out []string
	for _, ref := range refs {
		if ref.Kind == entitystore.KindAccount {
			out = append(out, ref.ID)
		}
	}
	return out
}

// negativeSentiment reports whether a sentiment signal value indicates
// negative or mixed sentiment. The value may be a bare word or a JSON
// object with a "sentiment" field.
func negativeSentiment(value string) bool {
	switch value {
	case "negative", "mixed":
		return true
	}
	var obj struct {
		Sentiment string `json:"sentiment"`
	}
	if err := json.Unmarshal([]byte(value), &obj); err == nil {
		return obj.Sentiment == "negative" || obj.Sentiment == "mixed"
	}
	return false
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
