package proactive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

// DetectRenewalProximity surfaces accounts whose contract ends within 90
// days, with confidence climbing as the date approaches.
func DetectRenewalProximity(env *Env, ctx Context) []RawInsight {
	accounts, err := env.Entities.ListAccounts(false)
	if err != nil {
		return nil
	}

	var out []RawInsight
	for _, a := range accounts {
		if a.IsInternal || a.ContractEnd.IsZero() {
			continue
		}
		days := int(a.ContractEnd.Sub(ctx.Today).Hours() / 24)
		if days < 0 || days > 90 {
			continue
		}
		confidence := 0.7
		if days <= 30 {
			confidence = 0.9
		} else if days <= 60 {
			confidence = 0.8
		}
		value, _ := json.Marshal(map[string]any{"days_to_renewal": days})
		out = append(out, RawInsight{
			DetectorName: "renewal_proximity",
			Fingerprint:  Fingerprint(a.ID, "renewal_proximity", ctx.Today),
			EntityKind:   signalbus.EntityAccount,
			EntityID:     a.ID,
			SignalType:   "renewal_proximity",
			Headline:     fmt.Sprintf("%s renews in %d days", a.Name, days),
			Detail:       fmt.Sprintf("Contract ends %s.", a.ContractEnd.Format("Jan 2, 2006")),
			Confidence:   confidence,
			ContextJSON:  string(value),
		})
	}
	return out
}

// noContactDays is how long an account can go quiet before the
// no-contact detector flags it.
const noContactDays = 30

// DetectNoContactAccounts flags active external accounts with no recorded
// contact in the last 30 days.
func DetectNoContactAccounts(env *Env, ctx Context) []RawInsight {
	accounts, err := env.Entities.ListAccounts(false)
	if err != nil {
		return nil
	}

	var out []RawInsight
	for _, a := range accounts {
		if a.IsInternal {
			continue
		}
		if !a.LastContact.IsZero() && ctx.Today.Sub(a.LastContact) < noContactDays*24*time.Hour {
			continue
		}
		if a.LastContact.IsZero() && ctx.Today.Sub(a.CreatedAt) < noContactDays*24*time.Hour {
			continue
		}
		out = append(out, RawInsight{
			DetectorName: "no_contact_accounts",
			Fingerprint:  Fingerprint(a.ID, "no_contact", ctx.Today),
			EntityKind:   signalbus.EntityAccount,
			EntityID:     a.ID,
			SignalType:   "no_contact",
			Headline:     fmt.Sprintf("No contact with %s in %d+ days", a.Name, noContactDays),
			Confidence:   0.75,
		})
	}
	return out
}

// DetectRelationshipDrift compares an account's meeting cadence over the
// last 30 days against the prior 30 and emits meeting_frequency_drop when
// it falls by more than half. This is the producer behind the
// renewal-engagement compound propagation rule.
func DetectRelationshipDrift(env *Env, ctx Context) []RawInsight {
	rows, err := env.DB.Query(`
		SELECT me.entity_id,
		       SUM(CASE WHEN mh.start_time >= ? THEN 1 ELSE 0 END) AS recent,
		       SUM(CASE WHEN mh.start_time < ? AND mh.start_time >= ? THEN 1 ELSE 0 END) AS prior
		FROM meeting_entity me
		JOIN meetings_history mh ON mh.id = me.meeting_id
		WHERE me.entity_kind = 'account' AND mh.start_time >= ? AND mh.start_time < ?
		GROUP BY me.entity_id
	`,
		ctx.Today.AddDate(0, 0, -30).Format(time.RFC3339),
		ctx.Today.AddDate(0, 0, -30).Format(time.RFC3339),
		ctx.Today.AddDate(0, 0, -60).Format(time.RFC3339),
		ctx.Today.AddDate(0, 0, -60).Format(time.RFC3339),
		ctx.Today.Format(time.RFC3339))
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []RawInsight
	for rows.Next() {
		var accountID string
		var recent, prior int
		if err := rows.Scan(&accountID, &recent, &prior); err != nil {
			continue
		}
		if prior < 2 || recent*2 >= prior {
			continue
		}
		value, _ := json.Marshal(map[string]int{"recent_meetings": recent, "prior_meetings": prior})
		out = append(out, RawInsight{
			DetectorName: "relationship_drift",
			Fingerprint:  Fingerprint(accountID, "meeting_frequency_drop", ctx.Today),
			EntityKind:   signalbus.EntityAccount,
			EntityID:     accountID,
			SignalType:   "meeting_frequency_drop",
			Headline:     fmt.Sprintf("Meeting cadence dropped from %d to %d per month", prior, recent),
			Confidence:   0.7,
			ContextJSON:  string(value),
		})
	}
	return out
}

// DetectEmailVolumeSpike reads the weekly cadence histograms and flags
// entities whose latest period runs well above the rolling average.
func DetectEmailVolumeSpike(env *Env, ctx Context) []RawInsight {
	year, week := ctx.Today.UTC().ISOWeek()
	rows, err := env.DB.Query(`
		SELECT entity_kind, entity_id, period, message_count, rolling_avg
		FROM entity_email_cadence
		WHERE period = ?
	`, fmt.Sprintf("%d-W%02d", year, week))
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []RawInsight
	for rows.Next() {
		var kind, id, period string
		var count int
		var avg float64
		if err := rows.Scan(&kind, &id, &period, &count, &avg); err != nil {
			continue
		}
		if avg < 1 || float64(count) < avg*2.5 {
			continue
		}
		value, _ := json.Marshal(map[string]any{"period": period, "count": count, "rolling_avg": avg})
		out = append(out, RawInsight{
			DetectorName: "email_volume_spike",
			Fingerprint:  Fingerprint(id, "email_volume_spike", ctx.Today),
			EntityKind:   signalbus.EntityKind(kind),
			EntityID:     id,
			SignalType:   "email_volume_spike",
			Headline:     fmt.Sprintf("Email volume spike: %d this week vs %.1f average", count, avg),
			Confidence:   0.7,
			ContextJSON:  string(value),
		})
	}
	return out
}

// staleChampionDays is how long a champion can go without contact before
// the detector flags the account.
const staleChampionDays = 45

// DetectStaleChampion flags accounts whose champion has had no contact in
// the stale window.
func DetectStaleChampion(env *Env, ctx Context) []RawInsight {
	rows, err := env.DB.Query(`
		SELECT pe.entity_id, p.id, p.name, p.last_contact
		FROM person_entity pe
		JOIN people p ON p.id = pe.person_id
		WHERE pe.entity_kind = 'account' AND pe.relationship = 'champion' AND p.deleted_at IS NULL
	`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []RawInsight
	for rows.Next() {
		var accountID, personID, name string
		var lastContact *string
		if err := rows.Scan(&accountID, &personID, &name, &lastContact); err != nil {
			continue
		}
		var last time.Time
		if lastContact != nil {
			last, _ = time.Parse(time.RFC3339, *lastContact)
		}
		if !last.IsZero() && ctx.Today.Sub(last) < staleChampionDays*24*time.Hour {
			continue
		}
		out = append(out, RawInsight{
			DetectorName: "stale_champion",
			Fingerprint:  Fingerprint(accountID, "stale_champion:"+personID, ctx.Today),
			EntityKind:   signalbus.EntityAccount,
			EntityID:     accountID,
			SignalType:   "stale_champion",
			Headline:     fmt.Sprintf("Champion %s has gone quiet", name),
			Confidence:   0.7,
		})
	}
	return out
}

// DetectPrepCoverageGaps flags customer meetings starting within 48 hours
// that have no frozen prep yet.
func DetectPrepCoverageGaps(env *Env, ctx Context) []RawInsight {
	upcoming, err := env.Meetings.ListBetween(ctx.Today, ctx.Today.Add(48*time.Hour))
	if err != nil {
		return nil
	}

	var out []RawInsight
	for _, m := range upcoming {
		if m.MeetingType != "customer" && m.MeetingType != "qbr" {
			continue
		}
		if m.PrepFrozenJSON != "" || m.AccountID == "" {
			continue
		}
		out = append(out, RawInsight{
			DetectorName: "prep_coverage_gap",
			Fingerprint:  Fingerprint(m.AccountID, "prep_gap:"+m.ID, ctx.Today),
			EntityKind:   signalbus.EntityAccount,
			EntityID:     m.AccountID,
			SignalType:   "prep_coverage_gap",
			Headline:     fmt.Sprintf("%q starts soon with no prep", m.Title),
			Confidence:   0.8,
		})
	}
	return out
}

// DetectPastRenewals flags accounts whose contract end slipped into the
// past without a churn event; hygiene performs the actual rollover.
func DetectPastRenewals(env *Env, ctx Context) []RawInsight {
	accounts, err := env.Entities.ListAccounts(false)
	if err != nil {
		return nil
	}

	var out []RawInsight
	for _, a := range accounts {
		if a.IsInternal || a.ContractEnd.IsZero() || !a.ContractEnd.Before(ctx.Today) {
			continue
		}
		out = append(out, RawInsight{
			DetectorName: "past_renewal_rollover",
			Fingerprint:  Fingerprint(a.ID, "past_renewal", ctx.Today),
			EntityKind:   signalbus.EntityAccount,
			EntityID:     a.ID,
			SignalType:   "renewal_overdue",
			Headline:     fmt.Sprintf("%s contract end date is in the past", a.Name),
			Confidence:   0.85,
		})
	}
	return out
}
