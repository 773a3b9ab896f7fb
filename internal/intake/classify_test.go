package intake

import "testing"

func event(title string, attendees []string, recurring bool) CalendarEvent {
	return CalendarEvent{
		ID:          "evt",
		Title:       title,
		Attendees:   attendees,
		IsRecurring: recurring,
	}
}

var userDomains = []string{"ourco.com"}

func classify(t *testing.T, ev CalendarEvent, hints ...string) Classified {
	t.Helper()
	hintSet := make(map[string]bool)
	for _, h := range hints {
		hintSet[h] = true
	}
	return ClassifyMeeting(ev, userDomains, hintSet)
}

func TestClassifyMeeting(t *testing.T) {
	cases := []struct {
		name      string
		event     CalendarEvent
		wantType  string
		wantAcct  string
	}{
		{
			name:     "solo block is personal",
			event:    event("Focus time", []string{"me@ourco.com"}, false),
			wantType: TypePersonal,
		},
		{
			name:     "town hall keyword",
			event:    event("Q3 Town Hall", []string{"a@ourco.com", "b@ourco.com", "c@ourco.com"}, false),
			wantType: TypeAllHands,
		},
		{
			name:     "qbr with external attendees",
			event:    event("Acme QBR", []string{"me@ourco.com", "alice@acme.com", "bob@acme.com"}, false),
			wantType: TypeQBR,
			wantAcct: "acme",
		},
		{
			name:     "internal pair is one on one",
			event:    event("Weekly catchup", []string{"me@ourco.com", "boss@ourco.com"}, false),
			wantType: TypeOneOnOne,
		},
		{
			name:     "recurring standup is team sync",
			event:    event("Daily standup", []string{"a@ourco.com", "b@ourco.com", "c@ourco.com"}, true),
			wantType: TypeTeamSync,
		},
		{
			name:     "non-recurring standup stays internal",
			event:    event("Standup retro", []string{"a@ourco.com", "b@ourco.com", "c@ourco.com"}, false),
			wantType: TypeInternal,
		},
		{
			name:     "gmail-only externals are personal",
			event:    event("Coffee", []string{"me@ourco.com", "friend@gmail.com"}, false),
			wantType: TypePersonal,
		},
		{
			name:     "external group is customer",
			event:    event("Roadmap discussion", []string{"me@ourco.com", "a@bigcorp.com", "b@bigcorp.com"}, false),
			wantType: TypeCustomer,
		},
		{
			name:     "two-person external is one on one",
			event:    event("Intro chat", []string{"me@ourco.com", "alice@bigcorp.com"}, false),
			wantType: TypeOneOnOne,
		},
		{
			name:     "internal training keyword",
			event:    event("Sales enablement session", []string{"a@ourco.com", "b@ourco.com", "c@ourco.com"}, false),
			wantType: TypeTraining,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(t, tc.event, "acme")
			if got.MeetingType != tc.wantType {
				t.Errorf("type = %s, want %s", got.MeetingType, tc.wantType)
			}
			if tc.wantAcct != "" && got.Account != tc.wantAcct {
				t.Errorf("account = %q, want %q", got.Account, tc.wantAcct)
			}
		})
	}
}

func TestClassifyAllHandsByScale(t *testing.T) {
	attendees := make([]string, 55)
	for i := range attendees {
		attendees[i] = "person" + string(rune('a'+i%26)) + "@ourco.com"
	}
	got := classify(t, event("Company update", attendees, false))
	if got.MeetingType != TypeAllHands {
		t.Errorf("type = %s, want all_hands", got.MeetingType)
	}
}

func TestExternalDomainsRecorded(t *testing.T) {
	got := classify(t, event("Sync", []string{"me@ourco.com", "a@zeta.com", "b@alpha.com", "c@alpha.com"}, false))
	if len(got.ExternalDomains) != 2 || got.ExternalDomains[0] != "alpha.com" || got.ExternalDomains[1] != "zeta.com" {
		t.Errorf("external domains = %v, want sorted [alpha.com zeta.com]", got.ExternalDomains)
	}
}

func TestClassifyEmailPriority(t *testing.T) {
	customer := map[string]bool{"acme.com": true}
	hints := map[string]bool{"bigcorp": true}

	cases := []struct {
		name  string
		email InboundEmail
		want  string
	}{
		{"customer domain", InboundEmail{From: "alice@acme.com", Subject: "hello"}, PriorityHigh},
		{"account hint domain", InboundEmail{From: "ceo@bigcorp.io", Subject: "hello"}, PriorityHigh},
		{"urgency keyword", InboundEmail{From: "x@somewhere.com", Subject: "Contract renewal ASAP"}, PriorityHigh},
		{"newsletter", InboundEmail{From: "news@vendor.com", Subject: "Weekly digest"}, PriorityLow},
		{"github", InboundEmail{From: "notifications@github.com", Subject: "PR merged"}, PriorityLow},
		{"list unsubscribe header", InboundEmail{From: "updates@saas.io", Subject: "Changelog", ListUnsubscribe: "<mailto:u@saas.io>"}, PriorityLow},
		{"precedence bulk", InboundEmail{From: "alerts@tool.dev", Subject: "Build done", Precedence: "bulk"}, PriorityLow},
		{"bulk relay domain", InboundEmail{From: "campaign@mailchimp.com", Subject: "Offer"}, PriorityLow},
		{"internal colleague", InboundEmail{From: "pat@ourco.com", Subject: "lunch?"}, PriorityMedium},
		{"plain external", InboundEmail{From: "someone@startup.dev", Subject: "question"}, PriorityMedium},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyEmailPriority(tc.email, customer, userDomains, hints)
			if got != tc.want {
				t.Errorf("priority = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestExtractHelpers(t *testing.T) {
	if got := ExtractEmailAddress(`"Jane Doe" <Jane@Customer.com>`); got != "jane@customer.com" {
		t.Errorf("address = %q", got)
	}
	if got := ExtractDisplayName(`"Jane Doe" <jane@customer.com>`); got != "Jane Doe" {
		t.Errorf("name = %q", got)
	}
	if got := ExtractDisplayName(`jdoe <jane@customer.com>`); got != "" {
		t.Errorf("single token should be rejected, got %q", got)
	}
	if got := ExtractDomain("jane@Customer.Com"); got != "customer.com" {
		t.Errorf("domain = %q", got)
	}
}
