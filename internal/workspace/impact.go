package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ImpactEntry is one captured outcome for the weekly rollup.
type ImpactEntry struct {
	Label        string // e.g. "Expansion signal"
	Content      string
	MeetingTitle string
	IsRisk       bool
}

// impactPath returns the weekly impact file for a date:
// Leadership/02-Performance/Weekly-Impact/{ISO-year}-W{ISO-week}-impact-capture.md
func impactPath(day time.Time) string {
	year, week := day.ISOWeek()
	return filepath.Join("Leadership", "02-Performance", "Weekly-Impact",
		fmt.Sprintf("%d-W%02d-impact-capture.md", year, week))
}

// dayHeader renders "### Monday, Jul 6".
func dayHeader(day time.Time) string {
	return fmt.Sprintf("### %s, %s %d", day.Weekday(), day.Month().String()[:3], day.Day())
}

// RollupImpact appends the day's entries to the weekly impact markdown.
// The file carries two H2 sections; entries land under the day header in
// the matching section. The rollup is idempotent per day: if the day
// header already exists in a section, that section is left untouched.
func (w *Workspace) RollupImpact(day time.Time, entries []ImpactEntry) error {
	if !w.Enabled() || len(entries) == 0 {
		return nil
	}
	rel := impactPath(day)
	path := filepath.Join(w.root, rel)

	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read impact file: %w", err)
	}
	text := string(content)
	if text == "" {
		year, week := day.ISOWeek()
		text = fmt.Sprintf("# %d-W%02d Impact Capture\n\n## Customer Outcomes\n\n## Risk Management\n", year, week)
	}

	var outcomes, risks []ImpactEntry
	for _, e := range entries {
		if e.IsRisk {
			risks = append(risks, e)
		} else {
			outcomes = append(outcomes, e)
		}
	}

	header := dayHeader(day)
	text = appendToSection(text, "## Customer Outcomes", header, outcomes)
	text = appendToSection(text, "## Risk Management", header, risks)

	return w.WriteAtomic(rel, []byte(text))
}

// appendToSection inserts a day header plus entry lines at the end of an
// H2 section, unless the header already exists inside that section.
func appendToSection(text, section, header string, entries []ImpactEntry) string {
	if len(entries) == 0 {
		return text
	}
	start := strings.Index(text, section)
	if start < 0 {
		// Malformed file: recreate the section at the end.
		text = strings.TrimRight(text, "\n") + "\n\n" + section + "\n"
		start = strings.Index(text, section)
	}
	sectionBody := text[start:]
	end := len(text)
	if next := strings.Index(sectionBody[len(section):], "\n## "); next >= 0 {
		end = start + len(section) + next + 1
	}

	// Idempotence: a day header already present means this day rolled up.
	if strings.Contains(text[start:end], header) {
		return text
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- **%s**: %s *(from %s)*\n", e.Label, e.Content, e.MeetingTitle)
	}

	before := strings.TrimRight(text[:end], "\n")
	after := text[end:]
	return before + "\n\n" + b.String() + after
}
