// Package transcripts ingests meeting transcripts from local recorders
// (a transcript directory of VTT/markdown/text files) and cache-based sources
// (a recorder cache of JSON documents), matches them to meeting history,
// and records transcript availability signals. VTT cleanup strips the
// timing and markup bloat auto-generated captions carry.
package transcripts

import (
	"regexp"
	"strings"
)

var (
	// timingRe matches cue timing lines: "00:00:01.234 --> 00:00:03.456"
	// with optional position metadata after the second timestamp.
	timingRe = regexp.MustCompile(`^(\d{2}:\d{2}:\d{2}\.\d{3})\s*-->\s*(\d{2}:\d{2}:\d{2}\.\d{3})`)

	// markupRe matches the inline tags caption generators emit (<c>,
	// <i>, <font>, voice spans).
	markupRe = regexp.MustCompile(`<[^>]+>`)

	// skipLineRe matches non-content lines: the WEBVTT header, NOTE
	// blocks, and Kind/Language metadata.
	skipLineRe = regexp.MustCompile(`^(WEBVTT\b|NOTE\b|Kind\b|Language\b)`)
)

// cue is one caption segment with its timing in milliseconds.
type cue struct {
	startMs int
	endMs   int
	text    []string
}

// scanCues parses raw VTT into cues, stripping markup and dropping the
// rolling-caption duplicates auto-subtitles repeat across overlapping
// segments.
func scanCues(raw string) []cue {
	var cues []cue
	current := cue{startMs: -1}
	prevText := ""

	flush := func() {
		if len(current.text) > 0 {
			cues = append(cues, current)
		}
		current = cue{startMs: -1}
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")

		if m := timingRe.FindStringSubmatch(line); m != nil {
			flush()
			current.startMs = timestampMs(m[1])
			current.endMs = timestampMs(m[2])
			continue
		}
		if skipLineRe.MatchString(line) {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isCueID(trimmed) {
			continue
		}

		text := strings.TrimSpace(markupRe.ReplaceAllString(trimmed, ""))
		if text == "" || text == prevText {
			continue
		}
		current.text = append(current.text, text)
		prevText = text
	}
	flush()
	return cues
}

// CleanVTT reduces raw VTT subtitle content to plain readable text: no
// header, no timing lines, no markup, rolling duplicates collapsed.
// Output is typically a quarter the size of the input.
func CleanVTT(raw string) string {
	var parts []string
	for _, c := range scanCues(raw) {
		parts = append(parts, c.text...)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// paragraphGapMs is the silence between cues that starts a new
// paragraph: speaker pauses of this length tend to mark topic shifts.
const paragraphGapMs = 2000

// CleanVTTWithParagraphs is CleanVTT with paragraph breaks inserted
// wherever the gap between consecutive cues exceeds two seconds, which
// reads far better for hour-long meetings.
func CleanVTTWithParagraphs(raw string) string {
	var paragraphs []string
	var para []string
	prevEndMs := -1

	for _, c := range scanCues(raw) {
		if prevEndMs >= 0 && c.startMs >= 0 && c.startMs-prevEndMs > paragraphGapMs && len(para) > 0 {
			paragraphs = append(paragraphs, strings.Join(para, " "))
			para = nil
		}
		para = append(para, c.text...)
		if c.endMs > 0 {
			prevEndMs = c.endMs
		}
	}
	if len(para) > 0 {
		paragraphs = append(paragraphs, strings.Join(para, " "))
	}
	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}

// isCueID reports whether a line is a bare numeric cue identifier.
func isCueID(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// timestampMs converts "HH:MM:SS.mmm" to milliseconds. The timing
// regexp has already validated the shape.
func timestampMs(ts string) int {
	digits := func(s string) int {
		n := 0
		for _, c := range s {
			n = n*10 + int(c-'0')
		}
		return n
	}
	h, m, s, ms := digits(ts[0:2]), digits(ts[3:5]), digits(ts[6:8]), digits(ts[9:12])
	return ((h*60+m)*60+s)*1000 + ms
}
