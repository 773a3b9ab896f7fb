// Package ingest parses workspace documents for the content file index:
// header-aware markdown chunking for embeddings and a mechanical
// summary extractor for hygiene's backfill pass.
package ingest

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Chunk is one semantic unit of a document, keyed by its header path.
type Chunk struct {
	Key     string
	Content string
	Section string
}

// Document is a parsed markdown file.
type Document struct {
	Chunks []Chunk
}

// Summary returns the first meaningful paragraph of the document,
// bounded to a sentence-ish length, for the content index.
func (d Document) Summary() string {
	for _, c := range d.Chunks {
		line := firstParagraph(c.Content)
		if line != "" {
			return truncate(line, 240)
		}
	}
	return ""
}

// ParseMarkdown splits content into header-keyed chunks. H1/H2/H3
// headers open new chunks; code blocks never split.
func ParseMarkdown(content string) Document {
	return Document{Chunks: parseMarkdown(strings.NewReader(content))}
}

// ParseFile reads and parses a markdown file.
func ParseFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseMarkdown(string(data)), nil
}

// ExtractSummary renders a file's markdown to its AST and returns the
// first paragraph's plain text. Non-markdown files fall back to the
// first non-empty line. This is the hygiene scanner's SummaryExtractor.
func ExtractSummary(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if !strings.HasSuffix(strings.ToLower(path), ".md") {
		return truncate(firstParagraph(string(data)), 240), nil
	}

	parser := goldmark.New().Parser()
	root := parser.Parse(text.NewReader(data))

	var summary string
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || summary != "" {
			return ast.WalkContinue, nil
		}
		if p, ok := n.(*ast.Paragraph); ok {
			if s := strings.TrimSpace(string(p.Text(data))); s != "" {
				summary = s
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return truncate(summary, 240), nil
}

func parseMarkdown(r interface{ Read([]byte) (int, error) }) []Chunk {
	var chunks []Chunk
	scanner := bufio.NewScanner(r)

	var currentH1, currentH2 string
	var currentContent strings.Builder
	var lastKey string

	flushChunk := func() {
		content := strings.TrimSpace(currentContent.String())
		if content != "" {
			key := lastKey
			if key == "" {
				key = "preamble"
			}
			chunks = append(chunks, Chunk{
				Key:     key,
				Content: content,
				Section: currentH1,
			})
		}
		currentContent.Reset()
	}

	h1Pattern := regexp.MustCompile(`^#\s+(.+)$`)
	h2Pattern := regexp.MustCompile(`^##\s+(.+)$`)
	h3Pattern := regexp.MustCompile(`^###\s+(.+)$`)
	codeBlockPattern := regexp.MustCompile("^```")

	inCodeBlock := false

	for scanner.Scan() {
		line := scanner.Text()

		// Track code blocks
		if codeBlockPattern.MatchString(line) {
			inCodeBlock = !inCodeBlock
			currentContent.WriteString(line + "\n")
			continue
		}

		if inCodeBlock {
			currentContent.WriteString(line + "\n")
			continue
		}

		// Check for headers
		if m := h1Pattern.FindStringSubmatch(line); m != nil {
			flushChunk()
			currentH1 = m[1]
			currentH2 = ""
			lastKey = slugify(currentH1)
			continue
		}

		if m := h2Pattern.FindStringSubmatch(line); m != nil {
			flushChunk()
			currentH2 = m[1]
			if currentH1 != "" {
				lastKey = slugify(currentH1) + "/" + slugify(currentH2)
			} else {
				lastKey = slugify(currentH2)
			}
			continue
		}

		if m := h3Pattern.FindStringSubmatch(line); m != nil {
			flushChunk()
			h3 := m[1]
			if currentH2 != "" {
				lastKey = slugify(currentH1) + "/" + slugify(currentH2) + "/" + slugify(h3)
			} else if currentH1 != "" {
				lastKey = slugify(currentH1) + "/" + slugify(h3)
			} else {
				lastKey = slugify(h3)
			}
			continue
		}

		// Accumulate content
		if line != "" || currentContent.Len() > 0 {
			currentContent.WriteString(line + "\n")
		}
	}

	// Flush final chunk
	flushChunk()

	return chunks
}

// firstParagraph returns the first non-header, non-list line.
func firstParagraph(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") ||
			strings.HasPrefix(line, "```") || strings.HasPrefix(line, "|") {
			continue
		}
		return line
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// slugify converts a header to a key-friendly format.
func slugify(s string) string {
	s = strings.ToLower(s)
	s = regexp.MustCompile(`[^a-z0-9]+`).ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	return s
}
