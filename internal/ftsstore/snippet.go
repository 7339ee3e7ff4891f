package ftsstore

import (
	"sort"
	"strings"
)

// DefaultMaxSnippetLen is the default snippet window size in characters.
const DefaultMaxSnippetLen = 160

// DefaultMaxSnippetsPerEntry caps the number of snippets per result (spec.md §4.1).
const DefaultMaxSnippetsPerEntry = 3

// HighlightMarker is the neutral open/close token pair wrapped around
// matches inside snippets and highlighted titles (wire contract,
// spec.md §6).
type HighlightMarker struct {
	Open  string
	Close string
}

// DefaultHighlightMarker is the wire-contract default: a lightweight
// HTML <mark>.
func DefaultHighlightMarker() HighlightMarker {
	return HighlightMarker{Open: "<mark>", Close: "</mark>"}
}

type matchSpan struct {
	start, end int
}

// findMatches locates every case-insensitive occurrence of any term in
// body, sorted by start position.
func findMatches(body string, terms []string) []matchSpan {
	lowerBody := strings.ToLower(body)
	var matches []matchSpan
	for _, term := range terms {
		if term == "" {
			continue
		}
		lowerTerm := strings.ToLower(term)
		from := 0
		for {
			idx := strings.Index(lowerBody[from:], lowerTerm)
			if idx == -1 {
				break
			}
			start := from + idx
			matches = append(matches, matchSpan{start: start, end: start + len(term)})
			from = start + len(term)
			if from >= len(lowerBody) {
				break
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].start < matches[j].start })
	return matches
}

// buildSnippets emits up to maxSnippets windows of ±⌊maxLen/2⌋
// characters around each match position, wrapping the match in marker
// (spec.md §4.1).
func buildSnippets(body string, terms []string, maxLen, maxSnippets int, marker HighlightMarker) []string {
	if body == "" || len(terms) == 0 || maxLen <= 0 {
		return nil
	}
	matches := findMatches(body, terms)
	if len(matches) == 0 {
		return nil
	}
	half := maxLen / 2

	var snippets []string
	lastWindowEnd := -1
	for _, m := range matches {
		if len(snippets) >= maxSnippets {
			break
		}
		winStart := m.start - half
		if winStart < 0 {
			winStart = 0
		}
		if winStart < lastWindowEnd {
			continue // overlaps the previous window; keep windows distinct
		}
		winEnd := m.end + half
		if winEnd > len(body) {
			winEnd = len(body)
		}

		var b strings.Builder
		if winStart > 0 {
			b.WriteString("…")
		}
		b.WriteString(body[winStart:m.start])
		b.WriteString(marker.Open)
		b.WriteString(body[m.start:m.end])
		b.WriteString(marker.Close)
		b.WriteString(body[m.end:winEnd])
		if winEnd < len(body) {
			b.WriteString("…")
		}
		snippets = append(snippets, b.String())
		lastWindowEnd = winEnd
	}
	return snippets
}

// highlightTitle wraps every case-insensitive occurrence of any term
// in title with marker.
func highlightTitle(title string, terms []string, marker HighlightMarker) string {
	if title == "" || len(terms) == 0 {
		return title
	}
	result := title
	for _, term := range terms {
		if term == "" {
			continue
		}
		result = highlightFold(result, term, marker)
	}
	return result
}

func highlightFold(s, term string, marker HighlightMarker) string {
	lowerS := strings.ToLower(s)
	lowerTerm := strings.ToLower(term)
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(lowerS[i:], lowerTerm)
		if idx == -1 {
			b.WriteString(s[i:])
			break
		}
		start := i + idx
		end := start + len(term)
		b.WriteString(s[i:start])
		b.WriteString(marker.Open)
		b.WriteString(s[start:end])
		b.WriteString(marker.Close)
		i = end
	}
	return b.String()
}
