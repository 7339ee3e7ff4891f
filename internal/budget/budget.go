// Package budget implements the Token Budgeter (spec.md §4.8): per
// section token counting under a selectable method, and the
// compress -> eliminate -> truncate -> warn enforcement ladder that
// fits a prioritized section list under a hard per-pack budget.
package budget

import (
	"regexp"
	"strings"
	"time"

	"github.com/ctxforge/retrievalcore/internal/entry"
)

// Method selects the token-counting approximation (spec.md §4.8).
type Method string

const (
	MethodCharacter Method = "character"
	MethodWord      Method = "word"
	MethodCodeAware Method = "code-aware"
)

// Config configures the Token Budgeter.
type Config struct {
	Method      Method
	BudgetLimit int
}

// DefaultConfig matches spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{Method: MethodWord, BudgetLimit: 5000}
}

// Count estimates the token count of content under the configured
// method. On an unrecognized method it falls back to character
// counting, per spec.md §4.8's "on counting failure" contract.
func Count(method Method, content string) int {
	switch method {
	case MethodWord:
		return countWord(content)
	case MethodCodeAware:
		return countCodeAware(content)
	case MethodCharacter:
		return countCharacter(content)
	default:
		return countCharacter(content)
	}
}

func countCharacter(content string) int {
	return ceilDiv(len(content)*25, 100) // 0.25 tokens/char
}

func countWord(content string) int {
	n := len(strings.Fields(content))
	return ceilDiv(n*13, 10) // 1.3 tokens/word
}

var codeFence = regexp.MustCompile("(?s)```.*?```")

// countCodeAware splits content into fenced code blocks (0.3
// tokens/char) and everything else (0.75 tokens/char).
func countCodeAware(content string) int {
	var codeLen, textLen int
	last := 0
	for _, loc := range codeFence.FindAllStringIndex(content, -1) {
		textLen += loc[0] - last
		codeLen += loc[1] - loc[0]
		last = loc[1]
	}
	textLen += len(content) - last
	return ceilDiv(codeLen*30, 100) + ceilDiv(textLen*75, 100)
}

func ceilDiv(numerator, denom int) int {
	if numerator <= 0 {
		return 0
	}
	return (numerator + denom - 1) / denom
}

// Enforce counts every section, then applies the enforcement ladder
// until the total fits budgetLimit or no further mutation is
// possible. Sections must be supplied in ascending-priority order
// (lowest priority first); that order drives elimination and
// truncation order. Required sections are never eliminated or
// truncated but are still eligible for compression. Enforce returns
// the (possibly shortened) section slice and the resulting TokenUsage.
func Enforce(cfg Config, sections []*entry.ContextSection, now time.Time) ([]*entry.ContextSection, entry.TokenUsage) {
	if now.IsZero() {
		now = time.Now()
	}
	recount(cfg.Method, sections)
	usage := entry.TokenUsage{
		BudgetLimit: cfg.BudgetLimit,
		PerSection:  map[string]int{},
	}

	total := sum(sections)
	if total <= cfg.BudgetLimit {
		return finish(sections, usage, now)
	}

	// Compression pass: applies to every section.
	var savedByCompression int
	for _, s := range sections {
		before := s.Tokens
		s.Content = compress(s.Content)
		s.Tokens = Count(cfg.Method, s.Content)
		s.Compressed = true
		savedByCompression += before - s.Tokens
	}
	if savedByCompression > 0 {
		usage.Optimizations = append(usage.Optimizations, entry.TokenOptimization{
			Type:        "compression",
			Description: "collapsed whitespace and de-duplicated empty lines across all sections",
			TokensSaved: savedByCompression,
			ImpactLevel: impactLevel(savedByCompression),
			AppliedAt:   now,
		})
	}
	total = sum(sections)
	if total <= cfg.BudgetLimit {
		return finish(sections, usage, now)
	}

	// Elimination pass: drop lowest-priority non-essential sections.
	kept := sections[:0:0]
	for _, s := range sections {
		if total <= cfg.BudgetLimit || s.Required {
			kept = append(kept, s)
			continue
		}
		total -= s.Tokens
		usage.Warnings = append(usage.Warnings, "eliminated section: "+s.Title)
		usage.Optimizations = append(usage.Optimizations, entry.TokenOptimization{
			Type:        "elimination",
			Description: "dropped non-essential section " + s.Title,
			TokensSaved: s.Tokens,
			ImpactLevel: "high",
			AppliedAt:   now,
		})
	}
	sections = kept
	if total <= cfg.BudgetLimit {
		return finish(sections, usage, now)
	}

	// Truncation pass: shrink remaining non-essential sections to 70%.
	for _, s := range sections {
		if total <= cfg.BudgetLimit || s.Required {
			continue
		}
		before := s.Tokens
		s.Content = truncateToFraction(s.Content, 0.7)
		s.Tokens = Count(cfg.Method, s.Content)
		s.Truncated = true
		saved := before - s.Tokens
		total -= saved
		usage.Optimizations = append(usage.Optimizations, entry.TokenOptimization{
			Type:        "truncation",
			Description: "truncated section " + s.Title + " to 70% length",
			TokensSaved: saved,
			ImpactLevel: "medium",
			AppliedAt:   now,
		})
	}
	if total <= cfg.BudgetLimit {
		return finish(sections, usage, now)
	}

	usage.Warnings = append(usage.Warnings, "budget_exceeded")
	return finish(sections, usage, now)
}

func finish(sections []*entry.ContextSection, usage entry.TokenUsage, now time.Time) ([]*entry.ContextSection, entry.TokenUsage) {
	usage.TotalTokens = sum(sections)
	if usage.BudgetLimit > 0 {
		usage.UtilizationPct = 100 * float64(usage.TotalTokens) / float64(usage.BudgetLimit)
	}
	for _, s := range sections {
		usage.PerSection[s.Kind] += s.Tokens
	}
	return sections, usage
}

func recount(method Method, sections []*entry.ContextSection) {
	for _, s := range sections {
		s.Tokens = Count(method, s.Content)
	}
}

func sum(sections []*entry.ContextSection) int {
	var total int
	for _, s := range sections {
		total += s.Tokens
	}
	return total
}

func impactLevel(tokensSaved int) string {
	switch {
	case tokensSaved >= 500:
		return "high"
	case tokensSaved >= 100:
		return "medium"
	default:
		return "low"
	}
}

var (
	multiSpace     = regexp.MustCompile(`[ \t]{2,}`)
	multiBlankLine = regexp.MustCompile(`\n{3,}`)
	verboseIdioms  = map[string]string{
		"in order to":                    "to",
		"it is important to note that ":  "",
		"please note that ":              "",
		"due to the fact that":           "because",
		"at this point in time":          "now",
		"in the event that":              "if",
	}
)

// compress collapses runs of whitespace, de-dups empty lines, and
// canonicalizes common verbose idioms (spec.md §4.8 step 3).
func compress(content string) string {
	out := content
	for verbose, concise := range verboseIdioms {
		out = replaceFold(out, verbose, concise)
	}
	out = multiSpace.ReplaceAllString(out, " ")
	out = multiBlankLine.ReplaceAllString(out, "\n\n")
	lines := strings.Split(out, "\n")
	trimmed := make([]string, len(lines))
	for i, l := range lines {
		trimmed[i] = strings.TrimRight(l, " \t")
	}
	return strings.Join(trimmed, "\n")
}

// replaceFold replaces case-insensitive occurrences of old with new,
// preserving the surrounding text's original casing.
func replaceFold(s, old, new string) string {
	lower := strings.ToLower(s)
	oldLower := strings.ToLower(old)
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(lower[i:], oldLower)
		if idx < 0 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+idx])
		b.WriteString(new)
		i += idx + len(oldLower)
	}
	return b.String()
}

// truncateToFraction keeps the leading fraction of content by rune count.
func truncateToFraction(content string, fraction float64) string {
	runes := []rune(content)
	n := int(float64(len(runes)) * fraction)
	if n >= len(runes) {
		return content
	}
	if n < 0 {
		n = 0
	}
	return string(runes[:n]) + "…"
}
