package budget

import (
	"testing"
	"time"

	"github.com/ctxforge/retrievalcore/internal/entry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountWord(t *testing.T) {
	n := countWord("one two three four")
	assert.Equal(t, 6, n) // ceil(4 * 1.3) = 6
}

func TestCountCharacter(t *testing.T) {
	n := countCharacter("abcdefghij") // 10 chars
	assert.Equal(t, 3, n)             // ceil(10*0.25)=3
}

func TestCountCodeAware(t *testing.T) {
	content := "prose " + "```\ncode\n```" + " more prose"
	n := countCodeAware(content)
	assert.Greater(t, n, 0)
}

func section(title, content string, required bool) *entry.ContextSection {
	return &entry.ContextSection{Kind: "knowledge", Title: title, Content: content, Required: required}
}

func TestEnforce_UnderBudgetNoOp(t *testing.T) {
	sections := []*entry.ContextSection{section("a", "short", false)}
	_, usage := Enforce(Config{Method: MethodWord, BudgetLimit: 5000}, sections, time.Now())
	assert.LessOrEqual(t, usage.TotalTokens, usage.BudgetLimit)
	assert.Empty(t, usage.Optimizations)
}

func TestEnforce_CompressionThenElimination(t *testing.T) {
	big := make([]*entry.ContextSection, 0, 20)
	for i := 0; i < 20; i++ {
		content := ""
		for j := 0; j < 100; j++ {
			content += "word "
		}
		big = append(big, section("sec", content, false))
	}
	sections, usage := Enforce(Config{Method: MethodWord, BudgetLimit: 1000}, big, time.Now())
	assert.LessOrEqual(t, usage.TotalTokens, usage.BudgetLimit)
	var sawCompression, sawElimOrTrunc bool
	for _, opt := range usage.Optimizations {
		if opt.Type == "compression" {
			sawCompression = true
		}
		if opt.Type == "elimination" || opt.Type == "truncation" {
			sawElimOrTrunc = true
		}
	}
	assert.True(t, sawCompression || sawElimOrTrunc)
	assert.LessOrEqual(t, len(sections), 20)
}

func TestEnforce_TinyBudgetStillReturnsPack(t *testing.T) {
	sections := []*entry.ContextSection{
		section("essential", "this is required content that must survive", true),
		section("extra1", "filler filler filler filler filler filler filler", false),
		section("extra2", "more filler more filler more filler more filler", false),
	}
	result, usage := Enforce(Config{Method: MethodWord, BudgetLimit: 10}, sections, time.Now())
	require.NotEmpty(t, result)
	var hasRequired bool
	for _, s := range result {
		if s.Required {
			hasRequired = true
		}
	}
	assert.True(t, hasRequired, "required section must survive elimination")
	if usage.TotalTokens > usage.BudgetLimit {
		assert.Contains(t, usage.Warnings, "budget_exceeded")
	}
}

func TestEnforce_NeverEliminatesRequired(t *testing.T) {
	sections := []*entry.ContextSection{
		section("r1", "required one", true),
		section("r2", "required two", true),
	}
	result, _ := Enforce(Config{Method: MethodWord, BudgetLimit: 1}, sections, time.Now())
	assert.Len(t, result, 2)
}

func TestCompressCollapsesWhitespaceAndBlankLines(t *testing.T) {
	in := "line one\n\n\n\nline   two"
	out := compress(in)
	assert.NotContains(t, out, "\n\n\n")
	assert.NotContains(t, out, "   ")
}

func TestTruncateToFraction(t *testing.T) {
	out := truncateToFraction("0123456789", 0.5)
	assert.Equal(t, "01234…", out)
}
