// Package feature computes per-(query,candidate) FeatureVectors for the
// Hybrid Retriever and Content Prioritizer: recency decays, proximity
// overlap, affinity, semantic, context, and derived signals, each
// gated by the configured feature categories and optionally normalized
// across a batch.
package feature

import (
	"math"
	"strings"
	"time"

	"github.com/ctxforge/retrievalcore/internal/entry"
	"github.com/ctxforge/retrievalcore/internal/lexer"
)

// Normalization selects the batch-normalization strategy applied after
// raw feature computation.
type Normalization string

const (
	NormalizeNone   Normalization = "none"
	NormalizeMinMax Normalization = "minmax"
	NormalizeZScore Normalization = "zscore"
)

// Config gates which feature categories the extractor computes and
// selects batch normalization (spec.md §4.3).
type Config struct {
	Categories    map[entry.FeatureCategory]bool
	Normalization Normalization

	// RecencyHalfLifeDays controls the exponential decay used for the
	// three recency features.
	RecencyHalfLifeDays float64
	// WorkingHourStart/End bound the "working hours" context flag, in
	// local 24h clock values.
	WorkingHourStart int
	WorkingHourEnd   int
}

// DefaultConfig enables every category with z-score normalization off
// (min-max is the more interpretable default for a [0,1]-scaled model).
func DefaultConfig() Config {
	return Config{
		Categories: map[entry.FeatureCategory]bool{
			entry.FeatureRecency:   true,
			entry.FeatureProximity: true,
			entry.FeatureAffinity:  true,
			entry.FeatureSemantic:  true,
			entry.FeatureContext:   true,
			entry.FeatureDerived:   true,
		},
		Normalization:       NormalizeMinMax,
		RecencyHalfLifeDays:  30,
		WorkingHourStart:     9,
		WorkingHourEnd:       18,
	}
}

func (c Config) enabled(cat entry.FeatureCategory) bool {
	if c.Categories == nil {
		return true
	}
	return c.Categories[cat]
}

// QueryContext carries the per-request signals the extractor needs
// beyond the raw query text: the requesting agent type, active
// project, issue text (for issue-relevance), and "now" for recency.
type QueryContext struct {
	Text            string
	AgentType       string
	ProjectID       string
	IssueText       string
	ActiveProjectID string
	UserSuccessRate float64
	Now             time.Time
}

// Extractor is a pure function of (query, candidates) -> FeatureVectors.
type Extractor struct {
	cfg Config
}

// New constructs an Extractor with the given config.
func New(cfg Config) *Extractor {
	return &Extractor{cfg: cfg}
}

// ExtractBatch computes one FeatureVector per entry, then applies batch
// normalization across the returned slice when configured.
func (ex *Extractor) ExtractBatch(qc QueryContext, entries []*entry.Entry) []*entry.FeatureVector {
	if qc.Now.IsZero() {
		qc.Now = time.Now()
	}
	queryTokens := lexer.Tokenize(qc.Text)
	vecs := make([]*entry.FeatureVector, 0, len(entries))
	for _, e := range entries {
		vecs = append(vecs, ex.extractOne(qc, queryTokens, e))
	}
	ex.normalize(vecs)
	return vecs
}

func (ex *Extractor) extractOne(qc QueryContext, queryTokens []string, e *entry.Entry) *entry.FeatureVector {
	fv := &entry.FeatureVector{EntryID: e.ID}

	titleTokens := lexer.Tokenize(e.Title)
	bodyTokens := lexer.Tokenize(e.Body)
	fv.TitleScore = overlapRatio(queryTokens, titleTokens)
	fv.ContentScore = overlapRatio(queryTokens, bodyTokens)
	fv.TagScore = tagOverlap(queryTokens, e.Metadata.Tags)

	if ex.cfg.enabled(entry.FeatureRecency) {
		fv.CreationRecency = decay(daysSince(qc.Now, e.LastModified), ex.cfg.RecencyHalfLifeDays)
		fv.ModificationRecency = decay(daysSince(qc.Now, e.LastModified), ex.cfg.RecencyHalfLifeDays)
		fv.UsageRecency = decay(daysSince(qc.Now, e.Metadata.LastUsedAt), ex.cfg.RecencyHalfLifeDays)
	}

	if ex.cfg.enabled(entry.FeatureProximity) {
		fv.WordOverlap = overlapRatio(queryTokens, bodyTokens)
		fv.CosineSim = cosineSim(queryTokens, bodyTokens)
		fv.ExactPhrase = qc.Text != "" && strings.Contains(strings.ToLower(e.Body), strings.ToLower(qc.Text))
	}

	if ex.cfg.enabled(entry.FeatureAffinity) {
		fv.AgentAffinity = affinityScore(qc.AgentType, e.Metadata.AgentAffinity)
		if qc.ProjectID != "" && qc.ProjectID == e.Metadata.ProjectID {
			fv.ProjectAffinity = 1
		}
		fv.UserSuccessRate = qc.UserSuccessRate
	}

	if ex.cfg.enabled(entry.FeatureSemantic) {
		fv.Complexity = complexityScore(e.Body)
		fv.Readability = readabilityScore(e.Body)
		fv.HasCode = e.Kind == entry.KindCode || strings.Contains(e.Body, "```")
	}

	if ex.cfg.enabled(entry.FeatureContext) {
		fv.IssueRelevance = overlapRatio(lexer.Tokenize(qc.IssueText), bodyTokens)
		hour := qc.Now.Hour()
		fv.IsWorkingHours = hour >= ex.cfg.WorkingHourStart && hour < ex.cfg.WorkingHourEnd
		fv.IsActiveProject = qc.ActiveProjectID != "" && qc.ActiveProjectID == e.Metadata.ProjectID
	}

	if ex.cfg.enabled(entry.FeatureDerived) {
		fv.OverallRelevance = deriveOverall(fv)
		fv.Uncertainty = deriveUncertainty(fv)
		fv.Novelty = deriveNovelty(e)
	}

	return fv
}

// normalize rescales the batch's continuous fields in place per the
// configured strategy. Boolean and ID fields are untouched.
func (ex *Extractor) normalize(vecs []*entry.FeatureVector) {
	if ex.cfg.Normalization == NormalizeNone || len(vecs) == 0 {
		return
	}
	fields := []func(*entry.FeatureVector) *float64{
		func(v *entry.FeatureVector) *float64 { return &v.TitleScore },
		func(v *entry.FeatureVector) *float64 { return &v.ContentScore },
		func(v *entry.FeatureVector) *float64 { return &v.TagScore },
		func(v *entry.FeatureVector) *float64 { return &v.WordOverlap },
		func(v *entry.FeatureVector) *float64 { return &v.CosineSim },
		func(v *entry.FeatureVector) *float64 { return &v.Complexity },
		func(v *entry.FeatureVector) *float64 { return &v.Readability },
	}
	for _, field := range fields {
		ex.normalizeField(vecs, field)
	}
}

func (ex *Extractor) normalizeField(vecs []*entry.FeatureVector, field func(*entry.FeatureVector) *float64) {
	switch ex.cfg.Normalization {
	case NormalizeMinMax:
		min, max := math.Inf(1), math.Inf(-1)
		for _, v := range vecs {
			f := *field(v)
			if f < min {
				min = f
			}
			if f > max {
				max = f
			}
		}
		span := max - min
		if span <= 0 {
			return
		}
		for _, v := range vecs {
			p := field(v)
			*p = (*p - min) / span
		}
	case NormalizeZScore:
		var sum, sumSq float64
		for _, v := range vecs {
			f := *field(v)
			sum += f
			sumSq += f * f
		}
		n := float64(len(vecs))
		mean := sum / n
		variance := sumSq/n - mean*mean
		if variance <= 0 {
			return
		}
		stddev := math.Sqrt(variance)
		for _, v := range vecs {
			p := field(v)
			*p = (*p - mean) / stddev
		}
	}
}

func daysSince(now, t time.Time) float64 {
	if t.IsZero() {
		return 365 * 10 // effectively "never"
	}
	return now.Sub(t).Hours() / 24
}

func decay(days, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 1
	}
	if days < 0 {
		days = 0
	}
	return math.Exp(-math.Ln2 * days / halfLifeDays)
}

func overlapRatio(query, candidate []string) float64 {
	if len(query) == 0 || len(candidate) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(candidate))
	for _, t := range candidate {
		set[t] = struct{}{}
	}
	hits := 0
	for _, t := range query {
		if _, ok := set[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

func tagOverlap(query, tags []string) float64 {
	if len(query) == 0 || len(tags) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[strings.ToLower(t)] = struct{}{}
	}
	hits := 0
	for _, t := range query {
		if _, ok := set[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(tags))
}

// cosineSim computes the cosine similarity of two token multisets
// represented as sparse frequency vectors.
func cosineSim(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	freqA := make(map[string]int, len(a))
	for _, t := range a {
		freqA[t]++
	}
	freqB := make(map[string]int, len(b))
	for _, t := range b {
		freqB[t]++
	}
	var dot, normA, normB float64
	for t, ca := range freqA {
		normA += float64(ca * ca)
		if cb, ok := freqB[t]; ok {
			dot += float64(ca * cb)
		}
	}
	for _, cb := range freqB {
		normB += float64(cb * cb)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func affinityScore(agentType string, affinities []string) float64 {
	if agentType == "" || len(affinities) == 0 {
		return 0
	}
	for _, a := range affinities {
		if strings.EqualFold(a, agentType) {
			return 1
		}
	}
	return 0
}

// complexityScore is a cheap proxy: longer lines and more punctuation
// density read as more complex. Bounded to [0,1].
func complexityScore(body string) float64 {
	if body == "" {
		return 0
	}
	lines := strings.Split(body, "\n")
	var totalLen int
	var punct int
	for _, l := range lines {
		totalLen += len(l)
		for _, r := range l {
			if strings.ContainsRune("{}()[]<>;:=+-*/&|", r) {
				punct++
			}
		}
	}
	avgLineLen := float64(totalLen) / float64(max(1, len(lines)))
	density := float64(punct) / float64(max(1, len(body)))
	score := (avgLineLen/120)*0.5 + density*0.5
	return clamp01(score)
}

// readabilityScore is the complement signal: shorter words and
// sentences read as more readable. Bounded to [0,1].
func readabilityScore(body string) float64 {
	words := strings.Fields(body)
	if len(words) == 0 {
		return 1
	}
	var totalLen int
	for _, w := range words {
		totalLen += len(w)
	}
	avgWordLen := float64(totalLen) / float64(len(words))
	return clamp01(1 - (avgWordLen-4)/10)
}

func deriveOverall(fv *entry.FeatureVector) float64 {
	return clamp01(0.3*fv.TitleScore + 0.25*fv.ContentScore + 0.15*fv.TagScore +
		0.1*fv.ModificationRecency + 0.1*fv.AgentAffinity + 0.1*fv.CosineSim)
}

func deriveUncertainty(fv *entry.FeatureVector) float64 {
	// High when signals disagree (title strong, content weak, or vice versa).
	return clamp01(math.Abs(fv.TitleScore - fv.ContentScore))
}

func deriveNovelty(e *entry.Entry) float64 {
	if e.Metadata.UsageCount == 0 {
		return 1
	}
	return clamp01(1 / math.Log2(float64(e.Metadata.UsageCount)+2))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
