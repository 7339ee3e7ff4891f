// Package fusion combines multiple ranked result lists into one
// (spec.md §4.5): Reciprocal Rank Fusion, Borda Count, Weighted
// Fusion, and a Learning-to-Rank linear model, followed by post-fusion
// diversity penalties, query-specific boosts, and strategy-specific
// tie-breaks.
package fusion

import (
	"math"
	"sort"

	"github.com/ctxforge/retrievalcore/internal/entry"
)

// Algorithm selects the fusion strategy (spec.md §6 hybrid.fusionAlgorithm).
type Algorithm string

const (
	AlgorithmRRF      Algorithm = "rrf"
	AlgorithmBorda    Algorithm = "borda"
	AlgorithmWeighted Algorithm = "weighted"
	AlgorithmLTR      Algorithm = "ltr"
)

// RankedList is one input to fusion: an ordered slice of results, plus
// the optional weight Weighted Fusion assigns it.
type RankedList struct {
	Results []*entry.SearchResult
	Weight  float64
}

// DefaultRRFK is the standard RRF smoothing constant.
const DefaultRRFK = 60

// RRF implements Reciprocal Rank Fusion: score(d) = Σ 1/(k + rank).
// Fusing a single list returns it unchanged in content (only Score/Rank
// are recomputed), satisfying the spec.md §8 single-list invariant.
func RRF(lists []RankedList, k int) []*entry.SearchResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	scores := make(map[string]float64)
	byID := make(map[string]*entry.SearchResult)
	for _, list := range lists {
		for rank, r := range list.Results {
			scores[r.Entry.ID] += 1.0 / float64(k+rank+1)
			if _, ok := byID[r.Entry.ID]; !ok {
				byID[r.Entry.ID] = r
			}
		}
	}
	return toSortedResults(scores, byID)
}

// Borda implements Borda Count: score(d) = Σ (maxRank - rank), tied
// results broken by the number of list appearances.
func Borda(lists []RankedList) []*entry.SearchResult {
	scores := make(map[string]float64)
	appearances := make(map[string]int)
	byID := make(map[string]*entry.SearchResult)
	for _, list := range lists {
		maxRank := len(list.Results)
		for rank, r := range list.Results {
			scores[r.Entry.ID] += float64(maxRank - rank)
			appearances[r.Entry.ID]++
			if _, ok := byID[r.Entry.ID]; !ok {
				byID[r.Entry.ID] = r
			}
		}
	}
	results := make([]*entry.SearchResult, 0, len(byID))
	for id, base := range byID {
		r := cloneResult(base)
		r.Score = scores[id]
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if appearances[results[i].Entry.ID] != appearances[results[j].Entry.ID] {
			return appearances[results[i].Entry.ID] > appearances[results[j].Entry.ID]
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})
	assignRanks(results)
	return results
}

// Weighted implements Weighted Fusion: per-list weights normalized to
// sum to 1, score(d) = Σ weight_list · (1/(rank+1) + originalScore),
// deduplicated by ID.
func Weighted(lists []RankedList) []*entry.SearchResult {
	var totalWeight float64
	for _, l := range lists {
		totalWeight += l.Weight
	}
	if totalWeight <= 0 {
		totalWeight = float64(len(lists))
		for i := range lists {
			lists[i].Weight = 1
		}
	}

	scores := make(map[string]float64)
	byID := make(map[string]*entry.SearchResult)
	for _, list := range lists {
		w := list.Weight / totalWeight
		for rank, r := range list.Results {
			scores[r.Entry.ID] += w * (1/float64(rank+1) + r.Score)
			if _, ok := byID[r.Entry.ID]; !ok {
				byID[r.Entry.ID] = r
			}
		}
	}
	return toSortedResults(scores, byID)
}

// LTRModel is a linear Learning-to-Rank model over a FeatureVector,
// squashed through a logistic function.
type LTRModel struct {
	Weights map[string]float64
	Bias    float64
}

// LTR scores each candidate via the linear model and returns results
// sorted by descending score. featuresByID supplies the per-candidate
// FeatureVector; candidates absent from it score using bias alone.
func LTR(candidates []*entry.SearchResult, featuresByID map[string]*entry.FeatureVector, model LTRModel) []*entry.SearchResult {
	results := make([]*entry.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		r := cloneResult(c)
		fv := featuresByID[c.Entry.ID]
		r.Score = logistic(model.Bias + linearScore(fv, model.Weights))
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})
	assignRanks(results)
	return results
}

func linearScore(fv *entry.FeatureVector, weights map[string]float64) float64 {
	if fv == nil {
		return 0
	}
	named := map[string]float64{
		"title_score":       fv.TitleScore,
		"content_score":     fv.ContentScore,
		"tag_score":         fv.TagScore,
		"modification_recency": fv.ModificationRecency,
		"word_overlap":      fv.WordOverlap,
		"cosine_sim":        fv.CosineSim,
		"agent_affinity":    fv.AgentAffinity,
		"project_affinity":  fv.ProjectAffinity,
		"overall_relevance": fv.OverallRelevance,
	}
	var sum float64
	for name, w := range weights {
		sum += w * named[name]
	}
	return sum
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Fuse dispatches to the selected algorithm.
func Fuse(algo Algorithm, lists []RankedList, featuresByID map[string]*entry.FeatureVector, model LTRModel) []*entry.SearchResult {
	switch algo {
	case AlgorithmBorda:
		return Borda(lists)
	case AlgorithmWeighted:
		return Weighted(lists)
	case AlgorithmLTR:
		var all []*entry.SearchResult
		seen := make(map[string]bool)
		for _, l := range lists {
			for _, r := range l.Results {
				if !seen[r.Entry.ID] {
					seen[r.Entry.ID] = true
					all = append(all, r)
				}
			}
		}
		return LTR(all, featuresByID, model)
	default:
		return RRF(lists, DefaultRRFK)
	}
}

func toSortedResults(scores map[string]float64, byID map[string]*entry.SearchResult) []*entry.SearchResult {
	results := make([]*entry.SearchResult, 0, len(byID))
	for id, base := range byID {
		r := cloneResult(base)
		r.Score = scores[id]
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})
	assignRanks(results)
	return results
}

func assignRanks(results []*entry.SearchResult) {
	for i, r := range results {
		r.Rank = i + 1
	}
}

func cloneResult(r *entry.SearchResult) *entry.SearchResult {
	cp := *r
	return &cp
}
