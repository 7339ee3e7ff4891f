package config

import (
	"fmt"
	"strconv"
	"strings"
)

// RetrievalConfig configures the Context Pack Assembler's token budget,
// content mix, timing, and feature toggles (spec.md §6).
type RetrievalConfig struct {
	// MaxTokensPerPack is the hard per-pack token budget.
	MaxTokensPerPack int `yaml:"max_tokens_per_pack" json:"max_tokens_per_pack"`
	// TokenCountingMethod selects character/word/code-aware counting.
	TokenCountingMethod string `yaml:"token_counting_method" json:"token_counting_method"`

	MemoryContentPercentage    float64 `yaml:"memory_content_percentage" json:"memory_content_percentage"`
	KnowledgeContentPercentage float64 `yaml:"knowledge_content_percentage" json:"knowledge_content_percentage"`
	RealtimeContentPercentage  float64 `yaml:"realtime_content_percentage" json:"realtime_content_percentage"`

	MaxGenerationTimeMs int `yaml:"max_generation_time_ms" json:"max_generation_time_ms"`

	EnableProvenanceTracking   bool `yaml:"enable_provenance_tracking" json:"enable_provenance_tracking"`
	EnableContentDeduplication bool `yaml:"enable_content_deduplication" json:"enable_content_deduplication"`
	EnableAdaptiveOptimization bool `yaml:"enable_adaptive_optimization" json:"enable_adaptive_optimization"`

	EnableMLContentRanking     bool    `yaml:"enable_ml_content_ranking" json:"enable_ml_content_ranking"`
	ContentSimilarityThreshold float64 `yaml:"content_similarity_threshold" json:"content_similarity_threshold"`

	MaxDatabaseSize int64 `yaml:"max_database_size" json:"max_database_size"`
	MaxContentLength int  `yaml:"max_content_length" json:"max_content_length"`
	BatchSize        int  `yaml:"batch_size" json:"batch_size"`
	QueryCacheSize   int  `yaml:"query_cache_size" json:"query_cache_size"`
	SnippetCacheSize int  `yaml:"snippet_cache_size" json:"snippet_cache_size"`
	FacetCacheSize   int  `yaml:"facet_cache_size" json:"facet_cache_size"`
}

// PackCacheConfig configures the Context Pack Cache.
type PackCacheConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	Hybrid        bool `yaml:"hybrid" json:"hybrid"`
	TTLMinutes    int  `yaml:"ttl_minutes" json:"ttl_minutes"`
	MaxSizeMB     int  `yaml:"max_size_mb" json:"max_size_mb"`
	Compression   bool `yaml:"compression" json:"compression"`
	Encryption    bool `yaml:"encryption" json:"encryption"`
	EncryptionKey string `yaml:"encryption_key" json:"-"`
}

// BanditConfig configures the multi-armed-bandit strategy selector.
type BanditConfig struct {
	Algorithm        string  `yaml:"algorithm" json:"algorithm"` // epsilon-greedy | ucb
	InitialEpsilon   float64 `yaml:"initial_epsilon" json:"initial_epsilon"`
	EpsilonDecay     float64 `yaml:"epsilon_decay" json:"epsilon_decay"`
	EpsilonFloor     float64 `yaml:"epsilon_floor" json:"epsilon_floor"`
	ConfidenceLevel  float64 `yaml:"confidence_level" json:"confidence_level"` // UCB1 c
	WindowSize       int     `yaml:"window_size" json:"window_size"`
}

// HybridRetrievalConfig configures the Hybrid Retriever.
type HybridRetrievalConfig struct {
	DefaultMode         string `yaml:"default_mode" json:"default_mode"` // parallel|cascade|adaptive|ensemble
	ParallelTimeout     string `yaml:"parallel_timeout" json:"parallel_timeout"`
	FusionAlgorithm     string `yaml:"fusion_algorithm" json:"fusion_algorithm"` // rrf|borda|weighted|ltr
	EnableVectorSearch  bool   `yaml:"enable_vector_search" json:"enable_vector_search"`
}

// RerankingConfig configures the Content Prioritizer's online learning.
type RerankingConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	LearningRate   float64 `yaml:"learning_rate" json:"learning_rate"`
	Regularization float64 `yaml:"regularization" json:"regularization"`
	BatchSize      int     `yaml:"batch_size" json:"batch_size"`
	OnlineLearning bool    `yaml:"online_learning" json:"online_learning"`
}

// RetrievalPerformanceConfig configures retrieval-path resource limits.
type RetrievalPerformanceConfig struct {
	MaxFeatureExtractionTime string `yaml:"max_feature_extraction_time" json:"max_feature_extraction_time"`
	MaxRerankingCandidates   int    `yaml:"max_reranking_candidates" json:"max_reranking_candidates"`
	MaxConcurrentQueries     int    `yaml:"max_concurrent_queries" json:"max_concurrent_queries"`
	MaxMemoryUsage           string `yaml:"max_memory_usage" json:"max_memory_usage"`
	MaxConcurrentOperations  int    `yaml:"max_concurrent_operations" json:"max_concurrent_operations"`
}

// AnalyticsConfig configures query analytics retention and thresholds.
type AnalyticsConfig struct {
	RetentionDays         int     `yaml:"retention_days" json:"retention_days"`
	SlowQueryThreshold    string  `yaml:"slow_query_threshold" json:"slow_query_threshold"`
	LowRelevanceThreshold float64 `yaml:"low_relevance_threshold" json:"low_relevance_threshold"`
}

// DefaultRetrievalConfig returns sensible defaults per spec.md §6.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		MaxTokensPerPack:           5000,
		TokenCountingMethod:        "word",
		MemoryContentPercentage:    0.3,
		KnowledgeContentPercentage: 0.4,
		RealtimeContentPercentage:  0.3,
		MaxGenerationTimeMs:        1000,
		EnableProvenanceTracking:   true,
		EnableContentDeduplication: true,
		EnableAdaptiveOptimization: true,
		EnableMLContentRanking:     false,
		ContentSimilarityThreshold: 0.85,
		MaxDatabaseSize:            1 << 30, // 1GB
		MaxContentLength:           50000,
		BatchSize:                  50,
		QueryCacheSize:             500,
		SnippetCacheSize:           500,
		FacetCacheSize:             100,
	}
}

// DefaultPackCacheConfig returns sensible defaults.
func DefaultPackCacheConfig() PackCacheConfig {
	return PackCacheConfig{
		Enabled:     true,
		Hybrid:      true,
		TTLMinutes:  15,
		MaxSizeMB:   256,
		Compression: false,
		Encryption:  false,
	}
}

// DefaultBanditConfig returns sensible defaults.
func DefaultBanditConfig() BanditConfig {
	return BanditConfig{
		Algorithm:       "epsilon-greedy",
		InitialEpsilon:  0.15,
		EpsilonDecay:    0.995,
		EpsilonFloor:    0.01,
		ConfidenceLevel: 2.0,
		WindowSize:      1000,
	}
}

// DefaultHybridRetrievalConfig returns sensible defaults.
func DefaultHybridRetrievalConfig() HybridRetrievalConfig {
	return HybridRetrievalConfig{
		DefaultMode:        "adaptive",
		ParallelTimeout:    "200ms",
		FusionAlgorithm:    "rrf",
		EnableVectorSearch: false,
	}
}

// DefaultRerankingConfig returns sensible defaults.
func DefaultRerankingConfig() RerankingConfig {
	return RerankingConfig{
		Enabled:        true,
		LearningRate:   0.05,
		Regularization: 0.01,
		BatchSize:      32,
		OnlineLearning: true,
	}
}

// DefaultRetrievalPerformanceConfig returns sensible defaults.
func DefaultRetrievalPerformanceConfig() RetrievalPerformanceConfig {
	return RetrievalPerformanceConfig{
		MaxFeatureExtractionTime: "50ms",
		MaxRerankingCandidates:   200,
		MaxConcurrentQueries:     10,
		MaxMemoryUsage:           "512MB",
		MaxConcurrentOperations:  5,
	}
}

// DefaultAnalyticsConfig returns sensible defaults.
func DefaultAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		RetentionDays:         30,
		SlowQueryThreshold:    "200ms",
		LowRelevanceThreshold: 0.3,
	}
}

// validateRetrievalConfig aggregates all range/enum errors for the
// retrieval-core configuration sections, following the project's
// validate-and-aggregate convention (vs. fail-fast on first error).
func validateRetrievalConfig(c *Config) []error {
	var errs []error

	if c.Retrieval.MaxTokensPerPack <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.max_tokens_per_pack must be positive, got %d", c.Retrieval.MaxTokensPerPack))
	}
	validCounting := map[string]bool{"character": true, "word": true, "code-aware": true}
	if !validCounting[c.Retrieval.TokenCountingMethod] {
		errs = append(errs, fmt.Errorf("retrieval.token_counting_method must be 'character', 'word', or 'code-aware', got %q", c.Retrieval.TokenCountingMethod))
	}
	if c.Retrieval.MaxGenerationTimeMs <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.max_generation_time_ms must be positive, got %d", c.Retrieval.MaxGenerationTimeMs))
	}
	for _, pct := range []struct {
		name string
		val  float64
	}{
		{"retrieval.memory_content_percentage", c.Retrieval.MemoryContentPercentage},
		{"retrieval.knowledge_content_percentage", c.Retrieval.KnowledgeContentPercentage},
		{"retrieval.realtime_content_percentage", c.Retrieval.RealtimeContentPercentage},
		{"retrieval.content_similarity_threshold", c.Retrieval.ContentSimilarityThreshold},
	} {
		if pct.val < 0 || pct.val > 1 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 1, got %f", pct.name, pct.val))
		}
	}

	validAlgo := map[string]bool{"epsilon-greedy": true, "ucb": true}
	if !validAlgo[c.Bandit.Algorithm] {
		errs = append(errs, fmt.Errorf("bandit.algorithm must be 'epsilon-greedy' or 'ucb', got %q", c.Bandit.Algorithm))
	}
	if c.Bandit.InitialEpsilon < 0 || c.Bandit.InitialEpsilon > 1 {
		errs = append(errs, fmt.Errorf("bandit.initial_epsilon must be between 0 and 1, got %f", c.Bandit.InitialEpsilon))
	}
	if c.Bandit.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("bandit.window_size must be positive, got %d", c.Bandit.WindowSize))
	}

	validMode := map[string]bool{"parallel": true, "cascade": true, "adaptive": true, "ensemble": true}
	if !validMode[c.Hybrid.DefaultMode] {
		errs = append(errs, fmt.Errorf("hybrid.default_mode must be one of parallel/cascade/adaptive/ensemble, got %q", c.Hybrid.DefaultMode))
	}
	validFusion := map[string]bool{"rrf": true, "borda": true, "weighted": true, "ltr": true}
	if !validFusion[c.Hybrid.FusionAlgorithm] {
		errs = append(errs, fmt.Errorf("hybrid.fusion_algorithm must be one of rrf/borda/weighted/ltr, got %q", c.Hybrid.FusionAlgorithm))
	}

	if c.Reranking.LearningRate <= 0 || c.Reranking.LearningRate >= 1 {
		errs = append(errs, fmt.Errorf("reranking.learning_rate must be in (0,1), got %f", c.Reranking.LearningRate))
	}

	if c.RetrievalPerformance.MaxConcurrentQueries <= 0 {
		errs = append(errs, fmt.Errorf("performance_retrieval.max_concurrent_queries must be positive, got %d", c.RetrievalPerformance.MaxConcurrentQueries))
	}
	if c.RetrievalPerformance.MaxConcurrentOperations <= 0 {
		errs = append(errs, fmt.Errorf("performance_retrieval.max_concurrent_operations must be positive, got %d", c.RetrievalPerformance.MaxConcurrentOperations))
	}

	if c.Analytics.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("analytics.retention_days must be non-negative, got %d", c.Analytics.RetentionDays))
	}

	return errs
}

// applyRetrievalEnvOverrides applies RETRIEVALCORE_* overrides for the
// retrieval-core sections.
func applyRetrievalEnvOverrides(c *Config, getenv func(string) string) {
	if v := getenv("RETRIEVALCORE_MAX_TOKENS_PER_PACK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.MaxTokensPerPack = n
		}
	}
	if v := getenv("RETRIEVALCORE_TOKEN_COUNTING_METHOD"); v != "" {
		c.Retrieval.TokenCountingMethod = strings.ToLower(v)
	}
	if v := getenv("RETRIEVALCORE_BANDIT_ALGORITHM"); v != "" {
		c.Bandit.Algorithm = strings.ToLower(v)
	}
	if v := getenv("RETRIEVALCORE_HYBRID_MODE"); v != "" {
		c.Hybrid.DefaultMode = strings.ToLower(v)
	}
	if v := getenv("RETRIEVALCORE_HYBRID_FUSION"); v != "" {
		c.Hybrid.FusionAlgorithm = strings.ToLower(v)
	}
	if v := getenv("RETRIEVALCORE_CACHE_ENABLED"); v != "" {
		c.PackCache.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
}
