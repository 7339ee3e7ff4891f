// Package lexer provides the code-aware tokenization shared by the FTS
// Store's ranking and the Feature Extractor's lexical overlap
// features: splitting camelCase/PascalCase/snake_case identifiers into
// lowercase subword tokens and filtering common noise words. It also
// registers a matching Bleve analyzer so BleveStore's full-text index
// tokenizes the same way the SQLite backend's ranking queries do.
package lexer

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

// identifierRegex matches alphanumeric runs (including underscores),
// the unit this package splits further into subword tokens.
var identifierRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// Tokenize splits text with code-aware rules: it isolates identifiers,
// splits each on camelCase/snake_case boundaries, lowercases the
// result, and drops tokens shorter than two characters.
func Tokenize(text string) []string {
	var tokens []string

	for _, word := range identifierRegex.FindAllString(text, -1) {
		for _, t := range SplitIdentifier(word) {
			lower := strings.ToLower(t)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}

	return tokens
}

// SplitIdentifier splits a snake_case or camelCase/PascalCase
// identifier into its constituent words.
func SplitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

// splitCamelCase splits camelCase and PascalCase identifiers,
// including acronym runs: "parseHTTPRequest" -> ["parse", "HTTP", "Request"].
func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// FilterStopWords drops tokens present in stopWords.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordSet converts a stop word list into a lookup set.
func BuildStopWordSet(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

// CodeStopWords lists common programming keywords and placeholder
// identifiers that carry little retrieval signal.
var CodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// Bleve analyzer/tokenizer/filter names registered below.
const (
	CodeAnalyzerName   = "code_analyzer"
	codeTokenizerName  = "code_tokenizer"
	codeStopFilterName = "code_stop"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(codeStopFilterName, codeStopFilterConstructor)
}

// NewBleveAnalyzerMapping builds a Bleve index mapping whose default
// analyzer is the code-aware analyzer registered by this package.
func NewBleveAnalyzerMapping(newMapping func() *mapping.IndexMappingImpl) (*mapping.IndexMappingImpl, error) {
	im := newMapping()
	err := im.AddCustomAnalyzer(CodeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			codeStopFilterName,
		},
	})
	if err != nil {
		return nil, err
	}
	im.DefaultAnalyzer = CodeAnalyzerName
	return im, nil
}

func codeTokenizerConstructor(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveTokenizer{}, nil
}

// bleveTokenizer adapts Tokenize into Bleve's analysis.Tokenizer contract.
type bleveTokenizer struct{}

func (t *bleveTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}

	return result
}

func codeStopFilterConstructor(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveStopFilter{stopWords: BuildStopWordSet(CodeStopWords)}, nil
}

// bleveStopFilter adapts FilterStopWords into Bleve's analysis.TokenFilter contract.
type bleveStopFilter struct {
	stopWords map[string]struct{}
}

func (f *bleveStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
