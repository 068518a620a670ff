// Package analyzer turns free text into terms and scores term overlap with
// BM25. It backs the offline cross-encoder and the crawler's relevance filter.
package analyzer

import (
	"strings"
	"unicode"

	"webrag/internal/port"
)

var _ port.Tokenizer = (*Tokenizer)(nil)

// Tokenizer splits text into lowercase terms with stopword removal.
type Tokenizer struct {
	stopwords map[string]struct{}
	minLen    int
}

func NewTokenizer() *Tokenizer {
	return &Tokenizer{
		stopwords: defaultStopwords(),
		minLen:    2,
	}
}

// Tokenize splits text into tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	words := splitWords(text)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		word = strings.ToLower(word)
		if len([]rune(word)) < t.minLen {
			continue
		}
		if _, isStop := t.stopwords[word]; isStop {
			continue
		}
		tokens = append(tokens, word)
	}

	return tokens
}

// TermFrequencies counts each token of text.
func (t *Tokenizer) TermFrequencies(text string) map[string]int {
	tf := make(map[string]int)
	for _, tok := range t.Tokenize(text) {
		tf[tok]++
	}
	return tf
}

// splitWords splits text into words using unicode letter/digit runs.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// defaultStopwords returns a set of common English stopwords.
func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"each", "every", "both", "few", "more", "most", "other",
		"some", "such", "than", "too", "very", "just", "also",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
