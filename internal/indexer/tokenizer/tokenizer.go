// Package tokenizer turns comment text into index terms. Text is NFKC
// normalised, lower-cased and split on every rune that is neither a letter
// nor a digit; configured stop-words are dropped. Terms are not stemmed.
package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// englishStopWords is the list used by Default.
var englishStopWords = []string{
	"a", "an", "and", "are", "as", "at",
	"be", "by", "for", "from", "has", "he",
	"in", "is", "it", "its", "of", "on",
	"or", "that", "the", "to", "was", "were",
	"will", "with", "this", "but", "they",
	"have", "had", "what", "when", "where",
	"who", "which", "their", "if", "each",
	"do", "not", "no", "so", "can",
}

// Token is a single normalised term and its position among the kept terms.
type Token struct {
	Term     string
	Position int
}

// Analyzer is safe for concurrent use; it is immutable after construction.
type Analyzer struct {
	stopWords map[string]struct{}
}

// New builds an Analyzer dropping the given stop-words. Stop-words are
// normalised the same way as text, so "The" and "the" are equivalent.
func New(stopWords []string) *Analyzer {
	a := &Analyzer{stopWords: make(map[string]struct{}, len(stopWords))}
	for _, w := range stopWords {
		w = normalize(w)
		if w != "" {
			a.stopWords[w] = struct{}{}
		}
	}
	return a
}

// Default returns an Analyzer with the English stop-word list.
func Default() *Analyzer {
	return New(englishStopWords)
}

// Tokenize breaks text into lower-cased tokens with stop-words removed.
func (a *Analyzer) Tokenize(text string) []Token {
	words := split(normalize(text))
	tokens := make([]Token, 0, len(words))
	for _, word := range words {
		if a.IsStopWord(word) {
			continue
		}
		tokens = append(tokens, Token{
			Term:     word,
			Position: len(tokens),
		})
	}
	return tokens
}

// Terms is Tokenize without positions.
func (a *Analyzer) Terms(text string) []string {
	tokens := a.Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}

// IsStopWord reports whether an already-normalised term is dropped.
func (a *Analyzer) IsStopWord(term string) bool {
	_, stop := a.stopWords[term]
	return stop
}

func normalize(text string) string {
	return strings.ToLower(norm.NFKC.String(text))
}

func split(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
