package analyze

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/vulnforge/vulnforge/internal/errors"
)

// ErrNoUsableText indicates the corpus produced no vocabulary at all
var ErrNoUsableText = errors.ErrInvalidInput

const defaultMaxFeatures = 5000

var tokenPattern = regexp.MustCompile(`[a-z0-9][a-z0-9_]+`)

// Vectorizer turns a description corpus into L2-normalized tf-idf vectors
// over unigrams and bigrams, with English stop words removed and the
// vocabulary capped by corpus frequency.
type Vectorizer struct {
	MaxFeatures int
}

// Vectorize returns one sparse vector per document. Documents without any
// in-vocabulary term get an empty vector, not an error; only a corpus with
// no usable terms at all fails.
func (v *Vectorizer) Vectorize(docs []string) ([]map[int]float64, error) {
	maxFeatures := v.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = defaultMaxFeatures
	}

	tokenized := make([][]string, len(docs))
	termTotals := make(map[string]int)
	for i, doc := range docs {
		terms := ngrams(tokenize(doc))
		tokenized[i] = terms
		for _, term := range terms {
			termTotals[term]++
		}
	}
	if len(termTotals) == 0 {
		return nil, errors.NewPermanentf("corpus has no usable terms: %w", ErrNoUsableText)
	}

	vocabulary := capVocabulary(termTotals, maxFeatures)

	// Document frequency per vocabulary term
	df := make([]int, len(vocabulary))
	index := make(map[string]int, len(vocabulary))
	for i, term := range vocabulary {
		index[term] = i
	}
	for _, terms := range tokenized {
		seen := make(map[int]bool)
		for _, term := range terms {
			if i, ok := index[term]; ok && !seen[i] {
				seen[i] = true
				df[i]++
			}
		}
	}

	// Smoothed idf: ln((1+n)/(1+df)) + 1
	n := float64(len(docs))
	idf := make([]float64, len(vocabulary))
	for i, d := range df {
		idf[i] = math.Log((1+n)/(1+float64(d))) + 1
	}

	vectors := make([]map[int]float64, len(docs))
	for d, terms := range tokenized {
		vec := make(map[int]float64)
		for _, term := range terms {
			if i, ok := index[term]; ok {
				vec[i] += idf[i]
			}
		}
		normalize(vec)
		vectors[d] = vec
	}
	return vectors, nil
}

// CosineSimilarity of two already-normalized sparse vectors
func CosineSimilarity(a, b map[int]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for i, av := range a {
		dot += av * b[i]
	}
	return dot
}

func tokenize(doc string) []string {
	var tokens []string
	for _, token := range tokenPattern.FindAllString(strings.ToLower(doc), -1) {
		if stopWords[token] {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// ngrams emits every unigram plus bigrams of adjacent surviving tokens
func ngrams(tokens []string) []string {
	terms := make([]string, 0, len(tokens)*2)
	for i, token := range tokens {
		terms = append(terms, token)
		if i+1 < len(tokens) {
			terms = append(terms, token+" "+tokens[i+1])
		}
	}
	return terms
}

// capVocabulary keeps the most frequent terms, ties broken alphabetically
// so the vocabulary is deterministic.
func capVocabulary(totals map[string]int, limit int) []string {
	terms := make([]string, 0, len(totals))
	for term := range totals {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if totals[terms[i]] != totals[terms[j]] {
			return totals[terms[i]] > totals[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > limit {
		terms = terms[:limit]
	}
	sort.Strings(terms)
	return terms
}

func normalize(vec map[int]float64) {
	var sum float64
	for _, value := range vec {
		sum += value * value
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}
