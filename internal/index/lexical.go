package index

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/textproc"
)

// BM25Params are the Okapi BM25 constants.
type BM25Params struct {
	K1 float64 `msgpack:"k1" json:"k1"`
	B  float64 `msgpack:"b" json:"b"`
}

// DefaultBM25 returns k1=1.2, b=0.75.
func DefaultBM25() BM25Params { return BM25Params{K1: 1.2, B: 0.75} }

// LexicalDoc is one (item id, normalized text) input pair.
type LexicalDoc struct {
	ID   string
	Text string
}

type posting struct {
	doc int32
	tf  int32
}

// Lexical is a BM25 inverted index. Immutable after build.
type Lexical struct {
	params   BM25Params
	ids      []string
	pos      map[string]int
	docLen   []int
	avgLen   float64
	postings map[string][]posting
}

// BuildLexical tokenizes docs and builds the inverted index.
func BuildLexical(docs []LexicalDoc, params BM25Params) (*Lexical, error) {
	if params.K1 <= 0 || params.B < 0 || params.B > 1 {
		return nil, fmt.Errorf("build lexical: invalid bm25 params %+v: %w", params, domain.ErrConfiguration)
	}
	l := &Lexical{
		params:   params,
		ids:      make([]string, 0, len(docs)),
		pos:      make(map[string]int, len(docs)),
		docLen:   make([]int, 0, len(docs)),
		postings: make(map[string][]posting),
	}
	var total int
	for _, d := range docs {
		if d.ID == "" {
			return nil, fmt.Errorf("build lexical: empty item id: %w", domain.ErrInvalidInput)
		}
		if _, dup := l.pos[d.ID]; dup {
			return nil, fmt.Errorf("build lexical: duplicate item id %q: %w", d.ID, domain.ErrInvalidInput)
		}
		idx := len(l.ids)
		l.pos[d.ID] = idx
		l.ids = append(l.ids, d.ID)

		tokens := textproc.Tokenize(d.Text)
		l.docLen = append(l.docLen, len(tokens))
		total += len(tokens)
		for term, tf := range textproc.TermFreq(tokens) {
			l.postings[term] = append(l.postings[term], posting{doc: int32(idx), tf: int32(tf)}) //nolint:gosec // bounded by corpus size
		}
	}
	if len(l.ids) > 0 {
		l.avgLen = float64(total) / float64(len(l.ids))
	}
	return l, nil
}

// Query returns up to k items with a positive BM25 score for text, excluding the exclude id.
func (l *Lexical) Query(text string, k int, exclude string) []Hit {
	if k <= 0 || len(l.ids) == 0 {
		return nil
	}
	qtf := textproc.TermFreq(textproc.Tokenize(text))
	scores := make(map[int32]float64)
	// Fixed term order keeps float sums reproducible across calls.
	for _, term := range slices.Sorted(maps.Keys(qtf)) {
		plist := l.postings[term]
		if len(plist) == 0 {
			continue
		}
		idf := l.idf(len(plist))
		for _, p := range plist {
			scores[p.doc] += float64(qtf[term]) * idf * l.termWeight(p)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for doc, s := range scores {
		id := l.ids[doc]
		if id == exclude || s <= 0 {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: s})
	}
	SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// IDF returns the inverse document frequency of a term; unseen terms get the maximum.
func (l *Lexical) IDF(term string) float64 {
	return l.idf(len(l.postings[term]))
}

// Len returns the number of indexed documents.
func (l *Lexical) Len() int { return len(l.ids) }

// Params returns the BM25 constants.
func (l *Lexical) Params() BM25Params { return l.params }

func (l *Lexical) idf(df int) float64 {
	n := float64(len(l.ids))
	return math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
}

func (l *Lexical) termWeight(p posting) float64 {
	tf := float64(p.tf)
	norm := 1 - l.params.B
	if l.avgLen > 0 {
		norm += l.params.B * float64(l.docLen[p.doc]) / l.avgLen
	}
	return tf * (l.params.K1 + 1) / (tf + l.params.K1*norm)
}
