package rerank

import (
	"context"
	"math"

	"github.com/kailas-cloud/itemrec/internal/index"
	"github.com/kailas-cloud/itemrec/internal/textproc"
)

// Scorer computes one relevance score per document for a query, in document order.
type Scorer interface {
	Name() string
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// statsBinder is implemented by scorers that use corpus statistics of the live snapshot.
type statsBinder interface {
	bind(lex *index.Lexical) Scorer
}

func bindStats(s Scorer, lex *index.Lexical) Scorer {
	if b, ok := s.(statsBinder); ok {
		return b.bind(lex)
	}
	return s
}

// Overlap weights.
const (
	overlapUnigramWeight = 0.7
	overlapBigramWeight  = 0.3
)

// Overlap scores by IDF-weighted cosine over unigram term frequencies blended
// with bigram Jaccard. Without corpus statistics every term weighs 1.
type Overlap struct {
	idf func(term string) float64
}

// NewOverlap returns an overlap scorer without corpus statistics.
func NewOverlap() *Overlap { return &Overlap{} }

// Name implements Scorer.
func (o *Overlap) Name() string { return "overlap" }

func (o *Overlap) bind(lex *index.Lexical) Scorer {
	if lex == nil {
		return o
	}
	return &Overlap{idf: lex.IDF}
}

// Score implements Scorer. It never fails.
func (o *Overlap) Score(_ context.Context, query string, docs []string) ([]float64, error) {
	qTokens := textproc.Tokenize(query)
	qVec := o.weigh(textproc.TermFreq(qTokens))
	qBigrams := set(textproc.Bigrams(qTokens))

	out := make([]float64, len(docs))
	for i, doc := range docs {
		tokens := textproc.Tokenize(doc)
		uni := cosine(qVec, o.weigh(textproc.TermFreq(tokens)))
		bi := jaccard(qBigrams, set(textproc.Bigrams(tokens)))
		out[i] = overlapUnigramWeight*uni + overlapBigramWeight*bi
	}
	return out, nil
}

func (o *Overlap) weigh(tf map[string]int) map[string]float64 {
	out := make(map[string]float64, len(tf))
	for term, n := range tf {
		w := 1.0
		if o.idf != nil {
			w = o.idf(term)
		}
		out[term] = float64(n) * w
	}
	return out
}

func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dotp, na, nb float64
	for t, x := range a {
		na += x * x
		if y, ok := b[t]; ok {
			dotp += x * y
		}
	}
	for _, y := range b {
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dotp / (math.Sqrt(na) * math.Sqrt(nb))
}

func set(xs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		out[x] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for x := range a {
		if _, ok := b[x]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
