// Package itemrec embeds an item-to-item recommender in a Go program.
//
// A Recommender ingests items (an id plus named text fields), builds a dense
// and a BM25 index over them, and answers "what is related to this item"
// queries with a fused, re-ranked list.
//
// # Low-level API
//
//	rec, _ := itemrec.New(ctx,
//	    itemrec.WithHashingEncoder(256),
//	    itemrec.WithBackends(itemrec.BackendDense, itemrec.BackendLexical),
//	    itemrec.WithScorer(itemrec.ScorerBlend),
//	)
//	defer rec.Close()
//	_, _ = rec.Add(ctx, items...)
//	_, _ = rec.Build(ctx)
//	res, _ := rec.Recommend(ctx, "962.pdf", 5)
//
// # Schema-first API with Go generics
//
//	type Paper struct {
//	    ID       string `itemrec:"id,id"`
//	    Title    string `itemrec:"title"`
//	    Abstract string `itemrec:"abstract"`
//	    Year     int    `itemrec:"year"`
//	}
//
//	idx, _ := itemrec.NewIndex[Paper](rec)
//	_, _ = idx.Add(ctx, papers...)
//	_, _ = rec.Build(ctx)
//	hits, _ := idx.Similar("1706.03762").Limit(5).Do(ctx)
package itemrec
