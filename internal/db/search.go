package db

import (
	"encoding/binary"
	"math"
)

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	Field        string
	Vector       []float32
	K            int
	ReturnFields []string
}

// TextQuery is the input for BM25 text search over one TEXT field.
// Terms are matched as a union; each term is escaped by the store.
type TextQuery struct {
	IndexName    string
	Field        string
	Terms        []string
	TopK         int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
// Score is the raw distance for KNN and the BM25 score for text queries.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}

// EncodeVector encodes v as the little-endian FLOAT32 blob vector fields store.
func EncodeVector(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
