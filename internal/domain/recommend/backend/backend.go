package backend

import "fmt"

// Backend is a candidate retrieval backend.
type Backend string

// Retrieval backends.
const (
	// Dense queries the embedding index.
	Dense Backend = "dense"
	// Lexical queries the BM25 index.
	Lexical Backend = "lexical"
)

// IsValid checks if the backend is one of the supported values.
func (b Backend) IsValid() bool {
	return b == Dense || b == Lexical
}

// Parse converts configuration strings into a backend set, dropping duplicates.
func Parse(names []string) ([]Backend, error) {
	out := make([]Backend, 0, len(names))
	seen := make(map[Backend]bool, len(names))
	for _, n := range names {
		b := Backend(n)
		if !b.IsValid() {
			return nil, fmt.Errorf("unknown retrieval backend %q", n)
		}
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out, nil
}
