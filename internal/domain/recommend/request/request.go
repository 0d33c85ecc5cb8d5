package request

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/itemrec/internal/domain"
)

// Limits.
const (
	// MaxTextLength is the maximum ad-hoc query text length in bytes.
	MaxTextLength = 64 << 10
	DefaultPool   = 50
	DefaultN      = 10
)

// Query identifies the item whose related items are sought:
// an indexed item id, or ad-hoc text that is not indexed.
type Query struct {
	itemID string
	text   string
}

// NewItemQuery creates a query for an indexed item.
func NewItemQuery(itemID string) (Query, error) {
	if strings.TrimSpace(itemID) == "" {
		return Query{}, fmt.Errorf("item id is required: %w", domain.ErrInvalidInput)
	}
	return Query{itemID: itemID}, nil
}

// NewTextQuery creates a query for ad-hoc text.
func NewTextQuery(text string) (Query, error) {
	if strings.TrimSpace(text) == "" {
		return Query{}, fmt.Errorf("query text: %w", domain.ErrEmptyText)
	}
	if len(text) > MaxTextLength {
		return Query{}, fmt.Errorf("query text too long (max %d bytes): %w", MaxTextLength, domain.ErrInvalidInput)
	}
	return Query{text: text}, nil
}

// ItemID returns the indexed item id, empty for text queries.
func (q Query) ItemID() string { return q.itemID }

// Text returns the ad-hoc text, empty for item queries.
func (q Query) Text() string { return q.text }

// IsItem reports whether the query references an indexed item.
func (q Query) IsItem() bool { return q.itemID != "" }

// Key returns a stable cache key fragment.
func (q Query) Key() string {
	if q.IsItem() {
		return "id:" + q.itemID
	}
	return "text:" + q.text
}

// Validate rejects the zero Query.
func (q Query) Validate() error {
	if q.itemID == "" && strings.TrimSpace(q.text) == "" {
		return fmt.Errorf("empty query: %w", domain.ErrEmptyText)
	}
	return nil
}

// Sizes is the validated pair (pool size K, result size N).
type Sizes struct {
	Pool    int
	Results int
}

// NewSizes validates K and N against the deployment maximum.
// N > K is a configuration error: re-ranking cannot return more than was generated.
func NewSizes(pool, results, maxPool int) (Sizes, error) {
	if pool <= 0 {
		return Sizes{}, fmt.Errorf("k_pool must be positive, got %d: %w", pool, domain.ErrInvalidInput)
	}
	if results <= 0 {
		return Sizes{}, fmt.Errorf("n_results must be positive, got %d: %w", results, domain.ErrInvalidInput)
	}
	if maxPool > 0 && pool > maxPool {
		return Sizes{}, fmt.Errorf("k_pool %d exceeds maximum %d: %w", pool, maxPool, domain.ErrInvalidInput)
	}
	if results > pool {
		return Sizes{}, fmt.Errorf("n_results %d exceeds k_pool %d: %w", results, pool, domain.ErrConfiguration)
	}
	return Sizes{Pool: pool, Results: results}, nil
}
