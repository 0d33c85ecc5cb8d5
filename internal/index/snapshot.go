package index

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/itemrec/internal/domain"
)

// Manifest describes how a snapshot was built.
type Manifest struct {
	ID         string             `msgpack:"id" json:"id"`
	Deployment string             `msgpack:"deployment" json:"deployment"`
	Encoder    domain.EncoderInfo `msgpack:"encoder" json:"encoder"`
	Metric     Metric             `msgpack:"metric" json:"metric"`
	BM25       BM25Params         `msgpack:"bm25" json:"bm25"`
	ItemCount  int                `msgpack:"item_count" json:"item_count"`
	Skipped    int                `msgpack:"skipped" json:"skipped"`
	BuiltAt    time.Time          `msgpack:"built_at" json:"built_at"`
}

// Snapshot is an immutable set of indexes over one corpus version.
// Either index may be nil when its backend is not configured.
type Snapshot struct {
	manifest Manifest
	dense    *Dense
	lexical  *Lexical
	docs     map[string]string
}

// NewSnapshot bundles built indexes with the normalized documents they were built from.
// The id and item count in the manifest are filled in.
func NewSnapshot(m Manifest, dense *Dense, lexical *Lexical, docs map[string]string) (*Snapshot, error) {
	if dense == nil && lexical == nil {
		return nil, fmt.Errorf("snapshot: no index built: %w", domain.ErrIndexUnavailable)
	}
	if dense != nil {
		if dense.Info() != m.Encoder {
			return nil, fmt.Errorf("snapshot: dense index built with %s, manifest says %s: %w",
				dense.Info(), m.Encoder, domain.ErrEncoderMismatch)
		}
		m.Metric = dense.Metric()
	}
	if lexical != nil {
		m.BM25 = lexical.Params()
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.BuiltAt.IsZero() {
		m.BuiltAt = time.Now().UTC()
	}
	m.ItemCount = len(docs)
	return &Snapshot{manifest: m, dense: dense, lexical: lexical, docs: docs}, nil
}

// Manifest returns the build metadata.
func (s *Snapshot) Manifest() Manifest { return s.manifest }

// ID returns the snapshot identifier.
func (s *Snapshot) ID() string { return s.manifest.ID }

// Dense returns the dense index or nil.
func (s *Snapshot) Dense() *Dense { return s.dense }

// Lexical returns the lexical index or nil.
func (s *Snapshot) Lexical() *Lexical { return s.lexical }

// Document returns the normalized text of an indexed item.
func (s *Snapshot) Document(id string) (string, bool) {
	d, ok := s.docs[id]
	return d, ok
}

// Len returns the number of indexed items.
func (s *Snapshot) Len() int { return len(s.docs) }

// IDs returns the indexed item ids in ascending order.
func (s *Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Holder publishes the current snapshot to readers.
// Readers Load once per request and keep that snapshot until they finish.
type Holder struct {
	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex
}

// Load returns the live snapshot or nil before the first build.
func (h *Holder) Load() *Snapshot { return h.current.Load() }

// Store publishes s and returns the replaced snapshot.
func (h *Holder) Store(s *Snapshot) *Snapshot {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.current.Swap(s)
}

// Rebuild runs build under the writer lock and publishes its result.
// On error the live snapshot stays in place.
func (h *Holder) Rebuild(build func(prev *Snapshot) (*Snapshot, error)) (*Snapshot, error) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	next, err := build(h.current.Load())
	if err != nil {
		return nil, err
	}
	h.current.Store(next)
	return next, nil
}
