package index

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/kailas-cloud/itemrec/internal/domain"
)

// Artifact layout:
//
//	magic "IREC" | format version uint32 LE | sha256(payload) | payload length uint64 LE | msgpack payload
const (
	artifactMagic   = "IREC"
	artifactVersion = uint32(1)
	headerSize      = 4 + 4 + sha256.Size + 8
)

type artifactItem struct {
	ID     string    `msgpack:"id"`
	Text   string    `msgpack:"text"`
	Vector []float32 `msgpack:"vector,omitempty"`
}

type artifactPayload struct {
	Manifest   Manifest       `msgpack:"manifest"`
	HasDense   bool           `msgpack:"has_dense"`
	HasLexical bool           `msgpack:"has_lexical"`
	Items      []artifactItem `msgpack:"items"`
}

// Encode writes s as a self-checking artifact.
func Encode(w io.Writer, s *Snapshot) error {
	p := artifactPayload{
		Manifest:   s.manifest,
		HasDense:   s.dense != nil,
		HasLexical: s.lexical != nil,
		Items:      make([]artifactItem, 0, len(s.docs)),
	}
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		it := artifactItem{ID: id, Text: s.docs[id]}
		if s.dense != nil {
			it.Vector, _ = s.dense.Vector(id)
		}
		p.Items = append(p.Items, it)
	}

	payload, err := msgpack.Marshal(&p)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	sum := sha256.Sum256(payload)

	var hdr [headerSize]byte
	copy(hdr[0:4], artifactMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], artifactVersion)
	copy(hdr[8:8+sha256.Size], sum[:])
	binary.LittleEndian.PutUint64(hdr[8+sha256.Size:], uint64(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write artifact header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write artifact payload: %w", err)
	}
	return nil
}

// EncodeBytes is Encode into memory.
func EncodeBytes(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads and verifies an artifact and rebuilds its indexes.
// When expect is non-nil and the artifact has a dense index, the recorded
// encoder identity must match it exactly.
func Decode(data []byte, expect *domain.EncoderInfo) (*Snapshot, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("artifact too short (%d bytes): %w", len(data), domain.ErrCorruptArtifact)
	}
	if string(data[0:4]) != artifactMagic {
		return nil, fmt.Errorf("bad artifact magic %q: %w", data[0:4], domain.ErrCorruptArtifact)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != artifactVersion {
		return nil, fmt.Errorf("unsupported artifact version %d (want %d): %w", v, artifactVersion, domain.ErrCorruptArtifact)
	}
	size := binary.LittleEndian.Uint64(data[8+sha256.Size : headerSize])
	payload := data[headerSize:]
	if uint64(len(payload)) != size {
		return nil, fmt.Errorf("artifact payload is %d bytes, header says %d: %w", len(payload), size, domain.ErrCorruptArtifact)
	}
	if sum := sha256.Sum256(payload); !bytes.Equal(sum[:], data[8:8+sha256.Size]) {
		return nil, fmt.Errorf("artifact checksum mismatch: %w", domain.ErrCorruptArtifact)
	}

	var p artifactPayload
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode artifact payload: %v: %w", err, domain.ErrCorruptArtifact)
	}
	if p.HasDense && expect != nil && p.Manifest.Encoder != *expect {
		return nil, fmt.Errorf("artifact built with %s, running encoder is %s: %w",
			p.Manifest.Encoder, *expect, domain.ErrEncoderMismatch)
	}

	docs := make(map[string]string, len(p.Items))
	var dense *Dense
	var lexical *Lexical
	var err error
	if p.HasDense {
		entries := make([]DenseEntry, len(p.Items))
		for i, it := range p.Items {
			entries[i] = DenseEntry{ID: it.ID, Vector: it.Vector}
		}
		if dense, err = BuildDense(p.Manifest.Encoder, p.Manifest.Metric, entries); err != nil {
			return nil, fmt.Errorf("restore dense index: %w", err)
		}
	}
	if p.HasLexical {
		ldocs := make([]LexicalDoc, len(p.Items))
		for i, it := range p.Items {
			ldocs[i] = LexicalDoc{ID: it.ID, Text: it.Text}
		}
		if lexical, err = BuildLexical(ldocs, p.Manifest.BM25); err != nil {
			return nil, fmt.Errorf("restore lexical index: %w", err)
		}
	}
	for _, it := range p.Items {
		docs[it.ID] = it.Text
	}

	s, err := NewSnapshot(p.Manifest, dense, lexical, docs)
	if err != nil {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	return s, nil
}
