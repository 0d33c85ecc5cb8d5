package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/item"
)

// maxLine bounds one JSONL record; items are capped at item.MaxTextSize anyway.
const maxLine = 4 << 20

type jsonlRecord struct {
	ID     string            `json:"id"`
	Domain string            `json:"domain"`
	Fields map[string]string `json:"fields"`
}

// ReadJSONL reads one {id, domain, fields} object per line. Blank lines are
// skipped; a record without its own domain gets domainTag.
func ReadJSONL(ctx context.Context, r io.Reader, domainTag string) (Corpus, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)

	var c Corpus
	line := 0
	for sc.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return Corpus{}, err
			}
		}
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Corpus{}, fmt.Errorf("line %d: %v: %w", line, err, domain.ErrInvalidInput)
		}
		it, err := item.New(rec.ID, rec.Fields, tagOr(rec.Domain, domainTag))
		if err != nil {
			return Corpus{}, fmt.Errorf("line %d: %w", line, err)
		}
		c.Items = append(c.Items, it)
	}
	if err := sc.Err(); err != nil {
		return Corpus{}, fmt.Errorf("read jsonl: %w", err)
	}
	return c, nil
}
