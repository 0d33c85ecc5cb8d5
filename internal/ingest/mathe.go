package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/item"
)

type matheEntry struct {
	ID       string `json:"id"`
	Contents string `json:"contents"`
}

// ReadMathE reads an OCR dump of teaching materials ([{id, contents}]).
// Only numerically named PDFs are kept; the item id is the file name ("962.pdf").
// Materials without OCR text are counted as skipped.
func ReadMathE(r io.Reader, domainTag string) (Corpus, error) {
	var entries []matheEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return Corpus{}, fmt.Errorf("decode mathe dump: %v: %w", err, domain.ErrInvalidInput)
	}

	var c Corpus
	for _, e := range entries {
		name := path.Base(strings.ReplaceAll(e.ID, "\\", "/"))
		if !isNumericPDF(name) {
			continue
		}
		if strings.TrimSpace(e.Contents) == "" {
			c.Skipped++
			continue
		}
		it, err := item.New(name, map[string]string{"contents": e.Contents}, domainTag)
		if err != nil {
			return Corpus{}, fmt.Errorf("material %s: %w", e.ID, err)
		}
		c.Items = append(c.Items, it)
	}
	return c, nil
}

func isNumericPDF(name string) bool {
	if len(name) <= 4 || !strings.EqualFold(name[len(name)-4:], ".pdf") {
		return false
	}
	for _, r := range name[:len(name)-4] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
