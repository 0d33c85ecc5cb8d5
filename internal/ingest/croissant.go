package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/item"
)

// Structure summary limits.
const (
	maxRecordSets      = 3
	maxFieldsPerRecord = 5
)

type croissantDoc struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Headline       string          `json:"headline"`
	Keywords       json.RawMessage `json:"keywords"`
	FieldOfScience json.RawMessage `json:"fieldOfScience"`
	EncodingFormat string          `json:"encodingFormat"`
	Distribution   []struct {
		EncodingFormat string `json:"encodingFormat"`
	} `json:"distribution"`
	RecordSet []struct {
		Name  string `json:"name"`
		Field []struct {
			Name string `json:"name"`
		} `json:"field"`
	} `json:"recordSet"`
}

// ReadCroissant converts one Croissant metadata document into an item.
func ReadCroissant(id string, r io.Reader, domainTag string) (item.Item, error) {
	var doc croissantDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return item.Item{}, fmt.Errorf("decode croissant %s: %v: %w", id, err, domain.ErrInvalidInput)
	}

	fields := map[string]string{
		"title":       doc.Name,
		"headline":    doc.Headline,
		"description": doc.Description,
	}
	if kw := stringList(doc.Keywords); len(kw) > 0 {
		fields["keywords"] = strings.Join(kw, ", ")
	}
	if fos := stringList(doc.FieldOfScience); len(fos) > 0 {
		fields["field_of_science"] = strings.Join(fos, ", ")
	}
	if formats := doc.formats(); len(formats) > 0 {
		fields["formats"] = strings.Join(formats, ", ")
	}
	if s := doc.structure(); s != "" {
		fields["structure"] = s
	}
	for k, v := range fields {
		if strings.TrimSpace(v) == "" {
			delete(fields, k)
		}
	}
	return item.New(id, fields, domainTag)
}

// formats returns the distinct lower-cased encoding formats.
func (d croissantDoc) formats() []string {
	var out []string
	for _, dist := range d.Distribution {
		if f := strings.ToLower(strings.TrimSpace(dist.EncodingFormat)); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		if f := strings.ToLower(strings.TrimSpace(d.EncodingFormat)); f != "" {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// structure summarizes the first record sets as "set: field, field; set: ...".
func (d croissantDoc) structure() string {
	parts := make([]string, 0, maxRecordSets)
	for _, rs := range d.RecordSet {
		if len(parts) == maxRecordSets {
			break
		}
		names := make([]string, 0, maxFieldsPerRecord)
		for _, f := range rs.Field {
			if len(names) == maxFieldsPerRecord {
				break
			}
			if f.Name != "" {
				names = append(names, f.Name)
			}
		}
		if rs.Name == "" && len(names) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", rs.Name, strings.Join(names, ", ")))
	}
	return strings.Join(parts, "; ")
}

// stringList accepts a string, a list of strings, or a list of {name} objects.
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one = strings.TrimSpace(one); one != "" {
			return []string{one}
		}
		return nil
	}
	var many []json.RawMessage
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil
	}
	var out []string
	for _, m := range many {
		var s string
		if err := json.Unmarshal(m, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var named struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(m, &named); err == nil && strings.TrimSpace(named.Name) != "" {
			out = append(out, strings.TrimSpace(named.Name))
		}
	}
	return out
}

// ReadCroissantDir reads every *.json metadata file in dir; the item id is the
// file name without extension. Files that cannot be parsed are skipped.
func ReadCroissantDir(ctx context.Context, dir, domainTag string) (Corpus, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return Corpus{}, fmt.Errorf("list croissant files: %w", err)
	}
	if len(paths) == 0 {
		return Corpus{}, fmt.Errorf("no croissant metadata in %s: %w", dir, domain.ErrInvalidInput)
	}
	slices.Sort(paths)

	tag := tagOr(domainTag, FormatCroissant)
	var c Corpus
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return Corpus{}, err
		}
		it, err := readCroissantFile(p, tag)
		if err != nil {
			c.Skipped++
			continue
		}
		c.Items = append(c.Items, it)
	}
	return c, nil
}

func readCroissantFile(path, domainTag string) (item.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return item.Item{}, err
	}
	defer f.Close()
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ReadCroissant(id, f, domainTag)
}
