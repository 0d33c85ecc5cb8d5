package ingest

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/item"
)

const taskPrefix = "this dataset can be used to study the task of"

type dataFinderRecord struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Contents       string          `json:"contents"`
	Year           json.RawMessage `json:"year"`
	StructuredInfo string          `json:"structured_info"`
}

// structuredInfo is what the free-text structured_info blob carries.
type structuredInfo struct {
	Tasks      []string
	Modalities string
	Popularity int // -1 when unknown
}

// parseStructuredInfo extracts tasks, modalities and usage count.
// The first line that is neither a task nor a usage line is the modality line.
func parseStructuredInfo(info string) structuredInfo {
	out := structuredInfo{Popularity: -1}
	modalitySeen := false
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimRight(strings.TrimSpace(line), ".")
		switch {
		case strings.HasPrefix(strings.ToLower(line), taskPrefix):
			raw := strings.ReplaceAll(strings.TrimSpace(line[len(taskPrefix):]), " and ", ",")
			out.Tasks = out.Tasks[:0]
			for _, t := range strings.Split(raw, ",") {
				if t = strings.TrimSpace(t); t != "" {
					out.Tasks = append(out.Tasks, t)
				}
			}
		case strings.Contains(line, "having been used") && strings.Contains(line, "times"):
			_, after, _ := strings.Cut(line, "having been used")
			before, _, _ := strings.Cut(after, "times")
			if n, err := strconv.Atoi(strings.TrimSpace(before)); err == nil {
				out.Popularity = n
			}
		case !modalitySeen:
			out.Modalities = line
			modalitySeen = true
		}
	}
	return out
}

type dataFinderEntry struct {
	rec   dataFinderRecord
	info  structuredInfo
	year  int
	known bool
}

// ReadDataFinder reads the dataset-search corpus JSONL. Entries without a
// description or without tasks are skipped; duplicate ids keep the oldest year
// (unknown years sort last). Tasks become Corpus.Attributes.
func ReadDataFinder(ctx context.Context, r io.Reader, domainTag string) (Corpus, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)

	var entries []dataFinderEntry
	skipped := 0
	line := 0
	for sc.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return Corpus{}, err
			}
		}
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec dataFinderRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Corpus{}, fmt.Errorf("line %d: %v: %w", line, err, domain.ErrInvalidInput)
		}
		info := parseStructuredInfo(rec.StructuredInfo)
		if strings.TrimSpace(rec.Contents) == "" || len(info.Tasks) == 0 || rec.ID == "" {
			skipped++
			continue
		}
		year, known := parseYear(rec.Year)
		entries = append(entries, dataFinderEntry{rec: rec, info: info, year: year, known: known})
	}
	if err := sc.Err(); err != nil {
		return Corpus{}, fmt.Errorf("read datafinder corpus: %w", err)
	}

	slices.SortStableFunc(entries, func(a, b dataFinderEntry) int {
		switch {
		case a.known && !b.known:
			return -1
		case !a.known && b.known:
			return 1
		}
		return cmp.Compare(a.year, b.year)
	})

	c := Corpus{Attributes: make(map[string][]string), Skipped: skipped}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.rec.ID] {
			c.Skipped++
			continue
		}
		seen[e.rec.ID] = true

		fields := map[string]string{
			"title":       e.rec.Title,
			"description": e.rec.Contents,
			"tasks":       strings.Join(e.info.Tasks, ", "),
		}
		if e.info.Modalities != "" {
			fields["modalities"] = e.info.Modalities
		}
		it, err := item.New(e.rec.ID, fields, domainTag)
		if err != nil {
			return Corpus{}, fmt.Errorf("dataset %q: %w", e.rec.ID, err)
		}
		c.Items = append(c.Items, it)
		c.Attributes[e.rec.ID] = e.info.Tasks
	}
	return c, nil
}

// parseYear accepts 2017, "2017" and null.
func parseYear(raw json.RawMessage) (int, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f), true
	}
	return 0, false
}
