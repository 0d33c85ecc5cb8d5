// Package enrich writes catalog abstracts for sparse dataset metadata with a language model.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/item"
)

// Field is the item field the generated abstract is stored in.
const Field = "enriched_description"

// DefaultConcurrency bounds parallel completion calls.
const DefaultConcurrency = 4

// Completer generates text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Report summarizes one enrichment run.
type Report struct {
	Deployment   string
	Items        int
	Generated    int
	Reused       int
	Failed       map[string]string // item id -> error kind
	Descriptions map[string]string // item id -> abstract, reused ones included
	Took         time.Duration
}

// Service generates abstracts item by item.
type Service struct {
	llm         Completer
	deployment  string
	concurrency int
	logger      *zap.Logger
}

// New creates an enrichment service.
func New(llm Completer, deployment string, concurrency int, logger *zap.Logger) *Service {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Service{llm: llm, deployment: deployment, concurrency: concurrency, logger: logger}
}

// Enrich generates an abstract for every item not in known. A failed item is
// logged and left without one; only cancellation aborts the run.
func (s *Service) Enrich(ctx context.Context, items []item.Item, known map[string]string) (Report, error) {
	start := time.Now()
	rep := Report{
		Deployment:   s.deployment,
		Items:        len(items),
		Failed:       make(map[string]string),
		Descriptions: make(map[string]string, len(items)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, it := range items {
		if d, ok := known[it.ID()]; ok && d != "" {
			rep.Descriptions[it.ID()] = d
			rep.Reused++
			continue
		}
		g.Go(func() error {
			text, err := s.llm.Complete(gctx, Prompt(it))
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return fmt.Errorf("enrich %s: %w", it.ID(), ctxErr)
				}
				s.logger.Warn("enrichment failed",
					zap.String("deployment", s.deployment),
					zap.String("item_id", it.ID()),
					zap.String("kind", domain.KindOf(err)),
					zap.Error(err),
				)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed[it.ID()] = domain.KindOf(err)
				return nil
			}
			rep.Descriptions[it.ID()] = text
			rep.Generated++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}
	rep.Took = time.Since(start)

	s.logger.Info("corpus enriched",
		zap.String("deployment", s.deployment),
		zap.Int("items", rep.Items),
		zap.Int("generated", rep.Generated),
		zap.Int("reused", rep.Reused),
		zap.Int("failed", len(rep.Failed)),
		zap.Duration("took", rep.Took),
	)
	return rep, nil
}

// Apply returns items with their abstract stored in Field. Items without one are returned unchanged.
func Apply(items []item.Item, descriptions map[string]string) ([]item.Item, error) {
	out := make([]item.Item, len(items))
	for i, it := range items {
		d := strings.TrimSpace(descriptions[it.ID()])
		if d == "" {
			out[i] = it
			continue
		}
		fields := it.Fields()
		fields[Field] = d
		enriched, err := item.New(it.ID(), fields, it.Domain())
		if err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				// абстракт раздул текст сверх лимита: оставляем исходный item
				out[i] = it
				continue
			}
			return nil, err
		}
		out[i] = enriched
	}
	return out, nil
}

// Prompt asks for a 100-200 word public abstract built from the item's
// description, headline, formats, record structure, keywords and field of science.
func Prompt(it item.Item) string {
	var b strings.Builder
	b.WriteString("You are given the following metadata about a dataset:\n\n")
	fmt.Fprintf(&b, "Description:\n%s\n\n", it.Field("description"))
	fmt.Fprintf(&b, "Headline:\n%s\n\n", it.Field("headline"))
	if formats := it.Field("formats"); formats != "" {
		fmt.Fprintf(&b, "Encoding format(s): %s\n", formats)
	}
	if s := structureSummary(it.Field("structure")); s != "" {
		fmt.Fprintf(&b, "Structure Summary:\n%s\n", s)
	}
	fmt.Fprintf(&b, "\nKeywords: %s\n", it.Field("keywords"))
	fmt.Fprintf(&b, "Scientific domain: %s\n\n", it.Field("field_of_science"))
	b.WriteString(instructions)
	return b.String()
}

const instructions = `Write a short, well-structured paragraph that could serve as a public-facing abstract for this dataset in a scientific data catalog or registry.
The paragraph should be 100-200 words, in fluent academic English. It should explain:
- What the dataset contains
- Its structure or origin, if applicable (e.g., data format, how it was collected, or which organization produced it)
- Why the dataset is valuable (its potential benefits or advantages)
- Who the dataset is intended for (target users or communities)
- Relevant use cases or application scenarios where the dataset could be effectively used

Use the structure summary only if it helps convey how the data is organized or what types of information are included.
Do not assume the structure summary lists all records and their fields; it is based on a sample (i.e., up to 3 records and 5 fields each).
`

// structureSummary turns "set: f, g; other: h" into one bullet per record set.
func structureSummary(structure string) string {
	if strings.TrimSpace(structure) == "" {
		return ""
	}
	var lines []string
	for part := range strings.SplitSeq(structure, "; ") {
		name, fields, ok := strings.Cut(part, ": ")
		if !ok || name == "" || strings.TrimSpace(fields) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- '%s' with fields: %s", name, fields))
	}
	if len(lines) == 0 {
		return ""
	}
	return "The dataset contains the following records:\n" + strings.Join(lines, "\n")
}
