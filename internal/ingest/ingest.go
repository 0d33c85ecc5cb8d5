// Package ingest reads corpus dumps into items.
package ingest

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/item"
)

// Formats.
const (
	FormatJSONL      = "jsonl"
	FormatMathE      = "mathe"
	FormatDataFinder = "datafinder"
	FormatCroissant  = "croissant"
)

// Formats lists the supported corpus formats.
func Formats() []string {
	return []string{FormatCroissant, FormatDataFinder, FormatJSONL, FormatMathE}
}

// Corpus is a loaded item set plus per-item attribute values usable as ground truth.
type Corpus struct {
	Items      []item.Item
	Attributes map[string][]string
	Skipped    int
}

// Load reads a corpus in the given format from path. Croissant reads a directory
// of metadata files, every other format reads a single file.
func Load(ctx context.Context, format, path, domainTag string) (Corpus, error) {
	if format == FormatCroissant {
		return ReadCroissantDir(ctx, path, domainTag)
	}

	f, err := os.Open(path)
	if err != nil {
		return Corpus{}, fmt.Errorf("open corpus %s: %w", path, err)
	}
	defer f.Close()

	switch format {
	case FormatJSONL:
		return ReadJSONL(ctx, f, domainTag)
	case FormatMathE:
		return ReadMathE(f, tagOr(domainTag, FormatMathE))
	case FormatDataFinder:
		return ReadDataFinder(ctx, f, tagOr(domainTag, FormatDataFinder))
	default:
		return Corpus{}, fmt.Errorf("unknown corpus format %q (want one of %v): %w", format, Formats(), domain.ErrConfiguration)
	}
}

// IsValidFormat reports whether Load understands format.
func IsValidFormat(format string) bool {
	return slices.Contains(Formats(), format)
}

func tagOr(tag, fallback string) string {
	if tag != "" {
		return tag
	}
	return fallback
}
