package item

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/kailas-cloud/itemrec/internal/domain"
)

// Corpus ids are dataset names like "Penn Treebank" or file names like "962.pdf".
var idRegex = regexp.MustCompile(`^[\p{L}\p{N}_.:/()+&',-]+(?: [\p{L}\p{N}_.:/()+&',-]+)*$`)

// MaxTextSize is the maximum total size of an item's text fields in bytes.
const MaxTextSize = 1 << 20

// Item is the unit of recommendation (immutable value object).
// Re-ingesting the same id replaces the whole item.
type Item struct {
	id     string
	fields map[string]string
	domain string
}

// New validates and creates an Item. Field maps are copied.
// ID: letters, digits, _.:/()+&',- and single inner spaces, 1-256 chars. At least one non-blank field is required.
func New(id string, fields map[string]string, domainTag string) (Item, error) {
	if id == "" {
		return Item{}, fmt.Errorf("item ID is required: %w", domain.ErrInvalidInput)
	}
	if len(id) > 256 {
		return Item{}, fmt.Errorf("item ID too long (max 256): %w", domain.ErrInvalidInput)
	}
	if !idRegex.MatchString(id) {
		return Item{}, fmt.Errorf("item ID %q contains unsupported characters: %w", id, domain.ErrInvalidInput)
	}
	size := 0
	blank := true
	for name, v := range fields {
		if strings.TrimSpace(name) == "" {
			return Item{}, fmt.Errorf("item %s: empty field name: %w", id, domain.ErrInvalidInput)
		}
		size += len(v)
		if strings.TrimSpace(v) != "" {
			blank = false
		}
	}
	if blank {
		return Item{}, fmt.Errorf("item %s: no text fields: %w", id, domain.ErrEmptyText)
	}
	if size > MaxTextSize {
		return Item{}, fmt.Errorf("item %s: text too large (max %d bytes): %w", id, MaxTextSize, domain.ErrInvalidInput)
	}

	return Item{id: id, fields: cloneFields(fields), domain: domainTag}, nil
}

// Reconstruct creates an Item without validation (storage hydration).
func Reconstruct(id string, fields map[string]string, domainTag string) Item {
	return Item{id: id, fields: fields, domain: domainTag}
}

// ID returns the item identifier.
func (i Item) ID() string { return i.id }

// Domain returns the deployment domain tag.
func (i Item) Domain() string { return i.domain }

// Fields returns a copy of the text fields.
func (i Item) Fields() map[string]string { return cloneFields(i.fields) }

// Field returns a single text field.
func (i Item) Field(name string) string { return i.fields[name] }

// Document returns the normalized representation-ready text of the item.
func (i Item) Document() string { return Normalize(i.fields) }

// leadingFields are emitted first, in this order; the rest follow by name.
var leadingFields = []string{"title", "name", "headline", "description", "abstract", "keywords", "tasks", "modalities"}

// FieldOrder returns the deterministic order in which fields are concatenated.
func FieldOrder(fields map[string]string) []string {
	out := make([]string, 0, len(fields))
	for _, name := range leadingFields {
		if _, ok := fields[name]; ok {
			out = append(out, name)
		}
	}
	rest := make([]string, 0, len(fields))
	for name := range fields {
		if !slices.Contains(leadingFields, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	return append(out, rest...)
}

// Normalize concatenates cleaned field values in FieldOrder, one field per line.
// Blank fields are skipped. The result is a pure function of fields.
func Normalize(fields map[string]string) string {
	parts := make([]string, 0, len(fields))
	for _, name := range FieldOrder(fields) {
		if v := NormalizeText(fields[name]); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n")
}

// OCR-переносы вида "learn-\ning" склеиваем обратно.
var hyphenBreak = regexp.MustCompile(`(\p{L})-\s*\n\s*(\p{L})`)

// NormalizeText cleans a single text value: joins hyphenated line breaks,
// drops control characters and collapses whitespace runs.
func NormalizeText(s string) string {
	s = hyphenBreak.ReplaceAllString(s, "$1$2")
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
			continue
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cloneFields(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
