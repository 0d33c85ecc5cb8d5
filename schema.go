package itemrec

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

const tagKey = "itemrec"

// schemaMeta holds parsed struct tag metadata, cached per TypedIndex.
type schemaMeta struct {
	typ reflect.Type // struct type for reconstruction
	ptr bool         // T is *struct

	idIdx     int
	domainIdx int // -1 if not present

	// Mapping from struct field index → item field name.
	fields []fieldMapping
}

type fieldMapping struct {
	structIdx int
	name      string
}

// parseSchema reflects on T and extracts itemrec struct tag metadata.
func parseSchema[T any]() (*schemaMeta, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return nil, fmt.Errorf("itemrec: type parameter must be a struct")
	}
	ptr := t.Kind() == reflect.Pointer
	if ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("itemrec: type %s is not a struct", t)
	}

	meta := &schemaMeta{typ: t, ptr: ptr, idIdx: -1, domainIdx: -1}

	seen := make(map[string]string)
	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get(tagKey)
		if tag == "" || tag == "-" {
			continue
		}
		if !f.IsExported() {
			return nil, fmt.Errorf("itemrec: tagged field %s is not exported", f.Name)
		}
		if !supportedKind(f.Type.Kind()) {
			return nil, fmt.Errorf("itemrec: field %s has unsupported type %s", f.Name, f.Type)
		}
		if err := applyTag(meta, i, f.Name, tag, seen); err != nil {
			return nil, err
		}
	}

	if meta.idIdx == -1 {
		return nil, fmt.Errorf("itemrec: no field with `itemrec:\"...,id\"` tag in %s", t)
	}
	return meta, nil
}

// applyTag processes a single struct field's itemrec tag.
func applyTag(meta *schemaMeta, idx int, fieldName, tag string, seen map[string]string) error {
	name, modifier, _ := strings.Cut(tag, ",")

	switch modifier {
	case "id":
		if meta.idIdx != -1 {
			return fmt.Errorf("itemrec: duplicate id tag on field %s", fieldName)
		}
		meta.idIdx = idx
		return nil
	case "domain":
		if meta.domainIdx != -1 {
			return fmt.Errorf("itemrec: duplicate domain tag on field %s", fieldName)
		}
		meta.domainIdx = idx
		return nil
	case "":
		// Обычное текстовое поле: участвует в документе.
	default:
		return fmt.Errorf("itemrec: unknown modifier %q on field %s", modifier, fieldName)
	}

	if name == "" {
		return fmt.Errorf("itemrec: empty field name on %s", fieldName)
	}
	if prev, ok := seen[name]; ok {
		return fmt.Errorf("itemrec: field name %q used by both %s and %s", name, prev, fieldName)
	}
	seen[name] = fieldName
	meta.fields = append(meta.fields, fieldMapping{structIdx: idx, name: name})
	return nil
}

func supportedKind(k reflect.Kind) bool {
	switch k {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// toItem converts a typed struct to an Item using schema metadata.
// Zero-valued fields are left out so they do not pollute the document.
func (m *schemaMeta) toItem(v any) Item {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return Item{}
		}
		rv = rv.Elem()
	}

	it := Item{
		ID:     format(rv.Field(m.idIdx)),
		Fields: make(map[string]string, len(m.fields)),
	}
	if m.domainIdx != -1 {
		it.Domain = format(rv.Field(m.domainIdx))
	}
	for _, f := range m.fields {
		fv := rv.Field(f.structIdx)
		if fv.IsZero() {
			continue
		}
		it.Fields[f.name] = format(fv)
	}
	return it
}

// fromItem converts an Item back to a typed struct using schema metadata.
func (m *schemaMeta) fromItem(it Item) (any, error) {
	rv := reflect.New(m.typ).Elem()

	if err := parseInto(rv.Field(m.idIdx), it.ID); err != nil {
		return nil, fmt.Errorf("itemrec: id: %w", err)
	}
	if m.domainIdx != -1 {
		if err := parseInto(rv.Field(m.domainIdx), it.Domain); err != nil {
			return nil, fmt.Errorf("itemrec: domain: %w", err)
		}
	}
	for _, f := range m.fields {
		s, ok := it.Fields[f.name]
		if !ok {
			continue
		}
		if err := parseInto(rv.Field(f.structIdx), s); err != nil {
			return nil, fmt.Errorf("itemrec: field %s: %w", f.name, err)
		}
	}
	if m.ptr {
		return rv.Addr().Interface(), nil
	}
	return rv.Interface(), nil
}

func format(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	default:
		return fmt.Sprint(v.Interface())
	}
}

func parseInto(v reflect.Value, s string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}
