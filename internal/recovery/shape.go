package recovery

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Kind is the JSON type a field must hold.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindNumber
)

// Field describes one property of a record.
type Field struct {
	Name     string
	Kind     Kind
	Optional bool
}

// String declares a required string field.
func String(name string) Field { return Field{Name: name, Kind: KindString} }

// Bool declares a required boolean field.
func Bool(name string) Field { return Field{Name: name, Kind: KindBool} }

// Number declares a required numeric field.
func Number(name string) Field { return Field{Name: name, Kind: KindNumber} }

// Opt marks the field optional.
func (f Field) Opt() Field {
	f.Optional = true
	return f
}

// Shape validates candidate records. Strings must be non-empty after
// trimming. Booleans and numbers quoted as strings are accepted and coerced.
type Shape struct {
	fields []Field
	schema *jsonschema.Schema
}

// NewShape builds a shape from fields in the order they are usually emitted.
func NewShape(fields ...Field) Shape {
	return Shape{fields: fields}
}

// Fields returns the declared fields.
func (s Shape) Fields() []Field { return s.fields }

// WithSchema adds a JSON Schema every record must also satisfy.
func (s Shape) WithSchema(raw string) (Shape, error) {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return s, eris.Wrap(err, "recovery: parse schema")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("record.json", doc); err != nil {
		return s, eris.Wrap(err, "recovery: add schema resource")
	}
	sch, err := compiler.Compile("record.json")
	if err != nil {
		return s, eris.Wrap(err, "recovery: compile schema")
	}
	s.schema = sch
	return s, nil
}

// MustSchema is WithSchema for package-level shapes.
func (s Shape) MustSchema(raw string) Shape {
	out, err := s.WithSchema(raw)
	if err != nil {
		panic(err)
	}
	return out
}

// Accepts reports whether v is a record of this shape.
func (s Shape) Accepts(v any) bool {
	_, ok := s.coerce(v)
	return ok
}

// coerce returns a copy of v with declared fields converted to their kinds.
func (s Shape) coerce(v any) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(obj))
	for k, val := range obj {
		out[k] = val
	}
	for _, f := range s.fields {
		val, present := obj[f.Name]
		if !present || val == nil {
			if f.Optional {
				delete(out, f.Name)
				continue
			}
			return nil, false
		}
		cv, ok := coerceValue(val, f.Kind)
		if !ok {
			if f.Optional {
				delete(out, f.Name)
				continue
			}
			return nil, false
		}
		out[f.Name] = cv
	}
	if s.schema != nil {
		if err := s.schema.Validate(out); err != nil {
			return nil, false
		}
	}
	return out, true
}

func coerceValue(v any, kind Kind) (any, bool) {
	switch kind {
	case KindString:
		str, ok := v.(string)
		if !ok || strings.TrimSpace(str) == "" {
			return nil, false
		}
		return strings.TrimSpace(str), true
	case KindBool:
		switch b := v.(type) {
		case bool:
			return b, true
		case string:
			parsed, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(b)))
			return parsed, err == nil
		}
	case KindNumber:
		switch n := v.(type) {
		case float64:
			return n, true
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			return parsed, err == nil
		}
	}
	return nil, false
}
