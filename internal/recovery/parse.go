// Package recovery extracts records from LLM output that was meant to be a
// JSON array but may be fenced, narrated, truncated or slightly malformed.
package recovery

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// Strategy identifies which recovery step produced the records.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyFenceDirect
	StrategyBoundary
	StrategyRepair
	StrategyObjectScan
	StrategyPatternSalvage
)

func (s Strategy) String() string {
	switch s {
	case StrategyFenceDirect:
		return "fence_direct"
	case StrategyBoundary:
		return "boundary"
	case StrategyRepair:
		return "repair"
	case StrategyObjectScan:
		return "object_scan"
	case StrategyPatternSalvage:
		return "pattern_salvage"
	default:
		return "none"
	}
}

const sampleLen = 200

// ParseError means no strategy recovered a single record.
type ParseError struct {
	Sample string
	Length int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("recovery: no records recovered from %d chars: %q", e.Length, e.Sample)
}

func newParseError(raw string) *ParseError {
	sample := raw
	if len(sample) > sampleLen {
		n := sampleLen
		for n > 0 && !utf8.RuneStart(sample[n]) {
			n--
		}
		sample = sample[:n]
	}
	return &ParseError{Sample: sample, Length: len(raw)}
}

// Parse recovers every record of shape from raw. Strategies run in order
// and the first that yields at least one record wins. It returns a
// *ParseError only when nothing at all can be recovered.
func Parse(raw string, shape Shape) ([]map[string]any, Strategy, error) {
	strategies := []struct {
		id Strategy
		fn func(string, Shape) []map[string]any
	}{
		{StrategyFenceDirect, fenceDirect},
		{StrategyBoundary, boundary},
		{StrategyRepair, repair},
		{StrategyObjectScan, objectScan},
		{StrategyPatternSalvage, patternSalvage},
	}
	for _, s := range strategies {
		if recs := s.fn(raw, shape); len(recs) > 0 {
			return recs, s.id, nil
		}
	}
	return nil, StrategyNone, newParseError(raw)
}

// ParseObject recovers a single record, for responses that are one object
// rather than a list.
func ParseObject(raw string, shape Shape) (map[string]any, error) {
	recs, _, err := Parse(raw, shape)
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// ParseInto recovers records and decodes them into T.
func ParseInto[T any](raw string, shape Shape) ([]T, Strategy, error) {
	recs, strategy, err := Parse(raw, shape)
	if err != nil {
		return nil, strategy, err
	}
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		b, err := json.Marshal(r)
		if err != nil {
			return nil, strategy, eris.Wrap(err, "recovery: re-encode record")
		}
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, strategy, newParseError(raw)
	}
	return out, strategy, nil
}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n?(.*?)(?:```|$)")

// stripFences returns the body of the first Markdown code fence, or the
// trimmed text when there is none. An unterminated fence runs to the end.
func stripFences(raw string) string {
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

func fenceDirect(raw string, shape Shape) []map[string]any {
	return decode(stripFences(raw), shape)
}

func boundary(raw string, shape Shape) []map[string]any {
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start < 0 || end <= start {
		return nil
	}
	return decode(raw[start:end+1], shape)
}

// decode parses text as JSON and collects accepted records.
func decode(text string, shape Shape) []map[string]any {
	if text == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil
	}
	return collect(v, shape)
}

// collect accepts a bare array, a single record, or an object wrapping one
// array of records such as {"qaPairs": [...]}.
func collect(v any, shape Shape) []map[string]any {
	switch t := v.(type) {
	case []any:
		return filter(t, shape)
	case map[string]any:
		if rec, ok := shape.coerce(t); ok {
			return []map[string]any{rec}
		}
		for _, val := range t {
			if arr, ok := val.([]any); ok {
				if recs := filter(arr, shape); len(recs) > 0 {
					return recs
				}
			}
		}
	}
	return nil
}

func filter(items []any, shape Shape) []map[string]any {
	var out []map[string]any
	for _, item := range items {
		if rec, ok := shape.coerce(item); ok {
			out = append(out, rec)
		}
	}
	return out
}
