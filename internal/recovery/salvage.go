package recovery

import (
	"encoding/json"
	"regexp"
	"sort"
)

const valuePattern = `("(?:[^"\\]|\\.)*"|true|false|-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?)`

type fieldMatch struct {
	pos   int
	value any
}

// patternSalvage pulls "field": value pairs straight out of the text and
// groups them into records. Each occurrence of the earliest-appearing field
// starts a new record; the other fields take their first occurrence inside
// that record's span.
func patternSalvage(raw string, shape Shape) []map[string]any {
	fields := shape.Fields()
	if len(fields) == 0 {
		return nil
	}

	matches := make(map[string][]fieldMatch, len(fields))
	anchor := ""
	anchorPos := -1
	for _, f := range fields {
		re := regexp.MustCompile(`"` + regexp.QuoteMeta(f.Name) + `"\s*:\s*` + valuePattern)
		for _, loc := range re.FindAllStringSubmatchIndex(raw, -1) {
			var v any
			if err := json.Unmarshal([]byte(raw[loc[2]:loc[3]]), &v); err != nil {
				continue
			}
			matches[f.Name] = append(matches[f.Name], fieldMatch{pos: loc[0], value: v})
		}
		if m := matches[f.Name]; len(m) > 0 && !f.Optional && (anchorPos < 0 || m[0].pos < anchorPos) {
			anchor, anchorPos = f.Name, m[0].pos
		}
	}
	if anchor == "" {
		return nil
	}

	starts := matches[anchor]
	sort.Slice(starts, func(i, j int) bool { return starts[i].pos < starts[j].pos })

	var out []map[string]any
	for i, st := range starts {
		end := len(raw)
		if i+1 < len(starts) {
			end = starts[i+1].pos
		}
		rec := map[string]any{}
		for _, f := range fields {
			for _, m := range matches[f.Name] {
				if m.pos >= st.pos && m.pos < end {
					rec[f.Name] = m.value
					break
				}
			}
		}
		if coerced, ok := shape.coerce(rec); ok {
			out = append(out, coerced)
		}
	}
	return out
}
