package recovery

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

var (
	danglingRe = regexp.MustCompile(`(?:,\s*"(?:[^"\\]|\\.)*"\s*:?|[,:])\s*$`)
)

// repair fixes the usual syntax damage in the JSON region of raw: control
// characters, trailing commas and missing closers from truncation.
func repair(raw string, shape Shape) []map[string]any {
	text := stripFences(raw)
	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return nil
	}
	text = stripControl(text[start:])
	if st := scan(text); len(st.open) == 0 && !st.inString {
		if end := strings.LastIndexAny(text, "]}"); end >= 0 {
			text = text[:end+1]
		}
	}
	return decode(balance(dropTrailingCommas(text)), shape)
}

// stripControl blanks control characters other than ordinary whitespace.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if (r < 0x20 && r != '\n' && r != '\r' && r != '\t') || r == 0x7f {
			return ' '
		}
		return r
	}, s)
}

type scanState struct {
	open     []byte
	inString bool
	// lastClose is the index of the last '}' outside a string, and
	// openAtClose the brackets still open right after it.
	lastClose   int
	openAtClose []byte
}

// scan walks s tracking string and escape state.
func scan(s string) scanState {
	st := scanState{lastClose: -1}
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if st.inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				st.inString = false
			}
			continue
		}
		switch c {
		case '"':
			st.inString = true
		case '{', '[':
			st.open = append(st.open, c)
		case '}', ']':
			if len(st.open) > 0 {
				st.open = st.open[:len(st.open)-1]
			}
			if c == '}' {
				st.lastClose = i
				st.openAtClose = append(st.openAtClose[:0], st.open...)
			}
		}
	}
	return st
}

// balance closes truncated text. When at least one object completed, the
// text is cut back to it so a half-written record is dropped rather than
// guessed at. Otherwise an open string is closed and a dangling key or
// separator removed. Missing closers are then appended in nesting order.
func balance(s string) string {
	st := scan(s)
	if len(st.open) == 0 && !st.inString {
		return s
	}

	open := st.open
	if st.lastClose >= 0 {
		s = s[:st.lastClose+1]
		open = st.openAtClose
	} else {
		if st.inString {
			s += `"`
		}
		s = danglingRe.ReplaceAllString(strings.TrimRight(s, " \t\r\n"), "")
		open = scan(s).open
	}

	var b strings.Builder
	b.WriteString(s)
	for i := len(open) - 1; i >= 0; i-- {
		if open[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return dropTrailingCommas(b.String())
}

// dropTrailingCommas removes commas that directly precede a closing
// bracket. Text inside strings is left alone.
func dropTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inStr, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inStr = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// objectScan finds every complete {...} in raw, ignoring braces inside
// strings, and keeps the outermost ones that satisfy shape.
func objectScan(raw string, shape Shape) []map[string]any {
	type span struct{ start, end int }
	var (
		spans   []span
		opens   []int
		inStr   bool
		escaped bool
	)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			opens = append(opens, i)
		case '}':
			if len(opens) > 0 {
				spans = append(spans, span{opens[len(opens)-1], i + 1})
				opens = opens[:len(opens)-1]
			}
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var out []map[string]any
	covered := -1
	for _, sp := range spans {
		if sp.start < covered {
			continue
		}
		text := dropTrailingCommas(stripControl(raw[sp.start:sp.end]))
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			continue
		}
		if rec, ok := shape.coerce(obj); ok {
			out = append(out, rec)
			covered = sp.end
		}
	}
	return out
}
