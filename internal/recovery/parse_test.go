package recovery

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var qaShape = NewShape(String("question"), String("answer"), Bool("isCorrect"), Number("confidence").Opt())

func TestParse_Strategies(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     int
		strategy Strategy
		answer   string
	}{
		{
			name:     "clean array",
			raw:      `[{"question":"Q1","answer":"A1","isCorrect":true},{"question":"Q2","answer":"A2","isCorrect":false}]`,
			want:     2,
			strategy: StrategyFenceDirect,
		},
		{
			name:     "fenced",
			raw:      "```json\n[{\"question\":\"Q1\",\"answer\":\"A1\",\"isCorrect\":true}]\n```",
			want:     1,
			strategy: StrategyFenceDirect,
		},
		{
			name:     "wrapped in object",
			raw:      `{"qaPairs":[{"question":"Q1","answer":"A1","isCorrect":true}]}`,
			want:     1,
			strategy: StrategyFenceDirect,
		},
		{
			name:     "narration around array",
			raw:      "Sure! Here are the pairs:\n[{\"question\":\"Q1\",\"answer\":\"A1\",\"isCorrect\":true}]\nLet me know if you need more.",
			want:     1,
			strategy: StrategyBoundary,
		},
		{
			name:     "trailing comma",
			raw:      `[{"question":"Q1","answer":"A1","isCorrect":true,},{"question":"Q2","answer":"A2","isCorrect":true},]`,
			want:     2,
			strategy: StrategyRepair,
		},
		{
			name:     "truncated mid record",
			raw:      `[{"question":"Q1","answer":"A1","isCorrect":true},{"question":"Q2","answer":"A2","isCorrect":false},{"question":"Q3","ans`,
			want:     2,
			strategy: StrategyRepair,
		},
		{
			name:     "comma before bracket inside string",
			raw:      `[{"question":"List?","answer":"a, ]","isCorrect":true},{"question":"q2","ans`,
			want:     1,
			strategy: StrategyRepair,
			answer:   "a, ]",
		},
		{
			name:     "truncated inside string",
			raw:      "```json\n{\"qaPairs\": [{\"question\":\"Q1\",\"answer\":\"A1\",\"isCorrect\":true},{\"question\":\"Q2\",\"answer\":\"An unfinished",
			want:     1,
			strategy: StrategyRepair,
		},
		{
			name:     "objects without array",
			raw:      "1. {\"question\":\"Q1\",\"answer\":\"A1\",\"isCorrect\":true}\n2. {\"question\":\"Q2\",\"answer\":\"uses {braces} inside\",\"isCorrect\":true}\nand more text ]",
			want:     2,
			strategy: StrategyObjectScan,
		},
		{
			name:     "pattern salvage",
			raw:      `"question": "Q1", "answer": "A1", "isCorrect": true ;; "question": "Q2", "answer": "A2", "isCorrect": "false"`,
			want:     2,
			strategy: StrategyPatternSalvage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, strategy, err := Parse(tt.raw, qaShape)
			require.NoError(t, err)
			assert.Len(t, recs, tt.want)
			assert.Equal(t, tt.strategy, strategy, "strategy %s", strategy)
			if tt.answer != "" {
				require.NotEmpty(t, recs)
				assert.Equal(t, tt.answer, recs[0]["answer"])
			}
			for _, r := range recs {
				assert.NotEmpty(t, strings.TrimSpace(r["question"].(string)))
				assert.NotEmpty(t, strings.TrimSpace(r["answer"].(string)))
				_, isBool := r["isCorrect"].(bool)
				assert.True(t, isBool)
			}
		})
	}
}

func TestParse_FiltersInvalidRecords(t *testing.T) {
	raw := `[{"question":"  ","answer":"A","isCorrect":true},{"question":"Q","answer":"A","isCorrect":"yes"},{"question":"Q2","answer":"A2","isCorrect":"TRUE","confidence":"0.8"}]`
	recs, _, err := Parse(raw, qaShape)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Q2", recs[0]["question"])
	assert.Equal(t, true, recs[0]["isCorrect"])
	assert.InDelta(t, 0.8, recs[0]["confidence"], 0.0001)
}

func TestParse_NothingRecoverable(t *testing.T) {
	raw := strings.Repeat("I could not generate any questions. ", 20)
	_, strategy, err := Parse(raw, qaShape)
	require.Error(t, err)
	assert.Equal(t, StrategyNone, strategy)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Len(t, pe.Sample, 200)
	assert.Equal(t, len(raw), pe.Length)
}

func TestParse_SampleEndsOnRuneBoundary(t *testing.T) {
	raw := "x" + strings.Repeat("é", 150)
	_, _, err := Parse(raw, qaShape)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.True(t, utf8.ValidString(pe.Sample))
	assert.Len(t, pe.Sample, 199)
}

func TestParse_NeverPanics(t *testing.T) {
	inputs := []string{
		"", "[", "]", "{", "}", `"`, `\`, "```", "```json", "[{]", "{[}]", `[{"question":"\`,
		`{"a":{"b":{"c":[[[`, "\x00\x01[{\x02}]", `[{"question": "q", "answer": "a", "isCorrect": tr`,
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { _, _, _ = Parse(in, qaShape) }, "input %q", in)
	}
}

func TestParseObject(t *testing.T) {
	shape := NewShape(Bool("valid"), Number("confidence"), String("reasoning").Opt())
	rec, err := ParseObject("Verdict:\n```json\n{\"valid\": true, \"confidence\": 0.85, \"reasoning\": \"matches source\"}\n```", shape)
	require.NoError(t, err)
	assert.Equal(t, true, rec["valid"])
	assert.InDelta(t, 0.85, rec["confidence"], 0.0001)
}

func TestParseInto(t *testing.T) {
	type pair struct {
		Question  string  `json:"question"`
		Answer    string  `json:"answer"`
		IsCorrect bool    `json:"isCorrect"`
		Conf      float64 `json:"confidence"`
	}
	got, strategy, err := ParseInto[pair](`[{"question":"Q","answer":"A","isCorrect":"false","confidence":0.3}`, qaShape)
	require.NoError(t, err)
	assert.Equal(t, StrategyRepair, strategy)
	require.Len(t, got, 1)
	assert.Equal(t, pair{Question: "Q", Answer: "A", IsCorrect: false, Conf: 0.3}, got[0])
}

func TestShape_WithSchema(t *testing.T) {
	shape, err := NewShape(String("theme")).WithSchema(`{
		"type": "object",
		"properties": {"theme": {"type": "string", "maxLength": 10}},
		"required": ["theme"]
	}`)
	require.NoError(t, err)

	assert.True(t, shape.Accepts(map[string]any{"theme": "short"}))
	assert.False(t, shape.Accepts(map[string]any{"theme": "far too long for this"}))

	_, err = NewShape().WithSchema(`{not json`)
	assert.Error(t, err)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `[1]`, stripFences("```json\n[1]\n```"))
	assert.Equal(t, `[1]`, stripFences("```\n[1]"))
	assert.Equal(t, `[1]`, stripFences("  [1]  "))
}

func TestDropTrailingCommas(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`[1,2,]`, `[1,2]`},
		{`{"a":1 , }`, `{"a":1  }`},
		{`[{"a":"x, ]"},]`, `[{"a":"x, ]"}]`},
		{`[{"a":"say \"hi,}\""},]`, `[{"a":"say \"hi,}\""}]`},
		{`{"a":"x,"}`, `{"a":"x,"}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dropTrailingCommas(tt.in), "dropTrailingCommas(%q)", tt.in)
	}
}

func TestBalance(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`[{"a":1},{"a":`, `[{"a":1}]`},
		{`{"k":[{"a":1},{"a":2`, `{"k":[{"a":1}]}`},
		{`[{"a":"x`, `[{"a":"x"}]`},
		{`[{"a":"x",`, `[{"a":"x"}]`},
		{`[{"a":"x","b"`, `[{"a":"x"}]`},
		{`[1,2]`, `[1,2]`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, balance(tt.in), "balance(%q)", tt.in)
	}
}
