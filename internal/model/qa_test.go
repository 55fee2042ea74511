package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQAPair_Valid(t *testing.T) {
	tests := []struct {
		name string
		pair QAPair
		want bool
	}{
		{"ok", QAPair{Question: "q", Answer: "a", Confidence: 0.5}, true},
		{"blank question", QAPair{Question: "  ", Answer: "a", Confidence: 0.5}, false},
		{"blank answer", QAPair{Question: "q", Answer: "\n", Confidence: 0.5}, false},
		{"confidence above one", QAPair{Question: "q", Answer: "a", Confidence: 1.2}, false},
		{"confidence below zero", QAPair{Question: "q", Answer: "a", Confidence: -0.1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pair.Valid())
		})
	}
}

func TestQAPair_DedupeKey(t *testing.T) {
	a := QAPair{Question: "  What is   Go? "}
	b := QAPair{Question: "what is go?"}
	assert.Equal(t, a.DedupeKey(), b.DedupeKey())
}

func TestDefaultConfidence(t *testing.T) {
	assert.InDelta(t, 0.9, DefaultConfidence(true), 0.001)
	assert.InDelta(t, 0.2, DefaultConfidence(false), 0.001)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-3))
	assert.Equal(t, 1.0, ClampConfidence(7))
	assert.Equal(t, 0.4, ClampConfidence(0.4))
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityHigh, ParsePriority("HIGH"))
	assert.Equal(t, PriorityLow, ParsePriority(" low "))
	assert.Equal(t, PriorityMedium, ParsePriority("medium"))
	assert.Equal(t, PriorityMedium, ParsePriority("urgent"))
	assert.Equal(t, PriorityMedium, ParsePriority(""))
}

func TestUsage_Add(t *testing.T) {
	u := Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, Calls: 1}
	u.Add(Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3, Calls: 1})
	assert.Equal(t, Usage{InputTokens: 11, OutputTokens: 7, TotalTokens: 18, Calls: 2}, u)
}
