package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/qaforge/internal/ingest"
	ingestmocks "github.com/sells-group/qaforge/internal/ingest/mocks"
	"github.com/sells-group/qaforge/internal/keypool"
	"github.com/sells-group/qaforge/internal/llm"
	"github.com/sells-group/qaforge/internal/model"
	"github.com/sells-group/qaforge/internal/resilience"
)

// respond produces the text (or error) for the nth call (1-based) of a stage.
type respond func(req llm.Request, n int) (string, error)

// fakeLLM answers requests by stage and records everything it was sent.
type fakeLLM struct {
	mu        sync.Mutex
	handlers  map[string]respond
	grounding []model.GroundingSource
	calls     map[string]int
	reqs      []llm.Request
	excls     []*keypool.Exclusions
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{handlers: make(map[string]respond), calls: make(map[string]int)}
}

func (f *fakeLLM) on(stage Stage, fn respond) *fakeLLM {
	f.handlers[stage.String()] = fn
	return f
}

func (f *fakeLLM) text(stage Stage, s string) *fakeLLM {
	return f.on(stage, func(llm.Request, int) (string, error) { return s, nil })
}

func (f *fakeLLM) fail(stage Stage, err error) *fakeLLM {
	return f.on(stage, func(llm.Request, int) (string, error) { return "", err })
}

func (f *fakeLLM) Do(_ context.Context, req llm.Request, excl *keypool.Exclusions) (*llm.Completion, error) {
	f.mu.Lock()
	f.calls[req.Stage]++
	n := f.calls[req.Stage]
	f.reqs = append(f.reqs, req)
	f.excls = append(f.excls, excl)
	h, ok := f.handlers[req.Stage]
	f.mu.Unlock()

	if !ok {
		return nil, resilience.NewFailure(resilience.KindUnknown, 0, "no handler for stage "+req.Stage, nil)
	}
	text, err := h(req, n)
	if err != nil {
		return nil, err
	}
	c := &llm.Completion{
		Text:     text,
		Provider: req.Provider,
		Model:    "test-model",
		Usage:    model.Usage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150, Calls: 1},
	}
	if req.Wants(llm.ToolWebSearch) {
		c.Grounding = f.grounding
	}
	return c, nil
}

func (f *fakeLLM) count(stage Stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stage.String()]
}

func (f *fakeLLM) requests(stage Stage) []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llm.Request
	for _, r := range f.reqs {
		if r.Stage == stage.String() {
			out = append(out, r)
		}
	}
	return out
}

func promptOf(req llm.Request) string {
	var b strings.Builder
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// qaJSON renders n pairs; every tenth is labeled incorrect.
func qaJSON(prefix string, n int) string {
	recs := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		correct := i%10 != 9
		recs = append(recs, map[string]any{
			"question":   fmt.Sprintf("%s question %d?", prefix, i+1),
			"answer":     fmt.Sprintf("%s answer %d", prefix, i+1),
			"isCorrect":  correct,
			"confidence": 0.9,
		})
	}
	b, _ := json.Marshal(recs)
	return string(b)
}

const themesJSON = `[{"name": "Billing", "description": "Invoices and payments"}, {"name": "Refunds"}]`

func gapsJSON(n int) string {
	recs := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, map[string]any{
			"description":            fmt.Sprintf("uncovered topic %d", i+1),
			"theme":                  "Billing",
			"priority":               "high",
			"suggestedQuestionTypes": []string{"how-to"},
			"relatedConcepts":        []string{"invoices"},
		})
	}
	b, _ := json.Marshal(recs)
	return string(b)
}

func verdictJSON(valid bool, confidence float64) string {
	return fmt.Sprintf(`{"valid": %t, "confidence": %g, "reasoning": "checked against reference"}`, valid, confidence)
}

// sourceText is 1,000 characters of usable content.
var sourceText = strings.Repeat("Invoices are due in thirty days. ", 31)[:1000]

func newCleaner(t *testing.T, texts ...string) *ingestmocks.MockCleaner {
	t.Helper()
	c := ingestmocks.NewMockCleaner(t)
	c.On("Clean", mock.Anything, mock.Anything).Return(texts, nil)
	return c
}

func testSettings() Settings {
	s := DefaultSettings()
	s.InterCallDelay = 0
	s.PairCount = 10
	s.SyntheticPerGap = 2
	return s
}

func textInput() Input {
	return Input{Sources: []ingest.Source{ingest.TextSource("notes", sourceText)}}
}

func testProviders() Providers {
	return Providers{Primary: keypool.Gemini, Secondary: keypool.OpenRouter, Search: keypool.Gemini}
}

// progressLog collects emitted progress.
type progressLog struct {
	mu     sync.Mutex
	events []Progress
}

func (l *progressLog) OnProgress(p Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, p)
}

func (l *progressLog) all() []Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Progress(nil), l.events...)
}
