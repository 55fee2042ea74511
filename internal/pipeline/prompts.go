package pipeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/sells-group/qaforge/internal/model"
	"github.com/sells-group/qaforge/internal/recovery"
)

// Record shapes the recovery parser checks provider output against.
var (
	themeShape = recovery.NewShape(
		recovery.String("name"),
		recovery.String("description").Opt(),
	)
	qaShape = recovery.NewShape(
		recovery.String("question"),
		recovery.String("answer"),
		recovery.Bool("isCorrect"),
		recovery.Number("confidence").Opt(),
	)
	gapShape = recovery.NewShape(
		recovery.String("description"),
		recovery.String("theme").Opt(),
		recovery.String("priority").Opt(),
	).MustSchema(`{
		"type": "object",
		"properties": {
			"suggestedQuestionTypes": {"type": "array", "items": {"type": "string"}},
			"relatedConcepts": {"type": "array", "items": {"type": "string"}}
		}
	}`)
	verdictShape = recovery.NewShape(
		recovery.Bool("valid"),
		recovery.Number("confidence"),
		recovery.String("reasoning").Opt(),
	)
)

type themeRecord struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type qaRecord struct {
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	IsCorrect  bool     `json:"isCorrect"`
	Confidence *float64 `json:"confidence"`
}

type gapRecord struct {
	Description            string   `json:"description"`
	Theme                  string   `json:"theme"`
	Priority               string   `json:"priority"`
	SuggestedQuestionTypes []string `json:"suggestedQuestionTypes"`
	RelatedConcepts        []string `json:"relatedConcepts"`
}

type verdictRecord struct {
	Valid      bool    `json:"valid"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

const systemPrompt = "You build training datasets for fine-tuning language models. " +
	"Respond with JSON only, no commentary and no Markdown."

func themesPrompt(content string) string {
	return `Identify the main themes of the content below.

Return a JSON array of objects: [{"name": "...", "description": "..."}].
Return between 3 and 10 themes.

CONTENT:
` + content
}

func augmentPrompt(content string, themes []string) string {
	var b strings.Builder
	b.WriteString("Search the web for current, factual information that complements the content below. ")
	b.WriteString("Summarize what you find as plain prose with concrete facts. Do not repeat the content itself.\n\n")
	if len(themes) > 0 {
		b.WriteString("Focus on these themes: " + strings.Join(themes, ", ") + "\n\n")
	}
	b.WriteString("CONTENT:\n")
	b.WriteString(content)
	return b.String()
}

// incorrectCount is how many of n pairs the prompt asks to be incorrect.
func incorrectCount(n int, ratio float64) int {
	return int(math.Round(float64(n) * ratio))
}

func qaPrompt(content string, themes []string, n int, ratio float64, avoid []string) string {
	incorrect := incorrectCount(n, ratio)
	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d question and answer pairs from the content below.\n", n)
	fmt.Fprintf(&b, "%d answers must be correct and %d must be plausible but incorrect.\n", n-incorrect, incorrect)
	b.WriteString("Mark each with isCorrect and give a confidence between 0 and 1.\n")
	if len(themes) > 0 {
		b.WriteString("Cover these themes: " + strings.Join(themes, ", ") + "\n")
	}
	if len(avoid) > 0 {
		b.WriteString("Do not repeat these questions:\n")
		for _, q := range avoid {
			b.WriteString("- " + q + "\n")
		}
	}
	b.WriteString(`
Return a JSON array: [{"question": "...", "answer": "...", "isCorrect": true, "confidence": 0.9}]

CONTENT:
`)
	b.WriteString(content)
	return b.String()
}

func gapPrompt(content string, themes []string, pairs []model.QAPair, maxGaps int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compare the questions below against the content and list up to %d knowledge gaps: ", maxGaps)
	b.WriteString("topics in the content that the questions do not cover well.\n")
	if len(themes) > 0 {
		b.WriteString("Themes: " + strings.Join(themes, ", ") + "\n")
	}
	b.WriteString("\nQUESTIONS:\n")
	for _, p := range pairs {
		b.WriteString("- " + p.Question + "\n")
	}
	b.WriteString(`
Return a JSON array: [{"description": "...", "theme": "...", "priority": "high|medium|low",
"suggestedQuestionTypes": ["..."], "relatedConcepts": ["..."]}]

CONTENT:
`)
	b.WriteString(content)
	return b.String()
}

func contextPrompt(content string, pairs []model.QAPair, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Condense the content below into a factual reference of at most %d characters. ", limit)
	b.WriteString("Keep every fact needed to judge answers to questions like the ones listed. Return plain text.\n\nQUESTIONS:\n")
	for _, p := range pairs {
		b.WriteString("- " + p.Question + "\n")
	}
	b.WriteString("\nCONTENT:\n")
	b.WriteString(content)
	return b.String()
}

func syntheticPrompt(gap model.KnowledgeGap, reference string, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d question and answer pairs that fill this knowledge gap.\n\n", n)
	b.WriteString("GAP: " + gap.Description + "\n")
	if gap.Theme != "" {
		b.WriteString("THEME: " + gap.Theme + "\n")
	}
	if len(gap.SuggestedQuestionTypes) > 0 {
		b.WriteString("QUESTION TYPES: " + strings.Join(gap.SuggestedQuestionTypes, ", ") + "\n")
	}
	if len(gap.RelatedConcepts) > 0 {
		b.WriteString("CONCEPTS: " + strings.Join(gap.RelatedConcepts, ", ") + "\n")
	}
	b.WriteString(`
Answers must be supported by the reference. Mark each with isCorrect and a confidence between 0 and 1.
Return a JSON array: [{"question": "...", "answer": "...", "isCorrect": true, "confidence": 0.9}]

REFERENCE:
`)
	b.WriteString(reference)
	return b.String()
}

func validationPrompt(p model.QAPair, reference string) string {
	claim := "correct"
	if !p.IsCorrect {
		claim = "incorrect"
	}
	return fmt.Sprintf(`Check this question and answer pair against the reference.
The answer is labeled %s. Decide whether that label is right.

QUESTION: %s
ANSWER: %s

Return a JSON object: {"valid": true, "confidence": 0.0-1.0, "reasoning": "..."}

REFERENCE:
%s`, claim, p.Question, p.Answer, reference)
}
