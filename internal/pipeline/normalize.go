package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/qaforge/internal/model"
)

// dedupe tracks normalized questions already accepted in a run.
type dedupe map[string]bool

// add reports whether p is new and records it.
func (d dedupe) add(p model.QAPair) bool {
	k := p.DedupeKey()
	if d[k] {
		return false
	}
	d[k] = true
	return true
}

// toPairs normalizes parsed QA records: missing confidence gets the
// default for its label, confidence is clamped to [0,1], blank text and
// duplicate questions are dropped.
func toPairs(recs []qaRecord, prov model.Provenance, seen dedupe) []model.QAPair {
	out := make([]model.QAPair, 0, len(recs))
	for _, r := range recs {
		p := model.QAPair{
			Question:   strings.TrimSpace(r.Question),
			Answer:     strings.TrimSpace(r.Answer),
			IsCorrect:  r.IsCorrect,
			Provenance: prov,
		}
		if r.Confidence != nil {
			p.Confidence = model.ClampConfidence(*r.Confidence)
		} else {
			p.Confidence = model.DefaultConfidence(r.IsCorrect)
		}
		if !p.Valid() || !seen.add(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// toGaps caps recs at max and assigns run-unique ids gap-1..n.
func toGaps(recs []gapRecord, max int) []model.KnowledgeGap {
	gaps := make([]model.KnowledgeGap, 0, len(recs))
	for _, r := range recs {
		if len(gaps) == max {
			break
		}
		desc := strings.TrimSpace(r.Description)
		if desc == "" {
			continue
		}
		gaps = append(gaps, model.KnowledgeGap{
			ID:                     fmt.Sprintf("gap-%d", len(gaps)+1),
			Description:            desc,
			Theme:                  strings.TrimSpace(r.Theme),
			Priority:               model.ParsePriority(r.Priority),
			SuggestedQuestionTypes: r.SuggestedQuestionTypes,
			RelatedConcepts:        r.RelatedConcepts,
		})
	}
	return gaps
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// batchSizes splits total into chunks of at most size.
func batchSizes(total, size int) []int {
	if total <= 0 {
		return nil
	}
	if size <= 0 {
		size = total
	}
	var out []int
	for total > 0 {
		n := size
		if total < n {
			n = total
		}
		out = append(out, n)
		total -= n
	}
	return out
}
