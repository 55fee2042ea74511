package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qaforge/internal/ingest"
	"github.com/sells-group/qaforge/internal/keypool"
	"github.com/sells-group/qaforge/internal/llm"
	"github.com/sells-group/qaforge/internal/model"
	"github.com/sells-group/qaforge/internal/recovery"
)

var (
	// ErrNoContent means no source yielded usable text.
	ErrNoContent = eris.New("pipeline: no source yielded usable text")
	// ErrInsufficientContent means the combined text is below the minimum length.
	ErrInsufficientContent = eris.New("pipeline: not enough content")
	// ErrNoPairs means Q&A generation produced nothing usable.
	ErrNoPairs = eris.New("pipeline: no usable Q&A pairs generated")
)

// maxAvoidQuestions bounds the earlier questions quoted to later batches.
const maxAvoidQuestions = 60

func (r *run) preprocess(ctx context.Context) StageResult[string] {
	texts, err := r.o.cleaner.Clean(keypool.WithExclusions(ctx, r.excl), r.in.Sources)
	if err != nil {
		return Fatal[string](eris.Wrap(err, "clean sources"))
	}
	content := ingest.Combine(texts)
	if content == "" {
		return Fatal[string](ErrNoContent)
	}

	n := utf8.RuneCountInString(content)
	r.result.ContentChars = n
	if n < r.settings.MinContentChars {
		return Fatal[string](eris.Wrapf(ErrInsufficientContent, "%d characters, need at least %d", n, r.settings.MinContentChars))
	}

	r.log.Info("pipeline: content prepared",
		zap.Int("sources", len(r.in.Sources)),
		zap.Int("usable", len(texts)),
		zap.Int("chars", n),
	)
	if len(texts) < len(r.in.Sources) {
		return Degraded(content, fmt.Sprintf("%d of %d sources yielded no text", len(r.in.Sources)-len(texts), len(r.in.Sources)))
	}
	return Ok(content)
}

func (r *run) identifyThemes(ctx context.Context) StageResult[[]string] {
	c, err := r.send(ctx, r.request(r.o.providers.Primary, themesPrompt(r.content)))
	if err != nil {
		return Degraded[[]string](nil, "continuing without themes: "+err.Error())
	}
	recs, _, err := recovery.ParseInto[themeRecord](c.Text, themeShape)
	if err != nil {
		return Degraded[[]string](nil, "continuing without themes: "+err.Error())
	}

	seen := make(map[string]bool)
	var themes []string
	for _, t := range recs {
		name := strings.TrimSpace(t.Name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		themes = append(themes, name)
	}
	return Ok(themes)
}

func (r *run) augment(ctx context.Context) StageResult[string] {
	req := r.request(r.o.providers.Search, augmentPrompt(r.content, r.result.Themes))
	req.System = ""
	req.Tools = []llm.Tool{llm.ToolWebSearch}

	c, err := r.send(ctx, req)
	if err != nil {
		return Degraded(r.content, "continuing without web research: "+err.Error())
	}
	text := strings.TrimSpace(c.Text)
	if text == "" {
		return Degraded(r.content, "continuing without web research: empty response")
	}

	seen := make(map[string]bool)
	for _, s := range r.result.Sources {
		seen[s.URI] = true
	}
	for _, g := range c.Grounding {
		if g.URI == "" || seen[g.URI] {
			continue
		}
		seen[g.URI] = true
		r.result.Sources = append(r.result.Sources, g)
	}
	if len(c.SearchQueries) > 0 {
		r.log.Debug("pipeline: web search queries", zap.Strings("queries", c.SearchQueries))
	}

	return Ok(r.content + ingest.Separator + "## Web research\n\n" + text)
}

func (r *run) generatePairs(ctx context.Context) StageResult[[]model.QAPair] {
	batches := batchSizes(r.o.pairTarget(r.in), r.settings.BatchSize)

	var pairs []model.QAPair
	for i, n := range batches {
		if i > 0 {
			if err := r.pace(ctx); err != nil {
				return Fatal[[]model.QAPair](err)
			}
		}
		if len(batches) > 1 {
			r.emit(fmt.Sprintf("Generating Q&A pairs (batch %d of %d)", i+1, len(batches)))
		}

		got, err := r.qaBatch(ctx, n, pairs)
		if err != nil {
			if len(pairs) == 0 {
				return Fatal[[]model.QAPair](err)
			}
			return Degraded(pairs, fmt.Sprintf("batch %d of %d failed, keeping %d pairs: %v", i+1, len(batches), len(pairs), err))
		}
		pairs = append(pairs, got...)
	}

	if len(pairs) == 0 {
		return Fatal[[]model.QAPair](ErrNoPairs)
	}
	return Ok(pairs)
}

func (r *run) qaBatch(ctx context.Context, n int, prior []model.QAPair) ([]model.QAPair, error) {
	var avoid []string
	for i := len(prior) - 1; i >= 0 && len(avoid) < maxAvoidQuestions; i-- {
		avoid = append(avoid, prior[i].Question)
	}

	prompt := qaPrompt(r.content, r.result.Themes, n, r.settings.IncorrectRatio, avoid)
	c, err := r.send(ctx, r.request(r.o.providers.Primary, prompt))
	if err != nil {
		return nil, err
	}
	recs, strategy, err := recovery.ParseInto[qaRecord](c.Text, qaShape)
	if err != nil {
		return nil, err
	}
	if strategy != recovery.StrategyFenceDirect {
		r.log.Info("pipeline: recovered malformed Q&A output",
			zap.Stringer("strategy", strategy),
			zap.Int("records", len(recs)),
			zap.Bool("truncated", c.Truncated),
		)
	}
	return toPairs(recs, model.ProvenanceOriginal, r.seen), nil
}

func (r *run) analyzeGaps(ctx context.Context) StageResult[[]model.KnowledgeGap] {
	prompt := gapPrompt(r.content, r.result.Themes, r.original, r.settings.MaxGaps)
	c, err := r.send(ctx, r.request(r.o.providers.Primary, prompt))
	if err != nil {
		return Degraded[[]model.KnowledgeGap](nil, "skipping gap filling: "+err.Error())
	}
	recs, _, err := recovery.ParseInto[gapRecord](c.Text, gapShape)
	if err != nil {
		return Degraded[[]model.KnowledgeGap](nil, "skipping gap filling: "+err.Error())
	}
	gaps := toGaps(recs, r.settings.MaxGaps)
	r.log.Info("pipeline: knowledge gaps identified", zap.Int("gaps", len(gaps)))
	return Ok(gaps)
}

func (r *run) buildReference(ctx context.Context) StageResult[string] {
	if len(r.result.Gaps) == 0 {
		return Skipped[string]("no knowledge gaps")
	}
	fallback := truncate(r.content, r.settings.ValidationContextChars)

	all := append(append([]model.QAPair(nil), r.original...), r.synthetic...)
	prompt := contextPrompt(r.content, all, r.settings.ValidationContextChars)
	c, err := r.send(ctx, r.request(r.o.providers.Secondary, prompt))
	if err != nil {
		return Degraded(fallback, "using raw content for validation: "+err.Error())
	}
	text := strings.TrimSpace(c.Text)
	if text == "" {
		return Degraded(fallback, "using raw content for validation: empty response")
	}
	return Ok(text)
}

func (r *run) generateSynthetic(ctx context.Context) StageResult[[]model.QAPair] {
	gaps := r.result.Gaps
	if len(gaps) == 0 {
		return Skipped[[]model.QAPair]("no knowledge gaps")
	}

	var (
		pairs  []model.QAPair
		failed []string
	)
	for i, gap := range gaps {
		if err := r.pace(ctx); err != nil {
			return Fatal[[]model.QAPair](err)
		}
		r.emit(fmt.Sprintf("Generating synthetic pairs for gap %d of %d", i+1, len(gaps)))

		got, err := r.syntheticForGap(ctx, gap)
		if err != nil {
			failed = append(failed, gap.ID)
			r.log.Warn("pipeline: synthetic generation failed for gap",
				zap.String("gap_id", gap.ID),
				zap.Error(err),
			)
			continue
		}
		pairs = append(pairs, got...)
	}

	if len(failed) > 0 {
		return Degraded(pairs, fmt.Sprintf("%d of %d gaps failed: %s", len(failed), len(gaps), strings.Join(failed, ", ")))
	}
	return Ok(pairs)
}

func (r *run) syntheticForGap(ctx context.Context, gap model.KnowledgeGap) ([]model.QAPair, error) {
	prompt := syntheticPrompt(gap, r.reference, r.settings.SyntheticPerGap)
	c, err := r.send(ctx, r.request(r.o.providers.Secondary, prompt))
	if err != nil {
		return nil, err
	}
	recs, _, err := recovery.ParseInto[qaRecord](c.Text, qaShape)
	if err != nil {
		return nil, err
	}
	pairs := toPairs(recs, model.ProvenanceSynthetic, r.seen)
	for i := range pairs {
		pairs[i].GapID = gap.ID
		pairs[i].Validation = model.ValidationPending
	}
	return pairs, nil
}

func (r *run) crossValidate(ctx context.Context) StageResult[[]model.QAPair] {
	if len(r.synthetic) == 0 {
		return Skipped[[]model.QAPair]("no synthetic pairs")
	}

	out := make([]model.QAPair, len(r.synthetic))
	copy(out, r.synthetic)

	failed := 0
	for i := range out {
		if err := r.pace(ctx); err != nil {
			return Fatal[[]model.QAPair](err)
		}
		r.emit(fmt.Sprintf("Validating synthetic pair %d of %d", i+1, len(out)))

		v, err := r.validate(ctx, out[i])
		if err != nil {
			failed++
			out[i].Validation = model.ValidationFailed
			r.log.Warn("pipeline: validation failed for pair",
				zap.String("gap_id", out[i].GapID),
				zap.Error(err),
			)
			continue
		}

		conf := model.ClampConfidence(v.Confidence)
		out[i].ValidationConfidence = conf
		out[i].ValidationReasoning = strings.TrimSpace(v.Reasoning)
		if v.Valid && conf >= r.settings.ValidationThreshold {
			out[i].Validation = model.ValidationValidated
		} else {
			out[i].Validation = model.ValidationRejected
		}
	}

	if failed > 0 {
		return Degraded(out, fmt.Sprintf("%d of %d validations failed", failed, len(out)))
	}
	return Ok(out)
}

func (r *run) validate(ctx context.Context, p model.QAPair) (*verdictRecord, error) {
	req := r.request(r.o.providers.Primary, validationPrompt(p, r.reference))
	low := 0.1
	req.Options.Temperature = &low
	req.Options.MaxTokens = 1024

	c, err := r.send(ctx, req)
	if err != nil {
		return nil, err
	}
	recs, _, err := recovery.ParseInto[verdictRecord](c.Text, verdictShape)
	if err != nil {
		return nil, err
	}
	return &recs[0], nil
}
