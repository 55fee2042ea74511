package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/qaforge/internal/cost"
	"github.com/sells-group/qaforge/internal/estimate"
	"github.com/sells-group/qaforge/internal/ingest"
	"github.com/sells-group/qaforge/internal/keypool"
	"github.com/sells-group/qaforge/internal/llm"
	"github.com/sells-group/qaforge/internal/model"
	"github.com/sells-group/qaforge/internal/store"
)

// LLM sends one request with multi-key failover. *llm.Failover implements it.
type LLM interface {
	Do(ctx context.Context, req llm.Request, excl *keypool.Exclusions) (*llm.Completion, error)
}

// Providers names the provider serving each role in a run.
type Providers struct {
	// Primary handles themes, Q&A, gap analysis and validation.
	Primary string
	// Secondary handles synthetic generation and the validation context.
	Secondary string
	// Search handles web augmentation.
	Search string
}

// ProvidersFromRegistry picks roles from the configured providers. Web
// search prefers Gemini, then OpenRouter, then the primary.
func ProvidersFromRegistry(reg *llm.Registry) Providers {
	p := Providers{Primary: reg.Primary(), Secondary: reg.Secondary(), Search: reg.Primary()}
	for _, name := range []string{keypool.Gemini, keypool.OpenRouter} {
		if _, ok := reg.Provider(name); ok {
			p.Search = name
			break
		}
	}
	return p
}

// Orchestrator runs generation pipelines. It holds no per-run state, so
// one Orchestrator can serve many runs.
type Orchestrator struct {
	llm       LLM
	cleaner   ingest.Cleaner
	providers Providers
	settings  Settings
	store     store.Store
	estimator estimate.Model
	costs     *cost.Calculator
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSettings replaces the default tunables.
func WithSettings(s Settings) Option {
	return func(o *Orchestrator) { o.settings = s }
}

// WithStore persists run status and results.
func WithStore(s store.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithEstimateModel replaces the static stage cost model.
func WithEstimateModel(m estimate.Model) Option {
	return func(o *Orchestrator) { o.estimator = m }
}

// WithCostCalculator prices every call's token usage.
func WithCostCalculator(c *cost.Calculator) Option {
	return func(o *Orchestrator) { o.costs = c }
}

// New creates an Orchestrator. Empty secondary and search roles fall back
// to the primary provider.
func New(client LLM, cleaner ingest.Cleaner, providers Providers, opts ...Option) *Orchestrator {
	if providers.Secondary == "" {
		providers.Secondary = providers.Primary
	}
	if providers.Search == "" {
		providers.Search = providers.Primary
	}
	o := &Orchestrator{
		llm:       client,
		cleaner:   cleaner,
		providers: providers,
		settings:  DefaultSettings(),
		estimator: estimate.DefaultModel(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Settings returns the orchestrator's tunables.
func (o *Orchestrator) Settings() Settings { return o.settings }

// NewRun allocates a run id, recording the run when a store is set.
func (o *Orchestrator) NewRun(ctx context.Context, in Input) (string, error) {
	if o.store == nil {
		return uuid.New().String(), nil
	}
	r, err := o.store.CreateRun(ctx, model.RunInput{
		Sources:      in.sourceNames(),
		PairCount:    o.pairTarget(in),
		Augmentation: in.Augmentation,
		GapFilling:   in.GapFilling,
	})
	if err != nil {
		return "", eris.Wrap(err, "pipeline: create run")
	}
	return r.ID, nil
}

func (o *Orchestrator) pairTarget(in Input) int {
	if in.PairCount > 0 {
		return in.PairCount
	}
	return o.settings.PairCount
}

// Run executes every planned stage in order. A fatal stage returns a
// *StageError; cancellation of ctx returns a wrapped context error.
// Degraded stages add warnings to the result and the run continues.
func (o *Orchestrator) Run(ctx context.Context, in Input, obs Observer) (*model.Result, error) {
	if in.RunID == "" {
		id, err := o.NewRun(ctx, in)
		if err != nil {
			return nil, err
		}
		in.RunID = id
	}

	r := o.newRun(in, obs)
	r.log.Info("pipeline: starting generation",
		zap.Int("sources", len(in.Sources)),
		zap.Int("pair_target", o.pairTarget(in)),
		zap.Bool("augmentation", in.Augmentation),
		zap.Bool("gap_filling", in.GapFilling),
	)
	r.rep.emit(StageInit, 0, "Starting")

	if err := r.execute(ctx); err != nil {
		r.fail(err)
		return nil, err
	}
	r.complete(ctx)
	return r.result, nil
}

// run is the mutable state of one generation. Only the goroutine calling
// Orchestrator.Run touches it.
type run struct {
	o        *Orchestrator
	in       Input
	settings Settings
	plan     []Stage
	log      *zap.Logger
	rep      *reporter
	tracker  *estimate.Tracker
	limiter  *rate.Limiter
	excl     *keypool.Exclusions
	seen     dedupe

	result     *model.Result
	current    Stage
	stageIdx   int
	stageUsage model.Usage

	content   string
	reference string
	original  []model.QAPair
	synthetic []model.QAPair
}

func (o *Orchestrator) newRun(in Input, obs Observer) *run {
	plan := PlanStages(in.Augmentation, in.GapFilling)
	params := estimate.Params{
		Sources:      len(in.Sources),
		Augmentation: in.Augmentation,
		GapFilling:   in.GapFilling,
	}
	if in.GapFilling {
		params.GapCount = o.settings.MaxGaps
	}
	tracker := estimate.NewTracker(o.estimator, params)

	limit := rate.Inf
	if o.settings.InterCallDelay > 0 {
		limit = rate.Every(o.settings.InterCallDelay)
	}

	return &run{
		o:        o,
		in:       in,
		settings: o.settings,
		plan:     plan,
		log:      zap.L().With(zap.String("run_id", in.RunID)),
		rep:      newReporter(in.RunID, plan, tracker, obs),
		tracker:  tracker,
		limiter:  rate.NewLimiter(limit, 1),
		excl:     keypool.NewExclusions(),
		seen:     make(dedupe),
		result: &model.Result{
			RunID:               in.RunID,
			AugmentationEnabled: in.Augmentation,
			GapFillingEnabled:   in.GapFilling,
			StartedAt:           time.Now().UTC(),
		},
	}
}

func (r *run) execute(ctx context.Context) error {
	content, err := runStage(ctx, r, StagePreprocess, r.preprocess)
	if err != nil {
		return err
	}
	r.content = content

	themes, err := runStage(ctx, r, StageThemeIdentification, r.identifyThemes)
	if err != nil {
		return err
	}
	r.result.Themes = themes

	if r.in.Augmentation {
		augmented, err := runStage(ctx, r, StageWebAugmentation, r.augment)
		if err != nil {
			return err
		}
		r.content = augmented
	}

	pairs, err := runStage(ctx, r, StageQAGeneration, r.generatePairs)
	if err != nil {
		return err
	}
	r.original = pairs

	if !r.in.GapFilling {
		return nil
	}

	gaps, err := runStage(ctx, r, StageGapAnalysis, r.analyzeGaps)
	if err != nil {
		return err
	}
	r.result.Gaps = gaps
	r.tracker.SetGapCount(len(gaps))

	reference, err := runStage(ctx, r, StageValidationContext, r.buildReference)
	if err != nil {
		return err
	}
	r.reference = reference

	synthetic, err := runStage(ctx, r, StageSyntheticGeneration, r.generateSynthetic)
	if err != nil {
		return err
	}
	r.synthetic = synthetic

	validated, err := runStage(ctx, r, StageCrossValidation, r.crossValidate)
	if err != nil {
		return err
	}
	r.synthetic = validated
	return nil
}

// runStage brackets one stage with progress, status persistence, timing,
// logging and the stage report.
func runStage[T any](ctx context.Context, r *run, stage Stage, fn func(context.Context) StageResult[T]) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, eris.Wrap(err, "pipeline: run cancelled")
	}

	r.enter(ctx, stage)
	start := time.Now()
	res := fn(ctx)
	r.record(stage, res.Status, res.Warning, res.Err, time.Since(start))

	if res.Status == model.StageFatal {
		if err := ctx.Err(); err != nil {
			return zero, eris.Wrap(err, "pipeline: run cancelled")
		}
		return zero, &StageError{Stage: stage, Err: res.Err}
	}
	return res.Data, nil
}

func (r *run) enter(ctx context.Context, stage Stage) {
	r.current = stage
	r.stageUsage = model.Usage{}
	for i, s := range r.plan {
		if s == stage {
			r.stageIdx = i
			break
		}
	}
	r.rep.emit(stage, r.stageIdx, "")
	r.setStatus(ctx, model.RunStatusRunning, stage.String())
}

func (r *run) record(stage Stage, status model.StageStatus, warning string, err error, d time.Duration) {
	r.result.Stages = append(r.result.Stages, model.StageReport{
		Stage:    stage.String(),
		Status:   status,
		Duration: d.Milliseconds(),
		Warning:  warning,
		Usage:    r.stageUsage,
	})

	fields := []zap.Field{
		zap.String("stage", stage.String()),
		zap.Int64("duration_ms", d.Milliseconds()),
		zap.Int("total_tokens", r.stageUsage.TotalTokens),
	}
	switch status {
	case model.StageOK:
		r.log.Info("pipeline: stage complete", fields...)
	case model.StageSkipped:
		r.log.Info("pipeline: stage skipped", append(fields, zap.String("reason", warning))...)
	case model.StageDegraded:
		r.result.Warnings = append(r.result.Warnings, stage.String()+": "+warning)
		r.log.Warn("pipeline: stage degraded", append(fields, zap.String("warning", warning))...)
	case model.StageFatal:
		r.log.Error("pipeline: stage failed", append(fields, zap.Error(err))...)
	}
}

// emit reports a sub-step of the current stage.
func (r *run) emit(msg string) {
	r.rep.emit(r.current, r.stageIdx, msg)
}

func (r *run) setStatus(ctx context.Context, status model.RunStatus, stage string) {
	if r.o.store == nil {
		return
	}
	if err := r.o.store.UpdateRunStatus(ctx, r.in.RunID, status, stage); err != nil {
		r.log.Warn("pipeline: failed to update status", zap.Error(err))
	}
}

// request builds a JSON-producing text request for the current stage.
func (r *run) request(provider, prompt string) llm.Request {
	temp := r.settings.Temperature
	return llm.Request{
		Provider: provider,
		System:   systemPrompt,
		Messages: []llm.Message{llm.UserText(prompt)},
		Options: llm.Options{
			Temperature: &temp,
			MaxTokens:   r.settings.MaxOutputTokens,
		},
		Stage: r.current.String(),
	}
}

// send issues req with the run's exclusions so keys that failed earlier in
// the run are not tried again, and accounts usage.
func (r *run) send(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	c, err := r.o.llm.Do(ctx, req, r.excl)
	if err != nil {
		return nil, err
	}
	if r.o.costs != nil {
		c.Usage.CostUSD = r.o.costs.Usage(c.Model, c.Usage)
	}
	r.stageUsage.Add(c.Usage)
	r.result.Usage.Add(c.Usage)
	return c, nil
}

// pace blocks until the next paced call may go out.
func (r *run) pace(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

func (r *run) fail(err error) {
	msg := UserMessage(err)
	r.log.Error("pipeline: generation failed",
		zap.String("stage", r.current.String()),
		zap.Duration("elapsed", r.tracker.Elapsed()),
		zap.Error(err),
	)
	if r.o.store == nil {
		return
	}
	// The caller's context may already be cancelled; record the failure anyway.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := r.o.store.FailRun(ctx, r.in.RunID, msg); serr != nil {
		r.log.Warn("pipeline: failed to record run failure", zap.Error(serr))
	}
}

func (r *run) complete(ctx context.Context) {
	res := r.result
	res.Pairs = append([]model.QAPair(nil), r.original...)
	for _, p := range r.synthetic {
		if p.Validation == model.ValidationValidated {
			res.Pairs = append(res.Pairs, p)
		}
	}
	res.Synthetic = r.synthetic
	res.CompletedAt = time.Now().UTC()
	res.Stats = model.ComputeStats(res)

	r.current = StageComplete
	r.rep.emit(StageComplete, len(r.plan), "")

	r.log.Info("pipeline: generation complete",
		zap.Int("pairs", res.Stats.Total),
		zap.Int("correct", res.Stats.Correct),
		zap.Int("incorrect", res.Stats.Incorrect),
		zap.Int("synthetic_validated", res.Stats.Validated),
		zap.Int("gaps", res.Stats.GapsIdentified),
		zap.Int("warnings", res.Stats.Warnings),
		zap.Int("total_tokens", res.Usage.TotalTokens),
		zap.Float64("cost_usd", res.Usage.CostUSD),
		zap.Duration("elapsed", r.tracker.Elapsed()),
	)

	if r.o.store == nil {
		return
	}
	if err := r.o.store.SaveResult(ctx, r.in.RunID, res); err != nil {
		r.log.Warn("pipeline: failed to save result", zap.Error(err))
	}
}
