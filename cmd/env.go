package main

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qaforge/internal/cost"
	"github.com/sells-group/qaforge/internal/ingest"
	"github.com/sells-group/qaforge/internal/keypool"
	"github.com/sells-group/qaforge/internal/llm"
	"github.com/sells-group/qaforge/internal/pipeline"
	"github.com/sells-group/qaforge/internal/resilience"
	"github.com/sells-group/qaforge/internal/store"
)

// appEnv holds the initialized store, LLM clients and orchestrator
// needed by the generate and serve commands.
type appEnv struct {
	Store        store.Store
	Registry     *llm.Registry
	LLM          *llm.Failover
	Orchestrator *pipeline.Orchestrator
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// initRegistry builds the key pool and registers every provider with keys.
func initRegistry() (*llm.Registry, error) {
	pool, err := keypool.FromConfig(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "load api keys")
	}

	hc := &http.Client{}
	reg, err := llm.NewRegistry(pool, cfg.Providers.Primary, cfg.Providers.Secondary,
		llm.NewGeminiProvider(cfg.Providers.Gemini, hc),
		llm.NewOpenRouterProvider(cfg.Providers.OpenRouter, hc),
		llm.NewAnthropicProvider(cfg.Providers.Anthropic, hc),
	)
	if err != nil {
		return nil, eris.Wrap(err, "build provider registry")
	}
	return reg, nil
}

// initEnv validates config for mode and wires store, providers, failover,
// the source cleaner and the orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	reg, err := initRegistry()
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	breakers := resilience.NewBreakers(resilience.CircuitFromConfig(cfg.Resilience.Circuit))
	client := llm.NewFailover(reg, breakers, llm.Timeouts{
		Text:   cfg.Timeouts.Text(),
		Binary: cfg.Timeouts.Binary(),
	})

	providers := pipeline.ProvidersFromRegistry(reg)
	cleaner := ingest.NewBasicFromConfig(cfg, ingest.NewLLMExtractor(client, providers.Search))

	orch := pipeline.New(client, cleaner, providers,
		pipeline.WithSettings(pipeline.SettingsFromConfig(cfg.Pipeline)),
		pipeline.WithStore(st),
		pipeline.WithCostCalculator(cost.NewCalculator(cost.DefaultRates().Merge(cfg.Pricing))),
	)

	zap.L().Info("providers ready",
		zap.Strings("registered", reg.Names()),
		zap.String("primary", providers.Primary),
		zap.String("secondary", providers.Secondary),
		zap.String("search", providers.Search),
		zap.String("store", cfg.Store.Driver),
	)

	return &appEnv{
		Store:        st,
		Registry:     reg,
		LLM:          client,
		Orchestrator: orch,
	}, nil
}
