package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/qaforge/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts" mapstructure:"timeouts"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	// Pricing overrides the built-in per-model token rates.
	Pricing cost.Rates `yaml:"pricing" mapstructure:"pricing"`
}

// ProvidersConfig lists the LLM providers and which one serves each role.
type ProvidersConfig struct {
	KeysFile   string         `yaml:"keys_file" mapstructure:"keys_file"`
	Primary    string         `yaml:"primary" mapstructure:"primary"`
	Secondary  string         `yaml:"secondary" mapstructure:"secondary"`
	Gemini     ProviderConfig `yaml:"gemini" mapstructure:"gemini"`
	OpenRouter ProviderConfig `yaml:"openrouter" mapstructure:"openrouter"`
	Anthropic  ProviderConfig `yaml:"anthropic" mapstructure:"anthropic"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Keys    []string `yaml:"keys" mapstructure:"keys"`
	Model   string   `yaml:"model" mapstructure:"model"`
	BaseURL string   `yaml:"base_url" mapstructure:"base_url"`
	// Referer and Title are sent as attribution headers (OpenRouter only).
	Referer string `yaml:"referer" mapstructure:"referer"`
	Title   string `yaml:"title" mapstructure:"title"`
}

// PipelineConfig holds generation tunables.
type PipelineConfig struct {
	QAPairCount            int     `yaml:"qa_pair_count" mapstructure:"qa_pair_count"`
	QABatchSize            int     `yaml:"qa_batch_size" mapstructure:"qa_batch_size"`
	IncorrectRatio         float64 `yaml:"incorrect_ratio" mapstructure:"incorrect_ratio"`
	MaxGaps                int     `yaml:"max_gaps" mapstructure:"max_gaps"`
	SyntheticPerGap        int     `yaml:"synthetic_per_gap" mapstructure:"synthetic_per_gap"`
	InterCallDelayMs       int     `yaml:"inter_call_delay_ms" mapstructure:"inter_call_delay_ms"`
	ValidationThreshold    float64 `yaml:"validation_threshold" mapstructure:"validation_threshold"`
	MinContentChars        int     `yaml:"min_content_chars" mapstructure:"min_content_chars"`
	ValidationContextChars int     `yaml:"validation_context_chars" mapstructure:"validation_context_chars"`
	MaxOutputTokens        int     `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	Temperature            float64 `yaml:"temperature" mapstructure:"temperature"`
}

// TimeoutsConfig bounds single provider calls.
type TimeoutsConfig struct {
	TextSecs   int `yaml:"text_secs" mapstructure:"text_secs"`
	BinarySecs int `yaml:"binary_secs" mapstructure:"binary_secs"`
}

// Text returns the timeout for pure-text calls.
func (t TimeoutsConfig) Text() time.Duration {
	return time.Duration(t.TextSecs) * time.Second
}

// Binary returns the timeout for calls carrying embedded binary content.
func (t TimeoutsConfig) Binary() time.Duration {
	return time.Duration(t.BinarySecs) * time.Second
}

// ResilienceConfig configures circuit breakers and retry.
type ResilienceConfig struct {
	Circuit CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
}

// CircuitConfig configures the per-provider circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// RetryConfig configures retry with backoff for ingestion fetches.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// IngestConfig configures source cleaning.
type IngestConfig struct {
	JinaKey       string `yaml:"jina_key" mapstructure:"jina_key"`
	JinaBaseURL   string `yaml:"jina_base_url" mapstructure:"jina_base_url"`
	MaxConcurrent int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxBodyMB   int      `yaml:"max_body_mb" mapstructure:"max_body_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("QAFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("providers.primary", "gemini")
	v.SetDefault("providers.secondary", "openrouter")
	v.SetDefault("providers.gemini.model", "gemini-2.5-flash")
	v.SetDefault("providers.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("providers.openrouter.model", "nvidia/llama-3.1-nemotron-70b-instruct")
	v.SetDefault("providers.openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("providers.openrouter.title", "qaforge")
	v.SetDefault("providers.anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("pipeline.qa_pair_count", 100)
	v.SetDefault("pipeline.qa_batch_size", 50)
	v.SetDefault("pipeline.incorrect_ratio", 0.08)
	v.SetDefault("pipeline.max_gaps", 8)
	v.SetDefault("pipeline.synthetic_per_gap", 5)
	v.SetDefault("pipeline.inter_call_delay_ms", 750)
	v.SetDefault("pipeline.validation_threshold", 0.7)
	v.SetDefault("pipeline.min_content_chars", 300)
	v.SetDefault("pipeline.validation_context_chars", 8000)
	v.SetDefault("pipeline.max_output_tokens", 8192)
	v.SetDefault("pipeline.temperature", 0.7)
	v.SetDefault("timeouts.text_secs", 120)
	v.SetDefault("timeouts.binary_secs", 25)
	v.SetDefault("resilience.circuit.failure_threshold", 5)
	v.SetDefault("resilience.circuit.reset_timeout_secs", 30)
	v.SetDefault("resilience.retry.max_attempts", 3)
	v.SetDefault("resilience.retry.initial_backoff_ms", 500)
	v.SetDefault("resilience.retry.max_backoff_ms", 10000)
	v.SetDefault("resilience.retry.multiplier", 2.0)
	v.SetDefault("resilience.retry.jitter_fraction", 0.25)
	v.SetDefault("ingest.jina_base_url", "https://r.jina.ai")
	v.SetDefault("ingest.max_concurrent", 4)
	v.SetDefault("ingest.timeout_secs", 60)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "qaforge.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_body_mb", 32)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var knownProviders = map[string]bool{"gemini": true, "openrouter": true, "anthropic": true}

// Validate checks the settings required by the given command mode:
// "generate", "serve" or "runs". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "generate", "serve":
		errs = append(errs, c.validateGeneration()...)
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "runs":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, postgres, memory", c.Store.Driver))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateGeneration() []string {
	var errs []string
	if !knownProviders[c.Providers.Primary] {
		errs = append(errs, fmt.Sprintf("providers.primary %q is not a known provider", c.Providers.Primary))
	}
	if c.Providers.Secondary != "" && !knownProviders[c.Providers.Secondary] {
		errs = append(errs, fmt.Sprintf("providers.secondary %q is not a known provider", c.Providers.Secondary))
	}

	p := c.Pipeline
	if p.ValidationThreshold < 0 || p.ValidationThreshold > 1 {
		errs = append(errs, "pipeline.validation_threshold must be between 0 and 1")
	}
	if p.IncorrectRatio < 0 || p.IncorrectRatio >= 1 {
		errs = append(errs, "pipeline.incorrect_ratio must be in [0, 1)")
	}
	positive := []struct {
		name string
		n    int
	}{
		{"pipeline.qa_pair_count", p.QAPairCount},
		{"pipeline.qa_batch_size", p.QABatchSize},
		{"pipeline.max_gaps", p.MaxGaps},
		{"pipeline.synthetic_per_gap", p.SyntheticPerGap},
		{"timeouts.text_secs", c.Timeouts.TextSecs},
		{"timeouts.binary_secs", c.Timeouts.BinarySecs},
	}
	for _, f := range positive {
		if f.n <= 0 {
			errs = append(errs, f.name+" must be > 0")
		}
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
