package keypool

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/qaforge/internal/config"
)

// maxEnvKeys bounds the numbered env var scan (FOO_API_KEY_2 .. FOO_API_KEY_N).
const maxEnvKeys = 32

// envPrefixes maps provider ids to their env var stems.
var envPrefixes = map[string]string{
	Gemini:     "GEMINI",
	OpenRouter: "OPENROUTER",
	Anthropic:  "ANTHROPIC",
}

// KeysFile is the layout of the optional YAML keys file:
//
//	providers:
//	  gemini: [key-a, key-b]
//	  openrouter: [key-c]
type KeysFile struct {
	Providers map[string][]string `yaml:"providers"`
}

// LoadFile reads a YAML keys file.
func LoadFile(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "keypool: read %s", path)
	}
	var kf KeysFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, eris.Wrapf(err, "keypool: parse %s", path)
	}
	return kf.Providers, nil
}

// FromEnv collects keys from PROVIDER_API_KEY, PROVIDER_API_KEY_2, ... in
// that order, stopping at the first missing number.
func FromEnv(getenv func(string) string) map[string][]string {
	out := make(map[string][]string)
	for provider, stem := range envPrefixes {
		base := stem + "_API_KEY"
		if v := strings.TrimSpace(getenv(base)); v != "" {
			out[provider] = append(out[provider], v)
		}
		for i := 2; i <= maxEnvKeys; i++ {
			v := strings.TrimSpace(getenv(base + "_" + strconv.Itoa(i)))
			if v == "" {
				break
			}
			out[provider] = append(out[provider], v)
		}
	}
	return out
}

// FromConfig builds the pool from configured keys, then the keys file,
// then environment variables. Earlier sources take priority.
func FromConfig(cfg *config.Config) (*Pool, error) {
	merged := map[string][]string{
		Gemini:     append([]string(nil), cfg.Providers.Gemini.Keys...),
		OpenRouter: append([]string(nil), cfg.Providers.OpenRouter.Keys...),
		Anthropic:  append([]string(nil), cfg.Providers.Anthropic.Keys...),
	}

	if cfg.Providers.KeysFile != "" {
		fileKeys, err := LoadFile(cfg.Providers.KeysFile)
		if err != nil {
			return nil, err
		}
		for provider, keys := range fileKeys {
			merged[provider] = append(merged[provider], keys...)
		}
	}

	for provider, keys := range FromEnv(os.Getenv) {
		merged[provider] = append(merged[provider], keys...)
	}

	pool := New(merged)
	for _, provider := range pool.Providers() {
		zap.L().Debug("keypool: loaded credentials",
			zap.String("provider", provider),
			zap.Int("keys", pool.Size(provider)),
		)
	}
	return pool, nil
}
