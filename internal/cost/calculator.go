package cost

import (
	"strings"

	"github.com/sells-group/qaforge/internal/model"
)

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates maps model ids to their pricing. OpenRouter ids keep their vendor
// prefix, e.g. "nvidia/llama-3.1-nemotron-70b-instruct".
type Rates map[string]ModelRate

// Calculator computes costs for LLM usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rate looks up a model. Versioned ids such as "gemini-2.5-flash-001"
// fall back to the longest configured prefix.
func (c *Calculator) Rate(modelID string) (ModelRate, bool) {
	if r, ok := c.rates[modelID]; ok {
		return r, true
	}
	best, found := "", false
	for id := range c.rates {
		if strings.HasPrefix(modelID, id) && len(id) > len(best) {
			best, found = id, true
		}
	}
	return c.rates[best], found
}

// Usage computes the cost of u on modelID. Unknown models cost 0.
func (c *Calculator) Usage(modelID string, u model.Usage) float64 {
	rate, ok := c.Rate(modelID)
	if !ok {
		return 0
	}
	inCost := (float64(u.InputTokens) / 1e6) * rate.Input
	outCost := (float64(u.OutputTokens) / 1e6) * rate.Output
	return inCost + outCost
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		"gemini-2.5-flash":                       {Input: 0.30, Output: 2.50},
		"gemini-2.5-pro":                         {Input: 1.25, Output: 10.00},
		"nvidia/llama-3.1-nemotron-70b-instruct": {Input: 0.12, Output: 0.30},
		"claude-haiku-4-5-20251001":              {Input: 1.00, Output: 5.00},
		"claude-sonnet-4-5-20250929":             {Input: 3.00, Output: 15.00},
	}
}

// Merge returns r with overrides applied on top.
func (r Rates) Merge(overrides Rates) Rates {
	out := make(Rates, len(r)+len(overrides))
	for id, rate := range r {
		out[id] = rate
	}
	for id, rate := range overrides {
		out[id] = rate
	}
	return out
}
