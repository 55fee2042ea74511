package model

import "go.uber.org/zap"

// Usage tracks token consumption for one or more provider calls.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
	Calls        int `json:"calls"`
	// CostUSD is the priced cost of the calls; 0 when the model has no rate.
	CostUSD float64 `json:"cost_usd,omitempty"`
}

// Add merges usage from another instance.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.Calls += other.Calls
	u.CostUSD += other.CostUSD
}

// Log writes the usage of a single call to the global logger.
func (u Usage) Log(provider, modelID, stage string) {
	zap.L().Debug("llm usage",
		zap.String("provider", provider),
		zap.String("model", modelID),
		zap.String("stage", stage),
		zap.Int("input_tokens", u.InputTokens),
		zap.Int("output_tokens", u.OutputTokens),
		zap.Int("total_tokens", u.TotalTokens),
	)
}
