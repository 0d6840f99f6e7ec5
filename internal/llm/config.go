// Package llm implements the LLM Service (C1) and LLM Registry (C2): one
// OpenAI-compatible endpoint per configured id, with retry/rate-limit/
// availability state, and a read-mostly pool keyed by config id.
package llm

import "time"

// Config is one LLMConfig entry: an endpoint, model, and the
// pricing/strength notes the planner reads when picking a service.
type Config struct {
	ID           string  `json:"id" yaml:"id"`
	Model        string  `json:"model" yaml:"model"`
	BaseURL      string  `json:"baseUrl" yaml:"baseUrl"`
	APIKey       string  `json:"apiKey" yaml:"apiKey"`
	ContextSize  int     `json:"contextSize" yaml:"contextSize"`
	InputPrice   float64 `json:"inputPricePer1M" yaml:"inputPricePer1M"`
	OutputPrice  float64 `json:"outputPricePer1M" yaml:"outputPricePer1M"`
	Temperature  float32 `json:"temperature" yaml:"temperature"`
	Strengths    string  `json:"strengths" yaml:"strengths"`
	Weaknesses   string  `json:"weaknesses" yaml:"weaknesses"`
	DisableAutoParallelToolCalls bool `json:"-" yaml:"-"`
}

// CostPer1M is the combined input+output price used for budget filtering.
func (c Config) CostPer1M() float64 { return c.InputPrice + c.OutputPrice }

// Summary is the planner-facing view of a service's health and pricing,
// returned by GetAvailableLlmSummaries.
type Summary struct {
	ID          string  `json:"id"`
	Model       string  `json:"model"`
	Strengths   string  `json:"strengths"`
	Weaknesses  string  `json:"weaknesses"`
	CostPer1M   float64 `json:"costPer1M"`
	IsAvailable bool    `json:"isAvailable"`
}

// state is a service's mutable availability/backoff bookkeeping, guarded by
// Service.mu.
type state struct {
	isPermanentlyDown bool
	availableAt       time.Time
	parallelDisabled  bool
	hasSucceeded      bool
}
