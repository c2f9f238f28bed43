package llm

import (
	"fmt"
	"sync"
	"time"
)

// ModelPricing is a model's per-1M-token input/output cost in USD.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing covers the models each adapter defaults to plus their
// common siblings. A model absent from this table is tracked at zero cost
// rather than rejected, since new model ids ship more often than this table
// gets updated.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":             {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":        {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":        {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":      {InputPer1M: 0.50, OutputPer1M: 1.50},
	"claude-sonnet-4-5-20250929": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-2.5-flash":   {InputPer1M: 0.30, OutputPer1M: 2.50},
	"gemini-1.5-pro":     {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":   {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// LLMCall is one recorded provider invocation.
type LLMCall struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
	NodeID       string
}

// CostTracker accumulates USD cost across provider calls, attributed by
// model and by node. A nil *CostTracker is valid and tracks nothing, so
// adapters can hold one unconditionally.
type CostTracker struct {
	mu sync.Mutex

	Currency   string
	Pricing    map[string]ModelPricing
	Calls      []LLMCall
	TotalCost  float64
	ModelCosts map[string]float64

	InputTokens  int64
	OutputTokens int64

	enabled bool
}

// NewCostTracker returns a tracker seeded with the default pricing table.
func NewCostTracker(currency string) *CostTracker {
	if currency == "" {
		currency = "USD"
	}
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for model, p := range defaultModelPricing {
		pricing[model] = p
	}
	return &CostTracker{
		Currency:   currency,
		Pricing:    pricing,
		ModelCosts: make(map[string]float64),
		enabled:    true,
	}
}

// RecordLLMCall attributes token usage to model/nodeID and updates the
// running totals. A model missing from the pricing table is recorded at
// zero cost rather than rejected.
func (ct *CostTracker) RecordLLMCall(model string, inputTokens, outputTokens int, nodeID string) {
	if ct == nil || !ct.enabled {
		return
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()

	pricing := ct.Pricing[model]
	cost := (float64(inputTokens)/1_000_000.0)*pricing.InputPer1M + (float64(outputTokens)/1_000_000.0)*pricing.OutputPer1M

	ct.Calls = append(ct.Calls, LLMCall{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
		NodeID:       nodeID,
	})
	ct.TotalCost += cost
	ct.ModelCosts[model] += cost
	ct.InputTokens += int64(inputTokens)
	ct.OutputTokens += int64(outputTokens)
}

func (ct *CostTracker) GetTotalCost() float64 {
	if ct == nil {
		return 0
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.TotalCost
}

func (ct *CostTracker) GetCostByModel() map[string]float64 {
	if ct == nil {
		return nil
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	out := make(map[string]float64, len(ct.ModelCosts))
	for k, v := range ct.ModelCosts {
		out[k] = v
	}
	return out
}

// SetCustomPricing overrides or adds pricing for one model.
func (ct *CostTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	if ct == nil {
		return
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.Pricing == nil {
		ct.Pricing = make(map[string]ModelPricing)
	}
	ct.Pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

func (ct *CostTracker) Disable() {
	if ct == nil {
		return
	}
	ct.mu.Lock()
	ct.enabled = false
	ct.mu.Unlock()
}

func (ct *CostTracker) Enable() {
	if ct == nil {
		return
	}
	ct.mu.Lock()
	ct.enabled = true
	ct.mu.Unlock()
}

func (ct *CostTracker) String() string {
	if ct == nil {
		return "CostTracker{nil}"
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return fmt.Sprintf("CostTracker{calls=%d total=$%.4f %s input_tokens=%d output_tokens=%d}",
		len(ct.Calls), ct.TotalCost, ct.Currency, ct.InputTokens, ct.OutputTokens)
}
