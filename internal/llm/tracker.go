package llm

import "sync"

// Pricing per million tokens in USD.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing approximates Sonnet pricing.
var DefaultPricing = Pricing{InputPerMillion: 3.0, OutputPerMillion: 15.0}

// Cost returns the cost of the given token counts.
func (p Pricing) Cost(input, output int64) float64 {
	return float64(input)/1_000_000*p.InputPerMillion + float64(output)/1_000_000*p.OutputPerMillion
}

// TokenTracker accumulates token usage across calls.
type TokenTracker struct {
	mu        sync.Mutex
	pricing   Pricing
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a tracker using the given pricing.
func NewTokenTracker(pricing Pricing) *TokenTracker {
	return &TokenTracker{pricing: pricing}
}

// Add records usage from one call and returns it with its cost filled in.
func (t *TokenTracker) Add(input, output int64) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
	return Usage{InputTokens: input, OutputTokens: output, Cost: t.pricing.Cost(input, output)}
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of calls recorded.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Cost estimates the accumulated cost in USD.
func (t *TokenTracker) Cost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pricing.Cost(t.inputTok, t.outputTok)
}

// Reset clears all tracked usage.
func (t *TokenTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok = 0
	t.outputTok = 0
	t.calls = 0
}
