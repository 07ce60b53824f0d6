package model

// ModelPricing holds per-token prices as reported by the provider. Values are kept
// as strings because providers disagree on numeric vs string encoding.
type ModelPricing struct {
	Prompt     string
	Completion string
}

// ModelInfo is a provider-neutral model catalogue entry.
type ModelInfo struct {
	ID            string
	Name          string
	Description   string
	ContextLength int
	Pricing       ModelPricing
}

// TokenUsage counts tokens consumed by a completion.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResult is the normalised result of a single chat completion.
type ChatResult struct {
	Model   string
	Content string
	Usage   TokenUsage
}
