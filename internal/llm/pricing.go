package llm

// ModelPricing holds per-token pricing for a model.
type ModelPricing struct {
	InputPerMToken  float64 // USD per million input tokens
	OutputPerMToken float64 // USD per million output tokens
}

// DefaultPricingTable returns current OpenAI model pricing.
// Updated via config or fetched from a pricing API.
var DefaultPricingTable = map[string]ModelPricing{
	"gpt-4o":        {InputPerMToken: 2.50, OutputPerMToken: 10.00},
	"gpt-4o-mini":   {InputPerMToken: 0.15, OutputPerMToken: 0.60},
	"gpt-4-turbo":   {InputPerMToken: 10.00, OutputPerMToken: 30.00},
	"gpt-4":         {InputPerMToken: 30.00, OutputPerMToken: 60.00},
	"gpt-3.5-turbo": {InputPerMToken: 0.50, OutputPerMToken: 1.50},
	"o1":            {InputPerMToken: 15.00, OutputPerMToken: 60.00},
	"o1-mini":       {InputPerMToken: 3.00, OutputPerMToken: 12.00},
	"o3-mini":       {InputPerMToken: 1.10, OutputPerMToken: 4.40},
}

// GetPricing returns pricing for a model, falling back to a default.
func GetPricing(model string) ModelPricing {
	if p, ok := DefaultPricingTable[model]; ok {
		return p
	}
	// Fallback: assume moderate pricing
	return ModelPricing{InputPerMToken: 1.00, OutputPerMToken: 3.00}
}

// CalculateCost computes the USD cost for a request.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	pricing := GetPricing(model)
	inputCost := float64(inputTokens) / 1_000_000.0 * pricing.InputPerMToken
	outputCost := float64(outputTokens) / 1_000_000.0 * pricing.OutputPerMToken
	return inputCost + outputCost
}
