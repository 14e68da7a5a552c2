package ai

// Rate holds per-1M-token prices in USD for one (provider, model) pair
type Rate struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

type rateKey struct {
	Provider string
	Model    string
}

// rates is the pricing table consulted for cost computation. Unknown
// models fall back to the Sonnet rate, which overestimates rather than
// underestimates.
var rates = map[rateKey]Rate{
	{ProviderAnthropic, ModelSonnet}: {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	{ProviderAnthropic, ModelHaiku}:  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
}

var fallbackRate = Rate{InputPerMTok: 3.00, OutputPerMTok: 15.00}

// RateFor returns the pricing rate for a (provider, model) pair
func RateFor(provider, model string) Rate {
	if r, ok := rates[rateKey{provider, model}]; ok {
		return r
	}
	return fallbackRate
}

// Cost computes the dollar cost of a call from its token counts
func Cost(provider, model string, tokensIn, tokensOut int64) float64 {
	r := RateFor(provider, model)
	return float64(tokensIn)*r.InputPerMTok/1e6 + float64(tokensOut)*r.OutputPerMTok/1e6
}
