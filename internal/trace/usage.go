package trace

// Usage is the token accounting reported with a completed response.
type Usage struct {
	TotalTokens        int64              `json:"total_tokens"`
	InputTokens        int64              `json:"input_tokens"`
	OutputTokens       int64              `json:"output_tokens"`
	InputTokenDetails  InputTokenDetails  `json:"input_token_details"`
	OutputTokenDetails OutputTokenDetails `json:"output_token_details"`
}

type InputTokenDetails struct {
	CachedTokens int64 `json:"cached_tokens"`
	TextTokens   int64 `json:"text_tokens"`
	AudioTokens  int64 `json:"audio_tokens"`
}

type OutputTokenDetails struct {
	TextTokens  int64 `json:"text_tokens"`
	AudioTokens int64 `json:"audio_tokens"`
}

// Pricing holds USD rates per million tokens.
type Pricing struct {
	InputText   float64
	InputAudio  float64
	OutputText  float64
	OutputAudio float64
}

// DefaultPricing returns the published gpt-4o realtime preview rates.
func DefaultPricing() Pricing {
	return Pricing{InputText: 5, InputAudio: 100, OutputText: 20, OutputAudio: 200}
}

type Cost struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
	Total  float64 `json:"total"`
}

// Cost prices u. Missing detail counts are zero.
func (p Pricing) Cost(u Usage) Cost {
	in := float64(u.InputTokenDetails.TextTokens)/1e6*p.InputText +
		float64(u.InputTokenDetails.AudioTokens)/1e6*p.InputAudio
	out := float64(u.OutputTokenDetails.TextTokens)/1e6*p.OutputText +
		float64(u.OutputTokenDetails.AudioTokens)/1e6*p.OutputAudio
	return Cost{Input: in, Output: out, Total: in + out}
}
