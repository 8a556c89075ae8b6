package core

// GenerateRequest is a single text-generation call.
type GenerateRequest struct {
	Prompt        string
	MaxTokens     int
	Temperature   float64
	StopSequences []string
}
