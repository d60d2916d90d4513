// Package generate provides the non-streaming text generation endpoint used
// by long-running tool jobs.
//
// Example usage:
//
//	gen, _ := generate.NewGemini(ctx,
//	    generate.WithAPIKey(os.Getenv("GOOGLE_API_KEY")),
//	    generate.WithModel("gemini-2.5-flash"),
//	)
//
//	resp, _ := gen.Generate(ctx, &generate.Request{
//	    System: "You write production code.",
//	    Prompt: "A Go function that reverses a string.",
//	})
package generate

import "context"

// Generator produces a complete text response for a prompt.
// Implementations must be safe for concurrent use.
type Generator interface {
	// Generate runs one request to completion.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Name identifies the backend in logs.
	Name() string
}

// Request for a single generation.
type Request struct {
	// Prompt is the user content.
	Prompt string

	// System is the system instruction. Optional.
	System string

	// Model overrides the default model.
	Model string

	// Temperature controls randomness. Zero uses the configured default.
	Temperature float64

	// MaxTokens limits the response length. Zero uses the configured default.
	MaxTokens int
}

// Response from a generation.
type Response struct {
	// Text is the concatenated response text.
	Text string

	// Model used for generation.
	Model string

	// Usage tracks token consumption.
	Usage Usage

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption for billing and limits.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
