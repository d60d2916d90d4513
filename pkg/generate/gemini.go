package generate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/teslashibe/go-live/internal/httpc"
)

const backendGemini = "gemini"

// Gemini implements Generator on the Gemini API through the genai SDK.
type Gemini struct {
	client *genai.Client
	config *Config
	logger *slog.Logger
}

// NewGemini creates a Gemini generator.
func NewGemini(ctx context.Context, opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, WrapError(backendGemini, err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpc.NewClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, WrapError(backendGemini, err)
	}

	return &Gemini{
		client: client,
		config: cfg,
		logger: cfg.Logger.With("component", "generate.gemini"),
	}, nil
}

// Name returns "gemini".
func (g *Gemini) Name() string {
	return backendGemini
}

// Generate runs one generateContent call.
func (g *Gemini) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = g.config.Model
	}
	temp := req.Temperature
	if temp == 0 {
		temp = g.config.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.config.MaxTokens
	}

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temp)),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), gc)
	if err != nil {
		return nil, g.convertError(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, WrapError(backendGemini, ErrEmptyResponse)
	}

	out := &Response{
		Text:      text,
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}

	g.logger.Debug("generation complete",
		"model", model,
		"latency_ms", out.LatencyMs,
		"tokens", out.Usage.TotalTokens,
	)
	return out, nil
}

func (g *Gemini) convertError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Status:     apiErr.Status,
			Backend:    backendGemini,
		}
	}
	return WrapError(backendGemini, err)
}

// Verify Gemini implements Generator at compile time.
var _ Generator = (*Gemini)(nil)
