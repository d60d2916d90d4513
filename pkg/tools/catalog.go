package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/teslashibe/go-live/pkg/generate"
)

// Tool names advertised to the live model.
const (
	GenerateCode = "generate_code"
	DraftText    = "draft_text"
)

// GenerateCodeArgs are the arguments of generate_code.
type GenerateCodeArgs struct {
	Description string `json:"description" jsonschema:"description=What the code should do"`
	Language    string `json:"language,omitempty" jsonschema:"description=Programming language of the result such as go or python"`
}

// DraftTextArgs are the arguments of draft_text.
type DraftTextArgs struct {
	Topic string `json:"topic" jsonschema:"description=What the text is about"`
	Style string `json:"style,omitempty" jsonschema:"description=Tone or format such as email or bullet list"`
}

// CatalogOptions tune the built-in tools.
type CatalogOptions struct {
	// Model overrides the generator's default model.
	Model string

	// Temperature overrides the generator's default temperature.
	Temperature float64
}

// Catalog returns the built-in long-running tools backed by gen.
func Catalog(gen generate.Generator, opts CatalogOptions) []Tool {
	return []Tool{
		{
			Name:        GenerateCode,
			Description: "Write source code for the user. Use this when the user asks for a program, function or script. The result is shown on screen, so only summarize it aloud.",
			Parameters:  Schema(&GenerateCodeArgs{}),
			Handler: func(ctx context.Context, raw map[string]any) (string, error) {
				var args GenerateCodeArgs
				if err := decodeArgs(raw, &args); err != nil {
					return "", err
				}
				if strings.TrimSpace(args.Description) == "" {
					return "", fmt.Errorf("%w: description is required", ErrInvalidArgs)
				}
				lang := args.Language
				if lang == "" {
					lang = "the most suitable language"
				}
				return generateText(ctx, gen, opts, &generate.Request{
					System: "You are an expert programmer. Reply with only the code, no prose and no markdown fences.",
					Prompt: fmt.Sprintf("Write code in %s that does the following:\n%s", lang, args.Description),
				})
			},
		},
		{
			Name:        DraftText,
			Description: "Draft a longer piece of writing such as an email, summary or outline. The result is shown on screen, so only summarize it aloud.",
			Parameters:  Schema(&DraftTextArgs{}),
			Handler: func(ctx context.Context, raw map[string]any) (string, error) {
				var args DraftTextArgs
				if err := decodeArgs(raw, &args); err != nil {
					return "", err
				}
				if strings.TrimSpace(args.Topic) == "" {
					return "", fmt.Errorf("%w: topic is required", ErrInvalidArgs)
				}
				prompt := "Write about: " + args.Topic
				if args.Style != "" {
					prompt += "\nStyle: " + args.Style
				}
				return generateText(ctx, gen, opts, &generate.Request{
					System: "You are a careful writer. Reply with only the requested text.",
					Prompt: prompt,
				})
			},
		},
	}
}

func generateText(ctx context.Context, gen generate.Generator, opts CatalogOptions, req *generate.Request) (string, error) {
	req.Model = opts.Model
	req.Temperature = opts.Temperature
	resp, err := gen.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
