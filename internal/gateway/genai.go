package gateway

import (
	"context"
	"fmt"
	"iter"
	"net/http"

	"google.golang.org/genai"
)

// GenAIGenerator calls the Gemini API through the official SDK.
// A client is constructed per call because the credential varies per attempt.
type GenAIGenerator struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

// GenAIOption customizes a GenAIGenerator.
type GenAIOption func(*GenAIGenerator)

// WithBaseURL points the generator at a different API endpoint.
func WithBaseURL(url string) GenAIOption {
	return func(g *GenAIGenerator) { g.baseURL = url }
}

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(c *http.Client) GenAIOption {
	return func(g *GenAIGenerator) { g.httpClient = c }
}

// NewGenAIGenerator creates a generator for the given model.
func NewGenAIGenerator(model string, opts ...GenAIOption) *GenAIGenerator {
	g := &GenAIGenerator{model: model}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GenAIGenerator) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.httpClient,
	}
	if g.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// Generate implements Generator.
func (g *GenAIGenerator) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	client, err := g.client(ctx, apiKey)
	if err != nil {
		return "", err
	}

	result, err := client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return result.Text(), nil
}

// GenerateStream implements Generator.
func (g *GenAIGenerator) GenerateStream(ctx context.Context, apiKey, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		client, err := g.client(ctx, apiKey)
		if err != nil {
			yield("", err)
			return
		}

		for resp, err := range client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), nil) {
			if err != nil {
				yield("", fmt.Errorf("generate content stream: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}
