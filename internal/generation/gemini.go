// Package generation turns prompts into narrative text using Google's Gemini API.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

var (
	// ErrEmptyPrompt indicates the caller supplied no prompt text.
	ErrEmptyPrompt = errors.New("generation: prompt is empty")
	// ErrEmptyCompletion indicates the model answered without any text.
	ErrEmptyCompletion = errors.New("generation: empty completion")
)

// GeminiConfig configures the Gemini-backed generator.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	// BaseURL overrides the API endpoint; used to point at a local fake.
	BaseURL string
}

// GeminiGenerator produces completions with the genai client.
type GeminiGenerator struct {
	models  contentGenerator
	model   string
	timeout time.Duration
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGeminiGenerator creates the genai client for the Gemini developer API.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("generation: api key is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("generation: create genai client: %w", err)
	}
	return newGeminiGenerator(client.Models, cfg.Model, cfg.Timeout), nil
}

func newGeminiGenerator(models contentGenerator, model string, timeout time.Duration) *GeminiGenerator {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	return &GeminiGenerator{models: models, model: model, timeout: timeout}
}

// Generate sends the prompt as a single user turn and returns the concatenated text parts.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	response, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generation: %s: %w", g.model, err)
	}
	text := strings.TrimSpace(response.Text())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// Model reports the configured model name.
func (g *GeminiGenerator) Model() string {
	return g.model
}
