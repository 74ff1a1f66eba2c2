package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiBackend serves plans and text through the generative-ai-go SDK
// and images through the Gen AI SDK's Imagen support.
type GeminiBackend struct {
	client    *genai.Client
	fastModel string
	deepModel string
	imagenCfg imagenConfig
	imagen    *imagenClient
}

// GeminiOption configures the Gemini backend.
type GeminiOption func(*GeminiBackend)

// WithGeminiModels sets the fast and deep model names.
func WithGeminiModels(fast, deep string) GeminiOption {
	return func(b *GeminiBackend) {
		if fast != "" {
			b.fastModel = fast
		}
		if deep != "" {
			b.deepModel = deep
		}
	}
}

// WithImagenModel sets the image model name.
func WithImagenModel(model string) GeminiOption {
	return func(b *GeminiBackend) {
		if model != "" {
			b.imagenCfg.model = model
		}
	}
}

// WithImagenBaseURL overrides the Gen AI API base URL used for images.
func WithImagenBaseURL(url string) GeminiOption {
	return func(b *GeminiBackend) { b.imagenCfg.baseURL = url }
}

// WithGeminiTimeout sets the timeout of image requests.
func WithGeminiTimeout(d time.Duration) GeminiOption {
	return func(b *GeminiBackend) { b.imagenCfg.httpClient.Timeout = d }
}

// NewGeminiBackend creates a backend authenticated with apiKey.
func NewGeminiBackend(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	b := &GeminiBackend{
		client:    client,
		fastModel: "gemini-2.5-flash",
		deepModel: "gemini-2.5-pro",
		imagenCfg: imagenConfig{
			apiKey:     apiKey,
			model:      "imagen-4.0-generate-001",
			httpClient: &http.Client{Timeout: 120 * time.Second},
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.imagen, err = newImagenClient(ctx, b.imagenCfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	return b, nil
}

// Plan returns JSON constrained by the response schema of req.Schema.
func (b *GeminiBackend) Plan(ctx context.Context, req PlanRequest) (string, error) {
	name := b.fastModel
	if req.Deep {
		name = b.deepModel
	}
	m := b.client.GenerativeModel(name)
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = schemaFor(req.Schema)
	return generate(ctx, m, req.Prompt)
}

// Text returns markdown written in the magazine's journalist voice.
func (b *GeminiBackend) Text(ctx context.Context, req TextRequest) (string, error) {
	m := b.client.GenerativeModel(b.fastModel)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(journalistInstruction)}}
	return generate(ctx, m, req.Prompt)
}

// Image returns a JPEG data URI from Imagen.
func (b *GeminiBackend) Image(ctx context.Context, req ImageRequest) (string, error) {
	return b.imagen.generate(ctx, req.Prompt, req.AspectRatio)
}

// Close closes the underlying genai client.
func (b *GeminiBackend) Close() error {
	return b.client.Close()
}

func generate(ctx context.Context, m *genai.GenerativeModel, prompt string) (string, error) {
	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text")
	}
	return sb.String(), nil
}
