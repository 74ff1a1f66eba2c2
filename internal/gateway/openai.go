package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIBackend implements Backend with the official openai-go SDK. It
// also works with OpenAI-compatible services through a custom base URL.
type OpenAIBackend struct {
	client     openai.Client
	model      string
	imageModel string
}

// OpenAIOption configures the OpenAI backend.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	model      string
	imageModel string
	opts       []option.RequestOption
}

// WithModel sets the chat model (default: gpt-4o-mini).
func WithModel(model string) OpenAIOption {
	return func(c *openAIConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithImageModel sets the image model (default: gpt-image-1).
func WithImageModel(model string) OpenAIOption {
	return func(c *openAIConfig) {
		if model != "" {
			c.imageModel = model
		}
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) {
		if url != "" {
			c.opts = append(c.opts, option.WithBaseURL(strings.TrimRight(url, "/")+"/"))
		}
	}
}

// WithRequestOptions appends raw SDK options.
func WithRequestOptions(opts ...option.RequestOption) OpenAIOption {
	return func(c *openAIConfig) { c.opts = append(c.opts, opts...) }
}

// NewOpenAIBackend creates an OpenAI backend. SDK-level retries are
// disabled; the Gateway owns the retry policy.
func NewOpenAIBackend(apiKey string, opts ...OpenAIOption) *OpenAIBackend {
	cfg := &openAIConfig{
		model:      "gpt-4o-mini",
		imageModel: "gpt-image-1",
		opts:       []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &OpenAIBackend{
		client:     openai.NewClient(cfg.opts...),
		model:      cfg.model,
		imageModel: cfg.imageModel,
	}
}

// Plan asks for a JSON object response.
func (b *OpenAIBackend) Plan(ctx context.Context, req PlanRequest) (string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a magazine planner. Respond with a single JSON object and nothing else."),
			openai.UserMessage(req.Prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Text returns markdown in the journalist voice.
func (b *OpenAIBackend) Text(ctx context.Context, req TextRequest) (string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(journalistInstruction),
			openai.UserMessage(req.Prompt),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Image returns a base64 data URI.
func (b *OpenAIBackend) Image(ctx context.Context, req ImageRequest) (string, error) {
	params := openai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  openai.ImageModel(b.imageModel),
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize(b.sizeFor(req.AspectRatio)),
	}
	mimeType := "image/png"
	if b.isDallE() {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	} else {
		params.OutputFormat = openai.ImageGenerateParamsOutputFormat("jpeg")
		mimeType = "image/jpeg"
	}
	resp, err := b.client.Images.Generate(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", errors.New("openai: image generation returned no images")
	}
	return dataURIFromBase64(mimeType, resp.Data[0].B64JSON), nil
}

func (b *OpenAIBackend) isDallE() bool {
	return strings.HasPrefix(b.imageModel, "dall-e")
}

func (b *OpenAIBackend) sizeFor(aspect string) string {
	if b.isDallE() {
		switch aspect {
		case AspectPortrait:
			return "1024x1792"
		case AspectWide:
			return "1792x1024"
		}
		return "1024x1024"
	}
	switch aspect {
	case AspectPortrait:
		return "1024x1536"
	case AspectWide:
		return "1536x1024"
	}
	return "1024x1024"
}
