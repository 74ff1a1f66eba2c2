package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	googlegenai "google.golang.org/genai"
)

// imagenClient renders images through the Models.GenerateImages call of
// the unified Google Gen AI SDK.
type imagenClient struct {
	models *googlegenai.Models
	model  string
}

type imagenConfig struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func newImagenClient(ctx context.Context, cfg imagenConfig) (*imagenClient, error) {
	cc := &googlegenai.ClientConfig{
		APIKey:     cfg.apiKey,
		Backend:    googlegenai.BackendGeminiAPI,
		HTTPClient: cfg.httpClient,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = googlegenai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := googlegenai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create imagen client: %w", err)
	}
	return &imagenClient{models: client.Models, model: cfg.model}, nil
}

func (c *imagenClient) generate(ctx context.Context, prompt, aspect string) (string, error) {
	resp, err := c.models.GenerateImages(ctx, c.model, prompt, &googlegenai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    aspect,
		OutputMIMEType: "image/jpeg",
	})
	if err != nil {
		return "", fmt.Errorf("imagen generate: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil ||
		len(resp.GeneratedImages[0].Image.ImageBytes) == 0 {
		return "", fmt.Errorf("imagen returned no images")
	}
	img := resp.GeneratedImages[0].Image
	return dataURIFromBase64(img.MIMEType, base64.StdEncoding.EncodeToString(img.ImageBytes)), nil
}
