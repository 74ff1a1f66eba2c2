// Package gateway is the retrying adapter between the orchestrator and a
// generative backend. Backends are black boxes: structured plan, text and
// image generation.
package gateway

import (
	"context"
	"encoding/base64"
)

// Backend is a remote model provider.
type Backend interface {
	// Plan returns raw JSON shaped by req.Schema.
	Plan(ctx context.Context, req PlanRequest) (string, error)
	// Text returns markdown.
	Text(ctx context.Context, req TextRequest) (string, error)
	// Image returns a data URI. An empty payload must be reported as an error.
	Image(ctx context.Context, req ImageRequest) (string, error)
}

// SchemaKind selects the JSON document a planning call must produce.
type SchemaKind int

const (
	SchemaMagazine SchemaKind = iota
	SchemaConcept
)

// PlanRequest is a structured planning call.
type PlanRequest struct {
	Prompt string
	Schema SchemaKind
	Deep   bool
}

// TextRequest is a free-form text call.
type TextRequest struct {
	Prompt string
}

// ImageRequest is a single image call.
type ImageRequest struct {
	Prompt      string
	AspectRatio string
}

// Aspect ratios accepted by the image backends.
const (
	AspectPortrait = "3:4"
	AspectWide     = "16:9"
	AspectSquare   = "1:1"
)

// DataURI encodes raw image bytes.
func DataURI(mimeType string, raw []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(raw)
}

// dataURIFromBase64 wraps an already base64-encoded payload.
func dataURIFromBase64(mimeType, b64 string) string {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + b64
}
