package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yangwenmai/retromag/internal/logger"
	"github.com/yangwenmai/retromag/internal/model"
)

// Gateway wraps a Backend with prompt shaping, validation and retries.
type Gateway struct {
	backend Backend
	retry   RetryPolicy
	sleep   SleepFunc
	log     *logger.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(g *Gateway) { g.retry = p }
}

// WithSleep replaces the backoff sleeper, mostly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(g *Gateway) { g.sleep = fn }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// New creates a Gateway over b.
func New(b Backend, opts ...Option) *Gateway {
	g := &Gateway{
		backend: b,
		retry:   DefaultRetryPolicy(),
		sleep:   Sleep,
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PlanInput is the brief of a new issue.
type PlanInput struct {
	Topic      string             `json:"topic"`
	Type       model.CreationType `json:"type"`
	Deep       bool               `json:"deep"`
	SeriesName string             `json:"seriesName,omitempty"`
}

// ErrEmptyTopic is returned when planning is requested without a topic.
var ErrEmptyTopic = errors.New("topic is empty")

// PlanMagazine asks the backend for an issue plan and validates its shape.
// Validation failures are not retried.
func (g *Gateway) PlanMagazine(ctx context.Context, in PlanInput) (model.Plan, error) {
	if strings.TrimSpace(in.Topic) == "" {
		return model.Plan{}, model.NewFailure(model.FailurePlanning, "plan", ErrEmptyTopic)
	}
	if !in.Type.Valid() {
		return model.Plan{}, model.NewFailure(model.FailurePlanning, "plan", fmt.Errorf("unknown creation type %q", in.Type))
	}
	req := PlanRequest{Prompt: buildPlanPrompt(in), Schema: SchemaMagazine, Deep: in.Deep}
	raw, err := g.withRetry(ctx, model.FailurePlanning, "plan", func(ctx context.Context) (string, error) {
		return g.backend.Plan(ctx, req)
	})
	if err != nil {
		return model.Plan{}, err
	}

	var plan model.Plan
	if err := json.Unmarshal([]byte(stripFences(raw)), &plan); err != nil {
		return model.Plan{}, model.NewFailure(model.FailurePlanning, "plan",
			fmt.Errorf("%w: response is not valid JSON: %v", model.ErrInvalidPlan, err))
	}
	if err := plan.Validate(); err != nil {
		return model.Plan{}, model.NewFailure(model.FailurePlanning, "plan", err)
	}
	g.log.Info("magazine planned", "topic", in.Topic, "articles", len(plan.Articles), "deep", in.Deep)
	return plan, nil
}

// GenerateText produces markdown for prompt.
func (g *Gateway) GenerateText(ctx context.Context, prompt string) (string, error) {
	return g.withRetry(ctx, model.FailureText, "text", func(ctx context.Context) (string, error) {
		out, err := g.backend.Text(ctx, TextRequest{Prompt: prompt})
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(out) == "" {
			return "", errors.New("empty text response")
		}
		return out, nil
	})
}

// ImageOptions describes one image generation call.
type ImageOptions struct {
	Prompt         string
	Target         model.ImageKind
	Quality        model.Quality
	Modification   string
	IsRegeneration bool
	// Variation distinguishes consecutive regenerations of the same slot.
	Variation int
}

// GenerateImage produces a data URI for opts.
func (g *Gateway) GenerateImage(ctx context.Context, opts ImageOptions) (string, error) {
	kind, op := model.FailureImage, "image"
	if opts.IsRegeneration {
		kind, op = model.FailureRegeneration, "regenerate"
	}
	switch opts.Target {
	case model.KindCover, model.KindHighlight, model.KindLogo, model.KindGameplay, model.KindArtwork:
	default:
		return "", model.NewFailure(kind, op, fmt.Errorf("unknown image target %q", opts.Target))
	}
	req := ImageRequest{Prompt: buildImagePrompt(opts), AspectRatio: aspectFor(opts.Target)}
	return g.withRetry(ctx, kind, op, func(ctx context.Context) (string, error) {
		return g.image(ctx, req)
	})
}

// GenerateLogo produces a square identity logo for concept.
func (g *Gateway) GenerateLogo(ctx context.Context, concept string) (string, error) {
	if strings.TrimSpace(concept) == "" {
		return "", model.NewFailure(model.FailureImage, "logo", errors.New("logo concept is empty"))
	}
	req := ImageRequest{Prompt: buildLogoPrompt(concept), AspectRatio: AspectSquare}
	return g.withRetry(ctx, model.FailureImage, "logo", func(ctx context.Context) (string, error) {
		return g.image(ctx, req)
	})
}

func (g *Gateway) image(ctx context.Context, req ImageRequest) (string, error) {
	out, err := g.backend.Image(ctx, req)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(out, "data:") {
		return "", errors.New("image generation returned no image")
	}
	return out, nil
}

// PlanEditorialConcept produces an editorial concept from a brief.
func (g *Gateway) PlanEditorialConcept(ctx context.Context, in model.EditorialConceptInputs) (model.EditorialConcept, error) {
	if err := in.Validate(); err != nil {
		return model.EditorialConcept{}, model.NewFailure(model.FailurePlanning, "concept", err)
	}
	req := PlanRequest{Prompt: buildConceptPrompt(in), Schema: SchemaConcept}
	raw, err := g.withRetry(ctx, model.FailurePlanning, "concept", func(ctx context.Context) (string, error) {
		return g.backend.Plan(ctx, req)
	})
	if err != nil {
		return model.EditorialConcept{}, err
	}
	var concept model.EditorialConcept
	if err := json.Unmarshal([]byte(stripFences(raw)), &concept); err != nil {
		return model.EditorialConcept{}, model.NewFailure(model.FailurePlanning, "concept",
			fmt.Errorf("response is not valid JSON: %w", err))
	}
	if err := concept.Validate(); err != nil {
		return model.EditorialConcept{}, model.NewFailure(model.FailurePlanning, "concept", err)
	}
	return concept, nil
}
