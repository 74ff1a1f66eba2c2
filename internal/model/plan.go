package model

import (
	"errors"
	"fmt"
	"strings"
)

// ImageKind tags an article image prompt.
type ImageKind string

// Image kinds produced by the planning call. KindHighlight is reserved for
// the game-of-the-week feature and never appears inside an article plan.
const (
	KindLogo      ImageKind = "logo"
	KindGameplay  ImageKind = "gameplay"
	KindArtwork   ImageKind = "artwork"
	KindHighlight ImageKind = "highlight"
)

// ImagesPerArticle is fixed at planning time and never changes afterwards.
const ImagesPerArticle = 3

// ArticleKind reports whether k may tag an image inside an article plan.
func (k ImageKind) ArticleKind() bool {
	switch k {
	case KindLogo, KindGameplay, KindArtwork:
		return true
	}
	return false
}

// ImagePrompt is one of the three image prompts of an article plan.
type ImagePrompt struct {
	Kind   ImageKind `json:"type"`
	Prompt string    `json:"prompt"`
}

// ArticlePlan is the blueprint of one article.
type ArticlePlan struct {
	Title         string        `json:"title"`
	ContentPrompt string        `json:"contentPrompt"`
	TipsPrompt    string        `json:"tipsPrompt"`
	ImagePrompts  []ImagePrompt `json:"imagePrompts"`
}

// HighlightPlan is the blueprint of the optional "game of the week" unit.
type HighlightPlan struct {
	Title             string `json:"title"`
	DescriptionPrompt string `json:"descriptionPrompt"`
	ImagePrompt       string `json:"imagePrompt"`
}

// Plan is the immutable output of the planning call. It is kept unmodified
// next to the working draft as the reset target for prompt edits.
type Plan struct {
	Title            string         `json:"title"`
	CoverImagePrompt string         `json:"coverImagePrompt"`
	Articles         []ArticlePlan  `json:"articles"`
	GameOfTheWeek    *HighlightPlan `json:"gameOfTheWeek,omitempty"`
}

// ErrInvalidPlan is returned by Plan.Validate.
var ErrInvalidPlan = errors.New("invalid plan")

// Validate checks the shape returned by the planning call.
func (p Plan) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidPlan)
	}
	if strings.TrimSpace(p.CoverImagePrompt) == "" {
		return fmt.Errorf("%w: missing cover image prompt", ErrInvalidPlan)
	}
	if len(p.Articles) == 0 {
		return fmt.Errorf("%w: no articles", ErrInvalidPlan)
	}
	for i, a := range p.Articles {
		if strings.TrimSpace(a.Title) == "" || strings.TrimSpace(a.ContentPrompt) == "" || strings.TrimSpace(a.TipsPrompt) == "" {
			return fmt.Errorf("%w: article %d is missing required fields", ErrInvalidPlan, i)
		}
		if len(a.ImagePrompts) != ImagesPerArticle {
			return fmt.Errorf("%w: article %d has %d image prompts, want %d", ErrInvalidPlan, i, len(a.ImagePrompts), ImagesPerArticle)
		}
		for j, ip := range a.ImagePrompts {
			if !ip.Kind.ArticleKind() {
				return fmt.Errorf("%w: article %d image %d has unknown type %q", ErrInvalidPlan, i, j, ip.Kind)
			}
			if strings.TrimSpace(ip.Prompt) == "" {
				return fmt.Errorf("%w: article %d image %d has an empty prompt", ErrInvalidPlan, i, j)
			}
		}
	}
	if h := p.GameOfTheWeek; h != nil {
		if strings.TrimSpace(h.Title) == "" || strings.TrimSpace(h.DescriptionPrompt) == "" || strings.TrimSpace(h.ImagePrompt) == "" {
			return fmt.Errorf("%w: game of the week is missing required fields", ErrInvalidPlan)
		}
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate a retained plan.
func (p Plan) Clone() Plan {
	out := p
	out.Articles = make([]ArticlePlan, len(p.Articles))
	for i, a := range p.Articles {
		a.ImagePrompts = append([]ImagePrompt(nil), a.ImagePrompts...)
		out.Articles[i] = a
	}
	if p.GameOfTheWeek != nil {
		h := *p.GameOfTheWeek
		out.GameOfTheWeek = &h
	}
	return out
}

// CreationType selects the editorial angle of a new magazine.
type CreationType string

const (
	CreationFree       CreationType = "free"
	CreationConsole    CreationType = "console"
	CreationGame       CreationType = "game"
	CreationGuide      CreationType = "guide"
	CreationDeveloper  CreationType = "developer"
	CreationRivalry    CreationType = "rivalry"
	CreationSoundtrack CreationType = "soundtrack"
)

var creationFraming = map[CreationType]string{
	CreationConsole:    "a dossier on the history, legacy and landmark games of the console %q",
	CreationGame:       "a special issue with an in-depth review of the game %q, including tips, trivia and secrets",
	CreationGuide:      "a walkthrough issue with secrets, bosses and strategies for the game %q",
	CreationDeveloper:  "the history and legacy of the studio or creator %q",
	CreationRivalry:    "the historic rivalry %q",
	CreationSoundtrack: "the soundtracks, composers and sound technology of %q",
}

// Frame turns a raw topic into the editorial brief sent to the planner.
func (c CreationType) Frame(topic string) string {
	if f, ok := creationFraming[c]; ok {
		return fmt.Sprintf(f, topic)
	}
	return topic
}

// Valid reports whether c is a known creation type. The empty value is
// treated as CreationFree.
func (c CreationType) Valid() bool {
	if c == "" || c == CreationFree {
		return true
	}
	_, ok := creationFraming[c]
	return ok
}
