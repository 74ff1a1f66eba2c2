package model

import (
	"errors"
	"fmt"
	"time"
)

// ArticleImage is one generated illustration of an article.
type ArticleImage struct {
	ID     string    `json:"id"`
	Kind   ImageKind `json:"type"`
	Prompt string    `json:"prompt"`
	Image  string    `json:"url"` // data URI, empty until generated
}

// Article is the working copy of one planned article.
type Article struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	ContentPrompt string         `json:"contentPrompt"`
	TipsPrompt    string         `json:"tipsPrompt"`
	Content       string         `json:"content"` // markdown
	Tips          string         `json:"tips"`    // markdown
	Images        []ArticleImage `json:"images"`
}

// Highlight is the optional "game of the week" feature.
type Highlight struct {
	Title             string `json:"title"`
	DescriptionPrompt string `json:"descriptionPrompt"`
	ImagePrompt       string `json:"imagePrompt"`
	Description       string `json:"description"`
	Image             string `json:"image"`
}

// Magazine is the mutable working document derived from a Plan.
type Magazine struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Logo             string     `json:"logo,omitempty"`
	CoverImagePrompt string     `json:"coverImagePrompt"`
	CoverImage       string     `json:"coverImage"`
	Articles         []Article  `json:"articles"`
	GameOfTheWeek    *Highlight `json:"gameOfTheWeek,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// ArticleID is the stable identifier of the i-th article.
func ArticleID(i int) string { return fmt.Sprintf("article-%d", i) }

// ArticleImageID is the stable identifier of image j of article i.
func ArticleImageID(i, j int) string { return fmt.Sprintf("article-%d-image-%d", i, j) }

// Clone returns a deep copy of m.
func (m Magazine) Clone() Magazine {
	out := m
	out.Articles = make([]Article, len(m.Articles))
	for i, a := range m.Articles {
		a.Images = append([]ArticleImage(nil), a.Images...)
		out.Articles[i] = a
	}
	if m.GameOfTheWeek != nil {
		h := *m.GameOfTheWeek
		out.GameOfTheWeek = &h
	}
	return out
}

// Light returns a deep copy with every image payload stripped, the form
// used for persistence and version history.
func (m Magazine) Light() Magazine {
	out := m.Clone()
	out.Logo = ""
	out.CoverImage = ""
	for i := range out.Articles {
		for j := range out.Articles[i].Images {
			out.Articles[i].Images[j].Image = ""
		}
	}
	if out.GameOfTheWeek != nil {
		out.GameOfTheWeek.Image = ""
	}
	return out
}

// ErrCorruptedDraft reports a stored draft missing required sub-objects.
var ErrCorruptedDraft = errors.New("corrupted draft")

// Validate detects documents that cannot have been produced by
// CreateSkeleton, typically a damaged persisted record.
func (m Magazine) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrCorruptedDraft)
	}
	if m.Articles == nil {
		return fmt.Errorf("%w: missing articles", ErrCorruptedDraft)
	}
	for i, a := range m.Articles {
		if len(a.Images) != ImagesPerArticle {
			return fmt.Errorf("%w: article %d has %d images", ErrCorruptedDraft, i, len(a.Images))
		}
	}
	return nil
}

// Units lists the generatable units of m in generation order.
func (m Magazine) Units() []UnitKey {
	units := make([]UnitKey, 0, len(m.Articles)+2)
	units = append(units, UnitCover)
	for i := range m.Articles {
		units = append(units, ArticleUnit(i))
	}
	if m.GameOfTheWeek != nil {
		units = append(units, UnitGameOfTheWeek)
	}
	return units
}

// Structure derives the editable plan view of m: the current prompts laid
// out in Plan shape. It is always in sync with prompt edits because it is
// computed from the draft itself.
func (m Magazine) Structure() Plan {
	p := Plan{
		Title:            m.Title,
		CoverImagePrompt: m.CoverImagePrompt,
		Articles:         make([]ArticlePlan, len(m.Articles)),
	}
	for i, a := range m.Articles {
		ap := ArticlePlan{
			Title:         a.Title,
			ContentPrompt: a.ContentPrompt,
			TipsPrompt:    a.TipsPrompt,
			ImagePrompts:  make([]ImagePrompt, len(a.Images)),
		}
		for j, img := range a.Images {
			ap.ImagePrompts[j] = ImagePrompt{Kind: img.Kind, Prompt: img.Prompt}
		}
		p.Articles[i] = ap
	}
	if h := m.GameOfTheWeek; h != nil {
		p.GameOfTheWeek = &HighlightPlan{Title: h.Title, DescriptionPrompt: h.DescriptionPrompt, ImagePrompt: h.ImagePrompt}
	}
	return p
}
