package model

import (
	"errors"
	"fmt"
	"strings"
)

// VisualIdentity is the magazine name and logo, kept independently of any
// specific draft.
type VisualIdentity struct {
	Name string `json:"name"`
	Logo string `json:"logo"`
}

// DefaultSeriesName is used when no identity has been saved.
const DefaultSeriesName = "Retrô Gamer AI"

// EditorialStyle is one of the publication formats offered by the concept
// planner.
type EditorialStyle string

const (
	StyleMagazine EditorialStyle = "Magazine"
	StyleJornal   EditorialStyle = "Jornal"
	StyleComics   EditorialStyle = "Quadrinhos"
	StyleManga    EditorialStyle = "Mangá"
	StyleBook     EditorialStyle = "Livro"
	StyleZine     EditorialStyle = "Zine"
)

// MaxEditorialStyles caps the styles combined in one concept.
const MaxEditorialStyles = 2

var knownStyles = map[EditorialStyle]bool{
	StyleMagazine: true, StyleJornal: true, StyleComics: true,
	StyleManga: true, StyleBook: true, StyleZine: true,
}

// EditorialConceptInputs is the brief for the editorial concept planner.
type EditorialConceptInputs struct {
	PublicationTitle string           `json:"publicationTitle"`
	MainTheme        string           `json:"mainTheme"`
	TargetAudience   string           `json:"targetAudience"`
	EditorialStyles  []EditorialStyle `json:"editorialStyles"`
	VisualHighlight  string           `json:"visualHighlight"`
	DominantColor    string           `json:"dominantColor"`
}

// ErrInvalidConceptInputs is returned by EditorialConceptInputs.Validate.
var ErrInvalidConceptInputs = errors.New("invalid editorial concept inputs")

// Validate requires every field and one or two known styles.
func (in EditorialConceptInputs) Validate() error {
	for name, v := range map[string]string{
		"publicationTitle": in.PublicationTitle,
		"mainTheme":        in.MainTheme,
		"targetAudience":   in.TargetAudience,
		"visualHighlight":  in.VisualHighlight,
		"dominantColor":    in.DominantColor,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidConceptInputs, name)
		}
	}
	if n := len(in.EditorialStyles); n == 0 || n > MaxEditorialStyles {
		return fmt.Errorf("%w: choose 1 to %d styles, got %d", ErrInvalidConceptInputs, MaxEditorialStyles, n)
	}
	for _, s := range in.EditorialStyles {
		if !knownStyles[s] {
			return fmt.Errorf("%w: unknown style %q", ErrInvalidConceptInputs, s)
		}
	}
	return nil
}

// TechnicalSheet summarises an editorial concept.
type TechnicalSheet struct {
	Title          string   `json:"title"`
	Format         string   `json:"format"`
	TargetAudience string   `json:"targetAudience"`
	Tone           string   `json:"tone"`
	Palette        []string `json:"palette"`
}

// CoverConcept describes the cover and main headline.
type CoverConcept struct {
	Headline    string `json:"headline"`
	Subheadline string `json:"subheadline"`
	Description string `json:"description"`
}

// EditorialConcept is the separate planning artifact produced from
// EditorialConceptInputs.
type EditorialConcept struct {
	TechnicalSheet        TechnicalSheet `json:"technicalSheet"`
	CoverConcept          CoverConcept   `json:"coverConcept"`
	InternalLayout        string         `json:"internalLayout"`
	ImageGenerationPrompt string         `json:"imageGenerationPrompt"`
}

// Validate rejects concepts missing the parts shown to the user.
func (c EditorialConcept) Validate() error {
	if strings.TrimSpace(c.TechnicalSheet.Title) == "" || strings.TrimSpace(c.CoverConcept.Headline) == "" ||
		strings.TrimSpace(c.ImageGenerationPrompt) == "" {
		return errors.New("editorial concept is missing required sections")
	}
	return nil
}

// FinalDraft bundles the independently produced artifacts for review and
// export. Each component may be nil.
type FinalDraft struct {
	Identity *VisualIdentity   `json:"identity,omitempty"`
	Concept  *EditorialConcept `json:"concept,omitempty"`
	Magazine *Magazine         `json:"magazine,omitempty"`
}

// NonEmpty reports whether any component is present.
func (d FinalDraft) NonEmpty() bool {
	return d.Identity != nil || d.Concept != nil || d.Magazine != nil
}
