package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FieldKind enumerates the editable leaves of a draft.
type FieldKind int

const (
	FieldTitle FieldKind = iota + 1
	FieldCoverPrompt
	FieldArticleTitle
	FieldArticleContent
	FieldArticleTips
	FieldArticleContentPrompt
	FieldArticleTipsPrompt
	FieldImagePrompt
	FieldHighlightTitle
	FieldHighlightDescription
	FieldHighlightDescriptionPrompt
	FieldHighlightImagePrompt
)

var (
	// ErrUnknownField is returned for paths outside the closed field set.
	ErrUnknownField = errors.New("unknown field")
	// ErrFieldOutOfRange is returned when a well-formed reference points
	// past the articles or images of the current draft.
	ErrFieldOutOfRange = errors.New("field out of range")
)

// FieldRef addresses one editable field. Article and Image are only
// meaningful for the kinds that need them.
type FieldRef struct {
	Kind    FieldKind
	Article int
	Image   int
}

var (
	topLevelFields = map[string]FieldKind{
		"title":            FieldTitle,
		"coverImagePrompt": FieldCoverPrompt,
	}
	articleFields = map[string]FieldKind{
		"title":         FieldArticleTitle,
		"content":       FieldArticleContent,
		"tips":          FieldArticleTips,
		"contentPrompt": FieldArticleContentPrompt,
		"tipsPrompt":    FieldArticleTipsPrompt,
	}
	highlightFields = map[string]FieldKind{
		"title":             FieldHighlightTitle,
		"description":       FieldHighlightDescription,
		"descriptionPrompt": FieldHighlightDescriptionPrompt,
		"imagePrompt":       FieldHighlightImagePrompt,
	}
)

// ParseField resolves a dot/index path such as "articles.1.title" or
// "articles.0.imagePrompts.2.prompt".
func ParseField(path string) (FieldRef, error) {
	parts := strings.Split(path, ".")
	switch {
	case len(parts) == 1:
		if k, ok := topLevelFields[parts[0]]; ok {
			return FieldRef{Kind: k}, nil
		}
	case parts[0] == "gameOfTheWeek" && len(parts) == 2:
		if k, ok := highlightFields[parts[1]]; ok {
			return FieldRef{Kind: k}, nil
		}
	case parts[0] == "articles" && len(parts) == 3:
		i, err := parseIndex(parts[1])
		if err == nil {
			if k, ok := articleFields[parts[2]]; ok {
				return FieldRef{Kind: k, Article: i}, nil
			}
		}
	case parts[0] == "articles" && len(parts) == 5 && parts[2] == "imagePrompts" && parts[4] == "prompt":
		i, err1 := parseIndex(parts[1])
		j, err2 := parseIndex(parts[3])
		if err1 == nil && err2 == nil {
			return FieldRef{Kind: FieldImagePrompt, Article: i, Image: j}, nil
		}
	}
	return FieldRef{}, fmt.Errorf("%w: %q", ErrUnknownField, path)
}

// parseIndex accepts canonical decimal indexes only: no sign and no
// leading zeros, so every path has exactly one spelling.
func parseIndex(s string) (int, error) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, fmt.Errorf("bad index %q", s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("bad index %q", s)
		}
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad index %q", s)
	}
	return i, nil
}

// Path renders the canonical path of r. ParseField(r.Path()) == r.
func (r FieldRef) Path() string {
	switch r.Kind {
	case FieldTitle:
		return "title"
	case FieldCoverPrompt:
		return "coverImagePrompt"
	case FieldArticleTitle:
		return fmt.Sprintf("articles.%d.title", r.Article)
	case FieldArticleContent:
		return fmt.Sprintf("articles.%d.content", r.Article)
	case FieldArticleTips:
		return fmt.Sprintf("articles.%d.tips", r.Article)
	case FieldArticleContentPrompt:
		return fmt.Sprintf("articles.%d.contentPrompt", r.Article)
	case FieldArticleTipsPrompt:
		return fmt.Sprintf("articles.%d.tipsPrompt", r.Article)
	case FieldImagePrompt:
		return fmt.Sprintf("articles.%d.imagePrompts.%d.prompt", r.Article, r.Image)
	case FieldHighlightTitle:
		return "gameOfTheWeek.title"
	case FieldHighlightDescription:
		return "gameOfTheWeek.description"
	case FieldHighlightDescriptionPrompt:
		return "gameOfTheWeek.descriptionPrompt"
	case FieldHighlightImagePrompt:
		return "gameOfTheWeek.imagePrompt"
	}
	return ""
}

// IsPrompt reports whether r belongs to the prompt namespace (generation
// inputs) rather than the generated content namespace.
func (r FieldRef) IsPrompt() bool {
	switch r.Kind {
	case FieldCoverPrompt, FieldArticleContentPrompt, FieldArticleTipsPrompt,
		FieldImagePrompt, FieldHighlightDescriptionPrompt, FieldHighlightImagePrompt:
		return true
	}
	return false
}

func (r FieldRef) String() string { return r.Path() }

// Fields enumerates every editable field of m.
func Fields(m Magazine) []FieldRef {
	refs := []FieldRef{{Kind: FieldTitle}, {Kind: FieldCoverPrompt}}
	for i, a := range m.Articles {
		refs = append(refs,
			FieldRef{Kind: FieldArticleTitle, Article: i},
			FieldRef{Kind: FieldArticleContent, Article: i},
			FieldRef{Kind: FieldArticleTips, Article: i},
			FieldRef{Kind: FieldArticleContentPrompt, Article: i},
			FieldRef{Kind: FieldArticleTipsPrompt, Article: i},
		)
		for j := range a.Images {
			refs = append(refs, FieldRef{Kind: FieldImagePrompt, Article: i, Image: j})
		}
	}
	if m.GameOfTheWeek != nil {
		refs = append(refs,
			FieldRef{Kind: FieldHighlightTitle},
			FieldRef{Kind: FieldHighlightDescription},
			FieldRef{Kind: FieldHighlightDescriptionPrompt},
			FieldRef{Kind: FieldHighlightImagePrompt},
		)
	}
	return refs
}

// field returns a pointer to the string addressed by r.
func (m *Magazine) field(r FieldRef) (*string, error) {
	switch r.Kind {
	case FieldTitle:
		return &m.Title, nil
	case FieldCoverPrompt:
		return &m.CoverImagePrompt, nil
	case FieldArticleTitle, FieldArticleContent, FieldArticleTips,
		FieldArticleContentPrompt, FieldArticleTipsPrompt, FieldImagePrompt:
		if r.Article < 0 || r.Article >= len(m.Articles) {
			return nil, fmt.Errorf("%w: %s", ErrFieldOutOfRange, r.Path())
		}
		a := &m.Articles[r.Article]
		switch r.Kind {
		case FieldArticleTitle:
			return &a.Title, nil
		case FieldArticleContent:
			return &a.Content, nil
		case FieldArticleTips:
			return &a.Tips, nil
		case FieldArticleContentPrompt:
			return &a.ContentPrompt, nil
		case FieldArticleTipsPrompt:
			return &a.TipsPrompt, nil
		}
		if r.Image < 0 || r.Image >= len(a.Images) {
			return nil, fmt.Errorf("%w: %s", ErrFieldOutOfRange, r.Path())
		}
		return &a.Images[r.Image].Prompt, nil
	case FieldHighlightTitle, FieldHighlightDescription,
		FieldHighlightDescriptionPrompt, FieldHighlightImagePrompt:
		h := m.GameOfTheWeek
		if h == nil {
			return nil, fmt.Errorf("%w: %s", ErrFieldOutOfRange, r.Path())
		}
		switch r.Kind {
		case FieldHighlightTitle:
			return &h.Title, nil
		case FieldHighlightDescription:
			return &h.Description, nil
		case FieldHighlightDescriptionPrompt:
			return &h.DescriptionPrompt, nil
		}
		return &h.ImagePrompt, nil
	}
	return nil, fmt.Errorf("%w: kind %d", ErrUnknownField, r.Kind)
}

// Get reads the field addressed by r.
func (m *Magazine) Get(r FieldRef) (string, error) {
	p, err := m.field(r)
	if err != nil {
		return "", err
	}
	return *p, nil
}

// Set writes the field addressed by r and reports whether it changed.
func (m *Magazine) Set(r FieldRef, value string) (bool, error) {
	p, err := m.field(r)
	if err != nil {
		return false, err
	}
	if *p == value {
		return false, nil
	}
	*p = value
	return true, nil
}

// PlanValue returns the original plan value for a prompt field, the
// target of a reset. Content fields have no plan value except titles.
func (p Plan) PlanValue(r FieldRef) (string, error) {
	switch r.Kind {
	case FieldTitle:
		return p.Title, nil
	case FieldCoverPrompt:
		return p.CoverImagePrompt, nil
	case FieldArticleTitle, FieldArticleContentPrompt, FieldArticleTipsPrompt, FieldImagePrompt:
		if r.Article < 0 || r.Article >= len(p.Articles) {
			return "", fmt.Errorf("%w: %s", ErrFieldOutOfRange, r.Path())
		}
		a := p.Articles[r.Article]
		switch r.Kind {
		case FieldArticleTitle:
			return a.Title, nil
		case FieldArticleContentPrompt:
			return a.ContentPrompt, nil
		case FieldArticleTipsPrompt:
			return a.TipsPrompt, nil
		}
		if r.Image < 0 || r.Image >= len(a.ImagePrompts) {
			return "", fmt.Errorf("%w: %s", ErrFieldOutOfRange, r.Path())
		}
		return a.ImagePrompts[r.Image].Prompt, nil
	case FieldHighlightTitle, FieldHighlightDescriptionPrompt, FieldHighlightImagePrompt:
		h := p.GameOfTheWeek
		if h == nil {
			return "", fmt.Errorf("%w: %s", ErrFieldOutOfRange, r.Path())
		}
		switch r.Kind {
		case FieldHighlightTitle:
			return h.Title, nil
		case FieldHighlightDescriptionPrompt:
			return h.DescriptionPrompt, nil
		}
		return h.ImagePrompt, nil
	}
	return "", fmt.Errorf("%w: %s has no plan value", ErrUnknownField, r.Path())
}
