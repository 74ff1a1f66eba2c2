package model

import (
	"fmt"
	"strings"
)

// KindCover is the pseudo kind used when generating the cover image.
const KindCover ImageKind = "cover"

// Quality selects the prompt modifiers applied to image generation.
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// ImageRef addresses one image slot of a draft for regeneration.
type ImageRef struct {
	Target  ImageKind // KindCover, KindHighlight, or empty for an article image
	Article int
	Image   int
}

// IsArticle reports whether r addresses an article image.
func (r ImageRef) IsArticle() bool {
	return r.Target != KindCover && r.Target != KindHighlight
}

// ParseImagePath resolves "cover", "gameOfTheWeek.image" or
// "articles.{i}.images.{j}".
func ParseImagePath(path string) (ImageRef, error) {
	switch path {
	case "cover", "coverImage":
		return ImageRef{Target: KindCover}, nil
	case "gameOfTheWeek.image":
		return ImageRef{Target: KindHighlight}, nil
	}
	parts := strings.Split(path, ".")
	if len(parts) == 4 && parts[0] == "articles" && parts[2] == "images" {
		i, err1 := parseIndex(parts[1])
		j, err2 := parseIndex(parts[3])
		if err1 == nil && err2 == nil {
			return ImageRef{Article: i, Image: j}, nil
		}
	}
	return ImageRef{}, fmt.Errorf("%w: image path %q", ErrUnknownField, path)
}

// Path renders the canonical path of r.
func (r ImageRef) Path() string {
	switch r.Target {
	case KindCover:
		return "cover"
	case KindHighlight:
		return "gameOfTheWeek.image"
	}
	return fmt.Sprintf("articles.%d.images.%d", r.Article, r.Image)
}

// ImageSlot returns the current prompt and kind stored at r.
func (m *Magazine) ImageSlot(r ImageRef) (prompt string, kind ImageKind, err error) {
	switch r.Target {
	case KindCover:
		return m.CoverImagePrompt, KindCover, nil
	case KindHighlight:
		if m.GameOfTheWeek == nil {
			return "", "", fmt.Errorf("%w: %s", ErrFieldOutOfRange, r.Path())
		}
		return m.GameOfTheWeek.ImagePrompt, KindHighlight, nil
	}
	if r.Article < 0 || r.Article >= len(m.Articles) {
		return "", "", fmt.Errorf("%w: %s", ErrFieldOutOfRange, r.Path())
	}
	a := m.Articles[r.Article]
	if r.Image < 0 || r.Image >= len(a.Images) {
		return "", "", fmt.Errorf("%w: %s", ErrFieldOutOfRange, r.Path())
	}
	img := a.Images[r.Image]
	return img.Prompt, img.Kind, nil
}

// SetImage stores a payload at r.
func (m *Magazine) SetImage(r ImageRef, payload string) error {
	switch r.Target {
	case KindCover:
		m.CoverImage = payload
		return nil
	case KindHighlight:
		if m.GameOfTheWeek == nil {
			return fmt.Errorf("%w: %s", ErrFieldOutOfRange, r.Path())
		}
		m.GameOfTheWeek.Image = payload
		return nil
	}
	if r.Article < 0 || r.Article >= len(m.Articles) || r.Image < 0 || r.Image >= len(m.Articles[r.Article].Images) {
		return fmt.Errorf("%w: %s", ErrFieldOutOfRange, r.Path())
	}
	m.Articles[r.Article].Images[r.Image].Image = payload
	return nil
}
