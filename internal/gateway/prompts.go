package gateway

import (
	"fmt"
	"strings"

	"github.com/yangwenmai/retromag/internal/model"
)

// ArticlesPerIssue is the number of articles requested from the planner.
const ArticlesPerIssue = 5

// journalistInstruction is the system instruction for article text.
const journalistInstruction = "You are a journalist at a 90s video game magazine. Your writing is exciting, " +
	"full of period slang and very informative. Write in Brazilian Portuguese and format the text using simple Markdown."

const highQualitySuffix = ", masterpiece, ultra detailed, high fidelity pixel art, best quality, cinematic lighting"

const planJSONShape = `{"title": "...", "coverImagePrompt": "...",
 "articles": [{"title": "...", "contentPrompt": "...", "tipsPrompt": "...",
   "imagePrompts": [{"type": "logo", "prompt": "..."}, {"type": "gameplay", "prompt": "..."}, {"type": "artwork", "prompt": "..."}]}],
 "gameOfTheWeek": {"title": "...", "descriptionPrompt": "...", "imagePrompt": "..."}}`

func buildPlanPrompt(in PlanInput) string {
	series := in.SeriesName
	if strings.TrimSpace(series) == "" {
		series = model.DefaultSeriesName
	}
	var b strings.Builder
	fmt.Fprintf(&b, `You are the editor of a 90s retro video game magazine called "%s".
Plan a new issue based on this brief: "%s".
The tone is fun, informative and nostalgic. The issue has exactly %d articles.

Cover: write a highly detailed English image prompt in a "vibrant 16-bit pixel art" or "90s Japanese box art" style,
with a dynamic cinematic action scene, dramatic lighting and vibrant colors.

For each article provide, in Brazilian Portuguese, a title, a prompt to generate its body text
(informative and fun, simple Markdown with "###" subtitles) and a prompt for a "Tips & Tricks" section
(2 to 4 tips as a Markdown bullet list). Also provide exactly %d English image prompts, one of each type:
"logo", "gameplay" and "artwork". For articles about a console, the "artwork" prompt depicts the hardware.

Optionally add a "game of the week" highlight with a title, a description prompt and an English image prompt.

Output ONLY valid JSON with this exact structure:
%s`, series, in.Type.Frame(in.Topic), ArticlesPerIssue, model.ImagesPerArticle, planJSONShape)
	if in.Deep {
		b.WriteString("\n\nDEEP MODE: cover the brief with maximum depth, unique insights and detailed critical analysis. ")
		b.WriteString("Writing must be professional and the generated prompts must reflect that complexity.")
	}
	return b.String()
}

const conceptJSONShape = `{"technicalSheet": {"title": "...", "format": "...", "targetAudience": "...", "tone": "...", "palette": ["#..."]},
 "coverConcept": {"headline": "...", "subheadline": "...", "description": "..."},
 "internalLayout": "...", "imageGenerationPrompt": "..."}`

func buildConceptPrompt(in model.EditorialConceptInputs) string {
	styles := make([]string, len(in.EditorialStyles))
	for i, s := range in.EditorialStyles {
		styles[i] = string(s)
	}
	return fmt.Sprintf(`You are an art director designing an editorial concept for a retro gaming publication.
Publication title: "%s"
Main theme: "%s"
Target audience: "%s"
Editorial styles (combine them): %s
Visual highlight: "%s"
Dominant color: "%s"

Write the technical sheet, the cover concept and the internal layout in Brazilian Portuguese,
and the image generation prompt in English.

Output ONLY valid JSON with this exact structure:
%s`, in.PublicationTitle, in.MainTheme, in.TargetAudience, strings.Join(styles, " + "),
		in.VisualHighlight, in.DominantColor, conceptJSONShape)
}

// buildImagePrompt applies regeneration framing and quality modifiers.
func buildImagePrompt(opts ImageOptions) string {
	prompt := opts.Prompt
	if opts.IsRegeneration {
		if mod := strings.TrimSpace(opts.Modification); mod != "" {
			prompt = fmt.Sprintf(`Based on the idea "%s", generate a new 16-bit pixel art image with the following modification: "%s". Maintain the original style.`, opts.Prompt, mod)
		} else {
			prompt = fmt.Sprintf(`Generate a new creative variation of this 16-bit pixel art image concept: "%s".`, opts.Prompt)
		}
		if opts.Variation > 0 {
			prompt += fmt.Sprintf(" Variation #%d.", opts.Variation)
		}
	}
	if opts.Quality == model.QualityHigh {
		prompt += highQualitySuffix
	}
	return prompt
}

func buildLogoPrompt(concept string) string {
	return fmt.Sprintf(`A stylized 16-bit pixel art logo, clean background, vector style, vibrant colors. Concept: "%s"`, concept)
}

// aspectFor picks the aspect ratio of an image target.
func aspectFor(kind model.ImageKind) string {
	switch kind {
	case model.KindCover, model.KindArtwork:
		return AspectPortrait
	default:
		return AspectWide
	}
}

// stripFences removes a surrounding markdown code fence, which some chat
// models add even when asked for bare JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
