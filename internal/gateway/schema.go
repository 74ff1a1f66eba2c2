package gateway

import "github.com/google/generative-ai-go/genai"

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

var imagePromptSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"type": {
			Type:        genai.TypeString,
			Format:      "enum",
			Enum:        []string{"logo", "gameplay", "artwork"},
			Description: "Kind of image to generate.",
		},
		"prompt": str("Detailed English prompt for a 16-bit pixel art image."),
	},
	Required: []string{"type", "prompt"},
}

var magazineSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":            str("Catchy cover title in Brazilian Portuguese."),
		"coverImagePrompt": str("Highly detailed English prompt for the cover art."),
		"articles": {
			Type:        genai.TypeArray,
			Description: "Exactly 5 articles.",
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"title":         str("Article title in Brazilian Portuguese."),
					"contentPrompt": str("Prompt that produces the article body in simple Markdown."),
					"tipsPrompt":    str("Prompt that produces 2 to 4 tips as a Markdown bullet list."),
					"imagePrompts": {
						Type:        genai.TypeArray,
						Description: "Exactly 3 image prompts: logo, gameplay and artwork.",
						Items:       imagePromptSchema,
					},
				},
				Required: []string{"title", "contentPrompt", "tipsPrompt", "imagePrompts"},
			},
		},
		"gameOfTheWeek": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"title":             str("Name of the highlighted game."),
				"descriptionPrompt": str("Prompt that produces a short review."),
				"imagePrompt":       str("English prompt for the highlight image."),
			},
			Required: []string{"title", "descriptionPrompt", "imagePrompt"},
		},
	},
	Required: []string{"title", "coverImagePrompt", "articles"},
}

var conceptSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"technicalSheet": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"title":          str("Publication title."),
				"format":         str("Physical or digital format."),
				"targetAudience": str("Who the publication is for."),
				"tone":           str("Editorial tone."),
				"palette":        {Type: genai.TypeArray, Items: str("Hex color.")},
			},
			Required: []string{"title", "format", "targetAudience", "tone", "palette"},
		},
		"coverConcept": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"headline":    str("Main cover headline."),
				"subheadline": str("Supporting line."),
				"description": str("What the cover shows."),
			},
			Required: []string{"headline", "subheadline", "description"},
		},
		"internalLayout":        str("Description of the inner page layout."),
		"imageGenerationPrompt": str("English prompt for the cover illustration."),
	},
	Required: []string{"technicalSheet", "coverConcept", "internalLayout", "imageGenerationPrompt"},
}

func schemaFor(k SchemaKind) *genai.Schema {
	if k == SchemaConcept {
		return conceptSchema
	}
	return magazineSchema
}
