package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/yangwenmai/retromag/internal/model"
)

// StubBackend returns deterministic offline responses (for development/testing).
type StubBackend struct{}

var _ Backend = StubBackend{}

func (StubBackend) Plan(_ context.Context, req PlanRequest) (string, error) {
	if req.Schema == SchemaConcept {
		b, _ := json.Marshal(model.EditorialConcept{
			TechnicalSheet: model.TechnicalSheet{
				Title:          "[Stub] Pixel Press",
				Format:         "Revista digital, 48 páginas",
				TargetAudience: "Fãs de jogos 16-bit",
				Tone:           "Nostálgico e bem-humorado",
				Palette:        []string{"#FF00FF", "#00FFFF", "#1A1A2E"},
			},
			CoverConcept: model.CoverConcept{
				Headline:    "[Stub] A era de ouro dos 16 bits",
				Subheadline: "Tudo sobre a guerra dos consoles",
				Description: "Herói em pixel art diante de um pôr do sol neon.",
			},
			InternalLayout:        "Duas colunas, boxes de dicas laterais, capitulares em pixel font.",
			ImageGenerationPrompt: "vibrant 16-bit pixel art magazine cover, neon sunset, heroic character",
		})
		return string(b), nil
	}

	plan := model.Plan{
		Title:            "[Stub] Especial Retrô",
		CoverImagePrompt: "vibrant 16-bit pixel art cover of a 90s game magazine, knight fighting a dragon",
		GameOfTheWeek: &model.HighlightPlan{
			Title:             "[Stub] Jogo da Semana",
			DescriptionPrompt: "Escreva uma resenha curta do jogo da semana.",
			ImagePrompt:       "16-bit pixel art title screen of a classic platformer",
		},
	}
	for i := 0; i < ArticlesPerIssue; i++ {
		plan.Articles = append(plan.Articles, model.ArticlePlan{
			Title:         fmt.Sprintf("[Stub] Artigo %d", i+1),
			ContentPrompt: fmt.Sprintf("Escreva o artigo %d sobre jogos clássicos.", i+1),
			TipsPrompt:    fmt.Sprintf("Liste 3 dicas para o artigo %d.", i+1),
			ImagePrompts: []model.ImagePrompt{
				{Kind: model.KindLogo, Prompt: fmt.Sprintf("a stylized 16-bit pixel art logo, article %d", i+1)},
				{Kind: model.KindGameplay, Prompt: fmt.Sprintf("a detailed 16-bit pixel art screenshot, article %d", i+1)},
				{Kind: model.KindArtwork, Prompt: fmt.Sprintf("16-bit pixel art box art, article %d", i+1)},
			},
		})
	}
	b, _ := json.Marshal(plan)
	return string(b), nil
}

func (StubBackend) Text(_ context.Context, req TextRequest) (string, error) {
	return fmt.Sprintf("### [Stub]\n\nTexto gerado para: *%s*\n\n- Dica 1\n- Dica 2", excerpt(req.Prompt, 60)), nil
}

// Image encodes a digest of the prompt, so distinct prompts yield distinct payloads.
func (StubBackend) Image(_ context.Context, req ImageRequest) (string, error) {
	sum := sha256.Sum256([]byte(req.AspectRatio + "|" + req.Prompt))
	return DataURI("image/jpeg", sum[:]), nil
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
