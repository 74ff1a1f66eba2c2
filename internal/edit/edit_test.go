package edit

import (
	"errors"
	"testing"

	"github.com/yangwenmai/retromag/internal/draft"
	"github.com/yangwenmai/retromag/internal/model"
)

func newTestEngine(t *testing.T) (*Engine, *draft.Store) {
	t.Helper()
	s := draft.New()
	m, err := s.CreateSkeleton(model.Plan{
		Title:            "X",
		CoverImagePrompt: "cp",
		Articles: []model.ArticlePlan{{
			Title: "T1", ContentPrompt: "c1", TipsPrompt: "t1",
			ImagePrompts: []model.ImagePrompt{
				{Kind: model.KindLogo, Prompt: "l"},
				{Kind: model.KindGameplay, Prompt: "g"},
				{Kind: model.KindArtwork, Prompt: "a"},
			},
		}},
	}, "")
	if err != nil {
		t.Fatalf("CreateSkeleton: %v", err)
	}
	e := New(s)
	e.Seed(m)
	return e, s
}

func mustParse(t *testing.T, path string) model.FieldRef {
	t.Helper()
	ref, err := model.ParseField(path)
	if err != nil {
		t.Fatalf("ParseField(%q): %v", path, err)
	}
	return ref
}

func TestSetField_NoOp(t *testing.T) {
	e, s := newTestEngine(t)
	writes := 0
	s.OnChange(func(uint64, model.Magazine, model.Plan) { writes++ })
	ref := mustParse(t, "articles.0.title")

	changed, err := e.SetField(ref, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("setting the present value should not report a change")
	}
	h := e.History(ref)
	if len(h.Past) != 0 || len(h.Future) != 0 {
		t.Errorf("history = %+v, want untouched", h)
	}
	if writes != 0 {
		t.Errorf("no-op edit triggered %d persistence write(s)", writes)
	}
}

func TestUndoRedo_RoundTrip(t *testing.T) {
	paths := []string{
		"title",
		"coverImagePrompt",
		"articles.0.content",
		"articles.0.tipsPrompt",
		"articles.0.imagePrompts.2.prompt",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			e, s := newTestEngine(t)
			ref := mustParse(t, path)

			if _, err := e.SetField(ref, "A"); err != nil {
				t.Fatal(err)
			}
			if _, err := e.SetField(ref, "B"); err != nil {
				t.Fatal(err)
			}
			if ok, err := e.Undo(ref); err != nil || !ok {
				t.Fatalf("Undo = %v, %v", ok, err)
			}
			if got, _ := s.Value(ref); got != "A" {
				t.Errorf("after undo = %q, want A", got)
			}
			if ok, err := e.Redo(ref); err != nil || !ok {
				t.Fatalf("Redo = %v, %v", ok, err)
			}
			if got, _ := s.Value(ref); got != "B" {
				t.Errorf("after redo = %q, want B", got)
			}
		})
	}
}

func TestSetField_ClearsFuture(t *testing.T) {
	e, _ := newTestEngine(t)
	ref := mustParse(t, "title")
	e.SetField(ref, "A")
	e.Undo(ref)
	e.SetField(ref, "C")
	if e.CanRedo(ref) {
		t.Error("a new edit should clear the redo stack")
	}
	if ok, _ := e.Redo(ref); ok {
		t.Error("Redo should report false on an empty future")
	}
}

func TestUndo_Empty(t *testing.T) {
	e, _ := newTestEngine(t)
	ok, err := e.Undo(mustParse(t, "title"))
	if err != nil || ok {
		t.Errorf("Undo on fresh field = %v, %v; want false, nil", ok, err)
	}
}

func TestResetPromptToOriginal_ThenUndo(t *testing.T) {
	e, s := newTestEngine(t)
	ref := mustParse(t, "articles.0.imagePrompts.1.prompt")

	e.SetField(ref, "edited once")
	e.SetField(ref, "edited twice")
	if ok, err := e.ResetPromptToOriginal(ref); err != nil || !ok {
		t.Fatalf("Reset = %v, %v", ok, err)
	}
	if got, _ := s.Value(ref); got != "g" {
		t.Errorf("after reset = %q, want plan value %q", got, "g")
	}
	if _, err := e.Undo(ref); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Value(ref); got != "edited twice" {
		t.Errorf("after undo = %q, want %q", got, "edited twice")
	}
}

func TestResetPromptToOriginal_RejectsContent(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.ResetPromptToOriginal(mustParse(t, "articles.0.content")); !errors.Is(err, ErrWrongNamespace) {
		t.Errorf("err = %v, want ErrWrongNamespace", err)
	}
}

func TestNamespaces(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.EditContent(mustParse(t, "coverImagePrompt"), "x"); !errors.Is(err, ErrWrongNamespace) {
		t.Errorf("EditContent(prompt) err = %v", err)
	}
	if _, err := e.EditPrompt(mustParse(t, "articles.0.tips"), "x"); !errors.Is(err, ErrWrongNamespace) {
		t.Errorf("EditPrompt(content) err = %v", err)
	}
	if ok, err := e.EditPrompt(mustParse(t, "articles.0.contentPrompt"), "new prompt"); err != nil || !ok {
		t.Errorf("EditPrompt = %v, %v", ok, err)
	}
}

func TestUndoLast_FollowsCursor(t *testing.T) {
	e, s := newTestEngine(t)
	if _, _, err := e.UndoLast(); !errors.Is(err, ErrNoLastEdit) {
		t.Errorf("UndoLast before edits err = %v", err)
	}

	title := mustParse(t, "title")
	tips := mustParse(t, "articles.0.tips")
	e.SetField(title, "New")
	e.SetField(tips, "my tips")

	ref, ok, err := e.UndoLast()
	if err != nil || !ok || ref != tips {
		t.Fatalf("UndoLast = %v, %v, %v; want tips", ref, ok, err)
	}
	if got, _ := s.Value(tips); got != "" {
		t.Errorf("tips = %q, want empty", got)
	}
	if got, _ := s.Value(title); got != "New" {
		t.Errorf("title = %q, should be untouched", got)
	}
	ref, ok, err = e.RedoLast()
	if err != nil || !ok || ref != tips {
		t.Fatalf("RedoLast = %v, %v, %v", ref, ok, err)
	}
	if got, _ := s.Value(tips); got != "my tips" {
		t.Errorf("tips = %q, want %q", got, "my tips")
	}
}

func TestSetField_SyncsGeneratedContent(t *testing.T) {
	e, s := newTestEngine(t)
	ref := mustParse(t, "articles.0.content")

	// Generation writes straight into the draft, bypassing the engine.
	lease, err := s.BeginUnit(model.ArticleUnit(0))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyGeneratedUnit(lease, draft.UnitResult{
		Content: "GENERATED", Tips: "TIPS", Images: []string{"A", "B", "C"},
	}); err != nil {
		t.Fatal(err)
	}
	e.SetField(ref, "hand edited")
	e.Undo(ref)

	if got, _ := s.Value(ref); got != "GENERATED" {
		t.Errorf("after undo = %q, want the generated value", got)
	}
}

func TestSetField_OutOfRange(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.SetField(model.FieldRef{Kind: model.FieldArticleTitle, Article: 4}, "x")
	if !errors.Is(err, model.ErrFieldOutOfRange) {
		t.Errorf("err = %v, want ErrFieldOutOfRange", err)
	}
}
