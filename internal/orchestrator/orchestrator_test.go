package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yangwenmai/retromag/internal/draft"
	"github.com/yangwenmai/retromag/internal/gateway"
	"github.com/yangwenmai/retromag/internal/model"
)

// fakeClock advances only when the orchestrator sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type call struct {
	at     time.Time
	kind   string
	prompt string
	opts   gateway.ImageOptions
}

// scriptedGen returns texts and images in order and records every call.
type scriptedGen struct {
	mu      sync.Mutex
	clock   *fakeClock
	texts   []string
	images  []string
	textErr map[int]error
	imgErr  map[int]error
	calls   []call
	nText   int
	nImg    int
	block   chan struct{}
}

func (g *scriptedGen) GenerateText(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{at: g.clock.Now(), kind: "text", prompt: prompt})
	n := g.nText
	g.nText++
	if err := g.textErr[n]; err != nil {
		return "", err
	}
	if n < len(g.texts) {
		return g.texts[n], nil
	}
	return "TEXT", nil
}

func (g *scriptedGen) GenerateImage(ctx context.Context, opts gateway.ImageOptions) (string, error) {
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{at: g.clock.Now(), kind: "image", prompt: opts.Prompt, opts: opts})
	n := g.nImg
	g.nImg++
	if err := g.imgErr[n]; err != nil {
		return "", err
	}
	if n < len(g.images) {
		return g.images[n], nil
	}
	return "IMG", nil
}

func fixturePlan(articles int) model.Plan {
	p := model.Plan{Title: "X", CoverImagePrompt: "cp"}
	for i := 0; i < articles; i++ {
		p.Articles = append(p.Articles, model.ArticlePlan{
			Title: "T1", ContentPrompt: "c1", TipsPrompt: "t1",
			ImagePrompts: []model.ImagePrompt{
				{Kind: model.KindLogo, Prompt: "l"},
				{Kind: model.KindGameplay, Prompt: "g"},
				{Kind: model.KindArtwork, Prompt: "a"},
			},
		})
	}
	return p
}

func newTestOrchestrator(t *testing.T, p model.Plan, gen *scriptedGen) (*Orchestrator, *draft.Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	gen.clock = clock
	d := draft.New()
	if _, err := d.CreateSkeleton(p, ""); err != nil {
		t.Fatalf("CreateSkeleton: %v", err)
	}
	o := New(d, gen, WithPacing(5*time.Second), WithSleep(clock.sleep), WithClock(clock.Now))
	return o, d, clock
}

func TestGenerateCover(t *testing.T) {
	gen := &scriptedGen{images: []string{"IMG1"}}
	o, d, _ := newTestOrchestrator(t, fixturePlan(1), gen)

	if err := o.GenerateCover(context.Background(), "cp", model.QualityStandard); err != nil {
		t.Fatalf("GenerateCover: %v", err)
	}
	m, _ := d.Snapshot()
	if m.CoverImage != "IMG1" {
		t.Errorf("CoverImage = %q, want IMG1", m.CoverImage)
	}
	if st, _ := d.Status(model.UnitCover); st != model.StateDone {
		t.Errorf("status = %s, want done", st)
	}
	if gen.calls[0].opts.Target != model.KindCover {
		t.Errorf("target = %q, want cover", gen.calls[0].opts.Target)
	}
}

func TestGenerateArticle(t *testing.T) {
	gen := &scriptedGen{
		texts:  []string{"CONTENT", "TIPS"},
		images: []string{"IMGA", "IMGB", "IMGC"},
	}
	o, d, _ := newTestOrchestrator(t, fixturePlan(1), gen)
	m, _ := d.Snapshot()
	in, err := ArticleInputsFrom(m, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := o.GenerateArticle(context.Background(), 0, in, model.QualityStandard); err != nil {
		t.Fatalf("GenerateArticle: %v", err)
	}
	m, _ = d.Snapshot()
	a := m.Articles[0]
	if a.Content != "CONTENT" || a.Tips != "TIPS" {
		t.Errorf("content/tips = %q/%q", a.Content, a.Tips)
	}
	for j, want := range []string{"IMGA", "IMGB", "IMGC"} {
		if a.Images[j].Image != want {
			t.Errorf("image %d = %q, want %q", j, a.Images[j].Image, want)
		}
	}
	if st, _ := d.Status(model.ArticleUnit(0)); st != model.StateDone {
		t.Errorf("status = %s, want done", st)
	}

	wantOrder := []string{"text:c1", "text:t1", "image:l", "image:g", "image:a"}
	if len(gen.calls) != len(wantOrder) {
		t.Fatalf("calls = %d, want %d", len(gen.calls), len(wantOrder))
	}
	for i, c := range gen.calls {
		if got := c.kind + ":" + c.prompt; got != wantOrder[i] {
			t.Errorf("call %d = %q, want %q", i, got, wantOrder[i])
		}
	}
}

func TestGenerateArticle_EmptyInputsReadDraft(t *testing.T) {
	gen := &scriptedGen{}
	o, _, _ := newTestOrchestrator(t, fixturePlan(1), gen)
	if err := o.GenerateArticle(context.Background(), 0, ArticleInputs{}, model.QualityStandard); err != nil {
		t.Fatal(err)
	}
	if gen.calls[0].prompt != "c1" {
		t.Errorf("first prompt = %q, want c1", gen.calls[0].prompt)
	}
}

func TestGenerateArticle_TipsFailure(t *testing.T) {
	gen := &scriptedGen{
		texts:   []string{"CONTENT"},
		textErr: map[int]error{1: errors.New("boom")},
	}
	o, d, _ := newTestOrchestrator(t, fixturePlan(1), gen)

	err := o.GenerateArticle(context.Background(), 0, ArticleInputs{}, model.QualityStandard)
	var se *StepError
	if !errors.As(err, &se) || se.Step != "tips" {
		t.Fatalf("err = %v, want tips StepError", err)
	}
	m, _ := d.Snapshot()
	a := m.Articles[0]
	if a.Content != "" {
		t.Errorf("content = %q, want empty", a.Content)
	}
	for j, img := range a.Images {
		if img.Image != "" {
			t.Errorf("image %d written: %q", j, img.Image)
		}
	}
	if gen.nImg != 0 {
		t.Errorf("image calls = %d, want 0", gen.nImg)
	}
	if st, _ := d.Status(model.ArticleUnit(0)); st != model.StateError {
		t.Errorf("status = %s, want error", st)
	}
	if !strings.Contains(o.Feed().LastError(), "tips") {
		t.Errorf("feed last error = %q", o.Feed().LastError())
	}
}

func TestGenerateArticle_ImageFailureKeepsPriorContent(t *testing.T) {
	gen := &scriptedGen{
		texts:  []string{"OLD", "OLDTIPS", "NEW", "NEWTIPS"},
		imgErr: map[int]error{4: errors.New("image 2 failed")},
	}
	o, d, _ := newTestOrchestrator(t, fixturePlan(1), gen)
	ctx := context.Background()

	if err := o.GenerateArticle(ctx, 0, ArticleInputs{}, model.QualityStandard); err != nil {
		t.Fatal(err)
	}
	if err := o.GenerateArticle(ctx, 0, ArticleInputs{}, model.QualityStandard); err == nil {
		t.Fatal("expected failure on image 2")
	}
	m, _ := d.Snapshot()
	if a := m.Articles[0]; a.Content != "OLD" || a.Tips != "OLDTIPS" {
		t.Errorf("content/tips = %q/%q, want the values before the failed run", a.Content, a.Tips)
	}
	if st, _ := d.Status(model.ArticleUnit(0)); st != model.StateError {
		t.Errorf("status = %s, want error", st)
	}
}

func TestGenerateArticle_Busy(t *testing.T) {
	gen := &scriptedGen{}
	o, d, _ := newTestOrchestrator(t, fixturePlan(1), gen)
	if _, err := d.BeginUnit(model.ArticleUnit(0)); err != nil {
		t.Fatal(err)
	}
	err := o.GenerateArticle(context.Background(), 0, ArticleInputs{}, model.QualityStandard)
	if !errors.Is(err, draft.ErrUnitBusy) {
		t.Errorf("err = %v, want ErrUnitBusy", err)
	}
	if len(gen.calls) != 0 {
		t.Errorf("busy unit made %d remote call(s)", len(gen.calls))
	}
}

func TestGenerateAll_Pacing(t *testing.T) {
	gen := &scriptedGen{}
	o, d, _ := newTestOrchestrator(t, fixturePlan(2), gen)

	rep, err := o.GenerateAll(context.Background(), model.QualityStandard)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Done) != 3 || len(rep.Failed) != 0 {
		t.Errorf("report = %+v", rep)
	}
	if !d.Statuses().AllDone() {
		t.Errorf("statuses = %v", d.Statuses())
	}
	// 1 cover call, then 5 calls per article.
	if len(gen.calls) != 11 {
		t.Fatalf("calls = %d, want 11", len(gen.calls))
	}
	for i := 1; i < len(gen.calls); i++ {
		if gap := gen.calls[i].at.Sub(gen.calls[i-1].at); gap < 5*time.Second {
			t.Errorf("gap before call %d = %v, want >= 5s", i, gap)
		}
	}
	lastA0, firstA1 := gen.calls[5], gen.calls[6]
	if gap := firstA1.at.Sub(lastA0.at); gap < 5*time.Second {
		t.Errorf("gap between articles = %v, want >= 5s", gap)
	}
}

func TestPacing_AcrossSeparateCalls(t *testing.T) {
	gen := &scriptedGen{}
	o, _, _ := newTestOrchestrator(t, fixturePlan(1), gen)
	ctx := context.Background()

	if err := o.GenerateCover(ctx, "", model.QualityStandard); err != nil {
		t.Fatal(err)
	}
	if err := o.GenerateArticle(ctx, 0, ArticleInputs{}, model.QualityStandard); err != nil {
		t.Fatal(err)
	}
	if _, err := o.RegenerateImage(ctx, "cover", "", model.QualityStandard); err != nil {
		t.Fatal(err)
	}
	if len(gen.calls) != 7 {
		t.Fatalf("calls = %d, want 7", len(gen.calls))
	}
	for i := 1; i < len(gen.calls); i++ {
		if gap := gen.calls[i].at.Sub(gen.calls[i-1].at); gap < 5*time.Second {
			t.Errorf("gap before call %d (%s %q) = %v, want >= 5s", i, gen.calls[i].kind, gen.calls[i].prompt, gap)
		}
	}
}

func TestPacing_IdleTimeCounts(t *testing.T) {
	gen := &scriptedGen{}
	o, _, clock := newTestOrchestrator(t, fixturePlan(1), gen)
	ctx := context.Background()

	if err := o.GenerateCover(ctx, "", model.QualityStandard); err != nil {
		t.Fatal(err)
	}
	clock.sleep(ctx, 3*time.Second)
	if _, err := o.RegenerateImage(ctx, "cover", "", model.QualityStandard); err != nil {
		t.Fatal(err)
	}
	if gap := gen.calls[1].at.Sub(gen.calls[0].at); gap != 5*time.Second {
		t.Errorf("gap = %v, want exactly 5s after 3s idle", gap)
	}
}

func TestGenerateArticle_DraftReplacedMidFlight(t *testing.T) {
	gen := &scriptedGen{texts: []string{"OLD CONTENT", "OLD TIPS"}, block: make(chan struct{})}
	o, d, _ := newTestOrchestrator(t, fixturePlan(1), gen)

	done := make(chan error, 1)
	go func() {
		done <- o.GenerateArticle(context.Background(), 0, ArticleInputs{}, model.QualityStandard)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for d.Statuses()[model.ArticleUnit(0)] != model.StateGenerating && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	next := fixturePlan(1)
	next.Title = "NEW ISSUE"
	if _, err := d.CreateSkeleton(next, ""); err != nil {
		t.Fatal(err)
	}
	close(gen.block)

	if err := <-done; !errors.Is(err, draft.ErrStaleLease) {
		t.Fatalf("err = %v, want ErrStaleLease", err)
	}
	m, _ := d.Snapshot()
	if m.Title != "NEW ISSUE" || m.Articles[0].Content != "" {
		t.Errorf("new draft: title=%q content=%q, want untouched", m.Title, m.Articles[0].Content)
	}
	if st, _ := d.Status(model.ArticleUnit(0)); st != model.StatePending {
		t.Errorf("status = %s, want pending", st)
	}
	if o.Busy() {
		t.Error("Busy() after the stale run finished")
	}
}

func TestGenerateAll_ContinuesPastErrors(t *testing.T) {
	gen := &scriptedGen{imgErr: map[int]error{0: errors.New("cover down")}}
	o, d, _ := newTestOrchestrator(t, fixturePlan(1), gen)

	rep, err := o.GenerateAll(context.Background(), model.QualityStandard)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Failed) != 1 || rep.Failed[0] != model.UnitCover {
		t.Errorf("failed = %v, want [cover]", rep.Failed)
	}
	if len(rep.Done) != 1 || rep.Done[0] != model.ArticleUnit(0) {
		t.Errorf("done = %v, want [article-0]", rep.Done)
	}
	if st, _ := d.Status(model.UnitCover); st != model.StateError {
		t.Errorf("cover status = %s, want error", st)
	}

	// A second run only retries what is not done.
	before := len(gen.calls)
	rep, err = o.GenerateAll(context.Background(), model.QualityStandard)
	if err != nil {
		t.Fatal(err)
	}
	if len(gen.calls)-before != 1 {
		t.Errorf("second run made %d call(s), want 1", len(gen.calls)-before)
	}
	if len(rep.Skipped) != 1 || len(rep.Done) != 1 {
		t.Errorf("second report = %+v", rep)
	}
}

func TestGenerateAll_Cancelled(t *testing.T) {
	gen := &scriptedGen{}
	o, _, _ := newTestOrchestrator(t, fixturePlan(1), gen)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.GenerateAll(ctx, model.QualityStandard); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if o.BatchRunning() {
		t.Error("batch flag left set")
	}
}

func TestGenerateHighlight(t *testing.T) {
	p := fixturePlan(1)
	p.GameOfTheWeek = &model.HighlightPlan{Title: "G", DescriptionPrompt: "dp", ImagePrompt: "ip"}
	gen := &scriptedGen{texts: []string{"DESC"}, images: []string{"IMGH"}}
	o, d, _ := newTestOrchestrator(t, p, gen)

	if err := o.GenerateHighlight(context.Background(), model.QualityHigh); err != nil {
		t.Fatal(err)
	}
	m, _ := d.Snapshot()
	if m.GameOfTheWeek.Description != "DESC" || m.GameOfTheWeek.Image != "IMGH" {
		t.Errorf("highlight = %+v", m.GameOfTheWeek)
	}
	if q := gen.calls[1].opts.Quality; q != model.QualityHigh {
		t.Errorf("quality = %q, want high", q)
	}

	o2, _, _ := newTestOrchestrator(t, fixturePlan(1), &scriptedGen{})
	if err := o2.GenerateHighlight(context.Background(), model.QualityStandard); !errors.Is(err, draft.ErrUnknownUnit) {
		t.Errorf("no highlight err = %v, want ErrUnknownUnit", err)
	}
}

func TestRegenerateImage(t *testing.T) {
	gen := &scriptedGen{images: []string{"R1", "R2"}}
	o, d, _ := newTestOrchestrator(t, fixturePlan(1), gen)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := o.RegenerateImage(ctx, "articles.0.images.1", "", model.QualityStandard); err != nil {
			t.Fatalf("RegenerateImage #%d: %v", i+1, err)
		}
	}
	if len(gen.calls) != 2 {
		t.Fatalf("calls = %d", len(gen.calls))
	}
	for i, c := range gen.calls {
		if !c.opts.IsRegeneration {
			t.Errorf("call %d: IsRegeneration = false", i)
		}
		if c.opts.Variation != i+1 {
			t.Errorf("call %d: Variation = %d, want %d", i, c.opts.Variation, i+1)
		}
		if c.opts.Target != model.KindGameplay {
			t.Errorf("call %d: target = %q", i, c.opts.Target)
		}
	}
	m, _ := d.Snapshot()
	if got := m.Articles[0].Images[1].Image; got != "R2" {
		t.Errorf("image = %q, want R2", got)
	}
	if st, _ := d.Status(model.ArticleUnit(0)); st != model.StatePending {
		t.Errorf("status = %s, regeneration must not touch it", st)
	}
	if len(o.InFlight()) != 0 {
		t.Errorf("in flight = %v", o.InFlight())
	}
}

func TestRegenerateImage_InFlight(t *testing.T) {
	gen := &scriptedGen{block: make(chan struct{})}
	o, _, _ := newTestOrchestrator(t, fixturePlan(1), gen)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := o.RegenerateImage(ctx, "cover", "", model.QualityStandard)
		done <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(o.InFlight()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if _, err := o.RegenerateImage(ctx, "cover", "", model.QualityStandard); !errors.Is(err, ErrRegenerationInFlight) {
		t.Errorf("second call err = %v, want ErrRegenerationInFlight", err)
	}
	if !o.Busy() {
		t.Error("Busy() = false during a regeneration")
	}
	close(gen.block)
	if err := <-done; err != nil {
		t.Errorf("first call: %v", err)
	}
}

func TestRegenerateImage_BadPath(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, fixturePlan(1), &scriptedGen{})
	if _, err := o.RegenerateImage(context.Background(), "articles.0.title", "", model.QualityStandard); !errors.Is(err, model.ErrUnknownField) {
		t.Errorf("err = %v, want ErrUnknownField", err)
	}
	if _, err := o.RegenerateImage(context.Background(), "articles.3.images.0", "", model.QualityStandard); err == nil {
		t.Error("expected out of range error")
	}
}

func TestFeed(t *testing.T) {
	f := NewFeed()
	ch, cancel := f.Subscribe()
	defer cancel()

	f.Info(model.UnitCover, "one")
	f.Error(model.UnitCover, "two")
	if got := len(f.Messages()); got != 2 {
		t.Fatalf("messages = %d, want 2", got)
	}
	if f.LastError() != "two" {
		t.Errorf("LastError = %q", f.LastError())
	}
	if m := <-ch; m.Text != "one" || m.Level != LevelInfo {
		t.Errorf("first message = %+v", m)
	}
	<-ch
	f.Reset()
	if m := <-ch; m.Level != LevelReset {
		t.Errorf("reset message = %+v", m)
	}
	if len(f.Messages()) != 0 || f.LastError() != "" {
		t.Error("Reset should clear messages and last error")
	}
	cancel()
	cancel()
}
