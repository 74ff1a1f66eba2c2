// Package orchestrator drives generation of the magazine units: cover,
// articles and the game-of-the-week highlight, with pacing between remote
// calls, a progress feed and single-image regeneration.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yangwenmai/retromag/internal/draft"
	"github.com/yangwenmai/retromag/internal/gateway"
	"github.com/yangwenmai/retromag/internal/logger"
	"github.com/yangwenmai/retromag/internal/model"
)

var (
	// ErrRegenerationInFlight is returned when the same image is already
	// being regenerated.
	ErrRegenerationInFlight = errors.New("image regeneration already in flight")
	// ErrBatchRunning is returned when GenerateAll is already running.
	ErrBatchRunning = errors.New("batch generation already running")
)

// Generator is the part of the gateway the orchestrator calls.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateImage(ctx context.Context, opts gateway.ImageOptions) (string, error)
}

var _ Generator = (*gateway.Gateway)(nil)

// DefaultPacingDelay separates consecutive remote calls.
const DefaultPacingDelay = 5 * time.Second

// Orchestrator is safe for concurrent use. A unit never runs twice at
// once. Remote calls from every unit and regeneration go through one
// paced slot, so any two consecutive calls are at least the pacing delay
// apart.
type Orchestrator struct {
	draft *draft.Store
	gen   Generator
	feed  *Feed
	delay time.Duration
	sleep gateway.SleepFunc
	now   func() time.Time
	log   *logger.Logger

	batch atomic.Bool

	// slot holds the right to make a remote call; lastCall is when the
	// previous one returned and is only touched while holding slot.
	slot     chan struct{}
	lastCall time.Time

	mu         sync.Mutex
	inflight   map[string]bool
	variations map[string]int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPacing sets the delay between consecutive remote calls.
func WithPacing(d time.Duration) Option {
	return func(o *Orchestrator) { o.delay = d }
}

// WithSleep replaces the pacing sleeper, mostly for tests.
func WithSleep(fn gateway.SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithClock sets the clock pacing is measured against.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithFeed sets the progress feed.
func WithFeed(f *Feed) Option {
	return func(o *Orchestrator) { o.feed = f }
}

// New creates an orchestrator writing into d.
func New(d *draft.Store, gen Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		draft:      d,
		gen:        gen,
		feed:       NewFeed(),
		delay:      DefaultPacingDelay,
		sleep:      gateway.Sleep,
		now:        time.Now,
		log:        logger.NewNop(),
		slot:       make(chan struct{}, 1),
		inflight:   map[string]bool{},
		variations: map[string]int{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Feed returns the progress feed.
func (o *Orchestrator) Feed() *Feed { return o.feed }

// remote runs one backend call in the paced slot. It waits until the
// pacing delay has passed since the previous call returned.
func (o *Orchestrator) remote(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	select {
	case o.slot <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-o.slot }()

	if !o.lastCall.IsZero() {
		if wait := o.delay - o.now().Sub(o.lastCall); wait > 0 {
			if err := o.sleep(ctx, wait); err != nil {
				return "", err
			}
		}
	}
	out, err := call(ctx)
	o.lastCall = o.now()
	return out, err
}

func (o *Orchestrator) text(ctx context.Context, prompt string) (string, error) {
	return o.remote(ctx, func(ctx context.Context) (string, error) {
		return o.gen.GenerateText(ctx, prompt)
	})
}

func (o *Orchestrator) image(ctx context.Context, opts gateway.ImageOptions) (string, error) {
	return o.remote(ctx, func(ctx context.Context) (string, error) {
		return o.gen.GenerateImage(ctx, opts)
	})
}

// fail records a unit failure in the status map and the feed. A failure
// of a run whose draft was replaced is only logged.
func (o *Orchestrator) fail(l draft.Lease, step string, err error) error {
	unit := l.Unit
	if serr := o.draft.FailUnit(l); serr != nil {
		o.log.Warn("discarding failure of a replaced draft", "unit", unit, "draft_id", l.DraftID, "step", step, "error", err)
		return &StepError{Unit: unit, Step: step, Err: serr}
	}
	o.feed.Error(unit, fmt.Sprintf("Failed to generate %s of %s: %v", step, unit, err))
	o.log.Error("unit generation failed", "unit", unit, "step", step, "error", err)
	return &StepError{Unit: unit, Step: step, Err: err}
}

// commit writes res for the leased unit. Results of a replaced draft are
// dropped.
func (o *Orchestrator) commit(l draft.Lease, res draft.UnitResult) error {
	err := o.draft.ApplyGeneratedUnit(l, res)
	if errors.Is(err, draft.ErrStaleLease) {
		o.log.Warn("discarding stale generation result", "unit", l.Unit, "draft_id", l.DraftID)
		return &StepError{Unit: l.Unit, Step: "write", Err: err}
	}
	if err != nil {
		return o.fail(l, "write", err)
	}
	return nil
}

// StepError wraps an error with the unit and sub-step that failed.
type StepError struct {
	Unit model.UnitKey
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return string(e.Unit) + " " + e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ---------------------------------------------------------------------------
// Cover
// ---------------------------------------------------------------------------

// GenerateCover generates the cover image from prompt, or from the
// draft's cover prompt when prompt is empty.
func (o *Orchestrator) GenerateCover(ctx context.Context, prompt string, quality model.Quality) error {
	o.feed.Reset()
	return o.cover(ctx, prompt, quality)
}

func (o *Orchestrator) cover(ctx context.Context, prompt string, quality model.Quality) error {
	unit := model.UnitCover
	if prompt == "" {
		m, err := o.draft.Snapshot()
		if err != nil {
			return err
		}
		prompt = m.CoverImagePrompt
	}
	lease, err := o.draft.BeginUnit(unit)
	if err != nil {
		return err
	}
	o.feed.Info(unit, "Generating cover image...")
	img, err := o.image(ctx, gateway.ImageOptions{Prompt: prompt, Target: model.KindCover, Quality: quality})
	if err != nil {
		return o.fail(lease, "image", err)
	}
	if err := o.commit(lease, draft.UnitResult{Image: img}); err != nil {
		return err
	}
	o.feed.Info(unit, "Cover ready.")
	return nil
}

// ---------------------------------------------------------------------------
// Article
// ---------------------------------------------------------------------------

// ArticleInputs are the prompts an article is generated from.
type ArticleInputs struct {
	ContentPrompt string              `json:"contentPrompt"`
	TipsPrompt    string              `json:"tipsPrompt"`
	ImagePrompts  []model.ImagePrompt `json:"imagePrompts"`
}

// ArticleInputsFrom reads the current prompts of article i.
func ArticleInputsFrom(m model.Magazine, i int) (ArticleInputs, error) {
	if i < 0 || i >= len(m.Articles) {
		return ArticleInputs{}, fmt.Errorf("%w: article %d", model.ErrFieldOutOfRange, i)
	}
	a := m.Articles[i]
	in := ArticleInputs{ContentPrompt: a.ContentPrompt, TipsPrompt: a.TipsPrompt}
	for _, img := range a.Images {
		in.ImagePrompts = append(in.ImagePrompts, model.ImagePrompt{Kind: img.Kind, Prompt: img.Prompt})
	}
	return in, nil
}

// GenerateArticle runs content, tips and the three images of article
// index strictly in sequence, pausing between calls. The results are
// written only when every call succeeded. Zero-valued inputs are read from
// the draft.
func (o *Orchestrator) GenerateArticle(ctx context.Context, index int, in ArticleInputs, quality model.Quality) error {
	o.feed.Reset()
	return o.article(ctx, index, in, quality)
}

func (o *Orchestrator) article(ctx context.Context, index int, in ArticleInputs, quality model.Quality) error {
	unit := model.ArticleUnit(index)
	if in.ContentPrompt == "" && in.TipsPrompt == "" && len(in.ImagePrompts) == 0 {
		m, err := o.draft.Snapshot()
		if err != nil {
			return err
		}
		if in, err = ArticleInputsFrom(m, index); err != nil {
			return err
		}
	}
	if len(in.ImagePrompts) != model.ImagesPerArticle {
		return fmt.Errorf("article %d: %d image prompts, want %d", index, len(in.ImagePrompts), model.ImagesPerArticle)
	}
	lease, err := o.draft.BeginUnit(unit)
	if err != nil {
		return err
	}
	n := index + 1

	o.feed.Info(unit, fmt.Sprintf("Article %d: writing content...", n))
	content, err := o.text(ctx, in.ContentPrompt)
	if err != nil {
		return o.fail(lease, "content", err)
	}

	o.feed.Info(unit, fmt.Sprintf("Article %d: writing tips...", n))
	tips, err := o.text(ctx, in.TipsPrompt)
	if err != nil {
		return o.fail(lease, "tips", err)
	}

	images := make([]string, len(in.ImagePrompts))
	for j, ip := range in.ImagePrompts {
		step := fmt.Sprintf("image %d", j+1)
		o.feed.Info(unit, fmt.Sprintf("Article %d: generating %s (%s)...", n, step, ip.Kind))
		img, err := o.image(ctx, gateway.ImageOptions{Prompt: ip.Prompt, Target: ip.Kind, Quality: quality})
		if err != nil {
			return o.fail(lease, step, err)
		}
		images[j] = img
	}

	if err := o.commit(lease, draft.UnitResult{Content: content, Tips: tips, Images: images}); err != nil {
		return err
	}
	o.feed.Info(unit, fmt.Sprintf("Article %d ready.", n))
	return nil
}

// ---------------------------------------------------------------------------
// Game of the week
// ---------------------------------------------------------------------------

// GenerateHighlight generates the game-of-the-week description and image.
func (o *Orchestrator) GenerateHighlight(ctx context.Context, quality model.Quality) error {
	o.feed.Reset()
	return o.highlight(ctx, quality)
}

func (o *Orchestrator) highlight(ctx context.Context, quality model.Quality) error {
	unit := model.UnitGameOfTheWeek
	m, err := o.draft.Snapshot()
	if err != nil {
		return err
	}
	h := m.GameOfTheWeek
	if h == nil {
		return fmt.Errorf("%w: %s", draft.ErrUnknownUnit, unit)
	}
	lease, err := o.draft.BeginUnit(unit)
	if err != nil {
		return err
	}

	o.feed.Info(unit, "Game of the week: writing review...")
	desc, err := o.text(ctx, h.DescriptionPrompt)
	if err != nil {
		return o.fail(lease, "description", err)
	}
	o.feed.Info(unit, "Game of the week: generating image...")
	img, err := o.image(ctx, gateway.ImageOptions{Prompt: h.ImagePrompt, Target: model.KindHighlight, Quality: quality})
	if err != nil {
		return o.fail(lease, "image", err)
	}
	if err := o.commit(lease, draft.UnitResult{Description: desc, Image: img}); err != nil {
		return err
	}
	o.feed.Info(unit, "Game of the week ready.")
	return nil
}

// ---------------------------------------------------------------------------
// Batch
// ---------------------------------------------------------------------------

// BatchReport lists the outcome of every unit of a GenerateAll run.
type BatchReport struct {
	Done    []model.UnitKey `json:"done"`
	Failed  []model.UnitKey `json:"failed"`
	Skipped []model.UnitKey `json:"skipped"`
}

// GenerateAll runs every unit not already done: cover, articles in plan
// order, then the highlight. A failed unit is left in error and the run
// continues.
func (o *Orchestrator) GenerateAll(ctx context.Context, quality model.Quality) (BatchReport, error) {
	var rep BatchReport
	if !o.batch.CompareAndSwap(false, true) {
		return rep, ErrBatchRunning
	}
	defer o.batch.Store(false)

	m, err := o.draft.Snapshot()
	if err != nil {
		return rep, err
	}
	o.feed.Reset()
	o.feed.Info("", "Generating the whole magazine...")

	for _, unit := range m.Units() {
		st, err := o.draft.Status(unit)
		if err != nil {
			return rep, err
		}
		if st == model.StateDone || st == model.StateGenerating {
			rep.Skipped = append(rep.Skipped, unit)
			continue
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		var uerr error
		switch unit {
		case model.UnitCover:
			uerr = o.cover(ctx, "", quality)
		case model.UnitGameOfTheWeek:
			uerr = o.highlight(ctx, quality)
		default:
			i, _ := unit.ArticleIndex()
			uerr = o.article(ctx, i, ArticleInputs{}, quality)
		}
		switch {
		case uerr == nil:
			rep.Done = append(rep.Done, unit)
		case errors.Is(uerr, draft.ErrUnitBusy):
			rep.Skipped = append(rep.Skipped, unit)
		default:
			rep.Failed = append(rep.Failed, unit)
		}
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
	}

	if len(rep.Failed) > 0 {
		o.feed.Info("", fmt.Sprintf("Finished with %d failed unit(s); retry them individually.", len(rep.Failed)))
	} else {
		o.feed.Info("", "Magazine complete.")
	}
	o.log.Info("batch generation finished", "done", len(rep.Done), "failed", len(rep.Failed), "skipped", len(rep.Skipped))
	return rep, nil
}

// BatchRunning reports whether GenerateAll is in progress.
func (o *Orchestrator) BatchRunning() bool { return o.batch.Load() }

// ---------------------------------------------------------------------------
// Regeneration
// ---------------------------------------------------------------------------

// RegenerateImage regenerates the single image at path and writes only
// that payload. Unit statuses are not touched. Each call carries a fresh
// variation number so consecutive results differ.
func (o *Orchestrator) RegenerateImage(ctx context.Context, path, modification string, quality model.Quality) (string, error) {
	ref, err := model.ParseImagePath(path)
	if err != nil {
		return "", err
	}
	slot, err := o.draft.ImageSlot(ref)
	if err != nil {
		return "", err
	}
	key := ref.Path()

	o.mu.Lock()
	if o.inflight[key] {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrRegenerationInFlight, key)
	}
	o.inflight[key] = true
	o.variations[key]++
	variation := o.variations[key]
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inflight, key)
		o.mu.Unlock()
	}()

	o.feed.Info("", fmt.Sprintf("Regenerating %s...", key))
	img, err := o.image(ctx, gateway.ImageOptions{
		Prompt:         slot.Prompt,
		Target:         slot.Kind,
		Quality:        quality,
		Modification:   modification,
		IsRegeneration: true,
		Variation:      variation,
	})
	if err != nil {
		o.feed.Error("", fmt.Sprintf("Failed to regenerate %s: %v", key, err))
		o.log.Error("image regeneration failed", "path", key, "error", err)
		return "", err
	}
	if err := o.draft.SetImage(slot, ref, img); err != nil {
		if errors.Is(err, draft.ErrStaleLease) {
			o.log.Warn("discarding regenerated image of a replaced draft", "path", key)
		}
		return "", err
	}
	o.feed.Info("", fmt.Sprintf("%s regenerated.", key))
	return img, nil
}

// Busy reports whether any generation is running: a unit, a batch or an
// image regeneration.
func (o *Orchestrator) Busy() bool {
	if o.batch.Load() || o.draft.Statuses().AnyGenerating() {
		return true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight) > 0
}

// InFlight lists the image paths being regenerated, sorted.
func (o *Orchestrator) InFlight() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.inflight))
	for k := range o.inflight {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ResetVariations forgets regeneration counters, used when a new draft
// replaces the current one.
func (o *Orchestrator) ResetVariations() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.variations = map[string]int{}
}
