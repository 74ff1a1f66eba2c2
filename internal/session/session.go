// Package session owns the working draft and everything attached to it:
// edit history, generation, version snapshots, the visual identity and
// persistence of the resumable save record.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yangwenmai/retromag/internal/draft"
	"github.com/yangwenmai/retromag/internal/edit"
	"github.com/yangwenmai/retromag/internal/gateway"
	"github.com/yangwenmai/retromag/internal/logger"
	"github.com/yangwenmai/retromag/internal/model"
	"github.com/yangwenmai/retromag/internal/orchestrator"
	"github.com/yangwenmai/retromag/internal/store"
)

// View is the screen the user is on.
type View string

const (
	ViewInput     View = "input"
	ViewComposing View = "composing"
	ViewReading   View = "reading"
)

// ErrUnknownView is returned by SetView for an unknown view.
var ErrUnknownView = errors.New("unknown view")

// ErrSnapshotIndex is returned for a snapshot position outside the history.
var ErrSnapshotIndex = errors.New("snapshot index out of range")

// ErrGenerationActive is returned by operations that replace the whole
// draft while a unit, batch or regeneration is still running.
var ErrGenerationActive = errors.New("generation in progress")

// Gateway is the set of remote operations the session uses.
type Gateway interface {
	orchestrator.Generator
	PlanMagazine(ctx context.Context, in gateway.PlanInput) (model.Plan, error)
	PlanEditorialConcept(ctx context.Context, in model.EditorialConceptInputs) (model.EditorialConcept, error)
	GenerateLogo(ctx context.Context, concept string) (string, error)
}

var _ Gateway = (*gateway.Gateway)(nil)

// Session is safe for concurrent use.
type Session struct {
	draft *draft.Store
	edits *edit.Engine
	orch  *orchestrator.Orchestrator
	repo  store.Repository
	gw    Gateway
	log   *logger.Logger
	now   func() time.Time

	persistTimeout time.Duration
	// persistMu orders save-record writes; persisted is the newest draft
	// revision written.
	persistMu sync.Mutex
	persisted uint64

	// mu serialises operations that replace the whole draft.
	mu sync.Mutex

	viewMu  sync.RWMutex
	view    View
	concept *model.EditorialConcept
}

// Option configures a Session.
type Option func(*sessionConfig)

type sessionConfig struct {
	log      *logger.Logger
	orchOpts []orchestrator.Option
	now      func() time.Time
}

// WithLogger sets the logger for the session and its orchestrator.
func WithLogger(l *logger.Logger) Option {
	return func(c *sessionConfig) { c.log = l }
}

// WithOrchestratorOptions passes options through to the orchestrator.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(c *sessionConfig) { c.orchOpts = append(c.orchOpts, opts...) }
}

// WithClock sets the clock used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *sessionConfig) { c.now = now }
}

// New creates a session with no draft.
func New(gw Gateway, repo store.Repository, opts ...Option) *Session {
	cfg := sessionConfig{log: logger.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	d := draft.New()
	orchOpts := append([]orchestrator.Option{orchestrator.WithLogger(cfg.log)}, cfg.orchOpts...)
	s := &Session{
		draft:          d,
		edits:          edit.New(d),
		orch:           orchestrator.New(d, gw, orchOpts...),
		repo:           repo,
		gw:             gw,
		log:            cfg.log,
		now:            cfg.now,
		persistTimeout: 5 * time.Second,
		view:           ViewInput,
	}
	d.OnChange(s.persist)
	return s
}

// persist writes the save record while composing. It runs after the
// draft lock is released; a revision older than one already written is
// skipped. Failures are logged and dropped.
func (s *Session) persist(rev uint64, m model.Magazine, p model.Plan) {
	if s.View() != ViewComposing {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if rev <= s.persisted {
		return
	}
	s.persisted = rev
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	if err := s.repo.SaveDraft(ctx, store.SavedDraft{Magazine: m, Plan: p}); err != nil {
		s.log.Warn("persist draft failed", "draft_id", m.ID,
			"error", model.NewFailure(model.FailurePersistence, "save draft", err))
	}
}

// Draft exposes the draft store.
func (s *Session) Draft() *draft.Store { return s.draft }

// Orchestrator exposes the generation orchestrator.
func (s *Session) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// Feed exposes the progress feed.
func (s *Session) Feed() *orchestrator.Feed { return s.orch.Feed() }

// ---------------------------------------------------------------------------
// View
// ---------------------------------------------------------------------------

// View returns the current view.
func (s *Session) View() View {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.view
}

// SetView switches between composing and reading. Composing requires a
// draft.
func (s *Session) SetView(v View) error {
	switch v {
	case ViewComposing, ViewReading:
		if !s.draft.HasDraft() {
			return draft.ErrNoDraft
		}
	case ViewInput:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownView, v)
	}
	s.setView(v)
	return nil
}

// idle fails with ErrGenerationActive while anything is generating.
func (s *Session) idle() error {
	if s.orch.Busy() {
		return ErrGenerationActive
	}
	return nil
}

func (s *Session) setView(v View) {
	s.viewMu.Lock()
	s.view = v
	s.viewMu.Unlock()
}

// ---------------------------------------------------------------------------
// Draft lifecycle
// ---------------------------------------------------------------------------

// NewMagazine plans an issue about in.Topic and installs its skeleton as
// the working draft. On a planning failure the session is left without a
// draft and the error mentions the topic.
func (s *Session) NewMagazine(ctx context.Context, in gateway.PlanInput) (model.Magazine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.idle(); err != nil {
		return model.Magazine{}, err
	}

	feed := s.orch.Feed()
	feed.Reset()
	feed.Info("", fmt.Sprintf("Planning an issue about %q...", in.Topic))

	id := s.identity(ctx)
	if in.SeriesName == "" {
		in.SeriesName = id.Name
	}

	plan, err := s.gw.PlanMagazine(ctx, in)
	if err != nil {
		s.draft.Clear()
		s.setView(ViewInput)
		perr := model.NewFailure(model.FailurePlanning, "new magazine",
			fmt.Errorf("could not plan an issue about %q: %w", in.Topic, err))
		feed.Error("", perr.Error())
		s.log.Error("planning failed", "topic", in.Topic, "error", err)
		return model.Magazine{}, perr
	}

	// A regeneration may have started on the old draft while planning.
	if err := s.idle(); err != nil {
		return model.Magazine{}, err
	}
	s.setView(ViewComposing)
	m, err := s.draft.CreateSkeleton(plan, id.Logo)
	if err != nil {
		s.setView(ViewInput)
		return model.Magazine{}, model.NewFailure(model.FailurePlanning, "new magazine", err)
	}
	s.edits.Seed(m)
	s.orch.ResetVariations()
	feed.Info("", fmt.Sprintf("Plan ready: %q with %d article(s).", m.Title, len(m.Articles)))
	s.log.Info("draft created", "draft_id", m.ID, "topic", in.Topic, "type", in.Type)
	return m, nil
}

// Resume loads the saved draft. Every unit starts pending since images
// are not persisted. The identity logo is restored.
func (s *Session) Resume(ctx context.Context) (model.Magazine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.idle(); err != nil {
		return model.Magazine{}, err
	}

	saved, err := s.repo.LoadDraft(ctx)
	if err != nil {
		if errors.Is(err, store.ErrSaveCorrupted) {
			s.log.Warn("saved draft was corrupted and has been cleared", "error", err)
		}
		return model.Magazine{}, err
	}
	if err := s.draft.Load(saved.Magazine, saved.Plan); err != nil {
		return model.Magazine{}, err
	}
	if id := s.identity(ctx); id.Logo != "" {
		_ = s.draft.SetLogo(id.Logo)
	}
	m, err := s.draft.Snapshot()
	if err != nil {
		return model.Magazine{}, err
	}
	s.edits.Seed(m)
	s.orch.ResetVariations()
	s.orch.Feed().Reset()
	s.setView(ViewComposing)
	s.log.Info("draft resumed", "draft_id", m.ID)
	return m, nil
}

// Discard drops the working draft and its save record.
func (s *Session) Discard(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.idle(); err != nil {
		return err
	}
	s.draft.Clear()
	s.setView(ViewInput)
	s.orch.Feed().Reset()
	return s.repo.ClearDraft(ctx)
}

// State is the read model of the session.
type State struct {
	View         View                   `json:"view"`
	Magazine     *model.Magazine        `json:"magazine,omitempty"`
	Structure    *model.Plan            `json:"structure,omitempty"`
	Status       model.StatusMap        `json:"status,omitempty"`
	Feed         []orchestrator.Message `json:"feed"`
	LastError    string                 `json:"lastError,omitempty"`
	InFlight     []string               `json:"inFlight"`
	BatchRunning bool                   `json:"batchRunning"`
}

// State returns a consistent-enough copy of the read model.
func (s *Session) State() State {
	st := State{
		View:         s.View(),
		Feed:         s.orch.Feed().Messages(),
		LastError:    s.orch.Feed().LastError(),
		InFlight:     s.orch.InFlight(),
		BatchRunning: s.orch.BatchRunning(),
	}
	if m, err := s.draft.Snapshot(); err == nil {
		plan := m.Structure()
		st.Magazine = &m
		st.Structure = &plan
		st.Status = s.draft.Statuses()
	}
	return st
}

// Magazine returns a copy of the working draft.
func (s *Session) Magazine() (model.Magazine, error) {
	return s.draft.Snapshot()
}

// ---------------------------------------------------------------------------
// Edits
// ---------------------------------------------------------------------------

// EditField writes a generated-content field.
func (s *Session) EditField(path, value string) (bool, error) {
	ref, err := model.ParseField(path)
	if err != nil {
		return false, err
	}
	return s.edits.EditContent(ref, value)
}

// EditPrompt writes a prompt field.
func (s *Session) EditPrompt(path, value string) (bool, error) {
	ref, err := model.ParseField(path)
	if err != nil {
		return false, err
	}
	return s.edits.EditPrompt(ref, value)
}

// Undo steps back on path, or on the last edited field when path is
// empty. It returns the field acted on.
func (s *Session) Undo(path string) (string, bool, error) {
	if path == "" {
		ref, ok, err := s.edits.UndoLast()
		return ref.Path(), ok, err
	}
	ref, err := model.ParseField(path)
	if err != nil {
		return "", false, err
	}
	ok, err := s.edits.Undo(ref)
	return ref.Path(), ok, err
}

// Redo steps forward on path, or on the last edited field.
func (s *Session) Redo(path string) (string, bool, error) {
	if path == "" {
		ref, ok, err := s.edits.RedoLast()
		return ref.Path(), ok, err
	}
	ref, err := model.ParseField(path)
	if err != nil {
		return "", false, err
	}
	ok, err := s.edits.Redo(ref)
	return ref.Path(), ok, err
}

// ResetPrompt restores the plan value of a prompt field.
func (s *Session) ResetPrompt(path string) (bool, error) {
	ref, err := model.ParseField(path)
	if err != nil {
		return false, err
	}
	return s.edits.ResetPromptToOriginal(ref)
}

// FieldHistory returns the undo state of path.
func (s *Session) FieldHistory(path string) (edit.FieldHistory, error) {
	ref, err := model.ParseField(path)
	if err != nil {
		return edit.FieldHistory{}, err
	}
	return s.edits.History(ref), nil
}

// ---------------------------------------------------------------------------
// Generation
// ---------------------------------------------------------------------------

// CheckUnit reports whether unit exists and can start generating now.
func (s *Session) CheckUnit(unit model.UnitKey) error {
	st, err := s.draft.Status(unit)
	if err != nil {
		return err
	}
	if st == model.StateGenerating {
		return fmt.Errorf("%w: %s", draft.ErrUnitBusy, unit)
	}
	return nil
}

// GenerateUnit generates one unit from the draft's current prompts.
func (s *Session) GenerateUnit(ctx context.Context, unit model.UnitKey, quality model.Quality) error {
	switch unit {
	case model.UnitCover:
		return s.orch.GenerateCover(ctx, "", quality)
	case model.UnitGameOfTheWeek:
		return s.orch.GenerateHighlight(ctx, quality)
	}
	i, ok := unit.ArticleIndex()
	if !ok {
		return fmt.Errorf("%w: %s", draft.ErrUnknownUnit, unit)
	}
	return s.orch.GenerateArticle(ctx, i, orchestrator.ArticleInputs{}, quality)
}

// GenerateAll generates every unit not already done.
func (s *Session) GenerateAll(ctx context.Context, quality model.Quality) (orchestrator.BatchReport, error) {
	return s.orch.GenerateAll(ctx, quality)
}

// RegenerateImage regenerates one image.
func (s *Session) RegenerateImage(ctx context.Context, path, modification string, quality model.Quality) (string, error) {
	return s.orch.RegenerateImage(ctx, path, modification, quality)
}

// ---------------------------------------------------------------------------
// Version history
// ---------------------------------------------------------------------------

// SaveSnapshot appends a light copy of the draft to its history.
func (s *Session) SaveSnapshot(ctx context.Context) (model.HistoryEntry, error) {
	m, err := s.draft.Snapshot()
	if err != nil {
		return model.HistoryEntry{}, err
	}
	e := model.NewHistoryEntry(m, s.now())
	if err := s.repo.AppendHistory(ctx, m.ID, e); err != nil {
		return model.HistoryEntry{}, model.NewFailure(model.FailurePersistence, "save snapshot", err)
	}
	s.log.Info("snapshot saved", "draft_id", m.ID, "at", e.Timestamp)
	return e, nil
}

// History lists the snapshots of the current draft, oldest first.
func (s *Session) History(ctx context.Context) ([]model.HistoryEntry, error) {
	m, err := s.draft.Snapshot()
	if err != nil {
		return nil, err
	}
	return s.repo.History(ctx, m.ID)
}

// RevertTo replaces the draft with the light copy of snapshot. Every unit
// goes back to pending and the edit history is re-seeded.
func (s *Session) RevertTo(ctx context.Context, snapshot model.Magazine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.idle(); err != nil {
		return err
	}
	light := snapshot.Light()
	if err := s.draft.Replace(light); err != nil {
		return err
	}
	s.edits.Seed(light)
	s.orch.ResetVariations()
	feed := s.orch.Feed()
	feed.Reset()
	feed.Info("", "Reverted to snapshot; images need to be generated again.")
	s.log.Info("draft reverted", "draft_id", light.ID)
	return nil
}

// RevertToIndex reverts to the i-th snapshot of the current draft.
func (s *Session) RevertToIndex(ctx context.Context, i int) error {
	entries, err := s.History(ctx)
	if err != nil {
		return err
	}
	if i < 0 || i >= len(entries) {
		return fmt.Errorf("%w: %d of %d", ErrSnapshotIndex, i, len(entries))
	}
	return s.RevertTo(ctx, entries[i].Magazine)
}

// ---------------------------------------------------------------------------
// Identity, concept, comments
// ---------------------------------------------------------------------------

// identity reads the stored identity, falling back to the default name.
func (s *Session) identity(ctx context.Context) model.VisualIdentity {
	id, err := s.repo.LoadIdentity(ctx)
	if err != nil && !errors.Is(err, store.ErrNoSavedData) {
		s.log.Warn("load identity failed", "error", err)
	}
	if strings.TrimSpace(id.Name) == "" {
		id.Name = model.DefaultSeriesName
	}
	return id
}

// Identity returns the visual identity.
func (s *Session) Identity(ctx context.Context) model.VisualIdentity {
	return s.identity(ctx)
}

// SaveIdentity stores id and applies its logo to the working draft.
func (s *Session) SaveIdentity(ctx context.Context, id model.VisualIdentity) (model.VisualIdentity, error) {
	id.Name = strings.TrimSpace(id.Name)
	if id.Name == "" {
		id.Name = model.DefaultSeriesName
	}
	if err := s.repo.SaveIdentity(ctx, id); err != nil {
		return model.VisualIdentity{}, model.NewFailure(model.FailurePersistence, "save identity", err)
	}
	if s.draft.HasDraft() {
		_ = s.draft.SetLogo(id.Logo)
	}
	return id, nil
}

// GenerateLogo creates a logo for concept and stores it in the identity.
func (s *Session) GenerateLogo(ctx context.Context, concept string) (model.VisualIdentity, error) {
	logo, err := s.gw.GenerateLogo(ctx, concept)
	if err != nil {
		s.log.Error("logo generation failed", "error", err)
		return model.VisualIdentity{}, err
	}
	id := s.identity(ctx)
	id.Logo = logo
	return s.SaveIdentity(ctx, id)
}

// EditorialConcept plans an independent editorial concept and keeps it
// for the final draft.
func (s *Session) EditorialConcept(ctx context.Context, in model.EditorialConceptInputs) (model.EditorialConcept, error) {
	c, err := s.gw.PlanEditorialConcept(ctx, in)
	if err != nil {
		return model.EditorialConcept{}, err
	}
	s.viewMu.Lock()
	s.concept = &c
	s.viewMu.Unlock()
	return c, nil
}

// FinalDraft bundles identity, concept and draft for export.
func (s *Session) FinalDraft(ctx context.Context) model.FinalDraft {
	var out model.FinalDraft
	if id, err := s.repo.LoadIdentity(ctx); err == nil {
		out.Identity = &id
	}
	s.viewMu.RLock()
	if s.concept != nil {
		c := *s.concept
		out.Concept = &c
	}
	s.viewMu.RUnlock()
	if m, err := s.draft.Snapshot(); err == nil {
		out.Magazine = &m
	}
	return out
}

// Comments lists the comments on an article.
func (s *Session) Comments(ctx context.Context, articleID string) ([]string, error) {
	return s.repo.Comments(ctx, articleID)
}

// AddComment appends a comment to an article and returns the full list.
func (s *Session) AddComment(ctx context.Context, articleID, text string) ([]string, error) {
	return s.repo.AddComment(ctx, articleID, text)
}
