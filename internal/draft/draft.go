// Package draft holds the single authoritative magazine draft, the plan it
// was derived from and the per-unit generation status map.
package draft

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yangwenmai/retromag/internal/model"
)

var (
	// ErrNoDraft is returned when no draft has been created or resumed.
	ErrNoDraft = errors.New("no draft")
	// ErrUnitBusy is returned when a unit is already generating.
	ErrUnitBusy = errors.New("unit is already generating")
	// ErrUnknownUnit is returned for a unit key the draft does not have.
	ErrUnknownUnit = errors.New("unknown unit")
	// ErrStaleLease is returned when a generation result arrives for a
	// draft that has since been replaced, or for a lease that was reset.
	ErrStaleLease = errors.New("draft changed while generating")
)

// ChangeFunc observes content changes. It runs after the store lock is
// released; rev increases with every change, so an observer can drop
// copies older than one it already handled.
type ChangeFunc func(rev uint64, m model.Magazine, p model.Plan)

// Lease is returned by BeginUnit and must be presented to commit or fail
// the unit. It only matches the draft and the run it was issued for.
type Lease struct {
	Unit    model.UnitKey
	DraftID string
	epoch   uint64
	seq     uint64
}

// ImageSlot is the prompt and kind stored at an image ref, tagged with
// the draft it was read from.
type ImageSlot struct {
	Prompt string
	Kind   model.ImageKind
	epoch  uint64
}

// UnitResult carries everything produced for one unit. Only the fields of
// the unit's kind are read.
type UnitResult struct {
	// Image is the cover or highlight image.
	Image string
	// Content and Tips are the article markdown bodies.
	Content string
	Tips    string
	// Images are the article images in prompt order.
	Images []string
	// Description is the highlight text.
	Description string
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	mag      *model.Magazine
	plan     model.Plan
	status   model.StatusMap
	onChange ChangeFunc
	now      func() time.Time

	// epoch changes whenever the whole draft is swapped.
	epoch  uint64
	seq    uint64
	leases map[model.UnitKey]uint64
	rev    uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{now: time.Now}
}

// OnChange installs the change hook.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// change is a copy of the draft taken under the lock, delivered to the
// hook once the lock is released.
type change struct {
	fn  ChangeFunc
	rev uint64
	mag model.Magazine
	pl  model.Plan
}

func (c *change) fire() {
	if c != nil && c.fn != nil {
		c.fn(c.rev, c.mag, c.pl)
	}
}

func (s *Store) changedLocked() *change {
	if s.onChange == nil || s.mag == nil {
		return nil
	}
	s.rev++
	return &change{fn: s.onChange, rev: s.rev, mag: s.mag.Clone(), pl: s.plan.Clone()}
}

func (s *Store) swapLocked(m *model.Magazine) {
	s.mag = m
	s.epoch++
	s.leases = map[model.UnitKey]uint64{}
	if m != nil {
		s.status = model.NewStatusMap(*m)
	} else {
		s.status = nil
	}
}

// CreateSkeleton builds an empty draft from plan: a fresh id, every
// generated field empty, every unit pending. The plan is retained
// unmodified as the reset target of prompt edits.
func (s *Store) CreateSkeleton(plan model.Plan, existingLogo string) (model.Magazine, error) {
	if err := plan.Validate(); err != nil {
		return model.Magazine{}, err
	}
	plan = plan.Clone()
	m := model.Magazine{
		ID:               uuid.New().String(),
		Title:            plan.Title,
		Logo:             existingLogo,
		CoverImagePrompt: plan.CoverImagePrompt,
		Articles:         make([]model.Article, len(plan.Articles)),
		CreatedAt:        s.now().UTC(),
	}
	for i, ap := range plan.Articles {
		a := model.Article{
			ID:            model.ArticleID(i),
			Title:         ap.Title,
			ContentPrompt: ap.ContentPrompt,
			TipsPrompt:    ap.TipsPrompt,
			Images:        make([]model.ArticleImage, len(ap.ImagePrompts)),
		}
		for j, ip := range ap.ImagePrompts {
			a.Images[j] = model.ArticleImage{ID: model.ArticleImageID(i, j), Kind: ip.Kind, Prompt: ip.Prompt}
		}
		m.Articles[i] = a
	}
	if h := plan.GameOfTheWeek; h != nil {
		m.GameOfTheWeek = &model.Highlight{Title: h.Title, DescriptionPrompt: h.DescriptionPrompt, ImagePrompt: h.ImagePrompt}
	}

	var ev *change
	defer func() { ev.fire() }()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapLocked(&m)
	s.plan = plan
	ev = s.changedLocked()
	return m.Clone(), nil
}

// Load installs a resumed draft and its plan. Every unit starts pending.
func (s *Store) Load(m model.Magazine, plan model.Plan) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m = m.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapLocked(&m)
	s.plan = plan.Clone()
	return nil
}

// Replace swaps the working draft for m, keeping the plan. Every unit is
// reset to pending, since the snapshot's images are not retained.
func (s *Store) Replace(m model.Magazine) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m = m.Clone()
	var ev *change
	defer func() { ev.fire() }()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mag == nil {
		return ErrNoDraft
	}
	s.swapLocked(&m)
	ev = s.changedLocked()
	return nil
}

// Clear drops the draft.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapLocked(nil)
	s.plan = model.Plan{}
}

// HasDraft reports whether a draft is loaded.
func (s *Store) HasDraft() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mag != nil
}

// Snapshot returns a deep copy of the draft.
func (s *Store) Snapshot() (model.Magazine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mag == nil {
		return model.Magazine{}, ErrNoDraft
	}
	return s.mag.Clone(), nil
}

// Plan returns a copy of the original plan.
func (s *Store) Plan() (model.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mag == nil {
		return model.Plan{}, ErrNoDraft
	}
	return s.plan.Clone(), nil
}

// Value reads the field at ref.
func (s *Store) Value(ref model.FieldRef) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mag == nil {
		return "", ErrNoDraft
	}
	return s.mag.Get(ref)
}

// OriginalValue reads the plan value of ref.
func (s *Store) OriginalValue(ref model.FieldRef) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mag == nil {
		return "", ErrNoDraft
	}
	return s.plan.PlanValue(ref)
}

// ApplyFieldEdit writes value at ref. Writing the current value is a no-op
// and does not fire the change hook.
func (s *Store) ApplyFieldEdit(ref model.FieldRef, value string) (bool, error) {
	var ev *change
	defer func() { ev.fire() }()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mag == nil {
		return false, ErrNoDraft
	}
	changed, err := s.mag.Set(ref, value)
	if err != nil || !changed {
		return false, err
	}
	ev = s.changedLocked()
	return true, nil
}

// ImageSlot returns the prompt and kind of the image at ref.
func (s *Store) ImageSlot(ref model.ImageRef) (ImageSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mag == nil {
		return ImageSlot{}, ErrNoDraft
	}
	prompt, kind, err := s.mag.ImageSlot(ref)
	if err != nil {
		return ImageSlot{}, err
	}
	return ImageSlot{Prompt: prompt, Kind: kind, epoch: s.epoch}, nil
}

// SetImage writes a single image payload without touching unit status.
// The write is refused with ErrStaleLease when the draft was swapped
// since slot was read.
func (s *Store) SetImage(slot ImageSlot, ref model.ImageRef, payload string) error {
	var ev *change
	defer func() { ev.fire() }()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mag == nil {
		return ErrNoDraft
	}
	if slot.epoch != s.epoch {
		return fmt.Errorf("%w: %s", ErrStaleLease, ref.Path())
	}
	if err := s.mag.SetImage(ref, payload); err != nil {
		return err
	}
	ev = s.changedLocked()
	return nil
}

// SetLogo replaces the draft logo.
func (s *Store) SetLogo(logo string) error {
	var ev *change
	defer func() { ev.fire() }()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mag == nil {
		return ErrNoDraft
	}
	if s.mag.Logo == logo {
		return nil
	}
	s.mag.Logo = logo
	ev = s.changedLocked()
	return nil
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// Status returns the state of unit.
func (s *Store) Status(unit model.UnitKey) (model.GenerationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mag == nil {
		return "", ErrNoDraft
	}
	st, ok := s.status[unit]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownUnit, unit)
	}
	return st, nil
}

// Statuses returns a copy of the status map.
func (s *Store) Statuses() model.StatusMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Clone()
}

// SetStatus forces the state of unit. Any lease on the unit is revoked.
func (s *Store) SetStatus(unit model.UnitKey, state model.GenerationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUnit(unit); err != nil {
		return err
	}
	delete(s.leases, unit)
	s.status[unit] = state
	return nil
}

// BeginUnit moves unit to generating and returns the lease needed to
// finish it. It fails with ErrUnitBusy when the unit is already
// generating, which is the per-unit lock.
func (s *Store) BeginUnit(unit model.UnitKey) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUnit(unit); err != nil {
		return Lease{}, err
	}
	if s.status[unit] == model.StateGenerating {
		return Lease{}, fmt.Errorf("%w: %s", ErrUnitBusy, unit)
	}
	s.seq++
	s.leases[unit] = s.seq
	s.status[unit] = model.StateGenerating
	return Lease{Unit: unit, DraftID: s.mag.ID, epoch: s.epoch, seq: s.seq}, nil
}

// FailUnit moves the leased unit to error without writing any content.
func (s *Store) FailUnit(l Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLease(l); err != nil {
		return err
	}
	delete(s.leases, l.Unit)
	s.status[l.Unit] = model.StateError
	return nil
}

// ApplyGeneratedUnit writes every result of the leased unit in one step
// and marks it done.
func (s *Store) ApplyGeneratedUnit(l Lease, res UnitResult) error {
	var ev *change
	defer func() { ev.fire() }()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLease(l); err != nil {
		return err
	}
	unit := l.Unit
	m := s.mag
	switch {
	case unit == model.UnitCover:
		m.CoverImage = res.Image
	case unit == model.UnitGameOfTheWeek:
		m.GameOfTheWeek.Description = res.Description
		m.GameOfTheWeek.Image = res.Image
	default:
		i, _ := unit.ArticleIndex()
		a := &m.Articles[i]
		if len(res.Images) != len(a.Images) {
			return fmt.Errorf("article %d: got %d images, want %d", i, len(res.Images), len(a.Images))
		}
		a.Content = res.Content
		a.Tips = res.Tips
		for j, img := range res.Images {
			a.Images[j].Image = img
		}
	}
	delete(s.leases, unit)
	s.status[unit] = model.StateDone
	ev = s.changedLocked()
	return nil
}

func (s *Store) checkUnit(unit model.UnitKey) error {
	if s.mag == nil {
		return ErrNoDraft
	}
	if _, ok := s.status[unit]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, unit)
	}
	return nil
}

func (s *Store) checkLease(l Lease) error {
	if s.mag == nil || l.epoch != s.epoch || s.leases[l.Unit] != l.seq || l.seq == 0 {
		return fmt.Errorf("%w: %s of draft %s", ErrStaleLease, l.Unit, l.DraftID)
	}
	return nil
}
