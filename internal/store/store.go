package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/yangwenmai/retromag/internal/model"
)

// Storage keys. All records of one installation live under these.
const (
	KeySave     = "retromag:save"
	KeyHistory  = "retromag:history"
	KeyIdentity = "retromag:identity"
	KeyComments = "retromag:comments"
)

var (
	// ErrNoSavedData means the record is absent.
	ErrNoSavedData = errors.New("no saved data found")
	// ErrSaveCorrupted means the saved draft could not be decoded; the
	// record has been cleared.
	ErrSaveCorrupted = errors.New("saved data corrupted")
)

// Verify at compile time that Store implements all interfaces.
var (
	_ DraftStore    = (*Store)(nil)
	_ HistoryStore  = (*Store)(nil)
	_ IdentityStore = (*Store)(nil)
	_ CommentStore  = (*Store)(nil)
)

// SavedDraft is the resumable record: a light draft plus its original plan.
type SavedDraft struct {
	Magazine model.Magazine `json:"magazine"`
	Plan     model.Plan     `json:"plan"`
}

// Store maps typed records onto a Backend as JSON documents.
type Store struct {
	b Backend
	// mu serialises read-modify-write cycles on map-valued records.
	mu sync.Mutex
}

// New creates a Store over b.
func New(b Backend) *Store {
	return &Store{b: b}
}

// Backend returns the underlying key-value backend.
func (s *Store) Backend() Backend { return s.b }

// ---------------------------------------------------------------------------
// Draft
// ---------------------------------------------------------------------------

// SaveDraft writes a light copy of d.Magazine with its plan.
func (s *Store) SaveDraft(ctx context.Context, d SavedDraft) error {
	d.Magazine = d.Magazine.Light()
	return s.put(ctx, KeySave, d)
}

// LoadDraft reads the saved draft. A record that cannot be decoded or is
// structurally incomplete is deleted and reported as ErrSaveCorrupted.
func (s *Store) LoadDraft(ctx context.Context) (SavedDraft, error) {
	raw, err := s.b.Get(ctx, KeySave)
	if errors.Is(err, ErrNotFound) {
		return SavedDraft{}, ErrNoSavedData
	}
	if err != nil {
		return SavedDraft{}, err
	}

	var d SavedDraft
	if err := json.Unmarshal(raw, &d); err != nil {
		return SavedDraft{}, s.clearCorrupted(ctx, err)
	}
	if err := d.Magazine.Validate(); err != nil {
		return SavedDraft{}, s.clearCorrupted(ctx, err)
	}
	if err := d.Plan.Validate(); err != nil {
		return SavedDraft{}, s.clearCorrupted(ctx, err)
	}
	if len(d.Plan.Articles) != len(d.Magazine.Articles) {
		return SavedDraft{}, s.clearCorrupted(ctx, fmt.Errorf("plan has %d articles, draft has %d",
			len(d.Plan.Articles), len(d.Magazine.Articles)))
	}
	return d, nil
}

func (s *Store) clearCorrupted(ctx context.Context, cause error) error {
	if err := s.b.Delete(ctx, KeySave); err != nil {
		return fmt.Errorf("%w: %v (clear failed: %v)", ErrSaveCorrupted, cause, err)
	}
	return fmt.Errorf("%w: %v", ErrSaveCorrupted, cause)
}

// ClearDraft removes the saved draft.
func (s *Store) ClearDraft(ctx context.Context) error {
	return s.b.Delete(ctx, KeySave)
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// AppendHistory records a light snapshot for draftID.
func (s *Store) AppendHistory(ctx context.Context, draftID string, e model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.history(ctx)
	if err != nil {
		return err
	}
	e.Magazine = e.Magazine.Light()
	ledger[draftID] = append(ledger[draftID], e)
	return s.put(ctx, KeyHistory, ledger)
}

// History returns the snapshots of draftID, oldest first.
func (s *Store) History(ctx context.Context, draftID string) ([]model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.history(ctx)
	if err != nil {
		return nil, err
	}
	return ledger[draftID], nil
}

// history loads the whole ledger. An unparseable ledger reads as empty.
func (s *Store) history(ctx context.Context) (map[string][]model.HistoryEntry, error) {
	ledger := map[string][]model.HistoryEntry{}
	raw, err := s.b.Get(ctx, KeyHistory)
	if errors.Is(err, ErrNotFound) {
		return ledger, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &ledger); err != nil || ledger == nil {
		return map[string][]model.HistoryEntry{}, nil
	}
	return ledger, nil
}

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

// LoadIdentity returns the saved identity or ErrNoSavedData.
func (s *Store) LoadIdentity(ctx context.Context) (model.VisualIdentity, error) {
	var id model.VisualIdentity
	raw, err := s.b.Get(ctx, KeyIdentity)
	if errors.Is(err, ErrNotFound) {
		return id, ErrNoSavedData
	}
	if err != nil {
		return id, err
	}
	if err := json.Unmarshal(raw, &id); err != nil {
		return model.VisualIdentity{}, ErrNoSavedData
	}
	return id, nil
}

// SaveIdentity overwrites the identity.
func (s *Store) SaveIdentity(ctx context.Context, id model.VisualIdentity) error {
	return s.put(ctx, KeyIdentity, id)
}

// ---------------------------------------------------------------------------
// Comments
// ---------------------------------------------------------------------------

// ErrEmptyComment is returned by AddComment for blank text.
var ErrEmptyComment = errors.New("comment is empty")

// Comments returns the comments of articleID, oldest first.
func (s *Store) Comments(ctx context.Context, articleID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.comments(ctx)
	if err != nil {
		return nil, err
	}
	return all[articleID], nil
}

// AddComment appends text to articleID and returns its comments.
func (s *Store) AddComment(ctx context.Context, articleID, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyComment
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.comments(ctx)
	if err != nil {
		return nil, err
	}
	all[articleID] = append(all[articleID], text)
	if err := s.put(ctx, KeyComments, all); err != nil {
		return nil, err
	}
	return all[articleID], nil
}

func (s *Store) comments(ctx context.Context) (map[string][]string, error) {
	all := map[string][]string{}
	raw, err := s.b.Get(ctx, KeyComments)
	if errors.Is(err, ErrNotFound) {
		return all, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &all); err != nil || all == nil {
		return map[string][]string{}, nil
	}
	return all, nil
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.b.Set(ctx, key, b)
}
