// Package edit applies user edits to draft fields with per-field
// undo/redo history.
package edit

import (
	"errors"
	"fmt"
	"sync"

	"github.com/yangwenmai/retromag/internal/model"
)

var (
	// ErrWrongNamespace is returned when a content edit targets a prompt
	// field or the other way round.
	ErrWrongNamespace = errors.New("field belongs to the other namespace")
	// ErrNoLastEdit is returned by UndoLast/RedoLast before any edit.
	ErrNoLastEdit = errors.New("no field has been edited")
)

// Draft is the part of the draft store the engine writes through.
type Draft interface {
	Value(ref model.FieldRef) (string, error)
	OriginalValue(ref model.FieldRef) (string, error)
	ApplyFieldEdit(ref model.FieldRef, value string) (bool, error)
}

// FieldHistory is the undo state of one field.
type FieldHistory struct {
	Past    []string `json:"past"`
	Present string   `json:"present"`
	Future  []string `json:"future"`
}

func (h FieldHistory) clone() FieldHistory {
	return FieldHistory{
		Past:    append([]string(nil), h.Past...),
		Present: h.Present,
		Future:  append([]string(nil), h.Future...),
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	draft   Draft
	history map[model.FieldRef]*FieldHistory
	last    *model.FieldRef
}

// New creates an engine writing through d.
func New(d Draft) *Engine {
	return &Engine{draft: d, history: map[model.FieldRef]*FieldHistory{}}
}

// Seed resets all histories to the values of m.
func (e *Engine) Seed(m model.Magazine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = map[model.FieldRef]*FieldHistory{}
	e.last = nil
	for _, ref := range model.Fields(m) {
		v, err := m.Get(ref)
		if err != nil {
			continue
		}
		e.history[ref] = &FieldHistory{Present: v}
	}
}

// entry returns the history of ref with Present synced to the draft, so a
// value written by generation becomes the undo target of the next edit.
func (e *Engine) entry(ref model.FieldRef) (*FieldHistory, error) {
	cur, err := e.draft.Value(ref)
	if err != nil {
		return nil, err
	}
	h, ok := e.history[ref]
	if !ok {
		h = &FieldHistory{}
		e.history[ref] = h
	}
	h.Present = cur
	return h, nil
}

// SetField writes value at ref. Writing the present value leaves the
// history untouched and reports false.
func (e *Engine) SetField(ref model.FieldRef, value string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set(ref, value)
}

func (e *Engine) set(ref model.FieldRef, value string) (bool, error) {
	h, err := e.entry(ref)
	if err != nil {
		return false, err
	}
	if h.Present == value {
		return false, nil
	}
	if _, err := e.draft.ApplyFieldEdit(ref, value); err != nil {
		return false, err
	}
	h.Past = append(h.Past, h.Present)
	h.Present = value
	h.Future = nil
	e.remember(ref)
	return true, nil
}

// EditContent is SetField restricted to generated-content fields.
func (e *Engine) EditContent(ref model.FieldRef, value string) (bool, error) {
	if ref.IsPrompt() {
		return false, fmt.Errorf("%w: %s is a prompt", ErrWrongNamespace, ref)
	}
	return e.SetField(ref, value)
}

// EditPrompt is SetField restricted to prompt fields.
func (e *Engine) EditPrompt(ref model.FieldRef, value string) (bool, error) {
	if !ref.IsPrompt() {
		return false, fmt.Errorf("%w: %s is not a prompt", ErrWrongNamespace, ref)
	}
	return e.SetField(ref, value)
}

// Undo restores the previous value of ref. It reports false when there is
// nothing to undo.
func (e *Engine) Undo(ref model.FieldRef) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.undo(ref)
}

func (e *Engine) undo(ref model.FieldRef) (bool, error) {
	h, err := e.entry(ref)
	if err != nil {
		return false, err
	}
	if len(h.Past) == 0 {
		return false, nil
	}
	prev := h.Past[len(h.Past)-1]
	if _, err := e.draft.ApplyFieldEdit(ref, prev); err != nil {
		return false, err
	}
	h.Past = h.Past[:len(h.Past)-1]
	h.Future = append(h.Future, h.Present)
	h.Present = prev
	e.remember(ref)
	return true, nil
}

// Redo reapplies the last undone value of ref.
func (e *Engine) Redo(ref model.FieldRef) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.redo(ref)
}

func (e *Engine) redo(ref model.FieldRef) (bool, error) {
	h, err := e.entry(ref)
	if err != nil {
		return false, err
	}
	if len(h.Future) == 0 {
		return false, nil
	}
	next := h.Future[len(h.Future)-1]
	if _, err := e.draft.ApplyFieldEdit(ref, next); err != nil {
		return false, err
	}
	h.Future = h.Future[:len(h.Future)-1]
	h.Past = append(h.Past, h.Present)
	h.Present = next
	e.remember(ref)
	return true, nil
}

// UndoLast undoes on the most recently edited field.
func (e *Engine) UndoLast() (model.FieldRef, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return model.FieldRef{}, false, ErrNoLastEdit
	}
	ref := *e.last
	ok, err := e.undo(ref)
	return ref, ok, err
}

// RedoLast redoes on the most recently edited field.
func (e *Engine) RedoLast() (model.FieldRef, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return model.FieldRef{}, false, ErrNoLastEdit
	}
	ref := *e.last
	ok, err := e.redo(ref)
	return ref, ok, err
}

// ResetPromptToOriginal sets a prompt back to its plan value. It goes
// through the normal edit path, so it can be undone.
func (e *Engine) ResetPromptToOriginal(ref model.FieldRef) (bool, error) {
	if !ref.IsPrompt() {
		return false, fmt.Errorf("%w: %s is not a prompt", ErrWrongNamespace, ref)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	orig, err := e.draft.OriginalValue(ref)
	if err != nil {
		return false, err
	}
	return e.set(ref, orig)
}

// History returns a copy of the history of ref.
func (e *Engine) History(ref model.FieldRef) FieldHistory {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.history[ref]; ok {
		return h.clone()
	}
	return FieldHistory{}
}

// CanUndo and CanRedo report whether ref has history in that direction.
func (e *Engine) CanUndo(ref model.FieldRef) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.history[ref]
	return ok && len(h.Past) > 0
}

func (e *Engine) CanRedo(ref model.FieldRef) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.history[ref]
	return ok && len(h.Future) > 0
}

func (e *Engine) remember(ref model.FieldRef) {
	r := ref
	e.last = &r
}
