package store

import (
	"context"
	"errors"

	"github.com/yangwenmai/retromag/internal/model"
)

// ErrNotFound is returned by a Backend for a missing key.
var ErrNotFound = errors.New("key not found")

// Backend is a durable key-value store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// DraftStore persists the resumable working draft.
type DraftStore interface {
	SaveDraft(ctx context.Context, d SavedDraft) error
	LoadDraft(ctx context.Context) (SavedDraft, error)
	ClearDraft(ctx context.Context) error
}

// HistoryStore persists version snapshots per draft id.
type HistoryStore interface {
	AppendHistory(ctx context.Context, draftID string, e model.HistoryEntry) error
	History(ctx context.Context, draftID string) ([]model.HistoryEntry, error)
}

// IdentityStore persists the visual identity.
type IdentityStore interface {
	LoadIdentity(ctx context.Context) (model.VisualIdentity, error)
	SaveIdentity(ctx context.Context, id model.VisualIdentity) error
}

// CommentStore persists reader comments per article id.
type CommentStore interface {
	Comments(ctx context.Context, articleID string) ([]string, error)
	AddComment(ctx context.Context, articleID, text string) ([]string, error)
}

// Repository combines every record store used by the session.
type Repository interface {
	DraftStore
	HistoryStore
	IdentityStore
	CommentStore
}
