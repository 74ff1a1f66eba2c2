package model

import "time"

// HistoryEntry is one version snapshot of a draft. Magazine is always a
// light copy.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Magazine  Magazine  `json:"magazine"`
}

// NewHistoryEntry captures a light copy of m.
func NewHistoryEntry(m Magazine, at time.Time) HistoryEntry {
	return HistoryEntry{Timestamp: at.UTC(), Magazine: m.Light()}
}
