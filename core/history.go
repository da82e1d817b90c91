package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// VersionEntry is the artifact as it was before the mutation that created the entry.
type VersionEntry struct {
	ID        string      `json:"id"`
	Label     string      `json:"label"`
	Files     ArtifactSet `json:"files"`
	CreatedAt time.Time   `json:"created_at"`
}

// History is the ordered, append-only log of prior artifacts of one session.
type History struct {
	mu      sync.RWMutex
	entries []VersionEntry
	now     func() time.Time
}

func NewHistory() *History {
	return &History{now: time.Now}
}

// Snapshot appends a copy of files.
func (h *History) Snapshot(files ArtifactSet, label string) VersionEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := VersionEntry{
		ID:        uuid.NewString(),
		Label:     label,
		Files:     files.Clone(),
		CreatedAt: h.now(),
	}
	h.entries = append(h.entries, e)
	return copyEntry(e)
}

// List returns the entries oldest first.
func (h *History) List() []VersionEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]VersionEntry, 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, copyEntry(e))
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Get looks an entry up by id.
func (h *History) Get(id string) (VersionEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, e := range h.entries {
		if e.ID == id {
			return copyEntry(e), nil
		}
	}
	return VersionEntry{}, ErrVersionNotFound
}

// Revert returns the stored artifact of entry for the caller to install. It does not
// add an entry of its own.
func (h *History) Revert(entry VersionEntry) (ArtifactSet, error) {
	e, err := h.Get(entry.ID)
	if err != nil {
		return nil, err
	}
	return e.Files, nil
}

func copyEntry(e VersionEntry) VersionEntry {
	e.Files = e.Files.Clone()
	return e
}
