package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_SnapshotCopies(t *testing.T) {
	h := NewHistory()
	files := ArtifactSet{"index.html": "<p>1</p>"}
	e := h.Snapshot(files, "first")
	files["index.html"] = "mutated"

	got, err := h.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "<p>1</p>", got.Files["index.html"])

	got.Files["index.html"] = "mutated again"
	list := h.List()
	assert.Equal(t, "<p>1</p>", list[0].Files["index.html"])
}

func TestHistory_OrderAndRevert(t *testing.T) {
	h := NewHistory()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	a := h.Snapshot(ArtifactSet{"f": "a"}, "a")
	b := h.Snapshot(ArtifactSet{"f": "b"}, "b")
	require.Equal(t, 2, h.Len())

	list := h.List()
	assert.Equal(t, []string{a.ID, b.ID}, []string{list[0].ID, list[1].ID})
	assert.True(t, list[0].CreatedAt.Before(list[1].CreatedAt))

	files, err := h.Revert(a)
	require.NoError(t, err)
	assert.Equal(t, ArtifactSet{"f": "a"}, files)
	assert.Equal(t, 2, h.Len())

	_, err = h.Revert(VersionEntry{ID: "nope"})
	assert.ErrorIs(t, err, ErrVersionNotFound)
}
