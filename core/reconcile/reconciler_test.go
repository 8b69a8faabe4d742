package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"melodycommons/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTrackSource models tracks plus their playlist memberships so the
// cascade can be observed, not just the row removal.
type fakeTrackSource struct {
	tracks      []*model.Track
	memberships map[int64]int // trackID -> membership count
	deleted     []int64
}

func (f *fakeTrackSource) GetAllTracks() ([]*model.Track, error) {
	return f.tracks, nil
}

func (f *fakeTrackSource) DeleteTracksCascade(ids []int64) (int64, error) {
	f.deleted = append(f.deleted, ids...)
	remaining := f.tracks[:0]
	for _, t := range f.tracks {
		keep := true
		for _, id := range ids {
			if t.ID == id {
				keep = false
				break
			}
		}
		if keep {
			remaining = append(remaining, t)
		}
	}
	f.tracks = remaining
	for _, id := range ids {
		delete(f.memberships, id)
	}
	return int64(len(ids)), nil
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	return path
}

func TestSweepRemovesTrackWithMissingFile(t *testing.T) {
	dir := t.TempDir()
	intact := touch(t, dir, "intact.mp3")

	source := &fakeTrackSource{tracks: []*model.Track{
		{ID: 1, FilePath: intact},
		{ID: 2, FilePath: filepath.Join(dir, "vanished.mp3")},
	}}

	removed, err := NewReconciler(source).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []int64{2}, source.deleted)
}

func TestSweepRemovesTrackWithDanglingCover(t *testing.T) {
	dir := t.TempDir()
	audio := touch(t, dir, "song.mp3")

	// Audio intact, cover path recorded but missing. The sweep removes the
	// whole track for a dangling cover; see DESIGN.md.
	source := &fakeTrackSource{tracks: []*model.Track{
		{ID: 1, FilePath: audio, CoverPath: filepath.Join(dir, "gone.jpg")},
	}}

	removed, err := NewReconciler(source).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestSweepKeepsHealthyTracks(t *testing.T) {
	dir := t.TempDir()
	audio := touch(t, dir, "song.mp3")
	cover := touch(t, dir, "cover.jpg")

	source := &fakeTrackSource{tracks: []*model.Track{
		{ID: 1, FilePath: audio, CoverPath: cover},
		{ID: 2, FilePath: audio}, // No cover recorded at all is fine too
	}}

	removed, err := NewReconciler(source).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Empty(t, source.deleted)
}

func TestSweepCascadesPlaylistMemberships(t *testing.T) {
	dir := t.TempDir()
	intact := touch(t, dir, "intact.mp3")

	source := &fakeTrackSource{
		tracks: []*model.Track{
			{ID: 1, FilePath: intact},
			{ID: 2, FilePath: filepath.Join(dir, "vanished.mp3")},
		},
		memberships: map[int64]int{1: 2, 2: 3},
	}

	removed, err := NewReconciler(source).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Memberships of the swept track go with it; the healthy track keeps its.
	_, ok := source.memberships[2]
	assert.False(t, ok)
	assert.Equal(t, 2, source.memberships[1])
}

func TestSweepCleansUpLeftoverCover(t *testing.T) {
	dir := t.TempDir()
	cover := touch(t, dir, "cover.jpg")

	source := &fakeTrackSource{tracks: []*model.Track{
		{ID: 1, FilePath: filepath.Join(dir, "vanished.mp3"), CoverPath: cover},
	}}

	removed, err := NewReconciler(source).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(cover)
	assert.True(t, os.IsNotExist(err))
}

func TestSweepIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	source := &fakeTrackSource{tracks: []*model.Track{
		{ID: 1, FilePath: filepath.Join(dir, "vanished.mp3")},
	}}
	r := NewReconciler(source)

	removed, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
