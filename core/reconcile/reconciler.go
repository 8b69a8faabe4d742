package reconcile

import (
	"context"
	"fmt"
	"os"

	"melodycommons/logger"
	"melodycommons/model"
)

// TrackSource is the slice of the track repository the reconciler needs.
type TrackSource interface {
	GetAllTracks() ([]*model.Track, error)
	DeleteTracksCascade(ids []int64) (int64, error)
}

// Reconciler removes track rows whose backing files have vanished, cascading
// to playlist memberships. The filesystem and the database have no
// transactional coupling, so transient divergence between them is expected;
// the sweep is the mechanism that converges the two.
type Reconciler struct {
	tracks TrackSource
	exists func(path string) bool // Injected in tests
}

// NewReconciler creates a Reconciler over the given track source.
func NewReconciler(tracks TrackSource) *Reconciler {
	return &Reconciler{
		tracks: tracks,
		exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

// Sweep enumerates all tracks and removes the orphaned ones. A track is
// orphaned when its audio file is missing, or when it records a cover cache
// path that no longer exists, even with the audio intact. The cover-only
// case is deliberate; see DESIGN.md before changing it.
//
// Returns the number of track rows removed. Idempotent: a second sweep right
// after a first removes nothing.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	all, err := r.tracks.GetAllTracks()
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate tracks for sweep: %w", err)
	}

	var orphaned []int64
	var coverLeftovers []string
	for _, track := range all {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		switch {
		case !r.exists(track.FilePath):
			logger.Info("Sweep: audio file missing, removing track",
				logger.Int64("trackId", track.ID),
				logger.String("path", track.FilePath))
			orphaned = append(orphaned, track.ID)
			if track.CoverPath != "" && r.exists(track.CoverPath) {
				coverLeftovers = append(coverLeftovers, track.CoverPath)
			}
		case track.CoverPath != "" && !r.exists(track.CoverPath):
			logger.Info("Sweep: cover file missing, removing track",
				logger.Int64("trackId", track.ID),
				logger.String("coverPath", track.CoverPath))
			orphaned = append(orphaned, track.ID)
		}
	}

	if len(orphaned) == 0 {
		return 0, nil
	}

	removed, err := r.tracks.DeleteTracksCascade(orphaned)
	if err != nil {
		return 0, fmt.Errorf("failed to remove orphaned tracks: %w", err)
	}

	// Covers left behind by removed tracks are garbage now; cleanup is best
	// effort and failures only get logged.
	for _, path := range coverLeftovers {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("Sweep: failed to remove leftover cover",
				logger.String("path", path), logger.ErrorField(err))
		}
	}

	logger.Info("Sweep completed", logger.Int64("removed", removed))
	return int(removed), nil
}
