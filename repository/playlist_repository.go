package repository

import (
	"context"
	"errors"
	"fmt"

	"melodycommons/model"

	"gorm.io/gorm"
)

// TrackOrder is one entry of a bulk reorder request.
type TrackOrder struct {
	TrackID    int64 `json:"song_id"`
	OrderIndex int   `json:"order_index"`
}

// PlaylistRepository defines playlist and membership data operations.
type PlaylistRepository interface {
	Create(ctx context.Context, playlist *model.Playlist) error
	GetByID(ctx context.Context, id int64) (*model.Playlist, error)
	GetAll(ctx context.Context) ([]*model.Playlist, error)
	Update(ctx context.Context, playlist *model.Playlist) error
	// Delete removes a playlist and all its memberships, memberships first,
	// in one transaction. Returns false when the playlist doesn't exist.
	Delete(ctx context.Context, id int64) (bool, error)
	// AddTrack appends a track to a playlist. orderIndex < 0 means "after the
	// current maximum". Returns ErrDuplicateMembership when the pair exists.
	AddTrack(ctx context.Context, playlistID, trackID int64, orderIndex int) error
	// RemoveTrack returns false when the membership didn't exist.
	RemoveTrack(ctx context.Context, playlistID, trackID int64) (bool, error)
	GetEntries(ctx context.Context, playlistID int64) ([]model.PlaylistEntry, error)
	UpdateOrder(ctx context.Context, playlistID int64, orders []TrackOrder) error
}

// gormPlaylistRepository implements PlaylistRepository with GORM.
type gormPlaylistRepository struct {
	db *gorm.DB
}

// NewGormPlaylistRepository creates a GORM-backed playlist repository.
func NewGormPlaylistRepository(db *gorm.DB) PlaylistRepository {
	return &gormPlaylistRepository{db: db}
}

// Create inserts a new playlist.
func (r *gormPlaylistRepository) Create(ctx context.Context, playlist *model.Playlist) error {
	if err := r.db.WithContext(ctx).Create(playlist).Error; err != nil {
		return fmt.Errorf("failed to create playlist: %w", err)
	}
	return nil
}

// GetByID fetches a playlist, returning (nil, nil) when it doesn't exist.
func (r *gormPlaylistRepository) GetByID(ctx context.Context, id int64) (*model.Playlist, error) {
	var playlist model.Playlist
	err := r.db.WithContext(ctx).First(&playlist, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get playlist %d: %w", id, err)
	}
	return &playlist, nil
}

// GetAll returns all playlists, newest first.
func (r *gormPlaylistRepository) GetAll(ctx context.Context) ([]*model.Playlist, error) {
	playlists := make([]*model.Playlist, 0)
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&playlists).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}
	return playlists, nil
}

// Update persists name/description changes.
func (r *gormPlaylistRepository) Update(ctx context.Context, playlist *model.Playlist) error {
	err := r.db.WithContext(ctx).Model(playlist).
		Updates(map[string]interface{}{
			"name":        playlist.Name,
			"description": playlist.Description,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update playlist %d: %w", playlist.ID, err)
	}
	return nil
}

// Delete removes a playlist and cascades its memberships explicitly.
func (r *gormPlaylistRepository) Delete(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("playlist_id = ?", id).Delete(&model.PlaylistTrack{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Playlist{}, id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete playlist %d: %w", id, err)
	}
	return deleted, nil
}

// AddTrack appends a membership row. Dedup rests on the unique
// (playlist_id, track_id) index, not on a check-then-insert.
func (r *gormPlaylistRepository) AddTrack(ctx context.Context, playlistID, trackID int64, orderIndex int) error {
	if orderIndex < 0 {
		var maxOrder *int
		err := r.db.WithContext(ctx).Model(&model.PlaylistTrack{}).
			Where("playlist_id = ?", playlistID).
			Select("MAX(order_index)").Scan(&maxOrder).Error
		if err != nil {
			return fmt.Errorf("failed to find max order index: %w", err)
		}
		orderIndex = 0
		if maxOrder != nil {
			orderIndex = *maxOrder + 1
		}
	}

	membership := &model.PlaylistTrack{
		PlaylistID: playlistID,
		TrackID:    trackID,
		OrderIndex: orderIndex,
	}
	if err := r.db.WithContext(ctx).Create(membership).Error; err != nil {
		if isDuplicateKeyErr(err) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateMembership
		}
		return fmt.Errorf("failed to add track %d to playlist %d: %w", trackID, playlistID, err)
	}
	return nil
}

// RemoveTrack deletes one membership row.
func (r *gormPlaylistRepository) RemoveTrack(ctx context.Context, playlistID, trackID int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("playlist_id = ? AND track_id = ?", playlistID, trackID).
		Delete(&model.PlaylistTrack{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to remove track %d from playlist %d: %w", trackID, playlistID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetEntries returns a playlist's tracks with membership info, ordered by
// order_index.
func (r *gormPlaylistRepository) GetEntries(ctx context.Context, playlistID int64) ([]model.PlaylistEntry, error) {
	var memberships []model.PlaylistTrack
	err := r.db.WithContext(ctx).
		Where("playlist_id = ?", playlistID).
		Order("order_index ASC").
		Find(&memberships).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships for playlist %d: %w", playlistID, err)
	}
	if len(memberships) == 0 {
		return []model.PlaylistEntry{}, nil
	}

	ids := make([]int64, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.TrackID)
	}

	var tracks []model.Track
	if err := r.db.WithContext(ctx).Find(&tracks, "id IN ?", ids).Error; err != nil {
		return nil, fmt.Errorf("failed to load tracks for playlist %d: %w", playlistID, err)
	}
	trackByID := make(map[int64]model.Track, len(tracks))
	for _, t := range tracks {
		trackByID[t.ID] = t
	}

	entries := make([]model.PlaylistEntry, 0, len(memberships))
	for _, m := range memberships {
		track, ok := trackByID[m.TrackID]
		if !ok {
			// Membership pointing at a swept track; skip rather than fail.
			continue
		}
		entries = append(entries, model.PlaylistEntry{
			Track:      track,
			OrderIndex: m.OrderIndex,
			AddedAt:    m.AddedAt,
		})
	}
	return entries, nil
}

// UpdateOrder applies a bulk order_index update inside one transaction.
func (r *gormPlaylistRepository) UpdateOrder(ctx context.Context, playlistID int64, orders []TrackOrder) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, o := range orders {
			err := tx.Model(&model.PlaylistTrack{}).
				Where("playlist_id = ? AND track_id = ?", playlistID, o.TrackID).
				Update("order_index", o.OrderIndex).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update order for playlist %d: %w", playlistID, err)
	}
	return nil
}
