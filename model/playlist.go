package model

import "time"

// Playlist is an ordered collection of tracks.
type Playlist struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name        string    `json:"name" gorm:"size:255;not null"`
	Description string    `json:"description,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName overrides the GORM default.
func (Playlist) TableName() string { return "playlists" }

// PlaylistTrack is the membership of a track in a playlist. At most one row
// exists per (playlist, track) pair; OrderIndex is only used for relative
// ordering and is not required to be contiguous.
type PlaylistTrack struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	PlaylistID int64     `json:"playlistId" gorm:"not null;uniqueIndex:uq_playlist_track"`
	TrackID    int64     `json:"trackId" gorm:"not null;uniqueIndex:uq_playlist_track"`
	OrderIndex int       `json:"orderIndex" gorm:"default:0"`
	AddedAt    time.Time `json:"addedAt" gorm:"autoCreateTime"`
}

// TableName overrides the GORM default.
func (PlaylistTrack) TableName() string { return "playlist_tracks" }

// PlaylistEntry is a track joined with its membership info, as returned by
// the playlist songs listing.
type PlaylistEntry struct {
	Track      Track     `json:"song"`
	OrderIndex int       `json:"orderIndex"`
	AddedAt    time.Time `json:"addedAt"`
}
