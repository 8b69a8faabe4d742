package model

import "time"

// Track represents an audio track in the shared library.
//
// FilePath is unique across all tracks: no two rows share a backing file.
// A track whose FilePath no longer resolves to an existing file is orphaned
// and gets removed by the reconciliation sweep.
type Track struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	Album     string    `json:"album,omitempty"`
	Duration  int       `json:"duration"` // Whole seconds, 0 when extraction failed
	FilePath  string    `json:"filePath"`
	FileSize  int64     `json:"fileSize"`
	CoverURL  string    `json:"coverUrl,omitempty"`
	CoverPath string    `json:"coverPath,omitempty"`
	PlayCount int64     `json:"playCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
