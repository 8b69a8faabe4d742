package repository

import (
	"database/sql"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"melodycommons/model"
)

// TrackRepository defines the interface for track data operations.
type TrackRepository interface {
	CreateTrack(track *model.Track) (int64, error)
	GetTrackByID(id int64) (*model.Track, error)
	GetTracks(offset, limit int, search string) ([]*model.Track, error)
	GetAllTracks() ([]*model.Track, error)
	GetPopularTracks(limit int) ([]*model.Track, error)
	UpdateTrackInfo(id int64, title, artist, album string) error
	UpdateTrackCover(id int64, coverURL, coverPath string) error
	IncrementPlayCount(id int64) error
	// DeleteTracksCascade removes the given track rows and all their playlist
	// memberships, memberships first, inside a single transaction.
	DeleteTracksCascade(ids []int64) (int64, error)
}

const trackColumns = `id, title, artist, album, duration, file_path, file_size, cover_url, cover_path, play_count, created_at, updated_at`

// mysqlTrackRepository implements TrackRepository for MySQL.
type mysqlTrackRepository struct {
	db *sql.DB
}

// NewMySQLTrackRepository creates a new mysqlTrackRepository.
func NewMySQLTrackRepository(db *sql.DB) TrackRepository {
	return &mysqlTrackRepository{db: db}
}

// scanTrack maps one row onto a Track, folding NULL columns to zero values.
func scanTrack(row interface{ Scan(...interface{}) error }) (*model.Track, error) {
	track := &model.Track{}
	var album, coverURL, coverPath sql.NullString
	var fileSize sql.NullInt64

	err := row.Scan(&track.ID, &track.Title, &track.Artist, &album, &track.Duration,
		&track.FilePath, &fileSize, &coverURL, &coverPath, &track.PlayCount,
		&track.CreatedAt, &track.UpdatedAt)
	if err != nil {
		return nil, err
	}

	track.Album = album.String
	track.FileSize = fileSize.Int64
	track.CoverURL = coverURL.String
	track.CoverPath = coverPath.String
	return track, nil
}

// CreateTrack adds a new track to the database.
func (r *mysqlTrackRepository) CreateTrack(track *model.Track) (int64, error) {
	query := `INSERT INTO tracks (title, artist, album, duration, file_path, file_size, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for CreateTrack: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	res, err := stmt.Exec(track.Title, track.Artist, track.Album, track.Duration,
		track.FilePath, track.FileSize, now, now)
	if err != nil {
		if isDuplicateKeyErr(err) {
			return 0, ErrDuplicateTrackPath
		}
		return 0, fmt.Errorf("failed to execute CreateTrack: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for CreateTrack: %w", err)
	}
	return id, nil
}

// GetTrackByID retrieves a track by its ID.
func (r *mysqlTrackRepository) GetTrackByID(id int64) (*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ?`
	track, err := scanTrack(r.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Track not found
		}
		return nil, fmt.Errorf("failed to scan track by ID %d: %w", id, err)
	}
	return track, nil
}

// GetTracks retrieves a page of tracks, optionally filtered by a search term
// matched against title, artist and album.
func (r *mysqlTrackRepository) GetTracks(offset, limit int, search string) ([]*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks`
	args := []interface{}{}
	if search != "" {
		query += ` WHERE title LIKE ? OR artist LIKE ? OR album LIKE ?`
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern, pattern)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	return r.queryTracks(query, args...)
}

// GetAllTracks retrieves every track row. Used by the reconciliation sweep.
func (r *mysqlTrackRepository) GetAllTracks() ([]*model.Track, error) {
	return r.queryTracks(`SELECT ` + trackColumns + ` FROM tracks`)
}

func (r *mysqlTrackRepository) queryTracks(query string, args ...interface{}) ([]*model.Track, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]*model.Track, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track row: %w", err)
		}
		tracks = append(tracks, track)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during track rows iteration: %w", err)
	}
	return tracks, nil
}

// GetPopularTracks returns up to limit tracks ranked by play count. Tracks
// with equal play counts are shuffled so ties don't always surface the same
// rows.
func (r *mysqlTrackRepository) GetPopularTracks(limit int) ([]*model.Track, error) {
	all, err := r.queryTracks(`SELECT ` + trackColumns + ` FROM tracks ORDER BY play_count DESC`)
	if err != nil {
		return nil, err
	}
	return rankPopular(all, limit), nil
}

// rankPopular groups tracks by play count, shuffles within each group, and
// takes the top entries from the highest counts down.
func rankPopular(all []*model.Track, limit int) []*model.Track {
	if len(all) <= limit {
		rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
		return all
	}

	groups := make(map[int64][]*model.Track)
	counts := make([]int64, 0)
	for _, t := range all {
		if _, seen := groups[t.PlayCount]; !seen {
			counts = append(counts, t.PlayCount)
		}
		groups[t.PlayCount] = append(groups[t.PlayCount], t)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i] > counts[j] })

	result := make([]*model.Track, 0, limit)
	for _, count := range counts {
		group := groups[count]
		rand.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })
		remaining := limit - len(result)
		if len(group) > remaining {
			group = group[:remaining]
		}
		result = append(result, group...)
		if len(result) >= limit {
			break
		}
	}
	return result
}

// UpdateTrackInfo updates a track's editable metadata fields.
func (r *mysqlTrackRepository) UpdateTrackInfo(id int64, title, artist, album string) error {
	query := `UPDATE tracks SET title = ?, artist = ?, album = ?, updated_at = ? WHERE id = ?`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for UpdateTrackInfo: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.Exec(title, artist, album, time.Now(), id); err != nil {
		return fmt.Errorf("failed to execute UpdateTrackInfo for track ID %d: %w", id, err)
	}
	return nil
}

// UpdateTrackCover updates the cover URL and cache path for a track.
func (r *mysqlTrackRepository) UpdateTrackCover(id int64, coverURL, coverPath string) error {
	query := `UPDATE tracks SET cover_url = ?, cover_path = ?, updated_at = ? WHERE id = ?`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for UpdateTrackCover: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.Exec(coverURL, coverPath, time.Now(), id); err != nil {
		return fmt.Errorf("failed to execute UpdateTrackCover for track ID %d: %w", id, err)
	}
	return nil
}

// IncrementPlayCount bumps a track's play count by one.
func (r *mysqlTrackRepository) IncrementPlayCount(id int64) error {
	query := `UPDATE tracks SET play_count = play_count + 1 WHERE id = ?`
	if _, err := r.db.Exec(query, id); err != nil {
		return fmt.Errorf("failed to increment play count for track ID %d: %w", id, err)
	}
	return nil
}

// DeleteTracksCascade removes memberships then track rows in one transaction.
func (r *mysqlTrackRepository) DeleteTracksCascade(ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for DeleteTracksCascade: %w", err)
	}
	defer tx.Rollback()

	placeholders := ""
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}

	// Memberships must go before the tracks they reference.
	if _, err := tx.Exec(`DELETE FROM playlist_tracks WHERE track_id IN (`+placeholders+`)`, args...); err != nil {
		return 0, fmt.Errorf("failed to delete playlist memberships: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM tracks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tracks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit DeleteTracksCascade: %w", err)
	}

	removed, _ := res.RowsAffected()
	return removed, nil
}
