package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"melodycommons/cache"
	"melodycommons/logger"
	"melodycommons/model"
	"melodycommons/repository"

	"github.com/gorilla/mux"
)

// allowedExtensions is the exact set of accepted upload formats.
var allowedExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".wav":  true,
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 100

	// Track deletion tolerates a transiently locked file: exactly 3 attempts,
	// 100ms apart, before giving up and leaving row and file intact.
	deleteAttempts   = 3
	deleteRetryDelay = 100 * time.Millisecond
)

func trackIDFromRequest(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

// GetTracksHandler lists tracks with pagination and optional search.
func (h *APIHandler) GetTracksHandler(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	search := r.URL.Query().Get("search")

	tracks, err := h.trackRepo.GetTracks((page-1)*limit, limit, search)
	if err != nil {
		logger.Error("Failed to list tracks", logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

// GetTrackHandler returns a single track.
func (h *APIHandler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := trackIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "Invalid song id")
		return
	}

	track, err := h.trackRepo.GetTrackByID(id)
	if err != nil {
		logger.Error("Failed to get track", logger.Int64("trackId", id), logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	if track == nil {
		writeNotFound(w, "Song not found")
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// GetPopularTracksHandler returns the play-count ranking, served from the
// Redis cache when possible.
func (h *APIHandler) GetPopularTracksHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > maxPageLimit {
		limit = 10
	}

	if tracks, ok := cache.GetPopularTracks(r.Context(), limit); ok {
		writeJSON(w, http.StatusOK, tracks)
		return
	}

	tracks, err := h.trackRepo.GetPopularTracks(limit)
	if err != nil {
		logger.Error("Failed to rank popular tracks", logger.ErrorField(err))
		writeInternalError(w)
		return
	}

	cached := make([]model.Track, 0, len(tracks))
	for _, t := range tracks {
		cached = append(cached, *t)
	}
	cache.SetPopularTracks(r.Context(), limit, cached)
	writeJSON(w, http.StatusOK, tracks)
}

// UploadTrackHandler accepts a multipart audio upload, persists the bytes,
// extracts metadata and creates the track record. Expected form fields:
// "file" plus optional "title", "artist", "album" overrides.
func (h *APIHandler) UploadTrackHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32MB in memory, rest spills to disk
		writeBadRequest(w, "Failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, "Missing 'file' in form")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		writeError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Unsupported audio format")
		return
	}
	if header.Size > h.cfg.MaxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "File too large")
		return
	}

	// The store owns collision-free naming; the path it returns is ours
	// exclusively.
	path, err := h.store.Save(file, header.Filename)
	if err != nil {
		logger.Error("Failed to persist upload", logger.ErrorField(err))
		writeInternalError(w)
		return
	}

	meta := h.extractor.Extract(path)
	if meta.Degraded {
		logger.Warn("Tag extraction degraded to defaults", logger.String("path", path))
	}

	title := r.FormValue("title")
	if title == "" {
		title = meta.Title
	}
	artist := r.FormValue("artist")
	if artist == "" {
		artist = meta.Artist
	}
	album := r.FormValue("album")
	if album == "" {
		album = meta.Album
	}

	track := &model.Track{
		Title:    title,
		Artist:   artist,
		Album:    album,
		Duration: meta.Duration,
		FilePath: path,
		FileSize: header.Size,
	}
	trackID, err := h.trackRepo.CreateTrack(track)
	if err != nil {
		// The row never existed, so the saved bytes are an orphan: remove
		// them before reporting the failure.
		if delErr := h.store.Delete(path); delErr != nil {
			logger.Error("Failed to clean up orphaned upload",
				logger.String("path", path), logger.ErrorField(delErr))
		}
		if errors.Is(err, repository.ErrDuplicateTrackPath) {
			writeConflict(w, "A track with this file path already exists")
			return
		}
		logger.Error("Failed to create track record", logger.ErrorField(err))
		writeInternalError(w)
		return
	}

	// Cover art is best effort; its absence never fails the upload.
	coverURL, coverPath := h.covers.Resolve(trackID, title, artist, album)
	if coverURL != "" || coverPath != "" {
		if err := h.trackRepo.UpdateTrackCover(trackID, coverURL, coverPath); err != nil {
			logger.Warn("Failed to record cover for new track",
				logger.Int64("trackId", trackID), logger.ErrorField(err))
		}
	}

	cache.InvalidatePopular(r.Context())

	created, err := h.trackRepo.GetTrackByID(trackID)
	if err != nil || created == nil {
		logger.Error("Failed to reload created track", logger.Int64("trackId", trackID))
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

// trackUpdateRequest uses pointers so absent fields stay untouched.
type trackUpdateRequest struct {
	Title  *string `json:"title"`
	Artist *string `json:"artist"`
	Album  *string `json:"album"`
}

// UpdateTrackHandler edits a track's metadata. A metadata change supersedes
// the cover cache key, so the cover is re-resolved and the previous cache
// file is deleted only after the database update has committed.
func (h *APIHandler) UpdateTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := trackIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "Invalid song id")
		return
	}

	var req trackUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}

	track, err := h.trackRepo.GetTrackByID(id)
	if err != nil {
		logger.Error("Failed to get track", logger.Int64("trackId", id), logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	if track == nil {
		writeNotFound(w, "Song not found")
		return
	}

	title, artist, album := track.Title, track.Artist, track.Album
	if req.Title != nil {
		title = *req.Title
	}
	if req.Artist != nil {
		artist = *req.Artist
	}
	if req.Album != nil {
		album = *req.Album
	}

	if err := h.trackRepo.UpdateTrackInfo(id, title, artist, album); err != nil {
		logger.Error("Failed to update track", logger.Int64("trackId", id), logger.ErrorField(err))
		writeInternalError(w)
		return
	}

	metadataChanged := title != track.Title || artist != track.Artist || album != track.Album
	if metadataChanged {
		h.rekeyCover(id, title, artist, album, track.CoverPath)
	}

	updated, err := h.trackRepo.GetTrackByID(id)
	if err != nil || updated == nil {
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// rekeyCover resolves cover art under the new cache key and removes the old
// cache file afterwards. A failed re-fetch keeps the previous cover intact;
// the old file is deleted only after the cover row update commits, and only
// when the paths actually differ.
func (h *APIHandler) rekeyCover(trackID int64, title, artist, album, oldCoverPath string) {
	coverURL, coverPath := h.covers.Resolve(trackID, title, artist, album)
	if coverPath == "" {
		logger.Warn("Cover re-resolution failed after metadata edit, keeping previous cover",
			logger.Int64("trackId", trackID))
		return
	}
	if err := h.trackRepo.UpdateTrackCover(trackID, coverURL, coverPath); err != nil {
		logger.Warn("Failed to update cover after metadata edit",
			logger.Int64("trackId", trackID), logger.ErrorField(err))
		return
	}
	if oldCoverPath != "" && oldCoverPath != coverPath {
		if err := h.store.Delete(oldCoverPath); err != nil {
			logger.Warn("Failed to delete superseded cover file",
				logger.String("path", oldCoverPath), logger.ErrorField(err))
		}
	}
}

// DeleteTrackHandler deletes a track, its backing files and its playlist
// memberships. Files are removed before the row so a failed file delete can
// never leave an orphaned file behind a missing record.
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := trackIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "Invalid song id")
		return
	}

	track, err := h.trackRepo.GetTrackByID(id)
	if err != nil {
		logger.Error("Failed to get track", logger.Int64("trackId", id), logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	if track == nil {
		writeNotFound(w, "Song not found")
		return
	}

	for attempt := 0; attempt < deleteAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(deleteRetryDelay)
		}

		done, err := h.deleteTrackOnce(id)
		if err != nil {
			logger.Warn("Delete attempt failed",
				logger.Int64("trackId", id),
				logger.Int("attempt", attempt+1),
				logger.ErrorField(err))
			continue
		}
		if done {
			cache.InvalidatePopular(r.Context())
			writeJSON(w, http.StatusOK, map[string]string{"message": "Song deleted successfully"})
			return
		}
	}

	writeError(w, http.StatusInternalServerError, "DELETE_FAILED",
		"Failed to delete song after multiple attempts. The file might be locked.")
}

// deleteTrackOnce performs a single delete attempt. A row already removed by
// a concurrent delete counts as success, not conflict.
func (h *APIHandler) deleteTrackOnce(id int64) (bool, error) {
	track, err := h.trackRepo.GetTrackByID(id)
	if err != nil {
		return false, err
	}
	if track == nil {
		return true, nil // Raced with another delete; the track is gone either way
	}

	if err := h.store.Delete(track.FilePath); err != nil {
		return false, err
	}
	if track.CoverPath != "" {
		if err := h.store.Delete(track.CoverPath); err != nil {
			return false, err
		}
	}

	if _, err := h.trackRepo.DeleteTracksCascade([]int64{id}); err != nil {
		return false, err
	}
	return true, nil
}

// RefreshCoverHandler forces cover re-resolution for a track.
func (h *APIHandler) RefreshCoverHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := trackIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "Invalid song id")
		return
	}

	track, err := h.trackRepo.GetTrackByID(id)
	if err != nil {
		logger.Error("Failed to get track", logger.Int64("trackId", id), logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	if track == nil {
		writeNotFound(w, "Song not found")
		return
	}

	coverURL, coverPath := h.covers.Refresh(track.ID, track.Title, track.Artist, track.Album)
	if err := h.trackRepo.UpdateTrackCover(track.ID, coverURL, coverPath); err != nil {
		logger.Error("Failed to store refreshed cover",
			logger.Int64("trackId", track.ID), logger.ErrorField(err))
		writeInternalError(w)
		return
	}

	updated, err := h.trackRepo.GetTrackByID(id)
	if err != nil || updated == nil {
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
