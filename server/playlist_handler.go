package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"melodycommons/logger"
	"melodycommons/model"
	"melodycommons/repository"

	"github.com/gorilla/mux"
)

type playlistRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func playlistIDFromRequest(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

// CreatePlaylistHandler creates an empty playlist.
func (h *APIHandler) CreatePlaylistHandler(w http.ResponseWriter, r *http.Request) {
	var req playlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "Playlist name is required")
		return
	}

	playlist := &model.Playlist{
		Name:        req.Name,
		Description: req.Description,
	}
	if err := h.playlistRepo.Create(r.Context(), playlist); err != nil {
		logger.Error("Failed to create playlist", logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, playlist)
}

// GetPlaylistsHandler lists all playlists, newest first.
func (h *APIHandler) GetPlaylistsHandler(w http.ResponseWriter, r *http.Request) {
	playlists, err := h.playlistRepo.GetAll(r.Context())
	if err != nil {
		logger.Error("Failed to list playlists", logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, playlists)
}

// GetPlaylistHandler returns one playlist with its ordered entries.
func (h *APIHandler) GetPlaylistHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := playlistIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "Invalid playlist id")
		return
	}

	playlist, err := h.playlistRepo.GetByID(r.Context(), id)
	if err != nil {
		logger.Error("Failed to get playlist", logger.Int64("playlistId", id), logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	if playlist == nil {
		writeNotFound(w, "Playlist not found")
		return
	}

	entries, err := h.playlistRepo.GetEntries(r.Context(), id)
	if err != nil {
		logger.Error("Failed to load playlist entries", logger.Int64("playlistId", id), logger.ErrorField(err))
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          playlist.ID,
		"name":        playlist.Name,
		"description": playlist.Description,
		"created_at":  playlist.CreatedAt,
		"updated_at":  playlist.UpdatedAt,
		"songs":       entries,
	})
}

// UpdatePlaylistHandler renames a playlist or changes its description.
func (h *APIHandler) UpdatePlaylistHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := playlistIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "Invalid playlist id")
		return
	}

	var req playlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "Playlist name is required")
		return
	}

	playlist, err := h.playlistRepo.GetByID(r.Context(), id)
	if err != nil {
		writeInternalError(w)
		return
	}
	if playlist == nil {
		writeNotFound(w, "Playlist not found")
		return
	}

	playlist.Name = req.Name
	playlist.Description = req.Description
	if err := h.playlistRepo.Update(r.Context(), playlist); err != nil {
		logger.Error("Failed to update playlist", logger.Int64("playlistId", id), logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, playlist)
}

// DeletePlaylistHandler removes a playlist and its memberships. Tracks
// themselves are untouched.
func (h *APIHandler) DeletePlaylistHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := playlistIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "Invalid playlist id")
		return
	}

	deleted, err := h.playlistRepo.Delete(r.Context(), id)
	if err != nil {
		logger.Error("Failed to delete playlist", logger.Int64("playlistId", id), logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	if !deleted {
		writeNotFound(w, "Playlist not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Playlist deleted successfully"})
}

// AddPlaylistTrackHandler adds a track to a playlist. Without an explicit
// order_index query parameter the track lands at the end.
func (h *APIHandler) AddPlaylistTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := playlistIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "Invalid playlist id")
		return
	}
	trackID, err := strconv.ParseInt(mux.Vars(r)["songId"], 10, 64)
	if err != nil || trackID <= 0 {
		writeBadRequest(w, "Invalid song id")
		return
	}

	playlist, err := h.playlistRepo.GetByID(r.Context(), id)
	if err != nil {
		writeInternalError(w)
		return
	}
	if playlist == nil {
		writeNotFound(w, "Playlist not found")
		return
	}

	track, err := h.trackRepo.GetTrackByID(trackID)
	if err != nil {
		writeInternalError(w)
		return
	}
	if track == nil {
		writeNotFound(w, "Song not found")
		return
	}

	orderIndex := -1
	if raw := r.URL.Query().Get("order_index"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeBadRequest(w, "Invalid order_index")
			return
		}
		orderIndex = v
	}
	if err := h.playlistRepo.AddTrack(r.Context(), id, trackID, orderIndex); err != nil {
		if errors.Is(err, repository.ErrDuplicateMembership) {
			writeConflict(w, "Song is already in this playlist")
			return
		}
		logger.Error("Failed to add track to playlist",
			logger.Int64("playlistId", id), logger.Int64("trackId", trackID), logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Song added to playlist"})
}

// GetPlaylistEntriesHandler lists a playlist's tracks in play order.
func (h *APIHandler) GetPlaylistEntriesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := playlistIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "Invalid playlist id")
		return
	}

	playlist, err := h.playlistRepo.GetByID(r.Context(), id)
	if err != nil {
		writeInternalError(w)
		return
	}
	if playlist == nil {
		writeNotFound(w, "Playlist not found")
		return
	}

	entries, err := h.playlistRepo.GetEntries(r.Context(), id)
	if err != nil {
		logger.Error("Failed to load playlist entries", logger.Int64("playlistId", id), logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// RemovePlaylistTrackHandler removes one membership.
func (h *APIHandler) RemovePlaylistTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := playlistIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "Invalid playlist id")
		return
	}
	trackID, err := strconv.ParseInt(mux.Vars(r)["songId"], 10, 64)
	if err != nil || trackID <= 0 {
		writeBadRequest(w, "Invalid song id")
		return
	}

	removed, err := h.playlistRepo.RemoveTrack(r.Context(), id, trackID)
	if err != nil {
		logger.Error("Failed to remove track from playlist",
			logger.Int64("playlistId", id), logger.Int64("trackId", trackID), logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	if !removed {
		writeNotFound(w, "Song is not in this playlist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Song removed from playlist"})
}

type orderUpdateRequest struct {
	Orders []repository.TrackOrder `json:"orders"`
}

// UpdatePlaylistOrderHandler applies a bulk reorder in one transaction.
func (h *APIHandler) UpdatePlaylistOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := playlistIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "Invalid playlist id")
		return
	}

	var req orderUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if len(req.Orders) == 0 {
		writeBadRequest(w, "orders is required")
		return
	}

	playlist, err := h.playlistRepo.GetByID(r.Context(), id)
	if err != nil {
		writeInternalError(w)
		return
	}
	if playlist == nil {
		writeNotFound(w, "Playlist not found")
		return
	}

	if err := h.playlistRepo.UpdateOrder(r.Context(), id, req.Orders); err != nil {
		logger.Error("Failed to reorder playlist", logger.Int64("playlistId", id), logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Playlist order updated"})
}
