package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"melodycommons/cache"
	"melodycommons/logger"
	"melodycommons/model"
)

// streamChunkSize bounds how much audio is buffered per write.
const streamChunkSize = 8 * 1024

var streamMediaTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".wav":  "audio/wav",
}

// StreamTrackHandler serves audio bytes with HTTP Range support so clients
// can seek. Native <audio> elements cannot set an Authorization header, so
// the token may also arrive as a "token" query parameter.
func (h *APIHandler) StreamTrackHandler(w http.ResponseWriter, r *http.Request) {
	var user *model.User
	if token := r.URL.Query().Get("token"); token != "" {
		user, _ = h.userFromToken(token)
	}
	if user == nil {
		// A bad query token still falls through to the header.
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			user, _ = h.userFromToken(strings.TrimPrefix(authHeader, "Bearer "))
		}
	}
	if user == nil {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Authentication required")
		return
	}

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

	file, err := os.Open(track.FilePath)
	if err != nil {
		// The row exists but the audio is gone; the reconciler will catch
		// up, the client just gets a 404.
		logger.Warn("Audio file missing for track",
			logger.Int64("trackId", id), logger.String("path", track.FilePath))
		writeNotFound(w, "Audio file not found")
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		writeInternalError(w)
		return
	}
	size := stat.Size()

	mediaType := streamMediaTypes[strings.ToLower(filepath.Ext(track.FilePath))]
	if mediaType == "" {
		mediaType = "audio/mpeg"
	}

	start, end, partial := parseRange(r.Header.Get("Range"), size)

	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	if partial {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	// Playing from the beginning counts as a play; mid-file seeks do not.
	if start == 0 {
		if err := h.trackRepo.IncrementPlayCount(id); err != nil {
			logger.Warn("Failed to increment play count",
				logger.Int64("trackId", id), logger.ErrorField(err))
		} else {
			cache.InvalidatePopular(r.Context())
		}
	}

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		logger.Error("Failed to seek audio file", logger.ErrorField(err))
		return
	}

	// Copy in small chunks so a client abort stops the transfer promptly.
	remaining := end - start + 1
	buf := make([]byte, streamChunkSize)
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := file.Read(buf[:n])
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return // Client went away
			}
			remaining -= int64(read)
		}
		if err != nil {
			return
		}
	}
}

// parseRange interprets a "bytes=<start>-<end>" header against a file of the
// given size. A missing start streams from 0; a missing end streams to EOF;
// an end past EOF is clamped. Anything unparseable falls back to a full-file
// response rather than an error.
func parseRange(header string, size int64) (start, end int64, partial bool) {
	start, end = 0, size-1
	if header == "" {
		return start, end, false
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, size - 1, false
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, size - 1, false
	}

	if startStr != "" {
		v, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
		if err != nil || v < 0 {
			return 0, size - 1, false
		}
		start = v
	}
	if endStr != "" {
		v, err := strconv.ParseInt(strings.TrimSpace(endStr), 10, 64)
		if err != nil || v < 0 {
			return 0, size - 1, false
		}
		end = v
	}

	if end > size-1 {
		end = size - 1
	}
	if start > end || start >= size {
		return 0, size - 1, false
	}
	return start, end, true
}
