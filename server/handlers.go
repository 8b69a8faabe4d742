package server

import (
	"melodycommons/config"
	"melodycommons/core/auth"
	"melodycommons/core/metadata"
	"melodycommons/core/store"
	"melodycommons/repository"
)

// CoverResolver is the slice of the cover resolver the handlers need;
// narrowed to an interface so tests can fake the network side.
type CoverResolver interface {
	Resolve(trackID int64, title, artist, album string) (coverURL, coverPath string)
	Refresh(trackID int64, title, artist, album string) (coverURL, coverPath string)
}

// MetadataExtractor reads tags from a stored audio file.
type MetadataExtractor interface {
	Extract(path string) metadata.Result
}

// APIHandler carries the dependencies shared by all HTTP handlers.
type APIHandler struct {
	userRepo     repository.UserRepository
	trackRepo    repository.TrackRepository
	playlistRepo repository.PlaylistRepository
	store        store.FileStore
	extractor    MetadataExtractor
	covers       CoverResolver
	tokens       *auth.TokenManager
	cfg          *config.Config
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(
	userRepo repository.UserRepository,
	trackRepo repository.TrackRepository,
	playlistRepo repository.PlaylistRepository,
	fileStore store.FileStore,
	extractor MetadataExtractor,
	covers CoverResolver,
	tokens *auth.TokenManager,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		userRepo:     userRepo,
		trackRepo:    trackRepo,
		playlistRepo: playlistRepo,
		store:        fileStore,
		extractor:    extractor,
		covers:       covers,
		tokens:       tokens,
		cfg:          cfg,
	}
}
