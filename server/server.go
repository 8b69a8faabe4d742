package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"melodycommons/config"
	"melodycommons/core/auth"
	"melodycommons/core/cover"
	"melodycommons/core/metadata"
	"melodycommons/core/reconcile"
	"melodycommons/core/store"
	"melodycommons/db"
	"melodycommons/logger"
	"melodycommons/model"
	"melodycommons/repository"

	"github.com/gorilla/mux"
)

// Start wires the application together and serves HTTP until the process
// receives SIGINT or SIGTERM.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})

	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("Failed to connect to database", logger.ErrorField(err))
	}
	defer db.DB.Close()
	if err := db.InitDB(); err != nil {
		logger.Fatal("Failed to initialize database schema", logger.ErrorField(err))
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("Failed to connect GORM", logger.ErrorField(err))
	}
	defer db.CloseGormDB()
	if err := db.AutoMigrateModels(&model.Playlist{}, &model.PlaylistTrack{}); err != nil {
		logger.Fatal("Failed to migrate playlist tables", logger.ErrorField(err))
	}

	// Redis is optional: without it the popular ranking is computed per
	// request instead of cached.
	if err := db.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis unavailable, popular-tracks cache disabled", logger.ErrorField(err))
	}
	defer db.CloseRedis()

	fileStore, err := store.NewDiskStore(cfg.AudioDir)
	if err != nil {
		logger.Fatal("Failed to prepare audio directory", logger.ErrorField(err))
	}
	covers, err := cover.NewResolver(cfg.CoverAPIURL, cfg.CoverDir, cfg.CoverTimeout, cfg.MaxCoverSize)
	if err != nil {
		logger.Fatal("Failed to prepare cover directory", logger.ErrorField(err))
	}
	extractor := metadata.NewExtractor(cfg.FFprobePath)
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)

	userRepo := repository.NewMySQLUserRepository(db.DB)
	trackRepo := repository.NewMySQLTrackRepository(db.DB)
	playlistRepo := repository.NewGormPlaylistRepository(db.GormDB)

	handler := NewAPIHandler(userRepo, trackRepo, playlistRepo, fileStore, extractor, covers, tokens, cfg)

	reconciler := reconcile.NewReconciler(trackRepo)
	if cfg.SweepOnStart {
		if removed, err := reconciler.Sweep(context.Background()); err != nil {
			logger.Error("Startup sweep failed", logger.ErrorField(err))
		} else if removed > 0 {
			logger.Info("Startup sweep removed orphaned tracks", logger.Int("removed", removed))
		}
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if cfg.WatchFiles {
		go func() {
			if err := reconciler.Watch(watchCtx, cfg.AudioDir); err != nil {
				logger.Error("File watcher stopped", logger.ErrorField(err))
			}
		}()
	}

	router := newRouter(handler, cfg)

	server := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     corsMiddleware(loggingMiddleware(router)),
		ReadTimeout: 30 * time.Second,
		// No write timeout: audio streams legitimately run for minutes.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", logger.ErrorField(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancelWatch()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", logger.ErrorField(err))
	}
	logger.Info("Server exited")
}

// newRouter registers every route. Literal paths ("popular", ".../order")
// are registered before their parameterized siblings so mux matches them
// first.
func newRouter(h *APIHandler, cfg *config.Config) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	r.HandleFunc("/auth/register", h.RegisterHandler).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.LoginHandler).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", h.AuthMiddleware(h.MeHandler)).Methods(http.MethodGet)

	r.HandleFunc("/songs", h.AuthMiddleware(h.GetTracksHandler)).Methods(http.MethodGet)
	r.HandleFunc("/songs", h.AuthMiddleware(h.UploadTrackHandler)).Methods(http.MethodPost)
	r.HandleFunc("/songs/popular", h.AuthMiddleware(h.GetPopularTracksHandler)).Methods(http.MethodGet)
	r.HandleFunc("/songs/{id}", h.AuthMiddleware(h.GetTrackHandler)).Methods(http.MethodGet)
	r.HandleFunc("/songs/{id}", h.AuthMiddleware(h.UpdateTrackHandler)).Methods(http.MethodPut)
	r.HandleFunc("/songs/{id}", h.AuthMiddleware(h.DeleteTrackHandler)).Methods(http.MethodDelete)
	// Stream does its own auth so the token can come in as a query
	// parameter; see StreamTrackHandler.
	r.HandleFunc("/songs/{id}/stream", h.StreamTrackHandler).Methods(http.MethodGet)
	r.HandleFunc("/songs/{id}/cover/refresh", h.AuthMiddleware(h.RefreshCoverHandler)).Methods(http.MethodPost)

	r.HandleFunc("/playlists", h.AuthMiddleware(h.GetPlaylistsHandler)).Methods(http.MethodGet)
	r.HandleFunc("/playlists", h.AuthMiddleware(h.CreatePlaylistHandler)).Methods(http.MethodPost)
	r.HandleFunc("/playlists/{id}", h.AuthMiddleware(h.GetPlaylistHandler)).Methods(http.MethodGet)
	r.HandleFunc("/playlists/{id}", h.AuthMiddleware(h.UpdatePlaylistHandler)).Methods(http.MethodPut)
	r.HandleFunc("/playlists/{id}", h.AuthMiddleware(h.DeletePlaylistHandler)).Methods(http.MethodDelete)
	r.HandleFunc("/playlists/{id}/songs", h.AuthMiddleware(h.GetPlaylistEntriesHandler)).Methods(http.MethodGet)
	r.HandleFunc("/playlists/{id}/songs/order", h.AuthMiddleware(h.UpdatePlaylistOrderHandler)).Methods(http.MethodPut)
	r.HandleFunc("/playlists/{id}/songs/{songId}", h.AuthMiddleware(h.AddPlaylistTrackHandler)).Methods(http.MethodPost)
	r.HandleFunc("/playlists/{id}/songs/{songId}", h.AuthMiddleware(h.RemovePlaylistTrackHandler)).Methods(http.MethodDelete)

	r.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir))))

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
