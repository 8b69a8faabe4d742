package server

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"melodycommons/config"
	"melodycommons/core/auth"
	"melodycommons/core/metadata"
	"melodycommons/model"
	"melodycommons/repository"
)

// fakeUserRepo holds users in memory keyed by username.
type fakeUserRepo struct {
	users map[string]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) CreateUser(user *model.User) (int64, error) {
	if _, exists := f.users[user.Username]; exists {
		return 0, repository.ErrDuplicateUser
	}
	user.ID = int64(len(f.users) + 1)
	f.users[user.Username] = user
	return user.ID, nil
}

func (f *fakeUserRepo) GetUserByID(id int64) (*model.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) GetUserByUsername(username string) (*model.User, error) {
	return f.users[username], nil
}

// fakeTrackRepo is an in-memory TrackRepository. vanishAfter makes
// GetTrackByID start returning nil after that many calls, simulating a
// concurrent delete.
type fakeTrackRepo struct {
	mu          sync.Mutex
	tracks      map[int64]*model.Track
	nextID      int64
	createErr   error
	getCalls    int
	vanishAfter int // 0 means never vanish
	coverURL    map[int64]string
	coverPath   map[int64]string
	playCounts  map[int64]int
}

func newFakeTrackRepo() *fakeTrackRepo {
	return &fakeTrackRepo{
		tracks:     make(map[int64]*model.Track),
		nextID:     1,
		coverURL:   make(map[int64]string),
		coverPath:  make(map[int64]string),
		playCounts: make(map[int64]int),
	}
}

func (f *fakeTrackRepo) add(t *model.Track) *model.Track {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == 0 {
		t.ID = f.nextID
		f.nextID++
	}
	f.tracks[t.ID] = t
	return t
}

func (f *fakeTrackRepo) CreateTrack(track *model.Track) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.add(track)
	return track.ID, nil
}

func (f *fakeTrackRepo) GetTrackByID(id int64) (*model.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.vanishAfter > 0 && f.getCalls > f.vanishAfter {
		return nil, nil
	}
	t, ok := f.tracks[id]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

func (f *fakeTrackRepo) GetTracks(offset, limit int, search string) ([]*model.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Track, 0, len(f.tracks))
	for _, t := range f.tracks {
		copied := *t
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeTrackRepo) GetAllTracks() ([]*model.Track, error) {
	return f.GetTracks(0, 0, "")
}

func (f *fakeTrackRepo) GetPopularTracks(limit int) ([]*model.Track, error) {
	return f.GetTracks(0, limit, "")
}

func (f *fakeTrackRepo) UpdateTrackInfo(id int64, title, artist, album string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tracks[id]
	if !ok {
		return fmt.Errorf("track %d not found", id)
	}
	t.Title, t.Artist, t.Album = title, artist, album
	return nil
}

func (f *fakeTrackRepo) UpdateTrackCover(id int64, coverURL, coverPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coverURL[id] = coverURL
	f.coverPath[id] = coverPath
	if t, ok := f.tracks[id]; ok {
		t.CoverURL, t.CoverPath = coverURL, coverPath
	}
	return nil
}

func (f *fakeTrackRepo) IncrementPlayCount(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playCounts[id]++
	if t, ok := f.tracks[id]; ok {
		t.PlayCount++
	}
	return nil
}

func (f *fakeTrackRepo) DeleteTracksCascade(ids []int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, id := range ids {
		if _, ok := f.tracks[id]; ok {
			delete(f.tracks, id)
			removed++
		}
	}
	return removed, nil
}

// fakePlaylistRepo is an in-memory PlaylistRepository. Entries are joined
// against a linked fakeTrackRepo, skipping tracks that no longer exist, the
// same way the GORM implementation does.
type fakePlaylistRepo struct {
	mu        sync.Mutex
	playlists map[int64]*model.Playlist
	members   map[int64][]model.PlaylistTrack // keyed by playlist ID
	nextID    int64
	tracks    *fakeTrackRepo
}

func newFakePlaylistRepo(tracks *fakeTrackRepo) *fakePlaylistRepo {
	return &fakePlaylistRepo{
		playlists: make(map[int64]*model.Playlist),
		members:   make(map[int64][]model.PlaylistTrack),
		nextID:    1,
		tracks:    tracks,
	}
}

func (f *fakePlaylistRepo) Create(ctx context.Context, playlist *model.Playlist) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	playlist.ID = f.nextID
	f.nextID++
	f.playlists[playlist.ID] = playlist
	return nil
}

func (f *fakePlaylistRepo) GetByID(ctx context.Context, id int64) (*model.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.playlists[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (f *fakePlaylistRepo) GetAll(ctx context.Context) ([]*model.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Playlist, 0, len(f.playlists))
	for _, p := range f.playlists {
		copied := *p
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakePlaylistRepo) Update(ctx context.Context, playlist *model.Playlist) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.playlists[playlist.ID]
	if !ok {
		return fmt.Errorf("playlist %d not found", playlist.ID)
	}
	p.Name, p.Description = playlist.Name, playlist.Description
	return nil
}

func (f *fakePlaylistRepo) Delete(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.playlists[id]; !ok {
		return false, nil
	}
	delete(f.members, id)
	delete(f.playlists, id)
	return true, nil
}

func (f *fakePlaylistRepo) AddTrack(ctx context.Context, playlistID, trackID int64, orderIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	maxOrder := -1
	for _, m := range f.members[playlistID] {
		if m.TrackID == trackID {
			return repository.ErrDuplicateMembership
		}
		if m.OrderIndex > maxOrder {
			maxOrder = m.OrderIndex
		}
	}
	if orderIndex < 0 {
		orderIndex = maxOrder + 1
	}
	f.members[playlistID] = append(f.members[playlistID], model.PlaylistTrack{
		PlaylistID: playlistID,
		TrackID:    trackID,
		OrderIndex: orderIndex,
		AddedAt:    time.Now(),
	})
	return nil
}

func (f *fakePlaylistRepo) RemoveTrack(ctx context.Context, playlistID, trackID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := f.members[playlistID]
	for i, m := range members {
		if m.TrackID == trackID {
			f.members[playlistID] = append(members[:i], members[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePlaylistRepo) GetEntries(ctx context.Context, playlistID int64) ([]model.PlaylistEntry, error) {
	f.mu.Lock()
	members := append([]model.PlaylistTrack(nil), f.members[playlistID]...)
	f.mu.Unlock()

	sort.Slice(members, func(i, j int) bool { return members[i].OrderIndex < members[j].OrderIndex })

	entries := make([]model.PlaylistEntry, 0, len(members))
	for _, m := range members {
		track, err := f.tracks.GetTrackByID(m.TrackID)
		if err != nil || track == nil {
			continue
		}
		entries = append(entries, model.PlaylistEntry{
			Track:      *track,
			OrderIndex: m.OrderIndex,
			AddedAt:    m.AddedAt,
		})
	}
	return entries, nil
}

func (f *fakePlaylistRepo) UpdateOrder(ctx context.Context, playlistID int64, orders []repository.TrackOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := f.members[playlistID]
	for _, o := range orders {
		for i := range members {
			if members[i].TrackID == o.TrackID {
				members[i].OrderIndex = o.OrderIndex
			}
		}
	}
	return nil
}

func (f *fakePlaylistRepo) memberCount(playlistID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.members[playlistID])
}

// fakeStore records Save/Delete calls; the first deleteFails Delete calls
// fail to simulate a transiently locked file.
type fakeStore struct {
	mu          sync.Mutex
	savePath    string
	saveErr     error
	saved       []string
	deleteFails int
	deleteCalls int
	deleted     []string
}

func (f *fakeStore) Save(r io.Reader, originalName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	io.Copy(io.Discard, r)
	path := f.savePath
	if path == "" {
		path = "/tmp/fake/" + originalName
	}
	f.saved = append(f.saved, path)
	return path, nil
}

func (f *fakeStore) Delete(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteCalls <= f.deleteFails {
		return fmt.Errorf("file locked: %s", path)
	}
	f.deleted = append(f.deleted, path)
	return nil
}

func (f *fakeStore) Exists(path string) bool {
	return true
}

// fakeCovers returns fixed values and counts calls.
type fakeCovers struct {
	url, path           string
	resolves, refreshes int
}

func (f *fakeCovers) Resolve(trackID int64, title, artist, album string) (string, string) {
	f.resolves++
	return f.url, f.path
}

func (f *fakeCovers) Refresh(trackID int64, title, artist, album string) (string, string) {
	f.refreshes++
	return f.url, f.path
}

// fakeExtractor returns a fixed Result without touching the filesystem.
type fakeExtractor struct {
	result metadata.Result
}

func (f *fakeExtractor) Extract(path string) metadata.Result {
	return f.result
}

type testEnv struct {
	handler      *APIHandler
	userRepo     *fakeUserRepo
	trackRepo    *fakeTrackRepo
	playlistRepo *fakePlaylistRepo
	store        *fakeStore
	covers       *fakeCovers
	tokens       *auth.TokenManager
}

func newTestEnv() *testEnv {
	userRepo := newFakeUserRepo()
	userRepo.CreateUser(&model.User{Username: "alice", PasswordHash: "x"})

	trackRepo := newFakeTrackRepo()
	playlistRepo := newFakePlaylistRepo(trackRepo)
	st := &fakeStore{}
	covers := &fakeCovers{}
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	cfg := &config.Config{
		MaxUploadSize: 50 << 20,
		MaxCoverSize:  5 << 20,
	}

	handler := NewAPIHandler(userRepo, trackRepo, playlistRepo, st,
		&fakeExtractor{}, covers, tokens, cfg)
	return &testEnv{
		handler:      handler,
		userRepo:     userRepo,
		trackRepo:    trackRepo,
		playlistRepo: playlistRepo,
		store:        st,
		covers:       covers,
		tokens:       tokens,
	}
}
