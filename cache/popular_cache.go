package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"melodycommons/db"
	"melodycommons/model"
)

// popularKey builds the Redis key for a popular-tracks listing of the given
// size.
func popularKey(limit int) string {
	return fmt.Sprintf("popular:%d", limit)
}

const popularTTL = 60 * time.Second

// GetPopularTracks returns the cached popular listing, or (nil, false) on a
// cache miss or when Redis is unavailable. Cache errors are never surfaced to
// callers; the popular query just runs against MySQL instead.
func GetPopularTracks(ctx context.Context, limit int) ([]model.Track, bool) {
	if db.RedisClient == nil {
		return nil, false
	}

	data, err := db.RedisClient.Get(ctx, popularKey(limit)).Bytes()
	if err != nil {
		return nil, false
	}

	var tracks []model.Track
	if err := json.Unmarshal(data, &tracks); err != nil {
		return nil, false
	}
	return tracks, true
}

// SetPopularTracks caches a popular listing for a short window. Best effort.
func SetPopularTracks(ctx context.Context, limit int, tracks []model.Track) {
	if db.RedisClient == nil {
		return
	}

	data, err := json.Marshal(tracks)
	if err != nil {
		return
	}
	db.RedisClient.Set(ctx, popularKey(limit), data, popularTTL)
}

// InvalidatePopular drops all cached popular listings. Called after uploads,
// deletes and play-count changes so stale rankings don't outlive the TTL.
func InvalidatePopular(ctx context.Context) {
	if db.RedisClient == nil {
		return
	}

	iter := db.RedisClient.Scan(ctx, 0, "popular:*", 100).Iterator()
	for iter.Next(ctx) {
		db.RedisClient.Del(ctx, iter.Val())
	}
}
