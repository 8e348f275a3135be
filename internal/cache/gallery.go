// Package cache keeps the matching gallery in Redis so a mark request does not
// have to read every student row.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/attendance"
)

// DefaultKey is where the gallery is stored when no key is given.
const DefaultKey = "attendance:gallery"

// Gallery is a Redis-backed attendance.GalleryCache. A generation counter
// stored next to the snapshot is bumped on every Invalidate, and Save only
// writes while the generation it was given is still current.
type Gallery struct {
	client *redis.Client
	key    string
	genKey string
	ttl    time.Duration
}

// NewGallery builds a gallery cache. A zero ttl keeps entries until invalidated.
func NewGallery(client *redis.Client, key string, ttl time.Duration) *Gallery {
	if key == "" {
		key = DefaultKey
	}
	return &Gallery{client: client, key: key, genKey: key + ":gen", ttl: ttl}
}

var errStale = errors.New("gallery generation changed")

// Load returns the cached gallery; hit is false when nothing is cached. gen is
// the generation to pass to Save after reading the gallery from the database.
func (g *Gallery) Load(ctx context.Context) ([]attendance.GalleryEntry, int64, bool, error) {
	vals, err := g.client.MGet(ctx, g.key, g.genKey).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("gallery get: %w", err)
	}
	gen, err := generation(vals[1])
	if err != nil {
		return nil, 0, false, err
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, gen, false, nil
	}
	var entries []attendance.GalleryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, 0, false, fmt.Errorf("gallery decode: %w", err)
	}
	return entries, gen, true, nil
}

// Save stores the gallery read under generation gen. It is a no-op when an
// Invalidate ran since gen was loaded.
func (g *Gallery) Save(ctx context.Context, gen int64, gallery []attendance.GalleryEntry) error {
	if gallery == nil {
		gallery = []attendance.GalleryEntry{}
	}
	raw, err := json.Marshal(gallery)
	if err != nil {
		return fmt.Errorf("gallery encode: %w", err)
	}
	err = g.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, g.genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, g.key, raw, g.ttl)
			return nil
		})
		return err
	}, g.genKey)
	switch {
	case err == nil, errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		return nil
	default:
		return fmt.Errorf("gallery set: %w", err)
	}
}

// Invalidate drops the cached gallery and starts a new generation.
func (g *Gallery) Invalidate(ctx context.Context) error {
	_, err := g.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, g.genKey)
		p.Del(ctx, g.key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("gallery invalidate: %w", err)
	}
	return nil
}

func generation(v any) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, nil
	}
	gen, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("gallery generation %q: %w", s, err)
	}
	return gen, nil
}
