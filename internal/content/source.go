// Package content loads the protected script from the configured storage
// backend, caches it, and renders it for granted callers.
package content

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/scriptgate/scriptgate/internal/storage"
	"github.com/scriptgate/scriptgate/internal/telemetry"
)

// Reload triggers, used as the content_cache_reloads_total label.
const (
	TriggerCold    = "cold"
	TriggerTTL     = "ttl"
	TriggerWatch   = "watch"
	TriggerPublish = "publish"
)

// Source serves the script body from a TTL cache in front of storage.
// A TTL of zero disables caching.
type Source struct {
	store storage.Storage
	key   string
	ttl   time.Duration
	now   func() time.Time

	mu       sync.RWMutex
	body     []byte
	loadedAt time.Time
	valid    bool
	trigger  string
	// gen is bumped by Invalidate; a read that started before the bump is not cached.
	gen uint64

	loadMu sync.Mutex
}

// NewSource creates a source for the object at key.
func NewSource(store storage.Storage, key string, ttl time.Duration) *Source {
	return &Source{
		store: store,
		key:   key,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Key returns the storage key of the script.
func (s *Source) Key() string {
	return s.key
}

// cached returns the body if it is still fresh, and otherwise the reason it
// must be reloaded together with the current generation.
func (s *Source) cached() ([]byte, string, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case !s.valid && s.trigger != "":
		return nil, s.trigger, s.gen
	case !s.valid:
		return nil, TriggerCold, s.gen
	case s.ttl > 0 && s.now().Sub(s.loadedAt) < s.ttl:
		return s.body, "", s.gen
	default:
		return nil, TriggerTTL, s.gen
	}
}

// Load returns the script body, reading through to storage when the cache is
// cold, expired or invalidated. Concurrent misses share one read.
func (s *Source) Load(ctx context.Context) ([]byte, error) {
	if body, _, _ := s.cached(); body != nil {
		return body, nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	body, trigger, gen := s.cached()
	if body != nil {
		return body, nil
	}

	rc, err := s.store.Download(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", s.key, err)
	}
	defer rc.Close()

	body, err = io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.key, err)
	}

	telemetry.ContentCacheReloadsTotal.WithLabelValues(trigger).Inc()

	s.mu.Lock()
	// An invalidation during the read means body may predate a publish.
	if s.gen == gen {
		s.body = body
		s.loadedAt = s.now()
		s.valid = true
		s.trigger = ""
	}
	s.mu.Unlock()

	return body, nil
}

// Invalidate drops the cached body; the next Load reads storage again.
func (s *Source) Invalidate(trigger string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
	s.body = nil
	s.trigger = trigger
	s.gen++
}

// Publish uploads a new script body and invalidates the cache.
func (s *Source) Publish(ctx context.Context, r io.Reader, size int64) (*storage.UploadResult, error) {
	result, err := s.store.Upload(ctx, s.key, r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to publish %s: %w", s.key, err)
	}
	s.Invalidate(TriggerPublish)
	return result, nil
}

// Metadata returns size, checksum and modification time of the stored script.
func (s *Source) Metadata(ctx context.Context) (*storage.FileMetadata, error) {
	return s.store.GetMetadata(ctx, s.key)
}

// Probe reports whether the storage backend is reachable and holds the script.
func (s *Source) Probe(ctx context.Context) error {
	ok, err := s.store.Exists(ctx, s.key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, s.key)
	}
	return nil
}

// Watch invalidates the cache whenever the script file changes on disk. It
// only applies to backends that expose file paths and returns immediately for
// the others. Watch blocks until ctx is done.
func (s *Source) Watch(ctx context.Context) error {
	fp, ok := s.store.(storage.FilePather)
	if !ok {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: uploads replace the file by rename, which would
	// drop a watch placed on the file itself.
	target := filepath.Clean(fp.FilePath(s.key))
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				slog.Debug("script changed on disk, invalidating cache", "path", target, "op", event.Op.String())
				s.Invalidate(TriggerWatch)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("script watcher error", "error", err)
		}
	}
}
