package artifact

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type CacheConfig struct {
	BlobTTL        time.Duration
	BlobMaxEntries int
	// BlobMaxBytes skips caching of larger objects.
	BlobMaxBytes int

	URLTTL        time.Duration
	URLMaxEntries int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		BlobTTL:        5 * time.Minute,
		BlobMaxEntries: 512,
		BlobMaxBytes:   4 * 1024 * 1024, // 4MiB
		URLTTL:         5 * time.Minute,
		URLMaxEntries:  1024,
	}
}

type MetricsSnapshot struct {
	BlobHits       uint64
	BlobMisses     uint64
	URLHits        uint64
	URLMisses      uint64
	OriginReads    uint64
	OriginWrites   uint64
	OriginReadErr  uint64
	OriginWriteErr uint64
}

type Metrics struct {
	blobHits       atomic.Uint64
	blobMisses     atomic.Uint64
	urlHits        atomic.Uint64
	urlMisses      atomic.Uint64
	originReads    atomic.Uint64
	originWrites   atomic.Uint64
	originReadErr  atomic.Uint64
	originWriteErr atomic.Uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		BlobHits:       m.blobHits.Load(),
		BlobMisses:     m.blobMisses.Load(),
		URLHits:        m.urlHits.Load(),
		URLMisses:      m.urlMisses.Load(),
		OriginReads:    m.originReads.Load(),
		OriginWrites:   m.originWrites.Load(),
		OriginReadErr:  m.originReadErr.Load(),
		OriginWriteErr: m.originWriteErr.Load(),
	}
}

var _ Store = (*CachedStore)(nil)

type cachedBlob struct {
	content     []byte
	contentType string
}

// CachedStore keeps recently read objects and presigned URLs in memory in
// front of a remote store.
type CachedStore struct {
	origin Store
	cfg    CacheConfig

	blobCache *expirable.LRU[string, cachedBlob]
	urlCache  *expirable.LRU[string, string]
	metrics   Metrics
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	def := DefaultCacheConfig()
	if cfg.BlobTTL <= 0 {
		cfg.BlobTTL = def.BlobTTL
	}
	if cfg.BlobMaxEntries <= 0 {
		cfg.BlobMaxEntries = def.BlobMaxEntries
	}
	if cfg.BlobMaxBytes <= 0 {
		cfg.BlobMaxBytes = def.BlobMaxBytes
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = def.URLTTL
	}
	if cfg.URLMaxEntries <= 0 {
		cfg.URLMaxEntries = def.URLMaxEntries
	}
	return &CachedStore{
		origin:    origin,
		cfg:       cfg,
		blobCache: expirable.NewLRU[string, cachedBlob](cfg.BlobMaxEntries, nil, cfg.BlobTTL),
		urlCache:  expirable.NewLRU[string, string](cfg.URLMaxEntries, nil, cfg.URLTTL),
	}
}

func (s *CachedStore) Put(ctx context.Context, sessionID, path string, content []byte, contentType string) error {
	s.metrics.originWrites.Add(1)
	if err := s.origin.Put(ctx, sessionID, path, content, contentType); err != nil {
		s.metrics.originWriteErr.Add(1)
		return err
	}
	key := cacheKey(sessionID, path)
	s.urlCache.Remove(key)
	if len(content) <= s.cfg.BlobMaxBytes {
		s.blobCache.Add(key, cachedBlob{content: append([]byte(nil), content...), contentType: contentType})
	} else {
		s.blobCache.Remove(key)
	}
	return nil
}

func (s *CachedStore) Get(ctx context.Context, sessionID, path string) ([]byte, error) {
	key := cacheKey(sessionID, path)
	if b, ok := s.blobCache.Get(key); ok {
		s.metrics.blobHits.Add(1)
		return append([]byte(nil), b.content...), nil
	}
	s.metrics.blobMisses.Add(1)
	s.metrics.originReads.Add(1)

	raw, err := s.origin.Get(ctx, sessionID, path)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	if len(raw) <= s.cfg.BlobMaxBytes {
		s.blobCache.Add(key, cachedBlob{content: append([]byte(nil), raw...)})
	}
	return raw, nil
}

// ContentType returns the content type of a cached object written through
// this store, or "" when unknown.
func (s *CachedStore) ContentType(sessionID, path string) string {
	if b, ok := s.blobCache.Peek(cacheKey(sessionID, path)); ok && b.contentType != "" {
		return b.contentType
	}
	if typer, ok := s.origin.(interface{ ContentType(string, string) string }); ok {
		return typer.ContentType(sessionID, path)
	}
	return ""
}

func (s *CachedStore) GetURL(ctx context.Context, sessionID, path string) (string, error) {
	key := cacheKey(sessionID, path)
	if cached, ok := s.urlCache.Get(key); ok {
		s.metrics.urlHits.Add(1)
		return cached, nil
	}
	s.metrics.urlMisses.Add(1)
	s.metrics.originReads.Add(1)

	url, err := s.origin.GetURL(ctx, sessionID, path)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return "", err
	}
	if strings.TrimSpace(url) != "" {
		s.urlCache.Add(key, url)
	}
	return url, nil
}

func (s *CachedStore) List(ctx context.Context, sessionID string) ([]string, error) {
	s.metrics.originReads.Add(1)
	list, err := s.origin.List(ctx, sessionID)
	if err != nil {
		s.metrics.originReadErr.Add(1)
	}
	return list, err
}

func (s *CachedStore) DeleteAll(ctx context.Context, sessionID string) error {
	prefix := strings.TrimSpace(sessionID) + "/"
	for _, k := range s.blobCache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.blobCache.Remove(k)
		}
	}
	for _, k := range s.urlCache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.urlCache.Remove(k)
		}
	}
	s.metrics.originWrites.Add(1)
	if err := s.origin.DeleteAll(ctx, sessionID); err != nil {
		s.metrics.originWriteErr.Add(1)
		return err
	}
	return nil
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.snapshot()
}

func cacheKey(sessionID, path string) string {
	return objectKey(strings.TrimSpace(sessionID), strings.TrimLeft(strings.TrimSpace(path), "/"))
}
