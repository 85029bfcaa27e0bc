package cache

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rcourtman/fritzmesh/internal/fritzbox"
	"github.com/rcourtman/fritzmesh/internal/metrics"
	"github.com/rcourtman/fritzmesh/internal/rewrite"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// bootstrapPrefix is the key prefix of the synthetic entry page.
const bootstrapPrefix = "/?sid="

// Paths the browser uses to open the mesh overview.
var entryAliases = map[string]bool{
	"/":         true,
	"/#homeNet": true,
	"/start":    true,
}

// Entry is an immutable cached upstream response.
type Entry struct {
	Status      int                 `cbor:"1,keyasint"`
	ContentType string              `cbor:"2,keyasint"`
	Header      map[string][]string `cbor:"3,keyasint,omitempty"`
	Body        []byte              `cbor:"4,keyasint"`
	Rewritten   bool                `cbor:"5,keyasint"`
}

// MediaType returns the content type without parameters.
func (e *Entry) MediaType() string {
	if mediaType, _, err := mime.ParseMediaType(e.ContentType); err == nil {
		return mediaType
	}
	mediaType, _, _ := strings.Cut(e.ContentType, ";")
	return strings.TrimSpace(mediaType)
}

// NeedsIngress reports whether the body may carry placeholders that must be
// resolved before serving.
func (e *Entry) NeedsIngress() bool {
	return e.Rewritten || rewrite.IsSanitizable(e.ContentType)
}

// Fetcher retrieves raw assets from the router.
type Fetcher interface {
	Fetch(ctx context.Context, requestURI string) (*fritzbox.Asset, error)
}

// Cache maps request URIs to rewritten upstream responses. Entries are
// fetched once and never expire.
type Cache struct {
	fetcher  Fetcher
	rewriter *rewrite.Rewriter

	mu        sync.RWMutex
	entries   map[string]*Entry
	bootstrap fritzbox.SID

	group singleflight.Group
}

// New creates an empty cache.
func New(fetcher Fetcher, rewriter *rewrite.Rewriter) *Cache {
	return &Cache{
		fetcher:   fetcher,
		rewriter:  rewriter,
		entries:   make(map[string]*Entry),
		bootstrap: fritzbox.InvalidSID,
	}
}

// Key maps requestURI to its cache key, expanding the entry aliases to the
// bootstrap page.
func (c *Cache) Key(requestURI string) string {
	if !entryAliases[requestURI] {
		return requestURI
	}
	return bootstrapPrefix + c.BootstrapSID().String() + "&lp=meshNet"
}

// Resolve returns the entry for requestURI, fetching and rewriting it on the
// first request. Responses with an error status are returned but not stored.
func (c *Cache) Resolve(ctx context.Context, requestURI string) (*Entry, error) {
	key := c.Key(requestURI)

	if entry, ok := c.lookup(key); ok {
		metrics.RecordCacheLookup("hit")
		return entry, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		if entry, ok := c.lookup(key); ok {
			return entry, nil
		}
		// The fetch is shared by every waiter on key.
		return c.populate(context.WithoutCancel(ctx), key)
	})
	if err != nil {
		metrics.RecordCacheLookup("error")
		return nil, err
	}

	metrics.RecordCacheLookup("miss")
	return result.(*Entry), nil
}

func (c *Cache) populate(ctx context.Context, key string) (*Entry, error) {
	asset, err := c.fetcher.Fetch(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("path", key).Msg("Failed to fetch upstream asset")
		return nil, err
	}

	contentType := asset.ContentType()
	entry := &Entry{
		Status:      asset.StatusCode,
		ContentType: contentType,
		Body:        asset.Body,
	}

	if asset.StatusCode < http.StatusBadRequest && c.rewriter.Eligible(key, contentType) {
		entry.Body = c.rewriter.Rewrite(key, contentType, asset.Body)
		entry.Rewritten = true
	}
	entry.Header = keptHeaders(asset.Header, entry.NeedsIngress())

	if asset.StatusCode >= http.StatusBadRequest {
		log.Debug().Str("path", key).Int("status", asset.StatusCode).Msg("Not caching upstream error response")
		return entry, nil
	}

	c.mu.Lock()
	c.entries[key] = entry
	size := len(c.entries)
	c.mu.Unlock()

	metrics.SetCacheEntries(size)
	log.Debug().
		Str("path", key).
		Str("content_type", contentType).
		Bool("rewritten", entry.Rewritten).
		Msg("Cached upstream asset")

	return entry, nil
}

func (c *Cache) lookup(key string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// BootstrapSID returns the SID baked into the cached entry page.
func (c *Cache) BootstrapSID() fritzbox.SID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bootstrap
}

// SetBootstrapSID records sid as the bootstrap SID unless one is already
// set. It reports whether sid was adopted.
func (c *Cache) SetBootstrapSID(sid fritzbox.SID) bool {
	if !sid.Valid() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bootstrap.Valid() {
		return false
	}
	c.bootstrap = sid
	return true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of the entry map. Entries are shared, they are
// never mutated once stored.
func (c *Cache) Snapshot() map[string]*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*Entry, len(c.entries))
	for key, entry := range c.entries {
		out[key] = entry
	}
	return out
}

// Restore replaces the cache content with entries and recovers the
// bootstrap SID from their keys.
func (c *Cache) Restore(entries map[string]*Entry) {
	c.mu.Lock()
	c.entries = make(map[string]*Entry, len(entries))
	for key, entry := range entries {
		c.entries[key] = entry
	}
	c.bootstrap = BootstrapFromKeys(entries)
	size := len(c.entries)
	sid := c.bootstrap
	c.mu.Unlock()

	metrics.SetCacheEntries(size)
	if sid.Valid() {
		log.Info().Str("sid", sid.String()).Int("entries", size).Msg("Recovered bootstrap SID from cache")
	}
}

// BootstrapFromKeys finds the entry page key and returns its sid parameter.
// InvalidSID is returned when no such key exists.
func BootstrapFromKeys(entries map[string]*Entry) fritzbox.SID {
	for key := range entries {
		if !strings.HasPrefix(key, bootstrapPrefix) {
			continue
		}
		query, err := url.ParseQuery(strings.TrimPrefix(key, "/?"))
		if err != nil {
			continue
		}
		sid, err := fritzbox.ParseSID(query.Get("sid"))
		if err == nil && sid.Valid() {
			return sid
		}
	}
	return fritzbox.InvalidSID
}

// keptHeaders copies the upstream headers worth replaying. The Etag names
// the upstream bytes, so it is dropped when the served body differs.
func keptHeaders(h http.Header, modified bool) map[string][]string {
	kept := make(map[string][]string)
	for _, name := range []string{"Last-Modified", "Etag", "Content-Language"} {
		if modified && name == "Etag" {
			continue
		}
		if values := h.Values(name); len(values) > 0 {
			kept[name] = append([]string(nil), values...)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
