// Package cache holds resolved DOIs in memory in front of a durable store.
//
// The durable store is read once by Load and written only by Flush, Clear,
// Prune and Import. Callers decide when to flush; nothing is written
// implicitly at exit.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tmsincomb/oscapify/internal/ident"
)

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries     int    `json:"entries"`
	Resolved    int    `json:"resolved"`
	Unresolved  int    `json:"unresolved"`
	Hits        int    `json:"hits"`
	Misses      int    `json:"misses"`
	Writes      int    `json:"writes"`
	FlushErrors int    `json:"flush_errors"`
	Disabled    bool   `json:"disabled"`
	Degraded    bool   `json:"degraded"`
	Location    string `json:"location,omitempty"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is safe for concurrent use. All mutations, including writes to the
// durable store, are serialized by one lock.
type Cache struct {
	mu       sync.Mutex
	entries  map[ident.Key]Entry
	dirty    map[ident.Key]bool
	store    Store
	disabled bool
	degraded bool
	logger   *slog.Logger
	now      func() time.Time

	hits, misses, writes, flushErrors int
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore sets the durable tier. Without one the cache is memory-only.
func WithStore(s Store) Option {
	return func(c *Cache) {
		c.store = s
	}
}

// WithDisabled turns every Get into a miss and every Put into a no-op. The
// durable store is left untouched.
func WithDisabled(disabled bool) Option {
	return func(c *Cache) {
		c.disabled = disabled
	}
}

// WithLogger sets the logger used for degradation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// WithClock sets the time source for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates an empty cache. Call Load to populate it from the store.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[ident.Key]Entry),
		dirty:   make(map[ident.Key]bool),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Location describes the durable store, or "" when memory-only.
func (c *Cache) Location() string {
	if c.store == nil {
		return ""
	}
	return c.store.Location()
}

// durable reports whether writes should reach the store. Caller holds mu.
func (c *Cache) durable() bool {
	return c.store != nil && !c.disabled && !c.degraded
}

// degrade switches to memory-only operation. Caller holds mu.
func (c *Cache) degrade(op string, err error) error {
	ioErr := &CacheIOError{Op: op, Location: c.store.Location(), Err: err}
	if !c.degraded {
		c.logger.Warn("DOI cache unavailable, continuing in memory only",
			"op", op, "location", ioErr.Location, "err", err)
	}
	c.degraded = true
	return ioErr
}

// Load reads the durable store into memory. On failure the cache degrades
// to memory-only and returns a *CacheIOError; it remains usable.
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil || c.disabled {
		return nil
	}

	entries, err := c.store.Load(ctx)
	if err != nil {
		return c.degrade("load", err)
	}
	for _, e := range entries {
		key, err := e.identKey()
		if err != nil {
			return c.degrade("load", err)
		}
		c.entries[key] = e
	}
	c.logger.Debug("DOI cache loaded", "entries", len(entries), "location", c.store.Location())
	return nil
}

// Get returns the entry for key. An unresolved entry is still a hit.
func (c *Cache) Get(key ident.Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disabled {
		c.misses++
		return Entry{}, false
	}
	e, ok := c.entries[key.Normalize()]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return e, ok
}

// Put records a lookup result, replacing any previous entry for the key.
// An empty doi records the key as unresolved.
func (c *Cache) Put(key ident.Key, doi string) {
	c.PutLookup(key, ident.Key{}, doi)
}

// PutLookup is Put that also keeps the identifiers the service returned, so
// a later hit can fill in a pmid or pmcid the key lacks.
func (c *Cache) PutLookup(key, found ident.Key, doi string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disabled {
		return
	}
	key = key.Normalize()
	c.entries[key] = newEntry(key, found.Normalize(), ident.NormalizeDOI(doi), c.now())
	c.dirty[key] = true
	c.writes++
}

// Flush persists entries written since the last flush. A failed flush leaves
// previously durable entries intact, degrades the cache to memory-only and
// returns a *CacheIOError.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.dirty) == 0 {
		return nil
	}
	if !c.durable() {
		clear(c.dirty)
		return nil
	}

	var err error
	if up, ok := c.store.(Upserter); ok {
		changed := make([]Entry, 0, len(c.dirty))
		for key := range c.dirty {
			changed = append(changed, c.entries[key])
		}
		sortEntries(changed)
		err = up.Upsert(ctx, changed)
	} else {
		err = c.store.Replace(ctx, c.snapshot())
	}
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled: the store is unchanged and may be flushed later.
			return err
		}
		c.flushErrors++
		return c.degrade("flush", err)
	}

	c.logger.Debug("DOI cache flushed", "changed", len(c.dirty))
	clear(c.dirty)
	return nil
}

// Clear removes every entry from memory and from the durable store.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
	clear(c.dirty)
	if c.store == nil {
		return nil
	}
	if err := c.store.Replace(ctx, nil); err != nil {
		return c.degrade("clear", err)
	}
	// An emptied store is readable again, whatever degraded it before.
	c.degraded = false
	return nil
}

// Prune removes unresolved entries created before cutoff so they are looked
// up again on the next run. Resolved entries are kept. It returns the number
// of entries removed.
func (c *Cache) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if e.Status == StatusUnresolved && e.Created.Before(cutoff) {
			delete(c.entries, key)
			delete(c.dirty, key)
			removed++
		}
	}
	if removed == 0 || !c.durable() {
		return removed, nil
	}
	if err := c.store.Replace(ctx, c.snapshot()); err != nil {
		return removed, c.degrade("prune", err)
	}
	clear(c.dirty)
	return removed, nil
}

// Import merges entries into the cache and flushes them. Imported entries
// overwrite existing ones with the same key.
func (c *Cache) Import(ctx context.Context, entries []Entry) (int, error) {
	c.mu.Lock()
	imported := 0
	for _, e := range entries {
		key, err := e.identKey()
		if err != nil {
			continue
		}
		if e.Created.IsZero() {
			e.Created = c.now().UTC()
		}
		e = newEntry(key, e.IDs(), e.DOI, e.Created)
		c.entries[key] = e
		c.dirty[key] = true
		imported++
	}
	c.mu.Unlock()

	return imported, c.Flush(ctx)
}

// Entries returns every entry sorted by key.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// snapshot returns the sorted entry set. Caller holds mu.
func (c *Cache) snapshot() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries:     len(c.entries),
		Hits:        c.hits,
		Misses:      c.misses,
		Writes:      c.writes,
		FlushErrors: c.flushErrors,
		Disabled:    c.disabled,
		Degraded:    c.degraded,
	}
	if c.store != nil {
		s.Location = c.store.Location()
	}
	for _, e := range c.entries {
		if e.Status == StatusResolved {
			s.Resolved++
		} else {
			s.Unresolved++
		}
	}
	return s
}

// Close releases the durable store.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}
