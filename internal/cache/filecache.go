// Package cache implements the bounded-capacity, write-back, file-backed
// cache spec.md §4.1 describes: an in-memory map mirrored to disk as one
// file per entry, serving single-flight reads and tracking dirtiness for
// the syncer to flush.
package cache

import (
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/singleflight"

	"github.com/miruml/agent/internal/agenterr"
	"github.com/miruml/agent/internal/fsutil"
)

const quarantineDirName = ".quarantined"

// ErrClosed is returned by FileCache operations once Shutdown has run.
var ErrClosed = fmt.Errorf("cache: closed")

type box[K Key, V any] struct {
	mu    sync.Mutex
	entry Entry[K, V]
}

// onDiskRecord wraps a marshaled Entry with an xxh3 checksum of its body, so
// a flipped bit or truncated write is caught as corruption (and quarantined)
// rather than silently decoding into a zeroed or partial entry.
type onDiskRecord struct {
	Checksum uint64          `json:"checksum"`
	Entry    json.RawMessage `json:"entry"`
}

func (c *FileCache[K, V]) encodeEntry(e Entry[K, V]) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(onDiskRecord{Checksum: xxh3.Hash(body), Entry: body})
}

func (c *FileCache[K, V]) decodeEntry(data []byte) (Entry[K, V], error) {
	var rec onDiskRecord
	var zero Entry[K, V]
	if err := json.Unmarshal(data, &rec); err != nil {
		return zero, err
	}
	if xxh3.Hash(rec.Entry) != rec.Checksum {
		return zero, fmt.Errorf("cache: checksum mismatch")
	}
	var e Entry[K, V]
	if err := json.Unmarshal(rec.Entry, &e); err != nil {
		return zero, err
	}
	return e, nil
}

// FileCache is the generic file-backed cache. K must render to a stable,
// filesystem-safe string identity; V is the cached value type.
type FileCache[K Key, V any] struct {
	dir        string
	quarantine string
	capacity   int
	policy     DirtyPolicy[K, V]
	parseKey   func(string) (K, error)

	m        *xsync.Map[string, *box[K, V]]
	sf       singleflight.Group
	dirtySeq atomic.Int64
	closed   atomic.Bool
}

// New opens (or initializes) a file-backed cache rooted at dir. On init it
// enumerates dir, parses each file, and loads up to capacity entries
// ordered by last_accessed descending; dirty entries always load regardless
// of capacity. Files that fail to decode as a key or parse as an entry are
// quarantined, never silently dropped.
func New[K Key, V any](dir string, capacity int, policy DirtyPolicy[K, V], parseKey func(string) (K, error)) (*FileCache[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache: capacity must be positive, got %d", capacity)
	}
	quarantine := filepath.Join(dir, quarantineDirName)
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, agenterr.Wrap(agenterr.KindFileSys, "cache.New", err)
	}
	if err := fsutil.EnsureDir(quarantine); err != nil {
		return nil, agenterr.Wrap(agenterr.KindFileSys, "cache.New", err)
	}

	fc := &FileCache[K, V]{
		dir:        dir,
		quarantine: quarantine,
		capacity:   capacity,
		policy:     policy,
		parseKey:   parseKey,
		m:          xsync.NewMap[string, *box[K, V]](),
	}
	if err := fc.loadFromDisk(); err != nil {
		return nil, err
	}
	return fc, nil
}

func (c *FileCache[K, V]) loadFromDisk() error {
	names, err := fsutil.ListDir(c.dir)
	if err != nil {
		return agenterr.Wrap(agenterr.KindFileSys, "cache.loadFromDisk", err)
	}

	type loaded struct {
		rendered string
		entry    Entry[K, V]
	}
	var all []loaded

	for _, name := range names {
		rendered := name
		if _, err := c.parseKey(rendered); err != nil {
			c.quarantineFile(name, "undecodable key")
			continue
		}
		data, err := fsutil.ReadFile(filepath.Join(c.dir, name))
		if err != nil {
			log.Printf("[cache] read %s: %v", name, err)
			continue
		}
		e, err := c.decodeEntry(data)
		if err != nil {
			c.quarantineFile(name, "unparseable entry")
			continue
		}
		all = append(all, loaded{rendered: rendered, entry: e})
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].entry.LastAccessed.After(all[j].entry.LastAccessed)
	})

	loadedCount := 0
	for _, l := range all {
		if !l.entry.IsDirty && loadedCount >= c.capacity {
			continue
		}
		if l.entry.IsDirty {
			l.entry.dirtySeq = c.dirtySeq.Add(1)
		}
		c.m.Store(l.rendered, &box[K, V]{entry: l.entry})
		loadedCount++
	}
	return nil
}

func (c *FileCache[K, V]) quarantineFile(name, reason string) {
	src := filepath.Join(c.dir, name)
	dst := filepath.Join(c.quarantine, fmt.Sprintf("%d-%s", time.Now().UnixNano(), name))
	if err := fsutil.MoveFile(src, dst); err != nil {
		log.Printf("[cache] quarantine %s (%s): %v", name, reason, err)
		return
	}
	log.Printf("[cache] quarantined %s: %s", name, reason)
}

func (c *FileCache[K, V]) path(rendered string) string {
	return filepath.Join(c.dir, rendered)
}

// Read returns the current value for k, updating last_accessed, without
// mutating is_dirty and without ever blocking on network. If the key is
// absent in memory it is pulled in from disk on demand; a key with no file
// on disk is simply a cache miss.
func (c *FileCache[K, V]) Read(k K) (V, bool) {
	if c.closed.Load() {
		var zero V
		return zero, false
	}
	rendered := k.Render()

	b, ok := c.m.Load(rendered)
	if !ok {
		v, loaded, err := c.loadFromFileSingleflight(rendered)
		if err != nil || !loaded {
			var zero V
			return zero, false
		}
		b = v
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entry.LastAccessed = time.Now()
	return b.entry.Value, true
}

func (c *FileCache[K, V]) loadFromFileSingleflight(rendered string) (*box[K, V], bool, error) {
	result, err, _ := c.sf.Do(rendered, func() (any, error) {
		if b, ok := c.m.Load(rendered); ok {
			return b, nil
		}
		path := c.path(rendered)
		if !fsutil.Exists(path) {
			return nil, nil
		}
		data, err := fsutil.ReadFile(path)
		if err != nil {
			return nil, err
		}
		e, err := c.decodeEntry(data)
		if err != nil {
			c.quarantineFile(rendered, "unparseable entry")
			return nil, nil
		}
		nb := &box[K, V]{entry: e}
		c.m.Store(rendered, nb)
		return nb, nil
	})
	if err != nil {
		return nil, false, agenterr.Wrap(agenterr.KindFileSys, "cache.Read", err)
	}
	if result == nil {
		return nil, false, nil
	}
	return result.(*box[K, V]), true, nil
}

// Write inserts or replaces k's value. The effective dirtiness is
// mark_dirty OR policy(old, new). On an insert that pushes the cache past
// capacity, one clean entry is evicted by LRU; the eviction runs after the
// new entry has been persisted, not before. If every entry is dirty,
// capacity is exceeded and a pressure event is logged; the syncer is
// responsible for draining it.
func (c *FileCache[K, V]) Write(k K, v V, markDirty bool) error {
	if c.closed.Load() {
		return ErrClosed
	}
	rendered := k.Render()
	now := time.Now()

	// LoadOrStore hands concurrent writers of the same key the identical
	// box, so the lock held below (for the full encode-then-persist
	// operation, not just the in-memory swap) actually serializes them —
	// no window where a slower write's failure rollback can clobber a
	// faster write that already succeeded.
	existing, exists := c.m.LoadOrStore(rendered, &box[K, V]{})
	existing.mu.Lock()
	defer existing.mu.Unlock()

	var old *Entry[K, V]
	var prevCopy Entry[K, V]
	isNew := !exists
	if exists {
		prevCopy = existing.entry
		old = &prevCopy
	}

	dirty := markDirty || c.policy(old, v)

	newEntry := Entry[K, V]{
		Key:          k,
		Value:        v,
		IsDirty:      dirty,
		LastAccessed: now,
	}
	if exists {
		newEntry.CreatedAt = prevCopy.CreatedAt
		newEntry.dirtySeq = prevCopy.dirtySeq
	} else {
		newEntry.CreatedAt = now
	}
	if dirty && newEntry.dirtySeq == 0 {
		newEntry.dirtySeq = c.dirtySeq.Add(1)
	}

	data, err := c.encodeEntry(newEntry)
	if err != nil {
		existing.mu.Unlock()
		return agenterr.Wrap(agenterr.KindFileSys, "cache.Write", err)
	}

	existing.entry = newEntry

	if err := fsutil.WriteFileAtomic(c.path(rendered), data); err != nil {
		// Roll back: persistence failed, so the in-memory state must not
		// claim success.
		if isNew {
			existing.entry = Entry[K, V]{}
			c.m.Delete(rendered)
		} else {
			existing.entry = prevCopy
		}
		existing.mu.Unlock()
		return agenterr.Wrap(agenterr.KindFileSys, "cache.Write", err)
	}
	existing.mu.Unlock()

	// Eviction locks every box in turn, this one included, so it runs only
	// after this box's lock has been released.
	if isNew {
		c.evictIfOverCapacity()
	}
	return nil
}

// evictIfOverCapacity removes the least-recently-accessed clean entry when
// the cache holds more than capacity entries. Dirty entries are never
// evicted; if every entry is dirty, the cache is allowed to exceed capacity
// and the event is logged.
func (c *FileCache[K, V]) evictIfOverCapacity() {
	if c.m.Size() <= c.capacity {
		return
	}

	var victimKey string
	var victimLast time.Time
	found := false
	allDirty := true

	c.m.Range(func(key string, b *box[K, V]) bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.entry.IsDirty {
			return true
		}
		allDirty = false
		if !found || b.entry.LastAccessed.Before(victimLast) {
			victimKey = key
			victimLast = b.entry.LastAccessed
			found = true
		}
		return true
	})

	if !found {
		if allDirty {
			log.Printf("[cache] capacity pressure: all %d entries dirty, cache exceeds capacity %d", c.m.Size(), c.capacity)
		}
		return
	}

	c.m.Delete(victimKey)
	if err := fsutil.RemoveFile(c.path(victimKey)); err != nil {
		log.Printf("[cache] evict %s: %v", victimKey, err)
	}
}

// DirtyRecord pairs a key and value for a snapshot taken by DirtyEntries.
type DirtyRecord[K Key, V any] struct {
	Key   K
	Value V
}

// DirtyEntries returns a snapshot of all currently dirty entries, ordered
// by insertion order of their last dirty transition.
func (c *FileCache[K, V]) DirtyEntries() []DirtyRecord[K, V] {
	if c.closed.Load() {
		return nil
	}
	type withSeq struct {
		rec DirtyRecord[K, V]
		seq int64
	}
	var all []withSeq

	c.m.Range(func(_ string, b *box[K, V]) bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.entry.IsDirty {
			all = append(all, withSeq{
				rec: DirtyRecord[K, V]{Key: b.entry.Key, Value: b.entry.Value},
				seq: b.entry.dirtySeq,
			})
		}
		return true
	})

	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	out := make([]DirtyRecord[K, V], len(all))
	for i, w := range all {
		out[i] = w.rec
	}
	return out
}

// MarkClean transitions is_dirty to false for k, but only if the entry's
// current value still equals atValueIdentity (optimistic concurrency: a
// write that raced with a flush and changed the value wins over the stale
// mark_clean). Returns whether the transition happened.
func (c *FileCache[K, V]) MarkClean(k K, atValueIdentity V) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	rendered := k.Render()
	b, ok := c.m.Load(rendered)
	if !ok {
		return false, nil
	}

	b.mu.Lock()
	if !reflect.DeepEqual(b.entry.Value, atValueIdentity) {
		b.mu.Unlock()
		return false, nil
	}
	updated := b.entry
	updated.IsDirty = false
	updated.dirtySeq = 0

	data, err := c.encodeEntry(updated)
	if err != nil {
		b.mu.Unlock()
		return false, agenterr.Wrap(agenterr.KindFileSys, "cache.MarkClean", err)
	}
	b.entry = updated
	b.mu.Unlock()

	if err := fsutil.WriteFileAtomic(c.path(rendered), data); err != nil {
		return false, agenterr.Wrap(agenterr.KindFileSys, "cache.MarkClean", err)
	}
	return true, nil
}

// Quarantine removes k from memory and disk entirely (e.g. after a
// permanent rejection by the backend), logging the reason.
func (c *FileCache[K, V]) Quarantine(k K, reason string) {
	if c.closed.Load() {
		return
	}
	rendered := k.Render()
	c.m.Delete(rendered)
	if err := fsutil.RemoveFile(c.path(rendered)); err != nil {
		log.Printf("[cache] quarantine removal %s: %v", rendered, err)
	}
	log.Printf("[cache] quarantined entry %s: %s", rendered, reason)
}

// Size returns the number of entries currently held in memory.
func (c *FileCache[K, V]) Size() int {
	return c.m.Size()
}

// Shutdown best-effort flushes every in-memory entry to disk and marks the
// cache closed, per spec.md §4.1. After it returns, every other method on
// c fails (Read/DirtyEntries report empty, Write/MarkClean return
// ErrClosed, Quarantine is a no-op). Idempotent: a second call is a no-op.
// A flush failure on one entry is logged and does not stop the rest from
// being attempted.
func (c *FileCache[K, V]) Shutdown() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var firstErr error
	c.m.Range(func(rendered string, b *box[K, V]) bool {
		b.mu.Lock()
		data, err := c.encodeEntry(b.entry)
		b.mu.Unlock()
		if err != nil {
			log.Printf("[cache] shutdown encode %s: %v", rendered, err)
			if firstErr == nil {
				firstErr = err
			}
			return true
		}
		if err := fsutil.WriteFileAtomic(c.path(rendered), data); err != nil {
			log.Printf("[cache] shutdown flush %s: %v", rendered, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		return true
	})
	return firstErr
}
