// Package pagecache implements the Page Cache: a fixed-capacity LRU buffer
// pool of page frames over a gate.Gate, presenting byte-granularity
// random-access read/write by splitting ranges across pages, and
// fetch-before-write semantics so a partial-page write never clobbers the
// surrounding bytes.
//
// Grounded on DaemonDB's storage_engine/bufferpool (LRU map + access-order
// list, evict-if-dirty-then-writeback) generalized from the teacher's
// pin-counted, WAL-aware buffer pool to the plain CLEAN/DIRTY frame state
// machine this engine's single-file, WAL-less format calls for.
package pagecache

import (
	"container/list"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"knowstore/gate"
	"knowstore/storagelog"
)

// MinimalCache is the smallest permitted cache size in bytes.
const MinimalCache = 256 * 1024

// DefaultCache is the cache size used when none is requested.
const DefaultCache = 1024 * 1024

// Cache is a fixed-capacity LRU buffer pool over a gate.Gate.
type Cache struct {
	g   *gate.Gate
	log *storagelog.Logger

	poolMu  sync.Mutex
	frames  []*frame
	vacant  []*frame
	pageMap map[uint64]*frame
	lru     *list.List // front = most-recently-used

	requests atomic.Uint64
	misses   atomic.Uint64
	bytesR   atomic.Uint64
	bytesW   atomic.Uint64
}

// Option configures Open.
type Option func(*Cache)

// WithLogger injects a structured logger; the default is silent.
func WithLogger(l *storagelog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// Open allocates a buffer pool of cacheBytes (rounded down to whole pages,
// floored at MinimalCache) over g.
func Open(g *gate.Gate, cacheBytes int, opts ...Option) (*Cache, error) {
	c := &Cache{g: g, log: storagelog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	c.allocate(cacheBytes)
	return c, nil
}

func pageCount(cacheBytes int) int {
	if cacheBytes < MinimalCache {
		cacheBytes = MinimalCache
	}
	pages := cacheBytes / PageSize
	if pages < 1 {
		pages = 1
	}
	return pages
}

// allocate (re)builds the frame pool at the requested size. Callers must
// have already flushed any prior pool — allocate does not write anything
// back.
func (c *Cache) allocate(cacheBytes int) int {
	n := pageCount(cacheBytes)

	c.poolMu.Lock()
	defer c.poolMu.Unlock()

	c.frames = make([]*frame, n)
	c.vacant = make([]*frame, n)
	c.pageMap = make(map[uint64]*frame, n)
	c.lru = list.New()
	for i := 0; i < n; i++ {
		f := &frame{frameIndex: i, filePageNo: NotFound, state: clean}
		c.frames[i] = f
		c.vacant[i] = f
	}
	return n * PageSize
}

// IsReadOnly reports whether the underlying Gate rejects writes.
func (c *Cache) IsReadOnly() bool {
	return c.g.IsReadOnly()
}

// Size returns the underlying file's current size in bytes.
func (c *Cache) Size() (int64, error) {
	return c.g.Size()
}

// CacheSize returns the current effective capacity in bytes.
func (c *Cache) CacheSize() int {
	c.poolMu.Lock()
	defer c.poolMu.Unlock()
	return len(c.frames) * PageSize
}

// SetCacheSize flushes all dirty frames, releases the pool, and reallocates
// at the new capacity (floored at MinimalCache, rounded to whole pages).
// Returns the effective size actually allocated.
func (c *Cache) SetCacheSize(cacheBytes int) (int, error) {
	if err := c.Flush(); err != nil {
		return 0, err
	}
	effective := c.allocate(cacheBytes)
	c.log.Info("pagecache resized", zap.Int("bytes", effective))
	return effective, nil
}

// acquire resolves pageNo to a resident, loaded frame and returns it with
// its content lock already held (RLock if !exclusive, Lock if exclusive).
// Callers MUST release the lock themselves.
func (c *Cache) acquire(pageNo uint64, exclusive bool) (*frame, error) {
	c.requests.Add(1)

	for {
		c.poolMu.Lock()
		f, hit := c.pageMap[pageNo]
		if hit && f.elem != nil {
			// f.elem is nil while an eviction in progress has pulled this
			// frame off the recency list but not yet unbound it from
			// pageMap; nothing to move to front until the evictor rebinds.
			c.lru.MoveToFront(f.elem)
		}
		c.poolMu.Unlock()

		if !hit {
			var err error
			f, err = c.loadMiss(pageNo)
			if err != nil {
				return nil, err
			}
		}

		if exclusive {
			f.mu.Lock()
		} else {
			f.mu.RLock()
		}

		if f.filePageNo == pageNo {
			return f, nil
		}

		// Frame was rebound to a different page between resolution and
		// lock acquisition (evicted out from under us); retry.
		if exclusive {
			f.mu.Unlock()
		} else {
			f.mu.RUnlock()
		}
	}
}

// loadMiss obtains a frame for pageNo — a vacant one if available,
// otherwise the LRU tail (writing it back first if dirty) — loads pageNo's
// contents from the Gate, and binds it into the map and recency list.
//
// The evicted frame stays bound in pageMap, under its old page number, until
// its write-back has landed: only then is it unbound and rebound to pageNo.
// A concurrent acquire() for the page being evicted therefore still gets a
// map hit and blocks on the frame's own lock instead of missing early and
// racing the write-back to read stale bytes off disk into a second frame.
func (c *Cache) loadMiss(pageNo uint64) (*frame, error) {
	f, evicting, err := c.takeFrame()
	if err != nil {
		return nil, err
	}

	if evicting {
		f.mu.Lock()
		oldPageNo := f.filePageNo
		if f.state == dirty {
			if _, werr := c.g.WritePage(oldPageNo, f.data[:]); werr != nil {
				// Still bound in pageMap under oldPageNo; just put it back
				// on the recency list and surface the failure for retry.
				c.poolMu.Lock()
				elem := c.lru.PushFront(f)
				f.elem = elem
				c.poolMu.Unlock()
				f.mu.Unlock()
				c.log.Error("pagecache eviction write-back failed", zap.Uint64("page", oldPageNo), zap.Error(werr))
				return nil, fmt.Errorf("pagecache: evict write-back page %d: %w", oldPageNo, werr)
			}
			c.bytesW.Add(PageSize)
			f.state = clean
		}

		c.poolMu.Lock()
		delete(c.pageMap, oldPageNo)
		c.poolMu.Unlock()

		if err := c.loadInto(f, pageNo); err != nil {
			f.filePageNo = NotFound
			f.available = 0
			f.mu.Unlock()
			c.poolMu.Lock()
			c.vacant = append(c.vacant, f)
			c.poolMu.Unlock()
			return nil, err
		}
		f.mu.Unlock()
	} else {
		if err := c.loadInto(f, pageNo); err != nil {
			c.poolMu.Lock()
			c.vacant = append(c.vacant, f)
			c.poolMu.Unlock()
			return nil, err
		}
	}

	c.misses.Add(1)

	c.poolMu.Lock()
	elem := c.lru.PushFront(f)
	f.elem = elem
	c.pageMap[pageNo] = f
	c.poolMu.Unlock()

	return f, nil
}

// takeFrame returns either a vacant frame (evicting == false) or the LRU
// tail reserved for eviction (evicting == true). An eviction candidate is
// removed from the recency list immediately, so no other caller can also
// pick it, but is left bound in pageMap under its current page number —
// loadMiss unbinds it only after the write-back that reclaims it succeeds.
func (c *Cache) takeFrame() (f *frame, evicting bool, err error) {
	c.poolMu.Lock()
	defer c.poolMu.Unlock()

	if n := len(c.vacant); n > 0 {
		f = c.vacant[n-1]
		c.vacant = c.vacant[:n-1]
		return f, false, nil
	}

	elem := c.lru.Back()
	if elem == nil {
		return nil, false, fmt.Errorf("pagecache: no frames available to evict")
	}
	f = elem.Value.(*frame)
	c.lru.Remove(elem)
	f.elem = nil
	return f, true, nil
}

// loadInto reads pageNo's contents from the Gate into f and binds f's
// identity. Caller must already hold exclusive access to f (either because
// f is freshly vacant and unreachable by anyone else, or because f.mu is
// locked for the duration of the eviction rebind).
func (c *Cache) loadInto(f *frame, pageNo uint64) error {
	n, err := c.g.ReadPage(pageNo, f.data[:])
	if err != nil {
		return fmt.Errorf("pagecache: load page %d: %w", pageNo, err)
	}
	f.filePageNo = pageNo
	f.state = clean
	f.available = n
	c.bytesR.Add(uint64(n))
	return nil
}

// Read copies min(len(buf), available bytes) starting at position into buf,
// splitting the range across pages as needed, and returns the exact number
// of bytes copied. Bytes past each page's available_data_length are never
// materialized as zeros.
func (c *Cache) Read(position int64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	total := 0
	for total < len(buf) {
		pos := position + int64(total)
		pageNo := uint64(pos) / PageSize
		pageOff := int(uint64(pos) % PageSize)

		f, err := c.acquire(pageNo, false)
		if err != nil {
			return total, err
		}

		n := 0
		if pageOff < f.available {
			n = f.available - pageOff
			if want := len(buf) - total; n > want {
				n = want
			}
			copy(buf[total:total+n], f.data[pageOff:pageOff+n])
		}
		f.mu.RUnlock()

		total += n
		if n == 0 {
			break
		}
	}
	return total, nil
}

// Write performs fetch-before-write: each touched page is loaded (if not
// already resident) before the caller's bytes are copied in, so bytes
// outside [position, position+len(buf)) within the same page are preserved.
func (c *Cache) Write(position int64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if c.g.IsReadOnly() {
		return 0, gate.ErrReadOnly
	}

	total := 0
	for total < len(buf) {
		pos := position + int64(total)
		pageNo := uint64(pos) / PageSize
		pageOff := int(uint64(pos) % PageSize)

		f, err := c.acquire(pageNo, true)
		if err != nil {
			return total, err
		}

		n := PageSize - pageOff
		if want := len(buf) - total; n > want {
			n = want
		}
		copy(f.data[pageOff:pageOff+n], buf[total:total+n])
		if end := pageOff + n; end > f.available {
			f.available = end
		}
		f.state = dirty
		f.mu.Unlock()

		total += n
	}
	c.bytesW.Add(uint64(total))
	return total, nil
}

// ReadPage is the whole-page fast path of Read.
func (c *Cache) ReadPage(pageNo uint64, buf []byte) (int, error) {
	if len(buf) < PageSize {
		return 0, fmt.Errorf("pagecache: read buffer smaller than page size")
	}
	f, err := c.acquire(pageNo, false)
	if err != nil {
		return 0, err
	}
	n := f.available
	copy(buf[:n], f.data[:n])
	f.mu.RUnlock()
	return n, nil
}

// WritePage is the whole-page fast path of Write.
func (c *Cache) WritePage(pageNo uint64, buf []byte) (int, error) {
	if len(buf) < PageSize {
		return 0, fmt.Errorf("pagecache: write buffer smaller than page size")
	}
	if c.g.IsReadOnly() {
		return 0, gate.ErrReadOnly
	}
	f, err := c.acquire(pageNo, true)
	if err != nil {
		return 0, err
	}
	copy(f.data[:], buf[:PageSize])
	f.available = PageSize
	f.state = dirty
	f.mu.Unlock()
	c.bytesW.Add(PageSize)
	return PageSize, nil
}

// Flush writes back every DIRTY frame in ascending file-page-index order
// (to encourage sequential device I/O) and then flushes the Gate. The pool
// lock is held only to snapshot the frame list; each frame is then locked
// individually, never across disk I/O for more than one frame at a time.
func (c *Cache) Flush() error {
	c.poolMu.Lock()
	snapshot := make([]*frame, 0, len(c.pageMap))
	for _, f := range c.pageMap {
		snapshot = append(snapshot, f)
	}
	c.poolMu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].filePageNo < snapshot[j].filePageNo
	})

	var firstErr error
	for _, f := range snapshot {
		f.mu.Lock()
		if f.state == dirty {
			if _, err := c.g.WritePage(f.filePageNo, f.data[:]); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				f.mu.Unlock()
				continue
			}
			c.bytesW.Add(PageSize)
			f.state = clean
		}
		f.mu.Unlock()
	}

	if firstErr != nil {
		c.log.Error("pagecache flush failed", zap.Error(firstErr))
		return fmt.Errorf("pagecache: flush: %w", firstErr)
	}
	return c.g.Flush()
}

// Close flushes and closes the underlying Gate.
func (c *Cache) Close() error {
	if err := c.Flush(); err != nil {
		return err
	}
	return c.g.Close()
}
