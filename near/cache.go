package near

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

type State uint8

const (
	Valid State = iota + 1
	Stale
	Pending
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Stale:
		return "stale"
	case Pending:
		return "pending"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

type EvictReason uint8

const (
	// Capacity: least recently used entry dropped to respect MaxEntries/MaxBytes.
	Capacity EvictReason = iota + 1
	// Removed: explicit Evict or a delete propagated from the store.
	Removed
)

func (r EvictReason) String() string {
	switch r {
	case Capacity:
		return "capacity"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

type Options struct {
	MaxEntries int           // 0 => unbounded
	MaxBytes   int64         // key+value bytes; 0 => unbounded
	MaxAge     time.Duration // Valid entries older than this miss; 0 => no limit

	// OnEvict is called outside the cache lock.
	OnEvict func(key string, reason EvictReason)
	// Now is the clock; nil => time.Now.
	Now func() time.Time
}

type entry struct {
	key       string
	value     []byte
	hasValue  bool
	version   uint64
	state     State // Valid or Stale; meaningful only with hasValue
	floor     uint64
	refreshed time.Time

	pins       int    // in-flight fetches and writes; a pinned entry is never removed
	pendingGen uint64 // gen when the first pin was taken
	dropped    bool   // Evict hit a pinned entry; results land Stale until unpinned
	gen        uint64 // bumped by every mutation of value or state
}

func (e *entry) pending() bool { return e.pins > 0 }

func (e *entry) size() int64 { return int64(len(e.key) + len(e.value)) }

// Cache is safe for concurrent use. One lock guards the whole namespace.
type Cache struct {
	mu    sync.Mutex
	opts  Options
	ll    *list.List // front = most recently used
	items map[string]*list.Element
	bytes int64
}

func New(opts Options) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		opts:  opts,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

// Get returns a copy of the value if the entry is Valid and fresh.
func (c *Cache) Get(key string) ([]byte, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, 0, false
	}
	e := el.Value.(*entry)
	if !e.hasValue || e.state != Valid {
		return nil, 0, false
	}
	if c.opts.MaxAge > 0 && c.opts.Now().Sub(e.refreshed) > c.opts.MaxAge {
		e.state = Stale
		e.gen++
		return nil, 0, false
	}
	c.ll.MoveToFront(el)
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, e.version, true
}

// Put installs value as Valid unless the held version is strictly newer.
// It reports whether the value was installed.
func (c *Cache) Put(key string, value []byte, version uint64) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		e := &entry{key: key}
		c.install(e, value, version)
		c.items[key] = c.ll.PushFront(e)
		c.bytes += e.size()
		evicted := c.trim()
		c.mu.Unlock()
		c.notify(evicted, Capacity)
		return true
	}
	e := el.Value.(*entry)
	if e.hasValue && e.version > version {
		c.mu.Unlock()
		return false
	}
	c.bytes -= e.size()
	c.install(e, value, version)
	c.bytes += e.size()
	c.ll.MoveToFront(el)
	evicted := c.trim()
	c.mu.Unlock()
	c.notify(evicted, Capacity)
	return true
}

func (c *Cache) install(e *entry, value []byte, version uint64) {
	v := make([]byte, len(value))
	copy(v, value)
	e.value = v
	e.hasValue = true
	e.version = version
	e.refreshed = c.opts.Now()
	e.state = Valid
	if version < e.floor || e.dropped {
		e.state = Stale
	}
	e.gen++
}

// Invalidate marks the entry Stale when its version is older than newVersion.
// It reports whether a Valid entry was demoted.
func (c *Cache) Invalidate(key string, newVersion uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	e := el.Value.(*entry)
	if newVersion > e.floor {
		e.floor = newVersion
	}
	if !e.hasValue || e.version >= newVersion || e.state != Valid {
		return false
	}
	e.state = Stale
	e.gen++
	return true
}

// Delete propagates a deletion at version: the entry is removed when it is older.
// A pending entry stays, without its value, so the in-flight fetch can finish.
func (c *Cache) Delete(key string, version uint64) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	e := el.Value.(*entry)
	if version > e.floor {
		e.floor = version
	}
	if e.hasValue && e.version >= version {
		c.mu.Unlock()
		return false
	}
	if e.pending() {
		c.dropValue(e)
		c.mu.Unlock()
		return true
	}
	c.removeElement(el)
	c.mu.Unlock()
	c.notify([]string{key}, Removed)
	return true
}

// Evict removes the entry regardless of version. A pending entry loses its value and
// the result of its in-flight fetch is installed Stale.
func (c *Cache) Evict(key string) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	e := el.Value.(*entry)
	if e.pending() {
		c.dropValue(e)
		e.dropped = true
		c.mu.Unlock()
		return true
	}
	c.removeElement(el)
	c.mu.Unlock()
	c.notify([]string{key}, Removed)
	return true
}

func (c *Cache) dropValue(e *entry) {
	c.bytes -= int64(len(e.value))
	e.value = nil
	e.hasValue = false
	e.gen++
}

// MarkPending pins key for an in-flight fetch or write, creating an empty entry if
// needed. Every MarkPending must be matched by one Fill or Release. While pinned the
// entry keeps the floor raised by invalidations. It returns false if the key was
// already pinned.
func (c *Cache) MarkPending(key string) bool {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.pins++
		if e.pins > 1 {
			c.mu.Unlock()
			return false
		}
		e.pendingGen = e.gen
		c.mu.Unlock()
		return true
	}
	e := &entry{key: key, pins: 1}
	c.items[key] = c.ll.PushFront(e)
	c.bytes += e.size()
	evicted := c.trim()
	c.mu.Unlock()
	c.notify(evicted, Capacity)
	return true
}

// Fill completes a successful fetch or write: one pin is dropped and the value is
// installed unless something newer landed meanwhile. A version below the floor
// lands Stale. It reports whether the value was installed as Valid. Without a pin
// there is no floor to check against, so nothing is installed.
func (c *Cache) Fill(key string, value []byte, version uint64) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok || !el.Value.(*entry).pending() {
		c.mu.Unlock()
		return false
	}
	e := el.Value.(*entry)
	if e.hasValue && e.version > version {
		c.unpin(e)
		c.ll.MoveToFront(el)
		c.mu.Unlock()
		return false
	}
	c.bytes -= e.size()
	c.install(e, value, version)
	c.unpin(e)
	c.bytes += e.size()
	c.ll.MoveToFront(el)
	valid := e.state == Valid
	evicted := c.trim()
	c.mu.Unlock()
	c.notify(evicted, Capacity)
	return valid
}

func (c *Cache) unpin(e *entry) {
	e.pins--
	if e.pins == 0 {
		e.dropped = false
	}
}

// Release drops one pin after a failed or abandoned fetch or write. The entry keeps
// its state from before MarkPending. With notFound the store reported the key
// absent, so a value untouched since the first pin is dropped. The last pin removes
// an entry without a value.
func (c *Cache) Release(key string, notFound bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	if !e.pending() {
		return
	}
	if notFound && e.hasValue && e.gen == e.pendingGen {
		c.dropValue(e)
	}
	c.unpin(e)
	if !e.pending() && !e.hasValue {
		c.removeElement(el)
	}
}

// Info describes an entry for inspection.
type Info struct {
	Version  uint64
	State    State
	HasValue bool
	Floor    uint64
}

// Peek returns entry metadata without touching LRU order.
func (c *Cache) Peek(key string) (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Info{}, false
	}
	e := el.Value.(*entry)
	st := e.state
	if e.pending() {
		st = Pending
	}
	return Info{Version: e.version, State: st, HasValue: e.hasValue, Floor: e.floor}, true
}

// KeyVersion is a key and the version of the value held for it.
type KeyVersion struct {
	Key     string
	Version uint64
}

// Keys snapshots every entry that holds a value, most recently used first.
func (c *Cache) Keys() []KeyVersion {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]KeyVersion, 0, len(c.items))
	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.hasValue {
			out = append(out, KeyVersion{Key: e.key, Version: e.version})
		}
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *Cache) over() bool {
	return (c.opts.MaxEntries > 0 && len(c.items) > c.opts.MaxEntries) ||
		(c.opts.MaxBytes > 0 && c.bytes > c.opts.MaxBytes)
}

// trim evicts from the LRU end, skipping pinned entries. If only pending entries
// are left the cache stays over budget until their fetches complete.
func (c *Cache) trim() []string {
	var evicted []string
	for el := c.ll.Back(); el != nil && c.over(); {
		prev := el.Prev()
		e := el.Value.(*entry)
		if !e.pending() {
			c.removeElement(el)
			evicted = append(evicted, e.key)
		}
		el = prev
	}
	return evicted
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, e.key)
	c.bytes -= e.size()
}

func (c *Cache) notify(keys []string, reason EvictReason) {
	if c.opts.OnEvict == nil {
		return
	}
	for _, k := range keys {
		c.opts.OnEvict(k, reason)
	}
}
