package near

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func mustGet(t *testing.T, c *Cache, key string, want string, wantVer uint64) {
	t.Helper()
	v, ver, ok := c.Get(key)
	if !ok {
		t.Fatalf("Get(%q): miss, want %q@%d", key, want, wantVer)
	}
	if string(v) != want || ver != wantVer {
		t.Fatalf("Get(%q) = %q@%d, want %q@%d", key, v, ver, want, wantVer)
	}
}

func mustMiss(t *testing.T, c *Cache, key string) {
	t.Helper()
	if v, ver, ok := c.Get(key); ok {
		t.Fatalf("Get(%q) = %q@%d, want miss", key, v, ver)
	}
}

func TestPutGet_HighestVersionWins(t *testing.T) {
	c := New(Options{})
	if !c.Put("k", []byte("v2"), 2) {
		t.Fatal("first put not installed")
	}
	if c.Put("k", []byte("v1"), 1) {
		t.Fatal("older put installed")
	}
	mustGet(t, c, "k", "v2", 2)

	if !c.Put("k", []byte("v3"), 3) {
		t.Fatal("newer put not installed")
	}
	mustGet(t, c, "k", "v3", 3)
}

func TestGet_ReturnsCopy(t *testing.T) {
	c := New(Options{})
	in := []byte("abc")
	c.Put("k", in, 1)
	in[0] = 'x'

	v, _, _ := c.Get("k")
	v[1] = 'y'
	mustGet(t, c, "k", "abc", 1)
}

func TestInvalidate(t *testing.T) {
	c := New(Options{})
	c.Put("k", []byte("v"), 5)

	if c.Invalidate("k", 5) {
		t.Fatal("invalidate at held version applied")
	}
	if c.Invalidate("k", 4) {
		t.Fatal("invalidate below held version applied")
	}
	mustGet(t, c, "k", "v", 5)

	if !c.Invalidate("k", 6) {
		t.Fatal("newer invalidate ignored")
	}
	mustMiss(t, c, "k")
	info, ok := c.Peek("k")
	if !ok || info.State != Stale || info.Floor != 6 {
		t.Fatalf("peek = %+v ok=%v", info, ok)
	}

	if c.Invalidate("absent", 1) {
		t.Fatal("invalidate on absent key applied")
	}
	if _, ok := c.Peek("absent"); ok {
		t.Fatal("invalidate created an entry")
	}
}

func TestPutBelowFloorIsStale(t *testing.T) {
	c := New(Options{})
	c.Put("k", []byte("v1"), 1)
	c.Invalidate("k", 3)

	c.Put("k", []byte("v2"), 2)
	mustMiss(t, c, "k")

	c.Put("k", []byte("v3"), 3)
	mustGet(t, c, "k", "v3", 3)
}

func TestPending_InvalidationDuringFetchLandsStale(t *testing.T) {
	c := New(Options{})
	if !c.MarkPending("k") {
		t.Fatal("MarkPending on fresh key = false")
	}
	if c.MarkPending("k") {
		t.Fatal("second MarkPending = true")
	}
	c.Release("k", false)
	if info, _ := c.Peek("k"); info.State != Pending {
		t.Fatalf("state = %v, want pending", info.State)
	}

	c.Invalidate("k", 4)
	if c.Fill("k", []byte("old"), 3) {
		t.Fatal("fill older than announced invalidation reported valid")
	}
	mustMiss(t, c, "k")

	c.MarkPending("k")
	if !c.Fill("k", []byte("new"), 4) {
		t.Fatal("fill at announced version not valid")
	}
	mustGet(t, c, "k", "new", 4)
}

func TestPending_WriteDuringFetchWins(t *testing.T) {
	c := New(Options{})
	c.MarkPending("k")
	c.Put("k", []byte("written"), 7)
	mustGet(t, c, "k", "written", 7)

	if c.Fill("k", []byte("fetched"), 6) {
		t.Fatal("older fill installed over write")
	}
	mustGet(t, c, "k", "written", 7)
}

func TestPins_FloorSurvivesUntilLastPin(t *testing.T) {
	c := New(Options{})
	c.MarkPending("k") // fetch
	c.MarkPending("k") // write
	c.Invalidate("k", 5)

	c.Release("k", false) // fetch failed
	info, ok := c.Peek("k")
	if !ok || info.State != Pending || info.Floor != 5 {
		t.Fatalf("after first release = %+v ok=%v, want pinned with floor 5", info, ok)
	}
	if c.Fill("k", []byte("w"), 4) {
		t.Fatal("write acked below the announced version became valid")
	}
	mustMiss(t, c, "k")
	if info, _ := c.Peek("k"); info.State != Stale || info.Version != 4 {
		t.Fatalf("entry = %+v, want stale@4", info)
	}
}

func TestFill_WithoutPinInstallsNothing(t *testing.T) {
	c := New(Options{})
	if c.Fill("k", []byte("v"), 1) {
		t.Fatal("unpinned fill reported valid")
	}
	if _, ok := c.Peek("k"); ok {
		t.Fatal("unpinned fill created an entry")
	}

	c.Put("held", []byte("v"), 1)
	if c.Fill("held", []byte("x"), 2) {
		t.Fatal("unpinned fill replaced a held value")
	}
	mustGet(t, c, "held", "v", 1)
}

func TestEvict_DroppedUntilLastPin(t *testing.T) {
	c := New(Options{})
	c.MarkPending("k")
	c.MarkPending("k")
	c.Evict("k")

	if c.Fill("k", []byte("a"), 1) {
		t.Fatal("first fill after evict valid")
	}
	if c.Fill("k", []byte("b"), 2) {
		t.Fatal("second fill started before evict valid")
	}
	c.MarkPending("k")
	if !c.Fill("k", []byte("c"), 3) {
		t.Fatal("fill after pins cleared should be valid")
	}
}

func TestRelease(t *testing.T) {
	c := New(Options{})

	c.MarkPending("fresh")
	c.Release("fresh", false)
	if _, ok := c.Peek("fresh"); ok {
		t.Fatal("valueless entry survived release")
	}

	c.Put("stale", []byte("v"), 1)
	c.Invalidate("stale", 2)
	c.MarkPending("stale")
	c.Release("stale", false)
	info, ok := c.Peek("stale")
	if !ok || info.State != Stale || info.Version != 1 {
		t.Fatalf("released entry = %+v ok=%v, want prior stale@1", info, ok)
	}

	c.MarkPending("stale")
	c.Release("stale", true)
	if _, ok := c.Peek("stale"); ok {
		t.Fatal("not-found release kept untouched value")
	}

	c.MarkPending("raced")
	c.Put("raced", []byte("w"), 9)
	c.Release("raced", true)
	mustGet(t, c, "raced", "w", 9)
}

func TestDelete_VersionGuarded(t *testing.T) {
	var evicted []string
	c := New(Options{OnEvict: func(k string, r EvictReason) {
		if r == Removed {
			evicted = append(evicted, k)
		}
	}})
	c.Put("k", []byte("v"), 5)

	if c.Delete("k", 5) {
		t.Fatal("delete at held version applied")
	}
	mustGet(t, c, "k", "v", 5)

	if !c.Delete("k", 6) {
		t.Fatal("newer delete ignored")
	}
	if _, ok := c.Peek("k"); ok {
		t.Fatal("entry survived delete")
	}
	if len(evicted) != 1 || evicted[0] != "k" {
		t.Fatalf("OnEvict = %v", evicted)
	}
}

func TestDelete_PendingKeepsPinAndFloor(t *testing.T) {
	c := New(Options{})
	c.Put("k", []byte("v"), 1)
	c.MarkPending("k")

	if !c.Delete("k", 2) {
		t.Fatal("delete on pending entry ignored")
	}
	info, ok := c.Peek("k")
	if !ok || info.State != Pending || info.HasValue {
		t.Fatalf("peek = %+v ok=%v", info, ok)
	}
	if c.Fill("k", []byte("v"), 1) {
		t.Fatal("fetch from before the delete became valid")
	}
}

func TestEvict(t *testing.T) {
	c := New(Options{})
	c.Put("k", []byte("v"), 1)
	if !c.Evict("k") {
		t.Fatal("Evict = false")
	}
	if c.Evict("k") {
		t.Fatal("second Evict = true")
	}

	c.MarkPending("p")
	if !c.Evict("p") {
		t.Fatal("Evict on pending = false")
	}
	if info, ok := c.Peek("p"); !ok || info.State != Pending {
		t.Fatalf("pending entry removed: %+v ok=%v", info, ok)
	}
	if c.Fill("p", []byte("v"), 10) {
		t.Fatal("fill after evict reported valid")
	}
	mustMiss(t, c, "p")

	c.MarkPending("p")
	if !c.Fill("p", []byte("v"), 10) {
		t.Fatal("next fill should be valid")
	}
}

func TestCapacity_EntriesLRU(t *testing.T) {
	var evicted []string
	c := New(Options{MaxEntries: 3, OnEvict: func(k string, r EvictReason) {
		if r != Capacity {
			t.Errorf("reason = %v", r)
		}
		evicted = append(evicted, k)
	}})
	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("k%d", i), []byte("v"), 1)
	}
	c.Get("k0")
	c.Put("k3", []byte("v"), 1)

	if len(evicted) != 1 || evicted[0] != "k1" {
		t.Fatalf("evicted = %v, want [k1]", evicted)
	}
	if c.Len() != 3 {
		t.Fatalf("Len = %d", c.Len())
	}
	mustMiss(t, c, "k1")
	mustGet(t, c, "k0", "v", 1)
}

func TestCapacity_Bytes(t *testing.T) {
	c := New(Options{MaxBytes: 20})
	c.Put("a", bytes.Repeat([]byte{1}, 9), 1) // 10
	c.Put("b", bytes.Repeat([]byte{1}, 9), 1) // 20
	if c.Bytes() != 20 {
		t.Fatalf("Bytes = %d", c.Bytes())
	}
	c.Put("c", []byte{1}, 1)
	if _, ok := c.Peek("a"); ok {
		t.Fatal("a not evicted")
	}
	if c.Bytes() != 12 {
		t.Fatalf("Bytes = %d, want 12", c.Bytes())
	}

	c.Put("c", bytes.Repeat([]byte{1}, 4), 2)
	if c.Bytes() != 15 {
		t.Fatalf("Bytes after resize = %d, want 15", c.Bytes())
	}
}

func TestCapacity_PendingNeverEvicted(t *testing.T) {
	c := New(Options{MaxEntries: 1})
	c.MarkPending("p1")
	c.MarkPending("p2")
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want temporary overshoot to 2", c.Len())
	}
	c.Put("v", []byte("x"), 1)
	if _, ok := c.Peek("v"); ok {
		t.Fatal("non-pending entry kept while over budget")
	}
	c.Release("p1", false)
	c.Fill("p2", []byte("x"), 1)
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestMaxAge(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := New(Options{MaxAge: time.Minute, Now: clk.Now})
	c.Put("k", []byte("v"), 1)

	clk.Add(30 * time.Second)
	mustGet(t, c, "k", "v", 1)

	clk.Add(31 * time.Second)
	mustMiss(t, c, "k")
	if info, _ := c.Peek("k"); info.State != Stale {
		t.Fatalf("state = %v, want stale", info.State)
	}

	c.MarkPending("k")
	c.Fill("k", []byte("v"), 1)
	mustGet(t, c, "k", "v", 1)
}

func TestKeys(t *testing.T) {
	c := New(Options{})
	c.Put("a", []byte("1"), 1)
	c.Put("b", []byte("2"), 2)
	c.MarkPending("c")

	ks := c.Keys()
	if len(ks) != 2 || ks[0] != (KeyVersion{"b", 2}) || ks[1] != (KeyVersion{"a", 1}) {
		t.Fatalf("Keys = %v", ks)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(Options{MaxEntries: 64})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := fmt.Sprintf("k%d", i%100)
				switch i % 5 {
				case 0:
					c.Put(k, []byte("v"), uint64(i))
				case 1:
					c.Get(k)
				case 2:
					c.Invalidate(k, uint64(i))
				case 3:
					c.MarkPending(k)
					c.Fill(k, []byte("f"), uint64(i))
				case 4:
					c.Delete(k, uint64(i))
				}
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 64 {
		t.Fatalf("Len = %d over bound", c.Len())
	}
}
