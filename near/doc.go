// Package near implements the in-process tier of a near cache: a bounded LRU of
// versioned byte values that is corrected by invalidations from a remote store.
//
// Entry states:
//
//	Valid   - served by Get.
//	Stale   - a newer version exists remotely (or MaxAge passed); Get misses.
//	Pending - fetches or writes for the key are in flight, each holding a pin.
//	          Pinned entries are never evicted and remember invalidations that
//	          arrive until the last pin is dropped.
//
// Version rule: the highest version wins. A value older than the highest version an
// invalidation announced for its key (the floor) is only ever installed as Stale.
package near
