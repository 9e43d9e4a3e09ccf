// Package statcache memoizes file existence and modification time so a
// build with heavy input fan-out does not multiply stat(2) calls: each
// file is stat'd once per build, however many edges inspect it.
//
// Mtimes are nanosecond-precision, read via golang.org/x/sys/unix on
// platforms that expose the raw timespec.
package statcache

import (
	"fmt"
	"sync"
)

// entry is one cached stat result.
type entry struct {
	mtimeNS int64
	exists  bool
}

// Cache memoizes stat(path) -> {missing | mtime}, with Restat to force a
// re-check after an edge produces path. A Cache never shrinks during a
// build -- entries are only added or overwritten via Restat, never
// deleted.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// Stat returns path's cached mtime/existence, performing the OS stat only
// on the first call for path.
func (c *Cache) Stat(path string) (mtimeNS int64, exists bool, err error) {
	c.mu.Lock()
	if e, ok := c.entries[path]; ok {
		c.mu.Unlock()
		return e.mtimeNS, e.exists, nil
	}
	c.mu.Unlock()
	return c.Restat(path)
}

// Restat forces a fresh OS stat for path and updates the cache, used after
// an edge completes for each of its outputs.
func (c *Cache) Restat(path string) (mtimeNS int64, exists bool, err error) {
	ns, ok, serr := statPath(path)
	if serr != nil {
		return 0, false, fmt.Errorf("stat %s: %w", path, serr)
	}
	c.mu.Lock()
	c.entries[path] = entry{mtimeNS: ns, exists: ok}
	c.mu.Unlock()
	return ns, ok, nil
}

// statPath is platform-specific: mtime_unix.go uses golang.org/x/sys/unix
// directly for nanosecond precision; mtime_other.go falls back to os.Stat
// for other GOOS values.
