package terminal

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/sdb/pkg/logflags"
)

// DefaultSourceCacheSize is the number of files kept by a SourceCache
// created with a non positive size.
const DefaultSourceCacheSize = 64

// SourceCache keeps the contents of recently listed source files. Files
// are watched and dropped from the cache when they change on disk.
// It is shared by every session of a server.
type SourceCache struct {
	mu      sync.Mutex
	files   *lru.Cache
	watcher *fsnotify.Watcher
	done    chan struct{}
	log     logflags.Logger
}

// NewSourceCache returns a cache holding up to size files. If file
// watching is not available the cache still works, it just never notices
// changes.
func NewSourceCache(size int) *SourceCache {
	if size <= 0 {
		size = DefaultSourceCacheSize
	}
	c := &SourceCache{done: make(chan struct{}), log: logflags.ConsoleLogger()}
	files, err := lru.NewWithEvict(size, c.evicted)
	if err != nil {
		// only returned for a non positive size
		panic(err)
	}
	c.files = files
	w, err := fsnotify.NewWatcher()
	if err != nil {
		c.log.Warnf("source files will not be reloaded on change: %v", err)
		return c
	}
	c.watcher = w
	go c.watch()
	return c
}

// Get returns the contents of the file at path.
func (c *SourceCache) Get(path string) ([]byte, error) {
	if v, ok := c.files.Get(path); ok {
		return v.([]byte), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.watcher != nil {
		if err := c.watcher.Add(path); err != nil {
			c.log.Debugf("could not watch %s: %v", path, err)
		}
	}
	c.mu.Unlock()
	c.files.Add(path, src)
	return src, nil
}

// Len returns the number of cached files.
func (c *SourceCache) Len() int {
	return c.files.Len()
}

// Close stops watching files.
func (c *SourceCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	c.watcher = nil
	close(c.done)
	return err
}

func (c *SourceCache) evicted(key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		c.watcher.Remove(key.(string))
	}
}

func (c *SourceCache) watch() {
	c.mu.Lock()
	w := c.watcher
	c.mu.Unlock()
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.log.Debugf("source file %s changed (%s)", ev.Name, ev.Op)
				c.files.Remove(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			c.log.Warnf("watching source files: %v", err)
		case <-c.done:
			return
		}
	}
}
