// Copyright © 2024 The standard-ls authors

package manifest

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tliron/commonlog"
)

// Cache memoizes nearest-manifest lookups per directory.
type Cache struct {
	log commonlog.Logger

	mu      sync.Mutex
	nearest map[string]*Manifest
	dirs    map[string]struct{}
	watcher *fsnotify.Watcher
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		log:     commonlog.GetLogger("standard-ls.manifest"),
		nearest: make(map[string]*Manifest),
		dirs:    make(map[string]struct{}),
	}
}

// Nearest returns the manifest in dir or the closest parent directory, or
// nil when there is none up to the filesystem root.
func (c *Cache) Nearest(dir string) *Manifest {
	dir = filepath.Clean(dir)

	c.mu.Lock()
	defer c.mu.Unlock()

	var visited []string
	var result *Manifest
	for d := dir; ; {
		if m, ok := c.nearest[d]; ok {
			result = m
			break
		}
		visited = append(visited, d)
		m, err := find(d)
		if err != nil {
			c.log.Warningf("reading manifest: %v", err)
		}
		if m != nil {
			result = m
			break
		}
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	for _, d := range visited {
		c.nearest[d] = result
		c.watchLocked(d)
	}
	return result
}

// Invalidate drops all cached lookups.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.nearest = make(map[string]*Manifest)
	c.mu.Unlock()
}

// Watch starts watching every directory the cache inspects. When a
// package.json is created, written, removed or renamed the cache is
// invalidated and onChange is called with the file path.
func (c *Cache) Watch(onChange func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.watcher != nil {
		c.mu.Unlock()
		return w.Close()
	}
	c.watcher = w
	for d := range c.dirs {
		c.addLocked(d)
	}
	c.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != FileName {
					continue
				}
				if !ev.Has(fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename) {
					continue
				}
				c.log.Debugf("manifest changed: %s", ev.Name)
				c.Invalidate()
				if onChange != nil {
					onChange(ev.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				c.log.Warningf("watching manifests: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher, if any.
func (c *Cache) Close() error {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

func (c *Cache) watchLocked(dir string) {
	if _, ok := c.dirs[dir]; ok {
		return
	}
	c.dirs[dir] = struct{}{}
	c.addLocked(dir)
}

func (c *Cache) addLocked(dir string) {
	if c.watcher == nil {
		return
	}
	if err := c.watcher.Add(dir); err != nil {
		c.log.Debugf("not watching %s: %v", dir, err)
	}
}
