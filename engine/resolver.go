// Copyright © 2024 The standard-ls authors

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrLibraryNotFound is returned when an engine package cannot be located.
var ErrLibraryNotFound = errors.New("library not found")

// Resolver locates engine packages on disk. Lookups are cached until Reset.
type Resolver struct {
	// GlobalRoot returns the global node_modules directory. It defaults to
	// running "npm root -g" and is only consulted for global lookups.
	GlobalRoot func(ctx context.Context) (string, error)

	group singleflight.Group

	mu         sync.Mutex
	cache      map[resolveKey]string
	globalRoot string
}

type resolveKey struct {
	engine   Engine
	startDir string
	nodePath string
	global   bool
}

// NewResolver creates a resolver using npm to find the global root.
func NewResolver() *Resolver {
	return &Resolver{GlobalRoot: npmGlobalRoot}
}

// Resolve returns the directory of the engine package visible from
// startDir. The search order is nodePath, then node_modules directories
// from startDir up to the filesystem root, then the global node_modules
// when global is set.
func (r *Resolver) Resolve(ctx context.Context, e Engine, startDir, nodePath string, global bool) (string, error) {
	key := resolveKey{engine: e, startDir: filepath.Clean(startDir), nodePath: nodePath, global: global}

	r.mu.Lock()
	if r.cache == nil {
		r.cache = make(map[resolveKey]string)
	}
	lib, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return found(e, lib)
	}

	v, err, _ := r.group.Do(fmt.Sprintf("%v", key), func() (any, error) {
		lib, err := r.lookup(ctx, key)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		if r.cache == nil {
			r.cache = make(map[resolveKey]string)
		}
		r.cache[key] = lib
		r.mu.Unlock()
		return lib, nil
	})
	if err != nil {
		return "", err
	}
	return found(e, v.(string))
}

// Reset drops all cached lookups, including the global root.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.cache = nil
	r.globalRoot = ""
	r.mu.Unlock()
}

func found(e Engine, lib string) (string, error) {
	if lib == "" {
		return "", fmt.Errorf("%s: %w", e, ErrLibraryNotFound)
	}
	return lib, nil
}

// lookup returns "" without an error when the library does not exist.
// Errors are reserved for failures that should not be cached.
func (r *Resolver) lookup(ctx context.Context, key resolveKey) (string, error) {
	name := string(key.engine)
	if key.nodePath != "" {
		if dir := filepath.Join(key.nodePath, name); isPackage(dir) {
			return dir, nil
		}
	}
	for dir := key.startDir; ; {
		if cand := filepath.Join(dir, "node_modules", name); isPackage(cand) {
			return cand, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if !key.global {
		return "", nil
	}
	root, err := r.global(ctx)
	if err != nil {
		return "", err
	}
	if dir := filepath.Join(root, name); isPackage(dir) {
		return dir, nil
	}
	return "", nil
}

func (r *Resolver) global(ctx context.Context) (string, error) {
	r.mu.Lock()
	root := r.globalRoot
	r.mu.Unlock()
	if root != "" {
		return root, nil
	}
	v, err, _ := r.group.Do("global-root", func() (any, error) {
		get := r.GlobalRoot
		if get == nil {
			get = npmGlobalRoot
		}
		return get(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("locating global node_modules: %w", err)
	}
	root = v.(string)
	r.mu.Lock()
	r.globalRoot = root
	r.mu.Unlock()
	return root, nil
}

func isPackage(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "package.json"))
	return err == nil && !info.IsDir()
}

func npmGlobalRoot(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "npm", "root", "-g").Output()
	if err != nil {
		return "", err
	}
	root := strings.TrimSpace(string(out))
	if root == "" {
		return "", errors.New("npm root -g returned nothing")
	}
	return root, nil
}
