// Copyright © 2024 The standard-ls authors

package cmd

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// sourceExts are the extensions linted when a directory is expanded.
var sourceExts = map[string]bool{
	".js":  true,
	".jsx": true,
	".mjs": true,
	".cjs": true,
	".ts":  true,
	".tsx": true,
}

// expandArgs expands arguments, resolving patterns ending with "/..." to all
// JavaScript and TypeScript files found recursively under the given
// directory. node_modules and hidden directories are skipped. Non-pattern
// arguments pass through unchanged. Paths matching any exclude pattern are
// dropped.
func expandArgs(args []string, excludes []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		if dir, ok := strings.CutSuffix(arg, "/..."); ok {
			if dir == "" {
				dir = "."
			}
			files, err := findSourceFiles(dir)
			if err != nil {
				return nil, fmt.Errorf("expanding %s: %w", arg, err)
			}
			out = append(out, files...)
		} else {
			out = append(out, arg)
		}
	}
	return filterExcludes(out, excludes), nil
}

func findSourceFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (name == "node_modules" || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if sourceExts[filepath.Ext(path)] {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// filterExcludes drops the paths matching any of the patterns.
func filterExcludes(paths []string, patterns []string) []string {
	if len(patterns) == 0 {
		return paths
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !matchesAny(p, patterns) {
			out = append(out, p)
		}
	}
	return out
}

// matchesAny reports whether a pattern matches the full path, its base name
// or any of its directory components.
func matchesAny(path string, patterns []string) bool {
	slashed := filepath.ToSlash(path)
	parts := splitPath(path)
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, slashed); ok {
			return true
		}
		for _, part := range parts {
			if ok, _ := filepath.Match(pat, part); ok {
				return true
			}
		}
	}
	return false
}

func splitPath(path string) []string {
	var parts []string
	for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(path)), "/") {
		if part != "" && part != "." {
			parts = append(parts, part)
		}
	}
	return parts
}
