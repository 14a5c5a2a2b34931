// Copyright © 2024 The standard-ls authors

// Package resolve computes the effective lint configuration of a file:
// whether it is linted at all, by which engine, from which working
// directory and with which options.
package resolve

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/standard-ls/standard-ls/engine"
	"github.com/standard-ls/standard-ls/manifest"
	"github.com/standard-ls/standard-ls/settings"
)

// Input identifies a document to resolve.
type Input struct {
	// Path is the absolute file path.
	Path string
	// LanguageID is the editor language id. When empty it is derived from
	// the file extension.
	LanguageID string
	// Folder is the workspace folder containing the file, if any.
	Folder string
	// Settings are the settings of that folder.
	Settings settings.Settings
}

// Config is the effective configuration of a document.
type Config struct {
	Enabled bool
	// Reason explains why a document is disabled.
	Reason string

	Engine   engine.Engine
	Library  string
	Cwd      string
	Options  map[string]any
	Settings settings.Settings
}

// Request builds an engine request for text in the file at path.
func (c Config) Request(path, text string, fix bool) engine.Request {
	return engine.Request{
		Engine:   c.Engine,
		Library:  c.Library,
		Cwd:      c.Cwd,
		Filename: path,
		Text:     text,
		Fix:      fix,
		Options:  c.Options,
	}
}

// Resolver resolves documents against the file system. It is safe for
// concurrent use.
type Resolver struct {
	Manifests *manifest.Cache
	Libraries *engine.Resolver
}

// New creates a resolver with empty caches.
func New() *Resolver {
	return &Resolver{
		Manifests: manifest.NewCache(),
		Libraries: engine.NewResolver(),
	}
}

// Reset drops cached manifests and library locations.
func (r *Resolver) Reset() {
	r.Manifests.Invalidate()
	r.Libraries.Reset()
}

// Resolve returns the configuration for in. A disabled document yields
// Enabled false and no error. When the engine library cannot be found the
// returned error wraps engine.ErrLibraryNotFound and the configuration is
// still filled in, so callers can report which engine was missing.
func (r *Resolver) Resolve(ctx context.Context, in Input) (Config, error) {
	s := in.Settings
	cfg := Config{Settings: s}
	if !s.Enable {
		cfg.Reason = "disabled in settings"
		return cfg, nil
	}
	lang := in.LanguageID
	if lang == "" {
		lang = LanguageFromPath(in.Path)
	}
	if !s.Validates(lang) {
		cfg.Reason = fmt.Sprintf("language %q is not validated", lang)
		return cfg, nil
	}

	dir := filepath.Dir(in.Path)
	var m *manifest.Manifest
	if s.UsePackageJSON {
		m = r.Manifests.Nearest(dir)
	}

	e := s.Engine
	global := s.EnableGlobally
	if s.UsePackageJSON {
		dep, ok := dependency(m, e)
		switch {
		case ok:
			e = dep
			global = false
		case !s.EnableGlobally && m == nil:
			cfg.Reason = "no package.json found"
			return cfg, nil
		case !s.EnableGlobally:
			cfg.Reason = fmt.Sprintf("%s does not depend on %s", m.Path, e)
			return cfg, nil
		}
	}

	cfg.Enabled = true
	cfg.Engine = e
	cfg.Cwd = r.workingDirectory(in, dir)
	cfg.Options = options(m, e, s.Options)

	lib, err := r.Libraries.Resolve(ctx, e, dir, s.NodePath, global)
	if err != nil {
		return cfg, err
	}
	cfg.Library = lib
	return cfg, nil
}

// dependency returns the engine the manifest depends on, preferring the
// configured one.
func dependency(m *manifest.Manifest, preferred engine.Engine) (engine.Engine, bool) {
	if m == nil {
		return "", false
	}
	if m.HasDependency(string(preferred)) {
		return preferred, true
	}
	for _, e := range engine.Known() {
		if m.HasDependency(string(e)) {
			return e, true
		}
	}
	return "", false
}

// options merges the manifest's engine section with the settings options.
// Settings win on conflicting keys.
func options(m *manifest.Manifest, e engine.Engine, opts map[string]any) map[string]any {
	var base map[string]any
	if m != nil {
		base = m.Config(string(e))
	}
	if len(base) == 0 && len(opts) == 0 {
		return nil
	}
	merged := make(map[string]any, len(base)+len(opts))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range opts {
		merged[k] = v
	}
	return merged
}

// workingDirectory picks the longest configured working directory that
// contains the file, then the workspace folder, then the file's directory.
func (r *Resolver) workingDirectory(in Input, dir string) string {
	var best string
	for _, wd := range in.Settings.WorkingDirectories {
		var cand string
		switch wd.Mode {
		case settings.ModeAuto:
			if m := r.Manifests.Nearest(dir); m != nil {
				cand = m.Dir
			}
		case settings.ModeLocation:
			cand = in.Folder
		default:
			cand = wd.Directory
			if cand != "" && !filepath.IsAbs(cand) {
				if in.Folder == "" {
					continue
				}
				cand = filepath.Join(in.Folder, cand)
			}
		}
		if cand == "" || !Within(cand, in.Path) {
			continue
		}
		cand = filepath.Clean(cand)
		if len(cand) > len(best) {
			best = cand
		}
	}
	if best != "" {
		return best
	}
	if in.Folder != "" && Within(in.Folder, in.Path) {
		return filepath.Clean(in.Folder)
	}
	return dir
}

// Within reports whether path is dir or lies below it.
func Within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// LanguageFromPath maps a file extension to an editor language id.
func LanguageFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return "javascript"
	case ".jsx":
		return "javascriptreact"
	case ".ts", ".mts", ".cts":
		return "typescript"
	case ".tsx":
		return "typescriptreact"
	}
	return ""
}
