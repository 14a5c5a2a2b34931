// Copyright © 2024 The standard-ls authors

// Package manifest reads package.json files: which engines a project
// depends on and the engine configuration it carries.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

// FileName is the manifest file name.
const FileName = "package.json"

// Manifest is a parsed package.json.
type Manifest struct {
	// Path is the manifest file.
	Path string
	// Dir is the directory containing the manifest.
	Dir string

	data []byte
}

// Parse validates data and returns the manifest located at path. On invalid
// JSON it returns an error together with an empty manifest, so that callers
// can still treat the directory as a project root.
func Parse(path string, data []byte) (*Manifest, error) {
	m := &Manifest{Path: path, Dir: filepath.Dir(path)}
	if !gjson.ValidBytes(data) {
		return m, fmt.Errorf("%s: invalid JSON", path)
	}
	if !gjson.ParseBytes(data).IsObject() {
		return m, fmt.Errorf("%s: not a JSON object", path)
	}
	m.data = data
	return m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // manifests are located by walking the user's project
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Name returns the package name, if any.
func (m *Manifest) Name() string {
	return m.get("name").String()
}

// HasDependency reports whether name is listed in dependencies or
// devDependencies.
func (m *Manifest) HasDependency(name string) bool {
	key := gjson.Escape(name)
	return m.get("dependencies."+key).Exists() || m.get("devDependencies."+key).Exists()
}

// Config returns the object stored under the top-level key, or nil when the
// key is absent or not an object.
func (m *Manifest) Config(key string) map[string]any {
	v := m.get(gjson.Escape(key))
	if !v.IsObject() {
		return nil
	}
	cfg, _ := v.Value().(map[string]any)
	return cfg
}

func (m *Manifest) get(path string) gjson.Result {
	if m == nil || m.data == nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(m.data, path)
}

// find returns the manifest in dir, nil if there is none.
func find(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, nil
	}
	return Load(path)
}
