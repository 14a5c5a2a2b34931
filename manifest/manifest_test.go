// Copyright © 2024 The standard-ls authors

package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `{
  "name": "demo",
  "devDependencies": {"standard": "^17.1.0"},
  "dependencies": {"left-pad": "1.0.0"},
  "standard": {
    "globals": ["describe", "it"],
    "ignore": ["dist/"]
  },
  "semistandard": "not an object"
}`

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParse(t *testing.T) {
	m, err := Parse("/p/package.json", []byte(sampleManifest))
	require.NoError(t, err)
	assert.Equal(t, "/p", m.Dir)
	assert.Equal(t, "demo", m.Name())
	assert.True(t, m.HasDependency("standard"))
	assert.True(t, m.HasDependency("left-pad"))
	assert.False(t, m.HasDependency("semistandard"))

	cfg := m.Config("standard")
	require.NotNil(t, cfg)
	assert.Equal(t, []any{"describe", "it"}, cfg["globals"])
	assert.Nil(t, m.Config("semistandard"), "non-object config is ignored")
	assert.Nil(t, m.Config("ts-standard"))
}

func TestParseInvalid(t *testing.T) {
	m, err := Parse("/p/package.json", []byte(`{"name": `))
	require.Error(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "/p", m.Dir)
	assert.False(t, m.HasDependency("standard"))
	assert.Nil(t, m.Config("standard"))

	_, err = Parse("/p/package.json", []byte(`[1, 2]`))
	assert.Error(t, err)
}

func TestCacheNearest(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, sampleManifest)
	inner := filepath.Join(root, "packages", "lib")
	writeManifest(t, inner, `{"name": "lib"}`)
	deep := filepath.Join(inner, "src", "util")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	other := filepath.Join(root, "scripts")
	require.NoError(t, os.MkdirAll(other, 0o755))

	c := NewCache()
	m := c.Nearest(deep)
	require.NotNil(t, m)
	assert.Equal(t, "lib", m.Name())

	m = c.Nearest(other)
	require.NotNil(t, m)
	assert.Equal(t, "demo", m.Name())
}

func TestCacheInvalidate(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))

	c := NewCache()
	before := c.Nearest(src)
	if before != nil {
		// A package.json above the temp dir would make this test meaningless.
		t.Skipf("unexpected manifest above temp dir: %s", before.Path)
	}

	writeManifest(t, root, `{"name": "late"}`)
	assert.Nil(t, c.Nearest(src), "cached negative result")

	c.Invalidate()
	m := c.Nearest(src)
	require.NotNil(t, m)
	assert.Equal(t, "late", m.Name())
}

func TestCacheWatch(t *testing.T) {
	root := t.TempDir()
	path := writeManifest(t, root, `{"name": "v1"}`)

	c := NewCache()
	t.Cleanup(func() { _ = c.Close() })
	require.Equal(t, "v1", c.Nearest(root).Name())

	changed := make(chan string, 8)
	require.NoError(t, c.Watch(func(p string) { changed <- p }))

	require.NoError(t, os.WriteFile(path, []byte(`{"name": "v2"}`), 0o600))
	select {
	case p := <-changed:
		assert.Equal(t, path, p)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
	assert.Eventually(t, func() bool {
		m := c.Nearest(root)
		return m != nil && m.Name() == "v2"
	}, 5*time.Second, 10*time.Millisecond)
}
