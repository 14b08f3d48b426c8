package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "package.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestSplitName(t *testing.T) {
	scope, local, err := SplitName("@depot/core")
	require.NoError(t, err)
	assert.Equal(t, "depot", scope)
	assert.Equal(t, "core", local)

	scope, local, err = SplitName("core")
	require.NoError(t, err)
	assert.Empty(t, scope)
	assert.Equal(t, "core", local)

	_, _, err = SplitName("@depot/core/extra")
	assert.Error(t, err)

	_, _, err = SplitName("")
	assert.Error(t, err)
}

func TestLoadManifestRequiresDepotBlock(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `{"name": "foo"}`)

	_, err := loadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depot")
}

func TestLoadManifestRejectsUnknownPlatform(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `{"name": "foo", "depot": {"platform": "jvm"}}`)

	_, err := loadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform")
}

func TestLoadManifestParsesFullBlock(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `{
		"name": "@depot/foo",
		"dependencies": {"bar": "^1.0.0"},
		"devDependencies": {"baz": "^2.0.0"},
		"peerDependencies": {"react": "^18"},
		"depot": {"platform": "browser", "target": "lib", "no-server": true},
		"pnpm": {"overrides": {"rollup": "npm:@rollup/wasm-node"}}
	}`)

	m, err := loadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "@depot/foo", m.FullName())
	assert.Equal(t, PlatformBrowser, m.Platform)
	assert.Equal(t, TargetLib, m.Target)
	assert.True(t, m.TargetIsSet)
	assert.True(t, m.NoServer)
	assert.Equal(t, "npm:@rollup/wasm-node", m.PnpmOverrides["rollup"])

	for _, dep := range []string{"bar", "baz", "react"} {
		_, ok := m.Dependencies[dep]
		assert.True(t, ok, "expected %s in the dependency union", dep)
	}
}

func TestLoadManifestParsesDepotVersion(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `{
		"name": "root",
		"depot": {"platform": "node", "depot-version": "0.3.2"}
	}`)

	m, err := loadManifest(path)
	require.NoError(t, err)
	require.NotNil(t, m.DepotVersion)
	assert.Equal(t, "0.3.2", m.DepotVersion.String())
}
