//go:build !windows

package renderer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gatedio "github.com/hashicorp/go-gatedio"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depot-build/depot/internal/workspace"
)

func writePkg(t *testing.T, root, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	manifest := fmt.Sprintf(`{
		"name": %q,
		"depot": {"platform": "browser", "target": "lib"}
	}`, name)
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "lib.ts"), []byte("export {};\n"), 0o644))
}

// installScript drops an executable shell script into the workspace's
// node_modules/.bin so StartProcess can resolve it like a real npm tool.
func installScript(t *testing.T, wsRoot, name, body string) {
	t.Helper()
	binDir := filepath.Join(wsRoot, "node_modules", ".bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(binDir, name), []byte(script), 0o755))
}

func fixtureWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(`{"private": true}`), 0o644))
	writePkg(t, filepath.Join(root, "packages", "foo"), "foo")

	ws, err := workspace.Load(root, hclog.NewNullLogger())
	require.NoError(t, err)
	return ws
}

func TestRenderDrawsPackageTree(t *testing.T) {
	ws := fixtureWorkspace(t)
	installScript(t, ws.Root, "hello", "printf 'hi there\n'")

	pkg := ws.Packages[0]
	proc, err := pkg.StartProcess(context.Background(), "hello", nil, nil)
	require.NoError(t, err)
	require.NoError(t, proc.WaitForSuccess())

	buf := gatedio.NewByteBuffer()
	r := NewInline(buf)
	r.Render(ws)

	out := buf.String()
	assert.Contains(t, out, "foo")
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "hi there")
	assert.Contains(t, out, "└─ finished")
}

func TestRenderIsIncrementallyQuiet(t *testing.T) {
	ws := fixtureWorkspace(t)
	installScript(t, ws.Root, "hello", "printf 'hi\n'")

	pkg := ws.Packages[0]
	proc, err := pkg.StartProcess(context.Background(), "hello", nil, nil)
	require.NoError(t, err)
	require.NoError(t, proc.WaitForSuccess())

	buf := gatedio.NewByteBuffer()
	r := NewInline(buf)
	r.Render(ws)
	firstLen := len(buf.String())
	require.Greater(t, firstLen, 0)

	// Re-rendering unchanged state writes nothing.
	r.Render(ws)
	assert.Equal(t, firstLen, len(buf.String()))
}

func TestRenderRewritesChangedSuffixOnly(t *testing.T) {
	ws := fixtureWorkspace(t)
	installScript(t, ws.Root, "one", "printf 'first\n'")
	installScript(t, ws.Root, "two", "printf 'second\n'")

	pkg := ws.Packages[0]
	first, err := pkg.StartProcess(context.Background(), "one", nil, nil)
	require.NoError(t, err)
	require.NoError(t, first.WaitForSuccess())

	buf := gatedio.NewByteBuffer()
	r := NewInline(buf)
	r.Render(ws)
	before := buf.String()

	second, err := pkg.StartProcess(context.Background(), "two", nil, nil)
	require.NoError(t, err)
	require.NoError(t, second.WaitForSuccess())
	r.Render(ws)

	out := strings.TrimPrefix(buf.String(), before)
	assert.Contains(t, out, "second")
	// The unchanged head of the frame (the package name line) is not
	// re-printed; everything below it is, because "one" stops being the
	// last tree entry.
	assert.NotContains(t, out, "foo")
}

func TestWorkspaceProcessesRenderFirst(t *testing.T) {
	ws := fixtureWorkspace(t)
	installScript(t, ws.Root, "install", "printf 'installing\n'")

	proc, err := ws.StartProcess(context.Background(), ws.Root, "install", nil, nil)
	require.NoError(t, err)
	require.NoError(t, proc.WaitForSuccess())

	pkgProc, err := ws.Packages[0].StartProcess(context.Background(), "install", nil, nil)
	require.NoError(t, err)
	require.NoError(t, pkgProc.WaitForSuccess())

	buf := gatedio.NewByteBuffer()
	r := NewInline(buf)
	r.Render(ws)

	out := buf.String()
	assert.Contains(t, out, "ws/install")
	assert.Contains(t, out, "installing")
	// The workspace process is drawn above the package's tree.
	require.Contains(t, out, "foo")
	assert.Less(t, strings.Index(out, "ws/install"), strings.Index(out, "foo"))
}

func TestFitWidthTruncatesLongLines(t *testing.T) {
	r := &InlineRenderer{width: 20, height: 40}
	long := strings.Repeat("x", 100)
	fitted := r.fitWidth(long)
	assert.Equal(t, 16, len(fitted))

	short := "ok"
	assert.Equal(t, "ok", r.fitWidth(short))
}
