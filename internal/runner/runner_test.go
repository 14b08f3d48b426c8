package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depot-build/depot/internal/command"
	"github.com/depot-build/depot/internal/taskgraph"
	"github.com/depot-build/depot/internal/workspace"
)

// recorder captures the start/finish interval of every task run through it.
type recorder struct {
	mu    sync.Mutex
	spans map[string][2]time.Time
}

func newRecorder() *recorder {
	return &recorder{spans: make(map[string][2]time.Time)}
}

func (r *recorder) record(key string, run func() error) error {
	start := time.Now()
	err := run()
	end := time.Now()
	r.mu.Lock()
	r.spans[key] = [2]time.Time{start, end}
	r.mu.Unlock()
	return err
}

func (r *recorder) ran(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.spans[key]
	return ok
}

func (r *recorder) assertBefore(t *testing.T, earlier, later string) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.spans[earlier]
	require.True(t, ok, "%s never ran", earlier)
	l, ok := r.spans[later]
	require.True(t, ok, "%s never ran", later)
	assert.False(t, l[0].Before(e[1]), "%s started before %s finished", later, earlier)
}

// recordingCmd runs no subprocesses; it just records its execution spans
// (with a small sleep so the intervals are distinguishable) and optionally
// fails for one package.
type recordingCmd struct {
	command.Base
	name    string
	variant command.Variant
	deps    []command.Command
	rec     *recorder

	failPkg string

	inputFiles   func(ws *workspace.Workspace) ([]string, bool)
}

func (c *recordingCmd) Name() string             { return c.name }
func (c *recordingCmd) Variant() command.Variant { return c.variant }
func (c *recordingCmd) Deps() []command.Command  { return c.deps }

func (c *recordingCmd) RunPackage(ctx context.Context, pkg *workspace.Package) error {
	return c.rec.record(c.name+":pkg("+pkg.Name+")", func() error {
		time.Sleep(10 * time.Millisecond)
		if pkg.Name == c.failPkg {
			return errors.New("boom")
		}
		return nil
	})
}

func (c *recordingCmd) RunWorkspace(ctx context.Context, ws *workspace.Workspace) error {
	return c.rec.record(c.name+":ws", func() error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
}

func (c *recordingCmd) InputFiles(ws *workspace.Workspace) ([]string, bool) {
	if c.inputFiles != nil {
		return c.inputFiles(ws)
	}
	return nil, false
}

func writePkg(t *testing.T, root, name string, deps ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	depsJSON := ""
	for i, d := range deps {
		if i > 0 {
			depsJSON += ", "
		}
		depsJSON += fmt.Sprintf("%q: \"workspace:^\"", d)
	}
	manifest := fmt.Sprintf(`{
		"name": %q,
		"dependencies": {%s},
		"depot": {"platform": "browser", "target": "lib"}
	}`, name, depsJSON)
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "lib.ts"), []byte("export {};\n"), 0o644))
}

func fixtureWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(`{"private": true}`), 0o644))
	writePkg(t, filepath.Join(root, "packages", "foo"), "foo")
	writePkg(t, filepath.Join(root, "packages", "bar"), "bar", "foo")

	ws, err := workspace.Load(root, hclog.NewNullLogger())
	require.NoError(t, err)
	return ws
}

func runGraph(t *testing.T, ws *workspace.Workspace, root command.Command, opts taskgraph.Options) error {
	t.Helper()
	graph, err := taskgraph.Build(ws, root, opts)
	require.NoError(t, err)
	r := New(ws, graph, root.Name(), hclog.NewNullLogger(), nil)
	return r.Run(context.Background())
}

func TestRunHonorsBothOrderingAxes(t *testing.T) {
	ws := fixtureWorkspace(t)
	rec := newRecorder()
	initCmd := &recordingCmd{name: "init", variant: command.WorkspaceScope, rec: rec}
	build := &recordingCmd{name: "build", variant: command.PackageScope, rec: rec, deps: []command.Command{initCmd}}

	require.NoError(t, runGraph(t, ws, build, taskgraph.Options{}))

	// Command axis: both package builds wait for init.
	rec.assertBefore(t, "init:ws", "build:pkg(foo)")
	rec.assertBefore(t, "init:ws", "build:pkg(bar)")
	// Package axis: bar waits for its dependency foo under the same command.
	rec.assertBefore(t, "build:pkg(foo)", "build:pkg(bar)")
}

func TestRunPropagatesFirstFailure(t *testing.T) {
	ws := fixtureWorkspace(t)
	rec := newRecorder()
	build := &recordingCmd{name: "build", variant: command.PackageScope, rec: rec, failPkg: "foo"}

	err := runGraph(t, ws, build, taskgraph.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build:pkg(foo)")

	// bar depends on foo and must not have started after foo failed.
	assert.False(t, rec.ran("build:pkg(bar)"))
}

func TestRunUpdatesFingerprints(t *testing.T) {
	ws := fixtureWorkspace(t)
	rec := newRecorder()
	build := &recordingCmd{name: "build", variant: command.PackageScope, rec: rec}

	require.NoError(t, runGraph(t, ws, build, taskgraph.Options{}))

	// A later incremental graph build sees every task as skippable.
	graph, err := taskgraph.Build(ws, build, taskgraph.Options{Incremental: true})
	require.NoError(t, err)
	for _, task := range graph.Nodes() {
		assert.True(t, task.CanSkip(), "%s should be skippable after a clean run", task.Key())
	}
}

func TestRunSkipsWholeGraphWhenFresh(t *testing.T) {
	ws := fixtureWorkspace(t)

	// First run populates the fingerprints.
	warm := newRecorder()
	initCmd := &recordingCmd{
		name: "init", variant: command.WorkspaceScope, rec: warm,
		inputFiles: func(ws *workspace.Workspace) ([]string, bool) {
			return []string{filepath.Join(ws.Root, "package.json")}, true
		},
	}
	build := &recordingCmd{name: "build", variant: command.PackageScope, rec: warm, deps: []command.Command{initCmd}}
	require.NoError(t, runGraph(t, ws, build, taskgraph.Options{}))

	// Second, incremental run skips everything: nothing is recorded.
	cold := newRecorder()
	initCmd.rec, build.rec = cold, cold
	require.NoError(t, runGraph(t, ws, build, taskgraph.Options{Incremental: true}))
	assert.False(t, cold.ran("init:ws"))
	assert.False(t, cold.ran("build:pkg(foo)"))
	assert.False(t, cold.ran("build:pkg(bar)"))
}

func TestSkipPropagationRerunsDownstreamOfRanTask(t *testing.T) {
	ws := fixtureWorkspace(t)

	warm := newRecorder()
	// init never reports input files, so it can never be skipped.
	initCmd := &recordingCmd{name: "init", variant: command.WorkspaceScope, rec: warm}
	build := &recordingCmd{name: "build", variant: command.PackageScope, rec: warm, deps: []command.Command{initCmd}}
	require.NoError(t, runGraph(t, ws, build, taskgraph.Options{}))

	cold := newRecorder()
	initCmd.rec, build.rec = cold, cold
	require.NoError(t, runGraph(t, ws, build, taskgraph.Options{Incremental: true}))

	// init actually re-ran, so the builds — although individually
	// skippable — must re-run too: their inputs may have been regenerated.
	assert.True(t, cold.ran("init:ws"))
	assert.True(t, cold.ran("build:pkg(foo)"))
	assert.True(t, cold.ran("build:pkg(bar)"))
}

func TestRunPersistsFingerprintsExceptForClean(t *testing.T) {
	ws := fixtureWorkspace(t)
	rec := newRecorder()
	build := &recordingCmd{name: "build", variant: command.PackageScope, rec: rec}
	require.NoError(t, runGraph(t, ws, build, taskgraph.Options{}))

	fpPath := filepath.Join(ws.Root, "node_modules", ".depot-fingerprints.json")
	info, err := os.Stat(fpPath)
	require.NoError(t, err, "build must persist fingerprints")

	// A clean run must not rewrite the file.
	before := info.ModTime()
	clean := &recordingCmd{name: "clean", variant: command.WorkspaceScope, rec: rec}
	require.NoError(t, runGraph(t, ws, clean, taskgraph.Options{}))
	info, err = os.Stat(fpPath)
	require.NoError(t, err)
	assert.Equal(t, before, info.ModTime())
}

func TestRequestExitStopsTheLoop(t *testing.T) {
	ws := fixtureWorkspace(t)
	rec := newRecorder()
	build := &recordingCmd{name: "build", variant: command.PackageScope, rec: rec}

	graph, err := taskgraph.Build(ws, build, taskgraph.Options{})
	require.NoError(t, err)
	r := New(ws, graph, "build", hclog.NewNullLogger(), nil)
	r.RequestExit()

	// A pre-requested exit returns promptly and without error.
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not honor the exit request")
	}
}
