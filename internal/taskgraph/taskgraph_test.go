package taskgraph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depot-build/depot/internal/command"
	"github.com/depot-build/depot/internal/workspace"
)

// fakeCmd is a configurable command for exercising graph construction
// without spawning anything.
type fakeCmd struct {
	name    string
	variant command.Variant
	deps    []command.Command
	runtime command.Runtime

	inputFiles   []string
	inputFilesOK bool
}

func (f *fakeCmd) Name() string             { return f.name }
func (f *fakeCmd) Variant() command.Variant { return f.variant }
func (f *fakeCmd) Deps() []command.Command  { return f.deps }
func (f *fakeCmd) Runtime() command.Runtime { return f.runtime }

func (f *fakeCmd) RunPackage(ctx context.Context, pkg *workspace.Package) error { return nil }
func (f *fakeCmd) RunWorkspace(ctx context.Context, ws *workspace.Workspace) error {
	return nil
}
func (f *fakeCmd) InputFiles(ws *workspace.Workspace) ([]string, bool) {
	return f.inputFiles, f.inputFilesOK
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

// fixtureWorkspace builds foo plus bar-depends-on-foo and loads it.
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

func singlePackageWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	root := t.TempDir()
	writePkg(t, root, "solo")
	ws, err := workspace.Load(root, hclog.NewNullLogger())
	require.NoError(t, err)
	return ws
}

func taskByKey(t *testing.T, g *Graph, key string) *Task {
	t.Helper()
	for _, task := range g.Nodes() {
		if task.Key() == key {
			return task
		}
	}
	t.Fatalf("no task with key %s in %v", key, g.Nodes())
	return nil
}

func depKeys(g *Graph, task *Task) []string {
	var keys []string
	for _, d := range g.ImmediateDepsFor(task) {
		keys = append(keys, d.Key())
	}
	return keys
}

func TestPackageCommandMaterializesPerPackage(t *testing.T) {
	ws := fixtureWorkspace(t)
	initCmd := &fakeCmd{name: "init", variant: command.WorkspaceScope}
	build := &fakeCmd{name: "build", variant: command.PackageScope, deps: []command.Command{initCmd}}

	g, err := Build(ws, build, Options{})
	require.NoError(t, err)

	var keys []string
	for _, task := range g.Nodes() {
		keys = append(keys, task.Key())
	}
	assert.ElementsMatch(t, []string{"build:pkg(foo)", "build:pkg(bar)", "init:ws"}, keys)
}

func TestCommandDependencyEdges(t *testing.T) {
	ws := fixtureWorkspace(t)
	initCmd := &fakeCmd{name: "init", variant: command.WorkspaceScope}
	build := &fakeCmd{name: "build", variant: command.PackageScope, deps: []command.Command{initCmd}}

	g, err := Build(ws, build, Options{})
	require.NoError(t, err)

	foo := taskByKey(t, g, "build:pkg(foo)")
	bar := taskByKey(t, g, "build:pkg(bar)")

	assert.ElementsMatch(t, []string{"init:ws"}, depKeys(g, foo))
	// bar additionally waits for foo's task under the same command: the
	// cross-axis edge.
	assert.ElementsMatch(t, []string{"init:ws", "build:pkg(foo)"}, depKeys(g, bar))
}

func TestRunForeverOmitsIntraCommandEdges(t *testing.T) {
	ws := fixtureWorkspace(t)
	build := &fakeCmd{name: "build", variant: command.PackageScope, runtime: command.RunForever}

	g, err := Build(ws, build, Options{})
	require.NoError(t, err)

	bar := taskByKey(t, g, "build:pkg(bar)")
	assert.Empty(t, depKeys(g, bar), "watch-mode siblings must start in parallel")
}

func TestBothEmitsWorkspaceTaskOnlyInMonorepo(t *testing.T) {
	clean := &fakeCmd{name: "clean", variant: command.Both}

	mono := fixtureWorkspace(t)
	g, err := Build(mono, clean, Options{})
	require.NoError(t, err)
	var keys []string
	for _, task := range g.Nodes() {
		keys = append(keys, task.Key())
	}
	assert.ElementsMatch(t, []string{"clean:pkg(foo)", "clean:pkg(bar)", "clean:ws"}, keys)

	single := singlePackageWorkspace(t)
	g, err = Build(single, clean, Options{})
	require.NoError(t, err)
	keys = nil
	for _, task := range g.Nodes() {
		keys = append(keys, task.Key())
	}
	// The workspace task would operate on the same directory as the single
	// package's task, so it is omitted.
	assert.ElementsMatch(t, []string{"clean:pkg(solo)"}, keys)
}

func TestPackageRestrictionIncludesTransitiveDeps(t *testing.T) {
	ws := fixtureWorkspace(t)
	build := &fakeCmd{name: "build", variant: command.PackageScope}

	g, err := Build(ws, build, Options{PackageName: "bar"})
	require.NoError(t, err)
	var keys []string
	for _, task := range g.Nodes() {
		keys = append(keys, task.Key())
	}
	assert.ElementsMatch(t, []string{"build:pkg(bar)", "build:pkg(foo)"}, keys)

	g, err = Build(ws, build, Options{PackageName: "foo"})
	require.NoError(t, err)
	keys = nil
	for _, task := range g.Nodes() {
		keys = append(keys, task.Key())
	}
	assert.ElementsMatch(t, []string{"build:pkg(foo)"}, keys)
}

func TestPackageRestrictionUnknownName(t *testing.T) {
	ws := fixtureWorkspace(t)
	build := &fakeCmd{name: "build", variant: command.PackageScope}

	_, err := Build(ws, build, Options{PackageName: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestTransitiveCommandChain(t *testing.T) {
	ws := fixtureWorkspace(t)
	initCmd := &fakeCmd{name: "init", variant: command.WorkspaceScope}
	build := &fakeCmd{name: "build", variant: command.PackageScope, deps: []command.Command{initCmd}}
	test := &fakeCmd{name: "test", variant: command.PackageScope, deps: []command.Command{build}}

	g, err := Build(ws, test, Options{})
	require.NoError(t, err)

	assert.Len(t, g.Nodes(), 5)
	testBar := taskByKey(t, g, "test:pkg(bar)")
	assert.ElementsMatch(t,
		[]string{"build:pkg(foo)", "build:pkg(bar)", "test:pkg(foo)"},
		depKeys(g, testBar))

	// Root tasks are the ones materialized for the root command.
	var rootKeys []string
	for _, task := range g.RootTasks {
		rootKeys = append(rootKeys, task.Key())
	}
	assert.ElementsMatch(t, []string{"test:pkg(foo)", "test:pkg(bar)"}, rootKeys)
}

func TestCanSkipRequiresIncremental(t *testing.T) {
	ws := fixtureWorkspace(t)
	build := &fakeCmd{name: "build", variant: command.PackageScope}

	ws.Fingerprints.UpdateTime("build:pkg(foo)")
	ws.Fingerprints.UpdateTime("build:pkg(bar)")

	g, err := Build(ws, build, Options{})
	require.NoError(t, err)
	assert.False(t, taskByKey(t, g, "build:pkg(foo)").CanSkip())

	g, err = Build(ws, build, Options{Incremental: true})
	require.NoError(t, err)
	assert.True(t, taskByKey(t, g, "build:pkg(foo)").CanSkip())
	assert.True(t, taskByKey(t, g, "build:pkg(bar)").CanSkip())
}

func TestCanSkipNeverForRunForever(t *testing.T) {
	ws := fixtureWorkspace(t)
	build := &fakeCmd{name: "build", variant: command.PackageScope, runtime: command.RunForever}
	ws.Fingerprints.UpdateTime("build:pkg(foo)")

	g, err := Build(ws, build, Options{Incremental: true})
	require.NoError(t, err)
	assert.False(t, taskByKey(t, g, "build:pkg(foo)").CanSkip())
}

func TestWorkspaceCanSkipUsesInputFiles(t *testing.T) {
	ws := fixtureWorkspace(t)
	manifest := filepath.Join(ws.Root, "package.json")

	skippable := &fakeCmd{
		name: "init", variant: command.WorkspaceScope,
		inputFiles: []string{manifest}, inputFilesOK: true,
	}
	ws.Fingerprints.UpdateTime("init:ws")

	g, err := Build(ws, skippable, Options{Incremental: true})
	require.NoError(t, err)
	assert.True(t, taskByKey(t, g, "init:ws").CanSkip())

	// A command that reports no input files can never be skipped.
	unskippable := &fakeCmd{name: "doc", variant: command.WorkspaceScope}
	g, err = Build(ws, unskippable, Options{Incremental: true})
	require.NoError(t, err)
	assert.False(t, taskByKey(t, g, "doc:ws").CanSkip())
}

func TestTaskStatusTransitions(t *testing.T) {
	task := &Task{key: "x"}
	assert.Equal(t, Pending, task.Status())
	task.MarkRunning()
	assert.Equal(t, Running, task.Status())
	task.MarkFinished()
	assert.Equal(t, Finished, task.Status())
	assert.False(t, task.WasSkipped())

	skipped := &Task{key: "y"}
	skipped.MarkSkipped()
	assert.Equal(t, Finished, skipped.Status())
	assert.True(t, skipped.WasSkipped())
}
