// Package taskgraph materializes a TaskGraph (a DepGraph of Task) from a
// root Command and a Workspace, by pairing every command reachable through
// the CommandGraph with its applicable scope (each package, the
// workspace, or both), then wiring edges across both axes: the
// command-dependency axis and, within one command, the package-dependency
// axis.
package taskgraph

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set"
	"github.com/pkg/errors"

	"github.com/depot-build/depot/internal/command"
	"github.com/depot-build/depot/internal/depgraph"
	"github.com/depot-build/depot/internal/workspace"
)

// Status is a Task's lifecycle state.
type Status int32

const (
	Pending Status = iota
	Running
	Finished
)

// Task is the unit the Runner dispatches: a Command paired with the scope
// (a Package, or the workspace as a whole) it applies to.
type Task struct {
	Command command.Command
	// Pkg is nil for a workspace-scoped task.
	Pkg *workspace.Package

	key        string
	canSkip    bool
	status     int32 // atomic, holds a Status
	wasSkipped int32 // atomic bool: set when this task finished by being skipped
}

// Key is the deterministic identity used for memoization, fingerprinting,
// and display: "<command>:ws" or "<command>:pkg(<name>)".
func (t *Task) Key() string { return t.key }

// String lets Task participate in DepGraph's cycle diagnostics.
func (t *Task) String() string { return t.key }

// CanSkip reports whether this task was computed, at graph-build time, to
// be skippable given the current fingerprint store.
func (t *Task) CanSkip() bool { return t.canSkip }

// Status returns the task's current lifecycle state.
func (t *Task) Status() Status { return Status(atomic.LoadInt32(&t.status)) }

// MarkRunning transitions a Pending task to Running.
func (t *Task) MarkRunning() { atomic.StoreInt32(&t.status, int32(Running)) }

// MarkFinished transitions a task to Finished after it actually ran.
func (t *Task) MarkFinished() { atomic.StoreInt32(&t.status, int32(Finished)) }

// MarkSkipped transitions a Pending task directly to Finished without
// running it, and records that it was skipped so the skip-propagation
// rule (a downstream task only skips if its predecessors also skipped)
// can be enforced by the Runner.
func (t *Task) MarkSkipped() {
	atomic.StoreInt32(&t.status, int32(Finished))
	atomic.StoreInt32(&t.wasSkipped, 1)
}

// WasSkipped reports whether this (Finished) task completed by being
// skipped rather than actually running.
func (t *Task) WasSkipped() bool { return atomic.LoadInt32(&t.wasSkipped) == 1 }

// Run dispatches the task to its command's per-scope implementation.
func (t *Task) Run(ctx context.Context, ws *workspace.Workspace) error {
	if t.Pkg != nil {
		runner, ok := t.Command.(command.PackageRunner)
		if !ok {
			return errors.Errorf("%s: command does not implement PackageRunner", t.key)
		}
		return runner.RunPackage(ctx, t.Pkg)
	}
	runner, ok := t.Command.(command.WorkspaceRunner)
	if !ok {
		return errors.Errorf("%s: command does not implement WorkspaceRunner", t.key)
	}
	return runner.RunWorkspace(ctx, ws)
}

// Options configures which packages are in scope and whether fingerprints
// are consulted at all.
type Options struct {
	// PackageName restricts package-scoped tasks to this package (plus its
	// transitive package dependencies). Empty means every package.
	PackageName string
	// Incremental enables fingerprint-based skipping; without it every
	// task's CanSkip is false.
	Incremental bool
}

// Graph is a built TaskGraph along with its entry tasks (the tasks
// materialized for the root command). The Runner runs until every task in
// the graph has finished, not only the entry tasks.
type Graph struct {
	*depgraph.DepGraph[*Task]
	RootTasks []*Task
}

// Build constructs the CommandGraph by root-and-expand over root's
// dependency list, materializes a Task for every (command, scope) pair
// reachable from it, and wires the edges along both axes.
func Build(ws *workspace.Workspace, root command.Command, opts Options) (*Graph, error) {
	cmdGraph, err := depgraph.Build([]command.Command{root}, func(c command.Command) ([]command.Command, bool, error) {
		return c.Deps(), true, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "building command dependency graph")
	}

	b := &builder{
		ws:             ws,
		opts:           opts,
		cmdGraph:       cmdGraph,
		tasksByCommand: make(map[command.Command][]*Task),
		taskByKey:      make(map[string]*Task),
	}

	rootTasks, err := b.tasksFor(root)
	if err != nil {
		return nil, err
	}

	graph, err := depgraph.Build(rootTasks, b.edgesFor)
	if err != nil {
		return nil, errors.Wrap(err, "building task graph")
	}

	return &Graph{DepGraph: graph, RootTasks: rootTasks}, nil
}

type builder struct {
	ws       *workspace.Workspace
	opts     Options
	cmdGraph *depgraph.DepGraph[command.Command]

	tasksByCommand map[command.Command][]*Task
	taskByKey      map[string]*Task

	scopePkgs     []*workspace.Package
	scopePkgsOnce bool
}

// packageScope returns pkg_roots ∪ transitive_pkg_deps_of(pkg_roots): the
// full set of packages any package-scoped command materializes a Task
// for. It is the same set for every command, so it's computed once.
func (b *builder) packageScope() ([]*workspace.Package, error) {
	if b.scopePkgsOnce {
		return b.scopePkgs, nil
	}
	b.scopePkgsOnce = true

	var roots []*workspace.Package
	if b.opts.PackageName != "" {
		pkg, ok := b.ws.PackageByName(b.opts.PackageName)
		if !ok {
			return nil, errors.Errorf("no package named %q in this workspace", b.opts.PackageName)
		}
		roots = []*workspace.Package{pkg}
	} else {
		roots = append(roots, b.ws.Packages...)
	}

	seen := mapset.NewThreadUnsafeSet()
	var scope []*workspace.Package
	add := func(p *workspace.Package) {
		if seen.Add(p) {
			scope = append(scope, p)
		}
	}
	for _, p := range roots {
		add(p)
		for _, dep := range b.ws.PkgGraph.AllDepsFor(p) {
			add(dep)
		}
	}

	sort.Slice(scope, func(i, j int) bool { return scope[i].Name < scope[j].Name })
	b.scopePkgs = scope
	return scope, nil
}

// tasksFor is the memoizing materialization step (pass 1): it returns the
// same slice of *Task pointers every time it's called for the same
// command.
func (b *builder) tasksFor(cmd command.Command) ([]*Task, error) {
	if tasks, ok := b.tasksByCommand[cmd]; ok {
		return tasks, nil
	}

	variant := cmd.Variant()
	emitPackage := variant == command.PackageScope || variant == command.Both
	// The Both scope has a race hazard on non-monorepo layouts: the single
	// package and the workspace root are the same directory, so running the
	// action twice would stomp on itself. The workspace-scope task is
	// omitted in that case.
	emitWorkspace := variant == command.WorkspaceScope || (variant == command.Both && b.ws.Monorepo)

	var tasks []*Task

	if emitPackage {
		if _, ok := cmd.(command.PackageRunner); !ok {
			return nil, errors.Errorf("%s: a PackageScope or Both command must implement PackageRunner", cmd.Name())
		}
		pkgs, err := b.packageScope()
		if err != nil {
			return nil, err
		}
		for _, pkg := range pkgs {
			key := fmt.Sprintf("%s:pkg(%s)", cmd.Name(), pkg.Name)
			t := b.intern(key, cmd, pkg)
			canSkip, err := b.packageCanSkip(cmd, pkg, key)
			if err != nil {
				return nil, err
			}
			t.canSkip = canSkip
			tasks = append(tasks, t)
		}
	}

	if emitWorkspace {
		runner, ok := cmd.(command.WorkspaceRunner)
		if !ok {
			return nil, errors.Errorf("%s: a WorkspaceScope or Both command must implement WorkspaceRunner", cmd.Name())
		}
		key := fmt.Sprintf("%s:ws", cmd.Name())
		t := b.intern(key, cmd, nil)
		t.canSkip = b.workspaceCanSkip(cmd, runner, key)
		tasks = append(tasks, t)
	}

	b.tasksByCommand[cmd] = tasks
	return tasks, nil
}

func (b *builder) intern(key string, cmd command.Command, pkg *workspace.Package) *Task {
	if t, ok := b.taskByKey[key]; ok {
		return t
	}
	t := &Task{Command: cmd, Pkg: pkg, key: key}
	b.taskByKey[key] = t
	return t
}

func (b *builder) packageCanSkip(cmd command.Command, pkg *workspace.Package, key string) (bool, error) {
	if !b.opts.Incremental || cmd.Runtime() == command.RunForever {
		return false, nil
	}
	files, err := pkg.AllFiles()
	if err != nil {
		return false, errors.Wrapf(err, "enumerating files for %s", key)
	}
	return b.ws.Fingerprints.CanSkip(key, files), nil
}

func (b *builder) workspaceCanSkip(cmd command.Command, runner command.WorkspaceRunner, key string) bool {
	if !b.opts.Incremental || cmd.Runtime() == command.RunForever {
		return false
	}
	files, ok := runner.InputFiles(b.ws)
	if !ok {
		return false
	}
	return b.ws.Fingerprints.CanSkip(key, files)
}

// edgesFor is pass 2: for a materialized task, compute which other tasks
// it depends on, expanding (and thereby materializing) any command whose
// tasks haven't been built yet.
func (b *builder) edgesFor(t *Task) ([]*Task, bool, error) {
	var deps []*Task

	for _, c2 := range b.cmdGraph.ImmediateDepsFor(t.Command) {
		ts, err := b.tasksFor(c2)
		if err != nil {
			return nil, false, err
		}
		deps = append(deps, ts...)
	}

	if t.Pkg != nil && t.Command.Runtime() == command.WaitForDependencies {
		sameCmd, err := b.tasksFor(t.Command)
		if err != nil {
			return nil, false, err
		}
		pkgDeps := b.ws.PkgGraph.ImmediateDepsFor(t.Pkg)
		wanted := make(map[*workspace.Package]bool, len(pkgDeps))
		for _, d := range pkgDeps {
			wanted[d] = true
		}
		for _, candidate := range sameCmd {
			if candidate.Pkg != nil && wanted[candidate.Pkg] {
				deps = append(deps, candidate)
			}
		}
	}

	return deps, true, nil
}
