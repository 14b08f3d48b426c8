// Package command defines the polymorphic Command handle that concrete
// work items (build, test, clean, ...) implement, and that the task graph
// materializes Tasks from.
package command

import (
	"context"

	"github.com/depot-build/depot/internal/workspace"
)

// Variant selects which scope(s) a Command runs at.
type Variant int

const (
	// PackageScope runs once per applicable package.
	PackageScope Variant = iota
	// WorkspaceScope runs once for the whole workspace.
	WorkspaceScope
	// Both runs at both scopes (subject to the non-monorepo caveat in the
	// task graph builder's tasksFor).
	Both
)

// Runtime distinguishes ordinary tasks from long-lived watch-mode tasks.
type Runtime int

const (
	// WaitForDependencies is the default: the task runs to completion and
	// its successors wait for it.
	WaitForDependencies Runtime = iota
	// RunForever denotes a watch-mode task that never exits on its own;
	// successors must not block on it, and intra-command package-to-package
	// ordering is relaxed so sibling watchers can start in parallel.
	RunForever
)

// Command is the identity and dependency-graph shape of a unit of work.
// Equality is by identity: two Command values compare equal iff they wrap
// the same concrete instance, which is how the CommandGraph collapses two
// references to the same command into a single node. Concrete commands are
// pointer types (*T), so identity is per instance. A Deps implementation
// may return a fresh instance on each call; the task graph interns tasks by
// key, so two instances of the same command still map to the same Tasks.
type Command interface {
	// Name is the short identifier used in task keys and fingerprint keys.
	Name() string
	Variant() Variant
	// Deps lists the commands this command depends on, e.g. build depends
	// on init, test depends on build.
	Deps() []Command
	Runtime() Runtime
}

// PackageRunner is implemented by PackageScope and Both commands.
type PackageRunner interface {
	RunPackage(ctx context.Context, pkg *workspace.Package) error
}

// WorkspaceRunner is implemented by WorkspaceScope and Both commands.
type WorkspaceRunner interface {
	RunWorkspace(ctx context.Context, ws *workspace.Workspace) error
	// InputFiles returns the files that govern fingerprint staleness for
	// the workspace-scoped task, or ok=false if the task can never be
	// skipped.
	InputFiles(ws *workspace.Workspace) (files []string, ok bool)
}

// Base is embedded by concrete commands to supply the common defaults:
// no dependencies, ordinary (non-watch) runtime.
type Base struct{}

func (Base) Deps() []Command  { return nil }
func (Base) Runtime() Runtime { return WaitForDependencies }
