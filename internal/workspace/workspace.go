// Package workspace discovers a depot workspace and its packages, parses
// their manifests, and builds the inter-package dependency graph the task
// graph is later layered on top of.
package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/yookoala/realpath"
	"golang.org/x/sync/errgroup"

	"github.com/depot-build/depot/internal/config"
	"github.com/depot-build/depot/internal/depgraph"
	"github.com/depot-build/depot/internal/fingerprint"
	"github.com/depot-build/depot/internal/process"
)

// String renders a Package as its manifest name, used both for display and
// as the stringifier DepGraph falls back to for cycle diagnostics.
func (p *Package) String() string { return p.Name }

// Workspace is the root of a depot project: a single package, or a
// monorepo of packages under packages/.
type Workspace struct {
	Root     string
	Monorepo bool

	Packages            []*Package
	PackageDisplayOrder []*Package
	PkgGraph            *depgraph.DepGraph[*Package]

	DepotVersion  *semver.Version
	PnpmOverrides map[string]string

	pnpmPath string

	Fingerprints *fingerprint.Fingerprints

	logger hclog.Logger

	processesMu sync.RWMutex
	processes   []*process.Process
}

// Load discovers the workspace containing cwd and parses every package in
// it. Package loading happens concurrently; the inter-package dependency
// graph and display order are computed once every package has loaded.
func Load(cwd string, logger hclog.Logger) (*Workspace, error) {
	root, err := discoverRoot(cwd)
	if err != nil {
		return nil, err
	}
	root, err = realpath.Realpath(root)
	if err != nil {
		return nil, errors.Wrapf(err, "canonicalizing %s", root)
	}

	rootManifest, err := loadRootManifest(filepath.Join(root, "package.json"))
	if err != nil {
		return nil, err
	}

	packagesDir := filepath.Join(root, "packages")
	monorepo := isDir(packagesDir)

	var pkgRoots []string
	if monorepo {
		entries, err := os.ReadDir(packagesDir)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", packagesDir)
		}
		for _, e := range entries {
			if e.IsDir() {
				pkgRoots = append(pkgRoots, filepath.Join(packagesDir, e.Name()))
			}
		}
		sort.Strings(pkgRoots)
	} else {
		pkgRoots = []string{root}
	}

	packages := make([]*Package, len(pkgRoots))
	g, _ := errgroup.WithContext(context.Background())
	for i, pr := range pkgRoots {
		i, pr := i, pr
		g.Go(func() error {
			pkg, err := loadPackage(pr, i)
			if err != nil {
				return err
			}
			packages[i] = pkg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byName := make(map[string]*Package, len(packages))
	for _, p := range packages {
		if existing, ok := byName[p.Name]; ok {
			return nil, errors.Errorf("duplicate package name %q at %s and %s", p.Name, existing.Root, p.Root)
		}
		byName[p.Name] = p
	}

	pkgGraph, err := depgraph.Build(packages, func(p *Package) ([]*Package, bool, error) {
		var deps []*Package
		names := make([]string, 0, len(p.Manifest.Dependencies))
		for name := range p.Manifest.Dependencies {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if dep, ok := byName[name]; ok {
				deps = append(deps, dep)
			}
		}
		return deps, true, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "building package dependency graph")
	}

	pnpmPath, err := config.PnpmPath()
	if err != nil {
		return nil, err
	}

	fp, err := fingerprint.Load(root, logger)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{
		Root:          root,
		Monorepo:      monorepo,
		Packages:      packages,
		PkgGraph:      pkgGraph,
		DepotVersion:  rootManifest.DepotVersion,
		PnpmOverrides: rootManifest.PnpmOverrides,
		pnpmPath:      pnpmPath,
		Fingerprints:  fp,
		logger:        logger.Named("workspace"),
	}
	ws.PackageDisplayOrder = computeDisplayOrder(packages, pkgGraph)

	for _, p := range packages {
		p.setWorkspace(ws)
	}

	return ws, nil
}

// computeDisplayOrder returns packages ordered dependent-first: a package
// is emitted only once every package that depends on it has already been
// emitted. Ties are broken by name, and re-broken every round so that name
// order only governs packages that are mutually incomparable (an
// antichain) rather than overriding the partial order.
func computeDisplayOrder(pkgs []*Package, graph *depgraph.DepGraph[*Package]) []*Package {
	remainingDependents := make(map[*Package]int, len(pkgs))
	for _, p := range pkgs {
		remainingDependents[p] = 0
	}
	for _, p := range pkgs {
		for _, dep := range graph.ImmediateDepsFor(p) {
			remainingDependents[dep]++
		}
	}

	var ready []*Package
	for _, p := range pkgs {
		if remainingDependents[p] == 0 {
			ready = append(ready, p)
		}
	}

	order := make([]*Package, 0, len(pkgs))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].Name < ready[j].Name })
		p := ready[0]
		ready = ready[1:]
		order = append(order, p)
		for _, dep := range graph.ImmediateDepsFor(p) {
			remainingDependents[dep]--
			if remainingDependents[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return order
}

// discoverRoot walks up from cwd toward an outer ceiling (the enclosing
// git repository's root if there is one, else the filesystem root),
// stopping at the first ancestor (inclusive of the ceiling) that contains
// a package.json.
func discoverRoot(cwd string) (string, error) {
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return "", errors.Wrapf(err, "resolving %s", cwd)
	}

	ceiling := findCeiling(abs)

	dir := abs
	for {
		if isFile(filepath.Join(dir, "package.json")) {
			return dir, nil
		}
		if dir == ceiling {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.Errorf("no package.json found between %s and %s", abs, ceiling)
}

// findCeiling returns the outermost directory discoverRoot is allowed to
// search: the git repository root containing start, or the filesystem root
// if start is not inside a git repository.
func findCeiling(start string) string {
	dir := start
	for {
		if isDir(filepath.Join(dir, ".git")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// StartProcess resolves script to an executable (the name "pnpm" resolves
// to the workspace's global package-manager path; anything else resolves
// under <root>/node_modules/.bin) and spawns it with dir as its working
// directory. The returned Process is appended to the workspace's process
// list so the renderer can observe it.
func (w *Workspace) StartProcess(ctx context.Context, dir string, script string, args []string, env []string) (*process.Process, error) {
	exe, err := w.resolveExecutable(script)
	if err != nil {
		return nil, err
	}
	proc, err := process.Spawn(ctx, dir, append([]string{exe}, args...), env, w.logger, process.DefaultCapacity)
	if err != nil {
		return nil, err
	}
	w.processesMu.Lock()
	w.processes = append(w.processes, proc)
	w.processesMu.Unlock()
	return proc, nil
}

// Exec starts script and blocks until it exits successfully, returning an
// error naming the script on non-zero exit or signal termination.
func (w *Workspace) Exec(ctx context.Context, dir string, script string, args []string, env []string) error {
	proc, err := w.StartProcess(ctx, dir, script, args, env)
	if err != nil {
		return err
	}
	return proc.WaitForSuccess()
}

func (w *Workspace) resolveExecutable(script string) (string, error) {
	if script == "pnpm" {
		if _, err := os.Stat(w.pnpmPath); err != nil {
			return "", errors.Wrapf(err, "pnpm not found at %s; run `depot setup`", w.pnpmPath)
		}
		return w.pnpmPath, nil
	}
	exe := filepath.Join(w.Root, "node_modules", ".bin", script)
	if _, err := os.Stat(exe); err != nil {
		return "", errors.Wrapf(err, "%s not found at %s; run `depot init`", script, exe)
	}
	return exe, nil
}

// Processes returns a snapshot of the workspace-scoped (not per-package)
// processes spawned so far.
func (w *Workspace) Processes() []*process.Process {
	w.processesMu.RLock()
	defer w.processesMu.RUnlock()
	return append([]*process.Process(nil), w.processes...)
}

// PackageByName looks up a workspace member by its manifest name.
func (w *Workspace) PackageByName(name string) (*Package, bool) {
	for _, p := range w.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// SaveFingerprints persists the workspace's fingerprint store, unless the
// root command is clean: recording fresh stamps for a tree that was just
// deleted would make the next build skip work it has to do.
func (w *Workspace) SaveFingerprints(rootCommandName string) error {
	if rootCommandName == "clean" {
		return nil
	}
	return w.Fingerprints.Save(w.Root)
}

// DisplayName returns the base name of the workspace root directory, for
// monorepos and single-package workspaces alike.
func (w *Workspace) DisplayName() string {
	if w.Monorepo {
		return filepath.Base(w.Root)
	}
	return strings.TrimSuffix(filepath.Base(w.Root), "/")
}
