package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/yookoala/realpath"

	"github.com/depot-build/depot/internal/process"
)

// sourceExtensions are the file extensions counted as "source files" under
// src/ and tests/.
var sourceExtensions = map[string]bool{
	".ts":   true,
	".tsx":  true,
	".html": true,
}

// targetProbeFiles lists, in priority order, the entry-point files depot
// probes for when a package's manifest does not pin an explicit target.
var targetProbeFiles = []struct {
	rel    string
	target Target
}{
	{"src/lib.ts", TargetLib},
	{"src/lib.tsx", TargetLib},
	{"src/lib.js", TargetLib},
	{"src/main.ts", TargetScript},
	{"src/main.tsx", TargetScript},
	{"src/main.js", TargetScript},
	{"src/index.ts", TargetSite},
	{"src/index.tsx", TargetSite},
	{"src/index.js", TargetSite},
}

// Package is a single workspace member: a directory with its own manifest,
// producing one of three build shapes.
type Package struct {
	// Name is the manifest name, unique within a workspace.
	Name string
	// Root is the canonicalized absolute path to the package directory.
	Root string
	// Index is a stable integer identity within the enclosing Workspace.
	Index int

	Platform Platform
	Target   Target
	NoServer bool

	Manifest *Manifest

	wsOnce sync.Once
	ws     *Workspace

	processesMu sync.RWMutex
	processes   []*process.Process
}

// loadPackage reads the package.json at root and constructs a Package.
// Target is resolved from the manifest's depot.target if present, else
// inferred from the first matching probe file.
func loadPackage(root string, index int) (*Package, error) {
	abs, err := realpath.Realpath(root)
	if err != nil {
		return nil, errors.Wrapf(err, "canonicalizing %s", root)
	}

	manifestPath := filepath.Join(abs, "package.json")
	m, err := loadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	target := m.Target
	if !m.TargetIsSet {
		target, err = inferTarget(abs)
		if err != nil {
			return nil, err
		}
	}

	return &Package{
		Name:     m.FullName(),
		Root:     abs,
		Index:    index,
		Platform: m.Platform,
		Target:   target,
		NoServer: m.NoServer,
		Manifest: m,
	}, nil
}

func inferTarget(root string) (Target, error) {
	for _, probe := range targetProbeFiles {
		if _, err := os.Stat(filepath.Join(root, probe.rel)); err == nil {
			return probe.target, nil
		}
	}
	return "", errors.Errorf("%s: cannot infer a target; set depot.target or add one of src/lib.*, src/main.*, src/index.*", root)
}

// setWorkspace wires the Package's back-reference to its enclosing
// Workspace. It may only be called once; a second call panics, which would
// indicate a bug in Workspace.Load rather than anything a caller can
// trigger.
func (p *Package) setWorkspace(ws *Workspace) {
	called := false
	p.wsOnce.Do(func() { p.ws = ws; called = true })
	if !called {
		panic("workspace already set for package " + p.Name)
	}
}

// Workspace returns the enclosing Workspace.
func (p *Package) Workspace() *Workspace { return p.ws }

// addProcess attributes a live child process to this package.
func (p *Package) addProcess(proc *process.Process) {
	p.processesMu.Lock()
	defer p.processesMu.Unlock()
	p.processes = append(p.processes, proc)
}

// StartProcess spawns script with the package root as its working
// directory, resolving the executable the same way Workspace.StartProcess
// does, and attributes the process to this package rather than the
// workspace.
func (p *Package) StartProcess(ctx context.Context, script string, args []string, env []string) (*process.Process, error) {
	exe, err := p.ws.resolveExecutable(script)
	if err != nil {
		return nil, err
	}
	proc, err := process.Spawn(ctx, p.Root, append([]string{exe}, args...), env, p.ws.logger, process.DefaultCapacity)
	if err != nil {
		return nil, err
	}
	p.addProcess(proc)
	return proc, nil
}

// Exec starts script in the package root and blocks until it exits
// successfully.
func (p *Package) Exec(ctx context.Context, script string, args []string, env []string) error {
	proc, err := p.StartProcess(ctx, script, args, env)
	if err != nil {
		return err
	}
	return proc.WaitForSuccess()
}

// Processes returns a snapshot of this package's currently attributed
// processes, live and finished alike.
func (p *Package) Processes() []*process.Process {
	p.processesMu.RLock()
	defer p.processesMu.RUnlock()
	return append([]*process.Process(nil), p.processes...)
}

func (p *Package) ignoreMatchers() (*gitignore.GitIgnore, *gitignore.GitIgnore) {
	root := safeCompileIgnoreFile(filepath.Join(p.ws.Root, ".gitignore"))
	local := safeCompileIgnoreFile(filepath.Join(p.Root, ".gitignore"))
	return root, local
}

func safeCompileIgnoreFile(path string) *gitignore.GitIgnore {
	if _, err := os.Stat(path); err != nil {
		return gitignore.CompileIgnoreLines()
	}
	ign, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		return gitignore.CompileIgnoreLines()
	}
	return ign
}

// walk enumerates every regular file under dir, skipping anything matched
// by either ignore matcher, and calling keep to decide whether to include
// it in the result.
func (p *Package) walk(dir string, keep func(path string) bool) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "stat %s", dir)
	}

	rootIgnore, localIgnore := p.ignoreMatchers()

	var out []string
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if de.Name() == "node_modules" || de.Name() == "dist" {
					return filepath.SkipDir
				}
				return nil
			}
			if rootIgnore.MatchesPath(path) || localIgnore.MatchesPath(path) {
				return nil
			}
			if keep(path) {
				out = append(out, path)
			}
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", dir)
	}
	sort.Strings(out)
	return out, nil
}

// SourceFiles returns every .ts/.tsx/.html file under src/ and tests/,
// honoring .gitignore.
func (p *Package) SourceFiles() ([]string, error) {
	var out []string
	for _, sub := range []string{"src", "tests"} {
		files, err := p.walk(filepath.Join(p.Root, sub), func(path string) bool {
			return sourceExtensions[filepath.Ext(path)]
		})
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	sort.Strings(out)
	return out, nil
}

// AssetFiles returns every non-code file under src/, honoring .gitignore.
func (p *Package) AssetFiles() ([]string, error) {
	return p.walk(filepath.Join(p.Root, "src"), func(path string) bool {
		return !sourceExtensions[filepath.Ext(path)]
	})
}

// AllFiles returns every file under src/, code or asset, honoring
// .gitignore. This is the input set input-file-governed commands such as
// build use for fingerprinting.
func (p *Package) AllFiles() ([]string, error) {
	return p.walk(filepath.Join(p.Root, "src"), func(string) bool { return true })
}
