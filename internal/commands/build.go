// Package commands holds the concrete command implementations the CLI
// selects a root from: build, test, init, clean, doc, fmt, fix, plus the
// standalone setup and new commands that run outside the task graph.
package commands

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/depot-build/depot/internal/command"
	"github.com/depot-build/depot/internal/workspace"
)

// buildScript is the optional per-package escape hatch: a package carrying
// this file gets it run (via node) as part of its build.
const buildScript = "build.mjs"

// BuildArgs carries the build command's flags.
type BuildArgs struct {
	// Release builds without source maps and with minification.
	Release bool
	// Watch keeps every underlying tool running and rebuilding on change.
	Watch bool
	// LintFail promotes eslint findings to a build failure.
	LintFail bool
}

// Build type-checks, lints, and bundles (or copies assets for) every
// package in scope.
type Build struct {
	command.Base
	Args   BuildArgs
	Logger hclog.Logger
}

// NewBuild returns the build command.
func NewBuild(args BuildArgs, logger hclog.Logger) *Build {
	return &Build{Args: args, Logger: logger.Named("build")}
}

func (b *Build) Name() string             { return "build" }
func (b *Build) Variant() command.Variant { return command.PackageScope }

func (b *Build) Deps() []command.Command {
	return []command.Command{NewInit(InitArgs{}, b.Logger)}
}

func (b *Build) Runtime() command.Runtime {
	if b.Args.Watch {
		return command.RunForever
	}
	return command.WaitForDependencies
}

// RunPackage runs the per-package build pipeline: tsc and eslint always,
// vite for site/script targets, asset copying for libs, and the package's
// build.mjs if it has one. The tools run concurrently; the first failure
// wins.
func (b *Build) RunPackage(ctx context.Context, pkg *workspace.Package) error {
	g, ctx := errgroup.WithContext(ctx)

	switch pkg.Target {
	case workspace.TargetSite, workspace.TargetScript:
		g.Go(func() error { return b.vite(ctx, pkg) })
	case workspace.TargetLib:
		g.Go(func() error { return b.copyAssets(ctx, pkg) })
	}

	g.Go(func() error { return b.tsc(ctx, pkg) })
	g.Go(func() error { return b.eslint(ctx, pkg) })

	if _, err := os.Stat(filepath.Join(pkg.Root, buildScript)); err == nil {
		g.Go(func() error { return b.runBuildScript(ctx, pkg) })
	}

	return g.Wait()
}

func (b *Build) tsc(ctx context.Context, pkg *workspace.Package) error {
	args := []string{"--pretty"}
	if b.Args.Watch {
		args = append(args, "--watch")
	}
	if pkg.Target == workspace.TargetLib && !b.Args.Release {
		args = append(args, "--sourceMap")
	}
	return pkg.Exec(ctx, "tsc", args, nil)
}

func (b *Build) eslint(ctx context.Context, pkg *workspace.Package) error {
	sources, err := pkg.SourceFiles()
	if err != nil {
		return err
	}
	args := append(sources, "--color")

	proc, err := pkg.StartProcess(ctx, "eslint", args, nil)
	if err != nil {
		return err
	}
	err = proc.WaitForSuccess()
	if err != nil && b.Args.LintFail {
		return errors.Wrap(err, "eslint failed")
	}
	return nil
}

func (b *Build) vite(ctx context.Context, pkg *workspace.Package) error {
	var args []string
	if pkg.Target == workspace.TargetSite && !pkg.NoServer {
		if b.Args.Watch {
			args = []string{"dev"}
		} else {
			args = []string{"build"}
		}
	} else {
		args = []string{"build"}
		if b.Args.Watch {
			args = append(args, "--watch")
		}
		if !b.Args.Release {
			args = append(args, "--sourcemap", "true", "--minify", "false")
		}
	}
	env := append(os.Environ(), "FORCE_COLOR=1")
	return pkg.Exec(ctx, "vite", args, env)
}

func (b *Build) runBuildScript(ctx context.Context, pkg *workspace.Package) error {
	args := []string{"exec", "node", buildScript}
	if b.Args.Watch {
		args = append(args, "--watch")
	}
	if b.Args.Release {
		args = append(args, "--release")
	}
	return pkg.Exec(ctx, "pnpm", args, nil)
}

// copyAssets mirrors every non-code file under src/ into dist/, and in
// watch mode keeps mirroring as the files change.
func (b *Build) copyAssets(ctx context.Context, pkg *workspace.Package) error {
	srcDir := filepath.Join(pkg.Root, "src")
	dstDir := filepath.Join(pkg.Root, "dist")

	copyOne := func(file string) error {
		rel, err := filepath.Rel(srcDir, file)
		if err != nil {
			return errors.Wrapf(err, "relativizing %s", file)
		}
		target := filepath.Join(dstDir, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", filepath.Dir(target))
		}
		b.Logger.Debug("copying asset", "from", file, "to", target)
		return copyFile(file, target)
	}

	assets, err := pkg.AssetFiles()
	if err != nil {
		return err
	}
	for _, file := range assets {
		if err := copyOne(file); err != nil {
			return err
		}
	}

	if !b.Args.Watch {
		return nil
	}

	changes, stop, err := watchFiles(assets)
	if err != nil {
		return errors.Wrap(err, "watching asset files")
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case changed, ok := <-changes:
			if !ok {
				return nil
			}
			for _, file := range changed {
				if err := copyOne(file); err != nil {
					return err
				}
			}
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "opening %s", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "creating %s", dst)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "copying %s to %s", src, dst)
	}
	return nil
}
