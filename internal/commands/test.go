package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/depot-build/depot/internal/command"
	"github.com/depot-build/depot/internal/workspace"
)

// TestArgs carries the test command's flags.
type TestArgs struct {
	// Watch reruns tests when files change.
	Watch bool
	// VitestArgs are forwarded verbatim to vitest.
	VitestArgs []string
}

// Test runs vitest in every package that has a tests/ directory.
type Test struct {
	command.Base
	Args   TestArgs
	Logger hclog.Logger
}

// NewTest returns the test command.
func NewTest(args TestArgs, logger hclog.Logger) *Test {
	return &Test{Args: args, Logger: logger.Named("test")}
}

func (t *Test) Name() string             { return "test" }
func (t *Test) Variant() command.Variant { return command.PackageScope }

func (t *Test) Deps() []command.Command {
	return []command.Command{NewBuild(BuildArgs{}, t.Logger)}
}

func (t *Test) Runtime() command.Runtime {
	if t.Args.Watch {
		return command.RunForever
	}
	return command.WaitForDependencies
}

// RunPackage runs vitest for pkg; packages without a tests/ directory are
// a silent no-op.
func (t *Test) RunPackage(ctx context.Context, pkg *workspace.Package) error {
	if _, err := os.Stat(filepath.Join(pkg.Root, "tests")); err != nil {
		return nil
	}

	subcmd := "run"
	if t.Args.Watch {
		subcmd = "watch"
	}
	args := append([]string{subcmd, "--passWithNoTests"}, t.Args.VitestArgs...)
	return pkg.Exec(ctx, "vitest", args, nil)
}
