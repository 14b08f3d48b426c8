package commands

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/depot-build/depot/internal/command"
	"github.com/depot-build/depot/internal/workspace"
)

// FixArgs carries the fix command's flags.
type FixArgs struct {
	// ExtraArgs are forwarded verbatim to eslint.
	ExtraArgs []string
}

// Fix runs eslint --fix over every package's source files. Remaining lint
// findings are not an error: the command's job is to apply the automatic
// fixes, not to gate on what it couldn't fix.
type Fix struct {
	command.Base
	Args   FixArgs
	Logger hclog.Logger
}

// NewFix returns the fix command.
func NewFix(args FixArgs, logger hclog.Logger) *Fix {
	return &Fix{Args: args, Logger: logger.Named("fix")}
}

func (f *Fix) Name() string             { return "fix" }
func (f *Fix) Variant() command.Variant { return command.PackageScope }

// RunPackage applies eslint's automatic fixes to pkg's source files.
func (f *Fix) RunPackage(ctx context.Context, pkg *workspace.Package) error {
	sources, err := pkg.SourceFiles()
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return nil
	}

	args := append([]string{"--fix"}, sources...)
	args = append(args, f.Args.ExtraArgs...)
	if err := pkg.Exec(ctx, "eslint", args, nil); err != nil {
		f.Logger.Debug("eslint reported unfixable issues", "pkg", pkg.Name, "err", err)
	}
	return nil
}
