package commands

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/depot-build/depot/internal/command"
	"github.com/depot-build/depot/internal/workspace"
)

// FmtArgs carries the fmt command's flags.
type FmtArgs struct {
	// Check fails on unformatted files instead of rewriting them.
	Check bool
	// ExtraArgs are forwarded verbatim to the formatter.
	ExtraArgs []string
}

// Fmt formats every package's source files with biome.
type Fmt struct {
	command.Base
	Args   FmtArgs
	Logger hclog.Logger
}

// NewFmt returns the fmt command.
func NewFmt(args FmtArgs, logger hclog.Logger) *Fmt {
	return &Fmt{Args: args, Logger: logger.Named("fmt")}
}

func (f *Fmt) Name() string             { return "fmt" }
func (f *Fmt) Variant() command.Variant { return command.PackageScope }

// RunPackage formats pkg's source files in place (or checks them with
// --check).
func (f *Fmt) RunPackage(ctx context.Context, pkg *workspace.Package) error {
	sources, err := pkg.SourceFiles()
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return nil
	}

	args := []string{"format"}
	if !f.Args.Check {
		args = append(args, "--write")
	}
	args = append(args, sources...)
	args = append(args, f.Args.ExtraArgs...)
	return pkg.Exec(ctx, "biome", args, nil)
}
