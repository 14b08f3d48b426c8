package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/depot-build/depot/internal/command"
	"github.com/depot-build/depot/internal/workspace"
)

// Clean removes auto-generated outputs: each package's dist/ and
// node_modules/, plus the workspace root's node_modules/. It runs at both
// scopes so the per-package deletions parallelize; on a non-monorepo layout
// only the package-scope task is emitted (the two scopes would race on the
// same directory) and it covers the whole cleanup.
type Clean struct {
	command.Base
	Logger hclog.Logger
}

// NewClean returns the clean command.
func NewClean(logger hclog.Logger) *Clean {
	return &Clean{Logger: logger.Named("clean")}
}

func (c *Clean) Name() string             { return "clean" }
func (c *Clean) Variant() command.Variant { return command.Both }

// RunPackage removes pkg's dist/ and node_modules/.
func (c *Clean) RunPackage(ctx context.Context, pkg *workspace.Package) error {
	return removeAll(
		filepath.Join(pkg.Root, "dist"),
		filepath.Join(pkg.Root, "node_modules"),
	)
}

// RunWorkspace removes the workspace root's node_modules/, which also
// discards the fingerprint store kept inside it.
func (c *Clean) RunWorkspace(ctx context.Context, ws *workspace.Workspace) error {
	return removeAll(filepath.Join(ws.Root, "node_modules"))
}

// InputFiles: clean is never skippable.
func (c *Clean) InputFiles(ws *workspace.Workspace) ([]string, bool) {
	return nil, false
}

func removeAll(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return errors.Wrapf(err, "removing %s", dir)
		}
	}
	return nil
}
