package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/depot-build/depot/internal/command"
	"github.com/depot-build/depot/internal/workspace"
)

// InitArgs carries the init command's flags.
type InitArgs struct {
	// Offline tells pnpm not to hit the network.
	Offline bool
	// PnpmArgs are forwarded verbatim to pnpm install.
	PnpmArgs []string
}

// Init installs the workspace's npm dependencies via pnpm.
type Init struct {
	command.Base
	Args   InitArgs
	Logger hclog.Logger
}

// NewInit returns the init command.
func NewInit(args InitArgs, logger hclog.Logger) *Init {
	return &Init{Args: args, Logger: logger.Named("init")}
}

func (i *Init) Name() string             { return "init" }
func (i *Init) Variant() command.Variant { return command.WorkspaceScope }

// RunWorkspace runs pnpm install in the workspace root.
func (i *Init) RunWorkspace(ctx context.Context, ws *workspace.Workspace) error {
	args := []string{"install"}
	if i.Args.Offline {
		args = append(args, "--offline")
	}
	args = append(args, i.Args.PnpmArgs...)
	return ws.Exec(ctx, ws.Root, "pnpm", args, nil)
}

// InputFiles makes init skippable when every package and the workspace
// root already have a node_modules directory: in that case the install only
// needs to re-run if some package.json changed. A missing node_modules
// anywhere means the install must run regardless of manifests, so the task
// is not skippable.
func (i *Init) InputFiles(ws *workspace.Workspace) ([]string, bool) {
	roots := make([]string, 0, len(ws.Packages)+1)
	for _, pkg := range ws.Packages {
		roots = append(roots, pkg.Root)
	}
	roots = append(roots, ws.Root)

	manifests := make([]string, 0, len(roots))
	for _, root := range roots {
		if _, err := os.Stat(filepath.Join(root, "node_modules")); err != nil {
			return nil, false
		}
		manifests = append(manifests, filepath.Join(root, "package.json"))
	}
	return manifests, true
}
