package commands

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/depot-build/depot/internal/command"
	"github.com/depot-build/depot/internal/workspace"
)

// DocArgs carries the doc command's flags.
type DocArgs struct {
	// TypedocArgs are forwarded verbatim to typedoc.
	TypedocArgs []string
}

// Doc generates library documentation with typedoc, once for the whole
// workspace.
type Doc struct {
	command.Base
	Args   DocArgs
	Logger hclog.Logger
}

// NewDoc returns the doc command.
func NewDoc(args DocArgs, logger hclog.Logger) *Doc {
	return &Doc{Args: args, Logger: logger.Named("doc")}
}

func (d *Doc) Name() string             { return "doc" }
func (d *Doc) Variant() command.Variant { return command.WorkspaceScope }

// RunWorkspace runs typedoc in the workspace root.
func (d *Doc) RunWorkspace(ctx context.Context, ws *workspace.Workspace) error {
	return ws.Exec(ctx, ws.Root, "typedoc", d.Args.TypedocArgs, nil)
}

// InputFiles: documentation is always regenerated.
func (d *Doc) InputFiles(ws *workspace.Workspace) ([]string, bool) {
	return nil, false
}
