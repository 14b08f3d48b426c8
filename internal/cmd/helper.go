package cmd

import (
	"context"
	"os"

	"github.com/Masterminds/semver"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/pflag"

	"github.com/depot-build/depot/internal/command"
	"github.com/depot-build/depot/internal/logging"
	"github.com/depot-build/depot/internal/renderer"
	"github.com/depot-build/depot/internal/runner"
	"github.com/depot-build/depot/internal/signals"
	"github.com/depot-build/depot/internal/taskgraph"
	"github.com/depot-build/depot/internal/ui"
	"github.com/depot-build/depot/internal/workspace"
)

// Helper carries the global flags and lazily built handles every
// subcommand shares.
type Helper struct {
	// DepotVersion is the version of the running binary.
	DepotVersion string

	// PackageName restricts package-scoped commands to one package.
	PackageName string
	// Incremental enables fingerprint-based task skipping.
	Incremental bool
	// NoFullscreen forces the inline renderer even for watch-mode runs.
	NoFullscreen bool
	// Verbosity is the repeat count of -v.
	Verbosity int

	UI *cli.ColoredUi

	logger hclog.Logger
}

// NewHelper returns a Helper for a single CLI invocation.
func NewHelper(version string) *Helper {
	return &Helper{DepotVersion: version, UI: ui.Default()}
}

// AddFlags registers the global flags on the root command's persistent
// flag set.
func (h *Helper) AddFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&h.PackageName, "package", "p", "", "restrict to a single package (and its dependencies)")
	flags.BoolVar(&h.Incremental, "incremental", false, "skip tasks whose inputs have not changed")
	flags.BoolVar(&h.NoFullscreen, "no-fullscreen", false, "never use the fullscreen renderer")
	flags.CountVarP(&h.Verbosity, "verbose", "v", "increase log verbosity (repeatable)")
}

// Logger lazily builds the invocation's root logger from the -v count.
func (h *Helper) Logger() (hclog.Logger, error) {
	if h.logger == nil {
		logger, err := logging.New(h.Verbosity)
		if err != nil {
			return nil, err
		}
		h.logger = logger
	}
	return h.logger, nil
}

// LoadWorkspace discovers and loads the workspace containing the current
// directory, warning (not failing) if its pinned depot-version disagrees
// with the running binary.
func (h *Helper) LoadWorkspace() (*workspace.Workspace, error) {
	logger, err := h.Logger()
	if err != nil {
		return nil, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	ws, err := workspace.Load(cwd, logger)
	if err != nil {
		return nil, err
	}

	if ws.DepotVersion != nil {
		if running, err := semver.NewVersion(h.DepotVersion); err == nil && !ws.DepotVersion.Equal(running) {
			h.UI.Warn("workspace pins depot " + ws.DepotVersion.String() + " but this is depot " + h.DepotVersion)
		}
	}
	return ws, nil
}

// RunEngine is the shared tail of every graph-backed subcommand: load the
// workspace, materialize the task graph for root, pick a renderer, and
// drive the runner until the graph finishes, fails, or the user interrupts.
func (h *Helper) RunEngine(root command.Command, signalWatcher *signals.Watcher) error {
	logger, err := h.Logger()
	if err != nil {
		return err
	}
	ws, err := h.LoadWorkspace()
	if err != nil {
		return err
	}

	graph, err := taskgraph.Build(ws, root, taskgraph.Options{
		PackageName: h.PackageName,
		Incremental: h.Incremental,
	})
	if err != nil {
		return err
	}

	var rend renderer.Renderer
	if h.NoFullscreen || root.Runtime() != command.RunForever || !ui.IsTTY {
		rend = renderer.NewInline(nil)
	} else {
		rend, err = renderer.NewFullscreen()
		if err != nil {
			return err
		}
	}

	r := runner.New(ws, graph, root.Name(), logger, rend)
	signalWatcher.AddOnClose(r.RequestExit)

	return r.Run(context.Background())
}
