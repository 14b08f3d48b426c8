// Package cmd holds the root cobra command for depot and the wiring from
// CLI flags to the concrete commands the engine runs.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/depot-build/depot/internal/commands"
	"github.com/depot-build/depot/internal/signals"
	"github.com/depot-build/depot/internal/ui"
	"github.com/depot-build/depot/internal/workspace"
)

// RunWithArgs runs depot with the specified arguments. The arguments
// should not include the binary being invoked (e.g. "depot").
func RunWithArgs(args []string, version string) int {
	signalWatcher := signals.NewWatcher()
	helper := NewHelper(version)
	root := getCmd(helper, signalWatcher)
	root.SetArgs(args)

	doneCh := make(chan struct{})
	var execErr error
	go func() {
		execErr = root.Execute()
		close(doneCh)
	}()

	// Wait for either our command to finish, in which case we need to clean
	// up, or to receive a signal, in which case the signal handler above
	// does the cleanup.
	select {
	case <-doneCh:
		signalWatcher.Close()
		if execErr != nil {
			printError(helper, execErr)
			return 1
		}
		return 0
	case <-signalWatcher.Done():
		return 1
	}
}

func printError(helper *Helper, err error) {
	if helper.Verbosity > 0 {
		helper.UI.Error(fmt.Sprintf("%s %+v", ui.ErrorPrefix, err))
	} else {
		helper.UI.Error(fmt.Sprintf("%s %s", ui.ErrorPrefix, err))
	}
}

// extraArgs returns the arguments after "--", which the init, test, doc,
// fmt, and fix subcommands forward verbatim to the tool they wrap.
func extraArgs(cmd *cobra.Command, args []string) []string {
	if at := cmd.ArgsLenAtDash(); at >= 0 {
		return args[at:]
	}
	return nil
}

// getCmd returns the root cobra command.
func getCmd(helper *Helper, signalWatcher *signals.Watcher) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "depot",
		Short:         "A JS/TS workspace driver",
		Version:       helper.DepotVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	helper.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(newCmd(helper))
	cmd.AddCommand(initCmd(helper, signalWatcher))
	cmd.AddCommand(buildCmd(helper, signalWatcher))
	cmd.AddCommand(testCmd(helper, signalWatcher))
	cmd.AddCommand(cleanCmd(helper, signalWatcher))
	cmd.AddCommand(docCmd(helper, signalWatcher))
	cmd.AddCommand(fmtCmd(helper, signalWatcher))
	cmd.AddCommand(fixCmd(helper, signalWatcher))
	cmd.AddCommand(setupCmd(helper))
	return cmd
}

func buildCmd(helper *Helper, signalWatcher *signals.Watcher) *cobra.Command {
	var args commands.BuildArgs
	cmd := &cobra.Command{
		Use:     "build",
		Aliases: []string{"b"},
		Short:   "Check and build packages",
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			logger, err := helper.Logger()
			if err != nil {
				return err
			}
			return helper.RunEngine(commands.NewBuild(args, logger), signalWatcher)
		},
	}
	flags := cmd.Flags()
	flags.BoolVarP(&args.Release, "release", "r", false, "build in release mode")
	flags.BoolVarP(&args.Watch, "watch", "w", false, "rebuild when files change")
	flags.BoolVarP(&args.LintFail, "lint-fail", "l", false, "fail if eslint finds a lint issue")
	return cmd
}

func testCmd(helper *Helper, signalWatcher *signals.Watcher) *cobra.Command {
	var args commands.TestArgs
	cmd := &cobra.Command{
		Use:     "test [-- vitest args...]",
		Aliases: []string{"t"},
		Short:   "Run tests via vitest",
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			logger, err := helper.Logger()
			if err != nil {
				return err
			}
			args.VitestArgs = extraArgs(cmd, cmdArgs)
			return helper.RunEngine(commands.NewTest(args, logger), signalWatcher)
		},
	}
	cmd.Flags().BoolVarP(&args.Watch, "watch", "w", false, "rerun tests when files change")
	return cmd
}

func initCmd(helper *Helper, signalWatcher *signals.Watcher) *cobra.Command {
	var args commands.InitArgs
	cmd := &cobra.Command{
		Use:   "init [-- pnpm args...]",
		Short: "Install workspace dependencies",
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			logger, err := helper.Logger()
			if err != nil {
				return err
			}
			args.PnpmArgs = extraArgs(cmd, cmdArgs)
			return helper.RunEngine(commands.NewInit(args, logger), signalWatcher)
		},
	}
	cmd.Flags().BoolVar(&args.Offline, "offline", false, "don't attempt to download packages from the web")
	return cmd
}

func cleanCmd(helper *Helper, signalWatcher *signals.Watcher) *cobra.Command {
	return &cobra.Command{
		Use:     "clean",
		Aliases: []string{"c"},
		Short:   "Remove auto-generated files",
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			logger, err := helper.Logger()
			if err != nil {
				return err
			}
			return helper.RunEngine(commands.NewClean(logger), signalWatcher)
		},
	}
}

func docCmd(helper *Helper, signalWatcher *signals.Watcher) *cobra.Command {
	var args commands.DocArgs
	return &cobra.Command{
		Use:     "doc [-- typedoc args...]",
		Aliases: []string{"d"},
		Short:   "Generate documentation with typedoc",
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			logger, err := helper.Logger()
			if err != nil {
				return err
			}
			args.TypedocArgs = extraArgs(cmd, cmdArgs)
			return helper.RunEngine(commands.NewDoc(args, logger), signalWatcher)
		},
	}
}

func fmtCmd(helper *Helper, signalWatcher *signals.Watcher) *cobra.Command {
	var args commands.FmtArgs
	cmd := &cobra.Command{
		Use:   "fmt [-- biome args...]",
		Short: "Format source files with biome",
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			logger, err := helper.Logger()
			if err != nil {
				return err
			}
			args.ExtraArgs = extraArgs(cmd, cmdArgs)
			return helper.RunEngine(commands.NewFmt(args, logger), signalWatcher)
		},
	}
	cmd.Flags().BoolVarP(&args.Check, "check", "c", false, "fail on unformatted files instead of rewriting them")
	return cmd
}

func fixCmd(helper *Helper, signalWatcher *signals.Watcher) *cobra.Command {
	var args commands.FixArgs
	return &cobra.Command{
		Use:   "fix [-- eslint args...]",
		Short: "Fix eslint issues where possible",
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			logger, err := helper.Logger()
			if err != nil {
				return err
			}
			args.ExtraArgs = extraArgs(cmd, cmdArgs)
			return helper.RunEngine(commands.NewFix(args, logger), signalWatcher)
		},
	}
}

func newCmd(helper *Helper) *cobra.Command {
	var args commands.NewArgs
	var target, platform string
	cmd := &cobra.Command{
		Use:     "new NAME",
		Aliases: []string{"n"},
		Short:   "Create a new depot package or workspace",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			logger, err := helper.Logger()
			if err != nil {
				return err
			}
			args.Name = cmdArgs[0]
			args.Target = workspace.Target(target)
			args.Platform = workspace.Platform(platform)

			// The new package may be created inside an existing workspace;
			// outside one the load failing is the expected case.
			var ws *workspace.Workspace
			if loaded, err := helper.LoadWorkspace(); err == nil {
				ws = loaded
			}
			return commands.NewNew(args, ws, logger).Run()
		},
	}
	flags := cmd.Flags()
	flags.BoolVarP(&args.Workspace, "workspace", "w", false, "create a workspace instead of a single package")
	flags.StringVarP(&target, "target", "t", "", "type of package (lib, site, script)")
	flags.StringVar(&platform, "platform", "", "where the package will run (browser, node)")
	flags.BoolVar(&args.React, "react", false, "add React as a project dependency")
	flags.BoolVar(&args.Sass, "sass", false, "add Sass as a project dependency")
	flags.BoolVar(&args.Vike, "vike", false, "add Vike (SSR) support; requires --react")
	flags.BoolVar(&args.Offline, "offline", false, "don't attempt to download packages from the web")
	return cmd
}

func setupCmd(helper *Helper) *cobra.Command {
	var args commands.SetupArgs
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Set up depot for use on this machine",
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			logger, err := helper.Logger()
			if err != nil {
				return err
			}
			return commands.NewSetup(args, logger).Run()
		},
	}
	cmd.Flags().StringVar(&args.ConfigDir, "config-dir", "", "directory to download pnpm into instead of DEPOT_HOME")
	return cmd
}
