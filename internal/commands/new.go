package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/depot-build/depot/internal/config"
	"github.com/depot-build/depot/internal/ui"
	"github.com/depot-build/depot/internal/workspace"
)

const reactIndex = `import React from "react";
import ReactDOM from "react-dom/client";

let App = () => {
  return <h1>Hello world!</h1>;
};

ReactDOM.createRoot(document.getElementById("root")!).render(<App />);
`

const basicIndex = `let root = document.getElementById("root")!;
root.innerHTML = "<h1>Hello world!</h1>";
`

const mainSrc = `console.log("Hello world!");
`

const libSrc = `/** Adds two numbers together */
export function add(a: number, b: number) {
  return a + b;
}
`

const libTest = `import { expect, test } from "vitest";

import { add } from "../src/lib";

test("add", () => expect(add(2, 2)).toBe(4));
`

const cssSrc = `@import "normalize.css/normalize.css";
`

const pnpmWorkspaceYaml = `packages:
  - "packages/*"
`

const prettierConfig = `module.exports = {
  plugins: [require.resolve("@trivago/prettier-plugin-sort-imports")],
  importOrder: ["^[^./]", "^[./]"],
  importOrderSeparation: true,
  importOrderSortSpecifiers: true,
};
`

// NewArgs carries the new command's flags.
type NewArgs struct {
	Name      string
	Workspace bool
	Target    workspace.Target
	Platform  workspace.Platform
	React     bool
	Sass      bool
	Vike      bool
	Offline   bool
}

// New scaffolds a fresh depot package or workspace. Like setup, it runs
// standalone: there is no task graph until the workspace it creates exists.
type New struct {
	Args   NewArgs
	Logger hclog.Logger

	// insideWorkspace is set when the cwd already belongs to a depot
	// workspace, in which case the new package is placed under packages/.
	insideWorkspace *workspace.Workspace
}

// NewNew returns the new command. ws is the enclosing workspace if the
// current directory is inside one, else nil.
func NewNew(args NewArgs, ws *workspace.Workspace, logger hclog.Logger) *New {
	return &New{Args: args, Logger: logger.Named("new"), insideWorkspace: ws}
}

// Run validates the arguments, fills unset ones interactively when stdin is
// a terminal, writes the scaffold, and installs the dev-dependencies.
func (n *New) Run() error {
	if n.Args.Vike && !n.Args.React {
		return errors.New("--vike requires --react")
	}
	if n.Args.Workspace && n.insideWorkspace != nil {
		return errors.Errorf("cannot create a workspace inside the existing workspace at %s", n.insideWorkspace.Root)
	}
	if err := n.prompt(); err != nil {
		return err
	}
	if n.Args.Target == workspace.TargetSite && n.Args.Platform != workspace.PlatformBrowser {
		return errors.New("must have platform=browser when target=site")
	}

	_, local, err := workspace.SplitName(n.Args.Name)
	if err != nil {
		return err
	}

	var root string
	if n.insideWorkspace != nil && !n.Args.Workspace {
		root = filepath.Join(n.insideWorkspace.Root, "packages", local)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return errors.Wrap(err, "resolving cwd")
		}
		root = filepath.Join(cwd, local)
	}
	if _, err := os.Stat(root); err == nil {
		return errors.Errorf("%s already exists", root)
	}

	if n.Args.Workspace {
		err = n.newWorkspace(root)
	} else {
		err = n.newPackage(root)
	}
	if err != nil {
		return err
	}

	fmt.Println(ui.Bold("created ") + root)
	return nil
}

// prompt fills in target and platform interactively when they weren't
// given on the command line and stdin is a terminal; otherwise the
// defaults (lib, browser) apply.
func (n *New) prompt() error {
	if n.Args.Workspace {
		return nil
	}
	if !ui.IsTTY {
		n.applyDefaults()
		return nil
	}

	if n.Args.Target == "" {
		var target string
		err := survey.AskOne(&survey.Select{
			Message: "Type of package:",
			Options: []string{string(workspace.TargetLib), string(workspace.TargetSite), string(workspace.TargetScript)},
			Default: string(workspace.TargetLib),
		}, &target)
		if err != nil {
			return errors.Wrap(err, "reading target")
		}
		n.Args.Target = workspace.Target(target)
	}

	if n.Args.Platform == "" {
		var platform string
		err := survey.AskOne(&survey.Select{
			Message: "Where the package will run:",
			Options: []string{string(workspace.PlatformBrowser), string(workspace.PlatformNode)},
			Default: string(workspace.PlatformBrowser),
		}, &platform)
		if err != nil {
			return errors.Wrap(err, "reading platform")
		}
		n.Args.Platform = workspace.Platform(platform)
	}
	return nil
}

func (n *New) applyDefaults() {
	if n.Args.Target == "" {
		n.Args.Target = workspace.TargetLib
	}
	if n.Args.Platform == "" {
		n.Args.Platform = workspace.PlatformBrowser
	}
}

func (n *New) newWorkspace(root string) error {
	if err := os.MkdirAll(filepath.Join(root, "packages"), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", root)
	}

	manifest := map[string]any{
		"private": true,
		// Workaround for platform-specific rollup packages failing to
		// install under pnpm; the Wasm build sidesteps it.
		"pnpm": map[string]any{
			"overrides": map[string]any{"rollup": "npm:@rollup/wasm-node"},
		},
	}

	files := map[string]string{
		"pnpm-workspace.yaml": pnpmWorkspaceYaml,
		".prettierrc.cjs":     prettierConfig,
		".gitignore":          "node_modules\ndist\ndocs",
		"tsconfig.json":       n.tsconfigJSON(true),
		".eslintrc.cjs":       n.eslintConfig(true),
		"typedoc.json":        n.typedocJSON(true),
	}
	if err := writeJSON(filepath.Join(root, "package.json"), manifest); err != nil {
		return err
	}
	for rel, contents := range files {
		if err := writeFile(filepath.Join(root, rel), contents); err != nil {
			return err
		}
	}

	return n.installDevDependencies(root, true)
}

func (n *New) newPackage(root string) error {
	for _, sub := range []string{"src", "tests"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", root)
		}
	}

	manifest := map[string]any{
		"name":    n.Args.Name,
		"version": "0.1.0",
		"type":    "module",
		"depot": map[string]any{
			"platform": string(n.Args.Platform),
			"target":   string(n.Args.Target),
		},
		"pnpm": map[string]any{
			"overrides": map[string]any{"rollup": "npm:@rollup/wasm-node"},
		},
	}

	files := map[string]string{
		"tsconfig.json": n.tsconfigJSON(false),
		".eslintrc.cjs": n.eslintConfig(false),
	}
	if n.insideWorkspace == nil {
		files[".prettierrc.cjs"] = prettierConfig
		files[".gitignore"] = "node_modules\ndist\ndocs"
		files["typedoc.json"] = n.typedocJSON(false)
	}

	switch n.Args.Target {
	case workspace.TargetLib:
		manifest["main"] = "dist/lib.js"
		manifest["files"] = []string{"dist"}
		files["src/lib.ts"] = libSrc
		files["tests/add.test.ts"] = libTest
	case workspace.TargetScript:
		if n.Args.React {
			files["src/main.tsx"] = mainSrc
		} else {
			files["src/main.ts"] = mainSrc
		}
	case workspace.TargetSite:
		jsPath, jsContents := "index.ts", basicIndex
		if n.Args.React {
			jsPath, jsContents = "index.tsx", reactIndex
		}
		cssPath := "index.css"
		if n.Args.Sass {
			cssPath = "index.scss"
		}
		files["src/"+jsPath] = jsContents
		files["styles/"+cssPath] = cssSrc
		files["index.html"] = indexHTML(jsPath, cssPath)
	}

	if err := writeJSON(filepath.Join(root, "package.json"), manifest); err != nil {
		return err
	}
	for rel, contents := range files {
		if err := writeFile(filepath.Join(root, rel), contents); err != nil {
			return err
		}
	}

	if n.insideWorkspace != nil {
		return n.installPackageDependencies(root)
	}
	if err := n.installDevDependencies(root, false); err != nil {
		return err
	}
	return n.installPackageDependencies(root)
}

func (n *New) tsconfigJSON(isWorkspaceRoot bool) string {
	compilerOptions := map[string]any{
		// Makes tsc respect "exports" directives in package.json and
		// generate ESM syntax outputs.
		"moduleResolution": "bundler",
		"target":           "es2022",
		"declaration":      true,
		"allowJs":          true,
		"skipLibCheck":     true,
		"strict":           true,
	}
	if n.Args.React {
		compilerOptions["jsx"] = "react"
	}

	cfg := map[string]any{"compilerOptions": compilerOptions}
	if !isWorkspaceRoot {
		if n.insideWorkspace != nil {
			// A package inside a workspace inherits the base options.
			compilerOptions = map[string]any{}
			cfg = map[string]any{"extends": "../../tsconfig.json", "compilerOptions": compilerOptions}
		}
		cfg["include"] = []string{"src"}
		if n.Args.Target == workspace.TargetLib {
			compilerOptions["outDir"] = "dist"
		} else {
			compilerOptions["noEmit"] = true
		}
		if n.Args.Platform == workspace.PlatformBrowser {
			// Allows special Vite things like importing files with ?raw.
			compilerOptions["types"] = []string{"vite/client"}
		}
	}

	raw, _ := json.MarshalIndent(cfg, "", "  ")
	return string(raw)
}

func (n *New) eslintConfig(isWorkspaceRoot bool) string {
	var cfg map[string]any
	if !isWorkspaceRoot && n.insideWorkspace != nil {
		cfg = map[string]any{
			"extends": "../../.eslintrc.cjs",
			"env":     map[string]any{string(n.Args.Platform): true},
		}
	} else {
		cfg = map[string]any{
			"env":     map[string]any{"es2021": true},
			"extends": []string{"eslint:recommended"},
			"parser":  "@typescript-eslint/parser",
			"parserOptions": map[string]any{
				"ecmaVersion": 13,
				"sourceType":  "module",
			},
			"plugins":        []string{"@typescript-eslint", "prettier"},
			"ignorePatterns": []string{"*.d.ts"},
			"rules": map[string]any{
				"no-empty-pattern":  "off",
				"no-undef":          "off",
				"no-unused-vars":    "off",
				"prettier/prettier": "error",
			},
		}
	}
	if n.Args.React {
		cfg["settings"] = map[string]any{"react": map[string]any{"version": "detect"}}
	}

	raw, _ := json.MarshalIndent(cfg, "", "  ")
	return "module.exports = " + string(raw)
}

func (n *New) typedocJSON(isWorkspaceRoot bool) string {
	cfg := map[string]any{
		"name": n.Args.Name,
		"validation": map[string]any{
			"invalidLink": true,
			"notExported": true,
		},
	}
	if isWorkspaceRoot {
		cfg["entryPointStrategy"] = "packages"
		cfg["entryPoints"] = []string{}
	} else {
		cfg["entryPoints"] = []string{"src/lib.ts"}
	}
	raw, _ := json.MarshalIndent(cfg, "", "  ")
	return string(raw)
}

func indexHTML(jsEntry, cssEntry string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <link href="/styles/%s" rel="stylesheet" type="text/css" />
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/%s"></script>
  </body>
</html>`, cssEntry, jsEntry)
}

// installDevDependencies adds the shared tool-chain (vite, vitest, tsc,
// eslint, prettier, typedoc) as dev-dependencies of root: a new workspace's
// root, or a standalone package's own directory.
func (n *New) installDevDependencies(root string, isWorkspace bool) error {
	deps := []string{
		"vite",
		"vitest",
		"typescript",
		"@types/node",
		"eslint",
		"@typescript-eslint/eslint-plugin",
		"@typescript-eslint/parser",
		"eslint-plugin-prettier@^4",
		"prettier@^2",
		"@trivago/prettier-plugin-sort-imports@^4.1",
		"typedoc",
	}
	if n.Args.React {
		deps = append(deps, "eslint-plugin-react", "eslint-plugin-react-hooks")
	}

	args := append([]string{"add", "--save-dev"}, deps...)
	if isWorkspace {
		args = append(args, "--workspace-root")
	}
	return n.runPnpm(root, args)
}

// installPackageDependencies adds the per-package dependencies implied by
// the chosen target, platform, and framework flags.
func (n *New) installPackageDependencies(root string) error {
	var deps []string
	if n.Args.Platform == workspace.PlatformBrowser {
		deps = append(deps, "jsdom")
	}
	if n.Args.React {
		deps = append(deps,
			"react", "react-dom", "@types/react", "@types/react-dom",
			"@vitejs/plugin-react", "@testing-library/react")
	}
	if n.Args.Vike {
		deps = append(deps, "vike")
	}
	if n.Args.Sass {
		deps = append(deps, "sass")
	}
	if n.Args.Target == workspace.TargetSite {
		deps = append(deps, "normalize.css")
	}
	if len(deps) == 0 {
		return nil
	}
	return n.runPnpm(root, append([]string{"add", "--save-dev"}, deps...))
}

func (n *New) runPnpm(dir string, args []string) error {
	pnpmPath, err := config.PnpmPath()
	if err != nil {
		return err
	}
	if n.Args.Offline {
		args = append(args, "--offline")
	}

	cmd := exec.Command(pnpmPath, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrap(err, "pnpm failed")
	}
	return nil
}

func writeFile(path, contents string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

func writeJSON(path string, doc any) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshaling %s", path)
	}
	return writeFile(path, string(raw))
}
