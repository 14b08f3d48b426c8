package workspace

import (
	"encoding/json"
	"os"
	"regexp"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"
)

// Platform is the execution environment a package targets.
type Platform string

const (
	PlatformBrowser Platform = "browser"
	PlatformNode    Platform = "node"
)

// Target is the build shape of a package.
type Target string

const (
	TargetLib    Target = "lib"
	TargetSite   Target = "site"
	TargetScript Target = "script"
)

// nameRE matches the two manifest name shapes: "@scope/name" or "name".
var nameRE = regexp.MustCompile(`^(?:@(?P<scope>[^/]+)/)?(?P<name>[^/]+)$`)

// depotBlock is the `depot` key of a package.json, carrying depot's own
// configuration inline with npm's.
type depotBlock struct {
	Platform     string `json:"platform"`
	Target       string `json:"target,omitempty"`
	NoServer     bool   `json:"no-server,omitempty"`
	DepotVersion string `json:"depot-version,omitempty"`
}

// pnpmBlock surfaces the subset of a manifest's `pnpm` key depot reads:
// its overrides. They are parsed and exposed, but no command acts on them.
type pnpmBlock struct {
	Overrides map[string]string `json:"overrides,omitempty"`
}

// manifestJSON is the on-disk shape of a package.json as depot reads it.
// Unrecognized fields are ignored; depot is not a package manager and does
// not round-trip the manifest.
type manifestJSON struct {
	Name             string            `json:"name"`
	Dependencies     map[string]string `json:"dependencies,omitempty"`
	DevDependencies  map[string]string `json:"devDependencies,omitempty"`
	PeerDependencies map[string]string `json:"peerDependencies,omitempty"`
	Depot            *depotBlock       `json:"depot,omitempty"`
	Pnpm             *pnpmBlock        `json:"pnpm,omitempty"`
}

// Manifest is the parsed, depot-relevant subset of a package.json.
type Manifest struct {
	// Scope is the "@scope" part of a scoped name, without the "@"; empty
	// for a bare name.
	Scope string
	// LocalName is the name without its scope.
	LocalName string
	// Dependencies is the union of dependencies, devDependencies, and
	// peerDependencies, used when computing the inter-package graph.
	Dependencies map[string]struct{}

	Platform     Platform
	Target       Target
	TargetIsSet  bool
	NoServer     bool
	DepotVersion *semver.Version

	PnpmOverrides map[string]string
}

// FullName renders the manifest name back to its canonical form.
func (m *Manifest) FullName() string {
	if m.Scope == "" {
		return m.LocalName
	}
	return "@" + m.Scope + "/" + m.LocalName
}

// loadManifest reads and validates the package.json at path. The `depot`
// block is mandatory: a manifest lacking it cannot be used as a depot
// package, which is treated as a fatal configuration error rather than a
// package silently opted out.
func loadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading manifest %s", path)
	}
	var doc manifestJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing manifest %s", path)
	}
	if doc.Depot == nil {
		return nil, errors.Errorf("%s: missing required \"depot\" block", path)
	}

	scope, local, err := splitName(doc.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}

	m := &Manifest{
		Scope:        scope,
		LocalName:    local,
		Dependencies: unionDeps(doc.Dependencies, doc.DevDependencies, doc.PeerDependencies),
		NoServer:     doc.Depot.NoServer,
	}

	switch Platform(doc.Depot.Platform) {
	case PlatformBrowser, PlatformNode:
		m.Platform = Platform(doc.Depot.Platform)
	default:
		return nil, errors.Errorf("%s: depot.platform must be \"browser\" or \"node\", got %q", path, doc.Depot.Platform)
	}

	if doc.Depot.Target != "" {
		switch Target(doc.Depot.Target) {
		case TargetLib, TargetSite, TargetScript:
			m.Target = Target(doc.Depot.Target)
			m.TargetIsSet = true
		default:
			return nil, errors.Errorf("%s: depot.target must be lib, site, or script, got %q", path, doc.Depot.Target)
		}
	}

	if doc.Depot.DepotVersion != "" {
		v, err := semver.NewVersion(doc.Depot.DepotVersion)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: parsing depot.depot-version %q", path, doc.Depot.DepotVersion)
		}
		m.DepotVersion = v
	}

	if doc.Pnpm != nil {
		m.PnpmOverrides = doc.Pnpm.Overrides
	}

	return m, nil
}

// RootManifest is the depot-relevant subset of the workspace root's
// package.json. Unlike a package manifest, the depot block is optional
// here: a monorepo root is not itself a package and only carries the
// pinned depot-version and pnpm overrides.
type RootManifest struct {
	DepotVersion  *semver.Version
	PnpmOverrides map[string]string
}

func loadRootManifest(path string) (*RootManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading manifest %s", path)
	}
	var doc manifestJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing manifest %s", path)
	}

	m := &RootManifest{}
	if doc.Depot != nil && doc.Depot.DepotVersion != "" {
		v, err := semver.NewVersion(doc.Depot.DepotVersion)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: parsing depot.depot-version %q", path, doc.Depot.DepotVersion)
		}
		m.DepotVersion = v
	}
	if doc.Pnpm != nil {
		m.PnpmOverrides = doc.Pnpm.Overrides
	}
	return m, nil
}

// SplitName parses a manifest name of the form "@scope/name" or "name"
// into its scope (without the "@", empty for a bare name) and local name.
func SplitName(raw string) (scope, local string, err error) {
	return splitName(raw)
}

func splitName(raw string) (scope, local string, err error) {
	if raw == "" {
		return "", "", errors.New("manifest has no \"name\"")
	}
	match := nameRE.FindStringSubmatch(raw)
	if match == nil {
		return "", "", errors.Errorf("invalid package name %q", raw)
	}
	idx := nameRE.SubexpIndex("scope")
	nameIdx := nameRE.SubexpIndex("name")
	return match[idx], match[nameIdx], nil
}

func unionDeps(maps ...map[string]string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, m := range maps {
		for name := range m {
			out[name] = struct{}{}
		}
	}
	return out
}
