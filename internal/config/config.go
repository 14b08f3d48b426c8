// Package config resolves DEPOT_HOME, the directory that holds depot's
// downloaded tool-chain (currently just pnpm), and loads/persists the
// small JSON file `setup` writes there once the tool-chain is in place.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// envHome overrides the default tool-chain directory.
const envHome = "DEPOT_HOME"

const globalConfigFileName = "global-config.json"

// GlobalConfig is the persisted state written by `depot setup` and read
// back by Load.
type GlobalConfig struct {
	// PnpmVersion is the pinned pnpm release `setup` downloaded. `setup`
	// decides whether to download by checking for the binary itself, not
	// by reading this field.
	PnpmVersion string `json:"pnpmVersion,omitempty"`
}

// Home resolves the directory holding depot's downloaded tool-chain:
// $DEPOT_HOME if set, else $HOME/.local, falling back to the XDG data
// directory if the home directory cannot be determined.
func Home() (string, error) {
	if v := os.Getenv(envHome); v != "" {
		return v, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return filepath.Join(xdg.DataHome, "depot"), nil
	}
	return filepath.Join(home, ".local"), nil
}

// PnpmPath returns the path `setup` installs the pnpm binary at, under the
// resolved DEPOT_HOME.
func PnpmPath() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "bin", "pnpm"), nil
}

// Load reads the GlobalConfig from DEPOT_HOME. A missing file yields a
// zero-value GlobalConfig rather than an error, matching the original
// tool's posture toward a tool-chain that hasn't been set up yet.
func Load() (*GlobalConfig, error) {
	home, err := Home()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(home, globalConfigFileName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &GlobalConfig{}, nil
		}
		return nil, errors.Wrapf(err, "reading global config at %s", path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "parsing global config at %s", path)
	}
	var cfg GlobalConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing global config at %s", path)
	}
	return &cfg, nil
}

// Save persists cfg under DEPOT_HOME, creating the directory if needed.
func (cfg *GlobalConfig) Save() error {
	home, err := Home()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", home)
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling global config")
	}
	path := filepath.Join(home, globalConfigFileName)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "writing global config to %s", path)
	}
	return nil
}
