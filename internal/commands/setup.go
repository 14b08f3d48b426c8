package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/briandowns/spinner"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"

	"github.com/depot-build/depot/internal/config"
)

// pnpmVersion pins the package manager depot downloads; the workspace runs
// whatever this binary installed, not whatever happens to be on PATH.
const pnpmVersion = "9.9.0"

// SetupArgs carries the setup command's flags.
type SetupArgs struct {
	// ConfigDir, when set, replaces the resolved DEPOT_HOME as the
	// directory pnpm is downloaded into (under bin/). The global config is
	// still written under DEPOT_HOME, and other commands still look for
	// pnpm under DEPOT_HOME.
	ConfigDir string
}

// Setup prepares depot for use on this machine by downloading the pnpm
// binary into DEPOT_HOME. It runs standalone, outside the task graph.
type Setup struct {
	Args   SetupArgs
	Logger hclog.Logger
}

// NewSetup returns the setup command.
func NewSetup(args SetupArgs, logger hclog.Logger) *Setup {
	return &Setup{Args: args, Logger: logger.Named("setup")}
}

// Run downloads pnpm if it isn't already installed and records the global
// config.
func (s *Setup) Run() error {
	configDir := s.Args.ConfigDir
	if configDir == "" {
		var err error
		configDir, err = config.Home()
		if err != nil {
			return err
		}
	}

	binDir := filepath.Join(configDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", binDir)
	}

	pnpmBin := "pnpm"
	if runtime.GOOS == "windows" {
		pnpmBin = "pnpm.exe"
	}
	pnpmDst := filepath.Join(binDir, pnpmBin)

	if _, err := os.Stat(pnpmDst); err == nil {
		fmt.Println("pnpm already installed, nothing to do")
		return nil
	}

	fmt.Println("Downloading pnpm from Github...")
	if err := downloadPnpm(pnpmDst, s.Logger); err != nil {
		return err
	}

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	spin.Suffix = " recording global config"
	spin.Start()
	cfg := &config.GlobalConfig{PnpmVersion: pnpmVersion}
	err := cfg.Save()
	spin.Stop()
	if err != nil {
		return err
	}

	fmt.Println("Setup complete!")
	return nil
}

func pnpmURL() string {
	platform := "linuxstatic"
	switch runtime.GOOS {
	case "darwin", "ios":
		platform = "macos"
	case "windows":
		platform = "win"
	}
	arch := "x64"
	switch runtime.GOARCH {
	case "arm", "arm64":
		arch = "arm64"
	}
	return fmt.Sprintf("https://github.com/pnpm/pnpm/releases/download/v%s/pnpm-%s-%s", pnpmVersion, platform, arch)
}

// downloadPnpm fetches the pinned pnpm release into dst. The HTTP client
// retries transient request failures on its own; the outer backoff restarts
// the whole download if the stream breaks mid-copy.
func downloadPnpm(dst string, logger hclog.Logger) error {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})

	url := pnpmURL()
	attempt := func() error {
		res, err := client.Get(url)
		if err != nil {
			return errors.Wrapf(err, "fetching %s", url)
		}
		defer res.Body.Close()
		if res.StatusCode != 200 {
			return errors.Errorf("fetching %s: status %d", url, res.StatusCode)
		}

		file, err := os.Create(dst)
		if err != nil {
			return backoff.Permanent(errors.Wrapf(err, "creating %s", dst))
		}
		defer file.Close()

		bar := progressbar.DefaultBytes(res.ContentLength, "downloading")
		if _, err := io.Copy(io.MultiWriter(file, bar), res.Body); err != nil {
			return errors.Wrap(err, "downloading pnpm")
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(attempt, policy); err != nil {
		return err
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(dst, 0o555); err != nil {
			return errors.Wrapf(err, "marking %s executable", dst)
		}
	}
	return nil
}
