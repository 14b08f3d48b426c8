// Package fingerprint tracks, per task key, the wall-clock time a task last
// finished successfully, so the runner can decide whether a task's declared
// input files have changed since then and skip re-running it if not.
package fingerprint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// fileName is where fingerprints are persisted, relative to the workspace
// root. Living under node_modules means `clean` discards it with the rest
// of the generated state.
const fileName = "node_modules/.depot-fingerprints.json"

// onDisk is the JSON envelope fingerprints are persisted under.
type onDisk struct {
	Fingerprints map[string]time.Time `json:"fingerprints"`
}

// Fingerprints is a persisted map of task key to the time that task last
// finished, used to decide whether a task can be skipped on a later run.
type Fingerprints struct {
	mu     sync.RWMutex
	times  map[string]time.Time
	logger hclog.Logger
}

// New returns an empty Fingerprints store.
func New(logger hclog.Logger) *Fingerprints {
	return &Fingerprints{
		times:  make(map[string]time.Time),
		logger: logger.Named("fingerprints"),
	}
}

// Load reads fingerprints from <root>/node_modules/.depot-fingerprints.json.
// A missing file is not an error: it simply yields an empty store, matching
// the behavior of a first-ever invocation.
func Load(root string, logger hclog.Logger) (*Fingerprints, error) {
	fp := New(logger)
	path := filepath.Join(root, fileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fp, nil
		}
		return nil, errors.Wrapf(err, "reading fingerprints from %s", path)
	}

	var d onDisk
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, errors.Wrapf(err, "parsing fingerprints at %s", path)
	}
	if d.Fingerprints != nil {
		fp.times = d.Fingerprints
	}
	return fp, nil
}

// Save persists the fingerprint store to <root>/node_modules/.depot-fingerprints.json.
func (f *Fingerprints) Save(root string) error {
	f.mu.RLock()
	raw, err := json.MarshalIndent(onDisk{Fingerprints: f.times}, "", "  ")
	f.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "marshaling fingerprints")
	}
	path := filepath.Join(root, fileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "writing fingerprints to %s", path)
	}
	return nil
}

// CanSkip reports whether key is known and none of files has a modification
// time strictly later than the time key was last recorded. A file that can
// no longer be stat'd (removed, permission denied) is logged at warn level
// and excluded from the comparison rather than forcing a rebuild. The
// stricter force-rebuild-on-error policy would be a one-line change here;
// tolerating transient stat failures keeps incremental runs usable on
// flaky network filesystems.
func (f *Fingerprints) CanSkip(key string, files []string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	stored, known := f.times[key]
	if !known {
		return false
	}
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			f.logger.Warn("could not stat input file for fingerprint comparison, skipping", "path", path, "err", err)
			continue
		}
		if info.ModTime().After(stored) {
			return false
		}
	}
	return true
}

// UpdateTime records key as having just finished, stamped with the current
// wall-clock time.
func (f *Fingerprints) UpdateTime(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.times[key] = time.Now()
}
