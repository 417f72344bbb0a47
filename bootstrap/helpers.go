package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"evtxhound/config"
	"evtxhound/core"
	"evtxhound/source"
)

// ErrNoContainers is returned when the inputs name no log container.
var ErrNoContainers = errors.New("no log containers found")

// ResolveContainers expands the scan inputs into container paths. Directories
// are walked for files with a configured extension; files are taken as
// given. Order follows the inputs, then lexical order within a directory.
func ResolveContainers(inputs []string, cfg *config.Config) ([]string, error) {
	opts := source.CollectOptions{
		Extensions: cfg.Input.Extensions,
		SkipHidden: cfg.Input.SkipHidden,
	}

	var containers []string
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
		if !info.IsDir() {
			containers = append(containers, input)
			continue
		}
		found, err := source.Collect(input, opts)
		if err != nil {
			return nil, err
		}
		containers = append(containers, found...)
	}
	if len(containers) == 0 {
		return nil, ErrNoContainers
	}
	return containers, nil
}

// WriteErrorLog writes the collected errors to a timestamped file in dir and
// returns its path. Nothing is written when the log is empty.
func WriteErrorLog(dir string, errs *core.ErrorLog, now time.Time) (string, error) {
	if errs == nil || errs.Len() == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create error log directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("errorlog-%s.log", now.Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create error log: %w", err)
	}
	if _, err := errs.WriteTo(f); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write error log: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write error log: %w", err)
	}
	return path, nil
}
