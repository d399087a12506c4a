package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const StateFileName = "state.yaml"

// State is the non-user bookkeeping the core keeps across runs. Unlike
// Settings it is never edited by hand.
type State struct {
	InstallID string         `yaml:"install_id"`
	Directory DirectoryState `yaml:"directory"`
}

// DirectoryState tracks the last accepted signed server-directory snapshot.
type DirectoryState struct {
	ETag     string    `yaml:"etag"`
	SyncedAt time.Time `yaml:"synced_at"`
	Servers  int       `yaml:"servers"`
}

func StatePath(dir string) string {
	return filepath.Join(dir, StateFileName)
}

func LoadState(ctx context.Context, dir string) (State, error) {
	var state State
	path := StatePath(dir)

	data, err := os.ReadFile(path)
	if err != nil {
		return state, fmt.Errorf("read state file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("parse state file %q: %w", path, err)
	}

	return state, nil
}

// SaveState creates the state file on first run. It refuses to clobber an
// existing file; use UpdateState for subsequent writes.
func SaveState(ctx context.Context, dir string, state State) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ensure state dir %q: %w", dir, err)
	}

	path := StatePath(dir)
	_, err := os.Stat(path)
	if err == nil {
		return fmt.Errorf("state file %q already exists", path)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("check state file %q: %w", path, err)
	}

	return writeState(path, state)
}

func UpdateState(ctx context.Context, dir string, state State) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ensure state dir %q: %w", dir, err)
	}
	return writeState(StatePath(dir), state)
}

func writeState(path string, state State) error {
	data, err := yaml.Marshal(&state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp state file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit state file %q: %w", path, err)
	}

	return nil
}
