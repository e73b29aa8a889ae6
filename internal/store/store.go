// Copyright 2026 The Jcode Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store owns the daemon's data directory and the atomic JSON
// read/write primitives every other subsystem is built on (spec §4.1).
// JSON state goes through this package; the lock file, build binaries,
// channel symlinks, stable-version marker and signal files are written by
// their own packages directly.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvDataDir overrides the data directory root, mirroring the teacher's
// LOOM_DATA_DIR / the original source's JCODE_DATA_DIR pattern: read via
// os.Getenv directly (not viper) to avoid a circular dependency during
// bootstrap, since config itself may want to live under the data dir.
const EnvDataDir = "JCODE_DATA_DIR"

// DefaultDirName is the directory created under the user's home when
// EnvDataDir is unset.
const DefaultDirName = ".jcode"

// Root returns the daemon's data directory, creating it if missing.
// Resolution order: JCODE_DATA_DIR (tilde/relative-expanded), else
// "~/.jcode".
func Root() (string, error) {
	dir := os.Getenv(EnvDataDir)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("store: resolve home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultDirName)
	} else {
		expanded, err := expandPath(dir)
		if err != nil {
			return "", fmt.Errorf("store: expand %s: %w", EnvDataDir, err)
		}
		dir = expanded
	}
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// SubDir returns Root() joined with the given path components, creating it
// if missing.
func SubDir(parts ...string) (string, error) {
	root, err := Root()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(append([]string{root}, parts...)...)
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// EnsureDir creates dir (and parents) if it does not already exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create directory %s: %w", dir, err)
	}
	return nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		path = filepath.Join(home, path[2:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// ReadJSON reads and unmarshals the JSON document at path into v.
// A missing file is reported through the returned error; callers that want
// a default value should check os.IsNotExist(err) (or errors.Is(err,
// os.ErrNotExist)) before falling back, per spec §7's "transient I/O"
// policy of returning a default and continuing.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: malformed JSON at %s: %w", path, err)
	}
	return nil
}

// ReadJSONOrDefault reads the JSON document at path into v, leaving v
// untouched (at its zero value) if the file does not exist. Malformed JSON
// is still a hard error.
func ReadJSONOrDefault(path string, v any) error {
	err := ReadJSON(path, v)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// WriteJSON atomically writes v as JSON to path: marshal, write to a
// sibling temp file, fsync, then rename over the destination. Rename is
// atomic on POSIX and Windows NTFS for same-volume paths, so a reader never
// observes a partially-written file.
func WriteJSON(path string, v any) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: fsync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("store: rename into place %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
