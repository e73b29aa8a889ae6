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

// Package buildmgr is the canary self-update state machine (spec §4.10):
// a versioned binary directory, stable/canary/rollback channel symlinks,
// a manifest tracking channel pointers and crash history, and per-session
// migration contexts written ahead of a binary swap.
package buildmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/1jehuang/jcode-sub001/internal/store"
)

// maxCrashStderr bounds a stored crash record's stderr capture.
const maxCrashStderr = 4 * 1024

// maxBuildHistory bounds the manifest's rolling build history.
const maxBuildHistory = 50

// CanaryStatus is the lifecycle state of the current canary build.
type CanaryStatus string

const (
	CanaryTesting CanaryStatus = "testing"
	CanaryPassed  CanaryStatus = "passed"
	CanaryFailed  CanaryStatus = "failed"
)

// CrashInfo is a truncated record of a binary crash.
type CrashInfo struct {
	Hash      string    `json:"hash"`
	ExitCode  int       `json:"exit_code"`
	Stderr    string    `json:"stderr"`
	Diff      string    `json:"diff,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Manifest is the persisted channel/crash bookkeeping for manifest.json.
type Manifest struct {
	Stable        string       `json:"stable,omitempty"`
	Canary        string       `json:"canary,omitempty"`
	CanarySession string       `json:"canary_session,omitempty"`
	CanaryStatus  CanaryStatus `json:"canary_status,omitempty"`
	BuildHistory  []string     `json:"build_history,omitempty"`
	LastCrash     *CrashInfo   `json:"last_crash,omitempty"`
}

// Channel is one of the three named symlinks under builds/.
type Channel string

const (
	ChannelStable   Channel = "stable"
	ChannelCanary   Channel = "canary"
	ChannelRollback Channel = "rollback"
)

// MigrationContext is written before a session restarts into a new
// binary, and cleared once the restart completes.
type MigrationContext struct {
	FromVersion   string    `json:"from_version"`
	ToVersion     string    `json:"to_version"`
	ChangeSummary string    `json:"change_summary"`
	Diff          string    `json:"diff,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// BinaryChoice is the result of resolving which installed binary a
// session should run.
type BinaryChoice struct {
	Path    string
	Version string
	Channel Channel
}

func buildsDir() (string, error) { return store.SubDir("builds") }

func manifestPath() (string, error) {
	dir, err := buildsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "manifest.json"), nil
}

func versionDir(label string) (string, error) {
	dir, err := buildsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "versions", label), nil
}

func channelLinkPath(channel Channel, binaryName string) (string, error) {
	dir, err := buildsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, string(channel), binaryName), nil
}

func stableVersionFilePath() (string, error) {
	dir, err := buildsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "stable-version"), nil
}

func migrationPath(sessionID string) (string, error) {
	dir, err := buildsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "migrations", sessionID+".json"), nil
}

// Manager owns the persisted Manifest and the binary-name this daemon
// installs under each channel.
type Manager struct {
	binaryName string
	manifest   Manifest
}

// Load reads the manifest (or starts an empty one) for a daemon whose
// installed binary is named binaryName (e.g. "jcoded").
func Load(binaryName string) (*Manager, error) {
	path, err := manifestPath()
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := store.ReadJSONOrDefault(path, &m); err != nil {
		return nil, fmt.Errorf("buildmgr: load manifest: %w", err)
	}
	return &Manager{binaryName: binaryName, manifest: m}, nil
}

// Manifest returns a copy of the manager's current manifest.
func (m *Manager) Manifest() Manifest { return m.manifest }

func (m *Manager) save() error {
	path, err := manifestPath()
	if err != nil {
		return err
	}
	return store.WriteJSON(path, m.manifest)
}

// InstallBinaryAtVersion copies the binary at sourcePath into
// builds/versions/<label>/<binaryName>, replacing any existing binary at
// that destination, and records label in the bounded build history.
func (m *Manager) InstallBinaryAtVersion(sourcePath, label string) error {
	dir, err := versionDir(label)
	if err != nil {
		return err
	}
	if err := store.EnsureDir(dir); err != nil {
		return err
	}
	dest := filepath.Join(dir, m.binaryName)

	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("buildmgr: remove existing binary at %s: %w", dest, err)
	}
	if err := copyExecutable(sourcePath, dest); err != nil {
		return fmt.Errorf("buildmgr: install %s: %w", label, err)
	}

	m.manifest.BuildHistory = append(m.manifest.BuildHistory, label)
	if len(m.manifest.BuildHistory) > maxBuildHistory {
		m.manifest.BuildHistory = m.manifest.BuildHistory[len(m.manifest.BuildHistory)-maxBuildHistory:]
	}
	return m.save()
}

func copyExecutable(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o755); err != nil {
		return fmt.Errorf("write destination: %w", err)
	}
	return nil
}

// UpdateChannelSymlink atomically points channel at the binary installed
// under label: a new symlink is created under a unique temp name
// adjacent to the destination, then renamed over it.
func (m *Manager) UpdateChannelSymlink(channel Channel, label string) error {
	target, err := versionDir(label)
	if err != nil {
		return err
	}
	target = filepath.Join(target, m.binaryName)
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("buildmgr: version %s not installed: %w", label, err)
	}

	linkPath, err := channelLinkPath(channel, m.binaryName)
	if err != nil {
		return err
	}
	if err := store.EnsureDir(filepath.Dir(linkPath)); err != nil {
		return err
	}
	return atomicSymlink(target, linkPath)
}

func atomicSymlink(target, linkPath string) error {
	tmp := linkPath + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("buildmgr: create temp symlink: %w", err)
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("buildmgr: rename symlink into place: %w", err)
	}
	return nil
}

// UpdateStableSymlink points the stable channel at label and writes
// stable-version, whose mtime other sessions watch to trigger
// auto-migration.
func (m *Manager) UpdateStableSymlink(label string) error {
	if err := m.UpdateChannelSymlink(ChannelStable, label); err != nil {
		return err
	}
	m.manifest.Stable = label
	if err := m.save(); err != nil {
		return err
	}
	path, err := stableVersionFilePath()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(label), 0o644)
}

// UpdateLauncherSymlinkToStable points the launcher path (defaulting to
// ~/.local/bin/<binaryName>, overridable via JCODE_INSTALL_DIR) at the
// stable channel's current binary.
func (m *Manager) UpdateLauncherSymlinkToStable() error {
	if m.manifest.Stable == "" {
		return fmt.Errorf("buildmgr: no stable version installed")
	}
	stableLink, err := channelLinkPath(ChannelStable, m.binaryName)
	if err != nil {
		return err
	}
	launcherDir, err := m.launcherDir()
	if err != nil {
		return err
	}
	if err := store.EnsureDir(launcherDir); err != nil {
		return err
	}
	launcherPath := filepath.Join(launcherDir, m.binaryName)
	return atomicSymlink(stableLink, launcherPath)
}

func (m *Manager) launcherDir() (string, error) {
	if dir := os.Getenv("JCODE_INSTALL_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("buildmgr: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "bin"), nil
}

// StartCanary marks hash as the canary build under test by sessionID.
func (m *Manager) StartCanary(hash, sessionID string) error {
	m.manifest.Canary = hash
	m.manifest.CanarySession = sessionID
	m.manifest.CanaryStatus = CanaryTesting
	return m.save()
}

// MarkCanaryPassed records that the current canary build tested clean.
// Promotion to stable is a separate, explicit call to
// UpdateStableSymlink.
func (m *Manager) MarkCanaryPassed() error {
	if m.manifest.Canary == "" {
		return fmt.Errorf("buildmgr: no canary in progress")
	}
	m.manifest.CanaryStatus = CanaryPassed
	return m.save()
}

// RecordCrash stores a truncated crash record and marks the canary as
// failed.
func (m *Manager) RecordCrash(hash string, exitCode int, stderr, diff string) error {
	if len(stderr) > maxCrashStderr {
		stderr = stderr[:maxCrashStderr]
	}
	m.manifest.LastCrash = &CrashInfo{
		Hash:      hash,
		ExitCode:  exitCode,
		Stderr:    stderr,
		Diff:      diff,
		Timestamp: time.Now(),
	}
	m.manifest.CanaryStatus = CanaryFailed
	return m.save()
}

// Rollback marks the current canary as failed without touching the
// stable pointer; consumers resolving their binary fall back to stable.
func (m *Manager) Rollback() error {
	m.manifest.CanaryStatus = CanaryFailed
	return m.save()
}

// BinaryForSession resolves which binary sessionID should run: the
// canary if sessionID is the canary session, a canary exists and it has
// not failed (through the canary symlink, or the installed version
// binary when that link is absent); otherwise the stable build if one is
// set; otherwise the currently-running executable.
func (m *Manager) BinaryForSession(sessionID string) (BinaryChoice, error) {
	if m.manifest.Canary != "" && m.manifest.CanarySession == sessionID && m.manifest.CanaryStatus != CanaryFailed {
		path, err := channelLinkPath(ChannelCanary, m.binaryName)
		if err == nil {
			if _, statErr := os.Lstat(path); statErr == nil {
				return BinaryChoice{Path: path, Version: m.manifest.Canary, Channel: ChannelCanary}, nil
			}
		}
		if dir, err := versionDir(m.manifest.Canary); err == nil {
			installed := filepath.Join(dir, m.binaryName)
			if _, statErr := os.Stat(installed); statErr == nil {
				return BinaryChoice{Path: installed, Version: m.manifest.Canary, Channel: ChannelCanary}, nil
			}
		}
	}
	if m.manifest.Stable != "" {
		path, err := channelLinkPath(ChannelStable, m.binaryName)
		if err != nil {
			return BinaryChoice{}, err
		}
		return BinaryChoice{Path: path, Version: m.manifest.Stable, Channel: ChannelStable}, nil
	}
	current, err := os.Executable()
	if err != nil {
		return BinaryChoice{}, fmt.Errorf("buildmgr: resolve current executable: %w", err)
	}
	return BinaryChoice{Path: current, Version: "", Channel: ""}, nil
}

// ClientUpdateCandidate implements the self-dev client's probe order:
// canary, then rollback, then launcher (stable), then stable directly,
// then the currently-running executable.
func (m *Manager) ClientUpdateCandidate() (BinaryChoice, error) {
	for _, channel := range []Channel{ChannelCanary, ChannelRollback} {
		path, err := channelLinkPath(channel, m.binaryName)
		if err != nil {
			return BinaryChoice{}, err
		}
		if target, ok := m.resolveSymlink(path); ok {
			return BinaryChoice{Path: path, Version: target, Channel: channel}, nil
		}
	}
	if launcherDir, err := m.launcherDir(); err == nil {
		launcherPath := filepath.Join(launcherDir, m.binaryName)
		if _, err := os.Lstat(launcherPath); err == nil {
			return BinaryChoice{Path: launcherPath, Version: m.manifest.Stable, Channel: ChannelStable}, nil
		}
	}
	if path, err := channelLinkPath(ChannelStable, m.binaryName); err == nil {
		if target, ok := m.resolveSymlink(path); ok {
			return BinaryChoice{Path: path, Version: target, Channel: ChannelStable}, nil
		}
	}
	current, err := os.Executable()
	if err != nil {
		return BinaryChoice{}, fmt.Errorf("buildmgr: resolve current executable: %w", err)
	}
	return BinaryChoice{Path: current}, nil
}

func (m *Manager) resolveSymlink(path string) (string, bool) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", false
	}
	return filepath.Base(filepath.Dir(target)), true
}

// SaveMigrationContext writes a per-session migration record ahead of a
// binary restart.
func SaveMigrationContext(sessionID string, ctx MigrationContext) error {
	path, err := migrationPath(sessionID)
	if err != nil {
		return err
	}
	return store.WriteJSON(path, ctx)
}

// LoadMigrationContext reads the migration record for sessionID, if any.
func LoadMigrationContext(sessionID string) (MigrationContext, bool, error) {
	path, err := migrationPath(sessionID)
	if err != nil {
		return MigrationContext{}, false, err
	}
	if !store.Exists(path) {
		return MigrationContext{}, false, nil
	}
	var ctx MigrationContext
	if err := store.ReadJSON(path, &ctx); err != nil {
		return MigrationContext{}, false, err
	}
	return ctx, true, nil
}

// ClearMigrationContext removes the migration record for sessionID after
// a restart completes.
func ClearMigrationContext(sessionID string) error {
	path, err := migrationPath(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("buildmgr: clear migration context: %w", err)
	}
	return nil
}
