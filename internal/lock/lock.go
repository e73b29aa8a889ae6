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

// Package lock is a best-effort single-instance guard rooted at a file
// holding the owning process id (spec §4.2).
package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Lock is a held process lock. A zero Lock is not valid; obtain one via
// TryAcquire.
type Lock struct {
	path     string
	released sync.Once
}

// TryAcquire attempts to acquire the lock file at path.
//
// If the file exists and names a live process, it returns (nil, false, nil)
// — busy. If the file exists but names a dead process, the stale file is
// removed and acquisition proceeds. On success it writes the current
// process id and returns (lock, true, nil).
func TryAcquire(path string) (*Lock, bool, error) {
	if data, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil {
			if isPIDAlive(pid) {
				return nil, false, nil
			}
		}
		// Parse failure or dead pid: treat as stale and reclaim.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, false, fmt.Errorf("lock: remove stale lock %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("lock: read %s: %w", path, err)
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return nil, false, fmt.Errorf("lock: write %s: %w", path, err)
	}
	return &Lock{path: path}, true, nil
}

// Release removes the lock file. It is idempotent and safe to call more
// than once (including via a deferred Release after an explicit one).
func (l *Lock) Release() error {
	var err error
	l.released.Do(func() {
		if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = fmt.Errorf("lock: release %s: %w", l.path, rmErr)
		}
	})
	return err
}
