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
package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireThenSecondAttemptIsBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ambient.lock")

	l1, ok, err := TryAcquire(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, l1)

	l2, ok, err := TryAcquire(path)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, l2)

	require.NoError(t, l1.Release())
}

func TestReleaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ambient.lock")
	l, ok, err := TryAcquire(path)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
	assert.NoFileExists(t, path)
}

func TestTryAcquireReclaimsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ambient.lock")
	// A pid that is extremely unlikely to be alive.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(1<<30)), 0o644))

	l, ok, err := TryAcquire(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, l)
	require.NoError(t, l.Release())
}

func TestTryAcquireAfterReleaseSucceedsAgain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ambient.lock")

	l1, ok, err := TryAcquire(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l1.Release())

	l2, ok, err := TryAcquire(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l2.Release())
}
