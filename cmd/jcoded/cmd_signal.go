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
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/1jehuang/jcode-sub001/internal/store"
)

// writeSignal drops a one-shot ASCII marker file under the data
// directory, the same file-based signaling mechanism the rest of the
// core uses for reload/rollback requests (spec §6).
func writeSignal(name string) error {
	dir, err := store.Root()
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	path := dir + "/" + name
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0o644)
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Signal the running daemon to reload its configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := writeSignal("reload-signal"); err != nil {
			return err
		}
		fmt.Println("reload signal written")
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Signal the running daemon to roll back to its stable binary",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := writeSignal("rollback-signal"); err != nil {
			return err
		}
		fmt.Println("rollback signal written")
		return nil
	},
}
