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

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "jcoded",
	Short: "Ambient core control surface",
	Long:  `jcoded reviews queued permission requests, configures host-OS hotkey integration, and drives the background ambient runner.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(permissionsCmd)
	rootCmd.AddCommand(setupHotkeyCmd)
	rootCmd.AddCommand(ambientCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(rollbackCmd)
}
