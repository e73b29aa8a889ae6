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
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

var setupHotkeyCmd = &cobra.Command{
	Use:   "setup-hotkey",
	Short: "Print host-OS instructions for binding a global hotkey to this daemon",
	Long: `jcoded has no OS-level hotkey registration of its own; this writes a
small invoke script next to the launcher binary and prints the steps for
wiring a host-OS global shortcut to it.`,
	RunE: runSetupHotkey,
}

func runSetupHotkey(cmd *cobra.Command, args []string) error {
	launcherDir := os.Getenv("JCODE_INSTALL_DIR")
	if launcherDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		launcherDir = filepath.Join(home, ".local", "bin")
	}
	scriptPath := filepath.Join(launcherDir, "jcoded-invoke")

	script := "#!/bin/sh\nexec " + filepath.Join(launcherDir, "jcoded") + " ambient trigger\n"
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return fmt.Errorf("write invoke script: %w", err)
	}
	fmt.Printf("Wrote %s\n\n", scriptPath)

	switch runtime.GOOS {
	case "darwin":
		fmt.Println("macOS: System Settings > Keyboard > Keyboard Shortcuts > App Shortcuts,")
		fmt.Printf("add a shortcut running %s.\n", scriptPath)
	case "windows":
		fmt.Printf("Windows: create a shortcut to %s and set its \"Shortcut key\" field.\n", scriptPath)
	default:
		fmt.Printf("Linux: bind your desktop environment's custom keyboard shortcut to run %s.\n", scriptPath)
	}
	return nil
}
