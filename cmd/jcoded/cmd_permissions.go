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
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/1jehuang/jcode-sub001/pkg/permission"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Review pending permission requests",
	Long:  `Walks safety/queue.json one request at a time, prompting approve/deny for each.`,
	RunE:  runPermissions,
}

func runPermissions(cmd *cobra.Command, args []string) error {
	gate, err := permission.New(nil)
	if err != nil {
		return fmt.Errorf("load safety gate: %w", err)
	}

	pending := gate.PendingRequests()
	if len(pending) == 0 {
		fmt.Println("No pending permission requests.")
		return nil
	}

	reader := bufio.NewReader(os.Stdin)
	for _, req := range pending {
		fmt.Printf("\n[%s] %s\n  %s\n", req.Urgency, req.Action, req.Description)
		if req.Rationale != "" {
			fmt.Printf("  rationale: %s\n", req.Rationale)
		}
		fmt.Print("approve? [y/N/q] ")

		answer, readErr := readKeypress(reader)
		if readErr != nil {
			return fmt.Errorf("read response: %w", readErr)
		}
		if answer == "q" {
			fmt.Println("Stopping review; remaining requests are untouched.")
			return nil
		}
		approved := answer == "y" || answer == "yes"
		if err := gate.RecordDecision(req.ID, approved, "cli", ""); err != nil {
			return fmt.Errorf("record decision for %s: %w", req.ID, err)
		}
		if approved {
			fmt.Println("approved")
		} else {
			fmt.Println("denied")
		}
	}
	return nil
}

// readKeypress reads a single approve/deny/quit answer. On an interactive
// terminal it puts stdin in raw mode and returns as soon as one key is
// struck, so the reviewer never has to press Enter; otherwise (piped
// input, e.g. under test) it falls back to reading a line.
func readKeypress(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.ToLower(strings.TrimSpace(line)), nil
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return "", fmt.Errorf("enter raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	b, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.ToLower(string(b)), nil
}
