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
package ambient

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"go.uber.org/zap"
)

// ControlSocketName is the debug socket the CLI's "ambient trigger"/"stop"
// commands dial (spec §6).
const ControlSocketName = "control.sock"

// ControlSocketPath returns the standard path for the ambient debug
// socket.
func ControlSocketPath() (string, error) {
	dir, err := ambientDir()
	if err != nil {
		return "", err
	}
	return dir + "/" + ControlSocketName, nil
}

// ServeControl listens on path and dispatches newline-delimited commands
// ("trigger", "stop", "status") to runner until ctx is cancelled. It is
// meant to run in its own goroutine alongside Runner.Run.
func ServeControl(ctx context.Context, runner *Runner, path string, logger *zap.Logger) error {
	_ = os.Remove(path)
	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("ambient: listen on control socket: %w", err)
	}
	go func() {
		<-ctx.Done()
		listener.Close()
		os.Remove(path)
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Warn("ambient control: accept failed", zap.Error(err))
				continue
			}
		}
		go handleControlConn(conn, runner)
	}
}

func handleControlConn(conn net.Conn, runner *Runner) {
	defer conn.Close()
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	switch strings.TrimSpace(line) {
	case "trigger":
		runner.Trigger()
		fmt.Fprintln(conn, "ok: triggered")
	case "stop":
		runner.Stop()
		fmt.Fprintln(conn, "ok: stopped")
	case "status":
		state := runner.State()
		fmt.Fprintf(conn, "status: %s queue: %d\n", state.Status, runner.QueueCount())
	default:
		fmt.Fprintln(conn, "error: unknown command")
	}
}

// SendControlCommand dials the standard control socket and sends command,
// returning the server's one-line response.
func SendControlCommand(command string) (string, error) {
	path, err := ControlSocketPath()
	if err != nil {
		return "", err
	}
	conn, err := net.Dial("unix", path)
	if err != nil {
		return "", fmt.Errorf("ambient: dial control socket: %w", err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		return "", fmt.Errorf("ambient: send command: %w", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("ambient: read response: %w", err)
	}
	return strings.TrimSpace(reply), nil
}
