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

	"github.com/spf13/cobra"

	"github.com/1jehuang/jcode-sub001/pkg/ambient"
)

var ambientCmd = &cobra.Command{
	Use:   "ambient",
	Short: "Control the background ambient runner",
}

var ambientTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Force an ambient cycle to run now",
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := ambient.SendControlCommand("trigger")
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

var ambientStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Disable the background ambient runner",
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := ambient.SendControlCommand("stop")
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

var ambientStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ambient runner's current status",
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := ambient.SendControlCommand("status")
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

func init() {
	ambientCmd.AddCommand(ambientTriggerCmd, ambientStopCmd, ambientStatusCmd)
}
