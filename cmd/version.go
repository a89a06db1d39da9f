// Copyright 2025 The fastgo Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dicklesworthstone/fastgo/common"
)

// version/gitHash/buildTime are populated by -ldflags at release build
// time; common.GetBuildInfo exposes the same triple the teacher's
// cmd/log.go read off identically-named package vars.
var (
	version   = common.Version
	gitHash   string
	buildTime string
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := common.GetBuildInfo()
		if info.Version == "" {
			info.Version = version
		}
		fmt.Printf("%s %s\n", common.App, info.Version)
		if gitHash != "" {
			fmt.Printf("commit: %s\n", gitHash)
		}
		if buildTime != "" {
			fmt.Printf("built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
