// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli implements the launchpadctl command surface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"

	verbose   bool
	quiet     bool
	jsonOut   bool
	assumeYes bool
	cfgPath   string
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// NewRootCommand creates the root Cobra command for launchpadctl.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launchpadctl",
		Short: "launchpadctl - distributed workflow engine control plane",
		Long: `launchpadctl manages workflows of independent tasks ("fireworks")
stored in a durable Launchpad store: add workflows, inspect task and
workflow state, rerun or defuse tasks, and run maintenance sweeps.

Run 'launchpadctl init' to provision a store before adding workflows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Skip confirmation prompts")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config_dir", "c", "", "Path to config file (default: $LAUNCHPAD_CONFIG_FILE or ~/.config/launchpad/config.yaml)")

	cmd.AddCommand(
		newInitCommand(),
		newResetCommand(),
		newAddCommand(),
		newGetFwsCommand(),
		newGetWflowsCommand(),
		newRerunFwsCommand(),
		newTrackFwsCommand(),
	)
	cmd.AddCommand(newStateChangeCommands()...)
	cmd.AddCommand(
		newDetectUnreservedCommand(),
		newDetectLostRunsCommand(),
		newSetPriorityCommand(),
		newUpdateFwsCommand(),
		newMaintainCommand(),
		newTuneupCommand(),
		newRefreshCommand(),
		newUnlockCommand(),
	)
	cmd.AddCommand(stubCommands()...)

	return cmd
}

// HandleExitError prints err (unless quiet) and exits with a non-zero code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	if !quiet {
		fmt.Fprintln(os.Stderr, "launchpadctl:", err)
	}
	os.Exit(1)
}

func isJSON() bool { return jsonOut }
func isQuiet() bool { return quiet }
func isVerbose() bool { return verbose }
func configPath() string { return cfgPath }
