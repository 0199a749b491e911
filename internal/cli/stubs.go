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

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// stubNames lists the commands that delegate to an external collaborator
// (a report generator, a web GUI, a queue-adapter bridge) rather than to
// the engine itself. They're wired into the command tree so `--help`
// discovers them, but each refuses to run.
var stubNames = []string{
	"report",
	"introspect",
	"webgui",
	"get_qids",
	"cancel_qid",
	"recover_offline",
	"forget_offline",
}

// stubCommands builds one cobra.Command per stubNames entry.
func stubCommands() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(stubNames))
	for _, name := range stubNames {
		name := name
		cmds = append(cmds, &cobra.Command{
			Use:   name,
			Short: fmt.Sprintf("(not implemented) %s is an external collaborator", name),
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintf(os.Stderr, "not implemented: %s is an external collaborator\n", name)
				os.Exit(1)
				return nil
			},
		})
	}
	return cmds
}
