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
	"encoding/json"
	"fmt"
	"os"
)

// printResult writes v as JSON (if --json was passed) or via plain, a
// human-readable fallback; it stays silent in --quiet mode.
func printResult(v any, plain func()) error {
	if isQuiet() {
		return nil
	}
	if isJSON() {
		buf, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(buf))
		return nil
	}
	plain()
	return nil
}

func printf(format string, args ...any) {
	if isQuiet() {
		return
	}
	fmt.Fprintf(os.Stdout, format, args...)
}
