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
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/launchpad/engine/internal/config"
	"github.com/launchpad/engine/internal/store"
)

func newInitCommand() *cobra.Command {
	var (
		storeType string
		sqlPath   string
		pgDSN     string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a launchpad config file",
		Long:  "init writes a launchpad config file at the resolved config path, defaulting to a local sqlite store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}
			if configPath() != "" {
				path = configPath()
			}
			if _, statErr := os.Stat(path); statErr == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if storeType != "" {
				cfg.Store.Type = storeType
			}
			if sqlPath != "" {
				cfg.Store.SQLite.Path = sqlPath
			}
			if pgDSN != "" {
				cfg.Store.Postgres.ConnectionString = pgDSN
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			buf, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, buf, 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			printf("wrote config to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&storeType, "store", "", "store backend: memory, sqlite, or postgres")
	cmd.Flags().StringVar(&sqlPath, "sqlite-path", "", "sqlite database path")
	cmd.Flags().StringVar(&pgDSN, "postgres-dsn", "", "postgres connection string")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newResetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe all tasks, launches, workflows, and locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !assumeYes {
				fmt.Fprint(os.Stdout, "This will permanently delete all workflows, tasks, launches, and locks. Continue? [y/N] ")
				var answer string
				fmt.Scanln(&answer)
				if answer != "y" && answer != "Y" {
					return fmt.Errorf("reset aborted")
				}
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			resettable, ok := a.st.(store.Resettable)
			if !ok {
				return fmt.Errorf("store backend does not support reset")
			}
			if err := resettable.Reset(cmd.Context()); err != nil {
				return err
			}
			printf("store reset\n")
			return nil
		},
	}
	return cmd
}
