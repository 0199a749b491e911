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
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/launchpad/engine/internal/config"
)

func newDetectUnreservedCommand() *cobra.Command {
	var rerun bool

	cmd := &cobra.Command{
		Use:   "detect_unreserved",
		Short: "Reclaim launches stuck RESERVED past the reservation expiration",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.lp.DetectUnreserved(cmd.Context(), a.cfg.Thresholds.ReservationExpiration(), rerun)
			if err != nil {
				return err
			}
			printf("reclaimed %d task(s)\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&rerun, "rerun", false, "requeue reclaimed tasks through WAITING, re-checking their parents, instead of straight to READY")
	return cmd
}

func newDetectLostRunsCommand() *cobra.Command {
	var (
		rerun  bool
		repair bool
	)

	cmd := &cobra.Command{
		Use:   "detect_lostruns",
		Short: "Fizzle launches whose heartbeat is stale past the run expiration",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			n, inconsistencies, err := a.lp.DetectLostRuns(cmd.Context(), a.cfg.Thresholds.RunExpiration(), rerun, repair)
			if err != nil {
				return err
			}
			printf("reclaimed %d launch(es), %d inconsistenc(ies)\n", n, len(inconsistencies))
			for _, ie := range inconsistencies {
				printf("  %v\n", ie)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&rerun, "rerun", false, "requeue reclaimed tasks (READY once their parents are resolved) instead of fizzling them")
	cmd.Flags().BoolVar(&repair, "repair", true, "correct tasks whose state disagrees with their tail launch")
	return cmd
}

func newMaintainCommand() *cobra.Command {
	var loop bool

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run detect_unreserved + detect_lostruns once, or continuously with --loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()

			if !loop {
				if err := a.lp.Maintain(ctx, a.cfg.Thresholds.ReservationExpiration(), a.cfg.Thresholds.RunExpiration()); err != nil {
					return err
				}
				printf("maintain: one pass complete\n")
				return nil
			}

			// Long-running loop: pick up threshold changes from the
			// config file without a restart.
			var thresholds atomic.Pointer[config.Thresholds]
			thresholds.Store(&a.cfg.Thresholds)
			if path, err := config.ConfigPath(); err == nil {
				if configPath() != "" {
					path = configPath()
				}
				go config.Watch(ctx, path, func(fresh *config.Config) {
					thresholds.Store(&fresh.Thresholds)
					printf("maintain: reloaded thresholds from %s\n", path)
				})
			}

			interval := a.cfg.Thresholds.MaintainLoop()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			printf("maintain: looping every %s (ctrl-c to stop)\n", interval)
			for {
				t := thresholds.Load()
				if err := a.lp.Maintain(ctx, t.ReservationExpiration(), t.RunExpiration()); err != nil {
					printf("maintain pass failed: %v\n", err)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().BoolVar(&loop, "loop", false, "run continuously on the configured maintain interval")
	return cmd
}

func newRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <wf_id>...",
		Short: "Re-derive a workflow's task states and aggregate state from its records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				if err := a.lp.RefreshWorkflow(cmd.Context(), id); err != nil {
					return err
				}
				printf("refreshed workflow %s\n", id)
			}
			return nil
		},
	}
}

func newTuneupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tuneup",
		Short: "Rebuild every workflow's derived parent links",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			wfs, err := a.st.ListWorkflows(cmd.Context(), nil)
			if err != nil {
				return err
			}
			for _, wf := range wfs {
				wf.DeriveParentLinks()
				if err := a.st.UpdateWorkflow(cmd.Context(), wf); err != nil {
					return err
				}
			}
			printf("tuneup: rebuilt %d workflow(s)\n", len(wfs))
			return nil
		},
	}
}
