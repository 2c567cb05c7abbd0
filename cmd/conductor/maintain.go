// Copyright 2026 Teradata
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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/internal/log"
	"github.com/teradata-labs/conductor/pkg/mcp"
	"github.com/teradata-labs/conductor/pkg/scheduler"
)

var maintainWatch bool

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run maintenance cleanup once, or stay resident on a cron schedule",
	Long: `Run the registered cleanup tasks (expired tool-server approvals, stale
session locks) once and exit. With --watch, stay resident and run them on
the configured cron schedule until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.Logger()

		runner, err := scheduler.NewCronRunner(scheduler.Config{
			Spec:         config.Cleanup.Spec,
			CycleTimeout: config.Cleanup.CycleTimeout(),
			Logger:       logger,
		})
		if err != nil {
			return err
		}

		approvals := mcp.NewApprovalCache(config.DataDir, logger)
		if err := runner.Register("approvals", approvals); err != nil {
			return err
		}

		if !maintainWatch {
			if err := runner.RunNow(cmd.Context()); err != nil {
				return fmt.Errorf("cleanup cycle: %w", err)
			}
			fmt.Println("Cleanup complete.")
			return nil
		}

		if err := runner.Start(); err != nil {
			return err
		}
		logger.Info("Maintenance scheduler running",
			zap.String("spec", config.Cleanup.Spec))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		runner.Stop()
		logger.Info("Maintenance scheduler stopped")
		return nil
	},
}

func init() {
	maintainCmd.Flags().BoolVar(&maintainWatch, "watch", false, "stay resident and run on the cron schedule")
	rootCmd.AddCommand(maintainCmd)
}
