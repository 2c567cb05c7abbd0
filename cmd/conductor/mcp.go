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
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/conductor/internal/log"
	"github.com/teradata-labs/conductor/pkg/events"
	"github.com/teradata-labs/conductor/pkg/mcp"
)

var (
	mcpApprovePersist bool
	mcpApproveDeny    bool
	mcpApproveTools   []string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Manage external tool servers and their approvals",
}

var mcpStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show availability of configured tool servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.Logger()

		cfg, err := mcp.LoadConfigFile(config.MCP.ConfigFile)
		if err != nil {
			return err
		}
		if len(cfg.Servers) == 0 {
			fmt.Printf("No tool servers configured in %s.\n", config.MCP.ConfigFile)
			return nil
		}

		approvals := mcp.NewApprovalCache(config.DataDir, logger)
		manager, err := mcp.NewClientManager(cfg, approvals, events.NewBus(logger), logger)
		if err != nil {
			return err
		}
		defer manager.Close()

		availability := manager.CheckAll(cmd.Context())
		ids := make([]string, 0, len(availability))
		for id := range availability {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVER\tAVAILABILITY\tAPPROVAL")
		for _, id := range ids {
			fmt.Fprintf(w, "%s\t%s\t%s\n", id, availability[id], approvalStatus(approvals, id))
		}
		return w.Flush()
	},
}

var mcpApproveCmd = &cobra.Command{
	Use:   "approve <server>",
	Short: "Approve (or deny) a tool server ahead of time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approvals := mcp.NewApprovalCache(config.DataDir, log.Logger())

		kind := mcp.MemorySession
		if mcpApprovePersist {
			kind = mcp.MemoryPersistent
		}
		approved := !mcpApproveDeny
		if err := approvals.Cache(args[0], approved, kind, mcpApproveTools); err != nil {
			return err
		}

		verdict := "approved"
		if !approved {
			verdict = "denied"
		}
		fmt.Printf("Server %s %s (%s).\n", args[0], verdict, kind)
		return nil
	},
}

var mcpRevokeCmd = &cobra.Command{
	Use:   "revoke <server>",
	Short: "Revoke a cached tool server approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approvals := mcp.NewApprovalCache(config.DataDir, log.Logger())
		if err := approvals.Revoke(args[0]); err != nil {
			return err
		}
		fmt.Printf("Approval for %s revoked.\n", args[0])
		return nil
	},
}

func init() {
	mcpApproveCmd.Flags().BoolVar(&mcpApprovePersist, "persist", false, "remember across restarts (30 days) instead of this session")
	mcpApproveCmd.Flags().BoolVar(&mcpApproveDeny, "deny", false, "cache a denial instead of an approval")
	mcpApproveCmd.Flags().StringSliceVar(&mcpApproveTools, "tool", nil, "restrict the approval to these tools (repeatable)")
	mcpCmd.AddCommand(mcpStatusCmd, mcpApproveCmd, mcpRevokeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func approvalStatus(approvals *mcp.ApprovalCache, serverID string) string {
	entry, ok := approvals.Lookup(serverID)
	if !ok {
		return "not cached"
	}
	verdict := "approved"
	if !entry.Approved {
		verdict = "denied"
	}
	if entry.ExpiresAt != nil {
		return fmt.Sprintf("%s until %s", verdict, entry.ExpiresAt.Format(time.RFC3339))
	}
	return verdict
}
