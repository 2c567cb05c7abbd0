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
	"github.com/teradata-labs/conductor/pkg/session"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect past pipeline sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store *session.FileStore) error {
			summaries, err := store.ListRecent(cmd.Context(), sessionsLimit)
			if err != nil {
				return err
			}
			printSummaries(summaries)
			return nil
		})
	},
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search sessions by command name or id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store *session.FileStore) error {
			summaries, err := store.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSummaries(summaries)
			return nil
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session's stages and event history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store *session.FileStore) error {
			sess, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			prompt, output := sess.TokenTotals()
			fmt.Printf("Session: %s\n", sess.ID)
			fmt.Printf("Command: %s\n", sess.Command)
			fmt.Printf("State:   %s\n", sess.CurrentState())
			fmt.Printf("Created: %s\n", sess.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Tokens:  %d prompt / %d output\n", prompt, output)

			names := make([]string, 0, len(sess.Stages))
			for name := range sess.Stages {
				names = append(names, name)
			}
			sort.Slice(names, func(i, j int) bool {
				a, b := sess.Stages[names[i]], sess.Stages[names[j]]
				if !a.StartedAt.Equal(b.StartedAt) {
					return a.StartedAt.Before(b.StartedAt)
				}
				return names[i] < names[j]
			})
			if len(names) > 0 {
				fmt.Println("\nStages:")
				w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
				fmt.Fprintln(w, "  NAME\tSTATE\tATTEMPTS\tAGENT")
				for _, name := range names {
					rec := sess.Stages[name]
					fmt.Fprintf(w, "  %s\t%s\t%d\t%s\n", rec.Name, rec.State, rec.Attempts, rec.Agent)
				}
				w.Flush()
			}

			events := sess.EventLog()
			fmt.Printf("\nEvents: %d\n", len(events))
			for _, ev := range events {
				stage := ev.Stage
				if stage == "" {
					stage = "-"
				}
				fmt.Printf("  %s  %-18s %s\n", ev.Timestamp.Format("15:04:05.000"), ev.Kind, stage)
			}
			return nil
		})
	},
}

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "maximum sessions to list")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsSearchCmd, sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func withStore(cmd *cobra.Command, fn func(*session.FileStore) error) error {
	store, err := session.NewFileStore(cmd.Context(), config.Sessions.Dir, log.Logger())
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func printSummaries(summaries []session.Summary) {
	if len(summaries) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMMAND\tSTATE\tUPDATED\tTOKENS")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\n",
			s.ID, s.Command, s.State,
			s.UpdatedAt.Format("2006-01-02 15:04"),
			s.PromptTokens, s.OutputTokens)
	}
	w.Flush()
}
