package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"example.com/learnsync/internal/syncengine"
)

var syncToken string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync session and print its report",
	Long: `Run one sync session against the configured backend and print the report
as JSON. The identity comes from --token or from session_token_file.

Exits non-zero when the session failed or no identity is signed in.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		if syncToken != "" {
			if _, err := a.session.SetToken(syncToken); err != nil {
				return err
			}
		}

		report := a.engine.SyncNow(cmd.Context())
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}

		switch report.Outcome {
		case syncengine.OutcomeFailed:
			return fmt.Errorf("sync failed at %s", report.FailedStep)
		case syncengine.OutcomeNoIdentity:
			return fmt.Errorf("no identity signed in; pass --token or set session_token_file")
		}
		return nil
	},
}

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Pull and print the leaderboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.engine.PullLeaderboard(cmd.Context())
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%3d  %-24s %-6s %6d min\n", e.Rank, e.DisplayName, e.TargetLanguage, e.TotalMinutes)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncToken, "token", "", "session JWT to sign in with for this run")
	rootCmd.AddCommand(syncCmd, leaderboardCmd)
}
