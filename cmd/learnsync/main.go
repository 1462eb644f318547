package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "learnsync",
	Short: "Offline-first sync agent for learning records",
	Long: `learnsync keeps learning records on the device and reconciles them with
the shared backend whenever an identity is signed in.

Records are always written locally first. A sync session adopts records
created while signed out, pushes everything still marked dirty, and pulls
the leaderboard.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML, TOML or JSON config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
