// Package app contains the Cobra command tree for prepwatch.
package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var appVersion = "dev"

// SetVersion sets the application version (called from main with ldflags value).
func SetVersion(v string) {
	appVersion = v
	rootCmd.Version = v
}

var (
	flagNoColor bool
	flagJSON    bool
	flagVerbose bool
	flagConfig  string
)

var rootCmd = &cobra.Command{
	Use:   "prepwatch",
	Short: "Opening preparation engine for competitive chess players",
	Long: `prepwatch is a virtual second for opening preparation. It walks
established opening theory looking for engine-approved moves that have
never been played, mines a player's own games for habitual inaccuracies,
reconstructs repertoires from cached game data, and composes complete
head-to-head preparation reports.

Downloaded games and engine evaluations are cached in a local SQLite
database, so repeat runs are fast and work offline.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("prepwatch", appVersion)
		fmt.Println()
		fmt.Println("Use a subcommand:")
		fmt.Println("  search      Walk opening theory and surface scored novelties")
		fmt.Println("  fetch       Download a player's games and build their opening book")
		fmt.Println("  habits      Mine a player's games for habitual inaccuracies")
		fmt.Println("  repertoire  Reconstruct a player's opening repertoire as PGN")
		fmt.Println("  strategise  Compose a head-to-head preparation report")
		fmt.Println("  cache       Inspect or clear the local caches")
		return nil
	},
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: ~/.config/prepwatch/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable verbose output")
}
