package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/prepwatch/internal/config"
	"github.com/blackwell-systems/prepwatch/internal/explorer"
	"github.com/blackwell-systems/prepwatch/internal/fetcher"
	"github.com/blackwell-systems/prepwatch/internal/repertoire"
	"github.com/blackwell-systems/prepwatch/internal/store"
)

var (
	repUsername string
	repColor    string
	repPlatform string
	repSpeeds   string
	repMinGames int
	repMaxPlies int
	repOut      string
)

var repertoireCmd = &cobra.Command{
	Use:   "repertoire",
	Short: "Reconstruct a player's opening repertoire as PGN",
	Long: `Rebuild a player's opening repertoire from their cached games: the
moves they rely on at their turn, and the replies they actually face at
the opponent's turn. The result is a single PGN game whose variations
cover the whole tree, ready to load into any study tool.

Games are fetched automatically when the cache is empty.

Examples:
  prepwatch repertoire --username mygamertag --color white
  prepwatch repertoire --username theirtag --color black --min-games 10`,
	RunE: runRepertoire,
}

func init() {
	d := config.DefaultRepertoire
	repertoireCmd.Flags().StringVar(&repUsername, "username", "", "Account name on the platform (required)")
	repertoireCmd.Flags().StringVar(&repColor, "color", "", "Color to extract: white or black (required)")
	repertoireCmd.Flags().StringVar(&repPlatform, "platform", explorer.PlatformLichess, "Platform: lichess or chesscom")
	repertoireCmd.Flags().StringVar(&repSpeeds, "speeds", config.DefaultSpeeds, "Time controls to include, comma-separated")
	repertoireCmd.Flags().IntVar(&repMinGames, "min-games", d.MinGames, "Minimum games for a move to count as repertoire")
	repertoireCmd.Flags().IntVar(&repMaxPlies, "max-plies", d.MaxPlies, "Maximum line length, in half-moves")
	repertoireCmd.Flags().StringVar(&repOut, "out", "repertoire.pgn", "Output PGN path")
	rootCmd.AddCommand(repertoireCmd)
}

func runRepertoire(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupOutput()

	if repUsername == "" || repColor == "" {
		return fmt.Errorf("--username and --color are required")
	}
	side, err := sideOf(repColor)
	if err != nil {
		return err
	}

	db, err := store.Open(config.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	backend := explorer.PlayerBackend(repPlatform, repUsername, colorName(side), repSpeeds)
	if err := ensureBook(db, cfg, backend, fetcher.FetchOptions{
		Platform: repPlatform,
		Username: repUsername,
		Side:     side,
		Speeds:   repSpeeds,
	}); err != nil {
		return err
	}

	minGames := intFlag(cmd, "min-games", repMinGames, cfg.Repertoire.MinGames)
	maxPlies := intFlag(cmd, "max-plies", repMaxPlies, cfg.Repertoire.MaxPlies)

	r, err := repertoire.Extract(db, backend, side, minGames, maxPlies)
	if err != nil {
		return err
	}

	pgn := r.PGN(repUsername)
	if err := os.WriteFile(repOut, []byte(pgn), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", repOut, err)
	}

	fmt.Printf("Repertoire for %s as %s: %d positions, %d repertoire moves, max depth %d plies\n",
		repUsername, colorName(side), r.Stats.TotalPositions, r.Stats.TotalPlayerMoves, r.Stats.MaxDepthReached)
	fmt.Printf("Wrote %s\n", repOut)
	return nil
}
