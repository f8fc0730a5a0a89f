package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/prepwatch/internal/config"
	"github.com/blackwell-systems/prepwatch/internal/explorer"
	"github.com/blackwell-systems/prepwatch/internal/fetcher"
	"github.com/blackwell-systems/prepwatch/internal/output"
	"github.com/blackwell-systems/prepwatch/internal/store"
)

var (
	fetchUsername string
	fetchColor    string
	fetchPlatform string
	fetchSpeeds   string
	fetchMaxGames int
	fetchMaxPlies int
	fetchSince    string
	fetchPGN      string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download a player's games and build their opening book",
	Long: `Download a player's games from lichess or chess.com, aggregate them
into a per-position opening book for the chosen color, and store the book
in the local cache. The cached book powers repertoire-filtered searches,
habit analysis, repertoire extraction, and strategise reports.

A fresh fetch replaces the existing book. With --since only games played
after that date are downloaded and merged into the existing book, which
is the cheap way to keep a book current. With --pgn the book is built
from a local PGN file instead of a download.

Examples:
  prepwatch fetch --username mygamertag --color white
  prepwatch fetch --username mygamertag --color black --platform chesscom
  prepwatch fetch --username mygamertag --color white --since 2026-01-01
  prepwatch fetch --username mygamertag --color white --pgn mygames.pgn`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchUsername, "username", "", "Account name on the platform (required)")
	fetchCmd.Flags().StringVar(&fetchColor, "color", "", "Color the player had in the games: white or black (required)")
	fetchCmd.Flags().StringVar(&fetchPlatform, "platform", explorer.PlatformLichess, "Platform: lichess or chesscom")
	fetchCmd.Flags().StringVar(&fetchSpeeds, "speeds", config.DefaultSpeeds, "Time controls to include, comma-separated")
	fetchCmd.Flags().IntVar(&fetchMaxGames, "max-games", config.DefaultFetch.MaxGames, "Maximum games to download")
	fetchCmd.Flags().IntVar(&fetchMaxPlies, "max-plies", config.DefaultFetch.MaxPlies, "Opening length indexed per game, in half-moves")
	fetchCmd.Flags().StringVar(&fetchSince, "since", "", "Only fetch games after this date (YYYY-MM-DD); merges into the existing book")
	fetchCmd.Flags().StringVar(&fetchPGN, "pgn", "", "Build the book from a local PGN file instead of downloading")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupOutput()

	if fetchUsername == "" || fetchColor == "" {
		return fmt.Errorf("--username and --color are required")
	}
	side, err := sideOf(fetchColor)
	if err != nil {
		return err
	}

	opts := fetcher.FetchOptions{
		Platform: fetchPlatform,
		Username: fetchUsername,
		Side:     side,
		Speeds:   fetchSpeeds,
		MaxGames: intFlag(cmd, "max-games", fetchMaxGames, cfg.Fetch.MaxGames),
		MaxPlies: intFlag(cmd, "max-plies", fetchMaxPlies, cfg.Fetch.MaxPlies),
	}
	if fetchSince != "" {
		since, err := time.Parse("2006-01-02", fetchSince)
		if err != nil {
			return fmt.Errorf("invalid --since %q (want YYYY-MM-DD)", fetchSince)
		}
		opts.Since = since.UTC()
		opts.Merge = true
	}

	db, err := store.Open(config.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	var games int
	if fetchPGN != "" {
		fmt.Printf("Importing %s games for %s from %s\n", colorName(side), fetchUsername, fetchPGN)
		games, err = fetcher.ImportFile(db, fetchPGN, opts)
	} else {
		fmt.Printf("Fetching %s games for %s from %s\n", colorName(side), fetchUsername, fetchPlatform)
		games, err = fetcher.NewClient().Fetch(db, opts)
	}
	if err != nil {
		return err
	}

	backend := explorer.PlayerBackend(opts.Platform, opts.Username, colorName(side), opts.Speeds)
	fmt.Println(output.StyleSuccess.Render(fmt.Sprintf("Indexed %d games into book %s", games, backend)))

	if meta, err := fetcher.ReadMeta(db, backend); err == nil && meta != nil {
		verbosef("book now covers %d games (built %s)", meta.Games, meta.FetchedAt)
	}
	return nil
}
