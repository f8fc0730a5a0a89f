package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/prepwatch/internal/config"
	"github.com/blackwell-systems/prepwatch/internal/engine"
	"github.com/blackwell-systems/prepwatch/internal/explorer"
	"github.com/blackwell-systems/prepwatch/internal/fetcher"
	"github.com/blackwell-systems/prepwatch/internal/habits"
	"github.com/blackwell-systems/prepwatch/internal/model"
	"github.com/blackwell-systems/prepwatch/internal/output"
	"github.com/blackwell-systems/prepwatch/internal/store"
)

var (
	habitsUsername     string
	habitsColor        string
	habitsPlatform     string
	habitsSpeeds       string
	habitsMinGames     int
	habitsMaxPositions int
	habitsMinEvalGap   int
	habitsDepth        int
	habitsOut          string
)

var habitsCmd = &cobra.Command{
	Use:   "habits",
	Short: "Mine a player's games for habitual inaccuracies",
	Long: `Scan a player's cached opening book for positions they reach often and
compare the moves they habitually play against the engine's preference.
Moves that fall clearly short of the best move are ranked by how often
they are played and how much they give away, and written as a PGN study
of the worst offenders.

Games are fetched automatically when the cache is empty.

Examples:
  prepwatch habits --username mygamertag --color white
  prepwatch habits --username theirtag --color black --min-eval-gap 40`,
	RunE: runHabits,
}

func init() {
	d := config.DefaultHabits
	habitsCmd.Flags().StringVar(&habitsUsername, "username", "", "Account name on the platform (required)")
	habitsCmd.Flags().StringVar(&habitsColor, "color", "", "Color to analyse: white or black (required)")
	habitsCmd.Flags().StringVar(&habitsPlatform, "platform", explorer.PlatformLichess, "Platform: lichess or chesscom")
	habitsCmd.Flags().StringVar(&habitsSpeeds, "speeds", config.DefaultSpeeds, "Time controls to include, comma-separated")
	habitsCmd.Flags().IntVar(&habitsMinGames, "min-games", d.MinGames, "Minimum games in a position for it to be analysed")
	habitsCmd.Flags().IntVar(&habitsMaxPositions, "max-positions", d.MaxPositions, "Maximum positions to analyse")
	habitsCmd.Flags().IntVar(&habitsMinEvalGap, "min-eval-gap", d.MinEvalGapCP, "Minimum centipawn loss for a habit to count")
	habitsCmd.Flags().IntVar(&habitsDepth, "depth", d.Depth, "Engine analysis depth")
	habitsCmd.Flags().StringVar(&habitsOut, "out", "habits.pgn", "Output PGN path")
	rootCmd.AddCommand(habitsCmd)
}

func runHabits(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupOutput()

	if habitsUsername == "" || habitsColor == "" {
		return fmt.Errorf("--username and --color are required")
	}
	side, err := sideOf(habitsColor)
	if err != nil {
		return err
	}

	db, err := store.Open(config.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	backend := explorer.PlayerBackend(habitsPlatform, habitsUsername, colorName(side), habitsSpeeds)
	if err := ensureBook(db, cfg, backend, fetcher.FetchOptions{
		Platform: habitsPlatform,
		Username: habitsUsername,
		Side:     side,
		Speeds:   habitsSpeeds,
	}); err != nil {
		return err
	}

	sfPath, err := enginePath(cfg)
	if err != nil {
		return err
	}
	threads := engineThreads(cfg)
	newEngine := func() (habits.Analyser, error) { return engine.NewSession(sfPath, threads) }

	hcfg := habits.Config{
		Backend:      backend,
		Side:         side,
		MinGames:     intFlag(cmd, "min-games", habitsMinGames, cfg.Habits.MinGames),
		MinEvalGapCP: float64(intFlag(cmd, "min-eval-gap", habitsMinEvalGap, cfg.Habits.MinEvalGapCP)),
		Depth:        intFlag(cmd, "depth", habitsDepth, cfg.Habits.Depth),
		MaxPositions: intFlag(cmd, "max-positions", habitsMaxPositions, cfg.Habits.MaxPositions),
		TopN:         intFlag(cmd, "max-positions", habitsMaxPositions, cfg.Habits.MaxPositions),
	}

	fmt.Printf("Analysing %s's habits as %s (depth %d)\n", habitsUsername, colorName(side), hcfg.Depth)
	found, err := habits.Analyze(hcfg, db, db, newEngine, verbosef)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No habitual inaccuracies found above the eval gap threshold.")
		return nil
	}

	pgn := habits.ExportPGN(found, habitsUsername, side)
	if err := os.WriteFile(habitsOut, []byte(pgn), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", habitsOut, err)
	}

	printHabitsSummary(found)
	fmt.Printf("\nWrote %d habits to %s\n", len(found), habitsOut)
	return nil
}

// ensureBook fetches the player's games when their book is not cached yet.
func ensureBook(db *store.DB, cfg *config.Config, backend string, opts fetcher.FetchOptions) error {
	entries, err := db.ScanBackend(backend)
	if err != nil {
		return fmt.Errorf("reading cache: %w", err)
	}
	if len(entries) > 0 {
		return nil
	}

	fmt.Printf("No cached games for %s as %s, fetching\n", opts.Username, colorName(opts.Side))
	opts.MaxGames = cfg.Fetch.MaxGames
	opts.MaxPlies = cfg.Fetch.MaxPlies
	games, err := fetcher.NewClient().Fetch(db, opts)
	if err != nil {
		return fmt.Errorf("fetching games: %w", err)
	}
	fmt.Printf("Indexed %d games\n", games)
	return nil
}

func printHabitsSummary(found []model.HabitInaccuracy) {
	fmt.Println(output.Section("Worst habits"))
	table := output.NewTable("#", "Move", "Played", "Best", "Gap", "Score")
	for i, h := range found {
		if i >= 5 {
			break
		}
		table.AddRow(
			fmt.Sprintf("%d", i+1),
			h.PlayerMoveSAN,
			fmt.Sprintf("%d/%d", h.PlayerMoveGames, h.TotalGames),
			h.BestMoveSAN,
			output.Gap(h.EvalGapCP, 75),
			fmt.Sprintf("%.1f", h.Score),
		)
	}
	table.Print()
}
