package app

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/prepwatch/internal/config"
	"github.com/blackwell-systems/prepwatch/internal/engine"
	"github.com/blackwell-systems/prepwatch/internal/explorer"
	"github.com/blackwell-systems/prepwatch/internal/fetcher"
	"github.com/blackwell-systems/prepwatch/internal/habits"
	"github.com/blackwell-systems/prepwatch/internal/output"
	"github.com/blackwell-systems/prepwatch/internal/store"
	"github.com/blackwell-systems/prepwatch/internal/strategise"
)

var (
	stratPlayer           string
	stratOpponent         string
	stratPlayerColor      string
	stratPlayerPlatform   string
	stratOpponentPlatform string
	stratPlayerSpeeds     string
	stratOpponentSpeeds   string
	stratMinGames         int
	stratMaxPositions     int
	stratMinEvalGap       int
	stratDepth            int
	stratOut              string
	stratAPIKey           string
)

var strategiseCmd = &cobra.Command{
	Use:   "strategise",
	Short: "Compose a head-to-head preparation report",
	Long: `Build a complete preparation report for an upcoming game: style
profiles for both players, the positions where their repertoires collide,
the opponent's habitual inaccuracies you can actually reach, the holes in
your own preparation they could exploit, game-phase tendencies, and a
shortlist of key positions to study.

Both players' games are fetched automatically when not cached. With an
Anthropic API key (via --api-key or ANTHROPIC_API_KEY) the report also
includes a written strategic brief.

Examples:
  prepwatch strategise --player mygamertag --opponent theirtag
  prepwatch strategise --player me --player-color black --opponent them --out prep.json`,
	RunE: runStrategise,
}

func init() {
	d := config.DefaultStrategise
	strategiseCmd.Flags().StringVar(&stratPlayer, "player", "", "Your account name (required)")
	strategiseCmd.Flags().StringVar(&stratOpponent, "opponent", "", "Opponent's account name (required)")
	strategiseCmd.Flags().StringVar(&stratPlayerColor, "player-color", "white", "Color you expect to have: white or black")
	strategiseCmd.Flags().StringVar(&stratPlayerPlatform, "player-platform", explorer.PlatformLichess, "Your platform: lichess or chesscom")
	strategiseCmd.Flags().StringVar(&stratOpponentPlatform, "opponent-platform", explorer.PlatformLichess, "Opponent's platform: lichess or chesscom")
	strategiseCmd.Flags().StringVar(&stratPlayerSpeeds, "player-speeds", config.DefaultSpeeds, "Your time controls, comma-separated")
	strategiseCmd.Flags().StringVar(&stratOpponentSpeeds, "opponent-speeds", config.DefaultSpeeds, "Opponent's time controls, comma-separated")
	strategiseCmd.Flags().IntVar(&stratMinGames, "min-games", d.MinGames, "Minimum games in a position for it to count")
	strategiseCmd.Flags().IntVar(&stratMaxPositions, "max-positions", d.MaxPositions, "Maximum habit positions analysed per player")
	strategiseCmd.Flags().IntVar(&stratMinEvalGap, "min-eval-gap", d.MinEvalGapCP, "Minimum centipawn loss for a habit to count")
	strategiseCmd.Flags().IntVar(&stratDepth, "depth", d.Depth, "Engine analysis depth")
	strategiseCmd.Flags().StringVar(&stratOut, "out", "strategise.json", "Output JSON path")
	strategiseCmd.Flags().StringVar(&stratAPIKey, "api-key", "", "Anthropic API key for the strategic brief (default: ANTHROPIC_API_KEY)")
	rootCmd.AddCommand(strategiseCmd)
}

func runStrategise(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupOutput()

	if stratPlayer == "" || stratOpponent == "" {
		return fmt.Errorf("--player and --opponent are required")
	}
	if _, err := sideOf(stratPlayerColor); err != nil {
		return err
	}

	sfPath, err := enginePath(cfg)
	if err != nil {
		return err
	}

	db, err := store.Open(config.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	apiKey := stratAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	var ai *strategise.AIClient
	if apiKey != "" {
		ai = strategise.NewAIClient(apiKey, cfg.AI.Model)
	}

	client := fetcher.NewClient()
	runner := &strategise.Runner{
		Book:  db,
		Evals: db,
		NewEngine: func(threads int) (habits.Analyser, error) {
			return engine.NewSession(sfPath, threads)
		},
		Fetch: func(spec strategise.PlayerSpec) error {
			opts, err := fetchOptionsFor(spec, cfg.Fetch.MaxGames)
			if err != nil {
				return err
			}
			fmt.Printf("No cached games for %s as %s, fetching\n", spec.Username, spec.Color)
			games, err := client.Fetch(db, opts)
			if err != nil {
				return err
			}
			fmt.Printf("Indexed %d games for %s\n", games, spec.Username)
			return nil
		},
		RawGames: func(spec strategise.PlayerSpec) (io.ReadCloser, error) {
			opts, err := fetchOptionsFor(spec, cfg.Strategise.PhaseGames)
			if err != nil {
				return nil, err
			}
			return client.RawPGN(opts)
		},
		AI:   ai,
		Logf: verbosef,
	}

	scfg := strategise.Config{
		Player: strategise.PlayerSpec{
			Username: stratPlayer,
			Platform: stratPlayerPlatform,
			Color:    stratPlayerColor,
			Speeds:   stratPlayerSpeeds,
		},
		Opponent: strategise.PlayerSpec{
			Username: stratOpponent,
			Platform: stratOpponentPlatform,
			Speeds:   stratOpponentSpeeds,
		},
		MinGames:      intFlag(cmd, "min-games", stratMinGames, cfg.Strategise.MinGames),
		MaxPositions:  intFlag(cmd, "max-positions", stratMaxPositions, cfg.Strategise.MaxPositions),
		MinEvalGapCP:  float64(intFlag(cmd, "min-eval-gap", stratMinEvalGap, cfg.Strategise.MinEvalGapCP)),
		Depth:         intFlag(cmd, "depth", stratDepth, cfg.Strategise.Depth),
		EngineThreads: engineThreads(cfg),
		OutPath:       stratOut,
	}

	fmt.Printf("Preparing %s (%s) against %s\n", stratPlayer, stratPlayerColor, stratOpponent)
	report, err := runner.Run(scfg)
	if err != nil {
		return err
	}

	printStrategiseSummary(report)
	fmt.Printf("\nWrote report to %s\n", stratOut)
	return nil
}

// fetchOptionsFor converts a report player spec into download options.
func fetchOptionsFor(spec strategise.PlayerSpec, maxGames int) (fetcher.FetchOptions, error) {
	side, err := sideOf(spec.Color)
	if err != nil {
		return fetcher.FetchOptions{}, err
	}
	return fetcher.FetchOptions{
		Platform: spec.Platform,
		Username: spec.Username,
		Side:     side,
		Speeds:   spec.Speeds,
		MaxGames: maxGames,
		MaxPlies: config.DefaultFetch.MaxPlies,
	}, nil
}

func printStrategiseSummary(report *strategise.Report) {
	fmt.Println(output.Section("Key positions"))
	table := output.NewTable("#", "Type", "Move", "Detail")
	for i, kp := range report.KeyPositions {
		table.AddRow(fmt.Sprintf("%d", i+1), kp.Type, kp.MoveSAN, kp.Label)
	}
	if table.Len() == 0 {
		fmt.Println("No key positions found; the repertoires may not overlap at this game floor.")
	} else {
		table.Print()
	}

	fmt.Printf("\n%d battlegrounds, %d reachable opponent weaknesses, %d preparation gaps\n",
		len(report.Battlegrounds), len(report.OpponentWeaknesses), len(report.PrepGaps))
	if report.AIAvailable {
		fmt.Println(output.Section("Strategic brief"))
		fmt.Println(report.StrategicBrief)
	}
}
