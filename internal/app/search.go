package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/notnil/chess"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/prepwatch/internal/config"
	"github.com/blackwell-systems/prepwatch/internal/engine"
	"github.com/blackwell-systems/prepwatch/internal/explorer"
	"github.com/blackwell-systems/prepwatch/internal/export"
	"github.com/blackwell-systems/prepwatch/internal/model"
	"github.com/blackwell-systems/prepwatch/internal/output"
	"github.com/blackwell-systems/prepwatch/internal/score"
	"github.com/blackwell-systems/prepwatch/internal/search"
	"github.com/blackwell-systems/prepwatch/internal/store"
)

var (
	searchFEN               string
	searchSide              string
	searchPlies             int
	searchBeam              int
	searchMinBookGames      int
	searchNoveltyThreshold  int
	searchOpponentResponses int
	searchDepths            string
	searchTimeMS            int
	searchMinEval           int
	searchContinuations     int
	searchWorkers           int
	searchMaxPositions      int
	searchMaxCandidates     int
	searchOut               string
	searchPlayer            string
	searchOpponent          string
	searchPlayerPlatform    string
	searchOpponentPlatform  string
	searchPlayerSpeeds      string
	searchOpponentSpeeds    string
	searchMinPlayerGames    int
	searchMinOpponentGames  int
	searchLocalOnly         bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Walk opening theory and surface scored novelties",
	Long: `Walk the masters opening book from a starting position, find moves the
engine rates highly but nobody has played, evaluate the survivors deeply
in parallel, and write the ranked results as a PGN study.

With --player and/or --opponent set, the walk is restricted to lines the
player actually reaches with their repertoire and replies the opponent
actually plays. Player trees come from the local cache built by
'prepwatch fetch'; when both names are set the run defaults to cache-only
operation (override with --local-only=false).

Examples:
  prepwatch search --side white
  prepwatch search --side white --plies 16 --depths 22,26
  prepwatch search --side black --player mygamertag --opponent theirtag`,
	RunE: runSearch,
}

func init() {
	d := config.DefaultSearch
	searchCmd.Flags().StringVar(&searchFEN, "fen", chess.StartingPosition().String(), "Root position to search from")
	searchCmd.Flags().StringVar(&searchSide, "side", "", "Side to find novelties for: white or black (required)")
	searchCmd.Flags().IntVar(&searchPlies, "plies", d.MaxBookPlies, "Maximum book depth to walk, in half-moves")
	searchCmd.Flags().IntVar(&searchBeam, "beam", d.EngineCandidates, "Engine candidate moves per position")
	searchCmd.Flags().IntVar(&searchMinBookGames, "min-book-games", d.MinBookGames, "Minimum master games for a position to stay in book")
	searchCmd.Flags().IntVar(&searchNoveltyThreshold, "novelty-threshold", d.NoveltyThreshold, "Maximum master games for a move to count as a novelty")
	searchCmd.Flags().IntVar(&searchOpponentResponses, "opponent-responses", d.OpponentResponses, "Opponent replies followed per book position")
	searchCmd.Flags().StringVar(&searchDepths, "depths", d.Depths, "Comma-separated deep evaluation depths")
	searchCmd.Flags().IntVar(&searchTimeMS, "time-ms", d.QuickTimeMS, "Time cap per quick evaluation, in milliseconds")
	searchCmd.Flags().IntVar(&searchMinEval, "min-eval", d.MinEvalCP, "Minimum quick eval (centipawns, our view) to keep a candidate")
	searchCmd.Flags().IntVar(&searchContinuations, "continuations", d.ContinuationPlies, "Engine continuation length after each novelty, in half-moves")
	searchCmd.Flags().IntVar(&searchWorkers, "workers", d.Workers, "Parallel deep evaluation workers")
	searchCmd.Flags().IntVar(&searchMaxPositions, "max-positions", d.MaxPositions, "Maximum book positions to visit")
	searchCmd.Flags().IntVar(&searchMaxCandidates, "max-candidates", d.MaxCandidates, "Maximum candidates kept for deep evaluation")
	searchCmd.Flags().StringVar(&searchOut, "out", "ideas.pgn", "Output PGN path")
	searchCmd.Flags().StringVar(&searchPlayer, "player", "", "Restrict the walk to this player's repertoire")
	searchCmd.Flags().StringVar(&searchOpponent, "opponent", "", "Restrict opponent replies to this player's games")
	searchCmd.Flags().StringVar(&searchPlayerPlatform, "player-platform", explorer.PlatformLichess, "Player's platform: lichess or chesscom")
	searchCmd.Flags().StringVar(&searchOpponentPlatform, "opponent-platform", explorer.PlatformLichess, "Opponent's platform: lichess or chesscom")
	searchCmd.Flags().StringVar(&searchPlayerSpeeds, "player-speeds", config.DefaultSpeeds, "Player's time controls, comma-separated")
	searchCmd.Flags().StringVar(&searchOpponentSpeeds, "opponent-speeds", config.DefaultSpeeds, "Opponent's time controls, comma-separated")
	searchCmd.Flags().IntVar(&searchMinPlayerGames, "min-player-games", d.MinPlayerGames, "Minimum games for a move to count as the player's repertoire")
	searchCmd.Flags().IntVar(&searchMinOpponentGames, "min-opponent-games", d.MinOpponentGames, "Minimum games for a reply to count as the opponent's repertoire")
	searchCmd.Flags().BoolVar(&searchLocalOnly, "local-only", false, "Serve player trees from the local cache only (default true when --player or --opponent is set)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupOutput()

	if searchSide == "" {
		return fmt.Errorf("--side is required")
	}
	side, err := sideOf(searchSide)
	if err != nil {
		return err
	}
	if _, err := model.PositionFromFEN(searchFEN); err != nil {
		return fmt.Errorf("invalid --fen: %w", err)
	}

	depths, err := parseDepths(stringFlag(cmd, "depths", searchDepths, cfg.Search.Depths))
	if err != nil {
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

	scfg := search.Config{
		FEN:               searchFEN,
		Side:              side,
		MaxBookPlies:      intFlag(cmd, "plies", searchPlies, cfg.Search.MaxBookPlies),
		MinBookGames:      intFlag(cmd, "min-book-games", searchMinBookGames, cfg.Search.MinBookGames),
		NoveltyThreshold:  intFlag(cmd, "novelty-threshold", searchNoveltyThreshold, cfg.Search.NoveltyThreshold),
		MaxPositions:      intFlag(cmd, "max-positions", searchMaxPositions, cfg.Search.MaxPositions),
		EngineCandidates:  intFlag(cmd, "beam", searchBeam, cfg.Search.EngineCandidates),
		OpponentResponses: intFlag(cmd, "opponent-responses", searchOpponentResponses, cfg.Search.OpponentResponses),
		MinEvalCP:         intFlag(cmd, "min-eval", searchMinEval, cfg.Search.MinEvalCP),
		QuickTimeCap:      time.Duration(intFlag(cmd, "time-ms", searchTimeMS, cfg.Search.QuickTimeMS)) * time.Millisecond,
		MinPlayerGames:    intFlag(cmd, "min-player-games", searchMinPlayerGames, cfg.Search.MinPlayerGames),
		MinOpponentGames:  intFlag(cmd, "min-opponent-games", searchMinOpponentGames, cfg.Search.MinOpponentGames),
		Depths:            depths,
		ContinuationPlies: intFlag(cmd, "continuations", searchContinuations, cfg.Search.ContinuationPlies),
		MaxWorkers:        intFlag(cmd, "workers", searchWorkers, cfg.Search.Workers),
		MaxCandidates:     intFlag(cmd, "max-candidates", searchMaxCandidates, cfg.Search.MaxCandidates),
	}

	// With named players the run defaults to serving trees from the local
	// cache; the public per-player endpoints are too slow for a full walk.
	localOnly := searchLocalOnly
	if !cmd.Flags().Changed("local-only") {
		localOnly = searchPlayer != "" || searchOpponent != ""
	}

	var playerExp, opponentExp search.Explorer
	if searchPlayer != "" {
		p, err := explorer.NewPlayer(db, searchPlayerPlatform, searchPlayer, colorName(side), searchPlayerSpeeds)
		if err != nil {
			return fmt.Errorf("player explorer: %w", err)
		}
		p.LocalOnly = localOnly
		playerExp = p
	}
	if searchOpponent != "" {
		o, err := explorer.NewPlayer(db, searchOpponentPlatform, searchOpponent, colorName(side.Other()), searchOpponentSpeeds)
		if err != nil {
			return fmt.Errorf("opponent explorer: %w", err)
		}
		o.LocalOnly = localOnly
		opponentExp = o
	}

	fmt.Printf("Searching for %s novelties (book depth %d, deep depths %v)\n",
		colorName(side), scfg.MaxBookPlies, depths)

	quick, err := engine.NewSession(sfPath, 1)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	walker := search.NewWalker(scfg, explorer.NewMasters(db), playerExp, opponentExp, quick, db, warnf)
	pending, err := walker.Walk()
	_ = quick.Close()
	if err != nil {
		return fmt.Errorf("walking theory: %w", err)
	}
	verbosef("visited %d book positions, %d raw candidates", walker.Visited(), len(pending))

	candidates := search.PruneCandidates(pending, scfg.MaxCandidates)
	if len(candidates) == 0 {
		fmt.Println("No candidate novelties found. Try a deeper walk or a lower --novelty-threshold.")
		return nil
	}
	fmt.Printf("Deep-evaluating %d candidates with %d workers\n", len(candidates), scfg.MaxWorkers)

	factory := func() (search.EvalSession, error) { return engine.NewSession(sfPath, 1) }
	novelties, err := search.DeepEvaluate(scfg, candidates, factory, warnf)
	if err != nil {
		return fmt.Errorf("deep evaluation: %w", err)
	}
	if len(novelties) == 0 {
		fmt.Println("No novelties survived deep evaluation.")
		return nil
	}

	ranked := score.Rank(novelties, side)
	pgn, err := export.Novelties(searchFEN, ranked, searchPlayer, side)
	if err != nil {
		return fmt.Errorf("rendering PGN: %w", err)
	}
	if err := os.WriteFile(searchOut, []byte(pgn), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", searchOut, err)
	}

	printSearchSummary(searchFEN, ranked, side)
	fmt.Printf("\nWrote %d novelties to %s\n", len(ranked), searchOut)
	return nil
}

func printSearchSummary(rootFEN string, ranked []model.ScoredNovelty, side chess.Color) {
	fmt.Println(output.Section("Top novelties"))
	table := output.NewTable("#", "Line", "Novelty", "Eval", "Score")
	for i, sn := range ranked {
		if i >= 5 {
			break
		}
		table.AddRow(
			fmt.Sprintf("%d", i+1),
			lineSummary(rootFEN, sn.Novelty.BookMoves),
			noveltySAN(rootFEN, sn.Novelty),
			output.Eval(deepestEval(sn.Novelty), side),
			fmt.Sprintf("%.1f", sn.Score),
		)
	}
	table.Print()
}

// lineSummary renders the tail of the book line in SAN, at most the last
// four moves, so the table stays narrow.
func lineSummary(rootFEN string, bookMoves []string) string {
	pos, err := model.PositionFromFEN(rootFEN)
	if err != nil {
		return strings.Join(bookMoves, " ")
	}
	sans := make([]string, 0, len(bookMoves))
	for _, uci := range bookMoves {
		sans = append(sans, model.SAN(pos, uci))
		next, err := model.ApplyUCI(pos, uci)
		if err != nil {
			break
		}
		pos = next
	}
	if len(sans) > 4 {
		sans = append([]string{"..."}, sans[len(sans)-4:]...)
	}
	return strings.Join(sans, " ")
}

func noveltySAN(rootFEN string, nov model.NoveltyLine) string {
	root, err := model.PositionFromFEN(rootFEN)
	if err != nil {
		return nov.NoveltyMove
	}
	pos, err := model.ApplyLine(root, nov.BookMoves)
	if err != nil {
		return nov.NoveltyMove
	}
	return model.SAN(pos, nov.NoveltyMove)
}

// deepestEval returns the evaluation at the greatest analysed depth.
func deepestEval(nov model.NoveltyLine) model.EngineEval {
	best := -1
	var ev model.EngineEval
	for depth, e := range nov.Evals {
		if depth > best {
			best, ev = depth, e
		}
	}
	return ev
}
