// Package habits mines a player's cached opening book for moves they play
// habitually that the engine considers clearly inferior.
package habits

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/notnil/chess"

	"github.com/blackwell-systems/prepwatch/internal/explorer"
	"github.com/blackwell-systems/prepwatch/internal/model"
	"github.com/blackwell-systems/prepwatch/internal/store"
)

// BookStore reads a player's cached opening book.
type BookStore interface {
	ScanBackend(backend string) ([]store.PositionEntry, error)
}

// EvalCache persists engine evaluations between runs.
type EvalCache interface {
	GetEvals(fen string, depth, multipv int) ([]model.EvalMove, error)
	PutEvals(fen string, depth, multipv int, moves []model.EvalMove) error
}

// Analyser is an engine session the analysis can drive.
type Analyser interface {
	AnalyseMultiPV(fen string, depth, multipv int, timeCap time.Duration) ([]model.EngineLine, error)
	Close() error
}

// EngineFactory starts an engine session. It is only invoked when at
// least one position misses the evaluation cache.
type EngineFactory func() (Analyser, error)

// Config holds the tunables for a habit analysis.
type Config struct {
	Backend      string
	Side         chess.Color
	MinGames     int
	MinEvalGapCP float64
	Depth        int
	MaxPositions int
	TopN         int
}

// multipvFor sizes the engine search so every qualifying habitual move
// plus the engine's own best move fits in the returned lines, within the
// engine's practical multi-PV range.
func multipvFor(qualifying int) int {
	k := qualifying + 1
	if k < 5 {
		k = 5
	}
	if k > 20 {
		k = 20
	}
	return k
}

type position struct {
	fen   string
	data  *model.ExplorerData
	games int
}

// Analyze scans the cached book, evaluates the positions the player
// reaches most often, and reports their habitual moves that lose at least
// the configured margin against the engine's best move. Results are
// ordered by impact: frequency times evaluation gap.
func Analyze(cfg Config, book BookStore, evals EvalCache, newEngine EngineFactory, logf func(string, ...any)) ([]model.HabitInaccuracy, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	entries, err := book.ScanBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no cached games for backend %q: fetch the player's games first", cfg.Backend)
	}

	positions := collectPositions(entries, cfg.Side, logf)
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].games > positions[j].games
	})
	// Keep a generous multiple before filtering: many positions will
	// have no move played often enough to count as a habit.
	if limit := cfg.MaxPositions * 5; limit > 0 && len(positions) > limit {
		positions = positions[:limit]
	}

	var (
		engine   Analyser
		analyzed int
		found    []model.HabitInaccuracy
	)
	defer func() {
		if engine != nil {
			engine.Close()
		}
	}()

	for _, pos := range positions {
		if cfg.MaxPositions > 0 && analyzed >= cfg.MaxPositions {
			break
		}

		var qualifying []model.MoveStats
		for _, m := range pos.data.Moves {
			if m.Total() >= cfg.MinGames {
				qualifying = append(qualifying, m)
			}
		}
		if len(qualifying) == 0 {
			continue
		}
		analyzed++

		boardPos, err := model.PositionFromFEN(pos.fen)
		if err != nil {
			logf("skipping book entry with bad FEN %s: %v", pos.fen, err)
			continue
		}

		multipv := multipvFor(len(qualifying))
		lines, fromCache, eng, err := cachedLines(cfg, evals, engine, newEngine, pos.fen, multipv)
		engine = eng
		if err != nil {
			logf("skipping %s: %v", pos.fen, err)
			continue
		}
		if len(lines) == 0 {
			continue
		}

		best := bestLine(lines, cfg.Side)
		// A stale cached row can name a move that is not legal in this
		// position; those fall through to a fresh engine run, which also
		// overwrites the bad cache entry.
		if fromCache {
			if _, derr := model.DecodeUCI(boardPos, best.UCI); derr != nil {
				lines, eng, err = engineLines(cfg, evals, engine, newEngine, pos.fen, multipv)
				engine = eng
				if err != nil {
					logf("skipping %s: %v", pos.fen, err)
					continue
				}
				if len(lines) == 0 {
					continue
				}
				best = bestLine(lines, cfg.Side)
			}
		}
		bestPov := povCP(best.WhiteCP, cfg.Side)
		bestUCI := best.UCI

		for _, habit := range qualifying {
			// The engine's own best move is never an inaccuracy.
			if habit.UCI == bestUCI {
				continue
			}
			movePov, eng, err := moveEval(cfg, evals, engine, newEngine, pos.fen, habit.UCI, lines)
			if err != nil {
				logf("evaluating %s at %s: %v", habit.UCI, pos.fen, err)
				continue
			}
			engine = eng

			gap := bestPov - movePov
			if gap < cfg.MinEvalGapCP {
				continue
			}

			found = append(found, model.HabitInaccuracy{
				FEN:             pos.fen,
				TotalGames:      pos.games,
				PlayerMoveUCI:   habit.UCI,
				PlayerMoveSAN:   model.SAN(boardPos, habit.UCI),
				PlayerMoveGames: habit.Total(),
				BestMoveUCI:     bestUCI,
				BestMoveSAN:     model.SAN(boardPos, bestUCI),
				EvalCP:          bestPov,
				PlayerEvalCP:    movePov,
				EvalGapCP:       gap,
				Score:           float64(habit.Total()) * gap / 100,
			})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Score > found[j].Score
	})
	if cfg.TopN > 0 && len(found) > cfg.TopN {
		found = found[:cfg.TopN]
	}
	return found, nil
}

// collectPositions parses book entries, keeping only positions where the
// player is to move. Bookkeeping entries, keyed with a leading
// underscore, are skipped.
func collectPositions(entries []store.PositionEntry, side chess.Color, logf func(string, ...any)) []position {
	var positions []position
	for _, e := range entries {
		if strings.HasPrefix(e.FEN, "_") {
			continue
		}
		data, err := explorer.ParsePayload(e.Payload)
		if err != nil {
			logf("skipping unreadable book entry %s: %v", e.FEN, err)
			continue
		}
		pos, err := model.PositionFromFEN(e.FEN)
		if err != nil {
			logf("skipping book entry with bad FEN %s: %v", e.FEN, err)
			continue
		}
		if pos.Turn() != side {
			continue
		}
		positions = append(positions, position{fen: e.FEN, data: data, games: data.Total()})
	}
	return positions
}

// bestLine picks the strongest line from the given side's point of view.
func bestLine(lines []model.EvalMove, side chess.Color) model.EvalMove {
	best := lines[0]
	bestPov := povCP(best.WhiteCP, side)
	for _, l := range lines[1:] {
		if pov := povCP(l.WhiteCP, side); pov > bestPov {
			best, bestPov = l, pov
		}
	}
	return best
}

// cachedLines returns the multi-PV evaluation for a position, consulting
// the cache before starting or using an engine. The bool reports whether
// the lines came from the cache.
func cachedLines(cfg Config, evals EvalCache, engine Analyser, newEngine EngineFactory, fen string, multipv int) ([]model.EvalMove, bool, Analyser, error) {
	cached, err := evals.GetEvals(fen, cfg.Depth, multipv)
	if err != nil {
		return nil, false, engine, err
	}
	if cached != nil {
		return cached, true, engine, nil
	}
	moves, engine, err := engineLines(cfg, evals, engine, newEngine, fen, multipv)
	return moves, false, engine, err
}

// engineLines runs the engine on a position, starting a session if none
// is live yet, and stores the result in the cache.
func engineLines(cfg Config, evals EvalCache, engine Analyser, newEngine EngineFactory, fen string, multipv int) ([]model.EvalMove, Analyser, error) {
	if engine == nil {
		var err error
		engine, err = newEngine()
		if err != nil {
			return nil, nil, err
		}
	}
	lines, err := engine.AnalyseMultiPV(fen, cfg.Depth, multipv, 0)
	if err != nil {
		return nil, engine, err
	}
	moves := make([]model.EvalMove, 0, len(lines))
	for _, l := range lines {
		moves = append(moves, model.EvalMove{UCI: l.Move, WhiteCP: l.CPWhite})
	}
	if err := evals.PutEvals(fen, cfg.Depth, multipv, moves); err != nil {
		return nil, engine, err
	}
	return moves, engine, nil
}

// moveEval returns the player move's evaluation from the player's point
// of view. When the multi-PV lines do not cover the move, which happens
// when a cached entry predates the move or the move is far down the list,
// the position after the move is evaluated directly instead.
func moveEval(cfg Config, evals EvalCache, engine Analyser, newEngine EngineFactory, fen, uci string, lines []model.EvalMove) (float64, Analyser, error) {
	for _, l := range lines {
		if l.UCI == uci {
			return povCP(l.WhiteCP, cfg.Side), engine, nil
		}
	}

	pos, err := model.PositionFromFEN(fen)
	if err != nil {
		return 0, engine, err
	}
	after, err := model.ApplyUCI(pos, uci)
	if err != nil {
		return 0, engine, err
	}

	successors, _, engine, err := cachedLines(cfg, evals, engine, newEngine, after.String(), 1)
	if err != nil {
		return 0, engine, err
	}
	if len(successors) == 0 {
		return 0, engine, fmt.Errorf("engine returned no lines for %q", after.String())
	}
	return povCP(successors[0].WhiteCP, cfg.Side), engine, nil
}

func povCP(whiteCP int, side chess.Color) float64 {
	if side == chess.Black {
		return -float64(whiteCP)
	}
	return float64(whiteCP)
}
