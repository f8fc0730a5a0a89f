package search

import (
	"fmt"

	"github.com/notnil/chess"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

// Walker traverses book theory from a root position, alternating between
// the player's candidate moves and the opponent's most likely replies,
// and collects moves rare enough to qualify as novelties.
type Walker struct {
	cfg      Config
	masters  Explorer
	player   Explorer // nil disables the player repertoire filter
	opponent Explorer // nil disables opponent repertoire weighting
	engine   Analyser
	evals    EvalCache

	visited map[string]bool
	pending []model.PendingNovelty
	warnf   func(format string, args ...any)
}

// NewWalker builds a walker. The player and opponent explorers may be nil;
// the masters explorer, engine, and eval cache are required. warnf receives
// non-fatal problems encountered during the walk and may be nil.
func NewWalker(cfg Config, masters Explorer, player, opponent Explorer, engine Analyser, evals EvalCache, warnf func(string, ...any)) *Walker {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	return &Walker{
		cfg:      cfg,
		masters:  masters,
		player:   player,
		opponent: opponent,
		engine:   engine,
		evals:    evals,
		visited:  make(map[string]bool),
		warnf:    warnf,
	}
}

// Walk runs the traversal and returns the candidate novelties found.
// Walking the same tree twice returns the same candidates: every quick
// evaluation is served from the eval cache on the second pass. A failing
// explorer or engine prunes the affected subtree with a warning instead
// of aborting the walk.
func (w *Walker) Walk() ([]model.PendingNovelty, error) {
	pos, err := model.PositionFromFEN(w.cfg.FEN)
	if err != nil {
		return nil, err
	}
	w.walk(pos, nil)
	return w.pending, nil
}

// Visited reports how many positions the walk examined.
func (w *Walker) Visited() int {
	return len(w.visited)
}

func (w *Walker) walk(pos *chess.Position, bookMoves []string) {
	if len(w.visited) >= w.cfg.MaxPositions {
		return
	}
	if len(bookMoves) >= w.cfg.MaxBookPlies {
		return
	}

	fen := pos.String()
	if w.visited[fen] {
		return
	}
	w.visited[fen] = true

	data, err := w.masters.Data(fen)
	if err != nil {
		// An unreadable book position is treated as out of book.
		w.warnf("book lookup at %s: %v", fen, err)
		return
	}
	// Out of book: too few master games reach this position.
	if data == nil || data.Total() < w.cfg.MinBookGames {
		return
	}

	if pos.Turn() == w.cfg.Side {
		w.walkOurTurn(pos, fen, data, bookMoves)
		return
	}
	w.walkOpponentTurn(pos, data, bookMoves)
}

// walkOurTurn examines the engine's candidate moves at a position where
// the player is to move. Rare moves become pending novelties; known book
// moves are recursed into when the player's own repertoire supports them.
func (w *Walker) walkOurTurn(pos *chess.Position, fen string, data *model.ExplorerData, bookMoves []string) {
	lines, err := w.quickLines(fen)
	if err != nil {
		w.warnf("quick analysis at %s: %v", fen, err)
		return
	}

	for _, line := range lines {
		evalPov := line.WhiteCP
		if w.cfg.Side == chess.Black {
			evalPov = -evalPov
		}

		games := data.GamesForMove(line.UCI)
		if games <= w.cfg.NoveltyThreshold {
			// A novelty that leaves the player clearly worse is never
			// worth a deep look. Book moves are exempt: the quick pass is
			// too shallow to veto established theory, and pruning here
			// would hide every novelty deeper in the line.
			if evalPov < w.cfg.MinEvalCP {
				continue
			}
			w.pending = append(w.pending, model.PendingNovelty{
				FEN:              fen,
				BookMoves:        append([]string(nil), bookMoves...),
				Move:             line.UCI,
				PreNoveltyGames:  data.Total(),
				PostNoveltyGames: games,
				QuickEvalCP:      float64(evalPov),
			})
			continue
		}

		if !w.playerPlays(fen, line.UCI) {
			continue
		}
		next, err := model.ApplyUCI(pos, line.UCI)
		if err != nil {
			w.warnf("skipping unplayable engine move %s at %s: %v", line.UCI, fen, err)
			continue
		}
		extended := append(append(make([]string, 0, len(bookMoves)+1), bookMoves...), line.UCI)
		w.walk(next, extended)
	}
}

// walkOpponentTurn follows the opponent's most likely replies. When the
// opponent's own games cover the position well enough, their tree is used;
// otherwise the masters statistics stand in.
func (w *Walker) walkOpponentTurn(pos *chess.Position, data *model.ExplorerData, bookMoves []string) {
	source := data
	if w.opponent != nil {
		odata, err := w.opponent.Data(pos.String())
		if err != nil {
			// Fall back to the masters statistics for this position.
			w.warnf("opponent explorer at %s: %v", pos.String(), err)
		} else if odata != nil && odata.Total() >= w.cfg.MinOpponentGames {
			source = odata
		}
	}

	for _, m := range source.TopMoves(w.cfg.OpponentResponses) {
		if m.Total() == 0 {
			continue
		}
		next, err := model.ApplyUCI(pos, m.UCI)
		if err != nil {
			w.warnf("skipping unplayable book move %s at %s: %v", m.UCI, pos.String(), err)
			continue
		}
		extended := append(append(make([]string, 0, len(bookMoves)+1), bookMoves...), m.UCI)
		w.walk(next, extended)
	}
}

// playerPlays reports whether the walk should follow a book move as part
// of the player's repertoire. With no player data for the position, or no
// player explorer at all, the filter is permissive and every book move is
// followed.
func (w *Walker) playerPlays(fen, uci string) bool {
	if w.player == nil {
		return true
	}
	pdata, err := w.player.Data(fen)
	if err != nil {
		w.warnf("player explorer at %s: %v", fen, err)
		return true
	}
	if pdata == nil || pdata.Total() == 0 {
		return true
	}
	return pdata.GamesForMove(uci) >= w.cfg.MinPlayerGames
}

// quickLines returns the top engine candidates for a position, serving
// from the eval cache when it holds a deep and wide enough entry. Cache
// read and write failures degrade to a plain engine run.
func (w *Walker) quickLines(fen string) ([]model.EvalMove, error) {
	depth := w.cfg.QuickDepth()
	cached, err := w.evals.GetEvals(fen, depth, w.cfg.EngineCandidates)
	if err != nil {
		w.warnf("eval cache read at %s: %v", fen, err)
	}
	if cached != nil {
		if len(cached) > w.cfg.EngineCandidates {
			cached = cached[:w.cfg.EngineCandidates]
		}
		return cached, nil
	}

	lines, err := w.engine.AnalyseMultiPV(fen, depth, w.cfg.EngineCandidates, w.cfg.QuickTimeCap)
	if err != nil {
		return nil, fmt.Errorf("quick analysis of %s: %w", fen, err)
	}
	moves := make([]model.EvalMove, 0, len(lines))
	for _, l := range lines {
		moves = append(moves, model.EvalMove{UCI: l.Move, WhiteCP: l.CPWhite})
	}
	if err := w.evals.PutEvals(fen, w.cacheDepth(lines, depth), w.cfg.EngineCandidates, moves); err != nil {
		w.warnf("eval cache write at %s: %v", fen, err)
	}
	if len(moves) > w.cfg.EngineCandidates {
		moves = moves[:w.cfg.EngineCandidates]
	}
	return moves, nil
}

// cacheDepth picks the depth a quick analysis is cached at. Under a
// movetime cap the engine stops wherever the clock ran out, so the
// shallowest reached depth across the lines is recorded instead of the
// depth that was asked for.
func (w *Walker) cacheDepth(lines []model.EngineLine, requested int) int {
	if w.cfg.QuickTimeCap <= 0 {
		return requested
	}
	reached := 0
	for _, l := range lines {
		if l.Depth > 0 && (reached == 0 || l.Depth < reached) {
			reached = l.Depth
		}
	}
	if reached == 0 {
		// No depth reported; never overstate a capped search.
		return 1
	}
	return reached
}
