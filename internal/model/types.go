// Package model defines the core data types shared across prepwatch:
// opening explorer statistics, engine evaluations, and the novelty and
// habit records produced by analysis.
package model

import (
	"fmt"
	"sort"

	"github.com/notnil/chess"
)

// MoveStats holds aggregate game results for a single move in a position,
// as reported by an opening explorer.
type MoveStats struct {
	UCI           string
	White         int
	Draws         int
	Black         int
	AverageRating int
}

// Total returns the number of games in which the move was played.
func (m MoveStats) Total() int {
	return m.White + m.Draws + m.Black
}

// ExplorerData holds opening explorer statistics for a position: the
// aggregate result counts and the per-move breakdown.
type ExplorerData struct {
	White int
	Draws int
	Black int
	Moves []MoveStats
}

// Total returns the total number of games reaching the position.
func (d *ExplorerData) Total() int {
	return d.White + d.Draws + d.Black
}

// GamesForMove returns the game count for the given UCI move, or zero if
// the move does not appear in the explorer data.
func (d *ExplorerData) GamesForMove(uci string) int {
	for _, m := range d.Moves {
		if m.UCI == uci {
			return m.Total()
		}
	}
	return 0
}

// TopMoves returns up to n moves ordered by descending game count.
func (d *ExplorerData) TopMoves(n int) []MoveStats {
	moves := make([]MoveStats, len(d.Moves))
	copy(moves, d.Moves)
	sort.SliceStable(moves, func(i, j int) bool {
		return moves[i].Total() > moves[j].Total()
	})
	if n < len(moves) {
		moves = moves[:n]
	}
	return moves
}

// EngineLine is a single principal variation from a multi-PV engine search.
// CPWhite is the centipawn score from White's point of view. Mate is the
// number of moves to mate from White's point of view, or zero when the
// score is not a mate score. Depth is the search depth the engine actually
// reached for this line, which under a movetime cap can differ from the
// depth that was asked for.
type EngineLine struct {
	Move    string
	PV      []string
	CPWhite int
	Mate    int
	Depth   int
}

// EvalMove is a cached engine line: a UCI move and its centipawn score
// from White's point of view. Mate scores are stored as +-10000 adjusted
// by distance so ordering is preserved.
type EvalMove struct {
	UCI     string `json:"uci"`
	WhiteCP int    `json:"white_cp"`
}

// EngineEval is a single-position evaluation at a known depth, normalized
// to White's point of view.
type EngineEval struct {
	Depth     int
	CPWhite   int
	MateWhite int
}

// CPPov returns the centipawn score from the given side's point of view.
func (e EngineEval) CPPov(side chess.Color) int {
	if side == chess.Black {
		return -e.CPWhite
	}
	return e.CPWhite
}

// Display renders the evaluation in conventional pawn units, or as a mate
// announcement when the score is a mate score.
func (e EngineEval) Display() string {
	if e.MateWhite != 0 {
		return fmt.Sprintf("#%d", e.MateWhite)
	}
	return fmt.Sprintf("%+.2f", float64(e.CPWhite)/100)
}

// PendingNovelty is a candidate novelty found by the theory walk, before
// deep evaluation. BookMoves is the UCI move sequence from the root to the
// position where the novelty is played.
type PendingNovelty struct {
	FEN              string
	BookMoves        []string
	Move             string
	PreNoveltyGames  int
	PostNoveltyGames int
	QuickEvalCP      float64
}

// NoveltyLine is a deeply evaluated novelty: the book line leading to it,
// the novelty move, evaluations at each requested depth, and the engine's
// suggested continuation after the novelty. NoveltyPly is the 0-indexed
// ply the novelty is played at, i.e. the length of the book line.
type NoveltyLine struct {
	BookMoves        []string
	NoveltyMove      string
	NoveltyPly       int
	Evals            map[int]EngineEval
	PreNoveltyGames  int
	PostNoveltyGames int
	Continuations    []string
}

// ScoredNovelty pairs a novelty line with its composite score components.
type ScoredNovelty struct {
	Novelty   NoveltyLine
	EvalCP    float64
	Stability float64
	Score     float64
}

// HabitInaccuracy records a move a player habitually makes that the engine
// considers clearly inferior to the best move in the position.
type HabitInaccuracy struct {
	FEN             string
	TotalGames      int
	PlayerMoveUCI   string
	PlayerMoveSAN   string
	PlayerMoveGames int
	BestMoveUCI     string
	BestMoveSAN     string
	EvalCP          float64
	PlayerEvalCP    float64
	EvalGapCP       float64
	Score           float64
}
