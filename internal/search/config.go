// Package search walks opening theory to find candidate novelties, prunes
// them, and evaluates the survivors deeply with a pool of engine workers.
package search

import (
	"time"

	"github.com/notnil/chess"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

// Explorer supplies opening statistics for a position. A nil result with a
// nil error means no data is available for the position.
type Explorer interface {
	Data(fen string) (*model.ExplorerData, error)
}

// Analyser runs multi-PV engine analysis. The quick pass used during the
// walk sets a time cap; the deep pass does not.
type Analyser interface {
	AnalyseMultiPV(fen string, depth, multipv int, timeCap time.Duration) ([]model.EngineLine, error)
}

// EvalCache persists quick engine evaluations between runs.
type EvalCache interface {
	GetEvals(fen string, depth, multipv int) ([]model.EvalMove, error)
	PutEvals(fen string, depth, multipv int, moves []model.EvalMove) error
}

// Config holds all tunables for a novelty search.
type Config struct {
	FEN  string
	Side chess.Color

	// Walk limits.
	MaxBookPlies     int
	MinBookGames     int
	NoveltyThreshold int
	MaxPositions     int

	// Candidate generation.
	EngineCandidates  int
	OpponentResponses int
	MinEvalCP         int
	QuickTimeCap      time.Duration

	// Repertoire filtering.
	MinPlayerGames   int
	MinOpponentGames int

	// Deep evaluation.
	Depths            []int
	ContinuationPlies int
	MaxWorkers        int
	MaxCandidates     int
}

// QuickDepth is the depth used for the walk's quick evaluations: the
// shallowest of the configured deep depths.
func (c *Config) QuickDepth() int {
	if len(c.Depths) == 0 {
		return 20
	}
	min := c.Depths[0]
	for _, d := range c.Depths[1:] {
		if d < min {
			min = d
		}
	}
	return min
}
