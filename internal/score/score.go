// Package score ranks deeply evaluated novelties with a composite of
// engine evaluation, cross-depth stability, and how early in the game
// the novelty appears.
package score

import (
	"math"
	"sort"

	"github.com/notnil/chess"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

const (
	// stabilityWeight penalizes evaluations that swing between depths.
	stabilityWeight = 8.0

	// depthWeight and the bell parameters reward novelties around the
	// middle of typical preparation depth. The bonus peaks at ply 14
	// and falls off with a spread of 8 plies.
	depthWeight = 30.0
	depthPeak   = 14.0
	depthSigma  = 8.0

	// mateValueCP substitutes for mate announcements when averaging.
	mateValueCP = 10000.0
)

// Novelty computes the composite score for a single novelty from the
// given side's perspective. The same inputs always produce the same
// score.
func Novelty(nov model.NoveltyLine, side chess.Color) model.ScoredNovelty {
	// Accumulate in depth order so the floating-point sums come out
	// bit-identical on every run.
	depths := make([]int, 0, len(nov.Evals))
	for d := range nov.Evals {
		depths = append(depths, d)
	}
	sort.Ints(depths)
	evals := make([]float64, 0, len(depths))
	for _, d := range depths {
		evals = append(evals, evalValue(nov.Evals[d], side))
	}

	mean := meanOf(evals)
	stability := stddevOf(evals, mean)
	plyBonus := depthWeight * math.Exp(-math.Pow(float64(nov.NoveltyPly)-depthPeak, 2)/(2*depthSigma*depthSigma))

	return model.ScoredNovelty{
		Novelty:   nov,
		EvalCP:    mean,
		Stability: stability,
		Score:     mean - stabilityWeight*stability + plyBonus,
	}
}

// Rank scores all novelties and returns them ordered best first.
func Rank(novelties []model.NoveltyLine, side chess.Color) []model.ScoredNovelty {
	scored := make([]model.ScoredNovelty, 0, len(novelties))
	for _, nov := range novelties {
		scored = append(scored, Novelty(nov, side))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

func evalValue(e model.EngineEval, side chess.Color) float64 {
	if e.MateWhite != 0 {
		v := mateValueCP
		if e.MateWhite < 0 {
			v = -mateValueCP
		}
		if side == chess.Black {
			v = -v
		}
		return v
	}
	return float64(e.CPPov(side))
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddevOf returns the sample standard deviation, or zero when fewer
// than two values are present.
func stddevOf(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
