// Package engine drives a UCI chess engine process and normalizes its
// multi-PV output to White's point of view.
package engine

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/freeeve/uci"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

// mateScoreCP substitutes for a centipawn value when the engine reports a
// forced mate, preserving ordering against ordinary scores.
const mateScoreCP = 10000

// FindStockfish locates a Stockfish binary: the PREPWATCH_STOCKFISH_PATH
// environment variable wins, otherwise PATH is searched.
func FindStockfish() (string, error) {
	if path := os.Getenv("PREPWATCH_STOCKFISH_PATH"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("PREPWATCH_STOCKFISH_PATH %q: %w", path, err)
		}
		return path, nil
	}
	path, err := exec.LookPath("stockfish")
	if err != nil {
		return "", fmt.Errorf("stockfish not found in PATH (set PREPWATCH_STOCKFISH_PATH): %w", err)
	}
	return path, nil
}

// Session is a single engine process. Sessions are not safe for
// concurrent use; run one session per worker.
type Session struct {
	eng        *uci.Engine
	threads    int
	curMultiPV int
}

// NewSession starts an engine process with the given thread budget.
func NewSession(path string, threads int) (*Session, error) {
	eng, err := uci.NewEngine(path)
	if err != nil {
		return nil, fmt.Errorf("starting engine %q: %w", path, err)
	}
	s := &Session{eng: eng, threads: threads}
	if err := s.setMultiPV(1); err != nil {
		eng.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) setMultiPV(multipv int) error {
	if multipv == s.curMultiPV {
		return nil
	}
	err := s.eng.SetOptions(uci.Options{
		MultiPV: multipv,
		Hash:    128,
		Threads: s.threads,
		Ponder:  false,
		OwnBook: false,
	})
	if err != nil {
		return fmt.Errorf("setting engine options: %w", err)
	}
	s.curMultiPV = multipv
	return nil
}

// AnalyseMultiPV evaluates a position with the requested number of
// principal variations, at a fixed depth or, when timeCap is positive,
// under a movetime cap instead. Lines are returned best first with scores
// normalized to White's point of view.
func (s *Session) AnalyseMultiPV(fen string, depth, multipv int, timeCap time.Duration) ([]model.EngineLine, error) {
	if err := s.setMultiPV(multipv); err != nil {
		return nil, err
	}
	if err := s.eng.SetFEN(fen); err != nil {
		return nil, fmt.Errorf("setting position: %w", err)
	}

	var (
		results *uci.Results
		err     error
	)
	if timeCap > 0 {
		results, err = s.eng.Go(0, "", timeCap.Milliseconds(), uci.HighestDepthOnly)
	} else {
		results, err = s.eng.GoDepth(depth, uci.HighestDepthOnly)
	}
	if err != nil {
		return nil, fmt.Errorf("analysing position: %w", err)
	}

	return convertLines(results.Results, strings.Contains(fen, " b ")), nil
}

// convertLines maps raw engine results to normalized lines. UCI scores
// are from the side to move, so they are flipped when Black is on move,
// and mate scores are substituted with large centipawn values that keep
// shorter mates ahead of longer ones.
func convertLines(results []uci.ScoreResult, blackToMove bool) []model.EngineLine {
	lines := make([]model.EngineLine, 0, len(results))
	for _, r := range results {
		if len(r.BestMoves) == 0 {
			continue
		}
		line := model.EngineLine{
			Move:  r.BestMoves[0],
			PV:    r.BestMoves,
			Depth: r.Depth,
		}
		score := r.Score
		if blackToMove {
			score = -score
		}
		if r.Mate {
			line.Mate = score
			if score > 0 {
				line.CPWhite = mateScoreCP - score
			} else {
				line.CPWhite = -mateScoreCP - score
			}
		} else {
			line.CPWhite = score
		}
		lines = append(lines, line)
	}

	// Best line first from the side to move's perspective, regardless of
	// the multipv order the engine emitted.
	sort.SliceStable(lines, func(i, j int) bool {
		if blackToMove {
			return lines[i].CPWhite < lines[j].CPWhite
		}
		return lines[i].CPWhite > lines[j].CPWhite
	})
	return lines
}

// AnalysePosition evaluates a position with a single principal variation
// at the given depth.
func (s *Session) AnalysePosition(fen string, depth int) (model.EngineLine, error) {
	lines, err := s.AnalyseMultiPV(fen, depth, 1, 0)
	if err != nil {
		return model.EngineLine{}, err
	}
	if len(lines) == 0 {
		return model.EngineLine{}, fmt.Errorf("engine returned no lines for %q", fen)
	}
	return lines[0], nil
}

// Close shuts the engine process down.
func (s *Session) Close() error {
	s.eng.Close()
	return nil
}
