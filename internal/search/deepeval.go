package search

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

// EvalSession is one engine process used by a deep evaluation worker.
type EvalSession interface {
	AnalysePosition(fen string, depth int) (model.EngineLine, error)
	Close() error
}

// SessionFactory starts a fresh engine session for a worker.
type SessionFactory func() (EvalSession, error)

// DeepEvaluate evaluates each candidate at every configured depth using a
// pool of engine workers, one engine process per worker. Candidates whose
// mean evaluation falls below the configured floor are dropped. A failure
// on one candidate is reported through warnf and does not abort the rest.
func DeepEvaluate(cfg Config, candidates []model.PendingNovelty, newSession SessionFactory, warnf func(string, ...any)) ([]model.NoveltyLine, error) {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	workers := cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	jobs := make(chan model.PendingNovelty)
	var (
		mu      sync.Mutex
		results []model.NoveltyLine
	)

	// The producer selects on the group context so a failed worker pool
	// cannot leave it blocked on the jobs channel.
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		defer close(jobs)
		for _, cand := range candidates {
			select {
			case jobs <- cand:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			session, err := newSession()
			if err != nil {
				return err
			}
			defer session.Close()

			for cand := range jobs {
				line, ok := evaluateCandidate(cfg, cand, session, warnf)
				if !ok {
					continue
				}
				mu.Lock()
				results = append(results, line)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// evaluateCandidate runs the full depth ladder for one candidate. The
// position evaluated is the one reached after the novelty move, so every
// score reflects what the player gets once the novelty is on the board.
func evaluateCandidate(cfg Config, cand model.PendingNovelty, session EvalSession, warnf func(string, ...any)) (model.NoveltyLine, bool) {
	pos, err := model.PositionFromFEN(cand.FEN)
	if err != nil {
		warnf("candidate %s at %s: %v", cand.Move, cand.FEN, err)
		return model.NoveltyLine{}, false
	}
	after, err := model.ApplyUCI(pos, cand.Move)
	if err != nil {
		warnf("candidate %s at %s: %v", cand.Move, cand.FEN, err)
		return model.NoveltyLine{}, false
	}
	afterFEN := after.String()

	evals := make(map[int]model.EngineEval, len(cfg.Depths))
	var continuations []string
	quickDepth := cfg.QuickDepth()

	for _, depth := range cfg.Depths {
		line, err := session.AnalysePosition(afterFEN, depth)
		if err != nil {
			warnf("deep eval of %s %s at depth %d: %v", cand.FEN, cand.Move, depth, err)
			return model.NoveltyLine{}, false
		}
		evals[depth] = model.EngineEval{
			Depth:     depth,
			CPWhite:   line.CPWhite,
			MateWhite: line.Mate,
		}
		// Keep the shallowest depth's principal variation as the
		// suggested continuation.
		if depth == quickDepth {
			continuations = line.PV
			if len(continuations) > cfg.ContinuationPlies {
				continuations = continuations[:cfg.ContinuationPlies]
			}
		}
	}

	// Drop candidates the full-depth search dislikes even when the quick
	// pass let them through.
	var sum float64
	for _, e := range evals {
		sum += float64(e.CPPov(cfg.Side))
	}
	if len(evals) > 0 && sum/float64(len(evals)) < float64(cfg.MinEvalCP) {
		return model.NoveltyLine{}, false
	}

	return model.NoveltyLine{
		BookMoves:        cand.BookMoves,
		NoveltyMove:      cand.Move,
		NoveltyPly:       len(cand.BookMoves),
		Evals:            evals,
		PreNoveltyGames:  cand.PreNoveltyGames,
		PostNoveltyGames: cand.PostNoveltyGames,
		Continuations:    continuations,
	}, true
}
