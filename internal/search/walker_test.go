package search

import (
	"errors"
	"testing"
	"time"

	"github.com/notnil/chess"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

// fenAfter returns the FEN reached from the starting position after the
// given UCI moves.
func fenAfter(t *testing.T, moves ...string) string {
	t.Helper()
	pos := chess.NewGame().Position()
	pos, err := model.ApplyLine(pos, moves)
	if err != nil {
		t.Fatalf("ApplyLine(%v): %v", moves, err)
	}
	return pos.String()
}

type fakeExplorer struct {
	data  map[string]*model.ExplorerData
	errOn string
	calls int
}

func (f *fakeExplorer) Data(fen string) (*model.ExplorerData, error) {
	f.calls++
	if f.errOn != "" && fen == f.errOn {
		return nil, errors.New("explorer unavailable")
	}
	return f.data[fen], nil
}

type fakeAnalyser struct {
	lines map[string][]model.EngineLine
	errOn string
	calls map[string]int
}

func newFakeAnalyser() *fakeAnalyser {
	return &fakeAnalyser{
		lines: make(map[string][]model.EngineLine),
		calls: make(map[string]int),
	}
}

func (f *fakeAnalyser) AnalyseMultiPV(fen string, depth, multipv int, timeCap time.Duration) ([]model.EngineLine, error) {
	f.calls[fen]++
	if f.errOn != "" && fen == f.errOn {
		return nil, errors.New("engine crashed")
	}
	return f.lines[fen], nil
}

type cachedEval struct {
	depth   int
	multipv int
	moves   []model.EvalMove
}

type fakeEvalCache struct {
	entries map[string]cachedEval
}

func newFakeEvalCache() *fakeEvalCache {
	return &fakeEvalCache{entries: make(map[string]cachedEval)}
}

func (f *fakeEvalCache) GetEvals(fen string, depth, multipv int) ([]model.EvalMove, error) {
	e, ok := f.entries[fen]
	if !ok || e.depth < depth {
		return nil, nil
	}
	if e.multipv < multipv && len(e.moves) < multipv {
		return nil, nil
	}
	return e.moves, nil
}

func (f *fakeEvalCache) PutEvals(fen string, depth, multipv int, moves []model.EvalMove) error {
	if e, ok := f.entries[fen]; ok && (e.depth > depth || (e.depth == depth && e.multipv > multipv)) {
		return nil
	}
	f.entries[fen] = cachedEval{depth: depth, multipv: multipv, moves: moves}
	return nil
}

// stats builds explorer data where every listed move splits its games
// evenly enough for totals to line up.
func stats(moves map[string]int) *model.ExplorerData {
	data := &model.ExplorerData{}
	for uci, games := range moves {
		m := model.MoveStats{UCI: uci, White: games}
		data.Moves = append(data.Moves, m)
		data.White += games
	}
	return data
}

func baseConfig(fen string, side chess.Color) Config {
	return Config{
		FEN:               fen,
		Side:              side,
		MaxBookPlies:      10,
		MinBookGames:      5,
		NoveltyThreshold:  2,
		MaxPositions:      100,
		EngineCandidates:  5,
		OpponentResponses: 3,
		MinEvalCP:         0,
		MinPlayerGames:    2,
		MinOpponentGames:  5,
		Depths:            []int{20, 24},
		ContinuationPlies: 4,
		MaxWorkers:        2,
		MaxCandidates:     10,
	}
}

func TestWalkerFindsRareMove(t *testing.T) {
	root := fenAfter(t)
	afterE4 := fenAfter(t, "e2e4")

	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		root:    stats(map[string]int{"e2e4": 90, "d2d4": 8}),
		afterE4: stats(map[string]int{"e7e5": 2}),
	}}

	analyser := newFakeAnalyser()
	analyser.lines[root] = []model.EngineLine{
		{Move: "e2e4", CPWhite: 30},
		{Move: "b1c3", CPWhite: 20},
	}
	// After 1.e4 the book is too thin, so the walk never asks the engine
	// about deeper positions.

	cfg := baseConfig(root, chess.White)
	w := NewWalker(cfg, masters, nil, nil, analyser, newFakeEvalCache(), nil)

	pending, err := w.Walk()
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(pending), pending)
	}
	cand := pending[0]
	if cand.Move != "b1c3" {
		t.Errorf("candidate move = %s, want b1c3", cand.Move)
	}
	if cand.FEN != root {
		t.Errorf("candidate FEN = %s, want root", cand.FEN)
	}
	if cand.PreNoveltyGames != 98 || cand.PostNoveltyGames != 0 {
		t.Errorf("games = %d/%d, want 98/0", cand.PreNoveltyGames, cand.PostNoveltyGames)
	}
	if cand.QuickEvalCP != 20 {
		t.Errorf("QuickEvalCP = %v, want 20", cand.QuickEvalCP)
	}
	if len(cand.BookMoves) != 0 {
		t.Errorf("BookMoves = %v, want empty at root", cand.BookMoves)
	}
}

func TestWalkerNoveltyThresholdIsInclusive(t *testing.T) {
	root := fenAfter(t)
	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		// b1c3 has exactly threshold games: still a novelty.
		root: stats(map[string]int{"e2e4": 90, "b1c3": 2}),
	}}
	analyser := newFakeAnalyser()
	analyser.lines[root] = []model.EngineLine{{Move: "b1c3", CPWhite: 15}}

	cfg := baseConfig(root, chess.White)
	w := NewWalker(cfg, masters, nil, nil, analyser, newFakeEvalCache(), nil)

	pending, err := w.Walk()
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(pending) != 1 || pending[0].PostNoveltyGames != 2 {
		t.Errorf("expected b1c3 with 2 games as candidate, got %+v", pending)
	}
}

func TestWalkerQuickEvalFloor(t *testing.T) {
	root := fenAfter(t)
	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		root: stats(map[string]int{"e2e4": 90}),
	}}
	analyser := newFakeAnalyser()
	analyser.lines[root] = []model.EngineLine{
		{Move: "b1c3", CPWhite: -40},
		{Move: "g1f3", CPWhite: 10},
	}

	cfg := baseConfig(root, chess.White)
	cfg.MinEvalCP = 0
	w := NewWalker(cfg, masters, nil, nil, analyser, newFakeEvalCache(), nil)

	pending, err := w.Walk()
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(pending) != 1 || pending[0].Move != "g1f3" {
		t.Errorf("expected only g1f3 to survive the eval floor, got %+v", pending)
	}
}

func TestWalkerEvalFloorSparesBookMoves(t *testing.T) {
	root := fenAfter(t)
	afterE4 := fenAfter(t, "e2e4")
	afterE4E5 := fenAfter(t, "e2e4", "e7e5")

	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		root:      stats(map[string]int{"e2e4": 90}),
		afterE4:   stats(map[string]int{"e7e5": 60}),
		afterE4E5: stats(map[string]int{"g1f3": 80}),
	}}
	analyser := newFakeAnalyser()
	// The quick pass scores the main book move below the floor; the floor
	// only vets novelties, so the walk still follows it into the book.
	analyser.lines[root] = []model.EngineLine{{Move: "e2e4", CPWhite: -10}}
	analyser.lines[afterE4E5] = []model.EngineLine{{Move: "f1c4", CPWhite: 15}}

	cfg := baseConfig(root, chess.White)
	cfg.MinEvalCP = 0
	w := NewWalker(cfg, masters, nil, nil, analyser, newFakeEvalCache(), nil)

	pending, err := w.Walk()
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if !w.visited[afterE4] {
		t.Error("walk pruned the book move 1.e4 on its quick eval")
	}
	if len(pending) != 1 || pending[0].Move != "f1c4" {
		t.Errorf("expected the deeper novelty f1c4, got %+v", pending)
	}
}

func TestWalkerSurvivesExplorerFailure(t *testing.T) {
	root := fenAfter(t)
	afterE4 := fenAfter(t, "e2e4")

	masters := &fakeExplorer{
		data:  map[string]*model.ExplorerData{root: stats(map[string]int{"e2e4": 90})},
		errOn: afterE4,
	}
	analyser := newFakeAnalyser()
	analyser.lines[root] = []model.EngineLine{
		{Move: "e2e4", CPWhite: 30},
		{Move: "b1c3", CPWhite: 20},
	}

	var warnings int
	warnf := func(string, ...any) { warnings++ }

	cfg := baseConfig(root, chess.White)
	w := NewWalker(cfg, masters, nil, nil, analyser, newFakeEvalCache(), warnf)

	pending, err := w.Walk()
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(pending) != 1 || pending[0].Move != "b1c3" {
		t.Errorf("expected b1c3 despite the 1.e4 lookup failure, got %+v", pending)
	}
	if warnings == 0 {
		t.Error("expected a warning for the failed book lookup")
	}
}

func TestWalkerSurvivesEngineFailure(t *testing.T) {
	root := fenAfter(t)
	afterE4 := fenAfter(t, "e2e4")
	afterE4E5 := fenAfter(t, "e2e4", "e7e5")

	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		root:      stats(map[string]int{"e2e4": 90}),
		afterE4:   stats(map[string]int{"e7e5": 60}),
		afterE4E5: stats(map[string]int{"g1f3": 80}),
	}}
	analyser := newFakeAnalyser()
	analyser.errOn = afterE4E5
	analyser.lines[root] = []model.EngineLine{
		{Move: "e2e4", CPWhite: 30},
		{Move: "b1c3", CPWhite: 20},
	}

	var warnings int
	warnf := func(string, ...any) { warnings++ }

	cfg := baseConfig(root, chess.White)
	w := NewWalker(cfg, masters, nil, nil, analyser, newFakeEvalCache(), warnf)

	pending, err := w.Walk()
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(pending) != 1 || pending[0].Move != "b1c3" {
		t.Errorf("expected b1c3 despite the deeper engine failure, got %+v", pending)
	}
	if warnings == 0 {
		t.Error("expected a warning for the failed quick analysis")
	}
}

func TestWalkerOpponentFailureFallsBackToMasters(t *testing.T) {
	root := fenAfter(t)
	afterE4 := fenAfter(t, "e2e4")
	afterE4E5 := fenAfter(t, "e2e4", "e7e5")

	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		root:    stats(map[string]int{"e2e4": 100}),
		afterE4: stats(map[string]int{"e7e5": 60}),
	}}
	analyser := newFakeAnalyser()
	analyser.lines[root] = []model.EngineLine{{Move: "e2e4", CPWhite: 30}}

	opponent := &fakeExplorer{errOn: afterE4}

	cfg := baseConfig(root, chess.White)
	w := NewWalker(cfg, masters, nil, opponent, analyser, newFakeEvalCache(), nil)
	if _, err := w.Walk(); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if !w.visited[afterE4E5] {
		t.Error("expected fallback to the masters' 1...e5 when the opponent tree fails")
	}
}

func TestWalkerEvalFloorUsesSidePerspective(t *testing.T) {
	// Black to move after 1.e4: a -20 White score is +20 for Black.
	root := fenAfter(t, "e2e4")
	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		root: stats(map[string]int{"e7e5": 90}),
	}}
	analyser := newFakeAnalyser()
	analyser.lines[root] = []model.EngineLine{
		{Move: "c7c5", CPWhite: -20},
		{Move: "g7g5", CPWhite: 80},
	}

	cfg := baseConfig(root, chess.Black)
	w := NewWalker(cfg, masters, nil, nil, analyser, newFakeEvalCache(), nil)

	pending, err := w.Walk()
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(pending) != 1 || pending[0].Move != "c7c5" {
		t.Errorf("expected c7c5 for Black, got %+v", pending)
	}
	if pending[0].QuickEvalCP != 20 {
		t.Errorf("QuickEvalCP = %v, want 20 from Black's perspective", pending[0].QuickEvalCP)
	}
}

func TestWalkerPlayerRepertoireFilter(t *testing.T) {
	root := fenAfter(t)
	afterE4 := fenAfter(t, "e2e4")
	afterD4 := fenAfter(t, "d2d4")

	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		root:    stats(map[string]int{"e2e4": 50, "d2d4": 40}),
		afterE4: stats(map[string]int{"e7e5": 40}),
		afterD4: stats(map[string]int{"d7d5": 30}),
	}}
	analyser := newFakeAnalyser()
	analyser.lines[root] = []model.EngineLine{
		{Move: "e2e4", CPWhite: 30},
		{Move: "d2d4", CPWhite: 28},
	}

	// The player plays 1.e4 but never 1.d4.
	player := &fakeExplorer{data: map[string]*model.ExplorerData{
		root: stats(map[string]int{"e2e4": 20}),
	}}

	cfg := baseConfig(root, chess.White)
	w := NewWalker(cfg, masters, player, nil, analyser, newFakeEvalCache(), nil)
	if _, err := w.Walk(); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	// 1.e4 was followed, 1.d4 was not.
	if !w.visited[afterE4] {
		t.Error("expected the walk to enter the 1.e4 subtree")
	}
	if w.visited[afterD4] {
		t.Error("walk entered the 1.d4 subtree despite the repertoire filter")
	}
}

func TestWalkerPlayerFilterPermissiveWithoutData(t *testing.T) {
	root := fenAfter(t)
	afterE4 := fenAfter(t, "e2e4")

	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		root:    stats(map[string]int{"e2e4": 50}),
		afterE4: stats(map[string]int{"e7e5": 2}),
	}}
	analyser := newFakeAnalyser()
	analyser.lines[root] = []model.EngineLine{{Move: "e2e4", CPWhite: 30}}

	// No player data anywhere: every book move is followed.
	player := &fakeExplorer{data: map[string]*model.ExplorerData{}}

	cfg := baseConfig(root, chess.White)
	w := NewWalker(cfg, masters, player, nil, analyser, newFakeEvalCache(), nil)
	if _, err := w.Walk(); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if w.Visited() < 2 {
		t.Errorf("visited %d positions, want the 1.e4 subtree followed", w.Visited())
	}
}

func TestWalkerOpponentRepertoirePreferred(t *testing.T) {
	root := fenAfter(t)
	afterE4 := fenAfter(t, "e2e4")
	afterE4C5 := fenAfter(t, "e2e4", "c7c5")
	afterE4E5 := fenAfter(t, "e2e4", "e7e5")

	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		root:    stats(map[string]int{"e2e4": 100}),
		afterE4: stats(map[string]int{"e7e5": 60, "c7c5": 30}),
	}}
	analyser := newFakeAnalyser()
	analyser.lines[root] = []model.EngineLine{{Move: "e2e4", CPWhite: 30}}

	// The opponent answers 1.e4 almost exclusively with the Sicilian.
	opponent := &fakeExplorer{data: map[string]*model.ExplorerData{
		afterE4: stats(map[string]int{"c7c5": 18}),
	}}

	cfg := baseConfig(root, chess.White)
	cfg.OpponentResponses = 1
	w := NewWalker(cfg, masters, nil, opponent, analyser, newFakeEvalCache(), nil)
	if _, err := w.Walk(); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	visitedC5 := w.visited[afterE4C5]
	visitedE5 := w.visited[afterE4E5]
	if !visitedC5 {
		t.Error("expected the walk to follow the opponent's 1...c5")
	}
	if visitedE5 {
		t.Error("walk followed the masters' 1...e5 despite opponent data")
	}
}

func TestWalkerOpponentFallsBackToMasters(t *testing.T) {
	root := fenAfter(t)
	afterE4 := fenAfter(t, "e2e4")
	afterE4E5 := fenAfter(t, "e2e4", "e7e5")

	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		root:    stats(map[string]int{"e2e4": 100}),
		afterE4: stats(map[string]int{"e7e5": 60}),
	}}
	analyser := newFakeAnalyser()
	analyser.lines[root] = []model.EngineLine{{Move: "e2e4", CPWhite: 30}}

	// Opponent data exists but is too thin to trust.
	opponent := &fakeExplorer{data: map[string]*model.ExplorerData{
		afterE4: stats(map[string]int{"c7c5": 2}),
	}}

	cfg := baseConfig(root, chess.White)
	w := NewWalker(cfg, masters, nil, opponent, analyser, newFakeEvalCache(), nil)
	if _, err := w.Walk(); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if !w.visited[afterE4E5] {
		t.Error("expected fallback to the masters' 1...e5")
	}
}

func TestWalkerPositionBudget(t *testing.T) {
	root := fenAfter(t)
	afterE4 := fenAfter(t, "e2e4")

	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		root:    stats(map[string]int{"e2e4": 100}),
		afterE4: stats(map[string]int{"e7e5": 60}),
	}}
	analyser := newFakeAnalyser()
	analyser.lines[root] = []model.EngineLine{{Move: "e2e4", CPWhite: 30}}

	cfg := baseConfig(root, chess.White)
	cfg.MaxPositions = 1
	w := NewWalker(cfg, masters, nil, nil, analyser, newFakeEvalCache(), nil)
	if _, err := w.Walk(); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if w.Visited() != 1 {
		t.Errorf("visited %d positions, want 1", w.Visited())
	}
}

func TestWalkerMaxBookPlies(t *testing.T) {
	root := fenAfter(t)
	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		root: stats(map[string]int{"e2e4": 100}),
	}}
	analyser := newFakeAnalyser()
	analyser.lines[root] = []model.EngineLine{{Move: "e2e4", CPWhite: 30}}

	cfg := baseConfig(root, chess.White)
	cfg.MaxBookPlies = 0
	w := NewWalker(cfg, masters, nil, nil, analyser, newFakeEvalCache(), nil)

	pending, err := w.Walk()
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(pending) != 0 || w.Visited() != 0 {
		t.Errorf("zero-ply walk examined positions: visited=%d pending=%d", w.Visited(), len(pending))
	}
}

func TestWalkerIdempotentWithSharedEvalCache(t *testing.T) {
	root := fenAfter(t)
	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		root: stats(map[string]int{"e2e4": 90}),
	}}
	lines := []model.EngineLine{
		{Move: "e2e4", CPWhite: 30},
		{Move: "b1c3", CPWhite: 20},
	}

	cache := newFakeEvalCache()
	cfg := baseConfig(root, chess.White)

	analyser1 := newFakeAnalyser()
	analyser1.lines[root] = lines
	first, err := NewWalker(cfg, masters, nil, nil, analyser1, cache, nil).Walk()
	if err != nil {
		t.Fatalf("first Walk: %v", err)
	}

	// The second walk shares the eval cache and must not touch the engine.
	analyser2 := newFakeAnalyser()
	second, err := NewWalker(cfg, masters, nil, nil, analyser2, cache, nil).Walk()
	if err != nil {
		t.Fatalf("second Walk: %v", err)
	}

	if len(analyser2.calls) != 0 {
		t.Errorf("second walk hit the engine %v times, want none", analyser2.calls)
	}
	if len(first) != len(second) {
		t.Fatalf("walks disagree: %d vs %d candidates", len(first), len(second))
	}
	for i := range first {
		if first[i].Move != second[i].Move || first[i].QuickEvalCP != second[i].QuickEvalCP {
			t.Errorf("candidate %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestWalkerCachesReachedDepthUnderTimeCap(t *testing.T) {
	root := fenAfter(t)
	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		root: stats(map[string]int{"e2e4": 90}),
	}}
	analyser := newFakeAnalyser()
	// The capped search only got to depth 13 before the clock ran out.
	analyser.lines[root] = []model.EngineLine{
		{Move: "e2e4", CPWhite: 30, Depth: 13},
		{Move: "b1c3", CPWhite: 20, Depth: 13},
	}

	cache := newFakeEvalCache()
	cfg := baseConfig(root, chess.White)
	cfg.QuickTimeCap = time.Second
	w := NewWalker(cfg, masters, nil, nil, analyser, cache, nil)
	if _, err := w.Walk(); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	entry, ok := cache.entries[root]
	if !ok {
		t.Fatal("quick lines were not cached")
	}
	if entry.depth != 13 {
		t.Errorf("cached depth = %d, want the reached depth 13", entry.depth)
	}

	// An uncapped search is trusted at the depth that was asked for.
	cache2 := newFakeEvalCache()
	cfg.QuickTimeCap = 0
	w = NewWalker(cfg, masters, nil, nil, analyser, cache2, nil)
	if _, err := w.Walk(); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if entry := cache2.entries[root]; entry.depth != cfg.QuickDepth() {
		t.Errorf("cached depth = %d, want %d", entry.depth, cfg.QuickDepth())
	}
}

func TestWalkerOutOfBookStops(t *testing.T) {
	root := fenAfter(t)
	masters := &fakeExplorer{data: map[string]*model.ExplorerData{
		// Below MinBookGames: the root itself is out of book.
		root: stats(map[string]int{"e2e4": 3}),
	}}
	analyser := newFakeAnalyser()

	cfg := baseConfig(root, chess.White)
	w := NewWalker(cfg, masters, nil, nil, analyser, newFakeEvalCache(), nil)

	pending, err := w.Walk()
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("out-of-book root produced candidates: %+v", pending)
	}
	if len(analyser.calls) != 0 {
		t.Errorf("engine was consulted out of book: %v", analyser.calls)
	}
}
