package habits

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/notnil/chess"

	"github.com/blackwell-systems/prepwatch/internal/model"
	"github.com/blackwell-systems/prepwatch/internal/store"
)

const (
	rootFEN    = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	backend    = "lichess_player_testuser_white_blitz"
	bookSample = `{"white":20,"draws":5,"black":5,"moves":[` +
		`{"uci":"e2e4","white":15,"draws":3,"black":2},` +
		`{"uci":"d2d4","white":6,"draws":2,"black":2}]}`
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func baseConfig() Config {
	return Config{
		Backend:      backend,
		Side:         chess.White,
		MinGames:     15,
		MinEvalGapCP: 50,
		Depth:        20,
		MaxPositions: 100,
		TopN:         10,
	}
}

// noEngine fails the test if the analysis tries to start an engine.
func noEngine(t *testing.T) EngineFactory {
	return func() (Analyser, error) {
		t.Error("engine started despite warm evaluation cache")
		return nil, errors.New("no engine available")
	}
}

// fiveLines pads a line list to the minimum multipv width with junk moves.
func fiveLines(best ...model.EvalMove) []model.EvalMove {
	lines := append([]model.EvalMove(nil), best...)
	fillers := []string{"g1f3", "c2c4", "b1c3", "g2g3", "e2e3"}
	for _, uci := range fillers {
		if len(lines) >= 5 {
			break
		}
		lines = append(lines, model.EvalMove{UCI: uci, WhiteCP: -100})
	}
	return lines
}

func TestAnalyzeFindsHabit(t *testing.T) {
	db := testDB(t)
	if err := db.PutPosition(rootFEN, backend, []byte(bookSample)); err != nil {
		t.Fatalf("PutPosition: %v", err)
	}
	// Best move d2d4 at +70, the habitual e2e4 at only +10.
	lines := fiveLines(
		model.EvalMove{UCI: "d2d4", WhiteCP: 70},
		model.EvalMove{UCI: "e2e4", WhiteCP: 10},
	)
	if err := db.PutEvals(rootFEN, 20, 5, lines); err != nil {
		t.Fatalf("PutEvals: %v", err)
	}

	found, err := Analyze(baseConfig(), db, db, noEngine(t), nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("got %d habits, want 1: %+v", len(found), found)
	}

	h := found[0]
	if h.PlayerMoveUCI != "e2e4" || h.PlayerMoveSAN != "e4" {
		t.Errorf("player move = %s (%s), want e2e4 (e4)", h.PlayerMoveUCI, h.PlayerMoveSAN)
	}
	if h.BestMoveUCI != "d2d4" || h.BestMoveSAN != "d4" {
		t.Errorf("best move = %s (%s), want d2d4 (d4)", h.BestMoveUCI, h.BestMoveSAN)
	}
	if h.PlayerMoveGames != 20 || h.TotalGames != 30 {
		t.Errorf("games = %d/%d, want 20/30", h.PlayerMoveGames, h.TotalGames)
	}
	if h.EvalGapCP != 60 {
		t.Errorf("EvalGapCP = %v, want 60", h.EvalGapCP)
	}
	// 20 games times a 60cp gap scores 12.0.
	if h.Score != 12.0 {
		t.Errorf("Score = %v, want 12.0", h.Score)
	}
}

func TestAnalyzeSkipsMetaAndBadEntries(t *testing.T) {
	db := testDB(t)
	if err := db.PutPosition("_fetch_meta_"+backend, backend, []byte(`{"games":100}`)); err != nil {
		t.Fatalf("PutPosition: %v", err)
	}
	if err := db.PutPosition("garbage fen", backend, []byte(`{broken`)); err != nil {
		t.Fatalf("PutPosition: %v", err)
	}

	var logged []string
	logf := func(format string, args ...any) {
		logged = append(logged, format)
	}

	found, err := Analyze(baseConfig(), db, db, noEngine(t), logf)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("bookkeeping entries produced habits: %+v", found)
	}
}

func TestAnalyzeSkipsOpponentTurnPositions(t *testing.T) {
	db := testDB(t)
	blackToMove := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	if err := db.PutPosition(blackToMove, backend, []byte(bookSample)); err != nil {
		t.Fatalf("PutPosition: %v", err)
	}

	found, err := Analyze(baseConfig(), db, db, noEngine(t), nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("opponent-turn position produced habits: %+v", found)
	}
}

func TestAnalyzeGapBelowThresholdSkipped(t *testing.T) {
	db := testDB(t)
	if err := db.PutPosition(rootFEN, backend, []byte(bookSample)); err != nil {
		t.Fatalf("PutPosition: %v", err)
	}
	lines := fiveLines(
		model.EvalMove{UCI: "d2d4", WhiteCP: 40},
		model.EvalMove{UCI: "e2e4", WhiteCP: 10},
	)
	if err := db.PutEvals(rootFEN, 20, 5, lines); err != nil {
		t.Fatalf("PutEvals: %v", err)
	}

	found, err := Analyze(baseConfig(), db, db, noEngine(t), nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("30cp gap reported as habit: %+v", found)
	}
}

func TestAnalyzeSuccessorFallbackForMissingMove(t *testing.T) {
	db := testDB(t)
	if err := db.PutPosition(rootFEN, backend, []byte(bookSample)); err != nil {
		t.Fatalf("PutPosition: %v", err)
	}
	// The cached lines predate the habit move: e2e4 is absent.
	lines := fiveLines(model.EvalMove{UCI: "d2d4", WhiteCP: 70})
	if err := db.PutEvals(rootFEN, 20, 5, lines); err != nil {
		t.Fatalf("PutEvals: %v", err)
	}

	// The successor position's evaluation is cached, so the fallback
	// also avoids the engine.
	pos, err := model.PositionFromFEN(rootFEN)
	if err != nil {
		t.Fatalf("PositionFromFEN: %v", err)
	}
	after, err := model.ApplyUCI(pos, "e2e4")
	if err != nil {
		t.Fatalf("ApplyUCI: %v", err)
	}
	if err := db.PutEvals(after.String(), 20, 1, []model.EvalMove{{UCI: "e7e5", WhiteCP: 5}}); err != nil {
		t.Fatalf("PutEvals successor: %v", err)
	}

	found, err := Analyze(baseConfig(), db, db, noEngine(t), nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("got %d habits, want 1", len(found))
	}
	if found[0].PlayerEvalCP != 5 || found[0].EvalGapCP != 65 {
		t.Errorf("fallback eval = %v gap %v, want 5 and 65",
			found[0].PlayerEvalCP, found[0].EvalGapCP)
	}
}

type fakeEngine struct {
	lines  []model.EngineLine
	calls  int
	closed bool
}

func (f *fakeEngine) AnalyseMultiPV(fen string, depth, multipv int, timeCap time.Duration) ([]model.EngineLine, error) {
	f.calls++
	return f.lines, nil
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

func TestAnalyzeLazyEngineAndCacheWarmup(t *testing.T) {
	db := testDB(t)
	if err := db.PutPosition(rootFEN, backend, []byte(bookSample)); err != nil {
		t.Fatalf("PutPosition: %v", err)
	}

	eng := &fakeEngine{lines: []model.EngineLine{
		{Move: "d2d4", CPWhite: 70},
		{Move: "e2e4", CPWhite: 10},
		{Move: "g1f3", CPWhite: 5},
		{Move: "c2c4", CPWhite: 0},
		{Move: "b1c3", CPWhite: -5},
	}}
	started := 0
	factory := func() (Analyser, error) {
		started++
		return eng, nil
	}

	found, err := Analyze(baseConfig(), db, db, factory, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("got %d habits, want 1", len(found))
	}
	if started != 1 || eng.calls == 0 {
		t.Errorf("engine started %d times with %d calls, want one lazy start", started, eng.calls)
	}
	if !eng.closed {
		t.Error("engine session was not closed")
	}

	// The engine's lines are now cached; a second run needs no engine.
	found2, err := Analyze(baseConfig(), db, db, noEngine(t), nil)
	if err != nil {
		t.Fatalf("second Analyze: %v", err)
	}
	if len(found2) != 1 || found2[0].Score != found[0].Score {
		t.Errorf("cached rerun disagrees: %+v vs %+v", found2, found)
	}
}

func TestAnalyzeStaleCachedBestMoveReanalyzed(t *testing.T) {
	db := testDB(t)
	if err := db.PutPosition(rootFEN, backend, []byte(bookSample)); err != nil {
		t.Fatalf("PutPosition: %v", err)
	}
	// The cached best move e2e5 is not legal from the start position, so
	// the stale row must be discarded in favor of a fresh engine run.
	stale := fiveLines(
		model.EvalMove{UCI: "e2e5", WhiteCP: 90},
		model.EvalMove{UCI: "e2e4", WhiteCP: 10},
	)
	if err := db.PutEvals(rootFEN, 20, 5, stale); err != nil {
		t.Fatalf("PutEvals: %v", err)
	}

	eng := &fakeEngine{lines: []model.EngineLine{
		{Move: "d2d4", CPWhite: 70},
		{Move: "e2e4", CPWhite: 10},
		{Move: "g1f3", CPWhite: 5},
		{Move: "c2c4", CPWhite: 0},
		{Move: "b1c3", CPWhite: -5},
	}}
	started := 0
	factory := func() (Analyser, error) {
		started++
		return eng, nil
	}

	found, err := Analyze(baseConfig(), db, db, factory, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("got %d habits, want 1: %+v", len(found), found)
	}
	if found[0].BestMoveUCI != "d2d4" || found[0].PlayerMoveUCI != "e2e4" {
		t.Errorf("habit = %s vs best %s, want e2e4 vs d2d4",
			found[0].PlayerMoveUCI, found[0].BestMoveUCI)
	}
	if started != 1 {
		t.Errorf("engine started %d times, want 1", started)
	}

	// The fresh lines replaced the stale row, so a rerun stays offline.
	found2, err := Analyze(baseConfig(), db, db, noEngine(t), nil)
	if err != nil {
		t.Fatalf("second Analyze: %v", err)
	}
	if len(found2) != 1 || found2[0].BestMoveUCI != "d2d4" {
		t.Errorf("cached rerun disagrees: %+v", found2)
	}
}

func TestAnalyzeBestMoveIsNotItsOwnInaccuracy(t *testing.T) {
	db := testDB(t)
	if err := db.PutPosition(rootFEN, backend, []byte(bookSample)); err != nil {
		t.Fatalf("PutPosition: %v", err)
	}
	// The habitual e2e4 is also the engine's best move; even with no gap
	// threshold it must not be reported against itself.
	lines := fiveLines(
		model.EvalMove{UCI: "e2e4", WhiteCP: 70},
		model.EvalMove{UCI: "d2d4", WhiteCP: 40},
	)
	if err := db.PutEvals(rootFEN, 20, 5, lines); err != nil {
		t.Fatalf("PutEvals: %v", err)
	}

	cfg := baseConfig()
	cfg.MinEvalGapCP = 0
	found, err := Analyze(cfg, db, db, noEngine(t), nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("best move reported as its own inaccuracy: %+v", found)
	}
}

func TestAnalyzeOrderingAndTopN(t *testing.T) {
	db := testDB(t)

	// Two habit positions with different impact. The second position has
	// a bigger gap but fewer games.
	if err := db.PutPosition(rootFEN, backend, []byte(bookSample)); err != nil {
		t.Fatalf("PutPosition: %v", err)
	}
	otherFEN := "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 2 3"
	otherBook := `{"white":10,"draws":3,"black":2,"moves":[` +
		`{"uci":"g2g4","white":10,"draws":3,"black":2}]}`
	if err := db.PutPosition(otherFEN, backend, []byte(otherBook)); err != nil {
		t.Fatalf("PutPosition: %v", err)
	}

	if err := db.PutEvals(rootFEN, 20, 5, fiveLines(
		model.EvalMove{UCI: "d2d4", WhiteCP: 70},
		model.EvalMove{UCI: "e2e4", WhiteCP: 10},
	)); err != nil {
		t.Fatalf("PutEvals: %v", err)
	}
	if err := db.PutEvals(otherFEN, 20, 5, fiveLines(
		model.EvalMove{UCI: "e2e4", WhiteCP: 30},
		model.EvalMove{UCI: "g2g4", WhiteCP: -120},
	)); err != nil {
		t.Fatalf("PutEvals: %v", err)
	}

	cfg := baseConfig()
	found, err := Analyze(cfg, db, db, noEngine(t), nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("got %d habits, want 2", len(found))
	}
	// g2g4: 15 games x 150cp = 22.5 outranks e2e4's 12.0.
	if found[0].PlayerMoveUCI != "g2g4" || found[1].PlayerMoveUCI != "e2e4" {
		t.Errorf("order = [%s %s], want [g2g4 e2e4]", found[0].PlayerMoveUCI, found[1].PlayerMoveUCI)
	}

	cfg.TopN = 1
	top, err := Analyze(cfg, db, db, noEngine(t), nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(top) != 1 || top[0].PlayerMoveUCI != "g2g4" {
		t.Errorf("TopN = %+v, want just g2g4", top)
	}
}

func TestAnalyzeEmptyBookIsError(t *testing.T) {
	db := testDB(t)
	if _, err := Analyze(baseConfig(), db, db, noEngine(t), nil); err == nil {
		t.Error("expected error for empty book backend")
	}
}

func TestMultipvFor(t *testing.T) {
	cases := []struct{ in, want int }{
		{1, 5},
		{4, 5},
		{5, 6},
		{18, 19},
		{25, 20},
	}
	for _, c := range cases {
		if got := multipvFor(c.in); got != c.want {
			t.Errorf("multipvFor(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestExportPGN(t *testing.T) {
	habits := []model.HabitInaccuracy{
		{
			FEN:             rootFEN,
			TotalGames:      30,
			PlayerMoveSAN:   "e4",
			PlayerMoveGames: 20,
			BestMoveSAN:     "d4",
			EvalCP:          70,
			EvalGapCP:       60,
		},
		{
			FEN:             rootFEN,
			TotalGames:      12,
			PlayerMoveSAN:   "g4",
			PlayerMoveGames: 12,
			BestMoveSAN:     "e4",
			EvalCP:          30,
			EvalGapCP:       150,
		},
	}

	pgn := ExportPGN(habits, "testuser", chess.White)
	if !strings.Contains(pgn, `[FEN "`+rootFEN+`"]`) {
		t.Error("missing FEN tag")
	}
	if !strings.Contains(pgn, "e4?!") {
		t.Error("moderate gap should annotate with ?!")
	}
	if !strings.Contains(pgn, "g4?") || strings.Contains(pgn, "g4?!") {
		t.Error("severe gap should annotate with ?")
	}
	if !strings.Contains(pgn, `[White "testuser"]`) {
		t.Error("missing player tag")
	}
}
