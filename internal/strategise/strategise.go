// Package strategise composes a head-to-head preparation report for a
// player facing a specific opponent: habit analyses for both sides, style
// profiles, opening battlegrounds, reachable weaknesses, prep gaps, and an
// optional AI-written strategic brief.
package strategise

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/notnil/chess"
	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/prepwatch/internal/explorer"
	"github.com/blackwell-systems/prepwatch/internal/habits"
	"github.com/blackwell-systems/prepwatch/internal/model"
)

// Config holds the tunables for a strategise run.
type Config struct {
	Player   PlayerSpec
	Opponent PlayerSpec

	MinGames      int
	MaxPositions  int
	MinEvalGapCP  float64
	Depth         int
	EngineThreads int

	// OutPath, when set, receives the JSON report.
	OutPath string
}

// Runner wires the dependencies a strategise run needs. Fetch, RawGames,
// and AI are optional: without Fetch an empty cache is an error, without
// RawGames the report omits phase statistics, and without AI the report
// omits the strategic brief.
type Runner struct {
	Book      habits.BookStore
	Evals     habits.EvalCache
	NewEngine func(threads int) (habits.Analyser, error)
	Fetch     func(spec PlayerSpec) error
	RawGames  func(spec PlayerSpec) (io.ReadCloser, error)
	AI        *AIClient
	Logf      func(string, ...any)
}

// Run executes the full analysis and, when configured, writes the JSON
// report to disk.
func (r *Runner) Run(cfg Config) (*Report, error) {
	logf := r.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	playerSide := sideOf(cfg.Player.Color)
	cfg.Opponent.Color = colorName(playerSide.Other())

	playerBackend := explorer.PlayerBackend(cfg.Player.Platform, cfg.Player.Username, cfg.Player.Color, cfg.Player.Speeds)
	opponentBackend := explorer.PlayerBackend(cfg.Opponent.Platform, cfg.Opponent.Username, cfg.Opponent.Color, cfg.Opponent.Speeds)

	playerIndex, err := r.loadIndex(playerBackend, cfg.Player, logf)
	if err != nil {
		return nil, err
	}
	opponentIndex, err := r.loadIndex(opponentBackend, cfg.Opponent, logf)
	if err != nil {
		return nil, err
	}
	logf("%d positions for %s, %d for %s", len(playerIndex), cfg.Player.Username, len(opponentIndex), cfg.Opponent.Username)

	// Both habit analyses run concurrently, each with its own engine and
	// half the thread budget.
	threads := cfg.EngineThreads / 2
	if threads < 1 {
		threads = 1
	}
	var playerHabits, opponentHabits []model.HabitInaccuracy
	var g errgroup.Group
	g.Go(func() error {
		var err error
		playerHabits, err = r.analyzeHabits(cfg, playerBackend, playerSide, threads, logf)
		return err
	})
	g.Go(func() error {
		var err error
		opponentHabits, err = r.analyzeHabits(cfg, opponentBackend, playerSide.Other(), threads, logf)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logf("%d opponent + %d player habit inaccuracies found", len(opponentHabits), len(playerHabits))

	bgs := battlegrounds(playerIndex, opponentIndex, playerSide, cfg.MinGames)
	weaknesses := reachableWeaknesses(opponentHabits, playerIndex, cfg.MaxPositions)
	gaps := prepGaps(playerHabits, opponentIndex, cfg.MaxPositions)
	logf("%d battlegrounds, %d reachable weaknesses, %d prep gaps", len(bgs), len(weaknesses), len(gaps))

	report := &Report{
		Player:             cfg.Player,
		Opponent:           cfg.Opponent,
		PlayerStyle:        styleProfile(playerIndex, playerSide),
		OpponentStyle:      styleProfile(opponentIndex, playerSide.Other()),
		Battlegrounds:      bgs,
		OpponentWeaknesses: weaknesses,
		PrepGaps:           gaps,
		KeyPositions:       keyPositions(bgs, weaknesses, gaps),
		GeneratedAt:        time.Now().UTC(),
	}

	if r.RawGames != nil {
		report.PlayerPhases = r.phases(cfg.Player, playerSide, logf)
		report.OpponentPhases = r.phases(cfg.Opponent, playerSide.Other(), logf)
	}

	if r.AI != nil {
		logf("calling the AI for a strategic brief")
		brief, err := r.AI.Brief(report)
		if err != nil {
			logf("AI brief failed: %v", err)
		} else {
			report.StrategicBrief = brief
			report.AIAvailable = true
		}
	}

	if cfg.OutPath != "" {
		if err := writeReport(cfg.OutPath, report); err != nil {
			return nil, err
		}
		logf("report written to %s", cfg.OutPath)
	}
	return report, nil
}

// loadIndex scans a player's book into a FEN index, fetching their games
// first when the cache is empty and a fetcher is available.
func (r *Runner) loadIndex(backend string, spec PlayerSpec, logf func(string, ...any)) (map[string]*model.ExplorerData, error) {
	index, err := scanIndex(r.Book, backend)
	if err != nil {
		return nil, err
	}
	if len(index) == 0 && r.Fetch != nil {
		logf("no cached games for %s, fetching", spec.Username)
		if err := r.Fetch(spec); err != nil {
			return nil, fmt.Errorf("fetching games for %s: %w", spec.Username, err)
		}
		index, err = scanIndex(r.Book, backend)
		if err != nil {
			return nil, err
		}
	}
	if len(index) == 0 {
		return nil, fmt.Errorf("no cached games for %s as %s", spec.Username, spec.Color)
	}
	return index, nil
}

func (r *Runner) analyzeHabits(cfg Config, backend string, side chess.Color, threads int, logf func(string, ...any)) ([]model.HabitInaccuracy, error) {
	factory := func() (habits.Analyser, error) {
		return r.NewEngine(threads)
	}
	return habits.Analyze(habits.Config{
		Backend:      backend,
		Side:         side,
		MinGames:     cfg.MinGames,
		MinEvalGapCP: cfg.MinEvalGapCP,
		Depth:        cfg.Depth,
		MaxPositions: cfg.MaxPositions,
		TopN:         cfg.MaxPositions,
	}, r.Book, r.Evals, factory, logf)
}

// phases downloads a raw game sample and computes phase statistics.
// Failures degrade to a missing section rather than aborting the report.
func (r *Runner) phases(spec PlayerSpec, side chess.Color, logf func(string, ...any)) *PhaseStats {
	games, err := r.RawGames(spec)
	if err != nil {
		logf("phase sample for %s failed: %v", spec.Username, err)
		return nil
	}
	defer games.Close()
	stats, err := AnalyzePhases(games, side)
	if err != nil {
		logf("phase analysis for %s failed: %v", spec.Username, err)
		return nil
	}
	return stats
}

func scanIndex(book habits.BookStore, backend string) (map[string]*model.ExplorerData, error) {
	entries, err := book.ScanBackend(backend)
	if err != nil {
		return nil, err
	}
	index := make(map[string]*model.ExplorerData, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.FEN, "_") {
			continue
		}
		data, err := explorer.ParsePayload(e.Payload)
		if err != nil {
			continue
		}
		index[e.FEN] = data
	}
	return index, nil
}

func writeReport(path string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func sideOf(color string) chess.Color {
	if strings.EqualFold(color, "black") {
		return chess.Black
	}
	return chess.White
}

func colorName(side chess.Color) string {
	if side == chess.Black {
		return "black"
	}
	return "white"
}
