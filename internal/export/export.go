// Package export renders search results as annotated PGN for import into
// analysis tools.
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/notnil/chess"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

const standardStartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Novelties renders scored novelties as one PGN game each: the book line,
// the novelty move marked !?, and the engine's suggested continuation,
// with the evaluations and rarity in a comment.
func Novelties(rootFEN string, novelties []model.ScoredNovelty, playerName string, side chess.Color) (string, error) {
	var b strings.Builder
	colorName := "White"
	if side == chess.Black {
		colorName = "Black"
	}

	for i, sn := range novelties {
		nov := sn.Novelty
		fmt.Fprintf(&b, "[Event \"Novelty %d\"]\n", i+1)
		fmt.Fprintf(&b, "[Site \"prepwatch\"]\n")
		fmt.Fprintf(&b, "[%s %q]\n", colorName, playerName)
		if rootFEN != standardStartFEN {
			fmt.Fprintf(&b, "[SetUp \"1\"]\n")
			fmt.Fprintf(&b, "[FEN %q]\n", rootFEN)
		}
		fmt.Fprintf(&b, "[Result \"*\"]\n\n")

		pos, err := model.PositionFromFEN(rootFEN)
		if err != nil {
			return "", err
		}
		startPly := plyOf(rootFEN)

		ply := startPly
		needNumber := true
		for _, uci := range nov.BookMoves {
			san := model.SAN(pos, uci)
			b.WriteString(movePrefix(ply, needNumber))
			b.WriteString(san)
			b.WriteString(" ")
			pos, err = model.ApplyUCI(pos, uci)
			if err != nil {
				return "", fmt.Errorf("book move %s: %w", uci, err)
			}
			ply++
			needNumber = false
		}

		b.WriteString(movePrefix(ply, needNumber))
		b.WriteString(model.SAN(pos, nov.NoveltyMove))
		b.WriteString("!? ")
		fmt.Fprintf(&b, "{%s} ", annotation(sn))
		pos, err = model.ApplyUCI(pos, nov.NoveltyMove)
		if err != nil {
			return "", fmt.Errorf("novelty move %s: %w", nov.NoveltyMove, err)
		}
		ply++

		needNumber = true
		for _, uci := range nov.Continuations {
			san := model.SAN(pos, uci)
			b.WriteString(movePrefix(ply, needNumber))
			b.WriteString(san)
			b.WriteString(" ")
			pos, err = model.ApplyUCI(pos, uci)
			if err != nil {
				break
			}
			ply++
			needNumber = false
		}

		b.WriteString("*\n\n")
	}
	return b.String(), nil
}

// annotation summarizes a scored novelty for a PGN comment.
func annotation(sn model.ScoredNovelty) string {
	depths := make([]int, 0, len(sn.Novelty.Evals))
	for d := range sn.Novelty.Evals {
		depths = append(depths, d)
	}
	sort.Ints(depths)

	evals := make([]string, 0, len(depths))
	for _, d := range depths {
		evals = append(evals, fmt.Sprintf("d%d %s", d, sn.Novelty.Evals[d].Display()))
	}
	return fmt.Sprintf("novelty: %d games before, %d after; %s; score %.1f",
		sn.Novelty.PreNoveltyGames, sn.Novelty.PostNoveltyGames,
		strings.Join(evals, ", "), sn.Score)
}

func movePrefix(ply int, needNumber bool) string {
	moveNo := ply/2 + 1
	if ply%2 == 0 {
		return fmt.Sprintf("%d. ", moveNo)
	}
	if needNumber {
		return fmt.Sprintf("%d... ", moveNo)
	}
	return ""
}

// plyOf derives the zero-based ply from a FEN's move counters.
func plyOf(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) != 6 {
		return 0
	}
	moveNo := 1
	fmt.Sscanf(fields[5], "%d", &moveNo)
	ply := (moveNo - 1) * 2
	if fields[1] == "b" {
		ply++
	}
	return ply
}
