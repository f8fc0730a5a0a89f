package habits

import (
	"fmt"
	"strings"

	"github.com/notnil/chess"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

// severeGapCP is the gap above which a habitual move is marked as a
// mistake rather than a dubious move.
const severeGapCP = 75

// ExportPGN renders habits as annotated PGN fragments, one game per
// habit, each starting from the habit position. The player's habitual
// move carries a ?! or ? annotation and a comment naming the better move.
func ExportPGN(habits []model.HabitInaccuracy, playerName string, side chess.Color) string {
	var b strings.Builder
	colorName := "White"
	if side == chess.Black {
		colorName = "Black"
	}

	for i, h := range habits {
		fmt.Fprintf(&b, "[Event \"Habit review %d\"]\n", i+1)
		fmt.Fprintf(&b, "[Site \"prepwatch\"]\n")
		fmt.Fprintf(&b, "[%s %q]\n", colorName, playerName)
		fmt.Fprintf(&b, "[SetUp \"1\"]\n")
		fmt.Fprintf(&b, "[FEN %q]\n", h.FEN)
		fmt.Fprintf(&b, "[Result \"*\"]\n\n")

		annotation := "?!"
		if h.EvalGapCP >= severeGapCP {
			annotation = "?"
		}

		moveNo, lead := moveNumberPrefix(h.FEN, side)
		fmt.Fprintf(&b, "%d.%s%s%s {played in %d of %d games, loses %.0fcp; better is %s (%+.2f)} *\n\n",
			moveNo, lead, h.PlayerMoveSAN, annotation,
			h.PlayerMoveGames, h.TotalGames, h.EvalGapCP,
			h.BestMoveSAN, h.EvalCP/100)
	}
	return b.String()
}

// moveNumberPrefix extracts the full move number from a FEN and returns
// the continuation marker PGN requires when the side to move is Black.
func moveNumberPrefix(fen string, side chess.Color) (int, string) {
	fields := strings.Fields(fen)
	moveNo := 1
	if len(fields) == 6 {
		fmt.Sscanf(fields[5], "%d", &moveNo)
	}
	if side == chess.Black {
		return moveNo, ".. "
	}
	return moveNo, " "
}
