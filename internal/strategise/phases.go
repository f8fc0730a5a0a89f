package strategise

import (
	"io"
	"strconv"
	"strings"

	"github.com/notnil/chess"
)

// Combined non-pawn material for both sides at or below this counts as an
// endgame.
const endgameMaterialThreshold = 20

var pieceValues = map[chess.PieceType]int{
	chess.Queen:  9,
	chess.Rook:   5,
	chess.Bishop: 3,
	chess.Knight: 3,
}

// PhaseStats summarizes a player's results by game phase across a sample
// of complete games.
type PhaseStats struct {
	TotalGames            int                `json:"total_games"`
	AvgLengthBySpeed      map[string]float64 `json:"avg_length_by_speed"`
	DrawRate              float64            `json:"draw_rate"`
	DecisiveRate          float64            `json:"decisive_rate"`
	EndgameReachRate      float64            `json:"endgame_reach_rate"`
	EndgameConversionRate float64            `json:"endgame_conversion_rate"`
	DrawRateMiddlegame    float64            `json:"draw_rate_middlegame"`
	DrawRateEndgame       float64            `json:"draw_rate_endgame"`
}

// AnalyzePhases reads a PGN stream of the player's games and computes
// phase statistics from the given side's perspective. An empty or
// unreadable stream yields zeroed stats rather than an error.
func AnalyzePhases(r io.Reader, side chess.Color) (*PhaseStats, error) {
	stats := &PhaseStats{AvgLengthBySpeed: map[string]float64{}}

	var (
		draws, wins, losses int

		endgameReached int
		endgameWin     int
		endgameLoss    int
		endgameDraw    int

		middlegameDraw     int
		middlegameDecisive int

		speedPlies = map[string][]int{}
	)

	scanner := chess.NewScanner(r)
	for scanner.Scan() {
		game := scanner.Next()
		if game == nil {
			continue
		}

		outcome := resultFor(game.Outcome(), side)
		if outcome == "" {
			continue
		}

		positions := game.Positions()
		plies := len(game.Moves())
		reachedEndgame := false
		for _, pos := range positions {
			if nonPawnMaterial(pos) <= endgameMaterialThreshold {
				reachedEndgame = true
				break
			}
		}

		speed := speedOf(game)
		speedPlies[speed] = append(speedPlies[speed], plies)

		switch outcome {
		case "draw":
			draws++
		case "win":
			wins++
		default:
			losses++
		}

		if reachedEndgame {
			endgameReached++
			switch outcome {
			case "draw":
				endgameDraw++
			case "win":
				endgameWin++
			default:
				endgameLoss++
			}
		} else {
			if outcome == "draw" {
				middlegameDraw++
			} else {
				middlegameDecisive++
			}
		}
	}

	total := draws + wins + losses
	if total == 0 {
		return stats, nil
	}

	stats.TotalGames = total
	stats.DrawRate = round3(float64(draws) / float64(total))
	stats.DecisiveRate = round3(1 - stats.DrawRate)
	stats.EndgameReachRate = round3(float64(endgameReached) / float64(total))

	if decisive := endgameWin + endgameLoss; decisive > 0 {
		stats.EndgameConversionRate = round3(float64(endgameWin) / float64(decisive))
	}
	if endgameReached > 0 {
		stats.DrawRateEndgame = round3(float64(endgameDraw) / float64(endgameReached))
	}
	if mg := middlegameDraw + middlegameDecisive; mg > 0 {
		stats.DrawRateMiddlegame = round3(float64(middlegameDraw) / float64(mg))
	}

	// Average game length in full moves per time control.
	for speed, plies := range speedPlies {
		sum := 0
		for _, p := range plies {
			sum += p
		}
		avg := float64(sum) / float64(len(plies)) / 2
		stats.AvgLengthBySpeed[speed] = round2(avg)
	}

	return stats, nil
}

// nonPawnMaterial totals both sides' piece values excluding pawns.
func nonPawnMaterial(pos *chess.Position) int {
	total := 0
	for _, piece := range pos.Board().SquareMap() {
		total += pieceValues[piece.Type()]
	}
	return total
}

// resultFor maps a game outcome to "win", "loss", or "draw" from the
// given side's perspective. Unfinished games map to "".
func resultFor(outcome chess.Outcome, side chess.Color) string {
	switch outcome {
	case chess.Draw:
		return "draw"
	case chess.WhiteWon:
		if side == chess.White {
			return "win"
		}
		return "loss"
	case chess.BlackWon:
		if side == chess.Black {
			return "win"
		}
		return "loss"
	default:
		return ""
	}
}

// speedOf classifies a game's time control. The Event tag is consulted
// first, then the TimeControl header's base clock.
func speedOf(game *chess.Game) string {
	if tag := game.GetTagPair("Event"); tag != nil {
		event := strings.ToLower(tag.Value)
		for _, speed := range []string{"bullet", "blitz", "rapid", "classical", "correspondence"} {
			if strings.Contains(event, speed) {
				return speed
			}
		}
	}

	if tag := game.GetTagPair("TimeControl"); tag != nil {
		tc := tag.Value
		if tc != "" && tc != "-" && tc != "?" {
			base := strings.Split(tc, "+")[0]
			if parts := strings.Split(base, "/"); len(parts) > 0 {
				base = parts[len(parts)-1]
			}
			if secs, err := strconv.Atoi(base); err == nil {
				switch {
				case secs < 180:
					return "bullet"
				case secs < 480:
					return "blitz"
				case secs < 1500:
					return "rapid"
				default:
					return "classical"
				}
			}
		}
	}
	return "unknown"
}
