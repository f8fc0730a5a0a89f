package strategise

import (
	"math"
	"sort"

	"github.com/notnil/chess"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

const (
	maxBattlegrounds = 20
	topOpeningCount  = 10

	// Advantage deltas within this band count as equal ground.
	advantageBand = 0.08
)

// styleProfile computes aggregate style metrics from a player's book index.
func styleProfile(index map[string]*model.ExplorerData, side chess.Color) StyleProfile {
	var (
		winRates  []float64
		branching []float64
		moveCount int
	)
	for _, data := range index {
		total := data.Total()
		if total == 0 {
			continue
		}
		winRates = append(winRates, winRate(data, side))
		branching = append(branching, float64(len(data.Moves)))
		moveCount += len(data.Moves)
	}

	n := len(winRates)
	if n == 0 {
		return StyleProfile{}
	}

	var avgBranching, avgWinRate float64
	for i := range winRates {
		avgWinRate += winRates[i]
		avgBranching += branching[i]
	}
	avgBranching /= float64(n)
	avgWinRate /= float64(n)

	solid, aggressive := 0, 0
	for i := range winRates {
		if winRates[i] > 0.5 {
			solid++
		}
		// Aggression proxy: positions where the player branches more than
		// their own average, meaning they keep more options in play.
		if branching[i] > avgBranching {
			aggressive++
		}
	}

	return StyleProfile{
		TotalPositions:    len(index),
		TotalMovesIndexed: moveCount,
		AvgBranching:      round2(avgBranching),
		AvgWinRate:        round3(avgWinRate),
		AggressionScore:   round3(float64(aggressive) / float64(n)),
		SolidnessScore:    round3(float64(solid) / float64(n)),
		OpeningDiversity:  round3(openingDiversity(index)),
		TopOpenings:       topOpenings(index, side),
	}
}

// openingDiversity measures how spread out the player's first moves are:
// 1 minus the fraction of root games going to the single most common move.
// Without root data the score is a neutral 0.5.
func openingDiversity(index map[string]*model.ExplorerData) float64 {
	root, ok := index[chess.StartingPosition().String()]
	if !ok || root.Total() == 0 || len(root.Moves) == 0 {
		return 0.5
	}
	top := 0
	for _, m := range root.Moves {
		if m.Total() > top {
			top = m.Total()
		}
	}
	return 1.0 - float64(top)/float64(root.Total())
}

// topOpenings returns the player's most visited positions by game count.
func topOpenings(index map[string]*model.ExplorerData, side chess.Color) []Opening {
	type entry struct {
		fen  string
		data *model.ExplorerData
	}
	entries := make([]entry, 0, len(index))
	for fen, data := range index {
		entries = append(entries, entry{fen, data})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].data.Total() != entries[j].data.Total() {
			return entries[i].data.Total() > entries[j].data.Total()
		}
		return entries[i].fen < entries[j].fen
	})

	var openings []Opening
	for _, e := range entries {
		if len(openings) >= topOpeningCount {
			break
		}
		total := e.data.Total()
		if total == 0 {
			continue
		}
		var topSAN string
		if tops := e.data.TopMoves(1); len(tops) > 0 {
			if pos, err := model.PositionFromFEN(e.fen); err == nil && pos.Turn() == side {
				topSAN = model.SAN(pos, tops[0].UCI)
			}
		}
		openings = append(openings, Opening{
			FEN:        e.fen,
			Games:      total,
			WinRate:    round3(winRate(e.data, side)),
			TopMoveSAN: topSAN,
		})
	}
	return openings
}

// battlegrounds finds positions where the player has data and, one ply
// after their most common move, the opponent has data too. Results are
// ordered by how lopsided the matchup is.
func battlegrounds(playerIndex, opponentIndex map[string]*model.ExplorerData, playerSide chess.Color, minGames int) []Battleground {
	var results []Battleground

	for fen, playerData := range playerIndex {
		pos, err := model.PositionFromFEN(fen)
		if err != nil || pos.Turn() != playerSide {
			continue
		}
		if playerData.Total() < minGames {
			continue
		}
		tops := playerData.TopMoves(1)
		if len(tops) == 0 {
			continue
		}
		topUCI := tops[0].UCI

		after, err := model.ApplyUCI(pos, topUCI)
		if err != nil {
			continue
		}
		opponentData, ok := opponentIndex[after.String()]
		if !ok || opponentData.Total() < minGames {
			continue
		}

		playerRate := winRate(playerData, playerSide)
		opponentRate := winRate(opponentData, playerSide.Other())
		delta := playerRate - (1.0 - opponentRate)

		advantage := "equal"
		if delta > advantageBand {
			advantage = "player"
		} else if delta < -advantageBand {
			advantage = "opponent"
		}

		var opponentSAN string
		if oppTops := opponentData.TopMoves(1); len(oppTops) > 0 {
			opponentSAN = model.SAN(after, oppTops[0].UCI)
		}

		results = append(results, Battleground{
			FEN:                    fen,
			PlayerGames:            playerData.Total(),
			PlayerWinRate:          round3(playerRate),
			OpponentGames:          opponentData.Total(),
			OpponentWinRate:        round3(opponentRate),
			Advantage:              advantage,
			AdvantageDelta:         round3(delta),
			PlayerTopMoveSAN:       model.SAN(pos, topUCI),
			OpponentTopResponseSAN: opponentSAN,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return math.Abs(results[i].AdvantageDelta) > math.Abs(results[j].AdvantageDelta)
	})
	if len(results) > maxBattlegrounds {
		results = results[:maxBattlegrounds]
	}
	return results
}

// winRate returns the given side's win fraction in the aggregate data.
func winRate(data *model.ExplorerData, side chess.Color) float64 {
	total := data.Total()
	if total == 0 {
		return 0
	}
	wins := data.White
	if side == chess.Black {
		wins = data.Black
	}
	return float64(wins) / float64(total)
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
func round3(x float64) float64 { return math.Round(x*1000) / 1000 }
