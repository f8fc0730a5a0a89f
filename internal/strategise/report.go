package strategise

import (
	"fmt"
	"time"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

// PlayerSpec identifies one side of the matchup.
type PlayerSpec struct {
	Username string `json:"username"`
	Platform string `json:"platform"`
	Color    string `json:"color"`
	Speeds   string `json:"speeds"`
}

// StyleProfile summarizes a player's opening tendencies from their cached
// book: result rates, branching, and how concentrated their repertoire is.
type StyleProfile struct {
	TotalPositions    int       `json:"total_positions"`
	TotalMovesIndexed int       `json:"total_moves_indexed"`
	AvgBranching      float64   `json:"avg_branching"`
	AvgWinRate        float64   `json:"avg_win_rate"`
	AggressionScore   float64   `json:"aggression_score"`
	SolidnessScore    float64   `json:"solidness_score"`
	OpeningDiversity  float64   `json:"opening_diversity"`
	TopOpenings       []Opening `json:"top_openings"`
}

// Opening is one frequently reached position in a player's book.
type Opening struct {
	FEN        string  `json:"fen"`
	Games      int     `json:"games"`
	WinRate    float64 `json:"win_rate"`
	TopMoveSAN string  `json:"top_move_san"`
}

// Battleground is a position where the player has data and, after their
// most common move, the opponent has data too, making a direct comparison
// of results possible.
type Battleground struct {
	FEN                    string  `json:"fen"`
	PlayerGames            int     `json:"player_games"`
	PlayerWinRate          float64 `json:"player_win_rate"`
	OpponentGames          int     `json:"opponent_games"`
	OpponentWinRate        float64 `json:"opponent_win_rate"`
	Advantage              string  `json:"advantage"`
	AdvantageDelta         float64 `json:"advantage_delta"`
	PlayerTopMoveSAN       string  `json:"player_top_move_san"`
	OpponentTopResponseSAN string  `json:"opponent_top_response_san"`
}

// HabitEntry is a habit inaccuracy cross-referenced against the other
// player's book. Orig/Dest squares are split out for board rendering.
type HabitEntry struct {
	FEN                 string  `json:"fen"`
	TotalGames          int     `json:"total_games"`
	PlayerMoveUCI       string  `json:"player_move_uci"`
	PlayerMoveSAN       string  `json:"player_move_san"`
	PlayerMoveGames     int     `json:"player_move_games"`
	BestMoveUCI         string  `json:"best_move_uci"`
	BestMoveSAN         string  `json:"best_move_san"`
	EvalCP              float64 `json:"eval_cp"`
	PlayerEvalCP        float64 `json:"player_eval_cp"`
	EvalGapCP           float64 `json:"eval_gap_cp"`
	Score               float64 `json:"score"`
	PlayerMoveOrig      string  `json:"player_move_orig"`
	PlayerMoveDest      string  `json:"player_move_dest"`
	BestMoveOrig        string  `json:"best_move_orig"`
	BestMoveDest        string  `json:"best_move_dest"`
	Rank                int     `json:"rank"`
	ReachableFromPlayer bool    `json:"reachable_from_player,omitempty"`
	OpponentGamesHere   int     `json:"opponent_games_here,omitempty"`
}

// KeyPosition is one of the handful of positions most worth studying
// before the encounter.
type KeyPosition struct {
	FEN      string `json:"fen"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	MoveSAN  string `json:"move_san"`
	MoveOrig string `json:"move_orig"`
	MoveDest string `json:"move_dest"`
}

// Report is the full head-to-head preparation report.
type Report struct {
	Player             PlayerSpec     `json:"player"`
	Opponent           PlayerSpec     `json:"opponent"`
	PlayerStyle        StyleProfile   `json:"player_style"`
	OpponentStyle      StyleProfile   `json:"opponent_style"`
	Battlegrounds      []Battleground `json:"battlegrounds"`
	OpponentWeaknesses []HabitEntry   `json:"opponent_weaknesses"`
	PrepGaps           []HabitEntry   `json:"prep_gaps"`
	KeyPositions       []KeyPosition  `json:"key_positions"`
	PlayerPhases       *PhaseStats    `json:"player_phases,omitempty"`
	OpponentPhases     *PhaseStats    `json:"opponent_phases,omitempty"`
	StrategicBrief     string         `json:"strategic_brief"`
	AIAvailable        bool           `json:"ai_available"`
	GeneratedAt        time.Time      `json:"generated_at"`
}

// habitEntry converts a model.HabitInaccuracy into its report form.
func habitEntry(h model.HabitInaccuracy, rank int) HabitEntry {
	return HabitEntry{
		FEN:             h.FEN,
		TotalGames:      h.TotalGames,
		PlayerMoveUCI:   h.PlayerMoveUCI,
		PlayerMoveSAN:   h.PlayerMoveSAN,
		PlayerMoveGames: h.PlayerMoveGames,
		BestMoveUCI:     h.BestMoveUCI,
		BestMoveSAN:     h.BestMoveSAN,
		EvalCP:          h.EvalCP,
		PlayerEvalCP:    h.PlayerEvalCP,
		EvalGapCP:       h.EvalGapCP,
		Score:           h.Score,
		PlayerMoveOrig:  uciOrig(h.PlayerMoveUCI),
		PlayerMoveDest:  uciDest(h.PlayerMoveUCI),
		BestMoveOrig:    uciOrig(h.BestMoveUCI),
		BestMoveDest:    uciDest(h.BestMoveUCI),
		Rank:            rank,
	}
}

func uciOrig(uci string) string {
	if len(uci) < 4 {
		return ""
	}
	return uci[:2]
}

func uciDest(uci string) string {
	if len(uci) < 4 {
		return ""
	}
	return uci[2:4]
}

// reachableWeaknesses keeps the opponent habit inaccuracies whose position
// also appears in the player's own book, ranked by habit score.
func reachableWeaknesses(opponentHabits []model.HabitInaccuracy, playerIndex map[string]*model.ExplorerData, limit int) []HabitEntry {
	var results []HabitEntry
	for i, h := range opponentHabits {
		if _, ok := playerIndex[h.FEN]; !ok {
			continue
		}
		e := habitEntry(h, i+1)
		e.ReachableFromPlayer = true
		results = append(results, e)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

// prepGaps keeps the player's habit inaccuracies at positions the opponent
// knows, annotated with how many games the opponent has there.
func prepGaps(playerHabits []model.HabitInaccuracy, opponentIndex map[string]*model.ExplorerData, limit int) []HabitEntry {
	var results []HabitEntry
	for i, h := range playerHabits {
		data, ok := opponentIndex[h.FEN]
		if !ok {
			continue
		}
		e := habitEntry(h, i+1)
		e.OpponentGamesHere = data.Total()
		results = append(results, e)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

// keyPositions digests the analysis into at most five study positions.
func keyPositions(battlegrounds []Battleground, weaknesses, gaps []HabitEntry) []KeyPosition {
	var picks []KeyPosition

	for _, bg := range battlegrounds {
		if len(picks) >= 2 {
			break
		}
		picks = append(picks, KeyPosition{
			FEN:     bg.FEN,
			Label:   fmt.Sprintf("Battleground: player %.0f%% vs opp %.0f%%", bg.PlayerWinRate*100, bg.OpponentWinRate*100),
			Type:    "battleground",
			MoveSAN: bg.PlayerTopMoveSAN,
		})
	}

	for i, w := range weaknesses {
		if i >= 2 {
			break
		}
		picks = append(picks, KeyPosition{
			FEN:      w.FEN,
			Label:    fmt.Sprintf("Opponent weakness: %s (gap %+.0fcp)", w.PlayerMoveSAN, w.EvalGapCP),
			Type:     "weakness",
			MoveSAN:  w.PlayerMoveSAN,
			MoveOrig: w.PlayerMoveOrig,
			MoveDest: w.PlayerMoveDest,
		})
	}

	for _, g := range gaps {
		picks = append(picks, KeyPosition{
			FEN:      g.FEN,
			Label:    fmt.Sprintf("Prep gap: your %s (gap %+.0fcp)", g.PlayerMoveSAN, g.EvalGapCP),
			Type:     "gap",
			MoveSAN:  g.PlayerMoveSAN,
			MoveOrig: g.PlayerMoveOrig,
			MoveDest: g.PlayerMoveDest,
		})
		break
	}

	if len(picks) > 5 {
		picks = picks[:5]
	}
	return picks
}
