// Package repertoire reconstructs a player's opening repertoire from
// their cached opening book and renders it as a PGN tree with variations.
package repertoire

import (
	"fmt"
	"strings"

	"github.com/notnil/chess"

	"github.com/blackwell-systems/prepwatch/internal/explorer"
	"github.com/blackwell-systems/prepwatch/internal/model"
	"github.com/blackwell-systems/prepwatch/internal/store"
)

// BookStore reads a player's cached opening book.
type BookStore interface {
	ScanBackend(backend string) ([]store.PositionEntry, error)
}

// Move is one branch of the repertoire tree. Player moves carry the game
// count from the book; opponent moves are inferred from which successor
// positions the book contains and carry no count of their own.
type Move struct {
	UCI      string
	SAN      string
	Games    int
	Player   bool
	Children []*Move
}

// Repertoire is the reconstructed opening tree for one player and color.
type Repertoire struct {
	Side  chess.Color
	Moves []*Move
	Stats Stats
}

// Stats summarizes a reconstructed repertoire.
type Stats struct {
	TotalPositions   int
	TotalPlayerMoves int
	MaxDepthReached  int
}

// Extract rebuilds the repertoire tree from the cached book. Only moves
// the player chose at least minGames times are included; opponent
// branches are those the book shows the player actually faced. Lines
// stop at maxPlies half-moves from the root.
func Extract(book BookStore, backend string, side chess.Color, minGames, maxPlies int) (*Repertoire, error) {
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
	if len(index) == 0 {
		return nil, fmt.Errorf("no cached games for backend %q: fetch the player's games first", backend)
	}

	r := &Repertoire{Side: side}
	b := &builder{index: index, side: side, minGames: minGames, maxPlies: maxPlies, visited: make(map[string]bool)}
	r.Moves = b.expand(chess.NewGame().Position(), 0, &r.Stats)
	return r, nil
}

type builder struct {
	index    map[string]*model.ExplorerData
	side     chess.Color
	minGames int
	maxPlies int
	visited  map[string]bool
}

// expand builds the branches leaving a position. At the player's turn the
// book supplies the moves; at the opponent's turn every legal move whose
// successor appears in the book becomes a branch.
func (b *builder) expand(pos *chess.Position, ply int, stats *Stats) []*Move {
	if b.maxPlies > 0 && ply >= b.maxPlies {
		return nil
	}
	fen := pos.String()
	if b.visited[fen] {
		return nil
	}
	b.visited[fen] = true

	if ply > stats.MaxDepthReached {
		stats.MaxDepthReached = ply
	}

	if pos.Turn() == b.side {
		return b.expandPlayer(pos, fen, ply, stats)
	}
	return b.expandOpponent(pos, ply, stats)
}

func (b *builder) expandPlayer(pos *chess.Position, fen string, ply int, stats *Stats) []*Move {
	data, ok := b.index[fen]
	if !ok {
		return nil
	}
	stats.TotalPositions++

	var moves []*Move
	for _, m := range data.TopMoves(len(data.Moves)) {
		if m.Total() < b.minGames {
			continue
		}
		next, err := model.ApplyUCI(pos, m.UCI)
		if err != nil {
			continue
		}
		stats.TotalPlayerMoves++
		moves = append(moves, &Move{
			UCI:      m.UCI,
			SAN:      model.SAN(pos, m.UCI),
			Games:    m.Total(),
			Player:   true,
			Children: b.expand(next, ply+1, stats),
		})
	}
	return moves
}

func (b *builder) expandOpponent(pos *chess.Position, ply int, stats *Stats) []*Move {
	var moves []*Move
	for _, legal := range pos.ValidMoves() {
		next := pos.Update(legal)
		if _, ok := b.index[next.String()]; !ok {
			continue
		}
		uci := chess.UCINotation{}.Encode(pos, legal)
		moves = append(moves, &Move{
			UCI:      uci,
			SAN:      model.SAN(pos, uci),
			Children: b.expand(next, ply+1, stats),
		})
	}
	return moves
}

// PGN renders the repertoire as a single annotated game with variations.
func (r *Repertoire) PGN(playerName string) string {
	var b strings.Builder
	colorName := "White"
	if r.Side == chess.Black {
		colorName = "Black"
	}
	fmt.Fprintf(&b, "[Event \"Repertoire (%s)\"]\n", strings.ToLower(colorName))
	fmt.Fprintf(&b, "[Site \"prepwatch\"]\n")
	fmt.Fprintf(&b, "[%s %q]\n", colorName, playerName)
	fmt.Fprintf(&b, "[Result \"*\"]\n\n")

	writeMoves(&b, r.Moves, 0, true)
	b.WriteString("*\n")
	return b.String()
}

// writeMoves emits a move list with the first branch as the main line and
// the rest as parenthesized variations.
func writeMoves(b *strings.Builder, moves []*Move, ply int, needNumber bool) {
	if len(moves) == 0 {
		return
	}

	main := moves[0]
	b.WriteString(movePrefix(ply, needNumber))
	b.WriteString(main.SAN)
	b.WriteString(" ")

	for _, alt := range moves[1:] {
		b.WriteString("(")
		b.WriteString(movePrefix(ply, true))
		b.WriteString(alt.SAN)
		b.WriteString(" ")
		writeMoves(b, alt.Children, ply+1, false)
		trimTrailingSpace(b)
		b.WriteString(") ")
	}

	// After a variation the main line needs its number restated.
	writeMoves(b, main.Children, ply+1, len(moves) > 1)
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

func trimTrailingSpace(b *strings.Builder) {
	s := b.String()
	if strings.HasSuffix(s, " ") {
		b.Reset()
		b.WriteString(strings.TrimRight(s, " "))
	}
}
