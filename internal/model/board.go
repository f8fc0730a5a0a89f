package model

import (
	"fmt"

	"github.com/notnil/chess"
)

// PositionFromFEN parses a FEN string into a chess position.
func PositionFromFEN(fen string) (*chess.Position, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parsing FEN %q: %w", fen, err)
	}
	game := chess.NewGame(opt)
	return game.Position(), nil
}

// DecodeUCI decodes a UCI move string in the given position. The decoded
// move must be legal in the position; syntactically valid but illegal moves
// are rejected.
func DecodeUCI(pos *chess.Position, uci string) (*chess.Move, error) {
	move, err := chess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return nil, fmt.Errorf("decoding move %q: %w", uci, err)
	}
	for _, legal := range pos.ValidMoves() {
		if legal.S1() == move.S1() && legal.S2() == move.S2() && legal.Promo() == move.Promo() {
			return legal, nil
		}
	}
	return nil, fmt.Errorf("move %q is not legal in this position", uci)
}

// SAN returns the standard algebraic notation for a UCI move in the given
// position, falling back to the UCI string itself if the move cannot be
// decoded.
func SAN(pos *chess.Position, uci string) string {
	move, err := DecodeUCI(pos, uci)
	if err != nil {
		return uci
	}
	return chess.AlgebraicNotation{}.Encode(pos, move)
}

// ApplyUCI returns the position after playing the given UCI move.
func ApplyUCI(pos *chess.Position, uci string) (*chess.Position, error) {
	move, err := DecodeUCI(pos, uci)
	if err != nil {
		return nil, err
	}
	return pos.Update(move), nil
}

// ApplyLine returns the position after playing a sequence of UCI moves
// from the given position.
func ApplyLine(pos *chess.Position, ucis []string) (*chess.Position, error) {
	cur := pos
	for _, uci := range ucis {
		next, err := ApplyUCI(cur, uci)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}
