// Package fetcher downloads a player's games from Lichess or chess.com
// and aggregates them into a local opening book stored in the explorer
// cache.
package fetcher

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/notnil/chess"

	"github.com/blackwell-systems/prepwatch/internal/explorer"
)

// Store is the cache slice of the database the fetcher writes books into.
type Store interface {
	GetPosition(fen, backend string) ([]byte, error)
	PutPosition(fen, backend string, payload []byte) error
}

// FetchMeta records when and how a book was built.
type FetchMeta struct {
	Games     int    `json:"games"`
	FetchedAt string `json:"fetched_at"`
}

// metaBackend is the backend key bookkeeping rows live under.
const metaBackend = "meta"

func metaKey(backend string) string {
	return "_fetch_meta_" + backend
}

// BuildBook reads a PGN stream and aggregates every position where the
// named player was to move, up to maxPlies into each game. It returns
// the book keyed by FEN and the number of games that contributed.
func BuildBook(r io.Reader, username string, side chess.Color, maxPlies int) (map[string]*explorer.Payload, int, error) {
	book := make(map[string]*explorer.Payload)
	games := 0

	scanner := chess.NewScanner(r)
	for scanner.Scan() {
		game := scanner.Next()
		if !playedAs(game, username, side) {
			continue
		}
		games++

		white, draws, black := outcomeCounts(game.Outcome())
		positions := game.Positions()
		moves := game.Moves()

		for i, move := range moves {
			if i >= maxPlies {
				break
			}
			pos := positions[i]
			if pos.Turn() != side {
				continue
			}

			fen := pos.String()
			entry, ok := book[fen]
			if !ok {
				entry = &explorer.Payload{}
				book[fen] = entry
			}
			entry.White += white
			entry.Draws += draws
			entry.Black += black

			uci := chess.UCINotation{}.Encode(pos, move)
			found := false
			for j := range entry.Moves {
				if entry.Moves[j].UCI == uci {
					entry.Moves[j].White += white
					entry.Moves[j].Draws += draws
					entry.Moves[j].Black += black
					found = true
					break
				}
			}
			if !found {
				entry.Moves = append(entry.Moves, explorer.PayloadMove{
					UCI:   uci,
					White: white,
					Draws: draws,
					Black: black,
				})
			}
		}
	}

	return book, games, nil
}

// StoreBook writes a built book into the cache under the given backend.
// With merge set, counts are added to any existing entries; otherwise
// existing entries are replaced.
func StoreBook(st Store, backend string, book map[string]*explorer.Payload, games int, merge bool) error {
	for fen, payload := range book {
		if merge {
			existing, err := st.GetPosition(fen, backend)
			if err != nil {
				return err
			}
			if existing != nil {
				prev, err := parseForMerge(existing)
				if err == nil {
					payload = mergePayloads(prev, payload)
				}
			}
		}
		raw, err := payload.Encode()
		if err != nil {
			return err
		}
		if err := st.PutPosition(fen, backend, raw); err != nil {
			return err
		}
	}

	meta := FetchMeta{Games: games, FetchedAt: time.Now().UTC().Format(time.RFC3339)}
	if merge {
		if prev, err := ReadMeta(st, backend); err == nil && prev != nil {
			meta.Games += prev.Games
		}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return st.PutPosition(metaKey(backend), metaBackend, raw)
}

// ReadMeta returns the bookkeeping record for a backend, or nil when the
// book has never been built.
func ReadMeta(st Store, backend string) (*FetchMeta, error) {
	raw, err := st.GetPosition(metaKey(backend), metaBackend)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var meta FetchMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decoding fetch meta for %q: %w", backend, err)
	}
	return &meta, nil
}

func parseForMerge(raw []byte) (*explorer.Payload, error) {
	var p explorer.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func mergePayloads(a, b *explorer.Payload) *explorer.Payload {
	merged := &explorer.Payload{
		White: a.White + b.White,
		Draws: a.Draws + b.Draws,
		Black: a.Black + b.Black,
		Moves: append([]explorer.PayloadMove(nil), a.Moves...),
	}
	for _, m := range b.Moves {
		found := false
		for j := range merged.Moves {
			if merged.Moves[j].UCI == m.UCI {
				merged.Moves[j].White += m.White
				merged.Moves[j].Draws += m.Draws
				merged.Moves[j].Black += m.Black
				found = true
				break
			}
		}
		if !found {
			merged.Moves = append(merged.Moves, m)
		}
	}
	return merged
}

// playedAs reports whether the player held the given color in a game,
// matching the name tag case-insensitively.
func playedAs(game *chess.Game, username string, side chess.Color) bool {
	tag := "White"
	if side == chess.Black {
		tag = "Black"
	}
	pair := game.GetTagPair(tag)
	if pair == nil {
		return false
	}
	return strings.EqualFold(pair.Value, username)
}

func outcomeCounts(outcome chess.Outcome) (white, draws, black int) {
	switch outcome {
	case chess.WhiteWon:
		return 1, 0, 0
	case chess.BlackWon:
		return 0, 0, 1
	case chess.Draw:
		return 0, 1, 0
	default:
		// Unfinished games still count as reached positions.
		return 0, 1, 0
	}
}
