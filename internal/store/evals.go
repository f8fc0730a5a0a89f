package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

// maxStoredLines caps how many engine lines a single eval_cache row holds.
const maxStoredLines = 20

// EvalStats summarizes the evaluation cache.
type EvalStats struct {
	Positions int
	MinDepth  int
	MaxDepth  int
}

// GetEvals returns the cached engine lines for a position when the cache
// holds an entry at the requested depth or deeper that satisfies the
// requested multipv. An entry satisfies multipv either by carrying that
// many lines or by having been analysed at that width in the first
// place, so a position with fewer legal moves than multipv is still a
// hit. A corrupt row behaves like a miss.
func (db *DB) GetEvals(fen string, depth, multipv int) ([]model.EvalMove, error) {
	var (
		storedDepth   int
		storedMultipv int
		movesJSON     string
	)
	row := db.conn.QueryRow("SELECT depth, multipv, moves_json FROM eval_cache WHERE fen = ?", fen)
	if err := row.Scan(&storedDepth, &storedMultipv, &movesJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("reading eval cache: %w", err)
	}

	if storedDepth < depth {
		return nil, nil
	}

	var moves []model.EvalMove
	if err := json.Unmarshal([]byte(movesJSON), &moves); err != nil {
		return nil, nil
	}
	if storedMultipv < multipv && len(moves) < multipv {
		return nil, nil
	}
	return moves, nil
}

// PutEvals stores engine lines for a position, recording the multipv the
// analysis was run at. An existing entry is only replaced by a deeper
// one, or by one at the same depth with at least the same width, so
// concurrent writers can never degrade a cached evaluation. The
// comparison and the write happen in a single statement.
func (db *DB) PutEvals(fen string, depth, multipv int, moves []model.EvalMove) error {
	if len(moves) > maxStoredLines {
		moves = moves[:maxStoredLines]
	}
	movesJSON, err := json.Marshal(moves)
	if err != nil {
		return fmt.Errorf("encoding eval moves: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO eval_cache (fen, depth, multipv, moves_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fen) DO UPDATE SET
			depth = CASE WHEN excluded.depth > eval_cache.depth
					OR (excluded.depth = eval_cache.depth AND excluded.multipv >= eval_cache.multipv)
				THEN excluded.depth ELSE eval_cache.depth END,
			multipv = CASE WHEN excluded.depth > eval_cache.depth
					OR (excluded.depth = eval_cache.depth AND excluded.multipv >= eval_cache.multipv)
				THEN excluded.multipv ELSE eval_cache.multipv END,
			moves_json = CASE WHEN excluded.depth > eval_cache.depth
					OR (excluded.depth = eval_cache.depth AND excluded.multipv >= eval_cache.multipv)
				THEN excluded.moves_json ELSE eval_cache.moves_json END,
			updated_at = CASE WHEN excluded.depth > eval_cache.depth
					OR (excluded.depth = eval_cache.depth AND excluded.multipv >= eval_cache.multipv)
				THEN excluded.updated_at ELSE eval_cache.updated_at END
	`, fen, depth, multipv, string(movesJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing eval cache: %w", err)
	}
	return nil
}

// EvalCacheStats returns the position count and depth range of the
// evaluation cache.
func (db *DB) EvalCacheStats() (EvalStats, error) {
	var stats EvalStats
	row := db.conn.QueryRow(`
		SELECT COUNT(*), COALESCE(MIN(depth), 0), COALESCE(MAX(depth), 0)
		FROM eval_cache
	`)
	if err := row.Scan(&stats.Positions, &stats.MinDepth, &stats.MaxDepth); err != nil {
		return stats, fmt.Errorf("reading eval stats: %w", err)
	}
	return stats, nil
}
