package store

import (
	"database/sql"
	"fmt"
	"time"
)

// PositionEntry is one cached explorer payload keyed by FEN.
type PositionEntry struct {
	FEN     string
	Payload []byte
}

// BackendStats summarizes the cached positions for one explorer backend.
type BackendStats struct {
	Backend   string
	Positions int
}

// GetPosition returns the cached explorer payload for a position under the
// given backend, or nil if the position is not cached.
func (db *DB) GetPosition(fen, backend string) ([]byte, error) {
	var payload []byte
	row := db.conn.QueryRow(
		"SELECT payload FROM explorer_cache WHERE fen = ? AND backend = ?",
		fen, backend,
	)
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("reading explorer cache: %w", err)
	}
	return payload, nil
}

// PutPosition stores an explorer payload for a position, replacing any
// previous payload for the same position and backend.
func (db *DB) PutPosition(fen, backend string, payload []byte) error {
	_, err := db.conn.Exec(`
		INSERT INTO explorer_cache (fen, backend, payload, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fen, backend) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at
	`, fen, backend, payload, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing explorer cache: %w", err)
	}
	return nil
}

// ScanBackend returns every cached position for the given backend.
func (db *DB) ScanBackend(backend string) ([]PositionEntry, error) {
	rows, err := db.conn.Query(
		"SELECT fen, payload FROM explorer_cache WHERE backend = ?",
		backend,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning explorer cache: %w", err)
	}
	defer rows.Close()

	var entries []PositionEntry
	for rows.Next() {
		var e PositionEntry
		if err := rows.Scan(&e.FEN, &e.Payload); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteBackend removes all cached positions for the given backend and
// returns the number of rows removed.
func (db *DB) DeleteBackend(backend string) (int64, error) {
	res, err := db.conn.Exec("DELETE FROM explorer_cache WHERE backend = ?", backend)
	if err != nil {
		return 0, fmt.Errorf("clearing explorer cache: %w", err)
	}
	return res.RowsAffected()
}

// ExplorerStats returns per-backend position counts, ordered by backend name.
func (db *DB) ExplorerStats() ([]BackendStats, error) {
	rows, err := db.conn.Query(`
		SELECT backend, COUNT(*) FROM explorer_cache
		GROUP BY backend ORDER BY backend
	`)
	if err != nil {
		return nil, fmt.Errorf("reading explorer stats: %w", err)
	}
	defer rows.Close()

	var stats []BackendStats
	for rows.Next() {
		var s BackendStats
		if err := rows.Scan(&s.Backend, &s.Positions); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
