// Package explorer provides cache-backed clients for opening database
// queries: the masters database and per-player opening trees.
package explorer

import (
	"encoding/json"
	"fmt"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

// Payload is the wire and cache format for explorer statistics. It matches
// the Lichess opening explorer JSON, and the same shape is used for books
// built locally from downloaded games.
type Payload struct {
	White int           `json:"white"`
	Draws int           `json:"draws"`
	Black int           `json:"black"`
	Moves []PayloadMove `json:"moves"`
}

// PayloadMove is the per-move breakdown within a Payload.
type PayloadMove struct {
	UCI           string `json:"uci"`
	SAN           string `json:"san,omitempty"`
	White         int    `json:"white"`
	Draws         int    `json:"draws"`
	Black         int    `json:"black"`
	AverageRating int    `json:"averageRating,omitempty"`
}

// ParsePayload decodes a cached or fetched explorer payload.
func ParsePayload(raw []byte) (*model.ExplorerData, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding explorer payload: %w", err)
	}
	return p.Data(), nil
}

// Data converts the payload to the shared explorer statistics type.
func (p *Payload) Data() *model.ExplorerData {
	data := &model.ExplorerData{
		White: p.White,
		Draws: p.Draws,
		Black: p.Black,
		Moves: make([]model.MoveStats, 0, len(p.Moves)),
	}
	for _, m := range p.Moves {
		data.Moves = append(data.Moves, model.MoveStats{
			UCI:           m.UCI,
			White:         m.White,
			Draws:         m.Draws,
			Black:         m.Black,
			AverageRating: m.AverageRating,
		})
	}
	return data
}

// Encode serializes the payload for caching.
func (p *Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}
