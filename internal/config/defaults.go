// Package config provides configuration loading and defaults for prepwatch.
package config

// DefaultConfigDir is the default location for prepwatch configuration.
const DefaultConfigDir = "~/.config/prepwatch"

// DefaultDBName is the filename for the SQLite cache database.
const DefaultDBName = "prepwatch.db"

// DefaultConfigFile is the filename for the YAML config.
const DefaultConfigFile = "config.yaml"

// DefaultSpeeds is the default set of time controls to include.
const DefaultSpeeds = "blitz,rapid,classical"

// DefaultSearch holds the default novelty search tunables.
var DefaultSearch = Search{
	MaxBookPlies:      25,
	EngineCandidates:  10,
	MinBookGames:      5,
	NoveltyThreshold:  2,
	OpponentResponses: 3,
	Depths:            "20,24,28",
	QuickTimeMS:       200,
	MinEvalCP:         0,
	ContinuationPlies: 6,
	Workers:           4,
	MaxPositions:      800,
	MaxCandidates:     200,
	MinPlayerGames:    3,
	MinOpponentGames:  3,
}

// DefaultFetch holds the default game download tunables.
var DefaultFetch = Fetch{
	MaxGames: 10000,
	MaxPlies: 30,
}

// DefaultHabits holds the default habit analysis tunables.
var DefaultHabits = Habits{
	MinGames:     5,
	MaxPositions: 50,
	MinEvalGapCP: 25,
	Depth:        20,
}

// DefaultRepertoire holds the default repertoire extraction tunables.
var DefaultRepertoire = Repertoire{
	MinGames: 5,
	MaxPlies: 20,
}

// DefaultStrategise holds the default head-to-head report tunables.
var DefaultStrategise = Strategise{
	MinGames:     5,
	MaxPositions: 30,
	MinEvalGapCP: 25,
	Depth:        18,
	PhaseGames:   200,
}
