package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level prepwatch configuration.
type Config struct {
	StockfishPath string `mapstructure:"stockfish_path"`
	EngineThreads int    `mapstructure:"engine_threads"`

	Search     Search     `mapstructure:"search"`
	Fetch      Fetch      `mapstructure:"fetch"`
	Habits     Habits     `mapstructure:"habits"`
	Repertoire Repertoire `mapstructure:"repertoire"`
	Strategise Strategise `mapstructure:"strategise"`
	AI         AI         `mapstructure:"ai"`
}

// Search defines the novelty search tunables.
type Search struct {
	MaxBookPlies      int    `mapstructure:"max_book_plies"`
	EngineCandidates  int    `mapstructure:"engine_candidates"`
	MinBookGames      int    `mapstructure:"min_book_games"`
	NoveltyThreshold  int    `mapstructure:"novelty_threshold"`
	OpponentResponses int    `mapstructure:"opponent_responses"`
	Depths            string `mapstructure:"depths"`
	QuickTimeMS       int    `mapstructure:"quick_time_ms"`
	MinEvalCP         int    `mapstructure:"min_eval_cp"`
	ContinuationPlies int    `mapstructure:"continuation_plies"`
	Workers           int    `mapstructure:"workers"`
	MaxPositions      int    `mapstructure:"max_positions"`
	MaxCandidates     int    `mapstructure:"max_candidates"`
	MinPlayerGames    int    `mapstructure:"min_player_games"`
	MinOpponentGames  int    `mapstructure:"min_opponent_games"`
}

// Fetch defines the game download tunables.
type Fetch struct {
	MaxGames int `mapstructure:"max_games"`
	MaxPlies int `mapstructure:"max_plies"`
}

// Habits defines the habit analysis tunables.
type Habits struct {
	MinGames     int `mapstructure:"min_games"`
	MaxPositions int `mapstructure:"max_positions"`
	MinEvalGapCP int `mapstructure:"min_eval_gap_cp"`
	Depth        int `mapstructure:"depth"`
}

// Repertoire defines the repertoire extraction tunables.
type Repertoire struct {
	MinGames int `mapstructure:"min_games"`
	MaxPlies int `mapstructure:"max_plies"`
}

// Strategise defines the head-to-head report tunables.
type Strategise struct {
	MinGames     int `mapstructure:"min_games"`
	MaxPositions int `mapstructure:"max_positions"`
	MinEvalGapCP int `mapstructure:"min_eval_gap_cp"`
	Depth        int `mapstructure:"depth"`
	PhaseGames   int `mapstructure:"phase_games"`
}

// AI defines the strategic brief generation settings. The API key is
// taken from the ANTHROPIC_API_KEY environment variable or a flag, never
// from the config file.
type AI struct {
	Model string `mapstructure:"model"`
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Load reads configuration from the given path (or the default location)
// and returns a Config with all defaults applied.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	// Set defaults.
	v.SetDefault("stockfish_path", "")
	v.SetDefault("engine_threads", 0)
	v.SetDefault("search.max_book_plies", DefaultSearch.MaxBookPlies)
	v.SetDefault("search.engine_candidates", DefaultSearch.EngineCandidates)
	v.SetDefault("search.min_book_games", DefaultSearch.MinBookGames)
	v.SetDefault("search.novelty_threshold", DefaultSearch.NoveltyThreshold)
	v.SetDefault("search.opponent_responses", DefaultSearch.OpponentResponses)
	v.SetDefault("search.depths", DefaultSearch.Depths)
	v.SetDefault("search.quick_time_ms", DefaultSearch.QuickTimeMS)
	v.SetDefault("search.min_eval_cp", DefaultSearch.MinEvalCP)
	v.SetDefault("search.continuation_plies", DefaultSearch.ContinuationPlies)
	v.SetDefault("search.workers", DefaultSearch.Workers)
	v.SetDefault("search.max_positions", DefaultSearch.MaxPositions)
	v.SetDefault("search.max_candidates", DefaultSearch.MaxCandidates)
	v.SetDefault("search.min_player_games", DefaultSearch.MinPlayerGames)
	v.SetDefault("search.min_opponent_games", DefaultSearch.MinOpponentGames)
	v.SetDefault("fetch.max_games", DefaultFetch.MaxGames)
	v.SetDefault("fetch.max_plies", DefaultFetch.MaxPlies)
	v.SetDefault("habits.min_games", DefaultHabits.MinGames)
	v.SetDefault("habits.max_positions", DefaultHabits.MaxPositions)
	v.SetDefault("habits.min_eval_gap_cp", DefaultHabits.MinEvalGapCP)
	v.SetDefault("habits.depth", DefaultHabits.Depth)
	v.SetDefault("repertoire.min_games", DefaultRepertoire.MinGames)
	v.SetDefault("repertoire.max_plies", DefaultRepertoire.MaxPlies)
	v.SetDefault("strategise.min_games", DefaultStrategise.MinGames)
	v.SetDefault("strategise.max_positions", DefaultStrategise.MaxPositions)
	v.SetDefault("strategise.min_eval_gap_cp", DefaultStrategise.MinEvalGapCP)
	v.SetDefault("strategise.depth", DefaultStrategise.Depth)
	v.SetDefault("strategise.phase_games", DefaultStrategise.PhaseGames)
	v.SetDefault("ai.model", "")

	if cfgFile != "" {
		v.SetConfigFile(expandPath(cfgFile))
	} else {
		configDir := expandPath(DefaultConfigDir)
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Read config file if it exists; missing file is not an error.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Only return error for problems other than file not found.
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.StockfishPath = expandPath(cfg.StockfishPath)

	return &cfg, nil
}

// DBPath returns the full path to the SQLite database.
func DBPath() string {
	return filepath.Join(expandPath(DefaultConfigDir), DefaultDBName)
}

// ConfigDir returns the expanded configuration directory.
func ConfigDir() string {
	return expandPath(DefaultConfigDir)
}
