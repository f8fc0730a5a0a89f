package app

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/notnil/chess"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/prepwatch/internal/config"
	"github.com/blackwell-systems/prepwatch/internal/engine"
	"github.com/blackwell-systems/prepwatch/internal/output"
)

// setupOutput applies the global color flags before any styled printing.
func setupOutput() {
	if flagNoColor {
		output.SetNoColor(true)
		return
	}
	output.AutoColor()
}

func verbosef(format string, args ...any) {
	if flagVerbose {
		fmt.Printf(format+"\n", args...)
	}
}

func warnf(format string, args ...any) {
	fmt.Println(output.StyleWarning.Render(fmt.Sprintf(format, args...)))
}

// sideOf parses a color name from the command line.
func sideOf(color string) (chess.Color, error) {
	switch strings.ToLower(color) {
	case "white", "w":
		return chess.White, nil
	case "black", "b":
		return chess.Black, nil
	}
	return chess.NoColor, fmt.Errorf("invalid color %q (want white or black)", color)
}

func colorName(side chess.Color) string {
	if side == chess.Black {
		return "black"
	}
	return "white"
}

// parseDepths parses a comma-separated depth list such as "20,24,28".
func parseDepths(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	depths := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := strconv.Atoi(p)
		if err != nil || d < 1 {
			return nil, fmt.Errorf("invalid depth %q in %q", p, s)
		}
		depths = append(depths, d)
	}
	if len(depths) == 0 {
		return nil, fmt.Errorf("no depths in %q", s)
	}
	return depths, nil
}

// enginePath resolves the Stockfish binary: an explicit config path wins,
// otherwise the environment and PATH are searched.
func enginePath(cfg *config.Config) (string, error) {
	if cfg.StockfishPath != "" {
		return cfg.StockfishPath, nil
	}
	return engine.FindStockfish()
}

// engineThreads returns the configured engine thread count, defaulting to
// the machine's CPU count.
func engineThreads(cfg *config.Config) int {
	if cfg.EngineThreads > 0 {
		return cfg.EngineThreads
	}
	return runtime.NumCPU()
}

// intFlag returns the flag value when the user set it, else the config value.
// Flags and the config file share their defaults, so the config file only
// shows through where the command line is silent.
func intFlag(cmd *cobra.Command, name string, flagVal, cfgVal int) int {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	return cfgVal
}

func stringFlag(cmd *cobra.Command, name, flagVal, cfgVal string) string {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	return cfgVal
}
