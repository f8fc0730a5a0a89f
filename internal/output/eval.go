package output

import (
	"fmt"

	"github.com/notnil/chess"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

// FormatCP renders a centipawn value as signed pawns, e.g. "+0.35".
func FormatCP(cp float64) string {
	return fmt.Sprintf("%+.2f", cp/100)
}

// Eval renders an engine evaluation with color keyed to the given side:
// green when the position favors side, red when it favors the opponent.
func Eval(ev model.EngineEval, side chess.Color) string {
	text := ev.Display()
	pov := ev.CPPov(side)
	switch {
	case pov >= 30:
		return StyleSuccess.Render(text)
	case pov <= -30:
		return StyleError.Render(text)
	default:
		return StyleMuted.Render(text)
	}
}

// Gap renders a centipawn gap with warning color above the given threshold.
func Gap(cp, warnAt float64) string {
	text := fmt.Sprintf("%.0fcp", cp)
	if cp >= warnAt {
		return StyleError.Render(text)
	}
	return StyleWarning.Render(text)
}
