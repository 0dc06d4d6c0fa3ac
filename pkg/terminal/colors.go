package terminal

import (
	"fmt"

	"github.com/go-delve/sdb/pkg/terminal/colorize"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiGreen     = 32
	ansiYellow    = 33
	ansiBlue      = 34
	ansiBrBlack   = 90
	ansiBrMagenta = 95
	ansiBrCyan    = 96
)

func defaultColorEscapes() map[colorize.Style]string {
	esc := func(code int) string { return fmt.Sprintf(terminalHighlightEscapeCode, code) }
	return map[colorize.Style]string{
		colorize.NormalStyle:  terminalResetEscapeCode,
		colorize.KeywordStyle: esc(ansiYellow),
		colorize.StringStyle:  esc(ansiGreen),
		colorize.NumberStyle:  esc(ansiBrCyan),
		colorize.CommentStyle: esc(ansiBrMagenta),
		colorize.ArrowStyle:   esc(ansiYellow),
		colorize.TabStyle:     esc(ansiBrBlack),
		colorize.LineNoStyle:  esc(ansiBlue),
	}
}
