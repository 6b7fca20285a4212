// Package screen adapts a virtual terminal emulator to the capture
// pipeline: raw PTY bytes in, rendered plain and styled text out.
package screen

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hinshun/vt10x"
)

// Screen is the emulated terminal state for one session. It is not safe
// for concurrent use; the execution engine is its only mutator.
type Screen struct {
	term vt10x.Terminal
}

// New creates a screen of the given dimensions.
func New(cols, rows int) *Screen {
	return &Screen{term: vt10x.New(vt10x.WithSize(cols, rows))}
}

// Feed runs raw child output through the terminal parser.
func (s *Screen) Feed(data []byte) {
	_, _ = s.term.Write(data)
}

// PlainText renders the visible screen as text, with trailing spaces
// trimmed from each line and trailing blank lines removed. This is the
// representation waits match against and frames are deduplicated on.
func (s *Screen) PlainText() string {
	s.term.Lock()
	defer s.term.Unlock()

	cols, rows := s.term.Size()
	lines := make([]string, 0, rows)
	for y := 0; y < rows; y++ {
		var line strings.Builder
		for x := 0; x < cols; x++ {
			g := s.term.Cell(x, y)
			if g.Char == 0 {
				line.WriteRune(' ')
			} else {
				line.WriteRune(g.Char)
			}
		}
		lines = append(lines, strings.TrimRight(line.String(), " "))
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// StyledText renders the full screen with ANSI SGR sequences
// reconstructed from each cell's colors. Every row is emitted at full
// width and reset at end of line.
func (s *Screen) StyledText() string {
	s.term.Lock()
	defer s.term.Unlock()

	cols, rows := s.term.Size()
	var out strings.Builder
	for y := 0; y < rows; y++ {
		if y > 0 {
			out.WriteByte('\n')
		}
		lastFG, lastBG := vt10x.DefaultFG, vt10x.DefaultBG
		for x := 0; x < cols; x++ {
			g := s.term.Cell(x, y)
			if g.FG != lastFG || g.BG != lastBG {
				out.WriteString("\x1b[0m")
				out.WriteString(sgr(g.FG, g.BG))
				lastFG, lastBG = g.FG, g.BG
			}
			if g.Char == 0 {
				out.WriteRune(' ')
			} else {
				out.WriteRune(g.Char)
			}
		}
		out.WriteString("\x1b[0m")
	}
	return out.String()
}

// Matches reports whether the pattern matches anywhere in the current
// plain-text screen.
func (s *Screen) Matches(re *regexp.Regexp) bool {
	return re.MatchString(s.PlainText())
}

// sgr builds the escape sequence selecting the given foreground and
// background colors. Default colors produce no code.
func sgr(fg, bg vt10x.Color) string {
	var codes []string
	if c := colorCode(fg, false); c != "" {
		codes = append(codes, c)
	}
	if c := colorCode(bg, true); c != "" {
		codes = append(codes, c)
	}
	if len(codes) == 0 {
		return ""
	}
	return "\x1b[" + strings.Join(codes, ";") + "m"
}

func colorCode(c vt10x.Color, background bool) string {
	if c == vt10x.DefaultFG || c == vt10x.DefaultBG || c == vt10x.DefaultCursor {
		return ""
	}
	base, bright, extended := 30, 90, "38"
	if background {
		base, bright, extended = 40, 100, "48"
	}
	switch {
	case c < 8:
		return strconv.Itoa(base + int(c))
	case c < 16:
		return strconv.Itoa(bright + int(c) - 8)
	case c < 256:
		return extended + ";5;" + strconv.Itoa(int(c))
	default:
		return ""
	}
}
