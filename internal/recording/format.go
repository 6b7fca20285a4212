package recording

import "strings"

// FormatSend renders sent bytes for the event log: control bytes become
// readable tokens, everything else passes through.
func FormatSend(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		switch {
		case b == '\n':
			out.WriteString(`\n`)
		case b == '\r':
			out.WriteString(`\r`)
		case b == '\t':
			out.WriteString(`\t`)
		case b == 0x1b:
			out.WriteString("<Esc>")
		case b == 0x7f:
			out.WriteString("<Backspace>")
		case b >= 0x01 && b <= 0x1a:
			out.WriteString("<C-")
			out.WriteByte('a' + b - 1)
			out.WriteString(">")
		default:
			out.WriteRune(rune(b))
		}
	}
	return out.String()
}
