package script

import "fmt"

// namedKeys maps <Key> names to the byte sequences a terminal would emit.
var namedKeys = map[string][]byte{
	"Enter":     {'\r'},
	"Tab":       {'\t'},
	"Esc":       {0x1b},
	"Space":     {' '},
	"Backspace": {0x7f},
	"Up":        []byte("\x1b[A"),
	"Down":      []byte("\x1b[B"),
	"Right":     []byte("\x1b[C"),
	"Left":      []byte("\x1b[D"),
}

// keyBytes resolves a named key, Ctrl chord (<C-x>), or Meta chord
// (<M-x>, <A-x>) to its byte sequence.
func keyBytes(name string) ([]byte, error) {
	if b, ok := namedKeys[name]; ok {
		return b, nil
	}
	if len(name) == 3 && name[1] == '-' {
		c := name[2]
		switch name[0] {
		case 'C':
			if c >= 'a' && c <= 'z' {
				return []byte{c - 'a' + 1}, nil
			}
			if c >= 'A' && c <= 'Z' {
				return []byte{c - 'A' + 1}, nil
			}
			return nil, fmt.Errorf("invalid Ctrl key: <%s>", name)
		case 'M', 'A':
			if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
				return []byte{0x1b, c}, nil
			}
			return nil, fmt.Errorf("invalid Meta key: <%s>", name)
		}
	}
	return nil, fmt.Errorf("unknown key: <%s>", name)
}
