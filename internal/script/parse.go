package script

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseError describes a malformed script. Line is 1-based.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Parse compiles script source into a statement list. No statement executes
// before the whole script parses.
func Parse(source string) ([]Stmt, error) {
	p := &parser{lines: strings.Split(source, "\n")}
	return p.block(nil)
}

type parser struct {
	lines []string
	pos   int
}

func (p *parser) errorf(format string, args ...any) error {
	line := p.pos + 1
	if p.pos >= len(p.lines) {
		line = len(p.lines)
	}
	return &ParseError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// block parses statements until stop reports a terminator line (left
// unconsumed) or, with a nil stop, until the end of input.
func (p *parser) block(stop func(string) bool) ([]Stmt, error) {
	stmts := []Stmt{}
	for p.pos < len(p.lines) {
		line := strings.TrimSpace(p.lines[p.pos])
		if line == "" || strings.HasPrefix(line, "#") {
			p.pos++
			continue
		}
		if stop != nil && stop(line) {
			return stmts, nil
		}
		stmt, err := p.statement(line)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	if stop != nil {
		return nil, p.errorf("missing 'end'")
	}
	return stmts, nil
}

// statement parses the statement starting at the current line, consuming
// every line that belongs to it.
func (p *parser) statement(line string) (Stmt, error) {
	word := firstWord(line)
	rest := strings.TrimSpace(line[len(word):])

	switch word {
	case "wait":
		stmt, err := p.waitStmt(rest)
		if err != nil {
			return nil, err
		}
		p.pos++
		return stmt, nil
	case "send":
		parts, err := p.sendParts(rest)
		if err != nil {
			return nil, err
		}
		p.pos++
		return Send{Parts: parts}, nil
	case "snapshot":
		stmt, err := p.snapshotStmt(rest)
		if err != nil {
			return nil, err
		}
		p.pos++
		return stmt, nil
	case "kill":
		sig, name, err := parseSignal(rest)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		p.pos++
		return Kill{Signal: sig, Name: name}, nil
	case "if":
		return p.ifStmt(rest)
	case "match":
		return p.matchStmt(rest)
	case "else", "end":
		return nil, p.errorf("unexpected %q outside of a block", word)
	default:
		return nil, p.errorf("unknown command: %s", word)
	}
}

// waitStmt parses the argument list of a wait: either a bare duration
// (a plain sleep) or a condition.
func (p *parser) waitStmt(rest string) (Stmt, error) {
	if rest == "" {
		return nil, p.errorf("wait requires a pattern or duration")
	}
	if !strings.ContainsAny(rest, `"!`) {
		d, err := parseDuration(rest)
		if err != nil {
			return nil, p.errorf("wait: %v", err)
		}
		return Sleep{Duration: d}, nil
	}
	cond, err := p.cond(rest)
	if err != nil {
		return nil, err
	}
	return Wait{Cond: cond}, nil
}

// cond parses `[!] "pattern" [!] [duration]`.
func (p *parser) cond(s string) (Cond, error) {
	var c Cond
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "!") {
		c.Negated = true
		s = strings.TrimSpace(s[1:])
	}
	pattern, rest, err := scanPattern(s)
	if err != nil {
		return Cond{}, p.errorf("wait: %v", err)
	}
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "!") {
		c.Negated = true
		rest = strings.TrimSpace(rest[1:])
	}
	if rest != "" {
		d, err := parseDuration(rest)
		if err != nil {
			return Cond{}, p.errorf("wait: %v", err)
		}
		c.Timeout = d
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Cond{}, p.errorf("invalid pattern %q: %v", pattern, err)
	}
	c.Pattern = re
	c.Source = pattern
	return c, nil
}

func (p *parser) snapshotStmt(rest string) (Stmt, error) {
	if rest == "" {
		return Snapshot{}, nil
	}
	name, tail, err := scanQuoted(rest)
	if err != nil {
		return nil, p.errorf("snapshot: %v", err)
	}
	if strings.TrimSpace(tail) != "" {
		return nil, p.errorf("snapshot: unexpected trailing %q", strings.TrimSpace(tail))
	}
	return Snapshot{Name: name}, nil
}

// sendParts tokenizes send arguments: quoted text, <Key> names, and bare
// duration tokens as inline delays.
func (p *parser) sendParts(s string) ([]SendPart, error) {
	var parts []SendPart
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, p.errorf("send requires at least one argument")
	}
	for s != "" {
		switch {
		case s[0] == '"':
			text, rest, err := scanQuoted(s)
			if err != nil {
				return nil, p.errorf("send: %v", err)
			}
			parts = append(parts, SendBytes{Data: []byte(text)})
			s = strings.TrimSpace(rest)
		case s[0] == '<':
			end := strings.IndexByte(s, '>')
			if end < 0 {
				return nil, p.errorf("send: unterminated <key>")
			}
			data, err := keyBytes(s[1:end])
			if err != nil {
				return nil, p.errorf("send: %v", err)
			}
			parts = append(parts, SendBytes{Data: data})
			s = strings.TrimSpace(s[end+1:])
		default:
			tok := firstWord(s)
			d, err := parseDuration(tok)
			if err != nil {
				return nil, p.errorf("send: unexpected token %q", tok)
			}
			parts = append(parts, SendDelay{Duration: d})
			s = strings.TrimSpace(s[len(tok):])
		}
	}
	return parts, nil
}

// ifStmt parses `if wait ...` through its matching `end`. `else if` chains
// desugar into further branches of the same If.
func (p *parser) ifStmt(rest string) (Stmt, error) {
	cond, err := p.ifCond(rest)
	if err != nil {
		return nil, err
	}
	p.pos++

	stmt := If{}
	body, err := p.block(isBranchBoundary)
	if err != nil {
		return nil, err
	}
	stmt.Branches = append(stmt.Branches, IfBranch{Cond: cond, Body: body})

	for {
		if p.pos >= len(p.lines) {
			return nil, p.errorf("missing 'end'")
		}
		line := strings.TrimSpace(p.lines[p.pos])
		switch {
		case line == "end":
			p.pos++
			return stmt, nil
		case strings.HasPrefix(line, "else if"):
			cond, err := p.ifCond(strings.TrimSpace(line[len("else if"):]))
			if err != nil {
				return nil, err
			}
			p.pos++
			body, err := p.block(isBranchBoundary)
			if err != nil {
				return nil, err
			}
			stmt.Branches = append(stmt.Branches, IfBranch{Cond: cond, Body: body})
		case line == "else":
			p.pos++
			elseBody, err := p.block(func(l string) bool { return l == "end" })
			if err != nil {
				return nil, err
			}
			stmt.Else = elseBody
			p.pos++ // consume "end"
			return stmt, nil
		default:
			return nil, p.errorf("expected 'else', 'else if', or 'end'")
		}
	}
}

// ifCond parses the `wait ...` condition of an if or else-if clause.
func (p *parser) ifCond(s string) (Cond, error) {
	s = strings.TrimSpace(s)
	if firstWord(s) != "wait" {
		return Cond{}, p.errorf("if condition must be a wait")
	}
	return p.cond(strings.TrimSpace(s[len("wait"):]))
}

// matchStmt parses `match [duration]` through its matching `end`.
func (p *parser) matchStmt(rest string) (Stmt, error) {
	stmt := Match{}
	if rest != "" {
		d, err := parseDuration(rest)
		if err != nil {
			return nil, p.errorf("match: %v", err)
		}
		stmt.Timeout = d
	}
	p.pos++

	for {
		if p.pos >= len(p.lines) {
			return nil, p.errorf("missing 'end'")
		}
		line := strings.TrimSpace(p.lines[p.pos])
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			p.pos++
		case line == "end":
			p.pos++
			if len(stmt.Arms) == 0 {
				return nil, p.errorf("match requires at least one arm")
			}
			return stmt, nil
		case line == "else":
			p.pos++
			elseBody, err := p.block(func(l string) bool { return l == "end" })
			if err != nil {
				return nil, err
			}
			stmt.Else = elseBody
			stmt.HasElse = true
			if p.pos >= len(p.lines) {
				return nil, p.errorf("missing 'end'")
			}
			p.pos++ // consume "end"
			if len(stmt.Arms) == 0 {
				return nil, p.errorf("match requires at least one arm")
			}
			return stmt, nil
		case strings.HasPrefix(line, `"`):
			arm, err := p.matchArm(line)
			if err != nil {
				return nil, err
			}
			stmt.Arms = append(stmt.Arms, arm)
		default:
			return nil, p.errorf("expected a match arm, 'else', or 'end'")
		}
	}
}

// matchArm parses one `"pattern" -> [stmt]` clause plus any following
// statement lines belonging to its body.
func (p *parser) matchArm(line string) (MatchArm, error) {
	pattern, rest, err := scanPattern(line)
	if err != nil {
		return MatchArm{}, p.errorf("match arm: %v", err)
	}
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "->") {
		return MatchArm{}, p.errorf("match arm: expected '->' after pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return MatchArm{}, p.errorf("invalid pattern %q: %v", pattern, err)
	}
	arm := MatchArm{Pattern: re, Source: pattern}

	inline := strings.TrimSpace(rest[2:])
	if inline != "" {
		stmt, err := p.inlineStatement(inline)
		if err != nil {
			return MatchArm{}, err
		}
		arm.Body = append(arm.Body, stmt)
	}
	p.pos++

	body, err := p.block(isArmBoundary)
	if err != nil {
		return MatchArm{}, err
	}
	arm.Body = append(arm.Body, body...)
	return arm, nil
}

// inlineStatement parses a single-line statement following an arm's `->`.
// Block statements (if, match) must start on their own line.
func (p *parser) inlineStatement(s string) (Stmt, error) {
	word := firstWord(s)
	if word == "if" || word == "match" {
		return nil, p.errorf("%s cannot follow '->' on the same line", word)
	}
	saved := p.pos
	stmt, err := p.statement(s)
	p.pos = saved
	return stmt, err
}

func isBranchBoundary(line string) bool {
	return line == "end" || line == "else" || strings.HasPrefix(line, "else if")
}

func isArmBoundary(line string) bool {
	return line == "end" || line == "else" || strings.HasPrefix(line, `"`)
}

func firstWord(s string) string {
	if i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' }); i >= 0 {
		return s[:i]
	}
	return s
}

// scanQuoted consumes a double-quoted string at the start of s, resolving
// escape sequences, and returns the content plus the remainder.
func scanQuoted(s string) (string, string, error) {
	if len(s) == 0 || s[0] != '"' {
		return "", "", fmt.Errorf("expected quoted string")
	}
	var b strings.Builder
	i := 1
	for i < len(s) {
		switch s[i] {
		case '"':
			return b.String(), s[i+1:], nil
		case '\\':
			i++
			if i >= len(s) {
				return "", "", fmt.Errorf("unterminated string")
			}
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case '\\':
				b.WriteByte('\\')
			case '"':
				b.WriteByte('"')
			default:
				return "", "", fmt.Errorf("unknown escape: \\%c", s[i])
			}
			i++
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return "", "", fmt.Errorf("unterminated string")
}

// scanPattern consumes a double-quoted regular expression at the start of
// s. Unlike scanQuoted, backslashes pass through untouched (they belong to
// the regex), except \" which escapes a literal quote.
func scanPattern(s string) (string, string, error) {
	if len(s) == 0 || s[0] != '"' {
		return "", "", fmt.Errorf("expected quoted pattern")
	}
	var b strings.Builder
	i := 1
	for i < len(s) {
		switch {
		case s[i] == '"':
			return b.String(), s[i+1:], nil
		case s[i] == '\\' && i+1 < len(s) && s[i+1] == '"':
			b.WriteByte('"')
			i += 2
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return "", "", fmt.Errorf("unterminated pattern")
}

var durationRe = regexp.MustCompile(`^(\d+)(ms|s|m)?$`)

// parseDuration parses a duration literal: bare digits are milliseconds,
// `s` seconds, `m` minutes.
func parseDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	default:
		return time.Duration(n) * time.Millisecond, nil
	}
}
