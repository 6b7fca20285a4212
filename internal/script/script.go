// Package script parses the capsh automation DSL into a statement tree.
//
// Scripts drive an interactive program running inside a PTY. Example:
//
//	wait "login:"
//	send "admin" <Enter>
//	if wait "password:" 2s
//	  send "hunter2\n"
//	else
//	  snapshot "no-password-prompt"
//	end
//
// All escape sequences, key names, durations, and signal names are resolved
// at parse time; the resulting statements carry raw bytes and compiled
// regular expressions only.
package script

import (
	"regexp"
	"time"

	"golang.org/x/sys/unix"
)

// Stmt is a single parsed statement. The set of implementations is closed;
// the execution engine dispatches over it exhaustively.
type Stmt interface {
	stmt()
}

// Cond is a screen condition: a pattern that must (or, negated, must not)
// match the rendered screen text within a timeout. A zero Timeout means the
// engine default.
type Cond struct {
	Pattern *regexp.Regexp
	Source  string
	Negated bool
	Timeout time.Duration
}

// Wait blocks until its condition is met. Outside of a conditional
// construct, timeout or EOF is fatal to the script.
type Wait struct {
	Cond
}

// Sleep pauses the engine without reading PTY output.
type Sleep struct {
	Duration time.Duration
}

// Send writes a sequence of parts to the child's terminal.
type Send struct {
	Parts []SendPart
}

// SendPart is either literal bytes or an inline delay.
type SendPart interface {
	sendPart()
}

// SendBytes is resolved literal text or a named key's byte sequence.
type SendBytes struct {
	Data []byte
}

// SendDelay pauses between send parts.
type SendDelay struct {
	Duration time.Duration
}

// Snapshot forces a frame capture. Name is optional.
type Snapshot struct {
	Name string
}

// Kill delivers a signal to the child process.
type Kill struct {
	Signal unix.Signal
	Name   string
}

// IfBranch is one condition/body pair of an If.
type IfBranch struct {
	Cond Cond
	Body []Stmt
}

// If evaluates branch conditions in order and executes the body of the
// first that is satisfied. Branch conditions never fail the script.
type If struct {
	Branches []IfBranch
	Else     []Stmt
}

// MatchArm is one pattern/body pair of a Match.
type MatchArm struct {
	Pattern *regexp.Regexp
	Source  string
	Body    []Stmt
}

// Match races its arm patterns against the screen under a single timeout.
// The first arm, in declaration order, whose pattern matches wins. Without
// an else body, timing out is fatal.
type Match struct {
	Timeout time.Duration
	Arms    []MatchArm
	Else    []Stmt
	HasElse bool
}

func (Wait) stmt()     {}
func (Sleep) stmt()    {}
func (Send) stmt()     {}
func (Snapshot) stmt() {}
func (Kill) stmt()     {}
func (If) stmt()       {}
func (Match) stmt()    {}

func (SendBytes) sendPart() {}
func (SendDelay) sendPart() {}
