// Package session executes a parsed script against a child process
// running inside a PTY, capturing frames and recording events as it goes.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/capsh/internal/capture"
	"github.com/alfredjeanlab/capsh/internal/ptyproc"
	"github.com/alfredjeanlab/capsh/internal/recording"
	"github.com/alfredjeanlab/capsh/internal/screen"
	"github.com/alfredjeanlab/capsh/internal/script"
)

const (
	// defaultTimeout bounds waits and matches with no explicit duration.
	defaultTimeout = 30 * time.Second
	// drainTick bounds the pre-statement drain of pending output.
	drainTick = 10 * time.Millisecond
	// pollTick bounds one read inside a wait or match poll loop.
	pollTick = 100 * time.Millisecond
)

// Config describes one capture run.
type Config struct {
	Command   []string
	Cols      uint16
	Rows      uint16
	FramesDir string
	Script    []script.Stmt
}

// ScriptError is a fatal script-level failure: a bare wait timing out or
// hitting EOF, or a match expiring with no else.
type ScriptError struct {
	Msg string
}

func (e *ScriptError) Error() string {
	return e.Msg
}

func scriptErrorf(format string, args ...any) error {
	return &ScriptError{Msg: fmt.Sprintf(format, args...)}
}

type session struct {
	proc   *ptyproc.Proc
	scr    *screen.Screen
	frames *capture.Dir
	rec    *recording.Recording
	eof    bool
}

// Run spawns the target command, executes the script against it, and
// returns the exit code the capsh process should report: the child's own
// exit status on success. All session resources are released on every
// exit path.
func Run(cfg Config) (code int, err error) {
	var frames *capture.Dir
	var rec *recording.Recording
	if cfg.FramesDir != "" {
		frames, err = capture.Open(cfg.FramesDir)
		if err != nil {
			return 0, err
		}
		rec, err = recording.New(cfg.FramesDir)
		if err != nil {
			return 0, err
		}
		defer func() {
			if cerr := rec.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
	}

	proc, err := ptyproc.Spawn(cfg.Command, cfg.Cols, cfg.Rows)
	if err != nil {
		return 0, err
	}
	defer proc.Close()

	s := &session{proc: proc, scr: screen.New(int(cfg.Cols), int(cfg.Rows)), frames: frames, rec: rec}

	if err := s.exec(cfg.Script); err != nil {
		proc.Kill()
		return 0, err
	}

	if err := s.drainUntilEOF(); err != nil {
		proc.Kill()
		return 0, err
	}
	code, err = proc.Wait()
	if err != nil {
		return 0, err
	}
	if s.rec != nil {
		if err := s.rec.Exit(code); err != nil {
			return 0, err
		}
	}
	return code, nil
}

// exec runs statements strictly in order. Any returned error is fatal to
// the script.
func (s *session) exec(stmts []script.Stmt) error {
	for _, stmt := range stmts {
		if err := s.drain(drainTick); err != nil {
			return err
		}
		switch stmt := stmt.(type) {
		case script.Wait:
			res, err := s.waitFor(stmt.Cond)
			if err != nil {
				return err
			}
			switch res {
			case waitTimedOut:
				return scriptErrorf("timeout waiting for%s: %s", absence(stmt.Negated), stmt.Source)
			case waitEOF:
				return scriptErrorf("eof waiting for%s: %s", absence(stmt.Negated), stmt.Source)
			}
		case script.Sleep:
			time.Sleep(stmt.Duration)
		case script.Send:
			if err := s.send(stmt); err != nil {
				return err
			}
		case script.Snapshot:
			if err := s.snapshot(stmt); err != nil {
				return err
			}
		case script.Kill:
			if s.rec != nil {
				if err := s.rec.Kill(stmt.Name); err != nil {
					return err
				}
			}
			if err := s.proc.Signal(stmt.Signal); err != nil {
				return err
			}
		case script.If:
			if err := s.execIf(stmt); err != nil {
				return err
			}
		case script.Match:
			if err := s.execMatch(stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *session) send(stmt script.Send) error {
	for _, part := range stmt.Parts {
		switch part := part.(type) {
		case script.SendBytes:
			if s.rec != nil {
				if err := s.rec.Send(recording.FormatSend(part.Data)); err != nil {
					return err
				}
			}
			if err := s.proc.Write(part.Data); err != nil {
				return err
			}
		case script.SendDelay:
			time.Sleep(part.Duration)
		}
	}
	return nil
}

// snapshot forces a capture evaluation now. Unchanged content reuses the
// existing frame number; the snapshot event is recorded either way.
func (s *session) snapshot(stmt script.Snapshot) error {
	if s.frames == nil {
		return nil
	}
	seq, _, err := s.frames.Offer(s.scr.PlainText(), s.scr.StyledText())
	if err != nil {
		return err
	}
	if s.rec != nil {
		return s.rec.Snapshot(seq, stmt.Name)
	}
	return nil
}

// execIf evaluates branch conditions in order; timeout or EOF on a
// condition selects the next branch instead of failing the script.
func (s *session) execIf(stmt script.If) error {
	for _, branch := range stmt.Branches {
		res, err := s.waitFor(branch.Cond)
		if err != nil {
			return err
		}
		if res == waitMatched {
			return s.exec(branch.Body)
		}
	}
	if stmt.Else != nil {
		return s.exec(stmt.Else)
	}
	return nil
}

// execMatch races arm patterns under one deadline. First declared arm to
// match wins. Timing out runs the else body, or fails the script when
// there is none.
func (s *session) execMatch(stmt script.Match) error {
	arm, matched, err := s.matchArms(stmt)
	if err != nil {
		return err
	}
	if matched {
		return s.exec(stmt.Arms[arm].Body)
	}
	if stmt.HasElse {
		return s.exec(stmt.Else)
	}
	return scriptErrorf("match timed out waiting for any of: %s", strings.Join(armSources(stmt.Arms), ", "))
}

func (s *session) matchArms(stmt script.Match) (int, bool, error) {
	deadline := time.Now().Add(timeoutOr(stmt.Timeout))
	for {
		// All arms are tested against the same screen state; the screen
		// only advances inside readTick.
		for i, arm := range stmt.Arms {
			if s.scr.Matches(arm.Pattern) {
				if s.rec != nil {
					if err := s.rec.WaitMatch(arm.Source); err != nil {
						return 0, false, err
					}
				}
				return i, true, nil
			}
		}
		if s.eof || time.Now().After(deadline) {
			if s.rec != nil {
				if err := s.rec.MatchTimeout(armSources(stmt.Arms)); err != nil {
					return 0, false, err
				}
			}
			return 0, false, nil
		}
		if err := s.readTick(pollTick); err != nil {
			return 0, false, err
		}
	}
}

type waitResult int

const (
	waitMatched waitResult = iota
	waitTimedOut
	waitEOF
)

// waitFor polls until the condition is met, the deadline passes, or the
// child hits EOF with the condition still unmet. The corresponding event
// is recorded here; fatality is the caller's decision.
func (s *session) waitFor(c script.Cond) (waitResult, error) {
	deadline := time.Now().Add(timeoutOr(c.Timeout))
	met := func() bool {
		m := s.scr.Matches(c.Pattern)
		if c.Negated {
			return !m
		}
		return m
	}
	for !met() {
		if s.eof {
			if s.rec != nil {
				if err := s.rec.WaitEOF(c.Source); err != nil {
					return 0, err
				}
			}
			return waitEOF, nil
		}
		if time.Now().After(deadline) {
			if s.rec != nil {
				if err := s.rec.WaitTimeout(c.Source); err != nil {
					return 0, err
				}
			}
			return waitTimedOut, nil
		}
		if err := s.readTick(pollTick); err != nil {
			return 0, err
		}
	}
	if s.rec != nil {
		if err := s.rec.WaitMatch(c.Source); err != nil {
			return 0, err
		}
	}
	return waitMatched, nil
}

// readTick performs one bounded read of child output.
func (s *session) readTick(timeout time.Duration) error {
	if s.eof {
		return nil
	}
	select {
	case chunk, ok := <-s.proc.Output():
		if !ok {
			s.eof = true
			return nil
		}
		return s.ingest(chunk)
	case <-time.After(timeout):
		return nil
	}
}

// drain consumes output that is already available, stopping after the
// first tick with nothing to read.
func (s *session) drain(tick time.Duration) error {
	for !s.eof {
		select {
		case chunk, ok := <-s.proc.Output():
			if !ok {
				s.eof = true
				return nil
			}
			if err := s.ingest(chunk); err != nil {
				return err
			}
		case <-time.After(tick):
			return nil
		}
	}
	return nil
}

// drainUntilEOF keeps capturing until the child closes its side of the
// PTY, so frames produced after the last statement are not lost.
func (s *session) drainUntilEOF() error {
	for !s.eof {
		if err := s.readTick(pollTick); err != nil {
			return err
		}
	}
	return nil
}

// ingest tees a chunk to the raw log, feeds the emulator, and captures a
// frame when the rendered content changed.
func (s *session) ingest(chunk []byte) error {
	if s.rec != nil {
		if err := s.rec.AppendRaw(chunk); err != nil {
			return err
		}
	}
	s.scr.Feed(chunk)
	if s.frames == nil {
		return nil
	}
	seq, wrote, err := s.frames.Offer(s.scr.PlainText(), s.scr.StyledText())
	if err != nil {
		return err
	}
	if wrote && s.rec != nil {
		return s.rec.Frame(seq)
	}
	return nil
}

func timeoutOr(d time.Duration) time.Duration {
	if d == 0 {
		return defaultTimeout
	}
	return d
}

func armSources(arms []script.MatchArm) []string {
	sources := make([]string, len(arms))
	for i, arm := range arms {
		sources[i] = arm.Source
	}
	return sources
}

func absence(negated bool) string {
	if negated {
		return " absence of"
	}
	return ""
}
