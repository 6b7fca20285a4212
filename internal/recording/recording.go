// Package recording writes the timestamped JSONL event log and the raw
// PTY byte dump for a session.
package recording

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alfredjeanlab/capsh/internal/capture"
)

// Recording owns recording.jsonl and raw.bin inside the frames directory.
// Events are appended in the order they occur, each tagged with the
// millisecond offset from session start.
type Recording struct {
	start     time.Time
	jsonlFile *os.File
	rawFile   *os.File
	jsonl     *bufio.Writer
	raw       *bufio.Writer
}

// New truncates and opens the recording files in dir.
func New(dir string) (*Recording, error) {
	jsonlFile, err := os.Create(filepath.Join(dir, "recording.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open recording.jsonl: %w", err)
	}
	rawFile, err := os.Create(filepath.Join(dir, "raw.bin"))
	if err != nil {
		jsonlFile.Close()
		return nil, fmt.Errorf("failed to open raw.bin: %w", err)
	}
	return &Recording{
		start:     time.Now(),
		jsonlFile: jsonlFile,
		rawFile:   rawFile,
		jsonl:     bufio.NewWriter(jsonlFile),
		raw:       bufio.NewWriter(rawFile),
	}, nil
}

type frameEvent struct {
	MS    int64  `json:"ms"`
	Frame string `json:"frame"`
}

type snapshotEvent struct {
	MS       int64  `json:"ms"`
	Snapshot string `json:"snapshot"`
	Name     string `json:"name,omitempty"`
}

type sendEvent struct {
	MS   int64  `json:"ms"`
	Send string `json:"send"`
}

type waitMatchEvent struct {
	MS      int64  `json:"ms"`
	Pattern string `json:"wait_match"`
}

type waitTimeoutEvent struct {
	MS      int64  `json:"ms"`
	Pattern string `json:"wait_timeout"`
}

type waitEOFEvent struct {
	MS      int64  `json:"ms"`
	Pattern string `json:"wait_eof"`
}

type matchTimeoutEvent struct {
	MS       int64    `json:"ms"`
	Patterns []string `json:"match_timeout"`
}

type killEvent struct {
	MS     int64  `json:"ms"`
	Signal string `json:"kill"`
}

type exitEvent struct {
	MS   int64  `json:"ms"`
	Code int    `json:"exit"`
}

func (r *Recording) elapsedMS() int64 {
	return time.Since(r.start).Milliseconds()
}

func (r *Recording) log(event any) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := r.jsonl.Write(line); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := r.jsonl.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Frame records an automatically captured frame.
func (r *Recording) Frame(seq int) error {
	return r.log(frameEvent{MS: r.elapsedMS(), Frame: capture.FrameName(seq)})
}

// Snapshot records an explicit snapshot referencing the current frame.
func (r *Recording) Snapshot(seq int, name string) error {
	return r.log(snapshotEvent{MS: r.elapsedMS(), Snapshot: capture.FrameName(seq), Name: name})
}

// Send records input written to the child.
func (r *Recording) Send(rendered string) error {
	return r.log(sendEvent{MS: r.elapsedMS(), Send: rendered})
}

// WaitMatch records a wait condition resolving.
func (r *Recording) WaitMatch(pattern string) error {
	return r.log(waitMatchEvent{MS: r.elapsedMS(), Pattern: pattern})
}

// WaitTimeout records a wait condition expiring.
func (r *Recording) WaitTimeout(pattern string) error {
	return r.log(waitTimeoutEvent{MS: r.elapsedMS(), Pattern: pattern})
}

// WaitEOF records the child exiting before a wait condition resolved.
func (r *Recording) WaitEOF(pattern string) error {
	return r.log(waitEOFEvent{MS: r.elapsedMS(), Pattern: pattern})
}

// MatchTimeout records a match statement expiring with no arm matched.
func (r *Recording) MatchTimeout(patterns []string) error {
	return r.log(matchTimeoutEvent{MS: r.elapsedMS(), Patterns: patterns})
}

// Kill records a signal delivery.
func (r *Recording) Kill(signal string) error {
	return r.log(killEvent{MS: r.elapsedMS(), Signal: signal})
}

// Exit records the child's exit code.
func (r *Recording) Exit(code int) error {
	return r.log(exitEvent{MS: r.elapsedMS(), Code: code})
}

// AppendRaw tees unmodified PTY output to raw.bin.
func (r *Recording) AppendRaw(data []byte) error {
	if _, err := r.raw.Write(data); err != nil {
		return fmt.Errorf("failed to write raw output: %w", err)
	}
	return nil
}

// Close flushes and closes both files. Safe to call once per Recording.
func (r *Recording) Close() error {
	var errs []error
	if err := r.jsonl.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := r.raw.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := r.jsonlFile.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.rawFile.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
