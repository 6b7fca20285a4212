// Package ptyproc spawns and drives a child process attached to a
// pseudo-terminal. It is the only owner of the PTY master descriptor and
// the process handle.
package ptyproc

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Proc is a running child attached to a PTY. Output arrives on a channel
// fed by a single background reader, so exactly one consumer observes the
// byte stream in order.
type Proc struct {
	ptm *os.File
	cmd *exec.Cmd
	out chan []byte

	done     chan struct{}
	exitCode int
	waitErr  error

	closeOnce sync.Once
	closeErr  error
}

// Spawn starts command inside a new PTY of the given size.
func Spawn(command []string, cols, rows uint16) (*Proc, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("no command to spawn")
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptm, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", command[0], err)
	}

	p := &Proc{
		ptm:  ptm,
		cmd:  cmd,
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go p.readLoop()
	go p.waitLoop()
	return p, nil
}

// Output returns raw output chunks in arrival order. The channel is closed
// when the child side of the PTY reaches EOF.
func (p *Proc) Output() <-chan []byte {
	return p.out
}

// readLoop drains the PTY master until read fails, which on Linux is how
// child exit is observed (EIO once the slave side closes).
func (p *Proc) readLoop() {
	for {
		buf := make([]byte, 4096)
		n, err := p.ptm.Read(buf)
		if n > 0 {
			p.out <- buf[:n]
		}
		if err != nil {
			close(p.out)
			return
		}
	}
}

// waitLoop reaps the child as soon as it exits so TryWait and Wait are
// race-free against the read side.
func (p *Proc) waitLoop() {
	err := p.cmd.Wait()
	p.exitCode, p.waitErr = exitCodeFromWait(err)
	close(p.done)
}

// exitCodeFromWait maps a Wait error to an exit code, using the shell
// convention of 128+signal for signal deaths.
func exitCodeFromWait(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1, fmt.Errorf("failed to wait for child: %w", err)
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}
	return exitErr.ExitCode(), nil
}

// Write sends input bytes to the child's terminal.
func (p *Proc) Write(data []byte) error {
	if _, err := p.ptm.Write(data); err != nil {
		return fmt.Errorf("failed to write input: %w", err)
	}
	return nil
}

// Signal delivers sig to the child process.
func (p *Proc) Signal(sig unix.Signal) error {
	if err := p.cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("failed to signal child: %w", err)
	}
	return nil
}

// TryWait reports the child's exit code without blocking.
func (p *Proc) TryWait() (int, bool) {
	select {
	case <-p.done:
		return p.exitCode, true
	default:
		return 0, false
	}
}

// Wait blocks until the child exits and returns its exit code.
func (p *Proc) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.waitErr
}

// Kill force-terminates the child if it is still running.
func (p *Proc) Kill() {
	if _, exited := p.TryWait(); exited {
		return
	}
	_ = p.cmd.Process.Kill()
}

// Close kills the child if needed and releases the PTY master. Safe to
// call more than once.
func (p *Proc) Close() error {
	p.closeOnce.Do(func() {
		p.Kill()
		<-p.done
		if err := p.ptm.Close(); err != nil {
			p.closeErr = fmt.Errorf("failed to close pty: %w", err)
		}
	})
	return p.closeErr
}
