package script

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var signalNames = map[string]unix.Signal{
	"HUP":  unix.SIGHUP,
	"INT":  unix.SIGINT,
	"QUIT": unix.SIGQUIT,
	"KILL": unix.SIGKILL,
	"TERM": unix.SIGTERM,
	"USR1": unix.SIGUSR1,
	"USR2": unix.SIGUSR2,
	"STOP": unix.SIGSTOP,
	"CONT": unix.SIGCONT,
}

// parseSignal resolves a signal name (with or without a SIG prefix) or a
// numeric signal id. The returned name is canonical, e.g. "SIGTERM".
func parseSignal(tok string) (unix.Signal, string, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return 0, "", fmt.Errorf("kill requires a signal")
	}
	name := strings.TrimPrefix(strings.ToUpper(tok), "SIG")
	if sig, ok := signalNames[name]; ok {
		return sig, "SIG" + name, nil
	}
	if n, err := strconv.Atoi(tok); err == nil {
		if n <= 0 || n > 64 {
			return 0, "", fmt.Errorf("signal out of range: %d", n)
		}
		sig := unix.Signal(n)
		canonical := unix.SignalName(sig)
		if canonical == "" {
			canonical = fmt.Sprintf("SIG%d", n)
		}
		return sig, canonical, nil
	}
	return 0, "", fmt.Errorf("unknown signal: %s", tok)
}
