package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/capsh/internal/script"
)

// runScript parses and executes src against command, capturing into a
// temporary frames directory.
func runScript(t *testing.T, src string, command ...string) (int, string, error) {
	t.Helper()
	stmts, err := script.Parse(src)
	require.NoError(t, err, "script must parse")

	dir := t.TempDir()
	code, runErr := Run(Config{
		Command:   command,
		Cols:      80,
		Rows:      24,
		FramesDir: dir,
		Script:    stmts,
	})
	return code, dir, runErr
}

func readEvents(t *testing.T, dir string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "recording.jsonl"))
	require.NoError(t, err)

	var events []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &ev), "line: %s", line)
		events = append(events, ev)
	}
	return events
}

func eventKey(events []map[string]any, key string) []map[string]any {
	var out []map[string]any
	for _, ev := range events {
		if _, ok := ev[key]; ok {
			out = append(out, ev)
		}
	}
	return out
}

func TestEchoCapture(t *testing.T) {
	code, dir, err := runScript(t, `wait "hello"`, "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	plain, err := os.ReadFile(filepath.Join(dir, "000001.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(plain), "hello")

	_, err = os.Stat(filepath.Join(dir, "000001.ansi.txt"))
	assert.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "raw.bin"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "hello")

	events := readEvents(t, dir)
	assert.NotEmpty(t, eventKey(events, "frame"))
	assert.NotEmpty(t, eventKey(events, "wait_match"))
}

func TestExitCodePropagates(t *testing.T) {
	code, _, err := runScript(t, `wait "x"`, "sh", "-c", "echo x; exit 42")
	require.NoError(t, err)
	assert.Equal(t, 42, code)
}

func TestExitEventIsLoggedLast(t *testing.T) {
	code, dir, err := runScript(t, `wait "done"`, "sh", "-c", "echo done; exit 7")
	require.NoError(t, err)
	assert.Equal(t, 7, code)

	events := readEvents(t, dir)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, float64(7), last["exit"])
}

func TestEmptyScriptReturnsChildExit(t *testing.T) {
	code, _, err := runScript(t, "", "sh", "-c", "exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestNoFramesDirSkipsOutput(t *testing.T) {
	stmts, err := script.Parse(`wait "hi"`)
	require.NoError(t, err)

	code, runErr := Run(Config{
		Command: []string{"echo", "hi"},
		Cols:    80,
		Rows:    24,
		Script:  stmts,
	})
	require.NoError(t, runErr)
	assert.Equal(t, 0, code)
}

func TestBareWaitTimeoutIsFatal(t *testing.T) {
	start := time.Now()
	_, dir, err := runScript(t, `wait "nope" 300ms`, "sleep", "10")
	require.Error(t, err)

	var serr *ScriptError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, err.Error(), "timeout waiting for: nope")
	assert.Less(t, time.Since(start), 5*time.Second, "fatal timeout must kill the child promptly")

	events := readEvents(t, dir)
	assert.NotEmpty(t, eventKey(events, "wait_timeout"))
	assert.Empty(t, eventKey(events, "exit"), "no exit event on fatal failure")
}

func TestBareWaitEOFIsFatal(t *testing.T) {
	_, dir, err := runScript(t, `wait "never" 5s`, "echo", "other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eof waiting for: never")

	events := readEvents(t, dir)
	assert.NotEmpty(t, eventKey(events, "wait_eof"))
}

func TestWaitSatisfiedAtEOF(t *testing.T) {
	// Output can arrive and EOF before the wait ever polls; the final
	// screen still satisfies the pattern, so the script succeeds.
	code, _, err := runScript(t, "wait 200\nwait \"done\"", "sh", "-c", "echo done; exit 7")
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestNegatedWait(t *testing.T) {
	src := "wait \"Loading\"\nwait !\"Loading\" 5s"
	code, _, err := runScript(t, src,
		"sh", "-c", `printf Loading; sleep 0.3; printf '\033[2J\033[H'; sleep 0.2`)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestIfTimeoutSelectsElse(t *testing.T) {
	src := `
if wait "Ready" 300ms
  send "never sent\n"
else
  snapshot "fallback"
end
`
	code, dir, err := runScript(t, src, "sh", "-c", "echo waiting; sleep 1")
	require.NoError(t, err, "conditional timeout must not fail the script")
	assert.Equal(t, 0, code)

	events := readEvents(t, dir)
	assert.NotEmpty(t, eventKey(events, "wait_timeout"))
	snapshots := eventKey(events, "snapshot")
	require.Len(t, snapshots, 1)
	assert.Equal(t, "fallback", snapshots[0]["name"])
	assert.Empty(t, eventKey(events, "send"))
}

func TestIfMatchRunsThenBranch(t *testing.T) {
	src := `
if wait "Ready" 5s
  snapshot "got-ready"
else
  snapshot "fallback"
end
`
	code, dir, err := runScript(t, src, "sh", "-c", "echo Ready; sleep 0.3")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	events := readEvents(t, dir)
	snapshots := eventKey(events, "snapshot")
	require.Len(t, snapshots, 1)
	assert.Equal(t, "got-ready", snapshots[0]["name"])
}

func TestIfEOFSelectsElse(t *testing.T) {
	src := `
if wait "Ready" 10s
  snapshot "got-ready"
else
  snapshot "fallback"
end
`
	code, dir, err := runScript(t, src, "echo", "nothing useful")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	events := readEvents(t, dir)
	snapshots := eventKey(events, "snapshot")
	require.Len(t, snapshots, 1)
	assert.Equal(t, "fallback", snapshots[0]["name"])
	assert.NotEmpty(t, eventKey(events, "wait_eof"))
}

func TestMatchFirstArmWins(t *testing.T) {
	src := `
match 5s
  "A" -> snapshot "picked-a"
  "B" -> snapshot "picked-b"
end
`
	code, dir, err := runScript(t, src, "sh", "-c", `printf 'A B'; sleep 0.5`)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	events := readEvents(t, dir)
	snapshots := eventKey(events, "snapshot")
	require.Len(t, snapshots, 1)
	assert.Equal(t, "picked-a", snapshots[0]["name"])
}

func TestMatchTimeoutRunsElse(t *testing.T) {
	src := `
match 300ms
  "A" -> snapshot "picked-a"
else
  snapshot "no-match"
end
`
	code, dir, err := runScript(t, src, "sh", "-c", "echo zzz; sleep 1")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	events := readEvents(t, dir)
	timeouts := eventKey(events, "match_timeout")
	require.Len(t, timeouts, 1)
	assert.Equal(t, []any{"A"}, timeouts[0]["match_timeout"])
	snapshots := eventKey(events, "snapshot")
	require.Len(t, snapshots, 1)
	assert.Equal(t, "no-match", snapshots[0]["name"])
}

func TestMatchTimeoutWithoutElseIsFatal(t *testing.T) {
	src := `
match 300ms
  "A" -> snapshot "picked-a"
  "B" -> snapshot "picked-b"
end
`
	_, _, err := runScript(t, src, "sleep", "10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "match timed out")
	assert.Contains(t, err.Error(), "A")
	assert.Contains(t, err.Error(), "B")
}

func TestSnapshotUnchangedReusesFrame(t *testing.T) {
	src := "wait \"ready\"\nsnapshot \"one\"\nsnapshot \"two\""
	code, dir, err := runScript(t, src, "sh", "-c", "printf ready; sleep 0.5")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	_, err = os.Stat(filepath.Join(dir, "000001.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "000002.txt"))
	assert.True(t, os.IsNotExist(err), "unchanged snapshots must not allocate frames")

	events := readEvents(t, dir)
	snapshots := eventKey(events, "snapshot")
	require.Len(t, snapshots, 2)
	assert.Equal(t, "000001", snapshots[0]["snapshot"])
	assert.Equal(t, "000001", snapshots[1]["snapshot"])
}

func TestDistinctChangesProduceContiguousFrames(t *testing.T) {
	code, dir, err := runScript(t, `wait "two" 10s`,
		"sh", "-c", `printf one; sleep 0.3; printf ' two'; sleep 0.3`)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	_, err = os.Stat(filepath.Join(dir, "000001.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "000002.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "000003.txt"))
	assert.True(t, os.IsNotExist(err))

	latest, err := os.Readlink(filepath.Join(dir, "latest.txt"))
	require.NoError(t, err)
	assert.Equal(t, "000002.txt", latest)
}

func TestSendAndEOFKey(t *testing.T) {
	src := "send \"hello\\n\"\nwait \"hello\" 10s\nsend <C-d>"
	code, dir, err := runScript(t, src, "cat")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	events := readEvents(t, dir)
	sends := eventKey(events, "send")
	require.Len(t, sends, 2)
	assert.Equal(t, `hello\n`, sends[0]["send"])
	assert.Equal(t, "<C-d>", sends[1]["send"])
}

func TestKillRecordsSignalThenExit(t *testing.T) {
	src := "wait 100\nkill TERM"
	code, dir, err := runScript(t, src, "sleep", "30")
	require.NoError(t, err)
	assert.Equal(t, 143, code, "TERM death reports 128+15")

	events := readEvents(t, dir)
	killIdx, exitIdx := -1, -1
	for i, ev := range events {
		if _, ok := ev["kill"]; ok {
			killIdx = i
		}
		if _, ok := ev["exit"]; ok {
			exitIdx = i
		}
	}
	require.GreaterOrEqual(t, killIdx, 0, "kill event missing")
	require.GreaterOrEqual(t, exitIdx, 0, "exit event missing")
	assert.Less(t, killIdx, exitIdx, "kill must precede exit")
	assert.Equal(t, "SIGTERM", events[killIdx]["kill"])
	assert.Equal(t, float64(143), events[exitIdx]["exit"])
}

func TestSpawnFailure(t *testing.T) {
	_, _, err := runScript(t, "", "definitely-not-a-real-command-xyz")
	require.Error(t, err)
}

func TestTimestampsAreMonotonic(t *testing.T) {
	src := "wait \"one\"\nwait 200\nsnapshot \"late\""
	_, dir, err := runScript(t, src, "sh", "-c", "echo one; sleep 0.5")
	require.NoError(t, err)

	events := readEvents(t, dir)
	require.NotEmpty(t, events)
	prev := float64(-1)
	for i, ev := range events {
		ms, ok := ev["ms"].(float64)
		require.True(t, ok, "event %d has no ms", i)
		assert.GreaterOrEqual(t, ms, prev, "event %d goes back in time", i)
		prev = ms
	}
}
