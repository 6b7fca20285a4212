package recording

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func TestEventLog(t *testing.T) {
	dir := t.TempDir()
	rec, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, rec.Frame(1))
	require.NoError(t, rec.Snapshot(1, "after-boot"))
	require.NoError(t, rec.Snapshot(1, ""))
	require.NoError(t, rec.Send(`hello\n`))
	require.NoError(t, rec.WaitMatch("Ready"))
	require.NoError(t, rec.WaitTimeout("Never"))
	require.NoError(t, rec.WaitEOF("Gone"))
	require.NoError(t, rec.MatchTimeout([]string{"A", "B"}))
	require.NoError(t, rec.Kill("SIGTERM"))
	require.NoError(t, rec.Exit(143))
	require.NoError(t, rec.Close())

	events := readEvents(t, dir)
	require.Len(t, events, 10)

	for i, ev := range events {
		_, ok := ev["ms"]
		assert.True(t, ok, "event %d missing ms", i)
	}

	assert.Equal(t, "000001", events[0]["frame"])
	assert.Equal(t, "000001", events[1]["snapshot"])
	assert.Equal(t, "after-boot", events[1]["name"])
	_, hasName := events[2]["name"]
	assert.False(t, hasName, "empty snapshot name should be omitted")
	assert.Equal(t, `hello\n`, events[3]["send"])
	assert.Equal(t, "Ready", events[4]["wait_match"])
	assert.Equal(t, "Never", events[5]["wait_timeout"])
	assert.Equal(t, "Gone", events[6]["wait_eof"])
	assert.Equal(t, []any{"A", "B"}, events[7]["match_timeout"])
	assert.Equal(t, "SIGTERM", events[8]["kill"])
	assert.Equal(t, float64(143), events[9]["exit"])
}

func TestEventOrderIsAppendOrder(t *testing.T) {
	dir := t.TempDir()
	rec, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, rec.Frame(1))
	require.NoError(t, rec.Frame(2))
	require.NoError(t, rec.Frame(3))
	require.NoError(t, rec.Close())

	events := readEvents(t, dir)
	require.Len(t, events, 3)
	assert.Equal(t, "000001", events[0]["frame"])
	assert.Equal(t, "000002", events[1]["frame"])
	assert.Equal(t, "000003", events[2]["frame"])
}

func TestAppendRawIsVerbatim(t *testing.T) {
	dir := t.TempDir()
	rec, err := New(dir)
	require.NoError(t, err)

	chunk1 := []byte("plain and \x1b[31mstyled\x1b[0m ")
	chunk2 := []byte{0x00, 0xff, '\n'}
	require.NoError(t, rec.AppendRaw(chunk1))
	require.NoError(t, rec.AppendRaw(chunk2))
	require.NoError(t, rec.Close())

	raw, err := os.ReadFile(filepath.Join(dir, "raw.bin"))
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, chunk1...), chunk2...), raw)
}

func TestFormatSend(t *testing.T) {
	cases := map[string]string{
		"hello":        "hello",
		"line\n":       `line\n`,
		"cr\rtab\t":    `cr\rtab\t`,
		"\x1b[A":       "<Esc>[A",
		"\x04":         "<C-d>",
		"\x01":         "<C-a>",
		"\x7f":         "<Backspace>",
		"mix\x03ed\n":  `mix<C-c>ed\n`,
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatSend([]byte(in)), "input %q", in)
	}
}
