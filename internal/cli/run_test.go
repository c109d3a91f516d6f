package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowsim/internal/testutil"
)

type runResponse struct {
	Status string    `json:"status"`
	Data   RunResult `json:"data"`
}

func decodeRun(t *testing.T, out string) RunResult {
	t.Helper()
	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestRun_StreamsEventsToStdout(t *testing.T) {
	dir := writeBank(t, t.TempDir())

	out, errOut, err := execute(NewRunCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.Contains(t, l, `"event_type":"Withdrawal"`)
		assert.Contains(t, l, `"amount":100`)
	}

	// The summary stays off stdout when events go there.
	assert.Contains(t, errOut, "Simulated 2024-01-01T00:00:00Z to 2024-01-01T00:01:00Z (seed 7)")
	assert.Contains(t, errOut, "boundary_exceeded: 1")
	assert.Contains(t, errOut, "definitions compiled")
}

func TestRun_FileOutputAndHistory(t *testing.T) {
	root := t.TempDir()
	dir := writeBank(t, root)
	events := filepath.Join(root, "out", "events.jsonl")
	historyDB := filepath.Join(root, "history.db")
	cfgPath := writeFile(t, root, "flowsim.yaml", fmt.Sprintf(`
definitions: %s
history:
  path: %s
outputs:
  - kind: file
    path: %s
logging:
  level: warn
`, dir, historyDB, events))

	out, _, err := execute(NewRunCommand(&RootOptions{Format: "json"}), "--config", cfgPath)
	require.NoError(t, err)

	res := decodeRun(t, out)
	assert.Equal(t, uint64(7), res.Seed)
	assert.Equal(t, 1, res.Ticks)
	assert.Equal(t, 1, res.Flows)
	assert.Equal(t, 2, res.Events)
	assert.Equal(t, 1, res.Terminations["boundary_exceeded"])
	assert.Equal(t, int64(1), res.HistoryRun)
	assert.False(t, res.Cancelled)

	assert.Len(t, readLines(t, events), 2)
	_, err = os.Stat(historyDB)
	require.NoError(t, err)
}

func TestRun_FlagsOverrideDefinitions(t *testing.T) {
	root := t.TempDir()
	dir := writeBank(t, root)
	events := filepath.Join(root, "events.jsonl")
	cfgPath := writeFile(t, root, "flowsim.yaml", fmt.Sprintf("outputs:\n  - kind: file\n    path: %s\n", events))

	out, _, err := execute(NewRunCommand(&RootOptions{Format: "json"}),
		"--config", cfgPath, "--seed", "99", "--duration", "3m", "--log-level", "error", dir)
	require.NoError(t, err)

	res := decodeRun(t, out)
	assert.Equal(t, uint64(99), res.Seed)
	assert.Equal(t, 3, res.Ticks)
	assert.Equal(t, res.Start.Add(3*time.Minute), res.End)
}

func TestRun_SeedIsChosenWhenUnset(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "defs")
	writeFile(t, dir, "bank.cue", strings.Replace(bankDefs, "seed:        7\n", "", 1))
	cfgPath := writeFile(t, root, "flowsim.yaml", fmt.Sprintf("outputs:\n  - kind: file\n    path: %s\n", filepath.Join(root, "e.jsonl")))

	out, _, err := execute(NewRunCommand(&RootOptions{Format: "json"}), "--config", cfgPath, dir)
	require.NoError(t, err)
	res := decodeRun(t, out)
	assert.Equal(t, 2, res.Events)
}

func TestRun_NowStartUsesClock(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "defs")
	writeFile(t, dir, "bank.cue", strings.Replace(bankDefs, `"2024-01-01T00:00:00Z"`, `"now"`, 1))
	cfgPath := writeFile(t, root, "flowsim.yaml", fmt.Sprintf("outputs:\n  - kind: file\n    path: %s\n", filepath.Join(root, "e.jsonl")))

	clock := testutil.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	cmd := newRunCommand(&RunOptions{RootOptions: &RootOptions{Format: "json"}, Now: clock.Now})

	out, _, err := execute(cmd, "--config", cfgPath, dir)
	require.NoError(t, err)
	res := decodeRun(t, out)
	assert.Equal(t, clock.Now(), res.Start)
}

func TestRun_Cancelled(t *testing.T) {
	root := t.TempDir()
	dir := writeBank(t, root)
	cfgPath := writeFile(t, root, "flowsim.yaml", fmt.Sprintf("outputs:\n  - kind: file\n    path: %s\n", filepath.Join(root, "e.jsonl")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetArgs([]string{"--config", cfgPath, dir})
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetErr(&strings.Builder{})

	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "Simulation cancelled.")
	assert.Contains(t, out.String(), "ticks: 0")
}

func TestRun_Metrics(t *testing.T) {
	root := t.TempDir()
	dir := writeBank(t, root)
	cfgPath := writeFile(t, root, "flowsim.yaml", fmt.Sprintf("outputs:\n  - kind: file\n    path: %s\n", filepath.Join(root, "e.jsonl")))

	reg := prometheus.NewRegistry()
	cmd := newRunCommand(&RunOptions{RootOptions: &RootOptions{Format: "json"}, Registry: reg})
	_, _, err := execute(cmd, "--config", cfgPath, "--metrics-addr", freeAddr(t), dir)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	var events float64
	for _, mf := range families {
		if mf.GetName() == "flowsim_events_total" {
			for _, m := range mf.GetMetric() {
				events += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, events)
}

// freeAddr returns a loopback address with a port that was free a moment ago.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRun_Errors(t *testing.T) {
	root := t.TempDir()
	dir := writeBank(t, root)
	empty := filepath.Join(root, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o755))

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"no definitions", nil, ErrCodeNotFound},
		{"missing directory", []string{filepath.Join(root, "nope")}, ErrCodeNotFound},
		{"no cue files", []string{empty}, ErrCodeNoFiles},
		{"missing config", []string{"--config", filepath.Join(root, "nope.yaml"), dir}, ErrCodeLoadFailed},
		{"zero tick", []string{"--tick", "0s", dir}, ErrCodeConfig},
		{"bad log level", []string{"--log-level", "loud", dir}, ErrCodeConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(NewRunCommand(&RootOptions{Format: "text"}), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.code)
		})
	}
}

func TestRun_BadOutput(t *testing.T) {
	root := t.TempDir()
	dir := writeBank(t, root)
	cfgPath := writeFile(t, root, "flowsim.yaml", "outputs:\n  - kind: kafka\n")

	_, _, err := execute(NewRunCommand(&RootOptions{Format: "text"}), "--config", cfgPath, dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
