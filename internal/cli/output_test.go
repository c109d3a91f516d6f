package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatterFail(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		verbose bool
		details any
		want    []string
	}{
		{"text", "text", false, nil, []string{"Error [E005]: definitions directory not found: defs\n"}},
		{"text hides details", "text", false, []string{"defs"}, []string{"Error [E005]"}},
		{"text verbose details", "text", true, []string{"defs"}, []string{"Error [E005]", "Details: [defs]"}},
		{"json", "json", false, map[string]string{"path": "defs"}, []string{`"status": "error"`, `"code": "E005"`, `"path": "defs"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
			f := newFormatter(&RootOptions{Format: tt.format, Verbose: tt.verbose}, out, errOut)

			err := f.fail(ExitCommandError, ErrCodeNotFound, "definitions directory not found: defs", tt.details)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.EqualError(t, err, "E005: definitions directory not found: defs")

			for _, want := range tt.want {
				assert.Contains(t, out.String(), want)
			}
			if !tt.verbose {
				assert.NotContains(t, out.String(), "Details:")
			}
			assert.Empty(t, errOut.String())
		})
	}
}

func TestFormatterSuccessEnvelope(t *testing.T) {
	out := &bytes.Buffer{}
	f := newFormatter(&RootOptions{Format: "json"}, out, nil)
	require.NoError(t, f.Success(RunResult{Seed: 7, Ticks: 1}))

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
		Error  *CLIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.Equal(t, uint64(7), resp.Data.Seed)
	assert.Equal(t, 1, resp.Data.Ticks)
}

func TestFormatterJSONKeepsStdoutParseable(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	f := newFormatter(&RootOptions{Format: "json", Verbose: true}, out, errOut)

	f.VerboseLog("Found %d file(s)", 2)
	f.Printf("✓ %s\n", "withdraw")

	assert.Empty(t, out.String())
	assert.Equal(t, "Found 2 file(s)\n", errOut.String())
}

func TestFormatterTextWriters(t *testing.T) {
	out := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: out}

	f.VerboseLog("not shown")
	f.Printf("✓ %s\n", "withdraw")
	assert.Equal(t, "✓ withdraw\n", out.String())

	f.Verbose = true
	f.VerboseLog("Loading %s", "defs")
	assert.Equal(t, "✓ withdraw\nLoading defs\n", out.String(), "verbose output falls back to Writer")
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "scenarios failed", errors.New("inner")))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.Equal(t, "outer: scenarios failed: inner", wrapped.Error())
}
