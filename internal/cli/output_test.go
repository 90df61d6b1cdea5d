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

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.SuccessWithRun("run-1", map[string]string{"result": "success"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := []string{"mechanism \"fee_schedule\" spans 90 lines, limit 60"}
	require.NoError(t, formatter.Error(CodeCommand, "invalid definitions", details))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeCommand, resp.Error.Code)
	assert.Equal(t, "invalid definitions", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

type stringerReport struct{ n int }

func (r stringerReport) String() string { return fmt.Sprintf("%d promoted\n", r.n) }

func TestOutputFormatter_TextUsesStringer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(stringerReport{n: 3}))
	assert.Equal(t, "3 promoted\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, formatter.Error(CodeCommand, "no champion in ./state", map[string]string{"dir": "./state"}))
			assert.Contains(t, buf.String(), "Error [command_error]: no champion in ./state")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details:")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	errw := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errw, Verbose: true}

	formatter.VerboseLog("loaded %d mechanisms", 4)
	assert.Empty(t, out.String())
	assert.Equal(t, "loaded 4 mechanisms\n", errw.String())

	formatter.Verbose = false
	formatter.VerboseLog("dropped")
	assert.NotContains(t, errw.String(), "dropped")
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailure},
		{"failure", NewExitError(ExitFailure, "iteration failed"), ExitFailure},
		{"rollback", reportedExit(ExitRollback, "rollback performed"), ExitRollback},
		{"wrapped", fmt.Errorf("outer: %w", NewExitError(ExitRollback, "rollback")), ExitRollback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	inner := errors.New("read .best_edge.txt: no such file")
	err := WrapExitError(ExitFailure, "failed to load loop state", inner)
	assert.Equal(t, "failed to load loop state: read .best_edge.txt: no such file", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, CodeCommand, errorCode(err))
	assert.Equal(t, CodeRollback, errorCode(NewExitError(ExitRollback, "rollback")))
}
