package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const quickConfig = `
flows:
  default:
    nodes:
      a:
        target: {commands: "true"}
      b:
        target: {commands: "true"}
        triggers:
          - after: [a]
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidate_OK(t *testing.T) {
	path := writeConfig(t, quickConfig)

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "default")
}

func TestValidate_BadConfigExitsWithCommandError(t *testing.T) {
	path := writeConfig(t, "flows:\n  default:\n    nodes:\n      a:\n        target: ghost\n")

	_, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate_MissingConfig(t *testing.T) {
	_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGraph_Mermaid(t *testing.T) {
	path := writeConfig(t, quickConfig)

	out, err := execute(t, "graph", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "flowchart TD")
	assert.Contains(t, out, "a --> b")
}

func TestGraph_DOT(t *testing.T) {
	path := writeConfig(t, quickConfig)

	out, err := execute(t, "graph", "--config", path, "--format", "dot")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph")
}

func TestGraph_UnknownFormat(t *testing.T) {
	path := writeConfig(t, quickConfig)

	_, err := execute(t, "graph", "--config", path, "--format", "png")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGraph_UnknownFlowListsAlternatives(t *testing.T) {
	path := writeConfig(t, quickConfig)

	_, err := execute(t, "graph", "nope", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default")
}

func TestRun_QuickFlowSucceeds(t *testing.T) {
	path := writeConfig(t, quickConfig)

	_, err := execute(t, "run", "--config", path)
	assert.NoError(t, err)
}

func TestRun_FailureMapsToExitFailure(t *testing.T) {
	path := writeConfig(t, `
flows:
  default:
    nodes:
      a:
        target: {commands: "exit 3"}
`)

	_, err := execute(t, "run", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, IsQuiet(err), "node failures are reported by the renderer, not main")
}

func TestRun_OnceFlagQuiesces(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
flows:
  default:
    nodes:
      w:
        target: {commands: "true"}
        triggers:
          - watch: [`+dir+`]
`)

	// Without --once this flow would run until interrupted; with it, the
	// watch trigger becomes Once and the engine quiesces by itself.
	_, err := execute(t, "run", "--once", "--config", path)
	assert.NoError(t, err)
}

func TestExitError_Codes(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, ExitFailure, GetExitCode(&ExitError{Code: ExitFailure}))
}

func TestExitError_Quiet(t *testing.T) {
	assert.True(t, IsQuiet(&ExitError{Code: 1}))
	assert.False(t, IsQuiet(NewExitError(1, "boom")))
	assert.False(t, IsQuiet(errors.New("plain")))
}
