package command

import (
	"context"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_Lines(t *testing.T) {
	r := Result{Stdout: []byte("one\r\n\ntwo\n  \nthree")}
	assert.Equal(t, []string{"one", "two", "three"}, r.Lines())
}

func TestResult_LinesEmpty(t *testing.T) {
	assert.Empty(t, Result{}.Lines())
}

func TestRunnerFunc(t *testing.T) {
	var gotName string
	var gotArgs []string
	r := RunnerFunc(func(ctx context.Context, name string, args ...string) (Result, error) {
		gotName, gotArgs = name, args
		return Result{Stdout: []byte("ok\n")}, nil
	})

	res, err := r.Run(context.Background(), "prog", "-x", "y")
	require.NoError(t, err)
	assert.Equal(t, "prog", gotName)
	assert.Equal(t, []string{"-x", "y"}, gotArgs)
	assert.Equal(t, []string{"ok"}, res.Lines())
}

func TestExecRunner_ExitCode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	res, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, []string{"out"}, res.Lines())
	assert.Equal(t, "err\n", string(res.Stderr))
}

func TestExecRunner_MissingBinary(t *testing.T) {
	_, err := ExecRunner{Dir: os.TempDir()}.Run(context.Background(), "definitely-not-a-real-binary-xyz")
	assert.Error(t, err)
}

func TestExecRunner_Cancelled(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ExecRunner{}.Run(ctx, "sleep", "5")
	assert.ErrorIs(t, err, context.Canceled)
}
