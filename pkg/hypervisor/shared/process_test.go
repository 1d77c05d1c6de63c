package shared_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrnode/pkg/hypervisor/shared"
)

func TestPIDRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, shared.PIDWriteToFile(4242, "/state/qemu.pid", fs))

	pid, err := shared.PIDReadFromFile("/state/qemu.pid", fs)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestPIDReadGarbage(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/pid", []byte("abc"), 0o644))

	_, err := shared.PIDReadFromFile("/pid", fs)
	assert.Error(t, err)

	_, err = shared.PIDReadFromFile("/missing", fs)
	assert.Error(t, err)
}

func TestExecRunnerExitCode(t *testing.T) {
	runner := shared.NewExecRunner()

	_, err := runner.Run(context.Background(), "sh", "-c", "exit 3")
	require.Error(t, err)
	assert.Equal(t, 3, shared.ExitCode(err))

	out, err := runner.Run(context.Background(), "sh", "-c", "echo hi")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(out))

	assert.Equal(t, -1, shared.ExitCode(assert.AnError))
}
