package command

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrnode/internal/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd, err := NewRootCommand()
	require.NoError(t, err)

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err = cmd.Execute()

	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "-o", "short")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", out)

	out, err = execute(t, "version", "--output", "long")
	require.NoError(t, err)
	assert.Contains(t, out, "commit: "+version.CommitHash)

	_, err = execute(t, "version", "-o", "yaml")
	assert.Error(t, err)
}

func TestSubcommands(t *testing.T) {
	cmd, err := NewRootCommand()
	require.NoError(t, err)

	for _, name := range []string{"run", "health", "forward", "bridge", "hub", "tap", "raw", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestForwardRequiresRules(t *testing.T) {
	_, err := execute(t, "forward")
	assert.ErrorContains(t, err, "at least one rule")
}
