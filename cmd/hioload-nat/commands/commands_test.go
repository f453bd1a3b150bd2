package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "hioload-nat dev")
}

func TestRootCommand_RejectsUnknownSubcommand(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"frobnicate"})
	assert.Error(t, cmd.Execute())
}

func TestServe_InvalidConfigFails(t *testing.T) {
	t.Setenv("HIOLOAD_NAT_NAT_CAPACITY", "0")
	err := runServe(t.Context(), "")
	assert.ErrorContains(t, err, "failed to load configuration")
}
