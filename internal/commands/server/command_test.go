package server

import (
	"bytes"
	"context"
	"testing"

	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/require"
)

func TestServerCommandHelpAndSynopsis(t *testing.T) {
	require.NotEmpty(t, testCmd().Help())
	require.Equal(t, "Starts the doomsdayd monitoring server", testCmd().Synopsis())
}

func TestServerCommandRejectsUnknownFlag(t *testing.T) {
	var buffer bytes.Buffer
	require.Equal(t, 1, testCmd().run(context.Background(), &buffer, []string{"-not-a-flag"}))
	require.Contains(t, buffer.String(), "flag provided but not defined: -not-a-flag")
}

func TestServerCommandRequiresConfigFile(t *testing.T) {
	var buffer bytes.Buffer
	require.Equal(t, 1, testCmd().run(context.Background(), &buffer, nil))
	require.Contains(t, buffer.String(), "-config-file is required")
}

func TestServerCommandFailsOnMissingConfigFile(t *testing.T) {
	var buffer bytes.Buffer
	require.Equal(t, 1, testCmd().run(context.Background(), &buffer, []string{"-config-file", "/no/such/file.yml"}))
}

func testCmd() *Command {
	ui := cli.NewMockUi()
	return &Command{UI: ui, isTest: true}
}
