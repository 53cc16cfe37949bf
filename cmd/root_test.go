package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"reconcile", "schema", "runs", "phone"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "identity-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestReconcileCommand_Flags(t *testing.T) {
	flag := reconcileCmd.Flags().Lookup("output")
	require.NotNil(t, flag)
	assert.Equal(t, "table", flag.DefValue)
	assert.Equal(t, "o", flag.Shorthand)

	names := make(map[string]bool)
	for _, c := range reconcileCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["groups"])
}

func TestSchemaCommand_HasEnsure(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"schema", "ensure"})
	require.NoError(t, err)
	assert.Equal(t, "ensure", cmd.Name())
}

func TestRunsListCommand_Flags(t *testing.T) {
	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestRunsCommand_HasMonitoring(t *testing.T) {
	for _, name := range []string{"list", "check", "watch"} {
		cmd, _, err := rootCmd.Find([]string{"runs", name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}
