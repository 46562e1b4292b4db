package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"resolve", "sweep", "review", "endpoints", "freshness", "serve", "worker", "migrate", "import"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "portal-resolver", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestResolveCommand_Flags(t *testing.T) {
	flag := resolveCmd.Flags().Lookup("force")
	require.NotNil(t, flag, "resolve command should have --force flag")
	assert.Equal(t, "false", flag.DefValue)
	assert.Error(t, resolveCmd.Args(resolveCmd, nil))
}

func TestSweepCommand_Flags(t *testing.T) {
	flag := sweepCmd.Flags().Lookup("size")
	require.NotNil(t, flag, "sweep command should have --size flag")
	assert.Equal(t, "0", flag.DefValue)
	assert.ElementsMatch(t, []string{"seed", "search", "crawl", "parse", "verify"}, sweepCmd.ValidArgs)
}

func TestReviewCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range reviewCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "approve", "reject"} {
		assert.True(t, names[name], "review should have subcommand %q", name)
	}

	for _, flagName := range []string{"portal-url", "manual-info-url", "vendor", "notes"} {
		assert.NotNil(t, reviewApproveCmd.Flags().Lookup(flagName), "approve should have --%s", flagName)
		assert.NotNil(t, reviewRejectCmd.Flags().Lookup(flagName), "reject should have --%s", flagName)
	}
}

func TestFreshnessCommand_Args(t *testing.T) {
	assert.Error(t, freshnessCmd.Args(freshnessCmd, []string{"0667000"}))
	assert.NoError(t, freshnessCmd.Args(freshnessCmd, []string{"0667000", "https://permits.sf.gov/"}))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestWorkerCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"schedule", "verify-size", "search-size", "crawl-size", "parse-size", "stage-timeout"} {
		assert.NotNil(t, workerCmd.Flags().Lookup(flagName), "worker should have --%s flag", flagName)
	}
}

func TestImportCommand_RequiresCSV(t *testing.T) {
	flag := importCmd.Flags().Lookup("csv")
	require.NotNil(t, flag)
	assert.Contains(t, flag.Annotations, "cobra_annotation_bash_completion_one_required_flag")
}
