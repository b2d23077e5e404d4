package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dreamup/playtest/internal/agent"
	"github.com/dreamup/playtest/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyTestFlags(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "script.yaml")
	require.NoError(t, os.WriteFile(script, []byte("actions:\n  - type: keypress\n    key: Space\n"), 0644))

	require.NoError(t, testCmd.Flags().Set("output", filepath.Join(dir, "out")))
	require.NoError(t, testCmd.Flags().Set("headless", "false"))
	require.NoError(t, testCmd.Flags().Set("script", script))
	t.Cleanup(func() { scriptPath = "" })

	cfg := config.NewDefaultConfig()
	actions, err := applyTestFlags(testCmd, cfg)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "out"), cfg.Evidence.Dir)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "./qa-results/history.db", cfg.Database.Path, "unset flags keep config values")
	assert.Equal(t, []agent.Action{agent.NewKeypressAction("Space", 0, "")}, actions)
}
