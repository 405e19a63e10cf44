package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitSuccess, exitCode(nil))
	assert.Equal(t, exitRuntimeError, exitCode(errors.New("boom")))
	assert.Equal(t, exitInvalidConfig, exitCode(invalidConfig(errors.New("bad"))))
	assert.Equal(t, exitInvalidConfig, exitCode(fmt.Errorf("wrapped: %w", invalidConfig(errors.New("bad")))))
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		seedFile = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

// sqliteEnv points the configuration at a fresh sqlite file.
func sqliteEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "orbitops.db"))
	t.Setenv("DISPATCH_MODE", "log")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LOG_LEVEL", "error")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "orbitops version dev")
}

func TestValidateCommand(t *testing.T) {
	sqliteEnv(t)
	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration valid")
}

func TestValidateCommand_Invalid(t *testing.T) {
	sqliteEnv(t)
	t.Setenv("DISPATCH_MODE", "carrier-pigeon")

	_, err := execute(t, "validate")
	require.Error(t, err)
	assert.Equal(t, exitInvalidConfig, exitCode(err))
	assert.Contains(t, err.Error(), "DISPATCH_MODE")
}

func TestConfigCommand_MasksSecrets(t *testing.T) {
	sqliteEnv(t)
	t.Setenv("DISPATCH_WEBHOOK_SECRET", "hunter2")

	out, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, `"database_driver": "sqlite"`)
	assert.NotContains(t, out, "hunter2")
}

func TestSeedCommand_RequiresFile(t *testing.T) {
	sqliteEnv(t)
	_, err := execute(t, "seed")
	require.Error(t, err)
	assert.Equal(t, exitInvalidConfig, exitCode(err))
}

const cliFixture = `
associates:
  - name: Ada Lovelace
    email: ada@example.com
templates:
  - title: Kickoff
    subject: "{{.Automation}} for {{.Date}}"
automations:
  - name: Daily kickoff
    template: Kickoff
    associates: [ada@example.com]
    frequency: daily
    send_time: "09:00"
`

func TestMigrateSeedRun(t *testing.T) {
	sqliteEnv(t)
	fixture := filepath.Join(t.TempDir(), "team.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte(cliFixture), 0o600))

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema applied (sqlite)")

	out, err = execute(t, "seed", "-f", fixture)
	require.NoError(t, err)
	assert.Contains(t, out, "associates: 1 created, 0 existing")
	assert.Contains(t, out, "automations: 1 created")

	// The first pass only schedules the new automation.
	out, err = execute(t, "run")
	require.NoError(t, err)
	assert.Contains(t, out, `"initialized": 1`)
	assert.Contains(t, out, `"processed": 0`)
}

func TestStatsCommand_RequiresRedis(t *testing.T) {
	sqliteEnv(t)
	_, err := execute(t, "stats", "00000000-0000-0000-0000-000000000001")
	require.Error(t, err)
	assert.Equal(t, exitInvalidConfig, exitCode(err))
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}
