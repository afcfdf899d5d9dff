package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlagsRejectsUnknownConfigSource(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Set("config", "ftp"))
	_, err := parseFlags(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--config")
}

func TestParseFlagsRejectsUnknownShutdownAction(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Set("shutdown-action", "wipe-everything"))
	_, err := parseFlags(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--shutdown-action")
}

func TestParseFlagsDefaults(t *testing.T) {
	cmd := newRootCmd()
	flags, err := parseFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, "file", flags.configSource)
	assert.Equal(t, "config", flags.configDir)
	assert.Equal(t, "restore-streams", flags.shutdownAction)
	assert.Equal(t, 0, flags.workers)
}

func TestResolveConfigPathsFile(t *testing.T) {
	paths, err := resolveConfigPaths(cliFlags{configSource: "file", configDir: "/etc/ingestd"})
	require.NoError(t, err)
	assert.Equal(t, "/etc/ingestd/app.yaml", paths.app)
	assert.Equal(t, "/etc/ingestd/store.yaml", paths.store)
	assert.Equal(t, "/etc/ingestd/accelerator.yaml", paths.accelerator)
	assert.Equal(t, "/etc/ingestd/instruments.yaml", paths.instruments)
}

func TestResolveConfigPathsEnvRequiresAllFour(t *testing.T) {
	_, err := resolveConfigPaths(cliFlags{configSource: "env"})
	require.Error(t, err)
}

func TestResolveConfigPathsEnvReadsVars(t *testing.T) {
	t.Setenv("INGESTD_APP_CONFIG", "/a.yaml")
	t.Setenv("INGESTD_STORE_CONFIG", "/s.yaml")
	t.Setenv("INGESTD_ACCELERATOR_CONFIG", "/r.yaml")
	t.Setenv("INGESTD_INSTRUMENTS_CONFIG", "/i.yaml")

	paths, err := resolveConfigPaths(cliFlags{configSource: "env"})
	require.NoError(t, err)
	assert.Equal(t, "/a.yaml", paths.app)
	assert.Equal(t, "/s.yaml", paths.store)
	assert.Equal(t, "/r.yaml", paths.accelerator)
	assert.Equal(t, "/i.yaml", paths.instruments)
}

func TestRowToFieldsMatchesColumnsAndValues(t *testing.T) {
	row := normalizeTestRow{cols: []string{"a", "b"}, vals: []any{1, "x"}}
	fields := rowToFields[normalizeTestRow](row)
	assert.Equal(t, map[string]any{"a": 1, "b": "x"}, fields)
}

type normalizeTestRow struct {
	cols []string
	vals []any
}

func (r normalizeTestRow) Columns() []string          { return r.cols }
func (r normalizeTestRow) Table(exchange string) string { return "test_" + exchange }
func (r normalizeTestRow) Values() []any              { return r.vals }
