// File: cmd/cmd_test.go
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scraperflow/internal/interpreter"
)

const catalog = `<html><body><h1>Catalog</h1><a id="next" href="https://shop.test/2">next</a></body></html>`

const titleProgram = `[
  {"type": "pageAction", "action": {"type": "navigate", "url": "https://shop.test/"}},
  {"type": "saveData", "dataKey": "items.title", "value": {"type": "elementTextContent", "selectors": [{"type": "tagName", "tagName": "h1"}]}}
]`

const itemSources = `{"sources": [{"sourceTableName": "items", "sourceAlias": "items"}]}`

func TestRootCmd_VersionFlag(t *testing.T) {
	resetForTest(t)
	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "scraperflow version "+Version)
}

func TestVersionCmd(t *testing.T) {
	resetForTest(t)
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "scraperflow "+Version+"\n", out)
}

func TestRootCmd_InvalidConfigFile(t *testing.T) {
	resetForTest(t)
	path := writeFile(t, "config.yaml", "execution:\n  max_jumps: 0\n")
	_, err := executeCommand(t, "--config", path, "validate", "--instructions", writeFile(t, "tree.json", titleProgram))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution.max_jumps")
}

func TestValidateCmd(t *testing.T) {
	resetForTest(t)

	t.Run("Valid", func(t *testing.T) {
		sources := writeFile(t, "sources.json", `{"sources": [{"sourceTableName": "items", "sourceAlias": "items"}], "iterator": {"type": "entireSet", "dataSourceName": "items"}}`)
		out, err := executeCommand(t, "validate", "-i", writeFile(t, "tree.json", titleProgram), "-s", sources)
		require.NoError(t, err)
		assert.Equal(t, "ok: 2 top-level instructions, 1 data sources, entireSet iterator over \"items\"\n", out)
	})

	t.Run("FirstInstruction", func(t *testing.T) {
		tree := writeFile(t, "tree.json", `[{"type": "marker", "name": "start"}]`)
		_, err := executeCommand(t, "validate", "-i", tree)
		assert.ErrorIs(t, err, interpreter.ErrFirstInstruction)
	})

	t.Run("UnknownMarker", func(t *testing.T) {
		tree := writeFile(t, "tree.json", `[{"type": "deleteCookies"}, {"type": "jump", "markerName": "nowhere"}]`)
		_, err := executeCommand(t, "validate", "-i", tree)
		assert.ErrorIs(t, err, interpreter.ErrMarkerNotFound)
	})

	t.Run("MissingInstructions", func(t *testing.T) {
		_, err := executeCommand(t, "validate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `required flag(s) "instructions" not set`)
	})

	t.Run("BadIterator", func(t *testing.T) {
		it := writeFile(t, "it.json", `{"type": "range", "dataSourceName": "items", "start": 5, "end": 1}`)
		_, err := executeCommand(t, "validate", "-i", writeFile(t, "tree.json", titleProgram), "--iterator", it)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid iterator")
	})
}

func TestRunCmd_Memory(t *testing.T) {
	resetForTest(t)
	site, launches := useSite(t, map[string]string{"https://shop.test/": catalog})

	tables := writeFile(t, "tables.json", `{"items": [{"id": 1, "title": "old"}]}`)
	out, err := executeCommand(t, "run", "-i", writeFile(t, "tree.json", titleProgram), "-s", writeFile(t, "sources.json", itemSources), "--memory", tables)
	require.NoError(t, err)

	assert.Equal(t, []any{map[string]any{"id": float64(1), "title": "Catalog"}}, decodeTables(t, out)["items"])
	assert.EqualValues(t, 1, launches.Load())
	assert.Contains(t, site.Actions(), "p0 navigate https://shop.test/")
}

func TestRunCmd_MemoryIterations(t *testing.T) {
	resetForTest(t)
	_, launches := useSite(t, map[string]string{"https://shop.test/": catalog})

	tree := writeFile(t, "tree.json", `[
  {"type": "pageAction", "action": {"type": "navigate", "url": "https://shop.test/"}},
  {"type": "saveData", "dataKey": "items.seen", "value": {"type": "literal", "value": "yes"}}
]`)
	it := writeFile(t, "it.json", `{"type": "entireSet", "dataSourceName": "items"}`)
	tables := writeFile(t, "tables.json", `{"items": [{"id": 1}, {"id": 2}]}`)

	out, err := executeCommand(t, "run", "-i", tree, "-s", writeFile(t, "sources.json", itemSources), "--iterator", it, "--memory", tables)
	require.NoError(t, err)

	assert.EqualValues(t, 2, launches.Load())
	rows := decodeTables(t, out)["items"]
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "yes", row.(map[string]any)["seen"])
	}
}

func TestRunCmd_FailedIteration(t *testing.T) {
	resetForTest(t)
	useSite(t, map[string]string{})

	tables := writeFile(t, "tables.json", `{"items": [{"id": 1, "title": "old"}]}`)
	out, err := executeCommand(t, "run", "-i", writeFile(t, "tree.json", titleProgram), "-s", writeFile(t, "sources.json", itemSources), "--memory", tables)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iteration 0 failed")
	// Tables are still printed so partial progress is visible.
	assert.Equal(t, []any{map[string]any{"id": float64(1), "title": "old"}}, decodeTables(t, out)["items"])
}

func TestRunCmd_RequiresDatabase(t *testing.T) {
	resetForTest(t)
	useSite(t, nil)

	_, err := executeCommand(t, "run", "-i", writeFile(t, "tree.json", titleProgram))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is not set")
}

func TestRunCmd_InvalidProgramLaunchesNothing(t *testing.T) {
	resetForTest(t)
	_, launches := useSite(t, nil)

	tree := writeFile(t, "tree.json", `[{"type": "saveData", "dataKey": "items.x", "value": {"type": "null"}}]`)
	_, err := executeCommand(t, "run", "-i", tree, "--memory", writeFile(t, "tables.json", `{}`))
	assert.ErrorIs(t, err, interpreter.ErrFirstInstruction)
	assert.Zero(t, launches.Load())
}

func decodeTables(t *testing.T, out string) map[string][]any {
	t.Helper()
	var tables map[string][]any
	require.NoError(t, json.Unmarshal([]byte(out), &tables), out)
	return tables
}
