package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxforge/retrievalcore/internal/entry"
	"github.com/ctxforge/retrievalcore/internal/ftsstore"
)

func TestStatsCmd_HasFlags(t *testing.T) {
	cmd := NewRootCmd()

	statsCmd, _, err := cmd.Find([]string{"stats"})
	require.NoError(t, err)

	jsonFlag := statsCmd.Flags().Lookup("json")
	assert.NotNil(t, jsonFlag, "should have --json flag")
	assert.Equal(t, "false", jsonFlag.DefValue)

	localFlag := statsCmd.Flags().Lookup("local")
	assert.NotNil(t, localFlag, "should have --local flag")
}

func TestRunStats_NoIndex(t *testing.T) {
	tmpDir := t.TempDir()

	oldDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldDir) }()

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"stats", "--local"})

	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index found")
}

func TestRunStats_EmptyIndex(t *testing.T) {
	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, ".retrievalcore")
	ftsPath := filepath.Join(dataDir, "retrieval")
	require.NoError(t, os.MkdirAll(dataDir, 0755))

	store, err := ftsstore.New(ftsPath, ftsstore.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	oldDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldDir) }()

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"stats", "--local"})

	err = cmd.Execute()

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "Engine Statistics")
	assert.Contains(t, output, "Documents:        0")
}

func TestRunStats_JSONOutput(t *testing.T) {
	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, ".retrievalcore")
	ftsPath := filepath.Join(dataDir, "retrieval")
	require.NoError(t, os.MkdirAll(dataDir, 0755))

	store, err := ftsstore.New(ftsPath, ftsstore.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, store.Index(t.Context(), []*entry.Entry{
		{ID: "e1", Kind: entry.KindKnowledge, Title: "sample", Body: "sample body", Path: "sample.md"},
	}))
	require.NoError(t, store.Close())

	oldDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldDir) }()

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"stats", "--local", "--json"})

	err = cmd.Execute()

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, `"document_count"`)
	assert.Contains(t, output, `"source": "local"`)
}

func TestPrintStats_TextFormat(t *testing.T) {
	stats := EngineStatsOutput{
		DocumentCount:   10,
		QueryCount:      5,
		QueueDepthTotal: 2,
		TotalIndexed:    10,
		Source:          "local",
	}

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	require.NoError(t, printStats(cmd, stats, false))
	result := buf.String()
	assert.Contains(t, result, "Documents:        10")
	assert.Contains(t, result, "Source:           local")
}
