package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_New_Success(t *testing.T) {
	s, err := NewServer(nil, "/tmp/project")
	require.NoError(t, err)
	require.NotNil(t, s)

	name, ver := s.Info()
	assert.Equal(t, "RetrievalCore", name)
	assert.NotEmpty(t, ver)
}

func TestServer_Info_ReturnsCorrectValues(t *testing.T) {
	s, err := NewServer(nil, "/tmp/project")
	require.NoError(t, err)

	name, _ := s.Info()
	assert.Equal(t, "RetrievalCore", name)
}

func TestServer_Capabilities_HasToolsOnly(t *testing.T) {
	s, err := NewServer(nil, "/tmp/project")
	require.NoError(t, err)

	hasTools, hasResources := s.Capabilities()
	assert.True(t, hasTools)
	assert.False(t, hasResources)
}

func TestServer_ListTools_EmptyUntilCollaboratorAttached(t *testing.T) {
	s, err := NewServer(nil, "/tmp/project")
	require.NoError(t, err)

	assert.Empty(t, s.ListTools())

	s.SetRetriever(nil)
	tools := s.ListTools()
	require.Len(t, tools, 4)

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"assemble_context", "retrieve", "index_content", "engine_stats"}, names)
}

func TestServer_CallTool_UnknownTool_ReturnsError(t *testing.T) {
	s, err := NewServer(nil, "/tmp/project")
	require.NoError(t, err)

	_, err = s.CallTool(context.Background(), "search", map[string]any{"query": "x"})
	require.Error(t, err)
}

func TestServer_CallTool_RetrieveWithoutRetriever_ReturnsError(t *testing.T) {
	s, err := NewServer(nil, "/tmp/project")
	require.NoError(t, err)

	_, err = s.CallTool(context.Background(), "retrieve", map[string]any{"query": "auth flow"})
	require.Error(t, err)
}

func TestServer_CallTool_EngineStatsWithoutEngine_ReturnsError(t *testing.T) {
	s, err := NewServer(nil, "/tmp/project")
	require.NoError(t, err)

	_, err = s.CallTool(context.Background(), "engine_stats", nil)
	require.Error(t, err)
}

func TestServer_Close_ReleasesResources(t *testing.T) {
	s, err := NewServer(nil, "/tmp/project")
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}
