package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/warecell/internal/model"
)

func resourceRequest(uri string) mcplib.ReadResourceRequest {
	return mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: uri},
	}
}

func resourceJSON(t *testing.T, contents []mcplib.ResourceContents, target any) {
	t.Helper()
	require.Len(t, contents, 1)
	tc, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok, "expected TextResourceContents")
	assert.Equal(t, "application/json", tc.MIMEType)
	require.NoError(t, json.Unmarshal([]byte(tc.Text), target))
}

func TestSnapshotResource(t *testing.T) {
	s, _ := newTestServer(t)

	contents, err := s.handleSnapshot(context.Background(), resourceRequest(uriSnapshot))
	require.NoError(t, err)
	var snap model.Snapshot
	resourceJSON(t, contents, &snap)
	assert.Len(t, snap.Cells, 12)
	assert.True(t, s.viewed.Viewed(""), "reading the snapshot counts as a status read")
}

func TestStatusResource(t *testing.T) {
	s, _ := newTestServer(t)

	contents, err := s.handleStatusResource(context.Background(), resourceRequest(uriStatus))
	require.NoError(t, err)
	var st model.StatusSummary
	resourceJSON(t, contents, &st)
	assert.Equal(t, 12, st.CellsTotal)
	assert.Equal(t, model.ModeManual, st.Settings.Mode)
}

func TestCellResource(t *testing.T) {
	s, _ := newTestServer(t)

	contents, err := s.handleCell(context.Background(), resourceRequest("warecell://cells/5"))
	require.NoError(t, err)
	var cell model.Cell
	resourceJSON(t, contents, &cell)
	assert.Equal(t, int64(5), cell.ID)
	assert.Equal(t, 2, cell.Row)
	assert.Equal(t, 1, cell.Column)

	_, err = s.handleCell(context.Background(), resourceRequest("warecell://cells/99"))
	assert.ErrorContains(t, err, "not found")
}

func TestParseCellURI(t *testing.T) {
	id, err := parseCellURI("warecell://cells/12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	for _, bad := range []string{"warecell://cells/", "warecell://cells/abc", "warecell://cells/0", "warecell://snapshot"} {
		_, err := parseCellURI(bad)
		assert.Error(t, err, bad)
	}
}
