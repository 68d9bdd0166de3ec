package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	uriSnapshot   = "warecell://snapshot"
	uriStatus     = "warecell://status"
	uriCellPrefix = "warecell://cells/"
)

func (s *Server) registerResources() {
	// warecell://snapshot: the full state observers receive.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriSnapshot,
			"Cell Snapshot",
			mcplib.WithResourceDescription("Full state: every cell, loading zone, conveyor, settings, arm and device"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSnapshot,
	)

	// warecell://status: aggregate counts.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriStatus,
			"Status Summary",
			mcplib.WithResourceDescription("Cell counts, pending tasks, current operation and device connectivity"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatusResource,
	)

	// warecell://cells/{id}: one cell.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			uriCellPrefix+"{id}",
			"Cell",
			mcplib.WithTemplateDescription("A single storage cell by id"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleCell,
	)
}

func (s *Server) handleSnapshot(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	s.viewed.Record(sessionKey(ctx))
	return jsonResource(uriSnapshot, s.svc.Snapshot())
}

func (s *Server) handleStatusResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	s.viewed.Record(sessionKey(ctx))
	return jsonResource(uriStatus, s.svc.Status())
}

func (s *Server) handleCell(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id, err := parseCellURI(uri)
	if err != nil {
		return nil, err
	}
	for _, c := range s.svc.Cells() {
		if c.ID == id {
			return jsonResource(uri, c)
		}
	}
	return nil, fmt.Errorf("mcp: cell %d not found", id)
}

// parseCellURI extracts the id from warecell://cells/{id}.
func parseCellURI(uri string) (int64, error) {
	rest, ok := strings.CutPrefix(uri, uriCellPrefix)
	if !ok || rest == "" {
		return 0, fmt.Errorf("mcp: invalid cell URI: %s", uri)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("mcp: invalid cell id %q", rest)
	}
	return id, nil
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
