package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/botanynet/store"
)

func (s *MCPServer) registerNodeTools() {
	s.Server.AddTool(mcp.NewTool("node_status",
		mcp.WithDescription("Get the node's connection state, last sample and journal totals"),
	), s.handleStatus)

	s.Server.AddTool(mcp.NewTool("network_info",
		mcp.WithDescription("Get the radio status and the broker address resolution state"),
	), s.handleNetwork)

	s.Server.AddTool(mcp.NewTool("connect",
		mcp.WithDescription("Ask the node to connect to its broker as soon as the broker address is resolved"),
	), s.handleConnect)

	s.Server.AddTool(mcp.NewTool("disconnect",
		mcp.WithDescription("Disconnect from the broker and forget the resolved address"),
	), s.handleDisconnect)

	s.Server.AddTool(mcp.NewTool("sample",
		mcp.WithDescription("Read every sensor now; the readings are sent once the node is connected"),
	), s.handleSample)

	s.Server.AddTool(mcp.NewTool("send_chirp",
		mcp.WithDescription("Publish a chirp with a text payload. Fails if the node is not connected"),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("Short topic name, published under btnt/ (at most 12 bytes)"),
		),
		mcp.WithString("data",
			mcp.Required(),
			mcp.Description("Payload text (at most 128 bytes)"),
		),
	), s.handleSend)
}

func (s *MCPServer) registerJournalTools() {
	s.Server.AddTool(mcp.NewTool("chirp_history",
		mcp.WithDescription("List journaled chirps, newest first"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of entries (default 20)"),
		),
		mcp.WithString("status",
			mcp.Description("Only entries with this status"),
			mcp.Enum(store.StatusSent, store.StatusDropped),
		),
	), s.handleHistory)

	s.Server.AddTool(mcp.NewTool("sensor_readings",
		mcp.WithDescription("List a sensor's recorded readings, oldest first"),
		mcp.WithString("sensor",
			mcp.Required(),
			mcp.Description("Sensor name, e.g. humidity or tempc"),
		),
		mcp.WithString("since",
			mcp.Description("How far back to look as a Go duration, e.g. 6h (default 24h)"),
		),
	), s.handleReadings)
}

func (s *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.console.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error getting status: %v", err)), nil
	}
	return jsonResult(status)
}

func (s *MCPServer) handleNetwork(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := s.console.Net(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error getting network info: %v", err)), nil
	}
	return jsonResult(info)
}

func (s *MCPServer) handleConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.console.Connect(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to request connection: %v", err)), nil
	}
	return mcp.NewToolResultText("Connection requested"), nil
}

func (s *MCPServer) handleDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.console.Disconnect(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to disconnect: %v", err)), nil
	}
	return mcp.NewToolResultText("Disconnected"), nil
}

func (s *MCPServer) handleSample(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	readings, err := s.console.Sample(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to sample: %v", err)), nil
	}
	return jsonResult(readings)
}

func (s *MCPServer) handleSend(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic, err := request.RequireString("topic")
	if err != nil {
		return mcp.NewToolResultError("topic is required and must be a string"), nil
	}
	data, err := request.RequireString("data")
	if err != nil {
		return mcp.NewToolResultError("data is required and must be a string"), nil
	}

	if err := s.console.Send(ctx, topic, data); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to send chirp: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Chirp sent to btnt/%s", topic)), nil
}

func (s *MCPServer) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(request.GetFloat("limit", 20))
	status := request.GetString("status", "")
	if status != "" && status != store.StatusSent && status != store.StatusDropped {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status %q", status)), nil
	}

	entries, err := s.console.History(ctx, limit, status)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error reading journal: %v", err)), nil
	}
	return jsonResult(entries)
}

func (s *MCPServer) handleReadings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sensor, err := request.RequireString("sensor")
	if err != nil {
		return mcp.NewToolResultError("sensor is required and must be a string"), nil
	}
	window := 24 * time.Hour
	if since := request.GetString("since", ""); since != "" {
		d, err := time.ParseDuration(since)
		if err != nil || d <= 0 {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since %q", since)), nil
		}
		window = d
	}

	readings, err := s.console.SensorHistory(ctx, sensor, time.Now().Add(-window))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error reading journal: %v", err)), nil
	}
	return jsonResult(readings)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
