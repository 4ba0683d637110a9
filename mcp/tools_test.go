package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/botanynet/app"
	"github.com/mbocsi/botanynet/client"
	"github.com/mbocsi/botanynet/netlink"
	"github.com/mbocsi/botanynet/store"
)

type fakeConsole struct {
	connected bool
	requested bool
	sent      []string
	limit     int
	status    string
	since     time.Time
}

func (f *fakeConsole) Status(ctx context.Context) (app.Status, error) {
	return app.Status{NodeID: 3, State: "resolving", Broker: "botnet"}, nil
}

func (f *fakeConsole) Connect(ctx context.Context) error {
	f.requested = true
	return nil
}

func (f *fakeConsole) Disconnect(ctx context.Context) error {
	f.connected = false
	return nil
}

func (f *fakeConsole) Send(ctx context.Context, topic, payload string) error {
	if !f.connected {
		return client.ErrNotConnected
	}
	f.sent = append(f.sent, topic+"="+payload)
	return nil
}

func (f *fakeConsole) Sample(ctx context.Context) (app.Readings, error) {
	return app.Readings{Values: map[string]float32{"tempc": 21.5}}, nil
}

func (f *fakeConsole) History(ctx context.Context, limit int, status string) ([]store.Entry, error) {
	f.limit, f.status = limit, status
	return []store.Entry{{ID: 9, Topic: "btnt/tempc", Status: store.StatusDropped, Reason: "not_connected"}}, nil
}

func (f *fakeConsole) SensorHistory(ctx context.Context, sensor string, since time.Time) ([]store.Reading, error) {
	f.since = since
	return []store.Reading{{Sensor: sensor, Value: 0.4}}, nil
}

func (f *fakeConsole) Net(ctx context.Context) (netlink.Info, error) {
	return netlink.Info{Status: "idle", RadioStatus: "disconnected"}, nil
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args

	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("result has %d content items", len(res.Content))
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want mcp.TextContent", res.Content[0])
	}
	return text.Text, res.IsError
}

func TestTools_Status(t *testing.T) {
	s := NewMCPServer(&fakeConsole{}, "test", nil)

	out, isErr := call(t, s.handleStatus, nil)
	if isErr {
		t.Fatalf("node_status failed: %s", out)
	}
	var st app.Status
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.NodeID != 3 || st.State != "resolving" {
		t.Errorf("status = %+v", st)
	}

	out, _ = call(t, s.handleNetwork, nil)
	if !strings.Contains(out, `"radio_status": "disconnected"`) {
		t.Errorf("network_info = %s", out)
	}
}

func TestTools_ConnectAndSend(t *testing.T) {
	fc := &fakeConsole{}
	s := NewMCPServer(fc, "test", nil)

	if out, isErr := call(t, s.handleSend, map[string]any{"topic": "note", "data": "hi"}); !isErr || !strings.Contains(out, "not connected") {
		t.Errorf("send while disconnected = %q, error %v", out, isErr)
	}

	call(t, s.handleConnect, nil)
	if !fc.requested {
		t.Error("connect did not request a connection")
	}

	fc.connected = true
	if out, isErr := call(t, s.handleSend, map[string]any{"topic": "note", "data": "hi"}); isErr {
		t.Errorf("send failed: %s", out)
	}
	if len(fc.sent) != 1 || fc.sent[0] != "note=hi" {
		t.Errorf("sent = %v", fc.sent)
	}

	if _, isErr := call(t, s.handleSend, map[string]any{"topic": "note"}); !isErr {
		t.Error("send without data should fail")
	}

	call(t, s.handleDisconnect, nil)
	if fc.connected {
		t.Error("disconnect did not disconnect")
	}
}

func TestTools_Sample(t *testing.T) {
	s := NewMCPServer(&fakeConsole{}, "test", nil)

	out, isErr := call(t, s.handleSample, nil)
	if isErr || !strings.Contains(out, `"tempc": 21.5`) {
		t.Errorf("sample = %s", out)
	}
}

func TestTools_Journal(t *testing.T) {
	fc := &fakeConsole{}
	s := NewMCPServer(fc, "test", nil)

	out, isErr := call(t, s.handleHistory, map[string]any{"limit": float64(5), "status": "dropped"})
	if isErr {
		t.Fatalf("chirp_history failed: %s", out)
	}
	if fc.limit != 5 || fc.status != "dropped" || !strings.Contains(out, "not_connected") {
		t.Errorf("history args = %d %q, out = %s", fc.limit, fc.status, out)
	}

	if _, isErr := call(t, s.handleHistory, map[string]any{"status": "lost"}); !isErr {
		t.Error("chirp_history accepted an invalid status")
	}

	before := time.Now()
	out, isErr = call(t, s.handleReadings, map[string]any{"sensor": "humidity", "since": "1h"})
	if isErr {
		t.Fatalf("sensor_readings failed: %s", out)
	}
	if d := before.Sub(fc.since); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("since = %v before now, want about 1h", d)
	}

	if _, isErr := call(t, s.handleReadings, map[string]any{"sensor": "humidity", "since": "-1h"}); !isErr {
		t.Error("sensor_readings accepted a negative window")
	}
}
