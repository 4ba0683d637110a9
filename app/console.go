package app

import (
	"context"
	"time"

	"github.com/mbocsi/botanynet/netlink"
	"github.com/mbocsi/botanynet/store"
)

const journalTimeout = 2 * time.Second

// Console is the set of operator commands shared by the HTTP console and the
// MCP server.
type Console interface {
	Status(ctx context.Context) (Status, error)
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, topic, payload string) error
	Sample(ctx context.Context) (Readings, error)
	History(ctx context.Context, limit int, status string) ([]store.Entry, error)
	SensorHistory(ctx context.Context, sensor string, since time.Time) ([]store.Reading, error)
	Net(ctx context.Context) (netlink.Info, error)
}

type Status struct {
	NodeID     uint16         `json:"node_id"`
	State      string         `json:"state"`
	Connected  bool           `json:"connected"`
	Broker     string         `json:"broker"`
	Address    string         `json:"address,omitempty"`
	UptimeSec  uint64         `json:"uptime_sec"`
	NextSample time.Time      `json:"next_sample"`
	Pending    bool           `json:"pending"`
	Last       *Readings      `json:"last,omitempty"`
	Link       netlink.Info   `json:"link"`
	Journal    *store.Summary `json:"journal,omitempty"`
}

var _ Console = (*App)(nil)

func (a *App) Status(ctx context.Context) (Status, error) {
	var s Status
	err := a.do(ctx, func() {
		s = Status{
			NodeID:     a.Node.NodeID(),
			State:      a.Node.State().String(),
			Connected:  a.Node.IsConnected(),
			Broker:     a.Node.Broker(),
			UptimeSec:  a.Clock.UptimeSeconds(),
			NextSample: a.nextSample,
			Pending:    a.pending != nil,
		}
		if addr, ok := a.Node.Address(); ok {
			s.Address = addr.String()
		}
		if a.last != nil {
			last := *a.last
			s.Last = &last
		}
	})
	if err != nil {
		return Status{}, err
	}

	s.Link = a.Link.Info()
	if a.Journal != nil {
		if sum, err := a.Journal.Summary(ctx); err != nil {
			a.logger.Warn("Failed to summarize journal", "error", err)
		} else {
			s.Journal = &sum
		}
	}
	return s, nil
}

// Connect asks the node to connect as soon as the broker address is known.
func (a *App) Connect(ctx context.Context) error {
	return a.do(ctx, a.Node.RequestConnection)
}

func (a *App) Disconnect(ctx context.Context) error {
	return a.do(ctx, a.Node.Disconnect)
}

// Send publishes payload as a chirp on topic. It fails with
// client.ErrNotConnected rather than waiting for a connection.
func (a *App) Send(ctx context.Context, topic, payload string) error {
	var sendErr error
	if err := a.do(ctx, func() { sendErr = a.Node.SendData(topic, payload) }); err != nil {
		return err
	}
	return sendErr
}

// Sample takes a sample now and restarts the sample interval. The readings
// are sent on the next tick the node is connected.
func (a *App) Sample(ctx context.Context) (Readings, error) {
	var r Readings
	err := a.do(ctx, func() { r = a.sample(time.Now()) })
	return r, err
}

func (a *App) History(ctx context.Context, limit int, status string) ([]store.Entry, error) {
	if a.Journal == nil {
		return nil, ErrNoJournal
	}
	return a.Journal.Recent(ctx, limit, status)
}

func (a *App) SensorHistory(ctx context.Context, sensor string, since time.Time) ([]store.Reading, error) {
	if a.Journal == nil {
		return nil, ErrNoJournal
	}
	return a.Journal.Readings(ctx, sensor, since)
}

func (a *App) Net(ctx context.Context) (netlink.Info, error) {
	return a.Link.Info(), nil
}
